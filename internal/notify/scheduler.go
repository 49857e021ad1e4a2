package notify

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler drives the periodic jobs inside the notification core: the
// battery digest at 12:00 UTC and report generation at 06:00 UTC.
type Scheduler struct {
	Digest  *BatteryDigest
	Reports *ReportJob

	cron *cron.Cron
}

func NewScheduler(digest *BatteryDigest, reports *ReportJob) *Scheduler {
	return &Scheduler{
		Digest:  digest,
		Reports: reports,
		cron:    cron.New(cron.WithLocation(time.UTC)),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc("0 12 * * *", func() {
		if err := s.Digest.Run(ctx); err != nil {
			log.Printf("[Notify] battery digest run: %v", err)
		}
	}); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("0 6 * * *", func() {
		if err := s.Reports.Run(ctx); err != nil {
			log.Printf("[Notify] report run: %v", err)
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.cron.Stop()
	}()
	log.Println("[Notify] scheduler started (digest 12:00 UTC, reports 06:00 UTC)")
	return nil
}
