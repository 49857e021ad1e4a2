// Package health derives camera fleet status from daily-report recency.
package health

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-trapnet/internal/data"
)

// ActiveWindow is how recent the last daily report must be for a camera to
// count as active.
const ActiveWindow = 7 * 24 * time.Hour

// StatusFor derives the operational status from the last report time.
// never_reported iff the camera has no successful daily report at all.
func StatusFor(lastReport *time.Time, now time.Time) string {
	if lastReport == nil {
		return data.CameraStatusNeverReported
	}
	if now.Sub(*lastReport) <= ActiveWindow {
		return data.CameraStatusActive
	}
	return data.CameraStatusInactive
}

type CameraRepo interface {
	ListReported(ctx context.Context) (map[uuid.UUID]time.Time, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
}

// Sweeper periodically re-derives status for every camera that has reported,
// so cameras that go silent flip from active to inactive without traffic.
type Sweeper struct {
	cameras CameraRepo
}

func NewSweeper(cameras CameraRepo) *Sweeper {
	return &Sweeper{cameras: cameras}
}

func (s *Sweeper) Run(ctx context.Context) error {
	reported, err := s.cameras.ListReported(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for id, last := range reported {
		lastCopy := last
		status := StatusFor(&lastCopy, now)
		if err := s.cameras.SetStatus(ctx, id, status); err != nil {
			log.Printf("[Health] status update for camera %s failed: %v", id, err)
		}
	}
	return nil
}
