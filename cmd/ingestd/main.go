package main

import (
	"context"
	"database/sql"
	"log"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/technosupport/ts-trapnet/internal/config"
	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/health"
	"github.com/technosupport/ts-trapnet/internal/ingest"
	"github.com/technosupport/ts-trapnet/internal/metrics"
	"github.com/technosupport/ts-trapnet/internal/queue"
	"github.com/technosupport/ts-trapnet/internal/storage"
)

// sweepInterval is how often camera statuses are re-derived so silent
// cameras flip to inactive without any traffic.
const sweepInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Ingest] config: %v", err)
	}
	if err := cfg.RequireDB(); err != nil {
		log.Fatalf("[Ingest] config: %v", err)
	}
	if err := cfg.RequireMinio(); err != nil {
		log.Fatalf("[Ingest] config: %v", err)
	}
	if err := cfg.RequireIngest(); err != nil {
		log.Fatalf("[Ingest] config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[Ingest] db open: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("[Ingest] db ping: %v", err)
	}

	bus, err := queue.Connect(cfg.NATSURL)
	if err != nil {
		log.Fatalf("[Ingest] queue: %v", err)
	}
	defer bus.Close()

	store, err := storage.New(ctx, storage.Config{
		Endpoint:  cfg.Minio.Endpoint,
		AccessKey: cfg.Minio.AccessKey,
		SecretKey: cfg.Minio.SecretKey,
		UseSSL:    cfg.Minio.UseSSL,
	})
	if err != nil {
		log.Fatalf("[Ingest] storage: %v", err)
	}

	models := data.NewModels(db)
	svc := ingest.NewService(cfg.Ingest.DropDir, models.Cameras, models.Images, models.Deployments, store, bus)

	metrics.Serve(cfg.MetricsAddr)

	// Periodic fleet status sweep.
	sweeper := health.NewSweeper(models.Cameras)
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			if err := sweeper.Run(ctx); err != nil {
				log.Printf("[Ingest] status sweep: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	watcher := ingest.NewWatcher(cfg.Ingest.DropDir, svc.HandleFile)
	if err := watcher.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("[Ingest] watcher: %v", err)
	}
	log.Println("[Ingest] drained, exiting")
}
