package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/technosupport/ts-trapnet/internal/config"
	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/detect"
	"github.com/technosupport/ts-trapnet/internal/metrics"
	"github.com/technosupport/ts-trapnet/internal/models"
	"github.com/technosupport/ts-trapnet/internal/queue"
	"github.com/technosupport/ts-trapnet/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Detect] config: %v", err)
	}
	if err := cfg.RequireDB(); err != nil {
		log.Fatalf("[Detect] config: %v", err)
	}
	if err := cfg.RequireMinio(); err != nil {
		log.Fatalf("[Detect] config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[Detect] db open: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("[Detect] db ping: %v", err)
	}

	bus, err := queue.Connect(cfg.NATSURL)
	if err != nil {
		log.Fatalf("[Detect] queue: %v", err)
	}
	defer bus.Close()

	store, err := storage.New(ctx, storage.Config{
		Endpoint:  cfg.Minio.Endpoint,
		AccessKey: cfg.Minio.AccessKey,
		SecretKey: cfg.Minio.SecretKey,
		UseSSL:    cfg.Minio.UseSSL,
	})
	if err != nil {
		log.Fatalf("[Detect] storage: %v", err)
	}

	modelPath, err := models.Ensure(ctx, cfg.Models.CacheDir, cfg.Models.DetectorPath, cfg.Models.DetectorURL)
	if err != nil {
		log.Fatalf("[Detect] model: %v", err)
	}

	detector, err := detect.NewDetector(modelPath, os.Getenv("ONNXRUNTIME_LIB"))
	if err != nil {
		log.Fatalf("[Detect] detector: %v", err)
	}
	defer detector.Close()

	dbModels := data.NewModels(db)
	worker := &detect.Worker{
		Images:     dbModels.Images,
		Detections: dbModels.Detections,
		Store:      store,
		Bus:        bus,
		Detector:   detector,
	}

	metrics.Serve(cfg.MetricsAddr)

	if err := bus.Consume(ctx, queue.QueueImageIngested, worker.Handle); err != nil && err != context.Canceled {
		log.Fatalf("[Detect] consume: %v", err)
	}
	log.Println("[Detect] drained, exiting")
}
