package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/technosupport/ts-trapnet/internal/classify"
	"github.com/technosupport/ts-trapnet/internal/config"
	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/metrics"
	"github.com/technosupport/ts-trapnet/internal/models"
	"github.com/technosupport/ts-trapnet/internal/queue"
	"github.com/technosupport/ts-trapnet/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Classify] config: %v", err)
	}
	if err := cfg.RequireDB(); err != nil {
		log.Fatalf("[Classify] config: %v", err)
	}
	if err := cfg.RequireMinio(); err != nil {
		log.Fatalf("[Classify] config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[Classify] db open: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("[Classify] db ping: %v", err)
	}

	bus, err := queue.Connect(cfg.NATSURL)
	if err != nil {
		log.Fatalf("[Classify] queue: %v", err)
	}
	defer bus.Close()

	store, err := storage.New(ctx, storage.Config{
		Endpoint:  cfg.Minio.Endpoint,
		AccessKey: cfg.Minio.AccessKey,
		SecretKey: cfg.Minio.SecretKey,
		UseSSL:    cfg.Minio.UseSSL,
	})
	if err != nil {
		log.Fatalf("[Classify] storage: %v", err)
	}

	modelPath, err := models.Ensure(ctx, cfg.Models.CacheDir, cfg.Models.ClassifierPath, cfg.Models.ClassifierURL)
	if err != nil {
		log.Fatalf("[Classify] model: %v", err)
	}

	classifier, err := classify.NewClassifier(modelPath, cfg.Models.LabelsPath, os.Getenv("ONNXRUNTIME_LIB"))
	if err != nil {
		log.Fatalf("[Classify] classifier: %v", err)
	}
	defer classifier.Close()

	dbModels := data.NewModels(db)
	worker := classify.NewWorker(
		dbModels.Images, dbModels.Detections, dbModels.Classifications,
		dbModels.Projects, dbModels.Cameras,
		store, bus, classifier,
	)

	metrics.Serve(cfg.MetricsAddr)

	// Fresh detections and species-list reprocess runs are separate queues
	// with independent consumers.
	var wg sync.WaitGroup
	consume := func(queueName string, h queue.Handler) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bus.Consume(ctx, queueName, h); err != nil && err != context.Canceled {
				log.Fatalf("[Classify] consume %s: %v", queueName, err)
			}
		}()
	}
	consume(queue.QueueDetectionComplete, worker.Handle)
	consume(queue.QueueClassificationReprocess, worker.HandleReprocess)

	wg.Wait()
	log.Println("[Classify] drained, exiting")
}
