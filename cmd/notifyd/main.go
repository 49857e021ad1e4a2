package main

import (
	"context"
	"database/sql"
	"log"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/technosupport/ts-trapnet/internal/config"
	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/metrics"
	"github.com/technosupport/ts-trapnet/internal/notify"
	"github.com/technosupport/ts-trapnet/internal/queue"
	"github.com/technosupport/ts-trapnet/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Notify] config: %v", err)
	}
	if err := cfg.RequireDB(); err != nil {
		log.Fatalf("[Notify] config: %v", err)
	}
	if err := cfg.RequireMinio(); err != nil {
		log.Fatalf("[Notify] config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[Notify] db open: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("[Notify] db ping: %v", err)
	}

	bus, err := queue.Connect(cfg.NATSURL)
	if err != nil {
		log.Fatalf("[Notify] queue: %v", err)
	}
	defer bus.Close()

	store, err := storage.New(ctx, storage.Config{
		Endpoint:  cfg.Minio.Endpoint,
		AccessKey: cfg.Minio.AccessKey,
		SecretKey: cfg.Minio.SecretKey,
		UseSSL:    cfg.Minio.UseSSL,
	})
	if err != nil {
		log.Fatalf("[Notify] storage: %v", err)
	}

	models := data.NewModels(db)

	router := &notify.Router{
		Prefs:    models.Preferences,
		Logs:     models.NotificationLog,
		Projects: models.Projects,
		Bus:      bus,
		Blobs:    store,
		DeepLink: cfg.DeepLink,
	}

	metrics.Serve(cfg.MetricsAddr)

	var wg sync.WaitGroup
	consume := func(queueName string, h queue.Handler) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bus.Consume(ctx, queueName, h); err != nil && err != context.Canceled {
				log.Fatalf("[Notify] consume %s: %v", queueName, err)
			}
		}()
	}
	consume(queue.QueueNotificationEvents, router.Handle)

	// Telegram channel. The bot token can live in config or the database;
	// config wins when both are set.
	botToken := cfg.Telegram.BotToken
	if botToken == "" {
		botToken, err = models.Telegram.GetBotToken(ctx)
		if err != nil {
			log.Printf("[Notify] no telegram bot token configured: %v", err)
		}
	}
	if botToken != "" {
		tg, err := notify.NewTelegramWorker(botToken, models.NotificationLog, models.Telegram, models.Preferences)
		if err != nil {
			log.Fatalf("[Notify] telegram: %v", err)
		}
		tg.StartLinkPoller(ctx)
		consume(queue.QueueNotificationTelegram, tg.Handle)
	} else {
		log.Println("[Notify] telegram channel disabled")
	}

	// Signal channel via the signal-cli REST gateway.
	if cfg.Signal.APIURL != "" {
		sg := notify.NewSignalWorker(cfg.Signal.APIURL, cfg.Signal.Sender, models.NotificationLog)
		consume(queue.QueueNotificationSignal, sg.Handle)
	} else {
		log.Println("[Notify] signal channel disabled")
	}

	// Email channel.
	if cfg.SMTP.Host != "" {
		em := notify.NewEmailWorker(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}, models.NotificationLog)
		consume(queue.QueueNotificationEmail, em.Handle)
	} else {
		log.Println("[Notify] email channel disabled")
	}

	// Scheduled jobs: battery digest at 12:00 UTC, reports at 06:00 UTC.
	digest := &notify.BatteryDigest{
		Prefs:    models.Preferences,
		Projects: models.Projects,
		Cameras:  models.Cameras,
		Logs:     models.NotificationLog,
		Bus:      bus,
		DeepLink: cfg.DeepLink,
	}
	reports := notify.NewReportJob(models.Preferences, models.Projects, models.Stats, models.NotificationLog, bus, cfg.DeepLink)
	scheduler := notify.NewScheduler(digest, reports)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatalf("[Notify] scheduler: %v", err)
	}

	wg.Wait()
	log.Println("[Notify] drained, exiting")
}
