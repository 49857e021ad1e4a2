package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-trapnet/internal/api"
	"github.com/technosupport/ts-trapnet/internal/auth"
	"github.com/technosupport/ts-trapnet/internal/authz"
	"github.com/technosupport/ts-trapnet/internal/config"
	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/live"
	"github.com/technosupport/ts-trapnet/internal/metrics"
	"github.com/technosupport/ts-trapnet/internal/middleware"
	"github.com/technosupport/ts-trapnet/internal/projects"
	"github.com/technosupport/ts-trapnet/internal/queue"
	"github.com/technosupport/ts-trapnet/internal/storage"
	"github.com/technosupport/ts-trapnet/internal/tokens"
	"github.com/technosupport/ts-trapnet/internal/users"
)

const shutdownGrace = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Server] config: %v", err)
	}
	if err := cfg.RequireDB(); err != nil {
		log.Fatalf("[Server] config: %v", err)
	}
	if err := cfg.RequireJWT(); err != nil {
		log.Fatalf("[Server] config: %v", err)
	}
	if err := cfg.RequireMinio(); err != nil {
		log.Fatalf("[Server] config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[Server] db open: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("[Server] db ping: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	bus, err := queue.Connect(cfg.NATSURL)
	if err != nil {
		log.Fatalf("[Server] queue: %v", err)
	}
	defer bus.Close()

	store, err := storage.New(ctx, storage.Config{
		Endpoint:  cfg.Minio.Endpoint,
		AccessKey: cfg.Minio.AccessKey,
		SecretKey: cfg.Minio.SecretKey,
		UseSSL:    cfg.Minio.UseSSL,
	})
	if err != nil {
		log.Fatalf("[Server] storage: %v", err)
	}

	models := data.NewModels(db)

	tokenMgr := tokens.NewManager(cfg.JWTSigningKey)
	blacklist := auth.NewRedisBlacklist(rdb)
	userSvc := users.NewService(models.Users, models.Invitations, models.Memberships, tokenMgr)
	projectSvc := projects.NewService(models.Projects, models.Images, models.Cameras, bus, store)
	authzSvc := authz.NewService(models.Memberships, rdb)

	jwtAuth := middleware.NewJWTAuth(tokenMgr, models.Users, blacklist)
	perms := middleware.NewProjectPermission(authzSvc)

	// Live feed: bridge processed-message events from the bus to websockets.
	hub := live.NewHub()
	if err := hub.Attach(ctx, bus); err != nil {
		log.Fatalf("[Server] live feed: %v", err)
	}

	srv := &api.Server{
		Auth: &api.AuthHandler{Users: userSvc, Tokens: tokenMgr, Blacklist: blacklist},
		Projects: &api.ProjectHandler{
			Projects:    projectSvc,
			Memberships: models.Memberships,
		},
		Memberships: &api.MembershipHandler{
			Memberships: models.Memberships,
			Users:       userSvc,
			Authz:       authzSvc,
		},
		Cameras: &api.CameraHandler{
			Cameras:     models.Cameras,
			Deployments: models.Deployments,
		},
		Images: &api.ImageHandler{
			Images:          models.Images,
			Cameras:         models.Cameras,
			Detections:      models.Detections,
			Classifications: models.Classifications,
			Observations:    models.Observations,
		},
		Preferences: &api.PreferenceHandler{
			Preferences: models.Preferences,
			Telegram:    models.Telegram,
			BotUsername: cfg.Telegram.BotUsername,
		},
		Stats:  &api.StatsHandler{Stats: models.Stats, Projects: projectSvc},
		Live:   &api.LiveHandler{Tokens: tokenMgr, Hub: hub},
		Health: &api.HealthHandler{DB: db},

		JWT:   jwtAuth,
		Perms: perms,
	}

	metrics.Serve(cfg.MetricsAddr)

	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: srv.Routes(),
	}

	go func() {
		log.Printf("[Server] listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[Server] listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("[Server] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Server] shutdown: %v", err)
	}
}
