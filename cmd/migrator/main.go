package main

import (
	"database/sql"
	"flag"
	"log"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/technosupport/ts-trapnet/internal/config"
)

func main() {
	upCmd := flag.Bool("up", false, "Run all up migrations")
	downCmd := flag.Bool("down", false, "Rollback all migrations")
	stepsCmd := flag.Int("steps", 0, "Run +/- steps")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Migrator] config: %v", err)
	}
	if err := cfg.RequireDB(); err != nil {
		log.Fatalf("[Migrator] config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[Migrator] db open: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("[Migrator] db ping: %v", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatalf("[Migrator] migrate driver: %v", err)
	}

	src := os.Getenv("MIGRATIONS_DIR")
	if src == "" {
		src = "migrations"
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+src, "postgres", driver)
	if err != nil {
		log.Fatalf("[Migrator] init: %v", err)
	}

	start := time.Now()
	switch {
	case *upCmd:
		log.Println("[Migrator] running UP migrations...")
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("[Migrator] up failed: %v", err)
		}
		log.Println("[Migrator] up completed")
	case *downCmd:
		log.Println("[Migrator] running DOWN migrations...")
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("[Migrator] down failed: %v", err)
		}
		log.Println("[Migrator] down completed")
	case *stepsCmd != 0:
		log.Printf("[Migrator] running %d steps...", *stepsCmd)
		if err := m.Steps(*stepsCmd); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("[Migrator] steps failed: %v", err)
		}
		log.Println("[Migrator] steps completed")
	default:
		log.Println("[Migrator] no command specified, use -up, -down or -steps")
		version, dirty, err := m.Version()
		if err != nil {
			log.Println("[Migrator] no version found (empty db?)")
		} else {
			log.Printf("[Migrator] current version: %d, dirty: %v", version, dirty)
		}
	}
	log.Printf("[Migrator] duration: %v", time.Since(start))
}
