package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/technosupport/ts-trapnet/internal/auth"
	"github.com/technosupport/ts-trapnet/internal/config"
)

// Seeds (or resets) the server admin account. Idempotent: rerunning with the
// same email just rotates the password hash.
func main() {
	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")
	if email == "" || password == "" {
		log.Fatal("[SeedAdmin] ADMIN_EMAIL and ADMIN_PASSWORD are required")
	}
	if len(password) < 8 {
		log.Fatal("[SeedAdmin] ADMIN_PASSWORD must be at least 8 characters")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[SeedAdmin] config: %v", err)
	}
	if err := cfg.RequireDB(); err != nil {
		log.Fatalf("[SeedAdmin] config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[SeedAdmin] db open: %v", err)
	}
	defer db.Close()

	hash, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("[SeedAdmin] hash: %v", err)
	}

	_, err = db.Exec(`
		INSERT INTO users (email, password_hash, is_active, is_verified, is_server_admin)
		VALUES ($1, $2, TRUE, TRUE, TRUE)
		ON CONFLICT (email) DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			is_active = TRUE,
			is_server_admin = TRUE,
			updated_at = NOW()`, email, hash)
	if err != nil {
		log.Fatalf("[SeedAdmin] upsert failed: %v", err)
	}

	fmt.Printf("SUCCESS: server admin %s seeded\n", email)
}
