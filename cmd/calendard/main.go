package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Acidburn0zzz/cubemail/internal/config"
	"github.com/Acidburn0zzz/cubemail/internal/database"
	"github.com/Acidburn0zzz/cubemail/internal/scheduler"
	"github.com/Acidburn0zzz/cubemail/internal/store"
	"github.com/Acidburn0zzz/cubemail/internal/store/dbcal"
	"github.com/Acidburn0zzz/cubemail/internal/store/kolab"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Validate required config
	if cfg.DatabaseURI == "" {
		log.Fatal("DATABASE_URI is required")
	}
	if cfg.Driver == "kolab" && cfg.IMAPAddr == "" {
		log.Fatal("IMAP_ADDR is required for the kolab driver")
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Fatalf("Invalid TIMEZONE %q: %v", cfg.Timezone, err)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	db, err := database.New(ctx, cfg.DatabaseURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	// Run migrations
	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations completed")

	// Select the event store backend
	var eventStore store.Store
	switch cfg.Driver {
	case "kolab":
		eventStore = kolab.NewDriver(kolab.NewIMAPStorage(cfg.IMAPAddr), db)
		log.Printf("Using kolab driver (imap: %s)", cfg.IMAPAddr)
	default:
		eventStore = dbcal.New(db)
		log.Println("Using database driver")
	}

	// The daemon watches alarms for the users listed in the sessions
	// table of the deployment; the standalone default watches a single
	// local session.
	sessions := func(ctx context.Context) ([]*store.Session, error) {
		return []*store.Session{{
			UserID:   1,
			Username: getEnvOrDefault("CALENDAR_USER", "local"),
			Location: loc,
		}}, nil
	}

	// Create and start scheduler
	sched := scheduler.New(eventStore, scheduler.LogNotifier{}, sessions, cfg.CheckInterval)
	go sched.Start(ctx)

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")
	cancel()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
