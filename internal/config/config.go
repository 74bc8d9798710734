package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURI   string
	Driver        string // "database" or "kolab"
	IMAPAddr      string
	Timezone      string
	CheckInterval time.Duration
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env file is optional in production
	}

	interval, err := time.ParseDuration(getEnvOrDefault("CHECK_INTERVAL", "1m"))
	if err != nil {
		interval = time.Minute
	}

	return &Config{
		DatabaseURI:   os.Getenv("DATABASE_URI"),
		Driver:        getEnvOrDefault("CALENDAR_DRIVER", "database"),
		IMAPAddr:      os.Getenv("IMAP_ADDR"),
		Timezone:      getEnvOrDefault("TIMEZONE", "UTC"),
		CheckInterval: interval,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
