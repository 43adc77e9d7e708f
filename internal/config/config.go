package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr          string
	DatabaseURL   string
	SessionSecret string
	SessionTTL    time.Duration
	// Redis Configuration - optional, enables server-side session revocation
	RedisURL string
}

func Load() Config {
	return Config{
		Addr: getenv("CRM_ADDR", ":8080"),
		// Falls back to a local SQLite file when no Postgres URL is configured.
		DatabaseURL:   getenv("DATABASE_URL", "file:crm.db"),
		SessionSecret: getenv("CRM_SESSION_SECRET", "crm-dev-secret"),
		SessionTTL:    time.Duration(getenvInt("CRM_SESSION_TTL_SECONDS", 43200)) * time.Second,
		// Redis - empty by default, session registry disabled if not configured
		RedisURL: getenv("REDIS_URL", ""),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
