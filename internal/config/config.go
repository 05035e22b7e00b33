package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries service configuration sourced from REGISTRA_* environment
// variables.
type Config struct {
	Addr         string
	PostgresDSN  string
	TokenSecret  string
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
	CookieSecure bool
}

const (
	defaultAddr       = ":8080"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// Load reads configuration from the environment. The token secret is the only
// required value; everything else has a default.
func Load() (Config, error) {
	cfg := Config{
		Addr:         envOr("REGISTRA_ADDR", defaultAddr),
		PostgresDSN:  strings.TrimSpace(os.Getenv("REGISTRA_PG_DSN")),
		TokenSecret:  strings.TrimSpace(os.Getenv("REGISTRA_TOKEN_SECRET")),
		AccessTTL:    envDuration("REGISTRA_ACCESS_TTL", defaultAccessTTL),
		RefreshTTL:   envDuration("REGISTRA_REFRESH_TTL", defaultRefreshTTL),
		CookieSecure: envBool("REGISTRA_COOKIE_SECURE", true),
	}
	if cfg.TokenSecret == "" {
		return Config{}, errors.New("config: REGISTRA_TOKEN_SECRET is required")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
