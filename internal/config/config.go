package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime configuration sourced from env vars.
type Config struct {
	Port        string
	DatabaseURL string
	JWTSecret   string
	JWTIssuer   string
	JWTTTL      time.Duration
	CORSOrigins []string
	WSOrigins   []string

	RedisURL        string
	LoginRateLimit  int64
	LoginRateWindow time.Duration

	OfferWindow   time.Duration
	SweepInterval time.Duration

	LogLevel slog.Level
}

// Load reads configuration from the environment and performs minimal validation.
func Load() (Config, error) {
	cfg := Config{
		Port:        fallback(os.Getenv("PORT"), "8080"),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		JWTSecret:   strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTIssuer:   fallback(os.Getenv("JWT_ISSUER"), "prestador-client"),
		CORSOrigins: parseCSV(fallback(os.Getenv("CORS_ALLOWED_ORIGINS"), "*")),
		RedisURL:    strings.TrimSpace(os.Getenv("REDIS_URL")),
	}
	if ws := strings.TrimSpace(os.Getenv("WS_ALLOWED_ORIGINS")); ws != "" {
		cfg.WSOrigins = parseCSV(ws)
	}

	cfg.JWTTTL = minutes("JWT_TTL_MINUTES", 60)
	cfg.LoginRateWindow = minutes("LOGIN_RATE_WINDOW_MINUTES", 5)
	cfg.OfferWindow = minutes("OFFER_RESPONSE_WINDOW_MINUTES", 5)

	if limit, err := strconv.ParseInt(fallback(os.Getenv("LOGIN_RATE_LIMIT"), "20"), 10, 64); err == nil && limit > 0 {
		cfg.LoginRateLimit = limit
	} else {
		cfg.LoginRateLimit = 20
	}

	// Zero turns the sweep off.
	if secs, err := strconv.Atoi(fallback(os.Getenv("OFFER_EXPIRY_SWEEP_SECONDS"), "30")); err == nil && secs >= 0 {
		cfg.SweepInterval = time.Duration(secs) * time.Second
	} else {
		cfg.SweepInterval = 30 * time.Second
	}

	level, err := parseLevel(fallback(os.Getenv("LOG_LEVEL"), "INFO"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}

// HTTPAddress returns the host:port pair for the HTTP server to bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func minutes(key string, def int) time.Duration {
	if n, err := strconv.Atoi(fallback(os.Getenv(key), strconv.Itoa(def))); err == nil && n > 0 {
		return time.Duration(n) * time.Minute
	}
	return time.Duration(def) * time.Minute
}

func parseLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return strings.TrimSpace(value)
}

func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
