package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL string `validate:"required"`

	TripUpdatesURL      string `validate:"required,url"`
	VehiclePositionsURL string `validate:"required,url"`
	ServiceAlertsURL    string `validate:"required,url"`

	FetchTimeout   time.Duration `validate:"gt=0"`
	MaxRetries     int           `validate:"gte=1"`
	BackoffBase    float64       `validate:"gt=0"`
	WriteBatchSize int           `validate:"gte=1"`
	PollInterval   time.Duration `validate:"gt=0"`
	StaleThreshold time.Duration `validate:"gt=0"`

	MatchWindow        time.Duration `validate:"gt=0"`
	MatchMaxCandidates int           `validate:"gte=1"`
	MatchBatchSize     int           `validate:"gte=1"`
	MatchStrict        bool
	MatchInterval      time.Duration // 0 disables the matching timer

	NATSURL     string // empty disables the event publisher
	MetricsAddr string // empty disables the metrics server
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		if db == "" {
			return nil, errors.New("PGDATABASE or DATABASE_URL must be set")
		}
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	} else {
		cfg.DatabaseURL = dsn
	}

	cfg.TripUpdatesURL = os.Getenv("TRIP_UPDATES_URL")
	cfg.VehiclePositionsURL = os.Getenv("VEHICLE_POSITIONS_URL")
	cfg.ServiceAlertsURL = os.Getenv("SERVICE_ALERTS_URL")

	var err error
	if cfg.FetchTimeout, err = secondsEnv("FETCH_TIMEOUT_SEC", 30); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = intEnv("MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.BackoffBase, err = floatEnv("BACKOFF_BASE", 2.0); err != nil {
		return nil, err
	}
	if cfg.WriteBatchSize, err = intEnv("WRITE_BATCH_SIZE", 500); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = secondsEnv("POLL_INTERVAL_SEC", 30); err != nil {
		return nil, err
	}
	if cfg.StaleThreshold, err = secondsEnv("STALE_THRESHOLD_SEC", 120); err != nil {
		return nil, err
	}

	if cfg.MatchWindow, err = minutesEnv("MATCH_WINDOW_MINUTES", 30); err != nil {
		return nil, err
	}
	if cfg.MatchMaxCandidates, err = intEnv("MATCH_MAX_CANDIDATES", 5); err != nil {
		return nil, err
	}
	if cfg.MatchBatchSize, err = intEnv("MATCH_BATCH_SIZE", 200); err != nil {
		return nil, err
	}
	cfg.MatchStrict = boolEnv("MATCH_STRICT")
	if cfg.MatchInterval, err = secondsEnv("MATCH_INTERVAL_SEC", 0); err != nil {
		return nil, err
	}

	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func floatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return f, nil
}

func secondsEnv(key string, def int) (time.Duration, error) {
	n, err := intEnv(key, def)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func minutesEnv(key string, def int) (time.Duration, error) {
	n, err := intEnv(key, def)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Minute, nil
}

func boolEnv(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
