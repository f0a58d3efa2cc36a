package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	RoutesPath string
	NATSURL    string
	KVPrefix   string
	ArchiveDSN string

	TickInterval       time.Duration
	TimeScale          float64
	DefaultSpeedLimit  float64
	Smoothing          float64
	AccuracyMaxM       float64
	MinPublishInterval time.Duration

	RequireApproval bool
	WriteShiftLogs  bool
	ReverseNextStop bool

	MetricsAddr string
	FleetSize   int
	Company     string
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.RoutesPath = getenvDefault("ROUTES_PATH", "routes.json")

	// Empty NATS_URL selects the in-memory store (single-process mode).
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.KVPrefix = getenvDefault("KV_PREFIX", "fleet")

	// Optional Postgres shift-log archive: prefer DATABASE_URL / PG_DSN,
	// else build from PG* vars when PGDATABASE is set.
	dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN"))
	if dsn == "" && os.Getenv("PGDATABASE") != "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			dsn = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	}
	cfg.ArchiveDSN = dsn

	// Simulation tick interval
	if v := os.Getenv("TICK_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid TICK_INTERVAL_MS: %q", v)
		}
		cfg.TickInterval = time.Duration(ms) * time.Millisecond
	} else {
		cfg.TickInterval = time.Second
	}

	// Accelerated-time multiplier
	if v := os.Getenv("TIME_SCALE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid TIME_SCALE: %q", v)
		}
		cfg.TimeScale = f
	} else {
		cfg.TimeScale = 5.0
	}

	// Speed cap outside traffic zones (km/h)
	if v := os.Getenv("DEFAULT_SPEED_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid DEFAULT_SPEED_LIMIT: %q", v)
		}
		cfg.DefaultSpeedLimit = f
	} else {
		cfg.DefaultSpeedLimit = 70.0
	}

	// EMA smoothing factor
	if v := os.Getenv("SMOOTHING"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f >= 1 {
			return nil, fmt.Errorf("invalid SMOOTHING: %q", v)
		}
		cfg.Smoothing = f
	} else {
		cfg.Smoothing = 0.8
	}

	// Sensor accuracy gate (meters)
	if v := os.Getenv("ACCURACY_MAX_M"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid ACCURACY_MAX_M: %q", v)
		}
		cfg.AccuracyMaxM = f
	} else {
		cfg.AccuracyMaxM = 50.0
	}

	// Publish rate limit
	if v := os.Getenv("MIN_PUBLISH_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("invalid MIN_PUBLISH_INTERVAL_MS: %q", v)
		}
		cfg.MinPublishInterval = time.Duration(ms) * time.Millisecond
	}

	cfg.RequireApproval = boolEnv("REQUIRE_APPROVAL")
	cfg.WriteShiftLogs = boolEnv("WRITE_SHIFT_LOGS")
	cfg.ReverseNextStop = boolEnv("REVERSE_NEXT_STOP")

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	// Demo fleet size
	if v := os.Getenv("FLEET_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid FLEET_SIZE: %q", v)
		}
		cfg.FleetSize = n
	} else {
		cfg.FleetSize = 5
	}

	cfg.Company = getenvDefault("COMPANY", "Metro Cavite")

	return cfg, nil
}

func boolEnv(k string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(k))) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
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

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
