package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	StoragePath      string
	JimengBaseURL    string
	JimengSessionID  string
	JimengTimeout    time.Duration
	PollInitial      time.Duration
	PollMaxInterval  time.Duration
	PollBackoff      float64
	PollTimeout      time.Duration
	PollMaxRetries   int
	TaskTTL          time.Duration
	SweepInterval    time.Duration
	BatchCap         int
	ResultCacheSize  int
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	ShutdownTimeout  time.Duration
	RateLimitPerMin  int
	CORSOrigins      []string
	GeoIPDBPath      string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
// A .env or .env.local file in the working directory is read first when present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		StoragePath:      getEnv("STORAGE_PATH", "./storage"),
		JimengBaseURL:    getEnv("JIMENG_BASE_URL", "https://jimeng.jianying.com"),
		JimengSessionID:  strings.TrimSpace(os.Getenv("JIMENG_SESSION_ID")),
		JimengTimeout:    time.Second * time.Duration(getEnvInt("JIMENG_TIMEOUT_SECONDS", 45)),
		PollInitial:      time.Millisecond * time.Duration(getEnvInt("POLL_INITIAL_INTERVAL_MS", 2000)),
		PollMaxInterval:  time.Millisecond * time.Duration(getEnvInt("POLL_MAX_INTERVAL_MS", 10000)),
		PollBackoff:      getEnvFloat("POLL_BACKOFF_FACTOR", 1.5),
		PollTimeout:      time.Millisecond * time.Duration(getEnvInt("POLL_TIMEOUT_MS", 600000)),
		PollMaxRetries:   getEnvInt("POLL_MAX_RETRIES", 3),
		TaskTTL:          time.Minute * time.Duration(getEnvInt("TASK_TTL_MINUTES", 30)),
		SweepInterval:    time.Second * time.Duration(getEnvInt("CACHE_SWEEP_INTERVAL_SECONDS", 60)),
		BatchCap:         getEnvInt("GENFLOW_BATCH_CAP", 4),
		ResultCacheSize:  getEnvInt("RESULT_CACHE_SIZE", 256),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 660)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		ShutdownTimeout:  time.Second * time.Duration(getEnvInt("HTTP_SHUTDOWN_TIMEOUT_SECONDS", 30)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSOrigins:      getEnvList("CORS_ALLOWED_ORIGINS"),
		GeoIPDBPath:      getEnv("GEOIP_DB_PATH", ""),
	}

	if cfg.JimengSessionID == "" {
		return nil, fmt.Errorf("JIMENG_SESSION_ID is required")
	}
	if cfg.PollBackoff < 1 {
		return nil, fmt.Errorf("POLL_BACKOFF_FACTOR must be >= 1, got %v", cfg.PollBackoff)
	}
	if cfg.BatchCap <= 0 {
		return nil, fmt.Errorf("GENFLOW_BATCH_CAP must be positive, got %d", cfg.BatchCap)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
