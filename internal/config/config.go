package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	HTTPAddr string

	// kimg service
	KimgURL          string
	KimgReadTimeout  time.Duration
	KimgWriteTimeout time.Duration
	MaxUploadSize    int64

	// Preview sessions
	SessionIdleTTL    time.Duration
	SessionCookie     string
	CookieSecure      bool
	NotificationLimit int
	MaxSessions       int

	// Redis (rate limiting). Empty address falls back to in-process limits.
	RedisAddr string
	RedisPass string
	RedisDB   int

	// Rate limit on uploads and deletes
	RLEnabled bool
	RLLimit   int
	RLWindow  time.Duration

	// RabbitMQ notification fan-out. Empty URL disables publishing.
	RabbitURL      string
	RabbitExchange string

	// Tracing
	TracingEnabled     bool
	OTLPEndpoint       string
	TracingSampleRatio float64

	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.AppEnv = getEnv("APP_ENV", "dev")
	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8090")

	// --- kimg
	cfg.KimgURL = strings.TrimRight(getEnv("KIMG_URL", "http://localhost:8080"), "/")
	cfg.KimgReadTimeout = getDuration("KIMG_READ_TIMEOUT", 5*time.Second)
	cfg.KimgWriteTimeout = getDuration("KIMG_WRITE_TIMEOUT", 30*time.Second)
	cfg.MaxUploadSize = getInt64("MAX_UPLOAD_SIZE", 10<<20)

	// --- sessions
	cfg.SessionIdleTTL = getDuration("SESSION_IDLE_TTL", 30*time.Minute)
	cfg.SessionCookie = getEnv("SESSION_COOKIE", "kimg_panel_session")
	cfg.CookieSecure = getBool("COOKIE_SECURE", cfg.AppEnv != "dev")
	cfg.NotificationLimit = getInt("NOTIFICATION_LIMIT", 20)
	cfg.MaxSessions = getInt("SESSION_MAX", 10000)

	// --- Redis
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPass = getEnv("REDIS_PASSWORD", "")
	cfg.RedisDB = getInt("REDIS_DB", 0)

	// --- Rate limit
	cfg.RLEnabled = getBool("RL_ENABLED", true)
	cfg.RLLimit = getInt("RL_LIMIT", 30)
	cfg.RLWindow = getDuration("RL_WINDOW", time.Minute)

	// --- RabbitMQ
	cfg.RabbitURL = firstNonEmpty(
		strings.TrimSpace(os.Getenv("RABBITMQ_URL")),
		strings.TrimSpace(os.Getenv("RABBIT_URL")),
	)
	cfg.RabbitExchange = firstNonEmpty(
		strings.TrimSpace(os.Getenv("RABBITMQ_EXCHANGE")),
		strings.TrimSpace(os.Getenv("RABBIT_EXCHANGE")),
		"kimg.panel",
	)

	// --- Tracing
	cfg.OTLPEndpoint = getEnv("OTLP_ENDPOINT", "")
	cfg.TracingEnabled = getBool("TRACING_ENABLED", cfg.OTLPEndpoint != "")
	cfg.TracingSampleRatio = getFloat("TRACING_SAMPLE_RATIO", 1)

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "console")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.KimgURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid KIMG_URL %q", c.KimgURL)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive")
	}
	if c.RLEnabled && (c.RLLimit <= 0 || c.RLWindow <= 0) {
		return fmt.Errorf("RL_LIMIT and RL_WINDOW must be positive when RL_ENABLED")
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("SESSION_MAX must be positive")
	}
	if c.TracingSampleRatio < 0 || c.TracingSampleRatio > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATIO must be within [0, 1]")
	}
	if c.KimgReadTimeout <= 0 || c.KimgWriteTimeout <= 0 {
		return fmt.Errorf("kimg timeouts must be positive")
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getInt64(k string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return i
}

func getBool(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		panic(fmt.Errorf("invalid boolean env %s=%q", k, v))
	}
}

func getDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getFloat(k string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
