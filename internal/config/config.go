package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port       string
	DBAdapter  string
	SQLiteFile string
	JwtSecret  string
	LogLevel   string
	Env        string
	// PostgreSQL connection settings
	PostgresDSN      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	MigrationsDir    string

	// Admission control
	RateLimitStore         string
	RedisURL               string
	RateLimitSweepInterval time.Duration

	// Push delivery
	VAPIDPublicKey      string
	VAPIDPrivateKey     string
	VAPIDSubject        string
	PushTimeout         time.Duration
	PushWorkers         int
	PushQueueSize       int
	PushFanout          int
	AMQPURL             string
	PushDeadLetterQueue string

	AllowedOrigins []string
	CookieSecure   bool
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid integer in environment; using default", slog.String("key", key), slog.Int("default", def))
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration in environment; using default", slog.String("key", key), slog.Duration("default", def))
		return def
	}
	return d
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or returns the provided DSN
func (c *Config) BuildPostgresDSN() (string, error) {
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}

	if c.PostgresHost == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}

	sslMode := c.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable" // Default to disable for local development
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, port, c.PostgresUser, c.PostgresDB, sslMode)

	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}

	return dsn, nil
}

// PushEnabled reports whether VAPID key material is configured.
func (c *Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// IsProduction reports whether ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// New reads .env (if present) and then the process environment.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn(".env not loaded", slog.Any("error", err))
	}

	c := &Config{
		Port:       getenv("PORT", "8080"),
		DBAdapter:  getenv("DB_ADAPTER", "sqlite"),
		SQLiteFile: getenv("SQLITE_FILE", "./data/campusgate.db"),
		JwtSecret:  getenv("JWT_SECRET", "change-me"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		Env:        strings.ToLower(getenv("APP_ENV", getenv("ENV", ""))),
		// PostgreSQL settings
		PostgresDSN:      getenv("POSTGRES_DSN", ""),
		PostgresHost:     getenv("POSTGRES_HOST", getenv("DB_HOST", "localhost")),
		PostgresPort:     getenv("POSTGRES_PORT", getenv("DB_PORT", "5432")),
		PostgresUser:     getenv("POSTGRES_USER", getenv("DB_USER", "campus")),
		PostgresPassword: getenv("POSTGRES_PASSWORD", getenv("DB_PASSWORD", "campuspass")),
		PostgresDB:       getenv("POSTGRES_DB", getenv("DB_NAME", "campusgate")),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", getenv("DB_SSLMODE", "disable")),
		MigrationsDir:    getenv("MIGRATIONS_DIR", "./migrations"),

		RateLimitStore:         strings.ToLower(getenv("RATE_LIMIT_STORE", "memory")),
		RedisURL:               getenv("REDIS_URL", ""),
		RateLimitSweepInterval: getenvDuration("RATE_LIMIT_SWEEP_INTERVAL", time.Minute),

		VAPIDPublicKey:      getenv("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey:     getenv("VAPID_PRIVATE_KEY", ""),
		VAPIDSubject:        getenv("VAPID_SUBJECT", "mailto:admin@campusgate.local"),
		PushTimeout:         getenvDuration("PUSH_TIMEOUT", 10*time.Second),
		PushWorkers:         getenvInt("PUSH_WORKERS", 4),
		PushQueueSize:       getenvInt("PUSH_QUEUE_SIZE", 1024),
		PushFanout:          getenvInt("PUSH_FANOUT", 8),
		AMQPURL:             getenv("AMQP_URL", ""),
		PushDeadLetterQueue: getenv("PUSH_DEADLETTER_QUEUE", "push.failed"),

		AllowedOrigins: splitList(getenv("ALLOWED_ORIGINS", "")),
		CookieSecure:   getenvBool("COOKIE_SECURE", false),
	}

	switch c.DBAdapter {
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return nil, fmt.Errorf("postgres configuration error: %w", err)
		}
		c.PostgresDSN = dsn
	case "sqlite":
		if c.SQLiteFile == "" {
			return nil, errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
		}
	}

	switch c.RateLimitStore {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return nil, errors.New("REDIS_URL must be set when RATE_LIMIT_STORE=redis")
		}
	default:
		return nil, fmt.Errorf("unsupported RATE_LIMIT_STORE: %s (supported: memory, redis)", c.RateLimitStore)
	}

	if c.IsProduction() {
		if c.JwtSecret == "" || c.JwtSecret == "change-me" {
			return nil, errors.New("JWT_SECRET must be set in production")
		}
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return nil, fmt.Errorf("invalid PORT: %s", c.Port)
	}

	return c, nil
}
