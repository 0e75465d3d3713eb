package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"peerreads/pkg/database"
)

const (
	SessionDriverSQLite   = "sqlite"
	SessionDriverPostgres = "postgres"
	SessionDriverRedis    = "redis"
	SessionDriverMemory   = "memory"
)

type Config struct {
	APIURL      string
	HTTPTimeout time.Duration
	GatewayAddr string

	Session  SessionConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Breaker  BreakerConfig
	Log      LogConfig
}

type SessionConfig struct {
	Driver string
	Path   string
}

type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type RedisConfig struct {
	Addr     string
	DB       int
	Password string
}

type BreakerConfig struct {
	MaxFailures int
	Timeout     time.Duration
	Window      time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads an optional .env file and then the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		APIURL:      getEnv("PEERREADS_API_URL", "http://localhost:8080/api"),
		HTTPTimeout: getEnvDuration("PEERREADS_HTTP_TIMEOUT", 10*time.Second),
		GatewayAddr: getEnv("PEERREADS_GATEWAY_ADDR", "127.0.0.1:8090"),
		Session: SessionConfig{
			Driver: getEnv("PEERREADS_SESSION_DRIVER", SessionDriverSQLite),
			Path:   getEnv("PEERREADS_SESSION_PATH", defaultSessionPath()),
		},
		Postgres: PostgresConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "program"),
			Password: getEnv("DB_PASSWORD", "test"),
			Name:     getEnv("DB_NAME", "peerreads"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			DB:       getEnvInt("REDIS_DB", 0),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		Breaker: BreakerConfig{
			MaxFailures: getEnvInt("PEERREADS_BREAKER_MAX_FAILURES", 5),
			Timeout:     getEnvDuration("PEERREADS_BREAKER_TIMEOUT", 30*time.Second),
			Window:      getEnvDuration("PEERREADS_BREAKER_WINDOW", time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "warn"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
	}
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("PEERREADS_API_URL %q is not an absolute URL", c.APIURL)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("PEERREADS_HTTP_TIMEOUT must be positive")
	}
	switch c.Session.Driver {
	case SessionDriverSQLite:
		if c.Session.Path == "" {
			return fmt.Errorf("PEERREADS_SESSION_PATH is required for the sqlite session driver")
		}
	case SessionDriverPostgres, SessionDriverRedis, SessionDriverMemory:
	default:
		return fmt.Errorf("unknown PEERREADS_SESSION_DRIVER %q", c.Session.Driver)
	}
	if c.Breaker.MaxFailures < 0 || c.Breaker.Timeout <= 0 || c.Breaker.Window <= 0 {
		return fmt.Errorf("circuit breaker settings must be positive")
	}
	return nil
}

// Database returns the connection settings for the gorm backed session drivers.
func (c *Config) Database() database.Config {
	if c.Session.Driver == SessionDriverPostgres {
		return database.Config{
			Driver:     database.DriverPostgres,
			Host:       c.Postgres.Host,
			Port:       c.Postgres.Port,
			User:       c.Postgres.User,
			Password:   c.Postgres.Password,
			Name:       c.Postgres.Name,
			MaxRetries: 3,
			RetryDelay: 2 * time.Second,
		}
	}
	return database.Config{Driver: database.DriverSQLite, Path: c.Session.Path}
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".peerreads/session.db"
	}
	return filepath.Join(dir, "peerreads", "session.db")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
