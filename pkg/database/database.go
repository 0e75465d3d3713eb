package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Driver string

	// sqlite
	Path string

	// postgres
	Host     string
	Port     string
	User     string
	Password string
	Name     string

	MaxRetries int
	RetryDelay time.Duration
}

func (c Config) DSN() string {
	if c.Driver == DriverSQLite {
		return c.Path
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.Host, c.User, c.Password, c.Name, c.Port)
}

// Open connects, tunes the pool and migrates models. Postgres connections are
// retried since the server may still be starting.
func Open(cfg Config, models ...interface{}) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite database path is empty")
		}
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.DSN())
	case DriverPostgres:
		log.Debug().Str("host", cfg.Host).Str("port", cfg.Port).Str("db", cfg.Name).Msg("connecting to postgres")
		dialector = postgres.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	gormConfig := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	attempts := cfg.MaxRetries
	if attempts < 1 || cfg.Driver == DriverSQLite {
		attempts = 1
	}
	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < attempts; i++ {
		db, err = gorm.Open(dialector, gormConfig)
		if err == nil {
			break
		}
		log.Warn().Err(err).Msgf("Database connection attempt %d/%d failed", i+1, attempts)
		if i < attempts-1 {
			time.Sleep(cfg.RetryDelay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get database instance: %w", err)
	}
	if cfg.Driver == DriverSQLite {
		// every :memory: connection is a separate database
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}
	if err := sqlDB.Ping(); err != nil {
		closePool(sqlDB)
		return nil, fmt.Errorf("ping %s database: %w", cfg.Driver, err)
	}

	if err := db.AutoMigrate(models...); err != nil {
		closePool(sqlDB)
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	log.Debug().Str("driver", cfg.Driver).Msg("Database connection established")
	return db, nil
}

// closeDB is swapped in tests to observe pools released on failed opens.
var closeDB = (*sql.DB).Close

func closePool(sqlDB *sql.DB) {
	if err := closeDB(sqlDB); err != nil {
		log.Warn().Err(err).Msg("Failed to close database after a failed open")
	}
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
