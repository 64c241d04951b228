// Package gorm provides GORM-based persistence for the strategy engine.
package gorm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Heartcoolman/wordforge-sub001/pkg/models"

	// pure-Go SQLite driver registered as "sqlite"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	// ErrContentionExhausted is returned when an optimistic update keeps
	// losing to concurrent writers.
	ErrContentionExhausted = errors.New("contention exhausted")

	// ErrSerialization reports a stored payload that cannot be decoded.
	ErrSerialization = models.ErrSerialization
)

// MaxCASAttempts bounds the read-modify-write retries of UpdateMemoryState.
const MaxCASAttempts = 20

// Store represents the GORM database connection.
type Store struct {
	DB     *gorm.DB
	sqlDB  *sql.DB
	driver string
}

// Config holds database configuration.
type Config struct {
	Driver   string          // "postgres" or "sqlite" (default: sqlite)
	DSN      string          // PostgreSQL DSN or SQLite file path
	MaxConns int             // Maximum number of open connections (default: 10, always 1 for SQLite)
	LogLevel logger.LogLevel // GORM log level (logger.Silent for production)
}

// NewStore opens the database, configures the pool and runs migrations.
func NewStore(cfg Config) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case DriverSQLite:
		if cfg.DSN != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		dialector = sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: cfg.DSN})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	logLevel := cfg.LogLevel
	if logLevel == 0 {
		logLevel = logger.Silent
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:      logger.Default.LogMode(logLevel),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm %s: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	if driver == DriverSQLite {
		// a single writer avoids SQLITE_BUSY on lock upgrades
		maxConns = 1
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(max(1, maxConns/2))
	sqlDB.SetConnMaxLifetime(1 * time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	store := &Store{DB: db, sqlDB: sqlDB, driver: driver}
	if driver == DriverSQLite {
		if err := store.configurePragmas(); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}

	if err := runMigrations(db); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.Debug().Str("driver", driver).Int("max_conns", maxConns).Msg("Database store ready")
	return store, nil
}

func (s *Store) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if err := s.DB.Exec(p).Error; err != nil {
			return fmt.Errorf("exec %s: %w", p, err)
		}
	}
	return nil
}

// Optimize refreshes planner statistics.
func (s *Store) Optimize(ctx context.Context) error {
	stmt := "ANALYZE"
	if s.driver == DriverSQLite {
		stmt = "PRAGMA optimize"
	}
	if err := s.DB.WithContext(ctx).Exec(stmt).Error; err != nil {
		return fmt.Errorf("optimize: %w", err)
	}
	return nil
}

// Driver returns the configured driver name.
func (s *Store) Driver() string {
	return s.driver
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// HealthCheck performs a health check with latency measurement.
func (s *Store) HealthCheck(ctx context.Context) *HealthInfo {
	info := &HealthInfo{
		Status:    "healthy",
		Timestamp: time.Now(),
		Driver:    s.driver,
	}

	stats := s.sqlDB.Stats()
	info.PoolStats = PoolStats{
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
		WaitDuration:    stats.WaitDuration,
	}

	start := time.Now()
	var dummy int
	err := s.sqlDB.QueryRowContext(ctx, "SELECT 1").Scan(&dummy)
	info.QueryLatency = time.Since(start)

	if err != nil {
		info.Status = "unhealthy"
		info.Error = err.Error()
		return info
	}

	// Check query latency (warn if > 10ms for simple query)
	if info.QueryLatency > 10*time.Millisecond {
		info.Status = "degraded"
		info.Warning = fmt.Sprintf("Slow query latency: %v", info.QueryLatency)
	}
	return info
}

// HealthInfo contains database health check results.
type HealthInfo struct {
	Timestamp    time.Time     `json:"timestamp"`
	Status       string        `json:"status"`
	Driver       string        `json:"driver"`
	Error        string        `json:"error,omitempty"`
	Warning      string        `json:"warning,omitempty"`
	PoolStats    PoolStats     `json:"pool_stats"`
	QueryLatency time.Duration `json:"query_latency_ns"`
}

// PoolStats contains connection pool statistics.
type PoolStats struct {
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
	Idle            int           `json:"idle"`
	WaitCount       int64         `json:"wait_count"`
	WaitDuration    time.Duration `json:"wait_duration_ns"`
}
