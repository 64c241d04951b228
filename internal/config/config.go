// Package config provides configuration management for the strategy service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Heartcoolman/wordforge-sub001/internal/engine"
	"github.com/Heartcoolman/wordforge-sub001/internal/maintenance"
	"github.com/Heartcoolman/wordforge-sub001/internal/metrics"
	"github.com/Heartcoolman/wordforge-sub001/internal/trust"
)

const (
	// DefaultWorkerPort is the default HTTP port for the worker service.
	DefaultWorkerPort = 37780

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "WORDFORGE_"
)

// Config holds the application configuration.
type Config struct {
	// Worker settings
	WorkerHost string `yaml:"worker_host"`
	WorkerPort int    `yaml:"worker_port"`
	LogLevel   string `yaml:"log_level"`

	// Per-client budget of /api/decide
	DecideRateLimit float64 `yaml:"decide_rate_limit"` // requests per second
	DecideBurst     int     `yaml:"decide_burst"`

	// Database settings
	DBDriver string `yaml:"db_driver"` // "sqlite" or "postgres"
	DBDSN    string `yaml:"db_dsn"`    // file path for sqlite, DSN for postgres
	MaxConns int    `yaml:"max_conns"`

	// Background loops
	FlushInterval     time.Duration `yaml:"flush_interval"`
	TrustSyncInterval time.Duration `yaml:"trust_sync_interval"`

	// Decision engine and trust adaptation
	Engine *engine.Config `yaml:"engine"`
	Trust  *trust.Config  `yaml:"trust"`

	Maintenance   *maintenance.Config   `yaml:"maintenance"`
	MetricsExport *metrics.ExportConfig `yaml:"metrics_export"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// DataDir returns the data directory path (~/.wordforge unless WORDFORGE_DATA_DIR is set).
func DataDir() string {
	if dir := os.Getenv(EnvPrefix + "DATA_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wordforge")
}

// DBPath returns the default SQLite database file path.
func DBPath() string {
	return filepath.Join(DataDir(), "strategy.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.yaml")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		WorkerHost:        "127.0.0.1",
		WorkerPort:        DefaultWorkerPort,
		LogLevel:          "info",
		DecideRateLimit:   50,
		DecideBurst:       100,
		DBDriver:          "sqlite",
		DBDSN:             DBPath(),
		MaxConns:          10,
		FlushInterval:     time.Minute,
		TrustSyncInterval: 5 * time.Minute,
		Engine:            engine.DefaultConfig(),
		Trust:             trust.DefaultConfig(),
		Maintenance:       maintenance.DefaultConfig(),
		MetricsExport:     metrics.DefaultExportConfig(),
	}
}

// Load loads configuration from the settings file, merging with defaults,
// then applies environment overrides.
func Load() (*Config, error) {
	return LoadFrom(SettingsPath())
}

// LoadFrom is Load with an explicit settings file. A missing file is not an error.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read settings: %w", err)
	default:
		// fields absent from the file keep their defaults
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse settings %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := env("WORKER_HOST"); v != "" {
		c.WorkerHost = v
	}
	if v := env("WORKER_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p <= 0 {
			return fmt.Errorf("%sWORKER_PORT %q: invalid port", EnvPrefix, v)
		}
		c.WorkerPort = p
	}
	if v := env("LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := env("DB_DRIVER"); v != "" {
		c.DBDriver = strings.ToLower(v)
	}
	if v := env("DB_DSN"); v != "" {
		c.DBDSN = v
	}
	if v := env("FLUSH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sFLUSH_INTERVAL: %w", EnvPrefix, err)
		}
		c.FlushInterval = d
	}
	if v := env("TRUST_SYNC_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sTRUST_SYNC_INTERVAL: %w", EnvPrefix, err)
		}
		c.TrustSyncInterval = d
	}
	if v := env("METRICS_EXPORTER"); v != "" {
		if c.MetricsExport == nil {
			c.MetricsExport = metrics.DefaultExportConfig()
		}
		c.MetricsExport.Exporter = strings.ToLower(v)
	}
	if v := env("TARGET_RETENTION"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sTARGET_RETENTION: %w", EnvPrefix, err)
		}
		c.Engine.TargetRetention = f
	}
	return nil
}

// normalize fills sections a settings file may have nulled out and pulls
// out-of-range values back to their defaults.
func (c *Config) normalize() {
	def := Default()
	if c.Engine == nil {
		c.Engine = def.Engine
	}
	if c.Engine.Ensemble == nil {
		c.Engine.Ensemble = def.Engine.Ensemble
	}
	if c.Engine.Heuristic == nil {
		c.Engine.Heuristic = def.Engine.Heuristic
	}
	if c.Engine.Decay == nil {
		c.Engine.Decay = def.Engine.Decay
	}
	if c.Engine.Variability == nil {
		c.Engine.Variability = def.Engine.Variability
	}
	if c.Trust == nil {
		c.Trust = def.Trust
	}
	if c.Maintenance == nil {
		c.Maintenance = def.Maintenance
	}
	if c.MetricsExport == nil {
		c.MetricsExport = def.MetricsExport
	}
	if c.MetricsExport.Interval <= 0 {
		c.MetricsExport.Interval = def.MetricsExport.Interval
	}
	if c.Engine.TargetRetention <= 0 || c.Engine.TargetRetention >= 1 {
		c.Engine.TargetRetention = def.Engine.TargetRetention
	}
	if c.Engine.Alpha <= 0 || c.Engine.Alpha >= 1 {
		c.Engine.Alpha = def.Engine.Alpha
	}
	if c.WorkerPort <= 0 {
		c.WorkerPort = DefaultWorkerPort
	}
	if c.DecideRateLimit <= 0 {
		c.DecideRateLimit = def.DecideRateLimit
	}
	if c.DecideBurst <= 0 {
		c.DecideBurst = def.DecideBurst
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	if c.TrustSyncInterval <= 0 {
		c.TrustSyncInterval = def.TrustSyncInterval
	}
	if c.DBDSN == "" && c.DBDriver == "sqlite" {
		c.DBDSN = def.DBDSN
	}
}

// Addr returns the listen address of the worker.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.WorkerHost, c.WorkerPort)
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + key))
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	configOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			cfg = Default()
		}
		configMu.Lock()
		globalConfig = cfg
		configMu.Unlock()
	})

	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
