// Package maintenance provides scheduled housekeeping of the strategy store.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Heartcoolman/wordforge-sub001/pkg/models"
)

// Store defines the storage operations needed by maintenance.
type Store interface {
	DeleteMetricsBefore(ctx context.Context, day string) (int64, error)
	Optimize(ctx context.Context) error
}

// Config holds maintenance settings.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Interval between runs. Values below an hour are raised to an hour.
	Interval time.Duration `yaml:"interval"`

	// InitialDelay before the first run lets the worker settle.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MetricsRetentionDays keeps this many days of metrics buckets; 0 keeps all.
	MetricsRetentionDays int `yaml:"metrics_retention_days"`
}

// DefaultConfig returns the default maintenance configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled:              true,
		Interval:             24 * time.Hour,
		InitialDelay:         5 * time.Minute,
		MetricsRetentionDays: 90,
	}
}

// Stats is a snapshot of maintenance activity.
type Stats struct {
	LastRun        time.Time `json:"last_run"`
	LastDuration   string    `json:"last_duration"`
	Runs           int64     `json:"runs"`
	PrunedBuckets  int64     `json:"pruned_buckets"`
	OptimizeRuns   int64     `json:"optimize_runs"`
	RetentionDays  int       `json:"retention_days"`
	Enabled        bool      `json:"enabled"`
	SchedulerAlive bool      `json:"scheduler_alive"`
}

// Service handles scheduled maintenance tasks.
type Service struct {
	log             zerolog.Logger
	lastRunTime     time.Time
	store           Store
	config          *Config
	now             func() time.Time
	stopCh          chan struct{}
	doneCh          chan struct{}
	lastRunDuration time.Duration
	runs            int64
	totalPruned     int64
	totalOptimize   int64
	mu              sync.Mutex
	stopOnce        sync.Once
	running         bool
}

// NewService creates a new maintenance service. If config is nil, uses defaults.
func NewService(store Store, config *Config, log zerolog.Logger) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	return &Service{
		store:  store,
		config: config,
		log:    log.With().Str("component", "maintenance").Logger(),
		now:    time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start runs the maintenance loop until ctx is cancelled or Stop is called.
// This should be called in a goroutine.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.doneCh)
	}()

	if !s.config.Enabled {
		s.log.Info().Msg("Maintenance disabled, not starting scheduler")
		return
	}

	interval := max(s.config.Interval, time.Hour)
	s.log.Info().
		Dur("interval", interval).
		Int("retention_days", s.config.MetricsRetentionDays).
		Msg("Starting maintenance scheduler")

	delay := time.NewTimer(s.config.InitialDelay)
	defer delay.Stop()
	select {
	case <-ctx.Done():
		return
	case <-s.stopCh:
		return
	case <-delay.C:
		s.RunOnce(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Maintenance shutting down due to context cancellation")
			return
		case <-s.stopCh:
			s.log.Info().Msg("Maintenance shutting down due to stop signal")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Stop stops the maintenance loop and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// RunOnce executes every maintenance task now. Task failures are logged.
func (s *Service) RunOnce(ctx context.Context) {
	start := time.Now()

	var pruned int64
	if days := s.config.MetricsRetentionDays; days > 0 {
		cutoff := s.now().UTC().AddDate(0, 0, -days).Format(models.DayLayout)
		n, err := s.store.DeleteMetricsBefore(ctx, cutoff)
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to prune metrics buckets")
		} else {
			pruned = n
			if n > 0 {
				s.log.Info().Int64("pruned", n).Str("before", cutoff).Msg("Pruned old metrics buckets")
			}
		}
	}

	optimized := true
	if err := s.store.Optimize(ctx); err != nil {
		s.log.Error().Err(err).Msg("Failed to optimize database")
		optimized = false
	}

	s.mu.Lock()
	s.lastRunTime = s.now()
	s.lastRunDuration = time.Since(start)
	s.runs++
	s.totalPruned += pruned
	if optimized {
		s.totalOptimize++
	}
	s.mu.Unlock()

	s.log.Debug().Dur("duration", time.Since(start)).Msg("Maintenance run completed")
}

// Stats returns maintenance statistics.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Enabled:        s.config.Enabled,
		RetentionDays:  s.config.MetricsRetentionDays,
		LastRun:        s.lastRunTime,
		LastDuration:   s.lastRunDuration.String(),
		Runs:           s.runs,
		PrunedBuckets:  s.totalPruned,
		OptimizeRuns:   s.totalOptimize,
		SchedulerAlive: s.running,
	}
}
