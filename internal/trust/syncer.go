package trust

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSyncInterval is used when NewSyncer is given a non-positive interval.
const DefaultSyncInterval = 5 * time.Minute

// Syncer periodically saves changed trust scores.
type Syncer struct {
	log      zerolog.Logger
	tracker  *Tracker
	store    Store
	stopCh   chan struct{}
	doneCh   chan struct{}
	interval time.Duration
	mu       sync.Mutex
	stopOnce sync.Once
	running  bool
}

// NewSyncer creates a background trust syncer.
func NewSyncer(tracker *Tracker, store Store, interval time.Duration, log zerolog.Logger) *Syncer {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	return &Syncer{
		log:      log.With().Str("component", "trust-syncer").Logger(),
		tracker:  tracker,
		store:    store,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the sync loop until ctx is cancelled or Stop is called, saving
// once more on the way out.
// This should be called in a goroutine.
func (s *Syncer) Start(ctx context.Context) {
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

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("trust syncer shutting down due to context cancellation")
			s.sync(context.WithoutCancel(ctx))
			return
		case <-s.stopCh:
			s.log.Info().Msg("trust syncer stopping")
			s.sync(ctx)
			return
		case <-ticker.C:
			s.sync(ctx)
		}
	}
}

// Stop stops the sync loop and waits for the final save.
func (s *Syncer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

// Running reports whether the loop is active.
func (s *Syncer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Syncer) sync(ctx context.Context) {
	if err := s.tracker.Save(ctx, s.store); err != nil {
		s.log.Error().Err(err).Msg("failed to persist trust scores")
	}
}
