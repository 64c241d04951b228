package metrics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Heartcoolman/wordforge-sub001/pkg/models"
)

// DefaultFlushInterval is used when NewFlusher is given a non-positive interval.
const DefaultFlushInterval = time.Minute

// DailyStore defines the storage operations needed by the flusher.
// MergeMetricsDaily adds a delta to a bucket atomically with respect to other
// writers and treats an undecodable bucket as empty.
type DailyStore interface {
	MergeMetricsDaily(ctx context.Context, day string, id models.AlgorithmID, delta models.MetricsSnapshot) error
	ListMetricsDaily(ctx context.Context, day string) (models.MetricsByAlgorithm, error)
}

// Flusher periodically merges registry counters into daily buckets.
type Flusher struct {
	log      zerolog.Logger
	store    DailyStore
	registry *Registry
	now      func() time.Time
	stopCh   chan struct{}
	doneCh   chan struct{}
	day      string
	interval time.Duration
	flushMu  sync.Mutex
	mu       sync.Mutex
	stopOnce sync.Once
	running  bool
}

// NewFlusher creates a flusher for registry writing into store.
func NewFlusher(store DailyStore, registry *Registry, interval time.Duration, log zerolog.Logger) *Flusher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Flusher{
		store:    store,
		registry: registry,
		log:      log.With().Str("component", "metrics-flusher").Logger(),
		now:      time.Now,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Today returns the key of the current daily bucket.
func (f *Flusher) Today() string {
	return f.now().UTC().Format(models.DayLayout)
}

// Restore seeds the registry totals from today's persisted buckets.
// Missing buckets count as zero.
func (f *Flusher) Restore(ctx context.Context) error {
	day := f.Today()
	buckets, err := f.store.ListMetricsDaily(ctx, day)
	if err != nil {
		return fmt.Errorf("list metrics for %s: %w", day, err)
	}
	f.registry.Seed(buckets)

	f.flushMu.Lock()
	f.day = day
	f.flushMu.Unlock()

	f.log.Info().Str("day", day).Int("algorithms", len(buckets)).Msg("restored daily metrics")
	return nil
}

// Rollover starts a new exposition day when the UTC date changed since the
// last flush and returns the current day.
func (f *Flusher) Rollover() string {
	f.flushMu.Lock()
	defer f.flushMu.Unlock()
	return f.rollover()
}

func (f *Flusher) rollover() string {
	day := f.Today()
	if f.day != "" && f.day != day {
		// pending counters not yet flushed move to the new day
		f.registry.ResetTotals()
		f.log.Info().Str("from", f.day).Str("to", day).Msg("daily metrics bucket rolled over")
	}
	f.day = day
	return day
}

// Flush drains the registry and merges every algorithm into today's bucket.
// A failed algorithm is logged and re-queued without stopping the others;
// the returned error joins every failure.
func (f *Flusher) Flush(ctx context.Context) error {
	f.flushMu.Lock()
	defer f.flushMu.Unlock()

	day := f.rollover()
	pending := f.registry.SnapshotAndReset()
	if len(pending) == 0 {
		return nil
	}

	ids := make([]models.AlgorithmID, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var errs []error
	for _, id := range ids {
		if err := f.store.MergeMetricsDaily(ctx, day, id, pending[id]); err != nil {
			f.log.Error().Err(err).
				Str("algorithm", string(id)).
				Str("day", day).
				Msg("persistence write failure, counters re-queued")
			f.registry.Requeue(id, pending[id])
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		f.log.Debug().Str("day", day).Int("algorithms", len(ids)).Msg("flushed metrics")
	}
	return errors.Join(errs...)
}

// Start runs the flush loop until ctx is cancelled or Stop is called.
// A final flush runs on the way out.
// This should be called in a goroutine.
func (f *Flusher) Start(ctx context.Context) {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
		close(f.doneCh)
	}()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.log.Info().Msg("flusher shutting down due to context cancellation")
			f.finalFlush(context.WithoutCancel(ctx))
			return
		case <-f.stopCh:
			f.log.Info().Msg("flusher stopping")
			f.finalFlush(ctx)
			return
		case <-ticker.C:
			_ = f.Flush(ctx)
		}
	}
}

func (f *Flusher) finalFlush(ctx context.Context) {
	if err := f.Flush(ctx); err != nil {
		f.log.Error().Err(err).Msg("final metrics flush incomplete")
	}
}

// Stop stops the flush loop and waits for the final flush. It is safe to
// call from several goroutines.
func (f *Flusher) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	f.stopOnce.Do(func() { close(f.stopCh) })
	<-f.doneCh
}

// Running reports whether the loop is active.
func (f *Flusher) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}
