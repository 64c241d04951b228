// Package metrics tracks per-algorithm call, latency and error counters and
// persists them into daily buckets.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Heartcoolman/wordforge-sub001/pkg/models"
)

// tally accumulates latency in nanoseconds; microseconds are only derived
// when a snapshot is taken.
type tally struct {
	calls     uint64
	latencyNs uint64
	errors    uint64
}

func tallyOf(s models.MetricsSnapshot) tally {
	return tally{calls: s.CallCount, latencyNs: s.TotalLatencyUs * uint64(time.Microsecond), errors: s.ErrorCount}
}

func (t tally) add(o tally) tally {
	return tally{calls: t.calls + o.calls, latencyNs: t.latencyNs + o.latencyNs, errors: t.errors + o.errors}
}

func (t tally) snapshot() models.MetricsSnapshot {
	return models.MetricsSnapshot{
		CallCount:      t.calls,
		TotalLatencyUs: t.latencyNs / uint64(time.Microsecond),
		ErrorCount:     t.errors,
	}
}

// remainder keeps the sub-microsecond latency a drain could not report.
func (t tally) remainder() tally {
	return tally{latencyNs: t.latencyNs % uint64(time.Microsecond)}
}

// counts is an immutable value swapped atomically inside a cell.
// pending is drained by SnapshotAndReset; total only grows and feeds Snapshot.
type counts struct {
	pending tally
	total   tally
}

type cell struct {
	v atomic.Pointer[counts]
}

func newCell() *cell {
	c := &cell{}
	c.v.Store(&counts{})
	return c
}

// update applies fn with a compare-and-swap loop. A concurrent SnapshotAndReset
// makes the swap fail, so every update lands either before or after it.
func (c *cell) update(fn func(counts) counts) counts {
	for {
		old := c.v.Load()
		next := fn(*old)
		if c.v.CompareAndSwap(old, &next) {
			return *old
		}
	}
}

// Registry is a process-lifetime, lock-free accumulator keyed by algorithm.
// Create one per process and pass it to everything that records or flushes.
type Registry struct {
	cells sync.Map // models.AlgorithmID -> *cell
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) cell(id models.AlgorithmID) *cell {
	if c, ok := r.cells.Load(id); ok {
		return c.(*cell)
	}
	c, _ := r.cells.LoadOrStore(id, newCell())
	return c.(*cell)
}

// Record counts one call of id taking latency, optionally as an error.
func (r *Registry) Record(id models.AlgorithmID, latency time.Duration, isError bool) {
	delta := tally{calls: 1}
	if latency > 0 {
		delta.latencyNs = uint64(latency)
	}
	if isError {
		delta.errors = 1
	}
	r.cell(id).update(func(c counts) counts {
		return counts{pending: c.pending.add(delta), total: c.total.add(delta)}
	})
}

// SnapshotAndReset returns the pending counters of every algorithm that
// recorded anything since the previous call and zeroes them. Day totals
// reported by Snapshot are untouched. Latency below one microsecond stays
// pending until later calls round it up.
func (r *Registry) SnapshotAndReset() models.MetricsByAlgorithm {
	out := make(models.MetricsByAlgorithm)
	r.cells.Range(func(key, value any) bool {
		prev := value.(*cell).update(func(c counts) counts {
			return counts{pending: c.pending.remainder(), total: c.total}
		})
		if snap := prev.pending.snapshot(); !snap.IsZero() {
			out[key.(models.AlgorithmID)] = snap
		}
		return true
	})
	return out
}

// Snapshot returns the running totals without disturbing pending counters.
// Totals include values restored with Seed.
func (r *Registry) Snapshot() models.MetricsByAlgorithm {
	out := make(models.MetricsByAlgorithm)
	r.cells.Range(func(key, value any) bool {
		out[key.(models.AlgorithmID)] = value.(*cell).v.Load().total.snapshot()
		return true
	})
	return out
}

// Seed adds persisted totals to the exposition view only, so a restart does
// not cause them to be flushed a second time.
func (r *Registry) Seed(totals models.MetricsByAlgorithm) {
	for id, snap := range totals {
		r.cell(id).update(func(c counts) counts {
			return counts{pending: c.pending, total: c.total.add(tallyOf(snap))}
		})
	}
}

// Requeue puts pending counters back after a failed merge. Totals already
// include them and are not changed.
func (r *Registry) Requeue(id models.AlgorithmID, pending models.MetricsSnapshot) {
	r.cell(id).update(func(c counts) counts {
		return counts{pending: c.pending.add(tallyOf(pending)), total: c.total}
	})
}

// Add re-queues pending deltas for several algorithms at once.
func (r *Registry) Add(deltas models.MetricsByAlgorithm) {
	for id, snap := range deltas {
		r.Requeue(id, snap)
	}
}

// ResetTotals zeroes the exposition totals, keeping pending counters.
// Called when the daily bucket rolls over.
func (r *Registry) ResetTotals() {
	r.cells.Range(func(_, value any) bool {
		value.(*cell).update(func(c counts) counts {
			return counts{pending: c.pending, total: c.pending}
		})
		return true
	})
}
