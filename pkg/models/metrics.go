// Package models contains domain models shared by the strategy engine.
package models

import "errors"

// ErrSerialization reports a persisted snapshot that could not be decoded.
// Readers treat such a snapshot as absent.
var ErrSerialization = errors.New("snapshot serialization")

// DayLayout is the format of daily metrics bucket keys.
const DayLayout = "2006-01-02"

// MetricsSnapshot holds the counters of one algorithm.
type MetricsSnapshot struct {
	CallCount      uint64 `json:"call_count"`
	TotalLatencyUs uint64 `json:"total_latency_us"`
	ErrorCount     uint64 `json:"error_count"`
}

// Add returns the field-wise sum of s and o.
func (s MetricsSnapshot) Add(o MetricsSnapshot) MetricsSnapshot {
	return MetricsSnapshot{
		CallCount:      s.CallCount + o.CallCount,
		TotalLatencyUs: s.TotalLatencyUs + o.TotalLatencyUs,
		ErrorCount:     s.ErrorCount + o.ErrorCount,
	}
}

// IsZero reports whether every counter is zero.
func (s MetricsSnapshot) IsZero() bool {
	return s.CallCount == 0 && s.TotalLatencyUs == 0 && s.ErrorCount == 0
}

// AvgLatencyUs returns the mean call latency in microseconds.
func (s MetricsSnapshot) AvgLatencyUs() float64 {
	if s.CallCount == 0 {
		return 0
	}
	return float64(s.TotalLatencyUs) / float64(s.CallCount)
}

// MetricsByAlgorithm is a registry snapshot keyed by algorithm.
type MetricsByAlgorithm map[AlgorithmID]MetricsSnapshot
