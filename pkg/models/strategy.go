// Package models contains domain models shared by the strategy engine.
package models

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInputRange reports a caller-supplied value outside its declared domain.
// Decisions are still produced: callers clamp and proceed.
var ErrInvalidInputRange = errors.New("input out of range")

// AlgorithmID identifies a candidate-generating algorithm.
type AlgorithmID string

const (
	AlgorithmHeuristic AlgorithmID = "heuristic"
	AlgorithmMDM       AlgorithmID = "mdm"
	AlgorithmEVM       AlgorithmID = "evm"
	// AlgorithmEnsemble is only used as a metrics key for the combine step.
	AlgorithmEnsemble AlgorithmID = "ensemble"
)

// DefaultAlgorithms are the candidate generators registered out of the box.
var DefaultAlgorithms = []AlgorithmID{AlgorithmHeuristic, AlgorithmMDM, AlgorithmEVM}

// UserState is the per-user snapshot produced by feature extraction.
// The engine only reads it.
type UserState struct {
	Attention       float64 `json:"attention"`
	Fatigue         float64 `json:"fatigue"`
	Motivation      float64 `json:"motivation"`
	TotalEventCount uint64  `json:"total_event_count"`
}

// Validate reports ErrInvalidInputRange when any field is outside its domain.
func (u UserState) Validate() error {
	switch {
	case !inUnit(u.Attention):
		return fmt.Errorf("attention %v: %w", u.Attention, ErrInvalidInputRange)
	case !inUnit(u.Fatigue):
		return fmt.Errorf("fatigue %v: %w", u.Fatigue, ErrInvalidInputRange)
	case !inRange(u.Motivation, -1, 1):
		return fmt.Errorf("motivation %v: %w", u.Motivation, ErrInvalidInputRange)
	}
	return nil
}

// Clamped returns a copy with every field forced into its domain.
func (u UserState) Clamped() UserState {
	u.Attention = Clamp01(u.Attention)
	u.Fatigue = Clamp01(u.Fatigue)
	u.Motivation = ClampRange(u.Motivation, -1, 1)
	return u
}

// FeatureVector carries the per-event signals derived from raw history.
type FeatureVector struct {
	Accuracy               float64 `json:"accuracy"`
	ResponseSpeed          float64 `json:"response_speed"`
	Quality                float64 `json:"quality"`
	Engagement             float64 `json:"engagement"`
	HintPenalty            float64 `json:"hint_penalty"`
	TimeSinceLastEventSecs float64 `json:"time_since_last_event_secs"`
	SessionEventCount      uint64  `json:"session_event_count"`
	IsQuit                 bool    `json:"is_quit"`
}

// Validate reports ErrInvalidInputRange when any field is outside its domain.
func (f FeatureVector) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"accuracy", f.Accuracy},
		{"response_speed", f.ResponseSpeed},
		{"quality", f.Quality},
		{"engagement", f.Engagement},
		{"hint_penalty", f.HintPenalty},
	}
	for _, field := range fields {
		if !inUnit(field.value) {
			return fmt.Errorf("%s %v: %w", field.name, field.value, ErrInvalidInputRange)
		}
	}
	if math.IsNaN(f.TimeSinceLastEventSecs) || f.TimeSinceLastEventSecs < 0 {
		return fmt.Errorf("time_since_last_event_secs %v: %w", f.TimeSinceLastEventSecs, ErrInvalidInputRange)
	}
	return nil
}

// Clamped returns a copy with every field forced into its domain.
func (f FeatureVector) Clamped() FeatureVector {
	f.Accuracy = Clamp01(f.Accuracy)
	f.ResponseSpeed = Clamp01(f.ResponseSpeed)
	f.Quality = Clamp01(f.Quality)
	f.Engagement = Clamp01(f.Engagement)
	f.HintPenalty = Clamp01(f.HintPenalty)
	if math.IsNaN(f.TimeSinceLastEventSecs) || f.TimeSinceLastEventSecs < 0 {
		f.TimeSinceLastEventSecs = 0
	}
	return f
}

// StrategyParams is the decided study strategy handed back to the caller.
type StrategyParams struct {
	Difficulty    float64 `json:"difficulty"`
	NewRatio      float64 `json:"new_ratio"`
	BatchSize     int     `json:"batch_size"`
	IntervalScale float64 `json:"interval_scale"`
}

const (
	// MinIntervalScale is the floor applied to IntervalScale.
	MinIntervalScale = 0.1
	// MaxIntervalScale caps IntervalScale.
	MaxIntervalScale = 5.0
)

// DefaultStrategyParams returns the neutral strategy used when no decision can be made.
func DefaultStrategyParams() StrategyParams {
	return StrategyParams{
		Difficulty:    0.5,
		NewRatio:      0.3,
		BatchSize:     10,
		IntervalScale: 1.0,
	}
}

// Clamp returns a copy that satisfies every StrategyParams invariant.
func (p StrategyParams) Clamp() StrategyParams {
	p.Difficulty = Clamp01(p.Difficulty)
	p.NewRatio = Clamp01(p.NewRatio)
	if p.BatchSize < 1 {
		p.BatchSize = 1
	}
	if math.IsNaN(p.IntervalScale) {
		p.IntervalScale = 1.0
	}
	p.IntervalScale = ClampRange(p.IntervalScale, MinIntervalScale, MaxIntervalScale)
	return p
}

// Valid reports whether the params satisfy their invariants.
func (p StrategyParams) Valid() bool {
	return inUnit(p.Difficulty) && inUnit(p.NewRatio) && p.BatchSize >= 1 &&
		p.IntervalScale > 0 && !math.IsInf(p.IntervalScale, 0)
}

// StrategyCandidate is one algorithm's proposed strategy.
type StrategyCandidate struct {
	Algorithm AlgorithmID    `json:"algorithm"`
	Params    StrategyParams `json:"params"`
}

// Clamp01 clamps v to [0, 1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	return ClampRange(v, 0, 1)
}

// ClampRange clamps v to [lo, hi]. NaN maps to lo.
func ClampRange(v, lo, hi float64) float64 {
	switch {
	case math.IsNaN(v), v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}

func inUnit(v float64) bool {
	return inRange(v, 0, 1)
}

func inRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}
