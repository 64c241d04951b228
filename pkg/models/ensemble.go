// Package models contains domain models shared by the strategy engine.
package models

import "math"

// TrustScores maps each algorithm to a confidence weight in [0, 1].
type TrustScores map[AlgorithmID]float64

// DefaultTrustValue is the trust assigned to algorithms with no history.
const DefaultTrustValue = 0.5

// DefaultTrustScores assigns equal trust to every listed algorithm.
func DefaultTrustScores(ids ...AlgorithmID) TrustScores {
	if len(ids) == 0 {
		ids = DefaultAlgorithms
	}
	scores := make(TrustScores, len(ids))
	for _, id := range ids {
		scores[id] = DefaultTrustValue
	}
	return scores
}

// Clone returns a copy safe to hand to other goroutines.
func (t TrustScores) Clone() TrustScores {
	out := make(TrustScores, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Get returns the trust for id and whether it was usable.
// Non-finite values are reported as absent.
func (t TrustScores) Get(id AlgorithmID) (float64, bool) {
	v, ok := t[id]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return Clamp01(v), true
}

// EnsembleConfig describes how candidates are blended.
type EnsembleConfig struct {
	// Algorithms are the registered generators; used when a caller does not
	// name the participating algorithms explicitly.
	Algorithms []AlgorithmID `json:"algorithms" yaml:"algorithms"`

	// MinCandidates is the candidate count below which trust is ignored and
	// only the cold-start prior is used.
	MinCandidates int `json:"min_candidates" yaml:"min_candidates"`

	// TrustBlend is the largest share trust can take once the user is mature.
	TrustBlend float64 `json:"trust_blend" yaml:"trust_blend"`

	// MaturityEvents is the event count at which half of TrustBlend applies.
	MaturityEvents float64 `json:"maturity_events" yaml:"maturity_events"`

	// DefaultTrust is used for algorithms that have no trust entry.
	DefaultTrust float64 `json:"default_trust" yaml:"default_trust"`
}

// DefaultEnsembleConfig returns the default ensemble configuration.
func DefaultEnsembleConfig() *EnsembleConfig {
	algs := make([]AlgorithmID, len(DefaultAlgorithms))
	copy(algs, DefaultAlgorithms)
	return &EnsembleConfig{
		Algorithms:     algs,
		MinCandidates:  2,
		TrustBlend:     0.8,
		MaturityEvents: 100,
		DefaultTrust:   DefaultTrustValue,
	}
}
