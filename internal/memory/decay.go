// Package memory provides the per-word memory models used by the strategy engine.
package memory

import (
	"math"
	"time"

	"github.com/Heartcoolman/wordforge-sub001/pkg/models"
)

// DecayConfig contains the parameters of the multi-factor decay model.
type DecayConfig struct {
	// BaseHalfLife is the recall half-life of a word with zero strength.
	// Each unit of strength adds another BaseHalfLife.
	BaseHalfLife time.Duration `json:"base_half_life" yaml:"base_half_life"`

	// MaxStrength caps accumulated strength.
	MaxStrength float64 `json:"max_strength" yaml:"max_strength"`

	// SuccessThreshold is the minimum review quality counted as a successful recall.
	SuccessThreshold float64 `json:"success_threshold" yaml:"success_threshold"`

	// LapsePenalty scales how much of the strength a failed review removes.
	LapsePenalty float64 `json:"lapse_penalty" yaml:"lapse_penalty"`

	// MaxInterval caps the interval returned by ComputeInterval.
	MaxInterval time.Duration `json:"max_interval" yaml:"max_interval"`
}

// DefaultDecayConfig returns the default decay model configuration.
func DefaultDecayConfig() *DecayConfig {
	return &DecayConfig{
		BaseHalfLife:     24 * time.Hour,
		MaxStrength:      64,
		SuccessThreshold: 0.6,
		LapsePenalty:     0.5,
		MaxInterval:      365 * 24 * time.Hour,
	}
}

// DecayModel is the multi-factor decay model (MDM).
//
// Recall follows a half-life curve whose half-life grows with strength:
//
//	h      = BaseHalfLife × (1 + strength)
//	recall = 2^(−Δt / h)
//
// The model holds no per-word state; it is safe for concurrent use as long as
// each call gets its own MdmState.
type DecayModel struct {
	config *DecayConfig
}

// NewDecayModel creates a decay model. If config is nil, uses the default configuration.
func NewDecayModel(config *DecayConfig) *DecayModel {
	if config == nil {
		config = DefaultDecayConfig()
	}
	return &DecayModel{config: config}
}

// Config returns the model configuration.
func (m *DecayModel) Config() *DecayConfig {
	return m.config
}

// HalfLife returns the recall half-life implied by the state's strength.
func (m *DecayModel) HalfLife(state models.MdmState) time.Duration {
	base := m.config.BaseHalfLife
	if base <= 0 {
		base = DefaultDecayConfig().BaseHalfLife
	}
	return time.Duration(float64(base) * (1 + m.strength(state)))
}

// RecallProbability returns the modelled probability that the word is recalled at.
// A word that was never reviewed has recall 0. The result is non-increasing in the
// time elapsed since the last review.
func (m *DecayModel) RecallProbability(state models.MdmState, at time.Time) float64 {
	if !state.Reviewed() {
		return 0
	}
	elapsed := at.Sub(*state.LastReviewAt)
	if elapsed <= 0 {
		return 1
	}
	h := m.HalfLife(state)
	return models.Clamp01(math.Exp2(-float64(elapsed) / float64(h)))
}

// UpdateStrength applies a review with the given quality at time at.
//
// A successful review adds alpha × quality × (1 + spacing), where spacing is
// 1 − recall at the moment of review: reviewing a word just before it is
// forgotten strengthens it more than cramming. A failed review removes
// alpha × LapsePenalty × (1 − quality) of the current strength.
func (m *DecayModel) UpdateStrength(state *models.MdmState, quality, alpha float64, at time.Time) {
	quality = models.Clamp01(quality)
	alpha = models.ClampRange(alpha, 0, 1)

	s := m.strength(*state)
	if quality >= m.config.SuccessThreshold {
		spacing := 1 - m.RecallProbability(*state, at)
		s += alpha * quality * (1 + spacing)
	} else {
		s *= 1 - alpha*models.Clamp01(m.config.LapsePenalty)*(1-quality)
	}

	state.Strength = models.ClampRange(s, 0, m.maxStrength())
	reviewedAt := at
	state.LastReviewAt = &reviewedAt
	state.ReviewCount++
}

// ComputeInterval returns how long from now until predicted recall falls to
// targetRetention, multiplied by scale. The result is never negative and never
// exceeds MaxInterval. A never-reviewed word is treated as reviewed now.
func (m *DecayModel) ComputeInterval(state models.MdmState, targetRetention, scale float64, now time.Time) time.Duration {
	target := models.ClampRange(targetRetention, 0.01, 0.99)
	if math.IsNaN(scale) || scale <= 0 {
		scale = models.MinIntervalScale
	}

	h := float64(m.HalfLife(state))
	total := h * math.Log2(1/target) * scale

	var elapsed float64
	if state.Reviewed() {
		elapsed = float64(now.Sub(*state.LastReviewAt))
		if elapsed < 0 {
			elapsed = 0
		}
	}

	remaining := total - elapsed
	maxIvl := float64(m.config.MaxInterval)
	switch {
	case math.IsNaN(remaining), remaining <= 0:
		return 0
	case maxIvl > 0 && remaining > maxIvl:
		return m.config.MaxInterval
	case remaining >= math.MaxInt64:
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(remaining)
}

func (m *DecayModel) strength(state models.MdmState) float64 {
	if math.IsNaN(state.Strength) || state.Strength < 0 {
		return 0
	}
	return math.Min(state.Strength, m.maxStrength())
}

func (m *DecayModel) maxStrength() float64 {
	if m.config.MaxStrength <= 0 {
		return DefaultDecayConfig().MaxStrength
	}
	return m.config.MaxStrength
}
