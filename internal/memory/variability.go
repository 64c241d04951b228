package memory

import (
	"math"

	"github.com/Heartcoolman/wordforge-sub001/pkg/models"
)

// VariabilityConfig contains the parameters of the encoding-variability model.
type VariabilityConfig struct {
	// DiversityRate is the saturation rate of diversity = 1 − e^(−rate × contexts).
	DiversityRate float64 `json:"diversity_rate" yaml:"diversity_rate"`
	// BonusScale scales the logarithmic context bonus.
	BonusScale float64 `json:"bonus_scale" yaml:"bonus_scale"`
	// BonusCap is the ceiling of the context diversity bonus.
	BonusCap float64 `json:"bonus_cap" yaml:"bonus_cap"`
}

// DefaultVariabilityConfig returns the default encoding-variability configuration.
func DefaultVariabilityConfig() *VariabilityConfig {
	return &VariabilityConfig{
		DiversityRate: 0.5,
		BonusScale:    0.15,
		BonusCap:      0.3,
	}
}

// VariabilityModel is the encoding-variability model (EVM): words met in more
// distinct contexts are retained longer, up to a ceiling.
type VariabilityModel struct {
	config *VariabilityConfig
}

// NewVariabilityModel creates the model. If config is nil, uses the default configuration.
func NewVariabilityModel(config *VariabilityConfig) *VariabilityModel {
	if config == nil {
		config = DefaultVariabilityConfig()
	}
	return &VariabilityModel{config: config}
}

// Config returns the model configuration.
func (m *VariabilityModel) Config() *VariabilityConfig {
	return m.config
}

// RecordContext registers a study event. ContextCount only grows for a new
// context; DiversityScore is always recomputed from it.
func (m *VariabilityModel) RecordContext(state *models.EvmState, isNewContext bool) {
	if isNewContext && state.ContextCount < math.MaxUint32 {
		state.ContextCount++
	}
	state.DiversityScore = m.Diversity(state.ContextCount)
}

// Diversity returns the saturating diversity score for n contexts.
func (m *VariabilityModel) Diversity(n uint32) float64 {
	rate := m.config.DiversityRate
	if rate <= 0 {
		rate = DefaultVariabilityConfig().DiversityRate
	}
	return models.Clamp01(1 - math.Exp(-rate*float64(n)))
}

// ContextDiversityBonus returns scale × ln(1 + n) × diversity, capped at BonusCap.
// Diversity is recomputed from the context count rather than trusted from storage.
func (m *VariabilityModel) ContextDiversityBonus(state models.EvmState) float64 {
	if state.ContextCount == 0 {
		return 0
	}
	bonus := m.config.BonusScale * math.Log1p(float64(state.ContextCount)) * m.Diversity(state.ContextCount)
	return models.ClampRange(bonus, 0, math.Max(m.config.BonusCap, 0))
}

// IntervalModifier returns the multiplicative interval adjustment, never below 1.
func (m *VariabilityModel) IntervalModifier(state models.EvmState) float64 {
	return 1 + m.ContextDiversityBonus(state)
}
