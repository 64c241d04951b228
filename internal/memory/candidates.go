package memory

import (
	"math"
	"time"

	"github.com/Heartcoolman/wordforge-sub001/pkg/models"
)

// DecayCandidate proposes a strategy from the word's current recall probability.
// It is bound to one MdmState snapshot and is built per decision.
type DecayCandidate struct {
	model  *DecayModel
	state  models.MdmState
	recall float64
}

// NewDecayCandidate binds the decay model to a state snapshot evaluated at now.
func NewDecayCandidate(model *DecayModel, state models.MdmState, now time.Time) *DecayCandidate {
	return &DecayCandidate{
		model:  model,
		state:  state,
		recall: model.RecallProbability(state, now),
	}
}

// ID implements ensemble.Generator.
func (c *DecayCandidate) ID() models.AlgorithmID { return models.AlgorithmMDM }

// Generate implements ensemble.Generator. Well-retained words push towards
// harder material, more new words and longer spacing; fading words pull back.
// An unreviewed word yields the neutral strategy.
func (c *DecayCandidate) Generate(user models.UserState, _ models.FeatureVector) (models.StrategyCandidate, error) {
	params := models.DefaultStrategyParams()
	if c.state.Reviewed() {
		r := c.recall
		params = models.StrategyParams{
			Difficulty:    0.2 + 0.6*r,
			NewRatio:      0.1 + 0.4*r,
			BatchSize:     int(math.Round(6 + 8*r)),
			IntervalScale: 0.5 + r,
		}
	}
	// tired learners get a lighter batch regardless of memory state
	if f := models.Clamp01(user.Fatigue); f > 0.7 {
		params.BatchSize = int(math.Round(float64(params.BatchSize) * (1.7 - f)))
	}
	return models.StrategyCandidate{Algorithm: c.ID(), Params: params.Clamp()}, nil
}

// PredictRecall returns the recall probability the candidate was based on.
// The second value is false when the word had never been reviewed.
func (c *DecayCandidate) PredictRecall() (float64, bool) {
	return c.recall, c.state.Reviewed()
}

// VariabilityCandidate proposes a strategy from the word's context diversity.
type VariabilityCandidate struct {
	model *VariabilityModel
	state models.EvmState
}

// NewVariabilityCandidate binds the variability model to a state snapshot.
func NewVariabilityCandidate(model *VariabilityModel, state models.EvmState) *VariabilityCandidate {
	return &VariabilityCandidate{model: model, state: state}
}

// ID implements ensemble.Generator.
func (c *VariabilityCandidate) ID() models.AlgorithmID { return models.AlgorithmEVM }

// Generate implements ensemble.Generator. Diverse encoding stretches intervals
// and leaves room for new material.
func (c *VariabilityCandidate) Generate(_ models.UserState, _ models.FeatureVector) (models.StrategyCandidate, error) {
	bonus := c.model.ContextDiversityBonus(c.state)
	params := models.DefaultStrategyParams()
	params.Difficulty += bonus / 2
	params.NewRatio += bonus / 2
	params.IntervalScale = c.model.IntervalModifier(c.state)
	return models.StrategyCandidate{Algorithm: c.ID(), Params: params.Clamp()}, nil
}
