// Package heuristic turns behavioural signals into a candidate study strategy.
package heuristic

import (
	"math"

	"github.com/Heartcoolman/wordforge-sub001/pkg/models"
)

// Config contains the coefficients of the heuristic mapping.
// None of these values are part of any external contract; only the output
// ranges and the direction of each tendency are.
type Config struct {
	// Readiness = AttentionWeight×attention + RestWeight×(1−fatigue) + MotivationWeight×motivation01
	AttentionWeight  float64 `json:"attention_weight" yaml:"attention_weight"`
	RestWeight       float64 `json:"rest_weight" yaml:"rest_weight"`
	MotivationWeight float64 `json:"motivation_weight" yaml:"motivation_weight"`

	// Performance = AccuracyWeight×accuracy + SpeedWeight×speed + QualityWeight×quality − HintWeight×hints
	AccuracyWeight float64 `json:"accuracy_weight" yaml:"accuracy_weight"`
	SpeedWeight    float64 `json:"speed_weight" yaml:"speed_weight"`
	QualityWeight  float64 `json:"quality_weight" yaml:"quality_weight"`
	HintWeight     float64 `json:"hint_weight" yaml:"hint_weight"`

	// MinDifficulty and MaxDifficulty bound the difficulty output.
	MinDifficulty float64 `json:"min_difficulty" yaml:"min_difficulty"`
	MaxDifficulty float64 `json:"max_difficulty" yaml:"max_difficulty"`

	// BaseNewRatio is the new-word ratio of an average learner.
	BaseNewRatio float64 `json:"base_new_ratio" yaml:"base_new_ratio"`

	// MinBatchSize and MaxBatchSize bound the batch size output.
	MinBatchSize int `json:"min_batch_size" yaml:"min_batch_size"`
	MaxBatchSize int `json:"max_batch_size" yaml:"max_batch_size"`

	// LongSessionEvents is the session length after which batches start shrinking.
	LongSessionEvents uint64 `json:"long_session_events" yaml:"long_session_events"`
}

// DefaultConfig returns the default heuristic configuration.
func DefaultConfig() *Config {
	return &Config{
		AttentionWeight:   0.4,
		RestWeight:        0.3,
		MotivationWeight:  0.3,
		AccuracyWeight:    0.5,
		SpeedWeight:       0.25,
		QualityWeight:     0.25,
		HintWeight:        0.3,
		MinDifficulty:     0.1,
		MaxDifficulty:     0.9,
		BaseNewRatio:      0.3,
		MinBatchSize:      5,
		MaxBatchSize:      20,
		LongSessionEvents: 60,
	}
}

// Generator is the rule-based candidate generator.
type Generator struct {
	config *Config
}

// NewGenerator creates a generator. If config is nil, uses the default configuration.
func NewGenerator(config *Config) *Generator {
	if config == nil {
		config = DefaultConfig()
	}
	return &Generator{config: config}
}

// ID implements ensemble.Generator.
func (g *Generator) ID() models.AlgorithmID { return models.AlgorithmHeuristic }

// Config returns the generator configuration.
func (g *Generator) Config() *Config {
	return g.config
}

// Generate implements ensemble.Generator. It is pure and total: inputs are
// clamped into their domains first, so the output always satisfies the
// StrategyParams invariants.
//
// Tendencies:
//   - fatigue up, attention down: lower difficulty, smaller batch
//   - accuracy and speed up: higher difficulty, more new words
//   - quitting: minimum batch
func (g *Generator) Generate(user models.UserState, fv models.FeatureVector) (models.StrategyCandidate, error) {
	c := g.config
	user = user.Clamped()
	fv = fv.Clamped()

	readiness := models.Clamp01(weightedMean(
		[]float64{c.AttentionWeight, c.RestWeight, c.MotivationWeight},
		[]float64{user.Attention, 1 - user.Fatigue, (user.Motivation + 1) / 2},
	))
	performance := models.Clamp01(weightedMean(
		[]float64{c.AccuracyWeight, c.SpeedWeight, c.QualityWeight},
		[]float64{fv.Accuracy, fv.ResponseSpeed, fv.Quality},
	) - c.HintWeight*fv.HintPenalty)

	minD, maxD := orderedUnit(c.MinDifficulty, c.MaxDifficulty)
	difficulty := minD + (maxD-minD)*(0.6*performance+0.4*readiness)

	newRatio := c.BaseNewRatio * (0.5 + performance) * (0.5 + 0.5*readiness + 0.5*fv.Engagement)

	minB, maxB := g.batchBounds()
	batch := float64(minB) + float64(maxB-minB)*readiness*(0.5+0.5*fv.Engagement)
	if c.LongSessionEvents > 0 && fv.SessionEventCount > c.LongSessionEvents {
		batch *= float64(c.LongSessionEvents) / float64(fv.SessionEventCount)
	}
	batchSize := int(math.Round(batch))
	if fv.IsQuit || batchSize < minB {
		batchSize = minB
	}

	intervalScale := 0.6 + 0.8*performance

	params := models.StrategyParams{
		Difficulty:    difficulty,
		NewRatio:      newRatio,
		BatchSize:     batchSize,
		IntervalScale: intervalScale,
	}
	return models.StrategyCandidate{Algorithm: g.ID(), Params: params.Clamp()}, nil
}

func (g *Generator) batchBounds() (int, int) {
	minB, maxB := g.config.MinBatchSize, g.config.MaxBatchSize
	if minB < 1 {
		minB = 1
	}
	if maxB < minB {
		maxB = minB
	}
	return minB, maxB
}

// weightedMean returns Σw·v / Σw over non-negative weights; 0 when all weights are zero.
func weightedMean(weights, values []float64) float64 {
	var sum, total float64
	for i, w := range weights {
		if math.IsNaN(w) || w <= 0 {
			continue
		}
		sum += w * values[i]
		total += w
	}
	if total == 0 {
		return 0
	}
	return sum / total
}

func orderedUnit(lo, hi float64) (float64, float64) {
	lo, hi = models.Clamp01(lo), models.Clamp01(hi)
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi
}
