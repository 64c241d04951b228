// Package trust tracks how far each algorithm's predictions can be trusted.
package trust

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Heartcoolman/wordforge-sub001/pkg/models"
)

// UpdateRule computes the next trust of an algorithm after one observation.
type UpdateRule interface {
	Update(current, predicted, actual float64) float64
}

// EMARule moves trust toward the agreement 1-|predicted-actual| by
// LearningRate per observation.
type EMARule struct {
	LearningRate float64
}

// Update implements UpdateRule.
func (r EMARule) Update(current, predicted, actual float64) float64 {
	rate := models.Clamp01(r.LearningRate)
	agreement := 1 - math.Abs(models.Clamp01(predicted)-models.Clamp01(actual))
	return models.Clamp01(current + rate*(agreement-current))
}

// Config holds trust tracking settings.
type Config struct {
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	InitialTrust float64 `json:"initial_trust" yaml:"initial_trust"`
}

// DefaultConfig returns the default trust configuration.
func DefaultConfig() *Config {
	return &Config{
		LearningRate: 0.05,
		InitialTrust: models.DefaultTrustValue,
	}
}

// Store persists trust scores.
type Store interface {
	LoadTrustScores(ctx context.Context) (models.TrustScores, error)
	SaveTrustScores(ctx context.Context, scores models.TrustScores) error
}

// Tracker holds the current trust scores. It is safe for concurrent use.
type Tracker struct {
	log          zerolog.Logger
	rule         UpdateRule
	scores       models.TrustScores
	initial      float64
	version      uint64
	savedVersion uint64
	mu           sync.RWMutex
}

// NewTracker creates a tracker applying rule. If rule is nil an EMARule
// with the configured learning rate is used. If config is nil, uses defaults.
func NewTracker(config *Config, rule UpdateRule, log zerolog.Logger) *Tracker {
	if config == nil {
		config = DefaultConfig()
	}
	if rule == nil {
		rule = EMARule{LearningRate: config.LearningRate}
	}
	initial := config.InitialTrust
	if math.IsNaN(initial) || math.IsInf(initial, 0) {
		initial = models.DefaultTrustValue
	}
	return &Tracker{
		log:     log.With().Str("component", "trust").Logger(),
		rule:    rule,
		scores:  make(models.TrustScores),
		initial: models.Clamp01(initial),
	}
}

// Scores returns a copy of the current trust scores.
func (t *Tracker) Scores() models.TrustScores {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.scores.Clone()
}

// Observe applies one prediction/outcome pair to the trust of id and returns
// the new trust. Non-finite inputs are ignored.
func (t *Tracker) Observe(id models.AlgorithmID, predicted, actual float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, ok := t.scores.Get(id)
	if !ok {
		current = t.initial
	}
	if !finite(predicted) || !finite(actual) {
		return current
	}

	next := t.rule.Update(current, predicted, actual)
	if !finite(next) {
		t.log.Warn().Str("algorithm", string(id)).Msg("update rule produced non-finite trust, ignored")
		return current
	}
	next = models.Clamp01(next)
	t.scores[id] = next
	t.version++
	return next
}

// Replace overwrites the scores for every algorithm present in scores.
func (t *Tracker) Replace(scores models.TrustScores) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range scores {
		if v, ok := scores.Get(id); ok {
			t.scores[id] = v
		}
	}
}

// Dirty reports whether observations arrived since the last successful save.
func (t *Tracker) Dirty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version != t.savedVersion
}

// Load replaces the in-memory scores with the persisted ones.
func (t *Tracker) Load(ctx context.Context, store Store) error {
	scores, err := store.LoadTrustScores(ctx)
	if err != nil {
		return fmt.Errorf("load trust scores: %w", err)
	}
	t.Replace(scores)
	t.log.Info().Int("algorithms", len(scores)).Msg("loaded trust scores")
	return nil
}

// Save persists the scores if they changed since the previous save.
func (t *Tracker) Save(ctx context.Context, store Store) error {
	t.mu.RLock()
	version := t.version
	if version == t.savedVersion {
		t.mu.RUnlock()
		return nil
	}
	scores := t.scores.Clone()
	t.mu.RUnlock()

	if err := store.SaveTrustScores(ctx, scores); err != nil {
		return fmt.Errorf("save trust scores: %w", err)
	}

	t.mu.Lock()
	if version > t.savedVersion {
		t.savedVersion = version
	}
	t.mu.Unlock()
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
