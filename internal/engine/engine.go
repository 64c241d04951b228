// Package engine produces a study strategy for every learning event.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Heartcoolman/wordforge-sub001/internal/ensemble"
	"github.com/Heartcoolman/wordforge-sub001/internal/heuristic"
	"github.com/Heartcoolman/wordforge-sub001/internal/memory"
	"github.com/Heartcoolman/wordforge-sub001/internal/metrics"
	"github.com/Heartcoolman/wordforge-sub001/internal/trust"
	"github.com/Heartcoolman/wordforge-sub001/pkg/models"
)

// ErrGeneratorPanic wraps a panic recovered from a candidate generator.
var ErrGeneratorPanic = errors.New("generator panicked")

// StateStore is the persistence the engine needs for per-word memory state.
type StateStore interface {
	UpdateMemoryState(ctx context.Context, userID, wordID string, fn func(*models.MemoryState) error) (models.MemoryState, error)
}

// RecallPredictor is implemented by generators whose candidate rests on a
// recall prediction that can be checked against the observed quality.
type RecallPredictor interface {
	PredictRecall() (float64, bool)
}

// Config holds engine settings.
type Config struct {
	// Alpha is the learning rate of memory strength updates.
	Alpha float64 `json:"alpha" yaml:"alpha"`

	// TargetRetention is the recall probability at which a word is due again.
	TargetRetention float64 `json:"target_retention" yaml:"target_retention"`

	// NewContextGap is the pause after which an answer counts as a new study context.
	NewContextGap time.Duration `json:"new_context_gap" yaml:"new_context_gap"`

	Ensemble    *models.EnsembleConfig    `json:"ensemble" yaml:"ensemble"`
	Heuristic   *heuristic.Config         `json:"heuristic" yaml:"heuristic"`
	Decay       *memory.DecayConfig       `json:"decay" yaml:"decay"`
	Variability *memory.VariabilityConfig `json:"variability" yaml:"variability"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		Alpha:           0.3,
		TargetRetention: 0.9,
		NewContextGap:   30 * time.Minute,
		Ensemble:        models.DefaultEnsembleConfig(),
		Heuristic:       heuristic.DefaultConfig(),
		Decay:           memory.DefaultDecayConfig(),
		Variability:     memory.DefaultVariabilityConfig(),
	}
}

// Event is one answered word.
type Event struct {
	UserID   string               `json:"user_id"`
	WordID   string               `json:"word_id"`
	User     models.UserState     `json:"user_state"`
	Features models.FeatureVector `json:"features"`
}

// Decision is the outcome of one event.
type Decision struct {
	DecidedAt    time.Time                      `json:"decided_at"`
	Weights      map[models.AlgorithmID]float64 `json:"weights"`
	ID           string                         `json:"id"`
	UserID       string                         `json:"user_id"`
	WordID       string                         `json:"word_id"`
	Candidates   []models.StrategyCandidate     `json:"candidates"`
	Params       models.StrategyParams          `json:"params"`
	Memory       models.MemoryState             `json:"memory"`
	NextReviewIn time.Duration                  `json:"next_review_in_ns"`
	Degraded     bool                           `json:"degraded"`
}

// Engine blends heuristic and memory-informed candidates into one strategy.
// It is safe for concurrent use.
type Engine struct {
	log         zerolog.Logger
	store       StateStore
	registry    *metrics.Registry
	trust       *trust.Tracker
	config      *Config
	ensemble    *ensemble.Ensemble
	heuristic   *heuristic.Generator
	decay       *memory.DecayModel
	variability *memory.VariabilityModel
	now         func() time.Time
	extra       []ensemble.Generator
	mu          sync.RWMutex
}

// New creates an engine. registry is required and should be the single
// process-wide instance; tracker may be nil to disable trust adaptation.
// If config is nil, uses the default configuration.
func New(store StateStore, registry *metrics.Registry, tracker *trust.Tracker, config *Config, log zerolog.Logger) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{
		log:         log.With().Str("component", "engine").Logger(),
		store:       store,
		registry:    registry,
		trust:       tracker,
		config:      config,
		ensemble:    ensemble.New(config.Ensemble),
		heuristic:   heuristic.NewGenerator(config.Heuristic),
		decay:       memory.NewDecayModel(config.Decay),
		variability: memory.NewVariabilityModel(config.Variability),
		now:         time.Now,
	}
}

// AddGenerator registers an additional candidate generator that does not
// depend on per-word memory state.
func (e *Engine) AddGenerator(g ensemble.Generator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.extra = append(e.extra, g)
}

// Decide returns the strategy for one event. It never fails; internal errors
// degrade to the default strategy and are logged.
func (e *Engine) Decide(ctx context.Context, userID, wordID string, user models.UserState, fv models.FeatureVector) models.StrategyParams {
	return e.Process(ctx, Event{UserID: userID, WordID: wordID, User: user, Features: fv}).Params
}

// MetricsSnapshot returns the per-algorithm totals of the current day.
func (e *Engine) MetricsSnapshot() models.MetricsByAlgorithm {
	return e.registry.Snapshot()
}

// Process decides one event and returns the full decision record.
func (e *Engine) Process(ctx context.Context, ev Event) Decision {
	now := e.now()
	log := e.log.With().Str("user_id", ev.UserID).Str("word_id", ev.WordID).Logger()

	user, fv := ev.User, ev.Features
	if err := user.Validate(); err != nil {
		log.Debug().Err(err).Msg("clamping user state")
		user = user.Clamped()
	}
	if err := fv.Validate(); err != nil {
		log.Debug().Err(err).Msg("clamping feature vector")
		fv = fv.Clamped()
	}

	before, after, stored := e.updateMemory(ctx, log, ev.UserID, ev.WordID, fv, now)

	decision := Decision{
		ID:        uuid.NewString(),
		UserID:    ev.UserID,
		WordID:    ev.WordID,
		DecidedAt: now,
		Memory:    after,
		Degraded:  !stored,
	}

	generators := []ensemble.Generator{
		e.heuristic,
		memory.NewDecayCandidate(e.decay, before.MDM, now),
		memory.NewVariabilityCandidate(e.variability, before.EVM),
	}
	e.mu.RLock()
	generators = append(generators, e.extra...)
	e.mu.RUnlock()

	candidates := make([]models.StrategyCandidate, 0, len(generators))
	for _, g := range generators {
		c, err := e.generate(g, user, fv)
		if err != nil {
			log.Warn().Err(err).Str("algorithm", string(g.ID())).Msg("candidate generator failed")
			continue
		}
		candidates = append(candidates, c)
	}
	decision.Candidates = candidates

	algs := ensemble.Algorithms(candidates)
	if len(candidates) < e.ensemble.Config().MinCandidates {
		decision.Weights = ensemble.PriorWeights(algs)
	} else {
		var scores models.TrustScores
		if e.trust != nil {
			scores = e.trust.Scores()
		}
		decision.Weights = e.ensemble.Weights(user.TotalEventCount, scores, algs)
	}

	start := time.Now()
	params, err := ensemble.Combine(candidates, decision.Weights)
	e.registry.Record(models.AlgorithmEnsemble, time.Since(start), err != nil)
	if err != nil {
		log.Error().Err(err).Msg("ensemble produced no strategy, using default")
		decision.Degraded = true
	}
	decision.Params = params

	if e.trust != nil {
		e.observeTrust(generators, fv.Quality)
	}

	scale := params.IntervalScale * e.variability.IntervalModifier(after.EVM)
	decision.NextReviewIn = e.decay.ComputeInterval(after.MDM, e.config.TargetRetention, scale, now)

	log.Debug().
		Str("decision_id", decision.ID).
		Float64("difficulty", params.Difficulty).
		Float64("new_ratio", params.NewRatio).
		Int("batch_size", params.BatchSize).
		Float64("interval_scale", params.IntervalScale).
		Dur("next_review_in", decision.NextReviewIn).
		Int("candidates", len(candidates)).
		Msg("decided")
	return decision
}

// updateMemory applies the review to the stored state. It returns the state
// the review was applied to, the resulting state and whether it was persisted.
// On failure the review is applied to the last known state in memory only.
func (e *Engine) updateMemory(ctx context.Context, log zerolog.Logger, userID, wordID string, fv models.FeatureVector, now time.Time) (models.MemoryState, models.MemoryState, bool) {
	var before models.MemoryState
	apply := func(st *models.MemoryState) error {
		before = cloneState(*st)
		e.decay.UpdateStrength(&st.MDM, fv.Quality, e.config.Alpha, now)
		e.variability.RecordContext(&st.EVM, e.isNewContext(*st, fv))
		return nil
	}

	if e.store == nil {
		state := models.MemoryState{UserID: userID, WordID: wordID}
		_ = apply(&state)
		return before, state, false
	}

	after, err := e.store.UpdateMemoryState(ctx, userID, wordID, apply)
	if err == nil {
		return before, after, true
	}

	log.Error().Err(err).Msg("memory state not persisted, deciding from in-memory copy")
	state := cloneState(after)
	state.UserID, state.WordID = userID, wordID
	_ = apply(&state)
	return before, state, false
}

// isNewContext reports whether the answer starts a new study context: the
// first exposure of the word, or one after a pause of at least NewContextGap.
func (e *Engine) isNewContext(st models.MemoryState, fv models.FeatureVector) bool {
	if st.EVM.ContextCount == 0 {
		return true
	}
	gap := e.config.NewContextGap
	if gap <= 0 {
		return false
	}
	return fv.TimeSinceLastEventSecs >= gap.Seconds()
}

func (e *Engine) generate(g ensemble.Generator, user models.UserState, fv models.FeatureVector) (c models.StrategyCandidate, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrGeneratorPanic, r)
		}
		e.registry.Record(g.ID(), time.Since(start), err != nil)
	}()

	c, err = g.Generate(user, fv)
	if err != nil {
		return c, err
	}
	c.Algorithm = g.ID()
	return c, nil
}

// observeTrust scores every recall prediction against the answer quality.
func (e *Engine) observeTrust(generators []ensemble.Generator, quality float64) {
	for _, g := range generators {
		p, ok := g.(RecallPredictor)
		if !ok {
			continue
		}
		if predicted, ok := p.PredictRecall(); ok {
			e.trust.Observe(g.ID(), predicted, quality)
		}
	}
}

func cloneState(st models.MemoryState) models.MemoryState {
	if st.MDM.LastReviewAt != nil {
		at := *st.MDM.LastReviewAt
		st.MDM.LastReviewAt = &at
	}
	return st
}
