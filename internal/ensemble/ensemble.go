// Package ensemble blends candidate strategies from several algorithms into one decision.
package ensemble

import (
	"errors"
	"math"

	"github.com/Heartcoolman/wordforge-sub001/pkg/models"
)

// ErrEmptyCandidateSet is returned by Combine when there is nothing to blend.
var ErrEmptyCandidateSet = errors.New("empty candidate set")

// Generator is the single capability every algorithm provides.
type Generator interface {
	ID() models.AlgorithmID
	Generate(user models.UserState, fv models.FeatureVector) (models.StrategyCandidate, error)
}

// Ensemble computes maturity-gated, trust-adjusted weights and blends candidates.
type Ensemble struct {
	config *models.EnsembleConfig
}

// New creates an ensemble. If config is nil, uses the default configuration.
func New(config *models.EnsembleConfig) *Ensemble {
	if config == nil {
		config = models.DefaultEnsembleConfig()
	}
	return &Ensemble{config: config}
}

// Config returns the ensemble configuration.
func (e *Ensemble) Config() *models.EnsembleConfig {
	return e.config
}

// Maturity returns the share of the weight driven by trust for a user with
// totalEvents events:
//
//	m = TrustBlend × E / (E + MaturityEvents)
//
// It is 0 for a new user and approaches TrustBlend as events accumulate.
func (e *Ensemble) Maturity(totalEvents uint64) float64 {
	blend := models.Clamp01(e.config.TrustBlend)
	half := e.config.MaturityEvents
	if math.IsNaN(half) || half < 0 {
		half = 0
	}
	ev := float64(totalEvents)
	if ev+half == 0 {
		return 0
	}
	return models.Clamp01(blend * ev / (ev + half))
}

// Weights returns a weight per algorithm in algorithms (or the configured
// algorithms when none are given). Weights are non-negative and sum to 1.
//
//	w_i = (1 − m)/n + m × t_i / Σt
//
// Algorithms missing from trust use DefaultTrust; trust entries for other
// algorithms are ignored. When every usable trust is zero the trust term
// falls back to the uniform prior.
func (e *Ensemble) Weights(totalEvents uint64, trust models.TrustScores, algorithms []models.AlgorithmID) map[models.AlgorithmID]float64 {
	ids := dedupe(algorithms)
	if len(ids) == 0 {
		ids = dedupe(e.config.Algorithms)
	}
	weights := make(map[models.AlgorithmID]float64, len(ids))
	if len(ids) == 0 {
		return weights
	}

	n := float64(len(ids))
	defaultTrust := e.config.DefaultTrust
	if math.IsNaN(defaultTrust) || math.IsInf(defaultTrust, 0) {
		defaultTrust = models.DefaultTrustValue
	}
	defaultTrust = models.Clamp01(defaultTrust)

	trustOf := make(map[models.AlgorithmID]float64, len(ids))
	var trustSum float64
	for _, id := range ids {
		t, ok := trust.Get(id)
		if !ok {
			t = defaultTrust
		}
		trustOf[id] = t
		trustSum += t
	}

	m := e.Maturity(totalEvents)
	var total float64
	for _, id := range ids {
		share := 1 / n
		if trustSum > 0 {
			share = trustOf[id] / trustSum
		}
		w := (1-m)/n + m*share
		weights[id] = w
		total += w
	}

	// renormalise so the sum is exactly 1 within float tolerance
	for id, w := range weights {
		weights[id] = w / total
	}
	return weights
}

// PriorWeights returns the cold-start prior: equal weight per algorithm.
func PriorWeights(algorithms []models.AlgorithmID) map[models.AlgorithmID]float64 {
	ids := dedupe(algorithms)
	weights := make(map[models.AlgorithmID]float64, len(ids))
	for _, id := range ids {
		weights[id] = 1 / float64(len(ids))
	}
	return weights
}

// Combine blends candidates using weights. Candidates with no weight get 0;
// if no candidate has positive weight they are averaged uniformly. The result
// is clamped into the StrategyParams invariants.
// With no candidates it returns the default strategy and ErrEmptyCandidateSet.
func Combine(candidates []models.StrategyCandidate, weights map[models.AlgorithmID]float64) (models.StrategyParams, error) {
	if len(candidates) == 0 {
		return models.DefaultStrategyParams(), ErrEmptyCandidateSet
	}

	ws := make([]float64, len(candidates))
	var total float64
	for i, c := range candidates {
		w := weights[c.Algorithm]
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			w = 0
		}
		ws[i] = w
		total += w
	}
	if total == 0 {
		for i := range ws {
			ws[i] = 1
		}
		total = float64(len(ws))
	}

	var difficulty, newRatio, batch, intervalScale float64
	for i, c := range candidates {
		p := c.Params.Clamp()
		w := ws[i] / total
		difficulty += w * p.Difficulty
		newRatio += w * p.NewRatio
		batch += w * float64(p.BatchSize)
		intervalScale += w * p.IntervalScale
	}

	out := models.StrategyParams{
		Difficulty:    difficulty,
		NewRatio:      newRatio,
		BatchSize:     int(math.Round(batch)),
		IntervalScale: intervalScale,
	}
	return out.Clamp(), nil
}

// Algorithms returns the algorithm ids of candidates in order, without duplicates.
func Algorithms(candidates []models.StrategyCandidate) []models.AlgorithmID {
	ids := make([]models.AlgorithmID, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.Algorithm)
	}
	return dedupe(ids)
}

func dedupe(ids []models.AlgorithmID) []models.AlgorithmID {
	seen := make(map[models.AlgorithmID]struct{}, len(ids))
	out := make([]models.AlgorithmID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
