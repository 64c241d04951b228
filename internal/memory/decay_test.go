package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/Heartcoolman/wordforge-sub001/pkg/models"
)

// DecayModelSuite is a test suite for the DecayModel.
type DecayModelSuite struct {
	suite.Suite
	model *DecayModel
	now   time.Time
}

func (s *DecayModelSuite) SetupTest() {
	s.model = NewDecayModel(nil)
	s.now = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
}

func TestDecayModelSuite(t *testing.T) {
	suite.Run(t, new(DecayModelSuite))
}

func (s *DecayModelSuite) reviewedAt(strength float64, at time.Time) models.MdmState {
	return models.MdmState{Strength: strength, LastReviewAt: &at, ReviewCount: 1}
}

func (s *DecayModelSuite) TestRecallProbability_NeverReviewed() {
	s.Equal(0.0, s.model.RecallProbability(models.MdmState{}, s.now))
}

func (s *DecayModelSuite) TestRecallProbability_AtReviewIsOne() {
	state := s.reviewedAt(3, s.now)
	s.Equal(1.0, s.model.RecallProbability(state, s.now))
	s.Equal(1.0, s.model.RecallProbability(state, s.now.Add(-time.Hour)))
}

func (s *DecayModelSuite) TestRecallProbability_HalfLife() {
	// strength 0 => half-life equals the base half-life (24h)
	state := s.reviewedAt(0, s.now)
	s.InDelta(0.5, s.model.RecallProbability(state, s.now.Add(24*time.Hour)), 1e-9)
	s.InDelta(0.25, s.model.RecallProbability(state, s.now.Add(48*time.Hour)), 1e-9)

	// strength 1 doubles the half-life
	state = s.reviewedAt(1, s.now)
	s.InDelta(0.5, s.model.RecallProbability(state, s.now.Add(48*time.Hour)), 1e-9)
}

func (s *DecayModelSuite) TestRecallProbability_NonIncreasingInElapsedTime() {
	for _, strength := range []float64{0, 0.3, 1, 5, 20, 64, 1000} {
		state := s.reviewedAt(strength, s.now)
		prev := 1.0
		for delta := time.Duration(0); delta <= 400*24*time.Hour; delta += 7 * time.Hour {
			r := s.model.RecallProbability(state, s.now.Add(delta))
			s.GreaterOrEqual(r, 0.0)
			s.LessOrEqual(r, 1.0)
			s.LessOrEqual(r, prev, "strength=%v delta=%v", strength, delta)
			prev = r
		}
	}
}

func (s *DecayModelSuite) TestUpdateStrength_SuccessIsNonDecreasing() {
	state := models.MdmState{}
	at := s.now
	prev := state.Strength
	for i := 0; i < 50; i++ {
		s.model.UpdateStrength(&state, 0.9, 0.3, at)
		s.GreaterOrEqual(state.Strength, prev)
		prev = state.Strength
		at = at.Add(36 * time.Hour)
	}
	s.LessOrEqual(state.Strength, s.model.Config().MaxStrength)
	s.Equal(uint32(50), state.ReviewCount)
	s.Require().NotNil(state.LastReviewAt)
	s.True(state.LastReviewAt.Equal(at.Add(-36 * time.Hour)))
}

func (s *DecayModelSuite) TestUpdateStrength_WellTimedReviewGainsMore() {
	early := s.reviewedAt(1, s.now)
	late := s.reviewedAt(1, s.now)

	s.model.UpdateStrength(&early, 1, 0.5, s.now.Add(time.Hour))
	s.model.UpdateStrength(&late, 1, 0.5, s.now.Add(10*24*time.Hour))

	s.Greater(late.Strength, early.Strength)
}

func (s *DecayModelSuite) TestUpdateStrength_FailureShrinks() {
	state := s.reviewedAt(4, s.now)
	s.model.UpdateStrength(&state, 0.1, 0.5, s.now.Add(time.Hour))
	s.Less(state.Strength, 4.0)
	s.GreaterOrEqual(state.Strength, 0.0)
}

func (s *DecayModelSuite) TestUpdateStrength_ClampsInputs() {
	state := models.MdmState{Strength: -3}
	s.model.UpdateStrength(&state, 7, 9, s.now)
	s.GreaterOrEqual(state.Strength, 0.0)
	s.LessOrEqual(state.Strength, s.model.Config().MaxStrength)
}

func (s *DecayModelSuite) TestComputeInterval_MatchesTargetRetention() {
	state := s.reviewedAt(2, s.now)
	ivl := s.model.ComputeInterval(state, 0.9, 1, s.now)
	s.Greater(ivl, time.Duration(0))

	r := s.model.RecallProbability(state, s.now.Add(ivl))
	s.InDelta(0.9, r, 1e-6)
}

func (s *DecayModelSuite) TestComputeInterval_AccountsForElapsedTime() {
	state := s.reviewedAt(2, s.now)
	fresh := s.model.ComputeInterval(state, 0.8, 1, s.now)
	later := s.model.ComputeInterval(state, 0.8, 1, s.now.Add(12*time.Hour))
	s.InDelta(float64(fresh-12*time.Hour), float64(later), float64(time.Millisecond))

	overdue := s.model.ComputeInterval(state, 0.8, 1, s.now.Add(365*24*time.Hour))
	s.Equal(time.Duration(0), overdue)
}

func (s *DecayModelSuite) TestComputeInterval_NeverNegative() {
	states := []models.MdmState{
		{},
		{Strength: -5},
		s.reviewedAt(0, s.now),
		s.reviewedAt(10, s.now.Add(-1000*24*time.Hour)),
		s.reviewedAt(64, s.now.Add(24*time.Hour)),
	}
	targets := []float64{-1, 0, 0.01, 0.5, 0.9, 0.99, 1, 2}
	scales := []float64{-1, 0, 0.1, 1, 3, 1e9}
	for _, st := range states {
		for _, target := range targets {
			for _, scale := range scales {
				ivl := s.model.ComputeInterval(st, target, scale, s.now)
				s.GreaterOrEqual(ivl, time.Duration(0))
				s.LessOrEqual(ivl, s.model.Config().MaxInterval)
			}
		}
	}
}

func (s *DecayModelSuite) TestComputeInterval_NeverReviewedIsPositive() {
	ivl := s.model.ComputeInterval(models.MdmState{}, 0.9, 1, s.now)
	s.Greater(ivl, time.Duration(0))
}

func (s *DecayModelSuite) TestComputeInterval_ScaleStretches() {
	state := s.reviewedAt(1, s.now)
	base := s.model.ComputeInterval(state, 0.9, 1, s.now)
	double := s.model.ComputeInterval(state, 0.9, 2, s.now)
	s.InDelta(float64(2*base), float64(double), float64(time.Millisecond))
}
