package worker

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm/logger"

	"github.com/Heartcoolman/wordforge-sub001/internal/config"
	"github.com/Heartcoolman/wordforge-sub001/internal/db/gorm"
	"github.com/Heartcoolman/wordforge-sub001/internal/engine"
	"github.com/Heartcoolman/wordforge-sub001/pkg/models"
)

func testStore(t *testing.T) *gorm.Store {
	t.Helper()
	store, err := gorm.NewStore(gorm.Config{
		Driver:   gorm.DriverSQLite,
		DSN:      filepath.Join(t.TempDir(), "strategy.db"),
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.WorkerHost = "127.0.0.1"
	cfg.WorkerPort = 0
	return cfg
}

func decideBody(t *testing.T, userID, wordID string) []byte {
	t.Helper()
	body, err := json.Marshal(engine.Event{
		UserID: userID,
		WordID: wordID,
		User:   models.UserState{Attention: 0.8, Fatigue: 0.2, Motivation: 0.6, TotalEventCount: 40},
		Features: models.FeatureVector{
			Accuracy:      0.9,
			ResponseSpeed: 0.7,
			Quality:       0.8,
			Engagement:    0.7,
		},
	})
	require.NoError(t, err)
	return body
}

// ServiceSuite drives the HTTP surface against a SQLite-backed store.
type ServiceSuite struct {
	suite.Suite
	store *gorm.Store
	svc   *Service
}

func (s *ServiceSuite) SetupTest() {
	s.store = testStore(s.T())
	s.svc = NewService(testConfig(), s.store, "test-version", zerolog.Nop())
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) do(method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.svc.Handler().ServeHTTP(rr, req)
	return rr
}

func (s *ServiceSuite) TestHealth() {
	rr := s.do(http.MethodGet, "/health", nil)
	s.Require().Equal(http.StatusOK, rr.Code)
	s.Equal("DENY", rr.Header().Get("X-Frame-Options"))

	var resp healthResponse
	s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &resp))
	s.Equal("ok", resp.Status)
	s.Equal("test-version", resp.Version)
	s.Require().NotNil(resp.Database)
	s.Equal(gorm.DriverSQLite, resp.Database.Driver)
	s.False(resp.FlusherRunning)
}

func (s *ServiceSuite) TestDecide() {
	rr := s.do(http.MethodPost, "/api/decide", decideBody(s.T(), "u1", "apple"))
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())

	var d engine.Decision
	s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &d))
	s.NotEmpty(d.ID)
	s.Equal("u1", d.UserID)
	s.Equal("apple", d.WordID)
	s.False(d.Degraded)
	s.True(d.Params.Valid())
	s.Equal(uint32(1), d.Memory.MDM.ReviewCount)
	s.NotEmpty(d.Candidates)
	s.GreaterOrEqual(d.NextReviewIn, time.Duration(0))

	rr = s.do(http.MethodPost, "/api/decide", decideBody(s.T(), "u1", "apple"))
	s.Require().Equal(http.StatusOK, rr.Code)
	s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &d))
	s.Equal(uint32(2), d.Memory.MDM.ReviewCount)

	state, err := s.store.GetMemoryState(context.Background(), "u1", "apple")
	s.Require().NoError(err)
	s.Equal(uint32(2), state.MDM.ReviewCount)
}

func (s *ServiceSuite) TestDecide_RejectsBadRequests() {
	rr := s.do(http.MethodPost, "/api/decide", []byte("{not json"))
	s.Equal(http.StatusBadRequest, rr.Code)

	rr = s.do(http.MethodPost, "/api/decide", decideBody(s.T(), "", "apple"))
	s.Equal(http.StatusBadRequest, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/decide", bytes.NewReader(decideBody(s.T(), "u1", "apple")))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	s.svc.Handler().ServeHTTP(rec, req)
	s.Equal(http.StatusUnsupportedMediaType, rec.Code)

	rr = s.do(http.MethodGet, "/api/decide", nil)
	s.Equal(http.StatusMethodNotAllowed, rr.Code)
}

func (s *ServiceSuite) TestMetrics_Live() {
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/api/decide", decideBody(s.T(), "u1", "pear")).Code)

	rr := s.do(http.MethodGet, "/api/metrics", nil)
	s.Require().Equal(http.StatusOK, rr.Code)

	var resp metricsResponse
	s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &resp))
	s.Equal("live", resp.Source)
	s.Equal(s.svc.flusher.Today(), resp.Day)
	s.Equal(uint64(1), resp.Algorithms[models.AlgorithmHeuristic].CallCount)
	s.Equal(uint64(1), resp.Algorithms[models.AlgorithmEnsemble].CallCount)
}

func (s *ServiceSuite) TestMetrics_PersistedDay() {
	ctx := context.Background()
	s.Require().NoError(s.store.UpsertMetricsDaily(ctx, "2026-01-02", models.AlgorithmMDM,
		models.MetricsSnapshot{CallCount: 4, TotalLatencyUs: 40, ErrorCount: 1}))

	rr := s.do(http.MethodGet, "/api/metrics?day=2026-01-02", nil)
	s.Require().Equal(http.StatusOK, rr.Code)

	var resp metricsResponse
	s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &resp))
	s.Equal("persisted", resp.Source)
	got := resp.Algorithms[models.AlgorithmMDM]
	s.Equal(uint64(4), got.CallCount)
	s.Equal(uint64(1), got.ErrorCount)
	s.InDelta(10.0, got.AvgLatencyUs, 1e-9)
}

func (s *ServiceSuite) TestMetrics_BadDay() {
	rr := s.do(http.MethodGet, "/api/metrics?day=yesterday", nil)
	s.Equal(http.StatusBadRequest, rr.Code)
}

func (s *ServiceSuite) TestTrust() {
	rr := s.do(http.MethodGet, "/api/trust", nil)
	s.Require().Equal(http.StatusOK, rr.Code)

	var scores models.TrustScores
	s.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &scores))
}

func (s *ServiceSuite) TestRun_PersistsOnShutdown() {
	_ = s.svc.Engine().Process(context.Background(), engine.Event{UserID: "u1", WordID: "plum"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.svc.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(5 * time.Second):
		s.FailNow("Run did not return after cancellation")
	}

	persisted, err := s.store.ListMetricsDaily(context.Background(), s.svc.flusher.Today())
	s.Require().NoError(err)
	s.Equal(uint64(1), persisted[models.AlgorithmHeuristic].CallCount)
	s.Equal(uint64(1), persisted[models.AlgorithmEnsemble].CallCount)
}

func TestDecide_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.DecideRateLimit = 0.001
	cfg.DecideBurst = 1
	svc := NewService(cfg, testStore(t), "test", zerolog.Nop())

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/decide", bytes.NewReader(decideBody(t, "u1", "fig")))
		rr := httptest.NewRecorder()
		svc.Handler().ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}
