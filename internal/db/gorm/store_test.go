package gorm

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm/logger"

	"github.com/Heartcoolman/wordforge-sub001/pkg/models"
)

// StoreSuite runs the store against a fresh SQLite file per test.
type StoreSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
}

func (s *StoreSuite) SetupTest() {
	store, err := NewStore(Config{
		Driver:   DriverSQLite,
		DSN:      filepath.Join(s.T().TempDir(), "strategy.db"),
		LogLevel: logger.Silent,
	})
	s.Require().NoError(err)
	s.store = store
	s.ctx = context.Background()
}

func (s *StoreSuite) TearDownTest() {
	if s.store != nil {
		s.NoError(s.store.Close())
	}
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) TestMigrationsCreateTables() {
	for _, table := range []string{"memory_states", "metrics_daily", "trust_scores"} {
		s.True(s.store.DB.Migrator().HasTable(table), table)
	}
	s.Require().NoError(runMigrations(s.store.DB), "migrations are idempotent")
}

func (s *StoreSuite) TestGetMemoryState_CreatesOnMiss() {
	state, err := s.store.GetMemoryState(s.ctx, "u1", "apple")
	s.Require().NoError(err)

	s.Equal("u1", state.UserID)
	s.Equal("apple", state.WordID)
	s.False(state.MDM.Reviewed())
	s.Zero(state.MDM.Strength)
	s.Zero(state.Version)

	again, err := s.store.GetMemoryState(s.ctx, "u1", "apple")
	s.Require().NoError(err)
	s.Equal(state, again)
}

func (s *StoreSuite) TestUpdateMemoryState_RoundTrip() {
	reviewed := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	updated, err := s.store.UpdateMemoryState(s.ctx, "u1", "pear", func(st *models.MemoryState) error {
		st.MDM.Strength = 2.5
		st.MDM.ReviewCount = 3
		st.MDM.LastReviewAt = &reviewed
		st.EVM.ContextCount = 4
		st.EVM.DiversityScore = 0.86
		return nil
	})
	s.Require().NoError(err)
	s.Equal(int64(1), updated.Version)

	got, err := s.store.GetMemoryState(s.ctx, "u1", "pear")
	s.Require().NoError(err)
	s.Equal(updated, got)
	s.Require().NotNil(got.MDM.LastReviewAt)
	s.True(reviewed.Equal(*got.MDM.LastReviewAt))
}

func (s *StoreSuite) TestUpdateMemoryState_FnErrorLeavesRowUntouched() {
	boom := errors.New("boom")
	_, err := s.store.UpdateMemoryState(s.ctx, "u1", "fig", func(st *models.MemoryState) error {
		st.MDM.Strength = 9
		return boom
	})
	s.ErrorIs(err, boom)

	got, err := s.store.GetMemoryState(s.ctx, "u1", "fig")
	s.Require().NoError(err)
	s.Zero(got.MDM.Strength)
	s.Zero(got.Version)
}

func (s *StoreSuite) TestUpdateMemoryState_ContentionExhausted() {
	calls := 0
	last, err := s.store.UpdateMemoryState(s.ctx, "u1", "kiwi", func(st *models.MemoryState) error {
		calls++
		// a competing writer lands between every read and write
		competing := models.MemoryState{UserID: "u1", WordID: "kiwi", EVM: models.EvmState{ContextCount: uint32(calls)}}
		s.Require().NoError(s.store.PutMemoryState(s.ctx, competing))
		st.MDM.Strength = 1
		return nil
	})

	s.ErrorIs(err, ErrContentionExhausted)
	s.Equal(MaxCASAttempts, calls)
	s.Equal("kiwi", last.WordID)

	got, err := s.store.GetMemoryState(s.ctx, "u1", "kiwi")
	s.Require().NoError(err)
	s.Zero(got.MDM.Strength, "losing update was never written")
	s.Equal(int64(MaxCASAttempts), got.Version)
}

func (s *StoreSuite) TestUpdateMemoryState_ConcurrentIncrements() {
	const (
		workers   = 4
		perWorker = 15
	)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := s.store.UpdateMemoryState(s.ctx, "u2", "grape", func(st *models.MemoryState) error {
					st.MDM.ReviewCount++
					return nil
				})
				if err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				} else {
					s.ErrorIs(err, ErrContentionExhausted)
				}
			}
		}()
	}
	wg.Wait()

	got, err := s.store.GetMemoryState(s.ctx, "u2", "grape")
	s.Require().NoError(err)
	s.Equal(uint32(successes), got.MDM.ReviewCount, "no update is lost or applied twice")
	s.Equal(int64(successes), got.Version)
}

func (s *StoreSuite) TestMetricsDaily_UpsertAndGet() {
	_, found, err := s.store.GetMetricsDaily(s.ctx, "2026-05-01", models.AlgorithmMDM)
	s.Require().NoError(err)
	s.False(found)

	snap := models.MetricsSnapshot{CallCount: 5, TotalLatencyUs: 500, ErrorCount: 1}
	s.Require().NoError(s.store.UpsertMetricsDaily(s.ctx, "2026-05-01", models.AlgorithmMDM, snap))
	got, found, err := s.store.GetMetricsDaily(s.ctx, "2026-05-01", models.AlgorithmMDM)
	s.Require().NoError(err)
	s.True(found)
	s.Equal(snap, got)

	snap.CallCount = 10
	s.Require().NoError(s.store.UpsertMetricsDaily(s.ctx, "2026-05-01", models.AlgorithmMDM, snap))
	got, _, err = s.store.GetMetricsDaily(s.ctx, "2026-05-01", models.AlgorithmMDM)
	s.Require().NoError(err)
	s.Equal(uint64(10), got.CallCount)
}

func (s *StoreSuite) TestMetricsDaily_CorruptPayload() {
	s.Require().NoError(s.store.DB.Create(&MetricsDaily{Day: "2026-05-02", Algorithm: "mdm", Payload: "{not json"}).Error)
	s.Require().NoError(s.store.UpsertMetricsDaily(s.ctx, "2026-05-02", models.AlgorithmEVM, models.MetricsSnapshot{CallCount: 2}))

	_, found, err := s.store.GetMetricsDaily(s.ctx, "2026-05-02", models.AlgorithmMDM)
	s.ErrorIs(err, ErrSerialization)
	s.ErrorIs(err, models.ErrSerialization)
	s.False(found)

	all, err := s.store.ListMetricsDaily(s.ctx, "2026-05-02")
	s.Require().NoError(err)
	s.Equal(models.MetricsByAlgorithm{models.AlgorithmEVM: {CallCount: 2}}, all)
}

func (s *StoreSuite) TestMergeMetricsDaily_Accumulates() {
	delta := models.MetricsSnapshot{CallCount: 5, TotalLatencyUs: 50, ErrorCount: 1}
	s.Require().NoError(s.store.MergeMetricsDaily(s.ctx, "2026-05-03", models.AlgorithmEVM, delta))
	s.Require().NoError(s.store.MergeMetricsDaily(s.ctx, "2026-05-03", models.AlgorithmEVM, delta))

	got, found, err := s.store.GetMetricsDaily(s.ctx, "2026-05-03", models.AlgorithmEVM)
	s.Require().NoError(err)
	s.True(found)
	s.Equal(models.MetricsSnapshot{CallCount: 10, TotalLatencyUs: 100, ErrorCount: 2}, got)
}

func (s *StoreSuite) TestMergeMetricsDaily_InterleavedWriterIsKept() {
	tests := []struct {
		name    string
		initial uint64
	}{
		{name: "missing bucket", initial: 0},
		{name: "existing bucket", initial: 1},
	}
	for i, tt := range tests {
		s.Run(tt.name, func() {
			id := models.AlgorithmID(fmt.Sprintf("alg_%d", i))
			if tt.initial > 0 {
				s.Require().NoError(s.store.MergeMetricsDaily(s.ctx, "2026-05-04", id, models.MetricsSnapshot{CallCount: tt.initial}))
			}

			calls := 0
			err := s.store.updateMetricsDaily(s.ctx, "2026-05-04", id, func(cur models.MetricsSnapshot) models.MetricsSnapshot {
				calls++
				if calls == 1 {
					// another worker merges after this read
					s.Require().NoError(s.store.MergeMetricsDaily(s.ctx, "2026-05-04", id, models.MetricsSnapshot{CallCount: 5}))
				}
				return cur.Add(models.MetricsSnapshot{CallCount: 5})
			})
			s.Require().NoError(err)
			s.Equal(2, calls)

			got, _, err := s.store.GetMetricsDaily(s.ctx, "2026-05-04", id)
			s.Require().NoError(err)
			s.Equal(tt.initial+10, got.CallCount)
		})
	}
}

func (s *StoreSuite) TestMergeMetricsDaily_ContentionExhausted() {
	calls := 0
	err := s.store.updateMetricsDaily(s.ctx, "2026-05-05", models.AlgorithmMDM, func(cur models.MetricsSnapshot) models.MetricsSnapshot {
		calls++
		s.Require().NoError(s.store.MergeMetricsDaily(s.ctx, "2026-05-05", models.AlgorithmMDM, models.MetricsSnapshot{CallCount: 1}))
		return cur.Add(models.MetricsSnapshot{CallCount: 100})
	})

	s.ErrorIs(err, ErrContentionExhausted)
	s.Equal(MaxCASAttempts, calls)

	got, _, err := s.store.GetMetricsDaily(s.ctx, "2026-05-05", models.AlgorithmMDM)
	s.Require().NoError(err)
	s.Equal(uint64(MaxCASAttempts), got.CallCount, "losing merges were never written")
}

func (s *StoreSuite) TestMergeMetricsDaily_ReplacesCorruptBucket() {
	s.Require().NoError(s.store.DB.Create(&MetricsDaily{Day: "2026-05-06", Algorithm: "mdm", Payload: "{not json"}).Error)
	s.Require().NoError(s.store.MergeMetricsDaily(s.ctx, "2026-05-06", models.AlgorithmMDM, models.MetricsSnapshot{CallCount: 2}))

	got, found, err := s.store.GetMetricsDaily(s.ctx, "2026-05-06", models.AlgorithmMDM)
	s.Require().NoError(err)
	s.True(found)
	s.Equal(models.MetricsSnapshot{CallCount: 2}, got)
}

func (s *StoreSuite) TestMetricsDaily_ListByDay() {
	s.Require().NoError(s.store.UpsertMetricsDaily(s.ctx, "2026-05-01", models.AlgorithmMDM, models.MetricsSnapshot{CallCount: 1}))
	s.Require().NoError(s.store.UpsertMetricsDaily(s.ctx, "2026-05-02", models.AlgorithmMDM, models.MetricsSnapshot{CallCount: 2}))
	s.Require().NoError(s.store.UpsertMetricsDaily(s.ctx, "2026-05-02", models.AlgorithmHeuristic, models.MetricsSnapshot{CallCount: 3}))

	day2, err := s.store.ListMetricsDaily(s.ctx, "2026-05-02")
	s.Require().NoError(err)
	s.Len(day2, 2)
	s.Equal(uint64(3), day2[models.AlgorithmHeuristic].CallCount)

	empty, err := s.store.ListMetricsDaily(s.ctx, "2026-01-01")
	s.Require().NoError(err)
	s.Empty(empty)

	days, err := s.store.ListMetricsDays(s.ctx, 10)
	s.Require().NoError(err)
	s.Equal([]string{"2026-05-02", "2026-05-01"}, days)
}

func (s *StoreSuite) TestDeleteMetricsBefore() {
	for _, day := range []string{"2026-01-01", "2026-01-15", "2026-02-01"} {
		s.Require().NoError(s.store.UpsertMetricsDaily(s.ctx, day, models.AlgorithmMDM, models.MetricsSnapshot{CallCount: 1}))
	}

	deleted, err := s.store.DeleteMetricsBefore(s.ctx, "2026-01-15")
	s.Require().NoError(err)
	s.Equal(int64(1), deleted)

	days, err := s.store.ListMetricsDays(s.ctx, 10)
	s.Require().NoError(err)
	s.Equal([]string{"2026-02-01", "2026-01-15"}, days)
	s.NoError(s.store.Optimize(s.ctx))
}

func (s *StoreSuite) TestTrustScores_SaveAndLoad() {
	loaded, err := s.store.LoadTrustScores(s.ctx)
	s.Require().NoError(err)
	s.Empty(loaded)

	s.Require().NoError(s.store.SaveTrustScores(s.ctx, models.TrustScores{models.AlgorithmMDM: 0.7, models.AlgorithmEVM: 0.4}))
	s.Require().NoError(s.store.SaveTrustScores(s.ctx, models.TrustScores{models.AlgorithmMDM: 0.9}))

	loaded, err = s.store.LoadTrustScores(s.ctx)
	s.Require().NoError(err)
	s.Equal(models.TrustScores{models.AlgorithmMDM: 0.9, models.AlgorithmEVM: 0.4}, loaded)
}

func (s *StoreSuite) TestHealthCheck() {
	info := s.store.HealthCheck(s.ctx)
	s.NotEqual("unhealthy", info.Status)
	s.Equal(DriverSQLite, info.Driver)
	s.NoError(s.store.Ping(s.ctx))
}

func TestNewStore_UnsupportedDriver(t *testing.T) {
	_, err := NewStore(Config{Driver: "oracle", DSN: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}
