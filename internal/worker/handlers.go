package worker

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/Heartcoolman/wordforge-sub001/internal/db/gorm"
	"github.com/Heartcoolman/wordforge-sub001/internal/engine"
	"github.com/Heartcoolman/wordforge-sub001/internal/maintenance"
	"github.com/Heartcoolman/wordforge-sub001/pkg/models"
)

// writeJSON writes data as a JSON response with the given status.
func (s *Service) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (s *Service) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

type healthResponse struct {
	Database           *gorm.HealthInfo  `json:"database"`
	Status             string            `json:"status"`
	Version            string            `json:"version"`
	Uptime             string            `json:"uptime"`
	RateLimit          LimiterStats      `json:"rate_limit"`
	Maintenance        maintenance.Stats `json:"maintenance"`
	FlusherRunning     bool              `json:"flusher_running"`
	TrustSyncerRunning bool              `json:"trust_syncer_running"`
}

// handleHealth reports liveness. It answers 503 when the database is unreachable
// even though decisions are still served from memory.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:             "ok",
		Version:            s.version,
		Uptime:             time.Since(s.startTime).Round(time.Second).String(),
		RateLimit:          s.limiter.Stats(),
		Maintenance:        s.upkeep.Stats(),
		FlusherRunning:     s.flusher.Running(),
		TrustSyncerRunning: s.syncer.Running(),
	}

	status := http.StatusOK
	resp.Database = s.store.HealthCheck(r.Context())
	if resp.Database.Status == "unhealthy" {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

// handleDecide decides one answered word and returns the decision record.
func (s *Service) handleDecide(w http.ResponseWriter, r *http.Request) {
	var ev engine.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if ev.UserID == "" || ev.WordID == "" {
		s.writeError(w, http.StatusBadRequest, "user_id and word_id are required")
		return
	}

	s.writeJSON(w, http.StatusOK, s.engine.Process(r.Context(), ev))
}

type algorithmMetrics struct {
	models.MetricsSnapshot
	AvgLatencyUs float64 `json:"avg_latency_us"`
}

type metricsResponse struct {
	Algorithms map[models.AlgorithmID]algorithmMetrics `json:"algorithms"`
	Day        string                                  `json:"day"`
	Source     string                                  `json:"source"`
}

// handleMetrics returns per-algorithm counters. Today is served from the live
// registry; ?day=YYYY-MM-DD reads a persisted bucket.
func (s *Service) handleMetrics(w http.ResponseWriter, r *http.Request) {
	today := s.flusher.Rollover()
	day := r.URL.Query().Get("day")
	if day == "" {
		day = today
	}
	if _, err := time.Parse(models.DayLayout, day); err != nil {
		s.writeError(w, http.StatusBadRequest, "day must be YYYY-MM-DD")
		return
	}

	resp := metricsResponse{Day: day, Source: "live"}
	var snaps models.MetricsByAlgorithm
	if day == today {
		snaps = s.engine.MetricsSnapshot()
	} else {
		resp.Source = "persisted"
		var err error
		snaps, err = s.store.ListMetricsDaily(r.Context(), day)
		if err != nil {
			s.log.Error().Err(err).Str("day", day).Msg("failed to read metrics bucket")
			s.writeError(w, http.StatusInternalServerError, "metrics unavailable")
			return
		}
	}

	resp.Algorithms = make(map[models.AlgorithmID]algorithmMetrics, len(snaps))
	for id, snap := range snaps {
		resp.Algorithms[id] = algorithmMetrics{MetricsSnapshot: snap, AvgLatencyUs: snap.AvgLatencyUs()}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleTrust returns the current trust score of every observed algorithm.
func (s *Service) handleTrust(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.tracker.Scores())
}
