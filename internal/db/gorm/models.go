package gorm

import (
	"database/sql"
	"time"

	"github.com/Heartcoolman/wordforge-sub001/pkg/models"
)

// GORM Models

// MemoryStateRow stores the MDM and EVM records of one (user, word) pair.
// Version is bumped by every successful write.
type MemoryStateRow struct {
	UserID         string        `gorm:"primaryKey;size:128"`
	WordID         string        `gorm:"primaryKey;size:128"`
	LastReviewAt   sql.NullInt64 `gorm:"column:last_review_at_epoch"`
	Strength       float64       `gorm:"type:real;not null;default:0"`
	DiversityScore float64       `gorm:"type:real;not null;default:0"`
	Version        int64         `gorm:"not null;default:0"`
	UpdatedAtEpoch int64         `gorm:"not null;default:0"`
	ReviewCount    int64         `gorm:"not null;default:0"`
	ContextCount   int64         `gorm:"not null;default:0"`
}

func (MemoryStateRow) TableName() string { return "memory_states" }

func memoryStateFromRow(r *MemoryStateRow) models.MemoryState {
	state := models.MemoryState{
		UserID:  r.UserID,
		WordID:  r.WordID,
		Version: r.Version,
		MDM: models.MdmState{
			Strength:    r.Strength,
			ReviewCount: uint32(r.ReviewCount),
		},
		EVM: models.EvmState{
			ContextCount:   uint32(r.ContextCount),
			DiversityScore: r.DiversityScore,
		},
	}
	if r.LastReviewAt.Valid {
		at := time.UnixMilli(r.LastReviewAt.Int64).UTC()
		state.MDM.LastReviewAt = &at
	}
	return state
}

// memoryStateColumns returns the mutable columns of state for an update.
func memoryStateColumns(state models.MemoryState, version int64) map[string]any {
	lastReview := sql.NullInt64{}
	if state.MDM.Reviewed() {
		lastReview = sql.NullInt64{Int64: state.MDM.LastReviewAt.UnixMilli(), Valid: true}
	}
	return map[string]any{
		"last_review_at_epoch": lastReview,
		"strength":             state.MDM.Strength,
		"review_count":         int64(state.MDM.ReviewCount),
		"context_count":        int64(state.EVM.ContextCount),
		"diversity_score":      state.EVM.DiversityScore,
		"version":              version,
		"updated_at_epoch":     time.Now().UnixMilli(),
	}
}

// MetricsDaily is one (day, algorithm) counter bucket. Payload is the
// JSON-encoded models.MetricsSnapshot. Version is bumped by every write.
type MetricsDaily struct {
	Day            string `gorm:"primaryKey;size:10"`
	Algorithm      string `gorm:"primaryKey;size:64"`
	Payload        string `gorm:"type:text;not null"`
	Version        int64  `gorm:"not null;default:0"`
	UpdatedAtEpoch int64  `gorm:"not null;default:0"`
}

func (MetricsDaily) TableName() string { return "metrics_daily" }

// TrustScore is the persisted trust of one algorithm.
type TrustScore struct {
	Algorithm      string  `gorm:"primaryKey;size:64"`
	Score          float64 `gorm:"type:real;not null"`
	UpdatedAtEpoch int64   `gorm:"not null;default:0"`
}

func (TrustScore) TableName() string { return "trust_scores" }
