// Package models contains domain models shared by the strategy engine.
package models

import "time"

// MdmState is the per-(user, word) record of the multi-factor decay model.
// Strength only grows under successful review; forgetting is implicit in the
// elapsed time since LastReviewAt.
type MdmState struct {
	LastReviewAt *time.Time `json:"last_review_at,omitempty"`
	Strength     float64    `json:"strength"`
	ReviewCount  uint32     `json:"review_count"`
}

// Reviewed reports whether the state has seen at least one review.
func (s MdmState) Reviewed() bool {
	return s.LastReviewAt != nil && !s.LastReviewAt.IsZero()
}

// EvmState is the per-(user, word) record of the encoding-variability model.
// DiversityScore is derived from ContextCount and is never set directly.
type EvmState struct {
	ContextCount   uint32  `json:"context_count"`
	DiversityScore float64 `json:"diversity_score"`
}

// MemoryState bundles both model records for one (user, word) pair.
type MemoryState struct {
	UserID string   `json:"user_id"`
	WordID string   `json:"word_id"`
	MDM    MdmState `json:"mdm"`
	EVM    EvmState `json:"evm"`
	// Version is the optimistic-concurrency token of the stored row.
	Version int64 `json:"version"`
}
