package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Heartcoolman/wordforge-sub001/pkg/models"
)

// GetMemoryState returns the state of (userID, wordID), creating a zero row
// on first access.
func (s *Store) GetMemoryState(ctx context.Context, userID, wordID string) (models.MemoryState, error) {
	row, err := s.loadOrCreateRow(ctx, userID, wordID)
	if err != nil {
		return models.MemoryState{}, err
	}
	return memoryStateFromRow(row), nil
}

func (s *Store) loadOrCreateRow(ctx context.Context, userID, wordID string) (*MemoryStateRow, error) {
	var row MemoryStateRow
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND word_id = ?", userID, wordID).
		First(&row).Error
	if err == nil {
		return &row, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get memory state %s/%s: %w", userID, wordID, err)
	}

	// Insert the zero row; a concurrent creator wins silently
	fresh := MemoryStateRow{UserID: userID, WordID: wordID, UpdatedAtEpoch: time.Now().UnixMilli()}
	if err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "word_id"}},
			DoNothing: true,
		}).
		Create(&fresh).Error; err != nil {
		return nil, fmt.Errorf("create memory state %s/%s: %w", userID, wordID, err)
	}

	row = MemoryStateRow{}
	if err := s.DB.WithContext(ctx).
		Where("user_id = ? AND word_id = ?", userID, wordID).
		First(&row).Error; err != nil {
		return nil, fmt.Errorf("reload memory state %s/%s: %w", userID, wordID, err)
	}
	return &row, nil
}

// UpdateMemoryState applies fn to the current state and writes the result if
// nobody else wrote the row in between. fn may run several times and must
// only depend on the state it is given. After MaxCASAttempts lost races the
// last read state is returned together with ErrContentionExhausted.
func (s *Store) UpdateMemoryState(ctx context.Context, userID, wordID string, fn func(*models.MemoryState) error) (models.MemoryState, error) {
	var last models.MemoryState
	for attempt := 1; attempt <= MaxCASAttempts; attempt++ {
		current, err := s.GetMemoryState(ctx, userID, wordID)
		if err != nil {
			return models.MemoryState{}, err
		}
		last = current

		next := current
		if current.MDM.LastReviewAt != nil {
			at := *current.MDM.LastReviewAt
			next.MDM.LastReviewAt = &at
		}
		if err := fn(&next); err != nil {
			return current, err
		}
		next.UserID, next.WordID = userID, wordID

		version := current.Version + 1
		res := s.DB.WithContext(ctx).
			Model(&MemoryStateRow{}).
			Where("user_id = ? AND word_id = ? AND version = ?", userID, wordID, current.Version).
			Updates(memoryStateColumns(next, version))
		if res.Error != nil {
			return current, fmt.Errorf("update memory state %s/%s: %w", userID, wordID, res.Error)
		}
		if res.RowsAffected == 1 {
			next.Version = version
			return next, nil
		}
	}
	return last, fmt.Errorf("update memory state %s/%s after %d attempts: %w", userID, wordID, MaxCASAttempts, ErrContentionExhausted)
}

// PutMemoryState overwrites the model records of state.
func (s *Store) PutMemoryState(ctx context.Context, state models.MemoryState) error {
	_, err := s.UpdateMemoryState(ctx, state.UserID, state.WordID, func(cur *models.MemoryState) error {
		cur.MDM = state.MDM
		cur.EVM = state.EVM
		return nil
	})
	return err
}
