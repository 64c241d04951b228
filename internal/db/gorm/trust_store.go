package gorm

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Heartcoolman/wordforge-sub001/pkg/models"
)

// LoadTrustScores returns every persisted trust score.
func (s *Store) LoadTrustScores(ctx context.Context) (models.TrustScores, error) {
	var rows []TrustScore
	if err := s.DB.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load trust scores: %w", err)
	}

	scores := make(models.TrustScores, len(rows))
	for _, r := range rows {
		scores[models.AlgorithmID(r.Algorithm)] = r.Score
	}
	return scores, nil
}

// SaveTrustScores upserts all scores in one transaction. Algorithms absent
// from scores keep their stored value.
func (s *Store) SaveTrustScores(ctx context.Context, scores models.TrustScores) error {
	if len(scores) == 0 {
		return nil
	}

	now := time.Now().UnixMilli()
	rows := make([]TrustScore, 0, len(scores))
	for id := range scores {
		v, ok := scores.Get(id)
		if !ok {
			continue
		}
		rows = append(rows, TrustScore{Algorithm: string(id), Score: v, UpdatedAtEpoch: now})
	}
	if len(rows) == 0 {
		return nil
	}

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "algorithm"}},
			DoUpdates: clause.AssignmentColumns([]string{"score", "updated_at_epoch"}),
		}).Create(&rows).Error; err != nil {
			return fmt.Errorf("save trust scores: %w", err)
		}
		return nil
	})
}
