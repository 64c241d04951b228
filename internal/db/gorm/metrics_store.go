package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Heartcoolman/wordforge-sub001/pkg/models"
)

func decodeSnapshot(row *MetricsDaily) (models.MetricsSnapshot, error) {
	var snap models.MetricsSnapshot
	if err := json.Unmarshal([]byte(row.Payload), &snap); err != nil {
		return models.MetricsSnapshot{}, fmt.Errorf("decode metrics %s/%s: %w: %v", row.Day, row.Algorithm, ErrSerialization, err)
	}
	return snap, nil
}

// GetMetricsDaily returns the bucket of (day, id). A missing bucket yields
// found=false; an undecodable one wraps ErrSerialization.
func (s *Store) GetMetricsDaily(ctx context.Context, day string, id models.AlgorithmID) (models.MetricsSnapshot, bool, error) {
	var row MetricsDaily
	err := s.DB.WithContext(ctx).
		Where("day = ? AND algorithm = ?", day, string(id)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.MetricsSnapshot{}, false, nil
	}
	if err != nil {
		return models.MetricsSnapshot{}, false, fmt.Errorf("get metrics %s/%s: %w", day, id, err)
	}

	snap, err := decodeSnapshot(&row)
	if err != nil {
		return models.MetricsSnapshot{}, false, err
	}
	return snap, true, nil
}

func encodeSnapshot(day string, id models.AlgorithmID, snap models.MetricsSnapshot) (string, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode metrics %s/%s: %w", day, id, err)
	}
	return string(payload), nil
}

// UpsertMetricsDaily replaces the bucket of (day, id) with snap.
func (s *Store) UpsertMetricsDaily(ctx context.Context, day string, id models.AlgorithmID, snap models.MetricsSnapshot) error {
	payload, err := encodeSnapshot(day, id, snap)
	if err != nil {
		return err
	}

	row := MetricsDaily{
		Day:            day,
		Algorithm:      string(id),
		Payload:        payload,
		Version:        1,
		UpdatedAtEpoch: time.Now().UnixMilli(),
	}
	err = s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "day"}, {Name: "algorithm"}},
			DoUpdates: clause.Assignments(map[string]any{
				"payload":          payload,
				"version":          gorm.Expr("metrics_daily.version + 1"),
				"updated_at_epoch": row.UpdatedAtEpoch,
			}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert metrics %s/%s: %w", day, id, err)
	}
	return nil
}

// MergeMetricsDaily adds delta to the bucket of (day, id). Concurrent
// mergers, in this process or another one sharing the database, never
// overwrite each other. An undecodable bucket is replaced as if it were empty.
func (s *Store) MergeMetricsDaily(ctx context.Context, day string, id models.AlgorithmID, delta models.MetricsSnapshot) error {
	return s.updateMetricsDaily(ctx, day, id, func(cur models.MetricsSnapshot) models.MetricsSnapshot {
		return cur.Add(delta)
	})
}

// updateMetricsDaily writes fn(current) if the bucket was not written in
// between, retrying up to MaxCASAttempts times.
func (s *Store) updateMetricsDaily(ctx context.Context, day string, id models.AlgorithmID, fn func(models.MetricsSnapshot) models.MetricsSnapshot) error {
	for attempt := 1; attempt <= MaxCASAttempts; attempt++ {
		var row MetricsDaily
		err := s.DB.WithContext(ctx).
			Where("day = ? AND algorithm = ?", day, string(id)).
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			payload, err := encodeSnapshot(day, id, fn(models.MetricsSnapshot{}))
			if err != nil {
				return err
			}
			res := s.DB.WithContext(ctx).
				Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "day"}, {Name: "algorithm"}},
					DoNothing: true,
				}).
				Create(&MetricsDaily{
					Day:            day,
					Algorithm:      string(id),
					Payload:        payload,
					Version:        1,
					UpdatedAtEpoch: time.Now().UnixMilli(),
				})
			if res.Error != nil {
				return fmt.Errorf("create metrics %s/%s: %w", day, id, res.Error)
			}
			if res.RowsAffected == 1 {
				return nil
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("get metrics %s/%s: %w", day, id, err)
		}

		current, err := decodeSnapshot(&row)
		if err != nil {
			log.Warn().Err(err).Msg("Unreadable metrics bucket treated as empty")
			current = models.MetricsSnapshot{}
		}
		payload, err := encodeSnapshot(day, id, fn(current))
		if err != nil {
			return err
		}
		res := s.DB.WithContext(ctx).
			Model(&MetricsDaily{}).
			Where("day = ? AND algorithm = ? AND version = ?", day, string(id), row.Version).
			Updates(map[string]any{
				"payload":          payload,
				"version":          row.Version + 1,
				"updated_at_epoch": time.Now().UnixMilli(),
			})
		if res.Error != nil {
			return fmt.Errorf("update metrics %s/%s: %w", day, id, res.Error)
		}
		if res.RowsAffected == 1 {
			return nil
		}
	}
	return fmt.Errorf("merge metrics %s/%s after %d attempts: %w", day, id, MaxCASAttempts, ErrContentionExhausted)
}

// ListMetricsDaily returns every decodable bucket of day. Undecodable rows
// are logged and skipped.
func (s *Store) ListMetricsDaily(ctx context.Context, day string) (models.MetricsByAlgorithm, error) {
	var rows []MetricsDaily
	if err := s.DB.WithContext(ctx).
		Where("day = ?", day).
		Order("algorithm").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list metrics %s: %w", day, err)
	}

	out := make(models.MetricsByAlgorithm, len(rows))
	for i := range rows {
		snap, err := decodeSnapshot(&rows[i])
		if err != nil {
			log.Warn().Err(err).Msg("Skipping unreadable metrics bucket")
			continue
		}
		out[models.AlgorithmID(rows[i].Algorithm)] = snap
	}
	return out, nil
}

// ListMetricsDays returns the most recent days that have buckets, newest first.
func (s *Store) ListMetricsDays(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 30
	}
	var days []string
	if err := s.DB.WithContext(ctx).
		Model(&MetricsDaily{}).
		Distinct().
		Order("day DESC").
		Limit(limit).
		Pluck("day", &days).Error; err != nil {
		return nil, fmt.Errorf("list metrics days: %w", err)
	}
	return days, nil
}

// DeleteMetricsBefore removes every bucket older than day and returns the
// number of rows deleted.
func (s *Store) DeleteMetricsBefore(ctx context.Context, day string) (int64, error) {
	result := s.DB.WithContext(ctx).
		Where("day < ?", day).
		Delete(&MetricsDaily{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete metrics before %s: %w", day, result.Error)
	}
	return result.RowsAffected, nil
}
