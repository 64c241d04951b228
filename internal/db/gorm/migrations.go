package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: per-word memory model state
		{
			ID: "001_memory_states",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&MemoryStateRow{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("memory_states")
			},
		},

		// Migration 002: daily algorithm metrics buckets
		{
			ID: "002_metrics_daily",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&MetricsDaily{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("metrics_daily")
			},
		},

		// Migration 003: algorithm trust
		{
			ID: "003_trust_scores",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&TrustScore{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("trust_scores")
			},
		},

		// Migration 004: lookups of a user's words by recency
		{
			ID: "004_memory_states_user_updated_idx",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec("CREATE INDEX IF NOT EXISTS idx_memory_states_user_updated ON memory_states (user_id, updated_at_epoch DESC)").Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("DROP INDEX IF EXISTS idx_memory_states_user_updated").Error
			},
		},

		// Migration 005: optimistic versioning of metrics buckets
		{
			ID: "005_metrics_daily_version",
			Migrate: func(tx *gorm.DB) error {
				if tx.Migrator().HasColumn(&MetricsDaily{}, "Version") {
					return nil
				}
				return tx.Migrator().AddColumn(&MetricsDaily{}, "Version")
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropColumn(&MetricsDaily{}, "Version")
			},
		},
	})

	return m.Migrate()
}
