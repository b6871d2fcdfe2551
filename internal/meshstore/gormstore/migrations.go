package gormstore

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// meshConnection is the GORM model backing the mesh_connections table from
// the rest of the system expects.
type meshConnection struct {
	FromPrefix         string   `gorm:"primaryKey;column:from_prefix"`
	ToPrefix           string   `gorm:"primaryKey;column:to_prefix"`
	FromPublicKey      *string  `gorm:"column:from_public_key"`
	ToPublicKey        *string  `gorm:"column:to_public_key"`
	ObservationCount   int      `gorm:"column:observation_count;not null;default:1"`
	FirstSeen          string   `gorm:"column:first_seen;not null"`
	LastSeen           string   `gorm:"column:last_seen;not null;index:idx_mesh_connections_last_seen"`
	AvgHopPosition     *float64 `gorm:"column:avg_hop_position"`
	GeographicDistance *float64 `gorm:"column:geographic_distance"`
}

func (meshConnection) TableName() string { return "mesh_connections" }

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "001_mesh_connections",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&meshConnection{}); err != nil {
					return err
				}
				sqls := []string{
					`CREATE INDEX IF NOT EXISTS idx_mesh_connections_from ON mesh_connections(from_prefix)`,
					`CREATE INDEX IF NOT EXISTS idx_mesh_connections_to ON mesh_connections(to_prefix)`,
				}
				for _, s := range sqls {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("mesh_connections")
			},
		},
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("run gormigrate migrations: %w", err)
	}
	return nil
}
