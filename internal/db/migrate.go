package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SchemaVersion is the on-disk version this code expects.
const SchemaVersion = 3

type schemaMeta struct {
	ID        uint `gorm:"primaryKey"`
	Version   int  `gorm:"not null"`
	UpdatedAt time.Time
}

func (schemaMeta) TableName() string { return "schema_meta" }

type settingsRecord struct {
	Key       string         `gorm:"column:record_key;primaryKey;size:191"`
	Value     datatypes.JSON `gorm:"not null"`
	UpdatedAt int64          `gorm:"not null"`
}

func (settingsRecord) TableName() string { return CollectionSettings }

type invoiceRecord struct {
	Key       string         `gorm:"column:record_key;primaryKey;size:191"`
	Value     datatypes.JSON `gorm:"not null"`
	UpdatedAt int64          `gorm:"not null"`
}

func (invoiceRecord) TableName() string { return CollectionInvoices }

type resourceRecord struct {
	Key       string         `gorm:"column:record_key;primaryKey;size:191"`
	Value     datatypes.JSON `gorm:"not null"`
	UpdatedAt int64          `gorm:"not null"`
}

func (resourceRecord) TableName() string { return CollectionResources }

type productRecord struct {
	Key       string         `gorm:"column:record_key;primaryKey;size:191"`
	Value     datatypes.JSON `gorm:"not null"`
	UpdatedAt int64          `gorm:"not null;index:idx_products_updated_at"`
}

func (productRecord) TableName() string { return CollectionProducts }

type clientRecord struct {
	Key       string         `gorm:"column:record_key;primaryKey;size:191"`
	Value     datatypes.JSON `gorm:"not null"`
	UpdatedAt int64          `gorm:"not null;index:idx_clients_updated_at"`
}

func (clientRecord) TableName() string { return CollectionClients }

// migration creates the collections introduced at Version.
type migration struct {
	Version int
	Models  []any
}

var migrations = []migration{
	{Version: 1, Models: []any{&settingsRecord{}, &invoiceRecord{}, &resourceRecord{}}},
	{Version: 2, Models: []any{&productRecord{}}},
	{Version: 3, Models: []any{&clientRecord{}}},
}

// Migrate brings the schema up to SchemaVersion. Steps only create missing
// tables; existing tables are never altered or dropped.
func Migrate(ctx context.Context, conn *gorm.DB) (from, to int, err error) {
	conn = conn.WithContext(ctx)
	if err := conn.AutoMigrate(&schemaMeta{}); err != nil {
		return 0, 0, fmt.Errorf("automigrate schema_meta: %w", err)
	}
	from, err = currentVersion(conn)
	if err != nil {
		return 0, 0, err
	}
	to = from
	for _, m := range migrations {
		if m.Version <= from {
			continue
		}
		for _, model := range m.Models {
			if conn.Migrator().HasTable(model) {
				continue
			}
			if err := conn.Migrator().CreateTable(model); err != nil {
				return from, to, fmt.Errorf("migration v%d create %T: %w", m.Version, model, err)
			}
		}
		if err := setVersion(conn, m.Version); err != nil {
			return from, to, err
		}
		to = m.Version
	}

	if to >= SchemaVersion {
		for _, table := range collections {
			if !conn.Migrator().HasTable(table) {
				return from, to, errors.New("missing table after migration: " + table)
			}
		}
	}
	return from, to, nil
}

func currentVersion(conn *gorm.DB) (int, error) {
	var meta schemaMeta
	res := conn.Limit(1).Find(&meta, 1)
	if res.Error != nil {
		return 0, fmt.Errorf("read schema version: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, nil
	}
	return meta.Version, nil
}

func setVersion(conn *gorm.DB, version int) error {
	meta := schemaMeta{ID: 1, Version: version}
	if err := conn.Save(&meta).Error; err != nil {
		return fmt.Errorf("write schema version %d: %w", version, err)
	}
	return nil
}
