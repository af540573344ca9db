package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RemoteDocument is one row of the remote_documents table.
type RemoteDocument struct {
	Path       string         `gorm:"primaryKey;column:path"`
	OwnerID    string         `gorm:"column:owner_id;not null;index:idx_remote_documents_owner,priority:1"`
	Collection string         `gorm:"column:collection;not null;index:idx_remote_documents_owner,priority:2"`
	Data       datatypes.JSON `gorm:"column:data;not null"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;not null"`
}

func (RemoteDocument) TableName() string { return "remote_documents" }

// SQLOptions configures a SQLStore.
type SQLOptions struct {
	// AutoMigrate creates the table through gorm. Postgres deployments use the
	// embedded SQL migrations instead.
	AutoMigrate bool
	Now         func() time.Time
}

// SQLStore keeps documents as JSON rows in a SQL database.
type SQLStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSQLStore(conn *gorm.DB, opts SQLOptions) (*SQLStore, error) {
	if opts.AutoMigrate {
		if err := conn.AutoMigrate(&RemoteDocument{}); err != nil {
			return nil, fmt.Errorf("migrate remote documents: %w", err)
		}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &SQLStore{db: conn, now: now}, nil
}

func (s *SQLStore) Merge(ctx context.Context, path string, data map[string]any) error {
	return s.MergeBatch(ctx, []Write{{Path: path, Data: data}})
}

func (s *SQLStore) MergeBatch(ctx context.Context, writes []Write) error {
	if len(writes) > MaxBatch {
		return fmt.Errorf("batch of %d writes exceeds %d", len(writes), MaxBatch)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, w := range writes {
			if err := s.merge(tx, w); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) merge(tx *gorm.DB, w Write) error {
	owner, collection, err := splitPath(w.Path)
	if err != nil {
		return fmt.Errorf("%w: %s", err, w.Path)
	}
	now := s.now().UTC()

	doc := map[string]any{}
	var existing RemoteDocument
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err = q.Where("path = ?", w.Path).Take(&existing).Error
	switch {
	case err == nil:
		if len(existing.Data) > 0 {
			if err := json.Unmarshal(existing.Data, &doc); err != nil {
				return fmt.Errorf("decode %s: %w", w.Path, err)
			}
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return fmt.Errorf("load %s: %w", w.Path, err)
	}

	for k, v := range w.Data {
		if _, ok := v.(serverTimestamp); ok {
			v = now
		}
		doc[k] = v
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", w.Path, err)
	}
	row := RemoteDocument{Path: w.Path, OwnerID: owner, Collection: collection, Data: datatypes.JSON(raw), UpdatedAt: now}
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("write %s: %w", w.Path, err)
	}
	return nil
}

// Get returns the decoded document at path.
func (s *SQLStore) Get(ctx context.Context, path string) (map[string]any, bool, error) {
	var row RemoteDocument
	err := s.db.WithContext(ctx).Where("path = ?", path).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", path, err)
	}
	doc := map[string]any{}
	if err := json.Unmarshal(row.Data, &doc); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, true, nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
