// Package db is the durable tier: a schema-versioned, collection-keyed JSON
// store on an embedded sqlite database.
package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Collections.
const (
	CollectionSettings  = "settings"
	CollectionInvoices  = "invoices"
	CollectionResources = "resources"
	CollectionProducts  = "products"
	CollectionClients   = "clients"
)

// SettingsKey is the fixed key of the settings record.
const SettingsKey = "v7"

// Resource keys.
const (
	ResourceLastCustomer   = "last_customer"
	ResourceProductHistory = "product_history"
	ResourceAuthSession    = "auth_session"
)

var collections = []string{CollectionSettings, CollectionInvoices, CollectionResources, CollectionProducts, CollectionClients}

// recency lists the collections ordered by last touch in GetAll.
var recency = map[string]bool{CollectionProducts: true, CollectionClients: true}

var (
	ErrUnavailable       = errors.New("durable store unavailable")
	ErrUnknownCollection = errors.New("unknown collection")
)

// Locker serializes migrations between processes sharing one database file.
type Locker interface {
	Lock(ctx context.Context, name string) (unlock func(), err error)
}

// Options configures a Store.
type Options struct {
	// DSN is a sqlite path or URI, e.g. "file:desk.db" or "file:t?mode=memory&cache=shared".
	DSN     string
	Debug   bool
	Tracing bool
	Locker  Locker
	Logger  *logrus.Entry
}

// Store opens lazily on first use. The first open outcome is kept for the
// process lifetime: a store that failed to open answers every read with
// "absent" and every write with ErrUnavailable.
type Store struct {
	opts  Options
	log   *logrus.Entry
	group singleflight.Group

	mu      sync.Mutex
	conn    *gorm.DB
	openErr error
	opened  bool
	opens   int

	last atomic.Int64
}

type record struct {
	Key       string         `gorm:"column:record_key"`
	Value     datatypes.JSON `gorm:"column:value"`
	UpdatedAt int64          `gorm:"column:updated_at"`
}

// New returns an unopened store.
func New(opts Options) *Store {
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	return &Store{opts: opts, log: log}
}

// Open establishes the connection and migrates the schema. Concurrent callers
// share one attempt.
func (s *Store) Open(ctx context.Context) (*gorm.DB, error) {
	if conn, ok, err := s.result(); ok {
		return conn, err
	}
	v, err, _ := s.group.Do("open", func() (any, error) {
		if conn, ok, err := s.result(); ok {
			return conn, err
		}
		conn, err := s.connect(ctx)
		if err != nil && ctx.Err() != nil {
			// cancelled by the caller, not a storage failure: let the next caller retry
			return nil, err
		}
		s.mu.Lock()
		s.conn, s.openErr, s.opened = conn, err, true
		s.opens++
		s.mu.Unlock()
		return conn, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*gorm.DB), nil
}

func (s *Store) result() (*gorm.DB, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn, s.opened, s.openErr
}

func (s *Store) connect(ctx context.Context) (*gorm.DB, error) {
	logLevel := logger.Silent
	if s.opts.Debug {
		logLevel = logger.Info
	}
	conn, err := gorm.Open(sqlite.Open(s.opts.DSN), &gorm.Config{Logger: logger.Default.LogMode(logLevel)})
	if err != nil {
		logging.LogError(s.log, "Open", "connect", s.opts.DSN, err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// sqlite allows one writer; a single connection serializes collection operations
	sqlDB.SetMaxOpenConns(1)

	if s.opts.Tracing {
		if err := conn.Use(otelgorm.NewPlugin()); err != nil {
			logging.LogWarn(s.log, "Open", "tracing plugin", err)
		}
	}
	if pingErr := conn.WithContext(ctx).Exec("SELECT 1").Error; pingErr != nil {
		logging.LogError(s.log, "Open", "ping", nil, pingErr)
		return nil, fmt.Errorf("%w: ping: %v", ErrUnavailable, pingErr)
	}

	if s.opts.Locker != nil {
		unlock, err := s.opts.Locker.Lock(ctx, "durable-migrate")
		if err != nil {
			logging.LogError(s.log, "Open", "migration lock", nil, err)
			return nil, fmt.Errorf("%w: migration lock: %v", ErrUnavailable, err)
		}
		defer unlock()
	}
	from, to, err := Migrate(ctx, conn)
	if err != nil {
		logging.LogError(s.log, "Open", "migrate", nil, err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if from > SchemaVersion {
		s.log.WithField("version", from).Warn("on-disk schema is newer than this build, using it as is")
	} else if from != to {
		s.log.WithFields(logrus.Fields{"from": from, "to": to}).Info("schema migrated")
	}
	return conn, nil
}

// Close releases the connection if one was opened.
func (s *Store) Close() error {
	conn, _, _ := s.result()
	if conn == nil {
		return nil
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Get decodes the value stored under key into dest and reports whether it was found.
// Storage and decode failures are logged and reported as absent.
func (s *Store) Get(ctx context.Context, collection, key string, dest any) bool {
	conn, ok := s.reader(ctx, collection)
	if !ok {
		return false
	}
	var rec record
	res := conn.Table(collection).Where("record_key = ?", key).Limit(1).Find(&rec)
	if res.Error != nil {
		logging.LogWarn(s.log, "Get", collection+"/"+key, res.Error)
		return false
	}
	if res.RowsAffected == 0 {
		return false
	}
	if err := json.Unmarshal(rec.Value, dest); err != nil {
		logging.LogWarn(s.log, "Get", "decode "+collection+"/"+key, err)
		return false
	}
	return true
}

// GetAll returns every raw value of collection. Collections with a recency
// index come most recently touched first; others are ordered by key.
func (s *Store) GetAll(ctx context.Context, collection string) []json.RawMessage {
	conn, ok := s.reader(ctx, collection)
	if !ok {
		return nil
	}
	order := "record_key"
	if recency[collection] {
		order = "updated_at DESC, record_key"
	}
	var recs []record
	if err := conn.Table(collection).Order(order).Find(&recs).Error; err != nil {
		logging.LogWarn(s.log, "GetAll", collection, err)
		return nil
	}
	out := make([]json.RawMessage, 0, len(recs))
	for _, r := range recs {
		out = append(out, json.RawMessage(r.Value))
	}
	return out
}

// Set upserts value under key.
func (s *Store) Set(ctx context.Context, collection, key string, value any) error {
	conn, err := s.writer(ctx, collection)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, key, err)
	}
	rec := record{Key: key, Value: datatypes.JSON(raw), UpdatedAt: s.tick()}
	err = conn.Table(collection).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "record_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, collection, key string) error {
	conn, err := s.writer(ctx, collection)
	if err != nil {
		return err
	}
	if err := conn.Table(collection).Where("record_key = ?", key).Delete(&record{}).Error; err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *Store) reader(ctx context.Context, collection string) (*gorm.DB, bool) {
	if !slices.Contains(collections, collection) {
		logging.LogWarn(s.log, "read", collection, ErrUnknownCollection)
		return nil, false
	}
	conn, err := s.Open(ctx)
	if err != nil {
		return nil, false
	}
	return conn.WithContext(ctx), true
}

func (s *Store) writer(ctx context.Context, collection string) (*gorm.DB, error) {
	if !slices.Contains(collections, collection) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	conn, err := s.Open(ctx)
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return conn.WithContext(ctx), nil
}

// tick returns a strictly increasing unix-nano timestamp so that writes in the
// same clock tick keep their order in the recency index.
func (s *Store) tick() int64 {
	for {
		last := s.last.Load()
		now := time.Now().UnixNano()
		if now <= last {
			now = last + 1
		}
		if s.last.CompareAndSwap(last, now) {
			return now
		}
	}
}

// Decode unmarshals every raw value into T, skipping entries that fail to decode.
func Decode[T any](raws []json.RawMessage) []T {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}
