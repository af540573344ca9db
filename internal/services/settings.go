package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/cache"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/db"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/events"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/logging"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/models"
	"github.com/naeimDz/djazairi-invoice-maker-pro/validation"
	"github.com/sirupsen/logrus"
)

const (
	// SettingsCacheKey holds the settings snapshot in the fast cache.
	SettingsCacheKey = "dz_settings_v7"
	// LogoCacheLimit is the largest logo written to the fast cache.
	LogoCacheLimit = 50000
)

// SettingsOptions wires a SettingsManager.
type SettingsOptions struct {
	Cache  cache.Cache
	Store  Repository
	Syncer SettingsSyncer
	Logger *logrus.Entry
}

// SettingsManager owns the canonical Settings value.
//
// The value is seeded synchronously from the fast cache, then reconciled with
// the durable record in the background. Fields known in memory (seeded from the
// cache, set by Update, or received from another tab) always win over the
// durable record, except that a durable logo fills a missing one.
type SettingsManager struct {
	cache  cache.Cache
	store  Repository
	syncer SettingsSyncer
	log    *logrus.Entry

	updateMu sync.Mutex
	mu       sync.RWMutex
	current  models.Settings
	known    map[string]json.RawMessage

	bus         events.Bus[models.Settings]
	ready       chan struct{}
	unsubscribe func()

	wmu     sync.Mutex
	pending *models.Settings
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewSettingsManager seeds from the cache and starts the durable reconcile.
func NewSettingsManager(ctx context.Context, opts SettingsOptions) *SettingsManager {
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	m := &SettingsManager{
		cache:  opts.Cache,
		store:  opts.Store,
		syncer: opts.Syncer,
		log:    log,
		known:  map[string]json.RawMessage{},
		ready:  make(chan struct{}),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	m.seed(ctx)
	m.unsubscribe = m.cache.Subscribe(m.onCacheChange)
	go m.writeLoop()
	go m.hydrate(context.WithoutCancel(ctx))
	return m
}

func (m *SettingsManager) seed(ctx context.Context) {
	m.current = models.DefaultSettings()
	raw, ok := m.cache.Get(ctx, SettingsCacheKey)
	if !ok {
		return
	}
	s, err := models.ParseSettings([]byte(raw))
	if err != nil {
		logging.LogWarn(m.log, "seed", "corrupt cached settings, using defaults", err)
		return
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err == nil {
		m.known = fields
	}
	m.current = s
}

func (m *SettingsManager) hydrate(ctx context.Context) {
	defer close(m.ready)
	var durable json.RawMessage
	if !m.store.Get(ctx, db.CollectionSettings, db.SettingsKey, &durable) {
		return
	}
	base, err := models.ParseSettings(durable)
	if err != nil {
		logging.LogWarn(m.log, "hydrate", "corrupt durable settings", err)
		return
	}

	m.mu.Lock()
	next := base
	if layer, err := json.Marshal(m.known); err == nil {
		if err := json.Unmarshal(layer, &next); err != nil {
			logging.LogWarn(m.log, "hydrate", "apply in-memory fields", err)
			next = m.current.Clone()
		}
	}
	if next.Logo == "" && base.Logo != "" {
		next.Logo = base.Logo
	}
	next = next.Normalize()
	m.current = next
	m.mu.Unlock()

	m.bus.Publish(next.Clone())
}

// Ready is closed once the durable reconcile has finished, found or not.
func (m *SettingsManager) Ready() <-chan struct{} { return m.ready }

// Settings returns a copy of the current value.
func (m *SettingsManager) Settings() models.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

// Subscribe registers fn for every new value. fn must not call Update.
func (m *SettingsManager) Subscribe(fn func(models.Settings)) func() {
	return m.bus.Subscribe(fn)
}

// Update merges patch into the current value. An invalid result is rejected
// with a *validation.Error and nothing changes. Cache, durable and remote
// writes never fail the update.
func (m *SettingsManager) Update(ctx context.Context, patch models.SettingsPatch) (models.Settings, error) {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	m.mu.Lock()
	next := patch.Apply(m.current)
	if err := validation.Check(next); err != nil {
		cur := m.current.Clone()
		m.mu.Unlock()
		return cur, err
	}
	if raw, err := json.Marshal(patch); err == nil {
		var fields map[string]json.RawMessage
		if json.Unmarshal(raw, &fields) == nil {
			for k, v := range fields {
				m.known[k] = v
			}
		}
	}
	m.current = next
	m.mu.Unlock()

	m.writeCache(ctx, next)
	m.scheduleDurable(next)
	if m.syncer != nil {
		m.syncer.SyncSettings(next.Clone())
	}
	m.bus.Publish(next.Clone())
	return next.Clone(), nil
}

func (m *SettingsManager) writeCache(ctx context.Context, s models.Settings) {
	v := s.WithoutLogo(LogoCacheLimit)
	err := m.setCache(ctx, v)
	if errors.Is(err, cache.ErrQuotaExceeded) && v.Logo != "" {
		v.Logo = ""
		err = m.setCache(ctx, v)
	}
	if err != nil {
		logging.LogWarn(m.log, "Update", "settings cache write skipped", err)
	}
}

func (m *SettingsManager) setCache(ctx context.Context, s models.Settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return m.cache.Set(ctx, SettingsCacheKey, string(raw))
}

// onCacheChange merges another tab's settings snapshot on top of the current value.
func (m *SettingsManager) onCacheChange(ch cache.Change) {
	if ch.Key != SettingsCacheKey || ch.Removed {
		return
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(ch.Value), &fields); err != nil {
		logging.LogWarn(m.log, "onCacheChange", "corrupt settings from another tab", err)
		return
	}

	m.mu.Lock()
	next := m.current.Clone()
	if err := json.Unmarshal([]byte(ch.Value), &next); err != nil {
		m.mu.Unlock()
		logging.LogWarn(m.log, "onCacheChange", "decode settings from another tab", err)
		return
	}
	next = next.Normalize()
	for k, v := range fields {
		m.known[k] = v
	}
	m.current = next
	m.mu.Unlock()

	m.bus.Publish(next.Clone())
}

func (m *SettingsManager) scheduleDurable(s models.Settings) {
	c := s.Clone()
	m.wmu.Lock()
	m.pending = &c
	m.wmu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *SettingsManager) writeLoop() {
	defer close(m.done)
	for {
		select {
		case <-m.wake:
			m.flushDurable()
		case <-m.stop:
			m.flushDurable()
			return
		}
	}
}

func (m *SettingsManager) flushDurable() {
	m.wmu.Lock()
	p := m.pending
	m.pending = nil
	m.wmu.Unlock()
	if p == nil {
		return
	}
	if err := m.store.Set(context.Background(), db.CollectionSettings, db.SettingsKey, p); err != nil {
		logging.LogError(m.log, "Update", "durable settings write", nil, err)
	}
}

// Close stops listening to other tabs and writes any pending durable value.
func (m *SettingsManager) Close(ctx context.Context) error {
	m.once.Do(func() {
		m.unsubscribe()
		close(m.stop)
	})
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
