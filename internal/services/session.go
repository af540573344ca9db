package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/cache"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/db"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/events"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/logging"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/models"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/schedule"
	"github.com/sirupsen/logrus"
)

const (
	// ActiveSessionKey points at the session id of the open draft.
	ActiveSessionKey = "dz_active_session"
	// DraftKeyPrefix prefixes the cached copy of each draft.
	DraftKeyPrefix = "invoice_draft_"
	// SnapshotLogoLimit is the largest logo kept in a draft's settings snapshot.
	SnapshotLogoLimit = 1000
	// DefaultDurableDelay is the quiet period before a draft reaches the durable store.
	DefaultDurableDelay = time.Second

	descriptionHistoryCap = 50
	descriptionMinLength  = 3
)

var (
	ErrNoSession     = errors.New("no open session")
	ErrDraftNotFound = errors.New("draft not found")
	ErrItemNotFound  = errors.New("line item not found")
	ErrInvalidStatus = errors.New("invalid invoice status")
)

// SessionOptions wires a SessionManager.
type SessionOptions struct {
	Cache        cache.Cache
	Store        Repository
	Settings     SettingsSource
	Syncer       DraftSyncer
	History      HistoryRecorder
	DurableDelay time.Duration
	Now          func() time.Time
	Logger       *logrus.Entry
}

// SessionManager owns the draft being edited. Every mutation writes the draft
// to the fast cache at once and to the durable store after a quiet period.
type SessionManager struct {
	cache    cache.Cache
	store    Repository
	settings SettingsSource
	syncer   DraftSyncer
	history  HistoryRecorder
	delay    time.Duration
	now      func() time.Time
	log      *logrus.Entry
	deb      *schedule.Debouncer

	// opMu orders commits so cache writes land in mutation order.
	opMu         sync.Mutex
	mu           sync.Mutex
	draft        models.InvoiceDraft
	open         bool
	langOverride bool
	descriptions []string

	bus events.Bus[models.InvoiceDraft]
}

func NewSessionManager(opts SessionOptions) *SessionManager {
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	delay := opts.DurableDelay
	if delay <= 0 {
		delay = DefaultDurableDelay
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &SessionManager{
		cache:    opts.Cache,
		store:    opts.Store,
		settings: opts.Settings,
		syncer:   opts.Syncer,
		history:  opts.History,
		delay:    delay,
		now:      now,
		log:      log,
		deb:      schedule.NewDebouncer(),
	}
}

// Open resumes the session named by the active pointer, or starts a new one.
func (m *SessionManager) Open(ctx context.Context) models.InvoiceDraft {
	id, ok := m.cache.Get(ctx, ActiveSessionKey)
	if !ok || strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	d, found := m.load(ctx, id)
	if !found {
		d = models.NewDraft(id, m.settings.Settings().DefaultLanguage, m.now())
	}

	descriptions := m.loadDescriptions(ctx)

	m.mu.Lock()
	m.draft = d
	m.open = true
	m.langOverride = false
	m.descriptions = descriptions
	m.mu.Unlock()

	m.setCache(ctx, ActiveSessionKey, id)
	m.bus.Publish(d.Clone())
	return d.Clone()
}

// Switch makes the stored draft id the open session. Pending writes of the
// previous session are flushed first.
func (m *SessionManager) Switch(ctx context.Context, id string) (models.InvoiceDraft, error) {
	d, found := m.load(ctx, id)
	if !found {
		return models.InvoiceDraft{}, fmt.Errorf("%w: %s", ErrDraftNotFound, id)
	}
	m.deb.FlushAll()

	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.mu.Lock()
	m.draft = d
	m.open = true
	m.langOverride = false
	m.mu.Unlock()

	m.setCache(ctx, ActiveSessionKey, id)
	m.bus.Publish(d.Clone())
	return d.Clone(), nil
}

func (m *SessionManager) load(ctx context.Context, id string) (models.InvoiceDraft, bool) {
	fallback := m.settings.Settings().DefaultLanguage
	if raw, ok := m.cache.Get(ctx, DraftKeyPrefix+id); ok {
		var d models.InvoiceDraft
		err := json.Unmarshal([]byte(raw), &d)
		if err == nil {
			d.SessionID = id
			return d.Normalize(fallback, m.now()), true
		}
		logging.LogWarn(m.log, "Open", "corrupt cached draft "+id, err)
	}
	var d models.InvoiceDraft
	if m.store.Get(ctx, db.CollectionInvoices, id, &d) {
		d.SessionID = id
		return d.Normalize(fallback, m.now()), true
	}
	return models.InvoiceDraft{}, false
}

func (m *SessionManager) loadDescriptions(ctx context.Context) []string {
	var list []string
	if !m.store.Get(ctx, db.CollectionResources, db.ResourceProductHistory, &list) {
		return []string{}
	}
	return list
}

// Draft returns a copy of the open draft.
func (m *SessionManager) Draft() models.InvoiceDraft {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draft.Clone()
}

// Subscribe registers fn for every new draft value. fn must not mutate the session.
func (m *SessionManager) Subscribe(fn func(models.InvoiceDraft)) func() {
	return m.bus.Subscribe(fn)
}

func (m *SessionManager) SetInvoiceNumber(ctx context.Context, number string) (models.InvoiceDraft, error) {
	return m.mutate(ctx, func(d *models.InvoiceDraft) error {
		d.InvoiceNumber = number
		return nil
	})
}

func (m *SessionManager) SetInvoiceDate(ctx context.Context, date time.Time) (models.InvoiceDraft, error) {
	return m.mutate(ctx, func(d *models.InvoiceDraft) error {
		d.InvoiceDate = date.Format(models.DateLayout)
		return nil
	})
}

func (m *SessionManager) SetCustomerName(ctx context.Context, name string) (models.InvoiceDraft, error) {
	return m.mutate(ctx, func(d *models.InvoiceDraft) error {
		d.CustomerName = name
		return nil
	})
}

func (m *SessionManager) SetCustomerAddress(ctx context.Context, address string) (models.InvoiceDraft, error) {
	return m.mutate(ctx, func(d *models.InvoiceDraft) error {
		d.CustomerAddress = address
		return nil
	})
}

// SetLanguage sets the document language by hand. The choice sticks for the
// rest of the session.
func (m *SessionManager) SetLanguage(ctx context.Context, lang string) (models.InvoiceDraft, error) {
	return m.mutate(ctx, func(d *models.InvoiceDraft) error {
		d.InvoiceLang = lang
		m.langOverride = true
		return nil
	})
}

// FollowDisplayLanguage moves the document language along with the display
// language until SetLanguage is called. It reports whether the draft changed.
func (m *SessionManager) FollowDisplayLanguage(ctx context.Context, lang string) bool {
	m.mu.Lock()
	follow := m.open && !m.langOverride && m.draft.InvoiceLang != lang
	m.mu.Unlock()
	if !follow {
		return false
	}
	_, err := m.mutate(ctx, func(d *models.InvoiceDraft) error {
		if m.langOverride {
			return errors.New("language set manually")
		}
		d.InvoiceLang = lang
		return nil
	})
	return err == nil
}

func (m *SessionManager) SetStatus(ctx context.Context, status models.InvoiceStatus) (models.InvoiceDraft, error) {
	if !status.Valid() {
		return m.Draft(), fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return m.mutate(ctx, func(d *models.InvoiceDraft) error {
		d.Status = status
		return nil
	})
}

// AddItem appends a blank line item.
func (m *SessionManager) AddItem(ctx context.Context) (models.InvoiceDraft, error) {
	return m.mutate(ctx, func(d *models.InvoiceDraft) error {
		d.Items = append(slices.Clone(d.Items), models.NewLineItem())
		return nil
	})
}

func (m *SessionManager) UpdateItem(ctx context.Context, id string, patch models.LineItemPatch) (models.InvoiceDraft, error) {
	return m.mutate(ctx, func(d *models.InvoiceDraft) error {
		i := slices.IndexFunc(d.Items, func(it models.LineItem) bool { return it.ID == id })
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrItemNotFound, id)
		}
		d.Items = slices.Clone(d.Items)
		d.Items[i] = patch.Apply(d.Items[i])
		return nil
	})
}

// RemoveItem drops a line item. The last remaining item is replaced by a blank one.
func (m *SessionManager) RemoveItem(ctx context.Context, id string) (models.InvoiceDraft, error) {
	return m.mutate(ctx, func(d *models.InvoiceDraft) error {
		d.RemoveItem(id)
		return nil
	})
}

func (m *SessionManager) SetItems(ctx context.Context, items []models.LineItem) (models.InvoiceDraft, error) {
	return m.mutate(ctx, func(d *models.InvoiceDraft) error {
		d.Items = slices.Clone(items)
		if len(d.Items) == 0 {
			d.Items = []models.LineItem{models.NewLineItem()}
		}
		return nil
	})
}

// NewSession drops the cached copy of the open draft and starts a blank one.
// The durable copy stays in the archive.
func (m *SessionManager) NewSession(ctx context.Context) models.InvoiceDraft {
	m.mu.Lock()
	old := m.draft.SessionID
	m.mu.Unlock()

	m.deb.FlushAll()
	if old != "" {
		if err := m.cache.Remove(ctx, DraftKeyPrefix+old); err != nil {
			logging.LogWarn(m.log, "NewSession", "remove cached draft", err)
		}
	}
	d := models.NewDraft(uuid.NewString(), m.settings.Settings().DefaultLanguage, m.now())
	return m.replace(ctx, d)
}

// Duplicate opens a copy of the current draft under a new session id.
func (m *SessionManager) Duplicate(ctx context.Context) models.InvoiceDraft {
	m.deb.FlushAll()
	d := m.Draft().Duplicate(uuid.NewString())
	return m.replace(ctx, d)
}

func (m *SessionManager) replace(ctx context.Context, d models.InvoiceDraft) models.InvoiceDraft {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.mu.Lock()
	m.open = true
	m.langOverride = false
	d = m.snapshot(d)
	m.draft = d
	m.mu.Unlock()

	m.setCache(ctx, ActiveSessionKey, d.SessionID)
	m.persist(ctx, d)
	m.bus.Publish(d.Clone())
	return d.Clone()
}

// RecallLastCustomer copies the last recorded customer into the draft.
// It reports false when none was recorded.
func (m *SessionManager) RecallLastCustomer(ctx context.Context) (models.InvoiceDraft, bool) {
	m.deb.Flush(resourceKey(db.ResourceLastCustomer))
	var last models.LastCustomer
	if !m.store.Get(ctx, db.CollectionResources, db.ResourceLastCustomer, &last) || last.Name == "" {
		return m.Draft(), false
	}
	d, err := m.mutate(ctx, func(d *models.InvoiceDraft) error {
		d.CustomerName = last.Name
		d.CustomerAddress = last.Address
		return nil
	})
	return d, err == nil
}

// DescriptionHistory returns the remembered line item descriptions, oldest first.
func (m *SessionManager) DescriptionHistory() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.descriptions)
}

// Commit records the open draft's items and customer in the history indices.
func (m *SessionManager) Commit(ctx context.Context) error {
	if m.history == nil {
		return nil
	}
	d := m.Draft()
	if err := m.history.RecordItems(ctx, d.Items); err != nil {
		return fmt.Errorf("record items: %w", err)
	}
	if strings.TrimSpace(d.CustomerName) != "" {
		c := models.ClientRecord{Name: d.CustomerName, Address: d.CustomerAddress}
		if err := m.history.RecordClient(ctx, c); err != nil {
			return fmt.Errorf("record client: %w", err)
		}
	}
	return nil
}

// Flush runs every pending durable write now.
func (m *SessionManager) Flush() { m.deb.FlushAll() }

// Close flushes pending writes. Later mutations are written through at once.
func (m *SessionManager) Close() { m.deb.Close() }

func (m *SessionManager) mutate(ctx context.Context, fn func(*models.InvoiceDraft) error) (models.InvoiceDraft, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return models.InvoiceDraft{}, ErrNoSession
	}
	d := m.draft.Clone()
	if err := fn(&d); err != nil {
		cur := m.draft.Clone()
		m.mu.Unlock()
		return cur, err
	}
	d = m.snapshot(d)
	m.draft = d
	m.mu.Unlock()

	m.persist(ctx, d)
	m.bus.Publish(d.Clone())
	return d.Clone(), nil
}

// snapshot attaches the current settings, minus a large logo. Callers hold mu.
func (m *SessionManager) snapshot(d models.InvoiceDraft) models.InvoiceDraft {
	s := m.settings.Settings().WithoutLogo(SnapshotLogoLimit)
	d.Settings = &s
	return d
}

func (m *SessionManager) persist(ctx context.Context, d models.InvoiceDraft) {
	id := d.SessionID
	if err := m.cacheDraft(ctx, d); errors.Is(err, cache.ErrQuotaExceeded) {
		lean := d.Clone()
		lean.Settings = nil
		err = m.cacheDraft(ctx, lean)
		if err != nil {
			logging.LogWarn(m.log, "persist", "draft cache write skipped", err)
		}
	} else if err != nil {
		logging.LogWarn(m.log, "persist", "draft cache write skipped", err)
	}

	durable := d.Clone()
	m.deb.Schedule("draft:"+id, m.delay, func() {
		if err := m.store.Set(context.Background(), db.CollectionInvoices, id, durable); err != nil {
			logging.LogError(m.log, "persist", "durable draft write", map[string]any{"sessionId": id}, err)
		}
	})

	if m.syncer != nil {
		m.syncer.RequestInvoiceSync(d.Clone())
	}

	if d.CustomerName != "" || d.CustomerAddress != "" {
		last := models.LastCustomer{Name: d.CustomerName, Address: d.CustomerAddress}
		m.scheduleResource(db.ResourceLastCustomer, last)
	}

	if list, changed := m.mergeDescriptions(d.Items); changed {
		m.scheduleResource(db.ResourceProductHistory, list)
	}
}

func (m *SessionManager) cacheDraft(ctx context.Context, d models.InvoiceDraft) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return m.cache.Set(ctx, DraftKeyPrefix+d.SessionID, string(raw))
}

func (m *SessionManager) setCache(ctx context.Context, key, value string) {
	if err := m.cache.Set(ctx, key, value); err != nil {
		logging.LogWarn(m.log, "setCache", key, err)
	}
}

func (m *SessionManager) scheduleResource(key string, value any) {
	m.deb.Schedule(resourceKey(key), m.delay, func() {
		if err := m.store.Set(context.Background(), db.CollectionResources, key, value); err != nil {
			logging.LogError(m.log, "persist", "durable resource write", map[string]any{"key": key}, err)
		}
	})
}

// mergeDescriptions adds new item descriptions to the history, keeping the
// existing entries first and the list at its cap.
func (m *SessionManager) mergeDescriptions(items []models.LineItem) ([]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := slices.Clone(m.descriptions)
	changed := false
	for _, it := range items {
		desc := strings.TrimSpace(it.Description)
		if utf8.RuneCountInString(desc) <= descriptionMinLength || slices.Contains(list, desc) {
			continue
		}
		list = append(list, desc)
		changed = true
	}
	if !changed {
		return nil, false
	}
	if len(list) > descriptionHistoryCap {
		list = list[:descriptionHistoryCap]
	}
	if slices.Equal(list, m.descriptions) {
		return nil, false
	}
	m.descriptions = list
	return slices.Clone(list), true
}

func resourceKey(key string) string { return "resource:" + key }
