package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/cache"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/db"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/models"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *db.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s := db.New(db.Options{DSN: fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", name)})
	_, err := s.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type recordingSyncer struct {
	mu       sync.Mutex
	settings []models.Settings
	drafts   []models.InvoiceDraft
}

func (r *recordingSyncer) SyncSettings(s models.Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = append(r.settings, s)
}

func (r *recordingSyncer) RequestInvoiceSync(d models.InvoiceDraft) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drafts = append(r.drafts, d)
}

func (r *recordingSyncer) settingsCalls() []models.Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Settings(nil), r.settings...)
}

func (r *recordingSyncer) draftCalls() []models.InvoiceDraft {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.InvoiceDraft(nil), r.drafts...)
}

type staticSettings struct{ s models.Settings }

func (f staticSettings) Settings() models.Settings { return f.s.Clone() }

func newTestSettings(t *testing.T, c cache.Cache, store Repository, syncer SettingsSyncer) *SettingsManager {
	t.Helper()
	m := NewSettingsManager(context.Background(), SettingsOptions{Cache: c, Store: store, Syncer: syncer})
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	select {
	case <-m.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("settings never became ready")
	}
	return m
}

func fixedNow() time.Time { return time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC) }
