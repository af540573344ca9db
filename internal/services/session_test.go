package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/cache"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/db"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionFixture struct {
	tab      *cache.Tab
	store    *db.Store
	syncer   *recordingSyncer
	settings staticSettings
	history  *HistoryIndexer
	m        *SessionManager
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		tab:      cache.NewMemoryArea(0).Tab(),
		store:    setupTestStore(t),
		syncer:   &recordingSyncer{},
		settings: staticSettings{s: models.DefaultSettings()},
	}
	f.history = NewHistoryIndexer(f.store, nil, nil)
	f.m = f.manager()
	return f
}

func (f *sessionFixture) manager() *SessionManager {
	return NewSessionManager(SessionOptions{
		Cache:        f.tab,
		Store:        f.store,
		Settings:     f.settings,
		Syncer:       f.syncer,
		History:      f.history,
		DurableDelay: time.Hour,
		Now:          fixedNow,
	})
}

func (f *sessionFixture) cachedDraft(t *testing.T, id string) models.InvoiceDraft {
	t.Helper()
	raw, ok := f.tab.Get(context.Background(), DraftKeyPrefix+id)
	require.True(t, ok, "draft %s not cached", id)
	var d models.InvoiceDraft
	require.NoError(t, json.Unmarshal([]byte(raw), &d))
	return d
}

func TestSession_OpenStartsBlankDraft(t *testing.T) {
	f := newSessionFixture(t)
	d := f.m.Open(context.Background())

	assert.NotEmpty(t, d.SessionID)
	assert.Equal(t, "2024-03-15", d.InvoiceDate)
	assert.Equal(t, "ar", d.InvoiceLang)
	assert.Equal(t, models.InvoiceStatusDraft, d.Status)
	require.Len(t, d.Items, 1)
	assert.Equal(t, 1.0, d.Items[0].Quantity)

	ptr, ok := f.tab.Get(context.Background(), ActiveSessionKey)
	require.True(t, ok)
	assert.Equal(t, d.SessionID, ptr)
}

func TestSession_NewSessionUsesDefaultLanguage(t *testing.T) {
	f := newSessionFixture(t)
	s := models.DefaultSettings()
	s.DefaultLanguage = "fr"
	f.settings = staticSettings{s: s}
	m := f.manager()

	d := m.Open(context.Background())
	assert.Equal(t, "fr", d.InvoiceLang)
}

func TestSession_ReopenResumesFromCache(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	d := f.m.Open(ctx)
	_, err := f.m.SetCustomerName(ctx, "Sonatrach")
	require.NoError(t, err)

	again := f.manager().Open(ctx)
	assert.Equal(t, d.SessionID, again.SessionID)
	assert.Equal(t, "Sonatrach", again.CustomerName)
}

func TestSession_ReopenFallsBackToDurableStore(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	d := f.m.Open(ctx)
	_, err := f.m.SetInvoiceNumber(ctx, "FA-2024-001")
	require.NoError(t, err)
	f.m.Flush()

	require.NoError(t, f.tab.Remove(ctx, DraftKeyPrefix+d.SessionID))
	again := f.manager().Open(ctx)
	assert.Equal(t, d.SessionID, again.SessionID)
	assert.Equal(t, "FA-2024-001", again.InvoiceNumber)
}

func TestSession_StoredDraftKeepsItsLanguage(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.m.Open(ctx)
	_, err := f.m.SetLanguage(ctx, "en")
	require.NoError(t, err)

	s := models.DefaultSettings()
	s.DefaultLanguage = "fr"
	f.settings = staticSettings{s: s}
	assert.Equal(t, "en", f.manager().Open(ctx).InvoiceLang)
}

func TestSession_MutationsWriteCacheAtOnceAndStoreLater(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	d := f.m.Open(ctx)

	_, err := f.m.SetCustomerAddress(ctx, "Rue Didouche Mourad, Alger")
	require.NoError(t, err)
	assert.Equal(t, "Rue Didouche Mourad, Alger", f.cachedDraft(t, d.SessionID).CustomerAddress)

	var stored models.InvoiceDraft
	assert.False(t, f.store.Get(ctx, db.CollectionInvoices, d.SessionID, &stored))

	f.m.Flush()
	require.True(t, f.store.Get(ctx, db.CollectionInvoices, d.SessionID, &stored))
	assert.Equal(t, "Rue Didouche Mourad, Alger", stored.CustomerAddress)
}

func TestSession_DurableWriteCoalescesBursts(t *testing.T) {
	f := newSessionFixture(t)
	f.m = NewSessionManager(SessionOptions{
		Cache: f.tab, Store: f.store, Settings: f.settings,
		DurableDelay: 30 * time.Millisecond, Now: fixedNow,
	})
	ctx := context.Background()
	d := f.m.Open(ctx)

	for _, n := range []string{"1", "12", "123"} {
		_, err := f.m.SetInvoiceNumber(ctx, n)
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		var stored models.InvoiceDraft
		return f.store.Get(ctx, db.CollectionInvoices, d.SessionID, &stored) && stored.InvoiceNumber == "123"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_EveryMutationRequestsSync(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.m.Open(ctx)

	_, err := f.m.SetInvoiceDate(ctx, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	_, err = f.m.SetStatus(ctx, models.InvoiceStatusSent)
	require.NoError(t, err)

	calls := f.syncer.draftCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "2024-01-02", calls[1].InvoiceDate)
	assert.Equal(t, models.InvoiceStatusSent, calls[1].Status)
}

func TestSession_SetStatusRejectsUnknown(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.m.Open(ctx)

	d, err := f.m.SetStatus(ctx, "archived")
	require.ErrorIs(t, err, ErrInvalidStatus)
	assert.Equal(t, models.InvoiceStatusDraft, d.Status)
	assert.Empty(t, f.syncer.draftCalls())
}

func TestSession_MutationBeforeOpenFails(t *testing.T) {
	f := newSessionFixture(t)
	_, err := f.m.AddItem(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSession_Items(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	d := f.m.Open(ctx)
	first := d.Items[0].ID

	d, err := f.m.AddItem(ctx)
	require.NoError(t, err)
	require.Len(t, d.Items, 2)

	d, err = f.m.UpdateItem(ctx, first, models.LineItemPatch{Description: models.Ptr("Maintenance"), Price: models.Ptr(2500.0)})
	require.NoError(t, err)
	assert.Equal(t, "Maintenance", d.Items[0].Description)
	assert.Equal(t, 2500.0, d.Items[0].Price)

	_, err = f.m.UpdateItem(ctx, "missing", models.LineItemPatch{Quantity: models.Ptr(3.0)})
	assert.ErrorIs(t, err, ErrItemNotFound)

	d, err = f.m.RemoveItem(ctx, first)
	require.NoError(t, err)
	require.Len(t, d.Items, 1)
	assert.NotEqual(t, first, d.Items[0].ID)
}

func TestSession_RemovingLastItemLeavesBlankOne(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	d := f.m.Open(ctx)
	d, err := f.m.UpdateItem(ctx, d.Items[0].ID, models.LineItemPatch{Description: models.Ptr("Transport")})
	require.NoError(t, err)

	d, err = f.m.RemoveItem(ctx, d.Items[0].ID)
	require.NoError(t, err)
	require.Len(t, d.Items, 1)
	assert.Empty(t, d.Items[0].Description)
	assert.Equal(t, 1.0, d.Items[0].Quantity)
}

func TestSession_SetItemsEmptyKeepsOneItem(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.m.Open(ctx)

	d, err := f.m.SetItems(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, d.Items, 1)
}

func TestSession_FollowDisplayLanguageUntilManualChoice(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.m.Open(ctx)

	assert.True(t, f.m.FollowDisplayLanguage(ctx, "fr"))
	assert.Equal(t, "fr", f.m.Draft().InvoiceLang)

	_, err := f.m.SetLanguage(ctx, "en")
	require.NoError(t, err)
	assert.False(t, f.m.FollowDisplayLanguage(ctx, "ar"))
	assert.Equal(t, "en", f.m.Draft().InvoiceLang)
}

func TestSession_NewSessionClearsCachedDraft(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	old := f.m.Open(ctx)
	_, err := f.m.SetCustomerName(ctx, "Old customer")
	require.NoError(t, err)

	fresh := f.m.NewSession(ctx)
	assert.NotEqual(t, old.SessionID, fresh.SessionID)
	assert.Empty(t, fresh.CustomerName)

	_, cached := f.tab.Get(ctx, DraftKeyPrefix+old.SessionID)
	assert.False(t, cached)

	var archived models.InvoiceDraft
	require.True(t, f.store.Get(ctx, db.CollectionInvoices, old.SessionID, &archived))
	assert.Equal(t, "Old customer", archived.CustomerName)

	ptr, _ := f.tab.Get(ctx, ActiveSessionKey)
	assert.Equal(t, fresh.SessionID, ptr)
}

func TestSession_Duplicate(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	orig := f.m.Open(ctx)
	_, err := f.m.SetInvoiceNumber(ctx, "FA-7")
	require.NoError(t, err)
	_, err = f.m.SetStatus(ctx, models.InvoiceStatusPaid)
	require.NoError(t, err)
	_, err = f.m.SetCustomerName(ctx, "Cevital")
	require.NoError(t, err)

	dup := f.m.Duplicate(ctx)
	assert.NotEqual(t, orig.SessionID, dup.SessionID)
	assert.Equal(t, "FA-7-COPY", dup.InvoiceNumber)
	assert.Equal(t, models.InvoiceStatusDraft, dup.Status)
	assert.Equal(t, "Cevital", dup.CustomerName)
	assert.Equal(t, dup, f.m.Draft())
}

func TestSession_DuplicateWithoutNumber(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.m.Open(ctx)
	assert.Empty(t, f.m.Duplicate(ctx).InvoiceNumber)
}

func TestSession_RecallLastCustomer(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.m.Open(ctx)

	_, ok := f.m.RecallLastCustomer(ctx)
	assert.False(t, ok)

	_, err := f.m.SetCustomerName(ctx, "Condor")
	require.NoError(t, err)
	_, err = f.m.SetCustomerAddress(ctx, "Bordj Bou Arreridj")
	require.NoError(t, err)
	f.m.NewSession(ctx)

	d, ok := f.m.RecallLastCustomer(ctx)
	require.True(t, ok)
	assert.Equal(t, "Condor", d.CustomerName)
	assert.Equal(t, "Bordj Bou Arreridj", d.CustomerAddress)
}

func TestSession_DescriptionHistory(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.m.Open(ctx)

	_, err := f.m.SetItems(ctx, []models.LineItem{
		{ID: "a", Description: "  Installation  ", Quantity: 1},
		{ID: "b", Description: "TVA", Quantity: 1},
		{ID: "c", Description: "Installation", Quantity: 2},
	})
	require.NoError(t, err)
	_, err = f.m.UpdateItem(ctx, "b", models.LineItemPatch{Description: models.Ptr("Formation")})
	require.NoError(t, err)

	assert.Equal(t, []string{"Installation", "Formation"}, f.m.DescriptionHistory())

	f.m.Flush()
	var stored []string
	require.True(t, f.store.Get(ctx, db.CollectionResources, db.ResourceProductHistory, &stored))
	assert.Equal(t, []string{"Installation", "Formation"}, stored)
}

func TestSession_DescriptionHistoryCountsCharacters(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.m.Open(ctx)

	_, err := f.m.SetItems(ctx, []models.LineItem{
		{ID: "a", Description: "شاي", Quantity: 1},
		{ID: "b", Description: "تركيب", Quantity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"تركيب"}, f.m.DescriptionHistory())
}

func TestSession_DescriptionHistoryIsCapped(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.m.Open(ctx)

	items := make([]models.LineItem, 0, 60)
	for i := 0; i < 60; i++ {
		items = append(items, models.LineItem{ID: strings.Repeat("x", i+1), Description: "Article " + strings.Repeat("z", i+1), Quantity: 1})
	}
	_, err := f.m.SetItems(ctx, items)
	require.NoError(t, err)

	hist := f.m.DescriptionHistory()
	require.Len(t, hist, 50)
	assert.Equal(t, "Article z", hist[0])
}

func TestSession_SnapshotDropsLargeLogo(t *testing.T) {
	f := newSessionFixture(t)
	s := models.DefaultSettings()
	s.Logo = strings.Repeat("L", SnapshotLogoLimit+1)
	s.BusinessName = "Atlas"
	f.settings = staticSettings{s: s}
	m := f.manager()
	ctx := context.Background()
	d := m.Open(ctx)

	_, err := m.SetCustomerName(ctx, "X")
	require.NoError(t, err)
	cached := f.cachedDraft(t, d.SessionID)
	require.NotNil(t, cached.Settings)
	assert.Empty(t, cached.Settings.Logo)
	assert.Equal(t, "Atlas", cached.Settings.BusinessName)
}

func TestSession_SaveIsIdempotent(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	d := f.m.Open(ctx)
	_, err := f.m.SetCustomerName(ctx, "Same")
	require.NoError(t, err)
	f.m.Flush()
	var first models.InvoiceDraft
	require.True(t, f.store.Get(ctx, db.CollectionInvoices, d.SessionID, &first))

	_, err = f.m.SetCustomerName(ctx, "Same")
	require.NoError(t, err)
	f.m.Flush()
	var second models.InvoiceDraft
	require.True(t, f.store.Get(ctx, db.CollectionInvoices, d.SessionID, &second))

	assert.Equal(t, first, second)
	assert.Len(t, f.store.GetAll(ctx, db.CollectionInvoices), 1)
}

func TestSession_CommitFeedsHistory(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.m.Open(ctx)
	_, err := f.m.SetItems(ctx, []models.LineItem{
		{ID: "1", Description: "Audit  annuel", Quantity: 1, Price: 45000},
		{ID: "2", Description: "Offert", Quantity: 1, Price: 0},
	})
	require.NoError(t, err)
	_, err = f.m.SetCustomerName(ctx, "Mobilis")
	require.NoError(t, err)

	require.NoError(t, f.m.Commit(ctx))

	price, ok := f.history.SuggestPrice(ctx, "audit annuel")
	require.True(t, ok)
	assert.Equal(t, 45000.0, price)
	_, ok = f.history.SuggestPrice(ctx, "Offert")
	assert.False(t, ok)

	clients := f.history.RecentClients(ctx, 10)
	require.Len(t, clients, 1)
	assert.Equal(t, "Mobilis", clients[0].Name)
}

func TestSession_SwitchOpensStoredDraft(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	first := f.m.Open(ctx)
	_, err := f.m.SetInvoiceNumber(ctx, "FA-1")
	require.NoError(t, err)
	f.m.NewSession(ctx)

	d, err := f.m.Switch(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "FA-1", d.InvoiceNumber)

	_, err = f.m.Switch(ctx, "nope")
	assert.ErrorIs(t, err, ErrDraftNotFound)
}

func TestSession_CloseWritesThrough(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	d := f.m.Open(ctx)
	_, err := f.m.SetCustomerName(ctx, "Before close")
	require.NoError(t, err)

	f.m.Close()
	var stored models.InvoiceDraft
	require.True(t, f.store.Get(ctx, db.CollectionInvoices, d.SessionID, &stored))
	assert.Equal(t, "Before close", stored.CustomerName)

	_, err = f.m.SetCustomerName(ctx, "After close")
	require.NoError(t, err)
	require.True(t, f.store.Get(ctx, db.CollectionInvoices, d.SessionID, &stored))
	assert.Equal(t, "After close", stored.CustomerName)
}
