package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/naeimDz/djazairi-invoice-maker-pro/auth"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/models"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuth struct {
	uid string
	err error
}

func (f fakeAuth) SignIn(context.Context) (auth.Identity, error) {
	if f.err != nil {
		return auth.Identity{}, f.err
	}
	return auth.Identity{UID: f.uid, Token: "t"}, nil
}

type fakeAssets struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeAssets) PutLogo(_ context.Context, uid, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return "gs://logos/" + remote.LogoObject(uid), nil
}

func startAgent(t *testing.T, opts Options) (*Agent, *remote.MemoryStore) {
	t.Helper()
	store := remote.NewMemoryStore()
	if opts.Auth == nil {
		opts.Auth = fakeAuth{uid: "u1"}
	}
	opts.Store = store
	a := New(opts)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a, store
}

func draft(id, number string) models.InvoiceDraft {
	d := models.NewDraft(id, "fr", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	d.InvoiceNumber = number
	return d
}

func TestRequestInvoiceSync_CollapsesBurst(t *testing.T) {
	a, store := startAgent(t, Options{Debounce: 50 * time.Millisecond})

	a.RequestInvoiceSync(draft("s1", "1"))
	a.RequestInvoiceSync(draft("s1", "12"))
	a.RequestInvoiceSync(draft("s1", "123"))
	assert.Equal(t, models.SyncSyncing, a.State().Phase)

	require.Eventually(t, func() bool { return store.Writes() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, store.Writes())

	doc, ok := store.Doc(remote.InvoicePath("u1", "s1"))
	require.True(t, ok)
	assert.Equal(t, "123", doc["invoiceNumber"])
	assert.Equal(t, "web-client", doc["_syncedFrom"])
	assert.IsType(t, time.Time{}, doc["updatedAt"])

	require.Eventually(t, func() bool { return a.State().Phase == models.SyncIdle }, time.Second, 10*time.Millisecond)
	assert.False(t, a.State().LastSynced.IsZero())
}

func TestRequestInvoiceSync_SessionsAreIndependent(t *testing.T) {
	a, store := startAgent(t, Options{Debounce: time.Hour})

	a.RequestInvoiceSync(draft("s1", "A"))
	a.RequestInvoiceSync(draft("s2", "B"))
	require.NoError(t, a.Close(context.Background()))

	assert.Equal(t, 2, store.Len())
}

func TestRequestInvoiceSync_FailureThenRecovery(t *testing.T) {
	a, store := startAgent(t, Options{Debounce: 10 * time.Millisecond})
	store.FailWith(func(string) error { return errors.New("deadline exceeded") })

	a.RequestInvoiceSync(draft("s1", "1"))
	require.Eventually(t, func() bool { return a.State().Phase == models.SyncError }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "deadline exceeded", a.State().Error)

	store.FailWith(nil)
	a.RequestInvoiceSync(draft("s1", "2"))
	require.Eventually(t, func() bool { return a.State().Phase == models.SyncIdle }, time.Second, 5*time.Millisecond)
	assert.Empty(t, a.State().Error)
}

func TestRequestInvoiceSync_StaysSyncingWhileOthersPending(t *testing.T) {
	a, store := startAgent(t, Options{Debounce: time.Hour})

	a.RequestInvoiceSync(draft("s1", "A"))
	a.RequestInvoiceSync(draft("s2", "B"))

	require.True(t, a.deb.Flush("invoice:s1"))
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, models.SyncSyncing, a.State().Phase)
	assert.False(t, a.State().LastSynced.IsZero())

	require.True(t, a.deb.Flush("invoice:s2"))
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, models.SyncIdle, a.State().Phase)
}

type slowAuth struct {
	calls atomic.Int32
}

func (f *slowAuth) SignIn(context.Context) (auth.Identity, error) {
	f.calls.Add(1)
	time.Sleep(20 * time.Millisecond)
	return auth.Identity{UID: "u1", Token: "t"}, nil
}

func TestStart_ConcurrentCallsSignInOnce(t *testing.T) {
	provider := &slowAuth{}
	a := New(Options{Auth: provider, Store: remote.NewMemoryStore()})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, a.Start(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), provider.calls.Load())
	assert.Equal(t, "u1", a.UID())
	require.NoError(t, a.Close(context.Background()))
}

func TestStart_AuthFailureLeavesAgentInert(t *testing.T) {
	store := remote.NewMemoryStore()
	a := New(Options{Auth: fakeAuth{err: errors.New("network down")}, Store: store, Debounce: time.Millisecond})

	var seen []models.SyncState
	a.Subscribe(func(s models.SyncState) { seen = append(seen, s) })

	require.Error(t, a.Start(context.Background()))
	assert.Equal(t, models.SyncState{Phase: models.SyncError, Error: AuthFailedMessage}, a.State())
	require.Len(t, seen, 1)
	require.Error(t, a.Start(context.Background()))
	require.Len(t, seen, 1)

	a.RequestInvoiceSync(draft("s1", "1"))
	a.SyncSettings(models.DefaultSettings())
	report := a.ForceBackupAll(context.Background(), []models.InvoiceDraft{draft("s1", "1")})
	require.NoError(t, a.Close(context.Background()))

	assert.ErrorIs(t, report.Err, ErrNotSignedIn)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, store.Writes())
	assert.Equal(t, models.SyncError, a.State().Phase)
}

func TestSyncSettings_WritesLatest(t *testing.T) {
	a, store := startAgent(t, Options{})

	s := models.DefaultSettings()
	s.BusinessName = "Atlas"
	a.SyncSettings(s)
	s.BusinessName = "Atlas SARL"
	a.SyncSettings(s)
	require.NoError(t, a.Close(context.Background()))

	doc, ok := store.Doc(remote.SettingsPath("u1"))
	require.True(t, ok)
	assert.Equal(t, "Atlas SARL", doc["businessName"])
	assert.Equal(t, "web-client", doc["_syncedFrom"])
}

func TestSyncSettings_LogoGoesToAssetStore(t *testing.T) {
	assets := &fakeAssets{}
	a, store := startAgent(t, Options{Assets: assets})

	s := models.DefaultSettings()
	s.Logo = "data:image/png;base64,aGVsbG8="
	a.SyncSettings(s)
	require.Eventually(t, func() bool { return store.Writes() == 1 }, time.Second, 5*time.Millisecond)
	s.BusinessName = "Again"
	a.SyncSettings(s)
	require.NoError(t, a.Close(context.Background()))

	doc, ok := store.Doc(remote.SettingsPath("u1"))
	require.True(t, ok)
	assert.Equal(t, "", doc["logo"])
	assert.Equal(t, "gs://logos/users/u1/logo", doc["logoRef"])
	assert.Equal(t, 1, assets.calls)
}

func TestSyncSettings_InlineLogoWithoutAssetStore(t *testing.T) {
	a, store := startAgent(t, Options{})
	s := models.DefaultSettings()
	s.Logo = "data:image/png;base64,aGVsbG8="
	a.SyncSettings(s)
	require.NoError(t, a.Close(context.Background()))

	doc, _ := store.Doc(remote.SettingsPath("u1"))
	assert.Equal(t, s.Logo, doc["logo"])
}

func TestForceBackupAll_Chunks(t *testing.T) {
	a, store := startAgent(t, Options{BatchSize: 3})

	drafts := make([]models.InvoiceDraft, 7)
	for i := range drafts {
		drafts[i] = draft(fmt.Sprintf("s%d", i), fmt.Sprint(i))
	}
	report := a.ForceBackupAll(context.Background(), drafts)

	assert.Equal(t, BackupReport{Written: 7}, report)
	assert.Equal(t, 7, store.Len())
	assert.Equal(t, models.SyncIdle, a.State().Phase)
}

func TestForceBackupAll_FailedChunkDoesNotStopOthers(t *testing.T) {
	a, store := startAgent(t, Options{BatchSize: 3})
	boom := errors.New("quota")
	store.FailWith(func(path string) error {
		if path == remote.InvoicePath("u1", "s4") {
			return boom
		}
		return nil
	})

	drafts := make([]models.InvoiceDraft, 7)
	for i := range drafts {
		drafts[i] = draft(fmt.Sprintf("s%d", i), "")
	}
	report := a.ForceBackupAll(context.Background(), drafts)

	assert.Equal(t, 4, report.Written)
	assert.Equal(t, 3, report.Failed)
	assert.ErrorIs(t, report.Err, boom)
	assert.Equal(t, 4, store.Len())
	assert.Equal(t, models.SyncError, a.State().Phase)
}

func TestNew_Defaults(t *testing.T) {
	a := New(Options{BatchSize: 10_000})
	assert.Equal(t, DefaultDebounce, a.debounce)
	assert.Equal(t, DefaultBatchSize, a.batchSize)
	assert.Equal(t, DefaultOrigin, a.origin)
	assert.ErrorIs(t, a.Start(context.Background()), ErrNotSignedIn)
	assert.Equal(t, models.SyncOffline, a.State().Phase)
}
