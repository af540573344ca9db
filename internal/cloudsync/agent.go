// Package cloudsync replicates drafts and settings to the remote document
// store under the device's anonymous identity. Local editing never waits on
// it and never sees its errors; they surface through SyncState only.
package cloudsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/naeimDz/djazairi-invoice-maker-pro/auth"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/events"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/logging"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/models"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/remote"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/schedule"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultDebounce    = 2 * time.Second
	DefaultBatchSize   = 400
	DefaultOrigin      = "web-client"
	defaultConcurrency = 4
	writeTimeout       = 30 * time.Second

	// AuthFailedMessage is the SyncState error after a failed sign-in.
	AuthFailedMessage = "Authentication failed"
)

// ErrNotSignedIn is reported by operations that need a remote identity.
var ErrNotSignedIn = errors.New("sync agent is not signed in")

// Options wires an Agent.
type Options struct {
	Auth   auth.Provider
	Store  remote.DocumentStore
	Assets remote.AssetStore

	Debounce    time.Duration
	BatchSize   int
	Origin      string
	Concurrency int
	Logger      *logrus.Entry
}

// BackupReport summarizes ForceBackupAll. Err is the first batch error.
type BackupReport struct {
	Written int
	Failed  int
	Err     error
}

// Agent is the remote sync agent.
type Agent struct {
	auth        auth.Provider
	store       remote.DocumentStore
	assets      remote.AssetStore
	debounce    time.Duration
	batchSize   int
	origin      string
	concurrency int
	log         *logrus.Entry
	deb         *schedule.Debouncer

	startMu  sync.Mutex
	startErr error

	mu       sync.Mutex
	state    models.SyncState
	inflight int
	uid      string
	lastLogo string
	logoRef  string

	bus events.Bus[models.SyncState]

	smu     sync.Mutex
	pending *models.Settings
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func New(opts Options) *Agent {
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	a := &Agent{
		auth:        opts.Auth,
		store:       opts.Store,
		assets:      opts.Assets,
		debounce:    opts.Debounce,
		batchSize:   opts.BatchSize,
		origin:      opts.Origin,
		concurrency: opts.Concurrency,
		log:         log,
		deb:         schedule.NewDebouncer(),
		state:       models.SyncState{Phase: models.SyncIdle},
		wake:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	if a.debounce <= 0 {
		a.debounce = DefaultDebounce
	}
	if a.batchSize <= 0 || a.batchSize > remote.MaxBatch {
		a.batchSize = DefaultBatchSize
	}
	if a.origin == "" {
		a.origin = DefaultOrigin
	}
	if a.concurrency <= 0 {
		a.concurrency = defaultConcurrency
	}
	return a
}

// Start signs in. On failure the agent stays inert for the life of the process.
// Concurrent and repeated calls sign in at most once.
func (a *Agent) Start(ctx context.Context) error {
	a.startMu.Lock()
	defer a.startMu.Unlock()
	if a.auth == nil || a.store == nil {
		a.setState(models.SyncState{Phase: models.SyncOffline})
		return ErrNotSignedIn
	}
	if a.UID() != "" {
		return nil
	}
	if a.startErr != nil {
		return a.startErr
	}
	id, err := a.auth.SignIn(ctx)
	if err != nil {
		logging.LogError(a.log, "Start", "anonymous sign-in", nil, err)
		a.setState(models.SyncState{Phase: models.SyncError, Error: AuthFailedMessage})
		a.startErr = fmt.Errorf("sign in: %w", err)
		return a.startErr
	}
	a.mu.Lock()
	a.uid = id.UID
	a.mu.Unlock()
	a.log.WithField("uid", id.UID).Info("signed in")
	go a.settingsLoop()
	return nil
}

// UID returns the signed-in user id, empty before a successful Start.
func (a *Agent) UID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.uid
}

func (a *Agent) State() models.SyncState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Subscribe registers fn for every state change.
func (a *Agent) Subscribe(fn func(models.SyncState)) func() {
	return a.bus.Subscribe(fn)
}

func (a *Agent) setState(s models.SyncState) {
	a.mu.Lock()
	if s.LastSynced.IsZero() {
		s.LastSynced = a.state.LastSynced
	}
	a.state = s
	a.mu.Unlock()
	a.bus.Publish(s)
}

// succeeded records a finished write. The phase stays syncing while other
// invoice writes are waiting or running.
func (a *Agent) succeeded() {
	a.mu.Lock()
	s := models.SyncState{Phase: models.SyncIdle, LastSynced: time.Now()}
	if a.busyLocked() {
		s.Phase = models.SyncSyncing
	}
	a.state = s
	a.mu.Unlock()
	a.bus.Publish(s)
}

func (a *Agent) busyLocked() bool {
	return a.inflight > 0 || a.deb.Len() > 0
}

func (a *Agent) markSyncing() {
	a.mu.Lock()
	if !a.busyLocked() {
		a.mu.Unlock()
		return
	}
	s := models.SyncState{Phase: models.SyncSyncing, LastSynced: a.state.LastSynced}
	a.state = s
	a.mu.Unlock()
	a.bus.Publish(s)
}

func (a *Agent) failed(funcName string, err error) {
	logging.LogError(a.log, funcName, "remote write", nil, err)
	a.setState(models.SyncState{Phase: models.SyncError, Error: err.Error()})
}

// RequestInvoiceSync schedules a write of d. Requests for the same session
// within the debounce window collapse into one write of the latest draft.
func (a *Agent) RequestInvoiceSync(d models.InvoiceDraft) {
	uid := a.UID()
	if uid == "" || d.SessionID == "" {
		return
	}
	d = d.Clone()
	a.deb.Schedule("invoice:"+d.SessionID, a.debounce, func() {
		a.mu.Lock()
		a.inflight++
		a.mu.Unlock()
		err := a.writeInvoice(uid, d)
		a.mu.Lock()
		a.inflight--
		a.mu.Unlock()
		if err != nil {
			a.failed("RequestInvoiceSync", err)
			return
		}
		a.succeeded()
	})
	a.markSyncing()
}

func (a *Agent) writeInvoice(uid string, d models.InvoiceDraft) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	doc, err := a.document(d)
	if err != nil {
		return err
	}
	return a.store.Merge(ctx, remote.InvoicePath(uid, d.SessionID), doc)
}

// SyncSettings queues s for writing. Only the latest queued value is written.
func (a *Agent) SyncSettings(s models.Settings) {
	if a.UID() == "" {
		return
	}
	a.setState(models.SyncState{Phase: models.SyncSyncing})
	c := s.Clone()
	a.smu.Lock()
	a.pending = &c
	a.smu.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *Agent) settingsLoop() {
	defer close(a.done)
	for {
		select {
		case <-a.wake:
			a.writeSettings()
		case <-a.stop:
			a.writeSettings()
			return
		}
	}
}

func (a *Agent) writeSettings() {
	a.smu.Lock()
	s := a.pending
	a.pending = nil
	a.smu.Unlock()
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	uid := a.UID()
	doc, err := a.document(s.WithoutLogo(0))
	if err != nil {
		a.failed("SyncSettings", err)
		return
	}
	switch {
	case s.Logo == "":
		doc["logo"] = ""
	case a.assets != nil:
		ref, err := a.uploadLogo(ctx, uid, s.Logo)
		if err != nil {
			logging.LogWarn(a.log, "SyncSettings", "logo upload skipped", err)
		} else {
			doc["logo"] = ""
			doc["logoRef"] = ref
		}
	default:
		doc["logo"] = s.Logo
	}
	if err := a.store.Merge(ctx, remote.SettingsPath(uid), doc); err != nil {
		a.failed("SyncSettings", err)
		return
	}
	a.succeeded()
}

// uploadLogo skips the upload when the logo has not changed since the last one.
func (a *Agent) uploadLogo(ctx context.Context, uid, logo string) (string, error) {
	a.mu.Lock()
	if logo == a.lastLogo && a.logoRef != "" {
		ref := a.logoRef
		a.mu.Unlock()
		return ref, nil
	}
	a.mu.Unlock()

	ref, err := a.assets.PutLogo(ctx, uid, logo)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	a.lastLogo, a.logoRef = logo, ref
	a.mu.Unlock()
	return ref, nil
}

// ForceBackupAll writes every draft now, in atomic batches of the configured
// size. Every batch is attempted even after one fails.
func (a *Agent) ForceBackupAll(ctx context.Context, drafts []models.InvoiceDraft) BackupReport {
	uid := a.UID()
	if uid == "" {
		return BackupReport{Failed: len(drafts), Err: ErrNotSignedIn}
	}
	if len(drafts) == 0 {
		return BackupReport{}
	}
	a.setState(models.SyncState{Phase: models.SyncSyncing})

	var (
		mu     sync.Mutex
		report BackupReport
	)
	g := new(errgroup.Group)
	g.SetLimit(a.concurrency)
	for start := 0; start < len(drafts); start += a.batchSize {
		chunk := drafts[start:min(start+a.batchSize, len(drafts))]
		g.Go(func() error {
			err := a.writeChunk(ctx, uid, chunk)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed += len(chunk)
				if report.Err == nil {
					report.Err = err
				}
				return nil
			}
			report.Written += len(chunk)
			return nil
		})
	}
	_ = g.Wait()

	if report.Err != nil {
		a.failed("ForceBackupAll", report.Err)
	} else {
		a.succeeded()
	}
	a.log.WithFields(logrus.Fields{"written": report.Written, "failed": report.Failed}).Info("backup finished")
	return report
}

func (a *Agent) writeChunk(ctx context.Context, uid string, chunk []models.InvoiceDraft) error {
	writes := make([]remote.Write, 0, len(chunk))
	for _, d := range chunk {
		if d.SessionID == "" {
			return errors.New("draft without session id")
		}
		doc, err := a.document(d)
		if err != nil {
			return err
		}
		writes = append(writes, remote.Write{Path: remote.InvoicePath(uid, d.SessionID), Data: doc})
	}
	return a.store.MergeBatch(ctx, writes)
}

// document converts v to its remote field map plus the sync metadata.
func (a *Agent) document(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	doc := map[string]any{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	doc["updatedAt"] = remote.ServerTimestamp
	doc["_syncedFrom"] = a.origin
	return doc, nil
}

// Close runs pending debounced writes and the queued settings write.
// Later requests are written at once.
func (a *Agent) Close(ctx context.Context) error {
	a.deb.Close()
	started := a.UID() != ""
	a.once.Do(func() { close(a.stop) })
	if !started {
		return nil
	}
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
