package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/naeimDz/djazairi-invoice-maker-pro/auth"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/cache"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/cloudsync"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/config"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/db"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/logging"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/models"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/remote"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/services"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const migrationLockTTL = 30 * time.Second

// App wires the storage tiers, the sync agent and the managers of one desk.
type App struct {
	cfg *config.Config
	log *logrus.Logger

	Store    *db.Store
	Cache    cache.Cache
	Agent    *cloudsync.Agent
	Settings *services.SettingsManager
	Sessions *services.SessionManager
	History  *services.HistoryIndexer
	Archive  *services.ArchiveService

	langMu      sync.Mutex
	displayLang string

	closers []func() error
}

// NewApp builds every component. Nothing is read or written until Start.
func NewApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	a := &App{cfg: cfg, log: logger}

	storeOpts := db.Options{
		DSN:     cfg.Store.Path,
		Debug:   cfg.Store.Debug,
		Tracing: cfg.Store.Tracing,
		Logger:  logging.Module(logger, "store"),
	}

	switch cfg.Cache.Driver {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		a.closers = append(a.closers, rdb.Close)
		rc, err := cache.NewRedisCache(ctx, rdb, cache.RedisOptions{
			Prefix:        cfg.Cache.Prefix,
			MaxValueBytes: cfg.Cache.QuotaBytes,
			Logger:        logging.Module(logger, "cache"),
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		a.closers = append(a.closers, rc.Close)
		a.Cache = rc
		if cfg.Cache.MigrationLock {
			storeOpts.Locker = cache.NewRedisLocker(rdb, cfg.Cache.Prefix, migrationLockTTL)
		}
	case "memory", "":
		a.Cache = cache.NewMemoryArea(cfg.Cache.QuotaBytes).Tab()
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Cache.Driver)
	}

	a.Store = db.New(storeOpts)
	a.closers = append(a.closers, a.Store.Close)

	docs, assets, err := a.remote(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	agentOpts := cloudsync.Options{
		Debounce:  cfg.Sync.InvoiceDebounce,
		BatchSize: cfg.Sync.BatchSize,
		Origin:    cfg.Sync.Origin,
		Logger:    logging.Module(logger, "cloudsync"),
	}
	if docs != nil {
		provider, err := auth.NewAnonymousProvider(auth.Options{
			Secret:     cfg.Auth.Secret,
			Issuer:     cfg.Auth.Issuer,
			TTL:        cfg.Auth.TTL,
			Store:      a.Store,
			Collection: db.CollectionResources,
			Key:        db.ResourceAuthSession,
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("auth provider: %w", err)
		}
		agentOpts.Auth = provider
		agentOpts.Store = docs
		if assets != nil {
			agentOpts.Assets = assets
		}
	}
	a.Agent = cloudsync.New(agentOpts)

	a.Settings = services.NewSettingsManager(ctx, services.SettingsOptions{
		Cache:  a.Cache,
		Store:  a.Store,
		Syncer: a.Agent,
		Logger: logging.Module(logger, "settings"),
	})
	a.History = services.NewHistoryIndexer(a.Store, a.Settings, logging.Module(logger, "history"))
	a.Sessions = services.NewSessionManager(services.SessionOptions{
		Cache:        a.Cache,
		Store:        a.Store,
		Settings:     a.Settings,
		Syncer:       a.Agent,
		History:      a.History,
		DurableDelay: cfg.Sync.DraftSaveDelay,
		Logger:       logging.Module(logger, "session"),
	})
	a.Archive = services.NewArchiveService(a.Store, a.Cache, a.Sessions)
	return a, nil
}

// remote builds the configured document store and asset store. Both are nil
// when replication is off.
func (a *App) remote(ctx context.Context) (remote.DocumentStore, *remote.GCSAssets, error) {
	rc := a.cfg.Remote
	var docs remote.DocumentStore
	switch rc.Driver {
	case "none", "":
		return nil, nil, nil
	case "memory":
		docs = remote.NewMemoryStore()
	case "postgres":
		conn, err := db.ConnectRemote(ctx, rc.DatabaseDSN, db.RemoteOptions{
			Migrations: rc.Migrations,
			Debug:      a.cfg.Store.Debug,
			Logger:     logging.Module(a.log, "remote"),
		})
		if err != nil {
			return nil, nil, err
		}
		s, err := remote.NewSQLStore(conn, remote.SQLOptions{})
		if err != nil {
			return nil, nil, err
		}
		docs = s
	case "firestore":
		creds, err := readCredentials(rc.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		s, err := remote.NewFirestoreStore(ctx, rc.ProjectID, creds)
		if err != nil {
			return nil, nil, err
		}
		docs = s
	default:
		return nil, nil, fmt.Errorf("unknown remote driver %q", rc.Driver)
	}
	a.closers = append(a.closers, docs.Close)

	if rc.AssetBucket == "" {
		return docs, nil, nil
	}
	creds, err := readCredentials(rc.CredentialsFile)
	if err != nil {
		return nil, nil, err
	}
	assets, err := remote.NewGCSAssets(ctx, rc.AssetBucket, creds)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, assets.Close)
	return docs, assets, nil
}

func readCredentials(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read credentials %s: %w", path, err)
	}
	return string(raw), nil
}

// Start signs the agent in and resumes the active session. A failed sign-in
// only disables replication.
func (a *App) Start(ctx context.Context) models.InvoiceDraft {
	log := logging.Module(a.log, "app")
	a.Agent.Subscribe(func(s models.SyncState) {
		log.WithFields(logrus.Fields{"status": s.Phase, "error": s.Error}).Debug("sync state")
	})
	if err := a.Agent.Start(ctx); err != nil {
		log.WithError(err).Warn("remote sync disabled")
	}
	select {
	case <-a.Settings.Ready():
	case <-ctx.Done():
	}
	d := a.Sessions.Open(ctx)
	a.langMu.Lock()
	a.displayLang = a.cfg.App.DisplayLanguage
	a.langMu.Unlock()
	log.WithFields(logrus.Fields{"sessionId": d.SessionID, "uid": a.Agent.UID()}).Info("session opened")
	return d
}

// SetDisplayLanguage records a display language change. The open draft
// follows it unless its language was chosen by hand. Repeating the current
// display language changes nothing.
func (a *App) SetDisplayLanguage(ctx context.Context, lang string) models.InvoiceDraft {
	a.langMu.Lock()
	changed := lang != a.displayLang
	a.displayLang = lang
	a.langMu.Unlock()
	if changed {
		a.Sessions.FollowDisplayLanguage(ctx, lang)
	}
	return a.Sessions.Draft()
}

// BackupAll pushes every archived draft to the remote store.
func (a *App) BackupAll(ctx context.Context) cloudsync.BackupReport {
	a.Sessions.Flush()
	return a.Agent.ForceBackupAll(ctx, a.Archive.All(ctx))
}

// PrintTotals writes the formatted totals of the active draft.
func (a *App) PrintTotals(w io.Writer) error {
	d := a.Sessions.Draft()
	s := a.Settings.Settings()
	f := services.NewFormatter(s, d.InvoiceLang, nil)
	if a.cfg.App.Currency != "" && a.cfg.App.Currency != "DZD" {
		f.Currency = a.cfg.App.Currency
	}
	sum := f.Summarize(services.DraftTotals(d, s), s.VATBehavior, s.DefaultVATRate)

	if _, err := fmt.Fprintf(w, "%s %s\n", d.InvoiceNumber, f.Date(d.InvoiceDate)); err != nil {
		return err
	}
	if sum.ShowBreakdown {
		fmt.Fprintf(w, "%s: %s\n", f.Label("subtotal"), sum.Subtotal)
		fmt.Fprintf(w, "%s: %s\n", f.Label("tax"), sum.Tax)
	}
	_, err := fmt.Fprintf(w, "%s: %s\n", f.Label("grandTotal"), sum.Total)
	return err
}

// Shutdown flushes pending writes of every tier, then closes the stores.
func (a *App) Shutdown(ctx context.Context) error {
	a.Sessions.Close()
	var errs []error
	if err := a.Settings.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("settings: %w", err))
	}
	if err := a.Agent.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sync agent: %w", err))
	}
	errs = append(errs, a.close())
	return errors.Join(errs...)
}

func (a *App) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
