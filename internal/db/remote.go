package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	// registers the postgres database driver for golang-migrate
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/logging"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

//go:embed migrations/*.sql
var remoteMigrations embed.FS

// RemoteOptions configures ConnectRemote.
type RemoteOptions struct {
	Migrations bool
	Retries    int
	RetryDelay time.Duration
	Debug      bool
	Logger     *logrus.Entry
}

// ConnectRemote opens the postgres database backing the remote document store,
// retrying while the server comes up, and applies the embedded SQL migrations.
func ConnectRemote(ctx context.Context, rawDSN string, opts RemoteOptions) (*gorm.DB, error) {
	dsn := NormalizeDSN(rawDSN)
	if dsn == "" {
		return nil, errors.New("remote database DSN is empty")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	if opts.Retries <= 0 {
		opts.Retries = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	logLevel := logger.Silent
	if opts.Debug {
		logLevel = logger.Info
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logLevel)}

	var conn *gorm.DB
	var err error
	for i := 0; i < opts.Retries; i++ {
		conn, err = gorm.Open(postgres.Open(dsn), cfg)
		if err == nil {
			break
		}
		log.WithField("attempt", i+1).Warn("remote database connection failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opts.RetryDelay):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect remote database after retries: %w", err)
	}
	if pingErr := conn.WithContext(ctx).Exec("SELECT 1").Error; pingErr != nil {
		return nil, fmt.Errorf("remote db ping failed: %w", pingErr)
	}
	log.WithField("dsn", MaskDSN(dsn)).Info("remote database connected")

	if opts.Migrations {
		if err := runSQLMigrations(ToURLDSN(dsn)); err != nil {
			return nil, fmt.Errorf("remote sql migrations failed: %w", err)
		}
	}
	return conn, nil
}

// runSQLMigrations applies the embedded migrations with golang-migrate.
func runSQLMigrations(dsn string) error {
	src, err := iofs.New(remoteMigrations, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return err
	}
	defer m.Close()
	if err = m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
