package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/config"
	"github.com/naeimDz/djazairi-invoice-maker-pro/internal/logging"
	"github.com/sirupsen/logrus"
)

var (
	migrateOnlyFlag = flag.Bool("migrate-only", false, "Open and migrate the local store, then exit")
	backupAllFlag   = flag.Bool("backup-all", false, "Push every archived draft to the remote store, then exit")
	totalsFlag      = flag.Bool("totals", false, "Print the totals of the active draft, then exit")
)

func main() {
	flag.Parse()

	// Load environment variables from .env file
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	entry := logging.Module(logger, "main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		entry.WithError(err).Fatal("startup failed")
	}

	if *migrateOnlyFlag {
		if _, err := app.Store.Open(ctx); err != nil {
			entry.WithError(err).Fatal("migration failed")
		}
		entry.Info("migrations completed")
		shutdown(app, entry)
		return
	}

	app.Start(ctx)

	switch {
	case *backupAllFlag:
		report := app.BackupAll(ctx)
		entry.WithFields(logrus.Fields{"written": report.Written, "failed": report.Failed}).Info("backup done")
		shutdown(app, entry)
		if report.Err != nil {
			os.Exit(1)
		}
		return
	case *totalsFlag:
		if err := app.PrintTotals(os.Stdout); err != nil {
			entry.WithError(err).Error("print totals")
		}
		shutdown(app, entry)
		return
	}

	<-ctx.Done()
	entry.Info("shutdown signal received")
	shutdown(app, entry)
}

func shutdown(app *App, entry *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		entry.WithError(err).Error("error during shutdown")
	}
}
