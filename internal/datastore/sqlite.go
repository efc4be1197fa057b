package datastore

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/watchtowerhq/watchtower-go/internal/conf"
	"github.com/watchtowerhq/watchtower-go/internal/logging"
)

// Package-level logger for datastore operations
var (
	storeLogger   *slog.Logger
	storeLevelVar = new(slog.LevelVar)
)

func init() {
	var err error
	storeLevelVar.Set(slog.LevelInfo)
	storeLogger, _, err = logging.NewFileLogger("logs/datastore.log", "datastore", storeLevelVar)
	if err != nil || storeLogger == nil {
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: storeLevelVar})
		storeLogger = slog.New(fbHandler).With("service", "datastore")
	}
}

// SQLiteStore implements Interface for SQLite
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

// Open sets up the SQLite database connection. The connection is opened once
// for the process lifetime; PRAGMAs ride on the DSN so write-ahead-log mode,
// foreign key enforcement, the write busy-timeout and the balanced durability
// mode are active before any schema statement runs.
func (store *SQLiteStore) Open() error {
	dbPath := store.Settings.Output.SQLite.Path

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	dsn := dbPath + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=NORMAL"

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Keep a single connection so all writes have a total order, concurrent
	// readers are blocked at most for the configured busy-timeout.
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	store.DB = db

	if err := performAutoMigration(db, store.Settings.Debug, dbPath); err != nil {
		return err
	}

	storeLogger.Info("Event store opened", "path", dbPath)
	return nil
}

// Close releases the database connection. Must run on termination signals so
// the write-ahead log checkpoints cleanly, abrupt termination risks log
// corruption on fragile storage media.
func (store *SQLiteStore) Close() error {
	if store.DB == nil {
		return nil
	}

	sqlDB, err := store.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database handle for close: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close SQLite database: %w", err)
	}

	store.DB = nil
	storeLogger.Info("Event store closed")
	return nil
}

// performAutoMigration automates database migrations with error handling.
// Schema statements are idempotent, running them on every start is safe.
func performAutoMigration(db *gorm.DB, debug bool, connectionInfo string) error {
	if err := db.AutoMigrate(&Event{}, &Detection{}); err != nil {
		return fmt.Errorf("failed to auto-migrate SQLite database: %w", err)
	}

	if debug {
		storeLogger.Debug("SQLite database connection initialized", "path", connectionInfo)
	}

	return nil
}
