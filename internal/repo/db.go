// Package repo is the persistence layer: context-aware free functions over
// a *gorm.DB. This file bootstraps the SQLite database and its schema.
package repo

import (
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/sessantasette/hub-backend/internal/domain"
)

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA foreign_keys=ON;",
	"PRAGMA busy_timeout=5000;",
}

// OpenSQLite opens (or creates) the database at path with WAL mode and a
// small tuned pool. A missing parent directory fails up front rather than
// surfacing as sqlite's opaque "out of memory (14)".
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	for _, pragma := range sqlitePragmas {
		db.Exec(pragma)
	}

	// Query spans ride the global tracer provider; they become no-ops
	// when observability is disabled.
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, nil
}

// AutoMigrate creates or updates the schema for every persisted model.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.Artist{},
		&domain.Post{},
		&domain.PostComment{},
		&domain.PostMedia{},
		&domain.GuidelineSection{},
		&domain.GuidelineItem{},
		&domain.AgentConfig{},
		&domain.ChatSession{},
		&domain.ChatMessage{},
		&domain.DailyUsage{},
		&domain.Idempotency{},
	)
}
