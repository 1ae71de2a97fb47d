// Package testutil provides the shared sqlite-backed database used by package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mmdatafocus/books_imports/config"
	"github.com/mmdatafocus/books_imports/models"
	"github.com/mmdatafocus/books_imports/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB opens a file-backed sqlite database in t.TempDir, migrates the
// import tables and installs the tenant guard. A single connection keeps
// concurrent tests from tripping over sqlite's writer lock.
func NewTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "imports.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000&_foreign_keys=on"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	if err := db.Use(config.NewTenantGuardPlugin(NewLogger())); err != nil {
		t.Fatalf("install tenant guard: %v", err)
	}
	return db
}

// NewLogger returns a quiet logger for tests.
func NewLogger() *logrus.Logger {
	return config.NewLogger("error")
}

// TenantCtx is a background context scoped to tenantID.
func TenantCtx(tenantID string) context.Context {
	return utils.SetTenantIdInContext(context.Background(), tenantID)
}
