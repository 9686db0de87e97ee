// Package dbtest opens throwaway migrated databases for package tests.
package dbtest

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/exemi-au/exemi/internal/database"
)

// Open returns a migrated SQLite database in t.TempDir, closed when the
// test ends.
func Open(t testing.TB) *database.DB {
	t.Helper()
	url := filepath.Join(t.TempDir(), "exemi_test.db")
	db, err := database.OpenAndMigrate(context.Background(), url, Logger())
	if err != nil {
		t.Fatalf("OpenAndMigrate(%q): %v", url, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Logger discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
