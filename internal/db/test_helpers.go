package db

import (
	"path/filepath"
	"testing"
)

// newTestDB creates a throwaway database with the full schema applied,
// baselined at the latest migration version.
func newTestDB(t *testing.T) *DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	// NOTE: Update this when new migrations are added to internal/db/migrations/
	latestMigrationVersion := uint(3)
	if err := database.BaselineAtVersion(latestMigrationVersion); err != nil {
		database.Close()
		t.Fatalf("Failed to baseline migrations: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
	})
	return database
}
