package aforo

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// setupStoreTestDB creates a test database with the proper schema from
// schema.sql. This avoids hardcoded CREATE TABLE statements that can
// get out of sync with migrations.
func setupStoreTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			t.Fatalf("Failed to execute %q: %v", pragma, err)
		}
	}

	// Read and execute schema.sql from the db package. From
	// internal/aforo we go up one level to reach internal/db.
	schemaPath := filepath.Join("..", "db", "schema.sql")
	schemaSQL, err := os.ReadFile(schemaPath)
	if err != nil {
		db.Close()
		t.Fatalf("Failed to read schema.sql: %v", err)
	}
	if _, err := db.Exec(string(schemaSQL)); err != nil {
		db.Close()
		t.Fatalf("Failed to execute schema.sql: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// mustInsertDataset creates a dataset row for store tests.
func mustInsertDataset(t *testing.T, db *sql.DB, name string) string {
	t.Helper()
	store := NewDatasetStore(db)
	d := &Dataset{Name: name, BaseMs: 1700000000000}
	if err := store.Insert(d); err != nil {
		t.Fatalf("Insert dataset failed: %v", err)
	}
	return d.ID
}
