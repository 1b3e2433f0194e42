package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/roach88/treesync/internal/progress"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestDocument returns a default document with a few fields changed.
func createTestDocument(coins int, updatedAt int64) progress.Document {
	doc := progress.Default(updatedAt)
	doc.Coins = coins
	return doc
}

// mustPut writes a raw record or fails the test.
func mustPut(t *testing.T, s *Store, key, value string, stamp int64) {
	t.Helper()
	if _, err := s.Put(context.Background(), key, value, stamp); err != nil {
		t.Fatalf("Put(%q) failed: %v", key, err)
	}
}

// getTableIndexes returns the names of all indexes on a table.
func getTableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='index' AND tbl_name=?", table)
	if err != nil {
		t.Fatalf("failed to list indexes: %v", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("failed to scan index name: %v", err)
		}
		names = append(names, name)
	}
	return names
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
