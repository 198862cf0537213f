package testsupport

import (
	"testing"

	"reelay/internal/config"
	"reelay/internal/journal"
)

// MustOpenStore opens a journal store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *journal.SQLiteStore {
	t.Helper()

	store, err := journal.Open(cfg.Paths.JournalPath)
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
