package testsupport

import (
	"testing"

	"mediaminer/internal/batch"
	"mediaminer/internal/config"
)

// MustOpenBatchStore opens the batch progress store for cfg and registers
// cleanup.
func MustOpenBatchStore(t testing.TB, cfg *config.Config) *batch.Store {
	t.Helper()

	store, err := batch.Open(cfg.BatchDBPath())
	if err != nil {
		t.Fatalf("batch.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
