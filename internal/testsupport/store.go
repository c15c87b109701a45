package testsupport

import (
	"context"
	"testing"

	"reelhook/internal/config"
	"reelhook/internal/jobs"
)

// MustOpenStore opens a jobs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()
	store, err := jobs.Open(context.Background(), cfg.DatabasePath(), cfg.Paths.JobsDir)
	if err != nil {
		t.Fatalf("open job store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
