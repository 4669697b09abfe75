package postgres

import (
	"context"
	"os"
	"testing"

	"deployplane/internal/store"
	"deployplane/internal/store/storetest"
)

// TestContract runs the shared store suite against a real database. It needs
// TEST_DATABASE_URL pointing at a disposable database: every subtest
// truncates all deployplane tables.
func TestContract(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	s, err := New(ctx, url)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if _, err := Migrate(s.DB(), nil); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		if _, err := s.DB().ExecContext(ctx, `
			TRUNCATE deploy_jobs, runtime_placements, runtime_nodes, deploy_app_runs RESTART IDENTITY
		`); err != nil {
			t.Fatalf("truncate failed: %v", err)
		}
		return s
	})
}
