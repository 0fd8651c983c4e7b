package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/dvloznov/bill-importer/internal/store"
	"github.com/dvloznov/bill-importer/internal/store/storetest"
)

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := New(ctx, url)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := s.pool.Exec(ctx, "TRUNCATE profiles, transactions"); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@localhost:5432/bills?sslmode=disable", "pgx5://u:p@localhost:5432/bills?sslmode=disable"},
		{"postgresql://localhost/bills", "pgx5://localhost/bills"},
		{"pgx5://localhost/bills", "pgx5://localhost/bills"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := migrateURL(tt.in); got != tt.want {
				t.Errorf("migrateURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
