package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dvloznov/bill-importer/internal/config"
	"github.com/dvloznov/bill-importer/internal/store"
	"github.com/dvloznov/bill-importer/internal/store/sqlite"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		s, err := Open(ctx, config.StoreConfig{Backend: "memory"})
		if err != nil {
			t.Fatal(err)
		}
		defer s.Close()
		if _, ok := s.(*store.Memory); !ok {
			t.Errorf("got %T, want *store.Memory", s)
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "data", "bills.db")
		s, err := Open(ctx, config.StoreConfig{Backend: "sqlite", SQLitePath: path})
		if err != nil {
			t.Fatal(err)
		}
		defer s.Close()
		if _, ok := s.(*sqlite.Store); !ok {
			t.Errorf("got %T, want *sqlite.Store", s)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if _, err := Open(ctx, config.StoreConfig{Backend: "mongo"}); err == nil {
			t.Error("expected error")
		}
	})
}
