// Package backend opens the configured store implementation.
package backend

import (
	"context"
	"fmt"

	"github.com/dvloznov/bill-importer/internal/config"
	"github.com/dvloznov/bill-importer/internal/store"
	"github.com/dvloznov/bill-importer/internal/store/bigquery"
	"github.com/dvloznov/bill-importer/internal/store/postgres"
	"github.com/dvloznov/bill-importer/internal/store/sqlite"
)

// Open returns the store selected by cfg.Backend. SQL backends are migrated
// before they are returned; BigQuery tables are created when missing.
func Open(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewMemory(), nil
	case "sqlite":
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("Open: sqlite: %w", err)
		}
		return s, nil
	case "postgres":
		s, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("Open: postgres: %w", err)
		}
		return s, nil
	case "bigquery":
		s, err := bigquery.New(ctx, cfg.BigQueryProject, cfg.BigQueryDataset)
		if err != nil {
			return nil, fmt.Errorf("Open: bigquery: %w", err)
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("Open: bigquery: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("Open: unknown store backend %q", cfg.Backend)
	}
}
