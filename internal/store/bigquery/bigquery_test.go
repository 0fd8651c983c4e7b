package bigquery

import (
	"context"
	"math/big"
	"os"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bill-importer/internal/domain"
	"github.com/dvloznov/bill-importer/internal/store"
	"github.com/dvloznov/bill-importer/internal/store/storetest"
)

func TestProfileMerge(t *testing.T) {
	now := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	balance := decimal.RequireFromString("70")
	anchor := civil.Date{Year: 2025, Month: 6, Day: 10}

	tests := []struct {
		name        string
		patch       domain.ProfilePatch
		wantSets    []string
		wantParams  int
		wantDefault string
	}{
		{
			name:        "empty patch only touches updated_ts",
			patch:       domain.ProfilePatch{},
			wantSets:    []string{"updated_ts = @updated_ts"},
			wantParams:  2,
			wantDefault: "NUMERIC '0'",
		},
		{
			name:       "balance and anchor",
			patch:      domain.ProfilePatch{CurrentBalance: &balance, BalanceSetDate: &anchor},
			wantSets:   []string{"current_balance = @current_balance", "balance_set_date = @balance_set_date"},
			wantParams: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params := profileMerge("`p.d.profiles`", "u1", tt.patch, now)
			for _, set := range tt.wantSets {
				if !strings.Contains(sql, set) {
					t.Errorf("merge missing %q:\n%s", set, sql)
				}
			}
			if len(params) != tt.wantParams {
				t.Errorf("got %d params, want %d", len(params), tt.wantParams)
			}
			if tt.wantDefault != "" && !strings.Contains(sql, tt.wantDefault) {
				t.Errorf("merge missing default %q", tt.wantDefault)
			}
		})
	}
}

func TestRatToDecimal(t *testing.T) {
	if got := ratToDecimal(nil); !got.IsZero() {
		t.Errorf("nil rat = %s, want 0", got)
	}
	r := new(big.Rat).SetFrac64(12345, 100)
	if got := ratToDecimal(r); !got.Equal(decimal.RequireFromString("123.45")) {
		t.Errorf("ratToDecimal = %s, want 123.45", got)
	}
}

func TestBigQueryStore(t *testing.T) {
	project := os.Getenv("TEST_BIGQUERY_PROJECT")
	dataset := os.Getenv("TEST_BIGQUERY_DATASET")
	if project == "" || dataset == "" {
		t.Skip("TEST_BIGQUERY_PROJECT and TEST_BIGQUERY_DATASET not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		ctx := context.Background()
		s, err := New(ctx, project, dataset)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := s.EnsureSchema(ctx); err != nil {
			t.Fatalf("EnsureSchema: %v", err)
		}
		for _, table := range []string{profilesTable, transactionsTable} {
			job, err := s.client.Query("TRUNCATE TABLE " + s.table(table)).Run(ctx)
			if err == nil {
				_, err = job.Wait(ctx)
			}
			if err != nil {
				t.Fatalf("truncate %s: %v", table, err)
			}
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}
