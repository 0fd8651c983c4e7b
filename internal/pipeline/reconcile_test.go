package pipeline

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bill-importer/internal/domain"
	"github.com/dvloznov/bill-importer/internal/store"
)

func date(s string) civil.Date {
	d, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func seedProfile(t *testing.T, s store.Store, userID, balance string, anchor *civil.Date, explicit bool) {
	t.Helper()
	b := decimal.RequireFromString(balance)
	patch := domain.ProfilePatch{CurrentBalance: &b, BalanceSetDate: anchor, AnchorExplicit: &explicit}
	if err := s.WriteProfile(context.Background(), userID, patch); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
}

func raw(d string, amount float64, typ string) domain.RawTransaction {
	return domain.RawTransaction{"description": "tx " + d, "amount": amount, "type": typ, "date": d}
}

func TestReconcile_EstablishesAnchorOnFirstImport(t *testing.T) {
	s := newMockStore()
	r := NewReconciler(s, 1)

	res, err := r.Reconcile(context.Background(), "u1", []domain.RawTransaction{
		raw("2025-06-10", 100, "income"),
		raw("2025-06-20", 30, "expense"),
	}, processingDay)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if !res.NewBalance.Equal(decimal.NewFromInt(70)) {
		t.Errorf("NewBalance = %s, want 70", res.NewBalance)
	}
	if res.ImportedCount != 2 {
		t.Errorf("ImportedCount = %d, want 2", res.ImportedCount)
	}

	p, _ := s.ReadProfile(context.Background(), "u1")
	if p == nil || p.BalanceSetDate == nil || *p.BalanceSetDate != date("2025-06-10") {
		t.Fatalf("anchor = %+v, want 2025-06-10", p)
	}
	if !p.AnchorExplicit {
		t.Error("anchor should be marked explicit")
	}
	if !p.CurrentBalance.Equal(decimal.NewFromInt(70)) {
		t.Errorf("stored balance = %s, want 70", p.CurrentBalance)
	}
}

func TestReconcile_AnchorRules(t *testing.T) {
	anchor := date("2025-07-01")

	tests := []struct {
		name        string
		batch       []domain.RawTransaction
		wantBalance string
		wantApplied []bool
	}{
		{
			name:        "pre-anchor transaction is recorded but does not move the balance",
			batch:       []domain.RawTransaction{raw("2025-06-15", 40, "expense")},
			wantBalance: "500",
			wantApplied: []bool{false},
		},
		{
			name: "post-anchor transactions move the balance",
			batch: []domain.RawTransaction{
				raw("2025-07-05", 200, "income"),
				raw("2025-07-10", 50, "expense"),
			},
			wantBalance: "650",
			wantApplied: []bool{true, true},
		},
		{
			name:        "transaction on the anchor date counts",
			batch:       []domain.RawTransaction{raw("2025-07-01", 25, "expense")},
			wantBalance: "475",
			wantApplied: []bool{true},
		},
		{
			name: "mixed batch",
			batch: []domain.RawTransaction{
				raw("2024-01-01", 999, "income"),
				raw("2025-07-02", 100, "income"),
			},
			wantBalance: "600",
			wantApplied: []bool{false, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newMockStore()
			a := anchor
			seedProfile(t, s, "u1", "500", &a, true)

			res, err := NewReconciler(s, 1).Reconcile(context.Background(), "u1", tt.batch, processingDay)
			if err != nil {
				t.Fatalf("Reconcile: %v", err)
			}
			if !res.NewBalance.Equal(decimal.RequireFromString(tt.wantBalance)) {
				t.Errorf("NewBalance = %s, want %s", res.NewBalance, tt.wantBalance)
			}

			txs, _ := s.ListTransactions(context.Background(), "u1", store.TransactionFilter{})
			if len(txs) != len(tt.batch) {
				t.Fatalf("persisted %d transactions, want %d", len(txs), len(tt.batch))
			}
			applied := map[string]bool{}
			for _, tx := range txs {
				applied[tx.Date.String()] = tx.BalanceApplied
			}
			for i, b := range tt.batch {
				if applied[b["date"].(string)] != tt.wantApplied[i] {
					t.Errorf("BalanceApplied for %s = %v, want %v", b["date"], applied[b["date"].(string)], tt.wantApplied[i])
				}
			}

			p, _ := s.ReadProfile(context.Background(), "u1")
			if *p.BalanceSetDate != anchor {
				t.Errorf("anchor moved to %s", p.BalanceSetDate)
			}
		})
	}
}

func TestReconcile_EmptyBatchIsNoOp(t *testing.T) {
	s := newMockStore()
	anchor := date("2025-07-01")
	seedProfile(t, s, "u1", "500", &anchor, true)
	s.profileWrites = 0

	res, err := NewReconciler(s, 1).Reconcile(context.Background(), "u1", nil, processingDay)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !res.Empty || res.ImportedCount != 0 {
		t.Errorf("result = %+v, want empty", res)
	}
	if !res.NewBalance.Equal(decimal.NewFromInt(500)) {
		t.Errorf("NewBalance = %s, want 500", res.NewBalance)
	}
	if s.profileWrites != 0 || s.txWrites != 0 {
		t.Errorf("store was written: %d profile, %d transaction writes", s.profileWrites, s.txWrites)
	}
}

func TestReconcile_EmptyBatchWithoutProfileCreatesNothing(t *testing.T) {
	s := newMockStore()
	res, err := NewReconciler(s, 1).Reconcile(context.Background(), "u1", []domain.RawTransaction{}, processingDay)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !res.NewBalance.IsZero() || res.BalanceSetDate != nil {
		t.Errorf("result = %+v", res)
	}
	if p, _ := s.ReadProfile(context.Background(), "u1"); p != nil {
		t.Errorf("profile created: %+v", p)
	}
}

func TestReconcile_LegacyAnchorIsTreatedAsToday(t *testing.T) {
	s := newMockStore()
	legacy := date("2020-01-01")
	seedProfile(t, s, "u1", "1000", &legacy, false)

	res, err := NewReconciler(s, 1).Reconcile(context.Background(), "u1", []domain.RawTransaction{
		raw("2025-07-10", 100, "expense"), // before today: history
		raw("2025-07-15", 20, "expense"),  // today: applied
	}, processingDay)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !res.NewBalance.Equal(decimal.NewFromInt(980)) {
		t.Errorf("NewBalance = %s, want 980", res.NewBalance)
	}

	p, _ := s.ReadProfile(context.Background(), "u1")
	if *p.BalanceSetDate != processingDay {
		t.Errorf("anchor = %s, want %s", p.BalanceSetDate, processingDay)
	}
	if !p.AnchorExplicit {
		t.Error("adopted anchor should now be explicit")
	}
}

func TestReconcile_PartialFailureReportsSucceeded(t *testing.T) {
	for _, concurrency := range []int{1, 4} {
		s := newMockStore()
		anchor := date("2025-07-01")
		seedProfile(t, s, "u1", "500", &anchor, true)

		boom := errors.New("quota exceeded")
		s.CreateTransactionFunc = func(ctx context.Context, userID string, tx domain.Transaction) error {
			if tx.Description == "tx 2025-07-03" {
				return boom
			}
			return s.Memory.CreateTransaction(ctx, userID, tx)
		}

		res, err := NewReconciler(s, concurrency).Reconcile(context.Background(), "u1", []domain.RawTransaction{
			raw("2025-07-02", 100, "income"),
			raw("2025-07-03", 50, "expense"),
			raw("2025-07-04", 10, "expense"),
		}, processingDay)

		var ie *ImportError
		if !errors.As(err, &ie) || ie.Kind != KindPersistence {
			t.Fatalf("concurrency %d: err = %v, want persistence ImportError", concurrency, err)
		}
		if ie.Succeeded != 2 || res.ImportedCount != 2 {
			t.Errorf("concurrency %d: Succeeded = %d, ImportedCount = %d, want 2", concurrency, ie.Succeeded, res.ImportedCount)
		}
		if !errors.Is(err, boom) {
			t.Errorf("concurrency %d: cause lost: %v", concurrency, err)
		}

		// 500 + 100 - 10: the failed expense never landed.
		p, _ := s.ReadProfile(context.Background(), "u1")
		if !p.CurrentBalance.Equal(decimal.NewFromInt(590)) {
			t.Errorf("concurrency %d: stored balance = %s, want 590", concurrency, p.CurrentBalance)
		}
	}
}

func TestReconcile_ProfileWriteFailure(t *testing.T) {
	s := newMockStore()
	s.WriteProfileFunc = func(ctx context.Context, userID string, patch domain.ProfilePatch) error {
		return errors.New("connection reset")
	}

	res, err := NewReconciler(s, 1).Reconcile(context.Background(), "u1", []domain.RawTransaction{
		raw("2025-07-02", 100, "income"),
	}, processingDay)

	var ie *ImportError
	if !errors.As(err, &ie) || ie.Kind != KindPersistence {
		t.Fatalf("err = %v, want persistence ImportError", err)
	}
	if ie.Succeeded != 1 || res.ImportedCount != 1 {
		t.Errorf("Succeeded = %d, want 1", ie.Succeeded)
	}
}

func TestReconcile_ReadProfileFailure(t *testing.T) {
	s := newMockStore()
	s.ReadProfileFunc = func(ctx context.Context, userID string) (*domain.Profile, error) {
		return nil, errors.New("unavailable")
	}

	_, err := NewReconciler(s, 1).Reconcile(context.Background(), "u1", []domain.RawTransaction{raw("2025-07-02", 1, "income")}, processingDay)
	if !IsPersistence(err) {
		t.Fatalf("err = %v, want persistence", err)
	}
	if s.txWrites != 0 {
		t.Errorf("wrote %d transactions after failing to read the profile", s.txWrites)
	}
}

func TestReconcile_CancelledContextStopsFurtherWrites(t *testing.T) {
	s := newMockStore()
	ctx, cancel := context.WithCancel(context.Background())
	s.CreateTransactionFunc = func(c context.Context, userID string, tx domain.Transaction) error {
		err := s.Memory.CreateTransaction(c, userID, tx)
		cancel()
		return err
	}

	res, err := NewReconciler(s, 1).Reconcile(ctx, "u1", []domain.RawTransaction{
		raw("2025-07-02", 100, "income"),
		raw("2025-07-03", 40, "expense"),
	}, processingDay)
	if !IsPersistence(err) {
		t.Fatalf("err = %v, want persistence", err)
	}
	if res.ImportedCount != 1 {
		t.Errorf("ImportedCount = %d, want 1", res.ImportedCount)
	}

	// The write that landed is still reflected in the profile.
	p, _ := s.ReadProfile(context.Background(), "u1")
	if p == nil || !p.CurrentBalance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("profile = %+v, want balance 100", p)
	}
}
