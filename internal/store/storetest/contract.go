// Package storetest holds a behavioural test suite shared by every Store
// backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bill-importer/internal/domain"
	"github.com/dvloznov/bill-importer/internal/store"
)

// Tx builds a transaction for tests.
func Tx(date string, amount string, typ domain.TransactionType, cat domain.Category) domain.Transaction {
	d, err := civil.ParseDate(date)
	if err != nil {
		panic(err)
	}
	return domain.Transaction{
		ID:          uuid.NewString(),
		Description: "test " + date,
		Amount:      decimal.RequireFromString(amount),
		Type:        typ,
		Category:    cat,
		Date:        d,
		Source:      domain.SourcePDF,
		CreatedAt:   time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC),
	}
}

// Run exercises a Store implementation. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Helper()

	t.Run("absent profile reads as nil", func(t *testing.T) {
		s := newStore(t)
		p, err := s.ReadProfile(context.Background(), "nobody")
		if err != nil {
			t.Fatalf("ReadProfile: %v", err)
		}
		if p != nil {
			t.Errorf("expected nil profile, got %+v", p)
		}
	})

	t.Run("write profile merges patches", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		balance := decimal.RequireFromString("500.25")
		anchor := civil.Date{Year: 2025, Month: 7, Day: 1}
		explicit := true
		if err := s.WriteProfile(ctx, "u1", domain.ProfilePatch{
			CurrentBalance: &balance,
			BalanceSetDate: &anchor,
			AnchorExplicit: &explicit,
		}); err != nil {
			t.Fatalf("WriteProfile: %v", err)
		}

		budget := decimal.NewFromInt(1200)
		if err := s.WriteProfile(ctx, "u1", domain.ProfilePatch{MonthlyBudget: &budget}); err != nil {
			t.Fatalf("WriteProfile budget: %v", err)
		}

		p, err := s.ReadProfile(ctx, "u1")
		if err != nil || p == nil {
			t.Fatalf("ReadProfile: %v, %v", p, err)
		}
		if !p.CurrentBalance.Equal(balance) {
			t.Errorf("CurrentBalance = %s, want %s", p.CurrentBalance, balance)
		}
		if p.BalanceSetDate == nil || *p.BalanceSetDate != anchor {
			t.Errorf("BalanceSetDate = %v, want %v", p.BalanceSetDate, anchor)
		}
		if !p.AnchorExplicit {
			t.Error("AnchorExplicit lost after second patch")
		}
		if !p.MonthlyBudget.Equal(budget) {
			t.Errorf("MonthlyBudget = %s, want %s", p.MonthlyBudget, budget)
		}
	})

	t.Run("transactions are listed newest first and filtered", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		txs := []domain.Transaction{
			Tx("2025-06-10", "100", domain.TypeIncome, domain.CategorySalary),
			Tx("2025-06-20", "30.50", domain.TypeExpense, domain.CategoryFood),
			Tx("2025-07-02", "12", domain.TypeExpense, domain.CategoryTransport),
		}
		for _, tx := range txs {
			if err := s.CreateTransaction(ctx, "u1", tx); err != nil {
				t.Fatalf("CreateTransaction: %v", err)
			}
		}
		if err := s.CreateTransaction(ctx, "u2", Tx("2025-06-15", "1", domain.TypeExpense, domain.CategoryOther)); err != nil {
			t.Fatalf("CreateTransaction other user: %v", err)
		}

		all, err := s.ListTransactions(ctx, "u1", store.TransactionFilter{})
		if err != nil {
			t.Fatalf("ListTransactions: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("got %d transactions, want 3", len(all))
		}
		if all[0].Date.String() != "2025-07-02" || all[2].Date.String() != "2025-06-10" {
			t.Errorf("unexpected order: %s, %s, %s", all[0].Date, all[1].Date, all[2].Date)
		}
		if !all[1].Amount.Equal(decimal.RequireFromString("30.50")) {
			t.Errorf("amount round trip = %s", all[1].Amount)
		}
		if all[1].Category != domain.CategoryFood || all[1].Type != domain.TypeExpense {
			t.Errorf("category/type round trip = %s/%s", all[1].Category, all[1].Type)
		}
		if all[0].UserID != "u1" {
			t.Errorf("UserID = %q", all[0].UserID)
		}

		from := civil.Date{Year: 2025, Month: 6, Day: 15}
		to := civil.Date{Year: 2025, Month: 6, Day: 30}
		june, err := s.ListTransactions(ctx, "u1", store.TransactionFilter{From: &from, To: &to})
		if err != nil {
			t.Fatalf("ListTransactions range: %v", err)
		}
		if len(june) != 1 || june[0].Date.String() != "2025-06-20" {
			t.Errorf("range filter returned %v", june)
		}

		income, err := s.ListTransactions(ctx, "u1", store.TransactionFilter{Type: domain.TypeIncome})
		if err != nil {
			t.Fatalf("ListTransactions type: %v", err)
		}
		if len(income) != 1 || income[0].Category != domain.CategorySalary {
			t.Errorf("type filter returned %v", income)
		}

		limited, err := s.ListTransactions(ctx, "u1", store.TransactionFilter{Limit: 2})
		if err != nil {
			t.Fatalf("ListTransactions limit: %v", err)
		}
		if len(limited) != 2 {
			t.Errorf("limit returned %d rows", len(limited))
		}
	})

	t.Run("reports are cached per month and replaced", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		r, err := s.ReadReport(ctx, "u1", "2025-06")
		if err != nil {
			t.Fatalf("ReadReport absent: %v", err)
		}
		if r != nil {
			t.Fatalf("expected nil report, got %+v", r)
		}

		first := domain.Report{
			Month:              "2025-06",
			GeneratedAt:        time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC),
			OverallAnalysis:    "Spending was stable.",
			TopExpenses:        map[string]string{"Food": "R$ 30.50 (71.76%)"},
			SpendingPatterns:   "Mostly groceries.",
			ActionableInsights: "Cook at home twice more a week.",
		}
		if err := s.WriteReport(ctx, "u1", first); err != nil {
			t.Fatalf("WriteReport: %v", err)
		}
		july := first
		july.Month = "2025-07"
		july.OverallAnalysis = "July"
		if err := s.WriteReport(ctx, "u1", july); err != nil {
			t.Fatalf("WriteReport july: %v", err)
		}

		second := first
		second.OverallAnalysis = "Spending went up."
		second.GeneratedAt = first.GeneratedAt.Add(time.Hour)
		if err := s.WriteReport(ctx, "u1", second); err != nil {
			t.Fatalf("WriteReport replace: %v", err)
		}

		got, err := s.ReadReport(ctx, "u1", "2025-06")
		if err != nil || got == nil {
			t.Fatalf("ReadReport: %v, %v", got, err)
		}
		if got.OverallAnalysis != "Spending went up." {
			t.Errorf("OverallAnalysis = %q, want the replacement", got.OverallAnalysis)
		}
		if !got.GeneratedAt.Equal(second.GeneratedAt) {
			t.Errorf("GeneratedAt = %v, want %v", got.GeneratedAt, second.GeneratedAt)
		}
		if got.TopExpenses["Food"] != "R$ 30.50 (71.76%)" {
			t.Errorf("TopExpenses = %v", got.TopExpenses)
		}
		if got.UserID != "u1" || got.Month != "2025-06" {
			t.Errorf("keys = %s/%s", got.UserID, got.Month)
		}

		other, err := s.ReadReport(ctx, "u2", "2025-06")
		if err != nil {
			t.Fatalf("ReadReport other user: %v", err)
		}
		if other != nil {
			t.Errorf("report leaked to another user: %+v", other)
		}
	})
}
