// Package summary aggregates a user's transactions into monthly overviews.
package summary

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bill-importer/internal/domain"
	"github.com/dvloznov/bill-importer/internal/logger"
	"github.com/dvloznov/bill-importer/internal/store"
)

// TopCategories is how many expense categories MonthlyOverview.TopExpenses keeps.
const TopCategories = 3

var hundred = decimal.NewFromInt(100)

// CategoryShare is one category's slice of the month's expenses.
type CategoryShare struct {
	Category domain.Category `json:"category"`
	Total    decimal.Decimal `json:"total"`
	// Percent of total expenses, rounded to 2 decimals.
	Percent decimal.Decimal `json:"percent"`
}

// MonthlyOverview is the dashboard view of one calendar month.
type MonthlyOverview struct {
	UserID           string                              `json:"user_id"`
	Month            string                              `json:"month"`
	Income           decimal.Decimal                     `json:"income"`
	Expense          decimal.Decimal                     `json:"expense"`
	Net              decimal.Decimal                     `json:"net"`
	TransactionCount int                                 `json:"transaction_count"`
	ByCategory       map[domain.Category]decimal.Decimal `json:"expenses_by_category"`
	TopExpenses      []CategoryShare                     `json:"top_expenses"`
	MonthlyBudget    decimal.Decimal                     `json:"monthly_budget"`
	RemainingBudget  decimal.Decimal                     `json:"remaining_budget"`
	// CurrentBalance is the all-time balance from the profile, not a
	// month-scoped figure.
	CurrentBalance decimal.Decimal `json:"current_balance"`
}

// Service builds overviews from a store.
type Service struct {
	store store.Store
}

// NewService creates a summary service over s.
func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// ParseMonth parses a "YYYY-MM" month. An empty string means the month of now.
func ParseMonth(s string, now time.Time) (year int, month time.Month, err error) {
	if s == "" {
		return now.Year(), now.Month(), nil
	}
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return 0, 0, fmt.Errorf("ParseMonth: %q is not YYYY-MM: %w", s, err)
	}
	return t.Year(), t.Month(), nil
}

// MonthRange returns the first and last day of the month.
func MonthRange(year int, month time.Month) (civil.Date, civil.Date) {
	first := civil.Date{Year: year, Month: month, Day: 1}
	last := civil.DateOf(time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC))
	return first, last
}

// Monthly loads the month's transactions and the profile and computes the overview.
func (s *Service) Monthly(ctx context.Context, userID string, year int, month time.Month) (MonthlyOverview, error) {
	from, to := MonthRange(year, month)

	txs, err := s.store.ListTransactions(ctx, userID, store.TransactionFilter{From: &from, To: &to})
	if err != nil {
		return MonthlyOverview{}, fmt.Errorf("Monthly: list transactions: %w", err)
	}
	profile, err := s.store.ReadProfile(ctx, userID)
	if err != nil {
		return MonthlyOverview{}, fmt.Errorf("Monthly: read profile: %w", err)
	}

	ov := Compute(txs, profile)
	ov.UserID = userID
	ov.Month = fmt.Sprintf("%04d-%02d", year, int(month))

	log := logger.FromContext(ctx)
	log.Debug().
		Str("user_id", userID).
		Str("month", ov.Month).
		Int("transaction_count", ov.TransactionCount).
		Msg("Computed monthly overview")
	return ov, nil
}

// Compute aggregates txs, which the caller has already scoped to a month.
// profile may be nil.
func Compute(txs []domain.Transaction, profile *domain.Profile) MonthlyOverview {
	ov := MonthlyOverview{
		ByCategory:  map[domain.Category]decimal.Decimal{},
		TopExpenses: []CategoryShare{},
	}

	for _, tx := range txs {
		ov.TransactionCount++
		switch tx.Type {
		case domain.TypeIncome:
			ov.Income = ov.Income.Add(tx.Amount)
		case domain.TypeExpense:
			ov.Expense = ov.Expense.Add(tx.Amount)
			ov.ByCategory[tx.Category] = ov.ByCategory[tx.Category].Add(tx.Amount)
		}
	}
	ov.Net = ov.Income.Sub(ov.Expense)
	ov.TopExpenses = topShares(ov.ByCategory, ov.Expense, TopCategories)

	if profile != nil {
		ov.CurrentBalance = profile.CurrentBalance
		ov.MonthlyBudget = profile.MonthlyBudget
	}
	ov.RemainingBudget = ov.MonthlyBudget.Sub(ov.Expense)
	return ov
}

func topShares(byCategory map[domain.Category]decimal.Decimal, total decimal.Decimal, n int) []CategoryShare {
	shares := make([]CategoryShare, 0, len(byCategory))
	if total.IsZero() {
		return shares
	}
	for c, amount := range byCategory {
		shares = append(shares, CategoryShare{
			Category: c,
			Total:    amount,
			Percent:  amount.Div(total).Mul(hundred).Round(2),
		})
	}
	sort.Slice(shares, func(i, j int) bool {
		if !shares[i].Total.Equal(shares[j].Total) {
			return shares[i].Total.GreaterThan(shares[j].Total)
		}
		return shares[i].Category < shares[j].Category
	})
	if len(shares) > n {
		shares = shares[:n]
	}
	return shares
}
