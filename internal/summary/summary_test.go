package summary

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bill-importer/internal/domain"
	"github.com/dvloznov/bill-importer/internal/store"
)

func tx(id string, day int, amount string, typ domain.TransactionType, c domain.Category) domain.Transaction {
	return domain.Transaction{
		ID:          id,
		UserID:      "u1",
		Description: id,
		Amount:      decimal.RequireFromString(amount),
		Type:        typ,
		Category:    c,
		Date:        civil.Date{Year: 2025, Month: 7, Day: day},
		Source:      domain.SourcePDF,
	}
}

func TestCompute(t *testing.T) {
	txs := []domain.Transaction{
		tx("salary", 5, "3000", domain.TypeIncome, domain.CategorySalary),
		tx("rent", 6, "1500", domain.TypeExpense, domain.CategoryHousing),
		tx("market", 7, "400", domain.TypeExpense, domain.CategoryFood),
		tx("bakery", 8, "100", domain.TypeExpense, domain.CategoryFood),
		tx("bus", 9, "60", domain.TypeExpense, domain.CategoryTransport),
		tx("cinema", 10, "40", domain.TypeExpense, domain.CategoryLeisure),
	}
	profile := &domain.Profile{
		CurrentBalance: decimal.RequireFromString("1234.5"),
		MonthlyBudget:  decimal.RequireFromString("2500"),
	}

	ov := Compute(txs, profile)

	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"income", ov.Income, "3000"},
		{"expense", ov.Expense, "2100"},
		{"net", ov.Net, "900"},
		{"food", ov.ByCategory[domain.CategoryFood], "500"},
		{"remaining budget", ov.RemainingBudget, "400"},
		{"current balance", ov.CurrentBalance, "1234.5"},
	}
	for _, c := range checks {
		if !c.got.Equal(decimal.RequireFromString(c.want)) {
			t.Errorf("%s = %s, want %s", c.name, c.got, c.want)
		}
	}
	if ov.TransactionCount != 6 {
		t.Errorf("TransactionCount = %d", ov.TransactionCount)
	}

	wantTop := []struct {
		category domain.Category
		percent  string
	}{
		{domain.CategoryHousing, "71.43"},
		{domain.CategoryFood, "23.81"},
		{domain.CategoryTransport, "2.86"},
	}
	if len(ov.TopExpenses) != len(wantTop) {
		t.Fatalf("TopExpenses = %+v", ov.TopExpenses)
	}
	for i, w := range wantTop {
		got := ov.TopExpenses[i]
		if got.Category != w.category || !got.Percent.Equal(decimal.RequireFromString(w.percent)) {
			t.Errorf("TopExpenses[%d] = %s %s%%, want %s %s%%", i, got.Category, got.Percent, w.category, w.percent)
		}
	}
}

func TestCompute_NoExpensesNoProfile(t *testing.T) {
	ov := Compute([]domain.Transaction{tx("pix", 1, "10", domain.TypeIncome, domain.CategoryOther)}, nil)
	if len(ov.TopExpenses) != 0 {
		t.Errorf("TopExpenses = %+v, want none", ov.TopExpenses)
	}
	if !ov.CurrentBalance.IsZero() || !ov.RemainingBudget.IsZero() {
		t.Errorf("overview = %+v", ov)
	}
}

func TestCompute_TiesBreakByCategoryName(t *testing.T) {
	ov := Compute([]domain.Transaction{
		tx("a", 1, "10", domain.TypeExpense, domain.CategoryShopping),
		tx("b", 1, "10", domain.TypeExpense, domain.CategoryBills),
	}, nil)
	if ov.TopExpenses[0].Category != domain.CategoryBills {
		t.Errorf("TopExpenses = %+v", ov.TopExpenses)
	}
}

func TestParseMonth(t *testing.T) {
	now := time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		in        string
		wantYear  int
		wantMonth time.Month
		wantErr   bool
	}{
		{"2025-02", 2025, time.February, false},
		{"", 2025, time.July, false},
		{"02/2025", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			y, m, err := ParseMonth(tt.in, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if y != tt.wantYear || m != tt.wantMonth {
				t.Errorf("got %d-%d", y, m)
			}
		})
	}
}

func TestMonthRange(t *testing.T) {
	from, to := MonthRange(2024, time.February)
	if from.String() != "2024-02-01" || to.String() != "2024-02-29" {
		t.Errorf("range = %s..%s", from, to)
	}
	from, to = MonthRange(2025, time.December)
	if from.String() != "2025-12-01" || to.String() != "2025-12-31" {
		t.Errorf("range = %s..%s", from, to)
	}
}

func TestService_MonthlyScopesToMonth(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	june := tx("june", 1, "999", domain.TypeExpense, domain.CategoryFood)
	june.Date = civil.Date{Year: 2025, Month: 6, Day: 30}
	for _, x := range []domain.Transaction{june, tx("july", 1, "50", domain.TypeExpense, domain.CategoryFood)} {
		if err := s.CreateTransaction(ctx, "u1", x); err != nil {
			t.Fatal(err)
		}
	}

	ov, err := NewService(s).Monthly(ctx, "u1", 2025, time.July)
	if err != nil {
		t.Fatalf("Monthly: %v", err)
	}
	if ov.Month != "2025-07" || ov.TransactionCount != 1 || !ov.Expense.Equal(decimal.NewFromInt(50)) {
		t.Errorf("overview = %+v", ov)
	}
}
