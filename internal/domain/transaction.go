package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// TransactionType is the direction of a money movement.
type TransactionType string

const (
	TypeExpense TransactionType = "expense"
	TypeIncome  TransactionType = "income"
)

// Source records how a transaction entered the ledger.
type Source string

const (
	SourcePDF    Source = "pdf"
	SourceScan   Source = "scan"
	SourceManual Source = "manual"
)

// DefaultDescription is used when the extracted record carries no description.
const DefaultDescription = "Unidentified transaction"

// Transaction is one normalized financial movement owned by a single user.
// Records are append-only once persisted.
type Transaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"` // never negative; Type carries the sign
	Type        TransactionType `json:"type"`
	Category    Category        `json:"category"`
	Date        civil.Date      `json:"date"`
	Source      Source          `json:"source"`
	CreatedAt   time.Time       `json:"created_at"`

	// BalanceApplied is true when the transaction was dated on/after the
	// balance anchor at import time and therefore moved the balance.
	BalanceApplied bool `json:"balance_applied"`
}

// Signed returns the amount with the sign implied by the transaction type.
func (t Transaction) Signed() decimal.Decimal {
	if t.Type == TypeIncome {
		return t.Amount
	}
	return t.Amount.Neg()
}

// ParseTransactionType maps free text onto a TransactionType.
// Anything that is not recognisably income is an expense.
func ParseTransactionType(s string) TransactionType {
	switch normalizeLabel(s) {
	case "income", "receita", "entrada", "credit", "credito":
		return TypeIncome
	default:
		return TypeExpense
	}
}

// RawTransaction is an unvalidated transaction object as proposed by an extractor.
type RawTransaction map[string]any
