package pipeline

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bill-importer/internal/domain"
)

var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
	"02/01/06",
	time.RFC3339,
}

// Normalize turns an untyped extracted record into a fully typed
// transaction. Every missing or unusable field gets an explicit default so
// later stages never check for absence.
func Normalize(raw domain.RawTransaction, today civil.Date, userID string) domain.Transaction {
	return domain.Transaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Description: normalizeDescription(raw),
		Amount:      normalizeAmount(raw),
		Type:        normalizeType(raw),
		Category:    domain.ParseCategory(getString(raw, "category")),
		Date:        normalizeDate(raw, today),
		Source:      domain.SourcePDF,
		CreatedAt:   time.Now().UTC(),
	}
}

// NormalizeAll normalizes a batch, keeping its order.
func NormalizeAll(raws []domain.RawTransaction, today civil.Date, userID string, source domain.Source) []domain.Transaction {
	out := make([]domain.Transaction, 0, len(raws))
	for _, raw := range raws {
		tx := Normalize(raw, today, userID)
		if source != "" {
			tx.Source = source
		}
		out = append(out, tx)
	}
	return out
}

func normalizeDescription(raw domain.RawTransaction) string {
	desc := strings.TrimSpace(getString(raw, "description"))
	if desc == "" {
		return domain.DefaultDescription
	}
	return desc
}

func normalizeAmount(raw domain.RawTransaction) decimal.Decimal {
	switch v := raw["amount"].(type) {
	case float64:
		return decimal.NewFromFloat(v).Abs()
	case int:
		return decimal.NewFromInt(int64(v)).Abs()
	case int64:
		return decimal.NewFromInt(v).Abs()
	case string:
		d, err := domain.ParseAmount(v)
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}

func normalizeType(raw domain.RawTransaction) domain.TransactionType {
	return domain.ParseTransactionType(getString(raw, "type"))
}

func normalizeDate(raw domain.RawTransaction, today civil.Date) civil.Date {
	s := strings.TrimSpace(getString(raw, "date"))
	if s == "" {
		return today
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t)
		}
	}
	return today
}

// getString reads key as a string. Numbers are formatted, anything else
// reads as empty.
func getString(raw domain.RawTransaction, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%v", v)
	default:
		return ""
	}
}
