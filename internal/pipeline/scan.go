package pipeline

import (
	"encoding/json"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/bill-importer/internal/domain"
)

const (
	scanDescription   = "Scanned data"
	scanPreviewLength = 100
)

// NormalizeScan converts a QR or barcode payload into a raw transaction. A
// JSON object payload supplies its own fields; anything else is recorded as
// a zero-amount expense carrying a preview of the payload.
func NormalizeScan(payload string, today civil.Date) domain.RawTransaction {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &obj); err == nil && obj != nil {
		raw := domain.RawTransaction(obj)
		if strings.TrimSpace(getString(raw, "description")) == "" {
			raw["description"] = scanDescription
		}
		if _, ok := raw["date"]; !ok {
			raw["date"] = today.String()
		}
		return raw
	}

	preview := []rune(payload)
	if len(preview) > scanPreviewLength {
		preview = preview[:scanPreviewLength]
	}
	return domain.RawTransaction{
		"description": scanDescription + ": " + string(preview) + "...",
		"amount":      0.0,
		"type":        string(domain.TypeExpense),
		"category":    string(domain.CategoryOther),
		"date":        today.String(),
	}
}
