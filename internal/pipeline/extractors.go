package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dvloznov/bill-importer/internal/domain"
	"github.com/dvloznov/bill-importer/internal/llm"
	"github.com/dvloznov/bill-importer/internal/logger"
)

// Extractor turns document text into raw transaction objects.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]domain.RawTransaction, error)
}

// ParseRecorder observes how model replies were interpreted.
type ParseRecorder interface {
	IncrParseOutcome(outcome string)
}

// ModelExtractor asks a language model for the transaction list.
type ModelExtractor struct {
	Completer llm.Completer
	Recorder  ParseRecorder
}

// NewModelExtractor creates an extractor backed by c.
func NewModelExtractor(c llm.Completer) *ModelExtractor {
	return &ModelExtractor{Completer: c}
}

func (m *ModelExtractor) Extract(ctx context.Context, text string) ([]domain.RawTransaction, error) {
	log := logger.FromContext(ctx)

	prompt := BuildExtractionPrompt(text)
	start := time.Now()
	reply, err := m.Completer.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("ModelExtractor.Extract: %w", err)
	}

	res := ParseModelResponse(reply)
	res.LogWarnings(ctx)
	if m.Recorder != nil {
		m.Recorder.IncrParseOutcome(string(res.Outcome))
	}

	log.Debug().
		Str("model", m.Completer.Name()).
		Int("prompt_chars", len(prompt)).
		Int("reply_chars", len(reply)).
		Str("outcome", string(res.Outcome)).
		Int("transactions", len(res.Transactions)).
		Dur("elapsed", time.Since(start)).
		Msg("Model extraction finished")

	return res.Transactions, nil
}

// incomeHints mark a statement line as money in.
var incomeHints = []string{
	"recebid", "credito", "crédito", "salario", "salário", "deposit",
	"received", "refund", "estorno", "pix recebido", "salary",
}

var ruleLineRe = regexp.MustCompile(
	`^(\d{1,2}/\d{1,2}(?:/\d{2,4})?)\s+(.+?)\s+(-?\s?(?:R\$|\$)?\s?-?\d{1,3}(?:[.,]\d{3})*[.,]\d{2})\s*([CD+-])?$`,
)

// RuleExtractor is a deterministic extractor for statements that list one
// transaction per line as "date description amount". It never calls out.
type RuleExtractor struct {
	// Now supplies the year for dates written without one.
	Now func() time.Time
}

// NewRuleExtractor creates a RuleExtractor using the wall clock.
func NewRuleExtractor() *RuleExtractor {
	return &RuleExtractor{Now: time.Now}
}

func (r *RuleExtractor) Extract(ctx context.Context, text string) ([]domain.RawTransaction, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	year := now().Year()

	out := []domain.RawTransaction{}
	for _, line := range strings.Split(text, "\n") {
		m := ruleLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		dateTok, desc, amountTok, marker := m[1], m[2], m[3], m[4]

		typ := domain.TypeExpense
		lower := strings.ToLower(desc)
		for _, hint := range incomeHints {
			if strings.Contains(lower, hint) {
				typ = domain.TypeIncome
				break
			}
		}
		switch {
		case marker == "C" || marker == "+":
			typ = domain.TypeIncome
		case marker == "D" || marker == "-" || strings.Contains(amountTok, "-"):
			typ = domain.TypeExpense
		}

		raw := domain.RawTransaction{
			"description": desc,
			"amount":      amountTok,
			"type":        string(typ),
		}
		if iso, ok := ruleDate(dateTok, year); ok {
			raw["date"] = iso
		}
		out = append(out, raw)
	}
	return out, nil
}

// ruleDate converts DD/MM, DD/MM/YY or DD/MM/YYYY into ISO form.
func ruleDate(tok string, defaultYear int) (string, bool) {
	parts := strings.Split(tok, "/")
	var day, month, year int
	if _, err := fmt.Sscanf(parts[0]+" "+parts[1], "%d %d", &day, &month); err != nil {
		return "", false
	}
	year = defaultYear
	if len(parts) == 3 {
		if _, err := fmt.Sscanf(parts[2], "%d", &year); err != nil {
			return "", false
		}
		if year < 100 {
			year += 2000
		}
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return "", false
	}
	return t.Format("2006-01-02"), true
}
