package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/bill-importer/internal/domain"
)

func TestBuildExtractionPrompt(t *testing.T) {
	text := "05/07 UBER *TRIP R$ 18,40"
	prompt := BuildExtractionPrompt(text)

	mustContain := []string{
		text,
		`"description"`, `"amount"`, `"type"`, `"category"`, `"date"`,
		"YYYY-MM-DD",
		"decimal separator",
		"Available limit",
		"ALWAYS takes precedence",
		"return an empty array: []",
		"ONLY the raw JSON array",
	}
	for _, c := range domain.Categories {
		mustContain = append(mustContain, `"`+string(c)+`"`)
	}

	for _, want := range mustContain {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt is missing %q", want)
		}
	}
}

func TestBuildExtractionPrompt_WorksOnRawText(t *testing.T) {
	raw := "BANCO\n\nsem datas aqui"
	if !strings.Contains(BuildExtractionPrompt(raw), raw) {
		t.Error("raw text not embedded")
	}
}

func TestModelExtractor(t *testing.T) {
	t.Run("parses the model reply", func(t *testing.T) {
		var gotPrompt string
		c := &MockCompleter{CompleteFunc: func(ctx context.Context, prompt string) (string, error) {
			gotPrompt = prompt
			return "```json\n[{\"description\": \"Padaria\", \"amount\": 12.5}]\n```", nil
		}}
		raws, err := NewModelExtractor(c).Extract(context.Background(), "12/06 PADARIA 12,50")
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if len(raws) != 1 || raws[0]["description"] != "Padaria" {
			t.Errorf("raws = %v", raws)
		}
		if !strings.Contains(gotPrompt, "12/06 PADARIA 12,50") {
			t.Error("prompt does not carry the document text")
		}
	})

	t.Run("model failure is returned", func(t *testing.T) {
		boom := errors.New("429 quota")
		c := &MockCompleter{CompleteFunc: func(ctx context.Context, prompt string) (string, error) {
			return "", boom
		}}
		_, err := NewModelExtractor(c).Extract(context.Background(), "x")
		if !errors.Is(err, boom) {
			t.Errorf("err = %v, want %v", err, boom)
		}
	})

	t.Run("prose reply is an empty batch", func(t *testing.T) {
		c := &MockCompleter{CompleteFunc: func(ctx context.Context, prompt string) (string, error) {
			return "No transactions were found.", nil
		}}
		raws, err := NewModelExtractor(c).Extract(context.Background(), "x")
		if err != nil || len(raws) != 0 {
			t.Errorf("raws = %v, err = %v", raws, err)
		}
	})
}

type countingParseRecorder struct {
	outcomes []string
}

func (c *countingParseRecorder) IncrParseOutcome(outcome string) {
	c.outcomes = append(c.outcomes, outcome)
}

func TestModelExtractor_RecordsOutcome(t *testing.T) {
	rec := &countingParseRecorder{}
	m := &ModelExtractor{
		Completer: &MockCompleter{CompleteFunc: func(ctx context.Context, prompt string) (string, error) {
			return `{"oops": true}`, nil
		}},
		Recorder: rec,
	}
	if _, err := m.Extract(context.Background(), "x"); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(rec.outcomes) != 1 || rec.outcomes[0] != string(OutcomeNotArray) {
		t.Errorf("outcomes = %v", rec.outcomes)
	}
}

func TestRuleExtractor(t *testing.T) {
	r := &RuleExtractor{Now: func() time.Time { return time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC) }}
	text := strings.Join([]string{
		"EXTRATO JULHO 2025",
		"01/07 PIX RECEBIDO FULANO R$ 100,00",
		"03/07/2025 PADARIA CENTRAL -23,90",
		"05/07/25 ESTACIONAMENTO 1.234,56 D",
		"10/07 REEMBOLSO EMPRESA 50,00 C",
		"Saldo anterior 500,00",
		"31/02 DATA INVALIDA 1,00",
	}, "\n")

	raws, err := r.Extract(context.Background(), text)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(raws) != 5 {
		t.Fatalf("got %d transactions, want 5: %v", len(raws), raws)
	}

	want := []struct {
		desc string
		typ  string
		date interface{}
	}{
		{"PIX RECEBIDO FULANO", "income", "2025-07-01"},
		{"PADARIA CENTRAL", "expense", "2025-07-03"},
		{"ESTACIONAMENTO", "expense", "2025-07-05"},
		{"REEMBOLSO EMPRESA", "income", "2025-07-10"},
		{"DATA INVALIDA", "expense", nil},
	}
	for i, w := range want {
		got := raws[i]
		if got["description"] != w.desc || got["type"] != w.typ || got["date"] != w.date {
			t.Errorf("raws[%d] = %v, want %+v", i, got, w)
		}
	}

	tx := Normalize(raws[2], processingDay, "u1")
	if tx.Amount.String() != "1234.56" {
		t.Errorf("amount = %s, want 1234.56", tx.Amount)
	}
}
