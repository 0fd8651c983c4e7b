package pipeline

import (
	"testing"
)

const twoTransactions = `[
  {"description": "Supermercado", "amount": 250.75, "type": "expense", "category": "Food", "date": "2025-06-27"},
  {"description": "Salário", "amount": 3000, "type": "income", "category": "Salary"}
]`

func TestParseModelResponse(t *testing.T) {
	tests := []struct {
		name         string
		reply        string
		wantOutcome  Outcome
		wantCount    int
		wantWarnings int
	}{
		{
			name:        "bare array",
			reply:       twoTransactions,
			wantOutcome: OutcomeParsed,
			wantCount:   2,
		},
		{
			name:        "json code fence",
			reply:       "```json\n" + twoTransactions + "\n```",
			wantOutcome: OutcomeParsed,
			wantCount:   2,
		},
		{
			name:        "prose around fence",
			reply:       "Here are the transactions I found:\n```\n" + twoTransactions + "\n```\nLet me know if you need anything else.",
			wantOutcome: OutcomeParsed,
			wantCount:   2,
		},
		{
			name:        "prose without fence",
			reply:       "Sure! " + twoTransactions + " Hope this helps.",
			wantOutcome: OutcomeParsed,
			wantCount:   2,
		},
		{
			name:        "nested array inside an object",
			reply:       `[{"description": "Split", "amount": 10, "tags": [{"k": "v"}]}, {"description": "Next", "amount": 2}]`,
			wantOutcome: OutcomeParsed,
			wantCount:   2,
		},
		{
			name:        "no array in prose",
			reply:       "I could not find any transactions in this document.",
			wantOutcome: OutcomeNoArray,
		},
		{
			name:        "empty array",
			reply:       "[]",
			wantOutcome: OutcomeNoArray,
		},
		{
			name:         "truncated output",
			reply:        `[{"description": "Padaria", "amount": 12.5}, {"description": "Farm}]`,
			wantOutcome:  OutcomeMalformed,
			wantWarnings: 1,
		},
		{
			name:         "object instead of array",
			reply:        `{"description": "Padaria", "amount": 12.5}`,
			wantOutcome:  OutcomeNotArray,
			wantWarnings: 1,
		},
		{
			name:         "non-object elements are skipped",
			reply:        `[{"description": "A", "amount": 1}, 42, "x", {"description": "B", "amount": 2}]`,
			wantOutcome:  OutcomeParsed,
			wantCount:    2,
			wantWarnings: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseModelResponse(tt.reply)
			if got.Transactions == nil {
				t.Fatal("Transactions must never be nil")
			}
			if got.Outcome != tt.wantOutcome {
				t.Errorf("Outcome = %q, want %q", got.Outcome, tt.wantOutcome)
			}
			if len(got.Transactions) != tt.wantCount {
				t.Errorf("got %d transactions, want %d", len(got.Transactions), tt.wantCount)
			}
			if len(got.Warnings) != tt.wantWarnings {
				t.Errorf("got %d warnings (%v), want %d", len(got.Warnings), got.Warnings, tt.wantWarnings)
			}
		})
	}
}

func TestParseModelResponse_RecoversExactObjects(t *testing.T) {
	got := ParseModelResponse("Result:\n```json\n" + twoTransactions + "\n```")
	if len(got.Transactions) != 2 {
		t.Fatalf("got %d transactions", len(got.Transactions))
	}
	first := got.Transactions[0]
	if first["description"] != "Supermercado" || first["amount"] != 250.75 || first["date"] != "2025-06-27" {
		t.Errorf("first transaction = %v", first)
	}
	if got.Transactions[1]["type"] != "income" {
		t.Errorf("second transaction = %v", got.Transactions[1])
	}
}

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"```json\n[1]\n```", "[1]"},
		{"```\n[]\n```", "[]"},
		{"  [] ", "[]"},
		{"```", "```"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := cleanModelJSON(tt.in); got != tt.want {
				t.Errorf("cleanModelJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
