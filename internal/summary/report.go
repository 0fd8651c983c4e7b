package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/bill-importer/internal/domain"
	"github.com/dvloznov/bill-importer/internal/llm"
	"github.com/dvloznov/bill-importer/internal/logger"
	"github.com/dvloznov/bill-importer/internal/store"
)

var (
	// ErrNoTransactions is returned when a report is requested for a month
	// without transactions.
	ErrNoTransactions = errors.New("no transactions in month")

	// ErrMalformedReport is returned when the model reply holds no usable
	// report object.
	ErrMalformedReport = errors.New("model reply is not a report")
)

// Reporter writes model-generated monthly reports and caches one per month.
type Reporter struct {
	store     store.Store
	completer llm.Completer
	now       func() time.Time
}

// NewReporter creates a reporter. now defaults to time.Now.
func NewReporter(s store.Store, c llm.Completer, now func() time.Time) *Reporter {
	if now == nil {
		now = time.Now
	}
	return &Reporter{store: s, completer: c, now: now}
}

// Report returns the cached report for the month, generating and caching one
// when none exists or refresh is set.
func (r *Reporter) Report(ctx context.Context, userID string, year int, month time.Month, refresh bool) (domain.Report, error) {
	key := fmt.Sprintf("%04d-%02d", year, int(month))
	log := logger.FromContext(ctx).With().Str("user_id", userID).Str("month", key).Logger()

	if !refresh {
		cached, err := r.store.ReadReport(ctx, userID, key)
		if err != nil {
			return domain.Report{}, fmt.Errorf("Report: read cache: %w", err)
		}
		if cached != nil {
			log.Debug().Msg("Serving cached report")
			return *cached, nil
		}
	}

	from, to := MonthRange(year, month)
	txs, err := r.store.ListTransactions(ctx, userID, store.TransactionFilter{From: &from, To: &to})
	if err != nil {
		return domain.Report{}, fmt.Errorf("Report: list transactions: %w", err)
	}
	if len(txs) == 0 {
		return domain.Report{}, ErrNoTransactions
	}
	profile, err := r.store.ReadProfile(ctx, userID)
	if err != nil {
		return domain.Report{}, fmt.Errorf("Report: read profile: %w", err)
	}

	prompt := BuildReportPrompt(key, txs, Compute(txs, profile))
	reply, err := r.completer.Complete(ctx, prompt)
	if err != nil {
		return domain.Report{}, fmt.Errorf("Report: %w", err)
	}

	report, err := ParseReport(reply)
	if err != nil {
		log.Warn().Err(err).Str("model", r.completer.Name()).Msg("Model returned an unusable report")
		return domain.Report{}, err
	}
	report.UserID = userID
	report.Month = key
	report.GeneratedAt = r.now().UTC()

	if err := r.store.WriteReport(ctx, userID, report); err != nil {
		return domain.Report{}, fmt.Errorf("Report: write cache: %w", err)
	}
	log.Info().Str("model", r.completer.Name()).Int("transaction_count", len(txs)).Msg("Generated monthly report")
	return report, nil
}

type reportTransaction struct {
	Description string          `json:"description"`
	Amount      json.Number     `json:"amount"`
	Type        string          `json:"type"`
	Date        string          `json:"date"`
	Category    domain.Category `json:"category"`
}

// BuildReportPrompt renders the instruction asking the model to analyse one
// month. ov must be computed from txs.
func BuildReportPrompt(month string, txs []domain.Transaction, ov MonthlyOverview) string {
	rows := make([]reportTransaction, len(txs))
	for i, tx := range txs {
		rows[i] = reportTransaction{
			Description: tx.Description,
			Amount:      json.Number(tx.Amount.StringFixed(2)),
			Type:        string(tx.Type),
			Date:        tx.Date.String(),
			Category:    tx.Category,
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
	data, _ := json.MarshalIndent(rows, "", "  ")

	var b strings.Builder

	b.WriteString("You are a personal finance advisor writing a short monthly report.\n\n")
	b.WriteString("Month: " + month + "\n")
	b.WriteString("Current balance: R$ " + ov.CurrentBalance.StringFixed(2) + "\n")
	b.WriteString("Income this month: R$ " + ov.Income.StringFixed(2) + "\n")
	b.WriteString("Expenses this month: R$ " + ov.Expense.StringFixed(2) + "\n")
	if ov.MonthlyBudget.IsPositive() {
		b.WriteString("Monthly budget: R$ " + ov.MonthlyBudget.StringFixed(2) + "\n")
	}

	if len(ov.TopExpenses) > 0 {
		b.WriteString("\nLargest expense categories:\n")
		for _, s := range ov.TopExpenses {
			b.WriteString(fmt.Sprintf("- %s: R$ %s (%s%%)\n", s.Category, s.Total.StringFixed(2), s.Percent.StringFixed(2)))
		}
	}

	b.WriteString("\nTransactions:\n")
	b.Write(data)
	b.WriteString("\n\n")

	b.WriteString("Reply with ONE JSON object with exactly these keys:\n")
	b.WriteString("- \"overallAnalysis\": string. Two or three sentences on how the month went.\n")
	b.WriteString("- \"topExpenses\": object. Each largest expense category mapped to \"R$ X (Y%)\", using the figures above.\n")
	b.WriteString("- \"spendingPatterns\": string. Recurring or unusual spending you notice.\n")
	b.WriteString("- \"actionableInsights\": string. One or two concrete tips for this user. Do not suggest spreadsheets or external apps.\n\n")
	b.WriteString("Return ONLY the JSON object, with no text before or after it.\n")

	return b.String()
}

type modelReport struct {
	OverallAnalysis    interface{}            `json:"overallAnalysis"`
	TopExpenses        map[string]interface{} `json:"topExpenses"`
	SpendingPatterns   interface{}            `json:"spendingPatterns"`
	ActionableInsights interface{}            `json:"actionableInsights"`
}

// ParseReport reads the first JSON object in reply. Only the analysis fields
// of the returned report are set.
func ParseReport(reply string) (domain.Report, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start == -1 || end < start {
		return domain.Report{}, fmt.Errorf("ParseReport: no object in reply: %w", ErrMalformedReport)
	}

	var m modelReport
	if err := json.Unmarshal([]byte(reply[start:end+1]), &m); err != nil {
		return domain.Report{}, fmt.Errorf("ParseReport: %v: %w", err, ErrMalformedReport)
	}

	report := domain.Report{
		OverallAnalysis:    textOf(m.OverallAnalysis),
		TopExpenses:        make(map[string]string, len(m.TopExpenses)),
		SpendingPatterns:   textOf(m.SpendingPatterns),
		ActionableInsights: textOf(m.ActionableInsights),
	}
	for k, v := range m.TopExpenses {
		report.TopExpenses[k] = textOf(v)
	}
	if report.OverallAnalysis == "" {
		return domain.Report{}, fmt.Errorf("ParseReport: overallAnalysis is empty: %w", ErrMalformedReport)
	}
	return report, nil
}

// textOf flattens a loosely typed JSON value. Lists become one item per line.
func textOf(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := textOf(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return fmt.Sprint(t)
	}
}
