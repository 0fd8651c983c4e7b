package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dvloznov/bill-importer/internal/domain"
)

// reportContent is the stored body of a report. Keys and timestamps live in
// their own columns.
type reportContent struct {
	OverallAnalysis    string            `json:"overall_analysis"`
	TopExpenses        map[string]string `json:"top_expenses"`
	SpendingPatterns   string            `json:"spending_patterns"`
	ActionableInsights string            `json:"actionable_insights"`
}

// EncodeReportContent serializes the analysis fields of r for a content
// column.
func EncodeReportContent(r domain.Report) ([]byte, error) {
	b, err := json.Marshal(reportContent{
		OverallAnalysis:    r.OverallAnalysis,
		TopExpenses:        r.TopExpenses,
		SpendingPatterns:   r.SpendingPatterns,
		ActionableInsights: r.ActionableInsights,
	})
	if err != nil {
		return nil, fmt.Errorf("EncodeReportContent: %w", err)
	}
	return b, nil
}

// DecodeReportContent rebuilds a report from its key columns and content.
func DecodeReportContent(userID, month string, generatedAt time.Time, content []byte) (*domain.Report, error) {
	var c reportContent
	if err := json.Unmarshal(content, &c); err != nil {
		return nil, fmt.Errorf("DecodeReportContent: bad content for %s/%s: %w", userID, month, err)
	}
	if c.TopExpenses == nil {
		c.TopExpenses = map[string]string{}
	}
	return &domain.Report{
		UserID:             userID,
		Month:              month,
		GeneratedAt:        generatedAt,
		OverallAnalysis:    c.OverallAnalysis,
		TopExpenses:        c.TopExpenses,
		SpendingPatterns:   c.SpendingPatterns,
		ActionableInsights: c.ActionableInsights,
	}, nil
}
