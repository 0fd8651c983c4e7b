package domain

import "time"

// Report is a model-written analysis of one calendar month. Month is
// "YYYY-MM".
type Report struct {
	UserID             string            `json:"user_id"`
	Month              string            `json:"month"`
	GeneratedAt        time.Time         `json:"generated_at"`
	OverallAnalysis    string            `json:"overall_analysis"`
	TopExpenses        map[string]string `json:"top_expenses"`
	SpendingPatterns   string            `json:"spending_patterns"`
	ActionableInsights string            `json:"actionable_insights"`
}
