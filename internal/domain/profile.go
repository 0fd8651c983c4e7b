package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Profile is the per-user balance state.
//
// CurrentBalance equals the balance at BalanceSetDate plus the signed sum of
// every persisted transaction dated on or after BalanceSetDate.
type Profile struct {
	UserID         string          `json:"user_id"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	BalanceSetDate *civil.Date     `json:"balance_set_date,omitempty"`

	// AnchorExplicit marks an anchor established by an anchoring event
	// (first import or a manual balance update). Profiles written by older
	// clients carry a date without this flag.
	AnchorExplicit bool `json:"anchor_explicit"`

	MonthlyBudget decimal.Decimal `json:"monthly_budget"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ProfilePatch is a merge update. Nil fields are left untouched.
type ProfilePatch struct {
	CurrentBalance *decimal.Decimal `json:"current_balance,omitempty"`
	BalanceSetDate *civil.Date      `json:"balance_set_date,omitempty"`
	AnchorExplicit *bool            `json:"anchor_explicit,omitempty"`
	MonthlyBudget  *decimal.Decimal `json:"monthly_budget,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p ProfilePatch) Empty() bool {
	return p.CurrentBalance == nil && p.BalanceSetDate == nil && p.AnchorExplicit == nil && p.MonthlyBudget == nil
}

// Apply merges the patch into a copy of the profile.
func (p ProfilePatch) Apply(profile Profile) Profile {
	if p.CurrentBalance != nil {
		profile.CurrentBalance = *p.CurrentBalance
	}
	if p.BalanceSetDate != nil {
		d := *p.BalanceSetDate
		profile.BalanceSetDate = &d
	}
	if p.AnchorExplicit != nil {
		profile.AnchorExplicit = *p.AnchorExplicit
	}
	if p.MonthlyBudget != nil {
		profile.MonthlyBudget = *p.MonthlyBudget
	}
	return profile
}
