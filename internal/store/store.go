// Package store defines the persistence sink for profiles and transactions
// and an in-memory implementation. Durable backends live in subpackages.
package store

import (
	"context"
	"errors"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/bill-importer/internal/domain"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("not found")

// Store is the document store consumed by the import pipeline. Writes are
// independent; no multi-record atomicity is offered.
type Store interface {
	// ReadProfile returns nil, nil when the user has no profile yet.
	ReadProfile(ctx context.Context, userID string) (*domain.Profile, error)

	// WriteProfile merges patch into the user's profile, creating it if absent.
	WriteProfile(ctx context.Context, userID string, patch domain.ProfilePatch) error

	// CreateTransaction appends a record to the user's transaction collection.
	CreateTransaction(ctx context.Context, userID string, tx domain.Transaction) error

	// ListTransactions returns the user's transactions, newest first.
	ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]domain.Transaction, error)

	// ReadReport returns nil, nil when no report is cached for the month.
	ReadReport(ctx context.Context, userID, month string) (*domain.Report, error)

	// WriteReport replaces the cached report for report.Month.
	WriteReport(ctx context.Context, userID string, report domain.Report) error

	Close() error
}

// TransactionFilter narrows ListTransactions. Zero fields do not filter.
type TransactionFilter struct {
	From     *civil.Date // inclusive
	To       *civil.Date // inclusive
	Type     domain.TransactionType
	Category domain.Category
	Limit    int
}

// Match reports whether tx passes the filter, ignoring Limit.
func (f TransactionFilter) Match(tx domain.Transaction) bool {
	if f.From != nil && tx.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && tx.Date.After(*f.To) {
		return false
	}
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.Category != "" && tx.Category != f.Category {
		return false
	}
	return true
}
