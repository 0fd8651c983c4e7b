package pipeline

import (
	"context"
	"sync"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/bill-importer/internal/domain"
	"github.com/dvloznov/bill-importer/internal/logger"
	"github.com/dvloznov/bill-importer/internal/store"
)

// ImportResult is what a successful (or partially successful) import reports.
type ImportResult struct {
	ImportedCount  int             `json:"imported_count"`
	NewBalance     decimal.Decimal `json:"new_balance"`
	BalanceSetDate *civil.Date     `json:"balance_set_date,omitempty"`
	// Empty is set when extraction produced no transactions.
	Empty bool `json:"empty"`
}

// Reconciler persists a batch of transactions and moves the user's running
// balance by those dated on or after the balance anchor.
type Reconciler struct {
	Store store.Store
	// WriteConcurrency bounds parallel transaction writes. Values below 1
	// mean sequential writes.
	WriteConcurrency int
}

// NewReconciler creates a reconciler writing to s.
func NewReconciler(s store.Store, writeConcurrency int) *Reconciler {
	return &Reconciler{Store: s, WriteConcurrency: writeConcurrency}
}

// Reconcile normalizes raws and applies them. See Apply.
func (r *Reconciler) Reconcile(ctx context.Context, userID string, raws []domain.RawTransaction, today civil.Date) (ImportResult, error) {
	return r.Apply(ctx, userID, NormalizeAll(raws, today, userID, domain.SourcePDF), today)
}

// Apply persists txs and updates the profile exactly once after every write
// has been attempted. The stored balance only ever includes transactions
// that were actually written, so a partial failure leaves the profile
// consistent with the persisted set.
func (r *Reconciler) Apply(ctx context.Context, userID string, txs []domain.Transaction, today civil.Date) (ImportResult, error) {
	log := logger.FromContext(ctx)

	profile, err := r.Store.ReadProfile(ctx, userID)
	if err != nil {
		return ImportResult{}, &ImportError{Kind: KindPersistence, Op: "Reconcile: read profile", Err: err}
	}

	var (
		balance  = decimal.Zero
		anchor   *civil.Date
		explicit bool
	)
	if profile != nil {
		balance = profile.CurrentBalance
		anchor = profile.BalanceSetDate
		explicit = profile.AnchorExplicit
	}

	if len(txs) == 0 {
		return ImportResult{NewBalance: balance, BalanceSetDate: anchor, Empty: true}, nil
	}

	switch {
	case anchor == nil:
		earliest := earliestDate(txs)
		anchor = &earliest
		log.Info().Str("user_id", userID).Str("balance_set_date", earliest.String()).Msg("Established balance anchor from batch")
	case !explicit:
		t := today
		anchor = &t
		log.Info().Str("user_id", userID).Str("balance_set_date", today.String()).Msg("Legacy balance anchor reset to today")
	}

	for i := range txs {
		txs[i].UserID = userID
		txs[i].BalanceApplied = !txs[i].Date.Before(*anchor)
	}

	written, delta, writeErr := r.writeAll(ctx, userID, txs)
	balance = balance.Add(delta)

	// The profile must reflect writes that already landed even if the
	// caller went away.
	explicitAnchor := true
	patch := domain.ProfilePatch{
		CurrentBalance: &balance,
		BalanceSetDate: anchor,
		AnchorExplicit: &explicitAnchor,
	}
	if err := r.Store.WriteProfile(context.WithoutCancel(ctx), userID, patch); err != nil {
		return ImportResult{ImportedCount: written}, &ImportError{
			Kind:      KindPersistence,
			Op:        "Reconcile: write profile",
			Succeeded: written,
			Err:       err,
		}
	}

	result := ImportResult{ImportedCount: written, NewBalance: balance, BalanceSetDate: anchor}
	if writeErr != nil {
		log.Error().Err(writeErr).Str("user_id", userID).Int("succeeded", written).Int("total", len(txs)).Msg("Batch partially persisted")
		return result, &ImportError{
			Kind:      KindPersistence,
			Op:        "Reconcile: create transaction",
			Succeeded: written,
			Err:       writeErr,
		}
	}
	return result, nil
}

// writeAll attempts every write and returns how many landed, the signed sum
// of the landed balance-moving transactions and the first write error.
func (r *Reconciler) writeAll(ctx context.Context, userID string, txs []domain.Transaction) (int, decimal.Decimal, error) {
	var (
		mu       sync.Mutex
		written  int
		delta    = decimal.Zero
		firstErr error
	)

	limit := r.WriteConcurrency
	if limit < 1 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)

	for _, tx := range txs {
		tx := tx
		g.Go(func() error {
			err := ctx.Err()
			if err == nil {
				err = r.Store.CreateTransaction(ctx, userID, tx)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return nil
			}
			written++
			if tx.BalanceApplied {
				delta = delta.Add(tx.Signed())
			}
			return nil
		})
	}
	_ = g.Wait()

	return written, delta, firstErr
}

func earliestDate(txs []domain.Transaction) civil.Date {
	earliest := txs[0].Date
	for _, tx := range txs[1:] {
		if tx.Date.Before(earliest) {
			earliest = tx.Date
		}
	}
	return earliest
}
