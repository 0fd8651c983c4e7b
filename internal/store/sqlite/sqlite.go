// Package sqlite persists profiles and transactions in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/dvloznov/bill-importer/internal/domain"
	"github.com/dvloznov/bill-importer/internal/store"
)

var transactionColumns = []string{
	"id", "user_id", "description", "amount", "type", "category",
	"date", "source", "balance_applied", "created_at",
}

// Store is a SQLite backed store.Store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (creating if needed) the database at path and migrates it.
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("New: failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("New: failed to open sqlite database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("New: failed to set busy timeout: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) ReadProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	query, args, err := squirrel.Select(
		"current_balance", "balance_set_date", "anchor_explicit", "monthly_budget", "updated_at",
	).
		From("profiles").
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("ReadProfile: failed to build query: %w", err)
	}

	var (
		balance, budget, updatedAt string
		anchor                     sql.NullString
		explicit                   bool
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&balance, &anchor, &explicit, &budget, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ReadProfile: failed to query profile: %w", err)
	}

	p := &domain.Profile{UserID: userID, AnchorExplicit: explicit}
	if p.CurrentBalance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("ReadProfile: bad current_balance %q: %w", balance, err)
	}
	if p.MonthlyBudget, err = decimal.NewFromString(budget); err != nil {
		return nil, fmt.Errorf("ReadProfile: bad monthly_budget %q: %w", budget, err)
	}
	if anchor.Valid {
		d, err := civil.ParseDate(anchor.String)
		if err != nil {
			return nil, fmt.Errorf("ReadProfile: bad balance_set_date %q: %w", anchor.String, err)
		}
		p.BalanceSetDate = &d
	}
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return p, nil
}

func (s *Store) WriteProfile(ctx context.Context, userID string, patch domain.ProfilePatch) error {
	columns := []string{"user_id", "updated_at"}
	values := []interface{}{userID, s.now().UTC().Format(time.RFC3339Nano)}

	if patch.CurrentBalance != nil {
		columns = append(columns, "current_balance")
		values = append(values, patch.CurrentBalance.String())
	}
	if patch.BalanceSetDate != nil {
		columns = append(columns, "balance_set_date")
		values = append(values, patch.BalanceSetDate.String())
	}
	if patch.AnchorExplicit != nil {
		columns = append(columns, "anchor_explicit")
		values = append(values, *patch.AnchorExplicit)
	}
	if patch.MonthlyBudget != nil {
		columns = append(columns, "monthly_budget")
		values = append(values, patch.MonthlyBudget.String())
	}

	query, args, err := squirrel.Insert("profiles").
		Columns(columns...).
		Values(values...).
		Suffix(upsertSuffix(columns[1:])).
		ToSql()
	if err != nil {
		return fmt.Errorf("WriteProfile: failed to build query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("WriteProfile: failed to upsert profile: %w", err)
	}
	return nil
}

func (s *Store) CreateTransaction(ctx context.Context, userID string, tx domain.Transaction) error {
	query, args, err := squirrel.Insert("transactions").
		Columns(transactionColumns...).
		Values(
			tx.ID, userID, tx.Description, tx.Amount.String(), string(tx.Type), string(tx.Category),
			tx.Date.String(), string(tx.Source), tx.BalanceApplied, tx.CreatedAt.UTC().Format(time.RFC3339Nano),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("CreateTransaction: failed to build query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("CreateTransaction: failed to insert transaction: %w", err)
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, filter store.TransactionFilter) ([]domain.Transaction, error) {
	builder := squirrel.Select(transactionColumns...).
		From("transactions").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("date DESC", "created_at DESC")

	if filter.From != nil {
		builder = builder.Where(squirrel.GtOrEq{"date": filter.From.String()})
	}
	if filter.To != nil {
		builder = builder.Where(squirrel.LtOrEq{"date": filter.To.String()})
	}
	if filter.Type != "" {
		builder = builder.Where(squirrel.Eq{"type": string(filter.Type)})
	}
	if filter.Category != "" {
		builder = builder.Where(squirrel.Eq{"category": string(filter.Category)})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: failed to build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var (
			tx                    domain.Transaction
			amount, typ, cat, src string
			date, createdAt       string
		)
		if err := rows.Scan(
			&tx.ID, &tx.UserID, &tx.Description, &amount, &typ, &cat,
			&date, &src, &tx.BalanceApplied, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("ListTransactions: failed to scan row: %w", err)
		}
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("ListTransactions: bad amount %q: %w", amount, err)
		}
		if tx.Date, err = civil.ParseDate(date); err != nil {
			return nil, fmt.Errorf("ListTransactions: bad date %q: %w", date, err)
		}
		tx.Type = domain.TransactionType(typ)
		tx.Category = domain.Category(cat)
		tx.Source = domain.Source(src)
		tx.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListTransactions: failed to iterate rows: %w", err)
	}
	return out, nil
}

func (s *Store) ReadReport(ctx context.Context, userID, month string) (*domain.Report, error) {
	query, args, err := squirrel.Select("generated_at", "content").
		From("reports").
		Where(squirrel.Eq{"user_id": userID, "month": month}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("ReadReport: failed to build query: %w", err)
	}

	var generatedAt, content string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&generatedAt, &content)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ReadReport: failed to query report: %w", err)
	}

	at, _ := time.Parse(time.RFC3339Nano, generatedAt)
	return store.DecodeReportContent(userID, month, at, []byte(content))
}

func (s *Store) WriteReport(ctx context.Context, userID string, report domain.Report) error {
	content, err := store.EncodeReportContent(report)
	if err != nil {
		return err
	}

	query, args, err := squirrel.Insert("reports").
		Columns("user_id", "month", "generated_at", "content").
		Values(userID, report.Month, report.GeneratedAt.UTC().Format(time.RFC3339Nano), string(content)).
		Suffix("ON CONFLICT (user_id, month) DO UPDATE SET generated_at = excluded.generated_at, content = excluded.content").
		ToSql()
	if err != nil {
		return fmt.Errorf("WriteReport: failed to build query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("WriteReport: failed to upsert report: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// upsertSuffix builds the conflict clause that overwrites only the given
// columns.
func upsertSuffix(columns []string) string {
	sets := make([]string, len(columns))
	for i, c := range columns {
		sets[i] = c + " = excluded." + c
	}
	return "ON CONFLICT (user_id) DO UPDATE SET " + strings.Join(sets, ", ")
}

var _ store.Store = (*Store)(nil)
