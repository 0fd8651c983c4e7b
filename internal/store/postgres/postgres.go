// Package postgres persists profiles and transactions in PostgreSQL through
// a pgx connection pool.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bill-importer/internal/domain"
	"github.com/dvloznov/bill-importer/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Store is a PostgreSQL backed store.Store.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New connects to databaseURL, applies migrations and verifies the pool.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	if err := RunMigrations(databaseURL); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("New: failed to parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("New: failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("New: failed to ping database: %w", err)
	}

	return &Store{pool: pool, now: time.Now}, nil
}

// RunMigrations applies every pending up migration.
func RunMigrations(databaseURL string) error {
	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("RunMigrations: failed to open migrations source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, migrateURL(databaseURL))
	if err != nil {
		return fmt.Errorf("RunMigrations: failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("RunMigrations: failed to apply migrations: %w", err)
	}
	return nil
}

// migrateURL switches the scheme to the one the pgx migrate driver registers.
func migrateURL(databaseURL string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, prefix)
		}
	}
	return databaseURL
}

func (s *Store) ReadProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	query, args, err := psql.Select(
		"current_balance::text", "balance_set_date", "anchor_explicit", "monthly_budget::text", "updated_at",
	).
		From("profiles").
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("ReadProfile: failed to build query: %w", err)
	}

	var (
		balance, budget string
		anchor          *time.Time
		p               = domain.Profile{UserID: userID}
	)
	err = s.pool.QueryRow(ctx, query, args...).Scan(&balance, &anchor, &p.AnchorExplicit, &budget, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ReadProfile: failed to query profile: %w", err)
	}

	if p.CurrentBalance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("ReadProfile: bad current_balance %q: %w", balance, err)
	}
	if p.MonthlyBudget, err = decimal.NewFromString(budget); err != nil {
		return nil, fmt.Errorf("ReadProfile: bad monthly_budget %q: %w", budget, err)
	}
	if anchor != nil {
		d := civil.DateOf(*anchor)
		p.BalanceSetDate = &d
	}
	return &p, nil
}

func (s *Store) WriteProfile(ctx context.Context, userID string, patch domain.ProfilePatch) error {
	columns := []string{"user_id", "updated_at"}
	values := []interface{}{userID, s.now().UTC()}

	if patch.CurrentBalance != nil {
		columns = append(columns, "current_balance")
		values = append(values, squirrel.Expr("?::numeric", patch.CurrentBalance.String()))
	}
	if patch.BalanceSetDate != nil {
		columns = append(columns, "balance_set_date")
		values = append(values, squirrel.Expr("?::date", patch.BalanceSetDate.String()))
	}
	if patch.AnchorExplicit != nil {
		columns = append(columns, "anchor_explicit")
		values = append(values, *patch.AnchorExplicit)
	}
	if patch.MonthlyBudget != nil {
		columns = append(columns, "monthly_budget")
		values = append(values, squirrel.Expr("?::numeric", patch.MonthlyBudget.String()))
	}

	sets := make([]string, 0, len(columns)-1)
	for _, c := range columns[1:] {
		sets = append(sets, c+" = EXCLUDED."+c)
	}

	query, args, err := psql.Insert("profiles").
		Columns(columns...).
		Values(values...).
		Suffix("ON CONFLICT (user_id) DO UPDATE SET " + strings.Join(sets, ", ")).
		ToSql()
	if err != nil {
		return fmt.Errorf("WriteProfile: failed to build query: %w", err)
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("WriteProfile: failed to upsert profile: %w", err)
	}
	return nil
}

func (s *Store) CreateTransaction(ctx context.Context, userID string, tx domain.Transaction) error {
	query, args, err := psql.Insert("transactions").
		Columns("id", "user_id", "description", "amount", "type", "category", "date", "source", "balance_applied", "created_at").
		Values(
			tx.ID, userID, tx.Description,
			squirrel.Expr("?::numeric", tx.Amount.String()),
			string(tx.Type), string(tx.Category),
			squirrel.Expr("?::date", tx.Date.String()),
			string(tx.Source), tx.BalanceApplied, tx.CreatedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("CreateTransaction: failed to build query: %w", err)
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("CreateTransaction: failed to insert transaction: %w", err)
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, filter store.TransactionFilter) ([]domain.Transaction, error) {
	builder := psql.Select(
		"id::text", "user_id", "description", "amount::text", "type", "category",
		"date", "source", "balance_applied", "created_at",
	).
		From("transactions").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("date DESC", "created_at DESC")

	if filter.From != nil {
		builder = builder.Where(squirrel.Expr("date >= ?::date", filter.From.String()))
	}
	if filter.To != nil {
		builder = builder.Where(squirrel.Expr("date <= ?::date", filter.To.String()))
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

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var (
			tx                    domain.Transaction
			amount, typ, cat, src string
			date                  time.Time
		)
		if err := rows.Scan(
			&tx.ID, &tx.UserID, &tx.Description, &amount, &typ, &cat,
			&date, &src, &tx.BalanceApplied, &tx.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ListTransactions: failed to scan row: %w", err)
		}
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("ListTransactions: bad amount %q: %w", amount, err)
		}
		tx.Date = civil.DateOf(date)
		tx.Type = domain.TransactionType(typ)
		tx.Category = domain.Category(cat)
		tx.Source = domain.Source(src)
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListTransactions: failed to iterate rows: %w", err)
	}
	return out, nil
}

func (s *Store) ReadReport(ctx context.Context, userID, month string) (*domain.Report, error) {
	query, args, err := psql.Select("generated_at", "content::text").
		From("reports").
		Where(squirrel.Eq{"user_id": userID, "month": month}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("ReadReport: failed to build query: %w", err)
	}

	var (
		generatedAt time.Time
		content     string
	)
	err = s.pool.QueryRow(ctx, query, args...).Scan(&generatedAt, &content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ReadReport: failed to query report: %w", err)
	}
	return store.DecodeReportContent(userID, month, generatedAt, []byte(content))
}

func (s *Store) WriteReport(ctx context.Context, userID string, report domain.Report) error {
	content, err := store.EncodeReportContent(report)
	if err != nil {
		return err
	}

	query, args, err := psql.Insert("reports").
		Columns("user_id", "month", "generated_at", "content").
		Values(userID, report.Month, report.GeneratedAt, string(content)).
		Suffix("ON CONFLICT (user_id, month) DO UPDATE SET generated_at = EXCLUDED.generated_at, content = EXCLUDED.content").
		ToSql()
	if err != nil {
		return fmt.Errorf("WriteReport: failed to build query: %w", err)
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("WriteReport: failed to upsert report: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

var _ store.Store = (*Store)(nil)
