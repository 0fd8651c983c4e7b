// Package bigquery persists profiles and transactions in a BigQuery dataset.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/bill-importer/internal/domain"
	"github.com/dvloznov/bill-importer/internal/store"
)

const (
	profilesTable     = "profiles"
	transactionsTable = "transactions"
	reportsTable      = "reports"

	// ratPrecision is the number of fractional digits kept when converting
	// NUMERIC values back to decimals. BigQuery NUMERIC has scale 9.
	ratPrecision = 9
)

type transactionRow struct {
	TransactionID  string     `bigquery:"transaction_id"`
	UserID         string     `bigquery:"user_id"`
	Description    string     `bigquery:"description"`
	Amount         *big.Rat   `bigquery:"amount"` // NUMERIC
	Type           string     `bigquery:"type"`
	Category       string     `bigquery:"category"`
	Date           civil.Date `bigquery:"transaction_date"`
	Source         string     `bigquery:"source"`
	BalanceApplied bool       `bigquery:"balance_applied"`
	CreatedTS      time.Time  `bigquery:"created_ts"`
}

type profileRow struct {
	UserID         string            `bigquery:"user_id"`
	CurrentBalance *big.Rat          `bigquery:"current_balance"` // NUMERIC
	BalanceSetDate bigquery.NullDate `bigquery:"balance_set_date"`
	AnchorExplicit bool              `bigquery:"anchor_explicit"`
	MonthlyBudget  *big.Rat          `bigquery:"monthly_budget"` // NUMERIC
	UpdatedTS      time.Time         `bigquery:"updated_ts"`
}

type reportRow struct {
	UserID      string    `bigquery:"user_id"`
	Month       string    `bigquery:"month"`
	GeneratedTS time.Time `bigquery:"generated_ts"`
	Content     string    `bigquery:"content"` // JSON
}

// Store is a BigQuery backed store.Store.
type Store struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	now       func() time.Time
}

// New creates a store over projectID.datasetID with a shared client.
func New(ctx context.Context, projectID, datasetID string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("New: creating client: %w", err)
	}
	return &Store{
		client:    client,
		projectID: projectID,
		datasetID: datasetID,
		now:       time.Now,
	}, nil
}

// EnsureSchema creates the profiles, transactions and reports tables when
// they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	tables := map[string]interface{}{
		profilesTable:     profileRow{},
		transactionsTable: transactionRow{},
		reportsTable:      reportRow{},
	}
	for name, row := range tables {
		schema, err := bigquery.InferSchema(row)
		if err != nil {
			return fmt.Errorf("EnsureSchema: inferring %s schema: %w", name, err)
		}
		meta := &bigquery.TableMetadata{Schema: schema}
		if name == transactionsTable {
			meta.TimePartitioning = &bigquery.TimePartitioning{Field: "transaction_date"}
			meta.Clustering = &bigquery.Clustering{Fields: []string{"user_id"}}
		}
		err = s.client.DatasetInProject(s.projectID, s.datasetID).Table(name).Create(ctx, meta)
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
			continue
		}
		if err != nil {
			return fmt.Errorf("EnsureSchema: creating %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) table(name string) string {
	return fmt.Sprintf("`%s.%s.%s`", s.projectID, s.datasetID, name)
}

func (s *Store) ReadProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT
			user_id,
			current_balance,
			balance_set_date,
			anchor_explicit,
			monthly_budget,
			updated_ts
		FROM %s
		WHERE user_id = @user_id
		LIMIT 1
	`, s.table(profilesTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ReadProfile: query read: %w", err)
	}

	var row profileRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ReadProfile: iter next: %w", err)
	}

	p := &domain.Profile{
		UserID:         row.UserID,
		CurrentBalance: ratToDecimal(row.CurrentBalance),
		AnchorExplicit: row.AnchorExplicit,
		MonthlyBudget:  ratToDecimal(row.MonthlyBudget),
		UpdatedAt:      row.UpdatedTS,
	}
	if row.BalanceSetDate.Valid {
		d := row.BalanceSetDate.Date
		p.BalanceSetDate = &d
	}
	return p, nil
}

func (s *Store) WriteProfile(ctx context.Context, userID string, patch domain.ProfilePatch) error {
	sql, params := profileMerge(s.table(profilesTable), userID, patch, s.now().UTC())
	q := s.client.Query(sql)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("WriteProfile: running merge: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("WriteProfile: waiting for merge: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("WriteProfile: merge failed: %w", err)
	}
	return nil
}

// profileMerge builds a MERGE that updates only the patched columns of an
// existing profile and inserts a defaulted row otherwise.
func profileMerge(table, userID string, patch domain.ProfilePatch, now time.Time) (string, []bigquery.QueryParameter) {
	params := []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "updated_ts", Value: now},
	}
	sets := []string{"updated_ts = @updated_ts"}

	// Insert values fall back to the column defaults of a new profile.
	insert := map[string]string{
		"current_balance":  "NUMERIC '0'",
		"balance_set_date": "CAST(NULL AS DATE)",
		"anchor_explicit":  "FALSE",
		"monthly_budget":   "NUMERIC '0'",
	}

	if patch.CurrentBalance != nil {
		params = append(params, bigquery.QueryParameter{Name: "current_balance", Value: patch.CurrentBalance.Rat()})
		sets = append(sets, "current_balance = @current_balance")
		insert["current_balance"] = "@current_balance"
	}
	if patch.BalanceSetDate != nil {
		params = append(params, bigquery.QueryParameter{Name: "balance_set_date", Value: *patch.BalanceSetDate})
		sets = append(sets, "balance_set_date = @balance_set_date")
		insert["balance_set_date"] = "@balance_set_date"
	}
	if patch.AnchorExplicit != nil {
		params = append(params, bigquery.QueryParameter{Name: "anchor_explicit", Value: *patch.AnchorExplicit})
		sets = append(sets, "anchor_explicit = @anchor_explicit")
		insert["anchor_explicit"] = "@anchor_explicit"
	}
	if patch.MonthlyBudget != nil {
		params = append(params, bigquery.QueryParameter{Name: "monthly_budget", Value: patch.MonthlyBudget.Rat()})
		sets = append(sets, "monthly_budget = @monthly_budget")
		insert["monthly_budget"] = "@monthly_budget"
	}

	sql := fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @user_id AS user_id) S
		ON T.user_id = S.user_id
		WHEN MATCHED THEN
			UPDATE SET %s
		WHEN NOT MATCHED THEN
			INSERT (user_id, current_balance, balance_set_date, anchor_explicit, monthly_budget, updated_ts)
			VALUES (@user_id, %s, %s, %s, %s, @updated_ts)
	`, table, strings.Join(sets, ", "),
		insert["current_balance"], insert["balance_set_date"], insert["anchor_explicit"], insert["monthly_budget"])

	return sql, params
}

func (s *Store) CreateTransaction(ctx context.Context, userID string, tx domain.Transaction) error {
	row := &transactionRow{
		TransactionID:  tx.ID,
		UserID:         userID,
		Description:    tx.Description,
		Amount:         tx.Amount.Rat(),
		Type:           string(tx.Type),
		Category:       string(tx.Category),
		Date:           tx.Date,
		Source:         string(tx.Source),
		BalanceApplied: tx.BalanceApplied,
		CreatedTS:      tx.CreatedAt.UTC(),
	}

	inserter := s.client.DatasetInProject(s.projectID, s.datasetID).Table(transactionsTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("CreateTransaction: inserting row: %w", err)
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, filter store.TransactionFilter) ([]domain.Transaction, error) {
	where := []string{"user_id = @user_id"}
	params := []bigquery.QueryParameter{{Name: "user_id", Value: userID}}

	if filter.From != nil {
		where = append(where, "transaction_date >= @from_date")
		params = append(params, bigquery.QueryParameter{Name: "from_date", Value: *filter.From})
	}
	if filter.To != nil {
		where = append(where, "transaction_date <= @to_date")
		params = append(params, bigquery.QueryParameter{Name: "to_date", Value: *filter.To})
	}
	if filter.Type != "" {
		where = append(where, "type = @type")
		params = append(params, bigquery.QueryParameter{Name: "type", Value: string(filter.Type)})
	}
	if filter.Category != "" {
		where = append(where, "category = @category")
		params = append(params, bigquery.QueryParameter{Name: "category", Value: string(filter.Category)})
	}

	query := fmt.Sprintf(`
		SELECT
			transaction_id,
			user_id,
			description,
			amount,
			type,
			category,
			transaction_date,
			source,
			balance_applied,
			created_ts
		FROM %s
		WHERE %s
		ORDER BY transaction_date DESC, created_ts DESC
	`, s.table(transactionsTable), strings.Join(where, " AND "))
	if filter.Limit > 0 {
		query += fmt.Sprintf("LIMIT %d", filter.Limit)
	}

	q := s.client.Query(query)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: query read: %w", err)
	}

	var out []domain.Transaction
	for {
		var r transactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListTransactions: iter next: %w", err)
		}
		out = append(out, domain.Transaction{
			ID:             r.TransactionID,
			UserID:         r.UserID,
			Description:    r.Description,
			Amount:         ratToDecimal(r.Amount),
			Type:           domain.TransactionType(r.Type),
			Category:       domain.Category(r.Category),
			Date:           r.Date,
			Source:         domain.Source(r.Source),
			BalanceApplied: r.BalanceApplied,
			CreatedAt:      r.CreatedTS,
		})
	}
	return out, nil
}

func (s *Store) ReadReport(ctx context.Context, userID, month string) (*domain.Report, error) {
	q := s.client.Query(fmt.Sprintf(`
		SELECT user_id, month, generated_ts, content
		FROM %s
		WHERE user_id = @user_id AND month = @month
		LIMIT 1
	`, s.table(reportsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "month", Value: month},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ReadReport: query read: %w", err)
	}

	var row reportRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ReadReport: iter next: %w", err)
	}
	return store.DecodeReportContent(row.UserID, row.Month, row.GeneratedTS, []byte(row.Content))
}

func (s *Store) WriteReport(ctx context.Context, userID string, report domain.Report) error {
	content, err := store.EncodeReportContent(report)
	if err != nil {
		return err
	}

	q := s.client.Query(fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @user_id AS user_id, @month AS month) S
		ON T.user_id = S.user_id AND T.month = S.month
		WHEN MATCHED THEN
			UPDATE SET generated_ts = @generated_ts, content = @content
		WHEN NOT MATCHED THEN
			INSERT (user_id, month, generated_ts, content)
			VALUES (@user_id, @month, @generated_ts, @content)
	`, s.table(reportsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "month", Value: report.Month},
		{Name: "generated_ts", Value: report.GeneratedAt.UTC()},
		{Name: "content", Value: string(content)},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("WriteReport: running merge: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("WriteReport: waiting for merge: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("WriteReport: merge failed: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func ratToDecimal(r *big.Rat) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(r.FloatString(ratPrecision))
	if err != nil {
		return decimal.Zero
	}
	return d
}

var _ store.Store = (*Store)(nil)
