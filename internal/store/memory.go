package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/bill-importer/internal/domain"
)

// Memory keeps profiles and transactions in process memory. It is safe for
// concurrent use.
type Memory struct {
	mu           sync.RWMutex
	profiles     map[string]domain.Profile
	transactions map[string][]domain.Transaction
	reports      map[string]domain.Report
	now          func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		profiles:     make(map[string]domain.Profile),
		transactions: make(map[string][]domain.Transaction),
		reports:      make(map[string]domain.Report),
		now:          time.Now,
	}
}

func (m *Memory) ReadProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil
	}
	if p.BalanceSetDate != nil {
		d := *p.BalanceSetDate
		p.BalanceSetDate = &d
	}
	return &p, nil
}

func (m *Memory) WriteProfile(ctx context.Context, userID string, patch domain.ProfilePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[userID]
	if !ok {
		p = domain.Profile{UserID: userID}
	}
	p = patch.Apply(p)
	p.UpdatedAt = m.now()
	m.profiles[userID] = p
	return nil
}

func (m *Memory) CreateTransaction(ctx context.Context, userID string, tx domain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx.UserID = userID
	m.transactions[userID] = append(m.transactions[userID], tx)
	return nil
}

func (m *Memory) ListTransactions(ctx context.Context, userID string, filter TransactionFilter) ([]domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Transaction, 0, len(m.transactions[userID]))
	for _, tx := range m.transactions[userID] {
		if filter.Match(tx) {
			out = append(out, tx)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) ReadReport(ctx context.Context, userID, month string) (*domain.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reports[userID+"/"+month]
	if !ok {
		return nil, nil
	}
	r.TopExpenses = copyShares(r.TopExpenses)
	return &r, nil
}

func (m *Memory) WriteReport(ctx context.Context, userID string, report domain.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	report.UserID = userID
	report.TopExpenses = copyShares(report.TopExpenses)
	m.reports[userID+"/"+report.Month] = report
	return nil
}

func copyShares(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *Memory) Close() error {
	return nil
}

var _ Store = (*Memory)(nil)
