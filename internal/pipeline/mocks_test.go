package pipeline

import (
	"context"
	"sync"

	"github.com/dvloznov/bill-importer/internal/domain"
	"github.com/dvloznov/bill-importer/internal/store"
)

// mockStore delegates to an in-memory store unless a Func field overrides
// the call, and counts writes.
type mockStore struct {
	*store.Memory

	ReadProfileFunc       func(ctx context.Context, userID string) (*domain.Profile, error)
	WriteProfileFunc      func(ctx context.Context, userID string, patch domain.ProfilePatch) error
	CreateTransactionFunc func(ctx context.Context, userID string, tx domain.Transaction) error

	mu            sync.Mutex
	profileWrites int
	txWrites      int
}

func newMockStore() *mockStore {
	return &mockStore{Memory: store.NewMemory()}
}

func (m *mockStore) ReadProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	if m.ReadProfileFunc != nil {
		return m.ReadProfileFunc(ctx, userID)
	}
	return m.Memory.ReadProfile(ctx, userID)
}

func (m *mockStore) WriteProfile(ctx context.Context, userID string, patch domain.ProfilePatch) error {
	m.mu.Lock()
	m.profileWrites++
	m.mu.Unlock()
	if m.WriteProfileFunc != nil {
		return m.WriteProfileFunc(ctx, userID, patch)
	}
	return m.Memory.WriteProfile(ctx, userID, patch)
}

func (m *mockStore) CreateTransaction(ctx context.Context, userID string, tx domain.Transaction) error {
	m.mu.Lock()
	m.txWrites++
	m.mu.Unlock()
	if m.CreateTransactionFunc != nil {
		return m.CreateTransactionFunc(ctx, userID, tx)
	}
	return m.Memory.CreateTransaction(ctx, userID, tx)
}

// MockCompleter is a function-field llm.Completer.
type MockCompleter struct {
	CompleteFunc func(ctx context.Context, prompt string) (string, error)
	calls        int
}

func (m *MockCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	m.calls++
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, prompt)
	}
	return "[]", nil
}

func (m *MockCompleter) Name() string { return "mock" }

// mockTextExtractor is a function-field textextract.Extractor.
type mockTextExtractor struct {
	ExtractTextFunc func(ctx context.Context, document []byte) (string, error)
}

func (m *mockTextExtractor) ExtractText(ctx context.Context, document []byte) (string, error) {
	return m.ExtractTextFunc(ctx, document)
}
