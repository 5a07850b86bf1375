package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/trailguard/audit-ledger/config"
	"github.com/trailguard/audit-ledger/models"
	"github.com/trailguard/audit-ledger/repositories"
	"go.uber.org/zap"
)

// MockStreamRepository is a mock implementation of repositories.StreamRepository
type MockStreamRepository struct {
	mock.Mock
}

func (m *MockStreamRepository) Resolve(ctx context.Context, streamType models.StreamType, streamKey string) (*models.AuditStream, error) {
	args := m.Called(ctx, streamType, streamKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuditStream), args.Error(1)
}

func (m *MockStreamRepository) Lookup(ctx context.Context, streamType models.StreamType, streamKey string) (*models.AuditStream, error) {
	args := m.Called(ctx, streamType, streamKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuditStream), args.Error(1)
}

func (m *MockStreamRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditStream, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuditStream), args.Error(1)
}

func (m *MockStreamRepository) List(ctx context.Context, streamType *models.StreamType, limit, offset int) ([]*models.AuditStream, error) {
	args := m.Called(ctx, streamType, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AuditStream), args.Error(1)
}

func (m *MockStreamRepository) ListActiveSince(ctx context.Context, since time.Time, limit int) ([]*models.AuditStream, error) {
	args := m.Called(ctx, since, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AuditStream), args.Error(1)
}

func (m *MockStreamRepository) WithTx(tx repositories.Transaction) repositories.StreamRepository {
	m.Called(tx)
	return m
}

// MockEventRepository is a mock implementation of repositories.EventRepository
type MockEventRepository struct {
	mock.Mock
}

func (m *MockEventRepository) Insert(ctx context.Context, event *models.AuditEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEventRepository) GetLastForStream(ctx context.Context, streamID uuid.UUID) (*models.AuditEvent, error) {
	args := m.Called(ctx, streamID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuditEvent), args.Error(1)
}

func (m *MockEventRepository) GetByDedupeKey(ctx context.Context, streamID uuid.UUID, dedupeKey string) (*models.AuditEvent, error) {
	args := m.Called(ctx, streamID, dedupeKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuditEvent), args.Error(1)
}

func (m *MockEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditEvent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuditEvent), args.Error(1)
}

func (m *MockEventRepository) ListByStream(ctx context.Context, streamID uuid.UUID, limit, offset int) ([]*models.AuditEvent, error) {
	args := m.Called(ctx, streamID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AuditEvent), args.Error(1)
}

func (m *MockEventRepository) CountByStream(ctx context.Context, streamID uuid.UUID) (int64, error) {
	args := m.Called(ctx, streamID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockEventRepository) WithTx(tx repositories.Transaction) repositories.EventRepository {
	m.Called(tx)
	return m
}

// MockTransactionManager is a mock implementation of repositories.TransactionManager
type MockTransactionManager struct {
	mock.Mock
}

func (m *MockTransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(repositories.Transaction), args.Error(1)
}

func (m *MockTransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	args := m.Called(ctx, fn)
	return args.Error(0)
}

// MockTransaction is a mock implementation of repositories.Transaction
type MockTransaction struct {
	mock.Mock
}

func (m *MockTransaction) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTransaction) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTransaction) Context() context.Context {
	args := m.Called()
	return args.Get(0).(context.Context)
}

// newTestService wires a Service over fresh mocks with a safe-mode sanitizer
// and no metrics.
func newTestService() (*Service, *MockStreamRepository, *MockEventRepository, *MockTransactionManager) {
	streams := new(MockStreamRepository)
	events := new(MockEventRepository)
	txMgr := new(MockTransactionManager)
	sanitizer := NewSanitizer(config.RedactionModeSafe, nil)
	svc := NewService(streams, events, txMgr, sanitizer, nil, zap.NewNop())
	return svc, streams, events, txMgr
}

// expectTransaction primes the manager with a transaction that hands out the
// given context and expects a commit.
func expectTransaction(txMgr *MockTransactionManager, ctx context.Context) *MockTransaction {
	tx := new(MockTransaction)
	tx.On("Context").Return(ctx)
	tx.On("Commit").Return(nil)
	txMgr.On("Begin", mock.Anything).Return(tx, nil)
	return tx
}

// expectRollback primes the manager with a transaction that hands out the
// given context and expects a rollback instead of a commit.
func expectRollback(txMgr *MockTransactionManager, ctx context.Context) *MockTransaction {
	tx := new(MockTransaction)
	tx.On("Context").Return(ctx)
	tx.On("Rollback").Return(nil)
	txMgr.On("Begin", mock.Anything).Return(tx, nil)
	return tx
}
