package settlement

import (
	"context"
	"sync"

	"github.com/coopportal/backend/internal/domain/ledger"
	"github.com/coopportal/backend/internal/domain/notification"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of ledger.Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetEligibleLoans(ctx context.Context) ([]ledger.Loan, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ledger.Loan), args.Error(1)
}

func (m *MockStore) GetEligibleOrders(ctx context.Context) ([]ledger.CommodityOrder, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ledger.CommodityOrder), args.Error(1)
}

func (m *MockStore) GetLoan(ctx context.Context, id uuid.UUID) (*ledger.Loan, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Loan), args.Error(1)
}

func (m *MockStore) GetOrder(ctx context.Context, id uuid.UUID) (*ledger.CommodityOrder, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.CommodityOrder), args.Error(1)
}

func (m *MockStore) GetSavingsAccount(ctx context.Context, memberID uuid.UUID) (*ledger.SavingsAccount, error) {
	args := m.Called(ctx, memberID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.SavingsAccount), args.Error(1)
}

func (m *MockStore) ApplyDeduction(ctx context.Context, d ledger.Deduction) (*ledger.DeductionReceipt, error) {
	args := m.Called(ctx, d)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.DeductionReceipt), args.Error(1)
}

func (m *MockStore) CloseObligation(ctx context.Context, o ledger.Obligation) error {
	args := m.Called(ctx, o)
	return args.Error(0)
}

func (m *MockStore) AppendLog(ctx context.Context, record ledger.DeductionLogRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

// MockAdminDirectory is a mock implementation of notification.AdminDirectory
type MockAdminDirectory struct {
	mock.Mock
}

func (m *MockAdminDirectory) ListAdminIDs(ctx context.Context) ([]uuid.UUID, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

// recordingSink captures notifications and optionally fails every send
type recordingSink struct {
	mu   sync.Mutex
	sent []notification.Notification
	err  error
}

func (s *recordingSink) Send(_ context.Context, n notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *recordingSink) ofType(typ notification.Type) []notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notification.Notification
	for _, n := range s.sent {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

// recordingAlertSink captures admin alerts and optionally fails every send
type recordingAlertSink struct {
	mu     sync.Mutex
	alerts []notification.AdminAlert
	err    error
}

func (s *recordingAlertSink) Send(_ context.Context, a notification.AdminAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *recordingAlertSink) all() []notification.AdminAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notification.AdminAlert(nil), s.alerts...)
}
