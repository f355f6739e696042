package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/fundpool-backend/internal/adapter/repository/memory"
	"github.com/simaogato/fundpool-backend/internal/domain"
)

var t0 = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

// MockRequestRepository is a mock implementation of RequestRepository for testing
type MockRequestRepository struct {
	mock.Mock
}

func (m *MockRequestRepository) Create(ctx context.Context, req *domain.AggregationRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockRequestRepository) GetByID(ctx context.Context, id domain.RequestID) (*domain.AggregationRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AggregationRequest), args.Error(1)
}

func (m *MockRequestRepository) Update(ctx context.Context, req *domain.AggregationRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockRequestRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.AggregationRequest, error) {
	args := m.Called(ctx, now, limit)
	return args.Get(0).([]*domain.AggregationRequest), args.Error(1)
}

func (m *MockRequestRepository) ListByStatus(ctx context.Context, status domain.Status, limit int) ([]*domain.AggregationRequest, error) {
	args := m.Called(ctx, status, limit)
	return args.Get(0).([]*domain.AggregationRequest), args.Error(1)
}

func validInput() CreateInput {
	return CreateInput{
		Payer:               domain.Address{Domain: "base", Account: "0xpayer"},
		Payee:               domain.Address{Domain: "base", Account: "0xpayee"},
		TargetAmount:        500,
		MinimumThresholdPct: 90,
		DestinationDomain:   "base",
		RefundDomain:        "arbitrum",
		Deadline:            t0.Add(time.Hour),
		RefundBudget:        25,
	}
}

func newMemoryService() *RegistryService {
	store := memory.NewStore()
	s := NewRegistryService(
		memory.NewRequestRepository(store),
		memory.NewContributionRepository(store),
		memory.NewSettlementRepository(store),
		memory.NewRefundRepository(store),
		10, nil, nil,
	)
	s.Now = func() time.Time { return t0 }
	return s
}

func TestCreate_ReservesBudget(t *testing.T) {
	ctx := context.Background()
	s := newMemoryService()

	id, err := s.Create(ctx, validInput())
	require.NoError(t, err)
	assert.False(t, id.IsZero())

	req, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, req.Status)
	assert.Equal(t, domain.BudgetReserved, req.BudgetState)
	assert.Equal(t, domain.Amount(25), req.RefundBudget)
	assert.Equal(t, domain.Amount(0), req.TotalCredited)
}

func TestCreate_SystemIDsDoNotCollide(t *testing.T) {
	ctx := context.Background()
	s := newMemoryService()

	seen := make(map[domain.RequestID]bool)
	for i := 0; i < 50; i++ {
		id, err := s.Create(ctx, validInput())
		require.NoError(t, err)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *CreateInput)
		errMsg string
	}{
		{name: "zero target", mutate: func(in *CreateInput) { in.TargetAmount = 0 }, errMsg: "target amount must be positive"},
		{name: "zero threshold", mutate: func(in *CreateInput) { in.MinimumThresholdPct = 0 }, errMsg: "between 1 and 100"},
		{name: "threshold above 100", mutate: func(in *CreateInput) { in.MinimumThresholdPct = 101 }, errMsg: "between 1 and 100"},
		{name: "budget below minimum", mutate: func(in *CreateInput) { in.RefundBudget = 9 }, errMsg: "below the minimum"},
		{name: "past deadline", mutate: func(in *CreateInput) { in.Deadline = t0 }, errMsg: "deadline must be in the future"},
		{name: "missing refund domain", mutate: func(in *CreateInput) { in.RefundDomain = "" }, errMsg: "refund domain"},
		{name: "missing payee", mutate: func(in *CreateInput) { in.Payee = domain.Address{} }, errMsg: "payee"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)

			_, err := newMemoryService().Create(context.Background(), in)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidRequest)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestCreate_CallerSuppliedIDIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newMemoryService()

	id := domain.RequestID{0xab, 0xcd}
	in := validInput()
	in.ID = &id

	first, err := s.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, id, first)

	second, err := s.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, id, second)

	in.TargetAmount = 600
	_, err = s.Create(ctx, in)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestCreate_StoreFailure(t *testing.T) {
	repo := new(MockRequestRepository)
	repo.On("Create", mock.Anything, mock.AnythingOfType("*domain.AggregationRequest")).Return(errors.New("connection reset"))

	s := NewRegistryService(repo, nil, nil, nil, 0, nil, nil)
	s.Now = func() time.Time { return t0 }

	_, err := s.Create(context.Background(), validInput())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	repo.AssertExpectations(t)
}

func TestGet_NotFound(t *testing.T) {
	_, err := newMemoryService().Get(context.Background(), domain.RequestID{1})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	contributions := memory.NewContributionRepository(store)
	s := NewRegistryService(
		memory.NewRequestRepository(store),
		contributions,
		memory.NewSettlementRepository(store),
		memory.NewRefundRepository(store),
		0, nil, nil,
	)
	s.Now = func() time.Time { return t0 }

	id, err := s.Create(ctx, validInput())
	require.NoError(t, err)
	require.NoError(t, contributions.Append(ctx, &domain.ContributionRecord{RequestID: id, SourceDomain: "arbitrum", Amount: 460, ConfirmationKey: "k", RecordedAt: t0}))

	view, err := s.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.ViewPartialEligible, view.View)
	assert.Equal(t, domain.Amount(450), view.ThresholdAmount)
	assert.Len(t, view.Contributions, 1)
	assert.Nil(t, view.Settlement)
	assert.Empty(t, view.Refunds)
}
