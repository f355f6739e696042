package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

// MockBalanceQuery is a mock implementation of BalanceQuery for testing
type MockBalanceQuery struct {
	mock.Mock
}

func (m *MockBalanceQuery) BalanceOf(ctx context.Context, domainName, account string) (domain.Amount, error) {
	args := m.Called(ctx, domainName, account)
	return args.Get(0).(domain.Amount), args.Error(1)
}

// MockGateway is a mock implementation of TransportGateway for testing
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Send(ctx context.Context, order domain.TransferOrder) (domain.TransferHandle, error) {
	args := m.Called(ctx, order)
	return args.Get(0).(domain.TransferHandle), args.Error(1)
}

var payee = domain.Address{Domain: "base", Account: "0xpayee"}

func payeeConfig(policy domain.DispatchPolicy, domains ...domain.PayeeDomain) *domain.PayeeConfig {
	return &domain.PayeeConfig{Payee: payee, Policy: policy, Domains: domains}
}

func legAmounts(plan *domain.DispatchPlan) []domain.Amount {
	out := make([]domain.Amount, len(plan.Legs))
	for i, leg := range plan.Legs {
		out[i] = leg.Amount
	}
	return out
}

func TestPlan_SingleDomainTakesEverything(t *testing.T) {
	p := NewPlanner(nil, 100, nil)
	cfg := payeeConfig(domain.PolicyEqual, domain.PayeeDomain{Domain: "solana", Account: "SoLpayee"})

	plan, err := p.Plan(context.Background(), domain.RequestID{1}, cfg, 500, "base")
	require.NoError(t, err)

	require.Len(t, plan.Legs, 1)
	assert.Equal(t, domain.DispatchLeg{Index: 0, Domain: "solana", Account: "SoLpayee", Amount: 500, Mode: domain.ModeNative}, plan.Legs[0])
}

func TestPlan_EqualRemainderToLowestIndex(t *testing.T) {
	p := NewPlanner(nil, 0, nil)
	cfg := payeeConfig(domain.PolicyEqual,
		domain.PayeeDomain{Domain: "base", Account: "a"},
		domain.PayeeDomain{Domain: "arbitrum", Account: "b"},
		domain.PayeeDomain{Domain: "optimism", Account: "c"},
	)

	plan, err := p.Plan(context.Background(), domain.RequestID{1}, cfg, 500, "base")
	require.NoError(t, err)

	assert.Equal(t, []domain.Amount{167, 167, 166}, legAmounts(plan))
	assert.Equal(t, domain.ModeDirect, plan.Legs[0].Mode)
}

func TestPlan_DropsEmptyLegs(t *testing.T) {
	p := NewPlanner(nil, 0, nil)
	cfg := payeeConfig(domain.PolicyEqual,
		domain.PayeeDomain{Domain: "base", Account: "a"},
		domain.PayeeDomain{Domain: "arbitrum", Account: "b"},
		domain.PayeeDomain{Domain: "optimism", Account: "c"},
	)

	plan, err := p.Plan(context.Background(), domain.RequestID{1}, cfg, 2, "base")
	require.NoError(t, err)

	require.Len(t, plan.Legs, 2)
	assert.Equal(t, 1, plan.Legs[1].Index)
	assert.Equal(t, "arbitrum", plan.Legs[1].Domain)
}

func TestPlan_ConservationAndDeterminism(t *testing.T) {
	p := NewPlanner(nil, 50, nil)
	domains := []domain.PayeeDomain{
		{Domain: "base", Account: "a"},
		{Domain: "arbitrum", Account: "b"},
		{Domain: "optimism", Account: "c"},
		{Domain: "polygon", Account: "d"},
		{Domain: "solana", Account: "e"},
		{Domain: "avalanche", Account: "f"},
		{Domain: "linea", Account: "g"},
	}

	for n := 1; n <= len(domains); n++ {
		cfg := payeeConfig(domain.PolicyEqual, domains[:n]...)
		for _, amount := range []domain.Amount{1, 2, 3, 7, 99, 100, 101, 450, 500, 1_000_003, domain.MaxAmount} {
			first, err := p.Plan(context.Background(), domain.RequestID{7}, cfg, amount, "base")
			require.NoError(t, err)
			assert.Equal(t, amount, first.Total(), "n=%d amount=%d", n, amount)

			second, err := p.Plan(context.Background(), domain.RequestID{7}, cfg, amount, "base")
			require.NoError(t, err)
			assert.Equal(t, first, second)
		}
	}
}

func TestPlan_RejectsInvalidInput(t *testing.T) {
	p := NewPlanner(nil, 0, nil)

	_, err := p.Plan(context.Background(), domain.RequestID{1}, payeeConfig(domain.PolicyEqual, domain.PayeeDomain{Domain: "base", Account: "a"}), 0, "base")
	assert.Error(t, err)

	_, err = p.Plan(context.Background(), domain.RequestID{1}, payeeConfig(domain.PolicyEqual), 10, "base")
	assert.Error(t, err)
}

func TestDeficitPolicy(t *testing.T) {
	ctx := context.Background()
	domains := []domain.PayeeDomain{
		{Domain: "base", Account: "a", MinimumBalance: 1000},
		{Domain: "arbitrum", Account: "b", MinimumBalance: 1000},
		{Domain: "optimism", Account: "c", MinimumBalance: 1000},
	}

	tests := []struct {
		name     string
		balances []domain.Amount
		amount   domain.Amount
		want     []domain.Amount
	}{
		{
			// deficits 600, 300, 100 of 1000: 100 splits 60/30/10
			name:     "proportional to deficit",
			balances: []domain.Amount{400, 700, 900},
			amount:   100,
			want:     []domain.Amount{60, 30, 10},
		},
		{
			// deficits 600, 300, 100: 7 -> floors 4/2/0, residue 1 to the largest deficit
			name:     "residue goes to the largest deficit",
			balances: []domain.Amount{400, 700, 900},
			amount:   7,
			want:     []domain.Amount{5, 2, 0},
		},
		{
			// deficits 500, 0, 500: ties keep index order
			name:     "ties resolve by index",
			balances: []domain.Amount{500, 2000, 500},
			amount:   3,
			want:     []domain.Amount{2, 0, 1},
		},
		{
			// deficits 600, 300, 100 fully covered, surplus 100 divided 34/33/33
			name:     "surplus beyond deficits is divided equally",
			balances: []domain.Amount{400, 700, 900},
			amount:   1100,
			want:     []domain.Amount{634, 333, 133},
		},
		{
			name:     "no deficit divides equally",
			balances: []domain.Amount{5000, 5000, 5000},
			amount:   10,
			want:     []domain.Amount{4, 3, 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			balances := new(MockBalanceQuery)
			for i, d := range domains {
				balances.On("BalanceOf", ctx, d.Domain, d.Account).Return(tt.balances[i], nil)
			}

			policy := &DeficitPolicy{Balances: balances}
			got, err := policy.Allocate(ctx, payeeConfig(domain.PolicyDeficit, domains...), tt.amount)
			require.NoError(t, err)

			assert.Equal(t, tt.want, got)
			var sum domain.Amount
			for _, s := range got {
				sum += s
			}
			assert.Equal(t, tt.amount, sum)
			balances.AssertExpectations(t)
		})
	}
}

func TestDeficitPolicy_QueryFailureFallsBackToEqual(t *testing.T) {
	ctx := context.Background()
	balances := new(MockBalanceQuery)
	balances.On("BalanceOf", ctx, "base", "a").Return(domain.Amount(0), errors.New("rpc unavailable"))

	p := NewPlanner(balances, 0, nil)
	cfg := payeeConfig(domain.PolicyDeficit,
		domain.PayeeDomain{Domain: "base", Account: "a", MinimumBalance: 100},
		domain.PayeeDomain{Domain: "arbitrum", Account: "b", MinimumBalance: 900},
	)

	plan, err := p.Plan(ctx, domain.RequestID{1}, cfg, 11, "base")
	require.NoError(t, err)
	assert.Equal(t, []domain.Amount{6, 5}, legAmounts(plan))
}

func TestPlan_DeficitWithoutBalanceQueryUsesEqual(t *testing.T) {
	p := NewPlanner(nil, 0, nil)
	cfg := payeeConfig(domain.PolicyDeficit,
		domain.PayeeDomain{Domain: "base", Account: "a", MinimumBalance: 100},
		domain.PayeeDomain{Domain: "arbitrum", Account: "b", MinimumBalance: 900},
	)

	plan, err := p.Plan(context.Background(), domain.RequestID{1}, cfg, 10, "base")
	require.NoError(t, err)
	assert.Equal(t, []domain.Amount{5, 5}, legAmounts(plan))
}

func TestModeSelector(t *testing.T) {
	s := ModeSelector{FastThreshold: 1000}

	assert.Equal(t, domain.ModeDirect, s.Select("base", "base", 1_000_000))
	assert.Equal(t, domain.ModeFast, s.Select("base", "arbitrum", 999))
	assert.Equal(t, domain.ModeNative, s.Select("base", "arbitrum", 1000))
	assert.Equal(t, domain.ModeNative, ModeSelector{}.Select("base", "arbitrum", 1))
}

func TestStrategyTable(t *testing.T) {
	ctx := context.Background()
	table := DefaultStrategies()

	t.Run("direct credit in place needs no transfer", func(t *testing.T) {
		gw := new(MockGateway)
		order := domain.TransferOrder{Tag: "out:p2:x:0", Amount: 5, SourceDomain: "base", DestinationDomain: "base", Sender: "a", Recipient: "a", Mode: domain.ModeDirect}

		handle, err := table.Execute(ctx, gw, order)
		require.NoError(t, err)
		assert.Equal(t, domain.TransferHandle("direct:out:p2:x:0"), handle)
		gw.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	})

	t.Run("direct credit between accounts uses the gateway", func(t *testing.T) {
		gw := new(MockGateway)
		order := domain.TransferOrder{Tag: "t", Amount: 5, SourceDomain: "base", DestinationDomain: "base", Sender: "a", Recipient: "b", Mode: domain.ModeDirect}
		gw.On("Send", ctx, order).Return(domain.TransferHandle("h1"), nil)

		handle, err := table.Execute(ctx, gw, order)
		require.NoError(t, err)
		assert.Equal(t, domain.TransferHandle("h1"), handle)
	})

	t.Run("transport failure is wrapped", func(t *testing.T) {
		gw := new(MockGateway)
		order := domain.TransferOrder{Tag: "t", Amount: 5, SourceDomain: "base", DestinationDomain: "solana", Mode: domain.ModeNative}
		gw.On("Send", ctx, order).Return(domain.TransferHandle(""), errors.New("congested"))

		_, err := table.Execute(ctx, gw, order)
		assert.ErrorIs(t, err, domain.ErrTransportFailure)
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := table.Execute(ctx, new(MockGateway), domain.TransferOrder{Mode: "TELEPORT"})
		assert.Error(t, err)
	})
}
