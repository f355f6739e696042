//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

func newContainerDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("fundpool"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	testcontainers.CleanupContainer(t, container)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := NewDB(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(db))
	return db
}

func TestPostgres_RequestLifecycle(t *testing.T) {
	db := newContainerDB(t)
	ctx := context.Background()

	requests := NewRequestRepository(db)
	contributions := NewContributionRepository(db)
	settlements := NewSettlementRepository(db)
	outbox := NewOutboxRepository(db)

	req := sampleRequest()
	require.NoError(t, requests.Create(ctx, req))
	assert.ErrorIs(t, requests.Create(ctx, req), domain.ErrDuplicate)

	for i, amount := range []domain.Amount{300, 210} {
		rec := &domain.ContributionRecord{
			ID:              uuid.New(),
			RequestID:       req.ID,
			SourceDomain:    "optimism",
			Amount:          amount,
			ConfirmationKey: []string{"k1", "k2"}[i],
			Asset:           "USDC",
			OriginalAmount:  amount,
			RecordedAt:      t0.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, contributions.Append(ctx, rec))
	}

	dup := &domain.ContributionRecord{
		ID: uuid.New(), RequestID: req.ID, SourceDomain: "optimism", Amount: 300,
		ConfirmationKey: "k1", RecordedAt: t0,
	}
	assert.ErrorIs(t, contributions.Append(ctx, dup), domain.ErrDuplicate)

	stored, err := requests.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(510), stored.TotalCredited)

	now := t0.Add(10 * time.Minute)
	require.NoError(t, stored.Settle(stored.TargetAmount, now))
	require.NoError(t, requests.Update(ctx, stored))

	stale := *stored
	stale.Version--
	assert.ErrorIs(t, requests.Update(ctx, &stale), domain.ErrConflict)

	uncommitted, err := settlements.ListUncommitted(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []domain.RequestID{req.ID}, uncommitted)

	event, err := domain.NewEvent(domain.EventPaymentConfirmed, domain.EventPayload{RequestID: req.ID, Amount: 500}, now)
	require.NoError(t, err)
	require.NoError(t, settlements.CommitPhase1(ctx, &domain.Settlement{
		RequestID:           req.ID,
		Phase1CommittedAt:   now,
		Phase1Handle:        "h-p1",
		Phase2State:         domain.Phase2Pending,
		Phase2NextAttemptAt: now,
		UpdatedAt:           now,
	}, event))

	uncommitted, err = settlements.ListUncommitted(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, uncommitted)

	events, err := outbox.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	payload, err := events[0].DecodePayload()
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(500), payload.Amount)

	require.NoError(t, outbox.MarkPublished(ctx, events[0].ID, now))
	events, err = outbox.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPostgres_PayeeUpsertReplacesDomains(t *testing.T) {
	db := newContainerDB(t)
	ctx := context.Background()
	payees := NewPayeeRepository(db)

	cfg := &domain.PayeeConfig{
		Payee:  payee,
		Policy: domain.PolicyEqual,
		Domains: []domain.PayeeDomain{
			{Domain: "base", Account: "0xpayee"},
			{Domain: "solana", Account: "So1"},
		},
	}
	require.NoError(t, payees.Upsert(ctx, cfg))

	cfg.Policy = domain.PolicyDeficit
	cfg.Domains = cfg.Domains[1:]
	require.NoError(t, payees.Upsert(ctx, cfg))

	got, err := payees.GetByPayee(ctx, payee)
	require.NoError(t, err)
	assert.Equal(t, domain.PolicyDeficit, got.Policy)
	assert.Equal(t, []domain.PayeeDomain{{Domain: "solana", Account: "So1"}}, got.Domains)
}
