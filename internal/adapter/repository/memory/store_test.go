package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func seedRequest(t *testing.T, repo domain.RequestRepository, id byte, deadline time.Time) *domain.AggregationRequest {
	t.Helper()
	req := &domain.AggregationRequest{
		ID:                  domain.RequestID{id},
		Payer:               domain.Address{Domain: "base", Account: "0xpayer"},
		Payee:               domain.Address{Domain: "base", Account: "0xpayee"},
		TargetAmount:        500,
		MinimumThresholdPct: 90,
		DestinationDomain:   "base",
		RefundDomain:        "base",
		Deadline:            deadline,
		RefundBudget:        10,
		BudgetState:         domain.BudgetReserved,
		Status:              domain.StatusPending,
		CreatedAt:           t0,
		UpdatedAt:           t0,
	}
	require.NoError(t, repo.Create(context.Background(), req))
	return req
}

func TestRequestRepository_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repo := NewRequestRepository(store)

	req := seedRequest(t, repo, 1, t0.Add(time.Hour))
	assert.ErrorIs(t, repo.Create(ctx, req), domain.ErrDuplicate)

	_, err := repo.GetByID(ctx, domain.RequestID{9})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	loaded, err := repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), loaded.Version)

	// A stale copy loses the compare-and-swap
	stale := *loaded
	loaded.Status = domain.StatusRefunding
	require.NoError(t, repo.Update(ctx, loaded))
	assert.Equal(t, int64(1), loaded.Version)

	stale.Status = domain.StatusSettled
	assert.ErrorIs(t, repo.Update(ctx, &stale), domain.ErrConflict)

	got, err := repo.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunding, got.Status)
}

func TestContributionRepository_TotalComesFromLedger(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	requests := NewRequestRepository(store)
	ledger := NewContributionRepository(store)

	req := seedRequest(t, requests, 1, t0.Add(time.Hour))

	rec := &domain.ContributionRecord{ID: uuid.New(), RequestID: req.ID, SourceDomain: "arbitrum", Amount: 300, ConfirmationKey: "k1", RecordedAt: t0}
	require.NoError(t, ledger.Append(ctx, rec))
	assert.ErrorIs(t, ledger.Append(ctx, rec), domain.ErrDuplicate)
	require.NoError(t, ledger.Append(ctx, &domain.ContributionRecord{ID: uuid.New(), RequestID: req.ID, SourceDomain: "optimism", Amount: 150, ConfirmationKey: "k2", RecordedAt: t0}))

	total, err := ledger.Total(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(450), total)

	loaded, err := requests.GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(450), loaded.TotalCredited)

	records, err := ledger.ListByRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "k1", records[0].ConfirmationKey)

	byKey, err := ledger.GetByKey(ctx, req.ID, "k2")
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(150), byKey.Amount)

	err = ledger.Append(ctx, &domain.ContributionRecord{RequestID: domain.RequestID{42}, ConfirmationKey: "x", Amount: 1})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestContributionRepository_RejectsResolvedRequest(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	requests := NewRequestRepository(store)
	ledger := NewContributionRepository(store)

	req := seedRequest(t, requests, 1, t0.Add(time.Hour))
	require.NoError(t, req.BeginRefund(t0))
	require.NoError(t, requests.Update(ctx, req))

	err := ledger.Append(ctx, &domain.ContributionRecord{ID: uuid.New(), RequestID: req.ID, SourceDomain: "arbitrum", Amount: 300, ConfirmationKey: "k1", RecordedAt: t0})
	assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)

	total, err := ledger.Total(ctx, req.ID)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestRequestRepository_ListExpiredSkipsHandled(t *testing.T) {
	ctx := context.Background()
	repo := NewRequestRepository(NewStore())

	early := seedRequest(t, repo, 1, t0.Add(-2*time.Hour))
	late := seedRequest(t, repo, 2, t0.Add(-time.Hour))
	seedRequest(t, repo, 3, t0.Add(time.Hour))

	expired, err := repo.ListExpired(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, early.ID, expired[0].ID)
	assert.Equal(t, late.ID, expired[1].ID)

	handled := t0
	early.ExpiryHandledAt = &handled
	require.NoError(t, repo.Update(ctx, early))

	expired, err = repo.ListExpired(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, late.ID, expired[0].ID)
}

func TestSettlementRepository_Journal(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	requests := NewRequestRepository(store)
	settlements := NewSettlementRepository(store)
	outbox := NewOutboxRepository(store)

	req := seedRequest(t, requests, 1, t0.Add(time.Hour))
	req.Status = domain.StatusSettled
	require.NoError(t, requests.Update(ctx, req))

	ids, err := settlements.ListUncommitted(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []domain.RequestID{req.ID}, ids)

	event, err := domain.NewEvent(domain.EventPaymentConfirmed, domain.EventPayload{RequestID: req.ID, Amount: 500}, t0)
	require.NoError(t, err)
	st := &domain.Settlement{RequestID: req.ID, Phase1CommittedAt: t0, Phase2State: domain.Phase2Pending, Phase2NextAttemptAt: t0}
	require.NoError(t, settlements.CommitPhase1(ctx, st, event))
	assert.ErrorIs(t, settlements.CommitPhase1(ctx, st, event), domain.ErrDuplicate)

	ids, err = settlements.ListUncommitted(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	events, err := outbox.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventPaymentConfirmed, events[0].Kind)

	due, err := settlements.ListPhase2Due(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	legs := []*domain.LegRecord{
		{RequestID: req.ID, Index: 0, Domain: "base", Account: "a", Amount: 250, Mode: domain.ModeDirect},
		{RequestID: req.ID, Index: 1, Domain: "solana", Account: "b", Amount: 250, Mode: domain.ModeNative},
	}
	require.NoError(t, settlements.SaveLegs(ctx, legs))
	assert.ErrorIs(t, settlements.SaveLegs(ctx, legs), domain.ErrDuplicate)

	require.NoError(t, settlements.MarkLegSent(ctx, req.ID, 1, "h-sol", t0))
	matched, err := settlements.ConfirmLeg(ctx, "h-sol", t0)
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = settlements.ConfirmLeg(ctx, "unknown", t0)
	require.NoError(t, err)
	assert.False(t, matched)

	stored, err := settlements.ListLegs(ctx, req.ID)
	require.NoError(t, err)
	assert.False(t, stored[0].Sent())
	assert.True(t, stored[1].Sent())
	assert.NotNil(t, stored[1].ConfirmedAt)

	st.Phase2State = domain.Phase2Done
	require.NoError(t, settlements.UpdatePhase2(ctx, st, nil))
	due, err = settlements.ListPhase2Due(ctx, t0, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, outbox.MarkPublished(ctx, events[0].ID, t0))
	events, err = outbox.ListUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRefundRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewRefundRepository(NewStore())
	id := domain.RequestID{3}

	rf := &domain.Refund{RequestID: id, Kind: domain.RefundFull, Amount: 300, Domain: "base", State: domain.RefundPending, NextAttemptAt: t0}
	require.NoError(t, repo.Create(ctx, rf))
	assert.ErrorIs(t, repo.Create(ctx, rf), domain.ErrDuplicate)

	due, err := repo.ListDue(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	rf.State = domain.RefundSent
	rf.Handle = "h-refund"
	require.NoError(t, repo.Update(ctx, rf, nil))

	matched, err := repo.Confirm(ctx, "h-refund", t0)
	require.NoError(t, err)
	assert.True(t, matched)

	got, err := repo.Get(ctx, id, domain.RefundFull)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundConfirmed, got.State)

	_, err = repo.Get(ctx, id, domain.RefundExcess)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPayeeRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewPayeeRepository(NewStore())
	payee := domain.Address{Domain: "base", Account: "0xshop"}

	_, err := repo.GetByPayee(ctx, payee)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	cfg := &domain.PayeeConfig{Payee: payee, Policy: domain.PolicyEqual, Domains: []domain.PayeeDomain{{Domain: "base", Account: "0xshop"}}}
	require.NoError(t, repo.Upsert(ctx, cfg))
	cfg.Domains[0].Account = "mutated"

	got, err := repo.GetByPayee(ctx, payee)
	require.NoError(t, err)
	assert.Equal(t, "0xshop", got.Domains[0].Account)
}
