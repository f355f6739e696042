package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

var (
	t0    = time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)
	payer = domain.Address{Domain: "arbitrum", Account: "0xpayer"}
	payee = domain.Address{Domain: "base", Account: "0xpayee"}
	reqID = domain.NewRequestID(payer, payee, 500, t0)
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = sqlDB.Close()
	})
	return &DB{DB: sqlDB}, mock
}

func sampleRequest() *domain.AggregationRequest {
	return &domain.AggregationRequest{
		ID:                  reqID,
		Payer:               payer,
		Payee:               payee,
		TargetAmount:        500,
		MinimumThresholdPct: 90,
		DestinationDomain:   "base",
		RefundDomain:        "arbitrum",
		Deadline:            t0.Add(time.Hour),
		RefundBudget:        5,
		BudgetState:         domain.BudgetReserved,
		Status:              domain.StatusPending,
		CreatedAt:           t0,
		UpdatedAt:           t0,
	}
}

var requestRowColumns = []string{
	"id", "payer_domain", "payer_account", "payee_domain", "payee_account",
	"target_amount", "min_threshold_pct", "settled_amount",
	"destination_domain", "refund_domain", "deadline", "refund_budget",
	"budget_state", "status", "created_at", "updated_at", "settled_at",
	"expiry_handled_at", "version", "total",
}

func TestRequestRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec("INSERT INTO requests").
			WithArgs(reqID.String(), "arbitrum", "0xpayer", "base", "0xpayee", int64(500), 90, int64(0),
				"base", "arbitrum", t0.Add(time.Hour), int64(5), "RESERVED", "PENDING", t0, t0, nil, nil, int64(0)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, NewRequestRepository(db).Create(ctx, sampleRequest()))
	})

	t.Run("duplicate id", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec("INSERT INTO requests").WillReturnError(&pq.Error{Code: pqUniqueViolation})

		err := NewRequestRepository(db).Create(ctx, sampleRequest())
		assert.ErrorIs(t, err, domain.ErrDuplicate)
	})
}

func TestRequestRepository_GetByID(t *testing.T) {
	ctx := context.Background()

	t.Run("fills the credited total", func(t *testing.T) {
		db, mock := newMockDB(t)
		settledAt := t0.Add(30 * time.Minute)
		rows := sqlmock.NewRows(requestRowColumns).AddRow(
			reqID.String(), "arbitrum", "0xpayer", "base", "0xpayee",
			int64(500), 90, int64(500), "base", "arbitrum", t0.Add(time.Hour), int64(5),
			"RELEASED", "SETTLED", t0, settledAt, settledAt, nil, int64(3), int64(510),
		)
		mock.ExpectQuery(`SELECT .+ SUM\(c.amount\) .+ FROM requests r WHERE r.id = \$1`).
			WithArgs(reqID.String()).
			WillReturnRows(rows)

		req, err := NewRequestRepository(db).GetByID(ctx, reqID)
		require.NoError(t, err)
		assert.Equal(t, reqID, req.ID)
		assert.Equal(t, domain.StatusSettled, req.Status)
		assert.Equal(t, domain.Amount(510), req.TotalCredited)
		assert.Equal(t, domain.Amount(10), req.Excess())
		assert.Equal(t, int64(3), req.Version)
		require.NotNil(t, req.SettledAt)
		assert.Nil(t, req.ExpiryHandledAt)
	})

	t.Run("not found", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("SELECT").WillReturnError(sql.ErrNoRows)

		_, err := NewRequestRepository(db).GetByID(ctx, reqID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestRequestRepository_Update(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		rows    int64
		wantErr error
		wantVer int64
	}{
		{name: "version matches", rows: 1, wantVer: 5},
		{name: "version moved on", rows: 0, wantErr: domain.ErrConflict, wantVer: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			req := sampleRequest()
			req.Version = 4
			req.Status = domain.StatusRefunding

			mock.ExpectExec(`UPDATE requests .+ WHERE id = \$7 AND version = \$8`).
				WithArgs("REFUNDING", int64(0), "RESERVED", nil, nil, t0, reqID.String(), int64(4)).
				WillReturnResult(sqlmock.NewResult(0, tt.rows))

			err := NewRequestRepository(db).Update(ctx, req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantVer, req.Version)
		})
	}
}

func TestContributionRepository_Append(t *testing.T) {
	ctx := context.Background()
	rec := &domain.ContributionRecord{
		ID: uuid.New(), RequestID: reqID, SourceDomain: "optimism", Amount: 200,
		ConfirmationKey: "k1", RecordedAt: t0,
	}

	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "appended",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				expectLockedStatus(mock, "PENDING")
				mock.ExpectExec("INSERT INTO contributions .+ ON CONFLICT").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "repeated confirmation key",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				expectLockedStatus(mock, "PENDING")
				mock.ExpectExec("INSERT INTO contributions").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectRollback()
			},
			wantErr: domain.ErrDuplicate,
		},
		{
			name: "unknown request",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery(`SELECT status FROM requests WHERE id = \$1 FOR UPDATE`).
					WithArgs(reqID.String()).
					WillReturnError(sql.ErrNoRows)
				mock.ExpectRollback()
			},
			wantErr: domain.ErrNotFound,
		},
		{
			name: "request resolved by another instance",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				expectLockedStatus(mock, "SETTLED")
				mock.ExpectRollback()
			},
			wantErr: domain.ErrAlreadyTerminal,
		},
		{
			name: "request deleted before insert",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				expectLockedStatus(mock, "PENDING")
				mock.ExpectExec("INSERT INTO contributions").WillReturnError(&pq.Error{Code: pqForeignKeyViolation})
				mock.ExpectRollback()
			},
			wantErr: domain.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			tt.setup(mock)

			err := NewContributionRepository(db).Append(ctx, rec)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func expectLockedStatus(mock sqlmock.Sqlmock, status string) {
	mock.ExpectQuery(`SELECT status FROM requests WHERE id = \$1 FOR UPDATE`).
		WithArgs(reqID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(status))
}

func TestContributionRepository_Total(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\) FROM contributions`).
		WithArgs(reqID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(int64(460)))

	total, err := NewContributionRepository(db).Total(context.Background(), reqID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(460), total)
}

func TestSettlementRepository_CommitPhase1(t *testing.T) {
	ctx := context.Background()
	st := &domain.Settlement{
		RequestID:           reqID,
		Phase1CommittedAt:   t0,
		Phase1Handle:        "h-p1",
		Phase2State:         domain.Phase2Pending,
		Phase2NextAttemptAt: t0,
		UpdatedAt:           t0,
	}
	event, err := domain.NewEvent(domain.EventPaymentConfirmed, domain.EventPayload{RequestID: reqID, Amount: 500}, t0)
	require.NoError(t, err)

	t.Run("marker and event commit together", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO settlements").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO outbox").
			WithArgs(event.ID, reqID.String(), "payment.confirmed", event.Payload, t0).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, NewSettlementRepository(db).CommitPhase1(ctx, st, event))
	})

	t.Run("already committed rolls back", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO settlements").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := NewSettlementRepository(db).CommitPhase1(ctx, st, event)
		assert.ErrorIs(t, err, domain.ErrDuplicate)
	})
}

func TestSettlementRepository_SaveLegs(t *testing.T) {
	ctx := context.Background()
	legs := []*domain.LegRecord{
		{RequestID: reqID, Index: 0, Domain: "base", Account: "0xpayee", Amount: 250, Mode: domain.ModeDirect},
		{RequestID: reqID, Index: 1, Domain: "solana", Account: "So1", Amount: 250, Mode: domain.ModeNative},
	}

	t.Run("saves every leg", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO dispatch_legs").
			WithArgs(reqID.String(), 0, "base", "0xpayee", int64(250), "DIRECT").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO dispatch_legs").
			WithArgs(reqID.String(), 1, "solana", "So1", int64(250), "NATIVE").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, NewSettlementRepository(db).SaveLegs(ctx, legs))
	})

	t.Run("plan already saved", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO dispatch_legs").WillReturnError(&pq.Error{Code: pqUniqueViolation})
		mock.ExpectRollback()

		err := NewSettlementRepository(db).SaveLegs(ctx, legs)
		assert.ErrorIs(t, err, domain.ErrDuplicate)
	})
}

func TestSettlementRepository_ListUncommitted(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`LEFT JOIN settlements s .+ WHERE r.status = 'SETTLED' AND s.request_id IS NULL`).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(reqID.String()))

	ids, err := NewSettlementRepository(db).ListUncommitted(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []domain.RequestID{reqID}, ids)
}

func TestRefundRepository_Confirm(t *testing.T) {
	tests := []struct {
		name string
		rows int64
		want bool
	}{
		{name: "dispatched refund", rows: 1, want: true},
		{name: "unknown handle", rows: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectExec(`UPDATE refunds SET state = 'CONFIRMED'.+state <> 'PENDING'`).
				WithArgs(t0, "h-r").
				WillReturnResult(sqlmock.NewResult(0, tt.rows))

			got, err := NewRefundRepository(db).Confirm(context.Background(), "h-r", t0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPayeeRepository_GetByPayee(t *testing.T) {
	ctx := context.Background()

	t.Run("domains in configured order", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("SELECT policy FROM payees").
			WithArgs("base", "0xpayee").
			WillReturnRows(sqlmock.NewRows([]string{"policy"}).AddRow("DEFICIT"))
		mock.ExpectQuery("SELECT domain, account, minimum_balance").
			WithArgs("base", "0xpayee").
			WillReturnRows(sqlmock.NewRows([]string{"domain", "account", "minimum_balance"}).
				AddRow("base", "0xpayee", int64(100)).
				AddRow("solana", "So1", int64(0)))

		cfg, err := NewPayeeRepository(db).GetByPayee(ctx, payee)
		require.NoError(t, err)
		assert.Equal(t, domain.PolicyDeficit, cfg.Policy)
		require.Len(t, cfg.Domains, 2)
		assert.Equal(t, domain.Amount(100), cfg.Domains[0].MinimumBalance)
		assert.Equal(t, "solana", cfg.Domains[1].Domain)
	})

	t.Run("not configured", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery("SELECT policy FROM payees").WillReturnError(sql.ErrNoRows)

		_, err := NewPayeeRepository(db).GetByPayee(ctx, payee)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestOutboxRepository_ListUnpublished(t *testing.T) {
	db, mock := newMockDB(t)
	id := uuid.New()
	mock.ExpectQuery(`FROM outbox\s+WHERE published_at IS NULL\s+ORDER BY seq`).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "request_id", "kind", "payload", "created_at"}).
			AddRow(id.String(), reqID.String(), "refund.dispatched", []byte{0xa1}, t0))

	events, err := NewOutboxRepository(db).ListUnpublished(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].ID)
	assert.Equal(t, domain.EventRefundDispatched, events[0].Kind)
	assert.Equal(t, reqID, events[0].RequestID)
}
