package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

// settlementRepository implements domain.SettlementRepository
type settlementRepository struct {
	db *DB
}

// NewSettlementRepository creates a new settlement journal repository
func NewSettlementRepository(db *DB) domain.SettlementRepository {
	return &settlementRepository{db: db}
}

const settlementColumns = `
	request_id, phase1_committed_at, phase1_handle, phase2_state,
	phase2_attempts, phase2_next_attempt_at, phase2_last_error, updated_at
`

func scanSettlement(row rowScanner) (*domain.Settlement, error) {
	var (
		st domain.Settlement
		id string
	)
	err := row.Scan(
		&id,
		&st.Phase1CommittedAt,
		&st.Phase1Handle,
		&st.Phase2State,
		&st.Phase2Attempts,
		&st.Phase2NextAttemptAt,
		&st.Phase2LastError,
		&st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if st.RequestID, err = domain.ParseRequestID(id); err != nil {
		return nil, fmt.Errorf("failed to parse request id: %w", err)
	}
	st.Phase1CommittedAt = st.Phase1CommittedAt.UTC()
	st.Phase2NextAttemptAt = st.Phase2NextAttemptAt.UTC()
	st.UpdatedAt = st.UpdatedAt.UTC()
	return &st, nil
}

// Get retrieves the journal of a request
func (r *settlementRepository) Get(ctx context.Context, requestID domain.RequestID) (*domain.Settlement, error) {
	query := `SELECT ` + settlementColumns + ` FROM settlements WHERE request_id = $1`

	st, err := scanSettlement(r.db.QueryRowContext(ctx, query, requestID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("settlement %s: %w", requestID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	return st, nil
}

// CommitPhase1 writes the phase 1 marker and its event in one transaction
func (r *settlementRepository) CommitPhase1(ctx context.Context, st *domain.Settlement, event *domain.Event) error {
	return r.db.inTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO settlements (` + settlementColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (request_id) DO NOTHING
		`
		res, err := tx.ExecContext(ctx, query,
			st.RequestID.String(),
			st.Phase1CommittedAt,
			string(st.Phase1Handle),
			string(st.Phase2State),
			st.Phase2Attempts,
			st.Phase2NextAttemptAt,
			st.Phase2LastError,
			st.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert settlement: %w", err)
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("settlement %s: %w", st.RequestID, domain.ErrDuplicate)
		}
		return insertEvent(ctx, tx, event)
	})
}

// UpdatePhase2 writes phase 2 progress, with its event when given
func (r *settlementRepository) UpdatePhase2(ctx context.Context, st *domain.Settlement, event *domain.Event) error {
	return r.db.inTx(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE settlements
			SET phase2_state = $1, phase2_attempts = $2, phase2_next_attempt_at = $3,
				phase2_last_error = $4, updated_at = $5
			WHERE request_id = $6
		`
		res, err := tx.ExecContext(ctx, query,
			string(st.Phase2State),
			st.Phase2Attempts,
			st.Phase2NextAttemptAt,
			st.Phase2LastError,
			st.UpdatedAt,
			st.RequestID.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to update settlement: %w", err)
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("settlement %s: %w", st.RequestID, domain.ErrNotFound)
		}
		return insertEvent(ctx, tx, event)
	})
}

// ListUncommitted returns settled requests without a phase 1 marker
func (r *settlementRepository) ListUncommitted(ctx context.Context, limit int) ([]domain.RequestID, error) {
	query := `
		SELECT r.id
		FROM requests r
		LEFT JOIN settlements s ON s.request_id = r.id
		WHERE r.status = 'SETTLED' AND s.request_id IS NULL
		ORDER BY r.updated_at
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list uncommitted settlements: %w", err)
	}
	defer rows.Close()

	var ids []domain.RequestID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan request id: %w", err)
		}
		id, err := domain.ParseRequestID(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse request id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settlements: %w", err)
	}
	return ids, nil
}

// ListPhase2Due returns pending phase 2 journals due at now
func (r *settlementRepository) ListPhase2Due(ctx context.Context, now time.Time, limit int) ([]*domain.Settlement, error) {
	query := `SELECT ` + settlementColumns + `
		FROM settlements
		WHERE phase2_state = 'PENDING' AND phase2_next_attempt_at <= $1
		ORDER BY phase2_next_attempt_at
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due settlements: %w", err)
	}
	defer rows.Close()

	var out []*domain.Settlement
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settlements: %w", err)
	}
	return out, nil
}

// SaveLegs stores a full dispatch plan in one transaction
func (r *settlementRepository) SaveLegs(ctx context.Context, legs []*domain.LegRecord) error {
	if len(legs) == 0 {
		return nil
	}

	return r.db.inTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO dispatch_legs (request_id, idx, domain, account, amount, mode)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		for _, leg := range legs {
			_, err := tx.ExecContext(ctx, query,
				leg.RequestID.String(),
				leg.Index,
				leg.Domain,
				leg.Account,
				int64(leg.Amount),
				string(leg.Mode),
			)
			if err != nil {
				if pqCode(err) == pqUniqueViolation {
					return fmt.Errorf("dispatch plan %s: %w", leg.RequestID, domain.ErrDuplicate)
				}
				return fmt.Errorf("failed to insert dispatch leg: %w", err)
			}
		}
		return nil
	})
}

// ListLegs returns the saved plan ordered by leg index
func (r *settlementRepository) ListLegs(ctx context.Context, requestID domain.RequestID) ([]*domain.LegRecord, error) {
	query := `
		SELECT idx, domain, account, amount, mode, handle, sent_at, confirmed_at
		FROM dispatch_legs
		WHERE request_id = $1
		ORDER BY idx
	`

	rows, err := r.db.QueryContext(ctx, query, requestID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list dispatch legs: %w", err)
	}
	defer rows.Close()

	var out []*domain.LegRecord
	for rows.Next() {
		leg := domain.LegRecord{RequestID: requestID}
		var sentAt, confirmedAt sql.NullTime
		err := rows.Scan(
			&leg.Index,
			&leg.Domain,
			&leg.Account,
			&leg.Amount,
			&leg.Mode,
			&leg.Handle,
			&sentAt,
			&confirmedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dispatch leg: %w", err)
		}
		leg.SentAt = timePtr(sentAt)
		leg.ConfirmedAt = timePtr(confirmedAt)
		out = append(out, &leg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dispatch legs: %w", err)
	}
	return out, nil
}

// MarkLegSent records a leg's transport handle
func (r *settlementRepository) MarkLegSent(ctx context.Context, requestID domain.RequestID, index int, handle domain.TransferHandle, at time.Time) error {
	query := `UPDATE dispatch_legs SET handle = $1, sent_at = $2 WHERE request_id = $3 AND idx = $4`

	res, err := r.db.ExecContext(ctx, query, string(handle), at, requestID.String(), index)
	if err != nil {
		return fmt.Errorf("failed to mark dispatch leg sent: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("dispatch leg %s/%d: %w", requestID, index, domain.ErrNotFound)
	}
	return nil
}

// ConfirmLeg marks the leg with handle confirmed
func (r *settlementRepository) ConfirmLeg(ctx context.Context, handle domain.TransferHandle, at time.Time) (bool, error) {
	query := `
		UPDATE dispatch_legs
		SET confirmed_at = COALESCE(confirmed_at, $1)
		WHERE handle = $2 AND handle <> ''
	`

	res, err := r.db.ExecContext(ctx, query, at, string(handle))
	if err != nil {
		return false, fmt.Errorf("failed to confirm dispatch leg: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
