package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

// refundRepository implements domain.RefundRepository
type refundRepository struct {
	db *DB
}

// NewRefundRepository creates a new refund journal repository
func NewRefundRepository(db *DB) domain.RefundRepository {
	return &refundRepository{db: db}
}

const refundColumns = `
	request_id, kind, amount, domain, handle, state, attempts,
	next_attempt_at, last_error, created_at, updated_at
`

func scanRefund(row rowScanner) (*domain.Refund, error) {
	var (
		rf domain.Refund
		id string
	)
	err := row.Scan(
		&id,
		&rf.Kind,
		&rf.Amount,
		&rf.Domain,
		&rf.Handle,
		&rf.State,
		&rf.Attempts,
		&rf.NextAttemptAt,
		&rf.LastError,
		&rf.CreatedAt,
		&rf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if rf.RequestID, err = domain.ParseRequestID(id); err != nil {
		return nil, fmt.Errorf("failed to parse request id: %w", err)
	}
	rf.NextAttemptAt = rf.NextAttemptAt.UTC()
	rf.CreatedAt = rf.CreatedAt.UTC()
	rf.UpdatedAt = rf.UpdatedAt.UTC()
	return &rf, nil
}

// Create stores a new refund journal
func (r *refundRepository) Create(ctx context.Context, rf *domain.Refund) error {
	query := `
		INSERT INTO refunds (` + refundColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (request_id, kind) DO NOTHING
	`

	res, err := r.db.ExecContext(ctx, query,
		rf.RequestID.String(),
		string(rf.Kind),
		int64(rf.Amount),
		rf.Domain,
		string(rf.Handle),
		string(rf.State),
		rf.Attempts,
		rf.NextAttemptAt,
		rf.LastError,
		rf.CreatedAt,
		rf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create refund: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s refund %s: %w", rf.Kind, rf.RequestID, domain.ErrDuplicate)
	}
	return nil
}

// Get retrieves a refund by request and kind
func (r *refundRepository) Get(ctx context.Context, requestID domain.RequestID, kind domain.RefundKind) (*domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE request_id = $1 AND kind = $2`

	rf, err := scanRefund(r.db.QueryRowContext(ctx, query, requestID.String(), string(kind)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s refund %s: %w", kind, requestID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get refund: %w", err)
	}
	return rf, nil
}

// ListByRequest returns every refund of a request
func (r *refundRepository) ListByRequest(ctx context.Context, requestID domain.RequestID) ([]*domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE request_id = $1 ORDER BY kind DESC`
	return r.list(ctx, query, requestID.String())
}

// Update writes dispatch progress, with its event when given
func (r *refundRepository) Update(ctx context.Context, rf *domain.Refund, event *domain.Event) error {
	return r.db.inTx(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE refunds
			SET handle = $1, state = $2, attempts = $3, next_attempt_at = $4,
				last_error = $5, updated_at = $6
			WHERE request_id = $7 AND kind = $8
		`
		res, err := tx.ExecContext(ctx, query,
			string(rf.Handle),
			string(rf.State),
			rf.Attempts,
			rf.NextAttemptAt,
			rf.LastError,
			rf.UpdatedAt,
			rf.RequestID.String(),
			string(rf.Kind),
		)
		if err != nil {
			return fmt.Errorf("failed to update refund: %w", err)
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%s refund %s: %w", rf.Kind, rf.RequestID, domain.ErrNotFound)
		}
		return insertEvent(ctx, tx, event)
	})
}

// ListDue returns pending refunds due at now
func (r *refundRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Refund, error) {
	query := `SELECT ` + refundColumns + `
		FROM refunds
		WHERE state = 'PENDING' AND next_attempt_at <= $1
		ORDER BY next_attempt_at
		LIMIT $2
	`
	return r.list(ctx, query, now, limit)
}

// Confirm marks the dispatched refund with handle confirmed
func (r *refundRepository) Confirm(ctx context.Context, handle domain.TransferHandle, at time.Time) (bool, error) {
	query := `
		UPDATE refunds
		SET state = 'CONFIRMED', updated_at = $1
		WHERE handle = $2 AND handle <> '' AND state <> 'PENDING'
	`

	res, err := r.db.ExecContext(ctx, query, at, string(handle))
	if err != nil {
		return false, fmt.Errorf("failed to confirm refund: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *refundRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.Refund, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list refunds: %w", err)
	}
	defer rows.Close()

	var out []*domain.Refund
	for rows.Next() {
		rf, err := scanRefund(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refund: %w", err)
		}
		out = append(out, rf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating refunds: %w", err)
	}
	return out, nil
}
