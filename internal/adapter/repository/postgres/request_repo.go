package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

// requestRepository implements domain.RequestRepository
type requestRepository struct {
	db *DB
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *DB) domain.RequestRepository {
	return &requestRepository{db: db}
}

// requestColumns selects a request row with its credited total summed from
// the contribution ledger.
const requestColumns = `
	r.id, r.payer_domain, r.payer_account, r.payee_domain, r.payee_account,
	r.target_amount, r.min_threshold_pct, r.settled_amount,
	r.destination_domain, r.refund_domain, r.deadline, r.refund_budget,
	r.budget_state, r.status, r.created_at, r.updated_at, r.settled_at,
	r.expiry_handled_at, r.version,
	COALESCE((SELECT SUM(c.amount) FROM contributions c WHERE c.request_id = r.id), 0)
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*domain.AggregationRequest, error) {
	var (
		req                 domain.AggregationRequest
		id                  string
		settledAt, handleAt sql.NullTime
	)
	err := row.Scan(
		&id,
		&req.Payer.Domain,
		&req.Payer.Account,
		&req.Payee.Domain,
		&req.Payee.Account,
		&req.TargetAmount,
		&req.MinimumThresholdPct,
		&req.SettledAmount,
		&req.DestinationDomain,
		&req.RefundDomain,
		&req.Deadline,
		&req.RefundBudget,
		&req.BudgetState,
		&req.Status,
		&req.CreatedAt,
		&req.UpdatedAt,
		&settledAt,
		&handleAt,
		&req.Version,
		&req.TotalCredited,
	)
	if err != nil {
		return nil, err
	}

	if req.ID, err = domain.ParseRequestID(id); err != nil {
		return nil, fmt.Errorf("failed to parse request id: %w", err)
	}
	req.Deadline = req.Deadline.UTC()
	req.CreatedAt = req.CreatedAt.UTC()
	req.UpdatedAt = req.UpdatedAt.UTC()
	req.SettledAt = timePtr(settledAt)
	req.ExpiryHandledAt = timePtr(handleAt)
	return &req, nil
}

// Create inserts a new request
func (r *requestRepository) Create(ctx context.Context, req *domain.AggregationRequest) error {
	query := `
		INSERT INTO requests (
			id, payer_domain, payer_account, payee_domain, payee_account,
			target_amount, min_threshold_pct, settled_amount,
			destination_domain, refund_domain, deadline, refund_budget,
			budget_state, status, created_at, updated_at, settled_at,
			expiry_handled_at, version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err := r.db.ExecContext(ctx, query,
		req.ID.String(),
		req.Payer.Domain,
		req.Payer.Account,
		req.Payee.Domain,
		req.Payee.Account,
		int64(req.TargetAmount),
		req.MinimumThresholdPct,
		int64(req.SettledAmount),
		req.DestinationDomain,
		req.RefundDomain,
		req.Deadline,
		int64(req.RefundBudget),
		string(req.BudgetState),
		string(req.Status),
		req.CreatedAt,
		req.UpdatedAt,
		nullTime(req.SettledAt),
		nullTime(req.ExpiryHandledAt),
		req.Version,
	)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return fmt.Errorf("request %s: %w", req.ID, domain.ErrDuplicate)
		}
		return fmt.Errorf("failed to create request: %w", err)
	}

	return nil
}

// GetByID retrieves a request by its ID
func (r *requestRepository) GetByID(ctx context.Context, id domain.RequestID) (*domain.AggregationRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM requests r WHERE r.id = $1`

	req, err := scanRequest(r.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("request %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get request by ID: %w", err)
	}
	return req, nil
}

// Update writes the mutable columns guarded by the row version
func (r *requestRepository) Update(ctx context.Context, req *domain.AggregationRequest) error {
	query := `
		UPDATE requests
		SET status = $1, settled_amount = $2, budget_state = $3, settled_at = $4,
			expiry_handled_at = $5, updated_at = $6, version = version + 1
		WHERE id = $7 AND version = $8
	`

	res, err := r.db.ExecContext(ctx, query,
		string(req.Status),
		int64(req.SettledAmount),
		string(req.BudgetState),
		nullTime(req.SettledAt),
		nullTime(req.ExpiryHandledAt),
		req.UpdatedAt,
		req.ID.String(),
		req.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update request: %w", err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("request %s version %d: %w", req.ID, req.Version, domain.ErrConflict)
	}

	req.Version++
	return nil
}

// ListExpired returns unhandled pending requests past their deadline
func (r *requestRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.AggregationRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM requests r
		WHERE r.status = 'PENDING' AND r.expiry_handled_at IS NULL AND r.deadline <= $1
		ORDER BY r.deadline, r.id
		LIMIT $2
	`
	return r.list(ctx, query, now, limit)
}

// ListByStatus returns requests in a status, oldest first
func (r *requestRepository) ListByStatus(ctx context.Context, status domain.Status, limit int) ([]*domain.AggregationRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM requests r
		WHERE r.status = $1
		ORDER BY r.created_at
		LIMIT $2
	`
	return r.list(ctx, query, string(status), limit)
}

func (r *requestRepository) list(ctx context.Context, query string, args ...interface{}) ([]*domain.AggregationRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var out []*domain.AggregationRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating requests: %w", err)
	}
	return out, nil
}
