package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

// contributionRepository implements domain.ContributionRepository
type contributionRepository struct {
	db *DB
}

// NewContributionRepository creates a new contribution ledger repository
func NewContributionRepository(db *DB) domain.ContributionRepository {
	return &contributionRepository{db: db}
}

const contributionColumns = `
	id, request_id, source_domain, amount, confirmation_key,
	transfer_handle, asset, original_amount, recorded_at
`

func scanContribution(row rowScanner) (*domain.ContributionRecord, error) {
	var (
		rec domain.ContributionRecord
		id  string
	)
	err := row.Scan(
		&rec.ID,
		&id,
		&rec.SourceDomain,
		&rec.Amount,
		&rec.ConfirmationKey,
		&rec.TransferHandle,
		&rec.Asset,
		&rec.OriginalAmount,
		&rec.RecordedAt,
	)
	if err != nil {
		return nil, err
	}
	if rec.RequestID, err = domain.ParseRequestID(id); err != nil {
		return nil, fmt.Errorf("failed to parse request id: %w", err)
	}
	rec.RecordedAt = rec.RecordedAt.UTC()
	return &rec, nil
}

// Append stores a record unless its confirmation key is already present.
// The request row stays locked until the insert commits, so a record is never
// added to a request another instance has just resolved.
func (r *contributionRepository) Append(ctx context.Context, rec *domain.ContributionRecord) error {
	return r.db.inTx(ctx, func(tx *sql.Tx) error {
		var status domain.Status
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM requests WHERE id = $1 FOR UPDATE`,
			rec.RequestID.String(),
		).Scan(&status)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("request %s: %w", rec.RequestID, domain.ErrNotFound)
			}
			return fmt.Errorf("failed to lock request: %w", err)
		}
		if status != domain.StatusPending {
			return fmt.Errorf("request %s is %s: %w", rec.RequestID, status, domain.ErrAlreadyTerminal)
		}

		query := `
			INSERT INTO contributions (` + contributionColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (request_id, confirmation_key) DO NOTHING
		`
		res, err := tx.ExecContext(ctx, query,
			rec.ID,
			rec.RequestID.String(),
			rec.SourceDomain,
			int64(rec.Amount),
			rec.ConfirmationKey,
			rec.TransferHandle,
			rec.Asset,
			int64(rec.OriginalAmount),
			rec.RecordedAt,
		)
		if err != nil {
			if pqCode(err) == pqForeignKeyViolation {
				return fmt.Errorf("request %s: %w", rec.RequestID, domain.ErrNotFound)
			}
			return fmt.Errorf("failed to append contribution: %w", err)
		}

		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("confirmation %s: %w", rec.ConfirmationKey, domain.ErrDuplicate)
		}
		return nil
	})
}

// GetByKey retrieves the record of a confirmation key
func (r *contributionRepository) GetByKey(ctx context.Context, requestID domain.RequestID, confirmationKey string) (*domain.ContributionRecord, error) {
	query := `SELECT ` + contributionColumns + `
		FROM contributions
		WHERE request_id = $1 AND confirmation_key = $2
	`

	rec, err := scanContribution(r.db.QueryRowContext(ctx, query, requestID.String(), confirmationKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("confirmation %s: %w", confirmationKey, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get contribution: %w", err)
	}
	return rec, nil
}

// ListByRequest returns a request's records in arrival order
func (r *contributionRepository) ListByRequest(ctx context.Context, requestID domain.RequestID) ([]*domain.ContributionRecord, error) {
	query := `SELECT ` + contributionColumns + `
		FROM contributions
		WHERE request_id = $1
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, query, requestID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list contributions: %w", err)
	}
	defer rows.Close()

	var out []*domain.ContributionRecord
	for rows.Next() {
		rec, err := scanContribution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contribution: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contributions: %w", err)
	}
	return out, nil
}

// Total sums a request's records
func (r *contributionRepository) Total(ctx context.Context, requestID domain.RequestID) (domain.Amount, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM contributions WHERE request_id = $1`

	var total int64
	if err := r.db.QueryRowContext(ctx, query, requestID.String()).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum contributions: %w", err)
	}
	return domain.Amount(total), nil
}
