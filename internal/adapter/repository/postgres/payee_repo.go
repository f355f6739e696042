package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

// payeeRepository implements domain.PayeeRepository
type payeeRepository struct {
	db *DB
}

// NewPayeeRepository creates a new payee configuration repository
func NewPayeeRepository(db *DB) domain.PayeeRepository {
	return &payeeRepository{db: db}
}

// Upsert replaces a payee's configuration and its domain list
func (r *payeeRepository) Upsert(ctx context.Context, cfg *domain.PayeeConfig) error {
	return r.db.inTx(ctx, func(tx *sql.Tx) error {
		upsertQuery := `
			INSERT INTO payees (payee_domain, payee_account, policy)
			VALUES ($1, $2, $3)
			ON CONFLICT (payee_domain, payee_account) DO UPDATE SET policy = EXCLUDED.policy
		`
		if _, err := tx.ExecContext(ctx, upsertQuery, cfg.Payee.Domain, cfg.Payee.Account, string(cfg.Policy)); err != nil {
			return fmt.Errorf("failed to upsert payee: %w", err)
		}

		deleteQuery := `DELETE FROM payee_domains WHERE payee_domain = $1 AND payee_account = $2`
		if _, err := tx.ExecContext(ctx, deleteQuery, cfg.Payee.Domain, cfg.Payee.Account); err != nil {
			return fmt.Errorf("failed to clear payee domains: %w", err)
		}

		insertQuery := `
			INSERT INTO payee_domains (payee_domain, payee_account, idx, domain, account, minimum_balance)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		for i, d := range cfg.Domains {
			_, err := tx.ExecContext(ctx, insertQuery,
				cfg.Payee.Domain,
				cfg.Payee.Account,
				i,
				d.Domain,
				d.Account,
				int64(d.MinimumBalance),
			)
			if err != nil {
				return fmt.Errorf("failed to insert payee domain: %w", err)
			}
		}
		return nil
	})
}

// GetByPayee retrieves a payee's configuration
func (r *payeeRepository) GetByPayee(ctx context.Context, payee domain.Address) (*domain.PayeeConfig, error) {
	cfg := &domain.PayeeConfig{Payee: payee}

	policyQuery := `SELECT policy FROM payees WHERE payee_domain = $1 AND payee_account = $2`
	err := r.db.QueryRowContext(ctx, policyQuery, payee.Domain, payee.Account).Scan(&cfg.Policy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("payee %s: %w", payee, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get payee: %w", err)
	}

	domainsQuery := `
		SELECT domain, account, minimum_balance
		FROM payee_domains
		WHERE payee_domain = $1 AND payee_account = $2
		ORDER BY idx
	`
	rows, err := r.db.QueryContext(ctx, domainsQuery, payee.Domain, payee.Account)
	if err != nil {
		return nil, fmt.Errorf("failed to list payee domains: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d domain.PayeeDomain
		if err := rows.Scan(&d.Domain, &d.Account, &d.MinimumBalance); err != nil {
			return nil, fmt.Errorf("failed to scan payee domain: %w", err)
		}
		cfg.Domains = append(cfg.Domains, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payee domains: %w", err)
	}
	return cfg, nil
}
