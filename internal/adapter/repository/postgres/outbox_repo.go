package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/simaogato/fundpool-backend/internal/domain"
)

// outboxRepository implements domain.OutboxRepository
type outboxRepository struct {
	db *DB
}

// NewOutboxRepository creates a new event outbox repository
func NewOutboxRepository(db *DB) domain.OutboxRepository {
	return &outboxRepository{db: db}
}

// Append stores an event outside any journal write
func (r *outboxRepository) Append(ctx context.Context, event *domain.Event) error {
	return insertEvent(ctx, r.db, event)
}

// ListUnpublished returns events not yet published in insertion order
func (r *outboxRepository) ListUnpublished(ctx context.Context, limit int) ([]*domain.Event, error) {
	query := `
		SELECT id, request_id, kind, payload, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY seq
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox events: %w", err)
	}
	defer rows.Close()

	var out []*domain.Event
	for rows.Next() {
		var (
			e  domain.Event
			id string
		)
		if err := rows.Scan(&e.ID, &id, &e.Kind, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		if e.RequestID, err = domain.ParseRequestID(id); err != nil {
			return nil, fmt.Errorf("failed to parse request id: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox events: %w", err)
	}
	return out, nil
}

// MarkPublished records a successful publish
func (r *outboxRepository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE outbox SET published_at = $1 WHERE id = $2`

	res, err := r.db.ExecContext(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark event published: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("event %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
