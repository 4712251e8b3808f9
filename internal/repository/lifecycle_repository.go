package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-ops/internal/domain"
)

// LifecycleRepository reads the append-only lifecycle history. Entries are
// written only as part of a workflow transaction.
type LifecycleRepository interface {
	ListByTicket(ctx context.Context, ticketID string) ([]domain.LifecycleEntry, error)
}

type lifecycleRepository struct {
	pool *pgxpool.Pool
}

// NewLifecycleRepository builds repository.
func NewLifecycleRepository(pool *pgxpool.Pool) LifecycleRepository {
	return &lifecycleRepository{pool: pool}
}

// insertLifecycle appends entries, assigning ids where missing.
func insertLifecycle(ctx context.Context, q dbtx, entries []domain.LifecycleEntry) error {
	const query = `
        INSERT INTO lifecycle_history (id, entity, entity_id, ticket_id, actor_id, action, field, before, after, reason, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),$8,$9,NULLIF($10,''),$11)`
	for i := range entries {
		entry := &entries[i]
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		if _, err := q.Exec(ctx, query,
			entry.ID,
			entry.Entity,
			entry.EntityID,
			entry.TicketID,
			entry.ActorID,
			entry.Action,
			entry.Field,
			entry.Before,
			entry.After,
			entry.Reason,
			entry.CreatedAt,
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *lifecycleRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.LifecycleEntry, error) {
	const query = `
        SELECT id, entity, entity_id, ticket_id, actor_id, action, COALESCE(field,''), before, after, COALESCE(reason,''), created_at
        FROM lifecycle_history WHERE ticket_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.LifecycleEntry
	for rows.Next() {
		var entry domain.LifecycleEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.Entity,
			&entry.EntityID,
			&entry.TicketID,
			&entry.ActorID,
			&entry.Action,
			&entry.Field,
			&entry.Before,
			&entry.After,
			&entry.Reason,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
