package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-ops/internal/domain"
)

// TicketRepository reads tickets and writes their status. Ticket search,
// creation and SLA fields belong to the main helpdesk service.
type TicketRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	UpdateStatus(ctx context.Context, change domain.TicketStatusChange) error
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	const query = `
        SELECT id, number, title, status, requester_id, assignee_staff_id, created_at, updated_at, resolved_at
        FROM tickets WHERE id=$1`
	var ticket domain.Ticket
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&ticket.ID,
		&ticket.Number,
		&ticket.Title,
		&ticket.Status,
		&ticket.RequesterID,
		&ticket.AssigneeID,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ResolvedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) UpdateStatus(ctx context.Context, change domain.TicketStatusChange) error {
	return updateTicketStatus(ctx, r.pool, change)
}

func updateTicketStatus(ctx context.Context, q dbtx, change domain.TicketStatusChange) error {
	const query = `
        UPDATE tickets SET status=$1, resolved_at=COALESCE($2, resolved_at), updated_at=NOW()
        WHERE id=$3`
	cmd, err := q.Exec(ctx, query, change.Status, change.ResolvedAt, change.TicketID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
