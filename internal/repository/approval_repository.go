package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-ops/internal/domain"
)

const onePendingPerTicket = "approvals_one_pending_per_ticket"

// ApprovalFilter narrows approval listings.
type ApprovalFilter struct {
	TicketID *string
	Status   *domain.ApprovalStatus
	Limit    int
	Offset   int
}

// ApprovalRepository persists approval requests. Writes carry the ticket
// status change and history entries so they commit together.
type ApprovalRepository interface {
	// CreatePending returns domain.ErrApprovalPending when the ticket already
	// has an undecided request.
	CreatePending(ctx context.Context, approval *domain.ApprovalRequest, ticket *domain.TicketStatusChange, history []domain.LifecycleEntry) error
	// Decide persists a decision only if the stored row is still pending and
	// returns domain.ErrApprovalDecided otherwise.
	Decide(ctx context.Context, approval *domain.ApprovalRequest, ticket *domain.TicketStatusChange, history []domain.LifecycleEntry) error
	GetByID(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	LatestApproved(ctx context.Context, ticketID string) (*domain.ApprovalRequest, error)
	List(ctx context.Context, filter ApprovalFilter) ([]domain.ApprovalRequest, error)
}

type approvalRepository struct {
	pool *pgxpool.Pool
}

// NewApprovalRepository instantiates repository.
func NewApprovalRepository(pool *pgxpool.Pool) ApprovalRepository {
	return &approvalRepository{pool: pool}
}

const approvalColumns = `id, ticket_id, task_id, requested_by, reason, status, approver_id, decision_comment, requested_at, decided_at`

func (r *approvalRepository) CreatePending(ctx context.Context, approval *domain.ApprovalRequest, ticket *domain.TicketStatusChange, history []domain.LifecycleEntry) error {
	if approval.ID == "" {
		approval.ID = uuid.NewString()
	}
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const query = `
        INSERT INTO approvals (id, ticket_id, task_id, requested_by, reason, status, requested_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`
		if _, err := tx.Exec(ctx, query,
			approval.ID,
			approval.TicketID,
			approval.TaskID,
			approval.RequestedBy,
			approval.Reason,
			domain.ApprovalStatusPending,
			approval.RequestedAt,
		); err != nil {
			return err
		}
		if ticket != nil {
			if err := updateTicketStatus(ctx, tx, *ticket); err != nil {
				return err
			}
		}
		return insertLifecycle(ctx, tx, history)
	})
	if isUniqueViolation(err, onePendingPerTicket) {
		return domain.ErrApprovalPending
	}
	return err
}

func (r *approvalRepository) Decide(ctx context.Context, approval *domain.ApprovalRequest, ticket *domain.TicketStatusChange, history []domain.LifecycleEntry) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const query = `
        UPDATE approvals SET status=$1, approver_id=$2, decision_comment=$3, decided_at=$4
        WHERE id=$5 AND status='pending'
        RETURNING id`
		var id string
		err := tx.QueryRow(ctx, query,
			approval.Status,
			approval.ApproverID,
			approval.DecisionComment,
			approval.DecidedAt,
			approval.ID,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrApprovalDecided
		}
		if err != nil {
			return err
		}
		if ticket != nil {
			if err := updateTicketStatus(ctx, tx, *ticket); err != nil {
				return err
			}
		}
		return insertLifecycle(ctx, tx, history)
	})
}

func (r *approvalRepository) GetByID(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE id=$1`
	return scanApproval(r.pool.QueryRow(ctx, query, id))
}

func (r *approvalRepository) LatestApproved(ctx context.Context, ticketID string) (*domain.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals
        WHERE ticket_id=$1 AND status='approved'
        ORDER BY decided_at DESC NULLS LAST LIMIT 1`
	return scanApproval(r.pool.QueryRow(ctx, query, ticketID))
}

func (r *approvalRepository) List(ctx context.Context, filter ApprovalFilter) ([]domain.ApprovalRequest, error) {
	query := `SELECT ` + approvalColumns + ` FROM approvals`
	args := []any{}
	clauses := []string{}

	if filter.TicketID != nil {
		args = append(args, *filter.TicketID)
		clauses = append(clauses, fmt.Sprintf("ticket_id=$%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	limit, offset := clampPage(filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY requested_at DESC LIMIT %d OFFSET %d", limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ApprovalRequest
	for rows.Next() {
		approval, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *approval)
	}
	return result, rows.Err()
}

func scanApproval(row pgx.Row) (*domain.ApprovalRequest, error) {
	var approval domain.ApprovalRequest
	if err := row.Scan(
		&approval.ID,
		&approval.TicketID,
		&approval.TaskID,
		&approval.RequestedBy,
		&approval.Reason,
		&approval.Status,
		&approval.ApproverID,
		&approval.DecisionComment,
		&approval.RequestedAt,
		&approval.DecidedAt,
	); err != nil {
		return nil, err
	}
	return &approval, nil
}
