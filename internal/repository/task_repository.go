package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-ops/internal/domain"
)

// TaskFilter narrows task listings.
type TaskFilter struct {
	TicketID *string
	Statuses []domain.TaskStatus
	Limit    int
	Offset   int
}

// TaskRepository persists privileged tasks. Tasks are never deleted; status
// changes after creation go through ExecutionRepository.CommitAttempt.
type TaskRepository interface {
	Create(ctx context.Context, task *domain.PrivilegedTask, history []domain.LifecycleEntry) error
	GetByID(ctx context.Context, id string) (*domain.PrivilegedTask, error)
	List(ctx context.Context, filter TaskFilter) ([]domain.PrivilegedTask, error)
}

type taskRepository struct {
	pool *pgxpool.Pool
}

// NewTaskRepository instantiates repository.
func NewTaskRepository(pool *pgxpool.Pool) TaskRepository {
	return &taskRepository{pool: pool}
}

const taskColumns = `id, ticket_id, kind, target_principal, target_resource, justification, checklist,
        rollback_procedure, status, created_by, operator_id, created_at, started_at, completed_at`

func (r *taskRepository) Create(ctx context.Context, task *domain.PrivilegedTask, history []domain.LifecycleEntry) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		const query = `
        INSERT INTO privileged_tasks (id, ticket_id, kind, target_principal, target_resource, justification,
            checklist, rollback_procedure, status, created_by, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
		if _, err := tx.Exec(ctx, query,
			task.ID,
			task.TicketID,
			task.Kind,
			task.TargetPrincipal,
			task.TargetResource,
			task.Justification,
			task.Checklist,
			task.RollbackProcedure,
			task.Status,
			task.CreatedBy,
			task.CreatedAt,
		); err != nil {
			return err
		}
		return insertLifecycle(ctx, tx, history)
	})
}

func (r *taskRepository) GetByID(ctx context.Context, id string) (*domain.PrivilegedTask, error) {
	query := `SELECT ` + taskColumns + ` FROM privileged_tasks WHERE id=$1`
	return scanTask(r.pool.QueryRow(ctx, query, id))
}

func (r *taskRepository) List(ctx context.Context, filter TaskFilter) ([]domain.PrivilegedTask, error) {
	query := `SELECT ` + taskColumns + ` FROM privileged_tasks`
	args := []any{}
	clauses := []string{}

	if filter.TicketID != nil {
		args = append(args, *filter.TicketID)
		clauses = append(clauses, fmt.Sprintf("ticket_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, statuses)
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	limit, offset := clampPage(filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d OFFSET %d", limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.PrivilegedTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *task)
	}
	return result, rows.Err()
}

func updateTask(ctx context.Context, q dbtx, task *domain.PrivilegedTask) error {
	const query = `
        UPDATE privileged_tasks SET status=$1, operator_id=$2, started_at=$3, completed_at=$4
        WHERE id=$5`
	cmd, err := q.Exec(ctx, query, task.Status, task.OperatorID, task.StartedAt, task.CompletedAt, task.ID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func scanTask(row pgx.Row) (*domain.PrivilegedTask, error) {
	var task domain.PrivilegedTask
	if err := row.Scan(
		&task.ID,
		&task.TicketID,
		&task.Kind,
		&task.TargetPrincipal,
		&task.TargetResource,
		&task.Justification,
		&task.Checklist,
		&task.RollbackProcedure,
		&task.Status,
		&task.CreatedBy,
		&task.OperatorID,
		&task.CreatedAt,
		&task.StartedAt,
		&task.CompletedAt,
	); err != nil {
		return nil, err
	}
	return &task, nil
}
