package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-ops/internal/domain"
)

// Attempt is everything one execution attempt writes.
type Attempt struct {
	Task    *domain.PrivilegedTask
	Ticket  *domain.TicketStatusChange
	Record  *domain.ExecutionRecord
	History []domain.LifecycleEntry
}

// ExecutionRepository stores execution records. Records are inserted only
// through CommitAttempt and are never updated.
type ExecutionRepository interface {
	CommitAttempt(ctx context.Context, attempt Attempt) error
	GetByID(ctx context.Context, id string) (*domain.ExecutionRecord, error)
	ListByTask(ctx context.Context, taskID string) ([]domain.ExecutionRecord, error)
}

type executionRepository struct {
	pool *pgxpool.Pool
}

// NewExecutionRepository instantiates repository.
func NewExecutionRepository(pool *pgxpool.Pool) ExecutionRepository {
	return &executionRepository{pool: pool}
}

const recordColumns = `id, task_id, ticket_id, approval_id, operator_id, action, method, request, outcome, result, error_message, executed_at`

func (r *executionRepository) CommitAttempt(ctx context.Context, attempt Attempt) error {
	if attempt.Record.ID == "" {
		attempt.Record.ID = uuid.NewString()
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if attempt.Task != nil {
			if err := updateTask(ctx, tx, attempt.Task); err != nil {
				return err
			}
		}
		if attempt.Ticket != nil {
			if err := updateTicketStatus(ctx, tx, *attempt.Ticket); err != nil {
				return err
			}
		}
		if err := insertRecord(ctx, tx, attempt.Record); err != nil {
			return err
		}
		return insertLifecycle(ctx, tx, attempt.History)
	})
}

func insertRecord(ctx context.Context, q dbtx, record *domain.ExecutionRecord) error {
	const query = `
        INSERT INTO execution_records (id, task_id, ticket_id, approval_id, operator_id, action, method,
            request, outcome, result, error_message, executed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := q.Exec(ctx, query,
		record.ID,
		record.TaskID,
		record.TicketID,
		record.ApprovalID,
		record.OperatorID,
		record.Action,
		record.Method,
		string(record.Request),
		record.Outcome,
		string(record.Result),
		record.ErrorMessage,
		record.ExecutedAt,
	)
	return err
}

func (r *executionRepository) GetByID(ctx context.Context, id string) (*domain.ExecutionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM execution_records WHERE id=$1`
	return scanRecord(r.pool.QueryRow(ctx, query, id))
}

func (r *executionRepository) ListByTask(ctx context.Context, taskID string) ([]domain.ExecutionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM execution_records WHERE task_id=$1 ORDER BY executed_at ASC`
	rows, err := r.pool.Query(ctx, query, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ExecutionRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *record)
	}
	return result, rows.Err()
}

func scanRecord(row pgx.Row) (*domain.ExecutionRecord, error) {
	var (
		record      domain.ExecutionRecord
		req, result []byte
	)
	if err := row.Scan(
		&record.ID,
		&record.TaskID,
		&record.TicketID,
		&record.ApprovalID,
		&record.OperatorID,
		&record.Action,
		&record.Method,
		&req,
		&record.Outcome,
		&result,
		&record.ErrorMessage,
		&record.ExecutedAt,
	); err != nil {
		return nil, err
	}
	record.Request = json.RawMessage(req)
	record.Result = json.RawMessage(result)
	return &record, nil
}
