package dto

import (
	"encoding/json"
	"time"

	"github.com/spec-kit/helpdesk-ops/internal/domain"
)

// CreateTaskRequest payload.
type CreateTaskRequest struct {
	TicketID          string          `json:"ticket_id"`
	Kind              domain.TaskKind `json:"kind"`
	TargetPrincipal   string          `json:"target_principal"`
	TargetResource    *string         `json:"target_resource"`
	Justification     string          `json:"justification"`
	Checklist         *string         `json:"checklist"`
	RollbackProcedure *string         `json:"rollback_procedure"`
}

// ExecuteTaskRequest payload. Both fields are optional labels stored on the record.
type ExecuteTaskRequest struct {
	Action          string `json:"action"`
	CommandOrAction string `json:"command_or_action"`
}

// TaskResponse represents a privileged task.
type TaskResponse struct {
	ID                string            `json:"id"`
	TicketID          string            `json:"ticket_id"`
	Kind              domain.TaskKind   `json:"kind"`
	TargetPrincipal   string            `json:"target_principal"`
	TargetResource    *string           `json:"target_resource"`
	Justification     string            `json:"justification"`
	Checklist         *string           `json:"checklist,omitempty"`
	RollbackProcedure *string           `json:"rollback_procedure,omitempty"`
	Status            domain.TaskStatus `json:"status"`
	CreatedBy         string            `json:"created_by"`
	OperatorID        *string           `json:"operator_id"`
	CreatedAt         time.Time         `json:"created_at"`
	StartedAt         *time.Time        `json:"started_at"`
	CompletedAt       *time.Time        `json:"completed_at"`
}

// TaskDetailResponse adds the task's execution records, oldest first.
type TaskDetailResponse struct {
	TaskResponse
	Executions []ExecutionRecordResponse `json:"executions"`
}

// ExecutionRecordResponse represents one execution attempt.
type ExecutionRecordResponse struct {
	ID           string                  `json:"id"`
	ApprovalID   string                  `json:"approval_id"`
	OperatorID   string                  `json:"operator_id"`
	Action       string                  `json:"action"`
	Method       string                  `json:"method"`
	Request      json.RawMessage         `json:"request"`
	Outcome      domain.ExecutionOutcome `json:"outcome"`
	Result       json.RawMessage         `json:"result"`
	ErrorMessage *string                 `json:"error_message"`
	ExecutedAt   time.Time               `json:"executed_at"`
}
