package events

import (
	"time"

	"github.com/spec-kit/helpdesk-ops/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTaskCreated       EventType = "task_created"
	EventApprovalRequested EventType = "approval_requested"
	EventApprovalDecided   EventType = "approval_decided"
	EventTaskExecuted      EventType = "task_executed"
)

// Actor encapsulates actor metadata for an event.
type Actor struct {
	Type    domain.SubjectType `json:"type"`
	StaffID string             `json:"staff_id"`
	Role    domain.StaffRole   `json:"role,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TaskCreatedPayload payload.
type TaskCreatedPayload struct {
	TaskID string          `json:"task_id"`
	Kind   domain.TaskKind `json:"kind"`
	Target string          `json:"target"`
}

// ApprovalRequestedPayload payload.
type ApprovalRequestedPayload struct {
	ApprovalID string `json:"approval_id"`
	TaskID     string `json:"task_id"`
	Reason     string `json:"reason"`
}

// ApprovalDecidedPayload payload.
type ApprovalDecidedPayload struct {
	ApprovalID string                `json:"approval_id"`
	Status     domain.ApprovalStatus `json:"status"`
	Comment    string                `json:"comment,omitempty"`
}

// TaskExecutedPayload payload.
type TaskExecutedPayload struct {
	TaskID     string                  `json:"task_id"`
	RecordID   string                  `json:"record_id"`
	Kind       domain.TaskKind         `json:"kind"`
	Outcome    domain.ExecutionOutcome `json:"outcome"`
	TaskStatus domain.TaskStatus       `json:"task_status"`
}
