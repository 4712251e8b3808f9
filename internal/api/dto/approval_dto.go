package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-ops/internal/domain"
)

// RequestApprovalRequest payload.
type RequestApprovalRequest struct {
	Reason string `json:"reason"`
}

// DecisionRequest payload for approve and reject.
type DecisionRequest struct {
	Comment string `json:"comment"`
}

// ApprovalResponse represents an approval request.
type ApprovalResponse struct {
	ID              string                `json:"id"`
	TicketID        string                `json:"ticket_id"`
	TaskID          *string               `json:"task_id"`
	RequestedBy     string                `json:"requested_by"`
	Reason          string                `json:"reason"`
	Status          domain.ApprovalStatus `json:"status"`
	ApproverID      *string               `json:"approver_id"`
	DecisionComment *string               `json:"decision_comment"`
	RequestedAt     time.Time             `json:"requested_at"`
	DecidedAt       *time.Time            `json:"decided_at"`
}
