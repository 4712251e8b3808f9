package service

import (
	"net/http"

	apperrors "github.com/spec-kit/helpdesk-ops/pkg/util/errorutil"
)

// Workflow precondition failures. They are fatal to the attempt and never
// retried automatically.
var (
	ErrApprovalRequired    = apperrors.NewDomainError("APPROVAL_REQUIRED", "ticket has no approved approval request", http.StatusBadRequest, nil)
	ErrSODViolation        = apperrors.NewDomainError("SOD_VIOLATION", "approver cannot execute the task they approved", http.StatusForbidden, nil)
	ErrSelfApproval        = apperrors.NewDomainError("SOD_VIOLATION", "requester or ticket assignee cannot decide the approval", http.StatusForbidden, nil)
	ErrApprovalPending     = apperrors.NewDomainError("APPROVAL_ALREADY_PENDING", "ticket already has a pending approval request", http.StatusBadRequest, nil)
	ErrApprovalDecided     = apperrors.NewDomainError("APPROVAL_ALREADY_DECIDED", "approval request already decided", http.StatusBadRequest, nil)
	ErrTaskNotExecutable   = apperrors.NewDomainError("TASK_NOT_EXECUTABLE", "task cannot be executed in its current status", http.StatusConflict, nil)
	ErrExecutionInProgress = apperrors.NewDomainError("EXECUTION_IN_PROGRESS", "another execution of this task is running", http.StatusConflict, nil)
)

// withDetails copies a sentinel and attaches details, keeping errors.Is working.
func withDetails(base *apperrors.DomainError, details map[string]any) error {
	cp := *base
	cp.Details = details
	return &cp
}
