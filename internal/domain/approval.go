package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ApprovalStatus is the decision state of an approval request.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

var (
	ErrApprovalPending        = errors.New("ticket already has a pending approval")
	ErrApprovalDecided        = errors.New("approval already decided")
	ErrRejectionNeedsComment  = errors.New("rejection comment required")
	ErrInvalidApprovalOutcome = errors.New("approval outcome must be approved or rejected")
)

// Valid reports whether s is a known status.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalStatusPending, ApprovalStatusApproved, ApprovalStatusRejected:
		return true
	}
	return false
}

// CanTransitionTo allows only the single pending -> decided step.
func (s ApprovalStatus) CanTransitionTo(next ApprovalStatus) bool {
	return s == ApprovalStatusPending && (next == ApprovalStatusApproved || next == ApprovalStatusRejected)
}

// UnmarshalText rejects unknown tags.
func (s *ApprovalStatus) UnmarshalText(b []byte) error {
	v := ApprovalStatus(b)
	if !v.Valid() {
		return fmt.Errorf("unknown approval status %q", string(b))
	}
	*s = v
	return nil
}

// ApprovalRequest authorizes privileged work on a ticket.
type ApprovalRequest struct {
	ID              string
	TicketID        string
	TaskID          *string
	RequestedBy     string
	Reason          string
	Status          ApprovalStatus
	ApproverID      *string
	DecisionComment *string
	RequestedAt     time.Time
	DecidedAt       *time.Time
}

// Decide applies an approver's decision in memory. Persisting it must still be
// conditional on the stored row being pending.
func (a *ApprovalRequest) Decide(approverID string, outcome ApprovalStatus, comment string, now time.Time) error {
	if outcome != ApprovalStatusApproved && outcome != ApprovalStatusRejected {
		return ErrInvalidApprovalOutcome
	}
	if !a.Status.CanTransitionTo(outcome) {
		return ErrApprovalDecided
	}
	comment = strings.TrimSpace(comment)
	if outcome == ApprovalStatusRejected && comment == "" {
		return ErrRejectionNeedsComment
	}
	a.Status = outcome
	a.ApproverID = &approverID
	if comment != "" {
		a.DecisionComment = &comment
	}
	a.DecidedAt = &now
	return nil
}
