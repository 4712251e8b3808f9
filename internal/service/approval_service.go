package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/helpdesk-ops/internal/domain"
	"github.com/spec-kit/helpdesk-ops/internal/events"
	"github.com/spec-kit/helpdesk-ops/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-ops/pkg/util/errorutil"
)

const minApprovalReasonLength = 10

// ApprovalService runs the request/approve/reject workflow.
type ApprovalService struct {
	approvals  repository.ApprovalRepository
	tasks      repository.TaskRepository
	tickets    repository.TicketRepository
	dispatcher events.Dispatcher
	now        func() time.Time
}

// ApprovalDependencies bundles collaborators for the approval service.
type ApprovalDependencies struct {
	ApprovalRepo repository.ApprovalRepository
	TaskRepo     repository.TaskRepository
	TicketRepo   repository.TicketRepository
	Dispatcher   events.Dispatcher
	Clock        func() time.Time
}

// NewApprovalService constructs the service.
func NewApprovalService(deps ApprovalDependencies) *ApprovalService {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &ApprovalService{
		approvals:  deps.ApprovalRepo,
		tasks:      deps.TaskRepo,
		tickets:    deps.TicketRepo,
		dispatcher: deps.Dispatcher,
		now:        clock,
	}
}

// Request raises an approval for the task's ticket and moves the ticket to
// pending_approval.
func (s *ApprovalService) Request(ctx context.Context, actor *domain.StaffMember, taskID, reason string) (*domain.ApprovalRequest, error) {
	reason = strings.TrimSpace(reason)
	if len([]rune(reason)) < minApprovalReasonLength {
		return nil, apperrors.NewValidationError("invalid approval request", map[string]any{"reason": "must be at least 10 characters"})
	}
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, apperrors.NotFoundOr(err, "task", map[string]any{"task_id": taskID})
	}
	ticket, err := s.tickets.GetByID(ctx, task.TicketID)
	if err != nil {
		return nil, apperrors.NotFoundOr(err, "ticket", map[string]any{"ticket_id": task.TicketID})
	}
	if ticket.Status.Closed() {
		return nil, apperrors.NewValidationError("ticket is closed", map[string]any{"status": ticket.Status})
	}

	now := s.now().UTC()
	approval := &domain.ApprovalRequest{
		ID:          uuid.NewString(),
		TicketID:    ticket.ID,
		TaskID:      strPtr(task.ID),
		RequestedBy: actor.ID,
		Reason:      reason,
		Status:      domain.ApprovalStatusPending,
		RequestedAt: now,
	}
	change := &domain.TicketStatusChange{TicketID: ticket.ID, Status: domain.TicketStatusPendingApproval}
	history := []domain.LifecycleEntry{
		{
			Entity:    domain.EntityApproval,
			EntityID:  approval.ID,
			TicketID:  ticket.ID,
			ActorID:   strPtr(actor.ID),
			Action:    domain.ActionApprovalRequested,
			After:     map[string]any{"status": approval.Status, "task_id": task.ID},
			Reason:    reason,
			CreatedAt: now,
		},
		domain.StatusChange(domain.EntityTicket, ticket.ID, ticket.ID, strPtr(actor.ID), ticket.Status, change.Status, "approval requested", now),
	}

	if err := s.approvals.CreatePending(ctx, approval, change, history); err != nil {
		if errors.Is(err, domain.ErrApprovalPending) {
			return nil, withDetails(ErrApprovalPending, map[string]any{"ticket_id": ticket.ID})
		}
		return nil, err
	}

	publishEvent(ctx, s.dispatcher, events.Event{
		Type:     events.EventApprovalRequested,
		TicketID: ticket.ID,
		Actor:    staffActor(actor),
		Payload:  events.ApprovalRequestedPayload{ApprovalID: approval.ID, TaskID: task.ID, Reason: reason},
	})
	return approval, nil
}

// Approve decides a pending approval positively; the ticket moves to pending_change.
func (s *ApprovalService) Approve(ctx context.Context, actor *domain.StaffMember, approvalID, comment string) (*domain.ApprovalRequest, error) {
	return s.decide(ctx, actor, approvalID, domain.ApprovalStatusApproved, comment)
}

// Reject declines a pending approval; comment is required and the ticket
// goes back to assigned.
func (s *ApprovalService) Reject(ctx context.Context, actor *domain.StaffMember, approvalID, comment string) (*domain.ApprovalRequest, error) {
	return s.decide(ctx, actor, approvalID, domain.ApprovalStatusRejected, comment)
}

// List returns approvals matching filter.
func (s *ApprovalService) List(ctx context.Context, filter repository.ApprovalFilter) ([]domain.ApprovalRequest, error) {
	return s.approvals.List(ctx, filter)
}

func (s *ApprovalService) decide(ctx context.Context, actor *domain.StaffMember, approvalID string, outcome domain.ApprovalStatus, comment string) (*domain.ApprovalRequest, error) {
	approval, err := s.approvals.GetByID(ctx, approvalID)
	if err != nil {
		return nil, apperrors.NotFoundOr(err, "approval", map[string]any{"approval_id": approvalID})
	}
	ticket, err := s.tickets.GetByID(ctx, approval.TicketID)
	if err != nil {
		return nil, apperrors.NotFoundOr(err, "ticket", map[string]any{"ticket_id": approval.TicketID})
	}

	if err := CheckApproverIndependence(approval, ticket, actor); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := approval.Decide(actor.ID, outcome, comment, now); err != nil {
		return nil, mapDecisionError(err, approval)
	}

	next := domain.TicketStatusPendingChange
	action := domain.ActionApproved
	if outcome == domain.ApprovalStatusRejected {
		next = domain.TicketStatusAssigned
		action = domain.ActionRejected
	}
	change := &domain.TicketStatusChange{TicketID: ticket.ID, Status: next}
	decisionComment := ""
	if approval.DecisionComment != nil {
		decisionComment = *approval.DecisionComment
	}
	history := []domain.LifecycleEntry{
		{
			Entity:    domain.EntityApproval,
			EntityID:  approval.ID,
			TicketID:  ticket.ID,
			ActorID:   strPtr(actor.ID),
			Action:    action,
			Field:     "status",
			Before:    map[string]any{"status": domain.ApprovalStatusPending},
			After:     map[string]any{"status": approval.Status},
			Reason:    decisionComment,
			CreatedAt: now,
		},
		domain.StatusChange(domain.EntityTicket, ticket.ID, ticket.ID, strPtr(actor.ID), ticket.Status, next, "approval "+string(approval.Status), now),
	}

	if err := s.approvals.Decide(ctx, approval, change, history); err != nil {
		return nil, mapDecisionError(err, approval)
	}

	publishEvent(ctx, s.dispatcher, events.Event{
		Type:     events.EventApprovalDecided,
		TicketID: ticket.ID,
		Actor:    staffActor(actor),
		Payload:  events.ApprovalDecidedPayload{ApprovalID: approval.ID, Status: approval.Status, Comment: decisionComment},
	})
	return approval, nil
}

func mapDecisionError(err error, approval *domain.ApprovalRequest) error {
	switch {
	case errors.Is(err, domain.ErrApprovalDecided):
		return withDetails(ErrApprovalDecided, map[string]any{"approval_id": approval.ID})
	case errors.Is(err, domain.ErrRejectionNeedsComment):
		return apperrors.NewValidationError("rejection requires a comment", map[string]any{"comment": "required"})
	case errors.Is(err, domain.ErrInvalidApprovalOutcome):
		return apperrors.NewValidationError(err.Error(), nil)
	default:
		return err
	}
}
