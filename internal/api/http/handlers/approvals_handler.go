package handlers

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-ops/internal/api/dto"
	"github.com/spec-kit/helpdesk-ops/internal/domain"
	"github.com/spec-kit/helpdesk-ops/internal/repository"
)

// ApprovalDecider lists and decides approval requests.
type ApprovalDecider interface {
	Approve(ctx context.Context, actor *domain.StaffMember, approvalID, comment string) (*domain.ApprovalRequest, error)
	Reject(ctx context.Context, actor *domain.StaffMember, approvalID, comment string) (*domain.ApprovalRequest, error)
	List(ctx context.Context, filter repository.ApprovalFilter) ([]domain.ApprovalRequest, error)
}

// ApprovalsHandler exposes the approver endpoints.
type ApprovalsHandler struct {
	approvals ApprovalDecider
}

// NewApprovalsHandler constructs handler.
func NewApprovalsHandler(approvals ApprovalDecider) *ApprovalsHandler {
	return &ApprovalsHandler{approvals: approvals}
}

// List handles GET /approvals.
func (h *ApprovalsHandler) List(c *fiber.Ctx) error {
	filter := repository.ApprovalFilter{}
	if status := c.Query("status"); status != "" {
		s := domain.ApprovalStatus(status)
		if !s.Valid() {
			return fiber.NewError(http.StatusBadRequest, "unknown approval status")
		}
		filter.Status = &s
	}
	if ticketID := c.Query("ticket_id"); ticketID != "" {
		filter.TicketID = &ticketID
	}
	filter.Limit, filter.Offset = pagination(c)
	list, err := h.approvals.List(c.UserContext(), filter)
	if err != nil {
		return err
	}
	resp := make([]dto.ApprovalResponse, 0, len(list))
	for i := range list {
		resp = append(resp, approvalResponse(&list[i]))
	}
	return c.JSON(fiber.Map{"data": resp})
}

// Approve handles POST /approvals/:id/approve.
func (h *ApprovalsHandler) Approve(c *fiber.Ctx) error {
	return h.decide(c, h.approvals.Approve)
}

// Reject handles POST /approvals/:id/reject.
func (h *ApprovalsHandler) Reject(c *fiber.Ctx) error {
	return h.decide(c, h.approvals.Reject)
}

func (h *ApprovalsHandler) decide(c *fiber.Ctx, fn func(context.Context, *domain.StaffMember, string, string) (*domain.ApprovalRequest, error)) error {
	actor, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.DecisionRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid payload")
		}
	}
	approval, err := fn(c.UserContext(), actor, c.Params("id"), req.Comment)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": approvalResponse(approval)})
}

func approvalResponse(a *domain.ApprovalRequest) dto.ApprovalResponse {
	return dto.ApprovalResponse{
		ID:              a.ID,
		TicketID:        a.TicketID,
		TaskID:          a.TaskID,
		RequestedBy:     a.RequestedBy,
		Reason:          a.Reason,
		Status:          a.Status,
		ApproverID:      a.ApproverID,
		DecisionComment: a.DecisionComment,
		RequestedAt:     a.RequestedAt,
		DecidedAt:       a.DecidedAt,
	}
}
