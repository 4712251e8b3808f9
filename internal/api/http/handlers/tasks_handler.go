package handlers

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk-ops/internal/api/dto"
	"github.com/spec-kit/helpdesk-ops/internal/domain"
	"github.com/spec-kit/helpdesk-ops/internal/repository"
	"github.com/spec-kit/helpdesk-ops/internal/service"
)

// TaskUseCases is the task surface the handler drives.
type TaskUseCases interface {
	Create(ctx context.Context, actor *domain.StaffMember, input service.TaskCreateInput) (*domain.PrivilegedTask, error)
	Get(ctx context.Context, id string) (*domain.PrivilegedTask, []domain.ExecutionRecord, error)
	List(ctx context.Context, filter repository.TaskFilter) ([]domain.PrivilegedTask, error)
	Summary(ctx context.Context, id string) (map[string]any, error)
	TicketHistory(ctx context.Context, ticketID string) ([]domain.LifecycleEntry, error)
}

// ApprovalRequester raises approvals for a task's ticket.
type ApprovalRequester interface {
	Request(ctx context.Context, actor *domain.StaffMember, taskID, reason string) (*domain.ApprovalRequest, error)
}

// Executor runs one execution attempt.
type Executor interface {
	Execute(ctx context.Context, input service.ExecuteInput) (*service.ExecutionResult, error)
}

// TasksHandler exposes privileged task endpoints.
type TasksHandler struct {
	tasks     TaskUseCases
	approvals ApprovalRequester
	executor  Executor
}

// NewTasksHandler constructs handler.
func NewTasksHandler(tasks TaskUseCases, approvals ApprovalRequester, executor Executor) *TasksHandler {
	return &TasksHandler{tasks: tasks, approvals: approvals, executor: executor}
}

// Create handles POST /tasks.
func (h *TasksHandler) Create(c *fiber.Ctx) error {
	actor, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	task, err := h.tasks.Create(c.UserContext(), actor, service.TaskCreateInput{
		TicketID:          req.TicketID,
		Kind:              req.Kind,
		TargetPrincipal:   req.TargetPrincipal,
		TargetResource:    req.TargetResource,
		Justification:     req.Justification,
		Checklist:         req.Checklist,
		RollbackProcedure: req.RollbackProcedure,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": taskResponse(task)})
}

// List handles GET /tasks.
func (h *TasksHandler) List(c *fiber.Ctx) error {
	filter := repository.TaskFilter{}
	if ticketID := c.Query("ticket_id"); ticketID != "" {
		filter.TicketID = &ticketID
	}
	if status := c.Query("status"); status != "" {
		filter.Statuses = []domain.TaskStatus{domain.TaskStatus(status)}
	}
	filter.Limit, filter.Offset = pagination(c)
	tasks, err := h.tasks.List(c.UserContext(), filter)
	if err != nil {
		return err
	}
	resp := make([]dto.TaskResponse, 0, len(tasks))
	for i := range tasks {
		resp = append(resp, taskResponse(&tasks[i]))
	}
	return c.JSON(fiber.Map{"data": resp})
}

// Get handles GET /tasks/:id.
func (h *TasksHandler) Get(c *fiber.Ctx) error {
	task, records, err := h.tasks.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	detail := dto.TaskDetailResponse{TaskResponse: taskResponse(task), Executions: make([]dto.ExecutionRecordResponse, 0, len(records))}
	for i := range records {
		detail.Executions = append(detail.Executions, recordResponse(&records[i]))
	}
	return c.JSON(fiber.Map{"data": detail})
}

// Summary handles GET /tasks/:id/summary.
func (h *TasksHandler) Summary(c *fiber.Ctx) error {
	summary, err := h.tasks.Summary(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": summary})
}

// TicketHistory handles GET /tickets/:id/history.
func (h *TasksHandler) TicketHistory(c *fiber.Ctx) error {
	entries, err := h.tasks.TicketHistory(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": entries})
}

// RequestApproval handles POST /tasks/:id/request-approval.
func (h *TasksHandler) RequestApproval(c *fiber.Ctx) error {
	actor, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.RequestApprovalRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	approval, err := h.approvals.Request(c.UserContext(), actor, c.Params("id"), req.Reason)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": fiber.Map{
		"approval_id": approval.ID,
		"approval":    approvalResponse(approval),
	}})
}

// Execute handles POST /tasks/:id/execute. Directory failures are reported
// in the body with 200; only precondition failures return an error status.
func (h *TasksHandler) Execute(c *fiber.Ctx) error {
	operator, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.ExecuteTaskRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid payload")
		}
	}
	result, err := h.executor.Execute(c.UserContext(), service.ExecuteInput{
		TaskID:   c.Params("id"),
		Operator: operator,
		Action:   req.Action,
		Command:  req.CommandOrAction,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": result})
}

func taskResponse(task *domain.PrivilegedTask) dto.TaskResponse {
	return dto.TaskResponse{
		ID:                task.ID,
		TicketID:          task.TicketID,
		Kind:              task.Kind,
		TargetPrincipal:   task.TargetPrincipal,
		TargetResource:    task.TargetResource,
		Justification:     task.Justification,
		Checklist:         task.Checklist,
		RollbackProcedure: task.RollbackProcedure,
		Status:            task.Status,
		CreatedBy:         task.CreatedBy,
		OperatorID:        task.OperatorID,
		CreatedAt:         task.CreatedAt,
		StartedAt:         task.StartedAt,
		CompletedAt:       task.CompletedAt,
	}
}

func recordResponse(record *domain.ExecutionRecord) dto.ExecutionRecordResponse {
	return dto.ExecutionRecordResponse{
		ID:           record.ID,
		ApprovalID:   record.ApprovalID,
		OperatorID:   record.OperatorID,
		Action:       record.Action,
		Method:       record.Method,
		Request:      record.Request,
		Outcome:      record.Outcome,
		Result:       record.Result,
		ErrorMessage: record.ErrorMessage,
		ExecutedAt:   record.ExecutedAt,
	}
}
