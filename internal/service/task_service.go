package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/helpdesk-ops/internal/domain"
	"github.com/spec-kit/helpdesk-ops/internal/events"
	"github.com/spec-kit/helpdesk-ops/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-ops/pkg/util/errorutil"
)

const minJustificationLength = 5

// DirectoryPreview reads the directory state a task would change.
type DirectoryPreview interface {
	OperationSummary(ctx context.Context, kind, principal string) (map[string]any, error)
}

// TaskService creates and reads privileged tasks.
type TaskService struct {
	tasks      repository.TaskRepository
	tickets    repository.TicketRepository
	executions repository.ExecutionRepository
	history    repository.LifecycleRepository
	directory  DirectoryPreview
	dispatcher events.Dispatcher
	now        func() time.Time
}

// TaskDependencies bundles collaborators for the task service.
type TaskDependencies struct {
	TaskRepo      repository.TaskRepository
	TicketRepo    repository.TicketRepository
	ExecutionRepo repository.ExecutionRepository
	HistoryRepo   repository.LifecycleRepository
	Directory     DirectoryPreview
	Dispatcher    events.Dispatcher
	Clock         func() time.Time
}

// TaskCreateInput describes a new privileged task.
type TaskCreateInput struct {
	TicketID          string
	Kind              domain.TaskKind
	TargetPrincipal   string
	TargetResource    *string
	Justification     string
	Checklist         *string
	RollbackProcedure *string
}

// NewTaskService constructs the service.
func NewTaskService(deps TaskDependencies) *TaskService {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TaskService{
		tasks:      deps.TaskRepo,
		tickets:    deps.TicketRepo,
		executions: deps.ExecutionRepo,
		history:    deps.HistoryRepo,
		directory:  deps.Directory,
		dispatcher: deps.Dispatcher,
		now:        clock,
	}
}

// Create validates input and stores a pending task for an open ticket.
func (s *TaskService) Create(ctx context.Context, actor *domain.StaffMember, input TaskCreateInput) (*domain.PrivilegedTask, error) {
	if err := validateTaskInput(&input); err != nil {
		return nil, err
	}
	ticket, err := s.tickets.GetByID(ctx, input.TicketID)
	if err != nil {
		return nil, apperrors.NotFoundOr(err, "ticket", map[string]any{"ticket_id": input.TicketID})
	}
	if ticket.Status.Closed() {
		return nil, apperrors.NewValidationError("ticket is closed", map[string]any{"status": ticket.Status})
	}

	now := s.now().UTC()
	task := &domain.PrivilegedTask{
		ID:                uuid.NewString(),
		TicketID:          ticket.ID,
		Kind:              input.Kind,
		TargetPrincipal:   input.TargetPrincipal,
		TargetResource:    input.TargetResource,
		Justification:     input.Justification,
		Checklist:         input.Checklist,
		RollbackProcedure: input.RollbackProcedure,
		Status:            domain.TaskStatusPending,
		CreatedBy:         actor.ID,
		CreatedAt:         now,
	}
	history := []domain.LifecycleEntry{{
		Entity:    domain.EntityTask,
		EntityID:  task.ID,
		TicketID:  ticket.ID,
		ActorID:   strPtr(actor.ID),
		Action:    domain.ActionCreated,
		After:     map[string]any{"status": task.Status, "kind": task.Kind, "target": task.TargetPrincipal},
		Reason:    task.Justification,
		CreatedAt: now,
	}}
	if err := s.tasks.Create(ctx, task, history); err != nil {
		return nil, err
	}

	publishEvent(ctx, s.dispatcher, events.Event{
		Type:     events.EventTaskCreated,
		TicketID: ticket.ID,
		Actor:    staffActor(actor),
		Payload:  events.TaskCreatedPayload{TaskID: task.ID, Kind: task.Kind, Target: task.TargetPrincipal},
	})
	return task, nil
}

// Get returns a task with its execution records, oldest first.
func (s *TaskService) Get(ctx context.Context, id string) (*domain.PrivilegedTask, []domain.ExecutionRecord, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, nil, apperrors.NotFoundOr(err, "task", map[string]any{"task_id": id})
	}
	records, err := s.executions.ListByTask(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return task, records, nil
}

// List returns tasks matching filter.
func (s *TaskService) List(ctx context.Context, filter repository.TaskFilter) ([]domain.PrivilegedTask, error) {
	return s.tasks.List(ctx, filter)
}

// TicketHistory returns the lifecycle trail of a ticket and its tasks and
// approvals, oldest first.
func (s *TaskService) TicketHistory(ctx context.Context, ticketID string) ([]domain.LifecycleEntry, error) {
	if _, err := s.tickets.GetByID(ctx, ticketID); err != nil {
		return nil, apperrors.NotFoundOr(err, "ticket", map[string]any{"ticket_id": ticketID})
	}
	if s.history == nil {
		return []domain.LifecycleEntry{}, nil
	}
	return s.history.ListByTicket(ctx, ticketID)
}

// Summary previews the directory state the task would change.
func (s *TaskService) Summary(ctx context.Context, id string) (map[string]any, error) {
	task, err := s.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.NotFoundOr(err, "task", map[string]any{"task_id": id})
	}
	if s.directory == nil {
		return nil, apperrors.NewServiceUnavailable("DIRECTORY_DISABLED", "directory integration is not configured", nil)
	}
	summary, err := s.directory.OperationSummary(ctx, string(task.Kind), task.TargetPrincipal)
	if err != nil {
		return nil, MapDirectoryError(err)
	}
	return map[string]any{
		"task_id":         task.ID,
		"kind":            task.Kind,
		"status":          task.Status,
		"target_resource": task.TargetResource,
		"directory":       summary,
	}, nil
}

func validateTaskInput(input *TaskCreateInput) error {
	input.TicketID = strings.TrimSpace(input.TicketID)
	input.TargetPrincipal = strings.TrimSpace(input.TargetPrincipal)
	input.Justification = strings.TrimSpace(input.Justification)
	if input.TargetResource != nil {
		trimmed := strings.TrimSpace(*input.TargetResource)
		if trimmed == "" {
			input.TargetResource = nil
		} else {
			input.TargetResource = &trimmed
		}
	}

	problems := map[string]any{}
	if input.TicketID == "" {
		problems["ticket_id"] = "required"
	}
	if !input.Kind.Valid() {
		problems["kind"] = "unknown task kind"
	}
	if input.TargetPrincipal == "" {
		problems["target_principal"] = "required"
	}
	if len([]rune(input.Justification)) < minJustificationLength {
		problems["justification"] = "must be at least 5 characters"
	}
	if input.Kind.NeedsResource() && input.TargetResource == nil {
		problems["target_resource"] = "required for " + string(input.Kind)
	}
	if len(problems) > 0 {
		return apperrors.NewValidationError("invalid task", problems)
	}
	return nil
}
