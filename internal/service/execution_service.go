package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-ops/internal/audit"
	"github.com/spec-kit/helpdesk-ops/internal/directory"
	"github.com/spec-kit/helpdesk-ops/internal/domain"
	"github.com/spec-kit/helpdesk-ops/internal/events"
	"github.com/spec-kit/helpdesk-ops/internal/masking"
	"github.com/spec-kit/helpdesk-ops/internal/observability"
	"github.com/spec-kit/helpdesk-ops/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-ops/pkg/util/errorutil"
)

const lockKeyPrefix = "task-exec:"

// DirectoryOperations is the mutating directory surface the orchestrator drives.
type DirectoryOperations interface {
	AssignLicense(ctx context.Context, principal, sku, comment string) (*directory.OperationResult, error)
	RemoveLicense(ctx context.Context, principal, sku, comment string) (*directory.OperationResult, error)
	ResetPassword(ctx context.Context, principal, password string, forceChange bool, comment string) (*directory.OperationResult, error)
	ResetMFA(ctx context.Context, principal, comment string) (*directory.OperationResult, error)
	AddGroupMember(ctx context.Context, group, principal, comment string) (*directory.OperationResult, error)
	RemoveGroupMember(ctx context.Context, group, principal, comment string) (*directory.OperationResult, error)
}

// Locker grants exclusive short-lived locks.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error)
}

// ExecutionService runs one privileged execution attempt end to end.
type ExecutionService struct {
	tasks      repository.TaskRepository
	tickets    repository.TicketRepository
	approvals  repository.ApprovalRepository
	executions repository.ExecutionRepository
	directory  DirectoryOperations
	locker     Locker
	journal    audit.Sink
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	opTimeout  time.Duration
	lockTTL    time.Duration
	now        func() time.Time
}

// ExecutionDependencies bundles collaborators for the execution service.
type ExecutionDependencies struct {
	TaskRepo         repository.TaskRepository
	TicketRepo       repository.TicketRepository
	ApprovalRepo     repository.ApprovalRepository
	ExecutionRepo    repository.ExecutionRepository
	Directory        DirectoryOperations
	Locker           Locker
	Journal          audit.Sink
	Dispatcher       events.Dispatcher
	Metrics          *observability.Metrics
	Logger           *zap.Logger
	OperationTimeout time.Duration
	LockTTL          time.Duration
	Clock            func() time.Time
}

// ExecuteInput describes one execution request.
type ExecuteInput struct {
	TaskID   string
	Operator *domain.StaffMember
	// Action is a human label stored on the record; it defaults to the task kind.
	Action  string
	Command string
}

// ExecutionResult is returned for every attempt that reached the directory
// step, whether the operation succeeded or not.
type ExecutionResult struct {
	Status            domain.ExecutionOutcome `json:"status"`
	Result            map[string]any          `json:"result"`
	Error             *string                 `json:"error"`
	TaskStatus        domain.TaskStatus       `json:"task_status"`
	RecordID          string                  `json:"record_id"`
	TemporaryPassword string                  `json:"temporary_password,omitempty"`
}

// NewExecutionService constructs the service.
func NewExecutionService(deps ExecutionDependencies) *ExecutionService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	opTimeout := deps.OperationTimeout
	if opTimeout <= 0 {
		opTimeout = 300 * time.Second
	}
	lockTTL := deps.LockTTL
	if lockTTL <= 0 {
		lockTTL = opTimeout + 30*time.Second
	}
	return &ExecutionService{
		tasks:      deps.TaskRepo,
		tickets:    deps.TicketRepo,
		approvals:  deps.ApprovalRepo,
		executions: deps.ExecutionRepo,
		directory:  deps.Directory,
		locker:     deps.Locker,
		journal:    deps.Journal,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		opTimeout:  opTimeout,
		lockTTL:    lockTTL,
		now:        clock,
	}
}

// Execute verifies approval and separation of duties, performs the directory
// operation and commits the task transition, ticket status and exactly one
// execution record together. Precondition failures return an error and write
// nothing; operation failures are recorded and returned as a failure result.
func (s *ExecutionService) Execute(ctx context.Context, input ExecuteInput) (*ExecutionResult, error) {
	if input.Operator == nil {
		return nil, apperrors.NewUnauthorized("operator identity required")
	}

	unlock, err := s.acquire(ctx, input.TaskID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release execution lock failed", zap.String("task_id", input.TaskID), zap.Error(err))
		}
	}()

	task, err := s.tasks.GetByID(ctx, input.TaskID)
	if err != nil {
		return nil, apperrors.NotFoundOr(err, "task", map[string]any{"task_id": input.TaskID})
	}
	if !task.Status.Executable() {
		return nil, withDetails(ErrTaskNotExecutable, map[string]any{"task_id": task.ID, "status": task.Status})
	}
	ticket, err := s.tickets.GetByID(ctx, task.TicketID)
	if err != nil {
		return nil, apperrors.NotFoundOr(err, "ticket", map[string]any{"ticket_id": task.TicketID})
	}
	approval, err := s.approvals.LatestApproved(ctx, ticket.ID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, withDetails(ErrApprovalRequired, map[string]any{"ticket_id": ticket.ID})
		}
		return nil, err
	}
	if err := CheckSeparationOfDuties(approval, input.Operator); err != nil {
		s.logger.Warn("execution refused",
			zap.String("task_id", task.ID),
			zap.String("operator_id", input.Operator.ID),
			zap.Error(err))
		return nil, err
	}

	return s.attempt(ctx, input, task, ticket, approval)
}

func (s *ExecutionService) acquire(ctx context.Context, taskID string) (func(context.Context) error, error) {
	if s.locker == nil {
		return func(context.Context) error { return nil }, nil
	}
	unlock, ok, err := s.locker.TryLock(ctx, lockKeyPrefix+taskID, s.lockTTL)
	if err != nil {
		return nil, apperrors.NewServiceUnavailable("LOCK_UNAVAILABLE", "execution lock unavailable", err)
	}
	if !ok {
		return nil, withDetails(ErrExecutionInProgress, map[string]any{"task_id": taskID})
	}
	return unlock, nil
}

func (s *ExecutionService) attempt(ctx context.Context, input ExecuteInput, task *domain.PrivilegedTask, ticket *domain.Ticket, approval *domain.ApprovalRequest) (*ExecutionResult, error) {
	operator := input.Operator
	started := s.now().UTC()
	taskBefore := task.Status
	ticketBefore := ticket.Status

	task.Status = domain.TaskStatusInProgress
	task.StartedAt = &started
	task.CompletedAt = nil
	if task.OperatorID == nil {
		task.OperatorID = strPtr(operator.ID)
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	res, opErr := s.dispatch(opCtx, task, input)
	cancel()
	if opErr == nil && res == nil {
		res = &directory.OperationResult{Status: directory.ResultSuccess}
	}

	finished := s.now().UTC()
	outcome := domain.ExecutionOutcomeSuccess
	var (
		resultBody map[string]any
		errMsg     *string
		ticketNext = ticketBefore
		resolvedAt *time.Time
	)
	switch {
	case opErr != nil:
		outcome = domain.ExecutionOutcomeFailure
		msg, details := describeFailure(opErr)
		errMsg = &msg
		resultBody = map[string]any{"status": directory.ResultFailure, "message": msg, "details": details}
		task.Status = domain.TaskStatusFailed
	default:
		resultBody = resultMap(res)
		task.Status = domain.TaskStatusCompleted
		task.CompletedAt = &finished
		ticketNext = domain.TicketStatusResolved
		resolvedAt = &finished
	}

	resultJSON, err := json.Marshal(masking.RedactRecord(resultBody))
	if err != nil {
		resultJSON = []byte(fmt.Sprintf(`{"status":%q,"encode_error":%q}`, outcome, err.Error()))
	}
	requestJSON, _ := json.Marshal(requestDescriptor(task, input))

	action := input.Action
	if action == "" {
		action = string(task.Kind)
	}
	record := &domain.ExecutionRecord{
		ID:           uuid.NewString(),
		TaskID:       task.ID,
		TicketID:     ticket.ID,
		ApprovalID:   approval.ID,
		OperatorID:   operator.ID,
		Action:       action,
		Method:       domain.ExecutionMethodExternalAPI,
		Request:      requestJSON,
		Outcome:      outcome,
		Result:       resultJSON,
		ErrorMessage: errMsg,
		ExecutedAt:   finished,
	}

	var ticketChange *domain.TicketStatusChange
	history := []domain.LifecycleEntry{}
	if taskBefore != task.Status {
		history = append(history, domain.StatusChange(domain.EntityTask, task.ID, ticket.ID, strPtr(operator.ID), taskBefore, task.Status, action, finished))
	}
	if ticketNext != ticketBefore {
		ticketChange = &domain.TicketStatusChange{TicketID: ticket.ID, Status: ticketNext, ResolvedAt: resolvedAt}
		history = append(history, domain.StatusChange(domain.EntityTicket, ticket.ID, ticket.ID, strPtr(operator.ID), ticketBefore, ticketNext, "task "+string(task.Status), finished))
	}
	history = append(history, domain.LifecycleEntry{
		Entity:    domain.EntityTask,
		EntityID:  task.ID,
		TicketID:  ticket.ID,
		ActorID:   strPtr(operator.ID),
		Action:    domain.ActionExecuted,
		After:     map[string]any{"outcome": outcome, "record_id": record.ID, "approval_id": approval.ID},
		CreatedAt: finished,
	})

	for i := range history {
		history[i].ID = uuid.NewString()
	}

	commitCtx := context.WithoutCancel(ctx)
	commitErr := s.executions.CommitAttempt(commitCtx, repository.Attempt{
		Task:    task,
		Ticket:  ticketChange,
		Record:  record,
		History: history,
	})
	s.mirror(commitCtx, record, history, commitErr)
	if commitErr != nil {
		s.logger.Error("execution commit failed; record journaled for reconciliation",
			zap.String("record_id", record.ID),
			zap.String("task_id", task.ID),
			zap.String("ticket_id", ticket.ID),
			zap.String("approval_id", approval.ID),
			zap.String("operator_id", operator.ID),
			zap.String("outcome", string(outcome)),
			zap.String("task_status", string(task.Status)),
			zap.String("ticket_status", string(ticketNext)),
			zap.Error(commitErr))
		s.metrics.RecordExecution(string(task.Kind), "commit_failed")
		return nil, apperrors.NewInternalError(commitErr)
	}

	s.metrics.RecordExecution(string(task.Kind), string(outcome))
	s.logger.Info("privileged task executed",
		zap.String("record_id", record.ID),
		zap.String("task_id", task.ID),
		zap.String("kind", string(task.Kind)),
		zap.String("target", masking.Mask(task.TargetPrincipal)),
		zap.String("operator_id", operator.ID),
		zap.String("outcome", string(outcome)),
		zap.Duration("duration", finished.Sub(started)))

	publishEvent(ctx, s.dispatcher, events.Event{
		Type:     events.EventTaskExecuted,
		TicketID: ticket.ID,
		Actor:    staffActor(operator),
		Payload: events.TaskExecutedPayload{
			TaskID:     task.ID,
			RecordID:   record.ID,
			Kind:       task.Kind,
			Outcome:    outcome,
			TaskStatus: task.Status,
		},
	})

	out := &ExecutionResult{
		Status:     outcome,
		Result:     resultBody,
		Error:      errMsg,
		TaskStatus: task.Status,
		RecordID:   record.ID,
	}
	if res != nil && opErr == nil {
		out.TemporaryPassword = res.Secret
	}
	return out, nil
}

// dispatch calls the facade method for the task kind. Kinds without an
// automated handler are recorded as manual work. A panic inside the facade
// becomes an error so the attempt is still recorded.
func (s *ExecutionService) dispatch(ctx context.Context, task *domain.PrivilegedTask, input ExecuteInput) (res *directory.OperationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("directory operation panicked", zap.String("task_id", task.ID), zap.Any("panic", r))
			res, err = nil, fmt.Errorf("directory operation panicked: %v", r)
		}
	}()

	if s.directory == nil && automated(task.Kind) {
		return nil, &directory.AuthenticationError{Message: "directory integration is not configured"}
	}

	comment := task.Justification
	principal := task.TargetPrincipal
	switch task.Kind {
	case domain.TaskKindLicenseAssign:
		return s.directory.AssignLicense(ctx, principal, task.Resource(), comment)
	case domain.TaskKindLicenseRemove:
		return s.directory.RemoveLicense(ctx, principal, task.Resource(), comment)
	case domain.TaskKindPasswordReset:
		return s.directory.ResetPassword(ctx, principal, input.Command, true, comment)
	case domain.TaskKindMFAReset:
		return s.directory.ResetMFA(ctx, principal, comment)
	case domain.TaskKindGroupAdd:
		return s.directory.AddGroupMember(ctx, task.Resource(), principal, comment)
	case domain.TaskKindGroupRemove:
		return s.directory.RemoveGroupMember(ctx, task.Resource(), principal, comment)
	default:
		return &directory.OperationResult{
			Status:  directory.ResultManual,
			Message: "no automated handler for " + string(task.Kind) + "; recorded as performed by the operator",
			Data:    map[string]any{"kind": task.Kind, "command": input.Command},
		}, nil
	}
}

// mirror appends the record to the journal. A journal failure after a
// successful commit is logged only; the database already holds the record.
func (s *ExecutionService) mirror(ctx context.Context, record *domain.ExecutionRecord, history []domain.LifecycleEntry, commitErr error) {
	if s.journal == nil {
		return
	}
	at := s.now()
	committed := commitErr == nil
	for _, h := range history {
		if err := s.journal.Append(ctx, audit.LifecycleEntry(h, committed, at)); err != nil {
			s.logger.Warn("audit journal append failed", zap.String("entity_id", h.EntityID), zap.Error(err))
		}
	}
	entry := audit.ExecutionEntry(record, committed, commitErr, at)
	if err := s.journal.Append(ctx, entry); err != nil {
		fields := []zap.Field{zap.String("record_id", record.ID), zap.Bool("committed", commitErr == nil), zap.Error(err)}
		if commitErr != nil {
			s.logger.Error("execution record lost from both stores", fields...)
			return
		}
		s.logger.Warn("audit journal append failed", fields...)
	}
}

func automated(kind domain.TaskKind) bool {
	switch kind {
	case domain.TaskKindLicenseAssign, domain.TaskKindLicenseRemove, domain.TaskKindPasswordReset,
		domain.TaskKindMFAReset, domain.TaskKindGroupAdd, domain.TaskKindGroupRemove:
		return true
	}
	return false
}

func describeFailure(err error) (string, map[string]any) {
	if errors.Is(err, context.DeadlineExceeded) {
		return "operation timed out", map[string]any{"kind": "timeout", "cause": err.Error()}
	}
	return directory.Describe(err)
}

func resultMap(res *directory.OperationResult) map[string]any {
	out := map[string]any{
		"status":  res.Status,
		"message": res.Message,
	}
	if res.NoOp {
		out["no_op"] = true
	}
	if res.Data != nil {
		out["data"] = res.Data
	}
	return out
}

func requestDescriptor(task *domain.PrivilegedTask, input ExecuteInput) map[string]any {
	desc := map[string]any{
		"kind":             task.Kind,
		"target_principal": task.TargetPrincipal,
		"target_resource":  task.TargetResource,
		"justification":    masking.Mask(task.Justification),
	}
	if input.Action != "" {
		desc["action"] = input.Action
	}
	switch {
	case input.Command == "":
	case task.Kind == domain.TaskKindPasswordReset:
		// the command is the new password
		desc["command"] = masking.Redacted
	default:
		desc["command"] = masking.Mask(input.Command)
	}
	return desc
}
