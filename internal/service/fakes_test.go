package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk-ops/internal/audit"
	"github.com/spec-kit/helpdesk-ops/internal/directory"
	"github.com/spec-kit/helpdesk-ops/internal/domain"
	"github.com/spec-kit/helpdesk-ops/internal/repository"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// memStore mimics the transactional repositories: every write happens under
// one lock and reads return copies.
type memStore struct {
	mu        sync.Mutex
	tickets   map[string]domain.Ticket
	tasks     map[string]domain.PrivilegedTask
	approvals map[string]domain.ApprovalRequest
	records   []domain.ExecutionRecord
	history   []domain.LifecycleEntry
	commitErr error
}

func newMemStore() *memStore {
	return &memStore{
		tickets:   map[string]domain.Ticket{},
		tasks:     map[string]domain.PrivilegedTask{},
		approvals: map[string]domain.ApprovalRequest{},
	}
}

func (s *memStore) addTicket(id string, status domain.TicketStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[id] = domain.Ticket{ID: id, Number: "HD-" + id, Title: "access issue", Status: status, RequesterID: "req-1", CreatedAt: testNow}
}

func (s *memStore) ticket(id string) domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tickets[id]
}

func (s *memStore) task(id string) domain.PrivilegedTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id]
}

func (s *memStore) recordsFor(taskID string) []domain.ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ExecutionRecord
	for _, r := range s.records {
		if r.TaskID == taskID {
			out = append(out, r)
		}
	}
	return out
}

func (s *memStore) historyFor(entityID string) []domain.LifecycleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LifecycleEntry
	for _, h := range s.history {
		if h.EntityID == entityID {
			out = append(out, h)
		}
	}
	return out
}

func (s *memStore) applyTicket(change *domain.TicketStatusChange) error {
	if change == nil {
		return nil
	}
	t, ok := s.tickets[change.TicketID]
	if !ok {
		return pgx.ErrNoRows
	}
	t.Status = change.Status
	if change.ResolvedAt != nil {
		t.ResolvedAt = change.ResolvedAt
	}
	s.tickets[t.ID] = t
	return nil
}

func (s *memStore) appendHistory(entries []domain.LifecycleEntry) {
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = uuid.NewString()
		}
		s.history = append(s.history, entries[i])
	}
}

type memTickets struct{ *memStore }

func (m memTickets) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &t, nil
}

func (m memTickets) UpdateStatus(_ context.Context, change domain.TicketStatusChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyTicket(&change)
}

type memTasks struct{ *memStore }

func (m memTasks) Create(_ context.Context, task *domain.PrivilegedTask, history []domain.LifecycleEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = *task
	m.appendHistory(history)
	return nil
}

func (m memTasks) GetByID(_ context.Context, id string) (*domain.PrivilegedTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &t, nil
}

func (m memTasks) List(_ context.Context, filter repository.TaskFilter) ([]domain.PrivilegedTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PrivilegedTask
	for _, t := range m.tasks {
		if filter.TicketID != nil && t.TicketID != *filter.TicketID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memApprovals struct{ *memStore }

func (m memApprovals) CreatePending(_ context.Context, approval *domain.ApprovalRequest, ticket *domain.TicketStatusChange, history []domain.LifecycleEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.approvals {
		if a.TicketID == approval.TicketID && a.Status == domain.ApprovalStatusPending {
			return domain.ErrApprovalPending
		}
	}
	if err := m.applyTicket(ticket); err != nil {
		return err
	}
	m.approvals[approval.ID] = *approval
	m.appendHistory(history)
	return nil
}

func (m memApprovals) Decide(_ context.Context, approval *domain.ApprovalRequest, ticket *domain.TicketStatusChange, history []domain.LifecycleEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.approvals[approval.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	if stored.Status != domain.ApprovalStatusPending {
		return domain.ErrApprovalDecided
	}
	if err := m.applyTicket(ticket); err != nil {
		return err
	}
	m.approvals[approval.ID] = *approval
	m.appendHistory(history)
	return nil
}

func (m memApprovals) GetByID(_ context.Context, id string) (*domain.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &a, nil
}

func (m memApprovals) LatestApproved(_ context.Context, ticketID string) (*domain.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.ApprovalRequest
	for _, a := range m.approvals {
		if a.TicketID != ticketID || a.Status != domain.ApprovalStatusApproved {
			continue
		}
		if latest == nil || a.DecidedAt.After(*latest.DecidedAt) {
			cp := a
			latest = &cp
		}
	}
	if latest == nil {
		return nil, pgx.ErrNoRows
	}
	return latest, nil
}

func (m memApprovals) List(_ context.Context, filter repository.ApprovalFilter) ([]domain.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ApprovalRequest
	for _, a := range m.approvals {
		if filter.TicketID != nil && a.TicketID != *filter.TicketID {
			continue
		}
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

type memExecutions struct{ *memStore }

func (m memExecutions) CommitAttempt(_ context.Context, attempt repository.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	if attempt.Task != nil {
		m.tasks[attempt.Task.ID] = *attempt.Task
	}
	if err := m.applyTicket(attempt.Ticket); err != nil {
		return err
	}
	m.records = append(m.records, *attempt.Record)
	m.appendHistory(attempt.History)
	return nil
}

func (m memExecutions) GetByID(_ context.Context, id string) (*domain.ExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m memExecutions) ListByTask(_ context.Context, taskID string) ([]domain.ExecutionRecord, error) {
	return m.recordsFor(taskID), nil
}

// fakeDirectory answers every operation with a canned result unless a hook
// for that operation is set.
type fakeDirectory struct {
	mu        sync.Mutex
	calls     []string
	passwords []string
	hook      func(ctx context.Context, op string) (*directory.OperationResult, error)
}

func (f *fakeDirectory) call(ctx context.Context, op string) (*directory.OperationResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx, op)
	}
	res := &directory.OperationResult{Status: directory.ResultSuccess, Message: op + " done"}
	if op == "reset_password" {
		res.Secret = "Tmp-Pa55word!xyz"
	}
	return res, nil
}

func (f *fakeDirectory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeDirectory) AssignLicense(ctx context.Context, _, _, _ string) (*directory.OperationResult, error) {
	return f.call(ctx, "assign_license")
}

func (f *fakeDirectory) RemoveLicense(ctx context.Context, _, _, _ string) (*directory.OperationResult, error) {
	return f.call(ctx, "remove_license")
}

func (f *fakeDirectory) ResetPassword(ctx context.Context, _, password string, _ bool, _ string) (*directory.OperationResult, error) {
	f.mu.Lock()
	f.passwords = append(f.passwords, password)
	f.mu.Unlock()
	res, err := f.call(ctx, "reset_password")
	if res != nil && password != "" {
		res.Secret = password
	}
	return res, err
}

func (f *fakeDirectory) ResetMFA(ctx context.Context, _, _ string) (*directory.OperationResult, error) {
	return f.call(ctx, "reset_mfa")
}

func (f *fakeDirectory) AddGroupMember(ctx context.Context, _, _, _ string) (*directory.OperationResult, error) {
	return f.call(ctx, "add_group_member")
}

func (f *fakeDirectory) RemoveGroupMember(ctx context.Context, _, _, _ string) (*directory.OperationResult, error) {
	return f.call(ctx, "remove_group_member")
}

type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func newMemLocker() *memLocker { return &memLocker{held: map[string]bool{}} }

func (l *memLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held[key] {
		return nil, false, nil
	}
	l.held[key] = true
	return func(context.Context) error {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
		return nil
	}, true, nil
}

type memSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *memSink) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memSink) executions() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Entry
	for _, e := range s.entries {
		if e.Family == audit.FamilyExecution {
			out = append(out, e)
		}
	}
	return out
}

var (
	alice = &domain.StaffMember{ID: "alice", Name: "Alice", Email: "alice@corp.example", Role: domain.StaffRoleAgent, Active: true}
	bob   = &domain.StaffMember{ID: "bob", Name: "Bob", Email: "bob@corp.example", Role: domain.StaffRoleApprover, Active: true}
	carol = &domain.StaffMember{ID: "carol", Name: "Carol", Email: "carol@corp.example", Role: domain.StaffRoleOperator, Active: true}
)
