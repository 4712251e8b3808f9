package domain

import (
	"fmt"
	"time"
)

// TaskKind names the directory action a privileged task asks for.
type TaskKind string

const (
	TaskKindLicenseAssign       TaskKind = "license_assign"
	TaskKindLicenseRemove       TaskKind = "license_remove"
	TaskKindPasswordReset       TaskKind = "password_reset"
	TaskKindMFAReset            TaskKind = "mfa_reset"
	TaskKindMailboxPermission   TaskKind = "mailbox_permission"
	TaskKindGroupAdd            TaskKind = "group_add"
	TaskKindGroupRemove         TaskKind = "group_remove"
	TaskKindTeamCreate          TaskKind = "team_create"
	TaskKindTeamOwnerChange     TaskKind = "team_owner_change"
	TaskKindOneDriveRestore     TaskKind = "onedrive_restore"
	TaskKindOneDriveShareRevoke TaskKind = "onedrive_share_revoke"
	TaskKindUserOffboard        TaskKind = "user_offboard"
	TaskKindUserOnboard         TaskKind = "user_onboard"
	TaskKindSecurityGroup       TaskKind = "security_group"
	TaskKindOther               TaskKind = "other"
)

var taskKinds = map[TaskKind]struct{}{
	TaskKindLicenseAssign: {}, TaskKindLicenseRemove: {}, TaskKindPasswordReset: {},
	TaskKindMFAReset: {}, TaskKindMailboxPermission: {}, TaskKindGroupAdd: {},
	TaskKindGroupRemove: {}, TaskKindTeamCreate: {}, TaskKindTeamOwnerChange: {},
	TaskKindOneDriveRestore: {}, TaskKindOneDriveShareRevoke: {}, TaskKindUserOffboard: {},
	TaskKindUserOnboard: {}, TaskKindSecurityGroup: {}, TaskKindOther: {},
}

// Valid reports whether k is a known kind.
func (k TaskKind) Valid() bool {
	_, ok := taskKinds[k]
	return ok
}

// NeedsResource reports whether the kind acts on a license SKU or group id.
func (k TaskKind) NeedsResource() bool {
	switch k {
	case TaskKindLicenseAssign, TaskKindLicenseRemove, TaskKindGroupAdd, TaskKindGroupRemove:
		return true
	}
	return false
}

// UnmarshalText rejects unknown tags so stored history stays readable.
func (k *TaskKind) UnmarshalText(b []byte) error {
	v := TaskKind(b)
	if !v.Valid() {
		return fmt.Errorf("unknown task kind %q", string(b))
	}
	*k = v
	return nil
}

// TaskStatus is the lifecycle state of a privileged task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusRolledBack TaskStatus = "rolled_back"
)

// failed -> in_progress opens a new attempt; it never rewrites the old one.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusInProgress, TaskStatusRolledBack},
	TaskStatusInProgress: {TaskStatusCompleted, TaskStatusFailed, TaskStatusRolledBack},
	TaskStatusFailed:     {TaskStatusInProgress, TaskStatusRolledBack},
	TaskStatusCompleted:  {},
	TaskStatusRolledBack: {},
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	_, ok := taskTransitions[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	for _, candidate := range taskTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Executable reports whether a new execution attempt may start from s.
func (s TaskStatus) Executable() bool {
	return s == TaskStatusPending || s == TaskStatusInProgress || s == TaskStatusFailed
}

// UnmarshalText rejects unknown tags.
func (s *TaskStatus) UnmarshalText(b []byte) error {
	v := TaskStatus(b)
	if !v.Valid() {
		return fmt.Errorf("unknown task status %q", string(b))
	}
	*s = v
	return nil
}

// PrivilegedTask is one requested directory action on behalf of a ticket.
type PrivilegedTask struct {
	ID                string
	TicketID          string
	Kind              TaskKind
	TargetPrincipal   string
	TargetResource    *string
	Justification     string
	Checklist         *string
	RollbackProcedure *string
	Status            TaskStatus
	CreatedBy         string
	OperatorID        *string
	CreatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
}

// Resource returns the target resource or an empty string.
func (t *PrivilegedTask) Resource() string {
	if t.TargetResource == nil {
		return ""
	}
	return *t.TargetResource
}
