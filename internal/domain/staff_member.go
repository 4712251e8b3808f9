package domain

import "time"

// StaffRole enumerates internal operator roles.
type StaffRole string

const (
	StaffRoleRequester StaffRole = "requester"
	StaffRoleAgent     StaffRole = "agent"
	StaffRoleOperator  StaffRole = "m365_operator"
	StaffRoleApprover  StaffRole = "approver"
	StaffRoleManager   StaffRole = "manager"
	StaffRoleAuditor   StaffRole = "auditor"
)

// StaffMember models a helpdesk account able to act on privileged tasks.
type StaffMember struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         StaffRole
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
