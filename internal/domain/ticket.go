package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusNew             TicketStatus = "new"
	TicketStatusTriage          TicketStatus = "triage"
	TicketStatusAssigned        TicketStatus = "assigned"
	TicketStatusInProgress      TicketStatus = "in_progress"
	TicketStatusPendingCustomer TicketStatus = "pending_customer"
	TicketStatusPendingApproval TicketStatus = "pending_approval"
	TicketStatusPendingChange   TicketStatus = "pending_change"
	TicketStatusResolved        TicketStatus = "resolved"
	TicketStatusClosed          TicketStatus = "closed"
	TicketStatusCanceled        TicketStatus = "canceled"
	TicketStatusReopened        TicketStatus = "reopened"
)

// Closed reports whether the ticket no longer accepts privileged work.
func (s TicketStatus) Closed() bool {
	return s == TicketStatusClosed || s == TicketStatusCanceled
}

// Ticket is the slice of the helpdesk ticket this service reads and writes.
type Ticket struct {
	ID          string
	Number      string
	Title       string
	Status      TicketStatus
	RequesterID string
	AssigneeID  *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ResolvedAt  *time.Time
}

// TicketStatusChange is a status write applied together with a workflow step.
type TicketStatusChange struct {
	TicketID   string
	Status     TicketStatus
	ResolvedAt *time.Time
}
