package domain

import "time"

// LifecycleEntity names what a history entry describes.
type LifecycleEntity string

const (
	EntityTicket   LifecycleEntity = "ticket"
	EntityTask     LifecycleEntity = "task"
	EntityApproval LifecycleEntity = "approval"
)

// LifecycleAction captures what happened.
type LifecycleAction string

const (
	ActionCreated           LifecycleAction = "created"
	ActionStatusChanged     LifecycleAction = "status_changed"
	ActionApprovalRequested LifecycleAction = "approval_requested"
	ActionApproved          LifecycleAction = "approved"
	ActionRejected          LifecycleAction = "rejected"
	ActionExecuted          LifecycleAction = "executed"
)

// LifecycleEntry is an immutable audit trail entry.
type LifecycleEntry struct {
	ID        string          `json:"id"`
	Entity    LifecycleEntity `json:"entity"`
	EntityID  string          `json:"entity_id"`
	TicketID  string          `json:"ticket_id"`
	ActorID   *string         `json:"actor_id,omitempty"`
	Action    LifecycleAction `json:"action"`
	Field     string          `json:"field,omitempty"`
	Before    map[string]any  `json:"before,omitempty"`
	After     map[string]any  `json:"after,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// StatusChange builds a status_changed entry.
func StatusChange(entity LifecycleEntity, entityID, ticketID string, actorID *string, before, after any, reason string, at time.Time) LifecycleEntry {
	return LifecycleEntry{
		Entity:    entity,
		EntityID:  entityID,
		TicketID:  ticketID,
		ActorID:   actorID,
		Action:    ActionStatusChanged,
		Field:     "status",
		Before:    map[string]any{"status": before},
		After:     map[string]any{"status": after},
		Reason:    reason,
		CreatedAt: at,
	}
}
