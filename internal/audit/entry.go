// Package audit appends workflow evidence to sinks that can only be written,
// never updated or deleted.
package audit

import (
	"context"
	"time"

	"github.com/spec-kit/helpdesk-ops/internal/domain"
)

// Family separates execution evidence from lifecycle history.
type Family string

const (
	FamilyExecution Family = "execution"
	FamilyLifecycle Family = "lifecycle"
)

// Entry is one journal line. Committed is false when the primary store
// rejected the write and the entry exists only in the journal.
type Entry struct {
	ID         string                  `json:"id"`
	Family     Family                  `json:"family"`
	TicketID   string                  `json:"ticket_id"`
	TaskID     string                  `json:"task_id,omitempty"`
	Committed  bool                    `json:"committed"`
	Record     *domain.ExecutionRecord `json:"record,omitempty"`
	Lifecycle  *domain.LifecycleEntry  `json:"lifecycle,omitempty"`
	Error      string                  `json:"error,omitempty"`
	RecordedAt time.Time               `json:"recorded_at"`
}

// ExecutionEntry wraps an execution record. The record id doubles as the entry id
// so replays are idempotent.
func ExecutionEntry(record *domain.ExecutionRecord, committed bool, commitErr error, at time.Time) Entry {
	e := Entry{
		ID:         record.ID,
		Family:     FamilyExecution,
		TicketID:   record.TicketID,
		TaskID:     record.TaskID,
		Committed:  committed,
		Record:     record,
		RecordedAt: at.UTC(),
	}
	if commitErr != nil {
		e.Error = commitErr.Error()
	}
	return e
}

// LifecycleEntry wraps a history entry.
func LifecycleEntry(entry domain.LifecycleEntry, committed bool, at time.Time) Entry {
	return Entry{
		ID:         entry.ID,
		Family:     FamilyLifecycle,
		TicketID:   entry.TicketID,
		Committed:  committed,
		Lifecycle:  &entry,
		RecordedAt: at.UTC(),
	}
}

// Sink accepts entries. Implementations expose no update or delete.
type Sink interface {
	Append(ctx context.Context, entry Entry) error
}
