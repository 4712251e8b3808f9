package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/helpdesk-ops/internal/domain"
	"github.com/spec-kit/helpdesk-ops/internal/events"
)

func publishEvent(ctx context.Context, dispatcher events.Dispatcher, event events.Event) {
	if dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = dispatcher.Publish(ctx, event)
}

func staffActor(staff *domain.StaffMember) events.Actor {
	return events.Actor{
		Type:    domain.SubjectTypeStaff,
		StaffID: staff.ID,
		Role:    staff.Role,
	}
}

func strPtr(s string) *string {
	return &s
}
