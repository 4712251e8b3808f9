package worker

import (
	"github.com/spec-kit/helpdesk-ops/internal/events"
	"github.com/spec-kit/helpdesk-ops/internal/service"
)

// StartNotificationWorker registers notification handlers and, when a
// publisher is configured, forwards every workflow event to Redis.
func StartNotificationWorker(dispatcher events.Dispatcher, notificationService *service.NotificationService, publisher *events.RedisPublisher) {
	if notificationService != nil {
		notificationService.RegisterHandlers()
	}
	if dispatcher != nil && publisher != nil {
		publisher.Register(dispatcher)
	}
}
