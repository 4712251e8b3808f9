package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-ops/internal/config"
	"github.com/spec-kit/helpdesk-ops/internal/events"
	"github.com/spec-kit/helpdesk-ops/internal/masking"
)

// NotificationService handles emitting notifications for workflow events.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTaskCreated, n.handleTaskCreated)
	n.dispatcher.Subscribe(events.EventApprovalRequested, n.handleApprovalRequested)
	n.dispatcher.Subscribe(events.EventApprovalDecided, n.handleApprovalDecided)
	n.dispatcher.Subscribe(events.EventTaskExecuted, n.handleTaskExecuted)
}

func (n *NotificationService) handleTaskCreated(ctx context.Context, event events.Event) error {
	n.logger.Info("TaskCreated", zap.String("ticket_id", event.TicketID), zap.String("actor", event.Actor.StaffID))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

// Approvers are the audience for new requests.
func (n *NotificationService) handleApprovalRequested(ctx context.Context, event events.Event) error {
	reason := ""
	if p, ok := event.Payload.(events.ApprovalRequestedPayload); ok {
		reason = masking.Preview(p.Reason, 120)
	}
	n.logger.Info("ApprovalRequested", zap.String("ticket_id", event.TicketID), zap.String("reason", reason))
	n.sendEmailNotificationStub(ctx, event)
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleApprovalDecided(ctx context.Context, event events.Event) error {
	n.logger.Info("ApprovalDecided", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	n.sendEmailNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) handleTaskExecuted(ctx context.Context, event events.Event) error {
	n.logger.Info("TaskExecuted", zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	n.sendWebhookNotificationStub(ctx, event)
	return nil
}

func (n *NotificationService) sendEmailNotificationStub(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return
	}
	n.logger.Debug("sendEmailNotificationStub",
		zap.String("from", n.cfg.EmailFrom),
		zap.String("ticket_id", event.TicketID),
		zap.String("event_type", string(event.Type)))
}

func (n *NotificationService) sendWebhookNotificationStub(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("sendWebhookNotificationStub",
		zap.String("url", n.cfg.WebhookURL),
		zap.String("ticket_id", event.TicketID),
		zap.String("event_type", string(event.Type)))
}
