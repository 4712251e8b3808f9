package audit

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-ops/internal/observability"
)

// NamedSink labels a sink for logs and metrics.
type NamedSink struct {
	Name string
	Sink Sink
}

// Writer fans entries out to every sink. A failing sink does not stop the others.
type Writer struct {
	sinks   []NamedSink
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewWriter builds a Writer.
func NewWriter(logger *zap.Logger, metrics *observability.Metrics, sinks ...NamedSink) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{sinks: sinks, logger: logger, metrics: metrics}
}

// Append delivers entry to all sinks and joins their errors.
func (w *Writer) Append(ctx context.Context, entry Entry) error {
	if w == nil {
		return nil
	}
	var errs []error
	for _, s := range w.sinks {
		if err := s.Sink.Append(ctx, entry); err != nil {
			w.metrics.RecordAuditFailure(s.Name)
			w.logger.Error("audit sink append failed",
				zap.String("sink", s.Name),
				zap.String("entry_id", entry.ID),
				zap.String("family", string(entry.Family)),
				zap.String("ticket_id", entry.TicketID),
				zap.Bool("committed", entry.Committed),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
