// Package logstatus writes status events to the service log.
package logstatus

import (
	"context"
	"log/slog"

	"github.com/tjfontaine/polyglot-time-awareness/internal/core/domain"
	"github.com/tjfontaine/polyglot-time-awareness/internal/core/ports"
)

// Notifier logs each status event at a fixed level.
type Notifier struct {
	logger *slog.Logger
	level  slog.Level
}

// NewNotifier creates a notifier logging at level. A nil logger means
// slog.Default().
func NewNotifier(logger *slog.Logger, level slog.Level) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{logger: logger, level: level}
}

// Notify logs the event. It never fails.
func (n *Notifier) Notify(ctx context.Context, event domain.StatusEvent) error {
	n.logger.Log(ctx, n.level, "status event",
		slog.String("type", event.Type),
		slog.String("description", event.Data.Description),
		slog.Bool("done", event.Data.Done),
	)
	return nil
}

// Ensure Notifier implements the interface.
var _ ports.StatusNotifier = (*Notifier)(nil)
