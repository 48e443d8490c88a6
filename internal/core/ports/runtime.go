package ports

import (
	"context"
	"time"

	"github.com/tjfontaine/polyglot-time-awareness/internal/core/domain"
)

// StatusNotifier delivers fire-and-forget status events to the client side.
// Implementations: slog (default), webhook, RabbitMQ, fan-out.
type StatusNotifier interface {
	Notify(ctx context.Context, event domain.StatusEvent) error
}

// RenderRequest carries everything needed to resolve and format the
// current time for one exchange.
type RenderRequest struct {
	// Actor supplies the user timezone valve.
	Actor *domain.Actor
	// Variables are the request's template variables.
	Variables *domain.InletMetadata
	// At is the instant to render; nil means now.
	At *time.Time
}

// ContextRenderer produces the context value embedded into messages.
type ContextRenderer interface {
	Render(ctx context.Context, req RenderRequest) (string, error)
}
