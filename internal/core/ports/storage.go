package ports

import (
	"context"

	"github.com/tjfontaine/polyglot-time-awareness/internal/core/domain"
)

// CorrelationStore links the context computed by an inbound pass to the
// outbound pass of the same exchange.
// Implementations: bounded in-memory LRU (default), SQLite.
// Implementations must be safe for concurrent use across exchanges.
type CorrelationStore interface {
	// Record stores the context captured for an exchange, replacing any
	// earlier entry for the same id.
	Record(ctx context.Context, exchangeID string, c domain.Correlation) error

	// Recall returns the context captured for an exchange. found is false
	// when the exchange was never recorded or its entry was evicted.
	Recall(ctx context.Context, exchangeID string) (c domain.Correlation, found bool, err error)

	// Len returns the number of live entries.
	Len() int

	Close() error
}
