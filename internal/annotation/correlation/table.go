// Package correlation holds the in-memory table linking inbound passes to
// the outbound pass of the same exchange.
package correlation

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tjfontaine/polyglot-time-awareness/internal/core/domain"
	"github.com/tjfontaine/polyglot-time-awareness/internal/core/ports"
)

const (
	// DefaultCapacity bounds the number of in-flight exchanges remembered.
	DefaultCapacity = 1024
	// DefaultTTL is how long an inbound context stays recallable.
	DefaultTTL = 10 * time.Minute
)

// Options configures a Table.
type Options struct {
	// Capacity is the maximum number of entries; the least recently used
	// entry is evicted first. 0 means DefaultCapacity, negative means no limit.
	Capacity int
	// TTL is the lifetime of an entry. 0 means DefaultTTL, negative means
	// entries never expire.
	TTL time.Duration
	// ConsumeOnRead removes an entry the first time it is recalled. Off by
	// default so repeated outbound passes for one exchange all see it.
	ConsumeOnRead bool
	// Logger receives eviction events at debug level.
	Logger *slog.Logger
}

// Table is a bounded, expiring correlation table. It is safe for
// concurrent use.
type Table struct {
	cache   *expirable.LRU[string, domain.Correlation]
	consume bool
	mu      sync.Mutex // serialises writes with recall+remove when consuming

	evictions atomic.Int64
	logger    *slog.Logger
}

// NewTable creates a correlation table.
func NewTable(opts Options) *Table {
	capacity := opts.Capacity
	switch {
	case capacity == 0:
		capacity = DefaultCapacity
	case capacity < 0:
		capacity = 0 // unlimited
	}

	ttl := opts.TTL
	switch {
	case ttl == 0:
		ttl = DefaultTTL
	case ttl < 0:
		ttl = 0 // no expiry
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	t := &Table{
		consume: opts.ConsumeOnRead,
		logger:  logger,
	}
	t.cache = expirable.NewLRU[string, domain.Correlation](capacity, t.onEvict, ttl)
	return t
}

func (t *Table) onEvict(key string, _ domain.Correlation) {
	t.evictions.Add(1)
	t.logger.Debug("correlation entry evicted", slog.String("exchange_id", key))
}

// Record stores the context for an exchange.
func (t *Table) Record(_ context.Context, exchangeID string, c domain.Correlation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Add(exchangeID, c)
	return nil
}

// Recall returns the context for an exchange.
func (t *Table) Recall(_ context.Context, exchangeID string) (domain.Correlation, bool, error) {
	if !t.consume {
		c, ok := t.cache.Get(exchangeID)
		return c, ok, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.cache.Get(exchangeID)
	if ok {
		t.cache.Remove(exchangeID)
	}
	return c, ok, nil
}

// Len returns the number of entries currently held, including expired
// entries not yet reaped.
func (t *Table) Len() int {
	return t.cache.Len()
}

// Evictions returns how many entries have left the table by capacity,
// expiry or consumption.
func (t *Table) Evictions() int64 {
	return t.evictions.Load()
}

// Close drops all entries.
func (t *Table) Close() error {
	t.cache.Purge()
	return nil
}

// Ensure Table implements the interface.
var _ ports.CorrelationStore = (*Table)(nil)
