// Package sqlite persists the correlation table so that an outbound pass
// can find its inbound context across restarts and replicas sharing a file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tjfontaine/polyglot-time-awareness/internal/core/domain"
	"github.com/tjfontaine/polyglot-time-awareness/internal/core/ports"
)

// Defaults match the in-memory table.
const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxRows = 1024
)

// Options configures a Store.
type Options struct {
	// TTL is the lifetime of a row. 0 means DefaultTTL, negative means rows
	// never expire.
	TTL time.Duration
	// MaxRows caps the table; the oldest rows are dropped first. 0 means
	// DefaultMaxRows, negative means no limit.
	MaxRows int
	// ConsumeOnRead deletes a row the first time it is recalled.
	ConsumeOnRead bool
	Now           func() time.Time
	Logger        *slog.Logger
}

// Store is a SQLite implementation of ports.CorrelationStore.
type Store struct {
	db      *sql.DB
	ttl     time.Duration
	maxRows int
	consume bool
	now     func() time.Time
	logger  *slog.Logger
}

// New opens (creating if needed) the database at dbPath.
func New(dbPath string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; the table is tiny and writes are short.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	ttl := opts.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	maxRows := opts.MaxRows
	if maxRows == 0 {
		maxRows = DefaultMaxRows
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := &Store{db: db, ttl: ttl, maxRows: maxRows, consume: opts.ConsumeOnRead, now: now, logger: logger}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS correlations (
			exchange_id TEXT PRIMARY KEY,
			context TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_correlations_created ON correlations(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// cutoff returns the oldest creation time still alive, in unix nanoseconds.
func (s *Store) cutoff() (int64, bool) {
	if s.ttl < 0 {
		return 0, false
	}
	return s.now().Add(-s.ttl).UnixNano(), true
}

// Record stores the context for an exchange, replacing any previous row,
// then prunes expired rows and the oldest rows beyond the row cap.
func (s *Store) Record(ctx context.Context, exchangeID string, c domain.Correlation) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	if cutoff, ok := s.cutoff(); ok {
		res, err := s.db.ExecContext(ctx, `DELETE FROM correlations WHERE created_at < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("failed to prune correlations: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.logger.Debug("pruned expired correlations", slog.Int64("count", n))
		}
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO correlations (exchange_id, context, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(exchange_id) DO UPDATE SET context = excluded.context, created_at = excluded.created_at`,
		exchangeID, c.Context, createdAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record correlation: %w", err)
	}

	if s.maxRows > 0 {
		res, err := s.db.ExecContext(ctx, `DELETE FROM correlations WHERE exchange_id IN (
			SELECT exchange_id FROM correlations ORDER BY created_at DESC, rowid DESC LIMIT -1 OFFSET ?)`,
			s.maxRows)
		if err != nil {
			return fmt.Errorf("failed to cap correlations: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.logger.Debug("dropped oldest correlations", slog.Int64("count", n))
		}
	}
	return nil
}

// Recall returns the live context for an exchange.
func (s *Store) Recall(ctx context.Context, exchangeID string) (domain.Correlation, bool, error) {
	if !s.consume {
		return s.get(ctx, s.db, exchangeID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Correlation{}, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	c, ok, err := s.get(ctx, tx, exchangeID)
	if err != nil || !ok {
		return c, ok, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM correlations WHERE exchange_id = ?`, exchangeID); err != nil {
		return domain.Correlation{}, false, fmt.Errorf("failed to consume correlation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Correlation{}, false, fmt.Errorf("failed to commit: %w", err)
	}
	return c, true, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) get(ctx context.Context, q queryer, exchangeID string) (domain.Correlation, bool, error) {
	var (
		value     string
		createdAt int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT context, created_at FROM correlations WHERE exchange_id = ?`, exchangeID,
	).Scan(&value, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Correlation{}, false, nil
	}
	if err != nil {
		return domain.Correlation{}, false, fmt.Errorf("failed to recall correlation: %w", err)
	}

	if cutoff, ok := s.cutoff(); ok && createdAt < cutoff {
		return domain.Correlation{}, false, nil
	}
	return domain.Correlation{Context: value, CreatedAt: time.Unix(0, createdAt)}, true, nil
}

// Len returns the number of rows, including expired rows not yet pruned.
// It returns 0 when the count cannot be read.
func (s *Store) Len() int {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM correlations`).Scan(&n); err != nil {
		s.logger.Warn("failed to count correlations", slog.String("error", err.Error()))
		return 0
	}
	return n
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ensure Store implements the interface.
var _ ports.CorrelationStore = (*Store)(nil)
