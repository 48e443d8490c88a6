// Package timectx renders the <time> tag embedded into user messages.
//
// The timezone is resolved in this order, later sources winning:
// the system setting, the request's {{CURRENT_TIMEZONE}} variable, and
// the user's own timezone valve. An unknown zone is reported through the
// status notifier and the instant is formatted in UTC under the raw label.
package timectx

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/tjfontaine/polyglot-time-awareness/internal/core/domain"
	"github.com/tjfontaine/polyglot-time-awareness/internal/core/ports"
)

const (
	// Format is the strftime pattern advertised in the tag.
	Format = "%a %d %b %Y, %H:%M:%S"
	// Layout is Format as a Go layout.
	Layout = "Mon 02 Jan 2006, 15:04:05"

	CommentSystem = "System timezone"
	CommentUser   = "Timezone provided by user. User location most likely different"

	// DefaultNotifyTimeout bounds the delivery of one status event.
	DefaultNotifyTimeout = 30 * time.Second
)

// Renderer resolves the timezone for an exchange and formats the tag.
type Renderer struct {
	mu       sync.RWMutex
	systemTZ string
	notifier ports.StatusNotifier
	now      func() time.Time
	logger   *slog.Logger

	notifyTimeout time.Duration
	inflight      sync.WaitGroup
}

// Config configures a Renderer.
type Config struct {
	// SystemTimezone is the fallback zone; empty means DefaultSystemTimezone().
	SystemTimezone string
	// Notifier receives unknown-timezone status events. Optional. Events
	// are delivered in the background; Render never waits for them.
	Notifier ports.StatusNotifier
	// NotifyTimeout bounds each delivery. 0 means DefaultNotifyTimeout.
	NotifyTimeout time.Duration
	// Now overrides the clock. Optional.
	Now    func() time.Time
	Logger *slog.Logger
}

// New creates a renderer.
func New(cfg Config) *Renderer {
	tz := strings.TrimSpace(cfg.SystemTimezone)
	if tz == "" {
		tz = DefaultSystemTimezone()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifyTimeout := cfg.NotifyTimeout
	if notifyTimeout <= 0 {
		notifyTimeout = DefaultNotifyTimeout
	}
	return &Renderer{
		systemTZ:      tz,
		notifier:      cfg.Notifier,
		now:           now,
		logger:        logger,
		notifyTimeout: notifyTimeout,
	}
}

// SystemTimezone returns the configured fallback zone.
func (r *Renderer) SystemTimezone() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.systemTZ
}

// SetSystemTimezone replaces the fallback zone. Empty means
// DefaultSystemTimezone().
func (r *Renderer) SetSystemTimezone(tz string) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		tz = DefaultSystemTimezone()
	}
	r.mu.Lock()
	r.systemTZ = tz
	r.mu.Unlock()
}

// Resolve picks the timezone label and the comment describing its source.
func (r *Renderer) Resolve(req ports.RenderRequest) (tz, comment string) {
	tz, comment = r.SystemTimezone(), CommentSystem
	if v := strings.TrimSpace(req.Variables.Variable(domain.CurrentTimezoneVariable)); v != "" {
		tz = v
	}
	if v := req.Actor.TimezoneOverride(); v != "" {
		tz, comment = v, CommentUser
	}
	return tz, comment
}

// Render returns the <time> tag for the request.
func (r *Renderer) Render(ctx context.Context, req ports.RenderRequest) (string, error) {
	tz, comment := r.Resolve(req)

	loc, err := time.LoadLocation(tz)
	if err != nil {
		r.logger.Warn("unknown timezone, formatting in UTC",
			slog.String("timezone", tz),
			slog.String("error", err.Error()),
		)
		r.notify(ctx, domain.NewStatusEvent("Unknown timezone: "+tz+".", true))
		loc = time.UTC
	}

	at := r.now()
	if req.At != nil {
		at = *req.At
	}

	return Tag(tz, comment, at.In(loc)), nil
}

// notify hands the event to the notifier on its own goroutine. The
// delivery keeps the request's values but not its cancellation, and gets
// its own deadline.
func (r *Renderer) notify(ctx context.Context, event domain.StatusEvent) {
	if r.notifier == nil {
		return
	}
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.notifyTimeout)
		defer cancel()
		if err := r.notifier.Notify(ctx, event); err != nil {
			r.logger.Warn("status notification failed",
				slog.String("description", event.Data.Description),
				slog.String("error", err.Error()))
		}
	}()
}

// Wait blocks until every status event dispatched so far has been
// delivered or has timed out.
func (r *Renderer) Wait() {
	r.inflight.Wait()
}

// Tag formats t, already in its display zone, as a <time> tag.
func Tag(tzLabel, comment string, t time.Time) string {
	var b strings.Builder
	b.WriteString(`<time timezone="`)
	b.WriteString(html.EscapeString(tzLabel))
	b.WriteString(`" format="`)
	b.WriteString(Format)
	b.WriteString(`"><!-- `)
	b.WriteString(comment)
	b.WriteString(` -->`)
	b.WriteString(t.Format(Layout))
	b.WriteString(`</time>`)
	return b.String()
}

// DefaultSystemTimezone returns the host's zone: $TZ when it names a
// loadable zone, else the current zone abbreviation when loadable, else UTC.
func DefaultSystemTimezone() string {
	if tz := strings.TrimPrefix(os.Getenv("TZ"), ":"); tz != "" {
		if _, err := time.LoadLocation(tz); err == nil {
			return tz
		}
	}
	if name, _ := time.Now().Zone(); name != "" {
		if _, err := time.LoadLocation(name); err == nil {
			return name
		}
	}
	return "UTC"
}

// Ensure Renderer implements the interface.
var _ ports.ContextRenderer = (*Renderer)(nil)
