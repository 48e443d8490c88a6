// Package annotation embeds the current time into the latest user message
// of every exchange and restores the same context on the way back.
package annotation

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/polyglot-time-awareness/internal/annotation/marker"
	"github.com/tjfontaine/polyglot-time-awareness/internal/core/domain"
	"github.com/tjfontaine/polyglot-time-awareness/internal/core/ports"
)

// ContextID is the identity of the time entry inside the fragment.
const ContextID = "time_awareness"

const tracerName = "github.com/tjfontaine/polyglot-time-awareness/internal/annotation"

// TokenCounter measures the token cost of a rewrite.
type TokenCounter interface {
	Overhead(model, before, after string) (int, error)
}

// Config wires a Filter.
type Config struct {
	Codec    *marker.Codec
	Store    ports.CorrelationStore
	Renderer ports.ContextRenderer

	// ContextID overrides the entry identity. Defaults to ContextID.
	ContextID string
	// Counter is optional; when set the fragment cost is logged.
	Counter TokenCounter
	Now     func() time.Time
	Logger  *slog.Logger
	Tracer  trace.Tracer
}

// Filter runs the inbound and outbound annotation passes.
type Filter struct {
	codec     *marker.Codec
	store     ports.CorrelationStore
	renderer  ports.ContextRenderer
	contextID string
	counter   TokenCounter
	now       func() time.Time
	logger    *slog.Logger
	tracer    trace.Tracer
}

// New creates a Filter. Codec, Store and Renderer are required.
func New(cfg Config) (*Filter, error) {
	if cfg.Codec == nil {
		return nil, fmt.Errorf("annotation: codec is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("annotation: correlation store is required")
	}
	if cfg.Renderer == nil {
		return nil, fmt.Errorf("annotation: renderer is required")
	}

	f := &Filter{
		codec:     cfg.Codec,
		store:     cfg.Store,
		renderer:  cfg.Renderer,
		contextID: cfg.ContextID,
		counter:   cfg.Counter,
		now:       cfg.Now,
		logger:    cfg.Logger,
		tracer:    cfg.Tracer,
	}
	if f.contextID == "" {
		f.contextID = ContextID
	}
	if f.now == nil {
		f.now = time.Now
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	if f.tracer == nil {
		f.tracer = otel.Tracer(tracerName)
	}
	return f, nil
}

// PrepareInbound annotates the most recent user message of a request and
// records the rendered context under the exchange id, if any.
//
// The body is modified in place and returned. Disabled actors, empty
// message sets and requests without a user message pass through unchanged.
func (f *Filter) PrepareInbound(ctx context.Context, body *domain.InletBody, actor *domain.Actor) (*domain.InletBody, error) {
	exchangeID := ""
	if body != nil {
		exchangeID = body.ExchangeID()
	}
	ctx, span := f.tracer.Start(ctx, "annotation.inbound",
		trace.WithAttributes(attribute.String("annotation.exchange_id", exchangeID)))
	defer span.End()

	if body == nil || !actor.AnnotationEnabled() || len(body.Messages) == 0 {
		span.SetAttributes(attribute.Bool("annotation.applied", false))
		return body, nil
	}

	value, err := f.renderer.Render(ctx, ports.RenderRequest{Actor: actor, Variables: body.Metadata})
	if err != nil {
		return body, f.fail(span, ports.PhaseInlet, exchangeID, fmt.Errorf("render context: %w", err))
	}

	idx, found := domain.LastMessageByRole(body.Messages, domain.RoleUser)
	if !found {
		span.SetAttributes(attribute.Bool("annotation.applied", false))
		return body, nil
	}

	if exchangeID != "" {
		entry := domain.Correlation{Context: value, CreatedAt: f.now()}
		if err := f.store.Record(ctx, exchangeID, entry); err != nil {
			return body, f.fail(span, ports.PhaseInlet, exchangeID, fmt.Errorf("record correlation: %w", err))
		}
	}

	if err := f.annotate(ctx, &body.Messages[idx], value, body.Model()); err != nil {
		return body, f.fail(span, ports.PhaseInlet, exchangeID, err)
	}

	span.SetAttributes(
		attribute.Bool("annotation.applied", true),
		attribute.Int("annotation.message_index", idx),
	)
	return body, nil
}

// PrepareOutbound re-applies the context recorded by the inbound pass of
// the same exchange to the most recent user message of a response.
//
// Responses missing any identifier, the message set or the actor id pass
// through, as do responses whose exchange was never recorded.
func (f *Filter) PrepareOutbound(ctx context.Context, body *domain.OutletBody, actor *domain.Actor) (*domain.OutletBody, error) {
	exchangeID := ""
	if body != nil {
		exchangeID = body.ID
	}
	ctx, span := f.tracer.Start(ctx, "annotation.outbound",
		trace.WithAttributes(attribute.String("annotation.exchange_id", exchangeID)))
	defer span.End()

	if body == nil || body.ID == "" || body.SessionID == "" || body.ConversationID == "" ||
		body.Messages == nil || actor == nil || actor.ID == "" {
		span.SetAttributes(attribute.Bool("annotation.applied", false))
		return body, nil
	}

	entry, ok, err := f.store.Recall(ctx, body.ID)
	if err != nil {
		return body, f.fail(span, ports.PhaseOutlet, exchangeID, fmt.Errorf("recall correlation: %w", err))
	}
	if !ok {
		f.logger.Debug("no correlation for exchange", slog.String("exchange_id", exchangeID))
		span.SetAttributes(attribute.Bool("annotation.applied", false))
		return body, nil
	}

	idx, found := domain.LastMessageByRole(body.Messages, domain.RoleUser)
	if !found {
		span.SetAttributes(attribute.Bool("annotation.applied", false))
		return body, nil
	}

	if f.logger.Enabled(ctx, slog.LevelDebug) {
		f.logEntries(exchangeID, body.Messages[idx].GetContent())
	}

	if err := f.annotate(ctx, &body.Messages[idx], entry.Context, ""); err != nil {
		return body, f.fail(span, ports.PhaseOutlet, exchangeID, err)
	}

	span.SetAttributes(
		attribute.Bool("annotation.applied", true),
		attribute.Int("annotation.message_index", idx),
		attribute.Int64("annotation.correlation_age_ms", f.now().Sub(entry.CreatedAt).Milliseconds()),
	)
	return body, nil
}

func (f *Filter) annotate(ctx context.Context, msg *domain.Message, value, model string) error {
	before := msg.GetContent()
	after, err := f.codec.Upsert(before, value, f.contextID)
	if err != nil {
		return err
	}
	msg.SetText(after)

	if f.counter != nil && f.logger.Enabled(ctx, slog.LevelDebug) {
		n, err := f.counter.Overhead(model, before, after)
		if err != nil {
			f.logger.Debug("token count failed", slog.String("error", err.Error()))
		} else {
			f.logger.Debug("message annotated",
				slog.String("context_id", f.contextID),
				slog.Int("added_tokens", n),
			)
		}
	}
	return nil
}

// logEntries reports which context entries the host already carried on
// the response message. Read errors surface from annotate instead.
func (f *Filter) logEntries(exchangeID, text string) {
	entries, err := f.codec.Entries(text)
	if err != nil {
		return
	}
	f.logger.Debug("outbound message entries",
		slog.String("exchange_id", exchangeID),
		slog.Any("entries", slices.Sorted(maps.Keys(entries))),
	)
}

func (f *Filter) fail(span trace.Span, phase, exchangeID string, err error) error {
	f.logger.Error("annotation pass failed",
		slog.String("phase", phase),
		slog.String("exchange_id", exchangeID),
		slog.String("context_id", f.contextID),
		slog.String("error", err.Error()),
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
