package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tjfontaine/polyglot-time-awareness/internal/core/domain"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	published []published
	err       error
	closed    bool
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.published = append(c.published, published{exchange, key, msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestNotifier_Notify(t *testing.T) {
	ch := &fakeChannel{}
	n := NewNotifier(ch, Config{Exchange: "events", AppID: "time-awareness"})
	fixed := time.Date(2026, 10, 15, 14, 30, 5, 0, time.UTC)
	n.now = func() time.Time { return fixed }

	ev := domain.NewStatusEvent("Unknown timezone: Mars/OlympusMons.", true)
	if err := n.Notify(context.Background(), ev); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	if len(ch.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(ch.published))
	}
	p := ch.published[0]
	if p.exchange != "events" || p.key != DefaultRoutingKey {
		t.Errorf("published to %s/%s", p.exchange, p.key)
	}
	if p.msg.ContentType != "application/json" || p.msg.Type != "status" || p.msg.AppId != "time-awareness" {
		t.Errorf("publishing = %+v", p.msg)
	}
	if p.msg.MessageId == "" {
		t.Error("message id is empty")
	}
	if !p.msg.Timestamp.Equal(fixed) {
		t.Errorf("timestamp = %v, want %v", p.msg.Timestamp, fixed)
	}

	var got domain.StatusEvent
	if err := json.Unmarshal(p.msg.Body, &got); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if got != ev {
		t.Errorf("body = %+v, want %+v", got, ev)
	}
}

func TestNotifier_PublishError(t *testing.T) {
	sentinel := errors.New("channel closed")
	n := NewNotifier(&fakeChannel{err: sentinel}, Config{Exchange: "events", RoutingKey: "custom"})

	if err := n.Notify(context.Background(), domain.NewStatusEvent("x", true)); !errors.Is(err, sentinel) {
		t.Errorf("Notify() error = %v, want %v", err, sentinel)
	}
}

func TestNotifier_Close(t *testing.T) {
	ch := &fakeChannel{}
	if err := NewNotifier(ch, Config{Exchange: "events"}).Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !ch.closed {
		t.Error("channel not closed")
	}
}

func TestDial_Validation(t *testing.T) {
	ctx := context.Background()
	if _, err := Dial(ctx, Config{Exchange: "events"}, nil); err == nil {
		t.Error("Dial() without URL error = nil")
	}
	if _, err := Dial(ctx, Config{URL: "amqp://localhost"}, nil); err == nil {
		t.Error("Dial() without exchange error = nil")
	}
}
