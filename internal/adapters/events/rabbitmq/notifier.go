// Package rabbitmq publishes status events to an AMQP topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tjfontaine/polyglot-time-awareness/internal/core/domain"
	"github.com/tjfontaine/polyglot-time-awareness/internal/core/ports"
)

// DefaultRoutingKey is used when Config.RoutingKey is empty.
const DefaultRoutingKey = "time_awareness.status"

// Channel is the subset of *amqp.Channel the notifier uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Config configures the notifier.
type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	AppID      string
}

// Notifier publishes each status event as a JSON message.
type Notifier struct {
	ch         Channel
	conn       *amqp.Connection
	exchange   string
	routingKey string
	appID      string
	now        func() time.Time
}

// Dial connects to the broker, declares the exchange and returns a
// notifier owning the connection.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Notifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rabbitmq URL is required")
	}
	if cfg.Exchange == "" {
		return nil, fmt.Errorf("rabbitmq exchange is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	host := ""
	if u, _ := url.Parse(cfg.URL); u != nil {
		host = u.Host
	}
	logger.Info("connecting to rabbitmq", slog.String("host", host), slog.String("exchange", cfg.Exchange))

	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Dial: amqp.DefaultDial(dialTimeout(ctx)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}

	n := NewNotifier(ch, cfg)
	n.conn = conn
	return n, nil
}

func dialTimeout(ctx context.Context) time.Duration {
	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	return timeout
}

// NewNotifier wraps an open channel. The exchange must already exist.
func NewNotifier(ch Channel, cfg Config) *Notifier {
	key := cfg.RoutingKey
	if key == "" {
		key = DefaultRoutingKey
	}
	return &Notifier{
		ch:         ch,
		exchange:   cfg.Exchange,
		routingKey: key,
		appID:      cfg.AppID,
		now:        time.Now,
	}
}

// Notify publishes the event.
func (n *Notifier) Notify(ctx context.Context, event domain.StatusEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}

	return n.ch.PublishWithContext(ctx, n.exchange, n.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Transient,
		MessageId:    uuid.NewString(),
		Type:         event.Type,
		Timestamp:    n.now().UTC(),
		AppId:        n.appID,
	})
}

// Close closes the channel and, when the notifier dialed it, the connection.
func (n *Notifier) Close() error {
	err := n.ch.Close()
	if n.conn != nil {
		if cerr := n.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Ensure Notifier implements the interface.
var _ ports.StatusNotifier = (*Notifier)(nil)
