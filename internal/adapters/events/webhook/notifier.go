// Package webhook delivers status events to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tjfontaine/polyglot-time-awareness/internal/core/domain"
	"github.com/tjfontaine/polyglot-time-awareness/internal/core/ports"
	"github.com/tjfontaine/polyglot-time-awareness/internal/safehttp"
)

// Config configures a webhook notifier.
type Config struct {
	URL     string
	Timeout time.Duration // default 5s
	Retries int
	Headers map[string]string

	// BlockPrivate refuses private, loopback and link-local destinations.
	BlockPrivate bool
	// Client overrides the HTTP client. Timeout and BlockPrivate are
	// ignored when set.
	Client *http.Client
}

// Notifier POSTs each status event as JSON.
type Notifier struct {
	url     string
	retries int
	headers map[string]string
	client  *http.Client
}

// NewNotifier creates a webhook notifier.
func NewNotifier(cfg Config) (*Notifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
		if cfg.BlockPrivate {
			client = safehttp.NewClient(timeout)
		}
	}
	return &Notifier{
		url:     cfg.URL,
		retries: cfg.Retries,
		headers: cfg.Headers,
		client:  client,
	}, nil
}

// Notify sends the event, retrying on failure.
func (n *Notifier) Notify(ctx context.Context, event domain.StatusEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= n.retries; attempt++ {
		if lastErr = n.post(ctx, body); lastErr == nil {
			return nil
		}
		// Don't retry on context cancellation
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("status webhook %s: %w", n.url, lastErr)
}

func (n *Notifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Ensure Notifier implements the interface.
var _ ports.StatusNotifier = (*Notifier)(nil)
