package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tjfontaine/polyglot-time-awareness/internal/core/ports"
	"github.com/tjfontaine/polyglot-time-awareness/internal/safehttp"
)

// OnError decides what a webhook stage does once its retries are used up.
type OnError string

const (
	// OnErrorFail aborts the pass with the webhook error.
	OnErrorFail OnError = "fail"
	// OnErrorAllow logs the error and passes the body on unchanged.
	OnErrorAllow OnError = "allow"
)

// WebhookStage calls an external HTTP endpoint for pipeline processing.
type WebhookStage struct {
	name      string
	stageType ports.StageType
	url       string
	onError   OnError
	retries   int
	headers   map[string]string
	client    *http.Client
	logger    *slog.Logger
}

// WebhookStageConfig configures a webhook stage.
type WebhookStageConfig struct {
	Name    string
	Type    ports.StageType
	URL     string
	Timeout time.Duration
	OnError OnError // default: fail
	Retries int
	Headers map[string]string
	Logger  *slog.Logger

	// BlockPrivate refuses private, loopback and link-local destinations.
	BlockPrivate bool
}

// NewWebhookStage creates a new webhook stage.
func NewWebhookStage(cfg WebhookStageConfig) *WebhookStage {
	onError := cfg.OnError
	if onError == "" {
		onError = OnErrorFail
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.BlockPrivate {
		client = safehttp.NewClient(cfg.Timeout)
	}

	return &WebhookStage{
		name:      cfg.Name,
		stageType: cfg.Type,
		url:       cfg.URL,
		onError:   onError,
		retries:   cfg.Retries,
		headers:   cfg.Headers,
		client:    client,
		logger:    logger,
	}
}

// Name returns the stage identifier.
func (s *WebhookStage) Name() string {
	return s.name
}

// Type returns when this stage runs.
func (s *WebhookStage) Type() ports.StageType {
	return s.stageType
}

// Process executes the webhook call.
func (s *WebhookStage) Process(ctx context.Context, in *ports.StageInput) (*ports.StageOutput, error) {
	var lastErr error

	attempts := s.retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		output, err := s.doRequest(ctx, in)
		if err == nil {
			return output, nil
		}
		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			break
		}
	}

	if s.onError == OnErrorAllow {
		s.logger.Warn("webhook stage failed, passing body through",
			slog.String("stage", s.name),
			slog.String("phase", in.Phase),
			slog.String("error", lastErr.Error()),
		)
		return &ports.StageOutput{Action: ports.ActionAllow}, nil
	}
	return nil, fmt.Errorf("webhook stage %s failed: %w", s.name, lastErr)
}

func (s *WebhookStage) doRequest(ctx context.Context, in *ports.StageInput) (*ports.StageOutput, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal stage input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var output ports.StageOutput
	if err := json.Unmarshal(respBody, &output); err != nil {
		return nil, fmt.Errorf("unmarshal stage output: %w", err)
	}

	switch output.Action {
	case ports.ActionAllow, ports.ActionMutate:
	case "":
		output.Action = ports.ActionAllow
	default:
		return nil, fmt.Errorf("invalid action from webhook: %s", output.Action)
	}

	return &output, nil
}

// Ensure WebhookStage implements the interface.
var _ ports.Stage = (*WebhookStage)(nil)
