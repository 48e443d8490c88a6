package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tjfontaine/polyglot-time-awareness/internal/config"
	"github.com/tjfontaine/polyglot-time-awareness/internal/core/ports"
)

// AnnotationStageName names the built-in annotation stage.
const AnnotationStageName = "time_awareness"

// NewExecutorFromConfig builds the executor of one pipeline: the annotation
// stages at the given priority plus the pipeline's webhook stages.
func NewExecutorFromConfig(cfg config.PipelineConfig, a Annotator, priority int, logger *slog.Logger) (*Executor, error) {
	stages := NewAnnotationStages(AnnotationStageName, a, priority)

	for _, stageCfg := range cfg.Stages {
		stageType := ports.StageType(stageCfg.Type)
		if stageType != ports.StagePre && stageType != ports.StagePost {
			return nil, fmt.Errorf("stage %s: invalid type %q (must be 'pre' or 'post')", stageCfg.Name, stageCfg.Type)
		}

		stage, err := newStageFromConfig(stageCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", stageCfg.Name, err)
		}

		stages = append(stages, StageConfig{
			Name:  stageCfg.Name,
			Type:  stageType,
			Order: stageCfg.Order,
			Stage: stage,
		})
	}

	return NewExecutor(ExecutorConfig{Stages: stages}), nil
}

func newStageFromConfig(cfg config.PipelineStageConfig, logger *slog.Logger) (ports.Stage, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("url is required")
	}

	timeout, err := config.ParseDuration(cfg.Timeout, 5*time.Second)
	if err != nil {
		return nil, err
	}

	var onError OnError
	switch cfg.OnError {
	case "", "fail":
		onError = OnErrorFail
	case "allow":
		onError = OnErrorAllow
	default:
		return nil, fmt.Errorf("invalid on_error %q (must be 'allow' or 'fail')", cfg.OnError)
	}

	return NewWebhookStage(WebhookStageConfig{
		Name:    cfg.Name,
		Type:    ports.StageType(cfg.Type),
		URL:     cfg.URL,
		Timeout: timeout,
		OnError: onError,
		Retries: cfg.Retries,
		Headers: cfg.Headers,
		Logger:  logger,

		BlockPrivate: cfg.BlockPrivate,
	}), nil
}
