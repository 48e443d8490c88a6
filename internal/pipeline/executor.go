package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/tjfontaine/polyglot-time-awareness/internal/core/domain"
	"github.com/tjfontaine/polyglot-time-awareness/internal/core/ports"
)

// Executor orchestrates pipeline stage execution.
// It maintains ordered lists of pre and post stages and executes them sequentially.
type Executor struct {
	preStages  []ports.Stage
	postStages []ports.Stage
}

// ExecutorConfig configures an executor from stage configurations.
type ExecutorConfig struct {
	Stages []StageConfig
}

// StageConfig is the configuration for a single stage.
type StageConfig struct {
	Name  string
	Type  ports.StageType
	Order int
	Stage ports.Stage
}

// NewExecutor creates an executor from configuration. Stages with equal
// order keep their configured order.
func NewExecutor(cfg ExecutorConfig) *Executor {
	var preStages, postStages []StageConfig

	for _, s := range cfg.Stages {
		switch s.Type {
		case ports.StagePre:
			preStages = append(preStages, s)
		case ports.StagePost:
			postStages = append(postStages, s)
		}
	}

	sort.SliceStable(preStages, func(i, j int) bool {
		return preStages[i].Order < preStages[j].Order
	})
	sort.SliceStable(postStages, func(i, j int) bool {
		return postStages[i].Order < postStages[j].Order
	})

	e := &Executor{
		preStages:  make([]ports.Stage, len(preStages)),
		postStages: make([]ports.Stage, len(postStages)),
	}
	for i, s := range preStages {
		e.preStages[i] = s.Stage
	}
	for i, s := range postStages {
		e.postStages[i] = s.Stage
	}

	return e
}

// RunPre executes all pre-stages in order on the request body.
// Returns the (possibly mutated) body or the first stage error.
func (e *Executor) RunPre(ctx context.Context, body *domain.InletBody, actor *domain.Actor) (*domain.InletBody, error) {
	current := body
	for _, stage := range e.preStages {
		input := &ports.StageInput{
			Phase: ports.PhaseInlet,
			Inlet: current,
			Actor: actor,
		}

		output, err := stage.Process(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("pipeline stage %s error: %w", stage.Name(), err)
		}

		switch output.Action {
		case ports.ActionMutate:
			if output.Inlet != nil {
				current = output.Inlet
			}
		case ports.ActionAllow:
			// Continue with current body
		default:
			return nil, fmt.Errorf("pipeline stage %s returned unknown action %q", stage.Name(), output.Action)
		}
	}

	return current, nil
}

// RunPost executes all post-stages in order on the completed exchange.
// Returns the (possibly mutated) body or the first stage error.
func (e *Executor) RunPost(ctx context.Context, body *domain.OutletBody, actor *domain.Actor) (*domain.OutletBody, error) {
	current := body
	for _, stage := range e.postStages {
		input := &ports.StageInput{
			Phase:  ports.PhaseOutlet,
			Outlet: current,
			Actor:  actor,
		}

		output, err := stage.Process(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("pipeline stage %s error: %w", stage.Name(), err)
		}

		switch output.Action {
		case ports.ActionMutate:
			if output.Outlet != nil {
				current = output.Outlet
			}
		case ports.ActionAllow:
			// Continue with current body
		default:
			return nil, fmt.Errorf("pipeline stage %s returned unknown action %q", stage.Name(), output.Action)
		}
	}

	return current, nil
}

// HasPreStages returns true if there are any pre-stages configured.
func (e *Executor) HasPreStages() bool {
	return len(e.preStages) > 0
}

// HasPostStages returns true if there are any post-stages configured.
func (e *Executor) HasPostStages() bool {
	return len(e.postStages) > 0
}

// Ensure Executor implements the interface.
var _ ports.PipelineExecutor = (*Executor)(nil)
