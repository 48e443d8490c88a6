// Package ports defines the core interfaces for the filter service.
// This file contains the pipeline stage interfaces for inlet/outlet mutation.
package ports

import (
	"context"

	"github.com/tjfontaine/polyglot-time-awareness/internal/core/domain"
)

// StageType determines when the stage runs in the pipeline.
type StageType string

const (
	// StagePre runs on the inbound request, before the model sees it.
	StagePre StageType = "pre"
	// StagePost runs on the completed exchange, after the model answered.
	StagePost StageType = "post"
)

// Phase names carried in StageInput.
const (
	PhaseInlet  = "inlet"
	PhaseOutlet = "outlet"
)

// StageAction is the result action from a pipeline stage.
type StageAction string

const (
	// ActionAllow passes the body on unchanged.
	ActionAllow StageAction = "allow"
	// ActionMutate passes on the body returned by the stage.
	ActionMutate StageAction = "mutate"
)

// StageInput is the data sent to a pipeline stage.
type StageInput struct {
	// Phase is PhaseInlet or PhaseOutlet.
	Phase string `json:"phase"`
	// Inlet is the request body (inlet phase only).
	Inlet *domain.InletBody `json:"inlet,omitempty"`
	// Outlet is the completed exchange (outlet phase only).
	Outlet *domain.OutletBody `json:"outlet,omitempty"`
	// Actor is the authenticated user, if any.
	Actor *domain.Actor `json:"user,omitempty"`
}

// StageOutput is returned from a pipeline stage.
type StageOutput struct {
	// Action indicates what should happen: allow or mutate.
	Action StageAction `json:"action"`
	// Inlet is the mutated request (only if Action is mutate in the inlet phase).
	Inlet *domain.InletBody `json:"inlet,omitempty"`
	// Outlet is the mutated exchange (only if Action is mutate in the outlet phase).
	Outlet *domain.OutletBody `json:"outlet,omitempty"`
}

// Stage processes an inlet or outlet body in the pipeline.
type Stage interface {
	// Name returns the unique identifier for this stage.
	Name() string
	// Type returns when this stage runs (pre or post).
	Type() StageType
	// Process executes the stage logic.
	Process(ctx context.Context, in *StageInput) (*StageOutput, error)
}

// PipelineExecutor orchestrates pipeline stage execution.
type PipelineExecutor interface {
	// RunPre executes all pre-stages in order.
	RunPre(ctx context.Context, body *domain.InletBody, actor *domain.Actor) (*domain.InletBody, error)

	// RunPost executes all post-stages in order.
	RunPost(ctx context.Context, body *domain.OutletBody, actor *domain.Actor) (*domain.OutletBody, error)

	// HasPreStages reports whether RunPre has anything to run.
	HasPreStages() bool

	// HasPostStages reports whether RunPost has anything to run.
	HasPostStages() bool
}
