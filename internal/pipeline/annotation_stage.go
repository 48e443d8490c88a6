package pipeline

import (
	"context"
	"fmt"

	"github.com/tjfontaine/polyglot-time-awareness/internal/core/domain"
	"github.com/tjfontaine/polyglot-time-awareness/internal/core/ports"
)

// Annotator is the inbound/outbound pair a Filter provides.
type Annotator interface {
	PrepareInbound(ctx context.Context, body *domain.InletBody, actor *domain.Actor) (*domain.InletBody, error)
	PrepareOutbound(ctx context.Context, body *domain.OutletBody, actor *domain.Actor) (*domain.OutletBody, error)
}

// AnnotationStage runs one phase of an Annotator as a pipeline stage.
type AnnotationStage struct {
	name      string
	stageType ports.StageType
	annotator Annotator
}

// NewAnnotationStages returns the pre and post stages for an annotator,
// both at the given order.
func NewAnnotationStages(name string, a Annotator, order int) []StageConfig {
	pre := &AnnotationStage{name: name, stageType: ports.StagePre, annotator: a}
	post := &AnnotationStage{name: name, stageType: ports.StagePost, annotator: a}
	return []StageConfig{
		{Name: name, Type: ports.StagePre, Order: order, Stage: pre},
		{Name: name, Type: ports.StagePost, Order: order, Stage: post},
	}
}

// Name returns the stage identifier.
func (s *AnnotationStage) Name() string {
	return s.name
}

// Type returns when this stage runs.
func (s *AnnotationStage) Type() ports.StageType {
	return s.stageType
}

// Process annotates the body of the stage's phase.
func (s *AnnotationStage) Process(ctx context.Context, in *ports.StageInput) (*ports.StageOutput, error) {
	switch s.stageType {
	case ports.StagePre:
		if in.Inlet == nil {
			return &ports.StageOutput{Action: ports.ActionAllow}, nil
		}
		body, err := s.annotator.PrepareInbound(ctx, in.Inlet, in.Actor)
		if err != nil {
			return nil, err
		}
		return &ports.StageOutput{Action: ports.ActionMutate, Inlet: body}, nil
	case ports.StagePost:
		if in.Outlet == nil {
			return &ports.StageOutput{Action: ports.ActionAllow}, nil
		}
		body, err := s.annotator.PrepareOutbound(ctx, in.Outlet, in.Actor)
		if err != nil {
			return nil, err
		}
		return &ports.StageOutput{Action: ports.ActionMutate, Outlet: body}, nil
	default:
		return nil, fmt.Errorf("annotation stage %s: unknown type %q", s.name, s.stageType)
	}
}

// Ensure AnnotationStage implements the interface.
var _ ports.Stage = (*AnnotationStage)(nil)
