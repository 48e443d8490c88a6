package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tjfontaine/polyglot-time-awareness/internal/core/domain"
	"github.com/tjfontaine/polyglot-time-awareness/internal/core/ports"
)

// mockStage is a test helper that records calls and returns configured responses.
type mockStage struct {
	name      string
	stageType ports.StageType
	output    *ports.StageOutput
	err       error
	calls     []*ports.StageInput
}

func (s *mockStage) Name() string          { return s.name }
func (s *mockStage) Type() ports.StageType { return s.stageType }

func (s *mockStage) Process(ctx context.Context, in *ports.StageInput) (*ports.StageOutput, error) {
	s.calls = append(s.calls, in)
	if s.err != nil {
		return nil, s.err
	}
	if s.output != nil {
		return s.output, nil
	}
	return &ports.StageOutput{Action: ports.ActionAllow}, nil
}

func userInlet(text string) *domain.InletBody {
	return &domain.InletBody{Messages: []domain.Message{
		{Role: domain.RoleUser, Content: domain.NewTextContent(text)},
	}}
}

func TestExecutor_RunPre_Empty(t *testing.T) {
	e := NewExecutor(ExecutorConfig{})
	body := userInlet("hi")

	result, err := e.RunPre(context.Background(), body, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != body {
		t.Error("expected same body when no stages")
	}
}

func TestExecutor_RunPre_Allow(t *testing.T) {
	stage := &mockStage{
		name:      "test-stage",
		stageType: ports.StagePre,
		output:    &ports.StageOutput{Action: ports.ActionAllow},
	}

	e := NewExecutor(ExecutorConfig{
		Stages: []StageConfig{{Name: "test-stage", Type: ports.StagePre, Order: 1, Stage: stage}},
	})

	body := userInlet("hi")
	actor := &domain.Actor{ID: "u1"}
	result, err := e.RunPre(context.Background(), body, actor)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != body {
		t.Error("expected same body on allow")
	}
	if len(stage.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(stage.calls))
	}
	if stage.calls[0].Phase != ports.PhaseInlet {
		t.Errorf("expected phase %q, got %q", ports.PhaseInlet, stage.calls[0].Phase)
	}
	if stage.calls[0].Actor != actor {
		t.Error("expected actor to be passed to stage")
	}
}

func TestExecutor_RunPre_Mutate(t *testing.T) {
	mutated := userInlet("rewritten")
	stage := &mockStage{
		name:      "mutate-stage",
		stageType: ports.StagePre,
		output:    &ports.StageOutput{Action: ports.ActionMutate, Inlet: mutated},
	}

	e := NewExecutor(ExecutorConfig{
		Stages: []StageConfig{{Name: "mutate-stage", Type: ports.StagePre, Order: 1, Stage: stage}},
	})

	result, err := e.RunPre(context.Background(), userInlet("hi"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != mutated {
		t.Error("expected mutated body")
	}
}

func TestExecutor_RunPre_MutateWithoutBodyKeepsCurrent(t *testing.T) {
	stage := &mockStage{
		name:      "empty-mutate",
		stageType: ports.StagePre,
		output:    &ports.StageOutput{Action: ports.ActionMutate},
	}
	e := NewExecutor(ExecutorConfig{
		Stages: []StageConfig{{Name: "empty-mutate", Type: ports.StagePre, Stage: stage}},
	})

	body := userInlet("hi")
	result, err := e.RunPre(context.Background(), body, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != body {
		t.Error("expected current body when mutate carries none")
	}
}

func TestExecutor_RunPre_Error(t *testing.T) {
	sentinel := errors.New("boom")
	stage := &mockStage{name: "broken", stageType: ports.StagePre, err: sentinel}
	next := &mockStage{name: "next", stageType: ports.StagePre}

	e := NewExecutor(ExecutorConfig{
		Stages: []StageConfig{
			{Name: "broken", Type: ports.StagePre, Order: 1, Stage: stage},
			{Name: "next", Type: ports.StagePre, Order: 2, Stage: next},
		},
	})

	_, err := e.RunPre(context.Background(), userInlet("hi"), nil)
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped stage error, got %v", err)
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error does not name the stage: %v", err)
	}
	if len(next.calls) != 0 {
		t.Error("stage after a failure was called")
	}
}

func TestExecutor_RunPre_UnknownAction(t *testing.T) {
	stage := &mockStage{
		name:      "deny",
		stageType: ports.StagePre,
		output:    &ports.StageOutput{Action: "deny"},
	}
	e := NewExecutor(ExecutorConfig{
		Stages: []StageConfig{{Name: "deny", Type: ports.StagePre, Stage: stage}},
	})

	if _, err := e.RunPre(context.Background(), userInlet("hi"), nil); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestExecutor_RunPre_OrderedExecution(t *testing.T) {
	var callOrder []string

	first := &orderTrackingStage{mockStage: &mockStage{name: "first", stageType: ports.StagePre}, callOrder: &callOrder}
	second := &orderTrackingStage{mockStage: &mockStage{name: "second", stageType: ports.StagePre}, callOrder: &callOrder}
	tie := &orderTrackingStage{mockStage: &mockStage{name: "tie", stageType: ports.StagePre}, callOrder: &callOrder}

	e := NewExecutor(ExecutorConfig{
		Stages: []StageConfig{
			{Name: "second", Type: ports.StagePre, Order: 2, Stage: second},
			{Name: "tie", Type: ports.StagePre, Order: 2, Stage: tie},
			{Name: "first", Type: ports.StagePre, Order: -10, Stage: first},
		},
	})

	if _, err := e.RunPre(context.Background(), userInlet("hi"), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"first", "second", "tie"}
	if strings.Join(callOrder, ",") != strings.Join(want, ",") {
		t.Errorf("call order = %v, want %v", callOrder, want)
	}
}

type orderTrackingStage struct {
	*mockStage
	callOrder *[]string
}

func (s *orderTrackingStage) Process(ctx context.Context, in *ports.StageInput) (*ports.StageOutput, error) {
	*s.callOrder = append(*s.callOrder, s.name)
	return s.mockStage.Process(ctx, in)
}

func TestExecutor_RunPost_Mutate(t *testing.T) {
	mutated := &domain.OutletBody{ID: "resp-456"}
	stage := &mockStage{
		name:      "filter-stage",
		stageType: ports.StagePost,
		output:    &ports.StageOutput{Action: ports.ActionMutate, Outlet: mutated},
	}

	e := NewExecutor(ExecutorConfig{
		Stages: []StageConfig{{Name: "filter-stage", Type: ports.StagePost, Order: 1, Stage: stage}},
	})

	body := &domain.OutletBody{ID: "resp-123"}
	result, err := e.RunPost(context.Background(), body, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != mutated {
		t.Error("expected mutated body")
	}
	if stage.calls[0].Phase != ports.PhaseOutlet {
		t.Errorf("expected phase %q, got %q", ports.PhaseOutlet, stage.calls[0].Phase)
	}
	if stage.calls[0].Outlet != body {
		t.Error("expected outlet body to be passed to stage")
	}
}

func TestExecutor_StageTypeSeparation(t *testing.T) {
	preStage := &mockStage{name: "pre", stageType: ports.StagePre}
	postStage := &mockStage{name: "post", stageType: ports.StagePost}

	e := NewExecutor(ExecutorConfig{
		Stages: []StageConfig{
			{Name: "pre", Type: ports.StagePre, Order: 1, Stage: preStage},
			{Name: "post", Type: ports.StagePost, Order: 1, Stage: postStage},
		},
	})

	_, _ = e.RunPre(context.Background(), userInlet("hi"), nil)
	if len(preStage.calls) != 1 {
		t.Errorf("expected 1 pre call, got %d", len(preStage.calls))
	}
	if len(postStage.calls) != 0 {
		t.Errorf("expected 0 post calls during pre, got %d", len(postStage.calls))
	}

	_, _ = e.RunPost(context.Background(), &domain.OutletBody{ID: "resp-123"}, nil)
	if len(postStage.calls) != 1 {
		t.Errorf("expected 1 post call, got %d", len(postStage.calls))
	}
	if !e.HasPreStages() || !e.HasPostStages() {
		t.Error("HasPreStages/HasPostStages = false")
	}
}
