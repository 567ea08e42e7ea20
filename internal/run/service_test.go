package run

import (
	"context"
	"strings"
	"testing"

	"github.com/indranandjha1993/agentic-zerodha-platform/internal/agent"
)

type recordingFinisher struct {
	finished []*Run
}

func (f *recordingFinisher) EmitRunFinished(r *Run) {
	f.finished = append(f.finished, r)
}

func newTestService(t *testing.T) (*Service, *recordingFinisher) {
	t.Helper()
	agents := agent.NewMemoryStore()
	if err := agents.Create(context.Background(), &agent.Agent{
		ID:      "agent-1",
		OwnerID: "owner-1",
		Name:    "momentum scanner",
		Status:  agent.StatusActive,
	}); err != nil {
		t.Fatalf("seed agent: %v", err)
	}

	fin := &recordingFinisher{}
	return NewService(NewMemoryStore(), agents, fin), fin
}

func TestStartCreatesRunningRun(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	r, err := svc.Start(ctx, StartInput{
		AgentID:     "agent-1",
		Query:       "scan for breakouts",
		Model:       "gpt-4o",
		RequestedBy: "owner-1",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !strings.HasPrefix(r.ID, "run_") {
		t.Errorf("expected run_ id prefix, got %s", r.ID)
	}
	if r.Status != StatusRunning {
		t.Errorf("expected running, got %s", r.Status)
	}
	if r.StartedAt == nil {
		t.Error("expected StartedAt set")
	}
	if r.MaxSteps != 10 {
		t.Errorf("expected default max steps 10, got %d", r.MaxSteps)
	}
}

func TestStartUnknownAgent(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Start(context.Background(), StartInput{AgentID: "nope"})
	if err != agent.ErrAgentNotFound {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestCompleteNotifiesOnce(t *testing.T) {
	svc, fin := newTestService(t)
	ctx := context.Background()

	r, _ := svc.Start(ctx, StartInput{AgentID: "agent-1", MaxSteps: 5})

	done, err := svc.Complete(ctx, r.ID, 4)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", done.Status)
	}
	if done.StepsExecuted != 4 {
		t.Errorf("expected 4 steps executed, got %d", done.StepsExecuted)
	}
	if done.CompletedAt == nil {
		t.Error("expected CompletedAt set")
	}
	if len(fin.finished) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(fin.finished))
	}

	// Second completion must be rejected, not re-notified
	if _, err := svc.Complete(ctx, r.ID, 5); err != ErrRunFinished {
		t.Fatalf("expected ErrRunFinished, got %v", err)
	}
	if len(fin.finished) != 1 {
		t.Fatalf("expected still 1 notification, got %d", len(fin.finished))
	}
}

func TestFailRecordsErrorMessage(t *testing.T) {
	svc, fin := newTestService(t)
	ctx := context.Background()

	r, _ := svc.Start(ctx, StartInput{AgentID: "agent-1"})

	failed, err := svc.Fail(ctx, r.ID, 2, "model timeout")
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if failed.Status != StatusFailed {
		t.Errorf("expected failed, got %s", failed.Status)
	}
	if failed.ErrorMessage != "model timeout" {
		t.Errorf("expected error message recorded, got %q", failed.ErrorMessage)
	}
	if len(fin.finished) != 1 || fin.finished[0].Status != StatusFailed {
		t.Error("expected failed run notification")
	}
}

func TestCancelKeepsStepsExecuted(t *testing.T) {
	svc, fin := newTestService(t)
	ctx := context.Background()

	r, _ := svc.Start(ctx, StartInput{AgentID: "agent-1"})

	canceled, err := svc.Cancel(ctx, r.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if canceled.Status != StatusCanceled {
		t.Errorf("expected canceled, got %s", canceled.Status)
	}
	if len(fin.finished) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(fin.finished))
	}
}

func TestServiceWithoutFinisher(t *testing.T) {
	agents := agent.NewMemoryStore()
	agents.Create(context.Background(), &agent.Agent{ID: "agent-1", Status: agent.StatusActive})
	svc := NewService(NewMemoryStore(), agents, nil)

	r, _ := svc.Start(context.Background(), StartInput{AgentID: "agent-1"})
	if _, err := svc.Complete(context.Background(), r.ID, 1); err != nil {
		t.Fatalf("Complete without finisher: %v", err)
	}
}
