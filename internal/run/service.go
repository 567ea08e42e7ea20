package run

import (
	"context"
	"errors"
	"time"

	"github.com/indranandjha1993/agentic-zerodha-platform/internal/agent"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/idgen"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/logging"
)

var ErrRunFinished = errors.New("analysis run already finished")

// Finisher receives runs that just reached a terminal state.
// *notify.Emitter satisfies this.
type Finisher interface {
	EmitRunFinished(r *Run)
}

// Service drives the analysis run lifecycle and fans out terminal
// transitions to the notifier.
type Service struct {
	store    Store
	agents   agent.Store
	finisher Finisher
	now      func() time.Time
}

// NewService creates a run lifecycle service. finisher may be nil.
func NewService(store Store, agents agent.Store, finisher Finisher) *Service {
	return &Service{
		store:    store,
		agents:   agents,
		finisher: finisher,
		now:      time.Now,
	}
}

// StartInput describes a new analysis run.
type StartInput struct {
	AgentID     string `json:"agentId" binding:"required"`
	Query       string `json:"query"`
	Model       string `json:"model"`
	MaxSteps    int    `json:"maxSteps"`
	RequestedBy string `json:"requestedBy"`
}

// Start creates a run in the running state.
func (s *Service) Start(ctx context.Context, in StartInput) (*Run, error) {
	if _, err := s.agents.Get(ctx, in.AgentID); err != nil {
		return nil, err
	}

	if in.MaxSteps <= 0 {
		in.MaxSteps = 10
	}

	now := s.now()
	started := now
	r := &Run{
		ID:          idgen.WithPrefix("run_"),
		AgentID:     in.AgentID,
		Status:      StatusRunning,
		Query:       in.Query,
		Model:       in.Model,
		MaxSteps:    in.MaxSteps,
		RequestedBy: in.RequestedBy,
		StartedAt:   &started,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Complete marks a run completed and notifies subscribers.
func (s *Service) Complete(ctx context.Context, id string, stepsExecuted int) (*Run, error) {
	return s.finish(ctx, id, StatusCompleted, stepsExecuted, "")
}

// Fail marks a run failed with an error message and notifies subscribers.
func (s *Service) Fail(ctx context.Context, id string, stepsExecuted int, errMsg string) (*Run, error) {
	return s.finish(ctx, id, StatusFailed, stepsExecuted, errMsg)
}

// Cancel marks a run canceled and notifies subscribers.
func (s *Service) Cancel(ctx context.Context, id string) (*Run, error) {
	return s.finish(ctx, id, StatusCanceled, -1, "")
}

func (s *Service) finish(ctx context.Context, id string, status Status, stepsExecuted int, errMsg string) (*Run, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status.IsTerminal() {
		return nil, ErrRunFinished
	}

	now := s.now()
	r.Status = status
	if stepsExecuted >= 0 {
		r.StepsExecuted = stepsExecuted
	}
	r.ErrorMessage = errMsg
	r.CompletedAt = &now
	r.UpdatedAt = now

	if err := s.store.Update(ctx, r); err != nil {
		return nil, err
	}

	if s.finisher != nil {
		s.finisher.EmitRunFinished(r)
	} else {
		logging.L(ctx).Debug("run finished without notifier", "run", r.ID, "status", r.Status)
	}
	return r, nil
}

// Get returns a run by id.
func (s *Service) Get(ctx context.Context, id string) (*Run, error) {
	return s.store.Get(ctx, id)
}

// ListByAgent returns recent runs for an agent.
func (s *Service) ListByAgent(ctx context.Context, agentID string, limit int) ([]*Run, error) {
	return s.store.ListByAgent(ctx, agentID, limit)
}
