// Package run defines agent analysis runs, the subjects of webhook
// notifications. A run records one agent reasoning cycle; only terminal runs
// fan out to subscribers.
package run

import (
	"context"
	"errors"
	"time"
)

var ErrRunNotFound = errors.New("analysis run not found")

// Status represents the lifecycle state of an analysis run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// IsTerminal returns true for states that trigger notification fan-out.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Run represents one analysis cycle of an agent.
type Run struct {
	ID      string `json:"id"`
	AgentID string `json:"agentId"`

	Status        Status `json:"status"`
	Query         string `json:"query,omitempty"`
	Model         string `json:"model,omitempty"`
	MaxSteps      int    `json:"maxSteps"`
	StepsExecuted int    `json:"stepsExecuted"`

	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	RequestedBy  string     `json:"requestedBy,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists analysis runs.
type Store interface {
	Create(ctx context.Context, r *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	Update(ctx context.Context, r *Run) error
	ListByAgent(ctx context.Context, agentID string, limit int) ([]*Run, error)
}
