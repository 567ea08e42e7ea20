// Package approval implements human sign-off for trade intents.
//
// Flow:
//  1. Executor routes a risky intent here → ApprovalRequest created with a TTL
//  2. Approvers vote → quorum approves, any single reject vetoes
//  3. Expired requests are swept → timeout policy decides the outcome
//  4. Finalization updates the linked intent and triggers execution dispatch
package approval

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRequestNotFound  = errors.New("approval request not found")
	ErrConflict         = errors.New("approval request is no longer pending")
	ErrPermissionDenied = errors.New("actor is not allowed to decide this request")
	ErrDuplicateVote    = errors.New("actor has already decided this request")
)

// Channel identifies where a request or decision originated.
type Channel string

const (
	ChannelDashboard Channel = "dashboard"
	ChannelAdmin     Channel = "admin"
	ChannelTelegram  Channel = "telegram"
)

// Status represents the state of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired" // auto_pause timeout path only
	StatusCanceled Status = "canceled"
)

// IsTerminal returns true if the request is in a final state.
// Terminal requests accept no further decisions.
func (s Status) IsTerminal() bool {
	return s != StatusPending
}

// DecisionType is an approver's verdict.
type DecisionType string

const (
	DecisionApprove DecisionType = "approve"
	DecisionReject  DecisionType = "reject"
)

// TimeoutPolicy selects what happens when a pending request expires.
type TimeoutPolicy string

const (
	PolicyAutoReject TimeoutPolicy = "auto_reject"
	PolicyAutoPause  TimeoutPolicy = "auto_pause"
	PolicyEscalate   TimeoutPolicy = "escalate"
)

// ParseTimeoutPolicy validates a configured policy name, falling back to
// auto_reject for anything outside the closed set.
func ParseTimeoutPolicy(name string) TimeoutPolicy {
	switch TimeoutPolicy(name) {
	case PolicyAutoReject, PolicyAutoPause, PolicyEscalate:
		return TimeoutPolicy(name)
	}
	return PolicyAutoReject
}

// IntentSnapshot captures the intent fields at request creation time.
// The snapshot is immutable thereafter: approvers decide on what was
// requested, not on later mutations.
type IntentSnapshot struct {
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Quantity  int     `json:"quantity"`
	OrderType string  `json:"order_type"`
	Product   string  `json:"product"`
	Price     float64 `json:"price,omitempty"`
}

// Request is a pending ask for human sign-off on a trade intent.
type Request struct {
	ID             string  `json:"id"`
	IdempotencyKey string  `json:"idempotencyKey"`
	AgentID        string  `json:"agentId"`
	RequestedBy    string  `json:"requestedBy,omitempty"`
	Channel        Channel `json:"channel"`
	Status         Status  `json:"status"`

	RequiredApprovals int           `json:"requiredApprovals"`
	TimeoutPolicy     TimeoutPolicy `json:"timeoutPolicy"`
	IsEscalated       bool          `json:"isEscalated"`
	EscalatedAt       *time.Time    `json:"escalatedAt,omitempty"`

	IntentPayload IntentSnapshot `json:"intentPayload"`
	RiskScore     int            `json:"riskScore"`
	Notes         string         `json:"notes,omitempty"`
	ExpiresAt     *time.Time     `json:"expiresAt,omitempty"`

	DecidedAt      *time.Time `json:"decidedAt,omitempty"`
	DecidedBy      string     `json:"decidedBy,omitempty"`
	DecisionReason string     `json:"decisionReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Decision is one recorded vote. ActorID is empty for system decisions
// (timeout-driven auto-decisions); a non-empty actor may vote at most once
// per request.
type Decision struct {
	ID        string         `json:"id"`
	RequestID string         `json:"requestId"`
	ActorID   string         `json:"actorId,omitempty"`
	Channel   Channel        `json:"channel"`
	Decision  DecisionType   `json:"decision"`
	Reason    string         `json:"reason,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Actor identifies who is voting. Operators (staff) may decide any request.
type Actor struct {
	ID         string
	IsOperator bool
}

// Store persists approval requests and decisions.
//
// CreateDecision must enforce at-most-one decision per (request, non-empty
// actor) and return ErrDuplicateVote on violation. FinalizeRequest must be a
// status-guarded compare-and-set: it persists the terminal fields only if the
// stored status is still pending, returning ErrConflict otherwise, so two
// racing finalizers cannot both win.
type Store interface {
	CreateRequest(ctx context.Context, r *Request) error
	GetRequest(ctx context.Context, id string) (*Request, error)
	UpdateRequest(ctx context.Context, r *Request) error
	FinalizeRequest(ctx context.Context, r *Request) error

	CreateDecision(ctx context.Context, d *Decision) error
	ListDecisions(ctx context.Context, requestID string) ([]*Decision, error)
	CountApprovals(ctx context.Context, requestID string) (int, error)
	HasActorDecided(ctx context.Context, requestID, actorID string) (bool, error)

	ListByAgent(ctx context.Context, agentID string, limit int) ([]*Request, error)
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Request, error)
}

// EventSink receives approval lifecycle events for live subscribers.
// Implementations must not block; a nil sink is valid.
type EventSink interface {
	ApprovalEvent(event string, r *Request)
}
