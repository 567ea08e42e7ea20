// Package agent defines trading agents and their approval configuration.
//
// An agent owns trade intents and analysis runs. Its configuration decides
// whether an intent needs human approval, how many approvals are required,
// and what happens when an approval request times out.
package agent

import (
	"context"
	"errors"
	"time"
)

var ErrAgentNotFound = errors.New("agent not found")

// Status represents the lifecycle state of an agent.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusArchived Status = "archived"
)

// ExecutionMode selects simulated or live broker execution.
type ExecutionMode string

const (
	ModePaper ExecutionMode = "paper"
	ModeLive  ExecutionMode = "live"
)

// ApprovalMode controls when intents are routed through human approval.
type ApprovalMode string

const (
	ApprovalNone      ApprovalMode = "none"
	ApprovalAlways    ApprovalMode = "always"
	ApprovalRiskBased ApprovalMode = "risk_based"
)

// Config defaults, overridable per agent via the Config map.
const (
	DefaultRiskThreshold     = 50
	DefaultApprovalTTL       = 10 * time.Minute
	DefaultEscalationGrace   = 15 * time.Minute
	DefaultRequiredApprovals = 1
)

// Agent represents an automated trading agent.
type Agent struct {
	ID            string        `json:"id"`
	OwnerID       string        `json:"ownerId"`
	Name          string        `json:"name"`
	Slug          string        `json:"slug"`
	Status        Status        `json:"status"`
	ExecutionMode ExecutionMode `json:"executionMode"`
	ApprovalMode  ApprovalMode  `json:"approvalMode"`

	RequiredApprovals int      `json:"requiredApprovals"`
	Approvers         []string `json:"approvers,omitempty"`
	RiskPolicyID      string   `json:"riskPolicyId,omitempty"`

	IsAutoEnabled bool           `json:"isAutoEnabled"`
	Config        map[string]any `json:"config,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsApprover reports whether userID is listed as an approver for the agent.
func (a *Agent) IsApprover(userID string) bool {
	for _, id := range a.Approvers {
		if id == userID {
			return true
		}
	}
	return false
}

// RiskThreshold returns the risk score at or above which risk_based agents
// require approval.
func (a *Agent) RiskThreshold() int {
	return a.configInt("approval_risk_threshold", DefaultRiskThreshold)
}

// ApprovalTTL returns how long a new approval request stays open.
func (a *Agent) ApprovalTTL() time.Duration {
	if minutes := a.configInt("approval_ttl_minutes", 0); minutes > 0 {
		return time.Duration(minutes) * time.Minute
	}
	return DefaultApprovalTTL
}

// EscalationGrace returns the extra window granted when an escalate-policy
// request first expires.
func (a *Agent) EscalationGrace() time.Duration {
	if minutes := a.configInt("escalation_grace_minutes", 0); minutes > 0 {
		return time.Duration(minutes) * time.Minute
	}
	return DefaultEscalationGrace
}

// TimeoutPolicyName returns the raw configured timeout policy string.
// Validation against the closed policy set happens in the approval package.
func (a *Agent) TimeoutPolicyName() string {
	if v, ok := a.Config["timeout_policy"].(string); ok {
		return v
	}
	return ""
}

// ApprovalChannels returns the configured notification channels, falling back
// to the given channel when none are configured.
func (a *Agent) ApprovalChannels(fallback string) []string {
	raw, ok := a.Config["approval_channels"]
	if !ok {
		return []string{fallback}
	}
	var out []string
	switch list := raw.(type) {
	case []string:
		out = append(out, list...)
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	}
	if len(out) == 0 {
		return []string{fallback}
	}
	return out
}

// configInt reads an integer config value, tolerating JSON float64 decoding.
func (a *Agent) configInt(key string, fallback int) int {
	switch v := a.Config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

// Store persists agents.
type Store interface {
	Create(ctx context.Context, a *Agent) error
	Get(ctx context.Context, id string) (*Agent, error)
	Update(ctx context.Context, a *Agent) error
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Agent, error)
}
