package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/indranandjha1993/agentic-zerodha-platform/internal/agent"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/idgen"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/intent"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/jobs"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/logging"
)

// Notifier pushes a newly created request to an out-of-band approval channel.
type Notifier interface {
	NotifyRequest(ctx context.Context, req *Request, ag *agent.Agent) error
}

// Orchestrator decides whether an intent needs sign-off and opens the
// approval request when it does.
type Orchestrator struct {
	store  Store
	agents agent.Store
	notify Notifier
	jobs   *jobs.Runner
	events EventSink
	now    func() time.Time
}

func NewOrchestrator(store Store, agents agent.Store, notify Notifier, runner *jobs.Runner, events EventSink) *Orchestrator {
	return &Orchestrator{
		store:  store,
		agents: agents,
		notify: notify,
		jobs:   runner,
		events: events,
		now:    time.Now,
	}
}

// RequiresApproval applies the agent's approval mode to a computed risk score.
// Mode none never gates, always gates everything, risk_based gates scores at
// or above the agent's configured threshold.
func RequiresApproval(ag *agent.Agent, riskScore int) bool {
	switch ag.ApprovalMode {
	case agent.ApprovalNone:
		return false
	case agent.ApprovalAlways:
		return true
	}
	return riskScore >= ag.RiskThreshold()
}

// CreateRequest opens a pending approval request for the intent. The intent's
// tradable fields are snapshotted so later edits cannot change what approvers
// see, the TTL comes from the agent config, and the timeout policy is
// validated up front so the sweeper never meets an unknown policy.
func (o *Orchestrator) CreateRequest(ctx context.Context, it *intent.TradeIntent, ag *agent.Agent, riskScore int, channel Channel) (*Request, error) {
	if channel == "" {
		channel = ChannelDashboard
	}
	now := o.now().UTC()
	expires := now.Add(ag.ApprovalTTL())

	required := ag.RequiredApprovals
	if required < 1 {
		required = agent.DefaultRequiredApprovals
	}

	req := &Request{
		ID:                idgen.WithPrefix("req_"),
		IdempotencyKey:    uuid.NewString(),
		AgentID:           ag.ID,
		RequestedBy:       ag.OwnerID,
		Channel:           channel,
		Status:            StatusPending,
		RequiredApprovals: required,
		TimeoutPolicy:     ParseTimeoutPolicy(ag.TimeoutPolicyName()),
		IntentPayload: IntentSnapshot{
			Symbol:    it.Symbol,
			Side:      string(it.Side),
			Quantity:  it.Quantity,
			OrderType: string(it.OrderType),
			Product:   string(it.Product),
			Price:     it.Price,
		},
		RiskScore: riskScore,
		ExpiresAt: &expires,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("create approval request: %w", err)
	}

	if o.events != nil {
		o.events.ApprovalEvent("approval.created", req)
	}
	o.enqueueNotify(req, ag)
	return req, nil
}

// enqueueNotify pushes the telegram notification off the request path.
// Notification failure never fails request creation.
func (o *Orchestrator) enqueueNotify(req *Request, ag *agent.Agent) {
	if o.notify == nil || o.jobs == nil {
		return
	}
	wantsTelegram := false
	for _, ch := range ag.ApprovalChannels(string(ChannelDashboard)) {
		if Channel(ch) == ChannelTelegram {
			wantsTelegram = true
			break
		}
	}
	if !wantsTelegram {
		return
	}
	reqCopy := *req
	agCopy := *ag
	o.jobs.Enqueue("approval.notify", func(ctx context.Context) error {
		if err := o.notify.NotifyRequest(ctx, &reqCopy, &agCopy); err != nil {
			logging.L(ctx).Warn("approval notification failed",
				"request_id", reqCopy.ID, "error", err)
		}
		return nil
	})
}
