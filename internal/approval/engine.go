package approval

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/indranandjha1993/agentic-zerodha-platform/internal/agent"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/idgen"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/intent"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/logging"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/metrics"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/syncutil"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/traces"
)

// Timeout sweep actions.
const (
	ActionSkippedNonPending       = "skipped_non_pending"
	ActionAutoRejected            = "auto_rejected"
	ActionAutoPaused              = "auto_paused"
	ActionEscalated               = "escalated"
	ActionEscalationExpiredReject = "escalation_expired_rejected"
)

// ExecutionDispatcher hands a fully approved intent to the execution path.
// Dispatch failures are logged, never propagated back to the approver.
type ExecutionDispatcher interface {
	DispatchIntent(ctx context.Context, intentID string) error
}

// Outcome reports the result of a recorded decision.
type Outcome struct {
	Request           *Request `json:"request"`
	IsFinal           bool     `json:"isFinal"`
	ApprovedCount     int      `json:"approvedCount"`
	RequiredApprovals int      `json:"requiredApprovals"`
}

// TimeoutOutcome reports what a sweep did to one expired request.
type TimeoutOutcome struct {
	Request *Request `json:"request"`
	Action  string   `json:"action"`
	IsFinal bool     `json:"isFinal"`
}

// Engine evaluates approver votes and timeout policies against pending
// requests. All state transitions for a given request are serialized by a
// per-request lock, and finalization goes through the store's pending-guarded
// write, so a request finalizes exactly once.
type Engine struct {
	store      Store
	intents    intent.Store
	agents     agent.Store
	dispatcher ExecutionDispatcher
	events     EventSink
	locks      syncutil.ShardedMutex
	now        func() time.Time
}

func NewEngine(store Store, intents intent.Store, agents agent.Store, dispatcher ExecutionDispatcher, events EventSink) *Engine {
	return &Engine{
		store:      store,
		intents:    intents,
		agents:     agents,
		dispatcher: dispatcher,
		events:     events,
		now:        time.Now,
	}
}

// Decide records one approver vote and advances the request state machine.
//
// Precondition checks run in a fixed order so concurrent error reporting is
// deterministic: terminal status wins over permission, permission wins over
// duplicate vote. A reject is an immediate veto regardless of prior approvals;
// an approve finalizes only once the approval count reaches the quorum.
func (e *Engine) Decide(ctx context.Context, requestID string, actor Actor, decision DecisionType, channel Channel, reason string, metadata map[string]any) (*Outcome, error) {
	ctx, span := traces.StartSpan(ctx, "approval.Decide",
		traces.RequestID(requestID))
	defer span.End()

	unlock := e.locks.Lock(requestID)
	defer unlock()

	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.IsTerminal() {
		return nil, ErrConflict
	}

	ag, err := e.agents.Get(ctx, req.AgentID)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	if !canDecide(ag, actor) {
		return nil, ErrPermissionDenied
	}

	decided, err := e.store.HasActorDecided(ctx, requestID, actor.ID)
	if err != nil {
		return nil, err
	}
	if decided {
		return nil, ErrDuplicateVote
	}

	if channel == "" {
		channel = ChannelDashboard
	}
	d := &Decision{
		ID:        idgen.WithPrefix("dec_"),
		RequestID: requestID,
		ActorID:   actor.ID,
		Channel:   channel,
		Decision:  decision,
		Reason:    reason,
		Metadata:  metadata,
		CreatedAt: e.now().UTC(),
	}
	if err := e.store.CreateDecision(ctx, d); err != nil {
		return nil, err
	}

	required := req.RequiredApprovals
	if required < 1 {
		required = 1
	}

	if decision == DecisionReject {
		if reason == "" {
			reason = "Rejected by approver."
		}
		if err := e.finalize(ctx, req, StatusRejected, actor.ID, reason); err != nil {
			return nil, err
		}
		e.rejectIntent(ctx, req, reason)
		e.recordDecision(string(decision), true)
		e.emit("approval.rejected", req)
		return &Outcome{Request: req, IsFinal: true, RequiredApprovals: required}, nil
	}

	approved, err := e.store.CountApprovals(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if approved >= required {
		if err := e.finalize(ctx, req, StatusApproved, actor.ID, reason); err != nil {
			return nil, err
		}
		e.approveIntent(ctx, req)
		e.recordDecision(string(decision), true)
		e.emit("approval.approved", req)
		return &Outcome{Request: req, IsFinal: true, ApprovedCount: approved, RequiredApprovals: required}, nil
	}

	req.UpdatedAt = e.now().UTC()
	if err := e.store.UpdateRequest(ctx, req); err != nil {
		return nil, err
	}
	e.recordDecision(string(decision), false)
	e.emit("approval.vote", req)
	return &Outcome{Request: req, IsFinal: false, ApprovedCount: approved, RequiredApprovals: required}, nil
}

// Cancel withdraws a pending request. Only the agent owner or an operator may
// cancel. The linked intent is marked canceled as well.
func (e *Engine) Cancel(ctx context.Context, requestID string, actor Actor, reason string) (*Request, error) {
	unlock := e.locks.Lock(requestID)
	defer unlock()

	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.IsTerminal() {
		return nil, ErrConflict
	}

	ag, err := e.agents.Get(ctx, req.AgentID)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	if !actor.IsOperator && actor.ID != ag.OwnerID {
		return nil, ErrPermissionDenied
	}

	if reason == "" {
		reason = "Canceled by requester."
	}
	if err := e.finalize(ctx, req, StatusCanceled, actor.ID, reason); err != nil {
		return nil, err
	}
	e.cancelIntent(ctx, req, reason)
	e.emit("approval.canceled", req)
	return req, nil
}

// ApplyTimeoutPolicy resolves one expired request according to its configured
// policy. Safe to call on any request: non-pending requests are skipped, so a
// request that was decided between sweep listing and processing is untouched.
func (e *Engine) ApplyTimeoutPolicy(ctx context.Context, requestID string) (*TimeoutOutcome, error) {
	unlock := e.locks.Lock(requestID)
	defer unlock()

	req, err := e.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.IsTerminal() {
		return &TimeoutOutcome{Request: req, Action: ActionSkippedNonPending}, nil
	}

	switch req.TimeoutPolicy {
	case PolicyAutoPause:
		return e.timeoutAutoPause(ctx, req)
	case PolicyEscalate:
		return e.timeoutEscalate(ctx, req)
	}
	return e.timeoutAutoReject(ctx, req)
}

func (e *Engine) timeoutAutoReject(ctx context.Context, req *Request) (*TimeoutOutcome, error) {
	reason := "Approval request expired without required approvals."
	if err := e.systemReject(ctx, req, reason, PolicyAutoReject); err != nil {
		return nil, err
	}
	if err := e.finalize(ctx, req, StatusRejected, "", reason); err != nil {
		return nil, err
	}
	e.rejectIntent(ctx, req, reason)
	e.recordTimeout(ActionAutoRejected)
	e.emit("approval.expired", req)
	return &TimeoutOutcome{Request: req, Action: ActionAutoRejected, IsFinal: true}, nil
}

func (e *Engine) timeoutAutoPause(ctx context.Context, req *Request) (*TimeoutOutcome, error) {
	reason := "Approval expired and agent was auto-paused."
	if err := e.systemReject(ctx, req, "Approval expired. Agent paused automatically.", PolicyAutoPause); err != nil {
		return nil, err
	}
	if err := e.finalize(ctx, req, StatusExpired, "", reason); err != nil {
		return nil, err
	}
	e.pauseAgent(ctx, req)
	e.rejectIntent(ctx, req, reason)
	e.recordTimeout(ActionAutoPaused)
	e.emit("approval.expired", req)
	return &TimeoutOutcome{Request: req, Action: ActionAutoPaused, IsFinal: true}, nil
}

func (e *Engine) timeoutEscalate(ctx context.Context, req *Request) (*TimeoutOutcome, error) {
	now := e.now().UTC()

	if !req.IsEscalated {
		grace := agent.DefaultEscalationGrace
		if ag, err := e.agents.Get(ctx, req.AgentID); err == nil {
			grace = ag.EscalationGrace()
		}
		expires := now.Add(grace)
		req.IsEscalated = true
		req.EscalatedAt = &now
		req.ExpiresAt = &expires
		if req.Notes != "" {
			req.Notes += "\n"
		}
		req.Notes += "Escalated at " + now.Format(time.RFC3339) + " after initial approval window expired."
		req.UpdatedAt = now
		if err := e.store.UpdateRequest(ctx, req); err != nil {
			return nil, err
		}
		e.recordTimeout(ActionEscalated)
		e.emit("approval.escalated", req)
		return &TimeoutOutcome{Request: req, Action: ActionEscalated}, nil
	}

	reason := "Escalated approval expired without decision."
	if err := e.systemReject(ctx, req, reason, PolicyEscalate); err != nil {
		return nil, err
	}
	if err := e.finalize(ctx, req, StatusRejected, "", reason); err != nil {
		return nil, err
	}
	e.rejectIntent(ctx, req, reason)
	e.recordTimeout(ActionEscalationExpiredReject)
	e.emit("approval.expired", req)
	return &TimeoutOutcome{Request: req, Action: ActionEscalationExpiredReject, IsFinal: true}, nil
}

// systemReject records the audit decision row for a timeout-driven rejection.
// System decisions carry no actor and are exempt from the one-vote rule.
func (e *Engine) systemReject(ctx context.Context, req *Request, reason string, policy TimeoutPolicy) error {
	d := &Decision{
		ID:        idgen.WithPrefix("dec_"),
		RequestID: req.ID,
		Channel:   ChannelAdmin,
		Decision:  DecisionReject,
		Reason:    reason,
		Metadata:  map[string]any{"source": "timeout_policy", "policy": string(policy)},
		CreatedAt: e.now().UTC(),
	}
	return e.store.CreateDecision(ctx, d)
}

func (e *Engine) finalize(ctx context.Context, req *Request, status Status, decidedBy, reason string) error {
	now := e.now().UTC()
	req.Status = status
	req.DecidedAt = &now
	req.DecidedBy = decidedBy
	req.DecisionReason = reason
	req.UpdatedAt = now
	return e.store.FinalizeRequest(ctx, req)
}

func (e *Engine) approveIntent(ctx context.Context, req *Request) {
	it, err := e.intents.GetByApprovalRequest(ctx, req.ID)
	if err != nil {
		if !errors.Is(err, intent.ErrIntentNotFound) {
			logging.L(ctx).Error("load intent for approved request", "request_id", req.ID, "error", err)
		}
		return
	}
	it.Status = intent.StatusApproved
	it.FailureReason = ""
	it.UpdatedAt = e.now().UTC()
	if err := e.intents.Update(ctx, it); err != nil {
		logging.L(ctx).Error("mark intent approved", "intent_id", it.ID, "error", err)
		return
	}
	if e.dispatcher != nil {
		if err := e.dispatcher.DispatchIntent(ctx, it.ID); err != nil {
			logging.L(ctx).Error("dispatch approved intent", "intent_id", it.ID, "error", err)
		}
	}
}

func (e *Engine) rejectIntent(ctx context.Context, req *Request, reason string) {
	e.closeIntent(ctx, req, intent.StatusRejected, reason)
}

func (e *Engine) cancelIntent(ctx context.Context, req *Request, reason string) {
	e.closeIntent(ctx, req, intent.StatusCanceled, reason)
}

func (e *Engine) closeIntent(ctx context.Context, req *Request, status intent.Status, reason string) {
	it, err := e.intents.GetByApprovalRequest(ctx, req.ID)
	if err != nil {
		if !errors.Is(err, intent.ErrIntentNotFound) {
			logging.L(ctx).Error("load intent for finalized request", "request_id", req.ID, "error", err)
		}
		return
	}
	if it.Status.IsTerminal() {
		return
	}
	it.Status = status
	it.FailureReason = reason
	it.UpdatedAt = e.now().UTC()
	if err := e.intents.Update(ctx, it); err != nil {
		logging.L(ctx).Error("close intent", "intent_id", it.ID, "status", string(status), "error", err)
	}
}

func (e *Engine) pauseAgent(ctx context.Context, req *Request) {
	ag, err := e.agents.Get(ctx, req.AgentID)
	if err != nil {
		logging.L(ctx).Error("load agent for auto-pause", "agent_id", req.AgentID, "error", err)
		return
	}
	ag.Status = agent.StatusPaused
	ag.IsAutoEnabled = false
	ag.UpdatedAt = e.now().UTC()
	if err := e.agents.Update(ctx, ag); err != nil {
		logging.L(ctx).Error("auto-pause agent", "agent_id", ag.ID, "error", err)
	}
}

func (e *Engine) emit(event string, req *Request) {
	if e.events != nil {
		e.events.ApprovalEvent(event, req)
	}
}

func (e *Engine) recordDecision(decision string, final bool) {
	metrics.ApprovalDecisionsTotal.WithLabelValues(decision, strconv.FormatBool(final)).Inc()
}

func (e *Engine) recordTimeout(action string) {
	metrics.ApprovalTimeoutsTotal.WithLabelValues(action).Inc()
}

// canDecide reports whether the actor may vote: operators always, otherwise
// the agent owner or anyone on the agent's approver list.
func canDecide(ag *agent.Agent, actor Actor) bool {
	if actor.IsOperator {
		return true
	}
	if actor.ID == "" {
		return false
	}
	return actor.ID == ag.OwnerID || ag.IsApprover(actor.ID)
}
