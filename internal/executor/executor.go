// Package executor runs trade intents through the gating pipeline:
// risk evaluation, optional human approval, then broker placement.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/indranandjha1993/agentic-zerodha-platform/internal/agent"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/approval"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/broker"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/idgen"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/intent"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/logging"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/metrics"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/risk"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/syncutil"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/traces"
)

var (
	ErrAgentInactive = errors.New("agent is not active")
	ErrNotApproved   = errors.New("intent is not approved for execution")
)

// SubmitInput is the caller-facing shape for proposing a trade.
type SubmitInput struct {
	IdempotencyKey string  `json:"idempotencyKey"`
	Symbol         string  `json:"symbol" binding:"required"`
	Exchange       string  `json:"exchange"`
	Side           string  `json:"side" binding:"required"`
	Quantity       int     `json:"quantity" binding:"required"`
	OrderType      string  `json:"orderType" binding:"required"`
	Product        string  `json:"product" binding:"required"`
	Price          float64 `json:"price"`
	TriggerPrice   float64 `json:"triggerPrice"`
}

// Service executes the intent gating pipeline.
type Service struct {
	intents      intent.Store
	agents       agent.Store
	policies     risk.Store
	engine       *risk.Engine
	orchestrator *approval.Orchestrator
	broker       broker.Broker
	events       IntentEventSink
	locks        syncutil.ShardedMutex
	now          func() time.Time
}

// IntentEventSink receives intent lifecycle transitions for fan-out to
// realtime subscribers. May be nil.
type IntentEventSink interface {
	IntentEvent(event string, it *intent.TradeIntent)
}

// NewService creates the executor.
func NewService(intents intent.Store, agents agent.Store, policies risk.Store, engine *risk.Engine, orchestrator *approval.Orchestrator, b broker.Broker, events IntentEventSink) *Service {
	return &Service{
		intents:      intents,
		agents:       agents,
		policies:     policies,
		engine:       engine,
		orchestrator: orchestrator,
		broker:       b,
		events:       events,
		now:          time.Now,
	}
}

func (s *Service) emit(event string, it *intent.TradeIntent) {
	if s.events != nil {
		s.events.IntentEvent(event, it)
	}
}

// Submit records a new intent for the agent and immediately runs it through
// the pipeline. A repeated idempotency key returns intent.ErrDuplicateKey.
func (s *Service) Submit(ctx context.Context, agentID string, in SubmitInput) (*intent.TradeIntent, error) {
	ag, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if ag.Status != agent.StatusActive {
		return nil, ErrAgentInactive
	}

	now := s.now().UTC()
	it := &intent.TradeIntent{
		ID:             idgen.WithPrefix("int_"),
		IdempotencyKey: in.IdempotencyKey,
		AgentID:        ag.ID,
		Symbol:         in.Symbol,
		Exchange:       in.Exchange,
		Side:           intent.Side(in.Side),
		Quantity:       in.Quantity,
		OrderType:      intent.OrderType(in.OrderType),
		Product:        intent.Product(in.Product),
		Price:          in.Price,
		TriggerPrice:   in.TriggerPrice,
		Status:         intent.StatusDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if it.Exchange == "" {
		it.Exchange = "NSE"
	}
	it.ComputeNotional()

	if err := s.intents.Create(ctx, it); err != nil {
		return nil, err
	}
	return s.Process(ctx, it.ID)
}

// Process runs one intent through risk gating. Depending on the outcome the
// intent ends up rejected, parked in pending_approval, or executed. Terminal
// intents pass through untouched, so reprocessing is idempotent.
func (s *Service) Process(ctx context.Context, intentID string) (*intent.TradeIntent, error) {
	ctx, span := traces.StartSpan(ctx, "executor.Process",
		traces.IntentID(intentID))
	defer span.End()

	unlock := s.locks.Lock(intentID)
	defer unlock()

	it, err := s.intents.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(traces.AgentID(it.AgentID), traces.Symbol(it.Symbol))
	if it.Status.IsTerminal() || it.Status == intent.StatusPendingApproval {
		return it, nil
	}

	ag, err := s.agents.Get(ctx, it.AgentID)
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	if ag.Status != agent.StatusActive {
		return s.reject(ctx, it, "Agent is not active.")
	}

	var policy *risk.Policy
	if ag.RiskPolicyID != "" {
		policy, err = s.policies.Get(ctx, ag.RiskPolicyID)
		if err != nil && !errors.Is(err, risk.ErrPolicyNotFound) {
			return nil, fmt.Errorf("load risk policy: %w", err)
		}
	}

	decision := s.engine.Evaluate(it, policy)
	if !decision.Approved {
		return s.reject(ctx, it, decision.Reason)
	}

	if approval.RequiresApproval(ag, decision.RiskScore) {
		req, err := s.orchestrator.CreateRequest(ctx, it, ag, decision.RiskScore, approval.ChannelDashboard)
		if err != nil {
			return nil, err
		}
		it.ApprovalRequestID = req.ID
		it.Status = intent.StatusPendingApproval
		it.UpdatedAt = s.now().UTC()
		if err := s.intents.Update(ctx, it); err != nil {
			return nil, err
		}
		metrics.IntentsProcessedTotal.WithLabelValues("pending_approval").Inc()
		s.emit("intent.pending_approval", it)
		return it, nil
	}

	it.Status = intent.StatusApproved
	it.UpdatedAt = s.now().UTC()
	if err := s.intents.Update(ctx, it); err != nil {
		return nil, err
	}
	return s.execute(ctx, it, ag)
}

// DispatchIntent executes a previously approved intent. It is the execution
// trigger the approval engine fires when quorum is reached.
func (s *Service) DispatchIntent(ctx context.Context, intentID string) error {
	unlock := s.locks.Lock(intentID)
	defer unlock()

	it, err := s.intents.Get(ctx, intentID)
	if err != nil {
		return err
	}
	if it.Status != intent.StatusApproved && it.Status != intent.StatusQueued {
		if it.Status == intent.StatusPlaced {
			return nil
		}
		return fmt.Errorf("%w: status %s", ErrNotApproved, it.Status)
	}

	ag, err := s.agents.Get(ctx, it.AgentID)
	if err != nil {
		return fmt.Errorf("load agent: %w", err)
	}
	_, err = s.execute(ctx, it, ag)
	return err
}

func (s *Service) execute(ctx context.Context, it *intent.TradeIntent, ag *agent.Agent) (*intent.TradeIntent, error) {
	now := s.now().UTC()

	if ag.ExecutionMode == agent.ModePaper {
		it.Status = intent.StatusPlaced
		it.BrokerOrderID = "paper-" + it.ID
		it.PlacedAt = &now
		it.UpdatedAt = now
		if err := s.intents.Update(ctx, it); err != nil {
			return nil, err
		}
		metrics.IntentsProcessedTotal.WithLabelValues("placed_paper").Inc()
		s.emit("intent.placed", it)
		logging.L(ctx).Info("paper order placed",
			"intent_id", it.ID, "agent_id", ag.ID, "symbol", it.Symbol)
		return it, nil
	}

	placement, err := s.broker.PlaceOrder(ctx, broker.Order{
		Reference:    it.ID,
		Exchange:     it.Exchange,
		Symbol:       it.Symbol,
		Side:         string(it.Side),
		Quantity:     it.Quantity,
		OrderType:    string(it.OrderType),
		Product:      string(it.Product),
		Price:        it.Price,
		TriggerPrice: it.TriggerPrice,
	})
	if err != nil {
		it.Status = intent.StatusFailed
		it.FailureReason = err.Error()
		it.UpdatedAt = now
		if updateErr := s.intents.Update(ctx, it); updateErr != nil {
			return nil, updateErr
		}
		metrics.IntentsProcessedTotal.WithLabelValues("failed").Inc()
		s.emit("intent.failed", it)
		logging.L(ctx).Error("broker order failed",
			"intent_id", it.ID, "agent_id", ag.ID, "error", err)
		return it, nil
	}

	it.Status = intent.StatusPlaced
	it.BrokerOrderID = placement.OrderID
	it.PlacedAt = &now
	it.UpdatedAt = now
	if err := s.intents.Update(ctx, it); err != nil {
		return nil, err
	}
	metrics.IntentsProcessedTotal.WithLabelValues("placed").Inc()
	s.emit("intent.placed", it)
	logging.L(ctx).Info("order placed",
		"intent_id", it.ID, "agent_id", ag.ID,
		"broker_order_id", placement.OrderID, "simulated", placement.Simulated)
	return it, nil
}

func (s *Service) reject(ctx context.Context, it *intent.TradeIntent, reason string) (*intent.TradeIntent, error) {
	it.Status = intent.StatusRejected
	it.FailureReason = reason
	it.UpdatedAt = s.now().UTC()
	if err := s.intents.Update(ctx, it); err != nil {
		return nil, err
	}
	metrics.IntentsProcessedTotal.WithLabelValues("rejected").Inc()
	s.emit("intent.rejected", it)
	return it, nil
}

// Compile-time assertion that Service implements the approval dispatch hook.
var _ approval.ExecutionDispatcher = (*Service)(nil)
