package realtime

import (
	"time"

	"github.com/indranandjha1993/agentic-zerodha-platform/internal/approval"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/intent"
)

// Publisher forwards domain lifecycle events to the hub.
//
// A nil Publisher is safe to use, so callers can pass one unconditionally.
type Publisher struct {
	hub *Hub
}

// NewPublisher wraps a hub for event emission.
func NewPublisher(hub *Hub) *Publisher {
	return &Publisher{hub: hub}
}

var _ approval.EventSink = (*Publisher)(nil)

// ApprovalEvent pushes an approval lifecycle transition to connected clients.
func (p *Publisher) ApprovalEvent(event string, r *approval.Request) {
	if p == nil || p.hub == nil || r == nil {
		return
	}
	data := map[string]interface{}{
		"requestId":         r.ID,
		"agentId":           r.AgentID,
		"status":            string(r.Status),
		"riskScore":         float64(r.RiskScore),
		"requiredApprovals": r.RequiredApprovals,
		"isEscalated":       r.IsEscalated,
	}
	if r.ExpiresAt != nil {
		data["expiresAt"] = r.ExpiresAt.Format(time.RFC3339)
	}
	if r.DecisionReason != "" {
		data["decisionReason"] = r.DecisionReason
	}
	p.hub.Broadcast(&Event{
		Type:      event,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// IntentEvent pushes a trade intent transition (placement, rejection) to
// connected clients.
func (p *Publisher) IntentEvent(event string, it *intent.TradeIntent) {
	if p == nil || p.hub == nil || it == nil {
		return
	}
	data := map[string]interface{}{
		"intentId": it.ID,
		"agentId":  it.AgentID,
		"symbol":   it.Symbol,
		"side":     string(it.Side),
		"quantity": it.Quantity,
		"status":   string(it.Status),
	}
	if it.BrokerOrderID != "" {
		data["brokerOrderId"] = it.BrokerOrderID
	}
	if it.FailureReason != "" {
		data["failureReason"] = it.FailureReason
	}
	p.hub.Broadcast(&Event{
		Type:      event,
		Timestamp: time.Now(),
		Data:      data,
	})
}
