package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/indranandjha1993/agentic-zerodha-platform/internal/agent"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/approval"
)

// Notifier formats approval requests into operator chat messages.
type Notifier struct {
	client *Client
}

// NewNotifier creates a Telegram approval notifier.
func NewNotifier(client *Client) *Notifier {
	return &Notifier{client: client}
}

// NotifyRequest sends a summary of the pending request to the operator chat.
func (n *Notifier) NotifyRequest(ctx context.Context, req *approval.Request, ag *agent.Agent) error {
	return n.client.SendMessage(ctx, formatRequest(req, ag))
}

func formatRequest(req *approval.Request, ag *agent.Agent) string {
	snap := req.IntentPayload

	var b strings.Builder
	b.WriteString("*Trade approval needed*\n")
	fmt.Fprintf(&b, "Agent: %s\n", ag.Name)
	fmt.Fprintf(&b, "Order: %s %d %s %s/%s\n", snap.Side, snap.Quantity, snap.Symbol, snap.OrderType, snap.Product)
	if snap.Price > 0 {
		fmt.Fprintf(&b, "Price: %.2f\n", snap.Price)
	}
	fmt.Fprintf(&b, "Risk score: %d\n", req.RiskScore)
	fmt.Fprintf(&b, "Approvals needed: %d\n", req.RequiredApprovals)
	if req.ExpiresAt != nil {
		fmt.Fprintf(&b, "Expires: %s\n", req.ExpiresAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "Request: %s", req.ID)
	return b.String()
}

// Compile-time assertion that Notifier implements the approval hook.
var _ approval.Notifier = (*Notifier)(nil)
