// Package intent defines trade intents and their lifecycle.
//
// An intent is created in draft, routed through risk evaluation and
// (optionally) human approval, and ends placed, rejected, failed, or
// canceled. Intents are never deleted; terminal states are stamped with a
// human-readable reason.
package intent

import (
	"context"
	"errors"
	"time"

	"github.com/indranandjha1993/agentic-zerodha-platform/internal/pagination"
)

var (
	ErrIntentNotFound = errors.New("trade intent not found")
	ErrDuplicateKey   = errors.New("trade intent idempotency key already used")
)

// Status represents the lifecycle state of a trade intent.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusQueued          Status = "queued"
	StatusPlaced          Status = "placed"
	StatusFailed          Status = "failed"
	StatusCanceled        Status = "canceled"
)

// IsTerminal returns true when no further transitions are allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPlaced, StatusRejected, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType selects the broker order variant.
type OrderType string

const (
	OrderMarket         OrderType = "MARKET"
	OrderLimit          OrderType = "LIMIT"
	OrderStopLoss       OrderType = "SL"
	OrderStopLossMarket OrderType = "SL-M"
)

// Product is the broker product type.
type Product string

const (
	ProductMIS  Product = "MIS"
	ProductCNC  Product = "CNC"
	ProductNRML Product = "NRML"
)

// TradeIntent represents a single proposed order.
type TradeIntent struct {
	ID             string `json:"id"`
	IdempotencyKey string `json:"idempotencyKey"`
	AgentID        string `json:"agentId"`

	Symbol    string    `json:"symbol"`
	Exchange  string    `json:"exchange"`
	Side      Side      `json:"side"`
	Quantity  int       `json:"quantity"`
	OrderType OrderType `json:"orderType"`
	Product   Product   `json:"product"`

	Price        float64 `json:"price,omitempty"`
	TriggerPrice float64 `json:"triggerPrice,omitempty"`
	Notional     float64 `json:"notional"`

	Status            Status `json:"status"`
	ApprovalRequestID string `json:"approvalRequestId,omitempty"`
	BrokerOrderID     string `json:"brokerOrderId,omitempty"`
	FailureReason     string `json:"failureReason,omitempty"`

	PlacedAt  *time.Time `json:"placedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// ComputeNotional refreshes the cached notional value from price and quantity.
func (t *TradeIntent) ComputeNotional() {
	if t.Price > 0 && t.Quantity > 0 {
		t.Notional = t.Price * float64(t.Quantity)
	}
}

// ListOption configures optional parameters for list queries.
type ListOption func(*listOpts)

type listOpts struct {
	cursor *pagination.Cursor
}

func applyListOpts(opts []ListOption) listOpts {
	var o listOpts
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithCursor filters results to intents after the given cursor position.
// Malformed cursors are ignored and the list starts from the beginning.
func WithCursor(cursor string) ListOption {
	return func(o *listOpts) {
		c, err := pagination.Decode(cursor)
		if err == nil {
			o.cursor = c
		}
	}
}

// Store persists trade intents. IdempotencyKey carries a unique constraint;
// Create must return ErrDuplicateKey on a repeat submission.
type Store interface {
	Create(ctx context.Context, t *TradeIntent) error
	Get(ctx context.Context, id string) (*TradeIntent, error)
	Update(ctx context.Context, t *TradeIntent) error
	ListByAgent(ctx context.Context, agentID string, limit int, opts ...ListOption) ([]*TradeIntent, error)
	GetByApprovalRequest(ctx context.Context, approvalRequestID string) (*TradeIntent, error)
}
