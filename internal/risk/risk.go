// Package risk evaluates trade intents against per-owner risk policies.
package risk

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPolicyNotFound = errors.New("risk policy not found")
	ErrDuplicateName  = errors.New("risk policy name already in use for owner")
)

// Policy constrains what an agent is allowed to trade.
type Policy struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	Name    string `json:"name"`

	MaxOrderNotional    float64 `json:"maxOrderNotional"`
	MaxPositionNotional float64 `json:"maxPositionNotional"`
	MaxDailyLoss        float64 `json:"maxDailyLoss"`
	MaxOrdersPerDay     int     `json:"maxOrdersPerDay"`

	AllowedSymbols     []string `json:"allowedSymbols,omitempty"`
	RequireMarketHours bool     `json:"requireMarketHours"`
	AllowShorting      bool     `json:"allowShorting"`
	IsDefault          bool     `json:"isDefault"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AllowsSymbol reports whether the policy's allow-list admits the symbol.
// An empty allow-list admits everything.
func (p *Policy) AllowsSymbol(symbol string) bool {
	if len(p.AllowedSymbols) == 0 {
		return true
	}
	for _, s := range p.AllowedSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Store persists risk policies.
type Store interface {
	Create(ctx context.Context, p *Policy) error
	Get(ctx context.Context, id string) (*Policy, error)
	Update(ctx context.Context, p *Policy) error
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Policy, error)
}
