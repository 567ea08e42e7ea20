// Package broker places orders with the Zerodha Kite trading API.
package broker

import (
	"context"
	"errors"
)

var ErrOrderRejected = errors.New("broker rejected the order")

// Order is a broker-ready order request.
type Order struct {
	Reference    string // internal intent id, used for simulated order ids
	Exchange     string
	Symbol       string
	Side         string
	Quantity     int
	OrderType    string
	Product      string
	Price        float64
	TriggerPrice float64
}

// Placement is the broker's answer to a placed order.
type Placement struct {
	OrderID   string `json:"orderId"`
	Simulated bool   `json:"simulated"`
}

// Broker places orders on an exchange.
type Broker interface {
	PlaceOrder(ctx context.Context, o Order) (*Placement, error)
}
