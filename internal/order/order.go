// Package order holds the domain types shared by the execution engine,
// the gateway adapters and the reconciliation engine: order requests,
// ledger records, fills and the status lifecycle.
package order

import (
	"fmt"
	"strings"
	"time"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Kind is the order type understood by the gateway.
type Kind string

const (
	KindMarket Kind = "MARKET"
	KindLimit  Kind = "LIMIT"
)

func (k Kind) Valid() bool {
	return k == KindMarket || k == KindLimit
}

// Order is a caller's submission request. Quantity is in instrument units;
// LimitPrice is required for limit orders and ignored for market orders.
type Order struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Kind       Kind    `json:"kind"`
	Quantity   float64 `json:"quantity"`
	LimitPrice float64 `json:"limit_price,omitempty"`
	Account    string  `json:"account,omitempty"`
}

func (o Order) Validate() error {
	if strings.TrimSpace(o.Symbol) == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidOrder)
	}
	if !o.Side.Valid() {
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, string(o.Side))
	}
	if !o.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", ErrInvalidOrder, string(o.Kind))
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity %v", ErrInvalidOrder, o.Quantity)
	}
	if o.Kind == KindLimit && o.LimitPrice <= 0 {
		return fmt.Errorf("%w: limit order without limit price", ErrInvalidOrder)
	}
	return nil
}

// Fill is one execution reported by the gateway for an order.
type Fill struct {
	ExecID     string    `json:"exec_id,omitempty"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	At         time.Time `json:"at"`
}
