package gateway

import (
	"time"

	"tradecore/internal/order"
)

// OrderRequest is the submission handed to a venue. ClientOrderID is the
// ledger record id; venues that support client-assigned ids echo it back
// on events so executions can be correlated even before the ack lands.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          order.Side
	Kind          order.Kind
	Quantity      float64
	LimitPrice    float64
	Account       string
}

// EventType discriminates the session feed.
type EventType string

const (
	// EventFill carries one execution for an order.
	EventFill EventType = "FILL"
	// EventStatus carries a venue-driven status change (e.g. a cancel).
	EventStatus EventType = "ORDER_STATUS"
	// EventError carries a venue error for a specific order.
	EventError EventType = "ORDER_ERROR"
	// EventDisconnect signals the session dropped; the feed closes after.
	EventDisconnect EventType = "DISCONNECT"
)

// Event is one message on the session feed. GatewayOrderID identifies
// the order at the venue; ClientOrderID is set when the venue echoes it.
type Event struct {
	Type           EventType
	GatewayOrderID string
	ClientOrderID  string
	Status         order.Status
	Fill           *order.Fill
	Reason         string
	At             time.Time
}

// VenueFill is one execution row from the venue's own records, the shape
// reconciliation consumes.
type VenueFill struct {
	GatewayOrderID string
	ExecID         string
	Symbol         string
	Side           order.Side
	Quantity       float64
	Price          float64
	Commission     float64
	At             time.Time
}
