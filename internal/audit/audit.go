// Package audit defines the structured event stream the execution core
// emits: every order transition, every connection transition and every
// reconciliation report passes through a Recorder. Recorder failures are
// the emitter's problem to log; they never propagate into trading paths.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindOrderStatus Kind = "order_status"
	KindOrderFill   Kind = "order_fill"
	KindOrderError  Kind = "order_error"
	KindConnState   Kind = "connection_state"
	KindReconReport Kind = "reconciliation_report"
)

// Event is one audit entry. From/To hold the transition endpoints for
// status and connection events; Payload carries the full object (fill,
// record snapshot, report) and is marshaled to JSON by persistent sinks.
type Event struct {
	ID             string    `json:"id"`
	Kind           Kind      `json:"kind"`
	At             time.Time `json:"at"`
	OrderID        string    `json:"order_id,omitempty"`
	GatewayOrderID string    `json:"gateway_order_id,omitempty"`
	Symbol         string    `json:"symbol,omitempty"`
	From           string    `json:"from,omitempty"`
	To             string    `json:"to,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	Payload        any       `json:"payload,omitempty"`
}

// NewEvent stamps id and time; callers fill the rest.
func NewEvent(kind Kind) Event {
	return Event{
		ID:   uuid.NewString(),
		Kind: kind,
		At:   time.Now().UTC(),
	}
}

// Recorder receives audit events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}
