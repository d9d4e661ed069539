// Package gateway defines the contract between the execution core and a
// brokerage/exchange session. Implementations live in subpackages
// (binance, sim); the core only ever sees this interface.
package gateway

import (
	"context"
	"time"
)

// Adapter is one venue session. Connect/Disconnect bracket a session;
// Events returns the feed for the current session and is closed when
// that session ends, solicited or not. Submit blocks until the venue
// acknowledges (bounded by ctx) and returns the venue's order id.
// QueryFills is read-only and safe to call outside a session on venues
// that serve history over REST.
type Adapter interface {
	Name() string
	Connect(ctx context.Context, sess SessionConfig) error
	Disconnect() error
	Submit(ctx context.Context, req OrderRequest) (string, error)
	Events() <-chan Event
	QueryFills(ctx context.Context, from, to time.Time) ([]VenueFill, error)
}

// SessionConfig carries the session coordinates the supervisor dials
// with. Venue-specific credentials are configured on the adapter itself.
type SessionConfig struct {
	Host      string
	Port      int
	SessionID string
}
