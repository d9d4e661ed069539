package order

import "errors"

var (
	// ErrNotConnected means no active gateway session; retry after reconnect.
	ErrNotConnected = errors.New("gateway not connected")
	// ErrDuplicateOrder means the submission collides with an earlier one
	// inside the dedup window.
	ErrDuplicateOrder = errors.New("duplicate order inside dedup window")
	// ErrInvalidOrder means the request itself is malformed.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrOrderRejected means the gateway (or pre-submission validation)
	// refused the order; resubmitting unchanged parameters will fail again.
	ErrOrderRejected = errors.New("order rejected")
	// ErrAckTimeout means the acknowledgement deadline passed with the
	// outcome unknown; the caller should query the record before acting.
	ErrAckTimeout = errors.New("order acknowledgement timed out")
	// ErrUnknownOrder means no ledger record exists for the given id.
	ErrUnknownOrder = errors.New("unknown order id")
)
