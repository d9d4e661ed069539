package conn

import "errors"

var (
	// ErrConnectInProgress means another Connect cycle is already running.
	ErrConnectInProgress = errors.New("connect already in progress")
	// ErrAborted means Disconnect (or context cancellation) stopped a
	// connect cycle before it finished.
	ErrAborted = errors.New("connect aborted")
	// ErrExhausted means every allowed attempt failed; the supervisor is
	// in FAILED until an explicit Connect.
	ErrExhausted = errors.New("connection attempts exhausted")
	// ErrSessionLost is the reason handed to disconnect handlers when the
	// gateway feed ends without a solicited disconnect.
	ErrSessionLost = errors.New("gateway session lost")
)
