package conn

import "time"

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultMaxAttempts    = 5
	DefaultBackoffBase    = time.Second
	DefaultBackoffCeiling = 60 * time.Second
)

// Delay returns the wait after failed attempt number `attempt` (0-based):
// base doubled per attempt, capped at ceiling. With the defaults the
// sequence runs 1s, 2s, 4s, 8s, ...
func Delay(base, ceiling time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if ceiling <= 0 {
		ceiling = DefaultBackoffCeiling
	}
	if attempt < 0 {
		attempt = 0
	}
	// shift past 30 would overflow; the ceiling applies long before that
	if attempt > 30 {
		return ceiling
	}
	d := base << uint(attempt)
	if d > ceiling || d <= 0 {
		return ceiling
	}
	return d
}
