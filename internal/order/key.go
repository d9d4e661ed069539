package order

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultDedupWindow is the idempotency window for repeated submissions.
const DefaultDedupWindow = 60 * time.Second

// DedupKey derives the idempotency key for a submission: symbol, side,
// quantity and the submission time truncated to the window. Two
// submissions with the same parameters landing in the same window bucket
// produce the same key.
func DedupKey(o Order, at time.Time, window time.Duration) string {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	bucket := at.UTC().Truncate(window)
	return fmt.Sprintf("%s|%s|%s|%d",
		strings.ToUpper(strings.TrimSpace(o.Symbol)),
		o.Side,
		strconv.FormatFloat(o.Quantity, 'f', -1, 64),
		bucket.Unix(),
	)
}
