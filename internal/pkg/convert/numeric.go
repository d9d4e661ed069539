// Package convert coerces loosely typed venue payload values into
// concrete numeric types.
package convert

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ToFloat64 reads v as a float64. Venue SDKs surface quantities as
// strings or json.Number depending on the endpoint; parse failures and
// unknown types come back as 0.
func ToFloat64(v any) float64 {
	switch t := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f
	case json.Number:
		f, _ := t.Float64()
		return f
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	default:
		return 0
	}
}
