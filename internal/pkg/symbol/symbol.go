// Package symbol converts between the ledger's BASE/QUOTE pair form
// and venue-native symbol formats.
package symbol

import "strings"

// Pair is a parsed instrument pair. The zero value means the input was
// not recognizable as a pair.
type Pair struct {
	Base  string
	Quote string
}

// quotes lists the quote assets recognized when a venue symbol carries
// no separator.
var quotes = []string{"USDT", "USDC", "BUSD", "BTC", "ETH", "BNB"}

// Parse accepts "btc/usdt", "BTCUSDT" or "BTC/USDT:USDT" and returns
// the pair. Unrecognized input yields the zero Pair.
func Parse(s string) Pair {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Pair{}
	}
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}
	if base, quote, ok := strings.Cut(s, "/"); ok {
		return Pair{Base: strings.TrimSpace(base), Quote: strings.TrimSpace(quote)}
	}
	for _, q := range quotes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return Pair{Base: s[:len(s)-len(q)], Quote: q}
		}
	}
	return Pair{}
}

// Internal renders the ledger form, "BTC/USDT".
func (p Pair) Internal() string {
	if p.Base == "" || p.Quote == "" {
		return ""
	}
	return p.Base + "/" + p.Quote
}

// Binance renders the exchange form, "BTCUSDT".
func (p Pair) Binance() string {
	if p.Base == "" || p.Quote == "" {
		return ""
	}
	return p.Base + p.Quote
}

// Normalize rewrites any accepted form to the ledger form, or empty
// when the input is not a pair.
func Normalize(s string) string {
	return Parse(s).Internal()
}
