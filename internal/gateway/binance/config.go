package binance

import (
	"strings"
	"time"
)

type Config struct {
	APIKey    string
	SecretKey string

	RESTBaseURL string
	HTTPTimeout time.Duration

	ProxyEnabled bool
	RESTProxyURL string
	WSProxyURL   string

	// Symbols is the trade universe QueryFills walks; the userTrades
	// endpoint is per-symbol.
	Symbols []string

	// KeepAliveInterval paces the listen-key refresh. Binance expires
	// idle keys after 60 minutes.
	KeepAliveInterval time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	if out.KeepAliveInterval <= 0 {
		out.KeepAliveInterval = 25 * time.Minute
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	out.WSProxyURL = strings.TrimSpace(out.WSProxyURL)
	symbols := make([]string, 0, len(out.Symbols))
	for _, sym := range out.Symbols {
		if s := strings.TrimSpace(sym); s != "" {
			symbols = append(symbols, s)
		}
	}
	out.Symbols = symbols
	return out
}
