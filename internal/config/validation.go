package config

import (
	"fmt"
	"strings"
)

// validate runs basic sanity checks after defaults are applied.
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Gateway.validate(); err != nil {
		return err
	}
	if err := c.Connection.validate(); err != nil {
		return err
	}
	if err := c.Execution.validate(); err != nil {
		return err
	}
	if err := c.Instrument.validate(); err != nil {
		return err
	}
	if err := c.Reconcile.validate(); err != nil {
		return err
	}
	if err := c.Audit.validate(); err != nil {
		return err
	}
	switch c.Gateway.Venue {
	case "binance":
		if err := c.Binance.validate(); err != nil {
			return err
		}
	case "sim":
		if err := c.Sim.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch a.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level only supports debug/info/warn/error, got %s", a.LogLevel)
	}
	return nil
}

func (g *GatewayConfig) validate() error {
	switch g.Venue {
	case "sim", "binance":
	default:
		return fmt.Errorf("gateway.venue only supports sim or binance, got %s", g.Venue)
	}
	if strings.TrimSpace(g.Host) == "" {
		return fmt.Errorf("gateway.host cannot be empty")
	}
	if g.Port < 1 || g.Port > 65535 {
		return fmt.Errorf("gateway.port must be in [1,65535]")
	}
	if strings.TrimSpace(g.SessionID) == "" {
		return fmt.Errorf("gateway.session_id cannot be empty")
	}
	return nil
}

func (n *ConnectionConfig) validate() error {
	if n.ConnectTimeoutSeconds <= 0 {
		return fmt.Errorf("connection.connect_timeout_seconds must be > 0")
	}
	if n.MaxAttempts < 1 {
		return fmt.Errorf("connection.max_attempts must be >= 1")
	}
	if n.BackoffBaseSeconds <= 0 {
		return fmt.Errorf("connection.backoff_base_seconds must be > 0")
	}
	if n.BackoffCeilingSeconds < n.BackoffBaseSeconds {
		return fmt.Errorf("connection.backoff_ceiling_seconds must be >= backoff_base_seconds")
	}
	return nil
}

func (e *ExecutionConfig) validate() error {
	if e.DedupWindowSeconds < 0 {
		return fmt.Errorf("execution.dedup_window_seconds must be >= 0")
	}
	if e.AckTimeoutSeconds <= 0 {
		return fmt.Errorf("execution.ack_timeout_seconds must be > 0")
	}
	if e.RetryInitialSeconds <= 0 {
		return fmt.Errorf("execution.retry_initial_seconds must be > 0")
	}
	if e.RetryMultiplier < 1 {
		return fmt.Errorf("execution.retry_multiplier must be >= 1")
	}
	if e.RetryCeilingSeconds < e.RetryInitialSeconds {
		return fmt.Errorf("execution.retry_ceiling_seconds must be >= retry_initial_seconds")
	}
	return nil
}

func (i *InstrumentConfig) validate() error {
	if strings.TrimSpace(i.Path) == "" {
		return fmt.Errorf("instruments.path cannot be empty")
	}
	return nil
}

func (r *ReconcileConfig) validate() error {
	if !r.Enabled {
		return nil
	}
	if r.OffsetSeconds < 0 || r.OffsetSeconds >= 86400 {
		return fmt.Errorf("reconcile.offset_seconds must be in [0,86400)")
	}
	if r.PriceTolerance < 0 {
		return fmt.Errorf("reconcile.price_tolerance must be >= 0")
	}
	if r.CommissionTolerance < 0 {
		return fmt.Errorf("reconcile.commission_tolerance must be >= 0")
	}
	if r.MaxParallelDays < 1 {
		return fmt.Errorf("reconcile.max_parallel_days must be >= 1")
	}
	return nil
}

func (a *AuditConfig) validate() error {
	if strings.TrimSpace(a.JournalPath) == "" {
		return fmt.Errorf("audit.journal_path cannot be empty")
	}
	if strings.TrimSpace(a.ReportLogPath) == "" {
		return fmt.Errorf("audit.report_log_path cannot be empty")
	}
	return nil
}

func (b *BinanceConfig) validate() error {
	if strings.TrimSpace(b.APIKey) == "" || strings.TrimSpace(b.SecretKey) == "" {
		return fmt.Errorf("binance venue requires api_key and secret_key")
	}
	if strings.TrimSpace(b.RESTBaseURL) == "" {
		return fmt.Errorf("binance.rest_base_url cannot be empty")
	}
	if b.TimeoutSeconds <= 0 {
		return fmt.Errorf("binance.timeout_seconds must be > 0")
	}
	if len(b.Symbols) == 0 {
		return fmt.Errorf("binance.symbols requires at least one symbol")
	}
	// Listen keys expire after 60 idle minutes, so the keepalive must
	// fire well inside that window.
	if b.KeepAliveMinutes < 1 || b.KeepAliveMinutes > 55 {
		return fmt.Errorf("binance.keepalive_minutes must be in [1,55]")
	}
	if b.Proxy.Enabled && b.Proxy.RESTURL == "" && b.Proxy.WSURL == "" {
		return fmt.Errorf("binance has proxy enabled but no rest_url or ws_url")
	}
	return nil
}

func (s *SimConfig) validate() error {
	if s.Embedded && strings.TrimSpace(s.ListenAddr) == "" {
		return fmt.Errorf("sim.listen_addr cannot be empty when sim.embedded is true")
	}
	if s.CommissionPerShare < 0 {
		return fmt.Errorf("sim.commission_per_share must be >= 0")
	}
	if s.CommissionMinimum < 0 {
		return fmt.Errorf("sim.commission_minimum must be >= 0")
	}
	for sym, px := range s.Prices {
		if px <= 0 {
			return fmt.Errorf("sim.prices.%s must be > 0", sym)
		}
	}
	return nil
}
