package config

import "strings"

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppLogPath  = "/data/logs/tradecore-live.log"
	defaultAppWireLog  = "/data/logs/tradecore-wire.log"

	defaultGatewayVenue   = "sim"
	defaultGatewayHost    = "127.0.0.1"
	defaultGatewayPort    = 9701
	defaultGatewaySession = "tradecore-1"

	defaultConnectTimeout   = 10
	defaultConnectAttempts  = 5
	defaultBackoffBase      = 1
	defaultBackoffCeiling   = 60
	defaultDedupWindow      = 60
	defaultAckTimeout       = 5
	defaultRetryInitial     = 1
	defaultRetryMultiplier  = 2.0
	defaultRetryCeiling     = 300
	defaultInstrumentsPath  = "configs/instruments.yaml"
	defaultReconcileOffset  = 300
	defaultTolerance        = 0.01
	defaultParallelDays     = 2
	defaultJournalPath      = "/data/live/audit.db"
	defaultReportLogPath    = "/data/live/reports.db"
	defaultBinanceREST      = "https://fapi.binance.com"
	defaultBinanceTimeout   = 15
	defaultBinanceKeepAlive = 25
	defaultSimListenAddr    = "127.0.0.1:9701"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Gateway.applyDefaults(keys)
	c.Connection.applyDefaults(keys)
	c.Execution.applyDefaults(keys)
	c.Instrument.applyDefaults(keys)
	c.Reconcile.applyDefaults(keys)
	c.Audit.applyDefaults(keys)
	c.Binance.applyDefaults(keys)
	c.Sim.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.wire_log_path", &a.WireLog, defaultAppWireLog),
	)
}

func (g *GatewayConfig) applyDefaults(keys keySet) {
	if g == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("gateway.venue", &g.Venue, defaultGatewayVenue),
		stringFieldDefault("gateway.host", &g.Host, defaultGatewayHost),
		stringFieldDefault("gateway.session_id", &g.SessionID, defaultGatewaySession),
		fieldDefault{
			key:   "gateway.port",
			need:  func() bool { return g.Port <= 0 },
			apply: func() { g.Port = defaultGatewayPort },
		},
	)
	g.Venue = strings.ToLower(strings.TrimSpace(g.Venue))
}

func (c *ConnectionConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("connection.auto_reconnect", &c.AutoReconnect, true),
		fieldDefault{
			key:   "connection.connect_timeout_seconds",
			need:  func() bool { return c.ConnectTimeoutSeconds <= 0 },
			apply: func() { c.ConnectTimeoutSeconds = defaultConnectTimeout },
		},
		fieldDefault{
			key:   "connection.max_attempts",
			need:  func() bool { return c.MaxAttempts <= 0 },
			apply: func() { c.MaxAttempts = defaultConnectAttempts },
		},
		fieldDefault{
			key:   "connection.backoff_base_seconds",
			need:  func() bool { return c.BackoffBaseSeconds <= 0 },
			apply: func() { c.BackoffBaseSeconds = defaultBackoffBase },
		},
		fieldDefault{
			key:   "connection.backoff_ceiling_seconds",
			need:  func() bool { return c.BackoffCeilingSeconds <= 0 },
			apply: func() { c.BackoffCeilingSeconds = defaultBackoffCeiling },
		},
	)
}

func (e *ExecutionConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "execution.dedup_window_seconds",
			need:  func() bool { return e.DedupWindowSeconds <= 0 },
			apply: func() { e.DedupWindowSeconds = defaultDedupWindow },
		},
		fieldDefault{
			key:   "execution.ack_timeout_seconds",
			need:  func() bool { return e.AckTimeoutSeconds <= 0 },
			apply: func() { e.AckTimeoutSeconds = defaultAckTimeout },
		},
		fieldDefault{
			key:   "execution.retry_initial_seconds",
			need:  func() bool { return e.RetryInitialSeconds <= 0 },
			apply: func() { e.RetryInitialSeconds = defaultRetryInitial },
		},
		fieldDefault{
			key:   "execution.retry_multiplier",
			need:  func() bool { return e.RetryMultiplier <= 1 },
			apply: func() { e.RetryMultiplier = defaultRetryMultiplier },
		},
		fieldDefault{
			key:   "execution.retry_ceiling_seconds",
			need:  func() bool { return e.RetryCeilingSeconds <= 0 },
			apply: func() { e.RetryCeilingSeconds = defaultRetryCeiling },
		},
	)
}

func (i *InstrumentConfig) applyDefaults(keys keySet) {
	if i == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("instruments.path", &i.Path, defaultInstrumentsPath),
	)
}

func (r *ReconcileConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("reconcile.enabled", &r.Enabled, true),
		fieldDefault{
			key:   "reconcile.offset_seconds",
			need:  func() bool { return r.OffsetSeconds <= 0 },
			apply: func() { r.OffsetSeconds = defaultReconcileOffset },
		},
		fieldDefault{
			key:   "reconcile.price_tolerance",
			need:  func() bool { return r.PriceTolerance <= 0 },
			apply: func() { r.PriceTolerance = defaultTolerance },
		},
		fieldDefault{
			key:   "reconcile.commission_tolerance",
			need:  func() bool { return r.CommissionTolerance <= 0 },
			apply: func() { r.CommissionTolerance = defaultTolerance },
		},
		fieldDefault{
			key:   "reconcile.max_parallel_days",
			need:  func() bool { return r.MaxParallelDays <= 0 },
			apply: func() { r.MaxParallelDays = defaultParallelDays },
		},
	)
}

func (a *AuditConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("audit.journal_path", &a.JournalPath, defaultJournalPath),
		stringFieldDefault("audit.report_log_path", &a.ReportLogPath, defaultReportLogPath),
	)
}

func (b *BinanceConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	b.Proxy.normalize()
	applyFieldDefaults(keys,
		stringFieldDefault("binance.rest_base_url", &b.RESTBaseURL, defaultBinanceREST),
		fieldDefault{
			key:   "binance.timeout_seconds",
			need:  func() bool { return b.TimeoutSeconds <= 0 },
			apply: func() { b.TimeoutSeconds = defaultBinanceTimeout },
		},
		fieldDefault{
			key:   "binance.keepalive_minutes",
			need:  func() bool { return b.KeepAliveMinutes <= 0 },
			apply: func() { b.KeepAliveMinutes = defaultBinanceKeepAlive },
		},
	)
	b.Symbols = normalizeSymbolList(b.Symbols)
}

func (s *SimConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("sim.embedded", &s.Embedded, true),
		stringFieldDefault("sim.listen_addr", &s.ListenAddr, defaultSimListenAddr),
	)
	if s.CommissionPerShare < 0 {
		s.CommissionPerShare = 0
	}
	if s.CommissionMinimum < 0 {
		s.CommissionMinimum = 0
	}
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func normalizeSymbolList(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	out := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
