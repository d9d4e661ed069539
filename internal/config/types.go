package config

import "strings"

// Config is the daemon's top-level configuration.
type Config struct {
	App        AppConfig        `toml:"app"`
	Gateway    GatewayConfig    `toml:"gateway"`
	Connection ConnectionConfig `toml:"connection"`
	Execution  ExecutionConfig  `toml:"execution"`
	Instrument InstrumentConfig `toml:"instruments"`
	Reconcile  ReconcileConfig  `toml:"reconcile"`
	Audit      AuditConfig      `toml:"audit"`
	Binance    BinanceConfig    `toml:"binance"`
	Sim        SimConfig        `toml:"sim"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	WireLog  string `toml:"wire_log_path"`
	WireDump bool   `toml:"wire_dump_frames"`
}

// GatewayConfig selects the venue adapter and the session coordinates
// the supervisor dials with.
type GatewayConfig struct {
	Venue     string `toml:"venue"` // "sim" | "binance"
	Host      string `toml:"host"`
	Port      int    `toml:"port"`
	SessionID string `toml:"session_id"`
	Account   string `toml:"account"`
}

type ConnectionConfig struct {
	ConnectTimeoutSeconds int  `toml:"connect_timeout_seconds"`
	MaxAttempts           int  `toml:"max_attempts"`
	BackoffBaseSeconds    int  `toml:"backoff_base_seconds"`
	BackoffCeilingSeconds int  `toml:"backoff_ceiling_seconds"`
	AutoReconnect         bool `toml:"auto_reconnect"`
}

type ExecutionConfig struct {
	DedupWindowSeconds  int     `toml:"dedup_window_seconds"`
	AckTimeoutSeconds   int     `toml:"ack_timeout_seconds"`
	RetryInitialSeconds int     `toml:"retry_initial_seconds"`
	RetryMultiplier     float64 `toml:"retry_multiplier"`
	RetryCeilingSeconds int     `toml:"retry_ceiling_seconds"`
}

type InstrumentConfig struct {
	Path string `toml:"path"`
}

type ReconcileConfig struct {
	Enabled             bool    `toml:"enabled"`
	OffsetSeconds       int     `toml:"offset_seconds"`
	PriceTolerance      float64 `toml:"price_tolerance"`
	CommissionTolerance float64 `toml:"commission_tolerance"`
	MaxParallelDays     int     `toml:"max_parallel_days"`
}

type AuditConfig struct {
	JournalPath   string `toml:"journal_path"`
	ReportLogPath string `toml:"report_log_path"`
}

// BinanceConfig is read when gateway.venue is "binance".
type BinanceConfig struct {
	APIKey           string      `toml:"api_key"`
	SecretKey        string      `toml:"secret_key"`
	RESTBaseURL      string      `toml:"rest_base_url"`
	TimeoutSeconds   int         `toml:"timeout_seconds"`
	Proxy            ProxyConfig `toml:"proxy"`
	Symbols          []string    `toml:"symbols"`
	KeepAliveMinutes int         `toml:"keepalive_minutes"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
	WSURL   string `toml:"ws_url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.RESTURL = strings.TrimSpace(p.RESTURL)
	p.WSURL = strings.TrimSpace(p.WSURL)
}

// SimConfig is read when gateway.venue is "sim". Embedded starts the
// venue in-process on ListenAddr; the gateway section then dials it.
type SimConfig struct {
	Embedded           bool               `toml:"embedded"`
	ListenAddr         string             `toml:"listen_addr"`
	Prices             map[string]float64 `toml:"prices"`
	CommissionPerShare float64            `toml:"commission_per_share"`
	CommissionMinimum  float64            `toml:"commission_minimum"`
}

// keySet tracks the field paths a config file set explicitly, so
// defaults never clobber a deliberate zero.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault is one field's defaulting rule.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
