package app

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"tradecore/internal/audit"
	"tradecore/internal/audit/journal"
	"tradecore/internal/audit/reportlog"
	"tradecore/internal/config"
	"tradecore/internal/conn"
	"tradecore/internal/execution"
	"tradecore/internal/gateway"
	"tradecore/internal/gateway/binance"
	"tradecore/internal/gateway/sim"
	"tradecore/internal/instrument"
	"tradecore/internal/logger"
	"tradecore/internal/reconcile"
)

// AppBuilder assembles an App from config. The build functions are
// swappable so tests can stub the expensive pieces.
type AppBuilder struct {
	cfg *config.Config

	adapterFn  func(*config.Config) (gateway.Adapter, error)
	registryFn func(string) (*instrument.Registry, error)
	journalFn  func(string) (*journal.Store, error)
	reportsFn  func(string) (*reportlog.Store, error)

	recorderOverride audit.Recorder
}

type AppBuilderOption func(*AppBuilder)

// WithRecorder replaces the journal-backed audit recorder.
func WithRecorder(rec audit.Recorder) AppBuilderOption {
	return func(b *AppBuilder) { b.recorderOverride = rec }
}

// WithAdapter replaces the venue adapter selection.
func WithAdapter(fn func(*config.Config) (gateway.Adapter, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.adapterFn = fn }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		adapterFn:  buildAdapter,
		registryFn: instrument.NewRegistry,
		journalFn:  journal.Open,
		reportsFn:  reportlog.Open,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	registry, err := b.registryFn(cfg.Instrument.Path)
	if err != nil {
		return nil, fmt.Errorf("load instrument registry: %w", err)
	}
	snap := registry.Snapshot()
	logger.Infof("[app] loaded %d instruments from %s", len(snap.Instruments), cfg.Instrument.Path)

	jnl, err := b.journalFn(cfg.Audit.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("open audit journal: %w", err)
	}
	reports, err := b.reportsFn(cfg.Audit.ReportLogPath)
	if err != nil {
		jnl.Close()
		return nil, fmt.Errorf("open report log: %w", err)
	}
	rec := audit.Recorder(jnl)
	if b.recorderOverride != nil {
		rec = b.recorderOverride
	}

	sess := gateway.SessionConfig{
		Host:      cfg.Gateway.Host,
		Port:      cfg.Gateway.Port,
		SessionID: cfg.Gateway.SessionID,
	}

	var simServer *sim.Server
	if cfg.Gateway.Venue == "sim" && cfg.Sim.Embedded {
		simServer, err = startEmbeddedVenue(cfg, registry)
		if err != nil {
			jnl.Close()
			reports.Close()
			return nil, err
		}
		// The daemon dials its own venue; the configured host and port
		// apply to external venues only.
		sess.Host = listenHost(cfg.Sim.ListenAddr)
		sess.Port = simServer.Port()
		logger.Infof("[app] embedded sim venue listening on %s:%d", sess.Host, sess.Port)
	}

	adapter, err := b.adapterFn(cfg)
	if err != nil {
		jnl.Close()
		reports.Close()
		if simServer != nil {
			simServer.Close()
		}
		return nil, fmt.Errorf("build gateway adapter: %w", err)
	}

	cc := cfg.Connection
	connCfg := conn.DefaultConfig(sess)
	connCfg.ConnectTimeout = time.Duration(cc.ConnectTimeoutSeconds) * time.Second
	connCfg.MaxAttempts = cc.MaxAttempts
	connCfg.BackoffBase = time.Duration(cc.BackoffBaseSeconds) * time.Second
	connCfg.BackoffCeiling = time.Duration(cc.BackoffCeilingSeconds) * time.Second
	connCfg.AutoReconnect = cc.AutoReconnect
	sup := conn.New(adapter, connCfg, rec)

	ec := cfg.Execution
	eng := execution.New(adapter, sup, execution.Config{
		DedupWindow:     time.Duration(ec.DedupWindowSeconds) * time.Second,
		AckTimeout:      time.Duration(ec.AckTimeoutSeconds) * time.Second,
		RetryInitial:    time.Duration(ec.RetryInitialSeconds) * time.Second,
		RetryMultiplier: ec.RetryMultiplier,
		RetryCeiling:    time.Duration(ec.RetryCeilingSeconds) * time.Second,
	}, rec)
	eng.SetValidator(registry)
	sup.SetSink(eng)

	var reconciler *reconcile.Reconciler
	if cfg.Reconcile.Enabled {
		reconciler = reconcile.New(eng, adapter, reconcile.Config{
			Tolerances: reconcile.Tolerances{
				Price:      cfg.Reconcile.PriceTolerance,
				Commission: cfg.Reconcile.CommissionTolerance,
			},
			MaxParallelDays: cfg.Reconcile.MaxParallelDays,
		}, rec)
	}

	return &App{
		cfg:        cfg,
		sup:        sup,
		engine:     eng,
		reconciler: reconciler,
		registry:   registry,
		journal:    jnl,
		reports:    reports,
		simServer:  simServer,
		recOffset:  time.Duration(cfg.Reconcile.OffsetSeconds) * time.Second,
		Summary:    buildSummary(cfg, sess, snap, simServer != nil),
	}, nil
}

func buildAdapter(cfg *config.Config) (gateway.Adapter, error) {
	switch cfg.Gateway.Venue {
	case "sim":
		return sim.NewClient(), nil
	case "binance":
		bc := cfg.Binance
		return binance.New(binance.Config{
			APIKey:            bc.APIKey,
			SecretKey:         bc.SecretKey,
			RESTBaseURL:       bc.RESTBaseURL,
			HTTPTimeout:       time.Duration(bc.TimeoutSeconds) * time.Second,
			ProxyEnabled:      bc.Proxy.Enabled,
			RESTProxyURL:      bc.Proxy.RESTURL,
			WSProxyURL:        bc.Proxy.WSURL,
			Symbols:           bc.Symbols,
			KeepAliveInterval: time.Duration(bc.KeepAliveMinutes) * time.Minute,
		})
	default:
		return nil, fmt.Errorf("unknown gateway venue %q", cfg.Gateway.Venue)
	}
}

func startEmbeddedVenue(cfg *config.Config, registry *instrument.Registry) (*sim.Server, error) {
	venue := sim.NewVenue(sim.VenueConfig{
		Registry: registry,
		Commission: instrument.Commission{
			PerShare: cfg.Sim.CommissionPerShare,
			Minimum:  cfg.Sim.CommissionMinimum,
		},
	})
	for symbol, price := range cfg.Sim.Prices {
		venue.SetPrice(symbol, price)
	}
	srv := sim.NewServer(venue)
	if err := srv.Start(cfg.Sim.ListenAddr); err != nil {
		return nil, fmt.Errorf("start embedded venue: %w", err)
	}
	return srv, nil
}

func listenHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return "127.0.0.1"
	}
	return host
}

func buildSummary(cfg *config.Config, sess gateway.SessionConfig, snap instrument.Snapshot, embedded bool) *StartupSummary {
	symbols := make([]string, 0, len(snap.Instruments))
	for sym := range snap.Instruments {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return &StartupSummary{
		Env:      cfg.App.Env,
		Venue:    cfg.Gateway.Venue,
		Session:  fmt.Sprintf("%s@%s:%d", sess.SessionID, sess.Host, sess.Port),
		Embedded: embedded,
		Symbols:  symbols,
		Connection: ConnectionSummary{
			MaxAttempts:    cfg.Connection.MaxAttempts,
			BackoffBase:    time.Duration(cfg.Connection.BackoffBaseSeconds) * time.Second,
			BackoffCeiling: time.Duration(cfg.Connection.BackoffCeilingSeconds) * time.Second,
			AutoReconnect:  cfg.Connection.AutoReconnect,
		},
		Execution: ExecutionSummary{
			AckTimeout:  time.Duration(cfg.Execution.AckTimeoutSeconds) * time.Second,
			DedupWindow: time.Duration(cfg.Execution.DedupWindowSeconds) * time.Second,
		},
		Reconcile: ReconcileSummary{
			Enabled:             cfg.Reconcile.Enabled,
			Offset:              time.Duration(cfg.Reconcile.OffsetSeconds) * time.Second,
			PriceTolerance:      cfg.Reconcile.PriceTolerance,
			CommissionTolerance: cfg.Reconcile.CommissionTolerance,
		},
		JournalPath:   cfg.Audit.JournalPath,
		ReportLogPath: cfg.Audit.ReportLogPath,
	}
}

type appBuilderDeps interface {
	Build(context.Context) (*App, error)
}

func provideAppFromBuilder(b appBuilderDeps, ctx context.Context) (*App, error) {
	return b.Build(ctx)
}

func provideAppBuilder(cfg *config.Config) *AppBuilder {
	return NewAppBuilder(cfg)
}
