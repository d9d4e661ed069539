// Package binance adapts a Binance USDT-M futures account to the
// gateway contract: orders go out over REST, executions come back on
// the user-data websocket, and fill history is read from userTrades.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"tradecore/internal/gateway"
	"tradecore/internal/logger"
	symbolpkg "tradecore/internal/pkg/symbol"
)

const (
	eventBuffer    = 256
	maxTradesLimit = 1000
)

// Stats counts stream-level trouble for operators; the supervisor owns
// the reconnect policy itself.
type Stats struct {
	StreamErrors int
	SessionsLost int
	LastError    string
}

type userSession struct {
	listenKey string
	events    chan gateway.Event
	stopC     chan struct{}
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (us *userSession) stop() {
	us.closeOnce.Do(func() {
		us.cancel()
		close(us.stopC)
	})
}

// Adapter implements gateway.Adapter on a futures account.
type Adapter struct {
	cfg    Config
	client *futures.Client

	mu   sync.Mutex
	sess *userSession

	statsMu sync.Mutex
	stats   Stats
}

var _ gateway.Adapter = (*Adapter)(nil)

func New(cfg Config) (*Adapter, error) {
	final := cfg.withDefaults()
	client := futures.NewClient(final.APIKey, final.SecretKey)
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	if final.ProxyEnabled {
		wsProxy := final.WSProxyURL
		if wsProxy == "" {
			wsProxy = final.RESTProxyURL
		}
		if wsProxy != "" {
			futures.SetWsProxyUrl(wsProxy)
		}
	}
	return &Adapter{
		cfg:    final,
		client: client,
	}, nil
}

func (a *Adapter) Name() string { return "binance" }

// Connect opens one user-data session: obtain a listen key, attach the
// websocket, keep the key alive. SessionConfig is ignored; Binance
// sessions are addressed by the account credentials.
func (a *Adapter) Connect(ctx context.Context, _ gateway.SessionConfig) error {
	listenKey, err := a.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return fmt.Errorf("start user stream: %w", err)
	}

	events := make(chan gateway.Event, eventBuffer)
	kaCtx, kaCancel := context.WithCancel(context.Background())
	sess := &userSession{
		listenKey: listenKey,
		events:    events,
		cancel:    kaCancel,
	}

	doneC, stopC, err := futures.WsUserDataServe(listenKey,
		func(ev *futures.WsUserDataEvent) { a.handleUserData(sess, ev) },
		func(err error) { a.recordStreamError(err) },
	)
	if err != nil {
		kaCancel()
		return fmt.Errorf("attach user stream: %w", err)
	}
	sess.stopC = stopC

	a.mu.Lock()
	if old := a.sess; old != nil {
		old.stop()
	}
	a.sess = sess
	a.mu.Unlock()

	go a.keepAlive(kaCtx, listenKey)
	go a.watchSession(sess, doneC)
	logger.Infof("[binance] user-data session open")
	return nil
}

// Disconnect ends the current session and releases its listen key.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	sess := a.sess
	a.sess = nil
	a.mu.Unlock()
	if sess == nil {
		return nil
	}
	sess.stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.client.NewCloseUserStreamService().ListenKey(sess.listenKey).Do(ctx); err != nil {
		logger.Warnf("[binance] release listen key: %v", err)
	}
	return nil
}

func (a *Adapter) Events() <-chan gateway.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sess == nil {
		return nil
	}
	return a.sess.events
}

// Submit places the order with the ledger id as the client order id, so
// stream events correlate even when the ack races them.
func (a *Adapter) Submit(ctx context.Context, req gateway.OrderRequest) (string, error) {
	binSym := symbolpkg.Parse(req.Symbol).Binance()
	if binSym == "" {
		return "", fmt.Errorf("invalid symbol: %s", req.Symbol)
	}
	side, err := sideToExchange(req.Side)
	if err != nil {
		return "", err
	}
	kind, err := kindToExchange(req.Kind)
	if err != nil {
		return "", err
	}

	svc := a.client.NewCreateOrderService().
		Symbol(binSym).
		Side(side).
		Type(kind).
		Quantity(formatQty(req.Quantity)).
		NewClientOrderID(req.ClientOrderID)
	if kind == futures.OrderTypeLimit {
		svc = svc.Price(formatQty(req.LimitPrice)).TimeInForce(futures.TimeInForceTypeGTC)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(res.OrderID, 10), nil
}

// QueryFills reads userTrades for every configured symbol inside
// [from, to). The endpoint is per-symbol, so an empty universe yields
// an empty report rather than an error.
func (a *Adapter) QueryFills(ctx context.Context, from, to time.Time) ([]gateway.VenueFill, error) {
	var out []gateway.VenueFill
	for _, sym := range a.cfg.Symbols {
		internal := symbolpkg.Normalize(sym)
		binSym := symbolpkg.Parse(internal).Binance()
		if binSym == "" {
			logger.Warnf("[binance] skipping invalid symbol %q in fill query", sym)
			continue
		}
		trades, err := a.client.NewListAccountTradeService().
			Symbol(binSym).
			StartTime(from.UnixMilli()).
			EndTime(to.UnixMilli() - 1).
			Limit(maxTradesLimit).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("query trades for %s: %w", internal, err)
		}
		for _, tr := range trades {
			if tr == nil {
				continue
			}
			out = append(out, tradeToVenueFill(tr, internal))
		}
	}
	return out, nil
}

func (a *Adapter) Stats() Stats {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	return a.stats
}

// keepAlive refreshes the listen key until the session ends.
func (a *Adapter) keepAlive(ctx context.Context, listenKey string) {
	ticker := time.NewTicker(a.cfg.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reqCtx, cancel := context.WithTimeout(ctx, a.cfg.HTTPTimeout)
			err := a.client.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(reqCtx)
			cancel()
			if err != nil {
				logger.Warnf("[binance] listen key keepalive failed: %v", err)
				a.recordStreamError(err)
			}
		}
	}
}

// watchSession waits for the websocket to end and closes the event
// channel, which is the session-end signal upstream.
func (a *Adapter) watchSession(sess *userSession, doneC chan struct{}) {
	<-doneC
	sess.stop()
	close(sess.events)
	a.statsMu.Lock()
	a.stats.SessionsLost++
	a.statsMu.Unlock()
	logger.Warnf("[binance] user-data session ended")
}

func (a *Adapter) handleUserData(sess *userSession, ev *futures.WsUserDataEvent) {
	if ev == nil {
		return
	}
	if ev.Event == futures.UserDataEventTypeListenKeyExpired {
		logger.Warnf("[binance] listen key expired, ending session")
		go sess.stop()
		return
	}
	if ev.Event != futures.UserDataEventTypeOrderTradeUpdate {
		return
	}
	for _, out := range orderUpdateToEvents(ev.OrderTradeUpdate) {
		select {
		case sess.events <- out:
		default:
			logger.Warnf("[binance] event channel full, drop %s for %s", out.Type, out.GatewayOrderID)
		}
	}
}

func (a *Adapter) recordStreamError(err error) {
	if err == nil {
		return
	}
	a.statsMu.Lock()
	a.stats.StreamErrors++
	a.stats.LastError = err.Error()
	a.statsMu.Unlock()
	logger.Warnf("[binance] stream error: %v", err)
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
