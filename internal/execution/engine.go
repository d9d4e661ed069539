// Package execution owns the order ledger: it accepts submissions,
// hands them to the gateway, applies the gateway's fill/status/error
// events under a single lock, and drives the registered callbacks.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"tradecore/internal/audit"
	"tradecore/internal/gateway"
	"tradecore/internal/logger"
	"tradecore/internal/order"
)

// ConnectionProber answers whether a gateway session is live right now.
// The connection supervisor satisfies this.
type ConnectionProber interface {
	IsConnected() bool
}

// OrderValidator runs venue-rule checks (lot size, tick size) before a
// submission reaches the gateway. The instrument registry satisfies this.
type OrderValidator interface {
	CheckOrder(o order.Order) error
}

// FillHandler receives a ledger snapshot and the fill that was applied.
type FillHandler func(rec *order.Record, fill order.Fill)

// StatusHandler receives a ledger snapshot and the status it moved from.
type StatusHandler func(rec *order.Record, from order.Status)

// ErrorHandler receives a ledger snapshot, the gateway error, and the
// backoff the engine computed for the next attempt. The engine never
// resubmits on its own; acting on retryIn is the caller's policy.
type ErrorHandler func(rec *order.Record, gatewayErr error, retryIn time.Duration)

type Config struct {
	DedupWindow     time.Duration // idempotency window, default 60s
	AckTimeout      time.Duration // submit acknowledgement bound, default 5s
	RetryInitial    time.Duration // default 1s
	RetryMultiplier float64       // default 2.0
	RetryCeiling    time.Duration // default 5m
}

const (
	defaultAckTimeout      = 5 * time.Second
	defaultRetryInitial    = time.Second
	defaultRetryMultiplier = 2.0
	defaultRetryCeiling    = 5 * time.Minute
)

func (c *Config) normalize() {
	if c.DedupWindow <= 0 {
		c.DedupWindow = order.DefaultDedupWindow
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = defaultAckTimeout
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = defaultRetryInitial
	}
	if c.RetryMultiplier <= 1 {
		c.RetryMultiplier = defaultRetryMultiplier
	}
	if c.RetryCeiling <= 0 {
		c.RetryCeiling = defaultRetryCeiling
	}
}

type Engine struct {
	cfg       Config
	gw        gateway.Adapter
	prober    ConnectionProber
	validator OrderValidator
	rec       audit.Recorder
	now       func() time.Time

	mu        sync.Mutex
	byID      map[string]*order.Record
	byGateway map[string]*order.Record
	dedup     map[string]time.Time
	dropped   uint64
	fillHs    []FillHandler
	statusHs  []StatusHandler
	errorHs   []ErrorHandler
}

func New(gw gateway.Adapter, prober ConnectionProber, cfg Config, rec audit.Recorder) *Engine {
	cfg.normalize()
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Engine{
		cfg:       cfg,
		gw:        gw,
		prober:    prober,
		rec:       rec,
		now:       time.Now,
		byID:      make(map[string]*order.Record),
		byGateway: make(map[string]*order.Record),
		dedup:     make(map[string]time.Time),
	}
}

// SetValidator installs pre-submission venue-rule checks. Optional.
func (e *Engine) SetValidator(v OrderValidator) {
	e.mu.Lock()
	e.validator = v
	e.mu.Unlock()
}

func (e *Engine) OnFill(h FillHandler) {
	if h == nil {
		return
	}
	e.mu.Lock()
	e.fillHs = append(e.fillHs, h)
	e.mu.Unlock()
}

func (e *Engine) OnStatusChange(h StatusHandler) {
	if h == nil {
		return
	}
	e.mu.Lock()
	e.statusHs = append(e.statusHs, h)
	e.mu.Unlock()
}

func (e *Engine) OnError(h ErrorHandler) {
	if h == nil {
		return
	}
	e.mu.Lock()
	e.errorHs = append(e.errorHs, h)
	e.mu.Unlock()
}

// Submit validates, dedups and hands the order to the gateway. The
// returned record is a snapshot; follow updates through GetOrder or the
// callbacks. Duplicate submissions inside the dedup window come back as
// ErrDuplicateOrder; with no live session nothing is sent and
// ErrNotConnected is returned.
func (e *Engine) Submit(ctx context.Context, o order.Order) (*order.Record, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	validator := e.validator
	e.mu.Unlock()
	if validator != nil {
		if err := validator.CheckOrder(o); err != nil {
			return nil, fmt.Errorf("%w: %v", order.ErrOrderRejected, err)
		}
	}
	if e.prober != nil && !e.prober.IsConnected() {
		return nil, order.ErrNotConnected
	}

	now := e.now().UTC()
	key := order.DedupKey(o, now, e.cfg.DedupWindow)

	e.mu.Lock()
	e.purgeDedupLocked(now)
	if _, dup := e.dedup[key]; dup {
		e.mu.Unlock()
		return nil, order.ErrDuplicateOrder
	}
	rec := order.NewRecord(o, now)
	e.dedup[key] = now
	e.byID[rec.ID] = rec
	snap := rec.Clone()
	e.mu.Unlock()

	logger.Infof("[engine] accepted %s %s qty=%v %s as %s", o.Side, o.Symbol, o.Quantity, o.Kind, rec.ID)
	e.auditStatus(snap, "", order.StatusPending, "submission accepted")

	subCtx := ctx
	cancel := func() {}
	if e.cfg.AckTimeout > 0 {
		subCtx, cancel = context.WithTimeout(ctx, e.cfg.AckTimeout)
	}
	gwID, err := e.gw.Submit(subCtx, gateway.OrderRequest{
		ClientOrderID: rec.ID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Kind:          o.Kind,
		Quantity:      o.Quantity,
		LimitPrice:    o.LimitPrice,
		Account:       o.Account,
	})
	cancel()
	if err != nil {
		subErr := classifySubmitError(err)
		e.applyError(rec.ID, subErr)
		return nil, subErr
	}

	e.mu.Lock()
	rec.GatewayID = gwID
	e.byGateway[gwID] = rec
	transitioned := false
	from := rec.Status
	if rec.Status.CanTransitionTo(order.StatusSubmitted) && rec.Status == order.StatusPending {
		rec.Status = order.StatusSubmitted
		rec.UpdatedAt = e.now().UTC()
		transitioned = true
	}
	snap = rec.Clone()
	e.mu.Unlock()

	logger.Infof("[engine] %s acknowledged as %s", rec.ID, gwID)
	if transitioned {
		e.auditStatus(snap, from, order.StatusSubmitted, "gateway ack")
		e.fireStatus(snap, from)
	}
	return snap, nil
}

// classifySubmitError sorts a synchronous submit failure into the error
// taxonomy: deadline expiry is ambiguous (the venue may have the order),
// everything else is a rejection.
func classifySubmitError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", order.ErrAckTimeout, err)
	}
	return fmt.Errorf("%w: %v", order.ErrOrderRejected, err)
}

// GetOrder looks a record up by ledger id, falling back to gateway id.
func (e *Engine) GetOrder(id string) (*order.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec, ok := e.byID[id]; ok {
		return rec.Clone(), nil
	}
	if rec, ok := e.byGateway[id]; ok {
		return rec.Clone(), nil
	}
	return nil, fmt.Errorf("%w: %s", order.ErrUnknownOrder, id)
}

// GetActiveOrders returns non-terminal records, oldest first.
func (e *Engine) GetActiveOrders() []*order.Record {
	return e.collect(func(r *order.Record) bool { return !r.Status.Terminal() })
}

// GetAllOrders returns every record the ledger holds, oldest first.
func (e *Engine) GetAllOrders() []*order.Record {
	return e.collect(func(*order.Record) bool { return true })
}

func (e *Engine) collect(keep func(*order.Record) bool) []*order.Record {
	e.mu.Lock()
	out := make([]*order.Record, 0, len(e.byID))
	for _, rec := range e.byID {
		if keep(rec) {
			out = append(out, rec.Clone())
		}
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

// DroppedEvents counts gateway events ignored because they referenced an
// unknown order or a terminal record.
func (e *Engine) DroppedEvents() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

func (e *Engine) purgeDedupLocked(now time.Time) {
	for k, t0 := range e.dedup {
		if now.Sub(t0) >= e.cfg.DedupWindow {
			delete(e.dedup, k)
		}
	}
}

// retryDelay computes initial × multiplier^count, capped.
func (e *Engine) retryDelay(count int) time.Duration {
	if count < 0 {
		count = 0
	}
	d := time.Duration(float64(e.cfg.RetryInitial) * math.Pow(e.cfg.RetryMultiplier, float64(count)))
	if d <= 0 || d > e.cfg.RetryCeiling {
		return e.cfg.RetryCeiling
	}
	return d
}

func (e *Engine) fireFill(rec *order.Record, f order.Fill) {
	e.mu.Lock()
	hs := append([]FillHandler(nil), e.fillHs...)
	e.mu.Unlock()
	for _, h := range hs {
		safeCall("fill", func() { h(rec, f) })
	}
}

func (e *Engine) fireStatus(rec *order.Record, from order.Status) {
	e.mu.Lock()
	hs := append([]StatusHandler(nil), e.statusHs...)
	e.mu.Unlock()
	for _, h := range hs {
		safeCall("status", func() { h(rec, from) })
	}
}

func (e *Engine) fireError(rec *order.Record, gatewayErr error, retryIn time.Duration) {
	e.mu.Lock()
	hs := append([]ErrorHandler(nil), e.errorHs...)
	e.mu.Unlock()
	for _, h := range hs {
		safeCall("error", func() { h(rec, gatewayErr, retryIn) })
	}
}

func safeCall(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[engine] %s handler panic: %v", name, r)
		}
	}()
	fn()
}

func (e *Engine) auditStatus(rec *order.Record, from, to order.Status, detail string) {
	ev := audit.NewEvent(audit.KindOrderStatus)
	ev.OrderID = rec.ID
	ev.GatewayOrderID = rec.GatewayID
	ev.Symbol = rec.Order.Symbol
	ev.From = string(from)
	ev.To = string(to)
	ev.Detail = detail
	ev.Payload = rec
	audit.Emit(e.rec, ev)
}

func (e *Engine) auditFill(rec *order.Record, f order.Fill) {
	ev := audit.NewEvent(audit.KindOrderFill)
	ev.OrderID = rec.ID
	ev.GatewayOrderID = rec.GatewayID
	ev.Symbol = rec.Order.Symbol
	ev.Detail = fmt.Sprintf("fill %v @ %v", f.Quantity, f.Price)
	ev.Payload = f
	audit.Emit(e.rec, ev)
}

func (e *Engine) auditOrderError(rec *order.Record, errText string, retryIn time.Duration) {
	ev := audit.NewEvent(audit.KindOrderError)
	ev.OrderID = rec.ID
	ev.GatewayOrderID = rec.GatewayID
	ev.Symbol = rec.Order.Symbol
	ev.Detail = fmt.Sprintf("%s (retry eligible in %s)", errText, retryIn)
	ev.Payload = rec
	audit.Emit(e.rec, ev)
}
