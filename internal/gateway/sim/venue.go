// Package sim is a self-contained paper venue: an in-memory execution
// core behind a small websocket protocol, plus the matching client
// adapter. Fills follow per-symbol scripts, so integration tests and
// paper sessions can stage partial fills, rejects, venue errors and
// cancels without a real brokerage.
package sim

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/gateway"
	"tradecore/internal/instrument"
	"tradecore/internal/logger"
	"tradecore/internal/order"
)

// Slice is one scripted execution: a fraction of the order's quantity,
// priced off the reference price, emitted after Delay.
type Slice struct {
	Fraction float64
	PriceOff float64
	Delay    time.Duration
}

// VenueConfig wires the venue's reference data. With a Registry set,
// submissions are checked against instrument constraints and charged
// that instrument's commission; Commission is the fallback model.
type VenueConfig struct {
	Registry   *instrument.Registry
	Commission instrument.Commission
}

// Venue is the in-memory execution core. Safe for concurrent sessions.
type Venue struct {
	cfg VenueConfig

	orderSeq atomic.Int64
	execSeq  atomic.Int64

	mu      sync.Mutex
	prices  map[string]float64
	plans   map[string][]Slice
	rejects map[string]string
	errs    map[string]string
	cancels map[string]bool
	history []gateway.VenueFill
}

func NewVenue(cfg VenueConfig) *Venue {
	return &Venue{
		cfg:     cfg,
		prices:  make(map[string]float64),
		plans:   make(map[string][]Slice),
		rejects: make(map[string]string),
		errs:    make(map[string]string),
		cancels: make(map[string]bool),
	}
}

// SetPrice sets the reference price market orders execute against.
func (v *Venue) SetPrice(symbol string, price float64) {
	v.mu.Lock()
	v.prices[symKey(symbol)] = price
	v.mu.Unlock()
}

// Script replaces the symbol's fill plan. Without a plan, orders fill
// in full immediately. Fractions need not sum to one; a short plan
// leaves the order partially filled.
func (v *Venue) Script(symbol string, slices ...Slice) {
	v.mu.Lock()
	v.plans[symKey(symbol)] = append([]Slice(nil), slices...)
	v.mu.Unlock()
}

// RejectNext makes the next submission for symbol fail at the venue.
func (v *Venue) RejectNext(symbol, reason string) {
	v.mu.Lock()
	v.rejects[symKey(symbol)] = reason
	v.mu.Unlock()
}

// ErrorNext makes the next accepted order for symbol report a venue
// error instead of filling.
func (v *Venue) ErrorNext(symbol, reason string) {
	v.mu.Lock()
	v.errs[symKey(symbol)] = reason
	v.mu.Unlock()
}

// CancelNext makes the next accepted order for symbol get cancelled by
// the venue instead of filling.
func (v *Venue) CancelNext(symbol string) {
	v.mu.Lock()
	v.cancels[symKey(symbol)] = true
	v.mu.Unlock()
}

// Accept validates a submission and allocates the venue order id. The
// caller acknowledges before starting execution with Execute.
func (v *Venue) Accept(req gateway.OrderRequest) (string, error) {
	sym := symKey(req.Symbol)
	if sym == "" {
		return "", fmt.Errorf("symbol required")
	}
	if req.Quantity <= 0 {
		return "", fmt.Errorf("quantity must be positive")
	}
	if !req.Side.Valid() || !req.Kind.Valid() {
		return "", fmt.Errorf("bad side or kind")
	}
	if v.cfg.Registry != nil {
		if err := v.cfg.Registry.CheckOrder(order.Order{
			Symbol:     sym,
			Side:       req.Side,
			Kind:       req.Kind,
			Quantity:   req.Quantity,
			LimitPrice: req.LimitPrice,
			Account:    req.Account,
		}); err != nil {
			return "", err
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if reason, ok := v.rejects[sym]; ok {
		delete(v.rejects, sym)
		return "", fmt.Errorf("%s", reason)
	}
	if req.Kind == order.KindMarket {
		if _, ok := v.prices[sym]; !ok {
			return "", fmt.Errorf("no market for %s", sym)
		}
	}
	return fmt.Sprintf("sim-%d", v.orderSeq.Add(1)), nil
}

// Execute runs the order's script asynchronously, emitting events until
// the plan completes or done closes. Call after the ack is on the wire
// so fills never overtake it.
func (v *Venue) Execute(orderID string, req gateway.OrderRequest, emit func(gateway.Event), done <-chan struct{}) {
	sym := symKey(req.Symbol)

	v.mu.Lock()
	if reason, ok := v.errs[sym]; ok {
		delete(v.errs, sym)
		v.mu.Unlock()
		emit(gateway.Event{
			Type:           gateway.EventError,
			GatewayOrderID: orderID,
			ClientOrderID:  req.ClientOrderID,
			Reason:         reason,
			At:             time.Now().UTC(),
		})
		return
	}
	if v.cancels[sym] {
		delete(v.cancels, sym)
		v.mu.Unlock()
		emit(gateway.Event{
			Type:           gateway.EventStatus,
			GatewayOrderID: orderID,
			ClientOrderID:  req.ClientOrderID,
			Status:         order.StatusCancelled,
			Reason:         "cancelled by venue",
			At:             time.Now().UTC(),
		})
		return
	}
	plan := append([]Slice(nil), v.plans[sym]...)
	base := v.prices[sym]
	v.mu.Unlock()

	if req.Kind == order.KindLimit {
		base = req.LimitPrice
	}
	if len(plan) == 0 {
		plan = []Slice{{Fraction: 1}}
	}

	go v.runPlan(orderID, req, base, plan, emit, done)
}

func (v *Venue) runPlan(orderID string, req gateway.OrderRequest, base float64, plan []Slice, emit func(gateway.Event), done <-chan struct{}) {
	sym := symKey(req.Symbol)
	qty := decimal.NewFromFloat(req.Quantity)
	for _, slice := range plan {
		if slice.Delay > 0 {
			timer := time.NewTimer(slice.Delay)
			select {
			case <-done:
				timer.Stop()
				return
			case <-timer.C:
			}
		} else {
			select {
			case <-done:
				return
			default:
			}
		}
		sliceQty := qty.Mul(decimal.NewFromFloat(slice.Fraction)).InexactFloat64()
		if sliceQty <= 0 {
			continue
		}
		price := decimal.NewFromFloat(base).Add(decimal.NewFromFloat(slice.PriceOff)).InexactFloat64()
		fill := gateway.VenueFill{
			GatewayOrderID: orderID,
			ExecID:         fmt.Sprintf("exec-%d", v.execSeq.Add(1)),
			Symbol:         sym,
			Side:           req.Side,
			Quantity:       sliceQty,
			Price:          price,
			Commission:     v.commission(sym, sliceQty),
			At:             time.Now().UTC(),
		}
		v.mu.Lock()
		v.history = append(v.history, fill)
		v.mu.Unlock()

		emit(gateway.Event{
			Type:           gateway.EventFill,
			GatewayOrderID: orderID,
			ClientOrderID:  req.ClientOrderID,
			Fill: &order.Fill{
				ExecID:     fill.ExecID,
				Quantity:   fill.Quantity,
				Price:      fill.Price,
				Commission: fill.Commission,
				At:         fill.At,
			},
			At: fill.At,
		})
	}
	logger.Debugf("[sim] order %s plan complete (%d slices)", orderID, len(plan))
}

func (v *Venue) commission(symbol string, qty float64) float64 {
	if v.cfg.Registry != nil {
		if ins, ok := v.cfg.Registry.Instrument(symbol); ok {
			return ins.Commission.For(qty)
		}
	}
	return v.cfg.Commission.For(qty)
}

// QueryFills returns the venue's executions inside [from, to).
func (v *Venue) QueryFills(from, to time.Time) []gateway.VenueFill {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []gateway.VenueFill
	for _, f := range v.history {
		if f.At.Before(from) || !f.At.Before(to) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func symKey(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
