package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"tradecore/internal/audit"
	"tradecore/internal/gateway"
	"tradecore/internal/logger"
	"tradecore/internal/order"
)

// LocalSource exposes the ledger read-only; the execution engine
// satisfies it with snapshot copies.
type LocalSource interface {
	GetAllOrders() []*order.Record
}

// RemoteSource serves the venue's own execution history; gateway
// adapters satisfy it.
type RemoteSource interface {
	QueryFills(ctx context.Context, from, to time.Time) ([]gateway.VenueFill, error)
}

type Config struct {
	Tolerances      Tolerances
	MaxParallelDays int // ReconcileRange concurrency, default 2
}

type Reconciler struct {
	local  LocalSource
	remote RemoteSource
	cfg    Config
	rec    audit.Recorder
	now    func() time.Time
}

func New(local LocalSource, remote RemoteSource, cfg Config, rec audit.Recorder) *Reconciler {
	cfg.Tolerances.normalize()
	if cfg.MaxParallelDays <= 0 {
		cfg.MaxParallelDays = 2
	}
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Reconciler{
		local:  local,
		remote: remote,
		cfg:    cfg,
		rec:    rec,
		now:    time.Now,
	}
}

// Reconcile produces the report for one UTC calendar day. A failed
// gateway query fails the whole day; no partial report is produced.
func (r *Reconciler) Reconcile(ctx context.Context, date time.Time) (*Report, error) {
	day := dayOf(date)
	from, to := day, day.Add(24*time.Hour)

	remoteFills, err := r.remote.QueryFills(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("query gateway fills for %s: %w", day.Format("2006-01-02"), err)
	}
	remote := make([]normFill, 0, len(remoteFills))
	for _, f := range remoteFills {
		remote = append(remote, normFill{
			orderID:    f.GatewayOrderID,
			execID:     f.ExecID,
			symbol:     f.Symbol,
			qty:        f.Quantity,
			price:      f.Price,
			commission: f.Commission,
			at:         f.At,
		})
	}
	local := r.localWindow(from, to)

	matched, discs := diff(group(local), group(remote), r.cfg.Tolerances)
	rep := &Report{
		ID:            uuid.NewString(),
		Day:           day,
		From:          from,
		To:            to,
		GeneratedAt:   r.now().UTC(),
		LocalFills:    len(local),
		RemoteFills:   len(remote),
		Matched:       matched,
		Discrepancies: discs,
	}
	logger.Infof("[reconcile] %s: local=%d remote=%d matched=%d discrepancies=%d",
		day.Format("2006-01-02"), rep.LocalFills, rep.RemoteFills, len(rep.Matched), len(rep.Discrepancies))

	ev := audit.NewEvent(audit.KindReconReport)
	ev.Detail = fmt.Sprintf("day=%s matched=%d discrepancies=%d",
		day.Format("2006-01-02"), len(rep.Matched), len(rep.Discrepancies))
	ev.Payload = rep
	audit.Emit(r.rec, ev)
	return rep, nil
}

// ReconcileRange produces one report per day, start and end inclusive.
// Days run with bounded parallelism; any failed day fails the range.
func (r *Reconciler) ReconcileRange(ctx context.Context, start, end time.Time) ([]*Report, error) {
	s, e := dayOf(start), dayOf(end)
	if e.Before(s) {
		return nil, fmt.Errorf("range end %s before start %s",
			e.Format("2006-01-02"), s.Format("2006-01-02"))
	}
	var days []time.Time
	for d := s; !d.After(e); d = d.Add(24 * time.Hour) {
		days = append(days, d)
	}

	reports := make([]*Report, len(days))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxParallelDays)
	for i, d := range days {
		i, d := i, d
		g.Go(func() error {
			rep, err := r.Reconcile(gctx, d)
			if err != nil {
				return err
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// localWindow flattens ledger records into normalized fills inside
// [from, to). Records the gateway never acknowledged group under their
// ledger id; the venue cannot know them, so they surface as
// MISSING_REMOTE.
func (r *Reconciler) localWindow(from, to time.Time) []normFill {
	var out []normFill
	for _, rec := range r.local.GetAllOrders() {
		id := rec.GatewayID
		if id == "" {
			id = rec.ID
		}
		for _, f := range rec.Fills {
			if f.At.Before(from) || !f.At.Before(to) {
				continue
			}
			out = append(out, normFill{
				orderID:    id,
				execID:     f.ExecID,
				symbol:     rec.Order.Symbol,
				qty:        f.Quantity,
				price:      f.Price,
				commission: f.Commission,
				at:         f.At,
			})
		}
	}
	return out
}

// normFill is the common shape both sides are reduced to before
// matching.
type normFill struct {
	orderID    string
	execID     string
	symbol     string
	qty        float64
	price      float64
	commission float64
	at         time.Time
}

// leg aggregates one order's fills on one side.
type leg struct {
	symbol     string
	qty        decimal.Decimal
	notional   decimal.Decimal
	commission decimal.Decimal
	fills      []normFill
}

func (l *leg) add(f normFill) {
	q := decimal.NewFromFloat(f.qty)
	l.symbol = f.symbol
	l.qty = l.qty.Add(q)
	l.notional = l.notional.Add(q.Mul(decimal.NewFromFloat(f.price)))
	l.commission = l.commission.Add(decimal.NewFromFloat(f.commission))
	l.fills = append(l.fills, f)
}

// vwap is Σ(qty×price)/Σqty as a float, 0 for an empty leg.
func (l *leg) vwap() float64 {
	if !l.qty.IsPositive() {
		return 0
	}
	return l.notional.Div(l.qty).InexactFloat64()
}

func group(fills []normFill) map[string]*leg {
	legs := make(map[string]*leg)
	for _, f := range fills {
		lg := legs[f.orderID]
		if lg == nil {
			lg = &leg{}
			legs[f.orderID] = lg
		}
		lg.add(f)
	}
	return legs
}

// diff runs the matching pass over per-order legs. One discrepancy per
// finding: a fill with no counterpart on the other side, or the first
// aggregate breach in quantity > price > commission precedence.
func diff(local, remote map[string]*leg, tol Tolerances) (matched []string, discs []Discrepancy) {
	for id, rl := range remote {
		ll, ok := local[id]
		if !ok {
			for _, f := range rl.fills {
				discs = append(discs, Discrepancy{
					Kind:             KindMissingLocal,
					OrderID:          id,
					Symbol:           f.symbol,
					RemoteQuantity:   f.qty,
					RemotePrice:      f.price,
					RemoteCommission: f.commission,
					Detail:           fmt.Sprintf("gateway fill %s has no local record", f.execID),
				})
			}
			continue
		}
		if d, bad := compareLegs(id, ll, rl, tol); bad {
			discs = append(discs, d)
			continue
		}
		matched = append(matched, id)
	}
	for id, ll := range local {
		if _, ok := remote[id]; ok {
			continue
		}
		for _, f := range ll.fills {
			discs = append(discs, Discrepancy{
				Kind:            KindMissingRemote,
				OrderID:         id,
				Symbol:          f.symbol,
				LocalQuantity:   f.qty,
				LocalPrice:      f.price,
				LocalCommission: f.commission,
				Detail:          fmt.Sprintf("local fill %s not reported by gateway", f.execID),
			})
		}
	}

	sort.Strings(matched)
	sort.Slice(discs, func(i, j int) bool {
		if discs[i].OrderID != discs[j].OrderID {
			return discs[i].OrderID < discs[j].OrderID
		}
		if discs[i].Kind != discs[j].Kind {
			return discs[i].Kind < discs[j].Kind
		}
		return discs[i].Detail < discs[j].Detail
	})
	return matched, discs
}

func compareLegs(id string, ll, rl *leg, tol Tolerances) (Discrepancy, bool) {
	d := Discrepancy{
		OrderID:          id,
		Symbol:           ll.symbol,
		LocalQuantity:    ll.qty.InexactFloat64(),
		RemoteQuantity:   rl.qty.InexactFloat64(),
		LocalPrice:       ll.vwap(),
		RemotePrice:      rl.vwap(),
		LocalCommission:  ll.commission.InexactFloat64(),
		RemoteCommission: rl.commission.InexactFloat64(),
	}
	switch {
	case ll.qty.Cmp(rl.qty) != 0:
		d.Kind = KindQuantityMismatch
		d.Detail = fmt.Sprintf("quantity local=%v remote=%v", d.LocalQuantity, d.RemoteQuantity)
	case !withinTolerance(d.LocalPrice, d.RemotePrice, tol.Price):
		d.Kind = KindPriceMismatch
		d.Detail = fmt.Sprintf("vwap local=%v remote=%v tolerance=%v", d.LocalPrice, d.RemotePrice, tol.Price)
	case !withinTolerance(d.LocalCommission, d.RemoteCommission, tol.Commission):
		d.Kind = KindCommissionMismatch
		d.Detail = fmt.Sprintf("commission local=%v remote=%v tolerance=%v", d.LocalCommission, d.RemoteCommission, tol.Commission)
	default:
		return Discrepancy{}, false
	}
	return d, true
}
