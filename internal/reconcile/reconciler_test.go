package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/audit"
	"tradecore/internal/gateway"
	"tradecore/internal/order"
)

var tradingDay = time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)

type fakeLocal struct{ recs []*order.Record }

func (f *fakeLocal) GetAllOrders() []*order.Record { return f.recs }

type fakeRemote struct {
	mu    sync.Mutex
	fills []gateway.VenueFill
	err   error
	calls int
}

func (f *fakeRemote) QueryFills(_ context.Context, from, to time.Time) ([]gateway.VenueFill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []gateway.VenueFill
	for _, v := range f.fills {
		if !v.At.Before(from) && v.At.Before(to) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeRemote) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type captureRecorder struct {
	mu  sync.Mutex
	evs []audit.Event
}

func (c *captureRecorder) Record(_ context.Context, ev audit.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evs = append(c.evs, ev)
	return nil
}

func (c *captureRecorder) events() []audit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audit.Event(nil), c.evs...)
}

func localRec(gatewayID, symbol string, fills ...order.Fill) *order.Record {
	rec := order.NewRecord(order.Order{
		Symbol:   symbol,
		Side:     order.SideBuy,
		Kind:     order.KindMarket,
		Quantity: 1000,
	}, tradingDay)
	rec.GatewayID = gatewayID
	for _, f := range fills {
		rec.ApplyFill(f)
	}
	return rec
}

func fillAt(execID string, qty, price, comm float64, at time.Time) order.Fill {
	return order.Fill{ExecID: execID, Quantity: qty, Price: price, Commission: comm, At: at}
}

func venueFill(orderID, execID, symbol string, qty, price, comm float64, at time.Time) gateway.VenueFill {
	return gateway.VenueFill{
		GatewayOrderID: orderID,
		ExecID:         execID,
		Symbol:         symbol,
		Side:           order.SideBuy,
		Quantity:       qty,
		Price:          price,
		Commission:     comm,
		At:             at,
	}
}

func newTestReconciler(local *fakeLocal, remote *fakeRemote) (*Reconciler, *captureRecorder) {
	sink := &captureRecorder{}
	return New(local, remote, Config{}, sink), sink
}

func TestCleanDayMatchesAggregates(t *testing.T) {
	at := tradingDay.Add(14 * time.Hour)
	// Two partial fills locally, one consolidated row at the venue.
	// 60@10.00 + 40@10.05 aggregates to 100@10.02 with 2.00 commission.
	local := &fakeLocal{recs: []*order.Record{
		localRec("gw-1", "AAPL",
			fillAt("e1", 60, 10.00, 1.00, at),
			fillAt("e2", 40, 10.05, 1.00, at.Add(time.Minute))),
	}}
	remote := &fakeRemote{fills: []gateway.VenueFill{
		venueFill("gw-1", "v1", "AAPL", 100, 10.02, 2.00, at),
	}}

	r, rec := newTestReconciler(local, remote)
	rep, err := r.Reconcile(context.Background(), tradingDay)
	require.NoError(t, err)

	assert.True(t, rep.Clean())
	assert.Equal(t, []string{"gw-1"}, rep.Matched)
	assert.Equal(t, 2, rep.LocalFills)
	assert.Equal(t, 1, rep.RemoteFills)
	assert.Equal(t, tradingDay, rep.Day)

	evs := rec.events()
	require.Len(t, evs, 1)
	assert.Equal(t, audit.KindReconReport, evs[0].Kind)
	assert.Same(t, rep, evs[0].Payload)
}

func TestMissingRemote(t *testing.T) {
	at := tradingDay.Add(10 * time.Hour)
	local := &fakeLocal{recs: []*order.Record{
		localRec("gw-4", "MSFT", fillAt("e1", 50, 20.00, 0.25, at)),
	}}
	r, _ := newTestReconciler(local, &fakeRemote{})

	rep, err := r.Reconcile(context.Background(), tradingDay)
	require.NoError(t, err)
	require.Len(t, rep.Discrepancies, 1)

	d := rep.Discrepancies[0]
	assert.Equal(t, KindMissingRemote, d.Kind)
	assert.Equal(t, "gw-4", d.OrderID)
	assert.Equal(t, "MSFT", d.Symbol)
	assert.Equal(t, 50.0, d.LocalQuantity)
	assert.Equal(t, 20.0, d.LocalPrice)
	assert.Equal(t, 0.25, d.LocalCommission)
	assert.False(t, rep.Clean())
}

func TestMissingLocal(t *testing.T) {
	at := tradingDay.Add(10 * time.Hour)
	remote := &fakeRemote{fills: []gateway.VenueFill{
		venueFill("gw-7", "v9", "TSLA", 25, 180.50, 0.10, at),
	}}
	r, _ := newTestReconciler(&fakeLocal{}, remote)

	rep, err := r.Reconcile(context.Background(), tradingDay)
	require.NoError(t, err)
	require.Len(t, rep.Discrepancies, 1)

	d := rep.Discrepancies[0]
	assert.Equal(t, KindMissingLocal, d.Kind)
	assert.Equal(t, "gw-7", d.OrderID)
	assert.Equal(t, 25.0, d.RemoteQuantity)
	assert.Equal(t, 180.50, d.RemotePrice)
	assert.Contains(t, d.Detail, "v9")
}

func TestCommissionMismatch(t *testing.T) {
	at := tradingDay.Add(16 * time.Hour)
	local := &fakeLocal{recs: []*order.Record{
		localRec("gw-2", "AAPL", fillAt("e1", 100, 10.02, 1.50, at)),
	}}
	remote := &fakeRemote{fills: []gateway.VenueFill{
		venueFill("gw-2", "v1", "AAPL", 100, 10.02, 1.00, at),
	}}

	r, _ := newTestReconciler(local, remote)
	rep, err := r.Reconcile(context.Background(), tradingDay)
	require.NoError(t, err)
	require.Len(t, rep.Discrepancies, 1)

	d := rep.Discrepancies[0]
	assert.Equal(t, KindCommissionMismatch, d.Kind)
	assert.Equal(t, 1.50, d.LocalCommission)
	assert.Equal(t, 1.00, d.RemoteCommission)
	assert.Empty(t, rep.Matched)
}

func TestToleranceBoundaryIsInclusive(t *testing.T) {
	at := tradingDay.Add(12 * time.Hour)
	cases := []struct {
		name   string
		local  gateway.VenueFill
		remote gateway.VenueFill
	}{
		{
			name:   "price off by exactly tolerance",
			local:  venueFill("gw-1", "l", "AAPL", 100, 10.02, 1.00, at),
			remote: venueFill("gw-1", "r", "AAPL", 100, 10.03, 1.00, at),
		},
		{
			name:   "commission off by exactly tolerance",
			local:  venueFill("gw-1", "l", "AAPL", 100, 10.02, 1.00, at),
			remote: venueFill("gw-1", "r", "AAPL", 100, 10.02, 1.01, at),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			local := &fakeLocal{recs: []*order.Record{
				localRec("gw-1", "AAPL",
					fillAt("l", tc.local.Quantity, tc.local.Price, tc.local.Commission, at)),
			}}
			r, _ := newTestReconciler(local, &fakeRemote{fills: []gateway.VenueFill{tc.remote}})

			rep, err := r.Reconcile(context.Background(), tradingDay)
			require.NoError(t, err)
			assert.True(t, rep.Clean(), "discrepancies: %v", rep.Discrepancies)
		})
	}
}

func TestQuantityTakesPrecedence(t *testing.T) {
	at := tradingDay.Add(12 * time.Hour)
	// Quantity, price and commission all disagree; only the quantity
	// breach is reported for the order.
	local := &fakeLocal{recs: []*order.Record{
		localRec("gw-3", "AAPL", fillAt("e1", 100, 10.00, 1.00, at)),
	}}
	remote := &fakeRemote{fills: []gateway.VenueFill{
		venueFill("gw-3", "v1", "AAPL", 90, 11.00, 2.00, at),
	}}

	r, _ := newTestReconciler(local, remote)
	rep, err := r.Reconcile(context.Background(), tradingDay)
	require.NoError(t, err)
	require.Len(t, rep.Discrepancies, 1)

	d := rep.Discrepancies[0]
	assert.Equal(t, KindQuantityMismatch, d.Kind)
	assert.Equal(t, 100.0, d.LocalQuantity)
	assert.Equal(t, 90.0, d.RemoteQuantity)
}

func TestDayWindowExcludesNeighbourFills(t *testing.T) {
	inside := tradingDay.Add(12 * time.Hour)
	local := &fakeLocal{recs: []*order.Record{
		localRec("gw-1", "AAPL",
			fillAt("before", 10, 10, 0, tradingDay.Add(-time.Second)),
			fillAt("inside", 100, 10.02, 2.00, inside),
			fillAt("after", 10, 10, 0, tradingDay.Add(24*time.Hour))),
	}}
	remote := &fakeRemote{fills: []gateway.VenueFill{
		venueFill("gw-1", "v1", "AAPL", 100, 10.02, 2.00, inside),
	}}

	r, _ := newTestReconciler(local, remote)
	rep, err := r.Reconcile(context.Background(), tradingDay)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.LocalFills)
	assert.True(t, rep.Clean())
}

func TestQueryFailureFailsWholeDay(t *testing.T) {
	boom := errors.New("venue 503")
	r, rec := newTestReconciler(&fakeLocal{}, &fakeRemote{err: boom})

	rep, err := r.Reconcile(context.Background(), tradingDay)
	assert.Nil(t, rep)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "2025-06-03")
	assert.Empty(t, rec.events())
}

func TestUnacknowledgedOrderKeyedByLedgerID(t *testing.T) {
	at := tradingDay.Add(9 * time.Hour)
	rec := localRec("", "AAPL", fillAt("e1", 10, 10, 0.05, at))
	r, _ := newTestReconciler(&fakeLocal{recs: []*order.Record{rec}}, &fakeRemote{})

	rep, err := r.Reconcile(context.Background(), tradingDay)
	require.NoError(t, err)
	require.Len(t, rep.Discrepancies, 1)
	assert.Equal(t, KindMissingRemote, rep.Discrepancies[0].Kind)
	assert.Equal(t, rec.ID, rep.Discrepancies[0].OrderID)
}

func TestReconcileReportsAreSorted(t *testing.T) {
	at := tradingDay.Add(11 * time.Hour)
	local := &fakeLocal{recs: []*order.Record{
		localRec("gw-b", "AAPL", fillAt("e1", 10, 10, 0, at)),
		localRec("gw-a", "AAPL", fillAt("e2", 10, 10, 0, at)),
		localRec("gw-z", "MSFT", fillAt("e3", 5, 20, 0, at)),
		localRec("gw-c", "MSFT", fillAt("e4", 5, 20, 0, at)),
	}}
	remote := &fakeRemote{fills: []gateway.VenueFill{
		venueFill("gw-b", "v1", "AAPL", 10, 10, 0, at),
		venueFill("gw-a", "v2", "AAPL", 10, 10, 0, at),
	}}

	r, _ := newTestReconciler(local, remote)
	rep, err := r.Reconcile(context.Background(), tradingDay)
	require.NoError(t, err)

	assert.Equal(t, []string{"gw-a", "gw-b"}, rep.Matched)
	require.Len(t, rep.Discrepancies, 2)
	assert.Equal(t, "gw-c", rep.Discrepancies[0].OrderID)
	assert.Equal(t, "gw-z", rep.Discrepancies[1].OrderID)
}

func TestReconcileRange(t *testing.T) {
	var fills []gateway.VenueFill
	var recs []*order.Record
	for i := 0; i < 3; i++ {
		at := tradingDay.Add(time.Duration(i)*24*time.Hour + 12*time.Hour)
		id := string(rune('a' + i))
		recs = append(recs, localRec("gw-"+id, "AAPL", fillAt("e-"+id, 10, 10, 0.10, at)))
		fills = append(fills, venueFill("gw-"+id, "v-"+id, "AAPL", 10, 10, 0.10, at))
	}
	remote := &fakeRemote{fills: fills}
	r, rec := newTestReconciler(&fakeLocal{recs: recs}, remote)

	reps, err := r.ReconcileRange(context.Background(), tradingDay, tradingDay.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, reps, 3)

	for i, rep := range reps {
		assert.Equal(t, tradingDay.Add(time.Duration(i)*24*time.Hour), rep.Day)
		assert.True(t, rep.Clean())
		assert.Equal(t, []string{"gw-" + string(rune('a'+i))}, rep.Matched)
	}
	assert.Equal(t, 3, remote.queryCount())
	assert.Len(t, rec.events(), 3)
}

func TestReconcileRangeSingleDay(t *testing.T) {
	r, _ := newTestReconciler(&fakeLocal{}, &fakeRemote{})
	reps, err := r.ReconcileRange(context.Background(), tradingDay.Add(3*time.Hour), tradingDay.Add(20*time.Hour))
	require.NoError(t, err)
	require.Len(t, reps, 1)
	assert.Equal(t, tradingDay, reps[0].Day)
}

func TestReconcileRangeRejectsInvertedRange(t *testing.T) {
	r, _ := newTestReconciler(&fakeLocal{}, &fakeRemote{})
	_, err := r.ReconcileRange(context.Background(), tradingDay, tradingDay.Add(-48*time.Hour))
	require.Error(t, err)
	assert.ErrorContains(t, err, "before start")
}

func TestReconcileRangeFailsWhenAnyDayFails(t *testing.T) {
	boom := errors.New("venue down")
	r, _ := newTestReconciler(&fakeLocal{}, &fakeRemote{err: boom})
	reps, err := r.ReconcileRange(context.Background(), tradingDay, tradingDay.Add(24*time.Hour))
	assert.Nil(t, reps)
	assert.ErrorIs(t, err, boom)
}
