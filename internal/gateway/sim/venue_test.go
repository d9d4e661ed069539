package sim

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/gateway"
	"tradecore/internal/instrument"
	"tradecore/internal/order"
)

func marketReq(id, symbol string, qty float64) gateway.OrderRequest {
	return gateway.OrderRequest{
		ClientOrderID: id,
		Symbol:        symbol,
		Side:          order.SideBuy,
		Kind:          order.KindMarket,
		Quantity:      qty,
	}
}

func awaitEvent(t *testing.T, ch <-chan gateway.Event) gateway.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for venue event")
		return gateway.Event{}
	}
}

func collectEvents(t *testing.T, ch <-chan gateway.Event, n int) []gateway.Event {
	t.Helper()
	out := make([]gateway.Event, 0, n)
	for len(out) < n {
		out = append(out, awaitEvent(t, ch))
	}
	return out
}

func TestAcceptValidation(t *testing.T) {
	v := NewVenue(VenueConfig{})
	v.SetPrice("AAPL", 10)

	cases := []struct {
		name string
		req  gateway.OrderRequest
		want string
	}{
		{"no symbol", marketReq("c1", "", 10), "symbol required"},
		{"zero quantity", marketReq("c2", "AAPL", 0), "quantity must be positive"},
		{"bad side", gateway.OrderRequest{ClientOrderID: "c3", Symbol: "AAPL", Side: "HOLD", Kind: order.KindMarket, Quantity: 1}, "bad side or kind"},
		{"no market", marketReq("c4", "MSFT", 10), "no market for MSFT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Accept(tc.req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	id, err := v.Accept(marketReq("c5", "AAPL", 10))
	require.NoError(t, err)
	assert.Equal(t, "sim-1", id)
}

func TestRejectNextConsumedOnce(t *testing.T) {
	v := NewVenue(VenueConfig{})
	v.SetPrice("AAPL", 10)
	v.RejectNext("aapl", "risk check failed")

	_, err := v.Accept(marketReq("c1", "AAPL", 10))
	require.EqualError(t, err, "risk check failed")

	_, err = v.Accept(marketReq("c2", "AAPL", 10))
	require.NoError(t, err)
}

func TestDefaultPlanFillsInFull(t *testing.T) {
	v := NewVenue(VenueConfig{Commission: instrument.Commission{PerShare: 0.005, Minimum: 1}})
	v.SetPrice("AAPL", 10)

	req := marketReq("c1", "AAPL", 100)
	id, err := v.Accept(req)
	require.NoError(t, err)

	ch := make(chan gateway.Event, 16)
	done := make(chan struct{})
	defer close(done)
	v.Execute(id, req, func(ev gateway.Event) { ch <- ev }, done)

	ev := awaitEvent(t, ch)
	require.Equal(t, gateway.EventFill, ev.Type)
	require.NotNil(t, ev.Fill)
	assert.Equal(t, id, ev.GatewayOrderID)
	assert.Equal(t, "c1", ev.ClientOrderID)
	assert.Equal(t, 100.0, ev.Fill.Quantity)
	assert.Equal(t, 10.0, ev.Fill.Price)
	// 100 shares at 0.005 is 0.50, under the 1.00 minimum
	assert.Equal(t, 1.0, ev.Fill.Commission)
}

func TestScriptedPartialFills(t *testing.T) {
	v := NewVenue(VenueConfig{})
	v.SetPrice("AAPL", 10.00)
	v.Script("AAPL", Slice{Fraction: 0.6}, Slice{Fraction: 0.4, PriceOff: 0.05})

	req := marketReq("c1", "AAPL", 100)
	id, err := v.Accept(req)
	require.NoError(t, err)

	ch := make(chan gateway.Event, 16)
	done := make(chan struct{})
	defer close(done)
	v.Execute(id, req, func(ev gateway.Event) { ch <- ev }, done)

	evs := collectEvents(t, ch, 2)
	require.Equal(t, gateway.EventFill, evs[0].Type)
	assert.Equal(t, 60.0, evs[0].Fill.Quantity)
	assert.Equal(t, 10.00, evs[0].Fill.Price)
	require.Equal(t, gateway.EventFill, evs[1].Type)
	assert.Equal(t, 40.0, evs[1].Fill.Quantity)
	assert.Equal(t, 10.05, evs[1].Fill.Price)
	assert.NotEqual(t, evs[0].Fill.ExecID, evs[1].Fill.ExecID)
}

func TestErrorNextEmitsOrderError(t *testing.T) {
	v := NewVenue(VenueConfig{})
	v.SetPrice("AAPL", 10)
	v.ErrorNext("AAPL", "exchange busy")

	req := marketReq("c1", "AAPL", 10)
	id, err := v.Accept(req)
	require.NoError(t, err)

	ch := make(chan gateway.Event, 4)
	done := make(chan struct{})
	defer close(done)
	v.Execute(id, req, func(ev gateway.Event) { ch <- ev }, done)

	ev := awaitEvent(t, ch)
	assert.Equal(t, gateway.EventError, ev.Type)
	assert.Equal(t, id, ev.GatewayOrderID)
	assert.Equal(t, "exchange busy", ev.Reason)
	assert.Empty(t, v.QueryFills(time.Time{}, time.Now().Add(time.Hour)))
}

func TestCancelNextEmitsCancelledStatus(t *testing.T) {
	v := NewVenue(VenueConfig{})
	v.SetPrice("AAPL", 10)
	v.CancelNext("AAPL")

	req := marketReq("c1", "AAPL", 10)
	id, err := v.Accept(req)
	require.NoError(t, err)

	ch := make(chan gateway.Event, 4)
	done := make(chan struct{})
	defer close(done)
	v.Execute(id, req, func(ev gateway.Event) { ch <- ev }, done)

	ev := awaitEvent(t, ch)
	assert.Equal(t, gateway.EventStatus, ev.Type)
	assert.Equal(t, order.StatusCancelled, ev.Status)
	assert.Equal(t, "cancelled by venue", ev.Reason)
}

func TestLimitOrdersFillAtLimitPrice(t *testing.T) {
	v := NewVenue(VenueConfig{})
	// limit orders need no reference price

	req := gateway.OrderRequest{
		ClientOrderID: "c1",
		Symbol:        "AAPL",
		Side:          order.SideSell,
		Kind:          order.KindLimit,
		Quantity:      50,
		LimitPrice:    11.20,
	}
	id, err := v.Accept(req)
	require.NoError(t, err)

	ch := make(chan gateway.Event, 4)
	done := make(chan struct{})
	defer close(done)
	v.Execute(id, req, func(ev gateway.Event) { ch <- ev }, done)

	ev := awaitEvent(t, ch)
	assert.Equal(t, 11.20, ev.Fill.Price)

	hist := v.QueryFills(time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	require.Len(t, hist, 1)
	assert.Equal(t, order.SideSell, hist[0].Side)
	assert.Equal(t, "AAPL", hist[0].Symbol)
}

func TestDoneStopsDelayedPlan(t *testing.T) {
	v := NewVenue(VenueConfig{})
	v.SetPrice("AAPL", 10)
	v.Script("AAPL", Slice{Fraction: 0.5}, Slice{Fraction: 0.5, Delay: time.Hour})

	req := marketReq("c1", "AAPL", 100)
	id, err := v.Accept(req)
	require.NoError(t, err)

	ch := make(chan gateway.Event, 4)
	done := make(chan struct{})
	v.Execute(id, req, func(ev gateway.Event) { ch <- ev }, done)

	ev := awaitEvent(t, ch)
	assert.Equal(t, 50.0, ev.Fill.Quantity)
	close(done)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event after session end: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestQueryFillsWindow(t *testing.T) {
	v := NewVenue(VenueConfig{})
	v.SetPrice("AAPL", 10)

	req := marketReq("c1", "AAPL", 10)
	id, err := v.Accept(req)
	require.NoError(t, err)

	ch := make(chan gateway.Event, 4)
	done := make(chan struct{})
	defer close(done)
	v.Execute(id, req, func(ev gateway.Event) { ch <- ev }, done)
	awaitEvent(t, ch)

	now := time.Now().UTC()
	got := v.QueryFills(now.Add(-time.Minute), now.Add(time.Minute))
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].GatewayOrderID)

	assert.Empty(t, v.QueryFills(now.Add(time.Minute), now.Add(2*time.Minute)))
	assert.Empty(t, v.QueryFills(now.Add(-2*time.Hour), now.Add(-time.Hour)))
}

const venueRegistryYAML = `instruments:
  - symbol: AAPL
    lot_size: 1
    tick_size: 0.01
    commission:
      per_share: 0.01
      minimum: 0.5
`

func TestRegistryGatesSubmissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instruments.yaml")
	require.NoError(t, os.WriteFile(path, []byte(venueRegistryYAML), 0o644))
	reg, err := instrument.NewRegistry(path)
	require.NoError(t, err)

	v := NewVenue(VenueConfig{Registry: reg})
	v.SetPrice("AAPL", 10)

	_, err = v.Accept(marketReq("c1", "AAPL", 10.5))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lot size")

	req := marketReq("c2", "AAPL", 10)
	id, err := v.Accept(req)
	require.NoError(t, err)

	ch := make(chan gateway.Event, 4)
	done := make(chan struct{})
	defer close(done)
	v.Execute(id, req, func(ev gateway.Event) { ch <- ev }, done)

	ev := awaitEvent(t, ch)
	// 10 shares at 0.01 is 0.10, under the instrument's 0.50 minimum
	assert.Equal(t, 0.5, ev.Fill.Commission)
}
