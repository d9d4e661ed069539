package journal

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/audit"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func statusEvent(id, orderID string, at time.Time, from, to string) audit.Event {
	return audit.Event{
		ID:      id,
		Kind:    audit.KindOrderStatus,
		At:      at,
		OrderID: orderID,
		From:    from,
		To:      to,
	}
}

func TestRecordAndListByOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, statusEvent("ev-1", "ord-1", base, "", "PENDING")))
	require.NoError(t, s.Record(ctx, audit.Event{
		ID:             "ev-2",
		Kind:           audit.KindOrderFill,
		At:             base.Add(time.Minute),
		OrderID:        "ord-1",
		GatewayOrderID: "gw-9",
		Symbol:         "aapl",
		Payload:        map[string]any{"quantity": 60, "price": 10.0},
	}))
	require.NoError(t, s.Record(ctx, statusEvent("ev-3", "ord-2", base.Add(2*time.Minute), "PENDING", "SUBMITTED")))

	got, err := s.ListByOrder(ctx, "ord-1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ev-1", got[0].ID)
	assert.Equal(t, "ev-2", got[1].ID)
	assert.Equal(t, "AAPL", got[1].Symbol)
	assert.Equal(t, base.Add(time.Minute), got[1].At)

	payload, ok := got[1].Payload.(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"quantity":60,"price":10}`, string(payload))
}

func TestListByOrderMatchesGatewayID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, audit.Event{
		ID:             "ev-1",
		Kind:           audit.KindOrderStatus,
		At:             at,
		OrderID:        "ord-1",
		GatewayOrderID: "gw-42",
		From:           "PENDING",
		To:             "SUBMITTED",
	}))

	got, err := s.ListByOrder(ctx, "gw-42", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ord-1", got[0].OrderID)
}

func TestListSince(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		ev := statusEvent("ev-"+string(rune('a'+i)), "ord-1",
			base.Add(time.Duration(i)*time.Hour), "", "PENDING")
		require.NoError(t, s.Record(ctx, ev))
	}

	got, err := s.ListSince(ctx, base.Add(30*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ev-b", got[0].ID)
	assert.Equal(t, "ev-c", got[1].ID)

	all, err := s.ListSince(ctx, time.Time{}, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCountByKind(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, statusEvent("ev-1", "ord-1", at, "", "PENDING")))
	require.NoError(t, s.Record(ctx, statusEvent("ev-2", "ord-1", at, "PENDING", "SUBMITTED")))
	require.NoError(t, s.Record(ctx, audit.Event{ID: "ev-3", Kind: audit.KindConnState, At: at}))

	counts, err := s.CountByKind(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[audit.KindOrderStatus])
	assert.Equal(t, int64(1), counts[audit.KindConnState])
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}
