package reportlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/reconcile"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleReport(id string, day time.Time, discs []reconcile.Discrepancy) *reconcile.Report {
	return &reconcile.Report{
		ID:            id,
		Day:           day,
		From:          day,
		To:            day.Add(24 * time.Hour),
		GeneratedAt:   day.Add(25 * time.Hour),
		LocalFills:    2,
		RemoteFills:   1,
		Matched:       []string{"gw-1"},
		Discrepancies: discs,
	}
}

func TestSaveAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, sampleReport("rep-1", day, nil)))

	got, err := s.Get(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, "rep-1", got.ID)
	assert.Equal(t, []string{"gw-1"}, got.Matched)
	assert.True(t, got.Day.Equal(day))
	assert.True(t, got.Clean())

	// Any time inside the day resolves to the same row.
	midday, err := s.Get(ctx, day.Add(13*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "rep-1", midday.ID)
}

func TestGetMissingDay(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRerunReplacesDay(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, sampleReport("rep-1", day, nil)))
	require.NoError(t, s.Save(ctx, sampleReport("rep-2", day, []reconcile.Discrepancy{{
		Kind:    reconcile.KindCommissionMismatch,
		OrderID: "gw-1",
	}})))

	got, err := s.Get(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, "rep-2", got.ID)
	require.Len(t, got.Discrepancies, 1)

	list, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].Discrepancies)
	assert.False(t, list[0].Clean)
}

func TestListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for _, offset := range []int{1, 0, 2} {
		day := base.Add(time.Duration(offset) * 24 * time.Hour)
		require.NoError(t, s.Save(ctx, sampleReport("rep-"+day.Format("02"), day, nil)))
	}

	list, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, base.Add(48*time.Hour), list[0].Day)
	assert.Equal(t, base.Add(24*time.Hour), list[1].Day)
	assert.Equal(t, base, list[2].Day)
	for _, sum := range list {
		assert.True(t, sum.Clean)
		assert.Equal(t, 1, sum.Matched)
	}
}

func TestSaveNilReport(t *testing.T) {
	s := openTestStore(t)
	require.Error(t, s.Save(context.Background(), nil))
}
