package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextWithOffset(t *testing.T) {
	s := NewAligned(24*time.Hour, 30*time.Minute)

	// inside the offset tail: today's slot is still due
	now := time.Date(2025, 3, 14, 0, 10, 0, 0, time.UTC)
	boundary, wakeAt := s.next(now)
	assert.Equal(t, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), boundary)
	assert.Equal(t, time.Date(2025, 3, 14, 0, 30, 0, 0, time.UTC), wakeAt)

	// past the offset: next day
	now = time.Date(2025, 3, 14, 0, 45, 0, 0, time.UTC)
	boundary, wakeAt = s.next(now)
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), boundary)
	assert.Equal(t, time.Date(2025, 3, 15, 0, 30, 0, 0, time.UTC), wakeAt)
}

func TestNextZeroOffset(t *testing.T) {
	s := NewAligned(time.Hour, 0)
	now := time.Date(2025, 3, 14, 10, 20, 0, 0, time.UTC)
	boundary, wakeAt := s.next(now)
	assert.Equal(t, time.Date(2025, 3, 14, 11, 0, 0, 0, time.UTC), boundary)
	assert.Equal(t, boundary, wakeAt)
}

func TestRunImmediately(t *testing.T) {
	s := NewAligned(time.Hour, 0)
	s.RunImmediately = true
	fixed := time.Date(2025, 3, 14, 10, 20, 0, 0, time.UTC)
	s.nowFn = func() time.Time { return fixed }

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan time.Time, 1)
	done := make(chan struct{})
	go func() {
		s.Run(ctx, func(boundary time.Time) {
			select {
			case got <- boundary:
			default:
			}
			cancel()
		})
		close(done)
	}()

	select {
	case b := <-got:
		assert.Equal(t, time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC), b)
	case <-time.After(time.Second):
		t.Fatal("immediate run did not happen")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on ctx cancel")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	s := NewAligned(time.Hour, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx, func(time.Time) { t.Error("task must not run") })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit")
	}
}
