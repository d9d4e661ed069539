package conn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/gateway"
)

// fakeAdapter is a scriptable in-memory gateway session.
type fakeAdapter struct {
	mu        sync.Mutex
	dials     int
	failFirst int
	failAll   bool
	events    chan gateway.Event
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Connect(_ context.Context, _ gateway.SessionConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.failAll || f.dials <= f.failFirst {
		return errors.New("dial refused")
	}
	f.events = make(chan gateway.Event, 16)
	return nil
}

func (f *fakeAdapter) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.events != nil {
		close(f.events)
		f.events = nil
	}
	return nil
}

func (f *fakeAdapter) Submit(context.Context, gateway.OrderRequest) (string, error) {
	return "gw-1", nil
}

func (f *fakeAdapter) Events() <-chan gateway.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

func (f *fakeAdapter) QueryFills(context.Context, time.Time, time.Time) ([]gateway.VenueFill, error) {
	return nil, nil
}

func (f *fakeAdapter) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

// dropSession ends the live session without a solicited disconnect.
func (f *fakeAdapter) dropSession() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.events != nil {
		close(f.events)
		f.events = nil
	}
}

func newTestSupervisor(f *fakeAdapter, mutate func(*Config)) *Supervisor {
	cfg := DefaultConfig(gateway.SessionConfig{Host: "127.0.0.1", Port: 4001, SessionID: "s1"})
	cfg.ConnectTimeout = 100 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	s := New(f, cfg, nil)
	// no real sleeping in tests
	s.wait = func(context.Context, <-chan struct{}, time.Duration) bool { return true }
	return s
}

func TestConnectAndIdempotentReconnectCalls(t *testing.T) {
	f := &fakeAdapter{}
	s := newTestSupervisor(f, nil)

	var connects atomic.Int32
	s.OnConnect(func() { connects.Add(1) })

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StateConnected, s.State())
	assert.True(t, s.IsConnected())
	assert.Equal(t, int32(1), connects.Load())

	// already connected: no-op, no extra dial
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, 1, f.dialCount())
}

func TestConnectRetriesThenFailed(t *testing.T) {
	f := &fakeAdapter{failAll: true}
	s := newTestSupervisor(f, func(c *Config) {
		c.MaxAttempts = 4
		c.BackoffBase = time.Second
	})

	var delays []time.Duration
	s.wait = func(_ context.Context, _ <-chan struct{}, d time.Duration) bool {
		delays = append(delays, d)
		return true
	}

	err := s.Connect(context.Background())
	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, 4, f.dialCount())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, delays)
	assert.Error(t, s.LastError())

	// FAILED is terminal until an explicit Connect
	f.mu.Lock()
	f.failAll = false
	f.mu.Unlock()
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StateConnected, s.State())
}

func TestDisconnectIdempotent(t *testing.T) {
	f := &fakeAdapter{}
	s := newTestSupervisor(f, nil)

	var reasons []error
	var mu sync.Mutex
	s.OnDisconnect(func(reason error) {
		mu.Lock()
		reasons = append(reasons, reason)
		mu.Unlock()
	})

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Disconnect())
	assert.Equal(t, StateDisconnected, s.State())
	require.NoError(t, s.Disconnect())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reasons, 1, "handlers fire once per live session")
	assert.Nil(t, reasons[0], "solicited disconnect carries no reason")
}

func TestAutoReconnectAfterDrop(t *testing.T) {
	f := &fakeAdapter{}
	s := newTestSupervisor(f, nil)

	var connects, disconnects atomic.Int32
	s.OnConnect(func() { connects.Add(1) })
	s.OnDisconnect(func(reason error) {
		if reason != nil {
			disconnects.Add(1)
		}
	})

	require.NoError(t, s.Connect(context.Background()))
	f.dropSession()

	require.Eventually(t, func() bool {
		return s.State() == StateConnected && connects.Load() == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), disconnects.Load())
	assert.Equal(t, 2, f.dialCount())
}

func TestAutoReconnectExhaustionParksFailed(t *testing.T) {
	f := &fakeAdapter{}
	s := newTestSupervisor(f, func(c *Config) { c.MaxAttempts = 2 })

	require.NoError(t, s.Connect(context.Background()))

	f.mu.Lock()
	f.failAll = true
	f.mu.Unlock()
	f.dropSession()

	require.Eventually(t, func() bool {
		return s.State() == StateFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAutoReconnectDisabled(t *testing.T) {
	f := &fakeAdapter{}
	s := newTestSupervisor(f, func(c *Config) { c.AutoReconnect = false })

	require.NoError(t, s.Connect(context.Background()))
	f.dropSession()

	require.Eventually(t, func() bool {
		return s.State() == StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.dialCount())
}

func TestHandlerPanicIsolation(t *testing.T) {
	f := &fakeAdapter{}
	s := newTestSupervisor(f, nil)

	var ran atomic.Bool
	s.OnConnect(func() { panic("boom") })
	s.OnConnect(func() { ran.Store(true) })

	require.NoError(t, s.Connect(context.Background()))
	assert.True(t, ran.Load(), "second handler runs despite the first panicking")
}

type captureSink struct {
	mu  sync.Mutex
	evs []gateway.Event
}

func (c *captureSink) HandleGatewayEvent(ev gateway.Event) {
	c.mu.Lock()
	c.evs = append(c.evs, ev)
	c.mu.Unlock()
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.evs)
}

func TestEventForwarding(t *testing.T) {
	f := &fakeAdapter{}
	s := newTestSupervisor(f, nil)
	sink := &captureSink{}
	s.SetSink(sink)

	require.NoError(t, s.Connect(context.Background()))

	f.mu.Lock()
	f.events <- gateway.Event{Type: gateway.EventStatus, GatewayOrderID: "g1"}
	f.mu.Unlock()

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "g1", sink.evs[0].GatewayOrderID)
}

func TestDisconnectAbortsRetryCycle(t *testing.T) {
	f := &fakeAdapter{failAll: true}
	s := newTestSupervisor(f, func(c *Config) {
		c.MaxAttempts = 10
		c.BackoffBase = time.Hour // the abort must win, not the timer
	})
	s.wait = waitRetry

	errCh := make(chan error, 1)
	go func() { errCh <- s.Connect(context.Background()) }()

	require.Eventually(t, func() bool { return f.dialCount() >= 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Disconnect())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrAborted)
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not abort")
	}
	assert.Equal(t, StateDisconnected, s.State())
}
