// Package conn supervises the gateway session: connect with bounded
// retries and exponential backoff, watch the live session for drops,
// reconnect automatically, and fan out connect/disconnect notifications.
package conn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tradecore/internal/audit"
	"tradecore/internal/gateway"
	"tradecore/internal/logger"
)

type ConnectHandler func()

// DisconnectHandler receives the reason for the session end; nil means
// a solicited Disconnect.
type DisconnectHandler func(reason error)

// EventSink consumes non-lifecycle gateway events. The supervisor calls
// it from a single goroutine per session, in feed order.
type EventSink interface {
	HandleGatewayEvent(ev gateway.Event)
}

type Config struct {
	Session        gateway.SessionConfig
	ConnectTimeout time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCeiling time.Duration
	// AutoReconnect restores dropped sessions in the background.
	// DefaultConfig turns it on; a zero Config leaves it off.
	AutoReconnect bool
}

// DefaultConfig returns the stock supervisor tuning for a session.
func DefaultConfig(sess gateway.SessionConfig) Config {
	return Config{
		Session:        sess,
		ConnectTimeout: DefaultConnectTimeout,
		MaxAttempts:    DefaultMaxAttempts,
		BackoffBase:    DefaultBackoffBase,
		BackoffCeiling: DefaultBackoffCeiling,
		AutoReconnect:  true,
	}
}

func (c *Config) normalize() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCeiling <= 0 {
		c.BackoffCeiling = DefaultBackoffCeiling
	}
}

type Supervisor struct {
	adapter gateway.Adapter
	cfg     Config
	rec     audit.Recorder

	mu        sync.Mutex
	state     State
	gen       int64
	stopCh    chan struct{}
	connectHs []ConnectHandler
	disconnHs []DisconnectHandler
	sink      EventSink
	lastErr   error

	// wait sleeps between attempts; swapped out in tests.
	wait func(ctx context.Context, stop <-chan struct{}, d time.Duration) bool
}

func New(adapter gateway.Adapter, cfg Config, rec audit.Recorder) *Supervisor {
	cfg.normalize()
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Supervisor{
		adapter: adapter,
		cfg:     cfg,
		rec:     rec,
		wait:    waitRetry,
	}
}

// SetSink installs the consumer for gateway events. Install before
// Connect; events from a session with no sink are dropped.
func (s *Supervisor) SetSink(sink EventSink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

func (s *Supervisor) OnConnect(h ConnectHandler) {
	if h == nil {
		return
	}
	s.mu.Lock()
	s.connectHs = append(s.connectHs, h)
	s.mu.Unlock()
}

func (s *Supervisor) OnDisconnect(h DisconnectHandler) {
	if h == nil {
		return
	}
	s.mu.Lock()
	s.disconnHs = append(s.disconnHs, h)
	s.mu.Unlock()
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) IsConnected() bool {
	return s.State() == StateConnected
}

// LastError returns the error that drove the most recent FAILED state.
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Connect establishes the session, retrying with exponential backoff up
// to MaxAttempts. Already connected is a no-op; a cycle already running
// returns ErrConnectInProgress. On exhaustion the supervisor parks in
// FAILED until the next explicit Connect.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateConnected:
		s.mu.Unlock()
		return nil
	case StateConnecting, StateReconnecting:
		s.mu.Unlock()
		return ErrConnectInProgress
	}
	from := s.state
	s.state = StateConnecting
	stop := make(chan struct{})
	s.stopCh = stop
	s.mu.Unlock()
	s.announce(from, StateConnecting, "")

	return s.runCycle(ctx, stop, StateConnecting)
}

// Reconnect tears the session down and runs a fresh connect cycle.
func (s *Supervisor) Reconnect(ctx context.Context) error {
	if err := s.Disconnect(); err != nil {
		logger.Warnf("[conn] teardown before reconnect: %v", err)
	}
	return s.Connect(ctx)
}

// Disconnect ends the session (or aborts a running connect cycle) and
// suppresses auto-reconnect. Idempotent.
func (s *Supervisor) Disconnect() error {
	s.mu.Lock()
	if s.state == StateDisconnected || s.state == StateFailed {
		s.mu.Unlock()
		return nil
	}
	from := s.state
	wasConnected := s.state == StateConnected
	s.gen++
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	s.state = StateDisconnected
	dhs := append([]DisconnectHandler(nil), s.disconnHs...)
	s.mu.Unlock()
	s.announce(from, StateDisconnected, "disconnect requested")

	err := s.adapter.Disconnect()
	if wasConnected {
		s.runDisconnectHandlers(dhs, nil)
	}
	return err
}

// runCycle drives the attempt loop from the given transitional state.
// It ends in CONNECTED, FAILED, or DISCONNECTED (aborted).
func (s *Supervisor) runCycle(ctx context.Context, stop <-chan struct{}, via State) error {
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		select {
		case <-stop:
			return s.abort(via, ErrAborted)
		default:
		}
		if err := ctx.Err(); err != nil {
			return s.abort(via, fmt.Errorf("%w: %w", ErrAborted, err))
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		err := s.adapter.Connect(attemptCtx, s.cfg.Session)
		cancel()
		if err == nil {
			s.becomeConnected(via)
			return nil
		}
		lastErr = err
		logger.Warnf("[conn] %s attempt %d/%d failed: %v", s.adapter.Name(), attempt+1, s.cfg.MaxAttempts, err)

		delay := Delay(s.cfg.BackoffBase, s.cfg.BackoffCeiling, attempt)
		logger.Infof("[conn] backing off %s", delay)
		if !s.wait(ctx, stop, delay) {
			return s.abort(via, ErrAborted)
		}
	}

	s.mu.Lock()
	if s.state != via {
		// Disconnect won the race; leave its state alone.
		s.mu.Unlock()
		return ErrAborted
	}
	s.state = StateFailed
	s.lastErr = lastErr
	s.stopCh = nil
	s.mu.Unlock()
	s.announce(via, StateFailed, fmt.Sprintf("last error: %v", lastErr))
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, s.cfg.MaxAttempts, lastErr)
}

func (s *Supervisor) abort(via State, reason error) error {
	s.mu.Lock()
	if s.state != via {
		s.mu.Unlock()
		return reason
	}
	s.state = StateDisconnected
	s.stopCh = nil
	s.mu.Unlock()
	s.announce(via, StateDisconnected, reason.Error())
	return reason
}

func (s *Supervisor) becomeConnected(via State) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.state = StateConnected
	s.lastErr = nil
	chs := append([]ConnectHandler(nil), s.connectHs...)
	s.mu.Unlock()
	s.announce(via, StateConnected, "")

	events := s.adapter.Events()
	go s.watch(gen, events)
	for _, h := range chs {
		safeRun("connect", func() { h() })
	}
}

// watch consumes one session's feed: forwards order events to the sink
// and turns a feed close or disconnect event into the session-end path.
func (s *Supervisor) watch(gen int64, events <-chan gateway.Event) {
	reason := ErrSessionLost
	for ev := range events {
		if ev.Type == gateway.EventDisconnect {
			if ev.Reason != "" {
				reason = fmt.Errorf("%w: %s", ErrSessionLost, ev.Reason)
			}
			break
		}
		s.forward(ev)
	}
	s.sessionEnded(gen, reason)
}

func (s *Supervisor) forward(ev gateway.Event) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		logger.Warnf("[conn] dropping %s event for %s: no sink", ev.Type, ev.GatewayOrderID)
		return
	}
	safeRun("event", func() { sink.HandleGatewayEvent(ev) })
}

func (s *Supervisor) sessionEnded(gen int64, reason error) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateConnected {
		// solicited teardown or a stale watcher
		s.mu.Unlock()
		return
	}
	auto := s.cfg.AutoReconnect
	dhs := append([]DisconnectHandler(nil), s.disconnHs...)
	var next State
	var stop chan struct{}
	if auto {
		next = StateReconnecting
		stop = s.stopCh
	} else {
		next = StateDisconnected
		s.stopCh = nil
	}
	s.state = next
	s.mu.Unlock()
	s.announce(StateConnected, next, reason.Error())

	logger.Warnf("[conn] %s session lost: %v", s.adapter.Name(), reason)
	s.runDisconnectHandlers(dhs, reason)

	if auto {
		if err := s.runCycle(context.Background(), stop, StateReconnecting); err != nil {
			logger.Errorf("[conn] reconnect failed: %v", err)
		}
	}
}

func (s *Supervisor) runDisconnectHandlers(hs []DisconnectHandler, reason error) {
	for _, h := range hs {
		safeRun("disconnect", func() { h(reason) })
	}
}

func (s *Supervisor) announce(from, to State, detail string) {
	if from == to {
		return
	}
	logger.Infof("[conn] state %s -> %s", from, to)
	ev := audit.NewEvent(audit.KindConnState)
	ev.From = from.String()
	ev.To = to.String()
	ev.Detail = detail
	audit.Emit(s.rec, ev)
}

func safeRun(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[conn] %s handler panic: %v", name, r)
		}
	}()
	fn()
}

func waitRetry(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}
