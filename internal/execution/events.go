package execution

import (
	"errors"

	"tradecore/internal/gateway"
	"tradecore/internal/logger"
	"tradecore/internal/order"
)

// HandleGatewayEvent is the supervisor's sink: every session event lands
// here on a single goroutine and is serialized into the ledger.
func (e *Engine) HandleGatewayEvent(ev gateway.Event) {
	switch ev.Type {
	case gateway.EventFill:
		if ev.Fill == nil {
			logger.Warnf("[engine] fill event without body for %s", ev.GatewayOrderID)
			return
		}
		e.adopt(ev.GatewayOrderID, ev.ClientOrderID)
		e.HandleFill(ev.GatewayOrderID, *ev.Fill)
	case gateway.EventStatus:
		e.adopt(ev.GatewayOrderID, ev.ClientOrderID)
		e.applyVenueStatus(ev.GatewayOrderID, ev.Status, ev.Reason)
	case gateway.EventError:
		e.adopt(ev.GatewayOrderID, ev.ClientOrderID)
		reason := ev.Reason
		if reason == "" {
			reason = "gateway error"
		}
		e.HandleError(ev.GatewayOrderID, errors.New(reason))
	case gateway.EventDisconnect:
		// session lifecycle belongs to the supervisor
	}
}

// adopt binds a gateway id to a record the venue identified by client id.
// Executions can reference an order before its ack was processed; the
// binding makes the gateway-id lookups below work anyway.
func (e *Engine) adopt(gatewayID, clientID string) {
	if gatewayID == "" || clientID == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byGateway[gatewayID]; ok {
		return
	}
	rec, ok := e.byID[clientID]
	if !ok || rec.GatewayID != "" {
		return
	}
	rec.GatewayID = gatewayID
	e.byGateway[gatewayID] = rec
	logger.Debugf("[engine] bound %s to gateway id %s from event", clientID, gatewayID)
}

// HandleFill applies one execution to the record behind gatewayOrderID:
// append, recompute aggregates, move to PARTIALLY_FILLED or FILLED, then
// run fill (and possibly status) callbacks. Fills for unknown or
// terminal records are logged and dropped.
func (e *Engine) HandleFill(gatewayOrderID string, f order.Fill) {
	e.mu.Lock()
	rec := e.byGateway[gatewayOrderID]
	if rec == nil {
		e.dropped++
		e.mu.Unlock()
		logger.Warnf("[engine] fill for unknown order %s ignored", gatewayOrderID)
		return
	}
	if rec.Status.Terminal() {
		e.dropped++
		e.mu.Unlock()
		logger.Warnf("[engine] fill for %s ignored: record already %s", rec.ID, rec.Status)
		return
	}
	from := rec.Status
	rec.ApplyFill(f)
	to := order.StatusPartiallyFilled
	if rec.FullyFilled() {
		to = order.StatusFilled
	}
	if rec.Status != to && rec.Status.CanTransitionTo(to) {
		rec.Status = to
	}
	snap := rec.Clone()
	e.mu.Unlock()

	logger.Infof("[engine] %s filled %v @ %v (total %v/%v)",
		snap.ID, f.Quantity, f.Price, snap.FilledQuantity, snap.Order.Quantity)
	e.auditFill(snap, f)
	e.fireFill(snap, f)
	if from != snap.Status {
		e.auditStatus(snap, from, snap.Status, "fill")
		e.fireStatus(snap, from)
	}
}

// HandleError marks the record errored, bumps its retry count and
// reports the next backoff to the error callbacks. Resubmission stays
// with the caller.
func (e *Engine) HandleError(gatewayOrderID string, gatewayErr error) {
	if gatewayErr == nil {
		return
	}
	e.applyError(gatewayOrderID, gatewayErr)
}

// applyError is shared by HandleError and the synchronous submit-failure
// path; id may be a ledger id or a gateway id.
func (e *Engine) applyError(id string, gatewayErr error) {
	e.mu.Lock()
	rec := e.byID[id]
	if rec == nil {
		rec = e.byGateway[id]
	}
	if rec == nil {
		e.dropped++
		e.mu.Unlock()
		logger.Warnf("[engine] error for unknown order %s ignored: %v", id, gatewayErr)
		return
	}
	if rec.Status.Terminal() {
		e.dropped++
		e.mu.Unlock()
		logger.Warnf("[engine] error for %s ignored: record already %s", rec.ID, rec.Status)
		return
	}
	from := rec.Status
	transitioned := false
	if rec.Status != order.StatusError && rec.Status.CanTransitionTo(order.StatusError) {
		rec.Status = order.StatusError
		transitioned = true
	}
	rec.RetryCount++
	rec.LastError = gatewayErr.Error()
	rec.UpdatedAt = e.now().UTC()
	retryIn := e.retryDelay(rec.RetryCount)
	snap := rec.Clone()
	e.mu.Unlock()

	logger.Warnf("[engine] %s errored: %v (retry eligible in %s)", snap.ID, gatewayErr, retryIn)
	e.auditOrderError(snap, gatewayErr.Error(), retryIn)
	if transitioned {
		e.auditStatus(snap, from, order.StatusError, "gateway error")
		e.fireStatus(snap, from)
	}
	e.fireError(snap, gatewayErr, retryIn)
}

// applyVenueStatus applies a venue-driven lifecycle move, e.g. a cancel
// confirmed by the gateway. Illegal moves are logged and dropped.
func (e *Engine) applyVenueStatus(gatewayOrderID string, to order.Status, reason string) {
	if to == "" {
		return
	}
	e.mu.Lock()
	rec := e.byGateway[gatewayOrderID]
	if rec == nil {
		e.dropped++
		e.mu.Unlock()
		logger.Warnf("[engine] status %s for unknown order %s ignored", to, gatewayOrderID)
		return
	}
	if rec.Status == to {
		e.mu.Unlock()
		return
	}
	if !rec.Status.CanTransitionTo(to) {
		e.dropped++
		e.mu.Unlock()
		logger.Warnf("[engine] status %s for %s ignored: record is %s", to, rec.ID, rec.Status)
		return
	}
	from := rec.Status
	rec.Status = to
	rec.UpdatedAt = e.now().UTC()
	snap := rec.Clone()
	e.mu.Unlock()

	logger.Infof("[engine] %s status %s -> %s (%s)", snap.ID, from, to, reason)
	e.auditStatus(snap, from, to, reason)
	e.fireStatus(snap, from)
}
