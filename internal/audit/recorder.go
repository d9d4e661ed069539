package audit

import (
	"context"
	"errors"

	"tradecore/internal/logger"
)

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// Log writes events to the process log at debug level. Useful as a
// default sink when no journal is configured.
type Log struct{}

func (Log) Record(_ context.Context, ev Event) error {
	logger.Debugf("[audit] %s order=%s gw=%s %s->%s %s",
		ev.Kind, ev.OrderID, ev.GatewayOrderID, ev.From, ev.To, ev.Detail)
	return nil
}

// Multi fans one event out to several recorders. Every recorder sees the
// event even when an earlier one fails; errors are joined.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, ev Event) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emit records ev on r and logs a failure instead of returning it. The
// hot paths (engine, supervisor) use this so a broken sink cannot stall
// trading.
func Emit(r Recorder, ev Event) {
	if r == nil {
		return
	}
	if err := r.Record(context.Background(), ev); err != nil {
		logger.Errorf("[audit] record %s failed: %v", ev.Kind, err)
	}
}
