// Package scheduler runs tasks at wall-clock-aligned instants. The
// reconciliation loop uses it to fire once per day, a configured offset
// after the UTC day boundary.
package scheduler

import (
	"context"
	"time"

	"tradecore/internal/logger"
)

type Aligned struct {
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewAligned(interval, offset time.Duration) *Aligned {
	return &Aligned{
		Interval: interval,
		Offset:   offset,
		nowFn:    time.Now,
	}
}

// Run blocks until ctx is done, invoking task once per aligned slot.
// The task receives the boundary the tick belongs to: with a 24h
// interval and 30m offset, the 00:30 UTC run is handed that midnight.
func (s *Aligned) Run(ctx context.Context, task func(boundary time.Time)) {
	if s == nil || task == nil {
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("[scheduler] invalid interval=%s, exit", s.Interval)
		return
	}
	if s.Offset < 0 {
		logger.Warnf("[scheduler] negative offset=%s, clamp to 0", s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	logger.Infof("[scheduler] started interval=%s offset=%s run_immediately=%v",
		s.Interval, s.Offset, s.RunImmediately)

	if s.RunImmediately {
		task(s.nowFn().UTC().Truncate(s.Interval))
	}

	for {
		now := s.nowFn().UTC()
		boundary, wakeAt := s.next(now)
		wait := wakeAt.Sub(now)
		logger.Infof("[scheduler] next run at %s (in %s)",
			wakeAt.Format(time.RFC3339), wait.Truncate(time.Second))

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				logger.Infof("[scheduler] ctx done, exit")
				return
			case <-timer.C:
			}
		}
		task(boundary)
	}
}

// next returns the upcoming boundary and the instant to wake for it.
func (s *Aligned) next(now time.Time) (boundary, wakeAt time.Time) {
	now = now.UTC()
	boundary = now.Truncate(s.Interval).Add(s.Interval)
	wakeAt = boundary.Add(s.Offset)
	// still inside the offset tail of the current slot
	if prev := boundary.Add(-s.Interval); prev.Add(s.Offset).After(now) {
		return prev, prev.Add(s.Offset)
	}
	return boundary, wakeAt
}
