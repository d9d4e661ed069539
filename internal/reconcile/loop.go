package reconcile

import (
	"context"
	"time"

	"tradecore/internal/logger"
	"tradecore/internal/scheduler"
)

// Archiver persists finished reports. The report log satisfies it.
type Archiver interface {
	Save(ctx context.Context, rep *Report) error
}

// Loop runs a reconciliation once per UTC day, offset past midnight so
// the venue has flushed its own records, covering the day that just
// closed. Blocks until ctx is cancelled. A failed day is logged and the
// loop moves on; the day stays available for a manual ReconcileRange.
func (r *Reconciler) Loop(ctx context.Context, offset time.Duration, arch Archiver) {
	s := scheduler.NewAligned(24*time.Hour, offset)
	s.Run(ctx, func(boundary time.Time) {
		day := boundary.Add(-24 * time.Hour)
		rep, err := r.Reconcile(ctx, day)
		if err != nil {
			logger.Errorf("[reconcile] scheduled run for %s failed: %v", day.Format("2006-01-02"), err)
			return
		}
		if arch == nil {
			return
		}
		if err := arch.Save(ctx, rep); err != nil {
			logger.Errorf("[reconcile] archive report %s: %v", rep.ID, err)
		}
	})
}
