// Package reconcile compares the local fill ledger against the
// gateway's record of executions for a trading day and reports every
// divergence. It is strictly observational: nothing here mutates engine
// or gateway state.
package reconcile

import (
	"time"

	"github.com/shopspring/decimal"
)

type DiscrepancyKind string

// KindMissingLocal flags a gateway fill the ledger never saw and
// KindMissingRemote the inverse; the mismatch kinds mean both sides
// know the order but their aggregates disagree.
const (
	KindMissingLocal       DiscrepancyKind = "MISSING_LOCAL"
	KindMissingRemote      DiscrepancyKind = "MISSING_REMOTE"
	KindQuantityMismatch   DiscrepancyKind = "QUANTITY_MISMATCH"
	KindPriceMismatch      DiscrepancyKind = "PRICE_MISMATCH"
	KindCommissionMismatch DiscrepancyKind = "COMMISSION_MISMATCH"
)

// Discrepancy is one finding. For missing-fill kinds the populated side
// carries the fill's own numbers; for mismatch kinds both sides carry
// per-order aggregates (total quantity, VWAP, commission sum). Remote
// always means the gateway's side.
type Discrepancy struct {
	Kind             DiscrepancyKind `json:"kind"`
	OrderID          string          `json:"order_id"`
	Symbol           string          `json:"symbol,omitempty"`
	LocalQuantity    float64         `json:"local_quantity,omitempty"`
	RemoteQuantity   float64         `json:"remote_quantity,omitempty"`
	LocalPrice       float64         `json:"local_price,omitempty"`
	RemotePrice      float64         `json:"remote_price,omitempty"`
	LocalCommission  float64         `json:"local_commission,omitempty"`
	RemoteCommission float64         `json:"remote_commission,omitempty"`
	Detail           string          `json:"detail,omitempty"`
}

// Tolerances bound the aggregate comparisons. Absolute values, never
// percentages; quantity is always compared exactly.
type Tolerances struct {
	Price      float64
	Commission float64
}

const (
	DefaultPriceTolerance      = 0.01
	DefaultCommissionTolerance = 0.01
)

func (t *Tolerances) normalize() {
	if t.Price <= 0 {
		t.Price = DefaultPriceTolerance
	}
	if t.Commission <= 0 {
		t.Commission = DefaultCommissionTolerance
	}
}

// Report covers one calendar day (UTC).
type Report struct {
	ID            string        `json:"id"`
	Day           time.Time     `json:"day"`
	From          time.Time     `json:"from"`
	To            time.Time     `json:"to"`
	GeneratedAt   time.Time     `json:"generated_at"`
	LocalFills    int           `json:"local_fills"`
	RemoteFills   int           `json:"remote_fills"`
	Matched       []string      `json:"matched,omitempty"`
	Discrepancies []Discrepancy `json:"discrepancies,omitempty"`
}

// Clean reports whether the day reconciled without findings.
func (r *Report) Clean() bool {
	return len(r.Discrepancies) == 0
}

// withinTolerance compares two float totals under an absolute bound,
// in decimal so representation noise does not flip the verdict.
func withinTolerance(a, b, tol float64) bool {
	diff := decimal.NewFromFloat(a).Sub(decimal.NewFromFloat(b)).Abs()
	return diff.Cmp(decimal.NewFromFloat(tol)) <= 0
}
