package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Record is the ledger entry the engine keeps per accepted submission.
// ID is assigned locally at accept time; GatewayID arrives with the
// acknowledgement. Aggregates are recomputed from Fills on every append,
// so they are always consistent with the fill list.
type Record struct {
	ID        string `json:"id"`
	GatewayID string `json:"gateway_id,omitempty"`
	Order     Order  `json:"order"`
	Status    Status `json:"status"`

	Fills          []Fill  `json:"fills,omitempty"`
	FilledQuantity float64 `json:"filled_quantity"`
	AvgFillPrice   float64 `json:"avg_fill_price"`
	Commission     float64 `json:"commission"`

	RetryCount int    `json:"retry_count,omitempty"`
	LastError  string `json:"last_error,omitempty"`

	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewRecord builds a PENDING record for an accepted submission.
func NewRecord(o Order, at time.Time) *Record {
	return &Record{
		ID:          uuid.NewString(),
		Order:       o,
		Status:      StatusPending,
		SubmittedAt: at,
		UpdatedAt:   at,
	}
}

// ApplyFill appends f and recomputes the aggregates. It does not touch
// Status; lifecycle decisions belong to the engine.
func (r *Record) ApplyFill(f Fill) {
	r.Fills = append(r.Fills, f)
	r.recompute()
	if f.At.After(r.UpdatedAt) {
		r.UpdatedAt = f.At
	}
}

// Remaining returns the unfilled quantity, never below zero.
func (r *Record) Remaining() float64 {
	rem := decimal.NewFromFloat(r.Order.Quantity).Sub(decimal.NewFromFloat(r.FilledQuantity))
	if rem.IsNegative() {
		return 0
	}
	return rem.InexactFloat64()
}

// FullyFilled reports whether the fill total covers the ordered quantity.
func (r *Record) FullyFilled() bool {
	return decimal.NewFromFloat(r.FilledQuantity).
		Cmp(decimal.NewFromFloat(r.Order.Quantity)) >= 0
}

// recompute rebuilds filled quantity, VWAP and commission from the fill
// list. Sums run in decimal so the usual float artifacts (0.1+0.2) do
// not leak into the ledger.
func (r *Record) recompute() {
	qty := decimal.Zero
	notional := decimal.Zero
	comm := decimal.Zero
	for _, f := range r.Fills {
		q := decimal.NewFromFloat(f.Quantity)
		qty = qty.Add(q)
		notional = notional.Add(q.Mul(decimal.NewFromFloat(f.Price)))
		comm = comm.Add(decimal.NewFromFloat(f.Commission))
	}
	r.FilledQuantity = qty.InexactFloat64()
	if qty.IsPositive() {
		r.AvgFillPrice = notional.Div(qty).InexactFloat64()
	} else {
		r.AvgFillPrice = 0
	}
	r.Commission = comm.InexactFloat64()
}

// Clone returns a deep copy safe to hand outside the engine lock.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if len(r.Fills) > 0 {
		cp.Fills = make([]Fill, len(r.Fills))
		copy(cp.Fills, r.Fills)
	}
	return &cp
}
