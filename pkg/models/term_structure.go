package models

import (
	"sort"
	"time"
)

type Method string

const (
	MethodInterpolated Method = "interpolated"
	MethodExtrapolated Method = "extrapolated"
)

// IsSynthesized reports whether the row was produced by a fill rather than observed.
func (m Method) IsSynthesized() bool {
	return m == MethodInterpolated || m == MethodExtrapolated
}

// TermPoint is one expiry of the discount-rate term structure.
type TermPoint struct {
	ExpiryDate   time.Time `json:"expiry_date"`
	Days         int       `json:"days"`
	Years        float64   `json:"years"`
	DiscountRate float64   `json:"discount_rate"`
	Method       Method    `json:"method"`

	// Absent unless carried by the source data or by both basis rows of a fill.
	ReferencePrice *float64 `json:"reference_price,omitempty"`
	ForwardRatio   *float64 `json:"forward_ratio,omitempty"`

	PutStrike  *float64 `json:"put_strike"`
	CallStrike *float64 `json:"call_strike"`
	PutPrice   *float64 `json:"put_price"`
	CallPrice  *float64 `json:"call_price"`
	PutIV      *float64 `json:"put_iv"`
	CallIV     *float64 `json:"call_iv"`
	IVDiff     *float64 `json:"iv_diff"`
}

// Clone returns a copy of p that shares no pointers with it.
func (p TermPoint) Clone() TermPoint {
	out := p
	out.ReferencePrice = cloneFloat(p.ReferencePrice)
	out.ForwardRatio = cloneFloat(p.ForwardRatio)
	out.PutStrike = cloneFloat(p.PutStrike)
	out.CallStrike = cloneFloat(p.CallStrike)
	out.PutPrice = cloneFloat(p.PutPrice)
	out.CallPrice = cloneFloat(p.CallPrice)
	out.PutIV = cloneFloat(p.PutIV)
	out.CallIV = cloneFloat(p.CallIV)
	out.IVDiff = cloneFloat(p.IVDiff)
	return out
}

// TermStructure is an ordered table of term points. Operations on it return new
// values and leave the receiver untouched.
type TermStructure []TermPoint

func (ts TermStructure) Len() int {
	return len(ts)
}

func (ts TermStructure) Clone() TermStructure {
	if ts == nil {
		return nil
	}
	out := make(TermStructure, len(ts), len(ts)+1)
	for i, p := range ts {
		out[i] = p.Clone()
	}
	return out
}

// WithPoint returns a new table holding every row of ts followed by p.
func (ts TermStructure) WithPoint(p TermPoint) TermStructure {
	out := ts.Clone()
	return append(out, p)
}

// Sorted returns a copy ordered by days. Rows with equal days keep their order.
func (ts TermStructure) Sorted() TermStructure {
	out := ts.Clone()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Days < out[j].Days
	})
	return out
}

func (ts TermStructure) HasDays(days int) bool {
	for _, p := range ts {
		if p.Days == days {
			return true
		}
	}
	return false
}

// MinDays returns the smallest days value, or false for an empty table.
func (ts TermStructure) MinDays() (int, bool) {
	if len(ts) == 0 {
		return 0, false
	}
	min := ts[0].Days
	for _, p := range ts[1:] {
		if p.Days < min {
			min = p.Days
		}
	}
	return min, true
}

// MaxDays returns the largest days value, or false for an empty table.
func (ts TermStructure) MaxDays() (int, bool) {
	if len(ts) == 0 {
		return 0, false
	}
	max := ts[0].Days
	for _, p := range ts[1:] {
		if p.Days > max {
			max = p.Days
		}
	}
	return max, true
}

// Float returns a pointer to v, for populating optional fields.
func Float(v float64) *float64 {
	return &v
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
