package termstructure

import (
	"fmt"
	"math"
	"time"

	"github.com/GBERESEARCH/voldiscount/pkg/models"
	"github.com/GBERESEARCH/voldiscount/pkg/params"
	"github.com/sirupsen/logrus"
)

// Long-dated extrapolated rates are held to this band regardless of the
// configured min_rate/max_rate.
const (
	lateRateFloor   = 0.0
	lateRateCeiling = 0.2
)

// Target identifies the expiry a fill should produce.
type Target struct {
	ExpiryDate time.Time `json:"expiry_date"`
	Days       int       `json:"days"`
	Years      float64   `json:"years"`
}

// Filler estimates missing points of a term structure. It holds no mutable
// state and may be shared between goroutines working on independent tables.
type Filler struct {
	params params.Params
	logger *logrus.Logger
	level  logrus.Level
}

func NewFiller(p params.Params, logger *logrus.Logger) *Filler {
	level := logrus.DebugLevel
	if p.Debug {
		level = logrus.InfoLevel
	}
	return &Filler{
		params: p,
		logger: logger,
		level:  level,
	}
}

func (f *Filler) Params() params.Params {
	return f.params
}

// Interpolate adds a row at target.Days by linear interpolation between the
// closest observations on either side. Without a row on both sides the table
// is returned unchanged together with ErrInsufficientData.
func (f *Filler) Interpolate(ts models.TermStructure, target Target) (models.TermStructure, error) {
	b, a := neighbors(ts, target.Days)
	if b == -1 || a == -1 {
		return ts, f.insufficient("interpolate", target, ErrInsufficientData)
	}
	before, after := ts[b], ts[a]

	width := after.Days - before.Days
	if width == 0 {
		return ts, f.insufficient("interpolate", target, ErrDegenerateGap)
	}
	frac := float64(target.Days-before.Days) / float64(width)
	lerp := func(lo, hi float64) float64 {
		return lo + frac*(hi-lo)
	}

	point := synthesize(target, lerp(before.DiscountRate, after.DiscountRate), models.MethodInterpolated)
	point.ReferencePrice = combine(before.ReferencePrice, after.ReferencePrice, lerp)
	point.ForwardRatio = combine(before.ForwardRatio, after.ForwardRatio, lerp)

	f.logger.WithFields(fillFields(point)).
		WithFields(basisFields("before", before)).
		WithFields(basisFields("after", after)).
		Log(f.level, "Interpolated rate")

	return ts.WithPoint(point), nil
}

// ExtrapolateEarly projects the line through the two lowest-days rows back to
// target.Days. The rate and both optional fields are floored at zero.
func (f *Filler) ExtrapolateEarly(ts models.TermStructure, target Target) (models.TermStructure, error) {
	if !f.enoughRows(ts) {
		return ts, f.insufficient("extrapolate early", target, ErrInsufficientData)
	}
	i, j := lowestTwo(ts)
	first, second := ts[i], ts[j]

	daysDiff := float64(second.Days - first.Days)
	if daysDiff == 0 {
		return ts, f.insufficient("extrapolate early", target, ErrDegenerateGap)
	}
	back := float64(first.Days - target.Days)
	project := func(anchor, other float64) float64 {
		slope := (other - anchor) / daysDiff
		return math.Max(0.0, anchor-back*slope)
	}

	point := synthesize(target, project(first.DiscountRate, second.DiscountRate), models.MethodExtrapolated)
	point.ReferencePrice = combine(first.ReferencePrice, second.ReferencePrice, project)
	point.ForwardRatio = combine(first.ForwardRatio, second.ForwardRatio, project)

	f.logger.WithFields(fillFields(point)).
		WithFields(basisFields("first", first)).
		WithFields(basisFields("second", second)).
		Log(f.level, "Extrapolated early rate")

	return ts.WithPoint(point), nil
}

// ExtrapolateLate projects the line through the two highest-days rows forward
// to target.Days. The rate is held to [0, 0.2]; reference price and forward
// ratio may grow without bound but never fall below the last observed value.
func (f *Filler) ExtrapolateLate(ts models.TermStructure, target Target) (models.TermStructure, error) {
	if !f.enoughRows(ts) {
		return ts, f.insufficient("extrapolate late", target, ErrInsufficientData)
	}
	i, j := highestTwo(ts)
	last, secondLast := ts[i], ts[j]

	daysDiff := float64(last.Days - secondLast.Days)
	if daysDiff == 0 {
		return ts, f.insufficient("extrapolate late", target, ErrDegenerateGap)
	}
	ahead := float64(target.Days - last.Days)
	project := func(anchor, other float64) float64 {
		return anchor + ahead*(anchor-other)/daysDiff
	}

	rate := project(last.DiscountRate, secondLast.DiscountRate)
	rate = math.Max(lateRateFloor, math.Min(lateRateCeiling, rate))

	point := synthesize(target, rate, models.MethodExtrapolated)
	floorAtLast := func(anchor, other float64) float64 {
		return math.Max(anchor, project(anchor, other))
	}
	point.ReferencePrice = combine(last.ReferencePrice, secondLast.ReferencePrice, floorAtLast)
	point.ForwardRatio = combine(last.ForwardRatio, secondLast.ForwardRatio, floorAtLast)

	f.logger.WithFields(fillFields(point)).
		WithFields(basisFields("second_last", secondLast)).
		WithFields(basisFields("last", last)).
		Log(f.level, "Extrapolated late rate")

	return ts.WithPoint(point), nil
}

func (f *Filler) enoughRows(ts models.TermStructure) bool {
	return len(ts) >= 2 && len(ts) >= f.params.MinOptionsPerExpiry
}

func (f *Filler) insufficient(op string, target Target, cause error) error {
	err := fmt.Errorf("cannot %s for %s (%d days): %w", op, formatDate(target.ExpiryDate), target.Days, cause)
	f.logger.WithFields(logrus.Fields{
		"expiry": formatDate(target.ExpiryDate),
		"days":   target.Days,
	}).WithError(err).Warn("Term structure fill skipped")
	return err
}

// synthesize builds a filled row. Option-market fields stay nil.
func synthesize(target Target, rate float64, method models.Method) models.TermPoint {
	return models.TermPoint{
		ExpiryDate:   target.ExpiryDate,
		Days:         target.Days,
		Years:        target.Years,
		DiscountRate: rate,
		Method:       method,
	}
}

// combine applies fn when both values are present and reports absence otherwise.
func combine(anchor, other *float64, fn func(anchor, other float64) float64) *float64 {
	if anchor == nil || other == nil {
		return nil
	}
	return models.Float(fn(*anchor, *other))
}

func fillFields(p models.TermPoint) logrus.Fields {
	fields := logrus.Fields{
		"expiry": formatDate(p.ExpiryDate),
		"days":   p.Days,
		"rate":   p.DiscountRate,
		"method": p.Method,
	}
	if p.ReferencePrice != nil {
		fields["reference_price"] = *p.ReferencePrice
	}
	if p.ForwardRatio != nil {
		fields["forward_ratio"] = *p.ForwardRatio
	}
	return fields
}

func basisFields(prefix string, p models.TermPoint) logrus.Fields {
	return logrus.Fields{
		prefix + "_expiry": formatDate(p.ExpiryDate),
		prefix + "_days":   p.Days,
		prefix + "_rate":   p.DiscountRate,
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "unknown expiry"
	}
	return t.Format("2006-01-02")
}
