package termstructure

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/GBERESEARCH/voldiscount/pkg/models"
	"github.com/sirupsen/logrus"
)

const daysPerYear = 365.0

// Fill picks the procedure matching where target falls relative to the
// observed rows: early extrapolation before the first, late extrapolation
// after the last, interpolation in between. A table that already holds
// target.Days is returned as is.
func (f *Filler) Fill(ts models.TermStructure, target Target) (models.TermStructure, error) {
	lo, ok := ts.MinDays()
	if !ok {
		return ts, f.insufficient("fill", target, ErrInsufficientData)
	}
	hi, _ := ts.MaxDays()

	switch {
	case ts.HasDays(target.Days):
		f.logger.WithFields(logrus.Fields{
			"expiry": formatDate(target.ExpiryDate),
			"days":   target.Days,
		}).Debug("Expiry already present in term structure")
		return ts, nil
	case target.Days < lo:
		return f.ExtrapolateEarly(ts, target)
	case target.Days > hi:
		return f.ExtrapolateLate(ts, target)
	default:
		return f.Interpolate(ts, target)
	}
}

// TargetFor converts an expiry date into a fill target relative to valuation.
// Both dates are reduced to their UTC calendar day before counting.
func TargetFor(valuation, expiry time.Time) Target {
	days := int(truncateDay(expiry).Sub(truncateDay(valuation)).Hours() / 24)
	return Target{
		ExpiryDate: truncateDay(expiry),
		Days:       days,
		Years:      float64(days) / daysPerYear,
	}
}

// FillExpiries fills every expiry not yet in ts, nearest first, feeding each
// result into the next fill. Failed fills are joined into the returned error;
// the returned table still holds every fill that succeeded.
func (f *Filler) FillExpiries(ts models.TermStructure, valuation time.Time, expiries []time.Time) (models.TermStructure, error) {
	targets := make([]Target, 0, len(expiries))
	seen := make(map[int]bool, len(expiries))
	for _, expiry := range expiries {
		target := TargetFor(valuation, expiry)
		if target.Days <= 0 {
			f.logger.WithFields(logrus.Fields{
				"expiry":    formatDate(target.ExpiryDate),
				"valuation": formatDate(valuation),
				"days":      target.Days,
			}).Warn("Skipping expiry on or before valuation date")
			continue
		}
		if seen[target.Days] {
			continue
		}
		seen[target.Days] = true
		targets = append(targets, target)
	}
	sort.Slice(targets, func(i, j int) bool {
		return targets[i].Days < targets[j].Days
	})

	var errs []error
	out := ts
	for _, target := range targets {
		next, err := f.Fill(out, target)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = next
	}

	if len(errs) > 0 {
		return out, fmt.Errorf("%d of %d expiries not filled: %w", len(errs), len(targets), errors.Join(errs...))
	}
	return out, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
