package termstructure

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/GBERESEARCH/voldiscount/pkg/models"
	"github.com/GBERESEARCH/voldiscount/pkg/params"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

const tol = 1e-12

var valuation = time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

func row(days int, rate float64) models.TermPoint {
	return models.TermPoint{
		ExpiryDate:   valuation.AddDate(0, 0, days),
		Days:         days,
		Years:        float64(days) / 365.0,
		DiscountRate: rate,
		Method:       "direct",
	}
}

func target(days int) Target {
	return Target{
		ExpiryDate: valuation.AddDate(0, 0, days),
		Days:       days,
		Years:      float64(days) / 365.0,
	}
}

func newTestFiller(t *testing.T, overrides map[string]interface{}) (*Filler, *test.Hook) {
	t.Helper()
	p, err := params.Resolve(overrides)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	logger, hook := test.NewNullLogger()
	return NewFiller(p, logger), hook
}

func lastRow(ts models.TermStructure) models.TermPoint {
	return ts[len(ts)-1]
}

func TestInterpolateMidpoint(t *testing.T) {
	f, hook := newTestFiller(t, nil)
	ts := models.TermStructure{row(10, 0.02), row(30, 0.04)}

	out, err := f.Interpolate(ts, target(20))
	if err != nil {
		t.Fatalf("Interpolate error: %v", err)
	}
	if out.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", out.Len())
	}
	got := lastRow(out)
	if math.Abs(got.DiscountRate-0.03) > tol {
		t.Fatalf("rate mismatch: got %.12f want 0.03", got.DiscountRate)
	}
	if got.Method != models.MethodInterpolated {
		t.Fatalf("method: got %q", got.Method)
	}
	if got.Days != 20 || math.Abs(got.Years-20.0/365.0) > tol {
		t.Fatalf("target not copied: days=%d years=%f", got.Days, got.Years)
	}
	if got.PutStrike != nil || got.CallIV != nil || got.IVDiff != nil {
		t.Fatal("option-market fields should be nil on a synthesized row")
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.InfoLevel {
		t.Fatalf("expected an info diagnostic, got %+v", entry)
	}
	if entry.Data["before_days"] != 10 || entry.Data["after_days"] != 30 {
		t.Fatalf("diagnostic basis rows: %+v", entry.Data)
	}
}

func TestInterpolatePicksClosestNeighbours(t *testing.T) {
	f, _ := newTestFiller(t, nil)
	ts := models.TermStructure{row(90, 0.09), row(10, 0.01), row(40, 0.04), row(20, 0.02), row(60, 0.05)}

	out, err := f.Interpolate(ts, target(50))
	if err != nil {
		t.Fatalf("Interpolate error: %v", err)
	}
	if got := lastRow(out).DiscountRate; math.Abs(got-0.045) > tol {
		t.Fatalf("rate mismatch: got %.12f want 0.045", got)
	}
}

func TestInterpolateInsufficientData(t *testing.T) {
	tests := []struct {
		name string
		ts   models.TermStructure
		days int
	}{
		{"nothing before", models.TermStructure{row(10, 0.02), row(30, 0.04)}, 5},
		{"nothing after", models.TermStructure{row(10, 0.02), row(30, 0.04)}, 31},
		{"only exact match", models.TermStructure{row(10, 0.02)}, 10},
		{"empty table", models.TermStructure{}, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, hook := newTestFiller(t, nil)

			out, err := f.Interpolate(tt.ts, target(tt.days))
			if !errors.Is(err, ErrInsufficientData) {
				t.Fatalf("expected ErrInsufficientData, got %v", err)
			}
			if out.Len() != tt.ts.Len() {
				t.Fatalf("row count changed: got %d want %d", out.Len(), tt.ts.Len())
			}
			if entry := hook.LastEntry(); entry == nil || entry.Level != logrus.WarnLevel {
				t.Fatalf("expected a warning diagnostic, got %+v", entry)
			}
		})
	}
}

func TestInterpolateOptionalFields(t *testing.T) {
	f, _ := newTestFiller(t, nil)

	before := row(10, 0.02)
	before.ReferencePrice = models.Float(100)
	before.ForwardRatio = models.Float(1.00)
	after := row(30, 0.04)
	after.ReferencePrice = models.Float(104)

	out, err := f.Interpolate(models.TermStructure{before, after}, target(15))
	if err != nil {
		t.Fatalf("Interpolate error: %v", err)
	}
	got := lastRow(out)
	if got.ReferencePrice == nil || math.Abs(*got.ReferencePrice-101) > tol {
		t.Fatalf("reference price: got %v want 101", got.ReferencePrice)
	}
	if got.ForwardRatio != nil {
		t.Fatalf("forward ratio should be absent, got %f", *got.ForwardRatio)
	}
}

func TestExtrapolateEarly(t *testing.T) {
	f, hook := newTestFiller(t, nil)

	first := row(10, 0.02)
	first.ReferencePrice = models.Float(100)
	first.ForwardRatio = models.Float(1.01)
	second := row(20, 0.03)
	second.ReferencePrice = models.Float(110)
	second.ForwardRatio = models.Float(1.02)
	ts := models.TermStructure{row(60, 0.05), second, first}

	out, err := f.ExtrapolateEarly(ts, target(5))
	if err != nil {
		t.Fatalf("ExtrapolateEarly error: %v", err)
	}
	got := lastRow(out)
	if math.Abs(got.DiscountRate-0.015) > tol {
		t.Errorf("rate: got %.12f want 0.015", got.DiscountRate)
	}
	if got.ReferencePrice == nil || math.Abs(*got.ReferencePrice-95) > 1e-9 {
		t.Errorf("reference price: got %v want 95", got.ReferencePrice)
	}
	if got.ForwardRatio == nil || math.Abs(*got.ForwardRatio-1.005) > 1e-9 {
		t.Errorf("forward ratio: got %v want 1.005", got.ForwardRatio)
	}
	if got.Method != models.MethodExtrapolated {
		t.Errorf("method: got %q", got.Method)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Data["first_days"] != 10 || entry.Data["second_days"] != 20 {
		t.Fatalf("diagnostic basis rows: %+v", entry)
	}
}

func TestExtrapolateEarlyFloorsAtZero(t *testing.T) {
	f, _ := newTestFiller(t, nil)

	first := row(10, 0.01)
	first.ReferencePrice = models.Float(10)
	second := row(20, 0.05)
	second.ReferencePrice = models.Float(30)

	out, err := f.ExtrapolateEarly(models.TermStructure{first, second}, target(0))
	if err != nil {
		t.Fatalf("ExtrapolateEarly error: %v", err)
	}
	got := lastRow(out)
	if got.DiscountRate != 0.0 {
		t.Errorf("rate should clamp to 0, got %.12f", got.DiscountRate)
	}
	if got.ReferencePrice == nil || *got.ReferencePrice != 0.0 {
		t.Errorf("reference price should clamp to 0, got %v", got.ReferencePrice)
	}
}

func TestExtrapolateLate(t *testing.T) {
	f, hook := newTestFiller(t, nil)

	secondLast := row(300, 0.03)
	secondLast.ForwardRatio = models.Float(1.01)
	last := row(400, 0.04)
	last.ForwardRatio = models.Float(1.02)
	ts := models.TermStructure{last, row(100, 0.01), secondLast}

	out, err := f.ExtrapolateLate(ts, target(500))
	if err != nil {
		t.Fatalf("ExtrapolateLate error: %v", err)
	}
	got := lastRow(out)
	if math.Abs(got.DiscountRate-0.05) > tol {
		t.Errorf("rate: got %.12f want 0.05", got.DiscountRate)
	}
	if got.ForwardRatio == nil || math.Abs(*got.ForwardRatio-1.03) > 1e-9 {
		t.Errorf("forward ratio: got %v want 1.03", got.ForwardRatio)
	}
	if got.ReferencePrice != nil {
		t.Errorf("reference price should be absent, got %f", *got.ReferencePrice)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Data["last_days"] != 400 || entry.Data["second_last_days"] != 300 {
		t.Fatalf("diagnostic basis rows: %+v", entry)
	}
}

func TestExtrapolateLateClampsRate(t *testing.T) {
	tests := []struct {
		name string
		ts   models.TermStructure
		days int
		want float64
	}{
		{"ceiling", models.TermStructure{row(300, 0.05), row(365, 0.18)}, 730, 0.2},
		{"floor", models.TermStructure{row(300, 0.05), row(365, 0.01)}, 730, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _ := newTestFiller(t, nil)
			out, err := f.ExtrapolateLate(tt.ts, target(tt.days))
			if err != nil {
				t.Fatalf("ExtrapolateLate error: %v", err)
			}
			if got := lastRow(out).DiscountRate; got != tt.want {
				t.Fatalf("rate: got %.12f want %.12f", got, tt.want)
			}
		})
	}
}

func TestExtrapolateLateRateBandIgnoresConfiguredBounds(t *testing.T) {
	f, _ := newTestFiller(t, map[string]interface{}{"max_rate": 0.5})
	out, err := f.ExtrapolateLate(models.TermStructure{row(300, 0.05), row(365, 0.18)}, target(730))
	if err != nil {
		t.Fatalf("ExtrapolateLate error: %v", err)
	}
	if got := lastRow(out).DiscountRate; got != 0.2 {
		t.Fatalf("rate: got %.12f want 0.2", got)
	}
}

func TestExtrapolateLateReferencePriceNeverDeclines(t *testing.T) {
	f, _ := newTestFiller(t, nil)

	secondLast := row(300, 0.05)
	secondLast.ReferencePrice = models.Float(105)
	last := row(365, 0.05)
	last.ReferencePrice = models.Float(100)

	out, err := f.ExtrapolateLate(models.TermStructure{secondLast, last}, target(430))
	if err != nil {
		t.Fatalf("ExtrapolateLate error: %v", err)
	}
	got := lastRow(out)
	if got.ReferencePrice == nil || *got.ReferencePrice != 100.0 {
		t.Fatalf("reference price: got %v want 100", got.ReferencePrice)
	}
}

func TestOptionalFieldOmittedWhenOneSideMissing(t *testing.T) {
	withRatio := row(10, 0.02)
	withRatio.ForwardRatio = models.Float(1.01)
	ts := models.TermStructure{withRatio, row(30, 0.04)}

	ops := map[string]func(*Filler, models.TermStructure, Target) (models.TermStructure, error){
		"interpolate": (*Filler).Interpolate,
		"early":       (*Filler).ExtrapolateEarly,
		"late":        (*Filler).ExtrapolateLate,
	}
	targets := map[string]int{"interpolate": 20, "early": 5, "late": 60}

	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			f, _ := newTestFiller(t, nil)
			out, err := op(f, ts, target(targets[name]))
			if err != nil {
				t.Fatalf("%s error: %v", name, err)
			}
			if got := lastRow(out); got.ForwardRatio != nil {
				t.Fatalf("forward ratio should be absent, got %f", *got.ForwardRatio)
			}
		})
	}
}

func TestOperationsDoNotMutateInput(t *testing.T) {
	build := func() models.TermStructure {
		a := row(30, 0.04)
		a.ReferencePrice = models.Float(102)
		b := row(10, 0.02)
		b.ReferencePrice = models.Float(100)
		c := row(90, 0.06)
		c.ReferencePrice = models.Float(106)
		return models.TermStructure{a, b, c}
	}

	cases := []struct {
		name string
		op   func(*Filler, models.TermStructure, Target) (models.TermStructure, error)
		days int
	}{
		{"interpolate", (*Filler).Interpolate, 20},
		{"early", (*Filler).ExtrapolateEarly, 5},
		{"late", (*Filler).ExtrapolateLate, 120},
		{"interpolate insufficient", (*Filler).Interpolate, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, _ := newTestFiller(t, nil)
			ts := build()
			out, _ := tc.op(f, ts, target(tc.days))

			if !reflect.DeepEqual(ts, build()) {
				t.Fatalf("input table modified: %+v", ts)
			}
			if out.Len() < ts.Len() || out.Len() > ts.Len()+1 {
				t.Fatalf("unexpected output length %d", out.Len())
			}
			if !reflect.DeepEqual(out[:ts.Len()], ts) {
				t.Fatalf("existing rows differ in output")
			}
			if out.Len() > ts.Len() {
				*out[0].ReferencePrice = -1
				if *ts[0].ReferencePrice != 102 {
					t.Fatal("output shares optional-field storage with input")
				}
			}
		})
	}
}

func TestExtrapolatorsRespectMinimumRows(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]interface{}
		ts        models.TermStructure
	}{
		{"default needs two rows", nil, models.TermStructure{row(10, 0.02)}},
		{"empty table", nil, models.TermStructure{}},
		{"configured minimum", map[string]interface{}{"min_options_per_expiry": 3}, models.TermStructure{row(10, 0.02), row(20, 0.03)}},
		{"minimum below two still needs two rows", map[string]interface{}{"min_options_per_expiry": 1}, models.TermStructure{row(10, 0.02)}},
	}

	for _, tt := range tests {
		for _, days := range []int{1, 15, 400} {
			f, _ := newTestFiller(t, tt.overrides)

			out, err := f.ExtrapolateEarly(tt.ts, target(days))
			if !errors.Is(err, ErrInsufficientData) || out.Len() != tt.ts.Len() {
				t.Errorf("%s: early at %d days: len=%d err=%v", tt.name, days, out.Len(), err)
			}
			out, err = f.ExtrapolateLate(tt.ts, target(days))
			if !errors.Is(err, ErrInsufficientData) || out.Len() != tt.ts.Len() {
				t.Errorf("%s: late at %d days: len=%d err=%v", tt.name, days, out.Len(), err)
			}
		}
	}
}

func TestExtrapolatorsRejectDuplicateDays(t *testing.T) {
	f, _ := newTestFiller(t, nil)

	early := models.TermStructure{row(10, 0.02), row(10, 0.03), row(40, 0.05)}
	out, err := f.ExtrapolateEarly(early, target(5))
	if !errors.Is(err, ErrDegenerateGap) || !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("early: expected ErrDegenerateGap, got %v", err)
	}
	if out.Len() != early.Len() {
		t.Fatalf("early: row count changed to %d", out.Len())
	}

	late := models.TermStructure{row(10, 0.02), row(40, 0.03), row(40, 0.05)}
	out, err = f.ExtrapolateLate(late, target(60))
	if !errors.Is(err, ErrDegenerateGap) {
		t.Fatalf("late: expected ErrDegenerateGap, got %v", err)
	}
	if out.Len() != late.Len() {
		t.Fatalf("late: row count changed to %d", out.Len())
	}
}

func TestDebugOffLogsFillsAtDebugLevel(t *testing.T) {
	f, hook := newTestFiller(t, map[string]interface{}{"debug": false})

	if _, err := f.Interpolate(models.TermStructure{row(10, 0.02), row(30, 0.04)}, target(20)); err != nil {
		t.Fatalf("Interpolate error: %v", err)
	}
	if n := len(hook.AllEntries()); n != 0 {
		t.Fatalf("expected no entries at info level, got %d", n)
	}
}

func TestLowestAndHighestTwo(t *testing.T) {
	ts := models.TermStructure{row(50, 0), row(10, 0), row(90, 0), row(20, 0), row(70, 0)}

	i, j := lowestTwo(ts)
	if ts[i].Days != 10 || ts[j].Days != 20 {
		t.Errorf("lowestTwo: got %d, %d", ts[i].Days, ts[j].Days)
	}
	i, j = highestTwo(ts)
	if ts[i].Days != 90 || ts[j].Days != 70 {
		t.Errorf("highestTwo: got %d, %d", ts[i].Days, ts[j].Days)
	}

	b, a := neighbors(ts, 50)
	if ts[b].Days != 20 || ts[a].Days != 70 {
		t.Errorf("neighbors: got %d, %d", ts[b].Days, ts[a].Days)
	}
}
