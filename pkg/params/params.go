// Package params holds the calibration parameters shared by the term-structure
// tooling. Callers build an effective value by overlaying their overrides on
// Default; there is no package-level mutable state.
package params

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Params struct {
	// Pricing
	InitialRate    float64 `mapstructure:"initial_rate"    json:"initial_rate"`
	MinRate        float64 `mapstructure:"min_rate"        json:"min_rate"`
	MaxRate        float64 `mapstructure:"max_rate"        json:"max_rate"`
	FallbackGrowth float64 `mapstructure:"fallback_growth" json:"fallback_growth"`
	ConsiderVolume bool    `mapstructure:"consider_volume" json:"consider_volume"`
	ReferenceDate  string  `mapstructure:"reference_date"  json:"reference_date"` // empty means latest trade date
	Monthlies      bool    `mapstructure:"monthlies"       json:"monthlies"`

	// Option selection
	OptionType           string  `mapstructure:"option_type"            json:"option_type"`
	Q                    float64 `mapstructure:"q"                      json:"q"`
	MaxIterations        int     `mapstructure:"max_iterations"         json:"max_iterations"`
	MaxStrikeDiffPct     float64 `mapstructure:"max_strike_diff_pct"    json:"max_strike_diff_pct"`
	MinOptionPrice       float64 `mapstructure:"min_option_price"       json:"min_option_price"`
	MinOptionsPerExpiry  int     `mapstructure:"min_options_per_expiry" json:"min_options_per_expiry"`
	VolatilityLowerBound float64 `mapstructure:"volatility_lower_bound" json:"volatility_lower_bound"`
	VolatilityUpperBound float64 `mapstructure:"volatility_upper_bound" json:"volatility_upper_bound"`
	VolLBScalar          float64 `mapstructure:"vol_lb_scalar"          json:"vol_lb_scalar"`
	VolUBScalar          float64 `mapstructure:"vol_ub_scalar"          json:"vol_ub_scalar"`

	// Extraction
	MinDays   int     `mapstructure:"min_days"   json:"min_days"`
	MinVolume int     `mapstructure:"min_volume" json:"min_volume"`
	WaitTime  float64 `mapstructure:"wait_time"  json:"wait_time"`

	// Option pair selection
	MinPairVolume       int  `mapstructure:"min_pair_volume"        json:"min_pair_volume"`
	BestPairOnly        bool `mapstructure:"best_pair_only"         json:"best_pair_only"`
	CloseStrikeMinPairs int  `mapstructure:"close_strike_min_pairs" json:"close_strike_min_pairs"`

	// Forward pricing
	DebugThreshold  float64 `mapstructure:"debug_threshold"   json:"debug_threshold"`
	MinForwardRatio float64 `mapstructure:"min_forward_ratio" json:"min_forward_ratio"`
	MaxForwardRatio float64 `mapstructure:"max_forward_ratio" json:"max_forward_ratio"`
	MinPrice        float64 `mapstructure:"min_price"         json:"min_price"`

	// Debug/output
	Debug             bool `mapstructure:"debug"               json:"debug"`
	SaveOutput        bool `mapstructure:"save_output"         json:"save_output"`
	SkipIVCalculation bool `mapstructure:"skip_iv_calculation" json:"skip_iv_calculation"`

	// Calibration method
	UseForwards       bool    `mapstructure:"use_forwards"       json:"use_forwards"`
	CalibrationMethod string  `mapstructure:"calibration_method" json:"calibration_method"` // "direct" or "joint"
	MinIntRate        float64 `mapstructure:"min_int_rate"       json:"min_int_rate"`
	MaxIntRate        float64 `mapstructure:"max_int_rate"       json:"max_int_rate"`
}

// Default returns the documented parameter defaults.
func Default() Params {
	return Params{
		InitialRate:    0.05,
		MinRate:        0.0,
		MaxRate:        0.2,
		FallbackGrowth: 0.03,
		ConsiderVolume: false,
		Monthlies:      true,

		OptionType:           "call",
		Q:                    0.0,
		MaxIterations:        50,
		MaxStrikeDiffPct:     0.5,
		MinOptionPrice:       0.0,
		MinOptionsPerExpiry:  2,
		VolatilityLowerBound: 0.001,
		VolatilityUpperBound: 10,
		VolLBScalar:          0.5,
		VolUBScalar:          1.5,

		MinDays:   7,
		MinVolume: 0,
		WaitTime:  0.5,

		MinPairVolume:       0,
		BestPairOnly:        false,
		CloseStrikeMinPairs: 3,

		DebugThreshold:  0.0,
		MinForwardRatio: 0.5,
		MaxForwardRatio: 2.0,
		MinPrice:        0.0,

		Debug:             true,
		SaveOutput:        false,
		SkipIVCalculation: true,

		UseForwards:       true,
		CalibrationMethod: "direct",
		MinIntRate:        -0.20,
		MaxIntRate:        1.00,
	}
}

// Values returns p keyed by its configuration names.
func (p Params) Values() map[string]interface{} {
	return map[string]interface{}{
		"initial_rate":    p.InitialRate,
		"min_rate":        p.MinRate,
		"max_rate":        p.MaxRate,
		"fallback_growth": p.FallbackGrowth,
		"consider_volume": p.ConsiderVolume,
		"reference_date":  p.ReferenceDate,
		"monthlies":       p.Monthlies,

		"option_type":            p.OptionType,
		"q":                      p.Q,
		"max_iterations":         p.MaxIterations,
		"max_strike_diff_pct":    p.MaxStrikeDiffPct,
		"min_option_price":       p.MinOptionPrice,
		"min_options_per_expiry": p.MinOptionsPerExpiry,
		"volatility_lower_bound": p.VolatilityLowerBound,
		"volatility_upper_bound": p.VolatilityUpperBound,
		"vol_lb_scalar":          p.VolLBScalar,
		"vol_ub_scalar":          p.VolUBScalar,

		"min_days":   p.MinDays,
		"min_volume": p.MinVolume,
		"wait_time":  p.WaitTime,

		"min_pair_volume":        p.MinPairVolume,
		"best_pair_only":         p.BestPairOnly,
		"close_strike_min_pairs": p.CloseStrikeMinPairs,

		"debug_threshold":   p.DebugThreshold,
		"min_forward_ratio": p.MinForwardRatio,
		"max_forward_ratio": p.MaxForwardRatio,
		"min_price":         p.MinPrice,

		"debug":               p.Debug,
		"save_output":         p.SaveOutput,
		"skip_iv_calculation": p.SkipIVCalculation,

		"use_forwards":       p.UseForwards,
		"calibration_method": p.CalibrationMethod,
		"min_int_rate":       p.MinIntRate,
		"max_int_rate":       p.MaxIntRate,
	}
}

// SetDefaults registers every key of p as a viper default under prefix
// (e.g. "calibration"). An empty prefix registers the bare keys.
func SetDefaults(v *viper.Viper, prefix string, p Params) {
	for key, value := range p.Values() {
		if prefix != "" {
			key = prefix + "." + key
		}
		v.SetDefault(key, value)
	}
}

// Overlay applies overrides on top of base. Override keys are matched case
// insensitively and unknown keys are ignored.
func Overlay(base Params, overrides map[string]interface{}) (Params, error) {
	v := viper.New()
	SetDefaults(v, "", base)

	if len(overrides) > 0 {
		normalized := make(map[string]interface{}, len(overrides))
		for k, val := range overrides {
			normalized[strings.ToLower(strings.TrimSpace(k))] = val
		}
		if err := v.MergeConfigMap(normalized); err != nil {
			return Params{}, fmt.Errorf("failed to merge parameter overrides: %w", err)
		}
	}

	var out Params
	if err := v.Unmarshal(&out); err != nil {
		return Params{}, fmt.Errorf("failed to decode parameters: %w", err)
	}
	if err := out.Validate(); err != nil {
		return Params{}, err
	}
	return out, nil
}

// Resolve overlays overrides on Default.
func Resolve(overrides map[string]interface{}) (Params, error) {
	return Overlay(Default(), overrides)
}

func (p Params) Validate() error {
	if p.MinOptionsPerExpiry < 0 {
		return fmt.Errorf("min_options_per_expiry must be non-negative, got %d", p.MinOptionsPerExpiry)
	}
	if p.MinRate > p.MaxRate {
		return fmt.Errorf("min_rate %.4f exceeds max_rate %.4f", p.MinRate, p.MaxRate)
	}
	if p.MinIntRate > p.MaxIntRate {
		return fmt.Errorf("min_int_rate %.4f exceeds max_int_rate %.4f", p.MinIntRate, p.MaxIntRate)
	}
	if p.MinForwardRatio > p.MaxForwardRatio {
		return fmt.Errorf("min_forward_ratio %.4f exceeds max_forward_ratio %.4f", p.MinForwardRatio, p.MaxForwardRatio)
	}
	if p.VolatilityLowerBound >= p.VolatilityUpperBound {
		return fmt.Errorf("volatility_lower_bound %.4f must be below volatility_upper_bound %.4f",
			p.VolatilityLowerBound, p.VolatilityUpperBound)
	}
	switch p.CalibrationMethod {
	case "direct", "joint":
	default:
		return fmt.Errorf("unknown calibration_method %q", p.CalibrationMethod)
	}
	switch p.OptionType {
	case "call", "put":
	default:
		return fmt.Errorf("unknown option_type %q", p.OptionType)
	}
	return nil
}
