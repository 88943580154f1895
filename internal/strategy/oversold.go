package strategy

import (
	"errors"
	"fmt"
	"math"

	"MarketScreener/internal/calculator"
)

// lookbackMargin is the extra history required beyond period+days so the
// seeded averages have settled before the inspected window.
const lookbackMargin = 6

// SkipReason explains why a candidate did not match.
type SkipReason string

const (
	SkipNone                SkipReason = ""
	SkipInsufficientHistory SkipReason = "insufficient_history"
	SkipUndefined           SkipReason = "undefined_oscillator"
	SkipAboveThreshold      SkipReason = "above_threshold"
)

// Rule is the consecutive-days oversold filter: RSI(Period) < Threshold on each of the last Days sessions.
type Rule struct {
	Days      int
	Period    int
	Threshold float64
}

// Verdict is the outcome of evaluating a Rule against one price series.
type Verdict struct {
	Matched bool
	Latest  float64
	Tail    []float64
	Reason  SkipReason
}

// Validate checks the rule parameters.
func (r Rule) Validate() error {
	if r.Days < 1 {
		return fmt.Errorf("consecutive days must be >= 1, got %d", r.Days)
	}
	if r.Period < 2 {
		return fmt.Errorf("oscillator period must be >= 2, got %d", r.Period)
	}
	if math.IsNaN(r.Threshold) || math.IsInf(r.Threshold, 0) {
		return errors.New("oscillator threshold must be finite")
	}
	return nil
}

// MinBars returns the minimum history length needed to evaluate the rule.
func (r Rule) MinBars() int {
	return r.Period + r.Days + lookbackMargin
}

// Evaluate applies the rule to chronological close prices.
func (r Rule) Evaluate(closes []float64) Verdict {
	if len(closes) < r.MinBars() {
		return Verdict{Reason: SkipInsufficientHistory}
	}
	tail, ok := calculator.RSITail(closes, r.Period, r.Days)
	if !ok || len(tail) < r.Days {
		return Verdict{Reason: SkipUndefined}
	}

	v := Verdict{Tail: tail, Latest: tail[len(tail)-1]}
	if !AllBelow(tail, r.Threshold) {
		v.Reason = SkipAboveThreshold
		return v
	}
	v.Matched = true
	return v
}

// AllBelow reports whether every value is strictly below threshold.
func AllBelow(values []float64, threshold float64) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if !(v < threshold) {
			return false
		}
	}
	return true
}
