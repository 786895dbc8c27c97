// Package anomaly classifies the aggregate amount of a reporting period
// against its prior-month and prior-year baselines.
//
// Detection is a pure function of its inputs: it never logs, performs no I/O
// and never fails. A missing or zero baseline simply disables the comparison
// that would need it.
package anomaly

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Level is the severity of a detected anomaly.
type Level string

const (
	LevelNone     Level = "none"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Result is the outcome of a single detection.
//
// When Anomaly is false, Level is LevelNone, Reason is empty and
// PercentChange is nil. PercentChange is also nil for the zero-total rule,
// which does not compare against any baseline.
type Result struct {
	Anomaly       bool             `json:"anomaly"`
	Level         Level            `json:"level"`
	Reason        string           `json:"reason"`
	PercentChange *decimal.Decimal `json:"percent_change,omitempty"`
}

// Thresholds are the percentage magnitudes a change must strictly exceed
// before it is reported.
type Thresholds struct {
	YearOverYear   decimal.Decimal
	MonthOverMonth decimal.Decimal
}

// DefaultThresholds returns 50% year over year and 30% month over month.
func DefaultThresholds() Thresholds {
	return Thresholds{
		YearOverYear:   decimal.NewFromInt(50),
		MonthOverMonth: decimal.NewFromInt(30),
	}
}

// Detector evaluates amounts against a fixed pair of thresholds.
// It holds no mutable state and is safe for concurrent use.
type Detector struct {
	thresholds Thresholds
}

// NewDetector creates a detector. Non-positive thresholds fall back to the
// corresponding default.
func NewDetector(t Thresholds) *Detector {
	def := DefaultThresholds()
	if !t.YearOverYear.IsPositive() {
		t.YearOverYear = def.YearOverYear
	}
	if !t.MonthOverMonth.IsPositive() {
		t.MonthOverMonth = def.MonthOverMonth
	}
	return &Detector{thresholds: t}
}

// Thresholds returns the thresholds the detector compares against.
func (d *Detector) Thresholds() Thresholds {
	return d.thresholds
}

var (
	hundred         = decimal.NewFromInt(100)
	defaultDetector = NewDetector(DefaultThresholds())
)

// Detect classifies current against the optional baselines using the
// default thresholds.
func Detect(current decimal.Decimal, lastMonth, lastYear *decimal.Decimal) Result {
	return defaultDetector.Detect(current, lastMonth, lastYear)
}

// Detect classifies current against the optional baselines. Checks run in
// order and the first one that triggers wins: zero total, then year over
// year (critical), then month over month (warning).
func (d *Detector) Detect(current decimal.Decimal, lastMonth, lastYear *decimal.Decimal) Result {
	if current.IsZero() {
		return Result{
			Anomaly: true,
			Level:   LevelWarning,
			Reason:  "current total is 0",
		}
	}

	if exceeds(current, lastYear, d.thresholds.YearOverYear) {
		change := percentChange(current, *lastYear)
		return Result{
			Anomaly:       true,
			Level:         LevelCritical,
			Reason:        fmt.Sprintf("%s%% vs same period last year, exceeds %s%% threshold", signed(change), d.thresholds.YearOverYear),
			PercentChange: &change,
		}
	}

	if exceeds(current, lastMonth, d.thresholds.MonthOverMonth) {
		change := percentChange(current, *lastMonth)
		return Result{
			Anomaly:       true,
			Level:         LevelWarning,
			Reason:        fmt.Sprintf("%s%% vs prior month, exceeds %s%% threshold", signed(change), d.thresholds.MonthOverMonth),
			PercentChange: &change,
		}
	}

	return Result{Level: LevelNone}
}

// exceeds reports whether |current - baseline| / |baseline| * 100 > threshold.
// It compares |current - baseline| * 100 with threshold * |baseline| so no
// division rounding is involved. An absent or zero baseline never exceeds.
func exceeds(current decimal.Decimal, baseline *decimal.Decimal, threshold decimal.Decimal) bool {
	if baseline == nil || baseline.IsZero() {
		return false
	}
	return current.Sub(*baseline).Abs().Mul(hundred).GreaterThan(threshold.Mul(baseline.Abs()))
}

// percentChange returns (current - baseline) / baseline * 100. baseline must
// be non-zero.
func percentChange(current, baseline decimal.Decimal) decimal.Decimal {
	return current.Sub(baseline).Mul(hundred).Div(baseline)
}

// signed renders d with one decimal place and an explicit sign.
func signed(d decimal.Decimal) string {
	s := d.StringFixed(1)
	if d.IsPositive() {
		return "+" + s
	}
	return s
}
