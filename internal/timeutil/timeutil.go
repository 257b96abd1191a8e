// Package timeutil provides the deterministic time arithmetic the scoring
// engine is built on. Nothing here reads the wall clock; callers pass every
// instant explicitly so results are reproducible.
package timeutil

import (
	"math"
	"time"
)

// HoursBetween returns the number of whole hours elapsed from from to to.
// A nil from or a negative difference yields 0.
func HoursBetween(from *time.Time, to time.Time) int {
	if from == nil {
		return 0
	}
	d := to.Sub(*from)
	if d < 0 {
		return 0
	}
	return int(d / time.Hour)
}

// DaysBetween returns the number of whole 24-hour days elapsed from from to
// to: 23h is 0 days, 24h is 1 day. Same nil/negative rule as HoursBetween.
func DaysBetween(from *time.Time, to time.Time) int {
	if from == nil {
		return 0
	}
	d := to.Sub(*from)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Earliest returns the earliest non-nil timestamp, or nil if all are nil.
func Earliest(ts ...*time.Time) *time.Time {
	var out *time.Time
	for _, t := range ts {
		if t == nil {
			continue
		}
		if out == nil || t.Before(*out) {
			out = t
		}
	}
	return out
}

// Latest returns the latest non-nil timestamp, or nil if all are nil.
func Latest(ts ...*time.Time) *time.Time {
	var out *time.Time
	for _, t := range ts {
		if t == nil {
			continue
		}
		if out == nil || t.After(*out) {
			out = t
		}
	}
	return out
}
