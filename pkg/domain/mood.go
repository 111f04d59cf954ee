package domain

import (
	"math"
	"time"
)

const (
	MinMood = 1.0
	MaxMood = 5.0
)

// ValidMood reports whether v is a finite value on the canonical 1-5 scale.
func ValidMood(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= MinMood && v <= MaxMood
}

// MoodFromTenPoint maps a 1-10 score (as produced by the chat assistant) onto
// the canonical 1-5 scale. Inputs outside 1-10 are clamped first.
func MoodFromTenPoint(v float64) float64 {
	if math.IsNaN(v) {
		return MinMood
	}
	v = math.Max(1, math.Min(10, v))
	return 1 + (v-1)*4/9
}

// DayKey returns the calendar day of t in loc, formatted YYYY-MM-DD.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(time.DateOnly)
}
