package model

import "math"

// MaxStrength is the ceiling for every entry's strength.
const MaxStrength = 1.0

// ClampFloor keeps a strength floor inside [0, MaxStrength].
func ClampFloor(floor float64) float64 {
	if math.IsNaN(floor) || floor < 0 {
		return 0
	}
	return math.Min(floor, MaxStrength)
}

// ClampStrength keeps strength inside [floor, MaxStrength].
func ClampStrength(strength, floor float64) float64 {
	floor = ClampFloor(floor)
	if math.IsNaN(strength) {
		return floor
	}
	return math.Max(floor, math.Min(strength, MaxStrength))
}

// Clamp applies ClampFloor and ClampStrength to the entry in place.
func (e *Entry) Clamp() {
	e.StrengthFloor = ClampFloor(e.StrengthFloor)
	e.Strength = ClampStrength(e.Strength, e.StrengthFloor)
}

// BaseStrength is the initial strength for a freshly placed entry.
// The result is not clamped; callers clamp against the entry's floor.
func BaseStrength(region Region, importance Importance, retention Retention) float64 {
	base := 0.4
	if region == RegionCortex {
		base = 0.9
	}
	switch importance {
	case ImportanceCritical:
		base += 0.35
	case ImportanceHigh:
		base += 0.2
	case ImportanceLow:
		base -= 0.05
	}
	switch retention {
	case RetentionReference:
		base += 0.1
	case RetentionLog:
		base -= 0.05
	}
	return base
}
