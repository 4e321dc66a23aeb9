package domain

import (
	"fmt"
	"math"
	"time"
)

const (
	// StatFloor is the minimum permitted value for any stat.
	StatFloor = 1.0

	// statSafetyCeiling bounds stored stat values. Stats have no semantic
	// ceiling, but storage, chart rendering, and export need finite values.
	statSafetyCeiling = 999999.0

	// statPerformanceBand is the threshold above which a value is preserved
	// but flagged, since charts and exports slow down past it.
	statPerformanceBand = 100000.0

	degradationThresholdDays = 3
	degradationStep          = 0.01
	degradationCap           = 0.05
)

// CalculateGains returns the stat gains for logging an activity of the given
// duration. Gains scale linearly with duration except quitBadHabit, which
// grants a fixed focus amount regardless of duration, including zero.
func CalculateGains(t ActivityType, durationMin int) (map[StatType]float64, error) {
	if durationMin < 0 {
		return nil, fmt.Errorf("%w: duration must be >= 0 minutes, got %d", ErrValidation, durationMin)
	}

	if t == ActivityQuitBadHabit {
		return map[StatType]float64{StatFocus: quitBadHabitFocusGain}, nil
	}

	rates, ok := hourlyRates[t]
	if !ok {
		rates, ok = legacyHourlyRates[t]
	}
	if !ok {
		// Unknown or retired types yield no gains.
		return map[StatType]float64{}, nil
	}

	hours := float64(durationMin) / 60.0
	gains := make(map[StatType]float64, len(rates))
	for stat, rate := range rates {
		gains[stat] = rate * hours
	}
	return gains, nil
}

// ApplyGains adds each gain to the current stats. Stats absent from the
// current map default to the floor before the gain is added. No ceiling is
// applied here; stats grow without bound.
func ApplyGains(current, gains map[StatType]float64) map[StatType]float64 {
	out := make(map[StatType]float64, len(current)+len(gains))
	for stat, value := range current {
		out[stat] = value
	}
	for stat, gain := range gains {
		base, ok := out[stat]
		if !ok {
			base = StatFloor
		}
		out[stat] = base + gain
	}
	return out
}

// elapsedDays counts complete days between last and now. In relaxed-weekend
// mode, days falling on Saturday or Sunday do not count toward the total.
func elapsedDays(last, now time.Time, relaxedWeekend bool) int {
	if last.IsZero() || !now.After(last) {
		return 0
	}
	total := int(now.Sub(last).Hours() / 24)
	if !relaxedWeekend {
		return total
	}
	days := 0
	for i := 0; i < total; i++ {
		day := last.Add(time.Duration(i) * 24 * time.Hour)
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			days++
		}
	}
	return days
}

// ShouldDegrade reports whether the category is due for decay given its most
// recent activity timestamp.
func ShouldDegrade(c Category, lastActivity, now time.Time, relaxedWeekend bool) bool {
	if !c.Degrades() || lastActivity.IsZero() {
		return false
	}
	return elapsedDays(lastActivity, now, relaxedWeekend) >= degradationThresholdDays
}

// CalculateDegradation returns the decay amount (<= 0) for the category:
// -0.01 per complete 3-day period of neglect, capped at -0.05 per application.
func CalculateDegradation(c Category, lastActivity, now time.Time, relaxedWeekend bool) float64 {
	if !ShouldDegrade(c, lastActivity, now, relaxedWeekend) {
		return 0
	}
	periods := elapsedDays(lastActivity, now, relaxedWeekend) / degradationThresholdDays
	amount := degradationStep * float64(periods)
	if amount > degradationCap {
		amount = degradationCap
	}
	return -amount
}

// ApplyDegradation decays every neglected category's stats toward the floor
// and returns the updated user plus the per-category amounts applied. The
// timestamps of the degraded categories are refreshed so a category decays at
// most once per elapsed window. Stats already at the floor are unaffected.
func ApplyDegradation(u User, now time.Time, relaxedWeekend bool) (User, map[Category]float64) {
	applied := make(map[Category]float64)
	updated := u.Clone()

	for _, category := range DegradableCategories {
		lastActive := u.categoryLastActive(category)
		amount := CalculateDegradation(category, lastActive, now, relaxedWeekend)
		if amount == 0 {
			continue
		}

		for _, stat := range category.AffectedStats() {
			value := updated.Stat(stat) + amount
			if value < StatFloor {
				value = StatFloor
			}
			updated.Stats[stat] = value
		}
		for _, t := range category.Types() {
			if _, ok := updated.LastActivity[t]; ok {
				updated.LastActivity[t] = now
			}
		}
		applied[category] = amount
	}

	if len(applied) > 0 {
		updated.LastActive = now
		updated.UpdatedAt = now
	}
	return updated, applied
}

// CalculateStatReversals returns the amounts to subtract when deleting an
// activity. Stored gains win when present (exact accuracy); otherwise the
// gains are recomputed from the rate tables as a fallback for legacy entries.
func CalculateStatReversals(t ActivityType, durationMin int, storedGains map[StatType]float64) (map[StatType]float64, error) {
	if len(storedGains) > 0 {
		out := make(map[StatType]float64, len(storedGains))
		for stat, gain := range storedGains {
			out[stat] = gain
		}
		return out, nil
	}
	return CalculateGains(t, durationMin)
}

// ApplyReversals subtracts each reversal from the current stats, clamping at
// the floor. Stats not named in reversals are unchanged; absent stats default
// to the floor before subtraction. The clamp is intentionally lossy: once a
// stat hits the floor the exact pre-gain value cannot be recovered.
func ApplyReversals(current, reversals map[StatType]float64) map[StatType]float64 {
	out := make(map[StatType]float64, len(current))
	for stat, value := range current {
		out[stat] = value
	}
	for stat, amount := range reversals {
		base, ok := out[stat]
		if !ok {
			base = StatFloor
		}
		value := base - amount
		if value < StatFloor {
			value = StatFloor
		}
		out[stat] = value
	}
	return out
}

// StatWarning flags a value that ValidateStats had to repair or found
// noteworthy.
type StatWarning struct {
	Stat    StatType
	Kind    string
	Value   float64
	Message string
}

// Warning kinds emitted by ValidateStats.
const (
	WarnResetToFloor    = "reset_to_floor"
	WarnClampedCeiling  = "clamped_to_ceiling"
	WarnPerformanceBand = "performance"
)

// ValidateStats sanitizes stats for storage and rendering: NaN and sub-floor
// values reset to the floor, +Inf and values above the safety ceiling clamp
// to the ceiling, and very large but finite values are preserved with a
// non-fatal performance warning. Missing stats are filled at the floor so the
// output always covers all six.
func ValidateStats(stats map[StatType]float64) (map[StatType]float64, []StatWarning) {
	sanitized := make(map[StatType]float64, len(AllStatTypes))
	var warnings []StatWarning

	for _, stat := range AllStatTypes {
		value, ok := stats[stat]
		if !ok {
			sanitized[stat] = StatFloor
			continue
		}

		switch {
		case math.IsNaN(value):
			sanitized[stat] = StatFloor
			warnings = append(warnings, StatWarning{
				Stat: stat, Kind: WarnResetToFloor, Value: value,
				Message: fmt.Sprintf("%s was NaN; reset to %.1f", stat, StatFloor),
			})
		case value < StatFloor:
			sanitized[stat] = StatFloor
			warnings = append(warnings, StatWarning{
				Stat: stat, Kind: WarnResetToFloor, Value: value,
				Message: fmt.Sprintf("%s was below the floor; reset to %.1f", stat, StatFloor),
			})
		case math.IsInf(value, 1) || value > statSafetyCeiling:
			sanitized[stat] = statSafetyCeiling
			warnings = append(warnings, StatWarning{
				Stat: stat, Kind: WarnClampedCeiling, Value: value,
				Message: fmt.Sprintf("%s exceeded the safety ceiling; clamped to %.0f", stat, statSafetyCeiling),
			})
		case value > statPerformanceBand:
			sanitized[stat] = value
			warnings = append(warnings, StatWarning{
				Stat: stat, Kind: WarnPerformanceBand, Value: value,
				Message: fmt.Sprintf("%s is very large; charts and exports may degrade", stat),
			})
		default:
			sanitized[stat] = value
		}
	}
	return sanitized, warnings
}

// RecommendedChartMax rounds the maximum stat value up to the next multiple
// of 5, with 5 as the minimum. Presentation-only; the engine does not depend
// on it.
func RecommendedChartMax(stats map[StatType]float64) float64 {
	max := 0.0
	for _, value := range stats {
		if value > max {
			max = value
		}
	}
	if max <= 5 {
		return 5
	}
	return math.Ceil(max/5) * 5
}
