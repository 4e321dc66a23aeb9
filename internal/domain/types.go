// Package domain implements the progression and reversal engine: EXP
// levelling, stat gains and degradation, and the transactional reversal
// workflow that undoes a logged activity.
package domain

// StatType identifies one of the six tracked stats.
type StatType string

const (
	StatStrength     StatType = "strength"
	StatAgility      StatType = "agility"
	StatEndurance    StatType = "endurance"
	StatIntelligence StatType = "intelligence"
	StatFocus        StatType = "focus"
	StatCharisma     StatType = "charisma"
)

// AllStatTypes lists every stat in stable order.
var AllStatTypes = []StatType{
	StatStrength,
	StatAgility,
	StatEndurance,
	StatIntelligence,
	StatFocus,
	StatCharisma,
}

// ParseStatType resolves a stored string to a StatType.
func ParseStatType(value string) (StatType, bool) {
	switch StatType(value) {
	case StatStrength, StatAgility, StatEndurance, StatIntelligence, StatFocus, StatCharisma:
		return StatType(value), true
	}
	return "", false
}

// ActivityType identifies a loggable activity.
type ActivityType string

const (
	ActivityWorkoutUpperBody ActivityType = "workoutUpperBody"
	ActivityWorkoutLowerBody ActivityType = "workoutLowerBody"
	ActivityWorkoutCore      ActivityType = "workoutCore"
	ActivityWorkoutCardio    ActivityType = "workoutCardio"
	ActivityStudySerious     ActivityType = "studySerious"
	ActivityStudyCasual      ActivityType = "studyCasual"
	ActivityMeditation       ActivityType = "meditation"
	ActivitySocializing      ActivityType = "socializing"
	ActivityQuitBadHabit     ActivityType = "quitBadHabit"

	// ActivityWorkoutWeights is a deprecated variant kept so entries logged
	// before the per-region workout split still resolve to their original
	// rates during fallback reversal. New entries are rejected.
	ActivityWorkoutWeights ActivityType = "workoutWeights"

	// ActivityUnknown is the explicit fallback for strings that no longer map
	// to a known variant. It carries no gains and belongs to no degrading
	// category.
	ActivityUnknown ActivityType = "unknown"
)

// AllActivityTypes lists the loggable activity types (the deprecated and
// fallback variants are excluded).
var AllActivityTypes = []ActivityType{
	ActivityWorkoutUpperBody,
	ActivityWorkoutLowerBody,
	ActivityWorkoutCore,
	ActivityWorkoutCardio,
	ActivityStudySerious,
	ActivityStudyCasual,
	ActivityMeditation,
	ActivitySocializing,
	ActivityQuitBadHabit,
}

// ParseActivityType resolves a stored string to an ActivityType, falling back
// to ActivityUnknown rather than failing so legacy rows stay readable.
func ParseActivityType(value string) ActivityType {
	switch ActivityType(value) {
	case ActivityWorkoutUpperBody, ActivityWorkoutLowerBody, ActivityWorkoutCore,
		ActivityWorkoutCardio, ActivityStudySerious, ActivityStudyCasual,
		ActivityMeditation, ActivitySocializing, ActivityQuitBadHabit,
		ActivityWorkoutWeights:
		return ActivityType(value)
	}
	return ActivityUnknown
}

// Loggable reports whether new entries may be created for the type.
func (t ActivityType) Loggable() bool {
	switch t {
	case ActivityWorkoutWeights, ActivityUnknown:
		return false
	}
	return true
}

// Category groups activity types for degradation scheduling.
type Category string

const (
	CategoryWorkout Category = "workout"
	CategoryStudy   Category = "study"
	CategoryOther   Category = "other"
)

// DegradableCategories lists the categories subject to time decay.
var DegradableCategories = []Category{CategoryWorkout, CategoryStudy}

// Category returns the degradation category for the activity type.
func (t ActivityType) Category() Category {
	switch t {
	case ActivityWorkoutUpperBody, ActivityWorkoutLowerBody, ActivityWorkoutCore,
		ActivityWorkoutCardio, ActivityWorkoutWeights:
		return CategoryWorkout
	case ActivityStudySerious, ActivityStudyCasual:
		return CategoryStudy
	}
	return CategoryOther
}

// Degrades reports whether the category is subject to time decay.
func (c Category) Degrades() bool {
	return c == CategoryWorkout || c == CategoryStudy
}

// AffectedStats returns the stats the category's degradation touches.
func (c Category) AffectedStats() []StatType {
	switch c {
	case CategoryWorkout:
		return []StatType{StatStrength, StatAgility, StatEndurance}
	case CategoryStudy:
		return []StatType{StatIntelligence, StatFocus}
	}
	return nil
}

// Types returns the activity types belonging to the category.
func (c Category) Types() []ActivityType {
	switch c {
	case CategoryWorkout:
		return []ActivityType{
			ActivityWorkoutUpperBody,
			ActivityWorkoutLowerBody,
			ActivityWorkoutCore,
			ActivityWorkoutCardio,
			ActivityWorkoutWeights,
		}
	case CategoryStudy:
		return []ActivityType{ActivityStudySerious, ActivityStudyCasual}
	}
	return []ActivityType{
		ActivityMeditation,
		ActivitySocializing,
		ActivityQuitBadHabit,
		ActivityUnknown,
	}
}

// hourlyRates is the canonical per-hour stat gain table. quitBadHabit is
// intentionally absent: it grants a fixed amount regardless of duration.
var hourlyRates = map[ActivityType]map[StatType]float64{
	ActivityWorkoutUpperBody: {StatStrength: 0.06, StatEndurance: 0.03},
	ActivityWorkoutLowerBody: {StatAgility: 0.06, StatEndurance: 0.03},
	ActivityWorkoutCore:      {StatStrength: 0.03, StatEndurance: 0.04},
	ActivityWorkoutCardio:    {StatEndurance: 0.06, StatAgility: 0.03},
	ActivityStudySerious:     {StatIntelligence: 0.06, StatFocus: 0.04},
	ActivityStudyCasual:      {StatIntelligence: 0.03, StatFocus: 0.02},
	ActivityMeditation:       {StatFocus: 0.05},
	ActivitySocializing:      {StatCharisma: 0.05},
}

// legacyHourlyRates preserves the pre-split workout table. Used only for
// fallback reversal of entries that predate stored gains.
var legacyHourlyRates = map[ActivityType]map[StatType]float64{
	ActivityWorkoutWeights: {StatStrength: 0.06, StatEndurance: 0.03},
}

const (
	// quitBadHabitFocusGain is granted once per quitBadHabit entry,
	// independent of duration.
	quitBadHabitFocusGain = 0.03

	// expPerMinute is the EXP award rate for duration-based activities.
	expPerMinute = 5.0

	// quitBadHabitEXP is the fixed EXP award for quitBadHabit entries.
	quitBadHabitEXP = 30.0
)
