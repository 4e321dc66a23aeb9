package domain

import (
	"fmt"
	"math"
)

const (
	baseThreshold   = 1000.0
	thresholdGrowth = 1.2
)

// Threshold returns the EXP required to advance from level to level+1:
// 1000 * 1.2^(level-1). It is strictly increasing in level.
func Threshold(level int) (float64, error) {
	if level < 1 {
		return 0, fmt.Errorf("%w: level must be >= 1, got %d", ErrValidation, level)
	}
	return baseThreshold * math.Pow(thresholdGrowth, float64(level-1)), nil
}

// AddEXP applies a non-negative EXP gain, rolling over as many level-ups as
// the gain covers. The result always satisfies 0 <= newEXP < Threshold(newLevel).
func AddEXP(level int, currentEXP, gain float64) (newLevel int, newEXP float64, levelsGained int, err error) {
	if level < 1 {
		return 0, 0, 0, fmt.Errorf("%w: level must be >= 1, got %d", ErrValidation, level)
	}
	if math.IsNaN(gain) || gain < 0 {
		return 0, 0, 0, fmt.Errorf("%w: EXP gain must be >= 0, got %v", ErrValidation, gain)
	}

	newLevel = level
	newEXP = currentEXP + gain
	for {
		threshold, terr := Threshold(newLevel)
		if terr != nil {
			return 0, 0, 0, terr
		}
		if newEXP < threshold {
			break
		}
		newEXP -= threshold
		newLevel++
		levelsGained++
	}
	return newLevel, newEXP, levelsGained, nil
}

// ReverseEXP subtracts a previously granted amount, undoing level-ups one step
// at a time while the running EXP is negative. Level 1 is the terminal floor:
// once reached, any remaining deficit clamps to zero EXP. The result never
// reports a level below 1 or negative EXP.
func ReverseEXP(level int, currentEXP, amount float64) (newLevel int, newEXP float64, levelsLost int, err error) {
	if level < 1 {
		return 0, 0, 0, fmt.Errorf("%w: level must be >= 1, got %d", ErrValidation, level)
	}
	if math.IsNaN(amount) || amount < 0 {
		return 0, 0, 0, fmt.Errorf("%w: reversal amount must be >= 0, got %v", ErrValidation, amount)
	}

	newLevel = level
	newEXP = currentEXP - amount
	for newEXP < 0 && newLevel > 1 {
		threshold, terr := Threshold(newLevel - 1)
		if terr != nil {
			return 0, 0, 0, terr
		}
		newEXP += threshold
		newLevel--
		levelsLost++
	}
	if newEXP < 0 {
		newEXP = 0
	}
	return newLevel, newEXP, levelsLost, nil
}

// LevelDownPreview is the non-mutating projection of a ReverseEXP call, used
// by confirmation dialogs before an activity is deleted.
type LevelDownPreview struct {
	WillLevelDown bool
	NewLevel      int
	NewEXP        float64
	LevelsLost    int
}

// PreviewLevelDown computes what ReverseEXP would return without touching any
// state.
func PreviewLevelDown(level int, currentEXP, amount float64) (LevelDownPreview, error) {
	newLevel, newEXP, levelsLost, err := ReverseEXP(level, currentEXP, amount)
	if err != nil {
		return LevelDownPreview{}, err
	}
	return LevelDownPreview{
		WillLevelDown: levelsLost > 0,
		NewLevel:      newLevel,
		NewEXP:        newEXP,
		LevelsLost:    levelsLost,
	}, nil
}

// expForActivity returns the EXP award for logging the given activity.
func expForActivity(t ActivityType, durationMin int) float64 {
	if t == ActivityQuitBadHabit {
		return quitBadHabitEXP
	}
	return expPerMinute * float64(durationMin)
}
