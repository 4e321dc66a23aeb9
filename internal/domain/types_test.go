package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseActivityTypeFallsBackToUnknown(t *testing.T) {
	require.Equal(t, ActivityWorkoutUpperBody, ParseActivityType("workoutUpperBody"))
	require.Equal(t, ActivityWorkoutWeights, ParseActivityType("workoutWeights"))
	require.Equal(t, ActivityUnknown, ParseActivityType("somethingElse"))
	require.Equal(t, ActivityUnknown, ParseActivityType(""))
}

func TestParseStatType(t *testing.T) {
	stat, ok := ParseStatType("focus")
	require.True(t, ok)
	require.Equal(t, StatFocus, stat)

	_, ok = ParseStatType("luck")
	require.False(t, ok)
}

func TestActivityCategories(t *testing.T) {
	require.Equal(t, CategoryWorkout, ActivityWorkoutCardio.Category())
	require.Equal(t, CategoryWorkout, ActivityWorkoutWeights.Category())
	require.Equal(t, CategoryStudy, ActivityStudyCasual.Category())
	require.Equal(t, CategoryOther, ActivityMeditation.Category())
	require.Equal(t, CategoryOther, ActivityUnknown.Category())
}

func TestOnlyWorkoutAndStudyDegrade(t *testing.T) {
	require.True(t, CategoryWorkout.Degrades())
	require.True(t, CategoryStudy.Degrades())
	require.False(t, CategoryOther.Degrades())
	require.Nil(t, CategoryOther.AffectedStats())
}

func TestLoggable(t *testing.T) {
	for _, at := range AllActivityTypes {
		require.True(t, at.Loggable(), "%s", at)
	}
	require.False(t, ActivityWorkoutWeights.Loggable())
	require.False(t, ActivityUnknown.Loggable())
}

func TestEveryLoggableTypeHasGainsOrFixedAward(t *testing.T) {
	for _, at := range AllActivityTypes {
		gains, err := CalculateGains(at, 60)
		require.NoError(t, err)
		require.NotEmpty(t, gains, "%s must affect at least one stat", at)
		for stat := range gains {
			_, ok := ParseStatType(string(stat))
			require.True(t, ok)
		}
	}
}
