package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ReversalResult reports a completed activity deletion: the removed entry,
// the stat amounts subtracted, the EXP reversed, and the resulting level.
type ReversalResult struct {
	Activity     ActivityLogEntry
	StatReversal map[StatType]float64
	EXPReversed  float64
	LeveledDown  bool
	LevelsLost   int
	NewLevel     int
	NewEXP       float64
}

// DeletionPreview is the non-mutating projection of a reversal for UI
// confirmation dialogs. Valid is false when the stored entry violates a
// domain invariant and deleting it would be rejected.
type DeletionPreview struct {
	Valid         bool
	Reason        string
	Activity      ActivityLogEntry
	StatReversal  map[StatType]float64
	EXPReversed   float64
	WillLevelDown bool
	LevelsLost    int
	NewLevel      int
	NewEXP        float64
}

// reversalPlan holds the computed outcome of steps 1-2 shared by preview and
// delete.
type reversalPlan struct {
	entry      *ActivityLogEntry
	user       *User
	reversals  map[StatType]float64
	newStats   map[StatType]float64
	newLevel   int
	newEXP     float64
	levelsLost int
}

// planReversal runs the validate and compute phases without mutating anything.
func (s *Service) planReversal(ctx context.Context, userID, activityID string) (*reversalPlan, error) {
	if strings.TrimSpace(activityID) == "" {
		return nil, fmt.Errorf("%w: activity id is required", ErrValidation)
	}

	entry, err := s.activities.FindByID(ctx, userID, activityID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading activity: %v", ErrPersistence, err)
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: activity %s", ErrNotFound, activityID)
	}

	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading user: %v", ErrPersistence, err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}

	if err := s.validateEntryConsistency(entry); err != nil {
		return nil, err
	}

	reversals, err := CalculateStatReversals(entry.Type, entry.DurationMin, entry.StatGains)
	if err != nil {
		return nil, err
	}
	newStats := ApplyReversals(user.Stats, reversals)
	newLevel, newEXP, levelsLost, err := ReverseEXP(user.Level, user.CurrentEXP, entry.EXPGained)
	if err != nil {
		return nil, err
	}

	return &reversalPlan{
		entry:      entry,
		user:       user,
		reversals:  reversals,
		newStats:   newStats,
		newLevel:   newLevel,
		newEXP:     newEXP,
		levelsLost: levelsLost,
	}, nil
}

// DeleteActivityWithStatReversal undoes a logged activity's effects and
// removes its entry. Persistence is two-phase with the user saved first: a
// crash between the phases leaves corrected stats plus a redundant log entry,
// which is a recoverable state. If the entry delete fails, the original user
// snapshot is restored; if that restore also fails the error escalates as a
// RollbackFailedError and must be surfaced verbatim.
func (s *Service) DeleteActivityWithStatReversal(ctx context.Context, userID, activityID string) (*ReversalResult, error) {
	plan, err := s.planReversal(ctx, userID, activityID)
	if err != nil {
		return nil, err
	}

	// Deep-copy the pre-reversal snapshot so no later mutation of the loaded
	// user's maps can leak into the rollback save.
	original := plan.user.Clone()
	now := s.now()

	updated := plan.user.Clone()
	updated.Stats = plan.newStats
	updated.Level = plan.newLevel
	updated.CurrentEXP = plan.newEXP
	updated.UpdatedAt = now

	if err := s.users.Save(ctx, updated); err != nil {
		// Nothing was changed; the whole operation may be retried.
		return nil, fmt.Errorf("%w: saving reversed user: %v", ErrPersistence, err)
	}

	if err := s.activities.Delete(ctx, userID, plan.entry.ID); err != nil {
		if rollbackErr := s.users.Save(ctx, original); rollbackErr != nil {
			return nil, &RollbackFailedError{Cause: err, RollbackErr: rollbackErr}
		}
		return nil, fmt.Errorf("%w: deleting activity entry (user restored): %v", ErrPersistence, err)
	}

	return &ReversalResult{
		Activity:     *plan.entry,
		StatReversal: plan.reversals,
		EXPReversed:  plan.entry.EXPGained,
		LeveledDown:  plan.levelsLost > 0,
		LevelsLost:   plan.levelsLost,
		NewLevel:     plan.newLevel,
		NewEXP:       plan.newEXP,
	}, nil
}

// PreviewActivityDeletion computes what deleting the activity would change
// without persisting anything. Consistency violations are reported through
// Valid/Reason so dialogs can explain why the delete button is disabled;
// missing users or activities still return errors.
func (s *Service) PreviewActivityDeletion(ctx context.Context, userID, activityID string) (*DeletionPreview, error) {
	plan, err := s.planReversal(ctx, userID, activityID)
	if err != nil {
		if errors.Is(err, ErrInconsistentState) {
			return &DeletionPreview{Valid: false, Reason: err.Error()}, nil
		}
		return nil, err
	}

	return &DeletionPreview{
		Valid:         true,
		Activity:      *plan.entry,
		StatReversal:  plan.reversals,
		EXPReversed:   plan.entry.EXPGained,
		WillLevelDown: plan.levelsLost > 0,
		LevelsLost:    plan.levelsLost,
		NewLevel:      plan.newLevel,
		NewEXP:        plan.newEXP,
	}, nil
}
