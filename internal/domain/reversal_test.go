package domain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, time.March, 12, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// fakeUserRepo stores one user and fails saves according to saveErrs, popped
// per call.
type fakeUserRepo struct {
	user     *User
	saveErrs []error
	saves    []User
}

func (r *fakeUserRepo) Get(ctx context.Context, userID string) (*User, error) {
	if r.user == nil || r.user.ID != userID {
		return nil, nil
	}
	u := r.user.Clone()
	return &u, nil
}

func (r *fakeUserRepo) Save(ctx context.Context, user User) error {
	if len(r.saveErrs) > 0 {
		err := r.saveErrs[0]
		r.saveErrs = r.saveErrs[1:]
		if err != nil {
			return err
		}
	}
	u := user.Clone()
	r.user = &u
	r.saves = append(r.saves, u)
	return nil
}

type fakeActivityRepo struct {
	entries   map[string]ActivityLogEntry
	createErr error
	deleteErr error
	deletes   int
}

func newFakeActivityRepo(entries ...ActivityLogEntry) *fakeActivityRepo {
	repo := &fakeActivityRepo{entries: make(map[string]ActivityLogEntry)}
	for _, e := range entries {
		repo.entries[e.ID] = e
	}
	return repo
}

func (r *fakeActivityRepo) FindByID(ctx context.Context, userID, activityID string) (*ActivityLogEntry, error) {
	entry, ok := r.entries[activityID]
	if !ok || entry.UserID != userID {
		return nil, nil
	}
	return &entry, nil
}

func (r *fakeActivityRepo) Create(ctx context.Context, entry ActivityLogEntry) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.entries[entry.ID] = entry
	return nil
}

func (r *fakeActivityRepo) Delete(ctx context.Context, userID, activityID string) error {
	r.deletes++
	if r.deleteErr != nil {
		return r.deleteErr
	}
	delete(r.entries, activityID)
	return nil
}

func (r *fakeActivityRepo) ListByUser(ctx context.Context, userID string, cursor *Cursor, limit int) ([]ActivityLogEntry, *Cursor, error) {
	out := make([]ActivityLogEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil, nil
}

func reversalFixture() (*fakeUserRepo, *fakeActivityRepo, ActivityLogEntry) {
	user := NewUser("user-1", fixedNow.Add(-48*time.Hour))
	user.Level = 3
	user.CurrentEXP = 100.0
	user.Stats[StatStrength] = 2.12
	user.Stats[StatEndurance] = 2.06

	entry := ActivityLogEntry{
		ID:          "act-1",
		UserID:      "user-1",
		Type:        ActivityWorkoutUpperBody,
		DurationMin: 120,
		OccurredAt:  fixedNow.Add(-24 * time.Hour),
		StatGains:   map[StatType]float64{StatStrength: 0.12, StatEndurance: 0.06},
		EXPGained:   300.0,
		CreatedAt:   fixedNow.Add(-24 * time.Hour),
	}

	return &fakeUserRepo{user: &user}, newFakeActivityRepo(entry), entry
}

func TestDeleteActivityReversesStatsAndEXP(t *testing.T) {
	users, activities, entry := reversalFixture()
	svc := NewService(users, activities, WithClock(fixedClock))

	result, err := svc.DeleteActivityWithStatReversal(context.Background(), "user-1", entry.ID)
	require.NoError(t, err)

	require.Equal(t, entry.ID, result.Activity.ID)
	require.InDelta(t, 0.12, result.StatReversal[StatStrength], 1e-9)
	require.InDelta(t, 300.0, result.EXPReversed, 1e-9)

	// 100 - 300 = -200, +1200 (threshold of level 2) = 1000.
	require.True(t, result.LeveledDown)
	require.Equal(t, 2, result.NewLevel)
	require.InDelta(t, 1000.0, result.NewEXP, 1e-9)

	require.InDelta(t, 2.0, users.user.Stats[StatStrength], 1e-9)
	require.InDelta(t, 2.0, users.user.Stats[StatEndurance], 1e-9)
	require.Equal(t, 2, users.user.Level)

	_, ok := activities.entries[entry.ID]
	require.False(t, ok, "entry must be removed")
}

func TestDeleteActivityLevelDownFlag(t *testing.T) {
	users, activities, entry := reversalFixture()
	users.user.CurrentEXP = 500.0
	entry.EXPGained = 100.0
	activities.entries[entry.ID] = entry

	svc := NewService(users, activities, WithClock(fixedClock))
	result, err := svc.DeleteActivityWithStatReversal(context.Background(), "user-1", entry.ID)
	require.NoError(t, err)
	require.False(t, result.LeveledDown)
	require.Equal(t, 3, result.NewLevel)
	require.InDelta(t, 400.0, result.NewEXP, 1e-9)
}

func TestDeleteActivityRejectsEmptyID(t *testing.T) {
	users, activities, _ := reversalFixture()
	svc := NewService(users, activities, WithClock(fixedClock))

	_, err := svc.DeleteActivityWithStatReversal(context.Background(), "user-1", "  ")
	require.ErrorIs(t, err, ErrValidation)
}

func TestDeleteActivityNotFound(t *testing.T) {
	users, activities, _ := reversalFixture()
	svc := NewService(users, activities, WithClock(fixedClock))

	_, err := svc.DeleteActivityWithStatReversal(context.Background(), "user-1", "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteActivityMissingUser(t *testing.T) {
	users, activities, entry := reversalFixture()
	users.user = nil
	svc := NewService(users, activities, WithClock(fixedClock))

	_, err := svc.DeleteActivityWithStatReversal(context.Background(), "user-1", entry.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteActivityRejectsFutureTimestamp(t *testing.T) {
	users, activities, entry := reversalFixture()
	entry.OccurredAt = fixedNow.Add(time.Hour)
	activities.entries[entry.ID] = entry

	svc := NewService(users, activities, WithClock(fixedClock))
	_, err := svc.DeleteActivityWithStatReversal(context.Background(), "user-1", entry.ID)
	require.ErrorIs(t, err, ErrInconsistentState)
	require.Equal(t, 3, users.user.Level, "no mutation on abort")
}

func TestDeleteActivityAbortsWhenUserSaveFails(t *testing.T) {
	users, activities, entry := reversalFixture()
	users.saveErrs = []error{errors.New("disk full")}

	svc := NewService(users, activities, WithClock(fixedClock))
	_, err := svc.DeleteActivityWithStatReversal(context.Background(), "user-1", entry.ID)
	require.ErrorIs(t, err, ErrPersistence)

	// Nothing changed: entry still present, user untouched.
	_, ok := activities.entries[entry.ID]
	require.True(t, ok)
	require.Equal(t, 3, users.user.Level)
	require.Equal(t, 0, activities.deletes)
}

func TestDeleteActivityRollsBackWhenDeleteFails(t *testing.T) {
	users, activities, entry := reversalFixture()
	activities.deleteErr = errors.New("constraint violation")

	svc := NewService(users, activities, WithClock(fixedClock))
	_, err := svc.DeleteActivityWithStatReversal(context.Background(), "user-1", entry.ID)
	require.ErrorIs(t, err, ErrPersistence)

	var fatal *RollbackFailedError
	require.False(t, errors.As(err, &fatal), "successful rollback is not fatal")

	// Original snapshot restored.
	require.Equal(t, 3, users.user.Level)
	require.InDelta(t, 100.0, users.user.CurrentEXP, 1e-9)
	require.InDelta(t, 2.12, users.user.Stats[StatStrength], 1e-9)
	require.Len(t, users.saves, 2, "updated save then rollback save")
}

func TestDeleteActivityEscalatesWhenRollbackFails(t *testing.T) {
	users, activities, entry := reversalFixture()
	activities.deleteErr = errors.New("constraint violation")
	users.saveErrs = []error{nil, errors.New("connection lost")}

	svc := NewService(users, activities, WithClock(fixedClock))
	_, err := svc.DeleteActivityWithStatReversal(context.Background(), "user-1", entry.ID)

	var fatal *RollbackFailedError
	require.True(t, errors.As(err, &fatal))
	require.ErrorIs(t, err, ErrPersistence)
	require.Contains(t, err.Error(), "data may be inconsistent")
}

func TestDeleteActivityFallsBackToRateTableForLegacyEntries(t *testing.T) {
	users, activities, entry := reversalFixture()
	entry.StatGains = nil
	activities.entries[entry.ID] = entry

	svc := NewService(users, activities, WithClock(fixedClock))
	result, err := svc.DeleteActivityWithStatReversal(context.Background(), "user-1", entry.ID)
	require.NoError(t, err)
	require.InDelta(t, 0.12, result.StatReversal[StatStrength], 1e-9)
	require.InDelta(t, 0.06, result.StatReversal[StatEndurance], 1e-9)
}

// liveUserRepo hands out its stored snapshot without cloning, the way a
// cache-backed repository might.
type liveUserRepo struct {
	user  *User
	saves []User
}

func (r *liveUserRepo) Get(ctx context.Context, userID string) (*User, error) {
	if r.user == nil || r.user.ID != userID {
		return nil, nil
	}
	return r.user, nil
}

func (r *liveUserRepo) Save(ctx context.Context, user User) error {
	r.saves = append(r.saves, user.Clone())
	return nil
}

type failingDeleteRepo struct {
	*fakeActivityRepo
	beforeFail func()
}

func (r *failingDeleteRepo) Delete(ctx context.Context, userID, activityID string) error {
	r.beforeFail()
	return errors.New("constraint violation")
}

func TestDeleteActivityRollbackSnapshotIsIsolated(t *testing.T) {
	user := NewUser("user-1", fixedNow.Add(-48*time.Hour))
	user.Level = 3
	user.CurrentEXP = 100.0
	user.Stats[StatStrength] = 2.12

	entry := ActivityLogEntry{
		ID:          "act-1",
		UserID:      "user-1",
		Type:        ActivityWorkoutUpperBody,
		DurationMin: 120,
		OccurredAt:  fixedNow.Add(-24 * time.Hour),
		StatGains:   map[StatType]float64{StatStrength: 0.12},
		EXPGained:   300.0,
		CreatedAt:   fixedNow.Add(-24 * time.Hour),
	}

	users := &liveUserRepo{user: &user}
	activities := &failingDeleteRepo{
		fakeActivityRepo: newFakeActivityRepo(entry),
		// Touch the map the repository handed out, then fail the delete. The
		// rollback must restore the values from before the reversal started.
		beforeFail: func() { user.Stats[StatStrength] = 777 },
	}

	svc := NewService(users, activities, WithClock(fixedClock))
	_, err := svc.DeleteActivityWithStatReversal(context.Background(), "user-1", entry.ID)
	require.ErrorIs(t, err, ErrPersistence)

	require.Len(t, users.saves, 2, "reversed save then rollback save")
	restored := users.saves[1]
	require.InDelta(t, 2.12, restored.Stats[StatStrength], 1e-9)
	require.Equal(t, 3, restored.Level)
	require.InDelta(t, 100.0, restored.CurrentEXP, 1e-9)
}

func TestPreviewActivityDeletionDoesNotMutate(t *testing.T) {
	users, activities, entry := reversalFixture()
	svc := NewService(users, activities, WithClock(fixedClock))

	preview, err := svc.PreviewActivityDeletion(context.Background(), "user-1", entry.ID)
	require.NoError(t, err)
	require.True(t, preview.Valid)
	require.True(t, preview.WillLevelDown)
	require.Equal(t, 2, preview.NewLevel)
	require.InDelta(t, 1000.0, preview.NewEXP, 1e-9)

	// No writes happened.
	require.Empty(t, users.saves)
	_, ok := activities.entries[entry.ID]
	require.True(t, ok)
	require.Equal(t, 3, users.user.Level)
}

func TestPreviewActivityDeletionFlagsInconsistentEntry(t *testing.T) {
	users, activities, entry := reversalFixture()
	entry.EXPGained = -10
	activities.entries[entry.ID] = entry

	svc := NewService(users, activities, WithClock(fixedClock))
	preview, err := svc.PreviewActivityDeletion(context.Background(), "user-1", entry.ID)
	require.NoError(t, err)
	require.False(t, preview.Valid)
	require.NotEmpty(t, preview.Reason)
}
