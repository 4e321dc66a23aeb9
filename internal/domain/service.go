package domain

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UserRepository captures persistence operations on user snapshots.
type UserRepository interface {
	Get(ctx context.Context, userID string) (*User, error)
	Save(ctx context.Context, user User) error
}

// ActivityRepository captures persistence operations on activity log entries.
type ActivityRepository interface {
	FindByID(ctx context.Context, userID, activityID string) (*ActivityLogEntry, error)
	Create(ctx context.Context, entry ActivityLogEntry) error
	Delete(ctx context.Context, userID, activityID string) error
	ListByUser(ctx context.Context, userID string, cursor *Cursor, limit int) ([]ActivityLogEntry, *Cursor, error)
}

// DegradationRecorder lets a persistence layer record a degradation sweep for
// downstream consumers (e.g. the notification scheduler). Optional.
type DegradationRecorder interface {
	RecordDegradation(ctx context.Context, userID string, occurredAt time.Time, amounts map[Category]float64) error
}

// Service orchestrates the progression engines against the repositories. It
// assumes a single logical caller per user; there is no internal locking.
type Service struct {
	users          UserRepository
	activities     ActivityRepository
	degradations   DegradationRecorder
	relaxedWeekend bool
	now            func() time.Time
}

// Option configures optional Service behaviour.
type Option func(*Service)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRelaxedWeekend excludes weekend days from degradation elapsed-day counts.
func WithRelaxedWeekend(enabled bool) Option {
	return func(s *Service) { s.relaxedWeekend = enabled }
}

// WithDegradationRecorder wires a recorder for degradation sweep events.
func WithDegradationRecorder(r DegradationRecorder) Option {
	return func(s *Service) { s.degradations = r }
}

// NewService constructs a Service.
func NewService(users UserRepository, activities ActivityRepository, opts ...Option) *Service {
	s := &Service{
		users:      users,
		activities: activities,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LogActivityInput captures the payload for logging a new activity.
type LogActivityInput struct {
	UserID       string
	ActivityType string
	DurationMin  int
	OccurredAt   time.Time
}

// LogActivityResult reports what logging changed.
type LogActivityResult struct {
	Entry        ActivityLogEntry
	StatGains    map[StatType]float64
	EXPGained    float64
	LeveledUp    bool
	LevelsGained int
	NewLevel     int
	NewEXP       float64
}

// LogActivity computes stat gains and EXP for a new activity, applies them to
// the user with multi-level rollover, and persists the entry with an exact
// snapshot of the applied amounts so a later reversal is lossless.
func (s *Service) LogActivity(ctx context.Context, input LogActivityInput) (*LogActivityResult, error) {
	if strings.TrimSpace(input.UserID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	activityType := ParseActivityType(input.ActivityType)
	if !activityType.Loggable() {
		return nil, fmt.Errorf("%w: activity type %q is not loggable", ErrValidation, input.ActivityType)
	}
	if input.DurationMin < 0 {
		return nil, fmt.Errorf("%w: duration must be >= 0 minutes, got %d", ErrValidation, input.DurationMin)
	}

	now := s.now()
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}
	if occurredAt.After(now) {
		return nil, fmt.Errorf("%w: activity timestamp %s is in the future", ErrValidation, occurredAt.Format(time.RFC3339))
	}

	user, err := s.users.Get(ctx, input.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading user: %v", ErrPersistence, err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, input.UserID)
	}

	gains, err := CalculateGains(activityType, input.DurationMin)
	if err != nil {
		return nil, err
	}
	exp := expForActivity(activityType, input.DurationMin)
	newLevel, newEXP, levelsGained, err := AddEXP(user.Level, user.CurrentEXP, exp)
	if err != nil {
		return nil, err
	}

	entry := ActivityLogEntry{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		Type:        activityType,
		DurationMin: input.DurationMin,
		OccurredAt:  occurredAt,
		StatGains:   gains,
		EXPGained:   exp,
		CreatedAt:   now,
	}

	updated := user.Clone()
	updated.Stats = ApplyGains(updated.Stats, gains)
	updated.Level = newLevel
	updated.CurrentEXP = newEXP
	updated.LastActivity[activityType] = occurredAt
	updated.LastActive = now
	updated.UpdatedAt = now

	// Entry first, then the user: if the process dies in between, the entry
	// exists without its effects and can simply be deleted again. The inverse
	// order would leave unexplained gains on the user.
	if err := s.activities.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("%w: creating activity entry: %v", ErrPersistence, err)
	}
	if err := s.users.Save(ctx, updated); err != nil {
		if delErr := s.activities.Delete(ctx, entry.UserID, entry.ID); delErr != nil {
			return nil, &RollbackFailedError{Cause: err, RollbackErr: delErr}
		}
		return nil, fmt.Errorf("%w: saving user: %v", ErrPersistence, err)
	}

	return &LogActivityResult{
		Entry:        entry,
		StatGains:    gains,
		EXPGained:    exp,
		LeveledUp:    levelsGained > 0,
		LevelsGained: levelsGained,
		NewLevel:     newLevel,
		NewEXP:       newEXP,
	}, nil
}

// GetActivity fetches one entry scoped to the user.
func (s *Service) GetActivity(ctx context.Context, userID, activityID string) (*ActivityLogEntry, error) {
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
	return entry, nil
}

// ListActivities fetches the user's entries with keyset pagination.
func (s *Service) ListActivities(ctx context.Context, userID string, cursor *Cursor, limit int) ([]ActivityLogEntry, *Cursor, error) {
	return s.activities.ListByUser(ctx, userID, cursor, limit)
}

// Profile is the read model consumed by charts and exports: sanitized stats
// plus the warnings produced while sanitizing them.
type Profile struct {
	User      User
	Stats     map[StatType]float64
	Warnings  []StatWarning
	Threshold float64
	ChartMax  float64
}

// GetProfile returns the user's progression state with stats passed through
// ValidateStats. When sanitization repaired anything, the repaired values are
// persisted immediately, so a given corruption produces warnings exactly once
// rather than on every read.
func (s *Service) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading user: %v", ErrPersistence, err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}

	sanitized, warnings := ValidateStats(user.Stats)
	if statsChanged(user.Stats, sanitized) {
		repaired := user.Clone()
		repaired.Stats = sanitized
		repaired.UpdatedAt = s.now()
		if err := s.users.Save(ctx, repaired); err != nil {
			return nil, fmt.Errorf("%w: saving sanitized stats: %v", ErrPersistence, err)
		}
		user = &repaired
	}

	threshold, err := Threshold(user.Level)
	if err != nil {
		return nil, err
	}
	return &Profile{
		User:      *user,
		Stats:     sanitized,
		Warnings:  warnings,
		Threshold: threshold,
		ChartMax:  RecommendedChartMax(sanitized),
	}, nil
}

// DegradationOutcome reports a degradation sweep.
type DegradationOutcome struct {
	Applied map[Category]float64
	User    User
}

// RunDegradation applies time decay to every neglected category and persists
// the result. A sweep that changes nothing performs no writes.
func (s *Service) RunDegradation(ctx context.Context, userID string) (*DegradationOutcome, error) {
	user, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading user: %v", ErrPersistence, err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}

	now := s.now()
	updated, applied := ApplyDegradation(*user, now, s.relaxedWeekend)
	if len(applied) == 0 {
		return &DegradationOutcome{Applied: applied, User: *user}, nil
	}

	if err := s.users.Save(ctx, updated); err != nil {
		return nil, fmt.Errorf("%w: saving degraded user: %v", ErrPersistence, err)
	}
	if s.degradations != nil {
		if err := s.degradations.RecordDegradation(ctx, userID, now, applied); err != nil {
			return nil, fmt.Errorf("%w: recording degradation: %v", ErrPersistence, err)
		}
	}
	return &DegradationOutcome{Applied: applied, User: updated}, nil
}

// statsChanged reports whether sanitization altered any value. NaN never
// compares equal, so a NaN always registers as changed.
func statsChanged(stored, sanitized map[StatType]float64) bool {
	if len(stored) != len(sanitized) {
		return true
	}
	for stat, value := range sanitized {
		if prev, ok := stored[stat]; !ok || prev != value {
			return true
		}
	}
	return false
}

// validateEntryConsistency checks stored-entry invariants before a reversal
// mutates anything.
func (s *Service) validateEntryConsistency(entry *ActivityLogEntry) error {
	if entry.DurationMin < 0 {
		return fmt.Errorf("%w: stored duration is negative (%d)", ErrInconsistentState, entry.DurationMin)
	}
	if math.IsNaN(entry.EXPGained) || entry.EXPGained < 0 {
		return fmt.Errorf("%w: stored EXP gain is invalid (%v)", ErrInconsistentState, entry.EXPGained)
	}
	for stat, gain := range entry.StatGains {
		if math.IsNaN(gain) {
			return fmt.Errorf("%w: stored gain for %s is NaN", ErrInconsistentState, stat)
		}
	}
	if entry.OccurredAt.After(s.now()) {
		return fmt.Errorf("%w: activity timestamp %s is in the future", ErrInconsistentState, entry.OccurredAt.Format(time.RFC3339))
	}
	return nil
}
