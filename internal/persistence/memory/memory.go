// Package memory stores progression state in memory for local development and
// tests when no Postgres is available.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/progression/internal/domain"
)

// Repository keeps users and activity entries in maps guarded by a RWMutex.
type Repository struct {
	mu         sync.RWMutex
	users      map[string]domain.User
	activities map[string]map[string]domain.ActivityLogEntry // user -> activity -> entry
}

// NewRepository constructs an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{
		users:      make(map[string]domain.User),
		activities: make(map[string]map[string]domain.ActivityLogEntry),
	}
}

// Get implements domain.UserRepository.
func (r *Repository) Get(ctx context.Context, userID string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[userID]
	if !ok {
		return nil, nil
	}
	cp := user.Clone()
	return &cp, nil
}

// Save implements domain.UserRepository.
func (r *Repository) Save(ctx context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.users[user.ID] = user.Clone()
	return nil
}

// FindByID implements domain.ActivityRepository.
func (r *Repository) FindByID(ctx context.Context, userID, activityID string) (*domain.ActivityLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.activities[userID][activityID]
	if !ok {
		return nil, nil
	}
	cp := entry
	cp.StatGains = copyGains(entry.StatGains)
	return &cp, nil
}

// Create implements domain.ActivityRepository.
func (r *Repository) Create(ctx context.Context, entry domain.ActivityLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID, ok := r.activities[entry.UserID]
	if !ok {
		byID = make(map[string]domain.ActivityLogEntry)
		r.activities[entry.UserID] = byID
	}
	entry.StatGains = copyGains(entry.StatGains)
	byID[entry.ID] = entry
	return nil
}

// Delete implements domain.ActivityRepository. Deleting an absent entry is a
// no-op.
func (r *Repository) Delete(ctx context.Context, userID, activityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.activities[userID], activityID)
	return nil
}

// ListByUser implements domain.ActivityRepository with the same keyset
// ordering as the Postgres repository: newest first, ties broken by ID.
func (r *Repository) ListByUser(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.ActivityLogEntry, *domain.Cursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]domain.ActivityLogEntry, 0, len(r.activities[userID]))
	for _, entry := range r.activities[userID] {
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].OccurredAt.Equal(entries[j].OccurredAt) {
			return entries[i].OccurredAt.After(entries[j].OccurredAt)
		}
		return entries[i].ID > entries[j].ID
	})

	results := make([]domain.ActivityLogEntry, 0, limit)
	for _, entry := range entries {
		if cursor != nil && !before(entry, cursor) {
			continue
		}
		cp := entry
		cp.StatGains = copyGains(entry.StatGains)
		results = append(results, cp)
		if len(results) == limit {
			break
		}
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{OccurredAt: last.OccurredAt, ID: last.ID}
	}
	return results, nextCursor, nil
}

// ListUserIDs returns every known user ID for the degradation sweeper.
func (r *Repository) ListUserIDs(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// RecordDegradation implements domain.DegradationRecorder as a no-op; there is
// no outbox to feed in memory.
func (r *Repository) RecordDegradation(ctx context.Context, userID string, occurredAt time.Time, amounts map[domain.Category]float64) error {
	return nil
}

func before(entry domain.ActivityLogEntry, cursor *domain.Cursor) bool {
	if entry.OccurredAt.Before(cursor.OccurredAt) {
		return true
	}
	return entry.OccurredAt.Equal(cursor.OccurredAt) && entry.ID < cursor.ID
}

func copyGains(gains map[domain.StatType]float64) map[domain.StatType]float64 {
	out := make(map[domain.StatType]float64, len(gains))
	for stat, value := range gains {
		out[stat] = value
	}
	return out
}
