package domain

import "time"

// User is a snapshot of one user's progression state. Engine operations never
// mutate a User in place; they return an updated copy so the caller can keep
// the previous snapshot around for rollback.
type User struct {
	ID           string
	Level        int
	CurrentEXP   float64
	Stats        map[StatType]float64
	LastActivity map[ActivityType]time.Time
	LastActive   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewUser returns a level-1 user with every stat at the floor.
func NewUser(id string, now time.Time) User {
	stats := make(map[StatType]float64, len(AllStatTypes))
	for _, stat := range AllStatTypes {
		stats[stat] = StatFloor
	}
	return User{
		ID:           id,
		Level:        1,
		CurrentEXP:   0,
		Stats:        stats,
		LastActivity: make(map[ActivityType]time.Time),
		LastActive:   now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone returns a deep copy of the snapshot.
func (u User) Clone() User {
	cp := u
	cp.Stats = make(map[StatType]float64, len(u.Stats))
	for k, v := range u.Stats {
		cp.Stats[k] = v
	}
	cp.LastActivity = make(map[ActivityType]time.Time, len(u.LastActivity))
	for k, v := range u.LastActivity {
		cp.LastActivity[k] = v
	}
	return cp
}

// Stat returns the stat value, defaulting to the floor when absent.
func (u User) Stat(stat StatType) float64 {
	if v, ok := u.Stats[stat]; ok {
		return v
	}
	return StatFloor
}

// categoryLastActive returns the most recent activity timestamp across the
// category's types, or the zero time when the user never logged one.
func (u User) categoryLastActive(c Category) time.Time {
	var latest time.Time
	for _, t := range c.Types() {
		if ts, ok := u.LastActivity[t]; ok && ts.After(latest) {
			latest = ts
		}
	}
	return latest
}
