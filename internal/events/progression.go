// Package events defines the payloads published through the outbox for
// downstream consumers (notification scheduling, analytics).
package events

import "time"

// ActivityLogged is emitted when a new activity entry is accepted.
type ActivityLogged struct {
	ActivityID   string    `json:"activity_id"`
	UserID       string    `json:"user_id"`
	ActivityType string    `json:"activity_type"`
	OccurredAt   time.Time `json:"occurred_at"`
	DurationMin  int       `json:"duration_min"`
	EXPGained    float64   `json:"exp_gained"`
}

// ActivityReversed is emitted when an entry is deleted and its effects undone.
type ActivityReversed struct {
	ActivityID   string    `json:"activity_id"`
	UserID       string    `json:"user_id"`
	ActivityType string    `json:"activity_type"`
	EXPReversed  float64   `json:"exp_reversed"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// LevelChanged is emitted when a user's level moves in either direction. The
// notification scheduler reads these for level-up celebrations.
type LevelChanged struct {
	UserID     string    `json:"user_id"`
	Direction  string    `json:"direction"` // "up" or "down"
	FromLevel  int       `json:"from_level"`
	ToLevel    int       `json:"to_level"`
	OccurredAt time.Time `json:"occurred_at"`
}

// StatsDegraded is emitted after a degradation sweep changed at least one
// category.
type StatsDegraded struct {
	UserID     string             `json:"user_id"`
	Amounts    map[string]float64 `json:"amounts"` // category -> applied amount (<= 0)
	OccurredAt time.Time          `json:"occurred_at"`
}
