package domain

import "time"

// ActivityLogEntry is the stored record of one logged activity. StatGains and
// EXPGained snapshot the exact amounts applied at logging time so a later
// reversal removes precisely what was added, even after rate-table changes.
type ActivityLogEntry struct {
	ID          string
	UserID      string
	Type        ActivityType
	DurationMin int
	OccurredAt  time.Time
	// StatGains may be empty for legacy rows created before gains were
	// snapshotted; reversal then falls back to recomputing from the rate
	// tables.
	StatGains map[StatType]float64
	EXPGained float64
	CreatedAt time.Time
}

// Cursor models the keyset pagination token for activity listings.
type Cursor struct {
	OccurredAt time.Time
	ID         string
}
