package store

import "time"

// ScriptError is one uncaught script failure.
type ScriptError struct {
	ID         int64
	ScriptID   string
	ScriptName string
	Message    string
	Traceback  string
	StartedAt  time.Time
	FailedAt   time.Time
}

// ItemStats accumulates how much typing an item saved.
type ItemStats struct {
	ItemID     string
	Expansions int64
	CharsSaved int64
	LastUsed   time.Time
}
