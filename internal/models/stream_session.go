package models

import "time"

// StreamSession is the persisted statistics row for one relay session.
// It is written as the stream progresses and never used to restore state.
type StreamSession struct {
	SessionID      string     `json:"session_id"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	PeakObservers  int        `json:"peak_observers"`
	ReadingsCount  int64      `json:"readings_count"`
	SummariesCount int        `json:"summaries_count"`
	ArchiveKey     *string    `json:"archive_key,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
