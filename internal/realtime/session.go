package realtime

import (
	"sync"
	"time"

	"github.com/aura-webinar/decibel-relay/internal/models"
)

// Session is the mutable state of one live stream. All fields below mu are
// guarded by it; every mutation and every fan-out for the session happens
// while holding mu, so recipients see events in emission order.
type Session struct {
	ID string

	hub *Hub

	mu            sync.Mutex
	producer      *Client // nil once the producer connection is gone
	observers     map[string]*Client
	active        bool
	readings      []models.Reading
	readingFrames [][]byte // encoded decibel_update for each reading, reused by replay
	summaries     []models.SummaryRecord
	timer         *models.TimerState
	startedAt     time.Time
	endedAt       time.Time
	readingsTotal int64
	peakObservers int
	evictTimer    *time.Timer
	evicted       bool
}

func newSession(id string, producer *Client, hub *Hub, now time.Time) *Session {
	return &Session{
		ID:        id,
		hub:       hub,
		producer:  producer,
		observers: make(map[string]*Client),
		active:    true,
		startedAt: now,
	}
}

// Snapshot is a point-in-time copy of a session, used for inspection,
// statistics and archiving.
type Snapshot struct {
	SessionID     string                 `json:"sessionId"`
	IsActive      bool                   `json:"isActive"`
	Observers     int                    `json:"observers"`
	PeakObservers int                    `json:"peakObservers"`
	Readings      int                    `json:"readings"`
	ReadingsTotal int64                  `json:"readingsTotal"`
	TimerData     *models.TimerState     `json:"timerData"`
	SummaryLog    []models.SummaryRecord `json:"summaryLog"`
	StartedAt     time.Time              `json:"startedAt"`
	EndedAt       *time.Time             `json:"endedAt,omitempty"`
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID:     s.ID,
		IsActive:      s.active,
		Observers:     len(s.observers),
		PeakObservers: s.peakObservers,
		Readings:      len(s.readings),
		ReadingsTotal: s.readingsTotal,
		TimerData:     copyTimer(s.timer),
		SummaryLog:    models.DedupSummaries(s.summaries),
		StartedAt:     s.startedAt,
	}
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		snap.EndedAt = &ended
	}
	return snap
}

// Active reports whether the producer is still streaming.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ObserverCount returns the number of joined observers.
func (s *Session) ObserverCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.observers)
}

func copyTimer(t *models.TimerState) *models.TimerState {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
