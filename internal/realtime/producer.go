package realtime

import (
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/decibel-relay/internal/models"
	"github.com/aura-webinar/decibel-relay/internal/protocol"
)

// producerSession returns the session c produces, or why it may not act.
func (h *Hub) producerSession(c *Client) (*Session, error) {
	if c.session == nil {
		return nil, ErrNotBound
	}
	if c.role != RoleProducer {
		return nil, ErrNotProducer
	}
	return c.session, nil
}

// PublishReading appends r to the reading buffer and fans it out to the
// observers, echoing it back to the producer.
func (h *Hub) PublishReading(c *Client, r models.Reading) error {
	s, err := h.producerSession(c)
	if err != nil {
		return err
	}
	if !protocol.ValidReading(r) {
		return ErrBadPayload
	}
	frame, err := encodeReading(r)
	if err != nil {
		return ErrBadPayload
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrSessionEnded
	}
	if limit := h.opts.MaxBufferedReadings; limit > 0 && len(s.readings) >= limit {
		drop := len(s.readings) - limit + 1
		s.readings = append(s.readings[:0:0], s.readings[drop:]...)
		s.readingFrames = append(s.readingFrames[:0:0], s.readingFrames[drop:]...)
	}
	s.readings = append(s.readings, r)
	s.readingFrames = append(s.readingFrames, frame)
	s.readingsTotal++
	s.broadcastLocked(frame)
	return nil
}

// RecordSummary inserts rec into the summary log and broadcasts it. A record
// whose id is already present is absorbed silently: no entry, no broadcast.
// Records without an id fall back to timestamp proximity: one created within
// the dedup window of an existing record is treated as a resubmission.
// It reports whether the record was inserted.
func (h *Hub) RecordSummary(c *Client, rec models.SummaryRecord) (bool, error) {
	s, err := h.producerSession(c)
	if err != nil {
		return false, err
	}
	if !protocol.ValidSummary(rec) {
		return false, ErrBadPayload
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false, ErrSessionEnded
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = h.now()
	}
	if s.isDuplicateLocked(rec, h.opts.DedupWindow) {
		h.logger.Debug("duplicate summary absorbed", zap.String("session_id", s.ID), zap.Int64("summary_id", rec.ID))
		return false, nil
	}
	if rec.ID == 0 {
		rec.ID = s.freshSummaryIDLocked(rec.CreatedAt)
	}
	rec.SequenceNumber = len(s.summaries) + 1

	frame, err := encodeSummary(rec)
	if err != nil {
		return false, ErrBadPayload
	}
	s.summaries = append(s.summaries, rec)
	s.broadcastLocked(frame)
	return true, nil
}

func (s *Session) isDuplicateLocked(rec models.SummaryRecord, window time.Duration) bool {
	for _, existing := range s.summaries {
		if rec.ID != 0 {
			if existing.ID == rec.ID {
				return true
			}
			continue
		}
		d := rec.CreatedAt.Sub(existing.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d < window {
			return true
		}
	}
	return false
}

// freshSummaryIDLocked derives an id from the creation time in Unix
// milliseconds, bumped past any id already in the log.
func (s *Session) freshSummaryIDLocked(createdAt time.Time) int64 {
	id := createdAt.UnixMilli()
	if id <= 0 {
		id = 1
	}
	for {
		taken := false
		for _, existing := range s.summaries {
			if existing.ID == id {
				taken = true
				break
			}
		}
		if !taken {
			return id
		}
		id++
	}
}

// UpdateTimer stores the producer's countdown and broadcasts it.
func (h *Hub) UpdateTimer(c *Client, t models.TimerState) error {
	s, err := h.producerSession(c)
	if err != nil {
		return err
	}
	if t.RemainingSeconds < 0 {
		return ErrBadPayload
	}
	frame, err := encodeTimer(&t)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrSessionEnded
	}
	s.timer = &t
	s.broadcastLocked(frame)
	return nil
}

// Stop handles disconnect_session. From the producer it ends the session;
// from an observer it is a leave. Either way the connection stays open and
// is unbound, so it may create or join another session.
func (h *Hub) Stop(c *Client) error {
	s := c.session
	if s == nil {
		return ErrNotBound
	}
	switch c.role {
	case RoleProducer:
		h.endSession(s, "producer stopped")
		s.mu.Lock()
		if s.producer == c {
			s.producer = nil
		}
		s.mu.Unlock()
	case RoleObserver:
		h.leave(s, c)
	}
	c.session = nil
	c.role = RoleNone
	return nil
}
