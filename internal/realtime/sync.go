package realtime

import (
	"strings"

	"go.uber.org/zap"

	"github.com/aura-webinar/decibel-relay/internal/models"
)

// Join adds c as an observer of session id and replays the session state to
// it: session_joined (active flag, deduplicated summary log, timer), then
// every buffered reading as decibel_update in arrival order, then
// session_ended when the stream is already over. The whole replay is queued
// as one batch under the session lock, so no live event can overtake it.
func (h *Hub) Join(c *Client, id string) error {
	if c.session != nil {
		return ErrAlreadyBound
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrBadPayload
	}
	s, err := h.Get(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.evicted {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	batch, err := s.replayLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := c.enqueue(batch...); err != nil {
		s.mu.Unlock()
		h.logger.Debug("join replay not delivered", zap.String("session_id", s.ID), zap.String("client_id", c.ID), zap.Error(err))
		return err
	}
	s.observers[c.ID] = c
	count := len(s.observers)
	if count > s.peakObservers {
		s.peakObservers = count
	}
	s.mu.Unlock()

	c.session = s
	c.role = RoleObserver
	h.logger.Debug("observer joined", zap.String("session_id", s.ID), zap.String("client_id", c.ID), zap.Int("observers", count))
	h.observerJoined(s.ID, c, count)
	return nil
}

// replayLocked builds the late-join batch. Caller holds s.mu.
func (s *Session) replayLocked() ([][]byte, error) {
	joined, err := encodeJoined(s.ID, s.active, copyTimer(s.timer), models.DedupSummaries(s.summaries))
	if err != nil {
		return nil, err
	}
	batch := make([][]byte, 0, len(s.readings)+2)
	batch = append(batch, joined)
	batch = append(batch, s.readingFrames...)
	if !s.active {
		ended, err := encodeNotice(noticeEnded, s.ID)
		if err != nil {
			return nil, err
		}
		batch = append(batch, ended)
	}
	return batch, nil
}
