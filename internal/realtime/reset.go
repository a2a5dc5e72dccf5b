package realtime

import "go.uber.org/zap"

// ResetKind selects what a reset clears.
type ResetKind int

const (
	// ResetFull clears readings, summary log and timer.
	ResetFull ResetKind = iota
	// ResetViewLog clears only the summary log.
	ResetViewLog
)

func (k ResetKind) String() string {
	if k == ResetViewLog {
		return "reset_view_log"
	}
	return "session_reset"
}

// Reset applies a producer-initiated reset and broadcasts the matching
// notice. Resetting already-empty state only re-broadcasts the notice.
// sessionID, when non-empty, must name the producer's own session.
func (h *Hub) Reset(c *Client, sessionID string, kind ResetKind) error {
	s, err := h.producerSession(c)
	if err != nil {
		return err
	}
	if sessionID != "" && sessionID != s.ID {
		return ErrNotProducer
	}
	notice := noticeReset
	if kind == ResetViewLog {
		notice = noticeResetView
	}
	frame, err := encodeNotice(notice, s.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrSessionEnded
	}
	s.summaries = nil
	if kind == ResetFull {
		s.readings = nil
		s.readingFrames = nil
		s.timer = nil
	}
	s.broadcastLocked(frame)
	h.logger.Debug("session reset", zap.String("session_id", s.ID), zap.Stringer("kind", kind))
	return nil
}
