package realtime

import (
	"errors"

	"go.uber.org/zap"
)

// broadcastLocked delivers frame to every observer and to the producer.
// Caller holds s.mu. Delivery is best-effort: a failing recipient never
// stops delivery to the others. Observers whose connection is closed or
// whose outbound queue is full are dropped from the session; the producer
// is never dropped here, its lifecycle belongs to its own read loop.
func (s *Session) broadcastLocked(frame []byte) {
	for id, o := range s.observers {
		err := o.enqueue(frame)
		if err == nil {
			continue
		}
		delete(s.observers, id)
		if errors.Is(err, errSendBufferFull) {
			s.hub.logger.Warn("observer too slow, disconnecting",
				zap.String("session_id", s.ID), zap.String("client_id", id))
			o.close()
		} else {
			s.hub.logger.Debug("dropping closed observer",
				zap.String("session_id", s.ID), zap.String("client_id", id))
		}
		s.hub.notifyLeaveAsync(s, o)
	}
	if s.producer != nil {
		if err := s.producer.enqueue(frame); err != nil {
			s.hub.logger.Debug("producer echo dropped",
				zap.String("session_id", s.ID), zap.String("client_id", s.producer.ID), zap.Error(err))
		}
	}
	if s.hub.mirror != nil {
		s.hub.mirror.Publish(s.ID, frame)
	}
}
