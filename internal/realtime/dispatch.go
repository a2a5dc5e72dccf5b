package realtime

import (
	"errors"

	"go.uber.org/zap"

	"github.com/aura-webinar/decibel-relay/internal/protocol"
)

// Handle applies one inbound frame from c. Unparseable frames and unknown
// types are dropped; request failures are answered with an error frame to c
// alone.
func (h *Hub) Handle(c *Client, raw []byte) {
	f, err := protocol.Decode(raw)
	if errors.Is(err, protocol.ErrPayload) && f.Type.IsRequest() {
		h.reject(c, f.Type, ErrBadPayload)
		return
	}
	if err != nil {
		h.logger.Debug("dropping malformed frame", zap.String("client_id", c.ID), zap.Error(err))
		return
	}

	switch f.Type {
	case protocol.MsgCreateSession:
		_, err = h.Create(c)
	case protocol.MsgJoinSession:
		err = h.Join(c, f.SessionID)
	case protocol.MsgDecibelData:
		r, ok := f.ReadingPayload()
		if !ok {
			err = ErrBadPayload
			break
		}
		err = h.PublishReading(c, r)
	case protocol.MsgSessionRecorded:
		if f.Session == nil {
			err = ErrBadPayload
			break
		}
		_, err = h.RecordSummary(c, *f.Session)
	case protocol.MsgTimerUpdate:
		if f.TimerData == nil {
			err = ErrBadPayload
			break
		}
		err = h.UpdateTimer(c, *f.TimerData)
	case protocol.MsgSessionReset:
		err = h.Reset(c, f.SessionID, ResetFull)
	case protocol.MsgResetViewLog:
		err = h.Reset(c, f.SessionID, ResetViewLog)
	case protocol.MsgDisconnectSession:
		err = h.Stop(c)
	default:
		h.logger.Debug("dropping unknown frame type", zap.String("client_id", c.ID), zap.String("type", string(f.Type)))
		return
	}
	if err != nil {
		h.reject(c, f.Type, err)
	}
}

func (h *Hub) reject(c *Client, typ protocol.MessageType, err error) {
	var msg string
	switch {
	case errors.Is(err, ErrSessionNotFound):
		msg = "Session not found"
	case errors.Is(err, ErrNotProducer), errors.Is(err, ErrNotBound):
		msg = "only the session producer may send " + string(typ)
	case errors.Is(err, ErrAlreadyBound):
		msg = "connection is already part of a session"
	case errors.Is(err, ErrSessionEnded):
		msg = "session has ended"
	case errors.Is(err, ErrBadPayload):
		msg = "malformed " + string(typ) + " request"
	case errors.Is(err, errClientClosed), errors.Is(err, errSendBufferFull):
		return
	default:
		msg = "request failed"
	}
	h.logger.Debug("request rejected", zap.String("client_id", c.ID), zap.String("type", string(typ)), zap.Error(err))
	frame, encErr := encodeError(msg)
	if encErr != nil {
		return
	}
	_ = c.enqueue(frame)
}
