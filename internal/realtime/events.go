package realtime

import (
	"github.com/aura-webinar/decibel-relay/internal/models"
	"github.com/aura-webinar/decibel-relay/internal/protocol"
)

type noticeKind = protocol.MessageType

const (
	noticeEnded     noticeKind = protocol.MsgSessionEnded
	noticeReset     noticeKind = protocol.MsgSessionReset
	noticeResetView noticeKind = protocol.MsgResetViewLog
)

func encodeCreated(id string) ([]byte, error) {
	return protocol.Encode(protocol.SessionCreated{
		Type:       protocol.MsgSessionCreated,
		SessionID:  id,
		SummaryLog: []models.SummaryRecord{},
	})
}

func encodeJoined(id string, active bool, timer *models.TimerState, log []models.SummaryRecord) ([]byte, error) {
	return protocol.Encode(protocol.SessionJoined{
		Type:       protocol.MsgSessionJoined,
		SessionID:  id,
		IsActive:   active,
		TimerData:  timer,
		SummaryLog: protocol.NonNilLog(log),
	})
}

func encodeReading(r models.Reading) ([]byte, error) {
	return protocol.Encode(protocol.DecibelUpdate{Type: protocol.MsgDecibelUpdate, Reading: r})
}

func encodeSummary(rec models.SummaryRecord) ([]byte, error) {
	return protocol.Encode(protocol.SessionRecorded{Type: protocol.MsgSessionRecorded, Session: rec})
}

func encodeTimer(t *models.TimerState) ([]byte, error) {
	return protocol.Encode(protocol.TimerUpdate{Type: protocol.MsgTimerUpdate, TimerData: t})
}

func encodeNotice(kind noticeKind, id string) ([]byte, error) {
	return protocol.Encode(protocol.Notice{Type: kind, SessionID: id})
}

func encodeError(msg string) ([]byte, error) {
	return protocol.Encode(protocol.ErrorFrame{Type: protocol.MsgError, Message: msg})
}
