package protocol

import (
	"encoding/json"

	"github.com/aura-webinar/decibel-relay/internal/models"
)

// SessionCreated answers create_session.
type SessionCreated struct {
	Type       MessageType            `json:"type"`
	SessionID  string                 `json:"sessionId"`
	SummaryLog []models.SummaryRecord `json:"summaryLog"`
}

// SessionJoined answers join_session. TimerData is null when no timer is set.
type SessionJoined struct {
	Type       MessageType            `json:"type"`
	SessionID  string                 `json:"sessionId"`
	IsActive   bool                   `json:"isActive"`
	TimerData  *models.TimerState     `json:"timerData"`
	SummaryLog []models.SummaryRecord `json:"summaryLog"`
}

// DecibelUpdate carries one reading to observers (and back to the producer).
type DecibelUpdate struct {
	Type    MessageType    `json:"type"`
	Reading models.Reading `json:"reading"`
}

// SessionRecorded carries one summary record.
type SessionRecorded struct {
	Type    MessageType          `json:"type"`
	Session models.SummaryRecord `json:"session"`
}

// TimerUpdate carries the producer's countdown.
type TimerUpdate struct {
	Type      MessageType        `json:"type"`
	TimerData *models.TimerState `json:"timerData"`
}

// Notice is a payload-free server event: session_reset, reset_view_log,
// session_ended.
type Notice struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
}

// ErrorFrame reports a request failure to one connection.
type ErrorFrame struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// Request is a client -> server frame.
type Request struct {
	Type      MessageType           `json:"type"`
	SessionID string                `json:"sessionId,omitempty"`
	Reading   *models.Reading       `json:"reading,omitempty"`
	Session   *models.SummaryRecord `json:"session,omitempty"`
	TimerData *models.TimerState    `json:"timerData,omitempty"`
}

// Encode marshals any frame. Frames built from validated values never fail.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// NonNilLog returns log, or an empty slice so it encodes as [] rather than null.
func NonNilLog(log []models.SummaryRecord) []models.SummaryRecord {
	if log == nil {
		return []models.SummaryRecord{}
	}
	return log
}
