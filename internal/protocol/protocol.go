// Package protocol defines the JSON frames exchanged between the relay
// server and its producer/observer connections. Every frame carries a
// required "type" discriminator; the remaining fields depend on the type.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/aura-webinar/decibel-relay/internal/models"
)

// MessageType is the "type" discriminator of a frame.
type MessageType string

const (
	// client -> server
	MsgCreateSession     MessageType = "create_session"
	MsgJoinSession       MessageType = "join_session"
	MsgDecibelData       MessageType = "decibel_data"
	MsgDisconnectSession MessageType = "disconnect_session"

	// producer -> server and server -> clients
	MsgSessionRecorded MessageType = "session_recorded"
	MsgTimerUpdate     MessageType = "timer_update"
	MsgSessionReset    MessageType = "session_reset"
	MsgResetViewLog    MessageType = "reset_view_log"

	// server -> client
	MsgSessionCreated MessageType = "session_created"
	MsgSessionJoined  MessageType = "session_joined"
	MsgDecibelUpdate  MessageType = "decibel_update"
	MsgSessionEnded   MessageType = "session_ended"
	MsgError          MessageType = "error"
)

// Decibel bounds of a reading value.
const (
	MinDecibel = 0
	MaxDecibel = 100
)

var (
	// ErrMalformed is returned by Decode for frames that are not JSON
	// objects or have no type. Such frames cannot be answered.
	ErrMalformed = errors.New("malformed frame")
	// ErrPayload is returned by Decode when the type is readable but a
	// field has the wrong shape. The returned Frame still carries Type.
	ErrPayload = errors.New("invalid frame payload")
)

// Frame is the union of all frame fields, used for decoding in either
// direction. Absent fields stay nil.
type Frame struct {
	Type       MessageType            `json:"type"`
	SessionID  string                 `json:"sessionId,omitempty"`
	Reading    *models.Reading        `json:"reading,omitempty"`
	Data       *models.Reading        `json:"data,omitempty"` // legacy alias of reading
	Session    *models.SummaryRecord  `json:"session,omitempty"`
	SummaryLog []models.SummaryRecord `json:"summaryLog,omitempty"`
	TimerData  *models.TimerState     `json:"timerData,omitempty"`
	IsActive   *bool                  `json:"isActive,omitempty"`
	Message    string                 `json:"message,omitempty"`
}

// Decode parses one frame.
func Decode(raw []byte) (Frame, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if head.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{Type: head.Type}, fmt.Errorf("%w: %s: %v", ErrPayload, head.Type, err)
	}
	return f, nil
}

// IsRequest reports whether t is a frame clients send to the server.
func (t MessageType) IsRequest() bool {
	switch t {
	case MsgCreateSession, MsgJoinSession, MsgDecibelData, MsgDisconnectSession,
		MsgSessionRecorded, MsgTimerUpdate, MsgSessionReset, MsgResetViewLog:
		return true
	}
	return false
}

// ReadingPayload returns the reading carried by a decibel frame, accepting
// the legacy "data" field.
func (f Frame) ReadingPayload() (models.Reading, bool) {
	switch {
	case f.Reading != nil:
		return *f.Reading, true
	case f.Data != nil:
		return *f.Data, true
	}
	return models.Reading{}, false
}

// ValidReading reports whether r has a timestamp and a value within
// [MinDecibel, MaxDecibel]. NaN fails the range check.
func ValidReading(r models.Reading) bool {
	v := float64(r.Value)
	return !r.Time.IsZero() && v >= MinDecibel && v <= MaxDecibel
}

// ValidSummary reports whether every statistic of rec is finite.
func ValidSummary(rec models.SummaryRecord) bool {
	for _, v := range []float64{rec.DurationSeconds, float64(rec.Max), float64(rec.Avg), float64(rec.Min)} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
