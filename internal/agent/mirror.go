package agent

import (
	"errors"
	"math"
	"time"

	"github.com/aura-webinar/decibel-relay/internal/models"
	"github.com/aura-webinar/decibel-relay/internal/protocol"
)

var (
	ErrNotConnected   = errors.New("agent is not connected to a session")
	ErrNotProducer    = errors.New("agent is not the session producer")
	ErrNotRecording   = errors.New("recording is paused or not started")
	ErrEnded          = errors.New("session has ended")
	ErrNoReadings     = errors.New("no readings since the previous summary")
	ErrInvalidReading = errors.New("reading needs a timestamp and a value between 0 and 100")
)

// State is the connection role state.
type State int

const (
	Disconnected State = iota
	Connecting
	ProducerActive
	ObserverActive
	Ended
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case ProducerActive:
		return "producer"
	case ObserverActive:
		return "observer"
	case Ended:
		return "ended"
	}
	return "disconnected"
}

// Capture is the producer's local capture sub-state.
type Capture int

const (
	Idle Capture = iota
	Recording
	Paused
)

// Mirror is the local copy of a session's shared state. It is not safe for
// concurrent use; every method returns the notifications it produced instead
// of publishing them, so the owner can publish outside its own lock.
type Mirror struct {
	state     State
	capture   Capture
	sessionID string
	active    bool

	readings    []models.Reading
	windowStart int // first reading not yet covered by a summary
	summaries   []models.SummaryRecord
	max         models.Decibel
	timer       *models.TimerState
	lastID      int64
	lastSent    time.Time // newest reading this producer sent
}

// NewMirror returns a mirror in the Disconnected state.
func NewMirror() *Mirror {
	return &Mirror{}
}

func (m *Mirror) setState(to State) []Event {
	if m.state == to {
		return nil
	}
	from := m.state
	m.state = to
	return []Event{StateChanged{From: from, To: to}}
}

// Connecting marks the start of a create or join handshake. Whatever the
// previous session left behind is cleared.
func (m *Mirror) Connecting() []Event {
	if m.state == Ended || m.state == Disconnected {
		m.reset()
		m.sessionID = ""
		m.capture = Idle
		m.lastSent = time.Time{}
	}
	return m.setState(Connecting)
}

// Apply merges one server frame. Frames arriving after Ended are ignored.
func (m *Mirror) Apply(f protocol.Frame) []Event {
	if m.state == Ended {
		return nil
	}
	switch f.Type {
	case protocol.MsgSessionCreated:
		m.sessionID = f.SessionID
		m.active = true
		m.summaries = nil
		evs := m.setState(ProducerActive)
		evs = append(evs, SessionCreated{SessionID: f.SessionID})
		return append(evs, m.mergeSummaries(f.SummaryLog)...)
	case protocol.MsgSessionJoined:
		m.sessionID = f.SessionID
		m.active = f.IsActive == nil || *f.IsActive
		m.summaries = nil
		evs := m.setState(ObserverActive)
		evs = append(evs, SessionJoined{SessionID: f.SessionID, Active: m.active})
		evs = append(evs, m.mergeSummaries(f.SummaryLog)...)
		if f.TimerData != nil {
			evs = append(evs, m.applyTimer(*f.TimerData)...)
		}
		return evs
	case protocol.MsgDecibelUpdate:
		r, ok := f.ReadingPayload()
		if !ok {
			return nil
		}
		if m.state == ProducerActive && !m.lastSent.IsZero() && !r.Time.After(m.lastSent) {
			// echo of a reading we already hold
			return nil
		}
		return m.applyReading(r)
	case protocol.MsgSessionRecorded:
		if f.Session == nil {
			return nil
		}
		return m.mergeSummaries([]models.SummaryRecord{*f.Session})
	case protocol.MsgTimerUpdate:
		if f.TimerData == nil {
			return nil
		}
		return m.applyTimer(*f.TimerData)
	case protocol.MsgSessionReset:
		m.reset()
		return []Event{SessionReset{}}
	case protocol.MsgResetViewLog:
		m.summaries = nil
		return []Event{ViewLogReset{}}
	case protocol.MsgSessionEnded:
		return m.end("session ended")
	case protocol.MsgError:
		return []Event{ServerError{Message: f.Message}}
	}
	return nil
}

// applyReading appends r unless it repeats the last stored timestamp, which
// is what the producer's own echo looks like.
func (m *Mirror) applyReading(r models.Reading) []Event {
	if n := len(m.readings); n > 0 && m.readings[n-1].Time.Equal(r.Time) {
		return nil
	}
	m.readings = append(m.readings, r)
	if r.Value > m.max {
		m.max = r.Value
	}
	return []Event{ReadingReceived{Reading: r, Max: m.max}}
}

// mergeSummaries inserts records whose id is not held yet. A held record
// that still lacks a server sequence number adopts the incoming one.
func (m *Mirror) mergeSummaries(recs []models.SummaryRecord) []Event {
	var evs []Event
	for _, rec := range recs {
		if i := m.summaryIndex(rec.ID); i >= 0 {
			if m.summaries[i].SequenceNumber == 0 {
				m.summaries[i].SequenceNumber = rec.SequenceNumber
			}
			continue
		}
		m.summaries = append(m.summaries, rec)
		if rec.ID > m.lastID {
			m.lastID = rec.ID
		}
		evs = append(evs, SummaryLogged{Record: rec})
	}
	return evs
}

func (m *Mirror) summaryIndex(id int64) int {
	for i, rec := range m.summaries {
		if rec.ID == id {
			return i
		}
	}
	return -1
}

func (m *Mirror) applyTimer(t models.TimerState) []Event {
	cp := t
	m.timer = &cp
	return []Event{TimerSynced{Timer: t}}
}

func (m *Mirror) reset() {
	m.readings = nil
	m.windowStart = 0
	m.summaries = nil
	m.max = 0
	m.timer = nil
}

func (m *Mirror) end(reason string) []Event {
	m.active = false
	m.capture = Idle
	evs := m.setState(Ended)
	return append(evs, SessionEnded{Reason: reason})
}

// TransportClosed handles the connection dropping. An observer ends; a
// producer or a pending handshake falls back to Disconnected.
func (m *Mirror) TransportClosed() []Event {
	switch m.state {
	case ObserverActive:
		return m.end("connection closed")
	case ProducerActive, Connecting:
		m.active = false
		m.capture = Idle
		return m.setState(Disconnected)
	}
	return nil
}

// Disconnect is an explicit local disconnect.
func (m *Mirror) Disconnect() []Event {
	if m.state == Ended {
		return nil
	}
	return m.end("disconnected")
}

// Start begins a new recording: the local window and the running maximum
// start over.
func (m *Mirror) Start() error {
	if err := m.requireProducer(); err != nil {
		return err
	}
	m.capture = Recording
	m.readings = nil
	m.windowStart = 0
	m.max = 0
	return nil
}

// Pause suspends local capture without a server round-trip.
func (m *Mirror) Pause() error {
	if err := m.requireProducer(); err != nil {
		return err
	}
	if m.capture == Recording {
		m.capture = Paused
	}
	return nil
}

// Resume continues a paused recording.
func (m *Mirror) Resume() error {
	if err := m.requireProducer(); err != nil {
		return err
	}
	if m.capture == Paused {
		m.capture = Recording
	}
	return nil
}

// StopCapture leaves Recording/Paused without touching the mirror.
func (m *Mirror) StopCapture() {
	m.capture = Idle
}

// LocalReading records a reading the producer is about to send.
func (m *Mirror) LocalReading(r models.Reading) ([]Event, error) {
	if err := m.requireProducer(); err != nil {
		return nil, err
	}
	if m.capture != Recording {
		return nil, ErrNotRecording
	}
	if !protocol.ValidReading(r) {
		return nil, ErrInvalidReading
	}
	if r.Time.After(m.lastSent) {
		m.lastSent = r.Time
	}
	return m.applyReading(r), nil
}

// BuildSummary computes the summary of the readings since the previous one,
// stores it locally and moves the window forward. The id is the creation
// time in Unix milliseconds, kept strictly increasing.
func (m *Mirror) BuildSummary(now time.Time) (models.SummaryRecord, []Event, error) {
	if err := m.requireProducer(); err != nil {
		return models.SummaryRecord{}, nil, err
	}
	window := m.readings[m.windowStart:]
	if len(window) == 0 {
		return models.SummaryRecord{}, nil, ErrNoReadings
	}
	lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
	for _, r := range window {
		v := float64(r.Value)
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		sum += v
	}
	id := now.UnixMilli()
	if id <= m.lastID {
		id = m.lastID + 1
	}
	rec := models.SummaryRecord{
		ID:              id,
		CreatedAt:       now,
		DurationSeconds: window[len(window)-1].Time.Sub(window[0].Time).Seconds(),
		Max:             models.Decibel(hi),
		Avg:             models.Decibel(sum / float64(len(window))),
		Min:             models.Decibel(lo),
	}
	m.windowStart = len(m.readings)
	evs := m.mergeSummaries([]models.SummaryRecord{rec})
	return rec, evs, nil
}

// LocalTimer records the producer's own countdown.
func (m *Mirror) LocalTimer(t models.TimerState) error {
	if err := m.requireProducer(); err != nil {
		return err
	}
	cp := t
	m.timer = &cp
	return nil
}

// LocalReset clears the mirror ahead of the server's confirmation.
func (m *Mirror) LocalReset(viewOnly bool) ([]Event, error) {
	if err := m.requireProducer(); err != nil {
		return nil, err
	}
	if viewOnly {
		m.summaries = nil
		return []Event{ViewLogReset{}}, nil
	}
	m.reset()
	return []Event{SessionReset{}}, nil
}

func (m *Mirror) requireProducer() error {
	switch m.state {
	case ProducerActive:
		return nil
	case Ended:
		return ErrEnded
	case ObserverActive:
		return ErrNotProducer
	}
	return ErrNotConnected
}

// State returns the role state.
func (m *Mirror) State() State { return m.state }

// Capture returns the local capture sub-state.
func (m *Mirror) Capture() Capture { return m.capture }

// SessionID returns the bound session id.
func (m *Mirror) SessionID() string { return m.sessionID }

// Active reports the last known active flag of the session.
func (m *Mirror) Active() bool { return m.active }

// Max returns the running maximum of the current recording.
func (m *Mirror) Max() models.Decibel { return m.max }

// Readings returns a copy of the mirrored readings.
func (m *Mirror) Readings() []models.Reading {
	return append([]models.Reading(nil), m.readings...)
}

// Summaries returns a copy of the mirrored summary log.
func (m *Mirror) Summaries() []models.SummaryRecord {
	return append([]models.SummaryRecord(nil), m.summaries...)
}

// Timer returns the last known countdown, or nil.
func (m *Mirror) Timer() *models.TimerState {
	if m.timer == nil {
		return nil
	}
	cp := *m.timer
	return &cp
}
