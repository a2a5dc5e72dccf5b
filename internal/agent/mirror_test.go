package agent

import (
	"errors"
	"testing"
	"time"

	"github.com/aura-webinar/decibel-relay/internal/models"
	"github.com/aura-webinar/decibel-relay/internal/protocol"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func producerMirror(t *testing.T) *Mirror {
	t.Helper()
	m := NewMirror()
	m.Connecting()
	m.Apply(protocol.Frame{Type: protocol.MsgSessionCreated, SessionID: "s1"})
	if m.State() != ProducerActive {
		t.Fatalf("expected producer state, got %s", m.State())
	}
	return m
}

func at(sec int, v float64) models.Reading {
	return models.Reading{Time: t0.Add(time.Duration(sec) * time.Second), Value: models.Decibel(v)}
}

func TestProducerSummary(t *testing.T) {
	m := producerMirror(t)
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i, v := range []float64{50, 70, 60} {
		if _, err := m.LocalReading(at(i, v)); err != nil {
			t.Fatalf("reading %d: %v", i, err)
		}
	}
	// the server echo of our last reading is ignored
	if evs := m.Apply(protocol.Frame{Type: protocol.MsgDecibelUpdate, Reading: ptr(at(2, 60))}); len(evs) != 0 {
		t.Errorf("echo should be dropped, got %v", evs)
	}
	if m.Max() != 70 {
		t.Errorf("expected max 70, got %v", m.Max())
	}

	now := t0.Add(10 * time.Second)
	rec, evs, err := m.BuildSummary(now)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if rec.Max != 70 || rec.Min != 50 || rec.Avg != 60 || rec.DurationSeconds != 2 {
		t.Errorf("unexpected stats %+v", rec)
	}
	if rec.ID != now.UnixMilli() {
		t.Errorf("expected id %d, got %d", now.UnixMilli(), rec.ID)
	}
	if len(evs) != 1 {
		t.Errorf("expected SummaryLogged, got %v", evs)
	}
	if _, _, err := m.BuildSummary(now); !errors.Is(err, ErrNoReadings) {
		t.Errorf("expected ErrNoReadings for empty window, got %v", err)
	}

	// the server broadcast assigns the sequence number
	confirmed := rec
	confirmed.SequenceNumber = 1
	if evs := m.Apply(protocol.Frame{Type: protocol.MsgSessionRecorded, Session: &confirmed}); len(evs) != 0 {
		t.Errorf("confirmation should not duplicate the record, got %v", evs)
	}
	log := m.Summaries()
	if len(log) != 1 || log[0].SequenceNumber != 1 {
		t.Errorf("expected adopted sequence number, got %+v", log)
	}

	// ids stay strictly increasing within one millisecond
	_, _ = m.LocalReading(at(3, 40))
	rec2, _, err := m.BuildSummary(now)
	if err != nil || rec2.ID != rec.ID+1 {
		t.Errorf("expected id %d, got %d (%v)", rec.ID+1, rec2.ID, err)
	}
}

func TestCaptureStates(t *testing.T) {
	m := producerMirror(t)
	if _, err := m.LocalReading(at(0, 1)); !errors.Is(err, ErrNotRecording) {
		t.Errorf("expected ErrNotRecording before start, got %v", err)
	}
	_ = m.Start()
	_ = m.Pause()
	if m.Capture() != Paused {
		t.Errorf("expected paused, got %v", m.Capture())
	}
	if _, err := m.LocalReading(at(0, 1)); !errors.Is(err, ErrNotRecording) {
		t.Errorf("expected ErrNotRecording while paused, got %v", err)
	}
	_ = m.Resume()
	if _, err := m.LocalReading(at(0, 1)); err != nil {
		t.Errorf("expected reading accepted after resume, got %v", err)
	}
}

func TestObserverMirror(t *testing.T) {
	m := NewMirror()
	m.Connecting()
	active := true
	evs := m.Apply(protocol.Frame{
		Type:      protocol.MsgSessionJoined,
		SessionID: "s1",
		IsActive:  &active,
		TimerData: &models.TimerState{RemainingSeconds: 12},
		SummaryLog: []models.SummaryRecord{
			{ID: 1, SequenceNumber: 1}, {ID: 1, SequenceNumber: 1}, {ID: 2, SequenceNumber: 2},
		},
	})
	if m.State() != ObserverActive {
		t.Fatalf("expected observer state, got %s", m.State())
	}
	// StateChanged, SessionJoined, two SummaryLogged, TimerSynced
	if len(evs) != 5 {
		t.Errorf("expected 5 events, got %d: %v", len(evs), evs)
	}
	if len(m.Summaries()) != 2 {
		t.Errorf("expected deduplicated log of 2, got %d", len(m.Summaries()))
	}
	if tm := m.Timer(); tm == nil || tm.RemainingSeconds != 12 {
		t.Errorf("expected timer 12, got %+v", tm)
	}

	if err := m.Start(); !errors.Is(err, ErrNotProducer) {
		t.Errorf("observer start: expected ErrNotProducer, got %v", err)
	}

	m.Apply(protocol.Frame{Type: protocol.MsgDecibelUpdate, Reading: ptr(at(0, 30))})
	m.Apply(protocol.Frame{Type: protocol.MsgDecibelUpdate, Data: ptr(at(1, 45))})
	if len(m.Readings()) != 2 || m.Max() != 45 {
		t.Errorf("expected two readings with max 45, got %d max %v", len(m.Readings()), m.Max())
	}

	m.Apply(protocol.Frame{Type: protocol.MsgResetViewLog})
	if len(m.Summaries()) != 0 || len(m.Readings()) != 2 {
		t.Error("view log reset should only clear summaries")
	}
	m.Apply(protocol.Frame{Type: protocol.MsgSessionReset})
	if len(m.Readings()) != 0 || m.Timer() != nil || m.Max() != 0 {
		t.Error("full reset should clear everything")
	}

	evs = m.Apply(protocol.Frame{Type: protocol.MsgSessionEnded})
	if m.State() != Ended {
		t.Fatalf("expected ended, got %s", m.State())
	}
	var sawEnd bool
	for _, ev := range evs {
		if _, ok := ev.(SessionEnded); ok {
			sawEnd = true
		}
	}
	if !sawEnd {
		t.Error("expected SessionEnded event")
	}
	if evs := m.Apply(protocol.Frame{Type: protocol.MsgDecibelUpdate, Reading: ptr(at(5, 99))}); evs != nil {
		t.Errorf("frames after end must be ignored, got %v", evs)
	}
	if evs := m.TransportClosed(); evs != nil {
		t.Errorf("close after end must be silent, got %v", evs)
	}
}

func TestTransportClosed(t *testing.T) {
	m := producerMirror(t)
	m.TransportClosed()
	if m.State() != Disconnected {
		t.Errorf("producer close: expected disconnected, got %s", m.State())
	}

	o := NewMirror()
	o.Connecting()
	o.Apply(protocol.Frame{Type: protocol.MsgSessionJoined, SessionID: "s"})
	o.TransportClosed()
	if o.State() != Ended {
		t.Errorf("observer close: expected ended, got %s", o.State())
	}

	// a new handshake starts from a clean mirror
	o.Connecting()
	if o.State() != Connecting || o.SessionID() != "" {
		t.Errorf("expected clean connecting mirror, got %s %q", o.State(), o.SessionID())
	}
}

func TestProducerIgnoresEchoesInFlight(t *testing.T) {
	m := producerMirror(t)
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	sent := []models.Reading{at(0, 40), at(1, 80), at(2, 60)}
	for _, r := range sent {
		if _, err := m.LocalReading(r); err != nil {
			t.Fatalf("send %v: %v", r.Time, err)
		}
	}
	// all three echoes arrive after the last send
	for _, r := range sent {
		if evs := m.Apply(protocol.Frame{Type: protocol.MsgDecibelUpdate, Reading: ptr(r)}); len(evs) != 0 {
			t.Errorf("echo of %v should be dropped, got %v", r.Time, evs)
		}
	}
	if got := len(m.Readings()); got != len(sent) {
		t.Fatalf("expected %d readings, got %d", len(sent), got)
	}

	rec, _, err := m.BuildSummary(t0.Add(5 * time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if rec.DurationSeconds != 2 || rec.Max != 80 || rec.Min != 40 || rec.Avg != 60 {
		t.Errorf("summary skewed by echoes: %+v", rec)
	}

	// a later echo after the window closed must not open a new one
	m.Apply(protocol.Frame{Type: protocol.MsgDecibelUpdate, Reading: ptr(sent[1])})
	if _, _, err := m.BuildSummary(t0.Add(6 * time.Second)); !errors.Is(err, ErrNoReadings) {
		t.Errorf("expected ErrNoReadings, got %v", err)
	}
}

func TestLocalReadingOutOfRange(t *testing.T) {
	m := producerMirror(t)
	_ = m.Start()
	if _, err := m.LocalReading(at(0, 130)); !errors.Is(err, ErrInvalidReading) {
		t.Errorf("expected ErrInvalidReading, got %v", err)
	}
	if len(m.Readings()) != 0 {
		t.Error("invalid reading must not be stored")
	}
}

func TestProducerRecreateStartsClean(t *testing.T) {
	m := producerMirror(t)
	_ = m.Start()
	_, _ = m.LocalReading(at(0, 50))
	_, _ = m.LocalReading(at(1, 55))
	if _, _, err := m.BuildSummary(t0.Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	_, _ = m.LocalReading(at(2, 70))
	_ = m.LocalTimer(models.TimerState{RemainingSeconds: 9})

	m.TransportClosed()
	if m.State() != Disconnected {
		t.Fatalf("expected disconnected, got %s", m.State())
	}
	m.Connecting()
	m.Apply(protocol.Frame{Type: protocol.MsgSessionCreated, SessionID: "s2"})

	if len(m.Readings()) != 0 || len(m.Summaries()) != 0 || m.Timer() != nil || m.Max() != 0 {
		t.Errorf("previous session leaked into s2: readings=%d summaries=%d timer=%v max=%v",
			len(m.Readings()), len(m.Summaries()), m.Timer(), m.Max())
	}
	if m.Capture() != Idle {
		t.Errorf("expected idle capture, got %v", m.Capture())
	}

	// readings of the new session, even earlier than the old ones, are kept
	_ = m.Start()
	if _, err := m.LocalReading(at(0, 45)); err != nil {
		t.Fatal(err)
	}
	rec, _, err := m.BuildSummary(t0.Add(3 * time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Max != 45 || rec.Min != 45 {
		t.Errorf("window should hold only the new reading, got %+v", rec)
	}
}

func TestBusOrderAndUnsubscribe(t *testing.T) {
	b := NewBus()
	var got []string
	unsubA := b.Subscribe(func(ev Event) { got = append(got, "a") })
	b.Subscribe(func(ev Event) { got = append(got, "b") })

	b.Publish(SessionReset{}, ViewLogReset{})
	if want := "abab"; join(got) != want {
		t.Errorf("expected %s, got %s", want, join(got))
	}
	unsubA()
	unsubA()
	got = nil
	b.Publish(SessionReset{})
	if join(got) != "b" {
		t.Errorf("expected only b after unsubscribe, got %s", join(got))
	}
}

func join(s []string) string {
	out := ""
	for _, v := range s {
		out += v
	}
	return out
}

func ptr[T any](v T) *T { return &v }
