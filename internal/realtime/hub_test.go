package realtime

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/decibel-relay/internal/models"
	"github.com/aura-webinar/decibel-relay/internal/protocol"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type recordingMirror struct {
	mu     sync.Mutex
	frames map[string]int
}

func (m *recordingMirror) Publish(sessionID string, frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frames == nil {
		m.frames = make(map[string]int)
	}
	m.frames[sessionID]++
}

func (m *recordingMirror) count(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames[id]
}

func newTestHub(opts Options) *Hub {
	return NewHub(zap.NewNop(), opts, nil)
}

func testClient(buffer int) *Client {
	return newClient(nil, "127.0.0.1", buffer, zap.NewNop())
}

// drain returns every frame queued for c, in delivery order.
func drain(t *testing.T, c *Client) []protocol.Frame {
	t.Helper()
	var out []protocol.Frame
	for {
		select {
		case batch := <-c.send:
			for _, raw := range batch {
				f, err := protocol.Decode(raw)
				if err != nil {
					t.Fatalf("undecodable frame %s: %v", raw, err)
				}
				out = append(out, f)
			}
		default:
			return out
		}
	}
}

func types(frames []protocol.Frame) []protocol.MessageType {
	out := make([]protocol.MessageType, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

func reading(i int, v float64) models.Reading {
	return models.Reading{Time: base.Add(time.Duration(i) * time.Second), Value: models.Decibel(v)}
}

func mustCreate(t *testing.T, h *Hub) (*Client, string) {
	t.Helper()
	p := testClient(64)
	id, err := h.Create(p)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	frames := drain(t, p)
	if len(frames) != 1 || frames[0].Type != protocol.MsgSessionCreated || frames[0].SessionID != id {
		t.Fatalf("expected session_created for %s, got %+v", id, frames)
	}
	return p, id
}

func mustJoin(t *testing.T, h *Hub, id string) *Client {
	t.Helper()
	o := testClient(64)
	if err := h.Join(o, id); err != nil {
		t.Fatalf("join: %v", err)
	}
	return o
}

func TestCreateRegistersActiveSession(t *testing.T) {
	h := newTestHub(Options{})
	p, id := mustCreate(t, h)

	s, err := h.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !s.Active() {
		t.Error("new session should be active")
	}
	if p.Role() != RoleProducer {
		t.Errorf("expected producer role, got %s", p.Role())
	}
	if _, err := h.Create(p); !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("expected ErrAlreadyBound on second create, got %v", err)
	}
	if h.SessionCount() != 1 {
		t.Errorf("expected 1 session, got %d", h.SessionCount())
	}
}

func TestCreateRetriesTakenIDs(t *testing.T) {
	ids := []string{"a", "a", "b"}
	var n int
	h := newTestHub(Options{NewID: func() string { id := ids[n%len(ids)]; n++; return id }})
	_, first := mustCreate(t, h)
	_, second := mustCreate(t, h)
	if first != "a" || second != "b" {
		t.Errorf("expected ids a and b, got %s and %s", first, second)
	}

	h = newTestHub(Options{NewID: func() string { return "same" }})
	mustCreate(t, h)
	if _, err := h.Create(testClient(4)); !errors.Is(err, ErrIDExhausted) {
		t.Errorf("expected ErrIDExhausted, got %v", err)
	}
}

func TestJoinUnknownSession(t *testing.T) {
	h := newTestHub(Options{})
	o := testClient(8)
	if err := h.Join(o, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	h.Handle(o, []byte(`{"type":"join_session","sessionId":"missing"}`))
	frames := drain(t, o)
	if len(frames) != 1 || frames[0].Type != protocol.MsgError || frames[0].Message != "Session not found" {
		t.Fatalf("expected Session not found error, got %+v", frames)
	}
	if o.Role() != RoleNone {
		t.Error("failed join must not bind the connection")
	}
}

func TestLateJoinReplaysInOrder(t *testing.T) {
	h := newTestHub(Options{})
	p, id := mustCreate(t, h)
	for i := 0; i < 3; i++ {
		if err := h.PublishReading(p, reading(i, float64(50+i))); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if _, err := h.RecordSummary(p, models.SummaryRecord{ID: 100, Max: 52, Avg: 51, Min: 50}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := h.UpdateTimer(p, models.TimerState{RemainingSeconds: 30}); err != nil {
		t.Fatalf("timer: %v", err)
	}

	o := mustJoin(t, h, id)
	if err := h.PublishReading(p, reading(3, 53)); err != nil {
		t.Fatalf("publish live: %v", err)
	}

	frames := drain(t, o)
	want := []protocol.MessageType{
		protocol.MsgSessionJoined,
		protocol.MsgDecibelUpdate, protocol.MsgDecibelUpdate, protocol.MsgDecibelUpdate,
		protocol.MsgDecibelUpdate,
	}
	got := types(frames)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	joined := frames[0]
	if joined.IsActive == nil || !*joined.IsActive {
		t.Error("expected isActive true")
	}
	if len(joined.SummaryLog) != 1 || joined.SummaryLog[0].ID != 100 {
		t.Errorf("expected summary 100 in replay, got %+v", joined.SummaryLog)
	}
	if joined.TimerData == nil || joined.TimerData.RemainingSeconds != 30 {
		t.Errorf("expected timer 30 in replay, got %+v", joined.TimerData)
	}
	for i := 1; i < len(frames); i++ {
		r, _ := frames[i].ReadingPayload()
		if !r.Time.Equal(base.Add(time.Duration(i-1) * time.Second)) {
			t.Errorf("reading %d out of order: %v", i, r.Time)
		}
	}
}

func TestReadingEchoedToProducer(t *testing.T) {
	h := newTestHub(Options{})
	p, id := mustCreate(t, h)
	o1 := mustJoin(t, h, id)
	o2 := mustJoin(t, h, id)
	drain(t, o1)
	drain(t, o2)

	if err := h.PublishReading(p, reading(0, 61)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for name, c := range map[string]*Client{"producer": p, "o1": o1, "o2": o2} {
		frames := drain(t, c)
		if len(frames) != 1 || frames[0].Type != protocol.MsgDecibelUpdate {
			t.Errorf("%s: expected one decibel_update, got %v", name, types(frames))
		}
	}
}

func TestInvalidReadingRejected(t *testing.T) {
	h := newTestHub(Options{})
	p, _ := mustCreate(t, h)
	if err := h.PublishReading(p, models.Reading{Value: 10}); !errors.Is(err, ErrBadPayload) {
		t.Errorf("expected ErrBadPayload for missing time, got %v", err)
	}
	h.Handle(p, []byte(`{"type":"decibel_data"}`))
	frames := drain(t, p)
	if len(frames) != 1 || frames[0].Type != protocol.MsgError {
		t.Errorf("expected error frame, got %v", types(frames))
	}
}

func TestLegacyDataFieldAccepted(t *testing.T) {
	h := newTestHub(Options{})
	p, id := mustCreate(t, h)
	o := mustJoin(t, h, id)
	drain(t, o)

	h.Handle(p, []byte(`{"type":"decibel_data","data":{"time":"2024-05-01T12:00:00Z","value":"44.4"}}`))
	frames := drain(t, o)
	if len(frames) != 1 {
		t.Fatalf("expected one frame, got %v", types(frames))
	}
	r, ok := frames[0].ReadingPayload()
	if !ok || r.Value != 44.4 {
		t.Errorf("expected 44.4, got %+v", r)
	}
}

func TestRecordSummaryIsIdempotent(t *testing.T) {
	h := newTestHub(Options{})
	p, id := mustCreate(t, h)
	o := mustJoin(t, h, id)
	drain(t, o)

	rec := models.SummaryRecord{ID: 1714564800000, CreatedAt: base, Max: 70, Avg: 60, Min: 50, DurationSeconds: 5}
	inserted, err := h.RecordSummary(p, rec)
	if err != nil || !inserted {
		t.Fatalf("first insert: inserted=%v err=%v", inserted, err)
	}
	inserted, err = h.RecordSummary(p, rec)
	if err != nil || inserted {
		t.Fatalf("resubmission: inserted=%v err=%v", inserted, err)
	}

	frames := drain(t, o)
	if len(frames) != 1 || frames[0].Type != protocol.MsgSessionRecorded {
		t.Fatalf("expected a single session_recorded, got %v", types(frames))
	}
	if frames[0].Session.SequenceNumber != 1 {
		t.Errorf("expected sequence 1, got %d", frames[0].Session.SequenceNumber)
	}

	s, _ := h.Get(id)
	if log := s.Snapshot().SummaryLog; len(log) != 1 {
		t.Errorf("expected one logged summary, got %d", len(log))
	}
}

func TestRecordSummaryWithoutIDUsesTimeWindow(t *testing.T) {
	h := newTestHub(Options{DedupWindow: time.Second})
	p, id := mustCreate(t, h)

	first, err := h.RecordSummary(p, models.SummaryRecord{CreatedAt: base, Max: 1})
	if err != nil || !first {
		t.Fatalf("first: %v %v", first, err)
	}
	dup, err := h.RecordSummary(p, models.SummaryRecord{CreatedAt: base.Add(500 * time.Millisecond), Max: 1})
	if err != nil || dup {
		t.Fatalf("expected resubmission within window absorbed: %v %v", dup, err)
	}
	later, err := h.RecordSummary(p, models.SummaryRecord{CreatedAt: base.Add(2 * time.Second), Max: 1})
	if err != nil || !later {
		t.Fatalf("expected later record inserted: %v %v", later, err)
	}

	s, _ := h.Get(id)
	log := s.Snapshot().SummaryLog
	if len(log) != 2 {
		t.Fatalf("expected 2 records, got %d", len(log))
	}
	if log[0].ID != base.UnixMilli() {
		t.Errorf("expected id from creation time, got %d", log[0].ID)
	}
	if log[1].SequenceNumber != 2 {
		t.Errorf("expected sequence 2, got %d", log[1].SequenceNumber)
	}
}

func TestObserverCannotMutate(t *testing.T) {
	h := newTestHub(Options{})
	p, id := mustCreate(t, h)
	o := mustJoin(t, h, id)
	other := mustJoin(t, h, id)
	drain(t, o)
	drain(t, other)

	h.Handle(o, []byte(`{"type":"decibel_data","reading":{"time":"2024-05-01T12:00:00Z","value":10}}`))
	h.Handle(o, []byte(`{"type":"session_reset","sessionId":"`+id+`"}`))
	h.Handle(o, []byte(`{"type":"timer_update","timerData":{"remainingSeconds":5}}`))

	frames := drain(t, o)
	if len(frames) != 3 {
		t.Fatalf("expected three error frames, got %v", types(frames))
	}
	for _, f := range frames {
		if f.Type != protocol.MsgError {
			t.Errorf("expected error frame, got %s", f.Type)
		}
	}
	if got := drain(t, other); len(got) != 0 {
		t.Errorf("rejected requests must not reach other observers, got %v", types(got))
	}
	if got := drain(t, p); len(got) != 0 {
		t.Errorf("rejected requests must not reach the producer, got %v", types(got))
	}

	unbound := testClient(4)
	if err := h.PublishReading(unbound, reading(0, 1)); !errors.Is(err, ErrNotBound) {
		t.Errorf("expected ErrNotBound, got %v", err)
	}
}

func TestMalformedFramesDropped(t *testing.T) {
	h := newTestHub(Options{})
	c := testClient(4)
	h.Handle(c, []byte(`garbage`))
	h.Handle(c, []byte(`{"no":"type"}`))
	h.Handle(c, []byte(`{"type":"fly_to_moon"}`))
	if frames := drain(t, c); len(frames) != 0 {
		t.Errorf("expected silence, got %v", types(frames))
	}
}

func TestMistypedPayloadAnswered(t *testing.T) {
	h := newTestHub(Options{})
	p, _ := mustCreate(t, h)
	h.Handle(p, []byte(`{"type":"decibel_data","reading":{"time":"bad","value":40}}`))
	frames := drain(t, p)
	if len(frames) != 1 || frames[0].Type != protocol.MsgError {
		t.Fatalf("expected one error frame, got %v", types(frames))
	}
	if !strings.Contains(frames[0].Message, "decibel_data") {
		t.Errorf("error should name the request, got %q", frames[0].Message)
	}

	// server-only types with a broken body stay silent
	h.Handle(p, []byte(`{"type":"decibel_update","reading":{"time":"bad"}}`))
	if frames := drain(t, p); len(frames) != 0 {
		t.Errorf("expected silence, got %v", types(frames))
	}
}

func TestOutOfRangeReadingRejected(t *testing.T) {
	h := newTestHub(Options{})
	p, id := mustCreate(t, h)
	o := mustJoin(t, h, id)
	drain(t, o)
	for i, v := range []float64{-1, 120} {
		if err := h.PublishReading(p, reading(i, v)); !errors.Is(err, ErrBadPayload) {
			t.Errorf("%v: expected ErrBadPayload, got %v", v, err)
		}
	}
	if frames := drain(t, o); len(frames) != 0 {
		t.Errorf("observer should see nothing, got %v", types(frames))
	}
}

func TestProducerDisconnectEndsSessionForAll(t *testing.T) {
	h := newTestHub(Options{GracePeriod: time.Hour})
	p, id := mustCreate(t, h)
	observers := make([]*Client, 5)
	for i := range observers {
		observers[i] = mustJoin(t, h, id)
		drain(t, observers[i])
	}

	h.Disconnect(p)

	for i, o := range observers {
		frames := drain(t, o)
		if len(frames) != 1 || frames[0].Type != protocol.MsgSessionEnded {
			t.Errorf("observer %d: expected session_ended, got %v", i, types(frames))
		}
	}
	s, err := h.Get(id)
	if err != nil {
		t.Fatalf("ended session should stay during grace: %v", err)
	}
	if s.Active() {
		t.Error("session should be inactive")
	}

	late := mustJoin(t, h, id)
	frames := drain(t, late)
	if got := types(frames); len(got) != 2 || got[0] != protocol.MsgSessionJoined || got[1] != protocol.MsgSessionEnded {
		t.Fatalf("expected joined then ended, got %v", got)
	}
	if frames[0].IsActive == nil || *frames[0].IsActive {
		t.Error("expected isActive false")
	}

	h.Handle(observers[0], []byte(`{"type":"join_session","sessionId":"`+id+`"}`))
	if frames := drain(t, observers[0]); len(frames) != 1 || frames[0].Type != protocol.MsgError {
		t.Errorf("bound observer re-joining should be rejected, got %v", types(frames))
	}
	h.Close()
}

func TestEndedSessionRejectsMutations(t *testing.T) {
	h := newTestHub(Options{GracePeriod: time.Hour})
	p, _ := mustCreate(t, h)
	s := p.session
	h.endSession(s, "test")
	if err := h.PublishReading(p, reading(0, 1)); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded, got %v", err)
	}
	if _, err := h.RecordSummary(p, models.SummaryRecord{ID: 1}); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded, got %v", err)
	}
	if err := h.Reset(p, "", ResetFull); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("expected ErrSessionEnded, got %v", err)
	}
	if h.endSession(s, "again") {
		t.Error("second end should be a no-op")
	}
	h.Close()
}

func TestFullReset(t *testing.T) {
	h := newTestHub(Options{})
	p, id := mustCreate(t, h)
	o := mustJoin(t, h, id)
	_ = h.PublishReading(p, reading(0, 40))
	_, _ = h.RecordSummary(p, models.SummaryRecord{ID: 7})
	_ = h.UpdateTimer(p, models.TimerState{RemainingSeconds: 9})
	drain(t, o)

	if err := h.Reset(p, id, ResetFull); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if frames := drain(t, o); len(frames) != 1 || frames[0].Type != protocol.MsgSessionReset {
		t.Fatalf("expected session_reset, got %v", types(frames))
	}

	late := mustJoin(t, h, id)
	frames := drain(t, late)
	if len(frames) != 1 {
		t.Fatalf("expected bare session_joined, got %v", types(frames))
	}
	if len(frames[0].SummaryLog) != 0 || frames[0].TimerData != nil {
		t.Errorf("expected cleared log and timer, got %+v", frames[0])
	}

	// Resetting empty state still notifies.
	if err := h.Reset(p, "", ResetFull); err != nil {
		t.Fatalf("second reset: %v", err)
	}
	if frames := drain(t, late); len(frames) != 1 || frames[0].Type != protocol.MsgSessionReset {
		t.Errorf("expected notice on empty reset, got %v", types(frames))
	}
}

func TestViewLogResetKeepsReadings(t *testing.T) {
	h := newTestHub(Options{})
	p, id := mustCreate(t, h)
	_ = h.PublishReading(p, reading(0, 40))
	_ = h.PublishReading(p, reading(1, 41))
	_, _ = h.RecordSummary(p, models.SummaryRecord{ID: 7})
	_ = h.UpdateTimer(p, models.TimerState{RemainingSeconds: 9})

	h.Handle(p, []byte(`{"type":"reset_view_log","sessionId":"`+id+`"}`))

	late := mustJoin(t, h, id)
	frames := drain(t, late)
	if got := types(frames); len(got) != 3 {
		t.Fatalf("expected joined plus two readings, got %v", got)
	}
	if len(frames[0].SummaryLog) != 0 {
		t.Errorf("expected empty log, got %+v", frames[0].SummaryLog)
	}
	if frames[0].TimerData == nil || frames[0].TimerData.RemainingSeconds != 9 {
		t.Errorf("expected timer kept, got %+v", frames[0].TimerData)
	}
}

func TestResetForeignSessionRejected(t *testing.T) {
	h := newTestHub(Options{})
	p, _ := mustCreate(t, h)
	_, other := mustCreate(t, h)
	if err := h.Reset(p, other, ResetFull); !errors.Is(err, ErrNotProducer) {
		t.Errorf("expected ErrNotProducer, got %v", err)
	}
}

func TestSlowObserverDropped(t *testing.T) {
	h := newTestHub(Options{})
	p, id := mustCreate(t, h)
	slow := testClient(1)
	if err := h.Join(slow, id); err != nil {
		t.Fatalf("join: %v", err)
	}
	fast := mustJoin(t, h, id)

	_ = h.PublishReading(p, reading(0, 1))
	_ = h.PublishReading(p, reading(1, 2))

	s, _ := h.Get(id)
	if n := s.ObserverCount(); n != 1 {
		t.Errorf("expected slow observer dropped, %d observers left", n)
	}
	select {
	case <-slow.done:
	default:
		t.Error("slow observer should be closed")
	}
	if got := types(drain(t, fast)); len(got) != 3 {
		t.Errorf("fast observer should get every frame, got %v", got)
	}
}

func TestReadingCapDropsOldest(t *testing.T) {
	h := newTestHub(Options{MaxBufferedReadings: 2})
	p, id := mustCreate(t, h)
	for i := 0; i < 5; i++ {
		_ = h.PublishReading(p, reading(i, float64(i)))
	}
	late := mustJoin(t, h, id)
	frames := drain(t, late)
	if len(frames) != 3 {
		t.Fatalf("expected joined plus two readings, got %v", types(frames))
	}
	r, _ := frames[1].ReadingPayload()
	if r.Value != 3 {
		t.Errorf("expected oldest kept reading 3, got %v", r.Value)
	}
	s, _ := h.Get(id)
	if snap := s.Snapshot(); snap.ReadingsTotal != 5 || snap.Readings != 2 {
		t.Errorf("unexpected counters %+v", snap)
	}
}

func TestGraceEviction(t *testing.T) {
	h := newTestHub(Options{GracePeriod: 20 * time.Millisecond})
	evicted := make(chan Snapshot, 2)
	h.SetEvictionHandler(func(s Snapshot) { evicted <- s })
	p, id := mustCreate(t, h)
	_ = h.PublishReading(p, reading(0, 1))

	h.Disconnect(p)
	select {
	case snap := <-evicted:
		if snap.SessionID != id || snap.IsActive || snap.ReadingsTotal != 1 {
			t.Errorf("unexpected eviction snapshot %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("session was not evicted")
	}
	if _, err := h.Get(id); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected evicted session gone, got %v", err)
	}
	select {
	case <-evicted:
		t.Error("eviction hook ran twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEvictionChecksIdentity(t *testing.T) {
	h := newTestHub(Options{GracePeriod: time.Hour, NewID: func() string { return "fixed" }})
	_, id := mustCreate(t, h)
	old, _ := h.Get(id)
	h.Evict(id)

	mustCreate(t, h)
	h.evictSession(old)
	if _, err := h.Get("fixed"); err != nil {
		t.Fatalf("stale eviction removed the new session: %v", err)
	}
	h.Close()
}

func TestObserverStopUnbinds(t *testing.T) {
	h := newTestHub(Options{})
	_, id := mustCreate(t, h)
	o := mustJoin(t, h, id)
	s, _ := h.Get(id)

	h.Handle(o, []byte(`{"type":"disconnect_session"}`))
	if s.ObserverCount() != 0 {
		t.Error("observer should have left")
	}
	if o.Role() != RoleNone {
		t.Error("observer should be unbound")
	}
	if _, err := h.Create(o); err != nil {
		t.Errorf("unbound connection should be able to create: %v", err)
	}
}

func TestProducerStopEndsSession(t *testing.T) {
	h := newTestHub(Options{GracePeriod: time.Hour})
	p, id := mustCreate(t, h)
	o := mustJoin(t, h, id)
	drain(t, o)

	h.Handle(p, []byte(`{"type":"disconnect_session"}`))
	if frames := drain(t, o); len(frames) != 1 || frames[0].Type != protocol.MsgSessionEnded {
		t.Errorf("expected session_ended, got %v", types(frames))
	}
	if p.Role() != RoleNone {
		t.Error("producer should be unbound")
	}
	h.Close()
}

func TestHooksAndMirror(t *testing.T) {
	mirror := &recordingMirror{}
	h := NewHub(zap.NewNop(), Options{GracePeriod: time.Hour}, mirror)

	var mu sync.Mutex
	var counts []int
	var joins, leaves int
	var started, ended string
	h.SetAudienceChangeHandler(func(_ string, n int) {
		mu.Lock()
		counts = append(counts, n)
		mu.Unlock()
	})
	h.SetSessionLogger(
		func(string, *Client) { mu.Lock(); joins++; mu.Unlock() },
		func(string, *Client) { mu.Lock(); leaves++; mu.Unlock() },
	)
	h.SetLifecycleHandler(
		func(id string, _ time.Time) { started = id },
		func(s Snapshot) { ended = s.SessionID },
	)

	p, id := mustCreate(t, h)
	o1 := mustJoin(t, h, id)
	mustJoin(t, h, id)
	h.Disconnect(o1)
	_ = h.PublishReading(p, reading(0, 1))
	h.Disconnect(p)

	mu.Lock()
	defer mu.Unlock()
	if started != id || ended != id {
		t.Errorf("lifecycle hooks: started=%q ended=%q", started, ended)
	}
	if joins != 2 || leaves != 1 {
		t.Errorf("expected 2 joins and 1 leave, got %d and %d", joins, leaves)
	}
	if len(counts) != 3 || counts[0] != 1 || counts[1] != 2 || counts[2] != 1 {
		t.Errorf("unexpected audience counts %v", counts)
	}
	if n := mirror.count(id); n != 2 {
		t.Errorf("expected reading and session_ended mirrored, got %d", n)
	}
	s, _ := h.Get(id)
	if s.Snapshot().PeakObservers != 2 {
		t.Errorf("expected peak 2, got %d", s.Snapshot().PeakObservers)
	}
	h.Close()
}
