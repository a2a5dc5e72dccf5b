package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-webinar/decibel-relay/internal/models"
	"github.com/aura-webinar/decibel-relay/internal/protocol"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Agent is one participant connection: it performs the create or join
// handshake, mirrors the session locally and raises typed events on its Bus.
type Agent struct {
	url    string
	dialer *websocket.Dialer
	logger *zap.Logger
	bus    *Bus
	now    func() time.Time
	tick   time.Duration // countdown step of StartTimer

	mu     sync.Mutex // guards mirror and conn
	mirror *Mirror
	conn   *websocket.Conn
	done   chan struct{}

	writeMu sync.Mutex // serialises conn writes
}

// New creates an agent for the relay WebSocket at url (ws:// or wss://).
func New(url string, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		url:    url,
		dialer: websocket.DefaultDialer,
		logger: logger,
		bus:    NewBus(),
		now:    time.Now,
		tick:   time.Second,
		mirror: NewMirror(),
	}
}

// Subscribe registers a handler for agent events.
func (a *Agent) Subscribe(fn func(Event)) (unsubscribe func()) {
	return a.bus.Subscribe(fn)
}

// Create opens a connection and creates a new session as its producer.
func (a *Agent) Create(ctx context.Context) (string, error) {
	return a.handshake(ctx, protocol.Request{Type: protocol.MsgCreateSession}, protocol.MsgSessionCreated)
}

// Join opens a connection and joins sessionID as an observer. The replayed
// history arrives as ReadingReceived events right after SessionJoined.
func (a *Agent) Join(ctx context.Context, sessionID string) error {
	_, err := a.handshake(ctx, protocol.Request{Type: protocol.MsgJoinSession, SessionID: sessionID}, protocol.MsgSessionJoined)
	return err
}

func (a *Agent) handshake(ctx context.Context, req protocol.Request, want protocol.MessageType) (string, error) {
	a.mu.Lock()
	if a.conn != nil {
		a.mu.Unlock()
		return "", errors.New("agent already connected")
	}
	evs := a.mirror.Connecting()
	a.mu.Unlock()
	a.bus.Publish(evs...)

	conn, _, err := a.dialer.DialContext(ctx, a.url, nil)
	if err != nil {
		a.closed()
		return "", fmt.Errorf("dial %s: %w", a.url, err)
	}
	if err := a.writeOn(conn, req); err != nil {
		conn.Close()
		a.closed()
		return "", fmt.Errorf("send %s: %w", req.Type, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			a.closed()
			return "", fmt.Errorf("await %s: %w", want, err)
		}
		f, err := protocol.Decode(raw)
		if err != nil {
			continue
		}
		if f.Type == protocol.MsgError {
			conn.Close()
			a.closed()
			return "", fmt.Errorf("%s rejected: %s", req.Type, f.Message)
		}
		a.apply(f)
		if f.Type == want {
			break
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	done := make(chan struct{})
	a.mu.Lock()
	a.conn = conn
	a.done = done
	id := a.mirror.SessionID()
	a.mu.Unlock()

	go a.readLoop(conn, done)
	go a.pingLoop(conn, done)
	return id, nil
}

func (a *Agent) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			a.logger.Debug("agent read loop stopped", zap.Error(err))
			a.closed()
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
		f, err := protocol.Decode(raw)
		if err != nil {
			a.logger.Debug("agent dropped malformed frame", zap.Error(err))
			continue
		}
		if a.apply(f) == Ended {
			a.mu.Lock()
			if a.conn == conn {
				a.conn = nil
			}
			a.mu.Unlock()
			conn.Close()
			return
		}
	}
}

func (a *Agent) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			a.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			a.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// apply merges f into the mirror and publishes the resulting events.
func (a *Agent) apply(f protocol.Frame) State {
	a.mu.Lock()
	evs := a.mirror.Apply(f)
	state := a.mirror.State()
	a.mu.Unlock()
	a.bus.Publish(evs...)
	return state
}

func (a *Agent) closed() {
	a.mu.Lock()
	a.conn = nil
	evs := a.mirror.TransportClosed()
	a.mu.Unlock()
	a.bus.Publish(evs...)
}

func (a *Agent) writeOn(conn *websocket.Conn, v any) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

// send writes a request on the live connection.
func (a *Agent) send(req protocol.Request) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return a.writeOn(conn, req)
}

// Done is closed when the connection's read loop exits.
func (a *Agent) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.done
}

// Start begins a new local recording.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mirror.Start()
}

// Pause suspends local capture; no server round-trip.
func (a *Agent) Pause() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mirror.Pause()
}

// Resume continues local capture.
func (a *Agent) Resume() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mirror.Resume()
}

// Sample records value at the current time and sends it.
func (a *Agent) Sample(value float64) error {
	return a.SendReading(models.Reading{Time: a.now(), Value: models.Decibel(value)})
}

// SendReading mirrors r locally and sends it as decibel_data. The server's
// echo is discarded by the timestamp check.
func (a *Agent) SendReading(r models.Reading) error {
	a.mu.Lock()
	evs, err := a.mirror.LocalReading(r)
	a.mu.Unlock()
	if err != nil {
		return err
	}
	a.bus.Publish(evs...)
	return a.send(protocol.Request{Type: protocol.MsgDecibelData, Reading: &r})
}

// RecordSummary closes the current window of readings into a summary record
// and sends it as session_recorded.
func (a *Agent) RecordSummary() (models.SummaryRecord, error) {
	a.mu.Lock()
	rec, evs, err := a.mirror.BuildSummary(a.now())
	a.mu.Unlock()
	if err != nil {
		return models.SummaryRecord{}, err
	}
	a.bus.Publish(evs...)
	return rec, a.send(protocol.Request{Type: protocol.MsgSessionRecorded, Session: &rec})
}

// UpdateTimer sends the countdown to the observers.
func (a *Agent) UpdateTimer(remainingSeconds int) error {
	t := models.TimerState{RemainingSeconds: remainingSeconds}
	a.mu.Lock()
	err := a.mirror.LocalTimer(t)
	a.mu.Unlock()
	if err != nil {
		return err
	}
	return a.send(protocol.Request{Type: protocol.MsgTimerUpdate, TimerData: &t})
}

// Reset clears readings, summaries and timer for everyone.
func (a *Agent) Reset() error {
	return a.reset(false)
}

// ResetViewLog clears only the summary log for everyone.
func (a *Agent) ResetViewLog() error {
	return a.reset(true)
}

func (a *Agent) reset(viewOnly bool) error {
	a.mu.Lock()
	evs, err := a.mirror.LocalReset(viewOnly)
	id := a.mirror.SessionID()
	a.mu.Unlock()
	if err != nil {
		return err
	}
	a.bus.Publish(evs...)
	typ := protocol.MsgSessionReset
	if viewOnly {
		typ = protocol.MsgResetViewLog
	}
	return a.send(protocol.Request{Type: typ, SessionID: id})
}

// Disconnect sends disconnect_session, closes the connection and ends the mirror.
func (a *Agent) Disconnect() error {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	evs := a.mirror.Disconnect()
	a.mu.Unlock()
	a.bus.Publish(evs...)
	if conn == nil {
		return nil
	}
	err := a.writeOn(conn, protocol.Request{Type: protocol.MsgDisconnectSession})
	a.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
	a.writeMu.Unlock()
	if cerr := conn.Close(); err == nil {
		err = cerr
	}
	return err
}

// State returns the role state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mirror.State()
}

// SessionID returns the bound session id.
func (a *Agent) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mirror.SessionID()
}

// Readings returns the mirrored readings.
func (a *Agent) Readings() []models.Reading {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mirror.Readings()
}

// Summaries returns the mirrored summary log.
func (a *Agent) Summaries() []models.SummaryRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mirror.Summaries()
}

// Max returns the running maximum of the current recording.
func (a *Agent) Max() models.Decibel {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mirror.Max()
}

// Timer returns the last known countdown.
func (a *Agent) Timer() *models.TimerState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mirror.Timer()
}
