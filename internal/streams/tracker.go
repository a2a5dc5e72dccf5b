package streams

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/decibel-relay/internal/realtime"
)

const (
	trackerBacklog = 1024
	writeTimeout   = 5 * time.Second
)

// Final is the last statistics write of a session.
type Final struct {
	SessionID     string
	EndedAt       time.Time
	Readings      int64
	Summaries     int
	PeakObservers int
}

// Store is the subset of Repository the tracker writes to.
type Store interface {
	Create(ctx context.Context, sessionID string, startedAt time.Time) error
	UpdatePeakObservers(ctx context.Context, sessionID string, peak int) error
	Finish(ctx context.Context, f Final) error
}

// Tracker turns hub lifecycle callbacks into stream_sessions writes. Hooks
// only queue work; one goroutine applies it in order, so a slow database
// never stalls a connection's read loop.
type Tracker struct {
	store  Store
	logger *zap.Logger
	ops    chan func(context.Context) error

	mu    sync.Mutex
	peaks map[string]int

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewTracker starts the write loop. Call Close to flush and stop it.
func NewTracker(store Store, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		store:  store,
		logger: logger,
		ops:    make(chan func(context.Context) error, trackerBacklog),
		peaks:  make(map[string]int),
		stop:   make(chan struct{}),
	}
	t.wg.Add(1)
	go t.run()
	return t
}

// Attach registers the tracker's hooks on hub.
func (t *Tracker) Attach(hub *realtime.Hub) {
	hub.SetLifecycleHandler(t.SessionStarted, t.SessionEnded)
	hub.SetAudienceChangeHandler(t.AudienceChanged)
}

// SessionStarted records a new session.
func (t *Tracker) SessionStarted(sessionID string, startedAt time.Time) {
	t.mu.Lock()
	t.peaks[sessionID] = 0
	t.mu.Unlock()
	t.submit(sessionID, func(ctx context.Context) error {
		return t.store.Create(ctx, sessionID, startedAt)
	})
}

// AudienceChanged writes a new peak when count exceeds the known one.
func (t *Tracker) AudienceChanged(sessionID string, count int) {
	t.mu.Lock()
	peak, known := t.peaks[sessionID]
	if !known || count <= peak {
		t.mu.Unlock()
		return
	}
	t.peaks[sessionID] = count
	t.mu.Unlock()
	t.submit(sessionID, func(ctx context.Context) error {
		return t.store.UpdatePeakObservers(ctx, sessionID, count)
	})
}

// SessionEnded writes the final counters and forgets the session.
func (t *Tracker) SessionEnded(snap realtime.Snapshot) {
	t.mu.Lock()
	delete(t.peaks, snap.SessionID)
	t.mu.Unlock()
	ended := time.Now()
	if snap.EndedAt != nil {
		ended = *snap.EndedAt
	}
	f := Final{
		SessionID:     snap.SessionID,
		EndedAt:       ended,
		Readings:      snap.ReadingsTotal,
		Summaries:     len(snap.SummaryLog),
		PeakObservers: snap.PeakObservers,
	}
	t.submit(snap.SessionID, func(ctx context.Context) error {
		return t.store.Finish(ctx, f)
	})
}

func (t *Tracker) submit(sessionID string, op func(context.Context) error) {
	select {
	case t.ops <- op:
	default:
		t.logger.Warn("stream stats backlog full, write dropped", zap.String("session_id", sessionID))
	}
}

func (t *Tracker) run() {
	defer t.wg.Done()
	for {
		select {
		case op := <-t.ops:
			t.apply(op)
		case <-t.stop:
			for {
				select {
				case op := <-t.ops:
					t.apply(op)
				default:
					return
				}
			}
		}
	}
}

func (t *Tracker) apply(op func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := op(ctx); err != nil {
		t.logger.Warn("stream stats write failed", zap.Error(err))
	}
}

// Close applies the queued writes and stops the loop.
func (t *Tracker) Close() {
	t.once.Do(func() { close(t.stop) })
	t.wg.Wait()
}
