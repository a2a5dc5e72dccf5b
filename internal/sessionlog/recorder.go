package sessionlog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/decibel-relay/internal/realtime"
)

// Writer is the subset of Repository the recorder needs.
type Writer interface {
	LogJoin(ctx context.Context, sessionID, clientID, remoteAddr string, joinedAt time.Time) error
	LogLeave(ctx context.Context, sessionID, clientID string, leftAt time.Time) error
}

type entry struct {
	join       bool
	sessionID  string
	clientID   string
	remoteAddr string
	at         time.Time
}

// Recorder writes observer join/leave rows off the hub's goroutines, in
// arrival order.
type Recorder struct {
	w      Writer
	logger *zap.Logger
	queue  chan entry
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	now    func() time.Time
}

// NewRecorder starts the write loop.
func NewRecorder(w Writer, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		w:      w,
		logger: logger,
		queue:  make(chan entry, 1024),
		stop:   make(chan struct{}),
		now:    time.Now,
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Attach registers the recorder as the hub's observer logger.
func (r *Recorder) Attach(hub *realtime.Hub) {
	hub.SetSessionLogger(r.Joined, r.Left)
}

// Joined queues a join row.
func (r *Recorder) Joined(sessionID string, c *realtime.Client) {
	r.push(entry{join: true, sessionID: sessionID, clientID: c.ID, remoteAddr: c.RemoteAddr, at: r.now()})
}

// Left queues a leave update.
func (r *Recorder) Left(sessionID string, c *realtime.Client) {
	r.push(entry{sessionID: sessionID, clientID: c.ID, at: r.now()})
}

func (r *Recorder) push(e entry) {
	select {
	case r.queue <- e:
	default:
		r.logger.Warn("attendance backlog full, entry dropped", zap.String("session_id", e.sessionID), zap.String("client_id", e.clientID))
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case e := <-r.queue:
			r.write(e)
		case <-r.stop:
			for {
				select {
				case e := <-r.queue:
					r.write(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(e entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var err error
	if e.join {
		err = r.w.LogJoin(ctx, e.sessionID, e.clientID, e.remoteAddr, e.at)
	} else {
		err = r.w.LogLeave(ctx, e.sessionID, e.clientID, e.at)
	}
	if err != nil {
		r.logger.Warn("attendance write failed", zap.String("session_id", e.sessionID), zap.Bool("join", e.join), zap.Error(err))
	}
}

// Close flushes queued entries and stops the loop.
func (r *Recorder) Close() {
	r.once.Do(func() { close(r.stop) })
	r.wg.Wait()
}
