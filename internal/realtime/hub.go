package realtime

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const shardCount = 32

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotProducer     = errors.New("only the session producer may do this")
	ErrNotBound        = errors.New("connection has not created or joined a session")
	ErrAlreadyBound    = errors.New("connection is already bound to a session")
	ErrSessionEnded    = errors.New("session has ended")
	ErrIDExhausted     = errors.New("could not generate a fresh session id")
	ErrBadPayload      = errors.New("malformed request")
)

// Options tune the hub. Zero values fall back to defaults.
type Options struct {
	// GracePeriod keeps an ended session around for late queries before
	// eviction. Zero evicts as soon as the session ends.
	GracePeriod time.Duration
	// MaxBufferedReadings caps the per-session reading buffer, dropping the
	// oldest reading. Zero means unbounded.
	MaxBufferedReadings int
	// SendBuffer is the depth of each connection's outbound queue in batches.
	SendBuffer int
	// DedupWindow is the timestamp-proximity window for summary records
	// submitted without an id.
	DedupWindow time.Duration
	// NewID generates session ids; defaults to random UUIDs.
	NewID func() string
}

// EventPublisher mirrors broadcast frames outside the process. Publish is
// called with a session lock held and must not block.
type EventPublisher interface {
	Publish(sessionID string, frame []byte)
}

// AudienceChangeHandler is called when the observer count of a session changes.
type AudienceChangeHandler func(sessionID string, count int)

// ObserverLogger is called when an observer joins or leaves a session.
type ObserverLogger func(sessionID string, c *Client)

type registryShard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// Hub is the session registry. The id -> session map is sharded; each
// session carries its own lock, so sessions never contend with each other.
type Hub struct {
	shards [shardCount]registryShard
	opts   Options
	logger *zap.Logger
	mirror EventPublisher
	now    func() time.Time

	hooksMu         sync.RWMutex
	onAudience      AudienceChangeHandler
	onObserverJoin  ObserverLogger
	onObserverLeave ObserverLogger
	onStart         func(sessionID string, startedAt time.Time)
	onEnd           func(Snapshot)
	onEvict         func(Snapshot)
}

// NewHub creates a session registry. mirror may be nil.
func NewHub(logger *zap.Logger, opts Options, mirror EventPublisher) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = time.Second
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	h := &Hub{opts: opts, logger: logger, mirror: mirror, now: time.Now}
	for i := range h.shards {
		h.shards[i].sessions = make(map[string]*Session)
	}
	return h
}

// SetAudienceChangeHandler sets the callback for observer count changes (e.g. peak tracking).
func (h *Hub) SetAudienceChangeHandler(fn AudienceChangeHandler) {
	h.hooksMu.Lock()
	defer h.hooksMu.Unlock()
	h.onAudience = fn
}

// SetSessionLogger sets the observer join/leave callbacks.
func (h *Hub) SetSessionLogger(onJoin, onLeave ObserverLogger) {
	h.hooksMu.Lock()
	defer h.hooksMu.Unlock()
	h.onObserverJoin = onJoin
	h.onObserverLeave = onLeave
}

// SetLifecycleHandler sets callbacks for session start and end.
func (h *Hub) SetLifecycleHandler(onStart func(sessionID string, startedAt time.Time), onEnd func(Snapshot)) {
	h.hooksMu.Lock()
	defer h.hooksMu.Unlock()
	h.onStart = onStart
	h.onEnd = onEnd
}

// SetEvictionHandler sets the callback run with the final state of an evicted session.
func (h *Hub) SetEvictionHandler(fn func(Snapshot)) {
	h.hooksMu.Lock()
	defer h.hooksMu.Unlock()
	h.onEvict = fn
}

func (h *Hub) shard(id string) *registryShard {
	f := fnv.New32a()
	_, _ = f.Write([]byte(id))
	return &h.shards[f.Sum32()%shardCount]
}

// Create registers a new active session with c as its producer and sends
// session_created to c.
func (h *Hub) Create(c *Client) (string, error) {
	if c.session != nil {
		return "", ErrAlreadyBound
	}
	now := h.now()
	var s *Session
	for attempt := 0; attempt < 5 && s == nil; attempt++ {
		id := h.opts.NewID()
		if id == "" {
			continue
		}
		sh := h.shard(id)
		sh.mu.Lock()
		if _, taken := sh.sessions[id]; !taken {
			s = newSession(id, c, h, now)
			sh.sessions[id] = s
		}
		sh.mu.Unlock()
	}
	if s == nil {
		return "", ErrIDExhausted
	}
	c.session = s
	c.role = RoleProducer

	frame, err := encodeCreated(s.ID)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	if err := c.enqueue(frame); err != nil {
		h.logger.Debug("session_created not delivered", zap.String("session_id", s.ID), zap.Error(err))
	}
	s.mu.Unlock()

	h.logger.Info("session created", zap.String("session_id", s.ID), zap.String("client_id", c.ID))
	h.hooksMu.RLock()
	onStart := h.onStart
	h.hooksMu.RUnlock()
	if onStart != nil {
		onStart(s.ID, now)
	}
	return s.ID, nil
}

// Get looks a session up without mutating anything.
func (h *Hub) Get(id string) (*Session, error) {
	sh := h.shard(id)
	sh.mu.RLock()
	s, ok := sh.sessions[id]
	sh.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Evict removes a session. Unknown ids are a no-op.
func (h *Hub) Evict(id string) {
	s, err := h.Get(id)
	if err != nil {
		return
	}
	h.evictSession(s)
}

// SessionCount returns the number of registered sessions, active or in grace.
func (h *Hub) SessionCount() int {
	n := 0
	for i := range h.shards {
		h.shards[i].mu.RLock()
		n += len(h.shards[i].sessions)
		h.shards[i].mu.RUnlock()
	}
	return n
}

// evictSession removes s from the registry only if the registry still maps
// its id to this very record, then runs the eviction hook once.
func (h *Hub) evictSession(s *Session) {
	sh := h.shard(s.ID)
	sh.mu.Lock()
	if cur, ok := sh.sessions[s.ID]; ok && cur == s {
		delete(sh.sessions, s.ID)
	}
	sh.mu.Unlock()

	s.mu.Lock()
	if s.evicted {
		s.mu.Unlock()
		return
	}
	s.evicted = true
	if s.evictTimer != nil {
		s.evictTimer.Stop()
		s.evictTimer = nil
	}
	snap := s.snapshotLocked()
	s.observers = make(map[string]*Client)
	s.mu.Unlock()

	h.logger.Info("session evicted", zap.String("session_id", s.ID))
	h.hooksMu.RLock()
	onEvict := h.onEvict
	h.hooksMu.RUnlock()
	if onEvict != nil {
		onEvict(snap)
	}
}

// scheduleEviction arms the grace-period timer of an ended session.
func (h *Hub) scheduleEviction(s *Session) {
	if h.opts.GracePeriod <= 0 {
		h.evictSession(s)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted || s.evictTimer != nil {
		return
	}
	s.evictTimer = time.AfterFunc(h.opts.GracePeriod, func() { h.evictSession(s) })
}

// endSession marks s inactive and notifies everyone once. It reports
// whether this call performed the transition.
func (h *Hub) endSession(s *Session, reason string) bool {
	frame, err := encodeNotice(noticeEnded, s.ID)
	if err != nil {
		return false
	}
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return false
	}
	s.active = false
	s.endedAt = h.now()
	s.broadcastLocked(frame)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	h.logger.Info("session ended", zap.String("session_id", s.ID), zap.String("reason", reason),
		zap.Int("observers", snap.Observers), zap.Int64("readings", snap.ReadingsTotal))
	h.hooksMu.RLock()
	onEnd := h.onEnd
	h.hooksMu.RUnlock()
	if onEnd != nil {
		onEnd(snap)
	}
	h.scheduleEviction(s)
	return true
}

// Disconnect runs when a connection's transport closes. A producer ends its
// session; an observer is removed from the observer set.
func (h *Hub) Disconnect(c *Client) {
	s := c.session
	if s == nil {
		return
	}
	switch c.role {
	case RoleProducer:
		s.mu.Lock()
		if s.producer == c {
			s.producer = nil
		}
		s.mu.Unlock()
		h.endSession(s, "producer disconnected")
	case RoleObserver:
		h.leave(s, c)
	}
	c.session = nil
	c.role = RoleNone
}

func (h *Hub) leave(s *Session, c *Client) {
	s.mu.Lock()
	_, member := s.observers[c.ID]
	delete(s.observers, c.ID)
	count := len(s.observers)
	s.mu.Unlock()
	if member {
		h.observerLeft(s.ID, c, count)
	}
}

func (h *Hub) observerJoined(sessionID string, c *Client, count int) {
	h.hooksMu.RLock()
	onJoin, onAudience := h.onObserverJoin, h.onAudience
	h.hooksMu.RUnlock()
	if onJoin != nil {
		onJoin(sessionID, c)
	}
	if onAudience != nil {
		onAudience(sessionID, count)
	}
}

func (h *Hub) observerLeft(sessionID string, c *Client, count int) {
	h.hooksMu.RLock()
	onLeave, onAudience := h.onObserverLeave, h.onAudience
	h.hooksMu.RUnlock()
	if onLeave != nil {
		onLeave(sessionID, c)
	}
	if onAudience != nil {
		onAudience(sessionID, count)
	}
}

// notifyLeaveAsync reports an observer dropped during fan-out. The caller
// holds the session lock, so hooks run on their own goroutine.
func (h *Hub) notifyLeaveAsync(s *Session, c *Client) {
	count := len(s.observers)
	go h.observerLeft(s.ID, c, count)
}

// Close ends every active session, cancels pending evictions and evicts
// everything. Used on shutdown.
func (h *Hub) Close() {
	var all []*Session
	for i := range h.shards {
		h.shards[i].mu.RLock()
		for _, s := range h.shards[i].sessions {
			all = append(all, s)
		}
		h.shards[i].mu.RUnlock()
	}
	for _, s := range all {
		h.endSession(s, "server shutdown")
		h.evictSession(s)
	}
}
