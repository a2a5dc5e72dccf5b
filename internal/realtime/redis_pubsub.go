package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "relay:session:"
	publishTimeout = 5 * time.Second
	mirrorBacklog  = 4096
)

// redisPayload is the message published to Redis for each broadcast frame.
type redisPayload struct {
	SessionID string          `json:"sessionId"`
	Frame     json.RawMessage `json:"frame"`
	At        int64           `json:"at"`
}

type mirrored struct {
	sessionID string
	frame     []byte
	at        time.Time
}

// RedisMirror publishes every broadcast frame to relay:session:<id> so
// processes outside the relay can tap a stream. Publish only queues; one
// goroutine drains the queue in order, dropping frames when Redis falls
// behind.
type RedisMirror struct {
	client *redis.Client
	logger *zap.Logger
	queue  chan mirrored
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewRedisMirror starts the publishing loop. Call Close to stop it.
func NewRedisMirror(client *redis.Client, logger *zap.Logger) *RedisMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &RedisMirror{
		client: client,
		logger: logger,
		queue:  make(chan mirrored, mirrorBacklog),
		stop:   make(chan struct{}),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

// ChannelName returns the Redis channel for a session.
func ChannelName(sessionID string) string {
	return channelPrefix + sessionID
}

// Publish implements EventPublisher.
func (m *RedisMirror) Publish(sessionID string, frame []byte) {
	select {
	case m.queue <- mirrored{sessionID: sessionID, frame: frame, at: time.Now()}:
	default:
		m.logger.Debug("redis mirror backlog full, frame dropped", zap.String("session_id", sessionID))
	}
}

func (m *RedisMirror) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stop:
			return
		case ev := <-m.queue:
			if err := m.publish(ev); err != nil {
				m.logger.Warn("redis mirror publish failed", zap.String("session_id", ev.sessionID), zap.Error(err))
			}
		}
	}
}

func (m *RedisMirror) publish(ev mirrored) error {
	body, err := json.Marshal(redisPayload{SessionID: ev.sessionID, Frame: ev.frame, At: ev.at.UnixMilli()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return m.client.Publish(ctx, ChannelName(ev.sessionID), body).Err()
}

// Close stops the publishing loop. Queued frames not yet sent are dropped.
func (m *RedisMirror) Close() {
	m.once.Do(func() { close(m.stop) })
	m.wg.Wait()
}

// SubscribeSession subscribes to a session's mirror channel and calls handler
// with each raw frame until ctx is done or the returned cancel is called.
func SubscribeSession(ctx context.Context, client *redis.Client, sessionID string, handler func(frame []byte)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(ctx)
	pubsub := client.Subscribe(ctx, ChannelName(sessionID))
	if _, err = pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p redisPayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					continue
				}
				handler(p.Frame)
			}
		}
	}()
	return cancelCtx, nil
}
