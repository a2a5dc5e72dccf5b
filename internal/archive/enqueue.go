package archive

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/decibel-relay/internal/realtime"
	"github.com/aura-webinar/decibel-relay/pkg/queue"
)

// Enqueuer accepts archive jobs.
type Enqueuer interface {
	EnqueueArchive(ctx context.Context, payload queue.ArchivePayload) error
}

// OnEvict returns a hub eviction handler that queues an archive job for
// every evicted session.
func OnEvict(q Enqueuer, logger *zap.Logger) func(realtime.Snapshot) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(snap realtime.Snapshot) {
		body, err := json.Marshal(snap)
		if err != nil {
			logger.Error("marshal snapshot", zap.String("session_id", snap.SessionID), zap.Error(err))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		payload := queue.ArchivePayload{SessionID: snap.SessionID, Snapshot: body, EvictedAt: time.Now()}
		if err := q.EnqueueArchive(ctx, payload); err != nil {
			logger.Warn("archive enqueue failed", zap.String("session_id", snap.SessionID), zap.Error(err))
		}
	}
}
