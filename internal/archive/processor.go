// Package archive stores the final state of evicted sessions in S3. The
// server enqueues a job on eviction; a processor uploads the snapshot to
// archives/<session_id>.json and records the key on the stream row.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/decibel-relay/pkg/queue"
	"github.com/aura-webinar/decibel-relay/pkg/storage"
)

const dequeueWait = 5 * time.Second

// ObjectStore is the archive bucket.
type ObjectStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error)
}

// KeyRecorder stores the archive key of a session. May be nil.
type KeyRecorder interface {
	MarkArchived(ctx context.Context, sessionID, key string) error
}

// JobSource is the archive job queue.
type JobSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Processor processes session archive jobs: upload the snapshot, then record the key.
type Processor struct {
	objects ObjectStore
	keys    KeyRecorder
	jobs    JobSource
	logger  *zap.Logger
	backoff time.Duration
}

// NewProcessor creates an archive processor. keys may be nil when no
// database is configured.
func NewProcessor(objects ObjectStore, keys KeyRecorder, jobs JobSource, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{objects: objects, keys: keys, jobs: jobs, logger: logger, backoff: queue.RetryBackoff}
}

// Process executes one archive job. Re-running a job whose object already
// exists only records the key again.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	payload, err := queue.DecodeArchive(job)
	if err != nil {
		return err
	}
	key := storage.ArchiveKey(payload.SessionID)

	exists, err := p.objects.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check archive: %w", err)
	}
	if exists {
		p.logger.Info("archive already stored", zap.String("session_id", payload.SessionID), zap.String("s3_key", key))
	} else {
		body := payload.Snapshot
		if _, err := p.objects.Upload(ctx, key, "application/json", bytes.NewReader(body), int64(len(body))); err != nil {
			return fmt.Errorf("s3 upload: %w", err)
		}
	}

	if p.keys != nil {
		if err := p.keys.MarkArchived(ctx, payload.SessionID, key); err != nil {
			p.logger.Error("record archive key failed", zap.Error(err), zap.String("session_id", payload.SessionID))
			return fmt.Errorf("update db: %w", err)
		}
	}
	p.logger.Info("session archived", zap.String("session_id", payload.SessionID), zap.String("s3_key", key))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("archive worker stopping")
			return
		default:
		}

		job, err := p.jobs.Dequeue(ctx, dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.jobs.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *Processor) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.backoff):
	}
}
