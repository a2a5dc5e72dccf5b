package agent

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// StartTimer runs a countdown from seconds, sending timer_update on every
// tick. When it reaches zero it records a summary of the current window and
// pauses capture. Cancelling ctx or calling stop ends it early without a
// summary. done is closed when the countdown goroutine exits.
func (a *Agent) StartTimer(ctx context.Context, seconds int) (stop func(), done <-chan struct{}, err error) {
	if seconds <= 0 {
		return nil, nil, errors.New("countdown must be positive")
	}
	if err := a.UpdateTimer(seconds); err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(a.tick)
		defer ticker.Stop()
		remaining := seconds
		for {
			select {
			case <-ctx.Done():
				return
			case <-a.Done():
				return
			case <-ticker.C:
				remaining--
				if err := a.UpdateTimer(remaining); err != nil {
					a.logger.Debug("countdown stopped", zap.Error(err))
					return
				}
				if remaining > 0 {
					continue
				}
				if _, err := a.RecordSummary(); err != nil && !errors.Is(err, ErrNoReadings) {
					a.logger.Warn("countdown summary failed", zap.Error(err))
				}
				_ = a.Pause()
				return
			}
		}
	}()
	return cancel, finished, nil
}
