package retryutil

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultRetryDelay   = 2 * time.Second
	defaultRetryTimeout = 30 * time.Second
)

// RetryOnce runs fn a second time after delay when the first attempt failed.
// It blocks until the retry resolves and returns the last error.
func RetryOnce(ctx context.Context, logger *slog.Logger, name string, delay, timeout time.Duration, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	if timeout <= 0 {
		timeout = defaultRetryTimeout
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	firstErr := fn(attemptCtx)
	cancel()
	if firstErr == nil {
		return nil
	}
	if logger != nil {
		logger.Warn(name+"_retry_scheduled", "delay", delay.String(), "error", firstErr.Error())
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()
	retryErr := fn(attemptCtx)
	if retryErr != nil {
		if logger != nil {
			logger.Warn(name+"_retry_failed", "error", retryErr.Error())
		}
		return retryErr
	}
	if logger != nil {
		logger.Info(name + "_retry_ok")
	}
	return nil
}
