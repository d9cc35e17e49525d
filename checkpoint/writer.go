package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Retry defaults for durable writes.
const (
	DefaultWriteAttempts = 3
	DefaultWriteBackoff  = 250 * time.Millisecond
)

// RetryWriter wraps a Store with bounded retry on Save. Backend
// unavailability is retried with backoff up to the attempt budget and
// then surfaced as a CheckpointWriteError. Out-of-order rejections are
// a race, not a defect: they are returned immediately without retry so
// the caller can discard the write with a logged warning.
type RetryWriter struct {
	store    Store
	attempts int
	backoff  time.Duration
	logger   Logger
}

// NewRetryWriter creates a RetryWriter. Zero attempts or backoff take
// the defaults.
func NewRetryWriter(store Store, attempts int, backoff time.Duration, logger Logger) *RetryWriter {
	if attempts <= 0 {
		attempts = DefaultWriteAttempts
	}
	if backoff <= 0 {
		backoff = DefaultWriteBackoff
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &RetryWriter{store: store, attempts: attempts, backoff: backoff, logger: logger}
}

// Save persists the checkpoint with retry.
func (w *RetryWriter) Save(ctx context.Context, cp *Checkpoint) (uuid.UUID, error) {
	var lastErr error

	for attempt := 1; attempt <= w.attempts; attempt++ {
		id, err := w.store.Save(ctx, cp)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, ErrOutOfOrderCheckpoint) {
			return uuid.Nil, err
		}
		lastErr = err

		if attempt < w.attempts {
			w.logger.Warn("checkpoint write failed, retrying",
				"session_id", cp.SessionID,
				"attempt", attempt,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return uuid.Nil, &CheckpointWriteError{SessionID: cp.SessionID, Attempts: attempt, Err: ctx.Err()}
			case <-time.After(w.backoff * time.Duration(attempt)):
			}
		}
	}

	return uuid.Nil, &CheckpointWriteError{SessionID: cp.SessionID, Attempts: w.attempts, Err: lastErr}
}
