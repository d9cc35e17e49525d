package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates the requested checkpoint does not exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrNoCheckpoint indicates a session has no checkpoints at all.
	ErrNoCheckpoint = errors.New("no checkpoint exists for session")

	// ErrOutOfOrderCheckpoint indicates a write whose turn counter is
	// behind the latest checkpoint for the session. Stores reject such
	// writes so a slow delayed write cannot resurrect stale state.
	ErrOutOfOrderCheckpoint = errors.New("checkpoint turn counter behind latest for session")

	// ErrChecksumMismatch indicates the compressed history payload
	// failed integrity verification.
	ErrChecksumMismatch = errors.New("history payload checksum mismatch")
)

// CheckpointWriteError indicates a durable write failed after the
// bounded retry budget was exhausted. It is surfaced, never silently
// dropped: losing a checkpoint silently would be a durability
// violation.
type CheckpointWriteError struct {
	SessionID uuid.UUID
	Attempts  int
	Err       error
}

func (e *CheckpointWriteError) Error() string {
	return fmt.Sprintf("checkpoint write for session %s failed after %d attempts: %v", e.SessionID, e.Attempts, e.Err)
}

func (e *CheckpointWriteError) Unwrap() error {
	return e.Err
}

// Store is the backend-agnostic checkpoint interface. Backend
// selection is a deployment-time configuration, not a code-path branch
// in callers. Writes are append-only under new identifiers, never
// in-place overwrites, so a failed write leaves the previous
// checkpoint as the latest valid one.
type Store interface {
	// Save persists a checkpoint and returns its id. The store
	// assigns the id and creation time when unset, and rejects writes
	// whose TurnCounter is behind the session's latest with
	// ErrOutOfOrderCheckpoint.
	Save(ctx context.Context, cp *Checkpoint) (uuid.UUID, error)

	// Get returns a checkpoint by id, or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Checkpoint, error)

	// GetLatest returns the checkpoint with the highest turn counter
	// for a session, or ErrNoCheckpoint.
	GetLatest(ctx context.Context, sessionID uuid.UUID) (*Checkpoint, error)

	// Delete removes a checkpoint by id. Deleting a missing
	// checkpoint is not an error.
	Delete(ctx context.Context, id uuid.UUID) error

	// ListBySession returns a session's checkpoints, newest first.
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*Checkpoint, error)

	// Sweep applies the retention policy across all sessions and
	// returns the number of checkpoints removed.
	Sweep(ctx context.Context, policy RetentionPolicy) (int, error)
}

// RetentionPolicy controls checkpoint aging. The most recent
// MaxPerSession checkpoints are always kept; older ones are removed
// once past TTL. Milestone checkpoints are exempt from TTL eviction.
type RetentionPolicy struct {
	MaxPerSession int
	TTL           time.Duration
}

// Logger interface for checkpoint logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}
