package ctxwindow

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Common errors
var (
	// ErrInvalidConfig is returned when the configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrSessionNotFound is returned when a session does not exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrAgentNotFound is returned when an agent has no local context in
	// the session
	ErrAgentNotFound = errors.New("agent not found in session")

	// ErrSuperseded is returned when an asynchronous result arrives for
	// a session generation that has since been replaced (for example by
	// a recovery). The result is discarded rather than applied.
	ErrSuperseded = errors.New("session generation superseded")

	// ErrContextLimitExceeded is returned when a write would push a
	// Global or Local context past its configured size bound
	ErrContextLimitExceeded = errors.New("context size limit exceeded")

	// ErrClientClosed is returned when calling methods after Close()
	ErrClientClosed = errors.New("client closed")
)

// SessionError represents an error with additional session context
type SessionError struct {
	Op        string         // Operation that failed
	Err       error          // Underlying error
	SessionID uuid.UUID      // Session ID if applicable
	Context   map[string]any // Additional context
}

// Error implements the error interface
func (e *SessionError) Error() string {
	if e.SessionID != uuid.Nil {
		return fmt.Sprintf("%s (session=%s): %v", e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *SessionError) Unwrap() error {
	return e.Err
}

// WithContext adds additional context to the error
func (e *SessionError) WithContext(key string, value any) *SessionError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NewSessionError creates a new SessionError
func NewSessionError(op string, sessionID uuid.UUID, err error) *SessionError {
	return &SessionError{
		Op:        op,
		SessionID: sessionID,
		Err:       err,
	}
}
