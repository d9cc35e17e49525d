// Package checkpoint persists the minimum state needed to resume a
// session across multiple storage backends. Every checkpoint is
// independently restorable unless explicitly marked incremental, in
// which case it carries a pointer to its base.
package checkpoint

import (
	"time"

	"github.com/google/uuid"
)

// TriggerReason records why a checkpoint was taken.
type TriggerReason string

const (
	// ReasonPeriodic is the every-N-turns cadence.
	ReasonPeriodic TriggerReason = "periodic"

	// ReasonManual is an explicit user or operator request.
	ReasonManual TriggerReason = "manual"

	// ReasonModeSwitch is a transition between conversational and
	// structured-workflow execution.
	ReasonModeSwitch TriggerReason = "mode_switch"

	// ReasonApprovalWait is taken before entering a human-approval wait.
	ReasonApprovalWait TriggerReason = "approval_wait"

	// ReasonPreRecovery is taken immediately before a recovery attempt,
	// so forward progress survives a failed recovery.
	ReasonPreRecovery TriggerReason = "pre_recovery"
)

// Kind is the explicit full-versus-incremental tag. Recovery branches
// on this tag rather than inferring intent from payload shape.
type Kind string

const (
	// KindFull is a self-contained checkpoint.
	KindFull Kind = "full"

	// KindIncremental overlays a base checkpoint identified by BaseID.
	KindIncremental Kind = "incremental"
)

// StateView is one of the two co-existing representations of session
// state: the structured workflow-engine view and the conversational
// view. Counter is the view's own step/turn clock; recovery reconciles
// divergent views by comparing counters, never wall time.
type StateView struct {
	Counter int64          `json:"counter"`
	Fields  map[string]any `json:"fields"`
}

// Clone returns a deep-enough copy for reconciliation (fields map is
// copied; values are shared).
func (v StateView) Clone() StateView {
	fields := make(map[string]any, len(v.Fields))
	for key, value := range v.Fields {
		fields[key] = value
	}
	return StateView{Counter: v.Counter, Fields: fields}
}

// Checkpoint is the unit of durability for a session.
type Checkpoint struct {
	ID        uuid.UUID     `json:"id"`
	SessionID uuid.UUID     `json:"session_id"`
	Reason    TriggerReason `json:"reason"`

	Kind Kind `json:"kind"`

	// BaseID points at the base checkpoint when Kind is incremental.
	BaseID *uuid.UUID `json:"base_id,omitempty"`

	// TurnCounter is the session's turn clock at checkpoint time.
	// Stores enforce that it never moves backwards for a session.
	TurnCounter int64 `json:"turn_counter"`

	// Milestone marks an explicit significant completion. Milestone
	// checkpoints are exempt from TTL eviction.
	Milestone bool `json:"milestone"`

	// Workflow is the structured view with step and agent sub-states.
	Workflow StateView `json:"workflow"`

	// Conversational is the view holding named variables and usage
	// totals; the compressed history itself lives in HistoryBlob.
	Conversational StateView `json:"conversational"`

	// HistoryBlob is the compressed conversation history, with raw
	// size and checksum for integrity verification on read.
	HistoryBlob     []byte `json:"history_blob,omitempty"`
	HistoryRawSize  int    `json:"history_raw_size"`
	HistoryChecksum string `json:"history_checksum,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
