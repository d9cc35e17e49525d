// Package recovery restores session state from checkpoints. A recovery
// either fully succeeds or fails without touching session state; the
// caller decides whether a failure means retrying an older checkpoint
// or starting fresh.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ctxwindow/ctxwindow/checkpoint"
	"github.com/ctxwindow/ctxwindow/types"
)

// maxChainDepth bounds incremental base-chain resolution so a corrupt
// BaseID cycle cannot loop forever.
const maxChainDepth = 32

// summaryExcerptLimit caps the excerpt quoted in the recovery summary.
const summaryExcerptLimit = 160

// RecoveryError wraps any failure during recovery with the operation
// and session it happened in.
type RecoveryError struct {
	Op        string
	SessionID uuid.UUID
	Err       error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("recovery %s for session %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *RecoveryError) Unwrap() error {
	return e.Err
}

// Logger interface for recovery logging.
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

// Result is a fully restored session snapshot.
type Result struct {
	// Checkpoint is the checkpoint the session was restored from (the
	// topmost one when an incremental chain was resolved).
	Checkpoint *checkpoint.Checkpoint

	// Turns is the decoded conversation history, oldest first.
	Turns []*types.ConversationTurn

	// Workflow and Conversational are the two restored views after
	// incremental overlays were applied.
	Workflow       checkpoint.StateView
	Conversational checkpoint.StateView

	// State is the reconciled merge of the two views. Fields present in
	// both with different values resolve to the view with the higher
	// counter.
	State map[string]any

	// Summary is a human-readable description of what was restored.
	Summary string
}

// Recoverer restores sessions from a checkpoint store.
type Recoverer struct {
	store  checkpoint.Store
	logger Logger
}

// New creates a Recoverer. A nil logger disables logging.
func New(store checkpoint.Store, logger Logger) *Recoverer {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recoverer{store: store, logger: logger}
}

// Recover restores a session from the given checkpoint, or from the
// session's latest when checkpointID is nil. On any failure it returns
// a RecoveryError and no partial result.
func (r *Recoverer) Recover(ctx context.Context, sessionID uuid.UUID, checkpointID *uuid.UUID) (*Result, error) {
	cp, err := r.load(ctx, sessionID, checkpointID)
	if err != nil {
		return nil, &RecoveryError{Op: "load", SessionID: sessionID, Err: err}
	}

	chain, err := r.resolveChain(ctx, cp)
	if err != nil {
		return nil, &RecoveryError{Op: "resolve_chain", SessionID: sessionID, Err: err}
	}

	workflow, conversational := applyOverlays(chain)

	turns, err := decodeHistory(chain)
	if err != nil {
		return nil, &RecoveryError{Op: "decode_history", SessionID: sessionID, Err: err}
	}

	state := r.reconcile(sessionID, workflow, conversational)

	result := &Result{
		Checkpoint:     cp,
		Turns:          turns,
		Workflow:       workflow,
		Conversational: conversational,
		State:          state,
		Summary:        buildSummary(cp, turns),
	}

	r.logger.Info("session recovered",
		"session_id", sessionID,
		"checkpoint_id", cp.ID,
		"turn_counter", cp.TurnCounter,
		"turns", len(turns),
	)
	return result, nil
}

func (r *Recoverer) load(ctx context.Context, sessionID uuid.UUID, checkpointID *uuid.UUID) (*checkpoint.Checkpoint, error) {
	if checkpointID == nil {
		return r.store.GetLatest(ctx, sessionID)
	}
	cp, err := r.store.Get(ctx, *checkpointID)
	if err != nil {
		return nil, err
	}
	if cp.SessionID != sessionID {
		return nil, fmt.Errorf("checkpoint %s belongs to session %s: %w", cp.ID, cp.SessionID, checkpoint.ErrNotFound)
	}
	return cp, nil
}

// resolveChain walks incremental checkpoints back to their full base
// and returns the chain ordered base first. A full checkpoint is a
// chain of one.
func (r *Recoverer) resolveChain(ctx context.Context, cp *checkpoint.Checkpoint) ([]*checkpoint.Checkpoint, error) {
	chain := []*checkpoint.Checkpoint{cp}

	current := cp
	for current.Kind == checkpoint.KindIncremental {
		if len(chain) > maxChainDepth {
			return nil, fmt.Errorf("incremental chain exceeds %d checkpoints", maxChainDepth)
		}
		if current.BaseID == nil {
			return nil, fmt.Errorf("incremental checkpoint %s has no base", current.ID)
		}
		base, err := r.store.Get(ctx, *current.BaseID)
		if err != nil {
			return nil, fmt.Errorf("base checkpoint %s: %w", *current.BaseID, err)
		}
		chain = append(chain, base)
		current = base
	}

	// Reverse to base-first order for overlay application.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// applyOverlays merges the chain's views base first. Overlay fields
// replace base fields; counters take the overlay's value.
func applyOverlays(chain []*checkpoint.Checkpoint) (workflow, conversational checkpoint.StateView) {
	workflow = checkpoint.StateView{Fields: map[string]any{}}
	conversational = checkpoint.StateView{Fields: map[string]any{}}

	for _, cp := range chain {
		workflow.Counter = cp.Workflow.Counter
		for key, value := range cp.Workflow.Fields {
			workflow.Fields[key] = value
		}
		conversational.Counter = cp.Conversational.Counter
		for key, value := range cp.Conversational.Fields {
			conversational.Fields[key] = value
		}
	}
	return workflow, conversational
}

// decodeHistory decodes the topmost checkpoint in the chain that
// carries a history blob. Incremental checkpoints may omit the blob to
// stay small; the nearest carrying ancestor then supplies it.
func decodeHistory(chain []*checkpoint.Checkpoint) ([]*types.ConversationTurn, error) {
	for i := len(chain) - 1; i >= 0; i-- {
		cp := chain[i]
		if len(cp.HistoryBlob) == 0 {
			continue
		}
		return checkpoint.DecodeHistory(cp.HistoryBlob, cp.HistoryRawSize, cp.HistoryChecksum)
	}
	return nil, nil
}

// reconcile merges the two views field by field. A key present in both
// with different values resolves to the view with the higher counter;
// ties go to the workflow view. Every divergence is logged with both
// values so genuine conflicts are visible, not silently absorbed.
func (r *Recoverer) reconcile(sessionID uuid.UUID, workflow, conversational checkpoint.StateView) map[string]any {
	state := make(map[string]any, len(workflow.Fields)+len(conversational.Fields))

	for key, value := range conversational.Fields {
		state[key] = value
	}
	for key, workflowValue := range workflow.Fields {
		conversationalValue, shared := conversational.Fields[key]
		if shared && !equalValues(workflowValue, conversationalValue) {
			winner := workflowValue
			winnerView := "workflow"
			if conversational.Counter > workflow.Counter {
				winner = conversationalValue
				winnerView = "conversational"
			}
			r.logger.Warn("state views diverged, resolved by counter",
				"session_id", sessionID,
				"field", key,
				"workflow_value", workflowValue,
				"workflow_counter", workflow.Counter,
				"conversational_value", conversationalValue,
				"conversational_counter", conversational.Counter,
				"winner", winnerView,
			)
			state[key] = winner
			continue
		}
		state[key] = workflowValue
	}
	return state
}

func equalValues(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// buildSummary describes what was restored in one human-readable
// string: when the checkpoint was taken, how many turns came back, and
// an excerpt of the most recent summary or turn.
func buildSummary(cp *checkpoint.Checkpoint, turns []*types.ConversationTurn) string {
	summary := fmt.Sprintf("Restored from checkpoint taken %s (turn counter %d, %d turns of history).",
		cp.CreatedAt.Format(time.RFC1123), cp.TurnCounter, len(turns))

	excerpt := ""
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].IsSummary {
			excerpt = turns[i].Content
			break
		}
	}
	if excerpt == "" && len(turns) > 0 {
		excerpt = turns[len(turns)-1].Content
	}
	if excerpt != "" {
		if len(excerpt) > summaryExcerptLimit {
			excerpt = excerpt[:summaryExcerptLimit] + "..."
		}
		summary += " Last recorded context: " + excerpt
	}
	return summary
}
