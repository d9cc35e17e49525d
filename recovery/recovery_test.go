package recovery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ctxwindow/ctxwindow/checkpoint"
	"github.com/ctxwindow/ctxwindow/types"
)

func historyTurns(t *testing.T, n int) ([]byte, int, string) {
	t.Helper()
	base := time.Date(2026, 4, 2, 14, 0, 0, 0, time.UTC)
	turns := make([]*types.ConversationTurn, n)
	for i := 0; i < n; i++ {
		turns[i] = &types.ConversationTurn{
			ID:        uuid.NewString(),
			Role:      types.RoleAgent,
			Content:   "investigated the deployment pipeline",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
	}
	blob, rawSize, checksum, err := checkpoint.EncodeHistory(turns)
	if err != nil {
		t.Fatalf("EncodeHistory: %v", err)
	}
	return blob, rawSize, checksum
}

func TestRecoverLatestRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	sessionID := uuid.New()

	blob, rawSize, checksum := historyTurns(t, 8)
	_, err := store.Save(ctx, &checkpoint.Checkpoint{
		SessionID:   sessionID,
		Reason:      checkpoint.ReasonPeriodic,
		Kind:        checkpoint.KindFull,
		TurnCounter: 42,
		Workflow: checkpoint.StateView{
			Counter: 42,
			Fields:  map[string]any{"step": "apply", "approved": true},
		},
		Conversational: checkpoint.StateView{
			Counter: 40,
			Fields:  map[string]any{"topic": "deployment"},
		},
		HistoryBlob:     blob,
		HistoryRawSize:  rawSize,
		HistoryChecksum: checksum,
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	result, err := New(store, nil).Recover(ctx, sessionID, nil)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(result.Turns) != 8 {
		t.Errorf("restored %d turns, want 8", len(result.Turns))
	}
	if result.Checkpoint.TurnCounter != 42 {
		t.Errorf("checkpoint counter = %d, want 42", result.Checkpoint.TurnCounter)
	}
	if result.State["step"] != "apply" || result.State["topic"] != "deployment" {
		t.Errorf("reconciled state missing fields: %+v", result.State)
	}
	if !strings.Contains(result.Summary, "turn counter 42") {
		t.Errorf("summary should mention turn counter: %q", result.Summary)
	}
}

func TestRecoverNoCheckpoints(t *testing.T) {
	// A session with zero checkpoints recovers into an explicit error,
	// never into empty or partial state.
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()

	result, err := New(store, nil).Recover(ctx, uuid.New(), nil)
	if result != nil {
		t.Fatalf("Recover returned partial result %+v on failure", result)
	}

	var recErr *RecoveryError
	if !errors.As(err, &recErr) {
		t.Fatalf("got %v, want RecoveryError", err)
	}
	if !errors.Is(err, checkpoint.ErrNoCheckpoint) {
		t.Errorf("RecoveryError should wrap ErrNoCheckpoint, got %v", err)
	}
}

func TestRecoverCorruptedHistory(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	sessionID := uuid.New()

	blob, rawSize, checksum := historyTurns(t, 3)
	corrupted := append([]byte(nil), blob...)
	corrupted[len(corrupted)/2] ^= 0xFF

	_, err := store.Save(ctx, &checkpoint.Checkpoint{
		SessionID:       sessionID,
		Reason:          checkpoint.ReasonManual,
		Kind:            checkpoint.KindFull,
		TurnCounter:     5,
		Workflow:        checkpoint.StateView{Counter: 5, Fields: map[string]any{}},
		Conversational:  checkpoint.StateView{Counter: 5, Fields: map[string]any{}},
		HistoryBlob:     corrupted,
		HistoryRawSize:  rawSize,
		HistoryChecksum: checksum,
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	result, err := New(store, nil).Recover(ctx, sessionID, nil)
	if result != nil {
		t.Fatal("corrupted history must not yield a partial result")
	}
	if !errors.Is(err, checkpoint.ErrChecksumMismatch) {
		t.Errorf("got %v, want wrapped ErrChecksumMismatch", err)
	}
}

func TestRecoverSpecificCheckpointWrongSession(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()

	id, err := store.Save(ctx, &checkpoint.Checkpoint{
		SessionID:      uuid.New(),
		Reason:         checkpoint.ReasonManual,
		Kind:           checkpoint.KindFull,
		TurnCounter:    1,
		Workflow:       checkpoint.StateView{Counter: 1, Fields: map[string]any{}},
		Conversational: checkpoint.StateView{Counter: 1, Fields: map[string]any{}},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := New(store, nil).Recover(ctx, uuid.New(), &id); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("cross-session checkpoint id: got %v, want wrapped ErrNotFound", err)
	}
}

func TestRecoverIncrementalChain(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	sessionID := uuid.New()

	blob, rawSize, checksum := historyTurns(t, 6)
	baseID, err := store.Save(ctx, &checkpoint.Checkpoint{
		SessionID:   sessionID,
		Reason:      checkpoint.ReasonPeriodic,
		Kind:        checkpoint.KindFull,
		TurnCounter: 10,
		Workflow: checkpoint.StateView{
			Counter: 10,
			Fields:  map[string]any{"step": "plan", "owner": "triage"},
		},
		Conversational:  checkpoint.StateView{Counter: 10, Fields: map[string]any{"topic": "outage"}},
		HistoryBlob:     blob,
		HistoryRawSize:  rawSize,
		HistoryChecksum: checksum,
	})
	if err != nil {
		t.Fatalf("Save base: %v", err)
	}

	// The incremental overlay changes step, keeps owner, carries no blob.
	_, err = store.Save(ctx, &checkpoint.Checkpoint{
		SessionID:   sessionID,
		Reason:      checkpoint.ReasonModeSwitch,
		Kind:        checkpoint.KindIncremental,
		BaseID:      &baseID,
		TurnCounter: 14,
		Workflow: checkpoint.StateView{
			Counter: 14,
			Fields:  map[string]any{"step": "execute"},
		},
		Conversational: checkpoint.StateView{Counter: 14, Fields: map[string]any{}},
	})
	if err != nil {
		t.Fatalf("Save incremental: %v", err)
	}

	result, err := New(store, nil).Recover(ctx, sessionID, nil)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if result.Workflow.Fields["step"] != "execute" {
		t.Errorf("overlay field step = %v, want execute", result.Workflow.Fields["step"])
	}
	if result.Workflow.Fields["owner"] != "triage" {
		t.Errorf("base field owner = %v, want triage (overlay must not drop it)", result.Workflow.Fields["owner"])
	}
	if result.Workflow.Counter != 14 {
		t.Errorf("overlay counter = %d, want 14", result.Workflow.Counter)
	}
	if len(result.Turns) != 6 {
		t.Errorf("history should come from the base blob: got %d turns, want 6", len(result.Turns))
	}
}

func TestRecoverIncrementalMissingBase(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	sessionID := uuid.New()
	missing := uuid.New()

	if _, err := store.Save(ctx, &checkpoint.Checkpoint{
		SessionID:      sessionID,
		Reason:         checkpoint.ReasonPeriodic,
		Kind:           checkpoint.KindIncremental,
		BaseID:         &missing,
		TurnCounter:    3,
		Workflow:       checkpoint.StateView{Counter: 3, Fields: map[string]any{}},
		Conversational: checkpoint.StateView{Counter: 3, Fields: map[string]any{}},
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := New(store, nil).Recover(ctx, sessionID, nil); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("broken base chain: got %v, want wrapped ErrNotFound", err)
	}
}

func TestReconcileDivergentViews(t *testing.T) {
	tests := []struct {
		name           string
		workflow       checkpoint.StateView
		conversational checkpoint.StateView
		field          string
		want           any
	}{
		{
			name:           "higher workflow counter wins",
			workflow:       checkpoint.StateView{Counter: 20, Fields: map[string]any{"phase": "done"}},
			conversational: checkpoint.StateView{Counter: 15, Fields: map[string]any{"phase": "running"}},
			field:          "phase",
			want:           "done",
		},
		{
			name:           "higher conversational counter wins",
			workflow:       checkpoint.StateView{Counter: 10, Fields: map[string]any{"phase": "running"}},
			conversational: checkpoint.StateView{Counter: 25, Fields: map[string]any{"phase": "done"}},
			field:          "phase",
			want:           "done",
		},
		{
			name:           "equal counters prefer workflow view",
			workflow:       checkpoint.StateView{Counter: 10, Fields: map[string]any{"phase": "workflow-says"}},
			conversational: checkpoint.StateView{Counter: 10, Fields: map[string]any{"phase": "chat-says"}},
			field:          "phase",
			want:           "workflow-says",
		},
	}

	r := New(checkpoint.NewMemoryStore(), nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := r.reconcile(uuid.New(), tt.workflow, tt.conversational)
			if state[tt.field] != tt.want {
				t.Errorf("reconciled %s = %v, want %v", tt.field, state[tt.field], tt.want)
			}
		})
	}
}
