package ctxwindow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ctxwindow/ctxwindow/checkpoint"
	"github.com/ctxwindow/ctxwindow/compress"
	"github.com/ctxwindow/ctxwindow/types"
)

func newTestClient(t *testing.T, opts Options) *Client {
	t.Helper()
	c, err := NewClient(opts)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func appendTurns(t *testing.T, c *Client, sessionID uuid.UUID, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		err := c.AppendTurn(ctx, sessionID, "", &types.ConversationTurn{
			Role:    types.RoleAgent,
			Content: fmt.Sprintf("working through step %d of the migration plan", i),
		})
		if err != nil {
			t.Fatalf("AppendTurn %d: %v", i, err)
		}
	}
}

func TestClientSessionLifecycle(t *testing.T) {
	c := newTestClient(t, Options{})

	sessionID, err := c.CreateSession()
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	appendTurns(t, c, sessionID, 3)

	status, err := c.Status(sessionID, "")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.TurnCount != 3 {
		t.Errorf("TurnCount = %d, want 3", status.TurnCount)
	}
	if status.Snapshot.Total == 0 {
		t.Error("snapshot total should count the appended turns")
	}

	if _, err := c.Status(uuid.New(), ""); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session: got %v, want ErrSessionNotFound", err)
	}
}

func TestClientPeriodicCheckpoint(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	c := newTestClient(t, Options{
		Config: Config{AutoCheckpointInterval: 5},
		Store:  store,
	})

	sessionID, err := c.CreateSession()
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	appendTurns(t, c, sessionID, 12)

	list, err := store.ListBySession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	// 12 turns at a 5-turn cadence: checkpoints after turns 5 and 10.
	if len(list) != 2 {
		t.Fatalf("periodic checkpoints = %d, want 2", len(list))
	}
	if list[0].Reason != checkpoint.ReasonPeriodic {
		t.Errorf("reason = %q, want periodic", list[0].Reason)
	}
	if list[0].TurnCounter != 10 {
		t.Errorf("latest checkpoint at turn %d, want 10", list[0].TurnCounter)
	}
}

func TestClientManualCompact(t *testing.T) {
	c := newTestClient(t, Options{})
	sessionID, _ := c.CreateSession()
	appendTurns(t, c, sessionID, 20)

	result, err := c.Compact(context.Background(), sessionID, "", compress.StrategySlidingWindow, 0.3)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if result.DroppedCount == 0 {
		t.Error("compaction should drop turns at ratio 0.3 over 20 turns")
	}

	status, err := c.Status(sessionID, "")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.TurnCount >= 20 {
		t.Errorf("history not reduced: %d turns", status.TurnCount)
	}

	events, err := c.Events(sessionID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("audit trail has %d events, want 1", len(events))
	}
	if events[0].Strategy != compress.StrategySlidingWindow {
		t.Errorf("event strategy = %q", events[0].Strategy)
	}
}

func TestClientCompactKeepsSummaryTurn(t *testing.T) {
	c := newTestClient(t, Options{})
	sessionID, _ := c.CreateSession()
	appendTurns(t, c, sessionID, 30)

	if _, err := c.Compact(context.Background(), sessionID, "", compress.StrategySlidingWindow, 0.3); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	s, err := c.session(sessionID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	lc := s.local("")
	if len(lc.Turns) == 0 || !lc.Turns[0].IsSummary {
		t.Fatal("compacted history should start with a summary turn")
	}
	if lc.Turns[0].ReplacesCount == 0 {
		t.Error("summary turn must record how many turns it replaced")
	}
}

// competingCompactGenerator runs a second compaction against the same
// agent from inside the first one's summary generation, simulating a
// manual compact racing an automatic one.
type competingCompactGenerator struct {
	c          *Client
	sessionID  uuid.UUID
	ran        bool
	compactErr error
}

func (g *competingCompactGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if !g.ran {
		g.ran = true
		_, g.compactErr = g.c.Compact(ctx, g.sessionID, "", compress.StrategySimpleTruncate, 0.2)
	}
	return "summary of earlier investigation", nil
}

func TestClientCompetingCompactionDiscarded(t *testing.T) {
	gen := &competingCompactGenerator{}
	c := newTestClient(t, Options{Generator: gen})
	gen.c = c

	sessionID, _ := c.CreateSession()
	gen.sessionID = sessionID
	appendTurns(t, c, sessionID, 30)

	// The intelligent pass captures the history, then the truncate pass
	// finishes first; the slower pass must be discarded, not applied
	// over the shrunken history.
	_, err := c.Compact(context.Background(), sessionID, "", compress.StrategyIntelligent, 0.3)
	if !errors.Is(err, ErrSuperseded) {
		t.Fatalf("slower pass should be discarded as superseded, got %v", err)
	}
	if gen.compactErr != nil {
		t.Fatalf("competing compaction: %v", gen.compactErr)
	}

	events, err := c.Events(sessionID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 || events[0].Strategy != compress.StrategySimpleTruncate {
		t.Fatalf("audit trail should hold only the winning truncate pass, got %+v", events)
	}

	status, err := c.Status(sessionID, "")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.TurnCount >= 30 {
		t.Errorf("history not reduced by the winning pass: %d turns", status.TurnCount)
	}
}

func TestClientGlobalContextCap(t *testing.T) {
	c := newTestClient(t, Options{Config: Config{MaxGlobalEntries: 2}})
	sessionID, _ := c.CreateSession()

	if err := c.SetVariable(sessionID, "environment", "staging"); err != nil {
		t.Fatalf("SetVariable: %v", err)
	}
	if err := c.RecordDecision(sessionID, "use the staging database"); err != nil {
		t.Fatalf("RecordDecision: %v", err)
	}

	if err := c.SetVariable(sessionID, "region", "eu-west-1"); !errors.Is(err, ErrContextLimitExceeded) {
		t.Errorf("new variable past the cap: got %v, want ErrContextLimitExceeded", err)
	}
	if err := c.RecordDecision(sessionID, "retry the migration"); !errors.Is(err, ErrContextLimitExceeded) {
		t.Errorf("decision past the cap: got %v, want ErrContextLimitExceeded", err)
	}

	// Overwriting an existing variable does not grow the context.
	if err := c.SetVariable(sessionID, "environment", "production"); err != nil {
		t.Errorf("overwrite of existing variable rejected: %v", err)
	}
}

func TestClientLocalTurnCap(t *testing.T) {
	c := newTestClient(t, Options{Config: Config{MaxLocalTurns: 10}})
	sessionID, _ := c.CreateSession()
	appendTurns(t, c, sessionID, 15)

	status, err := c.Status(sessionID, "")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.TurnCount != 10 {
		t.Errorf("TurnCount = %d, want the cap of 10", status.TurnCount)
	}

	s, err := c.session(sessionID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	turns := s.local("").Turns
	if turns[len(turns)-1].Content != "working through step 14 of the migration plan" {
		t.Errorf("newest turn lost: %q", turns[len(turns)-1].Content)
	}
	if turns[0].Content != "working through step 5 of the migration plan" {
		t.Errorf("oldest surviving turn = %q, want step 5", turns[0].Content)
	}
}

func TestClientRecoverRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	c := newTestClient(t, Options{Store: store})

	sessionID, _ := c.CreateSession()
	appendTurns(t, c, sessionID, 6)
	if err := c.SetVariable(sessionID, "environment", "staging"); err != nil {
		t.Fatalf("SetVariable: %v", err)
	}

	if _, err := c.Checkpoint(ctx, sessionID, checkpoint.ReasonManual, true); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	outcome, err := c.Recover(ctx, sessionID, nil)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if outcome.Fresh {
		t.Fatalf("recovery reported fresh start: %s", outcome.Notice)
	}
	if len(outcome.Result.Turns) != 6 {
		t.Errorf("restored %d turns, want 6", len(outcome.Result.Turns))
	}

	status, err := c.Status(sessionID, "")
	if err != nil {
		t.Fatalf("Status after recover: %v", err)
	}
	if status.TurnCount != 6 {
		t.Errorf("session history after recover = %d turns, want 6", status.TurnCount)
	}
}

func TestClientCheckpointCoversAllAgents(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	c := newTestClient(t, Options{Store: store})

	sessionID, _ := c.CreateSession()
	appendTurns(t, c, sessionID, 4)
	for i := 0; i < 3; i++ {
		err := c.AppendTurn(ctx, sessionID, "researcher", &types.ConversationTurn{
			Role:    types.RoleAgent,
			Content: fmt.Sprintf("reviewing source %d", i),
		})
		if err != nil {
			t.Fatalf("AppendTurn researcher: %v", err)
		}
	}
	if err := c.SetAgentState(sessionID, "researcher", "sources_reviewed", 3); err != nil {
		t.Fatalf("SetAgentState: %v", err)
	}

	if _, err := c.Checkpoint(ctx, sessionID, checkpoint.ReasonManual, false); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	outcome, err := c.Recover(ctx, sessionID, nil)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if outcome.Fresh {
		t.Fatalf("recovery reported fresh start: %s", outcome.Notice)
	}

	main, err := c.Status(sessionID, "")
	if err != nil {
		t.Fatalf("Status main: %v", err)
	}
	if main.TurnCount != 4 {
		t.Errorf("main agent restored %d turns, want 4", main.TurnCount)
	}
	researcher, err := c.Status(sessionID, "researcher")
	if err != nil {
		t.Fatalf("researcher context lost across checkpoint and recovery: %v", err)
	}
	if researcher.TurnCount != 3 {
		t.Errorf("researcher restored %d turns, want 3", researcher.TurnCount)
	}

	s, err := c.session(sessionID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if _, ok := s.local("researcher").State["sources_reviewed"]; !ok {
		t.Error("researcher state not restored")
	}
}

func TestClientRecoverKeepsAgentStateLocal(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, Options{})
	sessionID, _ := c.CreateSession()
	appendTurns(t, c, sessionID, 2)

	if err := c.SetVariable(sessionID, "environment", "staging"); err != nil {
		t.Fatalf("SetVariable: %v", err)
	}
	if err := c.SetAgentState(sessionID, "", "scratch_offset", 42); err != nil {
		t.Fatalf("SetAgentState: %v", err)
	}

	if _, err := c.Checkpoint(ctx, sessionID, checkpoint.ReasonManual, false); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	outcome, err := c.Recover(ctx, sessionID, nil)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if outcome.Fresh {
		t.Fatalf("recovery reported fresh start: %s", outcome.Notice)
	}

	s, err := c.session(sessionID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if _, ok := s.global.Variables["scratch_offset"]; ok {
		t.Error("agent-local state leaked into Global variables on recovery")
	}
	if s.global.Variables["environment"] != "staging" {
		t.Errorf("shared variable lost: %v", s.global.Variables["environment"])
	}
	if _, ok := s.local("").State["scratch_offset"]; !ok {
		t.Error("agent state not restored into the Local context")
	}
}

func TestClientRecoverNoCheckpointsStartsFresh(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, Options{})
	sessionID := uuid.New()

	outcome, err := c.Recover(ctx, sessionID, nil)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if !outcome.Fresh {
		t.Fatal("recovery with no checkpoints must report a fresh start")
	}
	if outcome.Notice == "" {
		t.Error("fresh start must carry an explicit notice")
	}

	// The fresh session is usable.
	if err := c.AppendTurn(ctx, sessionID, "", &types.ConversationTurn{
		Role: types.RoleHuman, Content: "starting over",
	}); err != nil {
		t.Errorf("fresh session should accept turns: %v", err)
	}
}

func TestClientRecoverSupersedesInFlightCompaction(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	c := newTestClient(t, Options{Store: store})

	sessionID, _ := c.CreateSession()
	appendTurns(t, c, sessionID, 10)
	if _, err := c.Checkpoint(ctx, sessionID, checkpoint.ReasonManual, false); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	// Capture state as Compact would, then recover, then try to apply.
	s, err := c.session(sessionID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	generationBefore := s.generation

	if _, err := c.Recover(ctx, sessionID, nil); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	after, err := c.session(sessionID)
	if err != nil {
		t.Fatalf("session after recover: %v", err)
	}
	if after.generation == generationBefore {
		t.Fatal("recovery must bump the session generation so in-flight results are discarded")
	}
}

func TestClientPrepareHandoff(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, Options{})
	sessionID, _ := c.CreateSession()

	for i := 0; i < 15; i++ {
		turn := &types.ConversationTurn{
			Role:    types.RoleAgent,
			Content: fmt.Sprintf("step %d", i),
		}
		if i == 7 {
			turn.Content = "Found the root cause of the flaky test."
			turn.Tool = &types.ToolInvocation{Name: "run_tests", Output: "assertion failed", IsError: true}
		}
		if err := c.AppendTurn(ctx, sessionID, "", turn); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	handoffCtx, err := c.PrepareHandoff(ctx, sessionID, "", "test-infrastructure", "needs CI expertise")
	if err != nil {
		t.Fatalf("PrepareHandoff: %v", err)
	}
	if handoffCtx.SourceAgentID != DefaultAgentID {
		t.Errorf("SourceAgentID = %q", handoffCtx.SourceAgentID)
	}
	if len(handoffCtx.ErrorMessages) != 1 {
		t.Errorf("error messages = %d, want 1", len(handoffCtx.ErrorMessages))
	}
	if handoffCtx.LatestCheckpointID == nil {
		t.Error("handoff should reference the mode-switch checkpoint")
	}
}

func TestClientClosedRejectsCalls(t *testing.T) {
	c := newTestClient(t, Options{})
	c.Close()

	if _, err := c.CreateSession(); !errors.Is(err, ErrClientClosed) {
		t.Errorf("got %v, want ErrClientClosed", err)
	}
}

func TestClientCheckpointStaleWriteDiscarded(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	c := newTestClient(t, Options{Store: store})

	sessionID, _ := c.CreateSession()
	appendTurns(t, c, sessionID, 3)

	// A checkpoint from another writer with a newer counter already
	// exists; the client's stale write is discarded, not an error.
	_, err := store.Save(ctx, &checkpoint.Checkpoint{
		SessionID:      sessionID,
		Reason:         checkpoint.ReasonManual,
		Kind:           checkpoint.KindFull,
		TurnCounter:    100,
		Workflow:       checkpoint.StateView{Counter: 100, Fields: map[string]any{}},
		Conversational: checkpoint.StateView{Counter: 100, Fields: map[string]any{}},
		CreatedAt:      time.Now(),
	})
	if err != nil {
		t.Fatalf("seed Save: %v", err)
	}

	id, err := c.Checkpoint(ctx, sessionID, checkpoint.ReasonManual, false)
	if err != nil {
		t.Fatalf("stale checkpoint should be discarded silently, got %v", err)
	}
	if id != uuid.Nil {
		t.Errorf("discarded checkpoint returned id %s", id)
	}
}
