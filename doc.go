// Package ctxwindow manages the context window of long-running
// multi-agent conversational sessions.
//
// The module keeps sessions inside their model context budget through
// four cooperating mechanisms: token accounting, usage monitoring,
// compaction, and checkpointing with recovery. Each lives in its own
// subpackage; this root package ties them together behind a Client.
//
// # Key Features
//
//   - Segment-level token accounting with exact counting via the
//     Anthropic count-tokens API and a deterministic estimation fallback
//   - Tiered usage monitoring (normal, advisory, auto-compact, critical)
//     with structural ceilings for turn and tool-invocation counts
//   - Four compaction strategies from simple truncation to a hybrid
//     pass that handles history, tool output, and intermediate state
//   - Durable checkpoints (PostgreSQL via pgx or database/sql, plus an
//     in-memory store) with zstd-compressed, checksummed history
//   - Session recovery with last-writer-wins state reconciliation
//   - Bounded handoff packages for transferring work between agents
//
// # Quick Start
//
// Create a client and manage a session:
//
//	client, err := ctxwindow.NewClient(ctxwindow.Options{
//	    Config: ctxwindow.Config{MaxContextTokens: 200000},
//	    Store:  postgres.New(pool),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	sessionID, _ := client.CreateSession()
//	client.AppendTurn(ctx, sessionID, "", &types.ConversationTurn{
//	    Role:    types.RoleHuman,
//	    Content: "help me debug the checkout service",
//	})
//
// Turns are appended through the client so it can checkpoint on its
// configured cadence and compact automatically when usage crosses the
// auto-compact threshold.
//
// # Compaction
//
// Compaction runs automatically, or on demand:
//
//	result, err := client.Compact(ctx, sessionID, "",
//	    compress.StrategyIntelligent, 0.4)
//
// Every strategy except simple truncation keeps the most recent turns
// unconditionally, and dropped turns are replaced by a summary turn so
// repeated compaction of an already compact session is a no-op.
//
// # Recovery
//
// Sessions restore from their latest checkpoint, or any specific one:
//
//	outcome, err := client.Recover(ctx, sessionID, nil)
//	if outcome.Fresh {
//	    fmt.Println(outcome.Notice) // restarted without prior context
//	}
//
// A failed recovery never produces partial state: the session restarts
// fresh with an explicit notice.
package ctxwindow
