// Package ctxwindow manages context windows for multi-agent
// conversational sessions: token accounting, usage monitoring,
// compaction, checkpointing, recovery, and agent handoffs.
package ctxwindow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/ctxwindow/ctxwindow/checkpoint"
	"github.com/ctxwindow/ctxwindow/compress"
	"github.com/ctxwindow/ctxwindow/handoff"
	"github.com/ctxwindow/ctxwindow/monitor"
	"github.com/ctxwindow/ctxwindow/recovery"
	"github.com/ctxwindow/ctxwindow/tokens"
	"github.com/ctxwindow/ctxwindow/types"
)

// Options configures a Client.
type Options struct {
	// Config holds thresholds, cadences, and strategy defaults. Zero
	// fields take defaults.
	Config Config

	// Store is the checkpoint backend. When nil an in-memory store is
	// used (suitable for tests and single-process deployments only).
	Store checkpoint.Store

	// Generator produces rich compaction summaries. When nil, keyword
	// extraction is used for all summaries.
	Generator compress.TextGenerator

	// Preamble and ToolDeclarations are the static non-history context
	// segments counted toward the window budget.
	Preamble         string
	ToolDeclarations string

	// OnAdvisory receives usage advisories for the display layer.
	OnAdvisory monitor.AdvisoryFunc

	Logger Logger
}

// Client is the entry point for context-window management. It owns the
// session registry and serializes all Global context writes, so every
// Global context has a single writer.
type Client struct {
	cfg        Config
	store      checkpoint.Store
	writer     *checkpoint.RetryWriter
	compressor *compress.Compressor
	monitor    *monitor.Monitor
	recoverer  *recovery.Recoverer
	handoffs   *handoff.Coordinator
	logger     Logger

	preamble  string
	toolDecls string

	cron *cron.Cron

	mu       sync.RWMutex
	sessions map[uuid.UUID]*session
	closed   bool
}

// NewClient creates a Client from options.
func NewClient(opts Options) (*Client, error) {
	cfg := opts.Config
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = NopLogger{}
	}

	store := opts.Store
	if store == nil {
		store = checkpoint.NewMemoryStore()
	}

	compressor := compress.New(compress.Options{
		RecencyFloor:    cfg.RecencyFloor,
		Generator:       opts.Generator,
		GenerateTimeout: cfg.GenerateTimeout,
		Logger:          logger,
	})

	c := &Client{
		cfg:        cfg,
		store:      store,
		writer:     checkpoint.NewRetryWriter(store, checkpoint.DefaultWriteAttempts, checkpoint.DefaultWriteBackoff, logger),
		compressor: compressor,
		monitor: monitor.New(monitor.Options{
			AdvisoryThreshold:    cfg.AdvisoryThreshold,
			AutoCompactThreshold: cfg.AutoCompactThreshold,
			CriticalThreshold:    cfg.CriticalThreshold,
			MaxTurns:             cfg.MaxTurnCount,
			MaxToolCalls:         cfg.MaxToolInvocations,
			OnAdvisory:           opts.OnAdvisory,
		}),
		recoverer: recovery.New(store, logger),
		handoffs: handoff.New(handoff.Options{
			Compressor:  compressor,
			Store:       store,
			TargetRatio: cfg.HandoffTargetRatio,
			Logger:      logger,
		}),
		logger:    logger,
		preamble:  opts.Preamble,
		toolDecls: opts.ToolDeclarations,
		sessions:  make(map[uuid.UUID]*session),
	}
	return c, nil
}

// Start launches the background retention sweeper. Calling Start is
// optional; a client without it simply never sweeps old checkpoints.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if c.cron != nil {
		return nil
	}

	c.cron = cron.New()
	_, err := c.cron.AddFunc(c.cfg.RetentionSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		removed, err := c.store.Sweep(ctx, checkpoint.RetentionPolicy{
			MaxPerSession: c.cfg.MaxCheckpoints,
			TTL:           c.cfg.CheckpointTTL,
		})
		if err != nil {
			c.logger.Error("checkpoint retention sweep failed", "error", err)
			return
		}
		if removed > 0 {
			c.logger.Info("checkpoint retention sweep", "removed", removed)
		}
	})
	if err != nil {
		c.cron = nil
		return fmt.Errorf("schedule retention sweep: %w", err)
	}
	c.cron.Start()
	return nil
}

// Close stops background work. The client cannot be restarted.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.cron != nil {
		c.cron.Stop()
		c.cron = nil
	}
}

// CreateSession registers a new session and returns its id.
func (c *Client) CreateSession() (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return uuid.Nil, ErrClientClosed
	}

	id := uuid.New()
	c.sessions[id] = newSession(id)
	c.logger.Info("session created", "session_id", id)
	return id, nil
}

// session looks up a session under the read lock.
func (c *Client) session(id uuid.UUID) (*session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	s, ok := c.sessions[id]
	if !ok {
		return nil, NewSessionError("lookup", id, ErrSessionNotFound)
	}
	return s, nil
}

// AppendTurn records a turn in an agent's local context, advancing the
// session turn clock. It drives the periodic checkpoint cadence and,
// when auto-compaction is enabled, compacts once usage crosses the
// auto-compact threshold.
func (c *Client) AppendTurn(ctx context.Context, sessionID uuid.UUID, agentID string, turn *types.ConversationTurn) error {
	s, err := c.session(sessionID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	lc := s.ensureLocal(agentID, "")
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	turn.SessionID = sessionID.String()
	turn.AgentID = lc.AgentID
	lc.AppendTurn(turn)
	if overflow := len(lc.Turns) - c.cfg.MaxLocalTurns; overflow > 0 {
		lc.Turns = append([]*types.ConversationTurn(nil), lc.Turns[overflow:]...)
		c.logger.Warn("local context at capacity, oldest turns evicted",
			"session_id", sessionID, "agent_id", lc.AgentID, "evicted", overflow)
	}

	s.turnCounter++
	s.turnsSinceCheckpoint++
	if turn.Tool != nil {
		s.toolCalls++
	}
	periodicDue := c.cfg.AutoCheckpointInterval > 0 && s.turnsSinceCheckpoint >= c.cfg.AutoCheckpointInterval
	autoCompact := s.autoCompact
	c.mu.Unlock()

	if periodicDue {
		if _, err := c.Checkpoint(ctx, sessionID, checkpoint.ReasonPeriodic, false); err != nil {
			return err
		}
	}

	if autoCompact {
		if _, _, err := c.CompactIfNeeded(ctx, sessionID, agentID); err != nil && !errors.Is(err, ErrSuperseded) {
			return err
		}
	}
	return nil
}

// SetVariable writes a shared variable into the session's Global
// context. All Global writes flow through the client, keeping the
// single-writer guarantee.
func (c *Client) SetVariable(sessionID uuid.UUID, key string, value any) error {
	s, err := c.session(sessionID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := s.global.Variables[key]; !exists && s.globalEntryCount() >= c.cfg.MaxGlobalEntries {
		return NewSessionError("set_variable", sessionID, ErrContextLimitExceeded)
	}
	s.global.Variables[key] = value
	s.global.Counter++
	return nil
}

// RecordDecision appends a decision to the session's Global context.
func (c *Client) RecordDecision(sessionID uuid.UUID, decision string) error {
	s, err := c.session(sessionID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.globalEntryCount() >= c.cfg.MaxGlobalEntries {
		return NewSessionError("record_decision", sessionID, ErrContextLimitExceeded)
	}
	s.global.Decisions = append(s.global.Decisions, decision)
	s.global.Counter++
	return nil
}

// SetAgentState records a named intermediate value in an agent's local
// context.
func (c *Client) SetAgentState(sessionID uuid.UUID, agentID, key string, value any) error {
	s, err := c.session(sessionID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s.ensureLocal(agentID, "").SetState(key, value)
	return nil
}

// Status is the point-in-time report for one session.
type Status struct {
	SessionID        uuid.UUID        `json:"session_id"`
	Snapshot         *tokens.Snapshot `json:"snapshot"`
	Tier             monitor.Tier     `json:"tier"`
	Recommendation   string           `json:"recommendation"`
	TurnCount        int              `json:"turn_count"`
	ToolCalls        int              `json:"tool_calls"`
	AutoCompact      bool             `json:"auto_compact"`
	LastCheckpointID *uuid.UUID       `json:"last_checkpoint_id,omitempty"`
}

// Status reports current usage and tier for one agent's history.
func (c *Client) Status(sessionID uuid.UUID, agentID string) (*Status, error) {
	s, err := c.session(sessionID)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	lc := s.local(agentID)
	if lc == nil {
		return nil, NewSessionError("status", sessionID, ErrAgentNotFound)
	}

	snapshot := tokens.Breakdown(lc.Turns, c.preamble, c.toolDecls, "", c.cfg.UsableBudget())
	tier := c.monitor.Check(snapshot)

	return &Status{
		SessionID:        sessionID,
		Snapshot:         snapshot,
		Tier:             tier,
		Recommendation:   monitor.Recommendation(tier),
		TurnCount:        len(lc.Turns),
		ToolCalls:        s.toolCalls,
		AutoCompact:      s.autoCompact,
		LastCheckpointID: s.lastCheckpointID,
	}, nil
}

// Compact runs one compaction pass over an agent's history. The model
// call (if any) happens outside the session lock; a generation guard
// discards the result if the session was recovered meanwhile.
func (c *Client) Compact(ctx context.Context, sessionID uuid.UUID, agentID string, strategy compress.Strategy, targetRatio float64) (*compress.Result, error) {
	s, err := c.session(sessionID)
	if err != nil {
		return nil, err
	}
	if strategy == "" {
		strategy = c.cfg.DefaultStrategy
	}
	if targetRatio == 0 {
		targetRatio = c.cfg.DefaultTargetRatio
	}

	c.mu.Lock()
	lc := s.local(agentID)
	if lc == nil {
		c.mu.Unlock()
		return nil, NewSessionError("compact", sessionID, ErrAgentNotFound)
	}
	agentKey := lc.AgentID
	generation := s.generation
	epoch := s.compactEpochs[agentKey]
	capturedLen := len(lc.Turns)
	src := compress.Source{
		Turns: append([]*types.ConversationTurn(nil), lc.Turns...),
		State: lc.State,
	}
	c.mu.Unlock()

	result, err := c.compressor.Compress(ctx, src, targetRatio, strategy)
	if err != nil {
		return nil, NewSessionError("compact", sessionID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.sessions[sessionID]; !ok || current != s ||
		s.generation != generation || s.compactEpochs[agentKey] != epoch {
		// The session was recovered or a competing compaction finished
		// while this pass ran; applying the result would clobber the
		// newer state.
		c.logger.Warn("compaction result superseded, discarding",
			"session_id", sessionID, "agent_id", agentKey)
		return nil, NewSessionError("compact", sessionID, ErrSuperseded)
	}

	// Turns appended while compaction ran are carried over untouched.
	lc = s.local(agentID)
	if lc == nil || capturedLen > len(lc.Turns) {
		return nil, NewSessionError("compact", sessionID, ErrSuperseded)
	}
	appended := lc.Turns[capturedLen:]
	combined := *result
	combined.Turns = append(append([]*types.ConversationTurn(nil), result.Turns...), appended...)
	s.applyCompaction(agentID, &combined)
	s.compactEpochs[agentKey] = epoch + 1

	s.events = append(s.events, CompactionEvent{
		SessionID:       sessionID,
		AgentID:         lc.AgentID,
		Strategy:        result.Strategy,
		OriginalTokens:  result.OriginalTokens,
		CompactedTokens: result.CompactedTokens,
		DroppedCount:    result.DroppedCount,
		AchievedRatio:   result.AchievedRatio,
		Duration:        result.Duration,
		At:              time.Now(),
	})
	return result, nil
}

// CompactIfNeeded compacts only when the monitor says so. The second
// return reports whether compaction ran.
func (c *Client) CompactIfNeeded(ctx context.Context, sessionID uuid.UUID, agentID string) (*compress.Result, bool, error) {
	s, err := c.session(sessionID)
	if err != nil {
		return nil, false, err
	}

	c.mu.RLock()
	lc := s.local(agentID)
	if lc == nil {
		c.mu.RUnlock()
		return nil, false, NewSessionError("compact_if_needed", sessionID, ErrAgentNotFound)
	}
	snapshot := tokens.Breakdown(lc.Turns, c.preamble, c.toolDecls, "", c.cfg.UsableBudget())
	turnCount := len(lc.Turns)
	toolCalls := s.toolCalls
	c.mu.RUnlock()

	needed, reason := c.monitor.ShouldCompact(snapshot, turnCount, toolCalls)
	if !needed {
		return nil, false, nil
	}

	c.logger.Info("auto-compaction triggered",
		"session_id", sessionID, "tier", reason.Tier, "detail", reason.Detail)

	result, err := c.Compact(ctx, sessionID, agentID, c.cfg.DefaultStrategy, c.cfg.DefaultTargetRatio)
	if err != nil {
		return nil, false, err
	}
	return result, true, nil
}

// SetAutoCompact enables or disables auto-compaction for a session.
func (c *Client) SetAutoCompact(sessionID uuid.UUID, enabled bool) error {
	s, err := c.session(sessionID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s.autoCompact = enabled
	return nil
}

// Events returns the session's compaction audit trail, oldest first.
func (c *Client) Events(sessionID uuid.UUID) ([]CompactionEvent, error) {
	s, err := c.session(sessionID)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]CompactionEvent(nil), s.events...), nil
}

// Checkpoint persists the session's current state. Out-of-order
// rejections are discarded with a warning; they mean a concurrent
// writer already checkpointed newer state.
func (c *Client) Checkpoint(ctx context.Context, sessionID uuid.UUID, reason checkpoint.TriggerReason, milestone bool) (uuid.UUID, error) {
	s, err := c.session(sessionID)
	if err != nil {
		return uuid.Nil, err
	}

	c.mu.Lock()
	blob, rawSize, checksum, encErr := checkpoint.EncodeHistory(s.allTurns())
	if encErr != nil {
		c.mu.Unlock()
		return uuid.Nil, NewSessionError("checkpoint", sessionID, encErr)
	}
	cp := &checkpoint.Checkpoint{
		SessionID:   sessionID,
		Reason:      reason,
		Kind:        checkpoint.KindFull,
		TurnCounter: s.turnCounter,
		Milestone:   milestone,
		Workflow: checkpoint.StateView{
			Counter: s.global.Counter,
			Fields:  s.workflowView(),
		},
		Conversational: checkpoint.StateView{
			Counter: s.maxLocalCounter(),
			Fields:  s.conversationalView(),
		},
		HistoryBlob:     blob,
		HistoryRawSize:  rawSize,
		HistoryChecksum: checksum,
	}
	c.mu.Unlock()

	id, err := c.writer.Save(ctx, cp)
	if errors.Is(err, checkpoint.ErrOutOfOrderCheckpoint) {
		c.logger.Warn("stale checkpoint discarded",
			"session_id", sessionID, "turn_counter", cp.TurnCounter)
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, NewSessionError("checkpoint", sessionID, err)
	}

	c.mu.Lock()
	s.turnsSinceCheckpoint = 0
	s.lastCheckpointID = &id
	c.mu.Unlock()

	c.logger.Info("checkpoint saved",
		"session_id", sessionID, "checkpoint_id", id, "reason", reason)
	return id, nil
}

// RecoverOutcome is the result of a recovery attempt. When recovery
// fails, Fresh is true and Notice explains that the session restarted
// without prior context; the caller must surface the notice rather
// than pretend continuity.
type RecoverOutcome struct {
	Result *recovery.Result `json:"result,omitempty"`
	Fresh  bool             `json:"fresh"`
	Notice string           `json:"notice,omitempty"`
}

// Recover restores a session from a checkpoint (the latest when
// checkpointID is nil). An already registered session gets a
// pre-recovery checkpoint first so current progress survives a failed
// attempt. On failure the session is reset to a fresh state with an
// explicit notice.
func (c *Client) Recover(ctx context.Context, sessionID uuid.UUID, checkpointID *uuid.UUID) (*RecoverOutcome, error) {
	c.mu.RLock()
	_, registered := c.sessions[sessionID]
	c.mu.RUnlock()

	if registered {
		if _, err := c.Checkpoint(ctx, sessionID, checkpoint.ReasonPreRecovery, false); err != nil {
			c.logger.Warn("pre-recovery checkpoint failed", "session_id", sessionID, "error", err)
		}
	}

	result, err := c.recoverer.Recover(ctx, sessionID, checkpointID)
	if err != nil {
		c.logger.Error("recovery failed, starting fresh",
			"session_id", sessionID, "error", err)

		c.mu.Lock()
		fresh := newSession(sessionID)
		fresh.generation = c.generationAfter(sessionID)
		c.sessions[sessionID] = fresh
		c.mu.Unlock()

		return &RecoverOutcome{
			Fresh:  true,
			Notice: "recovery failed; the session restarted without prior context: " + err.Error(),
		}, nil
	}

	c.mu.Lock()
	s := newSession(sessionID)
	s.generation = c.generationAfter(sessionID)
	s.turnCounter = result.Checkpoint.TurnCounter
	s.global.Counter = result.Workflow.Counter
	for key := range result.Workflow.Fields {
		if key == "decisions" {
			s.global.Decisions = decisionList(result.Workflow.Fields[key])
			continue
		}
		// Fields shared with the conversational view take the
		// reconciled value, so counter-based resolution holds.
		s.global.Variables[key] = result.State[key]
	}
	if summary, ok := result.Conversational.Fields["summary"].(string); ok {
		s.global.Summary = summary
	}
	for _, turn := range result.Turns {
		lc := s.ensureLocal(turn.AgentID, "")
		lc.Turns = append(lc.Turns, turn)
	}
	if agents, ok := result.Conversational.Fields["agents"].(map[string]any); ok {
		for agentID, raw := range agents {
			state, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			lc := s.ensureLocal(agentID, "")
			for key, value := range state {
				lc.SetState(key, value)
			}
		}
	}
	for _, lc := range s.locals {
		lc.Counter = result.Conversational.Counter
	}
	id := result.Checkpoint.ID
	s.lastCheckpointID = &id
	c.sessions[sessionID] = s
	c.mu.Unlock()

	return &RecoverOutcome{Result: result}, nil
}

// generationAfter returns the next generation for a session being
// replaced. Caller holds the write lock.
func (c *Client) generationAfter(sessionID uuid.UUID) uint64 {
	if prev, ok := c.sessions[sessionID]; ok {
		return prev.generation + 1
	}
	return 1
}

// PrepareHandoff builds the bounded context package for transferring
// work from one agent to another specialization. A mode-switch
// checkpoint is taken first so the transition point is durable.
func (c *Client) PrepareHandoff(ctx context.Context, sessionID uuid.UUID, agentID, targetSpecialization, reason string) (*types.HandoffContext, error) {
	s, err := c.session(sessionID)
	if err != nil {
		return nil, err
	}

	if _, err := c.Checkpoint(ctx, sessionID, checkpoint.ReasonModeSwitch, false); err != nil {
		c.logger.Warn("mode-switch checkpoint failed before handoff",
			"session_id", sessionID, "error", err)
	}

	c.mu.RLock()
	lc := s.local(agentID)
	if lc == nil {
		c.mu.RUnlock()
		return nil, NewSessionError("handoff", sessionID, ErrAgentNotFound)
	}
	source := &types.LocalContext{
		SessionID:      lc.SessionID,
		AgentID:        lc.AgentID,
		Specialization: lc.Specialization,
		Turns:          append([]*types.ConversationTurn(nil), lc.Turns...),
		State:          lc.State,
		Counter:        lc.Counter,
	}
	c.mu.RUnlock()

	handoffCtx, err := c.handoffs.Prepare(ctx, source, targetSpecialization, reason)
	if err != nil {
		return nil, NewSessionError("handoff", sessionID, err)
	}
	return handoffCtx, nil
}

// BeginApprovalWait checkpoints the session before it blocks on human
// approval, which can last indefinitely.
func (c *Client) BeginApprovalWait(ctx context.Context, sessionID uuid.UUID) (uuid.UUID, error) {
	return c.Checkpoint(ctx, sessionID, checkpoint.ReasonApprovalWait, false)
}
