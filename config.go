package ctxwindow

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/ctxwindow/ctxwindow/compress"
	"github.com/ctxwindow/ctxwindow/monitor"
)

// ModelInfo contains model-specific window parameters.
type ModelInfo struct {
	MaxContextTokens int
	DefaultMaxTokens int
}

// KnownModels maps model IDs to their capabilities.
var KnownModels = map[string]ModelInfo{
	"claude-sonnet-4-5-20250929": {MaxContextTokens: 200000, DefaultMaxTokens: 16384},
	"claude-opus-4-5-20251101":   {MaxContextTokens: 200000, DefaultMaxTokens: 16384},
	"claude-3-5-sonnet-20241022": {MaxContextTokens: 200000, DefaultMaxTokens: 8192},
	"claude-3-5-haiku-20241022":  {MaxContextTokens: 200000, DefaultMaxTokens: 8192},
}

// GetModelInfo returns model info, using sensible defaults for unknown
// models.
func GetModelInfo(model string) ModelInfo {
	if info, ok := KnownModels[model]; ok {
		return info
	}
	return ModelInfo{MaxContextTokens: 200000, DefaultMaxTokens: 8192}
}

// Config holds the context-window management configuration. Zero
// values take defaults via ApplyDefaults.
type Config struct {
	// MaxContextTokens is the model's context window budget.
	MaxContextTokens int `toml:"max_context_tokens"`

	// ReservedOutputTokens is held back from the budget for the model's
	// response.
	ReservedOutputTokens int `toml:"reserved_output_tokens"`

	// Tier thresholds as fractions of the usable budget. Must be
	// strictly increasing.
	AdvisoryThreshold    float64 `toml:"advisory_threshold"`
	AutoCompactThreshold float64 `toml:"auto_compact_threshold"`
	CriticalThreshold    float64 `toml:"critical_threshold"`

	// DefaultStrategy is the compaction strategy used when none is
	// requested explicitly.
	DefaultStrategy compress.Strategy `toml:"default_strategy"`

	// DefaultTargetRatio is the compaction target when none is given.
	DefaultTargetRatio float64 `toml:"default_target_ratio"`

	// RecencyFloor is the number of most recent turns compaction always
	// keeps (except simple truncation).
	RecencyFloor int `toml:"recency_floor"`

	// AutoCheckpointInterval is the number of turns between periodic
	// checkpoints. Zero disables periodic checkpointing.
	AutoCheckpointInterval int `toml:"auto_checkpoint_interval"`

	// MaxCheckpoints and CheckpointTTL define the retention policy.
	MaxCheckpoints int           `toml:"max_checkpoints"`
	CheckpointTTL  time.Duration `toml:"checkpoint_ttl"`

	// RetentionSchedule is the cron expression driving retention sweeps.
	RetentionSchedule string `toml:"retention_schedule"`

	// HandoffTargetRatio is the compression applied when preparing a
	// handoff.
	HandoffTargetRatio float64 `toml:"handoff_target_ratio"`

	// Structural ceilings that trigger compaction independent of the
	// token ratio.
	MaxTurnCount       int `toml:"max_turn_count"`
	MaxToolInvocations int `toml:"max_tool_invocations"`

	// MaxGlobalEntries caps the shared variables plus recorded
	// decisions a session's Global context holds. Writes past the cap
	// are rejected with ErrContextLimitExceeded.
	MaxGlobalEntries int `toml:"max_global_entries"`

	// MaxLocalTurns caps how many turns one agent's Local context
	// retains. Appends past the cap evict the oldest turns.
	MaxLocalTurns int `toml:"max_local_turns"`

	// SummarizerModel is the model used for summary generation.
	SummarizerModel string `toml:"summarizer_model"`

	// SummarizerMaxTokens bounds a generated summary.
	SummarizerMaxTokens int `toml:"summarizer_max_tokens"`

	// GenerateTimeout bounds one summary-generation call.
	GenerateTimeout time.Duration `toml:"generate_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	cfg := Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.MaxContextTokens == 0 {
		c.MaxContextTokens = 200000
	}
	if c.ReservedOutputTokens == 0 {
		c.ReservedOutputTokens = 8192
	}
	if c.AdvisoryThreshold == 0 {
		c.AdvisoryThreshold = monitor.DefaultAdvisoryThreshold
	}
	if c.AutoCompactThreshold == 0 {
		c.AutoCompactThreshold = monitor.DefaultAutoCompactThreshold
	}
	if c.CriticalThreshold == 0 {
		c.CriticalThreshold = monitor.DefaultCriticalThreshold
	}
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = compress.StrategyHybrid
	}
	if c.DefaultTargetRatio == 0 {
		c.DefaultTargetRatio = 0.4
	}
	if c.RecencyFloor == 0 {
		c.RecencyFloor = compress.DefaultRecencyFloor
	}
	if c.AutoCheckpointInterval == 0 {
		c.AutoCheckpointInterval = 10
	}
	if c.MaxCheckpoints == 0 {
		c.MaxCheckpoints = 10
	}
	if c.CheckpointTTL == 0 {
		c.CheckpointTTL = 7 * 24 * time.Hour
	}
	if c.RetentionSchedule == "" {
		c.RetentionSchedule = "@hourly"
	}
	if c.HandoffTargetRatio == 0 {
		c.HandoffTargetRatio = 0.30
	}
	if c.MaxTurnCount == 0 {
		c.MaxTurnCount = monitor.DefaultMaxTurns
	}
	if c.MaxToolInvocations == 0 {
		c.MaxToolInvocations = monitor.DefaultMaxToolCalls
	}
	if c.MaxGlobalEntries == 0 {
		c.MaxGlobalEntries = 512
	}
	if c.MaxLocalTurns == 0 {
		c.MaxLocalTurns = 1000
	}
	if c.SummarizerModel == "" {
		c.SummarizerModel = "claude-3-5-haiku-20241022"
	}
	if c.SummarizerMaxTokens == 0 {
		c.SummarizerMaxTokens = 1024
	}
	if c.GenerateTimeout == 0 {
		c.GenerateTimeout = compress.DefaultGenerateTimeout
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.MaxContextTokens <= 0 {
		return fmt.Errorf("%w: MaxContextTokens must be positive", ErrInvalidConfig)
	}
	if c.ReservedOutputTokens < 0 || c.ReservedOutputTokens >= c.MaxContextTokens {
		return fmt.Errorf("%w: ReservedOutputTokens must be in [0, MaxContextTokens)", ErrInvalidConfig)
	}
	if c.AdvisoryThreshold <= 0 || c.CriticalThreshold > 1 {
		return fmt.Errorf("%w: tier thresholds must lie in (0, 1]", ErrInvalidConfig)
	}
	if !(c.AdvisoryThreshold < c.AutoCompactThreshold && c.AutoCompactThreshold < c.CriticalThreshold) {
		return fmt.Errorf("%w: tier thresholds must be strictly increasing", ErrInvalidConfig)
	}
	if !c.DefaultStrategy.Valid() {
		return fmt.Errorf("%w: unknown default strategy %q", ErrInvalidConfig, c.DefaultStrategy)
	}
	if c.DefaultTargetRatio <= 0 || c.DefaultTargetRatio > 1 {
		return fmt.Errorf("%w: DefaultTargetRatio must be in (0, 1]", ErrInvalidConfig)
	}
	if c.HandoffTargetRatio <= 0 || c.HandoffTargetRatio > 1 {
		return fmt.Errorf("%w: HandoffTargetRatio must be in (0, 1]", ErrInvalidConfig)
	}
	if c.RecencyFloor < 0 {
		return fmt.Errorf("%w: RecencyFloor must not be negative", ErrInvalidConfig)
	}
	if c.MaxCheckpoints <= 0 {
		return fmt.Errorf("%w: MaxCheckpoints must be positive", ErrInvalidConfig)
	}
	if c.MaxGlobalEntries <= 0 {
		return fmt.Errorf("%w: MaxGlobalEntries must be positive", ErrInvalidConfig)
	}
	if c.MaxLocalTurns <= 0 {
		return fmt.Errorf("%w: MaxLocalTurns must be positive", ErrInvalidConfig)
	}
	return nil
}

// UsableBudget is the context budget after reserving output tokens.
func (c *Config) UsableBudget() int {
	return c.MaxContextTokens - c.ReservedOutputTokens
}

// LoadConfig reads a TOML configuration file, applies environment
// overrides, fills defaults, and validates the result.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployments override file settings without
// editing the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CTXWINDOW_MAX_CONTEXT_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxContextTokens = n
		}
	}
	if v := os.Getenv("CTXWINDOW_DEFAULT_STRATEGY"); v != "" {
		cfg.DefaultStrategy = compress.Strategy(v)
	}
	if v := os.Getenv("CTXWINDOW_AUTO_CHECKPOINT_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AutoCheckpointInterval = n
		}
	}
	if v := os.Getenv("CTXWINDOW_SUMMARIZER_MODEL"); v != "" {
		cfg.SummarizerModel = v
	}
	if v := os.Getenv("CTXWINDOW_RETENTION_SCHEDULE"); v != "" {
		cfg.RetentionSchedule = v
	}
}
