// Package monitor classifies a session's context-window usage into an
// urgency tier and decides whether compaction should run. The monitor
// never compacts anything itself; compaction is always invoked by a
// caller. That keeps it side-effect-free and testable in isolation.
package monitor

import (
	"fmt"

	"github.com/ctxwindow/ctxwindow/tokens"
)

// Tier is the urgency tier derived from the usage ratio.
type Tier string

const (
	// TierNormal is under the advisory threshold.
	TierNormal Tier = "normal"

	// TierAdvisory suggests the user should wrap up or compact soon.
	TierAdvisory Tier = "advisory"

	// TierAutoCompact is the band where auto-compaction should run.
	TierAutoCompact Tier = "auto_compact"

	// TierCritical is close to the hard ceiling.
	TierCritical Tier = "critical"
)

// Default tier thresholds as fractions of the context budget.
const (
	DefaultAdvisoryThreshold    = 0.50
	DefaultAutoCompactThreshold = 0.75
	DefaultCriticalThreshold    = 0.90
)

// Reason explains why compaction was recommended.
type Reason struct {
	// Tier is the usage tier at decision time.
	Tier Tier

	// Detail is a human-readable explanation.
	Detail string
}

// Advisory is the signal emitted for the UI layer when usage crosses
// into the advisory band or above.
type Advisory struct {
	Tier       Tier
	UsageRatio float64
	Detail     string
}

// AdvisoryFunc receives advisory signals. Implementations must not
// block; the monitor calls it synchronously.
type AdvisoryFunc func(Advisory)

// Monitor compares usage against the budget and classifies sessions.
type Monitor struct {
	advisoryThreshold    float64
	autoCompactThreshold float64
	criticalThreshold    float64

	// maxTurns and maxToolCalls are structural ceilings that trigger
	// compaction independent of the token ratio. They catch sessions
	// with many small turns that will thrash on the next compaction.
	maxTurns     int
	maxToolCalls int

	onAdvisory AdvisoryFunc
}

// Options configures a Monitor. Zero values take the defaults.
type Options struct {
	AdvisoryThreshold    float64
	AutoCompactThreshold float64
	CriticalThreshold    float64
	MaxTurns             int
	MaxToolCalls         int
	OnAdvisory           AdvisoryFunc
}

// DefaultMaxTurns and DefaultMaxToolCalls are the structural ceilings
// used when none are configured.
const (
	DefaultMaxTurns     = 200
	DefaultMaxToolCalls = 100
)

// New creates a Monitor from options.
func New(opts Options) *Monitor {
	m := &Monitor{
		advisoryThreshold:    opts.AdvisoryThreshold,
		autoCompactThreshold: opts.AutoCompactThreshold,
		criticalThreshold:    opts.CriticalThreshold,
		maxTurns:             opts.MaxTurns,
		maxToolCalls:         opts.MaxToolCalls,
		onAdvisory:           opts.OnAdvisory,
	}
	if m.advisoryThreshold == 0 {
		m.advisoryThreshold = DefaultAdvisoryThreshold
	}
	if m.autoCompactThreshold == 0 {
		m.autoCompactThreshold = DefaultAutoCompactThreshold
	}
	if m.criticalThreshold == 0 {
		m.criticalThreshold = DefaultCriticalThreshold
	}
	if m.maxTurns == 0 {
		m.maxTurns = DefaultMaxTurns
	}
	if m.maxToolCalls == 0 {
		m.maxToolCalls = DefaultMaxToolCalls
	}
	return m
}

// Check maps a usage snapshot to its tier. Pure.
func (m *Monitor) Check(snapshot *tokens.Snapshot) Tier {
	ratio := snapshot.Ratio()
	switch {
	case ratio >= m.criticalThreshold:
		return TierCritical
	case ratio >= m.autoCompactThreshold:
		return TierAutoCompact
	case ratio >= m.advisoryThreshold:
		return TierAdvisory
	default:
		return TierNormal
	}
}

// ShouldCompact decides whether compaction should run, based on the
// usage tier and on structural signals (turn count, tool-invocation
// count) independent of the token ratio. It emits an advisory signal
// when usage is at or above the advisory band.
func (m *Monitor) ShouldCompact(snapshot *tokens.Snapshot, turnCount, toolCallCount int) (bool, Reason) {
	tier := m.Check(snapshot)

	if m.onAdvisory != nil && tier != TierNormal {
		m.onAdvisory(Advisory{
			Tier:       tier,
			UsageRatio: snapshot.Ratio(),
			Detail:     fmt.Sprintf("context window at %.0f%% of budget", snapshot.Ratio()*100),
		})
	}

	switch tier {
	case TierCritical:
		return true, Reason{Tier: tier, Detail: fmt.Sprintf("usage %.0f%% is in the critical band", snapshot.Ratio()*100)}
	case TierAutoCompact:
		return true, Reason{Tier: tier, Detail: fmt.Sprintf("usage %.0f%% crossed the auto-compact threshold", snapshot.Ratio()*100)}
	}

	if turnCount > m.maxTurns {
		return true, Reason{Tier: tier, Detail: fmt.Sprintf("turn count %d exceeds ceiling %d", turnCount, m.maxTurns)}
	}
	if toolCallCount > m.maxToolCalls {
		return true, Reason{Tier: tier, Detail: fmt.Sprintf("tool invocation count %d exceeds ceiling %d", toolCallCount, m.maxToolCalls)}
	}

	return false, Reason{Tier: tier, Detail: "within budget"}
}

// Recommendation returns a short operator-facing suggestion for the
// given tier, surfaced by the status endpoint.
func Recommendation(tier Tier) string {
	switch tier {
	case TierCritical:
		return "compact immediately; the next turn may not fit"
	case TierAutoCompact:
		return "automatic compaction recommended"
	case TierAdvisory:
		return "consider compacting or checkpointing soon"
	default:
		return "no action needed"
	}
}
