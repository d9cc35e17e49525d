package tokens

import (
	"strings"
	"testing"
	"time"

	"github.com/ctxwindow/ctxwindow/types"
)

func TestEstimate(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected int
	}{
		{
			name:     "empty string",
			text:     "",
			expected: 0,
		},
		{
			name:     "short latin",
			text:     "hi",
			expected: 1, // (2 + 3) / 4 = 1
		},
		{
			name:     "4 latin chars",
			text:     "test",
			expected: 1,
		},
		{
			name:     "8 latin chars",
			text:     "12345678",
			expected: 2,
		},
		{
			name:     "longer latin text",
			text:     "This is a longer piece of text for testing token estimation.",
			expected: 16, // (61 + 3) / 4 = 16
		},
		{
			name:     "ideographic text",
			text:     "你好世界",
			expected: 2, // 4 dense chars / 2 = 2
		},
		{
			name:     "mixed script",
			text:     "hello你好",
			expected: 3, // (5+3)/4 + 4/2... = 2 + 1
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Estimate(tt.text)
			if got != tt.expected {
				t.Errorf("Estimate(%q) = %d, want %d", tt.text, got, tt.expected)
			}
		})
	}
}

func TestEstimateDensityClasses(t *testing.T) {
	// The same character count in a dense script must estimate to more
	// tokens than in latin: a single fixed divisor is not acceptable.
	latin := strings.Repeat("a", 40)
	dense := strings.Repeat("語", 40)

	latinTokens := Estimate(latin)
	denseTokens := Estimate(dense)

	if denseTokens <= latinTokens {
		t.Errorf("dense script estimate %d should exceed latin estimate %d for equal length", denseTokens, latinTokens)
	}
}

func TestEstimateMonotonic(t *testing.T) {
	// Estimate is non-decreasing in text length for a fixed density
	// class composition.
	prev := 0
	for i := 1; i <= 200; i++ {
		got := Estimate(strings.Repeat("x", i))
		if got < prev {
			t.Fatalf("Estimate not monotonic at length %d: %d < %d", i, got, prev)
		}
		prev = got
	}

	prev = 0
	for i := 1; i <= 200; i++ {
		got := Estimate(strings.Repeat("字", i))
		if got < prev {
			t.Fatalf("dense Estimate not monotonic at length %d: %d < %d", i, got, prev)
		}
		prev = got
	}
}

func TestEstimateNonZero(t *testing.T) {
	for _, text := range []string{"a", " ", ".", "字"} {
		if got := Estimate(text); got < 1 {
			t.Errorf("Estimate(%q) = %d, expected at least 1", text, got)
		}
	}
}

func TestEstimateTurn(t *testing.T) {
	turn := &types.ConversationTurn{
		Role:      types.RoleHuman,
		Content:   "Please check the deployment status",
		CreatedAt: time.Now(),
	}

	got := EstimateTurn(turn)
	want := perTurnOverhead + Estimate(turn.Content)
	if got != want {
		t.Errorf("EstimateTurn() = %d, want %d", got, want)
	}

	withTool := &types.ConversationTurn{
		Role:    types.RoleToolResult,
		Content: "done",
		Tool: &types.ToolInvocation{
			Name:   "deploy_status",
			Output: "all pods healthy",
		},
	}
	if EstimateTurn(withTool) <= EstimateTurn(&types.ConversationTurn{Content: "done"}) {
		t.Error("tool payload should add to the turn estimate")
	}
}

func TestBreakdown(t *testing.T) {
	turns := []*types.ConversationTurn{
		{Role: types.RoleHuman, Content: "first question about the budget"},
		{Role: types.RoleAgent, Content: "an answer with some detail in it"},
	}

	snapshot := Breakdown(turns, "You are a helpful assistant.", "tool: search", "pending text", 10000)

	if snapshot.Ceiling != 10000 {
		t.Errorf("Ceiling = %d, want 10000", snapshot.Ceiling)
	}
	if snapshot.Segments[SegmentHistory] != EstimateTurns(turns) {
		t.Errorf("history segment = %d, want %d", snapshot.Segments[SegmentHistory], EstimateTurns(turns))
	}

	sum := 0
	for _, count := range snapshot.Segments {
		sum += count
	}
	if snapshot.Total != sum {
		t.Errorf("Total = %d, want sum of segments %d", snapshot.Total, sum)
	}
}

func TestSnapshotRatio(t *testing.T) {
	tests := []struct {
		name    string
		total   int
		ceiling int
		want    float64
	}{
		{"half used", 5000, 10000, 0.5},
		{"over budget", 12000, 10000, 1.2},
		{"zero ceiling", 100, 0, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Snapshot{Total: tt.total, Ceiling: tt.ceiling}
			if got := s.Ratio(); got != tt.want {
				t.Errorf("Ratio() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestSnapshotRemaining(t *testing.T) {
	s := &Snapshot{Total: 9000, Ceiling: 10000}
	if got := s.Remaining(); got != 1000 {
		t.Errorf("Remaining() = %d, want 1000", got)
	}

	over := &Snapshot{Total: 11000, Ceiling: 10000}
	if got := over.Remaining(); got != 0 {
		t.Errorf("Remaining() over budget = %d, want 0", got)
	}
}

func TestExactCounterNilClientFallsBack(t *testing.T) {
	counter := NewExactCounter(nil)
	text := "some text to count"
	if got := counter.Count(t.Context(), text, "claude-3-5-haiku-20241022"); got != Estimate(text) {
		t.Errorf("Count with nil client = %d, want local estimate %d", got, Estimate(text))
	}
}
