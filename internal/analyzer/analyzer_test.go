package analyzer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outofcontext/contextgcd/internal/gc"
	"github.com/outofcontext/contextgcd/internal/segment"
)

func tokenSegment(t *testing.T, id string, typ segment.Type, tokens uint32) *segment.Segment {
	t.Helper()
	s, err := segment.New(id, "p", "text", typ)
	require.NoError(t, err)
	s.Tokens = &tokens
	s.TextHash = segment.HashText(s.Text)
	return s
}

func TestComputeUsage_EmptyProjectIsAllZero(t *testing.T) {
	m := ComputeUsage(nil, 1000)
	assert.Zero(t, m.TotalTokens)
	assert.Zero(t, m.TotalSegments)
	health, _ := HealthScore(m)
	assert.Equal(t, float64(100), health)
}

func TestComputeUsage_SumsTokensAndUsagePercent(t *testing.T) {
	segs := []*segment.Segment{
		tokenSegment(t, "s1", segment.TypeMessage, 200),
		tokenSegment(t, "s2", segment.TypeCode, 300),
		tokenSegment(t, "s3", segment.TypeLog, 250),
		tokenSegment(t, "s4", segment.TypeNote, 250),
	}

	m := ComputeUsage(segs, 1000)
	assert.Equal(t, int64(1000), m.TotalTokens)
	assert.Equal(t, 100.0, m.UsagePercent)
	assert.Equal(t, int64(0), m.EstimatedRemainingTokens)
}

func TestAnalyze_UrgentWarningAtFullUsage(t *testing.T) {
	segs := []*segment.Segment{
		tokenSegment(t, "s1", segment.TypeMessage, 200),
		tokenSegment(t, "s2", segment.TypeCode, 300),
		tokenSegment(t, "s3", segment.TypeLog, 250),
		tokenSegment(t, "s4", segment.TypeNote, 250),
	}
	m := ComputeUsage(segs, 1000)

	result := Analyze(m, Thresholds{WarningPct: 60, HighPct: 80, UrgentPct: 90}, nil)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "URGENT")
}

func TestAnalyze_AllPinnedOverThresholdStatesPinSituation(t *testing.T) {
	s := tokenSegment(t, "s1", segment.TypeNote, 950)
	s.Pinned = true
	m := ComputeUsage([]*segment.Segment{s}, 1000)

	result := Analyze(m, Thresholds{WarningPct: 60, HighPct: 80, UrgentPct: 90}, nil)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "pinned")
}

func TestAnalyze_SuggestedActionFromPlan(t *testing.T) {
	s := tokenSegment(t, "s1", segment.TypeLog, 950)
	m := ComputeUsage([]*segment.Segment{s}, 1000)

	plan := &gc.Plan{
		Candidates:       []gc.Candidate{{SegmentID: "s1", Tokens: 950}},
		StashIDs:         []string{"s1"},
		TotalTokensFreed: 950,
	}
	result := Analyze(m, Thresholds{WarningPct: 60, HighPct: 80, UrgentPct: 90}, plan)
	require.NotEmpty(t, result.SuggestedActions)
	assert.Equal(t, "stash", result.SuggestedActions[0].Action)
	assert.NotEmpty(t, result.ImpactSummary)
}

func TestHealthScore_PenalizesOldSegments(t *testing.T) {
	old := tokenSegment(t, "old", segment.TypeNote, 10)
	old.CreatedAt = time.Now().Add(-30 * 24 * time.Hour)
	fresh := tokenSegment(t, "fresh", segment.TypeNote, 10)

	mOld := ComputeUsage([]*segment.Segment{old}, 1000)
	mFresh := ComputeUsage([]*segment.Segment{fresh}, 1000)

	hOld, _ := HealthScore(mOld)
	hFresh, _ := HealthScore(mFresh)
	assert.Less(t, hOld, hFresh)
}
