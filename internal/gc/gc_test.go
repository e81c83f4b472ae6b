package gc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outofcontext/contextgcd/internal/segment"
)

func mustSegment(t *testing.T, id, projectID string, typ segment.Type) *segment.Segment {
	t.Helper()
	s, err := segment.New(id, projectID, "text for "+id, typ)
	require.NoError(t, err)
	return s
}

func TestRootSet_IncludesTaskFileRecentPinnedAndDecisions(t *testing.T) {
	s1 := mustSegment(t, "s1", "p", segment.TypeMessage)
	s1.TaskID = "t1"
	s2 := mustSegment(t, "s2", "p", segment.TypeCode)
	s2.FilePath = "main.go"
	s3 := mustSegment(t, "s3", "p", segment.TypeNote)
	s3.Pinned = true
	s4 := mustSegment(t, "s4", "p", segment.TypeDecision)
	s4.CreatedAt = time.Now()

	roots := RootSet([]*segment.Segment{s1, s2, s3, s4}, Roots{TaskID: "t1", ActiveFile: "main.go"})

	assert.True(t, roots["s1"])
	assert.True(t, roots["s2"])
	assert.True(t, roots["s3"])
	assert.True(t, roots["s4"])
}

func TestRootSet_RecentMessagesBoundedByN(t *testing.T) {
	var segs []*segment.Segment
	now := time.Now()
	for i := 0; i < 15; i++ {
		s := mustSegment(t, string(rune('a'+i)), "p", segment.TypeMessage)
		s.CreatedAt = now.Add(time.Duration(i) * time.Minute)
		segs = append(segs, s)
	}

	roots := RootSet(segs, Roots{RecentMessagesN: 3})
	assert.Len(t, roots, 3)
	// The three most recently created (highest index) should be the roots.
	assert.True(t, roots["n"]) // index 13
	assert.True(t, roots["o"]) // index 14
}

func TestMark_IsSupersetOfRootsAndTerminatesOnCycle(t *testing.T) {
	a := mustSegment(t, "a", "p", segment.TypeCode)
	b := mustSegment(t, "b", "p", segment.TypeCode)
	c := mustSegment(t, "c", "p", segment.TypeCode)
	a.References = []string{"b"}
	b.References = []string{"c"}
	c.References = []string{"a"} // cycle back to a

	byID := map[string]*segment.Segment{"a": a, "b": b, "c": c}
	roots := map[string]bool{"a": true}

	marked := Mark(roots, byID)

	assert.True(t, marked["a"])
	assert.True(t, marked["b"])
	assert.True(t, marked["c"])
}

func TestMark_IsIdempotent(t *testing.T) {
	a := mustSegment(t, "a", "p", segment.TypeCode)
	byID := map[string]*segment.Segment{"a": a}
	roots := map[string]bool{"a": true}

	m1 := Mark(roots, byID)
	m2 := Mark(roots, byID)
	assert.Equal(t, m1, m2)
}

func TestScore_LogHigherThanDecision(t *testing.T) {
	logSeg := mustSegment(t, "l", "p", segment.TypeLog)
	logSeg.LastTouchedAt = time.Now().Add(-48 * time.Hour)
	decisionSeg := mustSegment(t, "d", "p", segment.TypeDecision)
	decisionSeg.LastTouchedAt = time.Now()

	assert.Greater(t, Score(logSeg), Score(decisionSeg))
}

func TestBuildPlan_PrefersUnreachableAndRespectsPinned(t *testing.T) {
	reachable := mustSegment(t, "r1", "p", segment.TypeLog)
	reachable.LastTouchedAt = time.Now().Add(-48 * time.Hour)
	tok := uint32(100)
	reachable.Tokens = &tok

	unreachable := mustSegment(t, "u1", "p", segment.TypeLog)
	unreachable.LastTouchedAt = time.Now().Add(-48 * time.Hour)
	unreachable.Tokens = &tok

	pinned := mustSegment(t, "pin1", "p", segment.TypeLog)
	pinned.Pinned = true
	pinned.Tokens = &tok

	segs := []*segment.Segment{reachable, unreachable, pinned}
	marked := map[string]bool{"r1": true} // unreachable not marked

	plan := BuildPlan(segs, marked, 100, false)

	require.Len(t, plan.Candidates, 1)
	assert.Equal(t, "u1", plan.Candidates[0].SegmentID)
	assert.Equal(t, "unreachable", plan.Candidates[0].Reason)
	assert.NotContains(t, plan.StashIDs, "pin1")
	assert.False(t, plan.CapacityExceeded)
}

func TestBuildPlan_CapacityExceededWhenTargetExceedsAvailable(t *testing.T) {
	s := mustSegment(t, "s1", "p", segment.TypeLog)
	tok := uint32(10)
	s.Tokens = &tok

	plan := BuildPlan([]*segment.Segment{s}, map[string]bool{}, 1000, false)
	assert.True(t, plan.CapacityExceeded)
	assert.Equal(t, uint32(10), plan.TotalTokensFreed)
}

func TestBuildPlan_DeletePolicyPopulatesDeleteIDs(t *testing.T) {
	s := mustSegment(t, "s1", "p", segment.TypeLog)
	tok := uint32(10)
	s.Tokens = &tok

	plan := BuildPlan([]*segment.Segment{s}, map[string]bool{}, 5, true)
	assert.Equal(t, []string{"s1"}, plan.DeleteIDs)
	assert.Empty(t, plan.StashIDs)
}
