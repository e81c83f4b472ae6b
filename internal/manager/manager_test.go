package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outofcontext/contextgcd/internal/config"
	"github.com/outofcontext/contextgcd/internal/index"
	"github.com/outofcontext/contextgcd/internal/segment"
	"github.com/outofcontext/contextgcd/internal/store"
	"github.com/outofcontext/contextgcd/internal/tokenizer"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Storage.Path = t.TempDir()
	cfg.Storage.MaxActiveSegments = 10_000

	tok, err := tokenizer.New("cl100k_base")
	require.NoError(t, err)

	inverted := index.NewInvertedIndex()
	metadata := index.NewMetadataIndex()
	st, err := store.New(store.Config{RootDir: cfg.Storage.Path, MaxActive: cfg.Storage.MaxActiveSegments}, inverted, metadata, nil)
	require.NoError(t, err)

	return New(cfg, tok, st, inverted, metadata, nil)
}

func TestAnalyze_IngestsAndComputesUsage(t *testing.T) {
	m := newTestManager(t)

	result, err := m.Analyze(AnalyzeRequest{
		ProjectID:  "proj",
		TokenLimit: 1000,
		Descriptors: []SegmentDescriptor{
			{Text: "short note about the database setup", Type: segment.TypeNote},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Usage.TotalSegments)
	assert.Greater(t, result.Usage.TotalTokens, int64(0))
}

func TestPinUnpin_PinnedSegmentCannotBePruned(t *testing.T) {
	m := newTestManager(t)

	segs, err := m.ingest("proj", []SegmentDescriptor{
		{SegmentID: "pinme", Text: "a log line", Type: segment.TypeLog},
	})
	require.NoError(t, err)
	require.Len(t, segs, 1)

	res, err := m.PinUnpin("proj", []string{"pinme"}, true)
	require.NoError(t, err)
	assert.Contains(t, res.OK, "pinme")

	gcRes, err := m.GCAnalyze(GCAnalyzeRequest{ProjectID: "proj", TargetTokens: 1000})
	require.NoError(t, err)
	for _, c := range gcRes.Plan.Candidates {
		assert.NotEqual(t, "pinme", c.SegmentID)
	}
}

func TestStashAndRetrieve_RoundTrip(t *testing.T) {
	m := newTestManager(t)

	_, err := m.ingest("proj", []SegmentDescriptor{
		{SegmentID: "s1", Text: "database setup guide", Type: segment.TypeNote},
	})
	require.NoError(t, err)

	stashRes, err := m.Stash("proj", []string{"s1"})
	require.NoError(t, err)
	assert.Contains(t, stashRes.StashedIDs, "s1")

	found, err := m.SearchStashed(SearchRequest{ProjectID: "proj", Query: "guide"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "s1", found[0].SegmentID)

	retrieved, err := m.RetrieveStashed("proj", []string{"s1"}, true)
	require.NoError(t, err)
	require.Len(t, retrieved, 1)
	assert.Equal(t, segment.TierWorking, retrieved[0].Tier)
}

func TestSetCurrentTask_ReturnsPrevious(t *testing.T) {
	m := newTestManager(t)

	prev, cur := m.SetCurrentTask("proj", "task-1")
	assert.Equal(t, "", prev)
	assert.Equal(t, "task-1", cur)

	prev, cur = m.SetCurrentTask("proj", "task-2")
	assert.Equal(t, "task-1", prev)
	assert.Equal(t, "task-2", cur)
}

func TestCreateTaskSnapshot_FreezesSegmentIDsByReference(t *testing.T) {
	m := newTestManager(t)

	_, err := m.ingest("proj", []SegmentDescriptor{
		{SegmentID: "s1", TaskID: "task-42", Text: "decision text", Type: segment.TypeDecision},
		{SegmentID: "s2", TaskID: "task-42", Text: "more context", Type: segment.TypeNote},
		{SegmentID: "s3", TaskID: "other-task", Text: "unrelated", Type: segment.TypeNote},
	})
	require.NoError(t, err)

	snap, stats, err := m.CreateTaskSnapshot("proj", "task-42", "milestone-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.SegmentCount)
	assert.ElementsMatch(t, []string{"s1", "s2"}, snap.SegmentIDs)
}

func TestGetWorkingSet_IncludesTaskAndPinnedSegments(t *testing.T) {
	m := newTestManager(t)

	_, err := m.ingest("proj", []SegmentDescriptor{
		{SegmentID: "s1", TaskID: "task-1", Text: "task segment", Type: segment.TypeMessage},
		{SegmentID: "s2", Text: "pinned segment", Type: segment.TypeNote, Pinned: true},
		{SegmentID: "s3", TaskID: "other", Text: "unrelated", Type: segment.TypeMessage},
	})
	require.NoError(t, err)

	ws, err := m.GetWorkingSet("proj", "task-1")
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, s := range ws.Segments {
		ids[s.SegmentID] = true
	}
	assert.True(t, ids["s1"])
	assert.True(t, ids["s2"])
	assert.False(t, ids["s3"])
}
