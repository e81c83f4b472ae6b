package store

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outofcontext/contextgcd/internal/index"
	"github.com/outofcontext/contextgcd/internal/segment"
)

func newTestStore(t *testing.T, rootDir string, maxActive int) *Store {
	t.Helper()
	inverted := index.NewInvertedIndex()
	metadata := index.NewMetadataIndex()
	st, err := New(Config{RootDir: rootDir, MaxActive: maxActive}, inverted, metadata, nil)
	require.NoError(t, err)
	return st
}

func mustSegment(t *testing.T, id, projectID, text string) *segment.Segment {
	t.Helper()
	seg, err := segment.New(id, projectID, text, segment.TypeNote)
	require.NoError(t, err)
	return seg
}

// Given a batch stash([a, b, c]) where b is pinned, Then no id is moved,
// all three appear in the per-id errors, and a/b/c retain their original
// tier — spec.md §8 scenario #4's atomic-stash rule.
func TestStash_RejectsWholeBatchWhenOneIDIsPinned(t *testing.T) {
	st := newTestStore(t, t.TempDir(), 10)
	const project = "proj"

	a := mustSegment(t, "a", project, "segment a")
	b := mustSegment(t, "b", project, "segment b")
	b.Pinned = true
	c := mustSegment(t, "c", project, "segment c")

	require.NoError(t, st.Store(project, a))
	require.NoError(t, st.Store(project, b))
	require.NoError(t, st.Store(project, c))

	result, err := st.Stash(project, []string{"a", "b", "c"})
	require.NoError(t, err)

	assert.Empty(t, result.StashedIDs)
	assert.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors, "a")
	assert.Contains(t, result.Errors, "b")
	assert.Contains(t, result.Errors, "c")

	for _, id := range []string{"a", "b", "c"} {
		seg, err := st.GetAny(project, id)
		require.NoError(t, err)
		assert.Equal(t, segment.TierWorking, seg.Tier)
	}
}

// A batch with no invalid ids stashes everything and reports no errors.
func TestStash_AllValidMovesEveryID(t *testing.T) {
	st := newTestStore(t, t.TempDir(), 10)
	const project = "proj"

	a := mustSegment(t, "a", project, "segment a")
	c := mustSegment(t, "c", project, "segment c")
	require.NoError(t, st.Store(project, a))
	require.NoError(t, st.Store(project, c))

	result, err := st.Stash(project, []string{"a", "c"})
	require.NoError(t, err)

	assert.Empty(t, result.Errors)
	assert.ElementsMatch(t, []string{"a", "c"}, result.StashedIDs)

	for _, id := range []string{"a", "c"} {
		seg, err := st.GetAny(project, id)
		require.NoError(t, err)
		assert.Equal(t, segment.TierStashed, seg.Tier)
	}
}

// Given MaxActive=2, storing a third segment evicts the oldest to an
// on-disk mirror; Get on the evicted segment reloads it from that mirror,
// re-admits it to the active tier, and removes the mirror file — and may
// itself evict whichever segment is now least-recently-used.
func TestGet_ReloadsFromEvictedMirror(t *testing.T) {
	rootDir := t.TempDir()
	st := newTestStore(t, rootDir, 2)
	const project = "proj"

	s1 := mustSegment(t, "s1", project, "segment one")
	s2 := mustSegment(t, "s2", project, "segment two")
	s3 := mustSegment(t, "s3", project, "segment three")

	require.NoError(t, st.Store(project, s1))
	require.NoError(t, st.Store(project, s2))
	require.NoError(t, st.Store(project, s3)) // evicts s1 (least recently used)

	mirrorPath := evictedPath(rootDir, project, "s1")
	_, statErr := os.Stat(mirrorPath)
	require.NoError(t, statErr, "s1 should have an on-disk eviction mirror")

	reloaded, err := st.Get(project, "s1")
	require.NoError(t, err)
	assert.Equal(t, "segment one", reloaded.Text)

	_, statErr = os.Stat(mirrorPath)
	assert.True(t, os.IsNotExist(statErr), "mirror file should be removed once reloaded into active tier")

	active, err := st.ActiveSegments(project)
	require.NoError(t, err)
	assert.Len(t, active, 2, "active tier stays bounded at MaxActive after reloading")

	ids := make(map[string]bool, len(active))
	for _, seg := range active {
		ids[seg.SegmentID] = true
	}
	assert.True(t, ids["s1"], "s1 should be back in the active tier")
}

// A fresh Store pointed at a root dir containing a stray stashed shard
// *.tmp file (simulating a crash mid-write) discards the stray file on
// construction and still loads the committed shard correctly.
func TestNew_RecoversFromStrayTempFileOnRestart(t *testing.T) {
	rootDir := t.TempDir()
	const project = "proj"

	st := newTestStore(t, rootDir, 10)
	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("seg%d", i)
		seg := mustSegment(t, id, project, "stashed text "+id)
		ids = append(ids, id)
		require.NoError(t, st.Store(project, seg))
	}
	result, err := st.Stash(project, ids)
	require.NoError(t, err)
	require.Empty(t, result.Errors)

	tmpPath := shardPath(rootDir, project) + ".tmp"
	require.NoError(t, os.MkdirAll(filepath.Dir(tmpPath), 0o755))
	require.NoError(t, os.WriteFile(tmpPath, []byte("{not valid json"), 0o644))

	restarted := newTestStore(t, rootDir, 10)

	_, statErr := os.Stat(tmpPath)
	assert.True(t, os.IsNotExist(statErr), "stray .tmp file should be swept on construction")

	for _, id := range ids {
		seg, err := restarted.GetAny(project, id)
		require.NoError(t, err)
		assert.Equal(t, segment.TierStashed, seg.Tier)
	}
}

// Storing a segment that References another segment links the referenced
// segment's Backrefs/RefCount; deleting the referencing segment unlinks it
// again, keeping refcount(s) == |backrefs(s)| (spec.md §3.2/§8.3).
func TestStore_MaintainsBackrefsAndRefCount(t *testing.T) {
	st := newTestStore(t, t.TempDir(), 10)
	const project = "proj"

	target := mustSegment(t, "target", project, "referenced segment")
	require.NoError(t, st.Store(project, target))

	referencing := mustSegment(t, "referencing", project, "segment with a reference")
	referencing.References = []string{"target"}
	require.NoError(t, st.Store(project, referencing))

	got, err := st.GetAny(project, "target")
	require.NoError(t, err)
	assert.Equal(t, 1, got.RefCount)
	assert.Equal(t, []string{"referencing"}, got.Backrefs)

	_, err = st.Delete(project, []string{"referencing"}, false)
	require.NoError(t, err)

	got, err = st.GetAny(project, "target")
	require.NoError(t, err)
	assert.Equal(t, 0, got.RefCount)
	assert.Empty(t, got.Backrefs)
}

// Deleting a pinned segment without force is refused; force=true deletes it.
func TestDelete_RefusesPinnedWithoutForce(t *testing.T) {
	st := newTestStore(t, t.TempDir(), 10)
	const project = "proj"

	seg := mustSegment(t, "pinned", project, "pinned segment")
	seg.Pinned = true
	require.NoError(t, st.Store(project, seg))

	result, err := st.Delete(project, []string{"pinned"}, false)
	require.NoError(t, err)
	assert.Contains(t, result.Errors, "pinned")

	_, err = st.GetAny(project, "pinned")
	assert.NoError(t, err, "segment should still exist")

	result, err = st.Delete(project, []string{"pinned"}, true)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)

	_, err = st.GetAny(project, "pinned")
	assert.Error(t, err)
}
