package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outofcontext/contextgcd/internal/segment"
)

func seg(t *testing.T, id, projectID string, typ segment.Type, filePath, taskID string, tags ...string) *segment.Segment {
	t.Helper()
	s, err := segment.New(id, projectID, "text", typ)
	require.NoError(t, err)
	s.FilePath = filePath
	s.TaskID = taskID
	s.Tags = tags
	return s
}

func TestMetadataQueryByType(t *testing.T) {
	mx := NewMetadataIndex()
	a := seg(t, "a", "p1", segment.TypeCode, "main.go", "")
	b := seg(t, "b", "p1", segment.TypeNote, "notes.md", "")
	mx.Add("p1", a)
	mx.Add("p1", b)

	assert.ElementsMatch(t, []string{"a"}, mx.Query("p1", Filter{Type: segment.TypeCode}))
}

func TestMetadataQueryIntersectsFilters(t *testing.T) {
	mx := NewMetadataIndex()
	a := seg(t, "a", "p1", segment.TypeCode, "main.go", "task1", "auth")
	b := seg(t, "b", "p1", segment.TypeCode, "main.go", "task2", "auth")
	mx.Add("p1", a)
	mx.Add("p1", b)

	got := mx.Query("p1", Filter{FilePath: "main.go", TaskID: "task1"})
	assert.ElementsMatch(t, []string{"a"}, got)
}

func TestMetadataQueryEmptyFilterReturnsNil(t *testing.T) {
	mx := NewMetadataIndex()
	assert.Nil(t, mx.Query("p1", Filter{}))
}

func TestMetadataRemove(t *testing.T) {
	mx := NewMetadataIndex()
	a := seg(t, "a", "p1", segment.TypeLog, "app.log", "", "perf")
	mx.Add("p1", a)
	mx.Remove("p1", a)

	assert.Empty(t, mx.Query("p1", Filter{Tag: "perf"}))
}

func TestMetadataQueryNoMatchReturnsEmptyNotNil(t *testing.T) {
	mx := NewMetadataIndex()
	got := mx.Query("p1", Filter{Tag: "nonexistent"})
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
