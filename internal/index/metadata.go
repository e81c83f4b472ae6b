package index

import (
	"sync"

	"github.com/outofcontext/contextgcd/internal/segment"
)

// Filter selects segments by attribute; a zero-value field contributes no
// constraint (spec.md §4.C: "absent filters contribute no constraint").
type Filter struct {
	FilePath string
	TaskID   string
	Tag      string
	Type     segment.Type
}

// Empty reports whether f constrains nothing.
func (f Filter) Empty() bool {
	return f.FilePath == "" && f.TaskID == "" && f.Tag == "" && f.Type == ""
}

type projectMetadata struct {
	byFile map[string]idSet
	byTask map[string]idSet
	byTag  map[string]idSet
	byType map[string]idSet
}

func newProjectMetadata() *projectMetadata {
	return &projectMetadata{
		byFile: make(map[string]idSet),
		byTask: make(map[string]idSet),
		byTag:  make(map[string]idSet),
		byType: make(map[string]idSet),
	}
}

// MetadataIndex maintains by_file/by_task/by_tag/by_type lookup sets per
// project, supporting intersection-based filtered queries.
type MetadataIndex struct {
	mu       sync.RWMutex
	projects map[string]*projectMetadata
}

// NewMetadataIndex constructs an empty MetadataIndex.
func NewMetadataIndex() *MetadataIndex {
	return &MetadataIndex{projects: make(map[string]*projectMetadata)}
}

func (mx *MetadataIndex) project(projectID string) *projectMetadata {
	p, ok := mx.projects[projectID]
	if !ok {
		p = newProjectMetadata()
		mx.projects[projectID] = p
	}
	return p
}

func addTo(set map[string]idSet, key, id string) {
	if key == "" {
		return
	}
	ids, ok := set[key]
	if !ok {
		ids = make(idSet)
		set[key] = ids
	}
	ids[id] = struct{}{}
}

func removeFrom(set map[string]idSet, key, id string) {
	if key == "" {
		return
	}
	ids, ok := set[key]
	if !ok {
		return
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(set, key)
	}
}

// Add patches all four maps to reflect s's current attributes.
func (mx *MetadataIndex) Add(projectID string, s *segment.Segment) {
	mx.mu.Lock()
	defer mx.mu.Unlock()

	p := mx.project(projectID)
	addTo(p.byFile, s.FilePath, s.SegmentID)
	addTo(p.byTask, s.TaskID, s.SegmentID)
	addTo(p.byType, string(s.Type), s.SegmentID)
	for _, tag := range s.Tags {
		addTo(p.byTag, tag, s.SegmentID)
	}
}

// Remove retracts s's id from all four maps.
func (mx *MetadataIndex) Remove(projectID string, s *segment.Segment) {
	mx.mu.Lock()
	defer mx.mu.Unlock()

	p, ok := mx.projects[projectID]
	if !ok {
		return
	}
	removeFrom(p.byFile, s.FilePath, s.SegmentID)
	removeFrom(p.byTask, s.TaskID, s.SegmentID)
	removeFrom(p.byType, string(s.Type), s.SegmentID)
	for _, tag := range s.Tags {
		removeFrom(p.byTag, tag, s.SegmentID)
	}
}

// Query returns the intersection of every non-empty filter field's id set.
// An entirely empty Filter matches everything and returns nil, letting the
// caller distinguish "no constraint" from "no matches".
func (mx *MetadataIndex) Query(projectID string, f Filter) []string {
	mx.mu.RLock()
	defer mx.mu.RUnlock()

	if f.Empty() {
		return nil
	}

	p, ok := mx.projects[projectID]
	if !ok {
		return []string{}
	}

	var sets []idSet
	if f.FilePath != "" {
		sets = append(sets, p.byFile[f.FilePath])
	}
	if f.TaskID != "" {
		sets = append(sets, p.byTask[f.TaskID])
	}
	if f.Tag != "" {
		sets = append(sets, p.byTag[f.Tag])
	}
	if f.Type != "" {
		sets = append(sets, p.byType[string(f.Type)])
	}

	var result idSet
	for _, s := range sets {
		if len(s) == 0 {
			return []string{}
		}
		if result == nil {
			result = make(idSet, len(s))
			for id := range s {
				result[id] = struct{}{}
			}
			continue
		}
		for id := range result {
			if _, ok := s[id]; !ok {
				delete(result, id)
			}
		}
		if len(result) == 0 {
			return []string{}
		}
	}

	if result == nil {
		return []string{}
	}
	return result.slice()
}
