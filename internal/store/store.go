// Package store implements SegmentStore (spec.md §4.D): an LRU-bounded
// in-memory active tier backed by an on-disk eviction mirror, plus a
// sharded, crash-safe persistent stashed tier.
package store

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/outofcontext/contextgcd/internal/ctxerrors"
	"github.com/outofcontext/contextgcd/internal/index"
	"github.com/outofcontext/contextgcd/internal/segment"
)

// StashResult reports the outcome of a stash batch.
type StashResult struct {
	StashedIDs []string
	Errors     map[string]string
}

// Config configures a Store.
type Config struct {
	RootDir   string
	MaxActive int
}

type projectState struct {
	mu sync.Mutex

	active  *lru.Cache[string, *segment.Segment]
	evicted map[string]bool

	// stashed mirrors the on-disk shard contents in memory; stashedDirty
	// tracks whether the shard file needs rewriting.
	stashed      map[string]*segment.Segment
	stashedDirty bool
}

// Store is the SegmentStore component.
type Store struct {
	rootDir   string
	maxActive int
	logger    *slog.Logger

	inverted *index.InvertedIndex
	metadata *index.MetadataIndex

	projMu   sync.Mutex
	projects map[string]*projectState
}

// New constructs a Store rooted at cfg.RootDir, discarding any leftover
// atomic-write temp files (spec.md §4.D startup recovery, step 1).
func New(cfg Config, inverted *index.InvertedIndex, metadata *index.MetadataIndex, logger *slog.Logger) (*Store, error) {
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 10_000
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := cleanTempFiles(cfg.RootDir); err != nil {
		return nil, err
	}
	return &Store{
		rootDir:   cfg.RootDir,
		maxActive: cfg.MaxActive,
		logger:    logger,
		inverted:  inverted,
		metadata:  metadata,
		projects:  make(map[string]*projectState),
	}, nil
}

// project returns (creating and lazily loading, if needed) the in-memory
// state for a project. Shard loading happens on first touch rather than
// eagerly for every project at startup, satisfying the same "rebuild
// in-memory indexes from persisted data" requirement without a directory
// walk up front.
func (s *Store) project(projectID string) (*projectState, error) {
	s.projMu.Lock()
	defer s.projMu.Unlock()

	if p, ok := s.projects[projectID]; ok {
		return p, nil
	}

	p := &projectState{
		evicted: make(map[string]bool),
		stashed: make(map[string]*segment.Segment),
	}

	evictFn := func(id string, seg *segment.Segment) {
		if err := s.writeEvictedMirror(projectID, seg); err != nil {
			s.logger.Warn("failed to write evicted mirror", "project_id", projectID, "segment_id", id, "error", err)
			return
		}
		p.evicted[id] = true
	}
	cache, err := lru.NewWithEvict[string, *segment.Segment](s.maxActive, evictFn)
	if err != nil {
		return nil, ctxerrors.Internal("construct active LRU cache", err)
	}
	p.active = cache

	doc, err := loadShard(shardPath(s.rootDir, projectID))
	if err != nil {
		if ctxerrors.Code(err) == ctxerrors.CodeStorageCorrupt {
			s.logger.Warn("stashed shard is corrupt, treating as empty", "project_id", projectID, "error", err)
			doc = &shardDocument{Version: shardVersion}
		} else {
			return nil, err
		}
	}
	for _, seg := range doc.Segments {
		p.stashed[seg.SegmentID] = seg
		s.indexSegment(projectID, seg)
	}

	s.projects[projectID] = p
	return p, nil
}

func (s *Store) indexSegment(projectID string, seg *segment.Segment) {
	s.inverted.Add(projectID, seg.SegmentID, seg.Text)
	s.metadata.Add(projectID, seg)
}

func (s *Store) deindexSegment(projectID string, seg *segment.Segment) {
	s.inverted.Remove(projectID, seg.SegmentID)
	s.metadata.Remove(projectID, seg)
}

// linkReferencesLocked updates Backrefs/RefCount on every segment seg.References
// names, keeping spec.md §3.2/§8's "refcount(s) == |backrefs(s)|" invariant in
// sync with the reference graph. A referenced id that does not exist yet is
// skipped rather than treated as an error: References are caller-provided
// lookup edges with no ownership implied (spec.md §9), so a forward reference
// to a not-yet-ingested segment is not malformed, it is just not backlinked
// until that segment is looked up again. Callers must hold p.mu.
func (s *Store) linkReferencesLocked(projectID string, p *projectState, seg *segment.Segment) {
	for _, ref := range seg.References {
		if ref == seg.SegmentID {
			continue
		}
		s.addBackrefLocked(projectID, p, ref, seg.SegmentID)
	}
}

// unlinkReferencesLocked removes seg's id from the Backrefs of every segment
// it referenced, e.g. on delete, so the removed edge stops inflating the
// referenced segment's RefCount. Callers must hold p.mu.
func (s *Store) unlinkReferencesLocked(projectID string, p *projectState, seg *segment.Segment) {
	for _, ref := range seg.References {
		s.removeBackrefLocked(projectID, p, ref, seg.SegmentID)
	}
}

func (s *Store) addBackrefLocked(projectID string, p *projectState, targetID, fromID string) {
	if target, ok := p.active.Peek(targetID); ok {
		addBackref(target, fromID)
		return
	}
	if p.evicted[targetID] {
		target, err := s.readEvictedMirror(projectID, targetID)
		if err != nil {
			return
		}
		if addBackref(target, fromID) {
			_ = s.writeEvictedMirror(projectID, target)
		}
		return
	}
	if target, ok := p.stashed[targetID]; ok {
		if addBackref(target, fromID) {
			p.stashedDirty = true
		}
	}
}

func (s *Store) removeBackrefLocked(projectID string, p *projectState, targetID, fromID string) {
	if target, ok := p.active.Peek(targetID); ok {
		removeBackref(target, fromID)
		return
	}
	if p.evicted[targetID] {
		target, err := s.readEvictedMirror(projectID, targetID)
		if err != nil {
			return
		}
		if removeBackref(target, fromID) {
			_ = s.writeEvictedMirror(projectID, target)
		}
		return
	}
	if target, ok := p.stashed[targetID]; ok {
		if removeBackref(target, fromID) {
			p.stashedDirty = true
		}
	}
}

// addBackref appends fromID to seg.Backrefs if not already present and
// resyncs RefCount, reporting whether it changed anything.
func addBackref(seg *segment.Segment, fromID string) bool {
	for _, id := range seg.Backrefs {
		if id == fromID {
			return false
		}
	}
	seg.Backrefs = append(seg.Backrefs, fromID)
	seg.RefCount = len(seg.Backrefs)
	return true
}

// removeBackref drops fromID from seg.Backrefs if present and resyncs
// RefCount, reporting whether it changed anything.
func removeBackref(seg *segment.Segment, fromID string) bool {
	for i, id := range seg.Backrefs {
		if id == fromID {
			seg.Backrefs = append(seg.Backrefs[:i], seg.Backrefs[i+1:]...)
			seg.RefCount = len(seg.Backrefs)
			return true
		}
	}
	return false
}

func (s *Store) writeEvictedMirror(projectID string, seg *segment.Segment) error {
	if err := os.MkdirAll(evictedDir(s.rootDir, projectID), 0o755); err != nil {
		return ctxerrors.StorageIO("mkdir evicted mirror dir", err)
	}
	return saveShardAtomic(evictedPath(s.rootDir, projectID, seg.SegmentID), &shardDocument{
		Segments: []*segment.Segment{seg},
	})
}

func (s *Store) readEvictedMirror(projectID, segmentID string) (*segment.Segment, error) {
	doc, err := loadShard(evictedPath(s.rootDir, projectID, segmentID))
	if err != nil {
		return nil, err
	}
	if len(doc.Segments) == 0 {
		return nil, ctxerrors.NotFound("segment", segmentID)
	}
	return doc.Segments[0], nil
}

// Store adds seg to the active tier. Fails if segment_id already exists in
// the project (active, evicted-mirror, or stashed).
func (s *Store) Store(projectID string, seg *segment.Segment) error {
	if err := seg.Validate(); err != nil {
		return ctxerrors.InvalidArgument(err.Error())
	}

	p, err := s.project(projectID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.active.Peek(seg.SegmentID); ok {
		return ctxerrors.New(ctxerrors.CodeInvalidArgument, fmt.Sprintf("segment %q already exists", seg.SegmentID), nil)
	}
	if p.evicted[seg.SegmentID] {
		return ctxerrors.New(ctxerrors.CodeInvalidArgument, fmt.Sprintf("segment %q already exists", seg.SegmentID), nil)
	}
	if _, ok := p.stashed[seg.SegmentID]; ok {
		return ctxerrors.New(ctxerrors.CodeInvalidArgument, fmt.Sprintf("segment %q already exists", seg.SegmentID), nil)
	}

	seg.Tier = segment.TierWorking
	p.active.Add(seg.SegmentID, seg)
	s.indexSegment(projectID, seg)
	s.linkReferencesLocked(projectID, p, seg)
	return nil
}


// Get returns a segment from the active tier, reloading it from its
// eviction mirror (and re-inserting into active, which may trigger further
// eviction) if it was evicted.
func (s *Store) Get(projectID, segmentID string) (*segment.Segment, error) {
	p, err := s.project(projectID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if seg, ok := p.active.Get(segmentID); ok {
		return seg, nil
	}
	if p.evicted[segmentID] {
		seg, err := s.readEvictedMirror(projectID, segmentID)
		if err != nil {
			return nil, err
		}
		delete(p.evicted, segmentID)
		p.active.Add(segmentID, seg)
		_ = os.Remove(evictedPath(s.rootDir, projectID, segmentID))
		return seg, nil
	}
	return nil, ctxerrors.NotFound("segment", segmentID)
}

// GetAny returns a segment from whichever tier holds it (active, evicted
// mirror, or stashed) without moving it between tiers. The returned pointer
// for an evicted segment is a fresh copy read from its mirror file, not the
// live resident instance; callers that need to mutate and persist a flag
// regardless of tier should use SetPinned instead.
func (s *Store) GetAny(projectID, segmentID string) (*segment.Segment, error) {
	p, err := s.project(projectID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if seg, ok := p.active.Peek(segmentID); ok {
		return seg, nil
	}
	if p.evicted[segmentID] {
		return s.readEvictedMirror(projectID, segmentID)
	}
	if seg, ok := p.stashed[segmentID]; ok {
		return seg, nil
	}
	return nil, ctxerrors.NotFound("segment", segmentID)
}

// SetPinned sets a segment's Pinned flag regardless of which tier holds it,
// persisting the change for the stashed and evicted tiers (the active tier
// needs no extra flush: it is memory-resident and only the stashed shard
// and eviction mirrors are ever read back from disk).
func (s *Store) SetPinned(projectID, segmentID string, pinned bool) error {
	p, err := s.project(projectID)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if seg, ok := p.active.Peek(segmentID); ok {
		seg.Pinned = pinned
		return nil
	}
	if p.evicted[segmentID] {
		seg, err := s.readEvictedMirror(projectID, segmentID)
		if err != nil {
			return err
		}
		seg.Pinned = pinned
		return s.writeEvictedMirror(projectID, seg)
	}
	if seg, ok := p.stashed[segmentID]; ok {
		seg.Pinned = pinned
		return s.flushStashed(projectID, p)
	}
	return ctxerrors.NotFound("segment", segmentID)
}

// Stash moves ids from the active tier (or their eviction mirror) into the
// project's stashed shard. Stash is all-or-nothing across the whole batch
// (spec.md §4.D: "Atomicity of stash: either all requested ids are stashed
// or none"): if any id in the batch is unknown or pinned, no id in the
// batch is moved and every id is reported in the per-id errors (spec.md §8
// scenario #4). Only once every id validates does the memory mutation run,
// followed by the shard flush, with rollback on flush failure.
func (s *Store) Stash(projectID string, segmentIDs []string) (*StashResult, error) {
	p, err := s.project(projectID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	result := &StashResult{Errors: make(map[string]string)}
	toStash := make([]*segment.Segment, 0, len(segmentIDs))
	valid := true

	for _, id := range segmentIDs {
		seg, ok := p.active.Peek(id)
		if !ok && p.evicted[id] {
			loaded, err := s.readEvictedMirror(projectID, id)
			if err != nil {
				result.Errors[id] = err.Error()
				valid = false
				continue
			}
			seg = loaded
			ok = true
		}
		if !ok {
			result.Errors[id] = ctxerrors.NotFound("segment", id).Error()
			valid = false
			continue
		}
		if seg.Pinned {
			result.Errors[id] = ctxerrors.PinnedProtected(id).Error()
			valid = false
			continue
		}
		toStash = append(toStash, seg)
	}

	if !valid {
		// Reject the whole batch: every id, not just the offending ones,
		// is reported as an error and none are moved.
		for _, seg := range toStash {
			if _, already := result.Errors[seg.SegmentID]; !already {
				result.Errors[seg.SegmentID] = "batch rejected: another id in this stash request failed validation"
			}
		}
		return result, nil
	}

	if len(toStash) == 0 {
		return result, nil
	}

	// Memory mutation first.
	for _, seg := range toStash {
		p.active.Remove(seg.SegmentID)
		delete(p.evicted, seg.SegmentID)
		_ = os.Remove(evictedPath(s.rootDir, projectID, seg.SegmentID))
		seg.Tier = segment.TierStashed
		p.stashed[seg.SegmentID] = seg
	}
	p.stashedDirty = true

	if err := s.flushStashed(projectID, p); err != nil {
		// Rollback: put segments back into active tier.
		for _, seg := range toStash {
			seg.Tier = segment.TierWorking
			delete(p.stashed, seg.SegmentID)
			p.active.Add(seg.SegmentID, seg)
		}
		return nil, err
	}

	for _, seg := range toStash {
		result.StashedIDs = append(result.StashedIDs, seg.SegmentID)
	}
	return result, nil
}

// Unstash loads segments from the stashed shard. If moveToActive, each
// segment is also removed from the shard and inserted into the active tier.
func (s *Store) Unstash(projectID string, segmentIDs []string, moveToActive bool) ([]*segment.Segment, error) {
	p, err := s.project(projectID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*segment.Segment
	var moved []*segment.Segment
	for _, id := range segmentIDs {
		seg, ok := p.stashed[id]
		if !ok {
			return nil, ctxerrors.NotFound("segment", id)
		}
		out = append(out, seg)
		if moveToActive {
			moved = append(moved, seg)
		}
	}

	if !moveToActive {
		return out, nil
	}

	for _, seg := range moved {
		delete(p.stashed, seg.SegmentID)
	}
	p.stashedDirty = true
	if err := s.flushStashed(projectID, p); err != nil {
		for _, seg := range moved {
			p.stashed[seg.SegmentID] = seg
		}
		return nil, err
	}
	for _, seg := range moved {
		seg.Tier = segment.TierWorking
		p.active.Add(seg.SegmentID, seg)
	}
	return out, nil
}

// Delete removes segments from whichever tier holds them and from all
// indexes. Pinned segments are refused unless force is true.
func (s *Store) Delete(projectID string, segmentIDs []string, force bool) (*StashResult, error) {
	p, err := s.project(projectID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	result := &StashResult{Errors: make(map[string]string)}

	for _, id := range segmentIDs {
		var seg *segment.Segment
		var ok bool
		if seg, ok = p.active.Peek(id); ok {
			if seg.Pinned && !force {
				result.Errors[id] = ctxerrors.PinnedProtected(id).Error()
				continue
			}
			// Remove fires the eviction callback, which mirrors the segment
			// to disk; drop that mirror so the segment is really gone.
			p.active.Remove(id)
			delete(p.evicted, id)
			_ = os.Remove(evictedPath(s.rootDir, projectID, id))
		} else if p.evicted[id] {
			loaded, err := s.readEvictedMirror(projectID, id)
			if err != nil {
				result.Errors[id] = err.Error()
				continue
			}
			seg = loaded
			if seg.Pinned && !force {
				result.Errors[id] = ctxerrors.PinnedProtected(id).Error()
				continue
			}
			delete(p.evicted, id)
			_ = os.Remove(evictedPath(s.rootDir, projectID, id))
		} else if seg, ok = p.stashed[id]; ok {
			if seg.Pinned && !force {
				result.Errors[id] = ctxerrors.PinnedProtected(id).Error()
				continue
			}
			delete(p.stashed, id)
			p.stashedDirty = true
		} else {
			result.Errors[id] = ctxerrors.NotFound("segment", id).Error()
			continue
		}

		s.deindexSegment(projectID, seg)
		s.unlinkReferencesLocked(projectID, p, seg)
		result.StashedIDs = append(result.StashedIDs, id)
	}

	if p.stashedDirty {
		if err := s.flushStashed(projectID, p); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// SearchStashed searches the stashed tier by keyword (if query is non-empty)
// intersected with metadata filters, limited to limit results (0 = no limit).
func (s *Store) SearchStashed(projectID, query string, filter index.Filter, limit int) ([]*segment.Segment, error) {
	p, err := s.project(projectID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var candidateIDs map[string]bool
	if query != "" {
		ids := s.inverted.Search(projectID, query)
		candidateIDs = make(map[string]bool, len(ids))
		for _, id := range ids {
			candidateIDs[id] = true
		}
	} else {
		candidateIDs = make(map[string]bool, len(p.stashed))
		for id := range p.stashed {
			candidateIDs[id] = true
		}
	}

	if !filter.Empty() {
		filtered := s.metadata.Query(projectID, filter)
		allowed := make(map[string]bool, len(filtered))
		for _, id := range filtered {
			allowed[id] = true
		}
		for id := range candidateIDs {
			if !allowed[id] {
				delete(candidateIDs, id)
			}
		}
	}

	ids := make([]string, 0, len(candidateIDs))
	for id := range candidateIDs {
		if _, ok := p.stashed[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]*segment.Segment, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.stashed[id])
	}
	return out, nil
}

// ActiveSegments returns every segment currently resident in the active
// tier for a project, used by the GC engine and analyzer.
func (s *Store) ActiveSegments(projectID string) ([]*segment.Segment, error) {
	p, err := s.project(projectID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := p.active.Keys()
	out := make([]*segment.Segment, 0, len(keys))
	for _, k := range keys {
		if seg, ok := p.active.Peek(k); ok {
			out = append(out, seg)
		}
	}
	return out, nil
}

func (s *Store) flushStashed(projectID string, p *projectState) error {
	segs := make([]*segment.Segment, 0, len(p.stashed))
	for _, seg := range p.stashed {
		segs = append(segs, seg)
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].SegmentID < segs[j].SegmentID })

	if err := saveShardAtomic(shardPath(s.rootDir, projectID), &shardDocument{Segments: segs}); err != nil {
		return err
	}
	p.stashedDirty = false
	return nil
}
