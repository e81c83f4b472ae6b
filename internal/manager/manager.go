// Package manager implements ContextManager (spec.md §4.G): the
// orchestration boundary that owns the Tokenizer, InvertedIndex,
// MetadataIndex, SegmentStore, GCEngine, and Analyzer, and exposes the
// operations the outer tool-calling layer invokes. Every operation is
// scoped to a project_id and serialized per project (spec.md §5).
package manager

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/outofcontext/contextgcd/internal/analyzer"
	"github.com/outofcontext/contextgcd/internal/config"
	"github.com/outofcontext/contextgcd/internal/ctxerrors"
	"github.com/outofcontext/contextgcd/internal/gc"
	"github.com/outofcontext/contextgcd/internal/index"
	"github.com/outofcontext/contextgcd/internal/segment"
	"github.com/outofcontext/contextgcd/internal/store"
	"github.com/outofcontext/contextgcd/internal/tokenizer"
)

// Manager is the ContextManager component. All dependencies are passed in
// at construction (spec.md §9: "obtained... not from module-level
// singletons").
type Manager struct {
	cfg       *config.Config
	tokenizer *tokenizer.Tokenizer
	store     *store.Store
	inverted  *index.InvertedIndex
	metadata  *index.MetadataIndex
	metrics   *analyzer.Metrics // optional, may be nil

	rootDir string

	mu           sync.Mutex // guards currentTask, per spec.md §5's "per-project current-task pointer"
	currentTask  map[string]string

	projLocks   sync.Mutex
	projectLock map[string]*sync.Mutex
}

// New constructs a Manager. metrics may be nil to disable Prometheus gauge
// population.
func New(cfg *config.Config, tok *tokenizer.Tokenizer, st *store.Store, inverted *index.InvertedIndex, metadata *index.MetadataIndex, metrics *analyzer.Metrics) *Manager {
	return &Manager{
		cfg:         cfg,
		tokenizer:   tok,
		store:       st,
		inverted:    inverted,
		metadata:    metadata,
		metrics:     metrics,
		rootDir:     cfg.Storage.Path,
		currentTask: make(map[string]string),
		projectLock: make(map[string]*sync.Mutex),
	}
}

// lockProject returns (creating if needed) the exclusive lock serializing
// operations on one project (spec.md §5).
func (m *Manager) lockProject(projectID string) *sync.Mutex {
	m.projLocks.Lock()
	defer m.projLocks.Unlock()
	l, ok := m.projectLock[projectID]
	if !ok {
		l = &sync.Mutex{}
		m.projectLock[projectID] = l
	}
	return l
}

func (m *Manager) tokenLimit(requested int64) int64 {
	if requested > 0 {
		return requested
	}
	return m.cfg.Tokens.Limit
}

// ingest validates and stores descriptors as new segments, returning them.
func (m *Manager) ingest(projectID string, descriptors []SegmentDescriptor) ([]*segment.Segment, error) {
	out := make([]*segment.Segment, 0, len(descriptors))
	for _, d := range descriptors {
		id := d.SegmentID
		if id == "" {
			id = uuid.NewString()
		}
		seg, err := segment.New(id, projectID, d.Text, d.Type)
		if err != nil {
			return nil, ctxerrors.InvalidArgument(err.Error())
		}
		seg.TaskID = d.TaskID
		seg.FilePath = d.FilePath
		seg.LineRange = d.LineRange
		seg.Tags = d.Tags
		seg.TopicID = d.TopicID
		seg.Pinned = d.Pinned
		seg.References = d.References

		m.tokenizer.CountSegment(seg)

		if err := m.store.Store(projectID, seg); err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, nil
}

// allSegments returns every segment for a project (active + stashed),
// refreshing token caches along the way. Used by analyze/GC/working-set
// operations that need the full population.
func (m *Manager) allSegments(projectID string) ([]*segment.Segment, error) {
	active, err := m.store.ActiveSegments(projectID)
	if err != nil {
		return nil, err
	}
	stashed, err := m.store.SearchStashed(projectID, "", index.Filter{}, 0)
	if err != nil {
		return nil, err
	}

	all := make([]*segment.Segment, 0, len(active)+len(stashed))
	all = append(all, active...)
	all = append(all, stashed...)
	for _, s := range all {
		m.tokenizer.CountSegment(s)
	}
	return all, nil
}

// Analyze optionally ingests descriptors, then computes usage metrics,
// health, warnings, and suggested actions (spec.md §4.G).
func (m *Manager) Analyze(req AnalyzeRequest) (analyzer.AnalysisResult, error) {
	lock := m.lockProject(req.ProjectID)
	lock.Lock()
	defer lock.Unlock()

	if len(req.Descriptors) > 0 {
		if _, err := m.ingest(req.ProjectID, req.Descriptors); err != nil {
			return analyzer.AnalysisResult{}, err
		}
	}

	segs, err := m.allSegments(req.ProjectID)
	if err != nil {
		return analyzer.AnalysisResult{}, err
	}

	limit := m.tokenLimit(req.TokenLimit)
	usage := analyzer.ComputeUsage(segs, limit)

	byID := toByID(segs)
	roots := gc.RootSet(segs, gc.Roots{TaskID: req.TaskID, RecentMessagesN: m.cfg.GC.RecentMessagesN})
	marked := gc.Mark(roots, byID)
	plan := gc.BuildPlan(segs, marked, uint32(usage.TotalTokens), false)
	if len(plan.Candidates) == 0 {
		plan = nil
	}

	thresholds := analyzer.Thresholds{
		WarningPct: m.cfg.Thresholds.WarningPct,
		HighPct:    m.cfg.Thresholds.HighPct,
		UrgentPct:  m.cfg.Thresholds.UrgentPct,
	}
	result := analyzer.Analyze(usage, thresholds, plan)

	if m.metrics != nil {
		m.metrics.Observe(req.ProjectID, usage, result.Health)
	}
	return result, nil
}

// GetWorkingSet builds the working-set view: the task's segments, the N
// most recent messages, pinned segments, and recent decisions —
// deduplicated, never materialized twice. It takes no active file, so
// active-file segments are not part of the view.
func (m *Manager) GetWorkingSet(projectID, taskID string) (WorkingSet, error) {
	lock := m.lockProject(projectID)
	lock.Lock()
	defer lock.Unlock()

	if taskID == "" {
		taskID = m.getCurrentTaskLocked(projectID)
	}

	segs, err := m.allSegments(projectID)
	if err != nil {
		return WorkingSet{}, err
	}

	roots := gc.RootSet(segs, gc.Roots{TaskID: taskID, RecentMessagesN: m.cfg.GC.RecentMessagesN})
	byID := toByID(segs)

	var out []*segment.Segment
	var tokens int64
	for id := range roots {
		if s, ok := byID[id]; ok {
			out = append(out, s)
			tokens += int64(countOf(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SegmentID < out[j].SegmentID })

	return WorkingSet{ProjectID: projectID, TaskID: taskID, Segments: out, Tokens: tokens}, nil
}

// GCAnalyze computes roots, reachability, and a pruning plan.
func (m *Manager) GCAnalyze(req GCAnalyzeRequest) (GCAnalyzeResult, error) {
	lock := m.lockProject(req.ProjectID)
	lock.Lock()
	defer lock.Unlock()

	segs, err := m.allSegments(req.ProjectID)
	if err != nil {
		return GCAnalyzeResult{}, err
	}

	taskID := req.TaskID
	if taskID == "" {
		taskID = m.getCurrentTaskLocked(req.ProjectID)
	}

	roots := gc.RootSet(segs, gc.Roots{TaskID: taskID, ActiveFile: req.ActiveFile, RecentMessagesN: m.cfg.GC.RecentMessagesN})
	marked := gc.Mark(roots, toByID(segs))

	target := req.TargetTokens
	plan := gc.BuildPlan(segs, marked, target, false)
	return GCAnalyzeResult{Candidates: len(plan.Candidates), Plan: plan}, nil
}

// GCPrune executes a plan: stashes or deletes the given segment ids.
// Deleting requires confirm=true (spec.md §4.G).
func (m *Manager) GCPrune(projectID string, ids []string, action PruneAction, confirm bool) (PruneResult, error) {
	lock := m.lockProject(projectID)
	lock.Lock()
	defer lock.Unlock()

	if action == ActionDelete && !confirm {
		return PruneResult{}, ctxerrors.InvalidArgument("delete requires confirm=true")
	}

	switch action {
	case ActionDelete:
		res, err := m.store.Delete(projectID, ids, false)
		if err != nil {
			return PruneResult{}, err
		}
		return PruneResult{AppliedIDs: res.StashedIDs, Errors: res.Errors}, nil
	default:
		res, err := m.store.Stash(projectID, ids)
		if err != nil {
			return PruneResult{}, err
		}
		return PruneResult{AppliedIDs: res.StashedIDs, Errors: res.Errors}, nil
	}
}

// PinUnpin toggles the Pinned flag on ids. pin=true pins, pin=false unpins.
func (m *Manager) PinUnpin(projectID string, ids []string, pin bool) (IDResult, error) {
	lock := m.lockProject(projectID)
	lock.Lock()
	defer lock.Unlock()

	result := IDResult{Errors: make(map[string]string)}
	for _, id := range ids {
		if err := m.store.SetPinned(projectID, id, pin); err != nil {
			result.Errors[id] = err.Error()
			continue
		}
		result.OK = append(result.OK, id)
	}
	return result, nil
}

// Stash delegates to SegmentStore.
func (m *Manager) Stash(projectID string, ids []string) (*store.StashResult, error) {
	lock := m.lockProject(projectID)
	lock.Lock()
	defer lock.Unlock()
	return m.store.Stash(projectID, ids)
}

// SearchStashed delegates to SegmentStore's keyword+metadata search.
func (m *Manager) SearchStashed(req SearchRequest) ([]*segment.Segment, error) {
	lock := m.lockProject(req.ProjectID)
	lock.Lock()
	defer lock.Unlock()
	return m.store.SearchStashed(req.ProjectID, req.Query, req.Filter, req.Limit)
}

// RetrieveStashed delegates to SegmentStore.Unstash.
func (m *Manager) RetrieveStashed(projectID string, ids []string, moveToActive bool) ([]*segment.Segment, error) {
	lock := m.lockProject(projectID)
	lock.Lock()
	defer lock.Unlock()
	return m.store.Unstash(projectID, ids, moveToActive)
}

// SetCurrentTask updates the per-project current task pointer, returning
// the previous value.
func (m *Manager) SetCurrentTask(projectID, taskID string) (previous, current string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	previous = m.currentTask[projectID]
	m.currentTask[projectID] = taskID
	return previous, taskID
}

func (m *Manager) getCurrentTaskLocked(projectID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTask[projectID]
}

// GetTaskContext returns every segment matching task_id (the current task
// if taskID is empty) and the sum of their cached tokens.
func (m *Manager) GetTaskContext(projectID, taskID string) (TaskContext, error) {
	lock := m.lockProject(projectID)
	lock.Lock()
	defer lock.Unlock()

	if taskID == "" {
		taskID = m.getCurrentTaskLocked(projectID)
	}

	segs, err := m.allSegments(projectID)
	if err != nil {
		return TaskContext{}, err
	}

	var out []*segment.Segment
	var tokens int64
	for _, s := range segs {
		if s.TaskID == taskID {
			out = append(out, s)
			tokens += int64(countOf(s))
		}
	}
	return TaskContext{Segments: out, Tokens: tokens}, nil
}

// CreateTaskSnapshot freezes the current task's segment ids into a named
// SnapshotGroup persisted under <storage>/snapshots/<project_id>.json
// (spec.md's Open Question, resolved per DESIGN.md in favor of
// reference-by-id rather than a deep copy).
func (m *Manager) CreateTaskSnapshot(projectID, taskID, name string) (*SnapshotGroup, SnapshotStats, error) {
	lock := m.lockProject(projectID)
	lock.Lock()
	defer lock.Unlock()

	if taskID == "" {
		taskID = m.getCurrentTaskLocked(projectID)
	}

	segs, err := m.allSegments(projectID)
	if err != nil {
		return nil, SnapshotStats{}, err
	}

	var ids []string
	var tokens int64
	for _, s := range segs {
		if s.TaskID == taskID {
			ids = append(ids, s.SegmentID)
			tokens += int64(countOf(s))
		}
	}

	snap := &SnapshotGroup{
		SnapshotID: uuid.NewString(),
		Name:       name,
		ProjectID:  projectID,
		TaskID:     taskID,
		SegmentIDs: ids,
		CreatedAt:  time.Now(),
	}

	if err := m.appendSnapshot(projectID, snap); err != nil {
		return nil, SnapshotStats{}, err
	}

	return snap, SnapshotStats{SegmentCount: len(ids), TotalTokens: tokens}, nil
}

func toByID(segs []*segment.Segment) map[string]*segment.Segment {
	byID := make(map[string]*segment.Segment, len(segs))
	for _, s := range segs {
		byID[s.SegmentID] = s
	}
	return byID
}

func countOf(s *segment.Segment) uint32 {
	if s.Tokens != nil {
		return *s.Tokens
	}
	return 0
}

// --- snapshot persistence ---

type snapshotDocument struct {
	Snapshots []*SnapshotGroup `json:"snapshots"`
}

func (m *Manager) snapshotPath(projectID string) string {
	return filepath.Join(m.rootDir, "snapshots", projectID+".json")
}

// appendSnapshot loads the project's snapshot file (if any), appends snap,
// and writes it back atomically (write-temp-then-rename, matching the
// shard-write convention elsewhere in this engine).
func (m *Manager) appendSnapshot(projectID string, snap *SnapshotGroup) error {
	path := m.snapshotPath(projectID)

	doc := &snapshotDocument{}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, doc); err != nil {
			return ctxerrors.StorageCorrupt(path, err)
		}
	} else if !os.IsNotExist(err) {
		return ctxerrors.StorageIO("read snapshot file", err)
	}

	doc.Snapshots = append(doc.Snapshots, snap)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ctxerrors.StorageIO("mkdir snapshots dir", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return ctxerrors.Internal("marshal snapshot document", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return ctxerrors.StorageIO("write temp snapshot file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return ctxerrors.StorageIO("rename temp snapshot file", err)
	}
	return nil
}
