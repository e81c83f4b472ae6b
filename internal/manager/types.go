package manager

import (
	"time"

	"github.com/outofcontext/contextgcd/internal/gc"
	"github.com/outofcontext/contextgcd/internal/index"
	"github.com/outofcontext/contextgcd/internal/segment"
)

// SegmentDescriptor is the caller-supplied shape for a new segment (spec.md
// §4.G "ingest descriptors as new segments"). SegmentID is optional; when
// empty a uuid is generated.
type SegmentDescriptor struct {
	SegmentID  string
	TaskID     string
	Text       string
	Type       segment.Type
	FilePath   string
	LineRange  *segment.LineRange
	Tags       []string
	TopicID    string
	Pinned     bool
	References []string
}

// AnalyzeRequest is the input to Manager.Analyze.
type AnalyzeRequest struct {
	ProjectID   string
	TaskID      string
	TokenLimit  int64 // 0 means "use configured default"
	Descriptors []SegmentDescriptor
}

// WorkingSet is the view described in spec.md §3.3.
type WorkingSet struct {
	ProjectID string
	TaskID    string
	Segments  []*segment.Segment
	Tokens    int64
}

// GCAnalyzeRequest is the input to Manager.GCAnalyze.
type GCAnalyzeRequest struct {
	ProjectID    string
	TaskID       string
	ActiveFile   string
	TargetTokens uint32
}

// GCAnalyzeResult bundles the candidate count and the full plan.
type GCAnalyzeResult struct {
	Candidates int
	Plan       *gc.Plan
}

// PruneAction selects what gc_prune does with selected candidates.
type PruneAction string

const (
	ActionStash  PruneAction = "stash"
	ActionDelete PruneAction = "delete"
)

// PruneResult reports per-id outcomes of a gc_prune call.
type PruneResult struct {
	AppliedIDs []string
	Errors     map[string]string
}

// IDResult is the per-id outcome of a bulk pin/unpin call.
type IDResult struct {
	OK     []string
	Errors map[string]string
}

// SnapshotGroup freezes a task's segment ids at snapshot time (spec.md's
// Open Question, resolved per DESIGN.md: reference by id, not deep copy).
type SnapshotGroup struct {
	SnapshotID string    `json:"snapshot_id"`
	Name       string    `json:"name"`
	ProjectID  string    `json:"project_id"`
	TaskID     string    `json:"task_id"`
	SegmentIDs []string  `json:"segment_ids"`
	CreatedAt  time.Time `json:"created_at"`
}

// SnapshotStats accompanies a successful create_task_snapshot call.
type SnapshotStats struct {
	SegmentCount int
	TotalTokens  int64
}

// TaskContext is the result of get_task_context.
type TaskContext struct {
	Segments []*segment.Segment
	Tokens   int64
}

// SearchRequest is the input to Manager.SearchStashed.
type SearchRequest struct {
	ProjectID string
	Query     string
	Filter    index.Filter
	Limit     int
}

