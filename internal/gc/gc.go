// Package gc implements GCEngine (spec.md §4.E): root-set computation,
// mark-and-sweep reachability over the caller-provided reference graph, and
// heuristic score-driven pruning-plan generation via a max-heap.
package gc

import (
	"container/heap"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/outofcontext/contextgcd/internal/segment"
)

// Roots are the parameters governing root-set computation (spec.md §4.E).
type Roots struct {
	TaskID              string
	ActiveFile          string
	RecentMessagesN     int           // default 10
	RecentDecisionWithin time.Duration // default 1h
}

// typeWeight is the per-type prune-score weight (spec.md §4.E scoring table).
var typeWeight = map[segment.Type]float64{
	segment.TypeLog:      1.0,
	segment.TypeNote:     0.8,
	segment.TypeCode:     0.5,
	segment.TypeMessage:  0.3,
	segment.TypeDecision: 0.1,
	segment.TypeSummary:  0.2,
}

// RootSet computes the root ids for a project given the current snapshot of
// its segments and the root parameters. Segments may be passed in any
// order; RootSet sorts the "recent messages" selection itself.
func RootSet(segments []*segment.Segment, r Roots) map[string]bool {
	roots := make(map[string]bool)

	n := r.RecentMessagesN
	if n <= 0 {
		n = 10
	}
	window := r.RecentDecisionWithin
	if window <= 0 {
		window = time.Hour
	}
	now := time.Now()

	messages := make([]*segment.Segment, 0)
	for _, s := range segments {
		if r.TaskID != "" && s.TaskID == r.TaskID {
			roots[s.SegmentID] = true
		}
		if r.ActiveFile != "" && s.FilePath == r.ActiveFile {
			roots[s.SegmentID] = true
		}
		if s.Pinned {
			roots[s.SegmentID] = true
		}
		if s.Type == segment.TypeDecision && now.Sub(s.CreatedAt) <= window {
			roots[s.SegmentID] = true
		}
		if s.Type == segment.TypeMessage {
			messages = append(messages, s)
		}
	}

	sortByCreatedDesc(messages)
	for i := 0; i < len(messages) && i < n; i++ {
		roots[messages[i].SegmentID] = true
	}

	return roots
}

func sortByCreatedDesc(segs []*segment.Segment) {
	for i := 1; i < len(segs); i++ {
		for j := i; j > 0 && segs[j].CreatedAt.After(segs[j-1].CreatedAt); j-- {
			segs[j], segs[j-1] = segs[j-1], segs[j]
		}
	}
}

// Mark performs an iterative depth-first traversal from roots through each
// segment's References edges, returning the transitive closure. The walk is
// iterative (explicit stack) so cyclic graphs terminate and deep chains do
// not risk a stack overflow (spec.md §4.E, §9).
func Mark(roots map[string]bool, byID map[string]*segment.Segment) map[string]bool {
	marked := make(map[string]bool, len(roots))
	stack := make([]string, 0, len(roots))
	for id := range roots {
		stack = append(stack, id)
	}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if marked[id] {
			continue
		}
		marked[id] = true

		s, ok := byID[id]
		if !ok {
			continue
		}
		for _, ref := range s.References {
			if !marked[ref] {
				stack = append(stack, ref)
			}
		}
	}

	return marked
}

// Score computes the prune score for a non-pinned segment (higher = more
// pruneable). Pinned segments are never scored by callers; Score itself
// does not special-case Pinned so it stays a pure function of the fields
// the formula names.
func Score(s *segment.Segment) float64 {
	recency := ageHours(s.LastTouchedAt) / 24
	if recency > 1 {
		recency = 1
	}

	genW := 0.3
	if s.Generation == segment.GenerationOld {
		genW = 1.0
	}

	return 0.4*recency + 0.3*typeWeight[s.Type] + 0.2*(1/float64(s.RefCount+1)) + 0.1*genW
}

func ageHours(t time.Time) float64 {
	return time.Since(t).Hours()
}

// Candidate is one pruning candidate: a scored, reasoned selection.
type Candidate struct {
	SegmentID string
	Score     float64
	Tokens    uint32
	Reason    string
}

// Plan is the ordered selection of candidates spec.md §3.4 describes.
type Plan struct {
	Candidates        []Candidate
	StashIDs          []string
	DeleteIDs         []string
	TotalTokensFreed  uint32
	CapacityExceeded  bool
	Rationale         string
}

// candidateHeap is a max-heap on Score. BuildPlan pushes every non-pinned
// candidate into it and pops from the top until the token budget is met,
// so the population is never fully sorted; the heap's size is not bounded
// by the number of candidates selected.
type candidateHeap []Candidate

func (h candidateHeap) Len() int { return len(h) }
func (h candidateHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score > h[j].Score // max-heap: highest score at top
	}
	return false
}
func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x any)   { *h = append(*h, x.(Candidate)) }
func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// BuildPlan selects candidates by descending score (ties broken by older
// LastTouchedAt, then lexicographic SegmentID) until accumulated tokens
// reach targetTokens or candidates are exhausted, popping from a max-heap
// that holds every candidate rather than sorting the whole population.
//
// Non-pinned segments not in marked are preferred (reason "unreachable");
// non-pinned segments in marked are still eligible (reason derived from
// type/generation/refcount) once the unreachable pool is exhausted.
func BuildPlan(segments []*segment.Segment, marked map[string]bool, targetTokens uint32, deletePolicy bool) *Plan {
	var unreachable, reachable candidateHeap

	for _, c := range scoreSegments(segments, marked) {
		if !c.valid {
			continue
		}
		if c.reachable {
			heap.Push(&reachable, c.Candidate)
		} else {
			heap.Push(&unreachable, c.Candidate)
		}
	}

	bySegment := make(map[string]*segment.Segment, len(segments))
	for _, s := range segments {
		bySegment[s.SegmentID] = s
	}

	plan := &Plan{}
	var total uint32

	drain := func(h *candidateHeap) {
		for h.Len() > 0 && total < targetTokens {
			c := heap.Pop(h).(Candidate)
			plan.Candidates = append(plan.Candidates, c)
			total += c.Tokens
		}
	}
	drain(&unreachable)
	if total < targetTokens {
		drain(&reachable)
	}

	breakTies(plan.Candidates, bySegment)

	for _, c := range plan.Candidates {
		if deletePolicy {
			plan.DeleteIDs = append(plan.DeleteIDs, c.SegmentID)
		} else {
			plan.StashIDs = append(plan.StashIDs, c.SegmentID)
		}
	}
	plan.TotalTokensFreed = total
	if total < targetTokens {
		plan.CapacityExceeded = true
		plan.Rationale = "best-effort plan: candidates exhausted before reaching target_tokens"
	} else {
		plan.Rationale = "selected top candidates by prune score until target_tokens reached"
	}
	return plan
}

// scoredCandidate is one segment's scoring outcome: valid is false for
// pinned segments (excluded from candidacy entirely), reachable mirrors
// whether the segment survived the mark pass.
type scoredCandidate struct {
	Candidate
	reachable bool
	valid     bool
}

// scoreSegments computes every non-pinned segment's prune score concurrently,
// fanning the work out across goroutines in fixed-size chunks the same way
// the teacher's search engine fans out concurrent candidate scoring across
// query variants (spec.md §4.E's "10^6 candidates in < 2s" budget is the
// same shape of problem). Score is a pure function of already-snapshotted
// segment state, so chunks need no synchronization beyond each goroutine
// owning a disjoint index range of the output slice.
func scoreSegments(segments []*segment.Segment, marked map[string]bool) []scoredCandidate {
	out := make([]scoredCandidate, len(segments))

	const chunkSize = 2048
	var g errgroup.Group
	for start := 0; start < len(segments); start += chunkSize {
		start := start
		end := start + chunkSize
		if end > len(segments) {
			end = len(segments)
		}
		g.Go(func() error {
			for i := start; i < end; i++ {
				s := segments[i]
				if s.Pinned {
					continue
				}
				reachable := marked[s.SegmentID]
				c := Candidate{SegmentID: s.SegmentID, Score: Score(s), Tokens: tokenCount(s)}
				if reachable {
					c.Reason = reasonFor(s)
				} else {
					c.Reason = "unreachable"
				}
				out[i] = scoredCandidate{Candidate: c, reachable: reachable, valid: true}
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// breakTies re-sorts same-score runs by older LastTouchedAt then
// lexicographic SegmentID, matching spec.md §4.E's tie-break rule (the heap
// above only guarantees score ordering, not the secondary keys).
func breakTies(cands []Candidate, bySegment map[string]*segment.Segment) {
	for i := 1; i < len(cands); i++ {
		for j := i; j > 0 && less(cands[j], cands[j-1], bySegment); j-- {
			cands[j], cands[j-1] = cands[j-1], cands[j]
		}
	}
}

func less(a, b Candidate, bySegment map[string]*segment.Segment) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	sa, sb := bySegment[a.SegmentID], bySegment[b.SegmentID]
	if sa == nil || sb == nil {
		return a.SegmentID < b.SegmentID
	}
	if !sa.LastTouchedAt.Equal(sb.LastTouchedAt) {
		return sa.LastTouchedAt.Before(sb.LastTouchedAt)
	}
	return a.SegmentID < b.SegmentID
}

func reasonFor(s *segment.Segment) string {
	if s.Generation == segment.GenerationOld && s.RefCount == 0 {
		return "old+low-refcount"
	}
	return "type=" + string(s.Type)
}

func tokenCount(s *segment.Segment) uint32 {
	if s.Tokens != nil {
		return *s.Tokens
	}
	return 0
}
