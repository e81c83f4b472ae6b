// Package analyzer implements Analyzer (spec.md §4.F): usage metrics, a
// health score, and threshold-driven warnings and suggested actions.
package analyzer

import (
	"fmt"
	"sort"
	"time"

	"github.com/outofcontext/contextgcd/internal/gc"
	"github.com/outofcontext/contextgcd/internal/segment"
)

// Thresholds mirrors internal/config.ThresholdConfig so this package does
// not need to import the config package directly.
type Thresholds struct {
	WarningPct int
	HighPct    int
	UrgentPct  int
}

// UsageMetrics is the result of iterating a project's segments (spec.md §4.F).
type UsageMetrics struct {
	TotalTokens   int64
	TotalSegments int

	TokensByType   map[segment.Type]int64
	SegmentsByType map[segment.Type]int

	TokensByTask map[string]int64

	OldestSegmentAgeHours float64
	NewestSegmentAgeHours float64

	PinnedSegmentsCount int
	PinnedTokens        int64

	UsagePercent              float64
	EstimatedRemainingTokens  int64
}

// ComputeUsage sums cached token counts over segments (spec.md §4.F:
// "iterating segments and summing (cached) tokens" — segments whose tokens
// are unset or stale contribute 0, matching the tokenizer's own cache-miss
// contract; callers are expected to have run CountSegment beforehand for a
// complete total).
func ComputeUsage(segments []*segment.Segment, tokenLimit int64) UsageMetrics {
	m := UsageMetrics{
		TokensByType:   make(map[segment.Type]int64),
		SegmentsByType: make(map[segment.Type]int),
		TokensByTask:   make(map[string]int64),
	}

	if len(segments) == 0 {
		if tokenLimit > 0 {
			m.EstimatedRemainingTokens = tokenLimit
		}
		return m
	}

	now := time.Now()
	var oldest, newest time.Time

	for i, s := range segments {
		tokens := int64(tokenCount(s))
		m.TotalTokens += tokens
		m.TotalSegments++
		m.TokensByType[s.Type] += tokens
		m.SegmentsByType[s.Type]++
		if s.TaskID != "" {
			m.TokensByTask[s.TaskID] += tokens
		}
		if s.Pinned {
			m.PinnedSegmentsCount++
			m.PinnedTokens += tokens
		}

		if i == 0 || s.CreatedAt.Before(oldest) {
			oldest = s.CreatedAt
		}
		if i == 0 || s.CreatedAt.After(newest) {
			newest = s.CreatedAt
		}
	}

	m.OldestSegmentAgeHours = now.Sub(oldest).Hours()
	m.NewestSegmentAgeHours = now.Sub(newest).Hours()

	if tokenLimit > 0 {
		m.UsagePercent = float64(m.TotalTokens) / float64(tokenLimit) * 100
		remaining := tokenLimit - m.TotalTokens
		if remaining < 0 {
			remaining = 0
		}
		m.EstimatedRemainingTokens = remaining
	}

	return m
}

func tokenCount(s *segment.Segment) uint32 {
	if s.Tokens != nil {
		return *s.Tokens
	}
	return 0
}

// HealthFactors is the factor breakdown behind a HealthScore.
type HealthFactors struct {
	UsageScore        float64
	AgePenalty        float64
	DistributionScore float64
}

// HealthScore computes spec.md §4.F's composite health score, clamped to
// [0, 100], plus its factor breakdown.
func HealthScore(m UsageMetrics) (float64, HealthFactors) {
	usageScore := 100 - m.UsagePercent
	if usageScore < 0 {
		usageScore = 0
	}

	oldestAgeDays := m.OldestSegmentAgeHours / 24
	agePenalty := oldestAgeDays * 2
	if agePenalty > 20 {
		agePenalty = 20
	}
	if agePenalty < 0 {
		agePenalty = 0
	}

	dominantShare := dominantTypeShare(m)
	distributionScore := 10 * (1 - dominantShare)
	if distributionScore < 0 {
		distributionScore = 0
	}
	if distributionScore > 10 {
		distributionScore = 10
	}

	score := usageScore - agePenalty + distributionScore
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	if m.TotalSegments == 0 {
		score = 100
	}

	return score, HealthFactors{UsageScore: usageScore, AgePenalty: agePenalty, DistributionScore: distributionScore}
}

func dominantTypeShare(m UsageMetrics) float64 {
	if m.TotalSegments == 0 {
		return 0
	}
	var max int
	for _, n := range m.SegmentsByType {
		if n > max {
			max = n
		}
	}
	return float64(max) / float64(m.TotalSegments)
}

// WarningLevel names a crossed threshold (spec.md §4.F).
type WarningLevel string

const (
	WarningNone    WarningLevel = ""
	WarningWarning WarningLevel = "WARNING"
	WarningHigh    WarningLevel = "HIGH"
	WarningUrgent  WarningLevel = "URGENT"
)

// SuggestedAction is one concrete operation a caller could execute.
type SuggestedAction struct {
	Action      string // "stash" or "delete"
	SegmentIDs  []string
	TokensFreed uint32
	Description string
}

// AnalysisResult bundles everything ContextManager.analyze returns on top
// of the raw metrics (spec.md §4.G).
type AnalysisResult struct {
	Usage             UsageMetrics
	Health            float64
	HealthFactors     HealthFactors
	Warnings          []string
	SuggestedActions  []SuggestedAction
	ImpactSummary     string
	PruningCandidates int
}

// Analyze runs the full threshold/recommendation pass described in
// spec.md §4.F, given the usage metrics and a ready-made pruning plan (the
// caller, normally ContextManager, is responsible for invoking GCEngine to
// produce it — Analyzer does not depend on GCEngine beyond the plan type
// it reports against).
func Analyze(m UsageMetrics, thresholds Thresholds, plan *gc.Plan) AnalysisResult {
	health, factors := HealthScore(m)
	result := AnalysisResult{Usage: m, Health: health, HealthFactors: factors}

	if m.TotalSegments == 0 {
		return result
	}

	level := crossedLevel(m.UsagePercent, thresholds)
	if level != WarningNone {
		if m.TotalSegments == m.PinnedSegmentsCount {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s: usage at %.1f%% but every segment is pinned; no prunable candidates", level, m.UsagePercent))
		} else {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: usage at %.1f%% of token limit", level, m.UsagePercent))
		}
	}

	if plan != nil {
		result.PruningCandidates = len(plan.Candidates)
		if plan.CapacityExceeded {
			result.Warnings = append(result.Warnings, "CAPACITY_EXCEEDED: requested more tokens than available among candidates")
		}
		if len(plan.Candidates) > 0 {
			action := "stash"
			ids := plan.StashIDs
			if len(plan.DeleteIDs) > 0 {
				action = "delete"
				ids = plan.DeleteIDs
			}
			result.SuggestedActions = append(result.SuggestedActions, SuggestedAction{
				Action:      action,
				SegmentIDs:  ids,
				TokensFreed: plan.TotalTokensFreed,
				Description: fmt.Sprintf("%s %d segment(s) to free ~%d tokens", action, len(ids), plan.TotalTokensFreed),
			})

			projected := m.TotalTokens - int64(plan.TotalTokensFreed)
			if projected < 0 {
				projected = 0
			}
			var pct float64
			if m.UsagePercent > 0 && m.TotalTokens > 0 {
				pct = float64(projected) / float64(m.TotalTokens) * m.UsagePercent
			}
			result.ImpactSummary = fmt.Sprintf("applying the top suggestion would reduce usage to ~%.1f%%", pct)
		}
	}

	return result
}

func crossedLevel(usagePercent float64, t Thresholds) WarningLevel {
	switch {
	case t.UrgentPct > 0 && usagePercent >= float64(t.UrgentPct):
		return WarningUrgent
	case t.HighPct > 0 && usagePercent >= float64(t.HighPct):
		return WarningHigh
	case t.WarningPct > 0 && usagePercent >= float64(t.WarningPct):
		return WarningWarning
	default:
		return WarningNone
	}
}

// SortedTaskIDs returns m.TokensByTask's keys sorted, a small helper for
// deterministic CLI/table output.
func SortedTaskIDs(m UsageMetrics) []string {
	ids := make([]string, 0, len(m.TokensByTask))
	for id := range m.TokensByTask {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
