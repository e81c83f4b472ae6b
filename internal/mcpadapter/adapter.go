// Package mcpadapter is the thin tool-calling adapter that exposes
// ContextManager operations as MCP tools (spec.md §1 Non-goals: "the outer
// tool-calling transport and its protocol framing" stay out of scope — this
// package only marshals requests/results, it does not reimplement MCP).
package mcpadapter

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/outofcontext/contextgcd/internal/index"
	"github.com/outofcontext/contextgcd/internal/manager"
	"github.com/outofcontext/contextgcd/pkg/version"
)

// ServeStdio runs the server over stdio until ctx is canceled.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.logger.Info("starting mcp server", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("mcp server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp server stopped gracefully")
	return nil
}

// Server wraps a Manager and exposes it over MCP.
type Server struct {
	mcp     *mcp.Server
	manager *manager.Manager
	logger  *slog.Logger
}

// New constructs a Server, registering every tool.
func New(mgr *manager.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		manager: mgr,
		logger:  logger,
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    "contextgcd",
			Version: version.Version,
		}, nil),
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying SDK server, e.g. to run it over stdio.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "analyze",
		Description: "Ingest optional context segments and report token usage, health score, threshold warnings, and suggested prune actions for a project.",
	}, s.handleAnalyze)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_working_set",
		Description: "Return the minimal subset of segments active for the current (or given) task: task segments, recent messages, pinned segments, and recent decisions. Active-file segments are not included: this tool takes no active file.",
	}, s.handleGetWorkingSet)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "gc_analyze",
		Description: "Compute root set, reachability, and a pruning plan without executing it.",
	}, s.handleGCAnalyze)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "gc_prune",
		Description: "Execute a stash or delete action on the given segment ids. Deleting requires confirm=true. Never prunes pinned segments.",
	}, s.handleGCPrune)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "pin",
		Description: "Pin segments so they are never selected for pruning.",
	}, s.handlePin)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "unpin",
		Description: "Unpin previously pinned segments.",
	}, s.handleUnpin)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "stash",
		Description: "Move segments from the active working set into persistent stashed storage.",
	}, s.handleStash)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_stashed",
		Description: "Keyword and metadata-filtered search over stashed segments.",
	}, s.handleSearchStashed)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "retrieve_stashed",
		Description: "Load stashed segments by id, optionally moving them back into the active working set.",
	}, s.handleRetrieveStashed)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "set_current_task",
		Description: "Set the project's current task, used by working-set and GC root-set computation when task_id is omitted.",
	}, s.handleSetCurrentTask)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_task_context",
		Description: "Return every segment belonging to a task and the sum of their cached token counts.",
	}, s.handleGetTaskContext)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "create_task_snapshot",
		Description: "Freeze the current task's segment ids into a named, retrievable snapshot.",
	}, s.handleCreateTaskSnapshot)

	s.logger.Info("mcp tools registered", slog.Int("count", 12))
}

// --- request/response shapes ---

type SegmentDescriptorInput struct {
	SegmentID string   `json:"segment_id,omitempty"`
	TaskID    string   `json:"task_id,omitempty"`
	Text      string   `json:"text"`
	Type      string   `json:"type"`
	FilePath  string   `json:"file_path,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	TopicID   string   `json:"topic_id,omitempty"`
	Pinned    bool     `json:"pinned,omitempty"`
}

type AnalyzeInput struct {
	ProjectID   string                    `json:"project_id"`
	TaskID      string                    `json:"task_id,omitempty"`
	TokenLimit  int64                     `json:"token_limit,omitempty"`
	Descriptors []SegmentDescriptorInput  `json:"descriptors,omitempty"`
}

type AnalyzeOutput struct {
	TotalTokens       int64    `json:"total_tokens"`
	TotalSegments     int      `json:"total_segments"`
	UsagePercent      float64  `json:"usage_percent"`
	Health            float64  `json:"health_score"`
	Warnings          []string `json:"warnings"`
	SuggestedActions  []string `json:"suggested_actions"`
	ImpactSummary     string   `json:"impact_summary,omitempty"`
	PruningCandidates int      `json:"pruning_candidates"`
}

func (s *Server) handleAnalyze(ctx context.Context, _ *mcp.CallToolRequest, in AnalyzeInput) (*mcp.CallToolResult, AnalyzeOutput, error) {
	if in.ProjectID == "" {
		return nil, AnalyzeOutput{}, invalidArgument("project_id is required")
	}

	descriptors := make([]manager.SegmentDescriptor, 0, len(in.Descriptors))
	for _, d := range in.Descriptors {
		descriptors = append(descriptors, manager.SegmentDescriptor{
			SegmentID: d.SegmentID,
			TaskID:    d.TaskID,
			Text:      d.Text,
			Type:      segmentType(d.Type),
			FilePath:  d.FilePath,
			Tags:      d.Tags,
			TopicID:   d.TopicID,
			Pinned:    d.Pinned,
		})
	}

	result, err := s.manager.Analyze(manager.AnalyzeRequest{
		ProjectID:   in.ProjectID,
		TaskID:      in.TaskID,
		TokenLimit:  in.TokenLimit,
		Descriptors: descriptors,
	})
	if err != nil {
		return nil, AnalyzeOutput{}, err
	}

	out := AnalyzeOutput{
		TotalTokens:       result.Usage.TotalTokens,
		TotalSegments:     result.Usage.TotalSegments,
		UsagePercent:      result.Usage.UsagePercent,
		Health:            result.Health,
		Warnings:          result.Warnings,
		ImpactSummary:     result.ImpactSummary,
		PruningCandidates: result.PruningCandidates,
	}
	for _, a := range result.SuggestedActions {
		out.SuggestedActions = append(out.SuggestedActions, a.Description)
	}
	return nil, out, nil
}

type ProjectTaskInput struct {
	ProjectID string `json:"project_id"`
	TaskID    string `json:"task_id,omitempty"`
}

type WorkingSetOutput struct {
	SegmentIDs []string `json:"segment_ids"`
	Tokens     int64    `json:"tokens"`
}

func (s *Server) handleGetWorkingSet(ctx context.Context, _ *mcp.CallToolRequest, in ProjectTaskInput) (*mcp.CallToolResult, WorkingSetOutput, error) {
	if in.ProjectID == "" {
		return nil, WorkingSetOutput{}, invalidArgument("project_id is required")
	}
	ws, err := s.manager.GetWorkingSet(in.ProjectID, in.TaskID)
	if err != nil {
		return nil, WorkingSetOutput{}, err
	}
	out := WorkingSetOutput{Tokens: ws.Tokens}
	for _, seg := range ws.Segments {
		out.SegmentIDs = append(out.SegmentIDs, seg.SegmentID)
	}
	return nil, out, nil
}

type GCAnalyzeInput struct {
	ProjectID    string `json:"project_id"`
	TaskID       string `json:"task_id,omitempty"`
	ActiveFile   string `json:"active_file,omitempty"`
	TargetTokens uint32 `json:"target_tokens"`
}

type GCCandidateOutput struct {
	SegmentID string  `json:"segment_id"`
	Score     float64 `json:"score"`
	Tokens    uint32  `json:"tokens"`
	Reason    string  `json:"reason"`
}

type GCAnalyzeOutput struct {
	Candidates       []GCCandidateOutput `json:"candidates"`
	TotalTokensFreed uint32              `json:"total_tokens_freed"`
	CapacityExceeded bool                `json:"capacity_exceeded"`
}

func (s *Server) handleGCAnalyze(ctx context.Context, _ *mcp.CallToolRequest, in GCAnalyzeInput) (*mcp.CallToolResult, GCAnalyzeOutput, error) {
	if in.ProjectID == "" {
		return nil, GCAnalyzeOutput{}, invalidArgument("project_id is required")
	}
	res, err := s.manager.GCAnalyze(manager.GCAnalyzeRequest{
		ProjectID:    in.ProjectID,
		TaskID:       in.TaskID,
		ActiveFile:   in.ActiveFile,
		TargetTokens: in.TargetTokens,
	})
	if err != nil {
		return nil, GCAnalyzeOutput{}, err
	}

	out := GCAnalyzeOutput{TotalTokensFreed: res.Plan.TotalTokensFreed, CapacityExceeded: res.Plan.CapacityExceeded}
	for _, c := range res.Plan.Candidates {
		out.Candidates = append(out.Candidates, GCCandidateOutput{SegmentID: c.SegmentID, Score: c.Score, Tokens: c.Tokens, Reason: c.Reason})
	}
	return nil, out, nil
}

type GCPruneInput struct {
	ProjectID  string   `json:"project_id"`
	SegmentIDs []string `json:"segment_ids"`
	Action     string   `json:"action"` // "stash" or "delete"
	Confirm    bool     `json:"confirm,omitempty"`
}

type BulkIDOutput struct {
	AppliedIDs []string          `json:"applied_ids"`
	Errors     map[string]string `json:"errors,omitempty"`
}

func (s *Server) handleGCPrune(ctx context.Context, _ *mcp.CallToolRequest, in GCPruneInput) (*mcp.CallToolResult, BulkIDOutput, error) {
	if in.ProjectID == "" {
		return nil, BulkIDOutput{}, invalidArgument("project_id is required")
	}
	action := manager.ActionStash
	if in.Action == "delete" {
		action = manager.ActionDelete
	}
	res, err := s.manager.GCPrune(in.ProjectID, in.SegmentIDs, action, in.Confirm)
	if err != nil {
		return nil, BulkIDOutput{}, err
	}
	return nil, BulkIDOutput{AppliedIDs: res.AppliedIDs, Errors: res.Errors}, nil
}

type PinInput struct {
	ProjectID  string   `json:"project_id"`
	SegmentIDs []string `json:"segment_ids"`
}

func (s *Server) handlePin(ctx context.Context, _ *mcp.CallToolRequest, in PinInput) (*mcp.CallToolResult, BulkIDOutput, error) {
	return s.pinUnpin(in, true)
}

func (s *Server) handleUnpin(ctx context.Context, _ *mcp.CallToolRequest, in PinInput) (*mcp.CallToolResult, BulkIDOutput, error) {
	return s.pinUnpin(in, false)
}

func (s *Server) pinUnpin(in PinInput, pin bool) (*mcp.CallToolResult, BulkIDOutput, error) {
	if in.ProjectID == "" {
		return nil, BulkIDOutput{}, invalidArgument("project_id is required")
	}
	res, err := s.manager.PinUnpin(in.ProjectID, in.SegmentIDs, pin)
	if err != nil {
		return nil, BulkIDOutput{}, err
	}
	return nil, BulkIDOutput{AppliedIDs: res.OK, Errors: res.Errors}, nil
}

type StashInput struct {
	ProjectID  string   `json:"project_id"`
	SegmentIDs []string `json:"segment_ids"`
}

func (s *Server) handleStash(ctx context.Context, _ *mcp.CallToolRequest, in StashInput) (*mcp.CallToolResult, BulkIDOutput, error) {
	if in.ProjectID == "" {
		return nil, BulkIDOutput{}, invalidArgument("project_id is required")
	}
	res, err := s.manager.Stash(in.ProjectID, in.SegmentIDs)
	if err != nil {
		return nil, BulkIDOutput{}, err
	}
	return nil, BulkIDOutput{AppliedIDs: res.StashedIDs, Errors: res.Errors}, nil
}

type SearchStashedInput struct {
	ProjectID string `json:"project_id"`
	Query     string `json:"query,omitempty"`
	FilePath  string `json:"file_path,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	Tag       string `json:"tag,omitempty"`
	Type      string `json:"type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type SearchStashedOutput struct {
	SegmentIDs []string `json:"segment_ids"`
}

func (s *Server) handleSearchStashed(ctx context.Context, _ *mcp.CallToolRequest, in SearchStashedInput) (*mcp.CallToolResult, SearchStashedOutput, error) {
	if in.ProjectID == "" {
		return nil, SearchStashedOutput{}, invalidArgument("project_id is required")
	}
	filter := index.Filter{
		FilePath: in.FilePath,
		TaskID:   in.TaskID,
		Tag:      in.Tag,
	}
	if in.Type != "" {
		filter.Type = segmentType(in.Type)
	}
	segs, err := s.manager.SearchStashed(manager.SearchRequest{
		ProjectID: in.ProjectID,
		Query:     in.Query,
		Filter:    filter,
		Limit:     in.Limit,
	})
	if err != nil {
		return nil, SearchStashedOutput{}, err
	}
	out := SearchStashedOutput{}
	for _, seg := range segs {
		out.SegmentIDs = append(out.SegmentIDs, seg.SegmentID)
	}
	return nil, out, nil
}

type RetrieveStashedInput struct {
	ProjectID    string   `json:"project_id"`
	SegmentIDs   []string `json:"segment_ids"`
	MoveToActive bool     `json:"move_to_active,omitempty"`
}

type RetrieveStashedOutput struct {
	SegmentIDs []string `json:"segment_ids"`
}

func (s *Server) handleRetrieveStashed(ctx context.Context, _ *mcp.CallToolRequest, in RetrieveStashedInput) (*mcp.CallToolResult, RetrieveStashedOutput, error) {
	if in.ProjectID == "" {
		return nil, RetrieveStashedOutput{}, invalidArgument("project_id is required")
	}
	segs, err := s.manager.RetrieveStashed(in.ProjectID, in.SegmentIDs, in.MoveToActive)
	if err != nil {
		return nil, RetrieveStashedOutput{}, err
	}
	out := RetrieveStashedOutput{}
	for _, seg := range segs {
		out.SegmentIDs = append(out.SegmentIDs, seg.SegmentID)
	}
	return nil, out, nil
}

type SetCurrentTaskOutput struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

func (s *Server) handleSetCurrentTask(ctx context.Context, _ *mcp.CallToolRequest, in ProjectTaskInput) (*mcp.CallToolResult, SetCurrentTaskOutput, error) {
	if in.ProjectID == "" {
		return nil, SetCurrentTaskOutput{}, invalidArgument("project_id is required")
	}
	prev, cur := s.manager.SetCurrentTask(in.ProjectID, in.TaskID)
	return nil, SetCurrentTaskOutput{Previous: prev, Current: cur}, nil
}

type TaskContextOutput struct {
	SegmentIDs []string `json:"segment_ids"`
	Tokens     int64    `json:"tokens"`
}

func (s *Server) handleGetTaskContext(ctx context.Context, _ *mcp.CallToolRequest, in ProjectTaskInput) (*mcp.CallToolResult, TaskContextOutput, error) {
	if in.ProjectID == "" {
		return nil, TaskContextOutput{}, invalidArgument("project_id is required")
	}
	tc, err := s.manager.GetTaskContext(in.ProjectID, in.TaskID)
	if err != nil {
		return nil, TaskContextOutput{}, err
	}
	out := TaskContextOutput{Tokens: tc.Tokens}
	for _, seg := range tc.Segments {
		out.SegmentIDs = append(out.SegmentIDs, seg.SegmentID)
	}
	return nil, out, nil
}

type CreateSnapshotInput struct {
	ProjectID string `json:"project_id"`
	TaskID    string `json:"task_id,omitempty"`
	Name      string `json:"name,omitempty"`
}

type CreateSnapshotOutput struct {
	SnapshotID   string `json:"snapshot_id"`
	SegmentCount int    `json:"segment_count"`
	TotalTokens  int64  `json:"total_tokens"`
}

func (s *Server) handleCreateTaskSnapshot(ctx context.Context, _ *mcp.CallToolRequest, in CreateSnapshotInput) (*mcp.CallToolResult, CreateSnapshotOutput, error) {
	if in.ProjectID == "" {
		return nil, CreateSnapshotOutput{}, invalidArgument("project_id is required")
	}
	snap, stats, err := s.manager.CreateTaskSnapshot(in.ProjectID, in.TaskID, in.Name)
	if err != nil {
		return nil, CreateSnapshotOutput{}, err
	}
	return nil, CreateSnapshotOutput{SnapshotID: snap.SnapshotID, SegmentCount: stats.SegmentCount, TotalTokens: stats.TotalTokens}, nil
}
