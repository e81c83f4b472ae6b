package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/outofcontext/contextgcd/internal/analyzer"
	"github.com/outofcontext/contextgcd/internal/manager"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool
	var projectID string
	var taskID string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show token usage, health score, and warnings for a project",
		Long: `Display the same usage metrics, health score, and threshold
warnings an agent would see from the analyze MCP tool, without ingesting
any new segments.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd, projectID, taskID, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "project id (required)")
	cmd.Flags().StringVar(&taskID, "task", "", "task id to scope root-set computation to")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func runStats(cmd *cobra.Command, projectID, taskID string, jsonOutput bool) error {
	a, err := newApp(projectDir, false)
	if err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	defer a.cleanup()

	result, err := a.manager.Analyze(manager.AnalyzeRequest{ProjectID: projectID, TaskID: taskID})
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	printStats(cmd, result)
	return nil
}

func printStats(cmd *cobra.Command, result analyzer.AnalysisResult) {
	w := cmd.OutOrStdout()

	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)

	tbl.AppendHeader(table.Row{"metric", "value"})
	tbl.AppendRow(table.Row{"total segments", result.Usage.TotalSegments})
	tbl.AppendRow(table.Row{"total tokens", humanize.Comma(result.Usage.TotalTokens)})
	tbl.AppendRow(table.Row{"usage", fmt.Sprintf("%.1f%%", result.Usage.UsagePercent)})
	tbl.AppendRow(table.Row{"pinned segments", result.Usage.PinnedSegmentsCount})
	tbl.AppendRow(table.Row{"pinned tokens", humanize.Comma(result.Usage.PinnedTokens)})
	tbl.AppendRow(table.Row{"health score", fmt.Sprintf("%.1f / 100", result.Health)})
	tbl.AppendRow(table.Row{"pruning candidates", result.PruningCandidates})
	tbl.Render()

	if len(result.Warnings) > 0 {
		fmt.Fprintln(w, "\nwarnings:")
		for _, warning := range result.Warnings {
			fmt.Fprintf(w, "  - %s\n", warning)
		}
	}

	if result.ImpactSummary != "" {
		fmt.Fprintf(w, "\n%s\n", result.ImpactSummary)
	}

	if len(result.SuggestedActions) > 0 {
		fmt.Fprintln(w, "\nsuggested actions:")
		for _, action := range result.SuggestedActions {
			fmt.Fprintf(w, "  - %s (%s tokens freed)\n", action.Description, humanize.Comma(int64(action.TokensFreed)))
		}
	}
}
