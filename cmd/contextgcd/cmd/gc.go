package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/outofcontext/contextgcd/internal/manager"
)

func newGCCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Inspect and run garbage collection over a project's segments",
	}

	cmd.AddCommand(newGCAnalyzeCmd())
	cmd.AddCommand(newGCPruneCmd())
	return cmd
}

func newGCAnalyzeCmd() *cobra.Command {
	var projectID, taskID, activeFile string
	var targetTokens uint32
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Compute a pruning plan without executing it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(projectDir, false)
			if err != nil {
				return fmt.Errorf("initialize engine: %w", err)
			}
			defer a.cleanup()

			res, err := a.manager.GCAnalyze(manager.GCAnalyzeRequest{
				ProjectID:    projectID,
				TaskID:       taskID,
				ActiveFile:   activeFile,
				TargetTokens: targetTokens,
			})
			if err != nil {
				return fmt.Errorf("gc analyze: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			w := cmd.OutOrStdout()
			tbl := table.NewWriter()
			tbl.SetOutputMirror(w)
			tbl.SetStyle(table.StyleLight)
			tbl.AppendHeader(table.Row{"segment_id", "score", "tokens", "reason"})
			for _, c := range res.Plan.Candidates {
				tbl.AppendRow(table.Row{c.SegmentID, fmt.Sprintf("%.3f", c.Score), c.Tokens, c.Reason})
			}
			tbl.AppendFooter(table.Row{"", "", humanize.Comma(int64(res.Plan.TotalTokensFreed)), "total tokens freed"})
			tbl.Render()
			if res.Plan.CapacityExceeded {
				fmt.Fprintln(w, "\nCAPACITY_EXCEEDED: target not reached with available candidates")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "project id (required)")
	cmd.Flags().StringVar(&taskID, "task", "", "task id to scope roots to")
	cmd.Flags().StringVar(&activeFile, "active-file", "", "file path currently open, added to the root set")
	cmd.Flags().Uint32Var(&targetTokens, "target-tokens", 0, "tokens to try to free")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func newGCPruneCmd() *cobra.Command {
	var projectID string
	var segmentIDs []string
	var action string
	var confirm bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Stash or delete segments",
		Long:  `Deleting is irreversible and requires --confirm. Stashing moves segments into persistent storage instead of the active working set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(projectDir, false)
			if err != nil {
				return fmt.Errorf("initialize engine: %w", err)
			}
			defer a.cleanup()

			pruneAction := manager.ActionStash
			if action == "delete" {
				pruneAction = manager.ActionDelete
			}

			res, err := a.manager.GCPrune(projectID, segmentIDs, pruneAction, confirm)
			if err != nil {
				return fmt.Errorf("gc prune: %w", err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "applied to %d segment(s)\n", len(res.AppliedIDs))
			for id, msg := range res.Errors {
				fmt.Fprintf(w, "  error: %s: %s\n", id, msg)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "project id (required)")
	cmd.Flags().StringSliceVar(&segmentIDs, "ids", nil, "segment ids to prune (required)")
	cmd.Flags().StringVar(&action, "action", "stash", "stash or delete")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "required to actually delete segments")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("ids")

	return cmd
}
