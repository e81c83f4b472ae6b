// Package cmd provides the CLI commands for contextgcd.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/outofcontext/contextgcd/pkg/version"
)

// projectDir is the directory config.Load resolves project config from.
var projectDir string

// NewRootCmd creates the root command for the contextgcd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contextgcd",
		Short: "Context-management cache and garbage collection engine for AI coding agents",
		Long: `contextgcd stores, indexes, scores, and prunes the context segments an
AI coding agent accumulates over a long session, so agents stop drowning
in their own history.

Run 'contextgcd serve' to expose it to an agent over MCP, or use the
other subcommands to inspect and manage a project's stored context
directly.`,
		Version: version.Version,
	}

	cmd.SetVersionTemplate("contextgcd version {{.Version}}\n")
	cmd.PersistentFlags().StringVar(&projectDir, "dir", ".", "project directory to resolve config from")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newGCCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
