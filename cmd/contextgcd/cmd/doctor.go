package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/outofcontext/contextgcd/internal/config"
	"github.com/outofcontext/contextgcd/internal/tokenizer"
)

// checkResult is one diagnostic outcome (teacher's doctor.go groups checks
// the same way: name, pass/fail, a human-readable detail).
type checkResult struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Detail  string `json:"detail,omitempty"`
	Warning bool   `json:"warning,omitempty"`
}

func newDoctorCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the engine can load config, storage, and the tokenizer",
		Long: `Run diagnostics to confirm contextgcd can operate against the
configured storage directory:
  - config loads and validates
  - storage path exists or can be created, and is writable
  - the tokenizer model loads`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runDoctor(cmd *cobra.Command, jsonOutput bool) error {
	var results []checkResult

	cfg, err := config.Load(projectDir)
	if err != nil {
		results = append(results, checkResult{Name: "config", OK: false, Detail: err.Error()})
		return report(cmd, results, jsonOutput)
	}
	results = append(results, checkResult{Name: "config", OK: true, Detail: fmt.Sprintf("storage_path=%s token_limit=%d", cfg.Storage.Path, cfg.Tokens.Limit)})

	results = append(results, checkStorageWritable(cfg.Storage.Path))

	if _, err := tokenizer.New(cfg.Tokens.TokenizerModel); err != nil {
		results = append(results, checkResult{Name: "tokenizer", OK: false, Detail: err.Error()})
	} else {
		results = append(results, checkResult{Name: "tokenizer", OK: true, Detail: cfg.Tokens.TokenizerModel})
	}

	return report(cmd, results, jsonOutput)
}

func checkStorageWritable(path string) checkResult {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return checkResult{Name: "storage", OK: false, Detail: err.Error()}
	}
	probe := filepath.Join(path, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return checkResult{Name: "storage", OK: false, Detail: err.Error()}
	}
	_ = os.Remove(probe)
	return checkResult{Name: "storage", OK: true, Detail: path}
}

func report(cmd *cobra.Command, results []checkResult, jsonOutput bool) error {
	w := cmd.OutOrStdout()

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	failed := false
	for _, r := range results {
		status := "OK"
		if !r.OK {
			status = "FAIL"
			failed = true
		}
		fmt.Fprintf(w, "[%s] %-12s %s\n", status, r.Name, r.Detail)
	}
	if failed {
		return fmt.Errorf("one or more checks failed")
	}
	return nil
}
