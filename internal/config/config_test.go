package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, int64(1_000_000), cfg.Tokens.Limit, "spec.md defaults token_limit to 1,000,000")
	assert.Equal(t, 10_000, cfg.Storage.MaxActiveSegments)
	assert.Equal(t, 60, cfg.Thresholds.WarningPct)
	assert.Equal(t, 80, cfg.Thresholds.HighPct)
	assert.Equal(t, 90, cfg.Thresholds.UrgentPct)
	assert.Equal(t, 10, cfg.GC.RecentMessagesN)
	assert.Equal(t, 3, cfg.GC.YoungToOldSurvival)
	assert.NoError(t, cfg.Validate())
}

func TestLoadProjectConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("tokens:\n  token_limit: 50000\nthresholds:\n  warning_threshold_pct: 50\n  high_threshold_pct: 70\n  urgent_threshold_pct: 85\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".out_of_context.yaml"), yaml, 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), cfg.Tokens.Limit)
	assert.Equal(t, 50, cfg.Thresholds.WarningPct)
}

func TestEnvOverridesHavePrecedence(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("tokens:\n  token_limit: 50000\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".out_of_context.yaml"), yaml, 0o644))

	t.Setenv("OUT_OF_CONTEXT_TOKEN_LIMIT", "77777")
	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(77777), cfg.Tokens.Limit)
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cfg := NewConfig()
	cfg.Thresholds.WarningPct = 90
	cfg.Thresholds.HighPct = 80
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveTokenLimit(t *testing.T) {
	cfg := NewConfig()
	cfg.Tokens.Limit = 0
	assert.Error(t, cfg.Validate())
}
