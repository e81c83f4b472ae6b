package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.WriteToStderr = false

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	defer cleanup()

	logger.Info("segment stashed", "segment_id", "seg-1", "project_id", "proj")
	cleanup()

	data, err := os.ReadFile(cfg.FilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "segment stashed")
	assert.Contains(t, string(data), "seg-1")
}

func TestDefaultPathsNestUnderStorageDir(t *testing.T) {
	dir := "/tmp/some-storage"
	assert.Equal(t, filepath.Join(dir, "logs"), DefaultLogDir(dir))
	assert.Equal(t, filepath.Join(dir, "logs", "engine.log"), DefaultLogPath(dir))
}

func TestFindLogFileMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := FindLogFile(dir, "")
	assert.Error(t, err)
}
