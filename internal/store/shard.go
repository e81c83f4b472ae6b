package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/outofcontext/contextgcd/internal/ctxerrors"
	"github.com/outofcontext/contextgcd/internal/segment"
)

const shardVersion = "1.0"

// shardDocument is the on-disk shard file format (spec.md §6.2).
type shardDocument struct {
	Version  string             `json:"version"`
	Segments []*segment.Segment `json:"segments"`
}

// shardPath returns the path of the stashed-tier shard file for a project.
func shardPath(rootDir, projectID string) string {
	return filepath.Join(rootDir, "stashed", projectID+".json")
}

// evictedDir returns the directory holding active-tier eviction mirrors for
// a project.
func evictedDir(rootDir, projectID string) string {
	return filepath.Join(rootDir, "evicted", projectID)
}

// evictedPath returns the mirror file path for one evicted segment.
func evictedPath(rootDir, projectID, segmentID string) string {
	return filepath.Join(evictedDir(rootDir, projectID), segmentID+".json")
}

// loadShard reads and parses a shard file. A missing file is not an error —
// it is reported as an empty shard, matching "no segments stashed yet".
// A shard whose JSON is invalid surfaces a StorageCorrupt error so the
// caller can log it and continue with an empty shard for that project
// (spec.md §4.D startup recovery, step 2).
func loadShard(path string) (*shardDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &shardDocument{Version: shardVersion}, nil
		}
		return nil, ctxerrors.StorageIO(fmt.Sprintf("read shard %s", path), err)
	}

	var doc shardDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, ctxerrors.StorageCorrupt(path, err)
	}
	if doc.Version == "" {
		doc.Version = shardVersion
	}
	return &doc, nil
}

// saveShardAtomic writes doc to path using write-temp-then-rename, holding
// an advisory file lock for the duration so a concurrent process touching
// the same shard cannot interleave a partial write.
func saveShardAtomic(path string, doc *shardDocument) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ctxerrors.StorageIO(fmt.Sprintf("mkdir for shard %s", path), err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return ctxerrors.StorageIO(fmt.Sprintf("lock shard %s", path), err)
	}
	defer lock.Unlock()

	doc.Version = shardVersion
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return ctxerrors.Internal(fmt.Sprintf("marshal shard %s", path), err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return ctxerrors.StorageIO(fmt.Sprintf("write temp shard %s", tmpPath), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return ctxerrors.StorageIO(fmt.Sprintf("rename temp shard %s", tmpPath), err)
	}
	return nil
}

// cleanTempFiles removes leftover *.tmp files under rootDir's stashed and
// evicted directories (spec.md §4.D startup recovery, step 1).
func cleanTempFiles(rootDir string) error {
	for _, sub := range []string{"stashed", "evicted"} {
		dir := filepath.Join(rootDir, sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return ctxerrors.StorageIO(fmt.Sprintf("scan %s for temp files", dir), err)
		}
		for _, e := range entries {
			if e.IsDir() {
				nested := filepath.Join(dir, e.Name())
				nestedEntries, err := os.ReadDir(nested)
				if err != nil {
					continue
				}
				for _, ne := range nestedEntries {
					if filepath.Ext(ne.Name()) == ".tmp" {
						_ = os.Remove(filepath.Join(nested, ne.Name()))
					}
				}
				continue
			}
			if filepath.Ext(e.Name()) == ".tmp" {
				_ = os.Remove(filepath.Join(dir, e.Name()))
			}
		}
	}
	return nil
}
