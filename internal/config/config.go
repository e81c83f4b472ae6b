// Package config loads the context engine's configuration.
// It mirrors spec.md §6.3: hardcoded defaults, overridden by a user config,
// then a project config, then environment variables (highest precedence).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration.
type Config struct {
	Version    int             `yaml:"version" json:"version"`
	Storage    StorageConfig   `yaml:"storage" json:"storage"`
	Tokens     TokenConfig     `yaml:"tokens" json:"tokens"`
	Index      IndexConfig     `yaml:"index" json:"index"`
	GC         GCConfig        `yaml:"gc" json:"gc"`
	Thresholds ThresholdConfig `yaml:"thresholds" json:"thresholds"`
	Server     ServerConfig    `yaml:"server" json:"server"`
}

// StorageConfig configures where and how segments are persisted.
type StorageConfig struct {
	// Path is the persistence root (spec.md §6.1). Default ~/.out_of_context.
	Path string `yaml:"storage_path" json:"storage_path"`
	// MaxActiveSegments bounds the in-memory LRU active tier per project.
	MaxActiveSegments int `yaml:"max_active_segments" json:"max_active_segments"`
	// EnableFileSharding is loaded and merged but not read by the store,
	// which always writes one shard file per project. Default true.
	EnableFileSharding bool `yaml:"enable_file_sharding" json:"enable_file_sharding"`
}

// TokenConfig configures token accounting.
type TokenConfig struct {
	// Limit is the per-project token budget used for usage_percent.
	// Default 1,000,000 (spec.md's Open Questions resolve the source's
	// 32,000-vs-1,000,000 ambiguity in favor of this value).
	Limit int64 `yaml:"token_limit" json:"token_limit"`
	// TokenizerModel selects the BPE encoding table (default cl100k_base,
	// the GPT-4-family encoding).
	TokenizerModel string `yaml:"default_tokenizer_model" json:"default_tokenizer_model"`
}

// IndexConfig toggles the inverted/metadata indexes.
type IndexConfig struct {
	// EnableIndexing is loaded and merged but not read by the engine; the
	// inverted index is maintained whatever its value.
	EnableIndexing bool `yaml:"enable_indexing" json:"enable_indexing"`
}

// GCConfig configures root-set and generation parameters for GCEngine.
type GCConfig struct {
	// RecentMessagesN is the number of most-recent messages always in the root set.
	RecentMessagesN int `yaml:"gc_recent_messages_n" json:"gc_recent_messages_n"`
	// YoungToOldSurvival is loaded and validated but not read by the
	// engine: no code counts sweep survivals or promotes a segment from
	// generation young to old.
	YoungToOldSurvival int `yaml:"gc_young_to_old_survival" json:"gc_young_to_old_survival"`
	// RecentDecisionWindow is loaded and merged but not passed to the GC
	// root set, which always uses a one-hour window for recent decisions.
	RecentDecisionWindow string `yaml:"gc_recent_decision_window" json:"gc_recent_decision_window"`
}

// ThresholdConfig configures the Analyzer's warning thresholds (percent of token_limit).
type ThresholdConfig struct {
	WarningPct int `yaml:"warning_threshold_pct" json:"warning_threshold_pct"`
	HighPct    int `yaml:"high_threshold_pct" json:"high_threshold_pct"`
	UrgentPct  int `yaml:"urgent_threshold_pct" json:"urgent_threshold_pct"`
}

// ServerConfig configures the (out-of-scope) outer tool-calling transport
// adapter, carried here only so cmd/contextgcd can wire it.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// projectConfigFileNames are tried in order when loading a project-local config.
var projectConfigFileNames = []string{".out_of_context.yaml", ".out_of_context.yml"}

// NewConfig returns a Config populated with spec.md §6.3 defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Storage: StorageConfig{
			Path:               DefaultStoragePath(),
			MaxActiveSegments:  10_000,
			EnableFileSharding: true,
		},
		Tokens: TokenConfig{
			Limit:          1_000_000,
			TokenizerModel: "cl100k_base",
		},
		Index: IndexConfig{
			EnableIndexing: true,
		},
		GC: GCConfig{
			RecentMessagesN:      10,
			YoungToOldSurvival:   3,
			RecentDecisionWindow: "1h",
		},
		Thresholds: ThresholdConfig{
			WarningPct: 60,
			HighPct:    80,
			UrgentPct:  90,
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
	}
}

// DefaultStoragePath returns ~/.out_of_context, falling back to a temp
// directory if the home directory cannot be resolved.
func DefaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".out_of_context")
	}
	return filepath.Join(home, ".out_of_context")
}

// GetUserConfigPath returns the user/global config file path, honoring
// XDG_CONFIG_HOME when set.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "out_of_context", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "out_of_context", "config.yaml")
	}
	return filepath.Join(home, ".config", "out_of_context", "config.yaml")
}

// Load resolves configuration with precedence:
//  1. hardcoded defaults
//  2. user/global config (~/.config/out_of_context/config.yaml)
//  3. project config (.out_of_context.yaml in dir)
//  4. OUT_OF_CONTEXT_* environment variables (highest)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadIfExists(GetUserConfigPath()); err != nil {
		return nil, fmt.Errorf("load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	for _, name := range projectConfigFileNames {
		path := filepath.Join(dir, name)
		if projCfg, err := loadIfExists(path); err != nil {
			return nil, fmt.Errorf("load project config %s: %w", path, err)
		} else if projCfg != nil {
			cfg.mergeWith(projCfg)
			break
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadIfExists(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &parsed, nil
}

// mergeWith overlays non-zero values from other onto c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.Storage.Path != "" {
		c.Storage.Path = other.Storage.Path
	}
	if other.Storage.MaxActiveSegments != 0 {
		c.Storage.MaxActiveSegments = other.Storage.MaxActiveSegments
	}
	c.Storage.EnableFileSharding = other.Storage.EnableFileSharding || c.Storage.EnableFileSharding
	if other.Tokens.Limit != 0 {
		c.Tokens.Limit = other.Tokens.Limit
	}
	if other.Tokens.TokenizerModel != "" {
		c.Tokens.TokenizerModel = other.Tokens.TokenizerModel
	}
	c.Index.EnableIndexing = other.Index.EnableIndexing || c.Index.EnableIndexing
	if other.GC.RecentMessagesN != 0 {
		c.GC.RecentMessagesN = other.GC.RecentMessagesN
	}
	if other.GC.YoungToOldSurvival != 0 {
		c.GC.YoungToOldSurvival = other.GC.YoungToOldSurvival
	}
	if other.GC.RecentDecisionWindow != "" {
		c.GC.RecentDecisionWindow = other.GC.RecentDecisionWindow
	}
	if other.Thresholds.WarningPct != 0 {
		c.Thresholds.WarningPct = other.Thresholds.WarningPct
	}
	if other.Thresholds.HighPct != 0 {
		c.Thresholds.HighPct = other.Thresholds.HighPct
	}
	if other.Thresholds.UrgentPct != 0 {
		c.Thresholds.UrgentPct = other.Thresholds.UrgentPct
	}
	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

// applyEnvOverrides applies OUT_OF_CONTEXT_* environment variables.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OUT_OF_CONTEXT_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("OUT_OF_CONTEXT_TOKEN_LIMIT"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Tokens.Limit = n
		}
	}
	if v := os.Getenv("OUT_OF_CONTEXT_MAX_ACTIVE_SEGMENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Storage.MaxActiveSegments = n
		}
	}
	if v := os.Getenv("OUT_OF_CONTEXT_ENABLE_INDEXING"); v != "" {
		c.Index.EnableIndexing = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("OUT_OF_CONTEXT_WARNING_THRESHOLD_PCT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Thresholds.WarningPct = n
		}
	}
	if v := os.Getenv("OUT_OF_CONTEXT_HIGH_THRESHOLD_PCT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Thresholds.HighPct = n
		}
	}
	if v := os.Getenv("OUT_OF_CONTEXT_URGENT_THRESHOLD_PCT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Thresholds.UrgentPct = n
		}
	}
	if v := os.Getenv("OUT_OF_CONTEXT_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// Validate rejects configurations that would violate spec.md invariants.
func (c *Config) Validate() error {
	if c.Tokens.Limit <= 0 {
		return fmt.Errorf("tokens.token_limit must be positive, got %d", c.Tokens.Limit)
	}
	if c.Storage.MaxActiveSegments <= 0 {
		return fmt.Errorf("storage.max_active_segments must be positive, got %d", c.Storage.MaxActiveSegments)
	}
	if c.GC.RecentMessagesN < 0 {
		return fmt.Errorf("gc.gc_recent_messages_n must be non-negative, got %d", c.GC.RecentMessagesN)
	}
	if c.GC.YoungToOldSurvival < 0 {
		return fmt.Errorf("gc.gc_young_to_old_survival must be non-negative, got %d", c.GC.YoungToOldSurvival)
	}
	if !(0 < c.Thresholds.WarningPct && c.Thresholds.WarningPct < c.Thresholds.HighPct &&
		c.Thresholds.HighPct < c.Thresholds.UrgentPct && c.Thresholds.UrgentPct <= 100) {
		return fmt.Errorf("thresholds must satisfy 0 < warning < high < urgent <= 100, got %d/%d/%d",
			c.Thresholds.WarningPct, c.Thresholds.HighPct, c.Thresholds.UrgentPct)
	}
	return nil
}
