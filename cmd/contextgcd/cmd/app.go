package cmd

import (
	"log/slog"

	"github.com/outofcontext/contextgcd/internal/analyzer"
	"github.com/outofcontext/contextgcd/internal/config"
	"github.com/outofcontext/contextgcd/internal/index"
	"github.com/outofcontext/contextgcd/internal/logging"
	"github.com/outofcontext/contextgcd/internal/manager"
	"github.com/outofcontext/contextgcd/internal/store"
	"github.com/outofcontext/contextgcd/internal/tokenizer"
)

// app bundles everything a subcommand needs: the wired ContextManager plus
// its logging cleanup. Every subcommand builds one via newApp and defers
// app.cleanup().
type app struct {
	cfg     *config.Config
	manager *manager.Manager
	metrics *analyzer.Metrics
	logger  *slog.Logger
	cleanup func()
}

// newApp loads configuration for dir and wires every engine component the
// way spec.md §9 requires: constructor injection, no module-level
// singletons.
func newApp(dir string, enableMetrics bool) (*app, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}

	logger, cleanup, err := logging.Setup(logging.DefaultConfig(cfg.Storage.Path))
	if err != nil {
		return nil, err
	}

	tok, err := tokenizer.New(cfg.Tokens.TokenizerModel)
	if err != nil {
		cleanup()
		return nil, err
	}

	inverted := index.NewInvertedIndex()
	metadata := index.NewMetadataIndex()

	st, err := store.New(store.Config{RootDir: cfg.Storage.Path, MaxActive: cfg.Storage.MaxActiveSegments}, inverted, metadata, logger)
	if err != nil {
		cleanup()
		return nil, err
	}

	var metrics *analyzer.Metrics
	if enableMetrics {
		metrics = analyzer.NewMetrics()
	}

	mgr := manager.New(cfg, tok, st, inverted, metadata, metrics)

	return &app{cfg: cfg, manager: mgr, metrics: metrics, logger: logger, cleanup: cleanup}, nil
}
