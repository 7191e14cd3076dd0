package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/docsearch-mcp/internal/config"
	"github.com/dshills/docsearch-mcp/internal/embedder"
	"github.com/dshills/docsearch-mcp/internal/indexer"
	"github.com/dshills/docsearch-mcp/internal/logging"
	"github.com/dshills/docsearch-mcp/internal/searcher"
	"github.com/dshills/docsearch-mcp/internal/storage"
	"github.com/dshills/docsearch-mcp/internal/telemetry"
	"github.com/dshills/docsearch-mcp/internal/writequeue"
)

// queueDrainTimeout bounds how long shutdown waits for buffered usage writes
const queueDrainTimeout = 5 * time.Second

// app holds the services shared by the commands
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *storage.SQLiteStorage
	pool     *embedder.Pool
	queue    *writequeue.Queue
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
}

// loadConfig reads the config file and applies command-line overrides
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.dbPath != "" {
		cfg.Database.Path = flags.dbPath
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openApp wires storage, embedding, indexing and search from config.
// Logs go to console, which must not be stdout when serving MCP.
func openApp(ctx context.Context, flags *globalFlags, console io.Writer) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		File:    cfg.Log.File,
		Console: console,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}

	a.store, err = storage.Open(ctx, cfg.StorageOptions(logger.Named("storage")))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a.pool, err = embedder.NewPool(cfg.Embedding.PoolSize, embedder.NewFactory(cfg.EmbedderConfig()), logger.Named("embedder"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	a.queue = writequeue.New(writequeue.DefaultCapacity, logger.Named("writequeue"))
	sink := telemetry.NewQueueSink(a.store, a.queue, logger)

	a.indexer = indexer.New(a.store, a.pool,
		indexer.WithConfig(cfg.IndexerConfig()),
		indexer.WithLogger(logger.Named("indexer")),
		indexer.WithSink(sink))
	a.searcher = searcher.New(a.store, a.pool,
		searcher.WithConfig(cfg.SearcherConfig()),
		searcher.WithLogger(logger.Named("searcher")),
		searcher.WithSink(sink))
	a.indexer.OnComplete(func(string, *indexer.Statistics) {
		a.searcher.InvalidateCache()
	})

	logger.Debug("docsearch ready",
		zap.String("db", cfg.Database.Path),
		zap.String("provider", a.pool.Provider()),
		zap.String("model", a.pool.Model()),
		zap.Int("dimension", a.pool.Dimension()),
		zap.String("build_mode", storage.BuildMode))
	return a, nil
}

// sources returns the configured sources, or only the named one
func (a *app) sources(name string) ([]indexer.Source, error) {
	selected, err := a.cfg.SelectSources(name)
	if err != nil {
		return nil, err
	}
	out := make([]indexer.Source, len(selected))
	for i, src := range selected {
		out[i] = src.IndexerSource()
	}
	return out, nil
}

// Close releases everything openApp created, in reverse order
func (a *app) Close() {
	if a.indexer != nil {
		a.indexer.Close()
	}
	if a.queue != nil {
		ctx, cancel := context.WithTimeout(context.Background(), queueDrainTimeout)
		if err := a.queue.Close(ctx); err != nil {
			a.logger.Warn("write queue did not drain", zap.Error(err))
		}
		cancel()
	}
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			a.logger.Warn("failed to close embedder", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close database", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
