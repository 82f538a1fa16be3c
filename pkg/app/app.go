// Package app wires configuration into a ready retrieval service. The
// commands share it so the HTTP API, the NATS worker and the CLI run the
// same pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/interview-insights/engine/chunker"
	"github.com/WessleyAI/interview-insights/engine/embedding"
	"github.com/WessleyAI/interview-insights/engine/evidence"
	"github.com/WessleyAI/interview-insights/engine/guide"
	"github.com/WessleyAI/interview-insights/engine/retrieval"
	"github.com/WessleyAI/interview-insights/engine/semantic"
	"github.com/WessleyAI/interview-insights/pkg/config"
	"github.com/WessleyAI/interview-insights/pkg/ollama"
)

// App holds the wired service. Chunks and Evidence are nil when their
// store is not configured.
type App struct {
	Orchestrator *retrieval.Orchestrator
	Parser       *guide.Parser
	Gateway      *embedding.Gateway
	Chunks       *semantic.ChunkStore
	Evidence     *evidence.Graph

	closers []func(context.Context) error
}

// NewLogger returns a JSON logger at the configured level.
func NewLogger(w io.Writer, cfg config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// Build wires the embedder, the optional stores and the orchestrator.
// Nothing here dials out; connections are made on first use.
func Build(cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Parser: guide.NewParser(cfg.GuideOptions())}

	a.Gateway = embedding.New(ollama.New(cfg.Embedder, logger), logger)
	deps := retrieval.Deps{
		Gateway: a.Gateway,
		Chunker: chunker.New(cfg.Chunker),
	}

	if cfg.Qdrant.Addr != "" {
		store, err := semantic.New(cfg.Qdrant.Addr, cfg.Qdrant.Collection)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.Chunks = store
		deps.Chunks = store
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		logger.Info("chunk store enabled", "addr", cfg.Qdrant.Addr, "collection", cfg.Qdrant.Collection)
	}

	if cfg.Neo4j.URL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4j.URL, neo4j.BasicAuth(cfg.Neo4j.User, cfg.Neo4j.Password, ""))
		if err != nil {
			_ = a.Close(context.Background())
			return nil, fmt.Errorf("app: neo4j driver: %w", err)
		}
		a.Evidence = evidence.New(driver, cfg.Neo4j.Database, logger)
		deps.Evidence = a.Evidence
		a.closers = append(a.closers, driver.Close)
		logger.Info("evidence graph enabled", "url", cfg.Neo4j.URL, "database", cfg.Neo4j.Database)
	}

	a.Orchestrator = retrieval.New(deps, cfg.RetrievalOptions(), logger)
	return a, nil
}

// Close releases store connections in reverse order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
