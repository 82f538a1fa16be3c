// Command worker answers retrieval requests over NATS. Requests arrive on
// the configured subject within a queue group, so several workers share the
// load. A retrieval.Summary of each finished request is published on
// <subject>.done, where "insights watch" follows them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/interview-insights/engine/domain"
	"github.com/WessleyAI/interview-insights/engine/retrieval"
	"github.com/WessleyAI/interview-insights/pkg/app"
	"github.com/WessleyAI/interview-insights/pkg/config"
	"github.com/WessleyAI/interview-insights/pkg/natsutil"
)

const drainTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML config (default $"+config.PathEnv+")")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := app.NewLogger(os.Stdout, cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.Build(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())

	nc, err := nats.Connect(cfg.NATS.URL, nats.Name("insights-worker"))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	w := &worker{retriever: svc.Orchestrator, nc: nc, done: cfg.NATS.Subject + ".done", logger: logger}
	srv, err := natsutil.Serve(nc, cfg.NATS.Subject, cfg.NATS.Queue, cfg.NATS.Workers, w.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", cfg.NATS.Subject, err)
	}
	logger.Info("worker listening", "subject", cfg.NATS.Subject, "queue", cfg.NATS.Queue, "workers", cfg.NATS.Workers)

	<-ctx.Done()
	logger.Info("shutdown signal received")
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := srv.Drain(drainCtx); err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	return nil
}

type retriever interface {
	Run(ctx context.Context, req retrieval.Request) (*domain.Report, error)
}

type worker struct {
	retriever retriever
	nc        *nats.Conn
	done      string
	logger    *slog.Logger
}

func (w *worker) handle(ctx context.Context, req retrieval.Request) (*domain.Report, error) {
	report, err := w.retriever.Run(ctx, req)
	if err != nil {
		w.logger.Warn("retrieval failed", "err", err, "files", len(req.Files))
	}
	sum := retrieval.Summarize(req, report, err)
	if perr := natsutil.Publish(ctx, w.nc, w.done, sum); perr != nil {
		w.logger.Warn("publish summary failed", "subject", w.done, "err", perr)
	}
	return report, err
}
