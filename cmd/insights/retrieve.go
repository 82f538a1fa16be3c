package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/WessleyAI/interview-insights/engine/domain"
	"github.com/WessleyAI/interview-insights/engine/retrieval"
	"github.com/WessleyAI/interview-insights/pkg/app"
	"github.com/WessleyAI/interview-insights/pkg/config"
	"github.com/WessleyAI/interview-insights/pkg/natsutil"
)

type retrieveOptions struct {
	guidePath string
	policy    string
	remote    bool
	natsURL   string
	timeout   time.Duration
}

func newRetrieveCmd(root *rootOptions) *cobra.Command {
	opts := &retrieveOptions{}
	cmd := &cobra.Command{
		Use:   "retrieve --guide <file> <transcript>...",
		Short: "Retrieve transcript evidence for every guide question",
		Long: `Retrieve transcript evidence for every guide question.

Transcripts are .txt files (chunked on the fly) or .json files holding
transcript objects. With --remote the request is sent to a worker over
NATS instead of running locally.

Example:
  insights retrieve --guide guide.md p1.txt p2.txt --human`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetrieve(cmd, root, opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.guidePath, "guide", "", "interview guide file (required)")
	cmd.Flags().StringVar(&opts.policy, "policy", "", "failure policy: fail_fast or isolate")
	cmd.Flags().BoolVar(&opts.remote, "remote", false, "send the request to a NATS worker")
	cmd.Flags().StringVar(&opts.natsURL, "nats-url", "", "NATS server URL (default from config)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "overall deadline (default from config)")
	_ = cmd.MarkFlagRequired("guide")
	return cmd
}

func runRetrieve(cmd *cobra.Command, root *rootOptions, opts *retrieveOptions, args []string) error {
	cfg, err := config.Load(root.configPath)
	if err != nil {
		return err
	}
	if opts.policy != "" {
		if _, err := retrieval.ParsePolicy(opts.policy); err != nil {
			return err
		}
		cfg.Retrieval.FailurePolicy = opts.policy
	}
	if opts.timeout > 0 {
		cfg.Retrieval.Timeout = opts.timeout
	}
	if opts.natsURL != "" {
		cfg.NATS.URL = opts.natsURL
	}

	g, err := loadGuide(cmd.InOrStdin(), opts.guidePath)
	if err != nil {
		return err
	}
	files, err := loadTranscripts(args)
	if err != nil {
		return err
	}
	req := retrieval.Request{Guide: g, Files: files}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := app.NewLogger(cmd.ErrOrStderr(), cfg)

	var report *domain.Report
	if opts.remote {
		report, err = retrieveRemote(ctx, cfg, req)
	} else {
		report, err = retrieveLocal(ctx, cfg, logger, req)
	}
	if report == nil {
		return err
	}
	if err != nil {
		logger.Warn("some questions failed", "err", err)
	}

	if root.human {
		printReport(cmd.OutOrStdout(), report)
	} else if oerr := outputJSON(cmd.OutOrStdout(), report); oerr != nil {
		return oerr
	}
	return err
}

func retrieveLocal(ctx context.Context, cfg config.Config, logger *slog.Logger, req retrieval.Request) (*domain.Report, error) {
	svc, err := app.Build(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer svc.Close(context.Background())
	return svc.Orchestrator.Run(ctx, req)
}

func retrieveRemote(ctx context.Context, cfg config.Config, req retrieval.Request) (*domain.Report, error) {
	nc, err := nats.Connect(cfg.NATS.URL, nats.Name("insights-cli"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	if _, ok := ctx.Deadline(); !ok && cfg.Retrieval.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Retrieval.Timeout+5*time.Second)
		defer cancel()
	}
	report, err := natsutil.Call[retrieval.Request, domain.Report](ctx, nc, cfg.NATS.Subject, req)
	var re *natsutil.RemoteError
	if errors.As(err, &re) && report == nil {
		return nil, errors.New(re.Message)
	}
	return report, err
}
