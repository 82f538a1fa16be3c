package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/WessleyAI/interview-insights/engine/retrieval"
	"github.com/WessleyAI/interview-insights/pkg/config"
	"github.com/WessleyAI/interview-insights/pkg/natsutil"
)

type watchOptions struct {
	natsURL string
	count   int
}

func newWatchCmd(root *rootOptions) *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the summaries workers publish after each request",
		Long: `Follow the summaries workers publish on <subject>.done after each
retrieval request. Runs until interrupted or until --count summaries
have arrived.
Output is one JSON object per line unless --human is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.natsURL, "nats-url", "", "NATS server URL (default from config)")
	cmd.Flags().IntVar(&opts.count, "count", 0, "exit after this many summaries (0 = no limit)")
	return cmd
}

func runWatch(cmd *cobra.Command, root *rootOptions, opts *watchOptions) error {
	cfg, err := config.Load(root.configPath)
	if err != nil {
		return err
	}
	if opts.natsURL != "" {
		cfg.NATS.URL = opts.natsURL
	}

	nc, err := nats.Connect(cfg.NATS.URL, nats.Name("insights-watch"))
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	subject := cfg.NATS.Subject + ".done"
	sums := make(chan retrieval.Summary, 16)
	sub, err := natsutil.Subscribe(nc, subject, func(_ context.Context, s retrieval.Summary) {
		select {
		case sums <- s:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	defer sub.Unsubscribe()
	if err := nc.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	out := cmd.OutOrStdout()
	for seen := 0; opts.count == 0 || seen < opts.count; seen++ {
		select {
		case <-ctx.Done():
			return nil
		case s := <-sums:
			if err := printSummary(out, s, root.human); err != nil {
				return err
			}
		}
	}
	return nil
}

func printSummary(w io.Writer, s retrieval.Summary, human bool) error {
	if !human {
		return json.NewEncoder(w).Encode(s)
	}
	fmt.Fprintf(w, "%d files, %d questions, %d passages", s.Files, s.Questions, s.EvidenceChunks)
	if s.Error != "" {
		fmt.Fprintf(w, ", failed at %s: %s", s.Stage, s.Error)
	}
	fmt.Fprintln(w)
	return nil
}
