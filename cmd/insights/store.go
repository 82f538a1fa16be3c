package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/interview-insights/pkg/app"
	"github.com/WessleyAI/interview-insights/pkg/config"
)

type collectionDropper interface {
	DeleteCollection(ctx context.Context) error
}

func newResetStoreCmd(root *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset-store",
		Short: "Delete the Qdrant collection holding embedded chunks",
		Long: `Delete the Qdrant collection holding embedded chunks.

The collection is recreated on the next retrieval, sized to the embedding
model in use. Run this after switching models.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("reset-store deletes every stored chunk; pass --yes to confirm")
			}
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if cfg.Qdrant.Addr == "" {
				return errors.New("qdrant is not configured (set qdrant.addr or QDRANT_URL)")
			}
			svc, err := app.Build(cfg, app.NewLogger(cmd.ErrOrStderr(), cfg))
			if err != nil {
				return err
			}
			defer svc.Close(context.Background())

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return resetStore(ctx, cmd.OutOrStdout(), svc.Chunks, cfg.Qdrant.Collection)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func resetStore(ctx context.Context, w io.Writer, store collectionDropper, name string) error {
	if err := store.DeleteCollection(ctx); err != nil {
		return err
	}
	fmt.Fprintf(w, "deleted collection %s\n", name)
	return nil
}
