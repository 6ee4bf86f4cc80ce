package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/indicator-engine/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the model artifact cache",
}

var cacheFetchCmd = &cobra.Command{
	Use:   "fetch [artifact...]",
	Short: "Download artifacts into the cache (all when none named)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := initCache()
		if err != nil {
			return err
		}

		names := args
		if len(names) == 0 {
			names = cache.Artifacts()
		}
		paths := make([]string, len(names))

		g, gctx := errgroup.WithContext(ctx)
		for i, name := range names {
			g.Go(func() error {
				p, err := c.Fetch(gctx, name)
				if err != nil {
					return err
				}
				paths[i] = p
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for i, name := range names {
			_, _ = fmt.Fprintf(w, "%s\t%s\n", name, paths[i])
		}
		_ = w.Flush()
		zap.L().Info("cache ready", zap.String("dir", c.Dir()), zap.Int("artifacts", len(names)))
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheFetchCmd)
	rootCmd.AddCommand(cacheCmd)
}
