package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/amaumene/totalrecall/internal/controllers"
	"github.com/amaumene/totalrecall/internal/models"
	"github.com/spf13/cobra"
)

const allSources = "all"

type syncFlags struct {
	dryRun       string
	useCache     string
	forceFull    bool
	watchlist    bool
	ratings      bool
	reviews      bool
	watchHistory bool
}

// runOptions turns flags into run options. An empty list flag is off, "all"
// covers every source, anything else is a comma separated list.
func (f *syncFlags) runOptions() controllers.RunOptions {
	opts := controllers.RunOptions{ForceFull: f.forceFull, Trigger: "cli"}
	opts.DryRunAll, opts.DryRun = sourceList(f.dryRun)
	opts.UseCacheAll, opts.UseCache = sourceList(f.useCache)

	for dt, on := range map[models.DataType]bool{
		models.DataWatchlist:    f.watchlist,
		models.DataRatings:      f.ratings,
		models.DataReviews:      f.reviews,
		models.DataWatchHistory: f.watchHistory,
	} {
		if on {
			opts.DataTypes = append(opts.DataTypes, dt)
		}
	}
	return opts
}

func sourceList(raw string) (bool, []string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, nil
	}
	if strings.EqualFold(raw, allSources) {
		return true, nil
	}
	var names []string
	for _, name := range strings.Split(raw, ",") {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			names = append(names, name)
		}
	}
	return false, names
}

func newSyncCommand(root *rootFlags) *cobra.Command {
	flags := &syncFlags{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync across every enabled source",
		Example: `  totalrecall sync
  totalrecall sync --dry-run
  totalrecall sync --dry-run=plex,imdb --ratings
  totalrecall sync --use-cache=trakt --force-full-sync`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(root)
			if err != nil {
				return err
			}
			defer a.Close()

			lock, err := a.lock()
			if err != nil {
				return err
			}
			defer lock.Unlock()

			ctrl, err := a.syncController()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			opts := flags.runOptions()
			result, err := ctrl.Run(ctx, opts)
			if result != nil {
				fmt.Fprintln(cmd.OutOrStdout(), renderSummary(result, opts))
			}
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return context.Canceled
			}
			if result.Partial() {
				return fmt.Errorf("sync finished with %d errors", len(result.Errors))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.dryRun, "dry-run", "", "Plan without writing; optionally a comma separated list of targets")
	cmd.Flags().Lookup("dry-run").NoOptDefVal = allSources
	cmd.Flags().StringVar(&flags.useCache, "use-cache", "", "Read sources from the collect cache; optionally a comma separated list")
	cmd.Flags().Lookup("use-cache").NoOptDefVal = allSources
	cmd.Flags().BoolVar(&flags.forceFull, "force-full-sync", false, "Ignore last sync timestamps and incremental activity")
	cmd.Flags().BoolVar(&flags.watchlist, "watchlist", false, "Sync watchlists")
	cmd.Flags().BoolVar(&flags.ratings, "ratings", false, "Sync ratings")
	cmd.Flags().BoolVar(&flags.reviews, "reviews", false, "Sync reviews")
	cmd.Flags().BoolVar(&flags.watchHistory, "watch-history", false, "Sync watch history")
	return cmd
}
