package main

import (
	"strings"

	"github.com/amaumene/totalrecall/internal/config"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	baseDir  string
	logLevel string
}

func (f *rootFlags) paths() (config.Paths, error) {
	if dir := strings.TrimSpace(f.baseDir); dir != "" {
		return config.PathsAt(dir), nil
	}
	return config.DefaultPaths()
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "totalrecall",
		Short:         "Keep watchlists, ratings, reviews and watch history in sync across trackers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.baseDir, "base-dir", "", "Put config and data under this directory")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	root.AddCommand(newSyncCommand(flags))
	root.AddCommand(newStartCommand(flags))
	root.AddCommand(newClearCommand(flags))
	root.AddCommand(newConfigCommand(flags))
	return root
}
