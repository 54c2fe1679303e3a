package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/amaumene/totalrecall/internal/config"
	"github.com/amaumene/totalrecall/internal/models"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newConfigCommand(root *rootFlags) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand(root))
	configCmd.AddCommand(newConfigShowCommand(root))
	return configCmd
}

func newConfigInitCommand(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := root.paths()
			if err != nil {
				return err
			}
			written, err := config.WriteTemplate(paths.ConfigFile())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !written {
				fmt.Fprintf(out, "Config file already exists at %s\n", paths.ConfigFile())
				return nil
			}
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", paths.ConfigFile())
			fmt.Fprintln(out, "Enable your sources and set resolution.source_preference before running a sync.")
			return nil
		},
	}
}

func newConfigShowCommand(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := root.paths()
			if err != nil {
				return err
			}
			cfg, err := config.Load(paths)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderConfig(cfg))
			return nil
		},
	}
}

func renderConfig(cfg *config.Config) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Setting", "Value"})

	rows := []table.Row{
		{"config file", cfg.Paths.ConfigFile()},
		{"data dir", cfg.Paths.DataDir},
		{"resolution.source_preference", strings.Join(cfg.Resolution.SourcePreference, ", ")},
		{"resolution.strategy", cfg.Resolution.Strategy},
		{"resolution.timestamp_tolerance_seconds", cfg.Resolution.TimestampToleranceSeconds},
	}
	for _, dt := range models.AllDataTypes {
		rows = append(rows, table.Row{"sync." + string(dt), cfg.Sync.Enabled(dt)})
	}
	rows = append(rows,
		table.Row{"sync.remove_watched_from_watchlists", cfg.Sync.RemoveWatchedFromWatchlists},
		table.Row{"sync.mark_rated_as_watched", cfg.Sync.MarkRatedAsWatched},
		table.Row{"scheduler.schedule", cfg.Scheduler.Schedule},
		table.Row{"scheduler.timezone", cfg.Scheduler.Timezone},
		table.Row{"scheduler.run_on_startup", cfg.Scheduler.RunOnStartup},
		table.Row{"server", serverValue(cfg.Server)},
		table.Row{"logging", cfg.Logging.Level + " (" + cfg.Logging.Format + ")"},
	)
	for _, name := range models.KnownSources {
		rows = append(rows, table.Row{"source " + name, cfg.IsSourceEnabled(name)})
	}
	tw.AppendRows(rows)

	out := tw.Render()
	for _, key := range cfg.Warnings {
		out += "\nwarning: unknown key " + key
	}
	return out
}

func serverValue(s config.ServerConfig) string {
	if !s.Enabled {
		return "disabled"
	}
	return "port " + strconv.Quote(s.Port)
}
