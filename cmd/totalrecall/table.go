package main

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/amaumene/totalrecall/internal/controllers"
	"github.com/amaumene/totalrecall/internal/models"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// renderSummary prints the per-target outcome of a run
func renderSummary(result *controllers.SyncResult, opts controllers.RunOptions) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Target", "Planned", "Watchlist", "Ratings", "Reviews", "History", "Excluded", "Mode"})

	targets := make([]string, 0, len(result.Planned))
	for name := range result.Planned {
		targets = append(targets, name)
	}
	sort.Strings(targets)

	for _, name := range targets {
		written := result.Written[name]
		mode := "write"
		if opts.DryRunAll || slices.Contains(opts.DryRun, name) {
			mode = "dry run"
		}
		tw.AppendRow(table.Row{
			name,
			result.Planned[name],
			written[models.DataWatchlist],
			written[models.DataRatings],
			written[models.DataReviews],
			written[models.DataWatchHistory],
			result.Excluded[name],
			mode,
		})
	}
	tw.AppendFooter(table.Row{"Total", "", "", "", "", "", "", strconv.Itoa(result.ItemsSynced) + " written"})

	configs := []table.ColumnConfig{{Number: 1, Align: text.AlignLeft}}
	for i := 2; i <= 7; i++ {
		configs = append(configs, table.ColumnConfig{Number: i, Align: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	var b strings.Builder
	b.WriteString(tw.Render())
	fmt.Fprintf(&b, "\nRun %s finished in %s", result.RunID, result.Duration.Round(time.Millisecond))
	for _, err := range result.Errors {
		fmt.Fprintf(&b, "\n  error: %v", err)
	}
	return b.String()
}
