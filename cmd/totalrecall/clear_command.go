package main

import (
	"errors"
	"fmt"

	"github.com/amaumene/totalrecall/internal/controllers"
	"github.com/spf13/cobra"
)

func newClearCommand(root *rootFlags) *cobra.Command {
	var (
		opts controllers.ClearOptions
		all  bool
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove cached data, credentials or sync timestamps",
		Example: `  totalrecall clear --timestamps
  totalrecall clear --cache --ids
  totalrecall clear --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				opts = controllers.ClearEverything()
			}
			if opts.Empty() {
				return errors.New("nothing to clear: pass --cache, --credentials, --timestamps, --ids or --all")
			}

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

			if err := a.cleanupController().Clear(opts); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Done")
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Cache, "cache", false, "Clear collected items and distribution previews")
	cmd.Flags().BoolVar(&opts.Credentials, "credentials", false, "Forget every token and timestamp")
	cmd.Flags().BoolVar(&opts.Timestamps, "timestamps", false, "Forget last sync timestamps so the next run is full")
	cmd.Flags().BoolVar(&opts.IDs, "ids", false, "Clear the identifier cache")
	cmd.Flags().BoolVar(&all, "all", false, "Clear everything")
	return cmd
}
