package cmd

import (
	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List remote backups under the configured prefix",
	Long: `List the objects currently stored under the destination prefix, with size,
last-modified time and ETag fingerprint. Useful for checking what a restore
would have to work with.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApplication()
		if err != nil {
			return err
		}
		ctx, stop := runContext()
		defer stop()
		return app.RunList(ctx)
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
}
