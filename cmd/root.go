package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/UoA-eResearch/s3backupdb/internal/application"
)

// CLI flag variables
var (
	cfgFile  string
	authFile string

	dryRun  bool
	verbose bool
	quiet   bool
	debug   bool
	logFile string

	noColor      bool
	outputFormat string
)

// rootCmd runs the sync when called without a subcommand
var rootCmd = &cobra.Command{
	Use:   "s3backupdb",
	Short: "Synchronize rotated database backups to object storage",
	Long: `s3backupdb keeps a remote object store prefix in step with a directory of
rotated database backup files. Each run selects the most recent backups under
the rotation policy, uploads missing or changed files (verified against the
store's ETag fingerprint), deletes remote objects whose local file has rotated
out, and prunes rotated-out local files.

Examples:
  # Nightly sync from cron
  s3backupdb --config /etc/s3backupdb/conf.yaml --auth /etc/s3backupdb/auth.json

  # See what would change without touching anything
  s3backupdb --config conf.yaml --auth auth.json --dry-run

  # List the remote backups
  s3backupdb ls --config conf.yaml --auth auth.json

  # Produce tonight's dump before syncing
  s3backupdb dump --config conf.yaml --auth auth.json`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApplication()
		if err != nil {
			return err
		}
		ctx, stop := runContext()
		defer stop()
		return app.RunSync(ctx)
	},
}

// Execute runs the CLI. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVarP(&authFile, "auth", "a", "", "credentials file, kept separate from the configuration")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "show what would change without uploading, deleting or pruning")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug output, including per-file comparisons")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format (table, compact, json, yaml)")

	rootCmd.MarkPersistentFlagRequired("config")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
}

// newApplication builds the application from the global flags
func newApplication() (*application.Application, error) {
	app, err := application.New(application.Options{
		ConfigPath: cfgFile,
		AuthPath:   authFile,
		DryRun:     dryRun,
		Verbose:    verbose,
		Quiet:      quiet,
		Debug:      debug,
		LogFile:    logFile,
		NoColor:    noColor,
		Format:     outputFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return app, nil
}

// runContext returns a context cancelled on SIGINT or SIGTERM so an
// interrupted run stops between files instead of mid-batch
func runContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
