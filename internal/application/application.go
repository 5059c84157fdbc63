// Package application wires configuration, storage, rotation and
// reconciliation into the operations the CLI exposes.
package application

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/google/uuid"

	// MySQL driver, registered for the dump preflight connection
	_ "github.com/go-sql-driver/mysql"

	"github.com/UoA-eResearch/s3backupdb/internal/config"
	"github.com/UoA-eResearch/s3backupdb/internal/display"
	apperrors "github.com/UoA-eResearch/s3backupdb/internal/errors"
	"github.com/UoA-eResearch/s3backupdb/internal/dump"
	"github.com/UoA-eResearch/s3backupdb/internal/logging"
	"github.com/UoA-eResearch/s3backupdb/internal/reconcile"
	"github.com/UoA-eResearch/s3backupdb/internal/rotation"
	"github.com/UoA-eResearch/s3backupdb/internal/storage"
)

// Options holds the flag-level settings the CLI passes down
type Options struct {
	ConfigPath string
	AuthPath   string
	DryRun     bool
	Verbose    bool
	Quiet      bool
	Debug      bool
	LogFile    string
	NoColor    bool
	Format     string
}

// Application runs sync, list and dump operations against one configuration
type Application struct {
	config  *config.Config
	auth    *config.Auth
	logger  *logging.Logger
	display *display.Service
	dryRun  bool

	// storeFactory is replaceable in tests
	storeFactory func(ctx context.Context) (storage.ObjectStore, error)
}

// New loads configuration and credentials and prepares the application.
// Configuration problems surface here, before any storage client exists.
func New(opts Options) (*Application, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	auth, err := config.LoadAuth(opts.AuthPath)
	if err != nil {
		return nil, err
	}

	level := logging.LogLevelNormal
	switch {
	case opts.Debug:
		level = logging.LogLevelDebug
	case opts.Verbose:
		level = logging.LogLevelVerbose
	case opts.Quiet:
		level = logging.LogLevelQuiet
	}
	logger, err := logging.NewLogger(logging.Config{
		Level:   level,
		Output:  os.Stderr,
		LogFile: opts.LogFile,
	})
	if err != nil {
		return nil, err
	}

	svc, err := display.NewService(os.Stdout, opts.Format, opts.NoColor)
	if err != nil {
		return nil, err
	}

	app := &Application{
		config:  cfg,
		auth:    auth,
		logger:  logger,
		display: svc,
		dryRun:  opts.DryRun,
	}
	app.storeFactory = func(ctx context.Context) (storage.ObjectStore, error) {
		return storage.NewObjectStore(ctx, app.config.StorageConfig(app.auth))
	}
	return app, nil
}

// newStore builds and health-checks the configured object store
func (app *Application) newStore(ctx context.Context) (storage.ObjectStore, error) {
	store, err := app.storeFactory(ctx)
	if err != nil {
		return nil, err
	}
	if err := store.HealthCheck(ctx); err != nil {
		return nil, err
	}
	app.logger.Debugf("connected to %s bucket %s", store.Name(), app.config.DestBucket)
	return store, nil
}

// RunSync performs one full backup synchronization: select local files under
// the rotation policy, reconcile the remote prefix against the kept set, then
// prune rotated-out local files. Returns an error when any per-file operation
// failed so the scheduler sees a non-zero exit.
func (app *Application) RunSync(ctx context.Context) error {
	runLogger := app.logger.WithField("run_id", uuid.NewString())
	runLogger.Info("starting backup sync")

	store, err := app.newStore(ctx)
	if err != nil {
		return err
	}

	sel, err := rotation.Select(
		app.config.Backup.Directory,
		app.config.Backup.FilePattern,
		app.config.Backup.RotateLvl,
		app.config.Backup.RemoveEmpty,
	)
	if err != nil {
		return err
	}
	app.logger.LogRotation(app.config.Backup.Directory, len(sel.Kept), len(sel.Stale), len(sel.Skipped))
	for _, name := range sel.Skipped {
		runLogger.Warnf("skipping %s: no parseable date stamp in name", name)
	}

	rec := reconcile.New(store, app.config.DestPrefix, app.logger)
	plan, err := rec.Plan(ctx, sel.Kept)
	if err != nil {
		return err
	}
	app.display.ShowPlan(plan, app.dryRun)

	summary := &display.RunSummary{
		Unchanged: len(plan.Unchanged),
		Skipped:   len(sel.Skipped),
		DryRun:    app.dryRun,
	}

	if app.dryRun {
		summary.Uploaded = len(plan.Uploads)
		summary.RemoteDeleted = len(plan.Deletions)
		summary.LocalDeleted = len(sel.Stale) + len(sel.Empty)
		summary.Failed = plan.Failed
		sel.Prune(app.logger, true)
	} else {
		result := rec.Apply(ctx, plan)
		pruned := sel.Prune(app.logger, false)

		summary.Uploaded = result.Uploaded
		summary.Reuploaded = result.Reuploaded
		summary.RemoteDeleted = result.RemoteDeleted
		summary.LocalDeleted = len(pruned.Deleted)
		summary.Failed = append(result.Failed, pruned.Failed...)
		summary.Duration = result.Duration
	}

	if err := app.display.ShowSummary(summary); err != nil {
		return err
	}

	if len(summary.Failed) > 0 && !app.dryRun {
		runLogger.Errorf("sync finished with %d failed operations", len(summary.Failed))
		return apperrors.NewStorageError(
			fmt.Sprintf("%d operations failed", len(summary.Failed)), nil)
	}
	runLogger.Info("sync complete")
	return nil
}

// RunList prints the remote objects under the configured prefix
func (app *Application) RunList(ctx context.Context) error {
	store, err := app.newStore(ctx)
	if err != nil {
		return err
	}

	prefix := reconcile.New(store, app.config.DestPrefix, app.logger).Key("")
	objects, err := store.List(ctx, prefix)
	if err != nil {
		return err
	}
	return app.display.ShowListing(objects)
}

// RunDump produces a database dump into the backup directory. A non-empty
// passphrase encrypts the result.
func (app *Application) RunDump(ctx context.Context, passphrase string) error {
	opts := &dump.Options{
		Host:             app.config.Dump.Host,
		Port:             app.config.Dump.Port,
		User:             app.config.Dump.User,
		Password:         app.auth.MysqlPassword,
		Database:         app.config.Dump.Database,
		MysqldumpPath:    app.config.Dump.MysqldumpPath,
		Compression:      app.config.Dump.Compression,
		CompressionLevel: app.config.Dump.CompressionLevel,
		OutDir:           app.config.Backup.Directory,
		Passphrase:       passphrase,
	}

	producer, err := dump.NewProducer(opts, app.logger)
	if err != nil {
		return err
	}

	db, err := sql.Open("mysql", opts.DSN())
	if err != nil {
		return apperrors.NewConfigurationError("invalid database connection settings", err)
	}
	defer db.Close()
	if err := dump.Preflight(ctx, db); err != nil {
		return err
	}

	if app.dryRun {
		app.logger.Infof("dry-run: would dump database %s to %s", opts.Database, opts.OutDir)
		return nil
	}

	path, err := producer.Run(ctx)
	if err != nil {
		return err
	}
	app.logger.Infof("wrote %s", path)
	return nil
}
