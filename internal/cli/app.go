package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/roach88/bufsync/internal/blob"
	"github.com/roach88/bufsync/internal/config"
	"github.com/roach88/bufsync/internal/queue"
	"github.com/roach88/bufsync/internal/remote"
	"github.com/roach88/bufsync/internal/remote/memremote"
	"github.com/roach88/bufsync/internal/remote/pgremote"
	"github.com/roach88/bufsync/internal/schema"
	"github.com/roach88/bufsync/internal/store"
)

// app holds the local collaborators shared by the commands.
type app struct {
	cfg      config.Config
	store    *store.Store
	registry *schema.Registry
	log      *queue.Log
	blobs    blob.Store
	logger   *slog.Logger
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, err
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.Schema != "" {
		cfg.Schema = opts.Schema
	}
	return cfg, nil
}

// loadRegistry loads the schema directory. A missing directory is only an
// error when it was named explicitly; otherwise every type syncs.
func loadRegistry(dir string, explicit bool, logger *slog.Logger) (*schema.Registry, error) {
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) && !explicit {
		logger.Debug("schema directory not found, using empty schema", "dir", dir)
		return schema.NewRegistry()
	}
	return schema.LoadDir(dir)
}

// openApp opens the local database, schema, command log and blob store.
// Failures are reported through f and returned as ExitErrors.
func openApp(ctx context.Context, opts *RootOptions, f *OutputFormatter) (*app, error) {
	logger := opts.logger()

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "failed to load config", err)
	}

	explicit := opts.Schema != "" || os.Getenv("BUFSYNC_SCHEMA") != ""
	reg, err := loadRegistry(cfg.Schema, explicit, logger)
	if err != nil {
		return nil, f.Fail(ExitFailure, ErrCodeSchema, "failed to load schema", err)
	}

	st, err := store.Open(cfg.Database, store.WithDriver(cfg.Driver))
	if err != nil {
		return nil, f.Fail(ExitCommandError, ErrCodeStorage, "failed to open database", err)
	}

	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		_ = st.Close()
		return nil, f.Fail(ExitCommandError, ErrCodeConfig, "failed to open blob store", err)
	}

	logger.Debug("opened local store",
		"database", cfg.Database,
		"driver", st.Driver(),
		"types", len(reg.Types()),
	)

	return &app{
		cfg:      cfg,
		store:    st,
		registry: reg,
		log:      queue.New(st, queue.WithPolicy(reg), queue.WithLogger(logger)),
		blobs:    blobs,
		logger:   logger,
	}, nil
}

// Close releases the database and the blob store.
func (a *app) Close() error {
	var errs []error
	if c, ok := a.blobs.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}

// openRemote connects to the configured remote store. The returned close
// function is never nil.
func (a *app) openRemote(ctx context.Context) (remote.Store, func() error, error) {
	nop := func() error { return nil }

	switch a.cfg.Remote.Driver {
	case config.RemoteMemory:
		a.logger.Warn("using the in-memory remote; synced data is discarded on exit")
		return memremote.New(), nop, nil
	case config.RemotePostgres:
		if a.cfg.Remote.DSN == "" {
			return nil, nop, fmt.Errorf("remote.dsn is required for the postgres remote")
		}
		blobs, err := blob.Open(ctx, a.cfg.Remote.Blob)
		if err != nil {
			return nil, nop, fmt.Errorf("remote blob store: %w", err)
		}
		pg, err := pgremote.Open(ctx, a.cfg.Remote.DSN, blobs, pgremote.WithLogger(a.logger))
		if err != nil {
			return nil, nop, err
		}
		return pg, pg.Close, nil
	default:
		return nil, nop, fmt.Errorf("unknown remote driver %q", a.cfg.Remote.Driver)
	}
}
