package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/bufsync/internal/dispatch"
	"github.com/roach88/bufsync/internal/engine"
	"github.com/roach88/bufsync/internal/metrics"
	"github.com/roach88/bufsync/internal/reconcile"
	"github.com/roach88/bufsync/internal/remote"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Interval    time.Duration
	Strict      bool
	MetricsAddr string
}

// SyncResult reports one pass.
type SyncResult struct {
	PassID         string `json:"pass_id"`
	PendingAtStart int    `json:"pending_at_start"`
	Processed      int    `json:"processed"`
	Complete       bool   `json:"complete"`
	FailedCommand  int64  `json:"failed_command,omitempty"`
	FailedState    string `json:"failed_state,omitempty"`
	BlockedBy      int64  `json:"blocked_by,omitempty"`
	LastError      string `json:"last_error,omitempty"`
	DurationMS     int64  `json:"duration_ms"`
}

func newSyncResult(res *engine.Result) SyncResult {
	out := SyncResult{
		PassID:         res.PassID,
		PendingAtStart: res.PendingAtStart,
		Processed:      res.Processed,
		Complete:       res.Complete(),
		DurationMS:     res.Duration.Milliseconds(),
	}
	if res.FailedCommand != nil {
		out.FailedCommand = res.FailedCommand.ID
		out.FailedState = string(res.FailedCommand.State)
	}
	if res.BlockedBy != nil {
		out.BlockedBy = res.BlockedBy.ID
	}
	if res.LastError != nil {
		out.LastError = res.LastError.Error()
	}
	return out
}

func (r SyncResult) passID() string { return r.PassID }

// WriteText renders the pass summary.
func (r SyncResult) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Pass %s: %d/%d commands processed in %dms\n",
		r.PassID, r.Processed, r.PendingAtStart, r.DurationMS)
	switch {
	case r.BlockedBy != 0:
		fmt.Fprintf(w, "Blocked by failed command %d (reset it with: bufsync queue reset %d)\n", r.BlockedBy, r.BlockedBy)
	case r.FailedCommand != 0:
		fmt.Fprintf(w, "Command %d is %s: %s\n", r.FailedCommand, r.FailedState, r.LastError)
	default:
		fmt.Fprintln(w, "✓ Log drained")
	}
	return nil
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay queued commands against the remote store",
		Long: `Drain the command log against the configured remote store.

Without --interval, sync runs one pass and exits. With --interval, it runs
a pass immediately and then once per interval until interrupted.

Exit codes:
  0 - Pass completed (or stopped by a failed command without --strict)
  1 - Identity reconciliation failed, or the pass did not drain under --strict
  2 - Command error (bad config, database not found, remote unreachable)

Examples:
  bufsync sync
  bufsync sync --strict --format json
  bufsync sync --interval 30s --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "run a pass every interval until interrupted")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "exit 1 when a pass stops on a failed or blocked command")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	f := opts.formatter(cmd)
	if opts.Interval < 0 {
		return f.Fail(ExitCommandError, ErrCodeInvalid, "interval must not be negative", nil)
	}

	ctx, cancel := signalContext(cmd.Context(), opts.logger())
	defer cancel()

	a, err := openApp(ctx, opts.RootOptions, f)
	if err != nil {
		return err
	}
	defer a.Close()

	rs, closeRemote, err := a.openRemote(ctx)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeRemote, "failed to open remote store", err)
	}
	defer closeRemote()

	engineOpts := []engine.EngineOption{engine.WithLogger(a.logger)}

	addr := opts.MetricsAddr
	if addr == "" {
		addr = a.cfg.MetricsAddr
	}
	if addr != "" {
		reg := prometheus.NewRegistry()
		m, err := metrics.NewPrometheus(reg)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeConfig, "failed to register metrics", err)
		}
		engineOpts = append(engineOpts, engine.WithMetrics(m))

		stop := serveMetrics(addr, reg, a.logger)
		defer stop()
	}

	eng := a.newEngine(rs, engineOpts...)

	if opts.Interval > 0 {
		a.logger.Info("sync loop starting", "interval", opts.Interval, "database", a.cfg.Database)
		if err := eng.Run(ctx, opts.Interval); err != nil {
			return f.Fail(ExitFailure, ErrCodeReconcile, "identity reconciliation failed", err)
		}
		return f.Success("Sync stopped.")
	}

	res, err := eng.Sync(ctx)
	if err != nil {
		if engine.IsReconcileError(err) {
			return f.Fail(ExitFailure, ErrCodeReconcile, "identity reconciliation failed", err)
		}
		return f.Fail(ExitCommandError, ErrCodeStorage, "sync pass aborted", err)
	}

	out := newSyncResult(res)
	if opts.Strict && !out.Complete {
		msg := fmt.Sprintf("pass %s did not drain the log", out.PassID)
		if out.BlockedBy != 0 {
			msg = fmt.Sprintf("pass %s blocked by failed command %d", out.PassID, out.BlockedBy)
		}
		return f.Fail(ExitFailure, ErrCodeBlocked, msg, res.LastError)
	}
	return f.Success(out)
}

// newEngine wires the dispatcher and reconciler to rs.
func (a *app) newEngine(rs remote.Store, opts ...engine.EngineOption) *engine.Engine {
	d := dispatch.New(dispatch.Env{
		Local:        a.store,
		Blobs:        a.blobs,
		Remote:       rs,
		Log:          a.log,
		MaxLocalSize: a.cfg.MaxLocalSize,
		Logger:       a.logger,
	})
	r := reconcile.New(a.registry, reconcile.WithLogger(a.logger))
	return engine.New(a.log, d, r, opts...)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// serveMetrics serves /metrics on addr until the returned stop is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
