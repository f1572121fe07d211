package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/bufsync/internal/dispatch"
	"github.com/roach88/bufsync/internal/ir"
	"github.com/roach88/bufsync/internal/queue"
	"github.com/roach88/bufsync/internal/reconcile"
)

// CommandLog is the slice of queue.Log the engine drains.
type CommandLog interface {
	PurgeSucceeded(ctx context.Context) (int64, error)
	Count(ctx context.Context, states ...ir.CommandState) (int, error)
	Next(ctx context.Context) (*ir.Command, error)
	UpdateState(ctx context.Context, cmd ir.Command) error
	Exclusive(ctx context.Context, fn func(ctx context.Context, tx *queue.Tx) error) error
}

// Dispatcher executes one command against the remote store.
// Implemented by *dispatch.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd ir.Command) (dispatch.Outcome, error)
	IsTransient(err error) bool
}

// Reconciler propagates a remote-assigned id. Implemented by
// *reconcile.Reconciler.
type Reconciler interface {
	Reconcile(ctx context.Context, tx reconcile.Tx, insert ir.Command, newID int64) (reconcile.Report, error)
}

// Command outcomes reported to MetricsRecorder.
const (
	OutcomeSucceeded       = "succeeded"
	OutcomeDisabled        = "disabled"
	OutcomeSkipped         = "skipped"
	OutcomeDelayed         = "delayed"
	OutcomeFailed          = "failed"
	OutcomeReconcileFailed = "reconcile_failed"
)

// MetricsRecorder observes pass activity. Implemented by metrics.Prometheus.
type MetricsRecorder interface {
	ObserveCommand(action ir.Action, outcome string, d time.Duration)
	ObserveBacklog(n int)
	ObserveReconcile(rep reconcile.Report)
}

type noopMetrics struct{}

func (noopMetrics) ObserveCommand(ir.Action, string, time.Duration) {}
func (noopMetrics) ObserveBacklog(int)                              {}
func (noopMetrics) ObserveReconcile(reconcile.Report)               {}

// Result summarizes one Sync pass.
type Result struct {
	PassID         string
	PendingAtStart int
	Processed      int

	// LastError is the dispatch error that ended the pass, if any.
	LastError error

	// FailedCommand is the command that ended the pass, after its state
	// was updated to Delayed or Failed.
	FailedCommand *ir.Command

	// BlockedBy is the Failed command that halted the pass without running.
	BlockedBy *ir.Command

	Duration time.Duration
}

// Complete reports whether the pass drained the whole backlog.
func (r *Result) Complete() bool {
	return r.LastError == nil && r.BlockedBy == nil
}

// Engine drains a command log, one command at a time.
type Engine struct {
	log        CommandLog
	dispatcher Dispatcher
	reconciler Reconciler
	ids        IDGenerator
	metrics    MetricsRecorder
	logger     *slog.Logger
	now        func() time.Time
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics recorder. Default: no-op.
func WithMetrics(m MetricsRecorder) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithIDGenerator sets the pass id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) { e.ids = g }
}

// New creates an Engine over the log, dispatcher and reconciler.
func New(log CommandLog, d Dispatcher, r Reconciler, opts ...EngineOption) *Engine {
	e := &Engine{
		log:        log,
		dispatcher: d,
		reconciler: r,
		ids:        UUIDv7Generator{},
		metrics:    noopMetrics{},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sync runs one pass over the log. Command failures end the pass and are
// reported in the Result; the returned error is non-nil only for storage
// and reconciliation faults. The Result is never nil.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	start := e.now()
	res := &Result{PassID: e.ids.Generate()}
	logger := e.logger.With("pass_id", res.PassID)
	defer func() { res.Duration = e.now().Sub(start) }()

	if _, err := e.log.PurgeSucceeded(ctx); err != nil {
		return res, storageError(res.PassID, 0, "purge succeeded commands", err)
	}
	n, err := e.log.Count(ctx, ir.RunnableStates...)
	if err != nil {
		return res, storageError(res.PassID, 0, "count backlog", err)
	}
	res.PendingAtStart = n
	e.metrics.ObserveBacklog(n)

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		cmd, err := e.log.Next(ctx)
		if err != nil {
			return res, storageError(res.PassID, 0, "read next command", err)
		}
		if cmd == nil {
			break
		}
		if cmd.State == ir.StateFailed {
			res.BlockedBy = cmd
			logger.Warn("sync blocked by failed command",
				"command_id", cmd.ID,
				"action", cmd.Action,
				"type", cmd.TypeName,
			)
			break
		}
		if cmd.State == ir.StateDelayed {
			logger.Warn("retrying delayed command",
				"command_id", cmd.ID,
				"action", cmd.Action,
				"type", cmd.TypeName,
			)
		}

		done, err := e.execute(ctx, logger, res, *cmd)
		if err != nil {
			return res, err
		}
		if !done {
			break
		}
		res.Processed++
	}

	if n, err := e.log.Count(ctx, ir.RunnableStates...); err == nil {
		e.metrics.ObserveBacklog(n)
	}
	logger.Info("sync pass finished",
		"pending_at_start", res.PendingAtStart,
		"processed", res.Processed,
		"complete", res.Complete(),
	)
	return res, nil
}

// execute runs one command and persists its new state. It reports whether
// the pass may continue.
func (e *Engine) execute(ctx context.Context, logger *slog.Logger, res *Result, cmd ir.Command) (bool, error) {
	began := e.now()
	out, err := e.dispatcher.Dispatch(ctx, cmd)
	if err != nil {
		outcome := OutcomeFailed
		cmd.State = ir.StateFailed
		if e.dispatcher.IsTransient(err) {
			outcome = OutcomeDelayed
			cmd.State = ir.StateDelayed
		}
		if uerr := e.log.UpdateState(ctx, cmd); uerr != nil {
			return false, storageError(res.PassID, cmd.ID, "update command state", uerr)
		}
		res.LastError = err
		res.FailedCommand = &cmd
		e.metrics.ObserveCommand(cmd.Action, outcome, e.now().Sub(began))
		logger.Error("command failed",
			"command_id", cmd.ID,
			"action", cmd.Action,
			"type", cmd.TypeName,
			"item_id", cmd.Item(),
			"state", cmd.State,
			"error", err,
		)
		return false, nil
	}

	if out.NewID != nil {
		if err := e.reconcileInsert(ctx, res, cmd, *out.NewID); err != nil {
			e.metrics.ObserveCommand(cmd.Action, OutcomeReconcileFailed, e.now().Sub(began))
			return false, err
		}
		e.metrics.ObserveCommand(cmd.Action, OutcomeSucceeded, e.now().Sub(began))
		return true, nil
	}

	outcome := OutcomeSucceeded
	cmd.State = ir.StateSucceeded
	switch {
	case out.Disable:
		outcome = OutcomeDisabled
		cmd.State = ir.StateDisabled
	case out.Skipped:
		outcome = OutcomeSkipped
	}
	if err := e.log.UpdateState(ctx, cmd); err != nil {
		return false, storageError(res.PassID, cmd.ID, "update command state", err)
	}
	e.metrics.ObserveCommand(cmd.Action, outcome, e.now().Sub(began))
	return true, nil
}

// reconcileInsert rewrites references to the inserted item and marks the
// Insert Succeeded under one hold of the log lock, in one transaction. A
// failed reconciliation leaves the local store as it was.
func (e *Engine) reconcileInsert(ctx context.Context, res *Result, cmd ir.Command, newID int64) error {
	var rep reconcile.Report
	err := e.log.Exclusive(ctx, func(ctx context.Context, tx *queue.Tx) error {
		var err error
		rep, err = e.reconciler.Reconcile(ctx, tx, cmd, newID)
		if err != nil {
			return err
		}
		done := cmd
		done.State = ir.StateSucceeded
		return tx.UpdateState(ctx, done)
	})
	if err == nil {
		e.metrics.ObserveReconcile(rep)
		return nil
	}

	var rerr *reconcile.Error
	if !errors.As(err, &rerr) {
		return storageError(res.PassID, cmd.ID, "mark insert succeeded", err)
	}

	e.logger.Error("reconciliation failed",
		"pass_id", res.PassID,
		"command_id", cmd.ID,
		"type", cmd.TypeName,
		"old_id", rerr.OldID,
		"new_id", rerr.NewID,
		"error", err,
	)
	failed := cmd
	failed.State = ir.StateFailed
	if uerr := e.log.UpdateState(ctx, failed); uerr != nil {
		e.logger.Error("could not mark insert failed", "command_id", cmd.ID, "error", uerr)
	}
	res.FailedCommand = &failed
	return &RuntimeError{
		Code:      ErrCodeReconcileFailed,
		Message:   fmt.Sprintf("remote insert of %s %d succeeded as %d but local references were not rewritten", cmd.TypeName, cmd.Item(), newID),
		PassID:    res.PassID,
		CommandID: cmd.ID,
		Err:       err,
	}
}

// Run calls Sync every interval until ctx is cancelled. The first pass runs
// immediately. Run returns nil on cancellation and the error on a
// reconciliation fault; storage errors are logged and retried on the next
// tick.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sync interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := e.Sync(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if IsReconcileError(err) {
				return err
			}
			e.logger.Error("sync pass aborted", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
