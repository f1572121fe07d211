package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/bufsync/internal/ir"
	"github.com/roach88/bufsync/internal/store"
)

// ErrNotResettable is returned by Reset for commands that are not Failed
// or Delayed.
var ErrNotResettable = errors.New("queue: command cannot be reset")

// Storage is the persistence the log needs. *store.Store implements it.
type Storage interface {
	InsertCommand(ctx context.Context, cmd ir.Command) error
	MaxCommandID(ctx context.Context) (int64, error)
	GetCommand(ctx context.Context, id int64) (ir.Command, error)
	UpdateCommand(ctx context.Context, cmd ir.Command) error
	DeleteCommand(ctx context.Context, id int64) (bool, error)
	ClearCommands(ctx context.Context) (int64, error)
	DeleteCommandsInState(ctx context.Context, state ir.CommandState) (int64, error)
	SetCommandStates(ctx context.Context, from, to ir.CommandState) (int64, error)
	ReadCommands(ctx context.Context) ([]ir.Command, error)
	FirstCommandIn(ctx context.Context, states ...ir.CommandState) (*ir.Command, error)
	CountCommands(ctx context.Context, states ...ir.CommandState) (int, error)
	CountCommandsByState(ctx context.Context) (map[ir.CommandState]int, error)
	FindCommands(ctx context.Context, typeName string, itemID int64, action ir.Action) ([]ir.Command, error)
	RewriteCommandItemIDs(ctx context.Context, typeName string, oldID, newID, exceptID int64) (int64, error)
	Atomic(ctx context.Context, fn func(tx *store.Tx) error) error
}

// SyncPolicy decides whether commands for a type are queued at all.
// *schema.Registry implements it.
type SyncPolicy interface {
	DoNotSync(typeName string) bool
}

// Clock supplies Created timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type syncAll struct{}

func (syncAll) DoNotSync(string) bool { return false }

// Log is the durable, strictly ordered command log.
//
// Thread-safety: every mutating method takes the log mutex. Read-only
// methods go straight to storage. One Log must exist per database.
type Log struct {
	mu     sync.Mutex
	store  Storage
	policy SyncPolicy
	clock  Clock
	logger *slog.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithPolicy sets the do-not-sync policy. The default queues every type.
func WithPolicy(p SyncPolicy) Option {
	return func(l *Log) {
		if p != nil {
			l.policy = p
		}
	}
}

// WithClock sets the clock used for Created timestamps.
func WithClock(c Clock) Option {
	return func(l *Log) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a Log over the given storage.
func New(store Storage, opts ...Option) *Log {
	l := &Log{
		store:  store,
		policy: syncAll{},
		clock:  systemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Enqueue assigns the next id, marks the command Pending, stamps Created
// and persists it. The returned command is the stored one.
//
// Commands for do-not-sync types are skipped: Enqueue returns the input
// unchanged, false and a nil error.
func (l *Log) Enqueue(ctx context.Context, cmd ir.Command) (ir.Command, bool, error) {
	if cmd.TypeName == "" {
		return cmd, false, fmt.Errorf("enqueue: type name is required")
	}
	if !cmd.Action.Valid() {
		return cmd, false, fmt.Errorf("enqueue: unknown action %q", cmd.Action)
	}
	if l.policy.DoNotSync(cmd.TypeName) {
		l.logger.Debug("skipping do-not-sync command",
			"action", cmd.Action,
			"type", cmd.TypeName,
		)
		return cmd, false, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	maxID, err := l.store.MaxCommandID(ctx)
	if err != nil {
		return cmd, false, fmt.Errorf("enqueue: %w", err)
	}

	cmd.ID = maxID + 1
	cmd.State = ir.StatePending
	cmd.Created = l.clock.Now().UTC()

	if err := l.store.InsertCommand(ctx, cmd); err != nil {
		return cmd, false, fmt.Errorf("enqueue: %w", err)
	}

	l.logger.Debug("command enqueued",
		"command_id", cmd.ID,
		"action", cmd.Action,
		"type", cmd.TypeName,
		"item_id", cmd.Item(),
	)
	return cmd, true, nil
}

// ReadAll returns every command ordered by Created, then id.
func (l *Log) ReadAll(ctx context.Context) ([]ir.Command, error) {
	return l.store.ReadCommands(ctx)
}

// Get returns one command.
func (l *Log) Get(ctx context.Context, id int64) (ir.Command, error) {
	return l.store.GetCommand(ctx, id)
}

// Next returns the runnable command with the smallest id, or nil when the
// backlog is empty. Failed commands are runnable in this sense: the engine
// sees them and halts.
func (l *Log) Next(ctx context.Context) (*ir.Command, error) {
	return l.store.FirstCommandIn(ctx, ir.RunnableStates...)
}

// Count counts commands in the given states, or all commands.
func (l *Log) Count(ctx context.Context, states ...ir.CommandState) (int, error) {
	return l.store.CountCommands(ctx, states...)
}

// Find returns the commands addressing (typeName, itemID) with action.
func (l *Log) Find(ctx context.Context, typeName string, itemID int64, action ir.Action) ([]ir.Command, error) {
	return l.store.FindCommands(ctx, typeName, itemID, action)
}

// UpdateState persists cmd's state and item id.
func (l *Log) UpdateState(ctx context.Context, cmd ir.Command) error {
	if !cmd.State.Valid() {
		return fmt.Errorf("update command %d: invalid state %q", cmd.ID, cmd.State)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.UpdateCommand(ctx, cmd)
}

// Delete removes one command. Reports whether it existed.
func (l *Log) Delete(ctx context.Context, id int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.DeleteCommand(ctx, id)
}

// Clear removes every command.
func (l *Log) Clear(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, err := l.store.ClearCommands(ctx)
	if err != nil {
		return 0, err
	}
	l.logger.Info("command log cleared", "removed", n)
	return n, nil
}

// PurgeSucceeded removes every Succeeded command.
func (l *Log) PurgeSucceeded(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.DeleteCommandsInState(ctx, ir.StateSucceeded)
}

// Reset returns a Failed or Delayed command to Pending.
func (l *Log) Reset(ctx context.Context, id int64) (ir.Command, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cmd, err := l.store.GetCommand(ctx, id)
	if err != nil {
		return ir.Command{}, err
	}
	if cmd.State != ir.StateFailed && cmd.State != ir.StateDelayed {
		return cmd, fmt.Errorf("command %d is %s: %w", id, cmd.State, ErrNotResettable)
	}

	prev := cmd.State
	cmd.State = ir.StatePending
	if err := l.store.UpdateCommand(ctx, cmd); err != nil {
		return ir.Command{}, err
	}
	l.logger.Info("command reset",
		"command_id", cmd.ID,
		"action", cmd.Action,
		"state", prev,
	)
	return cmd, nil
}

// RetryFailed returns every Failed command to Pending.
func (l *Log) RetryFailed(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, err := l.store.SetCommandStates(ctx, ir.StateFailed, ir.StatePending)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.logger.Info("failed commands reset", "count", n)
	}
	return n, nil
}

// Stats summarizes the log.
type Stats struct {
	Total   int                     `json:"total"`
	ByState map[ir.CommandState]int `json:"by_state"`
}

// Runnable returns the number of commands a pass would look at.
func (s Stats) Runnable() int {
	n := 0
	for _, st := range ir.RunnableStates {
		n += s.ByState[st]
	}
	return n
}

// Stats counts commands by state.
func (l *Log) Stats(ctx context.Context) (Stats, error) {
	counts, err := l.store.CountCommandsByState(ctx)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{ByState: counts}
	for _, n := range counts {
		s.Total += n
	}
	return s, nil
}
