package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/bufsync/internal/blob"
	"github.com/roach88/bufsync/internal/ir"
	"github.com/roach88/bufsync/internal/remote"
)

// DefaultMaxLocalSize is the largest uploaded file whose content is kept
// in the local blob store.
const DefaultMaxLocalSize int64 = 10 << 20

// LocalStore is the slice of the local store the handlers read and write.
type LocalStore interface {
	GetRecord(ctx context.Context, typeName string, id int64) (ir.Record, error)
	GetFile(ctx context.Context, id string) (ir.FileMeta, error)
	PutFile(ctx context.Context, f ir.FileMeta) error
}

// CommandFinder looks up queued commands for the guards.
type CommandFinder interface {
	Find(ctx context.Context, typeName string, itemID int64, action ir.Action) ([]ir.Command, error)
}

// Env carries the collaborators every handler receives.
type Env struct {
	Local  LocalStore
	Blobs  blob.Store
	Remote remote.Store
	Log    CommandFinder

	// MaxLocalSize is the size threshold above which an uploaded file's
	// local content is deleted and its state set to Server. Zero keeps no
	// uploaded content locally.
	MaxLocalSize int64

	Logger *slog.Logger
}

// Outcome is what a successful handler reports back to the engine.
type Outcome struct {
	// NewID is the authoritative id returned by a remote Insert.
	NewID *int64
	// Disable marks a one-shot command that must never run again.
	Disable bool
	// Skipped is set when a guard made the command a no-op.
	Skipped bool
}

// HandlerFunc performs one action.
type HandlerFunc func(ctx context.Context, cmd ir.Command, env *Env) (Outcome, error)

var handlers = map[ir.Action]HandlerFunc{
	ir.ActionCreateTable:              createTable,
	ir.ActionDeleteTable:              deleteTable,
	ir.ActionInsert:                   insert,
	ir.ActionUpdate:                   update,
	ir.ActionDelete:                   deleteItem,
	ir.ActionLike:                     like,
	ir.ActionUnlike:                   unlike,
	ir.ActionEmpty:                    empty,
	ir.ActionAttachFileToItem:         attachFileToItem,
	ir.ActionRemoveAttachmentFromItem: removeAttachmentFromItem,
	ir.ActionAttachFileToLibrary:      attachFileToLibrary,
	ir.ActionRemoveFileFromLibrary:    removeFileFromLibrary,
}

// Handler returns the handler registered for action.
func Handler(action ir.Action) (HandlerFunc, bool) {
	h, ok := handlers[action]
	return h, ok
}

// Dispatcher routes commands to their handlers.
type Dispatcher struct {
	env *Env
}

// New returns a Dispatcher over env. A nil Logger selects slog.Default().
func New(env Env) *Dispatcher {
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	return &Dispatcher{env: &env}
}

// Dispatch runs cmd's handler. Handler errors are logged and returned
// wrapped with the action and command id.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd ir.Command) (Outcome, error) {
	h, ok := handlers[cmd.Action]
	if !ok {
		err := &UnknownActionError{CommandID: cmd.ID, Action: cmd.Action}
		d.env.Logger.Error("dispatch failed", "command_id", cmd.ID, "action", cmd.Action, "error", err)
		return Outcome{}, err
	}

	out, err := h(ctx, cmd, d.env)
	if err != nil {
		d.env.Logger.Error("dispatch failed",
			"command_id", cmd.ID,
			"action", cmd.Action,
			"type", cmd.TypeName,
			"item_id", cmd.Item(),
			"error", err,
		)
		return Outcome{}, fmt.Errorf("%s #%d: %w", cmd.Action, cmd.ID, err)
	}
	if out.Skipped {
		d.env.Logger.Debug("command skipped",
			"command_id", cmd.ID,
			"action", cmd.Action,
			"type", cmd.TypeName,
			"item_id", cmd.Item(),
		)
	}
	return out, nil
}

// IsTransient reports whether a Dispatch error should leave the command
// Delayed rather than Failed.
func (d *Dispatcher) IsTransient(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	return d.env.Remote.IsTransient(err)
}
