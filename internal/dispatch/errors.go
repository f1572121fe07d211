package dispatch

import (
	"errors"
	"fmt"

	"github.com/roach88/bufsync/internal/ir"
)

// CommandError reports a command that cannot run as queued: a missing item
// id, parameter, local record or blob. It is never transient.
type CommandError struct {
	CommandID int64
	Action    ir.Action
	Reason    string
	Err       error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command #%d %s: %s: %v", e.CommandID, e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("command #%d %s: %s", e.CommandID, e.Action, e.Reason)
}

func (e *CommandError) Unwrap() error { return e.Err }

// UnknownActionError reports a command whose action has no handler.
type UnknownActionError struct {
	CommandID int64
	Action    ir.Action
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("command #%d: no handler for action %q", e.CommandID, e.Action)
}

// IsPermanent reports whether err was raised by the dispatcher itself
// rather than by the remote store.
func IsPermanent(err error) bool {
	var ce *CommandError
	if errors.As(err, &ce) {
		return true
	}
	var ue *UnknownActionError
	return errors.As(err, &ue)
}

func commandError(cmd ir.Command, reason string, err error) *CommandError {
	return &CommandError{CommandID: cmd.ID, Action: cmd.Action, Reason: reason, Err: err}
}
