package queue

import (
	"context"
	"errors"

	"github.com/roach88/bufsync/internal/ir"
	"github.com/roach88/bufsync/internal/store"
)

var errTxDone = errors.New("queue: transaction already finished")

// Tx exposes log mutations to code running under Exclusive. Its methods do
// not take the log mutex; the caller already holds it.
//
// The embedded store.Tx shares the same database transaction, so record
// and file writes made through it commit or roll back with the command
// writes.
type Tx struct {
	*store.Tx
	done bool
}

// Exclusive runs fn while holding the log mutex, inside one storage
// transaction. No other mutation can interleave with fn, and nothing fn
// writes is kept if it returns an error. The Tx is only valid until fn
// returns.
func (l *Log) Exclusive(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.store.Atomic(ctx, func(st *store.Tx) error {
		tx := &Tx{Tx: st}
		defer func() { tx.done = true }()
		return fn(ctx, tx)
	})
}

// RewriteItemIDs points every command on (typeName, oldID) except exceptID
// at newID. Returns the number of commands rewritten.
func (tx *Tx) RewriteItemIDs(ctx context.Context, typeName string, oldID, newID, exceptID int64) (int64, error) {
	if tx.done {
		return 0, errTxDone
	}
	return tx.RewriteCommandItemIDs(ctx, typeName, oldID, newID, exceptID)
}

// UpdateState persists cmd's state and item id.
func (tx *Tx) UpdateState(ctx context.Context, cmd ir.Command) error {
	if tx.done {
		return errTxDone
	}
	return tx.UpdateCommand(ctx, cmd)
}
