package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/roach88/bufsync/internal/ir"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var errTxDone = errors.New("store: transaction already finished")

// Tx is the subset of Store that can run inside one database transaction.
// A Tx is only valid inside the Atomic callback that received it.
type Tx struct {
	tx   *sql.Tx
	done bool
}

// Atomic runs fn in a single transaction. Every write fn makes through tx
// commits together, or none do if fn returns an error.
//
// The pool holds one connection, so fn must not call Store methods.
func (s *Store) Atomic(ctx context.Context, fn func(tx *Tx) error) error {
	return s.withTx(ctx, func(sqlTx *sql.Tx) error {
		tx := &Tx{tx: sqlTx}
		defer func() { tx.done = true }()
		return fn(tx)
	})
}

func (t *Tx) q() (querier, error) {
	if t.done {
		return nil, errTxDone
	}
	return t.tx, nil
}

// GetRecord returns the record stored at (typeName, id).
func (t *Tx) GetRecord(ctx context.Context, typeName string, id int64) (ir.Record, error) {
	q, err := t.q()
	if err != nil {
		return ir.Record{}, err
	}
	return getRecord(ctx, q, typeName, id)
}

// PutRecord inserts or replaces a record.
func (t *Tx) PutRecord(ctx context.Context, rec ir.Record) error {
	q, err := t.q()
	if err != nil {
		return err
	}
	return putRecord(ctx, q, rec)
}

// ListRecords returns every record of a type ordered by id.
func (t *Tx) ListRecords(ctx context.Context, typeName string) ([]ir.Record, error) {
	q, err := t.q()
	if err != nil {
		return nil, err
	}
	return listRecords(ctx, q, typeName)
}

// RelocateRecord moves a record to newID. See Store.RelocateRecord.
func (t *Tx) RelocateRecord(ctx context.Context, typeName string, oldID, newID int64) error {
	q, err := t.q()
	if err != nil {
		return err
	}
	return relocateRecord(ctx, q, typeName, oldID, newID)
}

// ListFiles returns all file metadata ordered by id.
func (t *Tx) ListFiles(ctx context.Context) ([]ir.FileMeta, error) {
	q, err := t.q()
	if err != nil {
		return nil, err
	}
	return listFiles(ctx, q)
}

// PutFile inserts or replaces file metadata.
func (t *Tx) PutFile(ctx context.Context, f ir.FileMeta) error {
	q, err := t.q()
	if err != nil {
		return err
	}
	return putFile(ctx, q, f)
}

// UpdateCommand persists a command's state and item id.
func (t *Tx) UpdateCommand(ctx context.Context, cmd ir.Command) error {
	q, err := t.q()
	if err != nil {
		return err
	}
	return updateCommand(ctx, q, cmd)
}

// RewriteCommandItemIDs points every command on (typeName, oldID) at
// newID, except exceptID.
func (t *Tx) RewriteCommandItemIDs(ctx context.Context, typeName string, oldID, newID, exceptID int64) (int64, error) {
	q, err := t.q()
	if err != nil {
		return 0, err
	}
	return rewriteCommandItemIDs(ctx, q, typeName, oldID, newID, exceptID)
}
