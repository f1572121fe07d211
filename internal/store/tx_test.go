package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bufsync/internal/ir"
)

func TestAtomic_CommitsTogether(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutRecord(ctx, ir.Record{Type: "Order", ID: 1, Fields: ir.IRObject{}}))
	require.NoError(t, s.InsertCommand(ctx, testCommand(1, ir.ActionUpdate, "Order", 1)))

	err := s.Atomic(ctx, func(tx *Tx) error {
		if err := tx.RelocateRecord(ctx, "Order", 1, 55); err != nil {
			return err
		}
		_, err := tx.RewriteCommandItemIDs(ctx, "Order", 1, 55, 0)
		return err
	})
	require.NoError(t, err)

	_, err = s.GetRecord(ctx, "Order", 55)
	require.NoError(t, err)
	cmd, err := s.GetCommand(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(55), cmd.Item())
}

func TestAtomic_RollsBackOnError(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutRecord(ctx, ir.Record{Type: "Order", ID: 1, Fields: ir.IRObject{}}))
	require.NoError(t, s.InsertCommand(ctx, testCommand(1, ir.ActionUpdate, "Order", 1)))
	boom := errors.New("boom")

	err := s.Atomic(ctx, func(tx *Tx) error {
		if err := tx.RelocateRecord(ctx, "Order", 1, 55); err != nil {
			return err
		}
		if _, err := tx.RewriteCommandItemIDs(ctx, "Order", 1, 55, 0); err != nil {
			return err
		}
		if err := tx.PutFile(ctx, ir.FileMeta{ID: "f-1", AttachmentType: ir.AttachmentItem, Filename: "a", State: ir.FileLocal}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetRecord(ctx, "Order", 1)
	require.NoError(t, err)
	_, err = s.GetRecord(ctx, "Order", 55)
	assert.ErrorIs(t, err, ErrNotFound)
	cmd, err := s.GetCommand(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cmd.Item())
	_, err = s.GetFile(ctx, "f-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAtomic_TxInvalidAfterReturn(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var leaked *Tx
	require.NoError(t, s.Atomic(ctx, func(tx *Tx) error {
		leaked = tx
		return nil
	}))

	_, err := leaked.ListFiles(ctx)
	assert.ErrorIs(t, err, errTxDone)
}
