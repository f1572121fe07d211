package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bufsync/internal/ir"
)

func TestPutRecord_Upsert(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	rec := ir.Record{Type: "Order", ID: 1, Fields: ir.IRObject{"title": ir.IRString("first")}}
	require.NoError(t, s.PutRecord(ctx, rec))

	rec.Fields = ir.IRObject{"title": ir.IRString("second"), "qty": ir.IRInt(2)}
	require.NoError(t, s.PutRecord(ctx, rec))

	got, err := s.GetRecord(ctx, "Order", 1)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestPutRecord_RequiresType(t *testing.T) {
	s := setupTestStore(t)
	assert.Error(t, s.PutRecord(context.Background(), ir.Record{ID: 1}))
}

func TestPutRecord_NilFields(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutRecord(ctx, ir.Record{Type: "Order", ID: 1}))

	got, err := s.GetRecord(ctx, "Order", 1)
	require.NoError(t, err)
	assert.Empty(t, got.Fields)
}

func TestGetRecord_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetRecord(context.Background(), "Order", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecords_KeyedByType(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutRecord(ctx, ir.Record{Type: "Order", ID: 1, Fields: ir.IRObject{"n": ir.IRInt(1)}}))
	require.NoError(t, s.PutRecord(ctx, ir.Record{Type: "LineItem", ID: 1, Fields: ir.IRObject{"n": ir.IRInt(2)}}))
	require.NoError(t, s.PutRecord(ctx, ir.Record{Type: "LineItem", ID: 3, Fields: ir.IRObject{"n": ir.IRInt(3)}}))

	items, err := s.ListRecords(ctx, "LineItem")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(1), items[0].ID)
	assert.Equal(t, int64(3), items[1].ID)

	names, err := s.ListTypeNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"LineItem", "Order"}, names)

	next, err := s.NextRecordID(ctx, "LineItem")
	require.NoError(t, err)
	assert.Equal(t, int64(4), next)

	next, err = s.NextRecordID(ctx, "Customer")
	require.NoError(t, err)
	assert.Equal(t, int64(1), next)
}

func TestDeleteRecord(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutRecord(ctx, ir.Record{Type: "Order", ID: 1}))

	ok, err := s.DeleteRecord(ctx, "Order", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.DeleteRecord(ctx, "Order", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRelocateRecord(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	fields := ir.IRObject{"title": ir.IRString("desk")}
	require.NoError(t, s.PutRecord(ctx, ir.Record{Type: "Order", ID: 1, Fields: fields}))

	require.NoError(t, s.RelocateRecord(ctx, "Order", 1, 55))

	_, err := s.GetRecord(ctx, "Order", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.GetRecord(ctx, "Order", 55)
	require.NoError(t, err)
	assert.Equal(t, fields, got.Fields)
}

func TestRelocateRecord_RefusesOccupiedID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutRecord(ctx, ir.Record{Type: "Order", ID: 1, Fields: ir.IRObject{"v": ir.IRString("desk")}}))
	require.NoError(t, s.PutRecord(ctx, ir.Record{Type: "Order", ID: 2, Fields: ir.IRObject{"v": ir.IRString("chair")}}))

	err := s.RelocateRecord(ctx, "Order", 1, 2)
	assert.ErrorIs(t, err, ErrConflict)

	one, err := s.GetRecord(ctx, "Order", 1)
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("desk"), one.Fields["v"])
	two, err := s.GetRecord(ctx, "Order", 2)
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("chair"), two.Fields["v"])
}

func TestRelocateRecord_SameID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutRecord(ctx, ir.Record{Type: "Order", ID: 3, Fields: ir.IRObject{"v": ir.IRString("desk")}}))
	require.NoError(t, s.RelocateRecord(ctx, "Order", 3, 3))

	got, err := s.GetRecord(ctx, "Order", 3)
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("desk"), got.Fields["v"])
}

func TestRelocateRecord_Missing(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.RelocateRecord(ctx, "Order", 1, 55)
	assert.ErrorIs(t, err, ErrNotFound)

	// The failed transaction must not leave the store unusable.
	require.NoError(t, s.PutRecord(ctx, ir.Record{Type: "Order", ID: 2}))
}
