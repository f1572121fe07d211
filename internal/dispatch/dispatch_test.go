package dispatch

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bufsync/internal/blob"
	"github.com/roach88/bufsync/internal/ir"
	"github.com/roach88/bufsync/internal/queue"
	"github.com/roach88/bufsync/internal/remote"
	"github.com/roach88/bufsync/internal/remote/memremote"
	"github.com/roach88/bufsync/internal/store"
)

type fixture struct {
	store  *store.Store
	blobs  blob.Store
	remote *memremote.Store
	log    *queue.Log
	d      *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		store:  s,
		blobs:  blob.NewMemory(),
		remote: memremote.New(),
		log:    queue.New(s),
	}
	f.d = New(Env{
		Local:        s,
		Blobs:        f.blobs,
		Remote:       f.remote,
		Log:          f.log,
		MaxLocalSize: 4,
	})
	return f
}

func (f *fixture) enqueue(t *testing.T, action ir.Action, typeName string, itemID int64, params ...ir.Param) ir.Command {
	t.Helper()
	cmd := ir.Command{TypeName: typeName, Action: action, Parameters: params}
	if itemID != 0 {
		cmd.ItemID = ir.ItemRef(itemID)
	}
	got, ok, err := f.log.Enqueue(context.Background(), cmd)
	require.NoError(t, err)
	require.True(t, ok)
	return got
}

func (f *fixture) putRecord(t *testing.T, typeName string, id int64, fields ir.IRObject) {
	t.Helper()
	require.NoError(t, f.store.PutRecord(context.Background(), ir.Record{Type: typeName, ID: id, Fields: fields}))
}

func (f *fixture) putFile(t *testing.T, meta ir.FileMeta, content string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.PutFile(ctx, meta))
	key, err := blob.FileKey(meta.ID)
	require.NoError(t, err)
	_, err = f.blobs.Put(ctx, key, bytes.NewReader([]byte(content)), blob.PutOptions{})
	require.NoError(t, err)
}

func TestDispatch_InsertReturnsRemoteID(t *testing.T) {
	f := newFixture(t)
	f.remote.SetNextID("Order", 55)
	f.putRecord(t, "Order", 1, ir.IRObject{"title": ir.IRString("desk")})
	cmd := f.enqueue(t, ir.ActionInsert, "Order", 1)

	out, err := f.d.Dispatch(context.Background(), cmd)
	require.NoError(t, err)
	require.NotNil(t, out.NewID)
	assert.Equal(t, int64(55), *out.NewID)
	assert.False(t, out.Skipped)

	row, ok := f.remote.Record("Order", 55)
	require.True(t, ok)
	assert.Equal(t, ir.IRString("desk"), row["title"])
}

func TestDispatch_InsertMissingRecordIsPermanent(t *testing.T) {
	f := newFixture(t)
	cmd := f.enqueue(t, ir.ActionInsert, "Order", 1)

	_, err := f.d.Dispatch(context.Background(), cmd)
	require.Error(t, err)

	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, cmd.ID, ce.CommandID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, f.d.IsTransient(err))
	assert.Empty(t, f.remote.Calls())
}

func TestDispatch_SkipsCommandsForDeletedItems(t *testing.T) {
	f := newFixture(t)
	f.putRecord(t, "Order", 1, ir.IRObject{})
	insert := f.enqueue(t, ir.ActionInsert, "Order", 1)
	update := f.enqueue(t, ir.ActionUpdate, "Order", 1)
	like := f.enqueue(t, ir.ActionLike, "Order", 1, ir.P(ir.ParamUserID, ir.IRInt(7)))
	f.enqueue(t, ir.ActionDelete, "Order", 1)

	for _, cmd := range []ir.Command{insert, update, like} {
		out, err := f.d.Dispatch(context.Background(), cmd)
		require.NoError(t, err, cmd.String())
		assert.True(t, out.Skipped, cmd.String())
		assert.Nil(t, out.NewID)
	}
	assert.Empty(t, f.remote.Calls())
}

func TestDispatch_DeleteOfNeverInsertedItemSkipsRemote(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, ir.ActionInsert, "Order", 1)
	del := f.enqueue(t, ir.ActionDelete, "Order", 1)

	out, err := f.d.Dispatch(context.Background(), del)
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Empty(t, f.remote.Calls())
}

func TestDispatch_DeleteRemovesRemoteRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.remote.Insert(ctx, ir.Record{Type: "Order", Fields: ir.IRObject{}})
	require.NoError(t, err)
	f.remote.ResetCalls()
	del := f.enqueue(t, ir.ActionDelete, "Order", id)

	out, err := f.d.Dispatch(ctx, del)
	require.NoError(t, err)
	assert.False(t, out.Skipped)
	assert.Empty(t, f.remote.IDs("Order"))
	require.Len(t, f.remote.Calls(), 1)
	assert.Equal(t, remote.OpDeleteByID, f.remote.Calls()[0].Op)
}

func TestDispatch_DeleteRequiresItem(t *testing.T) {
	f := newFixture(t)
	del := f.enqueue(t, ir.ActionDelete, "Order", 0)

	_, err := f.d.Dispatch(context.Background(), del)
	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "item id is required", ce.Reason)
}

func TestDispatch_CreateTableDisables(t *testing.T) {
	f := newFixture(t)
	cmd := f.enqueue(t, ir.ActionCreateTable, "Order", 0)

	out, err := f.d.Dispatch(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, out.Disable)
}

func TestDispatch_LikeActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.remote.Insert(ctx, ir.Record{Type: "Post", Fields: ir.IRObject{}})
	require.NoError(t, err)

	byName := f.enqueue(t, ir.ActionLike, "Post", id, ir.P("Other", ir.IRInt(1)), ir.P(ir.ParamUserID, ir.IRInt(7)))
	_, err = f.d.Dispatch(ctx, byName)
	require.NoError(t, err)
	assert.True(t, f.remote.Liked("Post", id, 7))

	byPosition := f.enqueue(t, ir.ActionLike, "Post", id, ir.P("Actor", ir.IRString("9")))
	_, err = f.d.Dispatch(ctx, byPosition)
	require.NoError(t, err)
	assert.True(t, f.remote.Liked("Post", id, 9))

	unlike := f.enqueue(t, ir.ActionUnlike, "Post", id, ir.P(ir.ParamUserID, ir.IRInt(7)))
	_, err = f.d.Dispatch(ctx, unlike)
	require.NoError(t, err)
	assert.False(t, f.remote.Liked("Post", id, 7))

	missing := f.enqueue(t, ir.ActionLike, "Post", id)
	_, err = f.d.Dispatch(ctx, missing)
	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "missing acting user", ce.Reason)
}

func TestDispatch_ClassifiesRemoteFaults(t *testing.T) {
	f := newFixture(t)
	f.putRecord(t, "Order", 1, ir.IRObject{})
	cmd := f.enqueue(t, ir.ActionInsert, "Order", 1)

	f.remote.FailNext(remote.OpInsert, remote.Unavailable(remote.OpInsert, "maintenance"))
	_, err := f.d.Dispatch(context.Background(), cmd)
	require.Error(t, err)
	assert.True(t, f.d.IsTransient(err))
	assert.Contains(t, err.Error(), "Insert #1")

	f.remote.FailNext(remote.OpInsert, &remote.Error{Op: remote.OpInsert, Status: 400, Message: "bad request"})
	_, err = f.d.Dispatch(context.Background(), cmd)
	require.Error(t, err)
	assert.False(t, f.d.IsTransient(err))
}

func TestDispatch_UnknownAction(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.Dispatch(context.Background(), ir.Command{ID: 3, TypeName: "Order", Action: "Teleport"})

	var ue *UnknownActionError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, int64(3), ue.CommandID)
	assert.True(t, IsPermanent(err))
	assert.False(t, f.d.IsTransient(err))
}

func TestDispatch_AttachFileToItemSizeThreshold(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantState ir.FileState
		keepsBlob bool
	}{
		{"small file stays local", "tiny", ir.FileLocal, true},
		{"large file moves to server", "larger than four", ir.FileServer, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			id, err := f.remote.Insert(ctx, ir.Record{Type: "Order", Fields: ir.IRObject{}})
			require.NoError(t, err)

			f.putFile(t, ir.FileMeta{
				ID:             "file-1",
				AttachmentType: ir.AttachmentItem,
				ListName:       "Order",
				ParentID:       id,
				Filename:       "a.txt",
				State:          ir.FileLocal,
			}, tt.content)
			cmd := f.enqueue(t, ir.ActionAttachFileToItem, "Order", id, ir.P(ir.ParamAttachmentID, ir.IRString("file-1")))

			_, err = f.d.Dispatch(ctx, cmd)
			require.NoError(t, err)

			data, ok := f.remote.Attachment("Order", id, "a.txt")
			require.True(t, ok)
			assert.Equal(t, tt.content, string(data))

			meta, err := f.store.GetFile(ctx, "file-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, meta.State)

			_, err = f.blobs.Head(ctx, "files/file-1")
			if tt.keepsBlob {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, blob.ErrNotFound)
			}
		})
	}
}

func TestDispatch_AttachFileMissingInputs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	noParam := f.enqueue(t, ir.ActionAttachFileToItem, "Order", 1)
	_, err := f.d.Dispatch(ctx, noParam)
	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "missing parameter AttachmentId", ce.Reason)

	noMeta := f.enqueue(t, ir.ActionAttachFileToItem, "Order", 1, ir.P(ir.ParamAttachmentID, ir.IRString("nope")))
	_, err = f.d.Dispatch(ctx, noMeta)
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "file metadata missing", ce.Reason)

	require.NoError(t, f.store.PutFile(ctx, ir.FileMeta{ID: "file-2", AttachmentType: ir.AttachmentItem, Filename: "b.txt", State: ir.FileLocal}))
	noBlob := f.enqueue(t, ir.ActionAttachFileToItem, "Order", 1, ir.P(ir.ParamAttachmentID, ir.IRString("file-2")))
	_, err = f.d.Dispatch(ctx, noBlob)
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "file content missing", ce.Reason)
	assert.Empty(t, f.remote.Calls())
}

// A zero threshold keeps no uploaded content locally.
func TestDispatch_ZeroMaxLocalSizeKeepsNothing(t *testing.T) {
	f := newFixture(t)
	f.d = New(Env{Local: f.store, Blobs: f.blobs, Remote: f.remote, Log: f.log})
	ctx := context.Background()
	f.putFile(t, ir.FileMeta{
		ID:             "doc-1",
		AttachmentType: ir.AttachmentDocLib,
		Filename:       "a.pdf",
		State:          ir.FileLocal,
	}, "x")
	cmd := f.enqueue(t, ir.ActionAttachFileToLibrary, "Invoices", 0, ir.P(ir.ParamAttachmentID, ir.IRString("doc-1")))

	_, err := f.d.Dispatch(ctx, cmd)
	require.NoError(t, err)

	meta, err := f.store.GetFile(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, ir.FileServer, meta.State)
	_, err = f.blobs.Head(ctx, "files/doc-1")
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestDispatch_AttachFileToLibraryWithSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.putFile(t, ir.FileMeta{
		ID:                    "doc-1",
		AttachmentType:        ir.AttachmentDocLib,
		Folder:                "2024/q1",
		Filename:              "invoice.pdf",
		State:                 ir.FileLocal,
		SnapshotType:          "Order",
		AdditionalInformation: `{"id":55,"customerId":3}`,
	}, "pdf")
	cmd := f.enqueue(t, ir.ActionAttachFileToLibrary, "Invoices", 0, ir.P(ir.ParamAttachmentID, ir.IRString("doc-1")))

	_, err := f.d.Dispatch(ctx, cmd)
	require.NoError(t, err)

	entry, ok := f.remote.LibraryFile("Invoices", "2024/q1", "invoice.pdf")
	require.True(t, ok)
	assert.Equal(t, "pdf", string(entry.Content))
	assert.Equal(t, ir.IRObject{"id": ir.IRInt(55), "customerId": ir.IRInt(3)}, entry.Snapshot)

	meta, err := f.store.GetFile(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, ir.FileLocal, meta.State)
}

func TestDispatch_AttachFileToLibraryBadSnapshot(t *testing.T) {
	f := newFixture(t)
	f.putFile(t, ir.FileMeta{
		ID:                    "doc-1",
		AttachmentType:        ir.AttachmentDocLib,
		Filename:              "a.pdf",
		State:                 ir.FileLocal,
		AdditionalInformation: `{not json`,
	}, "pdf")
	cmd := f.enqueue(t, ir.ActionAttachFileToLibrary, "Invoices", 0, ir.P(ir.ParamAttachmentID, ir.IRString("doc-1")))

	_, err := f.d.Dispatch(context.Background(), cmd)
	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "decode snapshot of file doc-1", ce.Reason)
}

func TestDispatch_RemoveFileFromLibrary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cmd := f.enqueue(t, ir.ActionRemoveFileFromLibrary, "Invoices", 0,
		ir.P(ir.ParamFolder, ir.IRString("2024")),
		ir.P(ir.ParamFilename, ir.IRString("a.pdf")),
		ir.P(ir.ParamFilename, ir.IRString("b.pdf")),
	)

	_, err := f.d.Dispatch(ctx, cmd)
	require.NoError(t, err)
	calls := f.remote.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "RemoveFilesFromLibrary Invoices 2024/a.pdf,b.pdf", calls[0].String())

	empty := f.enqueue(t, ir.ActionRemoveFileFromLibrary, "Invoices", 0, ir.P(ir.ParamFolder, ir.IRString("2024")))
	_, err = f.d.Dispatch(ctx, empty)
	var ce *CommandError
	require.True(t, errors.As(err, &ce))
}

func TestDispatch_RemoveAttachmentFromItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.remote.Insert(ctx, ir.Record{Type: "Order", Fields: ir.IRObject{}})
	require.NoError(t, err)
	require.NoError(t, f.remote.AttachFileToItem(ctx, "Order", id, "a.txt", bytes.NewReader([]byte("x"))))

	cmd := f.enqueue(t, ir.ActionRemoveAttachmentFromItem, "Order", id, ir.P(ir.ParamFilename, ir.IRString("a.txt")))
	_, err = f.d.Dispatch(ctx, cmd)
	require.NoError(t, err)

	_, ok := f.remote.Attachment("Order", id, "a.txt")
	assert.False(t, ok)
}

func TestHandler_EveryActionRegistered(t *testing.T) {
	for _, a := range ir.Actions {
		_, ok := Handler(a)
		assert.True(t, ok, "no handler for %s", a)
	}
}
