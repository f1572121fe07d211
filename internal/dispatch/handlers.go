package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/bufsync/internal/blob"
	"github.com/roach88/bufsync/internal/ir"
	"github.com/roach88/bufsync/internal/store"
)

func createTable(ctx context.Context, cmd ir.Command, env *Env) (Outcome, error) {
	if err := env.Remote.CreateTable(ctx, cmd.TypeName); err != nil {
		return Outcome{}, err
	}
	return Outcome{Disable: true}, nil
}

func deleteTable(ctx context.Context, cmd ir.Command, env *Env) (Outcome, error) {
	return Outcome{}, env.Remote.DeleteTable(ctx, cmd.TypeName)
}

func insert(ctx context.Context, cmd ir.Command, env *Env) (Outcome, error) {
	if skip, err := wasDeletedSince(ctx, env, cmd); err != nil || skip {
		return Outcome{Skipped: skip}, err
	}
	rec, err := loadRecord(ctx, cmd, env)
	if err != nil {
		return Outcome{}, err
	}
	id, err := env.Remote.Insert(ctx, rec)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{NewID: &id}, nil
}

func update(ctx context.Context, cmd ir.Command, env *Env) (Outcome, error) {
	if skip, err := wasDeletedSince(ctx, env, cmd); err != nil || skip {
		return Outcome{Skipped: skip}, err
	}
	rec, err := loadRecord(ctx, cmd, env)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{}, env.Remote.Update(ctx, rec)
}

func deleteItem(ctx context.Context, cmd ir.Command, env *Env) (Outcome, error) {
	if !cmd.HasItem() {
		return Outcome{}, commandError(cmd, "item id is required", nil)
	}
	if skip, err := wasNeverInsertedRemotely(ctx, env, cmd); err != nil || skip {
		return Outcome{Skipped: skip}, err
	}
	return Outcome{}, env.Remote.DeleteByID(ctx, cmd.TypeName, cmd.Item())
}

func like(ctx context.Context, cmd ir.Command, env *Env) (Outcome, error) {
	return applyLike(ctx, cmd, env, env.Remote.Like)
}

func unlike(ctx context.Context, cmd ir.Command, env *Env) (Outcome, error) {
	return applyLike(ctx, cmd, env, env.Remote.Unlike)
}

func applyLike(ctx context.Context, cmd ir.Command, env *Env, op func(context.Context, string, int64, int64) error) (Outcome, error) {
	if skip, err := wasDeletedSince(ctx, env, cmd); err != nil || skip {
		return Outcome{Skipped: skip}, err
	}
	if !cmd.HasItem() {
		return Outcome{}, commandError(cmd, "item id is required", nil)
	}
	actor, err := actorID(cmd)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{}, op(ctx, cmd.TypeName, cmd.Item(), actor)
}

func empty(ctx context.Context, cmd ir.Command, env *Env) (Outcome, error) {
	return Outcome{}, env.Remote.Empty(ctx, cmd.TypeName)
}

func attachFileToItem(ctx context.Context, cmd ir.Command, env *Env) (Outcome, error) {
	if skip, err := wasDeletedSince(ctx, env, cmd); err != nil || skip {
		return Outcome{Skipped: skip}, err
	}
	if !cmd.HasItem() {
		return Outcome{}, commandError(cmd, "item id is required", nil)
	}
	meta, size, content, err := openAttachment(ctx, cmd, env)
	if err != nil {
		return Outcome{}, err
	}
	defer func() { _ = content.Close() }()

	if err := env.Remote.AttachFileToItem(ctx, cmd.TypeName, cmd.Item(), meta.Filename, content); err != nil {
		return Outcome{}, err
	}
	return Outcome{}, settleFile(ctx, env, meta, size)
}

func removeAttachmentFromItem(ctx context.Context, cmd ir.Command, env *Env) (Outcome, error) {
	if skip, err := wasDeletedSince(ctx, env, cmd); err != nil || skip {
		return Outcome{Skipped: skip}, err
	}
	if !cmd.HasItem() {
		return Outcome{}, commandError(cmd, "item id is required", nil)
	}
	filename, ok := cmd.Parameters.String(ir.ParamFilename)
	if !ok || filename == "" {
		return Outcome{}, commandError(cmd, "missing parameter "+ir.ParamFilename, nil)
	}
	return Outcome{}, env.Remote.RemoveFileFromItem(ctx, cmd.TypeName, cmd.Item(), filename)
}

func attachFileToLibrary(ctx context.Context, cmd ir.Command, env *Env) (Outcome, error) {
	if skip, err := wasDeletedSince(ctx, env, cmd); err != nil || skip {
		return Outcome{Skipped: skip}, err
	}
	meta, size, content, err := openAttachment(ctx, cmd, env)
	if err != nil {
		return Outcome{}, err
	}
	defer func() { _ = content.Close() }()

	var snapshot ir.IRObject
	if meta.HasSnapshot() {
		snapshot, err = ir.ParseObject([]byte(meta.AdditionalInformation))
		if err != nil {
			return Outcome{}, commandError(cmd, "decode snapshot of file "+meta.ID, err)
		}
		env.Logger.Debug("attaching snapshot", "command_id", cmd.ID, "snapshot_type", meta.SnapshotType, "file_id", meta.ID)
	}

	folder := meta.Folder
	if folder == "" {
		folder, _ = cmd.Parameters.String(ir.ParamFolder)
	}
	if err := env.Remote.AttachFileToLibrary(ctx, cmd.TypeName, folder, meta.Filename, content, snapshot); err != nil {
		return Outcome{}, err
	}
	return Outcome{}, settleFile(ctx, env, meta, size)
}

func removeFileFromLibrary(ctx context.Context, cmd ir.Command, env *Env) (Outcome, error) {
	folder, _ := cmd.Parameters.String(ir.ParamFolder)
	var filenames []string
	for _, v := range cmd.Parameters.All(ir.ParamFilename) {
		name, ok := ir.AsString(v)
		if !ok || name == "" {
			return Outcome{}, commandError(cmd, "invalid parameter "+ir.ParamFilename, nil)
		}
		filenames = append(filenames, name)
	}
	if len(filenames) == 0 {
		return Outcome{}, commandError(cmd, "missing parameter "+ir.ParamFilename, nil)
	}
	return Outcome{}, env.Remote.RemoveFilesFromLibrary(ctx, cmd.TypeName, folder, filenames)
}

func loadRecord(ctx context.Context, cmd ir.Command, env *Env) (ir.Record, error) {
	if !cmd.HasItem() {
		return ir.Record{}, commandError(cmd, "item id is required", nil)
	}
	rec, err := env.Local.GetRecord(ctx, cmd.TypeName, cmd.Item())
	if errors.Is(err, store.ErrNotFound) {
		return ir.Record{}, commandError(cmd, "local record missing", err)
	}
	if err != nil {
		return ir.Record{}, fmt.Errorf("load record: %w", err)
	}
	return rec, nil
}

// actorID reads the acting user from UserId, falling back to the first
// parameter.
func actorID(cmd ir.Command) (int64, error) {
	v, ok := cmd.Parameters.Get(ir.ParamUserID)
	if !ok {
		v, ok = cmd.Parameters.First()
	}
	if !ok {
		return 0, commandError(cmd, "missing acting user", nil)
	}
	id, ok := ir.AsInt(v)
	if !ok {
		return 0, commandError(cmd, "acting user is not an id", nil)
	}
	return id, nil
}

// openAttachment loads the metadata, content size and local content named
// by the AttachmentId parameter.
func openAttachment(ctx context.Context, cmd ir.Command, env *Env) (ir.FileMeta, int64, io.ReadCloser, error) {
	id, ok := cmd.Parameters.String(ir.ParamAttachmentID)
	if !ok || id == "" {
		return ir.FileMeta{}, 0, nil, commandError(cmd, "missing parameter "+ir.ParamAttachmentID, nil)
	}
	meta, err := env.Local.GetFile(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ir.FileMeta{}, 0, nil, commandError(cmd, "file metadata missing", err)
	}
	if err != nil {
		return ir.FileMeta{}, 0, nil, fmt.Errorf("load file %s: %w", id, err)
	}
	key, err := blob.FileKey(id)
	if err != nil {
		return ir.FileMeta{}, 0, nil, commandError(cmd, "invalid attachment id", err)
	}
	info, rc, err := env.Blobs.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return ir.FileMeta{}, 0, nil, commandError(cmd, "file content missing", err)
	}
	if err != nil {
		return ir.FileMeta{}, 0, nil, fmt.Errorf("open file %s: %w", id, err)
	}
	return meta, info.Size, rc, nil
}

// settleFile records where an uploaded file's content now lives. Files
// larger than MaxLocalSize keep only their metadata locally.
func settleFile(ctx context.Context, env *Env, meta ir.FileMeta, size int64) error {
	server := size > env.MaxLocalSize
	if server {
		meta.State = ir.FileServer
	} else {
		meta.State = ir.FileLocal
	}
	if err := env.Local.PutFile(ctx, meta); err != nil {
		return fmt.Errorf("update file %s: %w", meta.ID, err)
	}
	if !server {
		return nil
	}
	key, err := blob.FileKey(meta.ID)
	if err != nil {
		return err
	}
	if _, err := env.Blobs.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete local content of %s: %w", meta.ID, err)
	}
	return nil
}
