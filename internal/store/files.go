package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/bufsync/internal/ir"
)

const fileColumns = `id, attachment_type, list_name, parent_id, folder, filename,
	content_type, size, state, snapshot_type, additional_information`

// GetFile returns file metadata by id.
// Returns ErrNotFound if it does not exist.
func (s *Store) GetFile(ctx context.Context, id string) (ir.FileMeta, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.FileMeta{}, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ir.FileMeta{}, err
	}
	return f, nil
}

// PutFile inserts or replaces file metadata.
func (s *Store) PutFile(ctx context.Context, f ir.FileMeta) error {
	return putFile(ctx, s.db, f)
}

func putFile(ctx context.Context, q querier, f ir.FileMeta) error {
	if f.ID == "" {
		return fmt.Errorf("put file: id is required")
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO files (`+fileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			attachment_type = excluded.attachment_type,
			list_name = excluded.list_name,
			parent_id = excluded.parent_id,
			folder = excluded.folder,
			filename = excluded.filename,
			content_type = excluded.content_type,
			size = excluded.size,
			state = excluded.state,
			snapshot_type = excluded.snapshot_type,
			additional_information = excluded.additional_information
	`,
		f.ID,
		string(f.AttachmentType),
		f.ListName,
		f.ParentID,
		f.Folder,
		f.Filename,
		f.ContentType,
		f.Size,
		string(f.State),
		f.SnapshotType,
		f.AdditionalInformation,
	)
	if err != nil {
		return fmt.Errorf("put file %s: %w", f.ID, err)
	}
	return nil
}

// DeleteFile removes file metadata. Reports whether it existed.
func (s *Store) DeleteFile(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete file %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete file %s: %w", id, err)
	}
	return n > 0, nil
}

// ListFiles returns all file metadata ordered by id.
func (s *Store) ListFiles(ctx context.Context) ([]ir.FileMeta, error) {
	return listFiles(ctx, s.db)
}

func listFiles(ctx context.Context, q querier) ([]ir.FileMeta, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+fileColumns+` FROM files ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	files := []ir.FileMeta{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return files, nil
}

func scanFile(row rowScanner) (ir.FileMeta, error) {
	var (
		f              ir.FileMeta
		attachmentType string
		state          string
	)
	err := row.Scan(
		&f.ID,
		&attachmentType,
		&f.ListName,
		&f.ParentID,
		&f.Folder,
		&f.Filename,
		&f.ContentType,
		&f.Size,
		&state,
		&f.SnapshotType,
		&f.AdditionalInformation,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ir.FileMeta{}, err
		}
		return ir.FileMeta{}, fmt.Errorf("scan file: %w", err)
	}
	f.AttachmentType = ir.AttachmentType(attachmentType)
	f.State = ir.FileState(state)
	return f, nil
}
