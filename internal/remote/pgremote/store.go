// Package pgremote implements remote.Store on PostgreSQL.
//
// Each entity type gets its own table (id BIGSERIAL, fields JSONB), so the
// database assigns authoritative ids. Likes, item attachments and library
// documents share bookkeeping tables; file content is written to a
// blob.Store and the tables hold only the blob keys.
package pgremote

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"unicode"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"github.com/roach88/bufsync/internal/blob"
	"github.com/roach88/bufsync/internal/ir"
	"github.com/roach88/bufsync/internal/remote"
)

var _ remote.Store = (*Store)(nil)

const driverName = "pgx"

// Store is a PostgreSQL-backed remote.
type Store struct {
	db     *sql.DB
	blobs  blob.Store
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open connects to dsn, verifies the connection and creates the shared
// bookkeeping tables.
func Open(ctx context.Context, dsn string, blobs blob.Store, opts ...Option) (*Store, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := New(db, blobs, opts...)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database. Call Migrate before use.
func New(db *sql.DB, blobs blob.Store, opts ...Option) *Store {
	s := &Store{db: db, blobs: blobs, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

var sharedDDL = []string{
	`CREATE TABLE IF NOT EXISTS bufsync_likes (
		type_name TEXT NOT NULL,
		item_id BIGINT NOT NULL,
		actor_id BIGINT NOT NULL,
		PRIMARY KEY (type_name, item_id, actor_id)
	)`,
	`CREATE TABLE IF NOT EXISTS bufsync_attachments (
		type_name TEXT NOT NULL,
		item_id BIGINT NOT NULL,
		filename TEXT NOT NULL,
		blob_key TEXT NOT NULL,
		PRIMARY KEY (type_name, item_id, filename)
	)`,
	`CREATE TABLE IF NOT EXISTS bufsync_library (
		library TEXT NOT NULL,
		folder TEXT NOT NULL,
		filename TEXT NOT NULL,
		blob_key TEXT NOT NULL,
		snapshot JSONB,
		PRIMARY KEY (library, folder, filename)
	)`,
}

// Migrate creates the shared bookkeeping tables.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range sharedDDL {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// IsTransient implements remote.Store.
func (s *Store) IsTransient(err error) bool {
	return IsTransient(err)
}

func (s *Store) CreateTable(ctx context.Context, typeName string) error {
	ddl := `CREATE TABLE IF NOT EXISTS ` + tableName(typeName) + ` (
		id BIGSERIAL PRIMARY KEY,
		fields JSONB NOT NULL DEFAULT '{}'::jsonb
	)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", typeName, err)
	}
	return nil
}

func (s *Store) DeleteTable(ctx context.Context, typeName string) error {
	if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+tableName(typeName)); err != nil {
		return fmt.Errorf("drop table %s: %w", typeName, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bufsync_likes WHERE type_name = $1`, typeName); err != nil {
		return fmt.Errorf("drop table %s: likes: %w", typeName, err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, rec ir.Record) (int64, error) {
	fields, err := encodeFields(rec.Fields)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", rec.Type, err)
	}
	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO `+tableName(rec.Type)+` (fields) VALUES ($1::jsonb) RETURNING id`,
		fields,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", rec.Type, err)
	}
	s.logger.Debug("remote insert", "type", rec.Type, "old_id", rec.ID, "new_id", id)
	return id, nil
}

func (s *Store) Update(ctx context.Context, rec ir.Record) error {
	fields, err := encodeFields(rec.Fields)
	if err != nil {
		return fmt.Errorf("update %s/%d: %w", rec.Type, rec.ID, err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+tableName(rec.Type)+` SET fields = $1::jsonb WHERE id = $2`,
		fields, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update %s/%d: %w", rec.Type, rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s/%d: %w", rec.Type, rec.ID, err)
	}
	if n == 0 {
		return remote.NotFound(remote.OpUpdate, "%s %d", rec.Type, rec.ID)
	}
	return nil
}

// DeleteByID removes a row with its likes and attachments. Deleting a
// missing row succeeds.
func (s *Store) DeleteByID(ctx context.Context, typeName string, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+tableName(typeName)+` WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete %s/%d: %w", typeName, id, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM bufsync_likes WHERE type_name = $1 AND item_id = $2`, typeName, id,
	); err != nil {
		return fmt.Errorf("delete %s/%d: likes: %w", typeName, id, err)
	}
	keys, err := s.deleteAttachmentRows(ctx,
		`DELETE FROM bufsync_attachments WHERE type_name = $1 AND item_id = $2 RETURNING blob_key`,
		typeName, id,
	)
	if err != nil {
		return fmt.Errorf("delete %s/%d: attachments: %w", typeName, id, err)
	}
	return s.deleteBlobs(ctx, keys)
}

func (s *Store) Like(ctx context.Context, typeName string, id, actorID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bufsync_likes (type_name, item_id, actor_id) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, typeName, id, actorID)
	if err != nil {
		return fmt.Errorf("like %s/%d: %w", typeName, id, err)
	}
	return nil
}

func (s *Store) Unlike(ctx context.Context, typeName string, id, actorID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM bufsync_likes WHERE type_name = $1 AND item_id = $2 AND actor_id = $3
	`, typeName, id, actorID)
	if err != nil {
		return fmt.Errorf("unlike %s/%d: %w", typeName, id, err)
	}
	return nil
}

func (s *Store) Empty(ctx context.Context, typeName string) error {
	if _, err := s.db.ExecContext(ctx, `TRUNCATE TABLE `+tableName(typeName)); err != nil {
		return fmt.Errorf("empty %s: %w", typeName, err)
	}
	return nil
}

func (s *Store) AttachFileToItem(ctx context.Context, typeName string, id int64, filename string, r io.Reader) error {
	key, err := blob.Key("attachments", typeName, strconv.FormatInt(id, 10), filename)
	if err != nil {
		return fmt.Errorf("attach %s to %s/%d: %w", filename, typeName, id, err)
	}
	if err := s.putBlob(ctx, key, r); err != nil {
		return fmt.Errorf("attach %s to %s/%d: %w", filename, typeName, id, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bufsync_attachments (type_name, item_id, filename, blob_key) VALUES ($1, $2, $3, $4)
		ON CONFLICT (type_name, item_id, filename) DO UPDATE SET blob_key = EXCLUDED.blob_key
	`, typeName, id, filename, key)
	if err != nil {
		return fmt.Errorf("attach %s to %s/%d: %w", filename, typeName, id, err)
	}
	return nil
}

func (s *Store) RemoveFileFromItem(ctx context.Context, typeName string, id int64, filename string) error {
	keys, err := s.deleteAttachmentRows(ctx, `
		DELETE FROM bufsync_attachments WHERE type_name = $1 AND item_id = $2 AND filename = $3
		RETURNING blob_key
	`, typeName, id, filename)
	if err != nil {
		return fmt.Errorf("remove %s from %s/%d: %w", filename, typeName, id, err)
	}
	return s.deleteBlobs(ctx, keys)
}

func (s *Store) AttachFileToLibrary(ctx context.Context, library, folder, filename string, r io.Reader, snapshot ir.IRObject) error {
	key, err := libraryKey(library, folder, filename)
	if err != nil {
		return fmt.Errorf("attach %s to library %s: %w", filename, library, err)
	}
	var snap sql.NullString
	if snapshot != nil {
		data, err := ir.MarshalIRValue(snapshot)
		if err != nil {
			return fmt.Errorf("attach %s to library %s: snapshot: %w", filename, library, err)
		}
		snap = sql.NullString{String: string(data), Valid: true}
	}
	if err := s.putBlob(ctx, key, r); err != nil {
		return fmt.Errorf("attach %s to library %s: %w", filename, library, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bufsync_library (library, folder, filename, blob_key, snapshot)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		ON CONFLICT (library, folder, filename) DO UPDATE
		SET blob_key = EXCLUDED.blob_key, snapshot = EXCLUDED.snapshot
	`, library, folder, filename, key, snap)
	if err != nil {
		return fmt.Errorf("attach %s to library %s: %w", filename, library, err)
	}
	return nil
}

func (s *Store) RemoveFilesFromLibrary(ctx context.Context, library, folder string, filenames []string) error {
	var keys []string
	for _, name := range filenames {
		removed, err := s.deleteAttachmentRows(ctx, `
			DELETE FROM bufsync_library WHERE library = $1 AND folder = $2 AND filename = $3
			RETURNING blob_key
		`, library, folder, name)
		if err != nil {
			return fmt.Errorf("remove %s from library %s: %w", name, library, err)
		}
		keys = append(keys, removed...)
	}
	return s.deleteBlobs(ctx, keys)
}

// putBlob replaces the content at key. blob.Store writes are create-only,
// so an existing object is deleted first.
func (s *Store) putBlob(ctx context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read content: %w", err)
	}
	_, err = s.blobs.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{})
	if errors.Is(err, blob.ErrExists) {
		if _, err := s.blobs.Delete(ctx, key); err != nil {
			return fmt.Errorf("replace blob %s: %w", key, err)
		}
		_, err = s.blobs.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{})
	}
	if err != nil {
		return fmt.Errorf("put blob %s: %w", key, err)
	}
	return nil
}

func (s *Store) deleteAttachmentRows(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *Store) deleteBlobs(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if _, err := s.blobs.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete blob %s: %w", key, err)
		}
	}
	return nil
}

func encodeFields(fields ir.IRObject) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	data, err := ir.MarshalIRValue(fields)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// tableName maps an entity type to its quoted table identifier.
func tableName(typeName string) string {
	var b strings.Builder
	b.WriteString("bufsync_t_")
	for _, r := range typeName {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune('_')
		}
	}
	return pgx.Identifier{b.String()}.Sanitize()
}

// libraryKey builds the blob key of a library document. Folder segments
// become key segments.
func libraryKey(library, folder, filename string) (string, error) {
	parts := []string{"library", library}
	for _, seg := range strings.Split(folder, "/") {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	parts = append(parts, filename)
	return blob.Key(parts...)
}
