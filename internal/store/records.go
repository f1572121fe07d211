package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/bufsync/internal/ir"
)

// GetRecord returns the record stored at (typeName, id).
// Returns ErrNotFound if it does not exist.
func (s *Store) GetRecord(ctx context.Context, typeName string, id int64) (ir.Record, error) {
	return getRecord(ctx, s.db, typeName, id)
}

func getRecord(ctx context.Context, q querier, typeName string, id int64) (ir.Record, error) {
	var fields string
	err := q.QueryRowContext(ctx, `
		SELECT fields FROM records WHERE type_name = ? AND id = ?
	`, typeName, id).Scan(&fields)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Record{}, fmt.Errorf("record %s/%d: %w", typeName, id, ErrNotFound)
	}
	if err != nil {
		return ir.Record{}, fmt.Errorf("get record %s/%d: %w", typeName, id, err)
	}

	obj, err := unmarshalFields(fields)
	if err != nil {
		return ir.Record{}, fmt.Errorf("record %s/%d: %w", typeName, id, err)
	}
	return ir.Record{Type: typeName, ID: id, Fields: obj}, nil
}

// PutRecord inserts or replaces a record.
func (s *Store) PutRecord(ctx context.Context, rec ir.Record) error {
	return putRecord(ctx, s.db, rec)
}

func putRecord(ctx context.Context, q querier, rec ir.Record) error {
	if rec.Type == "" {
		return fmt.Errorf("put record: type name is required")
	}
	fields, err := marshalFields(rec.Fields)
	if err != nil {
		return fmt.Errorf("put record %s/%d: %w", rec.Type, rec.ID, err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO records (type_name, id, fields) VALUES (?, ?, ?)
		ON CONFLICT(type_name, id) DO UPDATE SET fields = excluded.fields
	`, rec.Type, rec.ID, fields)
	if err != nil {
		return fmt.Errorf("put record %s/%d: %w", rec.Type, rec.ID, err)
	}
	return nil
}

// DeleteRecord removes a record. Reports whether it existed.
func (s *Store) DeleteRecord(ctx context.Context, typeName string, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE type_name = ? AND id = ?`, typeName, id)
	if err != nil {
		return false, fmt.Errorf("delete record %s/%d: %w", typeName, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete record %s/%d: %w", typeName, id, err)
	}
	return n > 0, nil
}

// ListRecords returns every record of a type ordered by id.
func (s *Store) ListRecords(ctx context.Context, typeName string) ([]ir.Record, error) {
	return listRecords(ctx, s.db, typeName)
}

func listRecords(ctx context.Context, q querier, typeName string) ([]ir.Record, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, fields FROM records WHERE type_name = ? ORDER BY id ASC
	`, typeName)
	if err != nil {
		return nil, fmt.Errorf("list records %s: %w", typeName, err)
	}
	defer rows.Close()

	recs := []ir.Record{}
	for rows.Next() {
		var (
			id     int64
			fields string
		)
		if err := rows.Scan(&id, &fields); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		obj, err := unmarshalFields(fields)
		if err != nil {
			return nil, fmt.Errorf("record %s/%d: %w", typeName, id, err)
		}
		recs = append(recs, ir.Record{Type: typeName, ID: id, Fields: obj})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return recs, nil
}

// ListTypeNames returns the distinct types that have stored records.
func (s *Store) ListTypeNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT type_name FROM records ORDER BY type_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list type names: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan type name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate type names: %w", err)
	}
	return names, nil
}

// NextRecordID returns max(id)+1 for a type, or 1 when it has no records.
func (s *Store) NextRecordID(ctx context.Context, typeName string) (int64, error) {
	var maxID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(id), 0) FROM records WHERE type_name = ?
	`, typeName).Scan(&maxID)
	if err != nil {
		return 0, fmt.Errorf("next record id %s: %w", typeName, err)
	}
	return maxID + 1, nil
}

// RelocateRecord moves the record at (typeName, oldID) to newID in one
// transaction. Relocating onto the same id is a no-op.
// Returns ErrNotFound if no record exists at oldID and ErrConflict if a
// different record already holds newID.
func (s *Store) RelocateRecord(ctx context.Context, typeName string, oldID, newID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return relocateRecord(ctx, tx, typeName, oldID, newID)
	})
}

// relocateRecord must run inside a transaction.
func relocateRecord(ctx context.Context, q querier, typeName string, oldID, newID int64) error {
	var fields string
	err := q.QueryRowContext(ctx, `
		SELECT fields FROM records WHERE type_name = ? AND id = ?
	`, typeName, oldID).Scan(&fields)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("relocate record %s/%d: %w", typeName, oldID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("relocate record %s/%d: %w", typeName, oldID, err)
	}
	if oldID == newID {
		return nil
	}

	var taken int
	err = q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM records WHERE type_name = ? AND id = ?
	`, typeName, newID).Scan(&taken)
	if err != nil {
		return fmt.Errorf("relocate record %s/%d->%d: %w", typeName, oldID, newID, err)
	}
	if taken > 0 {
		return fmt.Errorf("relocate record %s/%d->%d: %w", typeName, oldID, newID, ErrConflict)
	}

	if _, err := q.ExecContext(ctx, `
		DELETE FROM records WHERE type_name = ? AND id = ?
	`, typeName, oldID); err != nil {
		return fmt.Errorf("relocate record %s/%d: delete: %w", typeName, oldID, err)
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO records (type_name, id, fields) VALUES (?, ?, ?)
	`, typeName, newID, fields); err != nil {
		return fmt.Errorf("relocate record %s/%d->%d: insert: %w", typeName, oldID, newID, err)
	}
	return nil
}
