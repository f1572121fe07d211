package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/bufsync/internal/ir"
	"github.com/roach88/bufsync/internal/store"
)

// RecordStore is the slice of the local store the reconciler rewrites.
type RecordStore interface {
	GetRecord(ctx context.Context, typeName string, id int64) (ir.Record, error)
	RelocateRecord(ctx context.Context, typeName string, oldID, newID int64) error
	ListRecords(ctx context.Context, typeName string) ([]ir.Record, error)
	PutRecord(ctx context.Context, rec ir.Record) error
	ListFiles(ctx context.Context) ([]ir.FileMeta, error)
	PutFile(ctx context.Context, f ir.FileMeta) error
}

// SchemaProvider supplies the declared types and their lookups.
type SchemaProvider interface {
	Types() []ir.TypeSchema
	LookupFields(name string) []ir.LookupField
}

// CommandRewriter rewrites queued command item ids.
type CommandRewriter interface {
	RewriteItemIDs(ctx context.Context, typeName string, oldID, newID, exceptID int64) (int64, error)
}

// Tx is the transactional view one reconciliation writes through.
// *queue.Tx satisfies it.
type Tx interface {
	RecordStore
	CommandRewriter
}

// Report counts what one reconciliation rewrote.
type Report struct {
	Commands int64 `json:"commands"`
	Records  int   `json:"records"`
	Lookups  int   `json:"lookups"`
	Files    int   `json:"files"`
}

// Reconciler rewrites local references after remote inserts.
type Reconciler struct {
	schema SchemaProvider
	logger *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// New returns a Reconciler over the schema.
func New(schema SchemaProvider, opts ...Option) *Reconciler {
	r := &Reconciler{schema: schema, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile moves the item inserted by insert from its local id to newID
// and rewrites every reference to it. Every write goes through tx; the
// caller discards them all when Reconcile returns an error.
func (r *Reconciler) Reconcile(ctx context.Context, tx Tx, insert ir.Command, newID int64) (Report, error) {
	typeName, oldID := insert.TypeName, insert.Item()
	fail := func(kind ErrorKind, err error) (Report, error) {
		return Report{}, &Error{Kind: kind, TypeName: typeName, OldID: oldID, NewID: newID, Err: err}
	}
	if !insert.HasItem() {
		return fail(KindRewrite, fmt.Errorf("command #%d has no item id", insert.ID))
	}

	var rep Report

	if _, err := tx.GetRecord(ctx, typeName, oldID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fail(KindRecordMissing, err)
		}
		return fail(KindRewrite, err)
	}
	if err := tx.RelocateRecord(ctx, typeName, oldID, newID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fail(KindIDCollision, err)
		}
		return fail(KindRewrite, err)
	}
	rep.Records = 1

	n, err := tx.RewriteItemIDs(ctx, typeName, oldID, newID, insert.ID)
	if err != nil {
		return fail(KindRewrite, err)
	}
	rep.Commands = n

	if rep.Lookups, err = r.rewriteLookups(ctx, tx, typeName, oldID, newID); err != nil {
		return fail(KindRewrite, err)
	}
	if rep.Files, err = r.rewriteFiles(ctx, tx, typeName, oldID, newID); err != nil {
		return fail(KindRewrite, err)
	}

	r.logger.Info("identity reconciled",
		"type", typeName,
		"old_id", oldID,
		"new_id", newID,
		"commands", rep.Commands,
		"lookups", rep.Lookups,
		"files", rep.Files,
	)
	return rep, nil
}

// rewriteLookups rewrites sibling records of every declared type whose
// lookups may target typeName.
func (r *Reconciler) rewriteLookups(ctx context.Context, st RecordStore, typeName string, oldID, newID int64) (int, error) {
	total := 0
	for _, ts := range r.schema.Types() {
		if !anyMayTarget(ts.Lookups, typeName) {
			continue
		}
		recs, err := st.ListRecords(ctx, ts.Name)
		if err != nil {
			return total, err
		}
		for _, rec := range recs {
			n := RewriteReferences(rec.Fields, ts.Lookups, typeName, oldID, newID)
			if n == 0 {
				continue
			}
			if err := st.PutRecord(ctx, rec); err != nil {
				return total, err
			}
			r.logger.Debug("lookup rewritten", "type", ts.Name, "item_id", rec.ID, "fields", n)
			total += n
		}
	}
	return total, nil
}

// rewriteFiles rewrites file parents and library snapshots. Only changed
// files are written back, and only snapshots that can hold a reference to
// typeName are decoded.
func (r *Reconciler) rewriteFiles(ctx context.Context, st RecordStore, typeName string, oldID, newID int64) (int, error) {
	files, err := st.ListFiles(ctx)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, f := range files {
		dirty := false

		if f.HasSnapshot() && r.snapshotMayReference(f, typeName) {
			snap, err := r.rewriteSnapshot(f, typeName, oldID, newID)
			if err != nil {
				return changed, err
			}
			if snap != "" {
				f.AdditionalInformation = snap
				dirty = true
			}
		}

		if f.ParentID != 0 && f.ParentID == oldID && ownedBy(f, typeName) {
			f.ParentID = newID
			dirty = true
		}

		if !dirty {
			continue
		}
		if err := st.PutFile(ctx, f); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

func (r *Reconciler) snapshotMayReference(f ir.FileMeta, typeName string) bool {
	snapType := snapshotType(f)
	return snapType == typeName || anyMayTarget(r.schema.LookupFields(snapType), typeName)
}

// rewriteSnapshot returns the re-encoded snapshot of f, or "" when no
// reference in it changed.
func (r *Reconciler) rewriteSnapshot(f ir.FileMeta, typeName string, oldID, newID int64) (string, error) {
	snap, err := ir.ParseObject([]byte(f.AdditionalInformation))
	if err != nil {
		return "", fmt.Errorf("decode snapshot of file %s: %w", f.ID, err)
	}
	snapType := snapshotType(f)
	n := RewriteReferences(snap, r.schema.LookupFields(snapType), typeName, oldID, newID)
	if snapType == typeName {
		n += rewriteOwnID(snap, oldID, newID)
	}
	if n == 0 {
		return "", nil
	}
	data, err := ir.MarshalIRValue(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot of file %s: %w", f.ID, err)
	}
	return string(data), nil
}

func snapshotType(f ir.FileMeta) string {
	if f.SnapshotType != "" {
		return f.SnapshotType
	}
	return f.ListName
}

// ownedBy reports whether f's ParentID names an item of typeName: the list
// of an item attachment, or the list or snapshot type of a library
// document.
func ownedBy(f ir.FileMeta, typeName string) bool {
	if f.ListName == typeName {
		return true
	}
	return f.AttachmentType == ir.AttachmentDocLib && f.SnapshotType == typeName
}

func anyMayTarget(lookups []ir.LookupField, typeName string) bool {
	for _, lf := range lookups {
		if MayTarget(lf, typeName) {
			return true
		}
	}
	return false
}
