// Package memremote is a deterministic in-memory remote.Store.
//
// Ids are assigned per type from a sequence starting at 1 (see SetNextID).
// Faults can be scripted per operation, and every attempted call is
// recorded so tests and scenarios can assert on remote traffic.
package memremote

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/bufsync/internal/ir"
	"github.com/roach88/bufsync/internal/remote"
)

var _ remote.Store = (*Store)(nil)

// Call is one attempted remote operation.
type Call struct {
	Op     string `json:"op" yaml:"op"`
	Type   string `json:"type" yaml:"type"`
	ID     int64  `json:"id,omitempty" yaml:"id,omitempty"`
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
	Err    string `json:"err,omitempty" yaml:"err,omitempty"`
}

func (c Call) String() string {
	var b strings.Builder
	b.WriteString(c.Op)
	b.WriteString(" ")
	b.WriteString(c.Type)
	if c.ID != 0 {
		fmt.Fprintf(&b, "/%d", c.ID)
	}
	if c.Detail != "" {
		b.WriteString(" ")
		b.WriteString(c.Detail)
	}
	if c.Err != "" {
		b.WriteString(" -> ")
		b.WriteString(c.Err)
	}
	return b.String()
}

// LibraryEntry is a document stored in a library folder.
type LibraryEntry struct {
	Content  []byte
	Snapshot ir.IRObject
}

type table struct {
	nextID      int64
	rows        map[int64]ir.IRObject
	attachments map[int64]map[string][]byte
}

type likeKey struct {
	typeName string
	id       int64
	actor    int64
}

// Store is an in-memory remote. Tables are created on first use, so
// CreateTable is only needed to reset a dropped table's sequence.
type Store struct {
	mu      sync.Mutex
	tables  map[string]*table
	nextIDs map[string]int64
	likes   map[likeKey]struct{}
	library map[string]LibraryEntry
	faults  map[string][]error
	calls   []Call
}

// New returns an empty store.
func New() *Store {
	return &Store{
		tables:  make(map[string]*table),
		nextIDs: make(map[string]int64),
		likes:   make(map[likeKey]struct{}),
		library: make(map[string]LibraryEntry),
		faults:  make(map[string][]error),
	}
}

// SetNextID makes the next Insert of typeName return id.
func (s *Store) SetNextID(typeName string, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[typeName]; ok {
		t.nextID = id
		return
	}
	s.nextIDs[typeName] = id
}

// FailNext queues err as the result of the next call to op. Queued faults
// are consumed in order, one per call.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], err)
}

// Calls returns a copy of the call log.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// ResetCalls clears the call log.
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// Record returns the remote row for (typeName, id).
func (s *Store) Record(typeName string, id int64) (ir.IRObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[typeName]
	if !ok {
		return nil, false
	}
	row, ok := t.rows[id]
	if !ok {
		return nil, false
	}
	return row.Clone(), true
}

// IDs returns the ids stored for typeName in ascending order.
func (s *Store) IDs(typeName string) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[typeName]
	if !ok {
		return nil
	}
	ids := make([]int64, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Liked reports whether actor currently likes (typeName, id).
func (s *Store) Liked(typeName string, id, actor int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.likes[likeKey{typeName, id, actor}]
	return ok
}

// Attachment returns the content attached to (typeName, id) as filename.
func (s *Store) Attachment(typeName string, id int64, filename string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[typeName]
	if !ok {
		return nil, false
	}
	data, ok := t.attachments[id][filename]
	return data, ok
}

// LibraryFile returns the document stored at library/folder/filename.
func (s *Store) LibraryFile(library, folder, filename string) (LibraryEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.library[libraryKey(library, folder, filename)]
	return e, ok
}

// IsTransient implements remote.Store.
func (s *Store) IsTransient(err error) bool {
	return remote.IsTransient(err)
}

func (s *Store) CreateTable(_ context.Context, typeName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(remote.OpCreateTable, typeName, 0, ""); err != nil {
		return err
	}
	s.table(typeName)
	return nil
}

func (s *Store) DeleteTable(_ context.Context, typeName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(remote.OpDeleteTable, typeName, 0, ""); err != nil {
		return err
	}
	delete(s.tables, typeName)
	return nil
}

func (s *Store) Insert(_ context.Context, rec ir.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(remote.OpInsert, rec.Type, 0, fmt.Sprintf("local=%d", rec.ID)); err != nil {
		return 0, err
	}
	t := s.table(rec.Type)
	id := t.nextID
	t.nextID++
	t.rows[id] = rec.Fields.Clone()
	return id, nil
}

func (s *Store) Update(_ context.Context, rec ir.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(remote.OpUpdate, rec.Type, rec.ID, ""); err != nil {
		return err
	}
	t := s.table(rec.Type)
	if _, ok := t.rows[rec.ID]; !ok {
		return s.fail(remote.NotFound(remote.OpUpdate, "%s %d", rec.Type, rec.ID))
	}
	t.rows[rec.ID] = rec.Fields.Clone()
	return nil
}

// DeleteByID removes a row. Deleting a missing row succeeds.
func (s *Store) DeleteByID(_ context.Context, typeName string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(remote.OpDeleteByID, typeName, id, ""); err != nil {
		return err
	}
	t := s.table(typeName)
	delete(t.rows, id)
	delete(t.attachments, id)
	return nil
}

func (s *Store) Like(_ context.Context, typeName string, id, actorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(remote.OpLike, typeName, id, fmt.Sprintf("actor=%d", actorID)); err != nil {
		return err
	}
	if _, ok := s.table(typeName).rows[id]; !ok {
		return s.fail(remote.NotFound(remote.OpLike, "%s %d", typeName, id))
	}
	s.likes[likeKey{typeName, id, actorID}] = struct{}{}
	return nil
}

func (s *Store) Unlike(_ context.Context, typeName string, id, actorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(remote.OpUnlike, typeName, id, fmt.Sprintf("actor=%d", actorID)); err != nil {
		return err
	}
	delete(s.likes, likeKey{typeName, id, actorID})
	return nil
}

func (s *Store) Empty(_ context.Context, typeName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(remote.OpEmpty, typeName, 0, ""); err != nil {
		return err
	}
	t := s.table(typeName)
	t.rows = make(map[int64]ir.IRObject)
	t.attachments = make(map[int64]map[string][]byte)
	return nil
}

func (s *Store) AttachFileToItem(_ context.Context, typeName string, id int64, filename string, r io.Reader) error {
	data, readErr := io.ReadAll(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(remote.OpAttachFileToItem, typeName, id, filename); err != nil {
		return err
	}
	if readErr != nil {
		return s.fail(fmt.Errorf("read attachment: %w", readErr))
	}
	t := s.table(typeName)
	if _, ok := t.rows[id]; !ok {
		return s.fail(remote.NotFound(remote.OpAttachFileToItem, "%s %d", typeName, id))
	}
	if t.attachments[id] == nil {
		t.attachments[id] = make(map[string][]byte)
	}
	t.attachments[id][filename] = data
	return nil
}

func (s *Store) RemoveFileFromItem(_ context.Context, typeName string, id int64, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(remote.OpRemoveFileFromItem, typeName, id, filename); err != nil {
		return err
	}
	if files := s.table(typeName).attachments[id]; files != nil {
		delete(files, filename)
	}
	return nil
}

func (s *Store) AttachFileToLibrary(_ context.Context, library, folder, filename string, r io.Reader, snapshot ir.IRObject) error {
	data, readErr := io.ReadAll(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(remote.OpAttachFileToLibrary, library, 0, joinPath(folder, filename)); err != nil {
		return err
	}
	if readErr != nil {
		return s.fail(fmt.Errorf("read document: %w", readErr))
	}
	var snap ir.IRObject
	if snapshot != nil {
		snap = snapshot.Clone()
	}
	s.library[libraryKey(library, folder, filename)] = LibraryEntry{Content: data, Snapshot: snap}
	return nil
}

func (s *Store) RemoveFilesFromLibrary(_ context.Context, library, folder string, filenames []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin(remote.OpRemoveFilesFromLibrary, library, 0, joinPath(folder, strings.Join(filenames, ","))); err != nil {
		return err
	}
	for _, name := range filenames {
		delete(s.library, libraryKey(library, folder, name))
	}
	return nil
}

// begin records the call and returns a scripted fault if one is queued.
// Callers hold s.mu.
func (s *Store) begin(op, typeName string, id int64, detail string) error {
	s.calls = append(s.calls, Call{Op: op, Type: typeName, ID: id, Detail: detail})
	if queued := s.faults[op]; len(queued) > 0 {
		err := queued[0]
		s.faults[op] = queued[1:]
		return s.fail(err)
	}
	return nil
}

// fail annotates the last recorded call with err. Callers hold s.mu.
func (s *Store) fail(err error) error {
	if n := len(s.calls); n > 0 {
		s.calls[n-1].Err = err.Error()
	}
	return err
}

func (s *Store) table(typeName string) *table {
	t, ok := s.tables[typeName]
	if !ok {
		next := s.nextIDs[typeName]
		if next == 0 {
			next = 1
		}
		delete(s.nextIDs, typeName)
		t = &table{
			nextID:      next,
			rows:        make(map[int64]ir.IRObject),
			attachments: make(map[int64]map[string][]byte),
		}
		s.tables[typeName] = t
	}
	return t
}

func joinPath(folder, filename string) string {
	if folder == "" {
		return filename
	}
	return strings.TrimSuffix(folder, "/") + "/" + filename
}

func libraryKey(library, folder, filename string) string {
	return library + "\x00" + joinPath(folder, filename)
}
