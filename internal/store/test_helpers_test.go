package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/bufsync/internal/ir"
)

// setupTestStore opens a fresh store in a temp directory.
func setupTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// testCommand builds a Pending command for typeName/itemID.
func testCommand(id int64, action ir.Action, typeName string, itemID int64) ir.Command {
	cmd := ir.Command{
		ID:       id,
		TypeName: typeName,
		Action:   action,
		State:    ir.StatePending,
		Created:  testEpoch.Add(time.Duration(id) * time.Second),
	}
	if itemID != 0 {
		cmd.ItemID = ir.ItemRef(itemID)
	}
	return cmd
}
