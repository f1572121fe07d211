package pgremote

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// stubConn is a database/sql driver connection that records statements and
// answers RETURNING queries from scripted values.
type stubConn struct {
	mu        sync.Mutex
	execs     []stubStmt
	nextID    int64
	affected  int64
	blobKeys  []string
	failExec  error
	failQuery error
}

type stubStmt struct {
	Query string
	Args  []any
}

var stubSeq atomic.Int64

func newStubDB(t *testing.T) (*sql.DB, *stubConn) {
	t.Helper()
	conn := &stubConn{nextID: 1, affected: 1}
	name := fmt.Sprintf("pgremote-stub-%d", stubSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		t.Fatalf("open stub: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, conn
}

func (c *stubConn) statements() []stubStmt {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]stubStmt, len(c.execs))
	copy(out, c.execs)
	return out
}

func (c *stubConn) record(query string, args []driver.NamedValue) {
	vals := make([]any, len(args))
	for i, a := range args {
		vals[i] = a.Value
	}
	c.execs = append(c.execs, stubStmt{Query: strings.Join(strings.Fields(query), " "), Args: vals})
}

type stubDriver struct{ conn *stubConn }

func (d *stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

func (c *stubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }
func (c *stubConn) Close() error                        { return nil }
func (c *stubConn) Begin() (driver.Tx, error)           { return nil, fmt.Errorf("not implemented") }

func (c *stubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(query, args)
	if c.failExec != nil {
		return nil, c.failExec
	}
	return driver.RowsAffected(c.affected), nil
}

func (c *stubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(query, args)
	if c.failQuery != nil {
		return nil, c.failQuery
	}
	switch {
	case strings.Contains(query, "RETURNING id"):
		id := c.nextID
		c.nextID++
		return &stubRows{cols: []string{"id"}, vals: [][]driver.Value{{id}}}, nil
	case strings.Contains(query, "RETURNING blob_key"):
		rows := &stubRows{cols: []string{"blob_key"}}
		for _, k := range c.blobKeys {
			rows.vals = append(rows.vals, []driver.Value{k})
		}
		c.blobKeys = nil
		return rows, nil
	}
	return &stubRows{}, nil
}

type stubRows struct {
	cols []string
	vals [][]driver.Value
	pos  int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.vals) {
		return io.EOF
	}
	copy(dest, r.vals[r.pos])
	r.pos++
	return nil
}
