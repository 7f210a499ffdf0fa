// Package testutil provides a stub database/sql driver that understands the
// handful of memo statements issued by the postgres store.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

var driverSeq uint64

// StubRow is one stored memo row.
type StubRow struct {
	Username string
	Contents string
}

// StubConn records statements and keeps memo rows in memory. Writes issued
// inside a transaction are staged until Commit.
type StubConn struct {
	mu         sync.Mutex
	Execs      []string
	Rows       map[int64]StubRow
	FailPing   bool
	FailExec   bool
	FailBegin  bool
	FailCommit bool
	FailQuery  bool
	// FailOnID makes the upsert of that id fail.
	FailOnID int64

	inTx    bool
	pending []func()
}

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Rows: make(map[int64]StubRow)}
	name := fmt.Sprintf("stubpg%d", atomic.AddUint64(&driverSeq, 1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	db.SetMaxOpenConns(1)
	return db, conn
}

// Row returns the committed row for id.
func (c *StubConn) Row(id int64) (StubRow, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.Rows[id]
	return r, ok
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(_ context.Context, _ driver.TxOptions) (driver.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	c.inTx = true
	c.pending = nil
	return &stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	upper := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(upper, "CREATE TABLE"):
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(upper, "INSERT INTO MEMO"):
		if len(args) != 3 {
			return nil, fmt.Errorf("expected 3 args for memo upsert, got %d", len(args))
		}
		id, ok := args[0].Value.(int64)
		if !ok {
			return nil, fmt.Errorf("memo id must be int64, got %T", args[0].Value)
		}
		if c.FailOnID != 0 && id == c.FailOnID {
			return nil, fmt.Errorf("exec fail for memo %d", id)
		}
		row := StubRow{Username: asString(args[1].Value), Contents: asString(args[2].Value)}
		c.apply(func() { c.Rows[id] = row })
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(upper, "DELETE FROM MEMO"):
		if len(args) != 1 {
			return nil, fmt.Errorf("missing args for memo delete")
		}
		id, _ := args[0].Value.(int64)
		c.apply(func() { delete(c.Rows, id) })
		return driver.RowsAffected(1), nil
	}
	return nil, fmt.Errorf("unsupported statement: %s", query)
}

func (c *StubConn) apply(fn func()) {
	if c.inTx {
		c.pending = append(c.pending, fn)
		return
	}
	fn()
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailQuery {
		return nil, fmt.Errorf("query fail")
	}
	lower := strings.ToLower(query)
	if !strings.HasPrefix(strings.TrimSpace(lower), "select id, username, contents from memo") {
		return nil, fmt.Errorf("unsupported query: %s", query)
	}
	var ids []int64
	if strings.Contains(lower, "where id =") {
		if len(args) != 1 {
			return nil, fmt.Errorf("missing id arg")
		}
		id, _ := args[0].Value.(int64)
		if _, ok := c.Rows[id]; ok {
			ids = append(ids, id)
		}
	} else {
		for id := range c.Rows {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	values := make([][]driver.Value, 0, len(ids))
	for _, id := range ids {
		r := c.Rows[id]
		values = append(values, []driver.Value{id, r.Username, r.Contents})
	}
	return &stubRows{cols: []string{"id", "username", "contents"}, rows: values}, nil
}

func asString(v driver.Value) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(v)
	}
}

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	pending := t.conn.pending
	t.conn.pending = nil
	t.conn.inTx = false
	if t.conn.FailCommit {
		return fmt.Errorf("commit fail")
	}
	for _, fn := range pending {
		fn()
	}
	return nil
}

func (t *stubTx) Rollback() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	t.conn.pending = nil
	t.conn.inTx = false
	return nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}
