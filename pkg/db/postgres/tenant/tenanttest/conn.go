// Package tenanttest provides in-memory tenant connections for tests.
package tenanttest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var errUnsupported = errors.New("tenanttest: not supported")

// Statement is one executed SQL statement.
type Statement struct {
	SQL  string
	Args []any
}

// Conn records statements. Statements executed inside a transaction become visible
// only after Commit.
type Conn struct {
	mu sync.Mutex

	// PingErr is returned by Ping.
	PingErr error
	// ExecErr, when set, is consulted before every statement.
	ExecErr func(sql string) error
	// Conflict, when set, reports whether an INSERT collides and is skipped.
	Conflict func(sql string, args []any) bool

	statements []Statement
	begins     int
	commits    int
	rollbacks  int
	closed     bool
}

func (c *Conn) exec(sql string, args []any) (pgconn.CommandTag, error) {
	c.mu.Lock()
	execErr, conflict, closed := c.ExecErr, c.Conflict, c.closed
	c.mu.Unlock()

	if closed {
		return pgconn.CommandTag{}, errors.New("tenanttest: connection closed")
	}
	if execErr != nil {
		if err := execErr(sql); err != nil {
			return pgconn.CommandTag{}, err
		}
	}
	if strings.HasPrefix(sql, "INSERT") {
		if conflict != nil && conflict(sql, args) {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.NewCommandTag("OK"), nil
}

func (c *Conn) record(stmts ...Statement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statements = append(c.statements, stmts...)
}

func (c *Conn) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tag, err := c.exec(sql, args)
	if err == nil {
		c.record(Statement{SQL: sql, Args: args})
	}
	return tag, err
}

func (c *Conn) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errUnsupported
}

func (c *Conn) QueryRow(context.Context, string, ...any) pgx.Row {
	return errRow{}
}

func (c *Conn) Begin(context.Context) (pgx.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("tenanttest: connection closed")
	}
	c.begins++
	return &Tx{conn: c}, nil
}

func (c *Conn) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("tenanttest: connection closed")
	}
	return c.PingErr
}

// SetPingErr changes the Ping result while the connection is in use.
func (c *Conn) SetPingErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PingErr = err
}

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Statements returns the committed and autocommitted statements in order.
func (c *Conn) Statements() []Statement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Statement(nil), c.statements...)
}

// Inserts returns the committed INSERT statements.
func (c *Conn) Inserts() []Statement {
	var out []Statement
	for _, s := range c.Statements() {
		if strings.HasPrefix(s.SQL, "INSERT") {
			out = append(out, s)
		}
	}
	return out
}

func (c *Conn) Begins() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.begins
}

func (c *Conn) Commits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commits
}

func (c *Conn) Rollbacks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollbacks
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Tx buffers statements until Commit. Methods the services do not use panic through
// the embedded nil interface.
type Tx struct {
	pgx.Tx
	conn    *Conn
	pending []Statement
	done    bool
}

func (t *Tx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if t.done {
		return pgconn.CommandTag{}, pgx.ErrTxClosed
	}
	tag, err := t.conn.exec(sql, args)
	if err != nil {
		return tag, err
	}
	if tag.RowsAffected() > 0 || !strings.HasPrefix(sql, "INSERT") {
		t.pending = append(t.pending, Statement{SQL: sql, Args: args})
	}
	return tag, nil
}

func (t *Tx) Commit(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.conn.record(t.pending...)
	t.conn.mu.Lock()
	t.conn.commits++
	t.conn.mu.Unlock()
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.pending = nil
	t.conn.mu.Lock()
	t.conn.rollbacks++
	t.conn.mu.Unlock()
	return nil
}

type errRow struct{}

func (errRow) Scan(...any) error { return errUnsupported }
