package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/gaborage/capsql/expression"
)

var (
	// ErrParamsRequireInsert is returned when parameter rows are passed with a
	// statement that is not an INSERT.
	ErrParamsRequireInsert = errors.New("parameter rows are only supported for insert statements")
	// ErrEmptyParams is returned when every parameter row passed with a statement is
	// empty.
	ErrEmptyParams = errors.New("parameter rows carry no values")
	// ErrTransactionInProgress is returned by Begin when a transaction is already open.
	ErrTransactionInProgress = errors.New("transaction already in progress")
	// ErrConnClosed is returned by every operation on a closed Conn.
	ErrConnClosed = errors.New("connection is closed")
)

// Conn is a dedicated connection that works commit-as-you-go: the first statement
// outside a transaction begins one, and it stays open until Commit or Rollback.
// A Conn must not be used from more than one goroutine at a time.
type Conn struct {
	engine *Engine
	conn   *sql.Conn
	tx     *sql.Tx
	closed bool
}

// Engine returns the engine the connection belongs to.
func (c *Conn) Engine() *Engine {
	return c.engine
}

// InTransaction reports whether a transaction is open.
func (c *Conn) InTransaction() bool {
	return c.tx != nil
}

// Exec runs stmt. One params row is bound as single-row insert parameters; more than
// one makes a multi-row insert.
func (c *Conn) Exec(ctx context.Context, stmt squirrel.Sqlizer, params ...expression.Params) (sql.Result, error) {
	ev, op, err := c.prepare(ctx, stmt, params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := c.tx.ExecContext(ctx, op.query, op.args...)
	c.engine.track(ctx, op, start, rowsAffected(result, err), err)
	if err != nil {
		return nil, err
	}

	ev.Result = result
	c.engine.dispatch(ctx, ev)
	return result, nil
}

// Query runs stmt and returns its rows. The caller closes them.
func (c *Conn) Query(ctx context.Context, stmt squirrel.Sqlizer, params ...expression.Params) (*sql.Rows, error) {
	ev, op, err := c.prepare(ctx, stmt, params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := c.tx.QueryContext(ctx, op.query, op.args...)
	c.engine.track(ctx, op, start, 0, err)
	if err != nil {
		return nil, err
	}

	c.engine.dispatch(ctx, ev)
	return rows, nil
}

// QueryRow runs stmt and returns its first row. Errors are deferred to Row.Scan.
func (c *Conn) QueryRow(ctx context.Context, stmt squirrel.Sqlizer, params ...expression.Params) *Row {
	ev, op, err := c.prepare(ctx, stmt, params)
	if err != nil {
		return &Row{err: err}
	}

	start := time.Now()
	row := c.tx.QueryRowContext(ctx, op.query, op.args...)
	err = row.Err()
	c.engine.track(ctx, op, start, 0, err)
	if err != nil {
		return &Row{err: err}
	}

	c.engine.dispatch(ctx, ev)
	return &Row{row: row}
}

// prepare validates and compiles stmt and makes sure a transaction is open.
func (c *Conn) prepare(ctx context.Context, stmt squirrel.Sqlizer, params []expression.Params) (Event, operation, error) {
	if c.closed {
		return Event{}, operation{}, ErrConnClosed
	}

	ev := Event{Name: EventAfterExecute, Conn: c, Statement: stmt}
	opts := []expression.Option{}
	switch len(params) {
	case 0:
	case 1:
		ev.Params = params[0]
		opts = append(opts, expression.WithParams(params[0]))
	default:
		ev.Multiparams = params
		opts = append(opts, expression.WithMultiparams(params))
	}

	expr := expression.New(stmt, opts...)
	typ := expr.Type()
	if len(params) > 0 && typ != expression.Insert {
		return Event{}, operation{}, fmt.Errorf("%w: got %s", ErrParamsRequireInsert, typ)
	}
	if len(params) > 0 && allEmpty(params) {
		return Event{}, operation{}, ErrEmptyParams
	}

	query, args, err := expr.Compile(c.engine.dialect.placeholder())
	if err != nil {
		return Event{}, operation{}, err
	}

	if err := c.autobegin(ctx); err != nil {
		return Event{}, operation{}, err
	}

	op := operation{
		name:  operationName(typ),
		table: expr.Table(),
		query: query,
		args:  args,
	}
	return ev, op, nil
}

func allEmpty(rows []expression.Params) bool {
	for _, row := range rows {
		if len(row) > 0 {
			return false
		}
	}
	return true
}

func operationName(typ expression.Type) string {
	if typ == expression.Unknown {
		return defaultOperation
	}
	return strings.ToLower(string(typ))
}

func (c *Conn) autobegin(ctx context.Context) error {
	if c.tx != nil {
		return nil
	}
	return c.begin(ctx)
}

// Begin opens a transaction explicitly.
func (c *Conn) Begin(ctx context.Context) error {
	if c.closed {
		return ErrConnClosed
	}
	if c.tx != nil {
		return ErrTransactionInProgress
	}
	return c.begin(ctx)
}

func (c *Conn) begin(ctx context.Context) error {
	c.engine.dispatch(ctx, Event{Name: EventBegin, Conn: c})

	start := time.Now()
	tx, err := c.conn.BeginTx(ctx, c.engine.txOptions)
	c.engine.track(ctx, operation{name: "begin", query: "BEGIN"}, start, 0, err)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	c.tx = tx
	return nil
}

// Commit commits the open transaction. Without one it does nothing.
func (c *Conn) Commit(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	c.engine.dispatch(ctx, Event{Name: EventCommit, Conn: c})

	tx := c.tx
	c.tx = nil
	start := time.Now()
	err := tx.Commit()
	c.engine.track(ctx, operation{name: "commit", query: "COMMIT"}, start, 0, err)
	return err
}

// Rollback rolls back the open transaction. Without one it does nothing.
func (c *Conn) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	c.engine.dispatch(ctx, Event{Name: EventRollback, Conn: c})

	tx := c.tx
	c.tx = nil
	start := time.Now()
	err := tx.Rollback()
	c.engine.track(ctx, operation{name: "rollback", query: "ROLLBACK"}, start, 0, err)
	return err
}

// Transaction begins a transaction, runs fn and commits. When fn returns an error
// or panics the transaction is rolled back instead.
func (c *Conn) Transaction(ctx context.Context, fn func(*Conn) error) (err error) {
	if err := c.Begin(ctx); err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = c.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(c); err != nil {
		if rbErr := c.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return err
	}
	return c.Commit(ctx)
}

// Close rolls back an open transaction and returns the connection to the pool.
// Closing twice is a no-op.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var rbErr error
	if c.tx != nil {
		rbErr = c.Rollback(context.Background())
	}
	return errors.Join(rbErr, c.conn.Close())
}

// Row is the result of QueryRow.
type Row struct {
	row *sql.Row
	err error
}

// Scan copies the columns of the row into dest. It returns sql.ErrNoRows when the
// query produced no rows.
func (r *Row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return r.row.Scan(dest...)
}

// Err returns the error that prevented the query from running, if any.
func (r *Row) Err() error {
	return r.err
}
