package capture

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/capsql/engine"
	"github.com/gaborage/capsql/expression"
)

const (
	ordersTable = "orders"
	johnDoe     = "John Doe"
	janeDoe     = "Jane Doe"

	selectOrders = "SELECT id, recipient FROM orders"
	insertOrder  = "INSERT INTO orders (recipient) VALUES (?)"
)

func newTestEngine(t *testing.T, opts ...engine.Option) (*engine.Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return engine.New(db, opts...), mock
}

func connect(t *testing.T, e *engine.Engine) *engine.Conn {
	t.Helper()
	conn, err := e.Connect(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func selectAll() squirrel.SelectBuilder {
	return squirrel.Select("id", "recipient").From(ordersTable)
}

func insertRecipient() squirrel.InsertBuilder {
	return squirrel.Insert(ordersTable).Columns("recipient")
}

func query(t *testing.T, conn *engine.Conn, stmt squirrel.Sqlizer) {
	t.Helper()
	rows, err := conn.Query(context.Background(), stmt)
	require.NoError(t, err)
	require.NoError(t, rows.Close())
}

func types(exprs []*expression.Expression) []expression.Type {
	out := make([]expression.Type, len(exprs))
	for i, e := range exprs {
		out[i] = e.Type()
	}
	return out
}

func TestContextCapturesTransactionInOrder(t *testing.T) {
	e, mock := newTestEngine(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(selectOrders).WillReturnRows(sqlmock.NewRows([]string{"id", "recipient"}))
	mock.ExpectExec(insertOrder).WithArgs(johnDoe).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	c := NewContext(e)
	require.NoError(t, c.Open())
	assert.True(t, c.IsOpen())

	conn := connect(t, e)
	query(t, conn, selectAll())
	_, err := conn.Exec(ctx, insertRecipient(), expression.Params{"recipient": johnDoe})
	require.NoError(t, err)
	require.NoError(t, conn.Commit(ctx))

	require.NoError(t, c.Close())
	assert.False(t, c.IsOpen())

	exprs := c.Expressions()
	assert.Equal(t, []expression.Type{
		expression.Begin, expression.Select, expression.Insert, expression.Commit,
	}, types(exprs))
	assert.Equal(t, 4, c.Len())
	assert.Equal(t, expression.Params{"recipient": johnDoe}, exprs[2].Params)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContextCapturesRollback(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(selectOrders).WillReturnRows(sqlmock.NewRows([]string{"id", "recipient"}))
	mock.ExpectRollback()

	err := Run(e, func(c *Context) error {
		conn := connect(t, e)
		query(t, conn, selectAll())
		require.NoError(t, conn.Rollback(context.Background()))

		assert.Equal(t, []expression.Type{expression.Begin, expression.Select, expression.Rollback},
			types(c.Expressions()))
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContextCapturesMultiparams(t *testing.T) {
	e, mock := newTestEngine(t, engine.WithDialect(engine.DialectFor(engine.VendorPostgreSQL)))
	rows := []expression.Params{{"recipient": johnDoe}, {"recipient": janeDoe}}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders (recipient) VALUES ($1),($2)").
		WithArgs(johnDoe, janeDoe).
		WillReturnResult(sqlmock.NewResult(2, 2))

	c := NewContext(e)
	require.NoError(t, c.Open())
	defer c.Close()

	conn := connect(t, e)
	_, err := conn.Exec(context.Background(), insertRecipient(), rows...)
	require.NoError(t, err)

	exprs := c.Expressions()
	require.Len(t, exprs, 2)
	assert.Equal(t, rows, exprs[1].Multiparams)

	bound, err := exprs[1].SQL(true)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO orders (recipient) VALUES ('John Doe'),('Jane Doe')", bound)

	unbound, err := exprs[1].SQL(false)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO orders (recipient) VALUES ($1),($2)", unbound)
}

func TestContextClearKeepsSubscriptions(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(selectOrders).WillReturnRows(sqlmock.NewRows([]string{"id", "recipient"}))
	mock.ExpectQuery(selectOrders).WillReturnRows(sqlmock.NewRows([]string{"id", "recipient"}))

	c := NewContext(e)
	require.NoError(t, c.Open())
	defer c.Close()

	conn := connect(t, e)
	query(t, conn, selectAll())
	require.Equal(t, 2, c.Len())

	c.Clear()
	assert.Zero(t, c.Len())
	assert.True(t, c.IsOpen())

	query(t, conn, selectAll())
	exprs := c.Expressions()
	require.Len(t, exprs, 1)
	assert.Equal(t, expression.Select, exprs[0].Type())
}

func TestContextOpenCloseStateMachine(t *testing.T) {
	e, _ := newTestEngine(t)
	c := NewContext(e)

	assert.ErrorIs(t, c.Close(), ErrContextClosed)

	require.NoError(t, c.Open())
	assert.ErrorIs(t, c.Open(), ErrContextOpen)
	assert.Equal(t, 1, e.ListenerCount(engine.EventAfterExecute))

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Close(), ErrContextClosed)
	for _, name := range []engine.EventName{engine.EventBegin, engine.EventCommit, engine.EventRollback, engine.EventAfterExecute} {
		assert.Zero(t, e.ListenerCount(name), name)
	}

	require.NoError(t, c.Open())
	require.NoError(t, c.Close())
}

func TestContextCloseRevokesOnlyItsOwnSubscriptions(t *testing.T) {
	e, mock := newTestEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery(selectOrders).WillReturnRows(sqlmock.NewRows([]string{"id", "recipient"}))

	outer := NewContext(e)
	require.NoError(t, outer.Open())
	defer outer.Close()

	inner := NewContext(e)
	require.NoError(t, inner.Open())
	require.NoError(t, inner.Close())
	assert.Equal(t, 1, e.ListenerCount(engine.EventBegin))

	conn := connect(t, e)
	query(t, conn, selectAll())

	assert.Equal(t, 2, outer.Len())
	assert.Zero(t, inner.Len())
	assert.NotEqual(t, outer.ID(), inner.ID())
	assert.Same(t, e, inner.Engine())
}

func TestContextExpressionsIsSnapshot(t *testing.T) {
	e, _ := newTestEngine(t)
	c := NewContext(e)
	c.append(expression.New(expression.Text("BEGIN")))

	snapshot := c.Expressions()
	c.append(expression.New(expression.Text("COMMIT")))

	assert.Len(t, snapshot, 1)
	assert.Equal(t, 2, c.Len())
}

func TestRun(t *testing.T) {
	t.Run("returns_body_error_and_closes", func(t *testing.T) {
		e, _ := newTestEngine(t)
		bodyErr := errors.New("body failed")
		var captured *Context

		err := Run(e, func(c *Context) error {
			captured = c
			assert.True(t, c.IsOpen())
			return bodyErr
		})

		assert.ErrorIs(t, err, bodyErr)
		assert.False(t, captured.IsOpen())
		assert.Zero(t, e.ListenerCount(engine.EventAfterExecute))
	})

	t.Run("closes_on_panic", func(t *testing.T) {
		e, _ := newTestEngine(t)
		var captured *Context

		assert.PanicsWithValue(t, "boom", func() {
			_ = Run(e, func(c *Context) error {
				captured = c
				panic("boom")
			})
		})
		assert.False(t, captured.IsOpen())
		assert.Zero(t, e.ListenerCount(engine.EventBegin))
	})

	t.Run("joins_close_error", func(t *testing.T) {
		e, _ := newTestEngine(t)

		err := Run(e, func(c *Context) error {
			return c.Close()
		})
		assert.ErrorIs(t, err, ErrContextClosed)
	})

	t.Run("statement_errors_propagate", func(t *testing.T) {
		e, mock := newTestEngine(t)
		execErr := errors.New("duplicate key")

		mock.ExpectBegin()
		mock.ExpectExec(insertOrder).WithArgs(johnDoe).WillReturnError(execErr)

		err := Run(e, func(c *Context) error {
			conn := connect(t, e)
			_, err := conn.Exec(context.Background(), insertRecipient(), expression.Params{"recipient": johnDoe})
			assert.Equal(t, []expression.Type{expression.Begin}, types(c.Expressions()))
			return err
		})
		assert.ErrorIs(t, err, execErr)
	})
}
