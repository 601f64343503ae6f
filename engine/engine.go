// Package engine wraps a database/sql pool with a synchronous event surface.
// Statements are squirrel builders; every begin, commit, rollback and successful
// statement is announced to the listeners registered with Listen.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/gaborage/capsql/logger"
)

// Engine is a connection pool plus the listeners observing it. It is safe for
// concurrent use; the Conns it hands out are not.
type Engine struct {
	db        *sql.DB
	dialect   Dialect
	log       logger.Logger
	settings  Settings
	txOptions *sql.TxOptions

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tracer         trace.Tracer
	metrics        *instruments
	closeMetrics   func()
	closeHooks     []func() error

	events registry
}

// Option configures an Engine built with New.
type Option func(*Engine)

// WithDialect sets the placeholder dialect. The default is DialectFor("").
func WithDialect(d Dialect) Option {
	return func(e *Engine) { e.dialect = d }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log logger.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithSettings sets the statement logging settings.
func WithSettings(s Settings) Option {
	return func(e *Engine) { e.settings = s }
}

// WithTxOptions sets the options of every transaction the engine begins.
func WithTxOptions(opts *sql.TxOptions) Option {
	return func(e *Engine) { e.txOptions = opts }
}

// WithTracerProvider sets the tracer provider. The default is the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider. The default is the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// WithCloseHook registers fn to run after the pool is closed by Close.
func WithCloseHook(fn func() error) Option {
	return func(e *Engine) {
		if fn != nil {
			e.closeHooks = append(e.closeHooks, fn)
		}
	}
}

// New wraps db. The engine does not own db until Close is called on it.
func New(db *sql.DB, opts ...Option) *Engine {
	e := &Engine{
		db:       db,
		dialect:  DialectFor(""),
		log:      logger.Nop(),
		settings: NewSettings(nil),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.tracerProvider == nil {
		e.tracerProvider = otel.GetTracerProvider()
	}
	if e.meterProvider == nil {
		e.meterProvider = otel.GetMeterProvider()
	}
	e.tracer = e.tracerProvider.Tracer(instrumentationName)
	meter := e.meterProvider.Meter(instrumentationName)
	e.metrics = newInstruments(meter, e.log)
	e.closeMetrics = registerPoolMetrics(meter, db, e.dialect.Vendor, e.log)

	return e
}

// DB returns the wrapped pool.
func (e *Engine) DB() *sql.DB {
	return e.db
}

// Dialect returns the engine's placeholder dialect.
func (e *Engine) Dialect() Dialect {
	return e.dialect
}

// Logger returns the engine's logger.
func (e *Engine) Logger() logger.Logger {
	return e.log
}

// Listen registers fn for the named event. Listeners run in registration order, on
// the goroutine that triggered the event, before the engine continues.
func (e *Engine) Listen(name EventName, fn Listener) (*Subscription, error) {
	return e.events.add(name, fn)
}

// ListenerCount returns the number of listeners registered for name.
func (e *Engine) ListenerCount(name EventName) int {
	return e.events.count(name)
}

func (e *Engine) dispatch(ctx context.Context, ev Event) {
	e.events.dispatch(ctx, ev)
}

// Connect checks out a dedicated connection from the pool.
func (e *Engine) Connect(ctx context.Context) (*Conn, error) {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &Conn{engine: e, conn: conn}, nil
}

// Transaction runs fn on a fresh connection inside a transaction. The transaction
// commits when fn returns nil and rolls back when fn fails or panics.
func (e *Engine) Transaction(ctx context.Context, fn func(*Conn) error) (err error) {
	conn, err := e.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, conn.Close())
	}()

	return conn.Transaction(ctx, fn)
}

// Close stops the pool metrics, closes the pool and runs the close hooks.
func (e *Engine) Close() error {
	if e.closeMetrics != nil {
		e.closeMetrics()
		e.closeMetrics = nil
	}

	var errs []error
	if e.db != nil {
		errs = append(errs, e.db.Close())
	}
	hooks := e.closeHooks
	e.closeHooks = nil
	for _, hook := range hooks {
		errs = append(errs, hook())
	}
	return errors.Join(errs...)
}
