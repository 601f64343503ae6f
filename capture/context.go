// Package capture records the statements an engine executes while a capture context is
// open, and asserts on them.
//
// A Context is the log. It subscribes to the engine's begin, commit, rollback and
// after_execute events on Open and unsubscribes on Close; everything delivered in between
// is appended in delivery order. A Capturer wraps the full-test Context and can open one
// nested partial Context at a time to scope assertions to a block of code.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/gaborage/capsql/engine"
	"github.com/gaborage/capsql/expression"
	"github.com/gaborage/capsql/logger"
)

var (
	// ErrContextOpen is returned by Open on a context that is already open.
	ErrContextOpen = errors.New("capture context is already open")
	// ErrContextClosed is returned by Close on a context that is not open.
	ErrContextClosed = errors.New("capture context is not open")
)

var trackedEvents = []engine.EventName{
	engine.EventBegin,
	engine.EventCommit,
	engine.EventRollback,
	engine.EventAfterExecute,
}

// Context captures the statements executed on one engine between Open and Close.
type Context struct {
	engine *engine.Engine
	id     string
	log    logger.Logger

	mu            sync.Mutex
	expressions   []*expression.Expression
	subscriptions []*engine.Subscription
}

// NewContext returns a closed context bound to e.
func NewContext(e *engine.Engine) *Context {
	id := uuid.NewString()
	return &Context{
		engine: e,
		id:     id,
		log:    e.Logger().WithFields(map[string]any{"capture_context": id}),
	}
}

// Open subscribes the context to e's transaction and statement events.
func (c *Context) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subscriptions != nil {
		return ErrContextOpen
	}

	subs := make([]*engine.Subscription, 0, len(trackedEvents))
	for _, name := range trackedEvents {
		sub, err := c.engine.Listen(name, c.listener(name))
		if err != nil {
			for _, s := range subs {
				s.Remove()
			}
			return fmt.Errorf("failed to subscribe to %s: %w", name, err)
		}
		subs = append(subs, sub)
	}
	c.subscriptions = subs

	c.log.Debug().Msg("Capture context opened")
	return nil
}

func (c *Context) listener(name engine.EventName) engine.Listener {
	placeholder := expression.WithPlaceholder(c.engine.Dialect().Placeholder)

	switch name {
	case engine.EventBegin:
		return c.appendText("BEGIN")
	case engine.EventCommit:
		return c.appendText("COMMIT")
	case engine.EventRollback:
		return c.appendText("ROLLBACK")
	default:
		return func(_ context.Context, ev engine.Event) {
			c.append(expression.New(ev.Statement,
				expression.WithParams(ev.Params),
				expression.WithMultiparams(ev.Multiparams),
				placeholder,
			))
		}
	}
}

func (c *Context) appendText(keyword string) engine.Listener {
	return func(context.Context, engine.Event) {
		c.append(expression.New(expression.Text(keyword)))
	}
}

func (c *Context) append(expr *expression.Expression) {
	c.mu.Lock()
	c.expressions = append(c.expressions, expr)
	c.mu.Unlock()
}

// Close revokes the context's subscriptions. The captured log is kept.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subscriptions == nil {
		return ErrContextClosed
	}
	for _, sub := range c.subscriptions {
		sub.Remove()
	}
	c.subscriptions = nil

	c.log.Debug().Int("entries", len(c.expressions)).Msg("Capture context closed")
	return nil
}

// Clear empties the log. The context stays open or closed as it was.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.log.Debug().Int("entries", len(c.expressions)).Msg("Capture context cleared")
	c.expressions = nil
}

// Expressions returns a copy of the log in capture order.
func (c *Context) Expressions() []*expression.Expression {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*expression.Expression, len(c.expressions))
	copy(out, c.expressions)
	return out
}

// Len returns the number of captured entries.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.expressions)
}

func (c *Context) Engine() *engine.Engine {
	return c.engine
}

func (c *Context) ID() string {
	return c.id
}

// IsOpen reports whether the context is subscribed to its engine.
func (c *Context) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptions != nil
}

// Run opens a context on e, calls fn and closes the context, even when fn panics.
// fn's error is returned as is, joined with the close error if closing fails.
func Run(e *engine.Engine, fn func(*Context) error) (err error) {
	c := NewContext(e)
	if err := c.Open(); err != nil {
		return err
	}
	defer func() {
		if closeErr := c.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}()

	return fn(c)
}
