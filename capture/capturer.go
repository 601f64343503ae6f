package capture

import (
	"errors"

	"github.com/gaborage/capsql/engine"
	"github.com/gaborage/capsql/expression"
)

var (
	// ErrNestedScope is returned by Enter while a partial scope is already active.
	// Only one level of nesting is supported.
	ErrNestedScope = errors.New("capturer scope is already active")
	// ErrExitWithoutEnter is returned by Exit when no partial scope is active.
	ErrExitWithoutEnter = errors.New("capturer exit called without a matching enter")
)

// Capturer asserts on the statements of a full-test Context, or on those of a
// partial Context while a scope entered with Enter is active.
type Capturer struct {
	full    *Context
	partial *Context
}

// NewCapturer wraps full, the context that lives for the whole test.
func NewCapturer(full *Context) *Capturer {
	return &Capturer{full: full}
}

func (c *Capturer) Engine() *engine.Engine {
	return c.full.Engine()
}

// Expressions returns the partial log inside a scope and the full-test log outside.
func (c *Capturer) Expressions() []*expression.Expression {
	return c.active().Expressions()
}

// InScope reports whether a partial scope is active.
func (c *Capturer) InScope() bool {
	return c.partial != nil
}

func (c *Capturer) active() *Context {
	if c.partial != nil {
		return c.partial
	}
	return c.full
}

// Enter opens a partial context on the capturer's engine. Statements executed
// before Enter are not visible to assertions until Exit.
func (c *Capturer) Enter() error {
	if c.partial != nil {
		return ErrNestedScope
	}

	partial := NewContext(c.Engine())
	if err := partial.Open(); err != nil {
		return err
	}
	c.partial = partial
	return nil
}

// Exit closes the partial context; assertions read the full-test log again.
func (c *Capturer) Exit() error {
	if c.partial == nil {
		return ErrExitWithoutEnter
	}

	partial := c.partial
	c.partial = nil
	return partial.Close()
}

// Scope runs fn inside Enter and Exit. Exit runs even when fn panics.
func (c *Capturer) Scope(fn func() error) (err error) {
	if err := c.Enter(); err != nil {
		return err
	}
	defer func() {
		if exitErr := c.Exit(); exitErr != nil {
			err = errors.Join(err, exitErr)
		}
	}()

	return fn()
}
