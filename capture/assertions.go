package capture

import (
	"fmt"
	"strings"

	"github.com/stretchr/testify/assert"

	"github.com/gaborage/capsql/expression"
)

type assertOptions struct {
	includeTCL bool
	bindParams bool
}

// AssertOption tunes which entries an assertion looks at and how they are rendered.
type AssertOption func(*assertOptions)

// IncludeTCL controls whether BEGIN, COMMIT and ROLLBACK entries are counted and
// compared. The default is true.
func IncludeTCL(include bool) AssertOption {
	return func(o *assertOptions) { o.includeTCL = include }
}

// ExcludeTCL is IncludeTCL(false).
func ExcludeTCL() AssertOption {
	return IncludeTCL(false)
}

// BindParams renders parameters as inline literals in AssertCapturedQueries.
// The default is false.
func BindParams(bind bool) AssertOption {
	return func(o *assertOptions) { o.bindParams = bind }
}

func newAssertOptions(opts []AssertOption) assertOptions {
	o := assertOptions{includeTCL: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type tHelper interface {
	Helper()
}

// selected returns the entries of the active log the options keep.
func (c *Capturer) selected(o assertOptions) []*expression.Expression {
	all := c.Expressions()
	if o.includeTCL {
		return all
	}
	kept := make([]*expression.Expression, 0, len(all))
	for _, expr := range all {
		if !expr.IsTCL() {
			kept = append(kept, expr)
		}
	}
	return kept
}

// AssertQueryCount asserts that exactly expected statements were captured.
//
// Example:
//
//	capsql.AssertQueryCount(t, 1, capture.ExcludeTCL())
func (c *Capturer) AssertQueryCount(t assert.TestingT, expected int, opts ...AssertOption) bool {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	exprs := c.selected(newAssertOptions(opts))
	return assert.Equal(t, expected, len(exprs),
		"expected %d queries, got %d\nCaptured queries:\n%s", expected, len(exprs), formatCaptured(exprs))
}

// AssertMaxQueryCount asserts that no more than maxCount statements were captured.
//
// Example:
//
//	// one query for the orders plus at most one for their items
//	capsql.AssertMaxQueryCount(t, 2, capture.ExcludeTCL())
func (c *Capturer) AssertMaxQueryCount(t assert.TestingT, maxCount int, opts ...AssertOption) bool {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	exprs := c.selected(newAssertOptions(opts))
	return assert.LessOrEqual(t, len(exprs), maxCount,
		"expected at most %d queries, got %d\nCaptured queries:\n%s", maxCount, len(exprs), formatCaptured(exprs))
}

// AssertQueryTypes asserts the ordered types of the captured statements. Expected
// types may be constants or names in any case, e.g. "select".
//
// Example:
//
//	capsql.AssertQueryTypes(t, []expression.Type{"BEGIN", expression.Insert, "COMMIT"})
func (c *Capturer) AssertQueryTypes(t assert.TestingT, expected []expression.Type, opts ...AssertOption) bool {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}

	want := make([]expression.Type, len(expected))
	for i, typ := range expected {
		parsed, err := expression.ParseType(string(typ))
		if err != nil {
			return assert.Fail(t, fmt.Sprintf("invalid expected query type at position %d: %v", i+1, err))
		}
		want[i] = parsed
	}

	exprs := c.selected(newAssertOptions(opts))
	actual := make([]expression.Type, len(exprs))
	for i, expr := range exprs {
		actual[i] = expr.Type()
	}

	return assert.Equal(t, want, actual,
		"query types mismatch: expected %v, got %v\nCaptured queries:\n%s", want, actual, formatCaptured(exprs))
}

// AssertCapturedQueries asserts the ordered SQL text of the captured statements.
// Placeholders follow the engine dialect unless BindParams(true) inlines the values.
//
// Example:
//
//	capsql.AssertCapturedQueries(t, []string{
//		"INSERT INTO orders (recipient) VALUES ('John Doe')",
//	}, capture.ExcludeTCL(), capture.BindParams(true))
func (c *Capturer) AssertCapturedQueries(t assert.TestingT, expected []string, opts ...AssertOption) bool {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	o := newAssertOptions(opts)
	exprs := c.selected(o)

	actual := make([]string, len(exprs))
	for i, expr := range exprs {
		query, err := expr.SQL(o.bindParams)
		if err != nil {
			return assert.Fail(t, fmt.Sprintf("failed to render captured query %d: %v", i+1, err),
				"Captured queries:\n%s", formatCaptured(exprs))
		}
		actual[i] = query
	}

	if expected == nil {
		expected = []string{}
	}
	return assert.Equal(t, expected, actual,
		"captured queries mismatch\nCaptured queries:\n%s", formatCaptured(exprs))
}

// formatCaptured numbers the entries for failure messages.
func formatCaptured(exprs []*expression.Expression) string {
	if len(exprs) == 0 {
		return "  (no queries captured)"
	}

	var sb strings.Builder
	for i, expr := range exprs {
		sb.WriteString(fmt.Sprintf("  %d. [%s] %s\n", i+1, expr.Type(), expr))
		if expr.Params != nil {
			sb.WriteString(fmt.Sprintf("     Params: %v\n", expr.Params))
		}
		if len(expr.Multiparams) > 0 {
			sb.WriteString(fmt.Sprintf("     Multiparams: %v\n", expr.Multiparams))
		}
	}
	return sb.String()
}
