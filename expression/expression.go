package expression

import (
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/lann/builder"
)

// Params maps bound-parameter names to values for a single row.
type Params map[string]any

// Expression is one statement handed to the engine, with the parameters it ran with.
// It is built once per observed event and never modified afterwards.
type Expression struct {
	// Executable is the statement as built by the caller.
	Executable squirrel.Sqlizer
	// Params holds the single-row parameters of an insert, if any.
	Params Params
	// Multiparams holds the rows of a batched insert, in batch order.
	Multiparams []Params
	// Placeholder is the dialect placeholder format used for rendering. Nil means '?'.
	Placeholder squirrel.PlaceholderFormat
}

// Option configures an Expression built with New.
type Option func(*Expression)

// WithParams sets the single-row parameters.
func WithParams(p Params) Option {
	return func(e *Expression) { e.Params = p }
}

// WithMultiparams sets the rows of a batched statement.
func WithMultiparams(rows []Params) Option {
	return func(e *Expression) { e.Multiparams = rows }
}

// WithPlaceholder sets the placeholder format used when rendering without bound literals.
func WithPlaceholder(format squirrel.PlaceholderFormat) Option {
	return func(e *Expression) { e.Placeholder = format }
}

// New wraps executable in an Expression.
func New(executable squirrel.Sqlizer, opts ...Option) *Expression {
	e := &Expression{Executable: executable}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Type classifies the statement. Structured builders map to their statement kind; a
// TextClause maps to BEGIN, COMMIT or ROLLBACK when its text is exactly that keyword.
// Everything else is Unknown.
func (e *Expression) Type() Type {
	if e == nil {
		return Unknown
	}
	switch s := e.Executable.(type) {
	case squirrel.SelectBuilder, *squirrel.SelectBuilder:
		return Select
	case squirrel.InsertBuilder, *squirrel.InsertBuilder:
		return Insert
	case squirrel.UpdateBuilder, *squirrel.UpdateBuilder:
		return Update
	case squirrel.DeleteBuilder, *squirrel.DeleteBuilder:
		return Delete
	case TextClause:
		return textType(s)
	case *TextClause:
		if s == nil {
			return Unknown
		}
		return textType(*s)
	default:
		return Unknown
	}
}

func textType(t TextClause) Type {
	switch Type(normalizedText(t.SQL)) {
	case Begin:
		return Begin
	case Commit:
		return Commit
	case Rollback:
		return Rollback
	default:
		return Unknown
	}
}

// IsTCL reports whether the statement is BEGIN, COMMIT or ROLLBACK.
func (e *Expression) IsTCL() bool {
	return e.Type().IsTCL()
}

// SQL renders the statement. With bindParams the parameter values are inlined as SQL
// literals; otherwise placeholders are rendered in the expression's placeholder format.
// Either way "??" renders as a literal '?'.
func (e *Expression) SQL(bindParams bool) (string, error) {
	query, args, err := e.toSQL()
	if err != nil {
		return "", err
	}
	if bindParams && len(args) > 0 {
		return inlineArgs(query, args)
	}
	format := e.placeholder()
	if format == squirrel.Question {
		// Question leaves "??" as is; the other formats and inlining unescape it.
		return strings.ReplaceAll(query, "??", "?"), nil
	}
	return format.ReplacePlaceholders(query)
}

// Compile returns the SQL and arguments to send to the driver, with placeholders in format.
func (e *Expression) Compile(format squirrel.PlaceholderFormat) (string, []any, error) {
	query, args, err := e.toSQL()
	if err != nil {
		return "", nil, err
	}
	if format == nil {
		format = squirrel.Question
	}
	query, err = format.ReplacePlaceholders(query)
	if err != nil {
		return "", nil, fmt.Errorf("replacing placeholders: %w", err)
	}
	return query, args, nil
}

// Summary returns the upper-case first token of the default rendering, or "" when the
// statement cannot be rendered.
func (e *Expression) Summary() string {
	query, err := e.SQL(false)
	if err != nil {
		return ""
	}
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// Table returns the table an INSERT, UPDATE or DELETE targets, or the FROM clause of a
// SELECT when it names a plain table. It returns "" for every other statement.
func (e *Expression) Table() string {
	if e == nil {
		return ""
	}
	switch s := e.Executable.(type) {
	case squirrel.InsertBuilder:
		return inspectInsert(s).into
	case *squirrel.InsertBuilder:
		return inspectInsert(*s).into
	case squirrel.UpdateBuilder:
		return builderString(s, "Table")
	case *squirrel.UpdateBuilder:
		return builderString(*s, "Table")
	case squirrel.DeleteBuilder:
		return builderString(s, "From")
	case *squirrel.DeleteBuilder:
		return builderString(*s, "From")
	case squirrel.SelectBuilder:
		return selectTable(s)
	case *squirrel.SelectBuilder:
		return selectTable(*s)
	default:
		return ""
	}
}

func (e *Expression) String() string {
	query, err := e.SQL(false)
	if err != nil {
		return fmt.Sprintf("<error: %v>", err)
	}
	return query
}

func (e *Expression) placeholder() squirrel.PlaceholderFormat {
	if e.Placeholder == nil {
		return squirrel.Question
	}
	return e.Placeholder
}

// toSQL renders the effective statement with '?' placeholders.
func (e *Expression) toSQL() (string, []any, error) {
	if e == nil || e.Executable == nil {
		return "", nil, fmt.Errorf("expression has no executable")
	}

	var stmt squirrel.Sqlizer
	switch s := e.Executable.(type) {
	case squirrel.InsertBuilder:
		effective, err := e.effectiveInsert(s)
		if err != nil {
			return "", nil, err
		}
		stmt = effective
	case *squirrel.InsertBuilder:
		effective, err := e.effectiveInsert(*s)
		if err != nil {
			return "", nil, err
		}
		stmt = effective
	case squirrel.SelectBuilder:
		stmt = s.PlaceholderFormat(squirrel.Question)
	case *squirrel.SelectBuilder:
		stmt = s.PlaceholderFormat(squirrel.Question)
	case squirrel.UpdateBuilder:
		stmt = s.PlaceholderFormat(squirrel.Question)
	case *squirrel.UpdateBuilder:
		stmt = s.PlaceholderFormat(squirrel.Question)
	case squirrel.DeleteBuilder:
		stmt = s.PlaceholderFormat(squirrel.Question)
	case *squirrel.DeleteBuilder:
		stmt = s.PlaceholderFormat(squirrel.Question)
	default:
		stmt = s
	}

	query, args, err := stmt.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("rendering %s statement: %w", e.Type(), err)
	}
	return query, args, nil
}

func (e *Expression) effectiveInsert(b squirrel.InsertBuilder) (squirrel.InsertBuilder, error) {
	b = b.PlaceholderFormat(squirrel.Question)
	switch {
	case len(e.Multiparams) > 0:
		return withRows(b, e.Multiparams), nil
	case len(e.Params) > 0:
		return withRows(b, []Params{e.Params}), nil
	}

	parts := inspectInsert(b)
	if parts.rows > 0 || parts.hasFrom {
		return b, nil
	}
	return withPlaceholderRow(b)
}

func builderString(b any, field string) string {
	v, ok := builder.Get(b, field)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func selectTable(b squirrel.SelectBuilder) string {
	from, ok := builder.Get(b, "From")
	if !ok || from == nil {
		return ""
	}
	sqlizer, ok := from.(squirrel.Sqlizer)
	if !ok {
		return ""
	}
	query, args, err := sqlizer.ToSql()
	if err != nil || len(args) > 0 || strings.ContainsAny(query, " (") {
		return ""
	}
	return query
}
