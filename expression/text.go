package expression

import (
	"strings"

	"github.com/Masterminds/squirrel"
)

// TextClause is a raw-text statement. It is the only statement shape whose type is
// derived from its text, and only for the transaction-control keywords.
type TextClause struct {
	SQL  string
	Args []any
}

var _ squirrel.Sqlizer = TextClause{}

// Text builds a raw-text statement. Use '?' for placeholders.
func Text(sql string, args ...any) TextClause {
	return TextClause{SQL: sql, Args: args}
}

// ToSql implements squirrel.Sqlizer.
//
//nolint:revive // method name is dictated by squirrel.Sqlizer
func (t TextClause) ToSql() (string, []any, error) {
	return t.SQL, t.Args, nil
}

// normalizedText collapses whitespace, strips a trailing semicolon and upper-cases the text.
func normalizedText(sql string) string {
	text := strings.TrimSpace(sql)
	text = strings.TrimSpace(strings.TrimSuffix(text, ";"))
	return strings.ToUpper(strings.Join(strings.Fields(text), " "))
}
