package expression

import (
	"fmt"
	"slices"

	"github.com/Masterminds/squirrel"
	"github.com/lann/builder"
)

// insertParts exposes the parts of an InsertBuilder that rendering needs.
type insertParts struct {
	into    string
	columns []string
	rows    int
	hasFrom bool
}

func inspectInsert(b squirrel.InsertBuilder) insertParts {
	var parts insertParts
	if into, ok := builder.Get(b, "Into"); ok {
		parts.into, _ = into.(string)
	}
	if columns, ok := builder.Get(b, "Columns"); ok {
		parts.columns, _ = columns.([]string)
	}
	if values, ok := builder.Get(b, "Values"); ok {
		if rows, isRows := values.([][]any); isRows {
			parts.rows = len(rows)
		}
	}
	if sel, ok := builder.Get(b, "Select"); ok && sel != nil {
		parts.hasFrom = true
	}
	return parts
}

// withRows rebuilds b so that it inserts rows, one VALUES tuple per row.
func withRows(b squirrel.InsertBuilder, rows []Params) squirrel.InsertBuilder {
	parts := inspectInsert(b)
	columns := rowColumns(parts.columns, rows)

	out := builder.Delete(b, "Columns").(squirrel.InsertBuilder)
	out = builder.Delete(out, "Values").(squirrel.InsertBuilder)
	out = out.Columns(columns...)
	for _, row := range rows {
		values := make([]any, len(columns))
		for i, column := range columns {
			values[i] = row[column]
		}
		out = out.Values(values...)
	}
	return out
}

// withPlaceholderRow fills a bare insert with one placeholder per declared column.
func withPlaceholderRow(b squirrel.InsertBuilder) (squirrel.InsertBuilder, error) {
	parts := inspectInsert(b)
	if len(parts.columns) == 0 {
		return b, fmt.Errorf("insert into %q declares no columns and has no values", parts.into)
	}
	values := make([]any, len(parts.columns))
	for i := range values {
		values[i] = squirrel.Expr("?")
	}
	return b.Values(values...), nil
}

// rowColumns orders the keys used by any of rows: declared columns first, in
// declared order, then the remaining keys sorted. A row without a key renders NULL.
func rowColumns(declared []string, rows []Params) []string {
	used := make(map[string]struct{})
	for _, row := range rows {
		for key := range row {
			used[key] = struct{}{}
		}
	}

	columns := make([]string, 0, len(used))
	for _, column := range declared {
		if _, ok := used[column]; !ok {
			continue
		}
		delete(used, column)
		columns = append(columns, column)
	}

	extra := make([]string, 0, len(used))
	for key := range used {
		extra = append(extra, key)
	}
	slices.Sort(extra)
	return append(columns, extra...)
}
