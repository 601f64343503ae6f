package expression

import (
	"database/sql/driver"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ErrPlaceholderMismatch is returned when a statement's placeholders and arguments disagree.
var ErrPlaceholderMismatch = errors.New("placeholder count does not match argument count")

const literalTimeLayout = "2006-01-02 15:04:05.999999999-07:00"

// inlineArgs replaces each '?' placeholder in query with the SQL literal of the matching
// argument. "??" is the escaped form of a literal question mark.
func inlineArgs(query string, args []any) (string, error) {
	var sb strings.Builder
	sb.Grow(len(query))

	used := 0
	for {
		p := strings.IndexByte(query, '?')
		if p == -1 {
			break
		}
		sb.WriteString(query[:p])

		if p+1 < len(query) && query[p+1] == '?' {
			sb.WriteByte('?')
			query = query[p+2:]
			continue
		}

		if used >= len(args) {
			return "", fmt.Errorf("%w: more placeholders than %d args", ErrPlaceholderMismatch, len(args))
		}
		lit, err := Literal(args[used])
		if err != nil {
			return "", fmt.Errorf("argument %d: %w", used+1, err)
		}
		sb.WriteString(lit)
		used++
		query = query[p+1:]
	}
	sb.WriteString(query)

	if used != len(args) {
		return "", fmt.Errorf("%w: %d placeholders for %d args", ErrPlaceholderMismatch, used, len(args))
	}
	return sb.String(), nil
}

// Literal renders v in SQL literal syntax: NULL, TRUE/FALSE, unquoted numbers,
// single-quoted strings with embedded quotes doubled, and X'..' for byte slices.
// driver.Valuer values are resolved first.
func Literal(v any) (string, error) {
	if valuer, ok := v.(driver.Valuer); ok {
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
			return "NULL", nil
		}
		resolved, err := valuer.Value()
		if err != nil {
			return "", fmt.Errorf("resolving driver.Valuer: %w", err)
		}
		v = resolved
	}

	switch val := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if val {
			return "TRUE", nil
		}
		return "FALSE", nil
	case string:
		return quoteString(val), nil
	case []byte:
		if val == nil {
			return "NULL", nil
		}
		return "X'" + strings.ToUpper(hex.EncodeToString(val)) + "'", nil
	case int:
		return strconv.FormatInt(int64(val), 10), nil
	case int8:
		return strconv.FormatInt(int64(val), 10), nil
	case int16:
		return strconv.FormatInt(int64(val), 10), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case uint:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint64:
		return strconv.FormatUint(val, 10), nil
	case float32:
		return formatFloat(float64(val), 32), nil
	case float64:
		return formatFloat(val, 64), nil
	case time.Time:
		return quoteString(val.Format(literalTimeLayout)), nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "NULL", nil
		}
		return Literal(rv.Elem().Interface())
	}
	return quoteString(fmt.Sprintf("%v", v)), nil
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// formatFloat always keeps a decimal point so floats stay distinguishable from integers.
func formatFloat(f float64, bitSize int) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return quoteString(strconv.FormatFloat(f, 'g', -1, bitSize))
	}
	s := strconv.FormatFloat(f, 'f', -1, bitSize)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}
