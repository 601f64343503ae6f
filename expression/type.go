// Package expression classifies and renders the statements captured from a capsql engine.
//
// An Expression wraps one squirrel statement together with the parameters it was executed
// with. It can report the statement category (SELECT, INSERT, ..., BEGIN, COMMIT, ROLLBACK)
// and render it back to SQL text, either with placeholders or with the parameter values
// inlined as SQL literals.
package expression

import (
	"errors"
	"fmt"
	"strings"
)

// Type is the category of a captured statement.
// Its value is the upper-case statement keyword, so expected types can be written either
// as constants or as plain names:
//
//	[]expression.Type{"BEGIN", expression.Select, "COMMIT"}
type Type string

const (
	Select   Type = "SELECT"
	Insert   Type = "INSERT"
	Update   Type = "UPDATE"
	Delete   Type = "DELETE"
	Begin    Type = "BEGIN"
	Commit   Type = "COMMIT"
	Rollback Type = "ROLLBACK"
	Unknown  Type = "UNKNOWN"
)

// ErrUnknownType is returned by ParseType for names outside the fixed set of types.
var ErrUnknownType = errors.New("unknown expression type")

var knownTypes = []Type{Select, Insert, Update, Delete, Begin, Commit, Rollback, Unknown}

// IsTCL reports whether t is a transaction-control type (BEGIN, COMMIT or ROLLBACK).
func (t Type) IsTCL() bool {
	switch t {
	case Begin, Commit, Rollback:
		return true
	default:
		return false
	}
}

func (t Type) String() string {
	return string(t)
}

// ParseType converts a textual type name into a Type. Matching is case-insensitive
// and ignores surrounding whitespace.
func ParseType(name string) (Type, error) {
	normalized := Type(strings.ToUpper(strings.TrimSpace(name)))
	for _, known := range knownTypes {
		if normalized == known {
			return known, nil
		}
	}
	return Unknown, fmt.Errorf("%w: %q", ErrUnknownType, name)
}
