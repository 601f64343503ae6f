package engine

import (
	"strings"

	"github.com/Masterminds/squirrel"
)

// Vendor names as they appear in config.
const (
	VendorPostgreSQL = "postgresql"
	VendorOracle     = "oracle"
)

// Dialect is how the engine renders placeholders for its database.
type Dialect struct {
	Vendor      string
	Placeholder squirrel.PlaceholderFormat
}

// DialectFor returns the dialect of vendor: $1 for PostgreSQL, :1 for Oracle and ?
// for anything else.
func DialectFor(vendor string) Dialect {
	switch strings.ToLower(vendor) {
	case VendorPostgreSQL, "postgres":
		return Dialect{Vendor: VendorPostgreSQL, Placeholder: squirrel.Dollar}
	case VendorOracle:
		return Dialect{Vendor: VendorOracle, Placeholder: squirrel.Colon}
	default:
		return Dialect{Vendor: strings.ToLower(vendor), Placeholder: squirrel.Question}
	}
}

// Builder returns a squirrel statement builder for the dialect.
func (d Dialect) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(d.placeholder())
}

func (d Dialect) placeholder() squirrel.PlaceholderFormat {
	if d.Placeholder == nil {
		return squirrel.Question
	}
	return d.Placeholder
}
