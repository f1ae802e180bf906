// Package ident provides small, comparable identifiers for SQL table
// and column names, used to keep quoting/escaping logic in one place.
// Sized to what holon's storage layer needs; cdc-sink's
// internal/util/ident establishes the shape this package follows: a
// thin wrapper type with a Quoted() method, not a bare string, so that
// quoting can never be forgotten at a call site.
package ident

import "strings"

// Ident is a validated SQL identifier (table or column name).
type Ident struct {
	raw string
}

// New wraps a raw name. It does not validate; callers that accept
// identifiers from an untrusted source must validate separately.
func New(raw string) Ident { return Ident{raw: raw} }

// Raw returns the unquoted identifier text.
func (i Ident) Raw() string { return i.raw }

// Quoted returns the identifier wrapped in double quotes, with any
// embedded quote doubled, safe for interpolation into generated SQL.
func (i Ident) Quoted() string {
	return `"` + strings.ReplaceAll(i.raw, `"`, `""`) + `"`
}

// Table identifies a schema-qualified (here: just named) table.
type Table struct {
	Ident
}

// NewTable wraps a table name.
func NewTable(name string) Table { return Table{Ident: New(name)} }

// String implements fmt.Stringer.
func (t Table) String() string { return t.Raw() }

// Column identifies a column name.
type Column struct {
	Ident
}

// NewColumn wraps a column name.
func NewColumn(name string) Column { return Column{Ident: New(name)} }

// String implements fmt.Stringer.
func (c Column) String() string { return c.Raw() }
