// Package table holds the in-memory tabular model shared by the loaders, the
// scanner and the serializers.
//
// A Table is column-major: every Column carries its own cells, aligned by row
// index, and a Kind that is decided once at load time.
package table

import "fmt"

// Kind classifies a column at load time. Only KindText columns are eligible
// for redaction.
type Kind int

const (
	KindText Kind = iota
	KindNumeric
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumeric:
		return "numeric"
	case KindBool:
		return "bool"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ValueType tags a single cell.
type ValueType int

const (
	TypeNull ValueType = iota
	TypeString
	TypeNumber
	TypeBool
	TypeArray
)

// Value is one cell. Raw holds the string for TypeString, the source literal
// for TypeNumber, "true"/"false" for TypeBool and compact JSON for TypeArray.
type Value struct {
	Type ValueType
	Raw  string
}

// Null is the missing/null cell.
var Null = Value{Type: TypeNull}

// String builds a TypeString value.
func String(s string) Value { return Value{Type: TypeString, Raw: s} }

// Number builds a TypeNumber value from a JSON/CSV numeric literal.
func Number(lit string) Value { return Value{Type: TypeNumber, Raw: lit} }

// Bool builds a TypeBool value.
func Bool(b bool) Value {
	if b {
		return Value{Type: TypeBool, Raw: "true"}
	}
	return Value{Type: TypeBool, Raw: "false"}
}

// Array builds a TypeArray value from compact JSON text.
func Array(raw string) Value { return Value{Type: TypeArray, Raw: raw} }

// IsNull reports whether v is a null cell.
func (v Value) IsNull() bool { return v.Type == TypeNull }

// Text returns the textual form used for pattern matching. Null renders as
// "null".
func (v Value) Text() string {
	if v.Type == TypeNull {
		return "null"
	}
	return v.Raw
}

// Column is a named, kind-tagged sequence of cells.
type Column struct {
	Name  string
	Kind  Kind
	Cells []Value
}

// Table is an ordered set of columns of equal length.
type Table struct {
	Columns []*Column
	rows    int
	index   map[string]int
}

// New returns an empty table.
func New() *Table {
	return &Table{index: make(map[string]int)}
}

// Rows returns the number of rows.
func (t *Table) Rows() int { return t.rows }

// Column returns the named column or nil.
func (t *Table) Column(name string) *Column {
	i, ok := t.index[name]
	if !ok {
		return nil
	}
	return t.Columns[i]
}

// Names returns the column names in order.
func (t *Table) Names() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// AddColumn appends a column padded with nulls for the existing rows. If the
// column already exists it is returned unchanged.
func (t *Table) AddColumn(name string) *Column {
	if c := t.Column(name); c != nil {
		return c
	}
	c := &Column{Name: name, Cells: make([]Value, t.rows)}
	t.index[name] = len(t.Columns)
	t.Columns = append(t.Columns, c)
	return c
}

// AppendRow grows every column by one null cell and returns the new row index.
func (t *Table) AppendRow() int {
	for _, c := range t.Columns {
		c.Cells = append(c.Cells, Null)
	}
	t.rows++
	return t.rows - 1
}

// Set stores v at (row, name), creating the column if needed.
func (t *Table) Set(row int, name string, v Value) {
	t.AddColumn(name).Cells[row] = v
}

// Row returns the cells of one row in column order.
func (t *Table) Row(i int) []Value {
	out := make([]Value, len(t.Columns))
	for j, c := range t.Columns {
		out[j] = c.Cells[i]
	}
	return out
}

// TextColumns returns the columns eligible for redaction.
func (t *Table) TextColumns() []*Column {
	var out []*Column
	for _, c := range t.Columns {
		if c.Kind == KindText {
			out = append(out, c)
		}
	}
	return out
}
