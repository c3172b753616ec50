package ingest

import (
	"fmt"
	"sort"
)

// Frame is the tabular shape: named columns, row-major values, and optional
// index columns the rows are sorted by.
type Frame struct {
	Columns []string `json:"columns"`
	Index   []string `json:"index,omitempty"`
	Rows    [][]any  `json:"rows"`
}

// NewFrame creates an empty frame with the given columns.
func NewFrame(columns ...string) *Frame {
	return &Frame{Columns: append([]string(nil), columns...)}
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// ColumnIndex returns the position of a column, or -1.
func (f *Frame) ColumnIndex(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Append adds a row; it must have one value per column.
func (f *Frame) Append(row []any) error {
	if len(row) != len(f.Columns) {
		return fmt.Errorf("row has %d values, frame has %d columns", len(row), len(f.Columns))
	}
	f.Rows = append(f.Rows, row)
	return nil
}

// Column returns a copy of one column's values.
func (f *Frame) Column(name string) ([]any, bool) {
	i := f.ColumnIndex(name)
	if i < 0 {
		return nil, false
	}
	out := make([]any, len(f.Rows))
	for r, row := range f.Rows {
		out[r] = row[i]
	}
	return out, true
}

// Records converts the frame to a batch, one record per row.
func (f *Frame) Records() Batch {
	if f == nil {
		return nil
	}
	out := make(Batch, 0, len(f.Rows))
	for _, row := range f.Rows {
		rec := make(Record, len(f.Columns))
		for i, c := range f.Columns {
			rec[c] = row[i]
		}
		out = append(out, rec)
	}
	return out
}

// SetIndex marks columns as the row index and stably sorts the rows by them.
func (f *Frame) SetIndex(columns ...string) error {
	pos := make([]int, len(columns))
	for i, c := range columns {
		p := f.ColumnIndex(c)
		if p < 0 {
			return NewValidationError(c, "index column is not in the frame")
		}
		pos[i] = p
	}
	f.Index = append([]string(nil), columns...)
	sort.SliceStable(f.Rows, func(a, b int) bool {
		for _, p := range pos {
			if c := CompareValues(f.Rows[a][p], f.Rows[b][p]); c != 0 {
				return c < 0
			}
		}
		return false
	})
	return nil
}

// Entity is a materialized record bound to a table definition. Only declared
// columns can be set.
type Entity struct {
	def    *TableDefinition
	values map[string]any
}

// NewEntity creates an empty entity for def.
func NewEntity(def *TableDefinition) *Entity {
	return &Entity{def: def, values: make(map[string]any, len(def.Columns))}
}

// Table returns the table the entity belongs to.
func (e *Entity) Table() string {
	return e.def.Name
}

// ID returns the entity id.
func (e *Entity) ID() string {
	id, _ := IDString(e.values[IDField])
	return id
}

// Definition returns the definition the entity is bound to.
func (e *Entity) Definition() *TableDefinition {
	return e.def
}

// Has reports whether field is a declared attribute.
func (e *Entity) Has(field string) bool {
	return e.def.HasColumn(field)
}

// Get returns a field value.
func (e *Entity) Get(field string) (any, bool) {
	v, ok := e.values[field]
	return v, ok
}

// Set assigns a declared field.
func (e *Entity) Set(field string, value any) error {
	if !e.Has(field) {
		return NewUnknownFieldError(e.def.Name, field)
	}
	e.values[field] = value
	return nil
}

// Fields returns the declared attributes in declaration order.
func (e *Entity) Fields() []string {
	return e.def.ColumnNames()
}

// Record returns a copy of the assigned values.
func (e *Entity) Record() Record {
	out := make(Record, len(e.values))
	for k, v := range e.values {
		out[k] = v
	}
	return out
}
