package ingest

import (
	"errors"
	"fmt"
	"strings"
)

// ColumnType is the logical type of a table column.
type ColumnType string

const (
	ColumnText      ColumnType = "text"
	ColumnInteger   ColumnType = "integer"
	ColumnReal      ColumnType = "real"
	ColumnBoolean   ColumnType = "boolean"
	ColumnTimestamp ColumnType = "timestamp"
)

// Valid reports whether t is a known column type.
func (t ColumnType) Valid() bool {
	switch t {
	case ColumnText, ColumnInteger, ColumnReal, ColumnBoolean, ColumnTimestamp:
		return true
	}
	return false
}

// ColumnDef declares one column of a table.
type ColumnDef struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// IndexSpec declares a possibly composite secondary index.
type IndexSpec struct {
	Fields []string `json:"fields"`
}

// Name returns the index name <table>_<field1>_<field2>..._index.
func (s IndexSpec) Name(table string) string {
	return table + "_" + strings.Join(s.Fields, "_") + "_index"
}

// TableDefinition declares a provider table.
type TableDefinition struct {
	Name      string      `json:"name"`
	Columns   []ColumnDef `json:"columns"`
	Indexes   []IndexSpec `json:"indexes,omitempty"`
	TimeField string      `json:"time_field,omitempty"`
}

// ParseTableName splits <provider>_<category>_<name> on its first underscore.
func ParseTableName(table string) (provider, rest string, err error) {
	i := strings.IndexByte(table, '_')
	if i <= 0 || i == len(table)-1 {
		return "", "", NewInvalidTableNameError(table)
	}
	return table[:i], table[i+1:], nil
}

// Provider returns the provider the table belongs to.
func (d *TableDefinition) Provider() (string, error) {
	p, _, err := ParseTableName(d.Name)
	return p, err
}

// EffectiveTimeField returns the designated time column.
func (d *TableDefinition) EffectiveTimeField() string {
	if d.TimeField == "" {
		return DefaultTimeField
	}
	return d.TimeField
}

// Column looks up a declared column by name.
func (d *TableDefinition) Column(name string) (ColumnDef, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDef{}, false
}

// HasColumn reports whether name is declared.
func (d *TableDefinition) HasColumn(name string) bool {
	_, ok := d.Column(name)
	return ok
}

// ColumnNames returns the declared column names in declaration order.
func (d *TableDefinition) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// Normalize validates the definition and returns a copy whose first column is the
// TEXT id key.
func (d *TableDefinition) Normalize() (*TableDefinition, error) {
	if d == nil {
		return nil, NewInvalidDefinitionError("", "definition is nil")
	}
	if _, _, err := ParseTableName(d.Name); err != nil {
		return nil, err
	}

	out := &TableDefinition{
		Name:      d.Name,
		TimeField: d.EffectiveTimeField(),
		Columns:   make([]ColumnDef, 0, len(d.Columns)+1),
	}
	seen := make(map[string]struct{}, len(d.Columns)+1)
	out.Columns = append(out.Columns, ColumnDef{Name: IDField, Type: ColumnText})
	seen[IDField] = struct{}{}

	for _, c := range d.Columns {
		if c.Name == "" {
			return nil, NewInvalidDefinitionError(d.Name, "column name is empty")
		}
		if c.Name == IDField {
			if c.Type != "" && c.Type != ColumnText {
				return nil, NewInvalidDefinitionError(d.Name, "id column must be text")
			}
			continue
		}
		if _, dup := seen[c.Name]; dup {
			return nil, NewInvalidDefinitionError(d.Name, fmt.Sprintf("duplicate column %q", c.Name))
		}
		if !c.Type.Valid() {
			return nil, NewInvalidDefinitionError(d.Name, fmt.Sprintf("column %q has unknown type %q", c.Name, c.Type))
		}
		seen[c.Name] = struct{}{}
		out.Columns = append(out.Columns, c)
	}

	for _, idx := range d.Indexes {
		if len(idx.Fields) == 0 {
			return nil, NewInvalidDefinitionError(d.Name, "index has no fields")
		}
		out.Indexes = append(out.Indexes, IndexSpec{Fields: append([]string(nil), idx.Fields...)})
	}
	return out, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
