package internal

import (
	"time"

	"github.com/lychee-technology/ingest"
)

// fieldAccessor resolves one logical field to its quoted column and type.
type fieldAccessor struct {
	Name   string
	Column string
	Type   ingest.ColumnType
}

// bind converts a Go value into the driver argument stored in the column.
func (a fieldAccessor) bind(v any) (any, error) {
	out, err := ingest.CoerceValue(a.Type, v)
	if err != nil {
		return nil, ingest.NewConversionError(a.Name, v, err)
	}
	return out, nil
}

// load converts a scanned driver value back into the column's Go type.
func (a fieldAccessor) load(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		v = string(x)
	case time.Time:
		return x.UTC()
	}
	switch a.Type {
	case ingest.ColumnBoolean, ingest.ColumnTimestamp, ingest.ColumnInteger, ingest.ColumnReal:
		if out, err := ingest.CoerceValue(a.Type, v); err == nil {
			return out
		}
	}
	return v
}

// fieldAccessors maps every declared field of one table; it is built once at
// registration and read concurrently afterwards.
type fieldAccessors map[string]fieldAccessor

func newFieldAccessors(def *ingest.TableDefinition) fieldAccessors {
	out := make(fieldAccessors, len(def.Columns))
	for _, c := range def.Columns {
		out[c.Name] = fieldAccessor{Name: c.Name, Column: sanitizeIdentifier(c.Name), Type: c.Type}
	}
	return out
}

func (f fieldAccessors) lookup(table, field string) (fieldAccessor, error) {
	a, ok := f[field]
	if !ok {
		return fieldAccessor{}, ingest.NewUnknownFieldError(table, field)
	}
	return a, nil
}

// registeredTable is a normalized definition together with its accessors.
type registeredTable struct {
	def    *ingest.TableDefinition
	fields fieldAccessors
	quoted string
}

func newRegisteredTable(def *ingest.TableDefinition) *registeredTable {
	return &registeredTable{def: def, fields: newFieldAccessors(def), quoted: sanitizeIdentifier(def.Name)}
}

// columns resolves names to accessors in order.
func (t *registeredTable) columns(names []string) ([]fieldAccessor, error) {
	out := make([]fieldAccessor, 0, len(names))
	for _, n := range names {
		a, err := t.fields.lookup(t.def.Name, n)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
