package transform

import (
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/lychee-technology/ingest"
)

// Renamer renames fields according to Mapping (old name → new name).
type Renamer struct {
	Mapping map[string]string
}

func (r Renamer) Transform(v any) (any, error) {
	return eachRecord(v, func(rec ingest.Record) (ingest.Record, error) {
		for from, to := range r.Mapping {
			if val, ok := rec[from]; ok && from != to {
				delete(rec, from)
				rec[to] = val
			}
		}
		return rec, nil
	})
}

// FieldInjector sets constant values on every record.
type FieldInjector struct {
	Values map[string]any
}

func (f FieldInjector) Transform(v any) (any, error) {
	return eachRecord(v, func(rec ingest.Record) (ingest.Record, error) {
		for k, val := range f.Values {
			rec[k] = val
		}
		return rec, nil
	})
}

// FieldModifier replaces present fields with the result of their function.
type FieldModifier struct {
	Funcs map[string]func(any) (any, error)
}

func (m FieldModifier) Transform(v any) (any, error) {
	return eachRecord(v, func(rec ingest.Record) (ingest.Record, error) {
		for field, fn := range m.Funcs {
			val, ok := rec[field]
			if !ok {
				continue
			}
			out, err := fn(val)
			if err != nil {
				return nil, ingest.NewConversionError(field, val, err)
			}
			rec[field] = out
		}
		return rec, nil
	})
}

// FieldDeleter removes fields.
type FieldDeleter struct {
	Fields []string
}

func (d FieldDeleter) Transform(v any) (any, error) {
	return eachRecord(v, func(rec ingest.Record) (ingest.Record, error) {
		for _, f := range d.Fields {
			delete(rec, f)
		}
		return rec, nil
	})
}

// KeyLowercaser lowercases field names. When two keys fold to the same name,
// the one that was not already lowercase wins.
type KeyLowercaser struct{}

func (KeyLowercaser) Transform(v any) (any, error) {
	return eachRecord(v, func(rec ingest.Record) (ingest.Record, error) {
		var mixed []string
		for k := range rec {
			if k != strings.ToLower(k) {
				mixed = append(mixed, k)
			}
		}
		sort.Strings(mixed)
		for _, k := range mixed {
			val := rec[k]
			delete(rec, k)
			rec[strings.ToLower(k)] = val
		}
		return rec, nil
	})
}

// IDBuilder derives a deterministic id from Fields when the record has none.
type IDBuilder struct {
	Fields    []string
	Namespace uuid.UUID
}

func (b IDBuilder) Transform(v any) (any, error) {
	ns := b.Namespace
	if ns == uuid.Nil {
		ns = uuid.NameSpaceOID
	}
	return eachRecord(v, func(rec ingest.Record) (ingest.Record, error) {
		if _, ok := rec.ID(); ok {
			return rec, nil
		}
		parts := make([]string, len(b.Fields))
		for i, f := range b.Fields {
			val, ok := rec[f]
			if !ok || val == nil {
				return nil, ingest.NewValidationError(f, "id key field is missing")
			}
			parts[i] = keyString(val)
		}
		rec[ingest.IDField] = uuid.NewSHA1(ns, []byte(strings.Join(parts, "|"))).String()
		return rec, nil
	})
}

func keyString(v any) string {
	s, _ := ingest.CoerceValue(ingest.ColumnText, v)
	return s.(string)
}

// Deduplicator keeps the last record per Key (default "id"), ordered by the
// position of that last occurrence. Records without the key are kept.
type Deduplicator struct {
	Key string
}

func (d Deduplicator) Transform(v any) (any, error) {
	if IsEmpty(v) {
		return nil, nil
	}
	batch, single, err := asRecords(v)
	if err != nil {
		return nil, err
	}
	if single != nil {
		return single, nil
	}
	key := d.Key
	if key == "" {
		key = ingest.IDField
	}

	last := make(map[string]int, len(batch))
	for i, rec := range batch {
		if k, ok := ingest.IDString(rec[key]); ok {
			last[k] = i
		}
	}
	out := make(ingest.Batch, 0, len(batch))
	for i, rec := range batch {
		k, ok := ingest.IDString(rec[key])
		if !ok || last[k] == i {
			out = append(out, rec)
		}
	}
	return out, nil
}

// PersistAdapter copies the declared fields of a record onto Target and
// returns it. A batch yields one entity per record, bound to Target's table.
type PersistAdapter struct {
	Target *ingest.Entity
}

func (p PersistAdapter) Transform(v any) (any, error) {
	if IsEmpty(v) || p.Target == nil {
		return nil, nil
	}
	batch, single, err := asRecords(v)
	if err != nil {
		return nil, err
	}
	if single != nil {
		copyDeclared(p.Target, single)
		return p.Target, nil
	}
	out := make([]*ingest.Entity, 0, len(batch))
	for _, rec := range batch {
		e := ingest.NewEntity(p.Target.Definition())
		copyDeclared(e, rec)
		out = append(out, e)
	}
	return out, nil
}

func copyDeclared(e *ingest.Entity, rec ingest.Record) {
	for k, val := range rec {
		if e.Has(k) {
			_ = e.Set(k, val)
		}
	}
}
