package transform

import (
	"fmt"
	"sort"

	"github.com/lychee-technology/ingest"
)

func toRecord(v any) (ingest.Record, bool) {
	switch x := v.(type) {
	case ingest.Record:
		return x, true
	case map[string]any:
		return ingest.Record(x), true
	}
	return nil, false
}

// asRecords splits v into either a batch or a single record.
func asRecords(v any) (ingest.Batch, ingest.Record, error) {
	if rec, ok := toRecord(v); ok {
		if columnar(rec) {
			b, err := fromColumns(rec)
			return b, nil, err
		}
		return nil, rec, nil
	}
	b, err := ToBatch(v)
	return b, nil, err
}

// ToBatch normalizes every supported payload shape into a Batch: a record, a
// slice of records or maps, a columnar map of equal-length slices, or a frame.
func ToBatch(v any) (ingest.Batch, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case ingest.Batch:
		return x, nil
	case []ingest.Record:
		return ingest.Batch(x), nil
	case []map[string]any:
		out := make(ingest.Batch, len(x))
		for i, m := range x {
			out[i] = ingest.Record(m)
		}
		return out, nil
	case []any:
		out := make(ingest.Batch, 0, len(x))
		for i, item := range x {
			rec, ok := toRecord(item)
			if !ok {
				return nil, ingest.NewTypeMismatchError("shape", item).WithDetail("index", i)
			}
			out = append(out, rec)
		}
		return out, nil
	case *ingest.Frame:
		return x.Records(), nil
	case *ingest.Entity:
		return ingest.Batch{x.Record()}, nil
	}
	if rec, ok := toRecord(v); ok {
		if columnar(rec) {
			return fromColumns(rec)
		}
		return ingest.Batch{rec}, nil
	}
	return nil, ingest.NewTypeMismatchError("shape", v)
}

// columnar reports whether every value of m is a []any, as in
// {"date": [...], "close": [...]}.
func columnar(m ingest.Record) bool {
	if len(m) == 0 {
		return false
	}
	for _, v := range m {
		if _, ok := v.([]any); !ok {
			return false
		}
	}
	return true
}

func fromColumns(m ingest.Record) (ingest.Batch, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	n := -1
	for _, k := range keys {
		col := m[k].([]any)
		if n >= 0 && len(col) != n {
			return nil, fmt.Errorf("column %q has %d values, expected %d", k, len(col), n)
		}
		n = len(col)
	}
	out := make(ingest.Batch, n)
	for i := range out {
		rec := make(ingest.Record, len(keys))
		for _, k := range keys {
			rec[k] = m[k].([]any)[i]
		}
		out[i] = rec
	}
	return out, nil
}

// eachRecord applies fn to a copy of every record in v, keeping the input
// shape: one record in gives one record out, anything else gives a Batch.
func eachRecord(v any, fn func(ingest.Record) (ingest.Record, error)) (any, error) {
	if IsEmpty(v) {
		return nil, nil
	}
	batch, single, err := asRecords(v)
	if err != nil {
		return nil, err
	}
	if single != nil {
		return fn(single.Clone())
	}
	out := make(ingest.Batch, 0, len(batch))
	for _, rec := range batch {
		res, err := fn(rec.Clone())
		if err != nil {
			return nil, err
		}
		if len(res) > 0 {
			out = append(out, res)
		}
	}
	return out, nil
}

// ShapeNormalizer turns any supported payload into a Batch.
type ShapeNormalizer struct{}

func (ShapeNormalizer) Transform(v any) (any, error) {
	if IsEmpty(v) {
		return nil, nil
	}
	return ToBatch(v)
}

// FieldSelector extracts fields from a record. One field yields its value;
// several yield a record holding only those fields. Missing fields are absent.
type FieldSelector struct {
	Fields []string
}

func (s FieldSelector) Transform(v any) (any, error) {
	if IsEmpty(v) {
		return nil, nil
	}
	rec, ok := toRecord(v)
	if !ok {
		return nil, ingest.NewTypeMismatchError("select", v)
	}
	switch len(s.Fields) {
	case 0:
		return rec, nil
	case 1:
		return rec[s.Fields[0]], nil
	}
	out := make(ingest.Record, len(s.Fields))
	for _, f := range s.Fields {
		if val, ok := rec[f]; ok {
			out[f] = val
		}
	}
	return out, nil
}
