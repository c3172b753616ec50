// Package transform holds the record transformation pipeline: small stages
// composed into a Chain that turns a decoded provider payload into a batch
// ready to persist.
package transform

import (
	"fmt"
	"reflect"

	"github.com/lychee-technology/ingest"
	"go.uber.org/zap"
)

// Chain feeds each stage's output into the next. It stops and returns nil as
// soon as a stage yields an empty value.
type Chain []ingest.Transformer

// NewChain builds a chain from stages, skipping nil entries.
func NewChain(stages ...ingest.Transformer) Chain {
	out := make(Chain, 0, len(stages))
	for _, s := range stages {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Then returns a copy of the chain with next appended.
func (c Chain) Then(next ...ingest.Transformer) Chain {
	out := make(Chain, 0, len(c)+len(next))
	out = append(out, c...)
	return append(out, NewChain(next...)...)
}

func (c Chain) Transform(v any) (any, error) {
	if IsEmpty(v) {
		return nil, nil
	}
	for i, stage := range c {
		out, err := stage.Transform(v)
		if err != nil {
			name := stageName(stage)
			zap.S().Debugw("transform stage failed", "stage", name, "position", i, "err", err)
			if _, ok := err.(*ingest.IngestError); ok {
				return nil, err
			}
			return nil, ingest.NewTransformError(name, err)
		}
		if IsEmpty(out) {
			return nil, nil
		}
		v = out
	}
	return v, nil
}

// IsEmpty reports whether v is absent: nil, a nil pointer, an empty map or
// slice, or a frame without rows.
func IsEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case ingest.Record:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	case ingest.Batch:
		return len(x) == 0
	case []ingest.Record:
		return len(x) == 0
	case []map[string]any:
		return len(x) == 0
	case []any:
		return len(x) == 0
	case *ingest.Frame:
		return x.Len() == 0
	case *ingest.Entity:
		return x == nil
	case string:
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	case reflect.Map, reflect.Slice:
		return rv.Len() == 0
	}
	return false
}

func stageName(t ingest.Transformer) string {
	return fmt.Sprintf("%T", t)
}

// ForEach runs Inner over every record of a batch and collects the non-empty
// results. A single record is passed through Inner directly.
type ForEach struct {
	Inner ingest.Transformer
}

func (f ForEach) Transform(v any) (any, error) {
	if IsEmpty(v) || f.Inner == nil {
		return nil, nil
	}
	batch, single, err := asRecords(v)
	if err != nil {
		return nil, err
	}
	if single != nil {
		return f.Inner.Transform(single)
	}
	out := make([]any, 0, len(batch))
	for _, rec := range batch {
		res, err := f.Inner.Transform(rec)
		if err != nil {
			return nil, err
		}
		if !IsEmpty(res) {
			out = append(out, res)
		}
	}
	return flatten(out), nil
}

// flatten returns a Batch when every element is a record, and the raw slice
// otherwise.
func flatten(items []any) any {
	batch := make(ingest.Batch, 0, len(items))
	for _, it := range items {
		rec, ok := toRecord(it)
		if !ok {
			return items
		}
		batch = append(batch, rec)
	}
	return batch
}
