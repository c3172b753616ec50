package internal

import (
	"reflect"
	"strings"

	"github.com/jackc/pgx/v5"
)

func sanitizeIdentifier(name string) string {
	if name == "" {
		return ""
	}
	parts := strings.Split(name, ".")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.Trim(part, " \"")
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}
	if len(clean) == 0 {
		clean = []string{name}
	}
	return pgx.Identifier(clean).Sanitize()
}

// toAnySlice flattens a slice value into []any. Scalars and arrays (such as
// uuid.UUID) return false.
func toAnySlice(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		return x, true
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, true
	case string, []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, false
	}
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// chunkBounds splits n rows into ceil(n/size) [start, end) slices of at most size rows.
func chunkBounds(n, size int) [][2]int {
	if n <= 0 {
		return nil
	}
	if size <= 0 {
		size = n
	}
	count := (n + size - 1) / size
	bounds := make([][2]int, 0, count)
	for i := 0; i < count; i++ {
		start := i * size
		end := start + size
		if end > n {
			end = n
		}
		bounds = append(bounds, [2]int{start, end})
	}
	return bounds
}
