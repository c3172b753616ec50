package ingest

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	// IDField is the sole deduplication key of every persisted record.
	IDField = "id"
	// DefaultTimeField is the time column used when a definition names none.
	DefaultTimeField = "timestamp"
	// DefaultChunkSize bounds the rows written per persistence unit.
	DefaultChunkSize = 5000
)

// Record is one provider row keyed by field name.
type Record map[string]any

// Batch is an ordered group of records produced by one fetch-and-transform cycle.
type Batch []Record

// ID returns the record id rendered as the stored TEXT key.
func (r Record) ID() (string, bool) {
	v, ok := r[IDField]
	if !ok {
		return "", false
	}
	return IDString(v)
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// IDString normalizes an id value to its TEXT form.
func IDString(v any) (string, bool) {
	switch id := v.(type) {
	case nil:
		return "", false
	case string:
		return id, id != ""
	case []byte:
		return string(id), len(id) > 0
	case json.Number:
		return id.String(), true
	case int:
		return strconv.Itoa(id), true
	case int32:
		return strconv.FormatInt(int64(id), 10), true
	case int64:
		return strconv.FormatInt(id, 10), true
	case uint64:
		return strconv.FormatUint(id, 10), true
	case float64:
		if id == math.Trunc(id) && !math.IsInf(id, 0) {
			return strconv.FormatInt(int64(id), 10), true
		}
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case uuid.UUID:
		return id.String(), id != uuid.Nil
	case fmt.Stringer:
		s := id.String()
		return s, s != ""
	default:
		return fmt.Sprint(id), true
	}
}

// FilterOp defines supported filter operations
type FilterOp string

const (
	FilterEq      FilterOp = "eq"
	FilterNe      FilterOp = "ne"
	FilterGt      FilterOp = "gt"
	FilterGte     FilterOp = "gte"
	FilterLt      FilterOp = "lt"
	FilterLte     FilterOp = "lte"
	FilterIn      FilterOp = "in"
	FilterNotIn   FilterOp = "not_in"
	FilterLike    FilterOp = "like"
	FilterIsNull  FilterOp = "is_null"
	FilterNotNull FilterOp = "not_null"
)

// Filter is a predicate over one field; filters on a request are ANDed.
type Filter struct {
	Field string   `json:"field"`
	Op    FilterOp `json:"op"`
	Value any      `json:"value,omitempty"`
}

// SortOrder defines sort direction
type SortOrder string

const (
	SortOrderAsc  SortOrder = "asc"
	SortOrderDesc SortOrder = "desc"
)

type OrderBy struct {
	Field     string    `json:"field"`
	SortOrder SortOrder `json:"sort_order,omitempty"`
}

// OutputShape selects how query rows are materialized.
type OutputShape string

const (
	ShapeTabular OutputShape = "tabular"
	ShapeDomain  OutputShape = "domain"
	ShapeDict    OutputShape = "dict"
)

// QueryRequest describes a filtered read or delete over one table.
//
// Start, End and On accept a time.Time, a date string, or an int year.
// A range (Start/End) and an exact On date are mutually exclusive.
type QueryRequest struct {
	Table     string      `json:"table"`
	Code      string      `json:"code,omitempty"`
	Codes     []string    `json:"codes,omitempty"`
	Start     any         `json:"start,omitempty"`
	End       any         `json:"end,omitempty"`
	On        any         `json:"on,omitempty"`
	Exchanges []string    `json:"exchanges,omitempty"`
	Filters   []Filter    `json:"filters,omitempty"`
	Order     []OrderBy   `json:"order,omitempty"`
	Limit     int         `json:"limit,omitempty"`
	Columns   []string    `json:"columns,omitempty"`
	Shape     OutputShape `json:"shape,omitempty"`
	Index     []string    `json:"index,omitempty"`
	TimeField string      `json:"time_field,omitempty"`
}

// QueryResult holds rows in the requested shape; only the matching member is set.
type QueryResult struct {
	Shape         OutputShape   `json:"shape"`
	Frame         *Frame        `json:"frame,omitempty"`
	Entities      []*Entity     `json:"-"`
	Records       []Record      `json:"records,omitempty"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// Len returns the number of rows in the result.
func (r *QueryResult) Len() int {
	if r == nil {
		return 0
	}
	switch r.Shape {
	case ShapeDomain:
		return len(r.Entities)
	case ShapeDict:
		return len(r.Records)
	default:
		return r.Frame.Len()
	}
}

// SaveOptions controls one Save call.
type SaveOptions struct {
	ForceUpdate    bool `json:"force_update"`
	ChunkSize      int  `json:"chunk_size"`
	DropDuplicates bool `json:"drop_duplicates"`
}

// SaveResult summarizes what a Save call wrote.
type SaveResult struct {
	Table        string `json:"table"`
	Received     int    `json:"received"`
	Deduplicated int    `json:"deduplicated"`
	Chunks       int    `json:"chunks"`
	Inserted     int    `json:"inserted"`
	Skipped      int    `json:"skipped"`
	Replaced     int    `json:"replaced"`
}

// TableRegistration is the outcome of registering one table definition.
type TableRegistration struct {
	Table          string   `json:"table"`
	Ready          bool     `json:"ready"`
	IndexesCreated []string `json:"indexes_created,omitempty"`
	Err            error    `json:"-"`
}

// RegistrationResult reports per-table registration outcomes.
type RegistrationResult struct {
	Provider string              `json:"provider"`
	Tables   []TableRegistration `json:"tables"`
}

// OK reports whether every table registered cleanly.
func (r *RegistrationResult) OK() bool {
	return r.Err() == nil
}

// Err joins the per-table failures, or returns nil.
func (r *RegistrationResult) Err() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, t := range r.Tables {
		if t.Err != nil {
			errs = append(errs, t.Err)
		}
	}
	return joinErrors(errs)
}
