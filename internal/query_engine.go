package internal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lychee-technology/ingest"
	"go.uber.org/zap"
)

const (
	codeField     = "code"
	exchangeField = "exchange"
)

// QueryEngine builds filtered, ordered, paginated reads and filtered deletes.
type QueryEngine struct {
	registry *StorageRegistry
	cfg      ingest.QueryConfig
	logger   *zap.SugaredLogger
}

// NewQueryEngine creates a query engine over registry.
func NewQueryEngine(registry *StorageRegistry, cfg ingest.QueryConfig) *QueryEngine {
	if cfg.DefaultEnd == "" {
		cfg.DefaultEnd = "2050-01-01"
	}
	return &QueryEngine{registry: registry, cfg: cfg, logger: zap.S().Named("query")}
}

// SetLogger replaces the engine logger.
func (q *QueryEngine) SetLogger(logger *zap.SugaredLogger) {
	if logger != nil {
		q.logger = logger
	}
}

// Query runs req and materializes the rows in the requested shape.
func (q *QueryEngine) Query(ctx context.Context, req *ingest.QueryRequest) (*ingest.QueryResult, error) {
	start := time.Now()
	t, err := q.resolveTable(req)
	if err != nil {
		return nil, err
	}

	shape := req.Shape
	if shape == "" {
		shape = ingest.ShapeTabular
	}
	switch shape {
	case ingest.ShapeTabular, ingest.ShapeDomain, ingest.ShapeDict:
	default:
		return nil, ingest.NewValidationError("shape", fmt.Sprintf("unknown output shape %q", shape))
	}

	session, err := q.registry.GetSession(ctx, t.def.Name, false)
	if err != nil {
		return nil, err
	}
	db, err := session.DB()
	if err != nil {
		return nil, err
	}

	pb, err := q.predicates(t, session.Engine().Dialect(), req)
	if err != nil {
		return nil, err
	}
	projection, err := q.projection(t, req)
	if err != nil {
		return nil, err
	}
	orderBy, err := q.orderBy(t, req)
	if err != nil {
		return nil, err
	}

	cols := make([]string, len(projection))
	for i, a := range projection {
		cols[i] = a.Column
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s%s%s", strings.Join(cols, ", "), t.quoted, pb.where(), orderBy)
	limit := req.Limit
	if q.cfg.MaxRows > 0 && (limit <= 0 || limit > q.cfg.MaxRows) {
		limit = q.cfg.MaxRows
	}
	if limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", limit)
	}

	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	q.logger.Debugw("query", "table", t.def.Name, "sql", stmt, "args", len(pb.args))
	rows, err := db.QueryContext(ctx, stmt, pb.args...)
	if err != nil {
		return nil, ingest.NewQueryExecutionError("query failed", err).WithTable(t.def.Name)
	}
	defer rows.Close()

	result, err := q.materialize(rows, t, projection, shape, req.Index)
	if err != nil {
		return nil, err
	}
	result.ExecutionTime = time.Since(start)

	EmitLatency(ctx, "query", result.ExecutionTime.Milliseconds())
	EmitRowCount(ctx, "query", t.def.Name, int64(result.Len()))
	return result, nil
}

// Delete removes every row matching req's predicates and commits. Ordering,
// limit and projection are ignored.
func (q *QueryEngine) Delete(ctx context.Context, req *ingest.QueryRequest) error {
	t, err := q.resolveTable(req)
	if err != nil {
		return err
	}
	session, err := q.registry.GetSession(ctx, t.def.Name, false)
	if err != nil {
		return err
	}
	pb, err := q.predicates(t, session.Engine().Dialect(), req)
	if err != nil {
		return err
	}
	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	tx, err := session.BeginTx(ctx)
	if err != nil {
		return ingest.NewQueryExecutionError("begin delete", err).WithTable(t.def.Name)
	}
	stmt := fmt.Sprintf("DELETE FROM %s%s", t.quoted, pb.where())
	res, err := tx.ExecContext(ctx, stmt, pb.args...)
	if err != nil {
		tx.Rollback()
		return ingest.NewQueryExecutionError("delete failed", err).WithTable(t.def.Name)
	}
	if err := tx.Commit(); err != nil {
		return ingest.NewQueryExecutionError("commit delete", err).WithTable(t.def.Name)
	}
	if n, err := res.RowsAffected(); err == nil {
		q.logger.Debugw("rows deleted", "table", t.def.Name, "rows", n)
	}
	return nil
}

func (q *QueryEngine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if q.cfg.DefaultTimeout > 0 {
		return context.WithTimeout(ctx, q.cfg.DefaultTimeout)
	}
	return context.WithCancel(ctx)
}

func (q *QueryEngine) resolveTable(req *ingest.QueryRequest) (*registeredTable, error) {
	if req == nil || req.Table == "" {
		return nil, ingest.NewValidationError("table", "table is required")
	}
	return q.registry.table(req.Table)
}

// predicates turns the request filters into ANDed predicates. Every field is
// resolved through the table's accessors before any SQL is emitted.
func (q *QueryEngine) predicates(t *registeredTable, d Dialect, req *ingest.QueryRequest) (*predicateBuilder, error) {
	pb := newPredicateBuilder(d)
	table := t.def.Name

	if req.Code != "" && len(req.Codes) > 0 {
		return nil, ingest.NewInvalidFilterError(codeField, "code and codes are mutually exclusive")
	}
	if req.Code != "" || len(req.Codes) > 0 {
		a, err := t.fields.lookup(table, codeField)
		if err != nil {
			return nil, err
		}
		if req.Code != "" {
			err = pb.add(a, ingest.FilterEq, req.Code)
		} else {
			err = pb.add(a, ingest.FilterIn, req.Codes)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := q.timePredicates(pb, t, req); err != nil {
		return nil, err
	}

	if len(req.Exchanges) > 0 {
		a, err := t.fields.lookup(table, exchangeField)
		if err != nil {
			return nil, err
		}
		if err := pb.add(a, ingest.FilterIn, req.Exchanges); err != nil {
			return nil, err
		}
	}

	for _, f := range req.Filters {
		a, err := t.fields.lookup(table, f.Field)
		if err != nil {
			return nil, err
		}
		value := f.Value
		if a.Type == ingest.ColumnTimestamp && value != nil {
			if value, err = sanitizeFilterDates(value); err != nil {
				return nil, ingest.NewInvalidFilterError(f.Field, "invalid date value").WithCause(err)
			}
		}
		if err := pb.add(a, f.Op, value); err != nil {
			return nil, err
		}
	}
	return pb, nil
}

func (q *QueryEngine) timePredicates(pb *predicateBuilder, t *registeredTable, req *ingest.QueryRequest) error {
	hasRange := req.Start != nil || req.End != nil
	if hasRange && req.On != nil {
		return ingest.NewInvalidTimeRangeError("a start/end range and an exact on date are mutually exclusive")
	}
	if !hasRange && req.On == nil {
		return nil
	}
	if hasRange && req.Start == nil {
		return ingest.NewInvalidTimeRangeError("end requires start")
	}

	a, err := t.fields.lookup(t.def.Name, q.timeField(t, req))
	if err != nil {
		return err
	}

	if req.On != nil {
		on, err := SanitizeDate(req.On)
		if err != nil {
			return ingest.NewInvalidTimeRangeError("invalid on date").WithCause(err)
		}
		return pb.add(a, ingest.FilterEq, on)
	}

	end := req.End
	if end == nil {
		end = q.cfg.DefaultEnd
	}
	s, e, err := SanitizeDates(req.Start, end)
	if err != nil {
		return err
	}
	if err := pb.add(a, ingest.FilterGte, s); err != nil {
		return err
	}
	return pb.add(a, ingest.FilterLte, e)
}

func (q *QueryEngine) timeField(t *registeredTable, req *ingest.QueryRequest) string {
	if req.TimeField != "" {
		return req.TimeField
	}
	return t.def.EffectiveTimeField()
}

func (q *QueryEngine) projection(t *registeredTable, req *ingest.QueryRequest) ([]fieldAccessor, error) {
	names := req.Columns
	if len(names) == 0 {
		names = t.def.ColumnNames()
	} else {
		names = append([]string(nil), names...)
		for _, idx := range req.Index {
			if !contains(names, idx) {
				names = append(names, idx)
			}
		}
	}
	return t.columns(names)
}

func (q *QueryEngine) orderBy(t *registeredTable, req *ingest.QueryRequest) (string, error) {
	if len(req.Order) == 0 {
		a, ok := t.fields[q.timeField(t, req)]
		if !ok {
			if req.TimeField != "" {
				return "", ingest.NewUnknownFieldError(t.def.Name, req.TimeField)
			}
			return "", nil
		}
		return " ORDER BY " + a.Column + " ASC", nil
	}

	parts := make([]string, 0, len(req.Order))
	for _, o := range req.Order {
		a, err := t.fields.lookup(t.def.Name, o.Field)
		if err != nil {
			return "", err
		}
		dir := "ASC"
		switch o.SortOrder {
		case "", ingest.SortOrderAsc:
		case ingest.SortOrderDesc:
			dir = "DESC"
		default:
			return "", ingest.NewValidationError(o.Field, fmt.Sprintf("unknown sort order %q", o.SortOrder))
		}
		parts = append(parts, a.Column+" "+dir)
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func (q *QueryEngine) materialize(rows *sql.Rows, t *registeredTable, projection []fieldAccessor, shape ingest.OutputShape, index []string) (*ingest.QueryResult, error) {
	names := make([]string, len(projection))
	for i, a := range projection {
		names[i] = a.Name
	}
	result := &ingest.QueryResult{Shape: shape}
	frame := ingest.NewFrame(names...)

	for rows.Next() {
		raw := make([]any, len(projection))
		ptrs := make([]any, len(projection))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, ingest.NewQueryExecutionError("scan row", err).WithTable(t.def.Name)
		}
		for i, a := range projection {
			raw[i] = a.load(raw[i])
		}

		switch shape {
		case ingest.ShapeDomain:
			e := ingest.NewEntity(t.def)
			for i, n := range names {
				if err := e.Set(n, raw[i]); err != nil {
					return nil, err
				}
			}
			result.Entities = append(result.Entities, e)
		case ingest.ShapeDict:
			rec := make(ingest.Record, len(names))
			for i, n := range names {
				rec[n] = raw[i]
			}
			result.Records = append(result.Records, rec)
		default:
			frame.Rows = append(frame.Rows, raw)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, ingest.NewQueryExecutionError("iterate rows", err).WithTable(t.def.Name)
	}

	if shape == ingest.ShapeTabular {
		if len(index) > 0 {
			if err := frame.SetIndex(index...); err != nil {
				return nil, err
			}
		}
		result.Frame = frame
	}
	return result, nil
}

func sanitizeFilterDates(v any) (any, error) {
	if list, ok := toAnySlice(v); ok {
		out := make([]any, len(list))
		for i, item := range list {
			d, err := SanitizeDate(item)
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil
	}
	return SanitizeDate(v)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
