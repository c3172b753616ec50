package internal

import (
	"context"
	"testing"
	"time"

	"github.com/lychee-technology/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSeededQueryEngine(t *testing.T) (*QueryEngine, *StorageRegistry) {
	t.Helper()
	reg := newKdataRegistry(t)
	seedBars(t, reg, 10, "AAPL", "MSFT")
	return NewQueryEngine(reg, ingest.DefaultConfig().Query), reg
}

func timestamps(t *testing.T, res *ingest.QueryResult) []time.Time {
	t.Helper()
	col, ok := res.Frame.Column("timestamp")
	require.True(t, ok)
	out := make([]time.Time, len(col))
	for i, v := range col {
		out[i] = v.(time.Time)
	}
	return out
}

func TestQueryTimeRange(t *testing.T) {
	q, _ := newSeededQueryEngine(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   ingest.QueryRequest
		count int
	}{
		{"inclusive bounds", ingest.QueryRequest{Code: "AAPL", Start: day(3), End: day(5)}, 3},
		{"string bounds", ingest.QueryRequest{Code: "AAPL", Start: "2024-01-03", End: "2024-01-05"}, 3},
		{"start equals end", ingest.QueryRequest{Code: "AAPL", Start: day(4), End: day(4)}, 1},
		{"open end", ingest.QueryRequest{Code: "AAPL", Start: day(8)}, 3},
		{"int year", ingest.QueryRequest{Start: 2024, End: 2025}, 20},
		{"int year after data", ingest.QueryRequest{Start: 2025}, 0},
		{"exact date", ingest.QueryRequest{On: day(4)}, 2},
		{"no time filter", ingest.QueryRequest{}, 20},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			req.Table = kdataTable
			res, err := q.Query(ctx, &req)
			require.NoError(t, err)
			assert.Equal(t, ingest.ShapeTabular, res.Shape)
			assert.Equal(t, tt.count, res.Len())
		})
	}

	res, err := q.Query(ctx, &ingest.QueryRequest{Table: kdataTable, Code: "AAPL", Start: day(3), End: day(5)})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day(3), day(4), day(5)}, timestamps(t, res))
}

func TestQueryRejectsBadRequests(t *testing.T) {
	q, _ := newSeededQueryEngine(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  ingest.QueryRequest
		code string
	}{
		{"start after end", ingest.QueryRequest{Start: day(5), End: day(3)}, ingest.ErrCodeInvalidTimeRange},
		{"range and on", ingest.QueryRequest{Start: day(1), On: day(2)}, ingest.ErrCodeInvalidTimeRange},
		{"end without start", ingest.QueryRequest{End: day(2)}, ingest.ErrCodeInvalidTimeRange},
		{"bad date", ingest.QueryRequest{Start: "yesterday"}, ingest.ErrCodeInvalidTimeRange},
		{"code and codes", ingest.QueryRequest{Code: "AAPL", Codes: []string{"MSFT"}}, ingest.ErrCodeInvalidFilter},
		{"unknown filter field", ingest.QueryRequest{Filters: []ingest.Filter{{Field: "turnover", Op: ingest.FilterEq, Value: 1}}}, ingest.ErrCodeUnknownField},
		{"unknown column", ingest.QueryRequest{Columns: []string{"turnover"}}, ingest.ErrCodeUnknownField},
		{"unknown order field", ingest.QueryRequest{Order: []ingest.OrderBy{{Field: "turnover"}}}, ingest.ErrCodeUnknownField},
		{"unknown time field", ingest.QueryRequest{TimeField: "date"}, ingest.ErrCodeUnknownField},
		{"bad operator", ingest.QueryRequest{Filters: []ingest.Filter{{Field: "close", Op: "between", Value: 1}}}, ingest.ErrCodeInvalidFilter},
		{"in needs list", ingest.QueryRequest{Filters: []ingest.Filter{{Field: "close", Op: ingest.FilterIn, Value: 1}}}, ingest.ErrCodeInvalidFilter},
		{"gt needs scalar", ingest.QueryRequest{Filters: []ingest.Filter{{Field: "close", Op: ingest.FilterGt, Value: []int{1}}}}, ingest.ErrCodeInvalidFilter},
		{"bad value", ingest.QueryRequest{Filters: []ingest.Filter{{Field: "volume", Op: ingest.FilterEq, Value: "many"}}}, ingest.ErrCodeConversionFailed},
		{"bad shape", ingest.QueryRequest{Shape: "xml"}, ingest.ErrCodeValidationFailed},
		{"bad sort order", ingest.QueryRequest{Order: []ingest.OrderBy{{Field: "close", SortOrder: "up"}}}, ingest.ErrCodeValidationFailed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			req.Table = kdataTable
			_, err := q.Query(ctx, &req)
			require.Error(t, err)
			assert.Equal(t, tt.code, ingest.ErrorCode(err))
		})
	}

	_, err := q.Query(ctx, &ingest.QueryRequest{Table: "eod_kdata_week"})
	assert.Equal(t, ingest.ErrCodeTableNotFound, ingest.ErrorCode(err))
	_, err = q.Query(ctx, &ingest.QueryRequest{})
	assert.True(t, ingest.IsValidationError(err))
}

func TestQueryFilters(t *testing.T) {
	q, _ := newSeededQueryEngine(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   ingest.QueryRequest
		count int
	}{
		{"codes", ingest.QueryRequest{Codes: []string{"AAPL", "MSFT"}}, 20},
		{"single code", ingest.QueryRequest{Code: "MSFT"}, 10},
		{"exchange match", ingest.QueryRequest{Exchanges: []string{"US"}}, 20},
		{"exchange miss", ingest.QueryRequest{Exchanges: []string{"HK"}}, 0},
		{"gt", ingest.QueryRequest{Filters: []ingest.Filter{{Field: "close", Op: ingest.FilterGt, Value: 8}}}, 4},
		{"lte", ingest.QueryRequest{Filters: []ingest.Filter{{Field: "close", Op: ingest.FilterLte, Value: 2}}}, 4},
		{"ne", ingest.QueryRequest{Filters: []ingest.Filter{{Field: "code", Op: ingest.FilterNe, Value: "AAPL"}}}, 10},
		{"like", ingest.QueryRequest{Filters: []ingest.Filter{{Field: "code", Op: ingest.FilterLike, Value: "MS%"}}}, 10},
		{"in ids", ingest.QueryRequest{Filters: []ingest.Filter{{Field: "id", Op: ingest.FilterIn, Value: []string{"AAPL-01", "MSFT-02"}}}}, 2},
		{"empty in", ingest.QueryRequest{Filters: []ingest.Filter{{Field: "id", Op: ingest.FilterIn, Value: []string{}}}}, 0},
		{"empty not in", ingest.QueryRequest{Filters: []ingest.Filter{{Field: "id", Op: ingest.FilterNotIn, Value: []string{}}}}, 20},
		{"is null", ingest.QueryRequest{Filters: []ingest.Filter{{Field: "change_pct", Op: ingest.FilterIsNull}}}, 20},
		{"not null", ingest.QueryRequest{Filters: []ingest.Filter{{Field: "change_pct", Op: ingest.FilterNotNull}}}, 0},
		{"timestamp filter", ingest.QueryRequest{Filters: []ingest.Filter{{Field: "timestamp", Op: ingest.FilterGte, Value: "2024-01-09"}}}, 4},
		{"combined", ingest.QueryRequest{Code: "AAPL", Start: day(2), End: day(9),
			Filters: []ingest.Filter{{Field: "volume", Op: ingest.FilterGte, Value: 5000}}}, 5},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			req.Table = kdataTable
			res, err := q.Query(ctx, &req)
			require.NoError(t, err)
			assert.Equal(t, tt.count, res.Len())
		})
	}
}

func TestQueryOrderAndLimit(t *testing.T) {
	q, _ := newSeededQueryEngine(t)
	res, err := q.Query(context.Background(), &ingest.QueryRequest{
		Table:   kdataTable,
		Code:    "AAPL",
		Order:   []ingest.OrderBy{{Field: "close", SortOrder: ingest.SortOrderDesc}},
		Limit:   3,
		Columns: []string{"close"},
	})
	require.NoError(t, err)
	closes, ok := res.Frame.Column("close")
	require.True(t, ok)
	assert.Equal(t, []any{10.0, 9.0, 8.0}, closes)
}

func TestQueryMaxRowsCapsLimit(t *testing.T) {
	reg := newKdataRegistry(t)
	seedBars(t, reg, 10, "AAPL")
	q := NewQueryEngine(reg, ingest.QueryConfig{MaxRows: 4})

	res, err := q.Query(context.Background(), &ingest.QueryRequest{Table: kdataTable})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Len())

	res, err = q.Query(context.Background(), &ingest.QueryRequest{Table: kdataTable, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Len())
}

func TestQueryProjectionAddsIndexColumns(t *testing.T) {
	q, _ := newSeededQueryEngine(t)
	res, err := q.Query(context.Background(), &ingest.QueryRequest{
		Table:   kdataTable,
		Code:    "MSFT",
		Columns: []string{"close"},
		Index:   []string{"timestamp"},
		Order:   []ingest.OrderBy{{Field: "close", SortOrder: ingest.SortOrderDesc}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"close", "timestamp"}, res.Frame.Columns)
	assert.Equal(t, []string{"timestamp"}, res.Frame.Index)
	ts := timestamps(t, res)
	require.Len(t, ts, 10)
	assert.Equal(t, day(1), ts[0])
	assert.Equal(t, day(10), ts[9])
}

func TestQueryShapes(t *testing.T) {
	q, _ := newSeededQueryEngine(t)
	ctx := context.Background()
	base := ingest.QueryRequest{Table: kdataTable, Code: "AAPL", On: day(2)}

	tab := base
	res, err := q.Query(ctx, &tab)
	require.NoError(t, err)
	require.Equal(t, 1, res.Len())
	rec := res.Frame.Records()[0]
	assert.Equal(t, "AAPL-02", rec["id"])
	assert.Equal(t, day(2), rec["timestamp"])
	assert.Equal(t, int64(2000), rec["volume"])
	assert.Nil(t, rec["adjusted"])

	dom := base
	dom.Shape = ingest.ShapeDomain
	res, err = q.Query(ctx, &dom)
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)
	e := res.Entities[0]
	assert.Equal(t, "AAPL-02", e.ID())
	assert.Equal(t, kdataTable, e.Table())
	v, ok := e.Get("close")
	require.True(t, ok)
	assert.Equal(t, 2.0, v)

	dict := base
	dict.Shape = ingest.ShapeDict
	dict.Columns = []string{"code", "close"}
	res, err = q.Query(ctx, &dict)
	require.NoError(t, err)
	assert.Equal(t, []ingest.Record{{"code": "AAPL", "close": 2.0}}, res.Records)
	assert.Nil(t, res.Frame)
}

func TestDeleteRemovesMatchingRows(t *testing.T) {
	q, _ := newSeededQueryEngine(t)
	ctx := context.Background()

	require.NoError(t, q.Delete(ctx, &ingest.QueryRequest{Table: kdataTable, Code: "AAPL", Start: day(1), End: day(5)}))

	res, err := q.Query(ctx, &ingest.QueryRequest{Table: kdataTable, Code: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Len())
	assert.Equal(t, day(6), timestamps(t, res)[0])

	res, err = q.Query(ctx, &ingest.QueryRequest{Table: kdataTable, Code: "MSFT"})
	require.NoError(t, err)
	assert.Equal(t, 10, res.Len())

	err = q.Delete(ctx, &ingest.QueryRequest{Table: kdataTable, Start: day(5), End: day(1)})
	assert.Equal(t, ingest.ErrCodeInvalidTimeRange, ingest.ErrorCode(err))

	require.NoError(t, q.Delete(ctx, &ingest.QueryRequest{Table: kdataTable}))
	res, err = q.Query(ctx, &ingest.QueryRequest{Table: kdataTable})
	require.NoError(t, err)
	assert.Zero(t, res.Len())
}

func TestPredicateBuilderPostgresPlaceholders(t *testing.T) {
	def, err := kdataDefinition().Normalize()
	require.NoError(t, err)
	tbl := newRegisteredTable(def)

	pb := newPredicateBuilder(postgresDialect{})
	require.NoError(t, pb.add(tbl.fields["code"], ingest.FilterIn, []string{"AAPL", "MSFT"}))
	require.NoError(t, pb.add(tbl.fields["close"], ingest.FilterGte, 1))
	require.NoError(t, pb.add(tbl.fields["adjusted"], ingest.FilterIsNull, nil))

	assert.Equal(t, ` WHERE "code" IN ($1, $2) AND "close" >= $3 AND "adjusted" IS NULL`, pb.where())
	assert.Equal(t, []any{"AAPL", "MSFT", 1.0}, pb.args)
	assert.Equal(t, "$3, $4", inList(postgresDialect{}, 2, 2))
	assert.Equal(t, "", newPredicateBuilder(sqliteDialect{}).where())
}
