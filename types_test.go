package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTableName(t *testing.T) {
	tests := []struct {
		name     string
		table    string
		provider string
		rest     string
		wantErr  bool
	}{
		{name: "three parts", table: "eod_kdata_day", provider: "eod", rest: "kdata_day"},
		{name: "two parts", table: "eod_quotes", provider: "eod", rest: "quotes"},
		{name: "no underscore", table: "eod", wantErr: true},
		{name: "leading underscore", table: "_kdata", wantErr: true},
		{name: "trailing underscore", table: "eod_", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			provider, rest, err := ParseTableName(tt.table)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, ErrCodeInvalidTableName, ErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.provider, provider)
			assert.Equal(t, tt.rest, rest)
		})
	}
}

func TestIndexSpecName(t *testing.T) {
	spec := IndexSpec{Fields: []string{"code", "timestamp"}}
	assert.Equal(t, "eod_kdata_day_code_timestamp_index", spec.Name("eod_kdata_day"))
}

func TestTableDefinitionNormalize(t *testing.T) {
	def := &TableDefinition{
		Name: "eod_kdata_day",
		Columns: []ColumnDef{
			{Name: "code", Type: ColumnText},
			{Name: "timestamp", Type: ColumnTimestamp},
		},
		Indexes: []IndexSpec{{Fields: []string{"code"}}},
	}

	norm, err := def.Normalize()
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "code", "timestamp"}, norm.ColumnNames())
	assert.Equal(t, DefaultTimeField, norm.TimeField)
	assert.Len(t, norm.Indexes, 1)
	// the source definition is left untouched
	assert.Len(t, def.Columns, 2)

	provider, err := norm.Provider()
	require.NoError(t, err)
	assert.Equal(t, "eod", provider)
}

func TestTableDefinitionNormalize_Errors(t *testing.T) {
	tests := []struct {
		name string
		def  *TableDefinition
	}{
		{name: "nil", def: nil},
		{name: "bad name", def: &TableDefinition{Name: "kdata"}},
		{name: "duplicate column", def: &TableDefinition{Name: "eod_x", Columns: []ColumnDef{
			{Name: "a", Type: ColumnText}, {Name: "a", Type: ColumnReal},
		}}},
		{name: "unknown type", def: &TableDefinition{Name: "eod_x", Columns: []ColumnDef{{Name: "a", Type: "blob"}}}},
		{name: "numeric id", def: &TableDefinition{Name: "eod_x", Columns: []ColumnDef{{Name: "id", Type: ColumnInteger}}}},
		{name: "empty index", def: &TableDefinition{Name: "eod_x", Indexes: []IndexSpec{{}}}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.def.Normalize()
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestIDString(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
		ok   bool
	}{
		{name: "string", in: "AAPL.US-2024-01-02", want: "AAPL.US-2024-01-02", ok: true},
		{name: "int", in: 42, want: "42", ok: true},
		{name: "int64", in: int64(7), want: "7", ok: true},
		{name: "integral float", in: float64(3), want: "3", ok: true},
		{name: "json number", in: json.Number("12"), want: "12", ok: true},
		{name: "empty string", in: "", ok: false},
		{name: "nil", in: nil, ok: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, ok := IDString(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestCoerceValue(t *testing.T) {
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		typ     ColumnType
		in      any
		want    any
		wantErr bool
	}{
		{name: "text from number", typ: ColumnText, in: json.Number("1.5"), want: "1.5"},
		{name: "integer from string", typ: ColumnInteger, in: "42", want: int64(42)},
		{name: "integer from integral float", typ: ColumnInteger, in: 7.0, want: int64(7)},
		{name: "integer rejects fraction", typ: ColumnInteger, in: 7.5, wantErr: true},
		{name: "real from json number", typ: ColumnReal, in: json.Number("0.12"), want: 0.12},
		{name: "real from int", typ: ColumnReal, in: 3, want: 3.0},
		{name: "boolean from string", typ: ColumnBoolean, in: "true", want: true},
		{name: "boolean from int", typ: ColumnBoolean, in: int64(0), want: false},
		{name: "timestamp from string", typ: ColumnTimestamp, in: "2024-01-02", want: day},
		{name: "timestamp keeps time", typ: ColumnTimestamp, in: day, want: day},
		{name: "empty string is nil", typ: ColumnReal, in: " ", want: nil},
		{name: "nil stays nil", typ: ColumnInteger, in: nil, want: nil},
		{name: "bad timestamp", typ: ColumnTimestamp, in: "yesterday", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := CoerceValue(tt.typ, tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)
	for _, s := range []string{
		"2024-03-05T10:30:00Z",
		"2024-03-05 10:30:00",
		"2024-03-05T12:30:00+02:00",
		"2024-03-05 10:30",
	} {
		got, err := ParseTime(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), s)
		assert.Equal(t, time.UTC, got.Location())
	}

	_, err := ParseTime("03/05/2024 10:30", "2006-01-02")
	assert.Error(t, err)
}

func TestCompareValues(t *testing.T) {
	early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, -1, CompareValues(nil, 1))
	assert.Equal(t, 1, CompareValues(int64(2), 1.5))
	assert.Equal(t, 0, CompareValues(json.Number("3"), 3))
	assert.Equal(t, -1, CompareValues(early, early.Add(time.Hour)))
	assert.Equal(t, -1, CompareValues("AAPL", "MSFT"))
	assert.Equal(t, -1, CompareValues(false, true))
}

func TestFrameSetIndex(t *testing.T) {
	f := NewFrame("code", "timestamp", "close")
	d1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)
	require.NoError(t, f.Append([]any{"MSFT", d2, 2.0}))
	require.NoError(t, f.Append([]any{"AAPL", d2, 1.0}))
	require.NoError(t, f.Append([]any{"AAPL", d1, 3.0}))
	assert.Error(t, f.Append([]any{"short"}))

	require.NoError(t, f.SetIndex("code", "timestamp"))
	assert.Equal(t, []string{"code", "timestamp"}, f.Index)

	closes, ok := f.Column("close")
	require.True(t, ok)
	assert.Equal(t, []any{3.0, 1.0, 2.0}, closes)

	err := f.SetIndex("volume")
	assert.True(t, IsValidationError(err))

	records := f.Records()
	require.Len(t, records, 3)
	assert.Equal(t, "AAPL", records[0]["code"])
}

func TestEntity(t *testing.T) {
	def, err := (&TableDefinition{
		Name:    "eod_kdata_day",
		Columns: []ColumnDef{{Name: "close", Type: ColumnReal}},
	}).Normalize()
	require.NoError(t, err)

	e := NewEntity(def)
	require.NoError(t, e.Set("id", "AAPL-1"))
	require.NoError(t, e.Set("close", 1.5))

	err = e.Set("volume", 10)
	assert.Equal(t, ErrCodeUnknownField, ErrorCode(err))

	assert.Equal(t, "AAPL-1", e.ID())
	assert.Equal(t, "eod_kdata_day", e.Table())
	assert.Equal(t, []string{"id", "close"}, e.Fields())
	v, ok := e.Get("close")
	assert.True(t, ok)
	assert.Equal(t, 1.5, v)
	assert.Equal(t, Record{"id": "AAPL-1", "close": 1.5}, e.Record())
}

func TestIngestError(t *testing.T) {
	err := NewUnknownFieldError("eod_kdata_day", "volume")
	assert.Equal(t, "[validation:UNKNOWN_FIELD] table eod_kdata_day field 'volume': unknown field", err.Error())

	wrapped := fmt.Errorf("query: %w", NewNoMatchingColumnsError("eod_kdata_day"))
	assert.True(t, errors.Is(wrapped, ErrNoMatchingColumns))
	assert.True(t, IsValidationError(wrapped))
	assert.False(t, IsNotFoundError(wrapped))

	storage := NewStorageError(ErrCodeChunkFailed, "chunk 2 failed", errors.New("disk full")).
		WithTable("eod_kdata_day").
		WithDetail("chunk", 2)
	assert.True(t, IsStorageError(storage))
	assert.Equal(t, 2, storage.Details["chunk"])
	assert.Contains(t, storage.Error(), "disk full")
}

func TestRegistrationResult(t *testing.T) {
	r := &RegistrationResult{Provider: "eod", Tables: []TableRegistration{{Table: "eod_a", Ready: true}}}
	assert.True(t, r.OK())

	r.Tables = append(r.Tables, TableRegistration{Table: "eod_b", Err: errors.New("boom")})
	assert.False(t, r.OK())
	assert.ErrorContains(t, r.Err(), "boom")
}
