package main

import (
	"net/url"
	"strings"
	"time"

	"github.com/lychee-technology/ingest"
	"github.com/lychee-technology/ingest/internal"
	"github.com/lychee-technology/ingest/internal/fetch"
	"github.com/lychee-technology/ingest/internal/transform"
	"github.com/shopspring/decimal"
)

const kdataTable = "eod_kdata_day"

// kdataDefinition declares the end-of-day bar table.
func kdataDefinition() *ingest.TableDefinition {
	return &ingest.TableDefinition{
		Name: kdataTable,
		Columns: []ingest.ColumnDef{
			{Name: "code", Type: ingest.ColumnText},
			{Name: "exchange", Type: ingest.ColumnText},
			{Name: "timestamp", Type: ingest.ColumnTimestamp},
			{Name: "open", Type: ingest.ColumnReal},
			{Name: "high", Type: ingest.ColumnReal},
			{Name: "low", Type: ingest.ColumnReal},
			{Name: "close", Type: ingest.ColumnReal},
			{Name: "adjusted_close", Type: ingest.ColumnReal},
			{Name: "volume", Type: ingest.ColumnInteger},
			{Name: "change_pct", Type: ingest.ColumnReal},
		},
		Indexes: []ingest.IndexSpec{
			{Fields: []string{"code", "timestamp"}},
			{Fields: []string{"exchange"}},
		},
	}
}

// splitSymbol turns "AAPL.US" into ("AAPL", "US"). A bare code defaults to US.
func splitSymbol(symbol string) (code, exchange string) {
	if i := strings.LastIndexByte(symbol, '.'); i > 0 && i < len(symbol)-1 {
		return symbol[:i], symbol[i+1:]
	}
	return symbol, "US"
}

// kdataChain turns one EOD CSV frame into storable bars for symbol.
func kdataChain(symbol string) ingest.Transformer {
	code, exchange := splitSymbol(symbol)
	return transform.NewChain(
		transform.ShapeNormalizer{},
		transform.KeyLowercaser{},
		transform.Renamer{Mapping: map[string]string{"date": "timestamp"}},
		transform.FieldInjector{Values: map[string]any{"code": code, "exchange": exchange}},
		transform.TypeCoercer{Types: map[string]ingest.ColumnType{
			"open":           ingest.ColumnReal,
			"high":           ingest.ColumnReal,
			"low":            ingest.ColumnReal,
			"close":          ingest.ColumnReal,
			"adjusted_close": ingest.ColumnReal,
			"volume":         ingest.ColumnInteger,
		}},
		ingest.TransformerFunc(withChangePct),
		transform.IDBuilder{Fields: []string{"code", "timestamp"}},
	)
}

var hundred = decimal.NewFromInt(100)

// withChangePct sets change_pct to the intraday move (close-open)/open in percent.
func withChangePct(v any) (any, error) {
	batch, ok := v.(ingest.Batch)
	if !ok {
		return v, nil
	}
	for _, rec := range batch {
		open, okOpen := rec["open"].(float64)
		closing, okClose := rec["close"].(float64)
		if !okOpen || !okClose || open == 0 {
			continue
		}
		o := decimal.NewFromFloat(open)
		pct, _ := decimal.NewFromFloat(closing).Sub(o).Div(o).Mul(hundred).Round(4).Float64()
		rec["change_pct"] = pct
	}
	return batch, nil
}

// kdataUnit builds the fetch/transform/save unit for one symbol since from.
func kdataUnit(symbol string, from time.Time, force bool) internal.Unit {
	params := url.Values{}
	params.Set("fmt", "csv")
	params.Set("period", "d")
	if !from.IsZero() {
		params.Set("from", from.Format("2006-01-02"))
	}
	return internal.Unit{
		Table: kdataTable,
		Request: fetch.Request{
			URL:     "eod/" + symbol,
			Params:  params,
			Options: []fetch.CallOption{fetch.WithFormat(fetch.TextFormat{})},
		},
		Chain: kdataChain(symbol),
		Save:  ingest.SaveOptions{ForceUpdate: force, DropDuplicates: true},
	}
}

// parseSymbols splits a comma or newline separated list and drops blanks and repeats.
func parseSymbols(raw string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '\n' || r == ' ' }) {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
