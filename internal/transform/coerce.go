package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/lychee-technology/ingest"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DateCoercer converts date fields to UTC time.Time. Strings are parsed with
// Layouts (ingest.DefaultDateLayouts when empty), integers are millisecond
// epochs and floats are second epochs.
type DateCoercer struct {
	Fields  []string
	Layouts []string
}

func (c DateCoercer) Transform(v any) (any, error) {
	return eachRecord(v, func(rec ingest.Record) (ingest.Record, error) {
		for _, f := range c.Fields {
			val, ok := rec[f]
			if !ok || val == nil {
				continue
			}
			t, err := c.coerce(val)
			if err != nil {
				return nil, ingest.NewConversionError(f, val, err)
			}
			rec[f] = t
		}
		return rec, nil
	})
}

func (c DateCoercer) coerce(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		return ingest.ParseTime(x, c.Layouts...)
	case int:
		return time.UnixMilli(int64(x)).UTC(), nil
	case int64:
		return time.UnixMilli(x).UTC(), nil
	case float64:
		return fromSeconds(x), nil
	case json.Number:
		if ms, err := x.Int64(); err == nil {
			return time.UnixMilli(ms).UTC(), nil
		}
		f, err := x.Float64()
		if err != nil {
			return time.Time{}, err
		}
		return fromSeconds(f), nil
	}
	return time.Time{}, fmt.Errorf("unsupported date type %T", v)
}

func fromSeconds(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

// TypeCoercer converts fields to their column types. A value that cannot be
// converted fails the stage.
type TypeCoercer struct {
	Types map[string]ingest.ColumnType
}

func (c TypeCoercer) Transform(v any) (any, error) {
	return eachRecord(v, func(rec ingest.Record) (ingest.Record, error) {
		for f, typ := range c.Types {
			val, ok := rec[f]
			if !ok {
				continue
			}
			out, err := ingest.CoerceValue(typ, val)
			if err != nil {
				zap.S().Debugw("type coercion failed", "field", f, "type", typ, "value", val)
				return nil, ingest.NewConversionError(f, val, err)
			}
			rec[f] = out
		}
		return rec, nil
	})
}

var hundred = decimal.NewFromInt(100)

// PercentNormalizer parses numeric strings such as "12%" or "1,234.5" into
// float64. A value carrying "%" is divided by 100. Non-string values are left
// as they are.
type PercentNormalizer struct {
	Fields []string
}

func (p PercentNormalizer) Transform(v any) (any, error) {
	return eachRecord(v, func(rec ingest.Record) (ingest.Record, error) {
		for _, f := range p.Fields {
			s, ok := rec[f].(string)
			if !ok {
				continue
			}
			out, err := ParsePercent(s)
			if err != nil {
				return nil, ingest.NewConversionError(f, s, err)
			}
			rec[f] = out
		}
		return rec, nil
	})
}

// ParsePercent parses s with decimal precision and returns it as float64.
// Blank input yields nil.
func ParsePercent(s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	pct := strings.Contains(s, "%")
	s = strings.NewReplacer("%", "", ",", "").Replace(s)
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if pct {
		d = d.Div(hundred)
	}
	f, _ := d.Float64()
	return f, nil
}
