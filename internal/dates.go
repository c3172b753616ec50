package internal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lychee-technology/ingest"
)

// SanitizeDate converts a query bound to a UTC time. An int is a year and
// means January 1 of that year.
func SanitizeDate(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case *time.Time:
		if x == nil {
			return time.Time{}, fmt.Errorf("nil time")
		}
		return x.UTC(), nil
	case int:
		return yearStart(x), nil
	case int64:
		return yearStart(int(x)), nil
	case json.Number:
		y, err := x.Int64()
		if err != nil {
			return time.Time{}, err
		}
		return yearStart(int(y)), nil
	case string:
		return ingest.ParseTime(x)
	}
	return time.Time{}, fmt.Errorf("unsupported date type %T", v)
}

func yearStart(year int) time.Time {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// SanitizeDates normalizes a [start, end] range; start after end is rejected.
func SanitizeDates(start, end any) (time.Time, time.Time, error) {
	s, err := SanitizeDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, ingest.NewInvalidTimeRangeError("invalid start").WithCause(err)
	}
	e, err := SanitizeDate(end)
	if err != nil {
		return time.Time{}, time.Time{}, ingest.NewInvalidTimeRangeError("invalid end").WithCause(err)
	}
	if s.After(e) {
		return time.Time{}, time.Time{}, ingest.NewInvalidTimeRangeError(
			fmt.Sprintf("start %s is after end %s", s.Format(time.RFC3339), e.Format(time.RFC3339)))
	}
	return s, e, nil
}

// LookbackStart returns the start of a window of bars intervals ending at now,
// aligned down to the interval.
func LookbackStart(now time.Time, interval time.Duration, bars int) time.Time {
	if interval <= 0 {
		interval = 300 * time.Second
	}
	if bars < 1 {
		bars = 1
	}
	end := now.UTC().Truncate(interval)
	return end.Add(-time.Duration(bars) * interval)
}
