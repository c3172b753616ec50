package internal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/lychee-technology/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeDate(t *testing.T) {
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   any
		want time.Time
	}{
		{"time in other zone", want.In(time.FixedZone("CST", 8*3600)), want},
		{"pointer", &want, want},
		{"date string", "2024-03-01", want},
		{"compact string", "20240301", want},
		{"rfc3339", "2024-03-01T08:00:00+08:00", want},
		{"int year", 2024, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"int64 year", int64(1999), time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"json year", json.Number("2030"), time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeDate(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}

	for _, bad := range []any{"not a date", 3.5, nil, (*time.Time)(nil)} {
		_, err := SanitizeDate(bad)
		assert.Error(t, err, "%v", bad)
	}
}

func TestSanitizeDates(t *testing.T) {
	s, e, err := SanitizeDates(2023, "2024-06-30")
	require.NoError(t, err)
	assert.Equal(t, 2023, s.Year())
	assert.Equal(t, time.June, e.Month())

	_, _, err = SanitizeDates("2024-06-30", "2024-06-30")
	assert.NoError(t, err)

	_, _, err = SanitizeDates(2025, 2024)
	assert.Equal(t, ingest.ErrCodeInvalidTimeRange, ingest.ErrorCode(err))

	_, _, err = SanitizeDates("bogus", 2024)
	assert.Equal(t, ingest.ErrCodeInvalidTimeRange, ingest.ErrorCode(err))
}

func TestLookbackStart(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 7, 30, 0, time.UTC)
	tests := []struct {
		name     string
		interval time.Duration
		bars     int
		want     time.Time
	}{
		{"five minute bars", 5 * time.Minute, 3, time.Date(2024, 3, 1, 9, 50, 0, 0, time.UTC)},
		{"default interval", 0, 1, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{"at least one bar", time.Hour, 0, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LookbackStart(now, tt.interval, tt.bars))
		})
	}
}
