package main

import (
	"testing"
	"time"

	"github.com/lychee-technology/ingest"
	"github.com/lychee-technology/ingest/internal/fetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSymbol(t *testing.T) {
	tests := []struct {
		in       string
		code     string
		exchange string
	}{
		{"AAPL.US", "AAPL", "US"},
		{"BRK.B.US", "BRK.B", "US"},
		{"600519.SHG", "600519", "SHG"},
		{"MSFT", "MSFT", "US"},
		{"MSFT.", "MSFT.", "US"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			code, exchange := splitSymbol(tt.in)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.exchange, exchange)
		})
	}
}

func TestParseSymbols(t *testing.T) {
	assert.Equal(t, []string{"AAPL.US", "MSFT.US", "VOD.LSE"},
		parseSymbols("aapl.us, MSFT.US\nvod.lse,,AAPL.US\n"))
	assert.Empty(t, parseSymbols(" ,\n"))
}

func TestKdataChainOverCSV(t *testing.T) {
	body := []byte("Date,Open,High,Low,Close,Adjusted_close,Volume\n" +
		"2024-01-02,187.15,188.44,183.89,185.64,184.94,82488700\n" +
		"2024-01-03,184.22,185.88,183.43,184.25,183.56,58414500\n")
	frame, err := fetch.TextFormat{}.Decode(body)
	require.NoError(t, err)

	out, err := kdataChain("AAPL.US").Transform(frame)
	require.NoError(t, err)
	batch, ok := out.(ingest.Batch)
	require.True(t, ok)
	require.Len(t, batch, 2)

	first := batch[0]
	assert.Equal(t, "AAPL", first["code"])
	assert.Equal(t, "US", first["exchange"])
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), first["timestamp"])
	assert.Equal(t, 185.64, first["close"])
	assert.Equal(t, int64(82488700), first["volume"])
	assert.Equal(t, -0.8068, first["change_pct"])
	assert.NotContains(t, first, "Date")

	id0, ok := first.ID()
	require.True(t, ok)
	id1, _ := batch[1].ID()
	assert.NotEqual(t, id0, id1)

	again, err := kdataChain("AAPL.US").Transform(mustDecode(t, body))
	require.NoError(t, err)
	idAgain, _ := again.(ingest.Batch)[0].ID()
	assert.Equal(t, id0, idAgain, "ids are stable across runs")
}

func TestKdataUnit(t *testing.T) {
	u := kdataUnit("AAPL.US", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), true)
	assert.Equal(t, kdataTable, u.Table)
	assert.Equal(t, "eod/AAPL.US", u.Request.URL)
	assert.Equal(t, "2024-01-02", u.Request.Params.Get("from"))
	assert.Equal(t, "csv", u.Request.Params.Get("fmt"))
	assert.True(t, u.Save.ForceUpdate)

	u = kdataUnit("AAPL.US", time.Time{}, false)
	assert.Empty(t, u.Request.Params.Get("from"))
}

func mustDecode(t *testing.T, body []byte) any {
	t.Helper()
	v, err := fetch.TextFormat{}.Decode(body)
	require.NoError(t, err)
	return v
}
