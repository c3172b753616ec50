package internal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lychee-technology/ingest"
	"github.com/stretchr/testify/require"
)

const kdataTable = "eod_kdata_day"

func kdataDefinition() *ingest.TableDefinition {
	return &ingest.TableDefinition{
		Name: kdataTable,
		Columns: []ingest.ColumnDef{
			{Name: "code", Type: ingest.ColumnText},
			{Name: "exchange", Type: ingest.ColumnText},
			{Name: "timestamp", Type: ingest.ColumnTimestamp},
			{Name: "close", Type: ingest.ColumnReal},
			{Name: "volume", Type: ingest.ColumnInteger},
			{Name: "change_pct", Type: ingest.ColumnReal},
			{Name: "adjusted", Type: ingest.ColumnBoolean},
		},
		Indexes: []ingest.IndexSpec{
			{Fields: []string{"code", "timestamp"}},
			{Fields: []string{"exchange"}},
		},
	}
}

func testStorageConfig(t *testing.T) ingest.StorageConfig {
	t.Helper()
	cfg := ingest.DefaultConfig().Storage
	cfg.DataDir = t.TempDir()
	return cfg
}

func newTestRegistry(t *testing.T) *StorageRegistry {
	t.Helper()
	reg := NewStorageRegistry(testStorageConfig(t))
	t.Cleanup(func() { reg.Close() })
	return reg
}

// newKdataRegistry registers the kdata table and returns the registry.
func newKdataRegistry(t *testing.T) *StorageRegistry {
	t.Helper()
	reg := newTestRegistry(t)
	res := NewSchemaRegistrar(reg).Register(context.Background(), "eod", kdataDefinition())
	require.NoError(t, res.Err())
	return reg
}

func day(d int) time.Time {
	return time.Date(2024, time.January, d, 0, 0, 0, 0, time.UTC)
}

func bar(id string, code string, d int, close float64) ingest.Record {
	return ingest.Record{
		"id":        id,
		"code":      code,
		"exchange":  "US",
		"timestamp": day(d),
		"close":     close,
		"volume":    int64(1000 * d),
	}
}

// seedBars stores one bar per day in [1, days] for each code.
func seedBars(t *testing.T, reg *StorageRegistry, days int, codes ...string) {
	t.Helper()
	var batch ingest.Batch
	for _, code := range codes {
		for d := 1; d <= days; d++ {
			batch = append(batch, bar(fmt.Sprintf("%s-%02d", code, d), code, d, float64(d)))
		}
	}
	_, err := NewUpsertEngine(reg, 0).Save(context.Background(), kdataTable, batch, ingest.SaveOptions{})
	require.NoError(t, err)
}
