//go:build integration

package e2e_harness

import (
	"context"
	"testing"
	"time"

	"github.com/lychee-technology/ingest"
	"github.com/lychee-technology/ingest/internal"
	"github.com/lychee-technology/ingest/internal/archive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresIngestRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E harness in -short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	h := &TestHarness{}
	_, err := h.StartPostgres(ctx)
	require.NoError(t, err, "start postgres")
	defer h.StopPostgres(context.Background())

	cfg := h.PostgresConfig()
	in := internal.NewIngestor(internal.NewStorageRegistry(cfg.Storage), cfg)
	defer in.Close()

	res := in.Register(ctx, "eod", KdataDefinition())
	require.NoError(t, res.Err())
	assert.Len(t, res.Tables[0].IndexesCreated, 1)

	// Registering again creates nothing new.
	res = in.Register(ctx, "eod", KdataDefinition())
	require.NoError(t, res.Err())
	assert.Empty(t, res.Tables[0].IndexesCreated)

	saved, err := in.Save(ctx, KdataTable, KdataBatch(10, "AAPL", "MSFT"), ingest.SaveOptions{ChunkSize: 7})
	require.NoError(t, err)
	assert.Equal(t, 3, saved.Chunks)
	assert.Equal(t, 20, saved.Inserted)

	n, err := CountRows(ctx, h.PGDB, KdataTable)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	update := KdataBatch(2, "AAPL")
	update[0]["close"] = 999.0
	saved, err = in.Save(ctx, KdataTable, update, ingest.SaveOptions{ForceUpdate: true})
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Replaced)

	q, err := in.Query(ctx, &ingest.QueryRequest{
		Table: KdataTable,
		Code:  "AAPL",
		Start: "2024-01-01",
		End:   "2024-01-03",
		Shape: ingest.ShapeDict,
	})
	require.NoError(t, err)
	require.Len(t, q.Records, 3)
	assert.Equal(t, 999.0, q.Records[0]["close"])
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), q.Records[0]["timestamp"])

	require.NoError(t, in.Delete(ctx, &ingest.QueryRequest{Table: KdataTable, Codes: []string{"MSFT"}}))
	n, err = CountRows(ctx, h.PGDB, KdataTable)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	assert.NoError(t, in.HealthCheck(ctx))
	assert.Empty(t, in.StorePaths())
}

func TestArchiveStoreToS3(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E harness in -short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	h := &TestHarness{}
	_, err := h.StartS3(ctx)
	require.NoError(t, err, "start s3")
	defer h.StopS3(context.Background())

	cfg := ingest.DefaultConfig()
	cfg.Storage.DataDir = t.TempDir()
	in := internal.NewIngestor(internal.NewStorageRegistry(cfg.Storage), cfg)
	defer in.Close()
	require.NoError(t, in.Register(ctx, "eod", KdataDefinition()).Err())
	_, err = in.Save(ctx, KdataTable, KdataBatch(5, "AAPL"), ingest.SaveOptions{})
	require.NoError(t, err)

	t.Setenv("AWS_ACCESS_KEY_ID", s3AccessKey)
	t.Setenv("AWS_SECRET_ACCESS_KEY", s3SecretKey)
	up, err := archive.NewUploader(ctx, h.ArchiveConfig("market-stores"))
	require.NoError(t, err)
	require.NoError(t, up.EnsureBucket(ctx))

	results, err := up.UploadAll(ctx, in.StorePaths())
	require.NoError(t, err)
	require.Len(t, results, 1)

	size, err := HeadObject(ctx, h.S3Endpoint, "market-stores", results[0].Key)
	require.NoError(t, err)
	assert.Equal(t, results[0].Bytes, size)
}
