package e2e_harness

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/lychee-technology/ingest"
)

// KdataTable is the daily bar table the E2E tests write.
const KdataTable = "eod_kdata_day"

// KdataDefinition declares the daily bar table.
func KdataDefinition() *ingest.TableDefinition {
	return &ingest.TableDefinition{
		Name: KdataTable,
		Columns: []ingest.ColumnDef{
			{Name: "code", Type: ingest.ColumnText},
			{Name: "exchange", Type: ingest.ColumnText},
			{Name: "timestamp", Type: ingest.ColumnTimestamp},
			{Name: "open", Type: ingest.ColumnReal},
			{Name: "close", Type: ingest.ColumnReal},
			{Name: "volume", Type: ingest.ColumnInteger},
		},
		Indexes: []ingest.IndexSpec{{Fields: []string{"code", "timestamp"}}},
	}
}

// KdataBatch returns one bar per trading day in January 2024 for each code.
func KdataBatch(days int, codes ...string) ingest.Batch {
	var out ingest.Batch
	for _, code := range codes {
		for d := 1; d <= days; d++ {
			out = append(out, ingest.Record{
				"id":        fmt.Sprintf("%s.US:2024-01-%02d", code, d),
				"code":      code,
				"exchange":  "US",
				"timestamp": time.Date(2024, time.January, d, 0, 0, 0, 0, time.UTC),
				"open":      float64(100 + d),
				"close":     float64(101 + d),
				"volume":    int64(1_000_000 + d),
			})
		}
	}
	return out
}

// CountRows counts table rows through db.
func CountRows(ctx context.Context, db *sql.DB, table string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %q", table)).Scan(&n)
	return n, err
}

// HeadObject reports the size of an object stored at endpoint.
func HeadObject(ctx context.Context, endpoint, bucket, key string) (int64, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(s3AccessKey, s3SecretKey, "")),
		config.WithBaseEndpoint(endpoint),
	)
	if err != nil {
		return 0, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) { o.UsePathStyle = true })
	out, err := client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return 0, err
	}
	return aws.ToInt64(out.ContentLength), nil
}
