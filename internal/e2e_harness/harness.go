package e2e_harness

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/lychee-technology/ingest"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	s3AccessKey = "minio"
	s3SecretKey = "minio"
)

// TestHarness holds lightweight runners for dependencies used by E2E tests.
type TestHarness struct {
	PGContainer testcontainers.Container
	PGDSN       string
	PGDB        *sql.DB
	S3Container testcontainers.Container
	S3Endpoint  string
}

// StartPostgres starts a postgres container and returns a DSN.
// It waits until Postgres is reachable. Caller is responsible for calling StopPostgres.
func (h *TestHarness) StartPostgres(ctx context.Context) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_DB":       "market",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", err
	}
	h.PGContainer = container

	host, err := container.Host(ctx)
	if err != nil {
		return "", err
	}
	mapped, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return "", err
	}
	dsn := fmt.Sprintf("postgres://postgres:password@%s:%s/market?sslmode=disable", host, mapped.Port())
	h.PGDSN = dsn

	// The verification handle goes through lib/pq so assertions do not share
	// the pgx pool under test.
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return "", err
	}
	deadline := time.Now().Add(20 * time.Second)
	for {
		if err := db.PingContext(ctx); err == nil {
			h.PGDB = db
			return dsn, nil
		}
		if time.Now().After(deadline) {
			db.Close()
			return "", fmt.Errorf("postgres did not become ready: %w", err)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// StopPostgres stops the Postgres container and closes DB handle.
func (h *TestHarness) StopPostgres(ctx context.Context) error {
	if h.PGDB != nil {
		h.PGDB.Close()
		h.PGDB = nil
	}
	if h.PGContainer != nil {
		if err := h.PGContainer.Terminate(ctx); err != nil {
			return err
		}
		h.PGContainer = nil
	}
	return nil
}

// StartS3 starts an S3-compatible container and returns its endpoint.
func (h *TestHarness) StartS3(ctx context.Context) (string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "rustfs/rustfs:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"RUSTFS_ACCESS_KEY": s3AccessKey,
			"RUSTFS_SECRET_KEY": s3SecretKey,
		},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", err
	}
	h.S3Container = container
	host, err := container.Host(ctx)
	if err != nil {
		return "", err
	}
	mapped, err := container.MappedPort(ctx, "9000")
	if err != nil {
		return "", err
	}
	h.S3Endpoint = fmt.Sprintf("http://%s:%s", host, mapped.Port())
	return h.S3Endpoint, nil
}

// StopS3 stops the S3 container.
func (h *TestHarness) StopS3(ctx context.Context) error {
	if h.S3Container != nil {
		if err := h.S3Container.Terminate(ctx); err != nil {
			return err
		}
		h.S3Container = nil
	}
	return nil
}

// PostgresConfig returns an ingestion config whose stores live in the
// harness Postgres.
func (h *TestHarness) PostgresConfig() *ingest.Config {
	cfg := ingest.DefaultConfig()
	cfg.Storage.Dialect = ingest.DialectPostgres
	cfg.Storage.MaxOpenConns = 4
	cfg.Storage.Postgres.DSN = h.PGDSN
	return cfg
}

// ArchiveConfig returns archive settings pointing at the harness S3 endpoint.
func (h *TestHarness) ArchiveConfig(bucket string) ingest.ArchiveConfig {
	return ingest.ArchiveConfig{
		Enabled:      true,
		Bucket:       bucket,
		Prefix:       "stores",
		Region:       "us-east-1",
		Endpoint:     h.S3Endpoint,
		UsePathStyle: true,
	}
}
