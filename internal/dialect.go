package internal

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dsql/auth"
	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lychee-technology/ingest"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Dialect captures what differs between the supported stores.
type Dialect interface {
	Name() string
	DriverName() string
	// DSN returns the connection string for one provider's store.
	DSN(ctx context.Context, cfg ingest.StorageConfig, provider string) (string, error)
	// StorePath returns the provider's store file, or "" for server-backed stores.
	StorePath(cfg ingest.StorageConfig, provider string) string
	Placeholder(n int) string
	ColumnType(t ingest.ColumnType) string
	// ListIndexesSQL selects index names of the table bound to the first placeholder.
	ListIndexesSQL() string
	Configure(db *sql.DB, cfg ingest.StorageConfig)
}

// NewDialect returns the dialect registered under name.
func NewDialect(name string) (Dialect, error) {
	switch name {
	case "", ingest.DialectSQLite:
		return sqliteDialect{}, nil
	case ingest.DialectDuckDB:
		return duckdbDialect{}, nil
	case ingest.DialectPostgres:
		return postgresDialect{}, nil
	}
	return nil, ingest.NewUnsupportedDialectError(name)
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string       { return ingest.DialectSQLite }
func (sqliteDialect) DriverName() string { return "sqlite" }

func (d sqliteDialect) StorePath(cfg ingest.StorageConfig, provider string) string {
	return filepath.Join(cfg.DataDir, provider+".db")
}

func (d sqliteDialect) DSN(_ context.Context, cfg ingest.StorageConfig, provider string) (string, error) {
	q := url.Values{}
	q.Set("_time_format", "sqlite")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	return d.StorePath(cfg, provider) + "?" + q.Encode(), nil
}

func (sqliteDialect) Placeholder(int) string { return "?" }

func (sqliteDialect) ColumnType(t ingest.ColumnType) string {
	switch t {
	case ingest.ColumnInteger:
		return "INTEGER"
	case ingest.ColumnReal:
		return "REAL"
	case ingest.ColumnBoolean:
		return "BOOLEAN"
	case ingest.ColumnTimestamp:
		return "TIMESTAMP"
	}
	return "TEXT"
}

func (sqliteDialect) ListIndexesSQL() string {
	return "SELECT name FROM pragma_index_list(?)"
}

// SQLite stores are written through a single connection.
func (sqliteDialect) Configure(db *sql.DB, cfg ingest.StorageConfig) {
	db.SetMaxOpenConns(1)
}

type duckdbDialect struct{}

func (duckdbDialect) Name() string       { return ingest.DialectDuckDB }
func (duckdbDialect) DriverName() string { return "duckdb" }

func (duckdbDialect) StorePath(cfg ingest.StorageConfig, provider string) string {
	return filepath.Join(cfg.DataDir, provider+".db")
}

func (d duckdbDialect) DSN(_ context.Context, cfg ingest.StorageConfig, provider string) (string, error) {
	return d.StorePath(cfg, provider), nil
}

func (duckdbDialect) Placeholder(int) string { return "?" }

func (duckdbDialect) ColumnType(t ingest.ColumnType) string {
	switch t {
	case ingest.ColumnInteger:
		return "BIGINT"
	case ingest.ColumnReal:
		return "DOUBLE"
	case ingest.ColumnBoolean:
		return "BOOLEAN"
	case ingest.ColumnTimestamp:
		return "TIMESTAMP"
	}
	return "VARCHAR"
}

func (duckdbDialect) ListIndexesSQL() string {
	return "SELECT index_name FROM duckdb_indexes() WHERE table_name = ?"
}

func (duckdbDialect) Configure(db *sql.DB, cfg ingest.StorageConfig) {
	db.SetMaxOpenConns(1) // DuckDB typically uses a single connection
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
}

type postgresDialect struct{}

func (postgresDialect) Name() string       { return ingest.DialectPostgres }
func (postgresDialect) DriverName() string { return "pgx" }

func (postgresDialect) StorePath(ingest.StorageConfig, string) string { return "" }

// DSN returns the configured DSN, or builds one from the discrete settings. With
// UseIAM the password is replaced by a DSQL auth token.
func (postgresDialect) DSN(ctx context.Context, cfg ingest.StorageConfig, _ string) (string, error) {
	pg := cfg.Postgres
	if pg.DSN != "" && !pg.UseIAM {
		return pg.DSN, nil
	}

	password := pg.Password
	if pg.UseIAM {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return "", fmt.Errorf("load aws config: %w", err)
		}
		if pg.Region != "" {
			awsCfg.Region = pg.Region
		}
		endpoint := pg.Host + ":" + strconv.Itoa(pg.Port)
		token, err := auth.GenerateDbConnectAuthToken(ctx, endpoint, awsCfg.Region, awsCfg.Credentials)
		if err != nil || token == "" {
			zap.S().Warnw("failed to generate IAM auth token; falling back to configured password", "err", err)
		} else {
			password = token
		}
	}

	sslMode := pg.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		pg.Host, pg.Port, pg.Username, password, pg.Database, sslMode), nil
}

func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) ColumnType(t ingest.ColumnType) string {
	switch t {
	case ingest.ColumnInteger:
		return "BIGINT"
	case ingest.ColumnReal:
		return "DOUBLE PRECISION"
	case ingest.ColumnBoolean:
		return "BOOLEAN"
	case ingest.ColumnTimestamp:
		return "TIMESTAMPTZ"
	}
	return "TEXT"
}

func (postgresDialect) ListIndexesSQL() string {
	return "SELECT indexname FROM pg_indexes WHERE tablename = $1"
}

func (postgresDialect) Configure(db *sql.DB, cfg ingest.StorageConfig) {
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}
