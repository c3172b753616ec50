package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage dialects
const (
	DialectSQLite   = "sqlite"
	DialectDuckDB   = "duckdb"
	DialectPostgres = "postgres"
)

// Config consolidates settings for every ingestion component
type Config struct {
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Fetch    FetchConfig    `json:"fetch" yaml:"fetch"`
	Upsert   UpsertConfig   `json:"upsert" yaml:"upsert"`
	Query    QueryConfig    `json:"query" yaml:"query"`
	Worker   WorkerConfig   `json:"worker" yaml:"worker"`
	Provider ProviderConfig `json:"provider" yaml:"provider"`
	Archive  ArchiveConfig  `json:"archive" yaml:"archive"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
}

// StorageConfig contains per-provider store settings
type StorageConfig struct {
	Dialect         string         `json:"dialect" yaml:"dialect"`
	DataDir         string         `json:"dataDir" yaml:"dataDir"`
	DefinitionsDir  string         `json:"definitionsDir" yaml:"definitionsDir"`
	BusyTimeout     time.Duration  `json:"busyTimeout" yaml:"busyTimeout"`
	PingTimeout     time.Duration  `json:"pingTimeout" yaml:"pingTimeout"`
	MaxOpenConns    int            `json:"maxOpenConns" yaml:"maxOpenConns"`
	ConnMaxLifetime time.Duration  `json:"connMaxLifetime" yaml:"connMaxLifetime"`
	Postgres        PostgresConfig `json:"postgres" yaml:"postgres"`
}

// PostgresConfig contains settings for the postgres dialect
type PostgresConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Database string `json:"database" yaml:"database"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	SSLMode  string `json:"sslMode" yaml:"sslMode"`
	UseIAM   bool   `json:"useIAM" yaml:"useIAM"`
	Region   string `json:"region" yaml:"region"`
}

// FetchConfig contains HTTP fetch and retry settings
type FetchConfig struct {
	BaseURL        string        `json:"baseURL" yaml:"baseURL"`
	MaxAttempts    int           `json:"maxAttempts" yaml:"maxAttempts"`
	WaitInterval   time.Duration `json:"waitInterval" yaml:"waitInterval"`
	ConnectTimeout time.Duration `json:"connectTimeout" yaml:"connectTimeout"`
	ReadTimeout    time.Duration `json:"readTimeout" yaml:"readTimeout"`
	Proxy          string        `json:"proxy" yaml:"proxy"`
	UserAgent      string        `json:"userAgent" yaml:"userAgent"`
	Concurrency    int           `json:"concurrency" yaml:"concurrency"`
}

// UpsertConfig contains persistence settings
type UpsertConfig struct {
	ChunkSize      int  `json:"chunkSize" yaml:"chunkSize"`
	DropDuplicates bool `json:"dropDuplicates" yaml:"dropDuplicates"`
}

// QueryConfig contains query execution settings
type QueryConfig struct {
	DefaultTimeout time.Duration `json:"defaultTimeout" yaml:"defaultTimeout"`
	DefaultEnd     string        `json:"defaultEnd" yaml:"defaultEnd"`
	MaxRows        int           `json:"maxRows" yaml:"maxRows"`
}

// WorkerConfig contains bulk scheduling settings
type WorkerConfig struct {
	PoolSize  int `json:"poolSize" yaml:"poolSize"`
	Producers int `json:"producers" yaml:"producers"`
	Consumers int `json:"consumers" yaml:"consumers"`
	QueueSize int `json:"queueSize" yaml:"queueSize"`

	BreakerThreshold int           `json:"breakerThreshold" yaml:"breakerThreshold"`
	BreakerWindow    time.Duration `json:"breakerWindow" yaml:"breakerWindow"`
	BreakerOpenFor   time.Duration `json:"breakerOpenFor" yaml:"breakerOpenFor"`
}

// ProviderConfig contains upstream provider credentials and defaults
type ProviderConfig struct {
	Name            string        `json:"name" yaml:"name"`
	APIKey          string        `json:"apiKey" yaml:"apiKey"`
	APIKeyParam     string        `json:"apiKeyParam" yaml:"apiKeyParam"`
	DefaultInterval time.Duration `json:"defaultInterval" yaml:"defaultInterval"`
	ExpireAfter     time.Duration `json:"expireAfter" yaml:"expireAfter"`
}

// ArchiveConfig contains S3 archival settings
type ArchiveConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Bucket       string `json:"bucket" yaml:"bucket"`
	Prefix       string `json:"prefix" yaml:"prefix"`
	Region       string `json:"region" yaml:"region"`
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	UsePathStyle bool   `json:"usePathStyle" yaml:"usePathStyle"`
	PartSize     int64  `json:"partSize" yaml:"partSize"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level    string `json:"level" yaml:"level"`
	Encoding string `json:"encoding" yaml:"encoding"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	dataDir := "data"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, "ingest", "data")
	}
	return &Config{
		Storage: StorageConfig{
			Dialect:      DialectSQLite,
			DataDir:      dataDir,
			BusyTimeout:  5 * time.Second,
			PingTimeout:  5 * time.Second,
			MaxOpenConns: 1,
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "postgres",
				Username: "postgres",
				SSLMode:  "disable",
			},
		},
		Fetch: FetchConfig{
			BaseURL:        "https://eodhistoricaldata.com/api",
			MaxAttempts:    3,
			WaitInterval:   5 * time.Second,
			ConnectTimeout: 300 * time.Millisecond,
			ReadTimeout:    300 * time.Millisecond,
			UserAgent:      "ingest/1.0",
			Concurrency:    4,
		},
		Upsert: UpsertConfig{
			ChunkSize: DefaultChunkSize,
		},
		Query: QueryConfig{
			DefaultTimeout: 30 * time.Second,
			DefaultEnd:     "2050-01-01",
		},
		Worker: WorkerConfig{
			PoolSize:         4,
			Producers:        1,
			Consumers:        5,
			QueueSize:        64,
			BreakerThreshold: 5,
			BreakerWindow:    time.Minute,
			BreakerOpenFor:   5 * time.Minute,
		},
		Provider: ProviderConfig{
			Name:            "eod",
			APIKeyParam:     "api_token",
			DefaultInterval: 300 * time.Second,
			ExpireAfter:     24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// LoadConfig reads a YAML (.yaml/.yml) or JSON file on top of DefaultConfig,
// applies environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment when the variables are set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("INGEST_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("INGEST_POSTGRES_DSN"); v != "" {
		c.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("INGEST_PROXY"); v != "" {
		c.Fetch.Proxy = v
	}
	if v := os.Getenv("EOD_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Storage.Dialect {
	case DialectSQLite, DialectDuckDB:
		if c.Storage.DataDir == "" {
			return &ConfigError{Field: "storage.dataDir", Message: "is required for file-backed dialects"}
		}
	case DialectPostgres:
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.Host == "" {
			return &ConfigError{Field: "storage.postgres", Message: "dsn or host is required"}
		}
	default:
		return &ConfigError{Field: "storage.dialect", Message: "must be one of sqlite, duckdb, postgres"}
	}

	if c.Storage.MaxOpenConns < 0 {
		return &ConfigError{Field: "storage.maxOpenConns", Message: "must be greater than or equal to 0"}
	}

	if c.Fetch.MaxAttempts <= 0 {
		return &ConfigError{Field: "fetch.maxAttempts", Message: "must be greater than 0"}
	}

	if c.Fetch.WaitInterval < 0 {
		return &ConfigError{Field: "fetch.waitInterval", Message: "must not be negative"}
	}

	if c.Fetch.ConnectTimeout <= 0 || c.Fetch.ReadTimeout <= 0 {
		return &ConfigError{Field: "fetch.timeouts", Message: "connect and read timeouts must be greater than 0"}
	}

	if c.Upsert.ChunkSize <= 0 {
		return &ConfigError{Field: "upsert.chunkSize", Message: "must be greater than 0"}
	}

	if _, err := time.Parse("2006-01-02", c.Query.DefaultEnd); err != nil {
		return &ConfigError{Field: "query.defaultEnd", Message: "must be a YYYY-MM-DD date"}
	}

	if c.Worker.PoolSize <= 0 {
		return &ConfigError{Field: "worker.poolSize", Message: "must be greater than 0"}
	}

	if c.Worker.Producers <= 0 || c.Worker.Consumers <= 0 {
		return &ConfigError{Field: "worker", Message: "producers and consumers must be greater than 0"}
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return &ConfigError{Field: "archive.bucket", Message: "is required when archive is enabled"}
	}

	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}
