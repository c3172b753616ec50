package internal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/lychee-technology/ingest"
	"go.uber.org/zap"
)

// Engine is the storage handle for one provider: a database/sql pool opened
// through the configured dialect.
type Engine struct {
	Provider string
	DB       *sql.DB
	dialect  Dialect
	path     string
}

// OpenEngine opens and pings the provider's store.
func OpenEngine(ctx context.Context, cfg ingest.StorageConfig, provider string) (*Engine, error) {
	dialect, err := NewDialect(cfg.Dialect)
	if err != nil {
		return nil, err
	}

	path := dialect.StorePath(cfg, provider)
	if path != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, ingest.NewConnectionError("create data dir", err).WithDetail("dir", cfg.DataDir)
		}
	}

	dsn, err := dialect.DSN(ctx, cfg, provider)
	if err != nil {
		return nil, ingest.NewConnectionError("build dsn", err).WithDetail("provider", provider)
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, ingest.NewConnectionError("open "+dialect.Name(), err).WithDetail("provider", provider)
	}
	dialect.Configure(db, cfg)

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, ingest.NewConnectionError("ping "+dialect.Name(), err).WithDetail("provider", provider)
	}

	zap.S().Debugw("storage engine opened", "provider", provider, "dialect", dialect.Name(), "path", path)
	return &Engine{Provider: provider, DB: db, dialect: dialect, path: path}, nil
}

// Dialect returns the engine's dialect.
func (e *Engine) Dialect() Dialect {
	return e.dialect
}

// Path returns the store file, or "" for server-backed dialects.
func (e *Engine) Path() string {
	return e.path
}

// Close closes the underlying DB.
func (e *Engine) Close() error {
	if e == nil || e.DB == nil {
		return nil
	}
	return e.DB.Close()
}

// HealthCheck performs a simple query to validate the connection.
func (e *Engine) HealthCheck(ctx context.Context) error {
	if e == nil || e.DB == nil {
		return fmt.Errorf("engine not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var v int
	if err := e.DB.QueryRowContext(ctx, "SELECT 1").Scan(&v); err != nil {
		return fmt.Errorf("%s health query failed: %w", e.dialect.Name(), err)
	}
	if v != 1 {
		return fmt.Errorf("unexpected %s health result: %d", e.dialect.Name(), v)
	}
	return nil
}

// Session binds one table to its provider engine.
type Session struct {
	Table  string
	engine *Engine
	closed atomic.Bool
}

func newSession(table string, engine *Engine) *Session {
	return &Session{Table: table, engine: engine}
}

// Engine returns the engine the session is bound to.
func (s *Session) Engine() *Engine {
	return s.engine
}

// DB returns the bound pool, failing once the session is closed.
func (s *Session) DB() (*sql.DB, error) {
	if s.closed.Load() {
		return nil, ingest.NewStorageError(ingest.ErrCodeSessionClosed, "session is closed", nil).WithTable(s.Table)
	}
	return s.engine.DB, nil
}

// BeginTx starts a transaction on the bound pool.
func (s *Session) BeginTx(ctx context.Context) (*sql.Tx, error) {
	db, err := s.DB()
	if err != nil {
		return nil, err
	}
	return db.BeginTx(ctx, nil)
}

// Close releases the session. The engine stays open for other tables.
func (s *Session) Close() error {
	s.closed.Store(true)
	return nil
}
