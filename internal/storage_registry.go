package internal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lychee-technology/ingest"
	"go.uber.org/zap"
)

// StorageRegistry owns one engine per provider and one session per table. It is
// constructed once and passed to every component that touches storage.
type StorageRegistry struct {
	mu       sync.RWMutex
	cfg      ingest.StorageConfig
	engines  map[string]*Engine
	sessions map[string]*Session
	tables   map[string]*registeredTable
	logger   *zap.SugaredLogger
}

// NewStorageRegistry creates an empty registry for cfg.
func NewStorageRegistry(cfg ingest.StorageConfig) *StorageRegistry {
	return &StorageRegistry{
		cfg:      cfg,
		engines:  make(map[string]*Engine),
		sessions: make(map[string]*Session),
		tables:   make(map[string]*registeredTable),
		logger:   zap.S().Named("storage"),
	}
}

// SetLogger replaces the registry logger.
func (r *StorageRegistry) SetLogger(logger *zap.SugaredLogger) {
	if logger != nil {
		r.logger = logger
	}
}

// Config returns the storage settings the registry was built with.
func (r *StorageRegistry) Config() ingest.StorageConfig {
	return r.cfg
}

// GetEngine returns the provider's engine, opening it on first use.
func (r *StorageRegistry) GetEngine(ctx context.Context, provider string) (*Engine, error) {
	if provider == "" {
		return nil, ingest.NewValidationError("provider", "provider is required")
	}

	r.mu.RLock()
	engine, ok := r.engines[provider]
	r.mu.RUnlock()
	if ok {
		return engine, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if engine, ok := r.engines[provider]; ok {
		return engine, nil
	}
	engine, err := OpenEngine(ctx, r.cfg, provider)
	if err != nil {
		return nil, err
	}
	r.engines[provider] = engine
	r.logger.Infow("engine registered", "provider", provider, "path", engine.Path())
	return engine, nil
}

// GetSession returns the table's cached session. A new session bound to the
// provider engine is created and cached when forceNew is set or none exists.
func (r *StorageRegistry) GetSession(ctx context.Context, table string, forceNew bool) (*Session, error) {
	if !forceNew {
		r.mu.RLock()
		s, ok := r.sessions[table]
		r.mu.RUnlock()
		if ok {
			return s, nil
		}
	}

	provider, _, err := ingest.ParseTableName(table)
	if err != nil {
		return nil, err
	}
	engine, err := r.GetEngine(ctx, provider)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !forceNew {
		if s, ok := r.sessions[table]; ok {
			return s, nil
		}
	}
	s := newSession(table, engine)
	r.sessions[table] = s
	return s, nil
}

// bind records a normalized definition and its field accessors.
func (r *StorageRegistry) bind(def *ingest.TableDefinition) *registeredTable {
	t := newRegisteredTable(def)
	r.mu.Lock()
	r.tables[def.Name] = t
	r.mu.Unlock()
	return t
}

func (r *StorageRegistry) table(name string) (*registeredTable, error) {
	r.mu.RLock()
	t, ok := r.tables[name]
	r.mu.RUnlock()
	if !ok {
		return nil, ingest.NewTableNotFoundError(name)
	}
	return t, nil
}

// Definition returns the registered definition of a table.
func (r *StorageRegistry) Definition(name string) (*ingest.TableDefinition, bool) {
	t, err := r.table(name)
	if err != nil {
		return nil, false
	}
	return t.def, true
}

// Providers lists the providers with an open engine.
func (r *StorageRegistry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.engines))
	for p := range r.engines {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Unregister closes each table's session, drops its cache entries and drops
// the backing table.
func (r *StorageRegistry) Unregister(ctx context.Context, defs ...*ingest.TableDefinition) error {
	var errs []error
	for _, def := range defs {
		if def == nil {
			continue
		}
		provider, _, err := ingest.ParseTableName(def.Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		r.mu.Lock()
		if s, ok := r.sessions[def.Name]; ok {
			s.Close()
			delete(r.sessions, def.Name)
		}
		delete(r.tables, def.Name)
		r.mu.Unlock()

		engine, err := r.GetEngine(ctx, provider)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		stmt := fmt.Sprintf("DROP TABLE IF EXISTS %s", sanitizeIdentifier(def.Name))
		if _, err := engine.DB.ExecContext(ctx, stmt); err != nil {
			errs = append(errs, ingest.NewStorageError(ingest.ErrCodeRegistrationFailed, "drop table", err).WithTable(def.Name))
			continue
		}
		r.logger.Infow("table unregistered", "table", def.Name)
	}
	return errors.Join(errs...)
}

// Close closes every session and engine and empties the caches.
func (r *StorageRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, s := range r.sessions {
		s.Close()
		delete(r.sessions, name)
	}
	for provider, e := range r.engines {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close engine %s: %w", provider, err))
		}
		delete(r.engines, provider)
	}
	r.tables = make(map[string]*registeredTable)
	return errors.Join(errs...)
}
