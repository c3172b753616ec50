package internal

import (
	"context"
	"errors"
	"fmt"

	"github.com/lychee-technology/ingest"
	"go.uber.org/zap"
)

type ingestor struct {
	registry  *StorageRegistry
	registrar *SchemaRegistrar
	upserts   *UpsertEngine
	queries   *QueryEngine
	config    *ingest.Config
}

// NewIngestor wires the registrar, upsert and query engines over one shared
// storage registry.
func NewIngestor(registry *StorageRegistry, config *ingest.Config) ingest.Ingestor {
	if config == nil {
		config = ingest.DefaultConfig()
	}
	return &ingestor{
		registry:  registry,
		registrar: NewSchemaRegistrar(registry),
		upserts:   NewUpsertEngine(registry, config.Upsert.ChunkSize),
		queries:   NewQueryEngine(registry, config.Query),
		config:    config,
	}
}

func (in *ingestor) Register(ctx context.Context, provider string, defs ...*ingest.TableDefinition) *ingest.RegistrationResult {
	return in.registrar.Register(ctx, provider, defs...)
}

func (in *ingestor) Unregister(ctx context.Context, defs ...*ingest.TableDefinition) error {
	return in.registry.Unregister(ctx, defs...)
}

func (in *ingestor) Definition(table string) (*ingest.TableDefinition, bool) {
	return in.registry.Definition(table)
}

func (in *ingestor) Save(ctx context.Context, table string, batch ingest.Batch, opts ingest.SaveOptions) (*ingest.SaveResult, error) {
	if !opts.DropDuplicates {
		opts.DropDuplicates = in.config.Upsert.DropDuplicates
	}
	return in.upserts.Save(ctx, table, batch, opts)
}

func (in *ingestor) Query(ctx context.Context, req *ingest.QueryRequest) (*ingest.QueryResult, error) {
	return in.queries.Query(ctx, req)
}

func (in *ingestor) Delete(ctx context.Context, req *ingest.QueryRequest) error {
	return in.queries.Delete(ctx, req)
}

// HealthCheck pings every open provider engine.
func (in *ingestor) HealthCheck(ctx context.Context) error {
	var errs []error
	for _, provider := range in.registry.Providers() {
		engine, err := in.registry.GetEngine(ctx, provider)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := engine.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("provider %s: %w", provider, err))
		}
	}
	return errors.Join(errs...)
}

// StorePaths maps each open provider to its store file.
func (in *ingestor) StorePaths() map[string]string {
	out := make(map[string]string)
	for _, provider := range in.registry.Providers() {
		if engine, err := in.registry.GetEngine(context.Background(), provider); err == nil && engine.Path() != "" {
			out[provider] = engine.Path()
		}
	}
	return out
}

func (in *ingestor) Close() error {
	err := in.registry.Close()
	if err != nil {
		zap.S().Warnw("ingestor close failed", "err", err)
	}
	return err
}
