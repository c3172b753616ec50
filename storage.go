package ingest

import (
	"context"
)

// Ingestor is the storage-facing surface of the ingestion core
type Ingestor interface {
	// Schema lifecycle
	Register(ctx context.Context, provider string, defs ...*TableDefinition) *RegistrationResult
	Unregister(ctx context.Context, defs ...*TableDefinition) error
	Definition(table string) (*TableDefinition, bool)

	// Writes
	Save(ctx context.Context, table string, batch Batch, opts SaveOptions) (*SaveResult, error)

	// Reads and filtered deletes
	Query(ctx context.Context, req *QueryRequest) (*QueryResult, error)
	Delete(ctx context.Context, req *QueryRequest) error

	// Lifecycle
	HealthCheck(ctx context.Context) error
	StorePaths() map[string]string
	Close() error
}

// Transformer is one stage of the transformation pipeline. A stage receiving an
// absent or empty value returns nil without error.
type Transformer interface {
	Transform(v any) (any, error)
}

// TransformerFunc adapts a function to a Transformer.
type TransformerFunc func(v any) (any, error)

func (f TransformerFunc) Transform(v any) (any, error) {
	return f(v)
}
