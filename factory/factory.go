package factory

import (
	"context"
	"fmt"

	"github.com/lychee-technology/ingest"
	"github.com/lychee-technology/ingest/internal"
	"github.com/lychee-technology/ingest/internal/archive"
	"github.com/lychee-technology/ingest/internal/fetch"
	"go.uber.org/zap"
)

// NewIngestorWithConfig creates an Ingestor over one shared storage registry.
// This is the primary way for external projects to create an Ingestor instance.
//
// When config.Storage.DefinitionsDir is set, every definition found there is
// registered under its provider before the ingestor is returned. Registration
// failures are logged per table and do not fail construction.
//
// Usage:
//
//	import (
//	    "github.com/lychee-technology/ingest"
//	    "github.com/lychee-technology/ingest/factory"
//	)
//
//	config := ingest.DefaultConfig()
//	in, err := factory.NewIngestorWithConfig(ctx, config)
//	if err != nil {
//	    // handle error
//	}
//	defer in.Close()
func NewIngestorWithConfig(ctx context.Context, config *ingest.Config) (ingest.Ingestor, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	registry := internal.NewStorageRegistry(config.Storage)
	in := internal.NewIngestor(registry, config)

	if config.Storage.DefinitionsDir == "" {
		return in, nil
	}
	store, err := internal.LoadDefinitions(config.Storage.DefinitionsDir)
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("failed to load table definitions: %w", err)
	}
	for _, provider := range store.Providers() {
		res := in.Register(ctx, provider, store.ForProvider(provider)...)
		for _, t := range res.Tables {
			if t.Err != nil {
				zap.S().Warnw("table not registered", "provider", provider, "table", t.Table, "err", t.Err)
			}
		}
		zap.S().Infow("definitions registered", "provider", provider, "tables", len(res.Tables))
	}
	return in, nil
}

// NewFetchClient creates the retrying HTTP client for config's provider. The
// provider API key is appended to every request and every attempt is reported
// to the telemetry emitter.
func NewFetchClient(config *ingest.Config, opts ...fetch.Option) *fetch.Client {
	base := []fetch.Option{fetch.WithObserver(internal.EmitFetchAttempt)}
	if config.Provider.APIKey != "" {
		base = append(base, fetch.WithAPIKey(config.Provider.APIKeyParam, config.Provider.APIKey))
	}
	return fetch.NewClient(config.Fetch, append(base, opts...)...)
}

// NewRecorder wires a fetcher and an ingestor into a recorder using the
// worker breaker settings from config.
func NewRecorder(config *ingest.Config, fetcher internal.Fetcher, in ingest.Ingestor) *internal.Recorder {
	return internal.NewRecorder(fetcher, in, config.Worker)
}

// NewArchiver returns an S3 uploader for provider stores, or nil when
// archiving is disabled.
func NewArchiver(ctx context.Context, config *ingest.Config) (*archive.Uploader, error) {
	if !config.Archive.Enabled {
		return nil, nil
	}
	return archive.NewUploader(ctx, config.Archive)
}
