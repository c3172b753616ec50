package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/lychee-technology/ingest"
	"github.com/lychee-technology/ingest/internal"
)

func runInitDB(args []string, out io.Writer) error {
	flags := newFlagSet("init-db", "-definitions <dir> [options]", out)
	var opts storeOptions
	opts.bind(flags)
	defsDir := flags.String("definitions", getenvDefault("INGEST_DEFINITIONS_DIR", ""), "directory containing *.json table definitions")
	if ok, err := parseFlags(flags, args); !ok || err != nil {
		return err
	}

	cfg, err := opts.config()
	if err != nil {
		return err
	}
	if *defsDir == "" {
		*defsDir = cfg.Storage.DefinitionsDir
	}
	if *defsDir == "" {
		flags.Usage()
		return fmt.Errorf("-definitions is required")
	}
	return initDatabase(context.Background(), cfg, *defsDir, out)
}

// initDatabase registers every definition under dir and reports each table.
func initDatabase(ctx context.Context, cfg *ingest.Config, dir string, out io.Writer) error {
	store, err := internal.LoadDefinitions(dir)
	if err != nil {
		return fmt.Errorf("load definitions: %w", err)
	}

	in := internal.NewIngestor(internal.NewStorageRegistry(cfg.Storage), cfg)
	defer in.Close()

	var errs []error
	for _, provider := range store.Providers() {
		res := in.Register(ctx, provider, store.ForProvider(provider)...)
		for _, t := range res.Tables {
			switch {
			case t.Err != nil:
				fmt.Fprintf(out, "FAIL  %s: %v\n", t.Table, t.Err)
			case len(t.IndexesCreated) > 0:
				fmt.Fprintf(out, "OK    %s (created %v)\n", t.Table, t.IndexesCreated)
			default:
				fmt.Fprintf(out, "OK    %s\n", t.Table)
			}
		}
		if err := res.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := in.HealthCheck(ctx); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	fmt.Fprintln(out, "Stores initialized successfully.")
	return nil
}
