package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lychee-technology/ingest"
	"github.com/lychee-technology/ingest/factory"
)

func runArchive(args []string, out io.Writer) error {
	flags := newFlagSet("archive", "-bucket <name> [options]", out)
	var opts storeOptions
	opts.bind(flags)
	bucket := flags.String("bucket", getenvDefault("INGEST_ARCHIVE_BUCKET", ""), "destination bucket (overrides config)")
	prefix := flags.String("prefix", "", "key prefix (overrides config)")
	endpoint := flags.String("endpoint", getenvDefault("AWS_ENDPOINT_URL_S3", ""), "custom S3 endpoint, implies path-style addressing")
	providers := flags.String("providers", "", "comma separated providers to archive (default: every store)")
	if ok, err := parseFlags(flags, args); !ok || err != nil {
		return err
	}

	cfg, err := opts.config()
	if err != nil {
		return err
	}
	if cfg.Storage.Dialect == ingest.DialectPostgres {
		return fmt.Errorf("postgres stores are not files and cannot be archived")
	}
	cfg.Archive.Enabled = true
	if *bucket != "" {
		cfg.Archive.Bucket = *bucket
	}
	if *prefix != "" {
		cfg.Archive.Prefix = *prefix
	}
	if *endpoint != "" {
		cfg.Archive.Endpoint = *endpoint
		cfg.Archive.UsePathStyle = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	paths, err := storeFiles(cfg.Storage.DataDir, *providers)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Fprintf(out, "no stores found under %s\n", cfg.Storage.DataDir)
		return nil
	}

	ctx := context.Background()
	uploader, err := factory.NewArchiver(ctx, cfg)
	if err != nil {
		return err
	}
	if err := uploader.EnsureBucket(ctx); err != nil {
		return err
	}
	results, err := uploader.UploadAll(ctx, paths)
	sort.Slice(results, func(i, j int) bool { return results[i].Provider < results[j].Provider })
	for _, r := range results {
		fmt.Fprintf(out, "%-12s %s (%d bytes)\n", r.Provider, r.URI(), r.Bytes)
	}
	return err
}

// storeFiles maps provider names to the <provider>.db files in dir,
// optionally restricted to a comma separated list.
func storeFiles(dir, only string) (map[string]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.db"))
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool)
	for _, p := range strings.Split(only, ",") {
		if p = strings.TrimSpace(p); p != "" {
			want[p] = true
		}
	}

	paths := make(map[string]string, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		provider := strings.TrimSuffix(filepath.Base(m), ".db")
		if len(want) > 0 && !want[provider] {
			continue
		}
		paths[provider] = m
	}
	for p := range want {
		if _, ok := paths[p]; !ok {
			return nil, fmt.Errorf("no store for provider %q under %s", p, dir)
		}
	}
	return paths, nil
}
