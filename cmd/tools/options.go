package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/lychee-technology/ingest"
)

// storeOptions are the flags shared by commands that touch provider stores.
type storeOptions struct {
	configFile string
	dialect    string
	dataDir    string
	dsn        string
}

func (o *storeOptions) bind(flags *flag.FlagSet) {
	flags.StringVar(&o.configFile, "config", getenvDefault("INGEST_CONFIG", ""), "path to a YAML or JSON config file")
	flags.StringVar(&o.dialect, "dialect", "", "storage dialect: sqlite, duckdb or postgres (overrides config)")
	flags.StringVar(&o.dataDir, "data-dir", "", "directory holding <provider>.db stores (overrides config)")
	flags.StringVar(&o.dsn, "dsn", "", "postgres connection string (overrides config)")
}

// config resolves the file or default config and applies flag overrides.
func (o *storeOptions) config() (*ingest.Config, error) {
	var cfg *ingest.Config
	if o.configFile != "" {
		loaded, err := ingest.LoadConfig(o.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = ingest.DefaultConfig()
		cfg.ApplyEnv()
	}
	if o.dialect != "" {
		cfg.Storage.Dialect = o.dialect
	}
	if o.dataDir != "" {
		cfg.Storage.DataDir = o.dataDir
	}
	if o.dsn != "" {
		cfg.Storage.Postgres.DSN = o.dsn
	}
	return cfg, cfg.Validate()
}

func newFlagSet(name, usage string, out io.Writer) *flag.FlagSet {
	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.SetOutput(out)
	flags.Usage = func() {
		fmt.Fprintf(out, "Usage: ingest-tools %s %s\n\n", name, usage)
		fmt.Fprintln(out, "Options:")
		flags.PrintDefaults()
	}
	return flags
}

// parseFlags treats -h as success.
func parseFlags(flags *flag.FlagSet, args []string) (bool, error) {
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
