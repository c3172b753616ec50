package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/lychee-technology/ingest/internal"
)

func runCheckDefinitions(args []string, out io.Writer) error {
	flags := newFlagSet("check-definitions", "-dir <definitions>", out)
	dir := flags.String("dir", getenvDefault("INGEST_DEFINITIONS_DIR", ""), "directory containing *.json table definitions")
	if ok, err := parseFlags(flags, args); !ok || err != nil {
		return err
	}
	if *dir == "" {
		flags.Usage()
		return fmt.Errorf("-dir is required")
	}

	store, err := internal.LoadDefinitions(*dir)
	if err != nil {
		return err
	}
	return printDefinitions(out, store)
}

// printDefinitions writes one line per table, grouped by provider.
func printDefinitions(out io.Writer, store *internal.DefinitionStore) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tTABLE\tTIME FIELD\tCOLUMNS\tINDEXES")
	tables := 0
	for _, provider := range store.Providers() {
		for _, def := range store.ForProvider(provider) {
			idx := make([]string, len(def.Indexes))
			for i, spec := range def.Indexes {
				idx[i] = spec.Name(def.Name)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				provider, def.Name, def.EffectiveTimeField(), len(def.Columns), strings.Join(idx, ","))
			tables++
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d definitions OK\n", tables)
	return nil
}
