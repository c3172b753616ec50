package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kdataJSON = `{
  "name": "eod_kdata_day",
  "columns": [
    {"name": "code", "type": "text"},
    {"name": "timestamp", "type": "timestamp"},
    {"name": "close", "type": "real"}
  ],
  "indexes": [{"fields": ["code", "timestamp"]}]
}`

const quoteJSON = `{
  "name": "sina_quote_rt",
  "time_field": "quoted_at",
  "columns": [
    {"name": "code", "type": "text"},
    {"name": "quoted_at", "type": "timestamp"},
    {"name": "price", "type": "real"}
  ]
}`

func writeDefinitions(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestCheckDefinitions(t *testing.T) {
	dir := writeDefinitions(t, map[string]string{"kdata.json": kdataJSON, "quote.json": quoteJSON})

	var out bytes.Buffer
	require.NoError(t, runCheckDefinitions([]string{"-dir", dir}, &out))
	assert.Contains(t, out.String(), "eod_kdata_day_code_timestamp_index")
	assert.Contains(t, out.String(), "quoted_at")
	assert.Contains(t, out.String(), "2 definitions OK")
}

func TestCheckDefinitions_Errors(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, runCheckDefinitions(nil, &out), "missing -dir")

	bad := writeDefinitions(t, map[string]string{"bad.json": `{"name": "eod_x", "columns": [{"name": "a", "type": "blob"}]}`})
	assert.Error(t, runCheckDefinitions([]string{"-dir", bad}, &out))

	assert.NoError(t, runCheckDefinitions([]string{"-h"}, &out))
}

func TestInitDB(t *testing.T) {
	defs := writeDefinitions(t, map[string]string{"kdata.json": kdataJSON, "quote.json": quoteJSON})
	data := t.TempDir()

	var out bytes.Buffer
	args := []string{"-definitions", defs, "-data-dir", data}
	require.NoError(t, runInitDB(args, &out))
	assert.Contains(t, out.String(), "created [eod_kdata_day_code_timestamp_index]")
	assert.Contains(t, out.String(), "OK    sina_quote_rt")
	assert.FileExists(t, filepath.Join(data, "eod.db"))
	assert.FileExists(t, filepath.Join(data, "sina.db"))

	// A second run finds everything in place.
	out.Reset()
	require.NoError(t, runInitDB(args, &out))
	assert.NotContains(t, out.String(), "created")
	assert.Contains(t, out.String(), "Stores initialized successfully.")
}

func TestInitDB_RequiresDefinitions(t *testing.T) {
	var out bytes.Buffer
	err := runInitDB([]string{"-data-dir", t.TempDir()}, &out)
	assert.Error(t, err)
}

func TestStoreFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"eod.db", "sina.db", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	paths, err := storeFiles(dir, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"eod":  filepath.Join(dir, "eod.db"),
		"sina": filepath.Join(dir, "sina.db"),
	}, paths)

	paths, err = storeFiles(dir, "sina")
	require.NoError(t, err)
	assert.Len(t, paths, 1)

	_, err = storeFiles(dir, "eod,tushare")
	assert.Error(t, err)
}

func TestArchive_RejectsPostgres(t *testing.T) {
	var out bytes.Buffer
	err := runArchive([]string{"-dialect", "postgres", "-dsn", "postgres://localhost/market", "-bucket", "b"}, &out)
	assert.ErrorContains(t, err, "cannot be archived")
}
