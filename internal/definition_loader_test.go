package internal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lychee-technology/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kdataJSON = `{
  "name": "eod_kdata_day",
  "time_field": "timestamp",
  "columns": [
    {"name": "code", "type": "text"},
    {"name": "timestamp", "type": "timestamp"},
    {"name": "close", "type": "real"}
  ],
  "indexes": [{"fields": ["code", "timestamp"]}]
}`

func writeDefinition(t *testing.T, dir, file, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(body), 0o644))
}

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(kdataJSON))
	require.NoError(t, err)
	assert.Equal(t, kdataTable, def.Name)
	assert.Len(t, def.Columns, 3)
	assert.Equal(t, ingest.ColumnReal, def.Columns[2].Type)
	assert.Equal(t, []string{"code", "timestamp"}, def.Indexes[0].Fields)

	_, err = ParseDefinition([]byte(`{"name": "eod_kdata_day", "columns": [{"name": "close", "type": "decimal"}]}`))
	assert.Equal(t, ingest.ErrCodeInvalidDefinition, ingest.ErrorCode(err))

	_, err = ParseDefinition([]byte(`{"columns": []}`))
	assert.Equal(t, ingest.ErrCodeInvalidDefinition, ingest.ErrorCode(err))

	_, err = ParseDefinition([]byte(`{not json`))
	assert.Equal(t, ingest.ErrCodeDecodeFailed, ingest.ErrorCode(err))
}

func TestLoadDefinitionsGroupsByProvider(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "kdata.json", kdataJSON)
	writeDefinition(t, dir, "quote.json", `{"name": "sina_quote_rt", "columns": [{"name": "price", "type": "real"}]}`)
	writeDefinition(t, dir, "fund.json", `{"name": "eod_fundamental_info", "columns": [{"name": "sector", "type": "text"}]}`)
	writeDefinition(t, dir, "README.md", "not a definition")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.json"), 0o755))

	store, err := LoadDefinitions(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"eod", "sina"}, store.Providers())
	eod := store.ForProvider("eod")
	require.Len(t, eod, 2)
	assert.Equal(t, "eod_fundamental_info", eod[0].Name)
	assert.Equal(t, kdataTable, eod[1].Name)

	def, ok := store.Get("sina_quote_rt")
	require.True(t, ok)
	assert.Equal(t, "price", def.Columns[0].Name)
	assert.Empty(t, store.ForProvider("yahoo"))
}

func TestLoadDefinitionsErrors(t *testing.T) {
	_, err := LoadDefinitions(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	dir := t.TempDir()
	writeDefinition(t, dir, "a.json", kdataJSON)
	writeDefinition(t, dir, "b.json", kdataJSON)
	_, err = LoadDefinitions(dir)
	assert.Equal(t, ingest.ErrCodeInvalidDefinition, ingest.ErrorCode(err))

	bad := t.TempDir()
	writeDefinition(t, bad, "a.json", `{"name": 7}`)
	_, err = LoadDefinitions(bad)
	assert.Error(t, err)
}

func TestDefinitionStoreReload(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "kdata.json", kdataJSON)
	store, err := LoadDefinitions(dir)
	require.NoError(t, err)
	_, ok := store.Get("sina_quote_rt")
	assert.False(t, ok)

	writeDefinition(t, dir, "quote.json", `{"name": "sina_quote_rt", "columns": [{"name": "price", "type": "real"}]}`)
	require.NoError(t, store.Reload())
	_, ok = store.Get("sina_quote_rt")
	assert.True(t, ok)
}
