package internal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/lychee-technology/ingest"
)

var (
	definitionSchemaOnce sync.Once
	definitionSchema     *jsonschema.Resolved
	definitionSchemaErr  error
)

func resolvedDefinitionSchema() (*jsonschema.Resolved, error) {
	definitionSchemaOnce.Do(func() {
		var schema jsonschema.Schema
		if err := json.Unmarshal([]byte(ingest.TableDefinitionSchema), &schema); err != nil {
			definitionSchemaErr = fmt.Errorf("failed to unmarshal definition schema: %w", err)
			return
		}
		definitionSchema, definitionSchemaErr = schema.Resolve(&jsonschema.ResolveOptions{})
	})
	return definitionSchema, definitionSchemaErr
}

// ParseDefinition validates one table-definition document against
// TableDefinitionSchema and decodes it.
func ParseDefinition(data []byte) (*ingest.TableDefinition, error) {
	resolved, err := resolvedDefinitionSchema()
	if err != nil {
		return nil, err
	}

	var instance map[string]any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, ingest.NewDecodeError("json", err)
	}
	if err := resolved.Validate(instance); err != nil {
		name, _ := instance["name"].(string)
		return nil, ingest.NewInvalidDefinitionError(name, "definition does not match schema").WithCause(err)
	}

	var def ingest.TableDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, ingest.NewDecodeError("json", err)
	}
	return &def, nil
}

// DefinitionStore holds table definitions loaded from a directory, grouped by
// provider.
type DefinitionStore struct {
	mu    sync.RWMutex
	dir   string
	byKey map[string]*ingest.TableDefinition
}

// LoadDefinitions reads every *.json file in dir as a table definition.
func LoadDefinitions(dir string) (*DefinitionStore, error) {
	store := &DefinitionStore{dir: dir, byKey: make(map[string]*ingest.TableDefinition)}
	if err := store.Reload(); err != nil {
		return nil, err
	}
	return store, nil
}

// Reload replaces the store content with the directory's current files.
func (s *DefinitionStore) Reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read definitions dir %s: %w", s.dir, err)
	}

	loaded := make(map[string]*ingest.TableDefinition)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read definition file %s: %w", path, err)
		}
		def, err := ParseDefinition(data)
		if err != nil {
			return fmt.Errorf("failed to parse definition file %s: %w", path, err)
		}
		if _, dup := loaded[def.Name]; dup {
			return ingest.NewInvalidDefinitionError(def.Name, "defined more than once in "+s.dir)
		}
		loaded[def.Name] = def
	}

	s.mu.Lock()
	s.byKey = loaded
	s.mu.Unlock()
	return nil
}

// Get returns the definition of table.
func (s *DefinitionStore) Get(table string) (*ingest.TableDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.byKey[table]
	return def, ok
}

// ForProvider returns the provider's definitions sorted by table name.
func (s *DefinitionStore) ForProvider(provider string) []*ingest.TableDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ingest.TableDefinition
	for name, def := range s.byKey {
		if p, _, err := ingest.ParseTableName(name); err == nil && p == provider {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Providers lists the providers that own at least one definition.
func (s *DefinitionStore) Providers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for name := range s.byKey {
		if p, _, err := ingest.ParseTableName(name); err == nil {
			seen[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
