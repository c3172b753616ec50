package internal

import (
	"context"
	"fmt"
	"strings"

	"github.com/lychee-technology/ingest"
	"go.uber.org/zap"
)

// SchemaRegistrar creates tables and their secondary indexes idempotently.
type SchemaRegistrar struct {
	registry *StorageRegistry
	logger   *zap.SugaredLogger
}

// NewSchemaRegistrar creates a registrar over registry.
func NewSchemaRegistrar(registry *StorageRegistry) *SchemaRegistrar {
	return &SchemaRegistrar{registry: registry, logger: zap.S().Named("registrar")}
}

// SetLogger replaces the registrar logger.
func (r *SchemaRegistrar) SetLogger(logger *zap.SugaredLogger) {
	if logger != nil {
		r.logger = logger
	}
}

// Register ensures every definition's table and indexes exist and binds a
// fresh session per table. Failures are logged and reported per table in the
// result; they never abort the caller.
func (r *SchemaRegistrar) Register(ctx context.Context, provider string, defs ...*ingest.TableDefinition) *ingest.RegistrationResult {
	result := &ingest.RegistrationResult{Provider: provider}

	engine, engineErr := r.registry.GetEngine(ctx, provider)
	if engineErr != nil {
		r.logger.Warnw("schema registration failed: engine unavailable", "provider", provider, "err", engineErr)
	}

	for _, def := range defs {
		name := ""
		if def != nil {
			name = def.Name
		}
		reg := ingest.TableRegistration{Table: name}
		if engineErr != nil {
			reg.Err = ingest.NewStorageError(ingest.ErrCodeRegistrationFailed, "engine unavailable", engineErr).WithTable(name)
			result.Tables = append(result.Tables, reg)
			continue
		}

		created, err := r.registerTable(ctx, engine, provider, def)
		reg.IndexesCreated = created
		if err != nil {
			r.logger.Warnw("schema registration failed", "provider", provider, "table", name, "err", err)
			reg.Err = err
		} else {
			reg.Ready = true
			r.logger.Debugw("table registered", "table", name, "indexes_created", created)
		}
		result.Tables = append(result.Tables, reg)
	}
	return result
}

func (r *SchemaRegistrar) registerTable(ctx context.Context, engine *Engine, provider string, raw *ingest.TableDefinition) ([]string, error) {
	def, err := raw.Normalize()
	if err != nil {
		return nil, err
	}
	owner, err := def.Provider()
	if err != nil {
		return nil, err
	}
	if owner != provider {
		return nil, ingest.NewInvalidDefinitionError(def.Name, fmt.Sprintf("table belongs to provider %q, not %q", owner, provider))
	}

	if _, err := engine.DB.ExecContext(ctx, createTableSQL(engine.Dialect(), def)); err != nil {
		return nil, ingest.NewStorageError(ingest.ErrCodeRegistrationFailed, "create table", err).WithTable(def.Name)
	}

	if _, err := r.registry.GetSession(ctx, def.Name, true); err != nil {
		return nil, err
	}
	r.registry.bind(def)

	existing, err := listIndexes(ctx, engine, def.Name)
	if err != nil {
		return nil, ingest.NewStorageError(ingest.ErrCodeRegistrationFailed, "list indexes", err).WithTable(def.Name)
	}

	var created []string
	for _, idx := range def.Indexes {
		name := idx.Name(def.Name)
		if _, ok := existing[name]; ok {
			continue
		}
		if missing := missingFields(def, idx.Fields); len(missing) > 0 {
			r.logger.Warnw("index skipped: fields not declared", "table", def.Name, "index", name, "missing", missing)
			continue
		}
		if _, err := engine.DB.ExecContext(ctx, createIndexSQL(def.Name, name, idx.Fields)); err != nil {
			return created, ingest.NewStorageError(ingest.ErrCodeRegistrationFailed, "create index "+name, err).WithTable(def.Name)
		}
		existing[name] = struct{}{}
		created = append(created, name)
	}
	return created, nil
}

func createTableSQL(d Dialect, def *ingest.TableDefinition) string {
	cols := make([]string, 0, len(def.Columns))
	for _, c := range def.Columns {
		col := sanitizeIdentifier(c.Name) + " " + d.ColumnType(c.Type)
		if c.Name == ingest.IDField {
			col += " PRIMARY KEY"
		}
		cols = append(cols, col)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", sanitizeIdentifier(def.Name), strings.Join(cols, ", "))
}

func createIndexSQL(table, name string, fields []string) string {
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = sanitizeIdentifier(f)
	}
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)", sanitizeIdentifier(name), sanitizeIdentifier(table), strings.Join(cols, ", "))
}

func listIndexes(ctx context.Context, engine *Engine, table string) (map[string]struct{}, error) {
	rows, err := engine.DB.QueryContext(ctx, engine.Dialect().ListIndexesSQL(), table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = struct{}{}
	}
	return out, rows.Err()
}

func missingFields(def *ingest.TableDefinition, fields []string) []string {
	var missing []string
	for _, f := range fields {
		if !def.HasColumn(f) {
			missing = append(missing, f)
		}
	}
	return missing
}
