package internal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lychee-technology/ingest"
	"go.uber.org/zap"
)

// UpsertEngine persists batches idempotently, keyed on the id column.
type UpsertEngine struct {
	registry  *StorageRegistry
	chunkSize int
	logger    *zap.SugaredLogger
}

// NewUpsertEngine creates an upsert engine; chunkSize <= 0 means the default.
func NewUpsertEngine(registry *StorageRegistry, chunkSize int) *UpsertEngine {
	if chunkSize <= 0 {
		chunkSize = ingest.DefaultChunkSize
	}
	return &UpsertEngine{registry: registry, chunkSize: chunkSize, logger: zap.S().Named("upsert")}
}

// SetLogger replaces the engine logger.
func (u *UpsertEngine) SetLogger(logger *zap.SugaredLogger) {
	if logger != nil {
		u.logger = logger
	}
}

// Save writes batch into table in chunks. Without ForceUpdate, rows whose id
// already exists are left untouched; with it they are replaced. A chunk failure
// aborts the call and keeps the chunks committed before it.
func (u *UpsertEngine) Save(ctx context.Context, table string, batch ingest.Batch, opts ingest.SaveOptions) (*ingest.SaveResult, error) {
	start := time.Now()
	result := &ingest.SaveResult{Table: table, Received: len(batch)}
	if len(batch) == 0 {
		return result, nil
	}

	t, err := u.registry.table(table)
	if err != nil {
		return nil, err
	}

	rows, dropped, derr := dedupeByID(batch)
	if derr != nil {
		return nil, derr.WithTable(table)
	}
	result.Deduplicated = len(dropped)
	if len(dropped) > 0 && opts.DropDuplicates {
		u.logger.Warnw("duplicate ids dropped", "table", table, "received", len(batch),
			"dropped", len(dropped), "positions", dropped, "ids", droppedIDs(batch, dropped))
	}

	cols := intersectColumns(t, rows)
	if len(cols) < 2 {
		u.logger.Warnw("batch skipped: no matching columns", "table", table, "fields", recordFields(rows))
		return result, ingest.NewNoMatchingColumnsError(table)
	}

	session, err := u.registry.GetSession(ctx, table, false)
	if err != nil {
		return nil, err
	}
	d := session.Engine().Dialect()

	size := opts.ChunkSize
	if size <= 0 {
		size = u.chunkSize
	}
	for i, b := range chunkBounds(len(rows), size) {
		args, ids, berr := bindRows(cols, rows[b[0]:b[1]])
		if berr != nil {
			return result, berr.WithTable(table)
		}

		var stats chunkStats
		if opts.ForceUpdate {
			stats, err = u.replaceChunk(ctx, session, t, d, cols, ids, args)
		} else {
			stats, err = u.insertNewChunk(ctx, session, t, d, cols, ids, args)
		}
		if err != nil {
			u.logger.Warnw("chunk failed", "table", table, "chunk", i, "rows", len(ids), "err", err)
			return result, ingest.NewStorageError(ingest.ErrCodeChunkFailed, fmt.Sprintf("chunk %d failed", i), err).
				WithTable(table).WithDetail("chunk", i).WithDetail("committed_chunks", result.Chunks)
		}
		result.Chunks++
		result.Inserted += stats.inserted
		result.Skipped += stats.skipped
		result.Replaced += stats.replaced
	}

	u.logger.Debugw("batch saved", "table", table, "chunks", result.Chunks, "inserted", result.Inserted,
		"skipped", result.Skipped, "replaced", result.Replaced, "force", opts.ForceUpdate)
	EmitLatency(ctx, "save", time.Since(start).Milliseconds())
	EmitRowCount(ctx, "insert", table, int64(result.Inserted))
	if result.Skipped > 0 {
		EmitRowCount(ctx, "skip", table, int64(result.Skipped))
	}
	if result.Replaced > 0 {
		EmitRowCount(ctx, "replace", table, int64(result.Replaced))
	}
	return result, nil
}

type chunkStats struct {
	inserted int
	skipped  int
	replaced int
}

// insertNewChunk inserts the chunk rows whose id is not stored yet, in one
// transaction.
func (u *UpsertEngine) insertNewChunk(ctx context.Context, s *Session, t *registeredTable, d Dialect, cols []fieldAccessor, ids []string, args [][]any) (chunkStats, error) {
	var stats chunkStats
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return stats, err
	}
	defer tx.Rollback()

	existing, err := existingIDs(ctx, tx, t, d, ids)
	if err != nil {
		return stats, err
	}

	fresh := make([][]any, 0, len(args))
	for i, id := range ids {
		if _, ok := existing[id]; ok {
			stats.skipped++
			continue
		}
		fresh = append(fresh, args[i])
	}
	if err := insertRows(ctx, tx, t, d, cols, fresh); err != nil {
		return stats, err
	}
	if err := tx.Commit(); err != nil {
		return stats, err
	}
	stats.inserted = len(fresh)
	return stats, nil
}

// replaceChunk deletes the chunk ids and commits, then inserts every row in a
// second transaction.
func (u *UpsertEngine) replaceChunk(ctx context.Context, s *Session, t *registeredTable, d Dialect, cols []fieldAccessor, ids []string, args [][]any) (chunkStats, error) {
	var stats chunkStats

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return stats, err
	}
	for _, b := range chunkBounds(len(ids), idLookupSize) {
		part := ids[b[0]:b[1]]
		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", t.quoted, sanitizeIdentifier(ingest.IDField), inList(d, 0, len(part)))
		res, err := tx.ExecContext(ctx, stmt, stringArgs(part)...)
		if err != nil {
			tx.Rollback()
			return stats, err
		}
		if n, err := res.RowsAffected(); err == nil {
			stats.replaced += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		stats.replaced = 0
		return stats, err
	}

	tx, err = s.BeginTx(ctx)
	if err != nil {
		return stats, err
	}
	defer tx.Rollback()
	if err := insertRows(ctx, tx, t, d, cols, args); err != nil {
		return stats, err
	}
	if err := tx.Commit(); err != nil {
		return stats, err
	}
	stats.inserted = len(args)
	return stats, nil
}

// idLookupSize caps the ids bound into one IN list; it stays well under
// SQLite's host parameter limit.
var idLookupSize = 1000

// existingIDs returns the subset of ids already stored in t.
func existingIDs(ctx context.Context, tx *sql.Tx, t *registeredTable, d Dialect, ids []string) (map[string]struct{}, error) {
	idCol := sanitizeIdentifier(ingest.IDField)
	out := make(map[string]struct{}, len(ids))
	for _, b := range chunkBounds(len(ids), idLookupSize) {
		part := ids[b[0]:b[1]]
		stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)", idCol, t.quoted, idCol, inList(d, 0, len(part)))
		if err := collectIDs(ctx, tx, stmt, stringArgs(part), out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func collectIDs(ctx context.Context, tx *sql.Tx, stmt string, args []any, into map[string]struct{}) error {
	rows, err := tx.QueryContext(ctx, stmt, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		into[id] = struct{}{}
	}
	return rows.Err()
}

func insertRows(ctx context.Context, tx *sql.Tx, t *registeredTable, d Dialect, cols []fieldAccessor, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Column
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.quoted, strings.Join(names, ", "), inList(d, 0, len(cols))))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return err
		}
	}
	return nil
}

// dedupeByID keeps the last record per id, ordered by the position of that
// last occurrence, and returns the batch positions it dropped. Records
// without an id are rejected.
func dedupeByID(batch ingest.Batch) (ingest.Batch, []int, *ingest.IngestError) {
	last := make(map[string]int, len(batch))
	for i, rec := range batch {
		id, ok := rec.ID()
		if !ok {
			return nil, nil, ingest.NewIngestError(ingest.ErrorTypeValidation, ingest.ErrCodeMissingID,
				"record has no id").WithField(ingest.IDField).WithDetail("index", i)
		}
		last[id] = i
	}
	if len(last) == len(batch) {
		return batch, nil, nil
	}
	out := make(ingest.Batch, 0, len(last))
	dropped := make([]int, 0, len(batch)-len(last))
	for i, rec := range batch {
		id, _ := rec.ID()
		if last[id] == i {
			out = append(out, rec)
		} else {
			dropped = append(dropped, i)
		}
	}
	return out, dropped, nil
}

// droppedIDs returns the distinct ids at the given batch positions, in order.
func droppedIDs(batch ingest.Batch, positions []int) []string {
	seen := make(map[string]struct{}, len(positions))
	ids := make([]string, 0, len(positions))
	for _, i := range positions {
		id, _ := batch[i].ID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// intersectColumns returns the definition columns present in at least one
// record, in definition order. The id column always leads.
func intersectColumns(t *registeredTable, rows ingest.Batch) []fieldAccessor {
	var out []fieldAccessor
	for _, c := range t.def.Columns {
		for _, rec := range rows {
			if _, ok := rec[c.Name]; ok {
				out = append(out, t.fields[c.Name])
				break
			}
		}
	}
	return out
}

// bindRows converts each record into insert arguments; a field absent from a
// record is written as NULL.
func bindRows(cols []fieldAccessor, rows ingest.Batch) ([][]any, []string, *ingest.IngestError) {
	args := make([][]any, len(rows))
	ids := make([]string, len(rows))
	for i, rec := range rows {
		row := make([]any, len(cols))
		for j, c := range cols {
			v := rec[c.Name]
			if c.Name == ingest.IDField {
				ids[i], _ = ingest.IDString(v)
				row[j] = ids[i]
				continue
			}
			arg, err := c.bind(v)
			if err != nil {
				if ie, ok := err.(*ingest.IngestError); ok {
					return nil, nil, ie.WithDetail("id", ids[i])
				}
				return nil, nil, ingest.NewConversionError(c.Name, v, err)
			}
			row[j] = arg
		}
		args[i] = row
	}
	return args, ids, nil
}

func stringArgs(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func recordFields(rows ingest.Batch) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, rec := range rows {
		for k := range rec {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				out = append(out, k)
			}
		}
	}
	return out
}
