package main

import (
	"context"
	"fmt"
	"strings"
)

// Chunk is a bounded batch of rows transferred as one unit.
type Chunk struct {
	Columns []string
	Rows    [][]Value
}

// ChunkStream yields the finite sequence of chunks of one table scan. It
// is not restartable; re-iteration requires a fresh StreamChunks call.
type ChunkStream interface {
	// Next returns the next chunk, or nil when the sequence is exhausted.
	Next(ctx context.Context) (*Chunk, error)
	Close()
}

// Driver is the capability set every dialect implements. Implementations
// are selected at runtime by URL scheme; behavioral differences live in
// the mapping tables, not in deep inheritance.
type Driver interface {
	Name() string
	Dialect() Dialect
	Close()

	// FetchSchema introspects visible tables, columns, indices, keys and
	// FK metadata in deterministic order (tables lexicographic, columns
	// by ordinal position, indices lexicographic by name).
	FetchSchema(ctx context.Context) (*Schema, error)

	// SourceObjects reports views, routines and triggers that are not
	// migrated automatically.
	SourceObjects(ctx context.Context) (*SourceObjects, error)

	// RenderDDL produces CREATE TABLE (primary key inline) followed by
	// separate index/constraint statements.
	RenderDDL(t *Table) ([]string, error)

	// Alter-statement rendering used by schema diff.
	RenderAddColumn(t *Table, col Column) string
	RenderAlterColumn(t *Table, live, desired Column) []string
	RenderDropColumn(t *Table, name string) string
	RenderCreateIndex(t *Table, idx Index) string
	RenderDropIndex(t *Table, idx Index) string
	RenderDropTable(name string) string

	// Apply executes statements; one transaction per table where the
	// dialect supports transactional DDL. In dryRun nothing executes.
	Apply(ctx context.Context, stmts []string, dryRun bool) error

	CountRows(ctx context.Context, t *Table) (uint64, error)
	TableIsEmpty(ctx context.Context, t *Table) (bool, error)
	TableExists(ctx context.Context, name string) (bool, error)

	// StreamChunks scans the table in ascending keyCols order, at most
	// chunkSize rows per chunk. An empty keyCols falls back to
	// LIMIT/OFFSET paging.
	StreamChunks(ctx context.Context, t *Table, keyCols []string, chunkSize int) (ChunkStream, error)

	// BulkInsert writes one chunk with a single multi-row statement,
	// preserving client-supplied key values (no autogeneration).
	BulkInsert(ctx context.Context, t *Table, chunk *Chunk) error

	// InsertRow writes a single row; used by the batch-failure fallback.
	InsertRow(ctx context.Context, t *Table, columns []string, row []Value) error

	// FetchByKey retrieves one row by stable key; used by verification.
	FetchByKey(ctx context.Context, t *Table, keyCols []string, keyVals []Value) ([]Value, bool, error)

	// ResetSequences re-seeds auto-increment sequences to max(col)+1
	// after bulk loading.
	ResetSequences(ctx context.Context, t *Table) error

	QuoteIdent(name string) string
	Literal(v Value) string
}

// SourceObjects holds non-table source objects that require manual migration.
type SourceObjects struct {
	Views    []string
	Routines []string
	Triggers []string
}

// openDriver parses a connection URL and returns the matching driver with
// an established pool. Connection failures retry with backoff.
func openDriver(ctx context.Context, url string, cfg *Config) (Driver, error) {
	switch {
	case strings.HasPrefix(url, "mysql://"):
		return openMySQL(ctx, url, cfg)
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return openPostgres(ctx, url, cfg)
	default:
		return nil, kindError(errUsage, "unsupported database URL scheme in %q (must be mysql:// or postgres://)", url)
	}
}

// stableKey resolves the cursoring key for a table: primary key if
// present, else the first unique index over not-null columns, else none
// (offset paging with a warning).
func stableKey(t *Table) []string {
	if t.PrimaryKey != nil && len(t.PrimaryKey.Columns) > 0 {
		return t.PrimaryKey.Columns
	}
	for _, idx := range t.Indices {
		if !idx.Unique {
			continue
		}
		allNotNull := true
		cols := make([]string, len(idx.Columns))
		for i, ic := range idx.Columns {
			col := t.Column(ic.Name)
			if col == nil || col.Type.Nullable {
				allNotNull = false
				break
			}
			cols[i] = ic.Name
		}
		if allNotNull {
			return cols
		}
	}
	for _, k := range t.Keys {
		if k.Kind != KeyUnique {
			continue
		}
		allNotNull := true
		for _, c := range k.Columns {
			col := t.Column(c)
			if col == nil || col.Type.Nullable {
				allNotNull = false
				break
			}
		}
		if allNotNull {
			return k.Columns
		}
	}
	return nil
}

// columnNames returns the ordered column name list of a table.
func columnNames(t *Table) []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// keysetPredicate builds a `(k1,k2) > (?,?)` row-comparison cursor clause
// with the given placeholder generator. Works on both dialects.
func keysetPredicate(keyCols []string, quote func(string) string, placeholder func(i int) string) string {
	quoted := make([]string, len(keyCols))
	marks := make([]string, len(keyCols))
	for i, c := range keyCols {
		quoted[i] = quote(c)
		marks[i] = placeholder(i)
	}
	if len(keyCols) == 1 {
		return fmt.Sprintf("%s > %s", quoted[0], marks[0])
	}
	return fmt.Sprintf("(%s) > (%s)", strings.Join(quoted, ", "), strings.Join(marks, ", "))
}
