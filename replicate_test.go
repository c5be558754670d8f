package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// fakeDriver is an in-memory Driver used to exercise the pipeline without
// a live database.
type fakeDriver struct {
	dialect Dialect
	schema  *Schema
	data    map[string][][]Value // table → rows

	insertErrRows map[int]bool // row ordinals (per table, global counter) that fail
	insertCount   int
	chunkSizes    []int // observed chunk sizes on BulkInsert
}

func newFakeDriver(d Dialect, schema *Schema) *fakeDriver {
	return &fakeDriver{
		dialect:       d,
		schema:        schema,
		data:          make(map[string][][]Value),
		insertErrRows: make(map[int]bool),
	}
}

func (f *fakeDriver) Name() string                  { return "fake-" + string(f.dialect) }
func (f *fakeDriver) Dialect() Dialect              { return f.dialect }
func (f *fakeDriver) Close()                        {}
func (f *fakeDriver) QuoteIdent(name string) string { return name }
func (f *fakeDriver) Literal(v Value) string        { return v.String() }

func (f *fakeDriver) FetchSchema(ctx context.Context) (*Schema, error) { return f.schema, nil }
func (f *fakeDriver) SourceObjects(ctx context.Context) (*SourceObjects, error) {
	return &SourceObjects{}, nil
}

func (f *fakeDriver) RenderDDL(t *Table) ([]string, error)        { return []string{"CREATE " + t.Name}, nil }
func (f *fakeDriver) RenderAddColumn(t *Table, col Column) string { return "ADD" }
func (f *fakeDriver) RenderAlterColumn(t *Table, live, desired Column) []string {
	return []string{"ALTER"}
}
func (f *fakeDriver) RenderDropColumn(t *Table, name string) string                { return "DROPCOL" }
func (f *fakeDriver) RenderCreateIndex(t *Table, idx Index) string                 { return "CREATEIDX" }
func (f *fakeDriver) RenderDropIndex(t *Table, idx Index) string                   { return "DROPIDX" }
func (f *fakeDriver) RenderDropTable(name string) string                           { return "DROPTBL" }
func (f *fakeDriver) Apply(ctx context.Context, stmts []string, dryRun bool) error { return nil }

func (f *fakeDriver) CountRows(ctx context.Context, t *Table) (uint64, error) {
	return uint64(len(f.data[t.Name])), nil
}

func (f *fakeDriver) TableIsEmpty(ctx context.Context, t *Table) (bool, error) {
	return len(f.data[t.Name]) == 0, nil
}

func (f *fakeDriver) TableExists(ctx context.Context, name string) (bool, error) {
	return f.schema.Table(name) != nil, nil
}

type fakeChunkStream struct {
	rows      [][]Value
	columns   []string
	chunkSize int
	pos       int
}

func (s *fakeChunkStream) Close() {}

func (s *fakeChunkStream) Next(ctx context.Context) (*Chunk, error) {
	if s.pos >= len(s.rows) {
		return nil, nil
	}
	end := s.pos + s.chunkSize
	if end > len(s.rows) {
		end = len(s.rows)
	}
	chunk := &Chunk{Columns: s.columns, Rows: s.rows[s.pos:end]}
	s.pos = end
	return chunk, nil
}

func (f *fakeDriver) StreamChunks(ctx context.Context, t *Table, keyCols []string, chunkSize int) (ChunkStream, error) {
	return &fakeChunkStream{
		rows:      f.data[t.Name],
		columns:   columnNames(t),
		chunkSize: chunkSize,
	}, nil
}

func (f *fakeDriver) BulkInsert(ctx context.Context, t *Table, chunk *Chunk) error {
	f.chunkSizes = append(f.chunkSizes, len(chunk.Rows))
	for i := range chunk.Rows {
		if f.insertErrRows[f.insertCount+i] {
			// nothing consumed; the caller retries row-by-row
			return fmt.Errorf("bulk insert failed")
		}
	}
	for _, row := range chunk.Rows {
		f.insertCount++
		f.data[t.Name] = append(f.data[t.Name], row)
	}
	return nil
}

func (f *fakeDriver) InsertRow(ctx context.Context, t *Table, columns []string, row []Value) error {
	if f.insertErrRows[f.insertCount] {
		f.insertCount++
		return errors.New("row insert failed")
	}
	f.insertCount++
	f.data[t.Name] = append(f.data[t.Name], row)
	return nil
}

func (f *fakeDriver) FetchByKey(ctx context.Context, t *Table, keyCols []string, keyVals []Value) ([]Value, bool, error) {
	keyIdx := make([]int, len(keyCols))
	for i, kc := range keyCols {
		for j, c := range t.Columns {
			if c.Name == kc {
				keyIdx[i] = j
			}
		}
	}
	for _, row := range f.data[t.Name] {
		match := true
		for i, idx := range keyIdx {
			if !valuesEqual(row[idx], keyVals[i], 6) {
				match = false
				break
			}
		}
		if match {
			return row, true, nil
		}
	}
	return nil, false, nil
}

func (f *fakeDriver) ResetSequences(ctx context.Context, t *Table) error { return nil }

func pipelineSchemas(rowCount int) (*Schema, *Schema, *Schema) {
	table := Table{
		Name: "users",
		Columns: []Column{
			{Name: "id", Type: ColumnType{Base: "bigint", Nullable: false}},
			{Name: "name", Type: ColumnType{Base: "text", Nullable: true}},
		},
		PrimaryKey: &Key{Kind: KeyPrimary, Columns: []string{"id"}},
	}
	src := &Schema{Dialect: DialectMySQL, Tables: []Table{table}}
	ir := &Schema{Dialect: DialectMySQL, Tables: []Table{table}}
	tgt := &Schema{Dialect: DialectPostgres, Tables: []Table{table}}
	return src, ir, tgt
}

func fakeRows(n int) [][]Value {
	rows := make([][]Value, n)
	for i := range rows {
		rows[i] = []Value{intValue(int64(i + 1)), stringValue(fmt.Sprintf("user-%d", i+1))}
	}
	return rows
}

func TestReplicateDataCopiesAllRows(t *testing.T) {
	src, ir, tgt := pipelineSchemas(2500)
	source := newFakeDriver(DialectMySQL, src)
	source.data["users"] = fakeRows(2500)
	target := newFakeDriver(DialectPostgres, tgt)

	cfg := defaultConfig()
	err := replicateData(context.Background(), source, target, src, ir, tgt, cfg, replicateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(target.data["users"]); got != 2500 {
		t.Errorf("target rows = %d, want 2500", got)
	}
	// memory bound: no chunk exceeds the configured size
	for _, n := range target.chunkSizes {
		if n > cfg.ChunkSize {
			t.Errorf("chunk of %d rows exceeds bound %d", n, cfg.ChunkSize)
		}
	}
	if len(target.chunkSizes) != 3 {
		t.Errorf("chunk count = %d, want 3 (1000+1000+500)", len(target.chunkSizes))
	}
}

func TestReplicateDataPreservesKeyOrder(t *testing.T) {
	src, ir, tgt := pipelineSchemas(10)
	source := newFakeDriver(DialectMySQL, src)
	source.data["users"] = fakeRows(10)
	target := newFakeDriver(DialectPostgres, tgt)

	err := replicateData(context.Background(), source, target, src, ir, tgt, defaultConfig(), replicateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for i, row := range target.data["users"] {
		if row[0].Int != int64(i+1) {
			t.Fatalf("row %d has key %d; writes must be in ascending key order", i, row[0].Int)
		}
	}
}

func TestReplicateDataLossProtection(t *testing.T) {
	src, ir, tgt := pipelineSchemas(1)
	source := newFakeDriver(DialectMySQL, src)
	source.data["users"] = fakeRows(1)
	target := newFakeDriver(DialectPostgres, tgt)
	target.data["users"] = fakeRows(1) // non-empty target

	err := replicateData(context.Background(), source, target, src, ir, tgt, defaultConfig(), replicateOptions{})
	if exitCode(err) != 4 {
		t.Fatalf("non-empty target should trip data-loss protection (exit 4), got %v", err)
	}

	// --force overrides
	err = replicateData(context.Background(), source, target, src, ir, tgt, defaultConfig(), replicateOptions{Force: true})
	if err != nil {
		t.Fatalf("force should override data-loss protection: %v", err)
	}
}

func TestReplicateHaltOnError(t *testing.T) {
	src, ir, tgt := pipelineSchemas(5)
	source := newFakeDriver(DialectMySQL, src)
	source.data["users"] = fakeRows(5)
	target := newFakeDriver(DialectPostgres, tgt)
	target.insertErrRows[2] = true // third row fails

	err := replicateData(context.Background(), source, target, src, ir, tgt, defaultConfig(),
		replicateOptions{HaltOnError: true})
	if exitCode(err) != 5 {
		t.Fatalf("halt-on-error row failure should exit 5, got %v", err)
	}

	// without halt, remaining rows land and the run succeeds
	target2 := newFakeDriver(DialectPostgres, tgt)
	target2.insertErrRows[2] = true
	err = replicateData(context.Background(), source, target2, src, ir, tgt, defaultConfig(), replicateOptions{})
	if err != nil {
		t.Fatalf("without halt the run should continue: %v", err)
	}
	if got := len(target2.data["users"]); got != 4 {
		t.Errorf("target rows = %d, want 4 (one skipped)", got)
	}
}

func TestReplicateVerifyDetectsMismatch(t *testing.T) {
	src, ir, tgt := pipelineSchemas(3)
	source := newFakeDriver(DialectMySQL, src)
	source.data["users"] = fakeRows(3)
	target := newFakeDriver(DialectPostgres, tgt)

	err := replicateData(context.Background(), source, target, src, ir, tgt, defaultConfig(),
		replicateOptions{Verify: true})
	if err != nil {
		t.Fatalf("verify over a clean copy should pass: %v", err)
	}

	// corrupt one target row, re-verify
	target.data["users"][1][1] = stringValue("tampered")
	pairs, err := alignTables(src, ir, tgt)
	if err != nil {
		t.Fatal(err)
	}
	mismatches, err := verifyTable(context.Background(), source, target, pairs[0], defaultConfig(), false, true)
	if err != nil {
		t.Fatal(err)
	}
	if mismatches != 1 {
		t.Errorf("mismatches = %d, want 1", mismatches)
	}

	// halt-on-error turns the first mismatch into a verification failure
	_, err = verifyTable(context.Background(), source, target, pairs[0], defaultConfig(), true, true)
	if exitCode(err) != 6 {
		t.Errorf("verification failure should exit 6, got %v", err)
	}
}

func TestReplicateDryRunWritesNothing(t *testing.T) {
	src, ir, tgt := pipelineSchemas(10)
	source := newFakeDriver(DialectMySQL, src)
	source.data["users"] = fakeRows(10)
	target := newFakeDriver(DialectPostgres, tgt)

	err := replicateData(context.Background(), source, target, src, ir, tgt, defaultConfig(),
		replicateOptions{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(target.data["users"]) != 0 {
		t.Errorf("dry run wrote %d rows", len(target.data["users"]))
	}
}

func TestReplicateTableOrder(t *testing.T) {
	customers := Table{Name: "customers", Columns: []Column{
		{Name: "id", Type: ColumnType{Base: "bigint", Nullable: false}},
	}, PrimaryKey: &Key{Kind: KeyPrimary, Columns: []string{"id"}}}
	orders := Table{Name: "orders", Columns: []Column{
		{Name: "id", Type: ColumnType{Base: "bigint", Nullable: false}},
	}, PrimaryKey: &Key{Kind: KeyPrimary, Columns: []string{"id"}},
		Keys: []Key{{Kind: KeyForeign, Name: "fk_orders_customers", Columns: []string{"id"}, RefTable: "customers", RefColumns: []string{"id"}}}}
	items := Table{Name: "items", Columns: []Column{
		{Name: "id", Type: ColumnType{Base: "bigint", Nullable: false}},
	}, PrimaryKey: &Key{Kind: KeyPrimary, Columns: []string{"id"}},
		Keys: []Key{{Kind: KeyForeign, Name: "fk_items_orders", Columns: []string{"id"}, RefTable: "orders", RefColumns: []string{"id"}}}}

	ir := &Schema{Dialect: DialectMySQL, Tables: []Table{items, orders, customers}}
	if err := sortSchema(ir, false); err != nil {
		t.Fatal(err)
	}
	got := strings.Join(tableNames(ir.Tables), ",")
	if got != "customers,orders,items" {
		t.Fatalf("dependency order = %s", got)
	}

	src := &Schema{Dialect: DialectMySQL, Tables: []Table{customers, items, orders}}
	tgt := &Schema{Dialect: DialectPostgres, Tables: ir.Tables}

	source := newFakeDriver(DialectMySQL, src)
	source.data["customers"] = [][]Value{{intValue(1)}}
	source.data["orders"] = [][]Value{{intValue(1)}}
	source.data["items"] = [][]Value{{intValue(1)}}
	target := newFakeDriver(DialectPostgres, tgt)

	err := replicateData(context.Background(), source, target, src, ir, tgt, defaultConfig(), replicateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"customers", "orders", "items"} {
		if len(target.data[name]) != 1 {
			t.Errorf("table %s rows = %d, want 1", name, len(target.data[name]))
		}
	}
}
