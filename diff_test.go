package main

import (
	"strings"
	"testing"
)

func pgTestDriver() *postgresDriver {
	return &postgresDriver{schema: "public", cfg: defaultConfig()}
}

func desiredTable() *Table {
	return &Table{
		Name: "users",
		Columns: []Column{
			{Name: "id", Type: ColumnType{Base: "bigint", Nullable: false}, AutoIncrement: true},
			{Name: "email", Type: ColumnType{Base: "varchar", Params: TypeParams{Length: int64Ptr(255)}, Nullable: false}},
			{Name: "bio", Type: ColumnType{Base: "text", Nullable: true}},
		},
		PrimaryKey: &Key{Kind: KeyPrimary, Columns: []string{"id"}},
		Indices: []Index{
			{Name: "idx_email", Kind: IndexBTree, Unique: false, Columns: []IndexColumn{{Name: "email"}}},
		},
	}
}

func TestDiffTableCreate(t *testing.T) {
	d := diffTable(desiredTable(), nil)
	if !d.Create {
		t.Fatal("absent table should produce a create diff")
	}
	stmts, err := d.statements(pgTestDriver())
	if err != nil {
		t.Fatal(err)
	}
	if len(stmts) < 2 {
		t.Fatalf("create should emit table + index statements, got %d", len(stmts))
	}
	if !strings.HasPrefix(stmts[0], "CREATE TABLE public.users") {
		t.Errorf("first statement = %q", stmts[0])
	}
	if !strings.Contains(stmts[0], "PRIMARY KEY (id)") {
		t.Errorf("create table should inline the primary key: %q", stmts[0])
	}
	last := stmts[len(stmts)-1]
	if !strings.HasPrefix(last, "CREATE INDEX") {
		t.Errorf("index statement = %q", last)
	}
}

func TestDiffTableNoChanges(t *testing.T) {
	a, b := desiredTable(), desiredTable()
	d := diffTable(a, b)
	if !d.Empty() {
		t.Errorf("identical tables should diff empty: %+v", d)
	}
}

func TestDiffTableColumnChanges(t *testing.T) {
	live := desiredTable()
	desired := desiredTable()

	// add one column, change one type, drop one column
	desired.Columns = append(desired.Columns, Column{
		Name: "created_at", Type: ColumnType{Base: "timestamptz", Nullable: false},
	})
	desired.Columns[1].Type.Params.Length = int64Ptr(500)
	live.Columns = append(live.Columns, Column{
		Name: "legacy", Type: ColumnType{Base: "text", Nullable: true},
	})

	d := diffTable(desired, live)
	if len(d.AddColumns) != 1 || d.AddColumns[0].Name != "created_at" {
		t.Errorf("AddColumns = %+v", d.AddColumns)
	}
	if len(d.AlterColumns) != 1 || d.AlterColumns[0].desired.Name != "email" {
		t.Errorf("AlterColumns = %+v", d.AlterColumns)
	}
	if len(d.DropColumns) != 1 || d.DropColumns[0] != "legacy" {
		t.Errorf("DropColumns = %+v", d.DropColumns)
	}

	stmts, err := d.statements(pgTestDriver())
	if err != nil {
		t.Fatal(err)
	}
	// adds before alters before drops
	if !strings.Contains(stmts[0], "ADD COLUMN") {
		t.Errorf("first stmt should add: %q", stmts[0])
	}
	last := stmts[len(stmts)-1]
	if !strings.Contains(last, "DROP COLUMN") {
		t.Errorf("last stmt should drop: %q", last)
	}
}

func TestDiffTableIndexChanges(t *testing.T) {
	live := desiredTable()
	desired := desiredTable()
	desired.Indices[0].Columns = []IndexColumn{{Name: "email"}, {Name: "bio"}}
	desired.Indices = append(desired.Indices, Index{
		Name: "idx_bio", Kind: IndexBTree, Columns: []IndexColumn{{Name: "bio"}},
	})

	d := diffTable(desired, live)
	// idx_email changed columns → drop+add; idx_bio new → add
	if len(d.DropIndices) != 1 || d.DropIndices[0].Name != "idx_email" {
		t.Errorf("DropIndices = %+v", d.DropIndices)
	}
	if len(d.AddIndices) != 2 {
		t.Errorf("AddIndices = %+v", d.AddIndices)
	}
}

func TestIndicesEqual(t *testing.T) {
	a := Index{Name: "i", Kind: IndexBTree, Columns: []IndexColumn{{Name: "x"}}}
	b := Index{Name: "i", Kind: IndexBTree, Columns: []IndexColumn{{Name: "x"}}}
	if !indicesEqual(a, b) {
		t.Error("identical indices unequal")
	}
	b.Unique = true
	if indicesEqual(a, b) {
		t.Error("unique flag ignored")
	}
	b = a
	b.Columns = []IndexColumn{{Name: "x", PrefixLen: int64Ptr(10)}}
	if indicesEqual(a, b) {
		t.Error("prefix length ignored")
	}
}

func TestPlanSchemaApplyUnknownTables(t *testing.T) {
	desired := &Schema{Dialect: DialectPostgres, Tables: []Table{*desiredTable()}}
	live := &Schema{Dialect: DialectPostgres, Tables: []Table{
		*desiredTable(),
		{Name: "extraneous", Columns: []Column{{Name: "id", Type: ColumnType{Base: "bigint", Nullable: false}}}},
	}}

	plan, err := planSchemaApply(pgTestDriver(), desired, live, diffOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Order) != 0 {
		t.Errorf("conforming schema should produce no statements, got %v", plan.Order)
	}
	if len(plan.Warnings) != 1 || !strings.Contains(plan.Warnings[0], "extraneous") {
		t.Errorf("Warnings = %v", plan.Warnings)
	}

	plan, err = planSchemaApply(pgTestDriver(), desired, live, diffOptions{DropUnknown: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Order) != 1 || plan.TableStmts["extraneous"][0] != `DROP TABLE public.extraneous` {
		t.Errorf("drop_unknown plan = %+v", plan.TableStmts)
	}
}

// diff of a schema against itself is empty, so applying a plan and
// re-diffing yields zero statements (dry-run idempotence).
func TestDiffIdempotence(t *testing.T) {
	desired := &Schema{Dialect: DialectPostgres, Tables: []Table{*desiredTable()}}
	plan, err := planSchemaApply(pgTestDriver(), desired, desired, diffOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Order) != 0 {
		t.Errorf("diff(S, S) should be empty, got %v", plan.Order)
	}
}
