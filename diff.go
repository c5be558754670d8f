package main

import (
	"fmt"
	"reflect"
)

// columnChange pairs the live column with its desired replacement.
type columnChange struct {
	live    Column
	desired Column
}

// tableDiff is the computed difference for one table.
type tableDiff struct {
	Table  *Table // desired definition
	Create bool   // table absent on target

	AddColumns   []Column
	AlterColumns []columnChange
	DropColumns  []string

	AddIndices  []Index
	DropIndices []Index
}

// Empty reports whether the diff requires no statements.
func (d *tableDiff) Empty() bool {
	return !d.Create &&
		len(d.AddColumns) == 0 && len(d.AlterColumns) == 0 && len(d.DropColumns) == 0 &&
		len(d.AddIndices) == 0 && len(d.DropIndices) == 0
}

// diffTable compares a desired table against the live one. live == nil
// means the table is absent on the target.
func diffTable(desired *Table, live *Table) *tableDiff {
	d := &tableDiff{Table: desired}
	if live == nil {
		d.Create = true
		return d
	}

	liveCols := make(map[string]Column, len(live.Columns))
	for _, c := range live.Columns {
		liveCols[c.Name] = c
	}
	desiredCols := make(map[string]bool, len(desired.Columns))
	for _, c := range desired.Columns {
		desiredCols[c.Name] = true
		lc, ok := liveCols[c.Name]
		if !ok {
			d.AddColumns = append(d.AddColumns, c)
			continue
		}
		if columnChanged(lc, c) {
			d.AlterColumns = append(d.AlterColumns, columnChange{live: lc, desired: c})
		}
	}
	for _, c := range live.Columns {
		if !desiredCols[c.Name] {
			d.DropColumns = append(d.DropColumns, c.Name)
		}
	}

	liveIdx := make(map[string]Index, len(live.Indices))
	for _, idx := range live.Indices {
		liveIdx[idx.Name] = idx
	}
	desiredIdx := make(map[string]bool, len(desired.Indices))
	for _, idx := range desired.Indices {
		desiredIdx[idx.Name] = true
		li, ok := liveIdx[idx.Name]
		if !ok {
			d.AddIndices = append(d.AddIndices, idx)
			continue
		}
		if !indicesEqual(li, idx) {
			d.DropIndices = append(d.DropIndices, li)
			d.AddIndices = append(d.AddIndices, idx)
		}
	}
	for _, idx := range live.Indices {
		if !desiredIdx[idx.Name] {
			d.DropIndices = append(d.DropIndices, idx)
		}
	}

	return d
}

// columnChanged compares type, nullability and default.
func columnChanged(live, desired Column) bool {
	if !reflect.DeepEqual(live.Type, desired.Type) {
		return true
	}
	ld, dd := "", ""
	if live.Default != nil {
		ld = *live.Default
	}
	if desired.Default != nil {
		dd = *desired.Default
	}
	return ld != dd
}

func indicesEqual(a, b Index) bool {
	if a.Kind != b.Kind || a.Unique != b.Unique || len(a.Columns) != len(b.Columns) {
		return false
	}
	for i := range a.Columns {
		if a.Columns[i].Name != b.Columns[i].Name || a.Columns[i].Desc != b.Columns[i].Desc {
			return false
		}
		ap, bp := a.Columns[i].PrefixLen, b.Columns[i].PrefixLen
		if (ap == nil) != (bp == nil) || (ap != nil && *ap != *bp) {
			return false
		}
	}
	return true
}

// statements renders a diff through the target driver. Statement order:
// create table (full), else add columns, alter columns, drop indices,
// add indices, drop columns — drops last to minimize dependency breaks.
func (d *tableDiff) statements(drv Driver) ([]string, error) {
	if d.Create {
		return drv.RenderDDL(d.Table)
	}
	var stmts []string
	for _, c := range d.AddColumns {
		stmts = append(stmts, drv.RenderAddColumn(d.Table, c))
	}
	for _, ch := range d.AlterColumns {
		stmts = append(stmts, drv.RenderAlterColumn(d.Table, ch.live, ch.desired)...)
	}
	for _, idx := range d.DropIndices {
		stmts = append(stmts, drv.RenderDropIndex(d.Table, idx))
	}
	for _, idx := range d.AddIndices {
		stmts = append(stmts, drv.RenderCreateIndex(d.Table, idx))
	}
	for _, name := range d.DropColumns {
		stmts = append(stmts, drv.RenderDropColumn(d.Table, name))
	}
	return stmts, nil
}

// diffOptions holds the schema-apply policy flags.
type diffOptions struct {
	DropUnknown bool
	Force       bool
	DryRun      bool
}

// migrationPlan is the per-table statement list for one schema apply.
type migrationPlan struct {
	TableStmts map[string][]string
	Order      []string
	Warnings   []string
}

// planSchemaApply computes the minimal DDL bringing the target into
// conformance with the (already sorted, target-dialect) desired schema.
func planSchemaApply(drv Driver, desired *Schema, live *Schema, opts diffOptions) (*migrationPlan, error) {
	plan := &migrationPlan{TableStmts: make(map[string][]string)}

	for i := range desired.Tables {
		t := &desired.Tables[i]
		diff := diffTable(t, live.Table(t.Name))
		if diff.Empty() {
			continue
		}
		stmts, err := diff.statements(drv)
		if err != nil {
			return nil, wrapKind(errSchema, err, "render ddl for %s", t.Name)
		}
		plan.TableStmts[t.Name] = stmts
		plan.Order = append(plan.Order, t.Name)
	}

	for i := range live.Tables {
		lt := &live.Tables[i]
		if desired.Table(lt.Name) != nil {
			continue
		}
		if opts.DropUnknown {
			name := lt.Name
			plan.TableStmts[name] = []string{drv.RenderDropTable(name)}
			plan.Order = append(plan.Order, name)
		} else {
			plan.Warnings = append(plan.Warnings,
				fmt.Sprintf("target table %s is not in the desired schema (kept; use drop_unknown to remove)", lt.Name))
		}
	}

	return plan, nil
}
