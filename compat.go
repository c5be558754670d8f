package main

import (
	"fmt"
	"strings"
)

// indexUnsupportedReason reports index shapes that cannot carry over to a
// PostgreSQL target unchanged.
func indexUnsupportedReason(idx Index) (string, bool) {
	if len(idx.Columns) == 0 {
		return "index has no plain column key-parts (expression key-parts are not supported)", true
	}
	for _, ic := range idx.Columns {
		if ic.PrefixLen != nil {
			return "prefix key-parts are dropped (PostgreSQL b-tree has no prefix length)", true
		}
	}
	if idx.Kind == IndexHash && idx.Unique {
		return "unique hash indexes are created as b-tree", true
	}
	return "", false
}

// collectIndexCompatibilityWarnings lists indices that need attention
// when the target is PostgreSQL.
func collectIndexCompatibilityWarnings(schema *Schema) []string {
	var warnings []string
	for _, t := range schema.Tables {
		for _, idx := range t.Indices {
			if reason, unsupported := indexUnsupportedReason(idx); unsupported {
				warnings = append(warnings, fmt.Sprintf("%s.%s: %s", t.Name, idx.Name, reason))
			}
		}
	}
	return warnings
}

// sourceObjectWarnings lists non-table source objects that require manual
// migration; views, routines and triggers are out of scope.
func sourceObjectWarnings(objs *SourceObjects) []string {
	if objs == nil || len(objs.Views)+len(objs.Routines)+len(objs.Triggers) == 0 {
		return nil
	}
	warnings := []string{fmt.Sprintf(
		"source contains non-table objects not migrated automatically (%d views, %d routines, %d triggers)",
		len(objs.Views), len(objs.Routines), len(objs.Triggers))}
	for _, v := range objs.Views {
		warnings = append(warnings, "view: "+v)
	}
	for _, r := range objs.Routines {
		warnings = append(warnings, "routine: "+r)
	}
	for _, t := range objs.Triggers {
		warnings = append(warnings, "trigger: "+t)
	}
	return warnings
}

func isGeneratedColumn(col Column) bool {
	extra := strings.ToLower(col.Extra)
	return strings.Contains(extra, "virtual generated") || strings.Contains(extra, "stored generated")
}

// collectGeneratedColumnWarnings flags virtual/stored generated columns:
// their current values migrate as plain data and the generation
// expression is not recreated on the target.
func collectGeneratedColumnWarnings(schema *Schema) []string {
	if schema == nil {
		return nil
	}

	var warnings []string
	for _, t := range schema.Tables {
		for _, col := range t.Columns {
			if !isGeneratedColumn(col) {
				continue
			}
			warnings = append(warnings, fmt.Sprintf(
				"generated column %s.%s (%s) will be materialized as plain data; generation expression is not recreated",
				t.Name, col.Name, col.Extra,
			))
		}
	}
	return warnings
}

// collectOnUpdateWarnings flags columns whose ON UPDATE expression is
// carried in the IR but not emitted on the target.
func collectOnUpdateWarnings(schema *Schema) []string {
	var warnings []string
	for _, t := range schema.Tables {
		for _, c := range t.Columns {
			if c.OnUpdate != "" {
				warnings = append(warnings, fmt.Sprintf(
					"%s.%s: ON UPDATE %s is not carried to the target", t.Name, c.Name, c.OnUpdate))
			}
		}
	}
	return warnings
}
