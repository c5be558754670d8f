package main

import (
	"fmt"
	"sort"
	"strings"
)

// sortTablesByDependencies orders tables so that for every FK edge T → T'
// the referenced table T' comes first. Ties break lexicographically by
// table name, so the order is fully deterministic. Cycles fail with the
// cycle's member set unless breakCycles is set, in which case FK edges
// touching the lexicographically largest cycle member are dropped until a
// DAG remains.
func sortTablesByDependencies(schema *Schema, breakCycles bool) ([]Table, error) {
	byName := make(map[string]*Table, len(schema.Tables))
	for i := range schema.Tables {
		byName[schema.Tables[i].Name] = &schema.Tables[i]
	}

	// deps[t] = set of tables t references (must precede t)
	deps := make(map[string]map[string]bool, len(schema.Tables))
	for _, t := range schema.Tables {
		deps[t.Name] = make(map[string]bool)
		for _, fk := range t.ForeignKeys() {
			if fk.RefTable == t.Name {
				// self-reference never affects table order
				continue
			}
			if _, ok := byName[fk.RefTable]; ok {
				deps[t.Name][fk.RefTable] = true
			}
		}
	}

	for {
		sorted, cycle := kahnSort(deps)
		if cycle == nil {
			out := make([]Table, len(sorted))
			for i, name := range sorted {
				out[i] = *byName[name]
			}
			return out, nil
		}
		if !breakCycles {
			sort.Strings(cycle)
			return nil, kindError(errSchema,
				"circular foreign key dependency between tables: %s (use --break-cycles to drop edges)",
				strings.Join(cycle, ", "))
		}
		// Drop the dependency edges of the lexicographically largest
		// member first; repeat until the remainder sorts.
		largest := cycle[0]
		for _, name := range cycle {
			if name > largest {
				largest = name
			}
		}
		deps[largest] = make(map[string]bool)
	}
}

// kahnSort returns a topological order with lexicographic tiebreak, or
// the vertex set of the remaining (cyclic) subgraph.
func kahnSort(deps map[string]map[string]bool) (sorted []string, cycle []string) {
	remaining := make(map[string]map[string]bool, len(deps))
	for name, d := range deps {
		cp := make(map[string]bool, len(d))
		for k := range d {
			cp[k] = true
		}
		remaining[name] = cp
	}

	for len(remaining) > 0 {
		var ready []string
		for name, d := range remaining {
			if len(d) == 0 {
				ready = append(ready, name)
			}
		}
		if len(ready) == 0 {
			return nil, cycleMembers(remaining)
		}
		sort.Strings(ready)
		for _, name := range ready {
			sorted = append(sorted, name)
			delete(remaining, name)
		}
		for _, d := range remaining {
			for _, name := range ready {
				delete(d, name)
			}
		}
	}
	return sorted, nil
}

// cycleMembers trims the stalled subgraph down to actual cycle members:
// vertices nothing depends on cannot be part of a cycle and are removed
// iteratively, so downstream dependents of a cycle are not reported (or
// edge-dropped) with it.
func cycleMembers(stalled map[string]map[string]bool) []string {
	remaining := make(map[string]map[string]bool, len(stalled))
	for name, d := range stalled {
		cp := make(map[string]bool, len(d))
		for k := range d {
			cp[k] = true
		}
		remaining[name] = cp
	}

	for {
		dependedOn := make(map[string]bool)
		for _, d := range remaining {
			for dep := range d {
				dependedOn[dep] = true
			}
		}
		var trimmed []string
		for name := range remaining {
			if !dependedOn[name] {
				trimmed = append(trimmed, name)
			}
		}
		if len(trimmed) == 0 {
			break
		}
		for _, name := range trimmed {
			delete(remaining, name)
		}
	}

	var cycle []string
	for name := range remaining {
		cycle = append(cycle, name)
	}
	sort.Strings(cycle)
	return cycle
}

// sortSchema replaces schema.Tables with the dependency order and
// verifies the result covers every table exactly once.
func sortSchema(schema *Schema, breakCycles bool) error {
	sorted, err := sortTablesByDependencies(schema, breakCycles)
	if err != nil {
		return err
	}
	if len(sorted) != len(schema.Tables) {
		return fmt.Errorf("dependency sort lost tables: %d in, %d out", len(schema.Tables), len(sorted))
	}
	schema.Tables = sorted
	return nil
}
