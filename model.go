package main

import (
	"fmt"
	"sort"
	"strings"
)

// Dialect identifies a supported engine.
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
)

// TypeParams carries the structured parameters of a column type.
type TypeParams struct {
	Length     *int64      `json:"length,omitempty"`
	Precision  *int64      `json:"precision,omitempty"`
	Scale      *int64      `json:"scale,omitempty"`
	EnumValues []string    `json:"enum_values,omitempty"`
	ArrayElem  *ColumnType `json:"array_elem,omitempty"`
}

// ColumnType is a structured type spec, never a raw string. Base holds the
// lowercase dialect (or neutral) base-type token.
type ColumnType struct {
	Base     string     `json:"base"`
	Params   TypeParams `json:"params"`
	Unsigned bool       `json:"unsigned,omitempty"`
	Nullable bool       `json:"nullable"`
}

// Column is one table column. Default holds the literal or expression text
// as introspected; OnUpdate carries MySQL ON UPDATE expressions as
// metadata; Extra preserves the raw column attribute text (MySQL EXTRA or
// the PG generated marker) for compatibility reporting.
type Column struct {
	Name          string     `json:"name"`
	Type          ColumnType `json:"type"`
	Default       *string    `json:"default,omitempty"`
	Comment       string     `json:"comment,omitempty"`
	Extra         string     `json:"extra,omitempty"`
	OnUpdate      string     `json:"on_update,omitempty"`
	AutoIncrement bool       `json:"auto_increment,omitempty"`
}

// IndexKind enumerates supported index access methods.
type IndexKind string

const (
	IndexBTree    IndexKind = "btree"
	IndexHash     IndexKind = "hash"
	IndexFullText IndexKind = "fulltext"
	IndexGin      IndexKind = "gin"
	IndexGist     IndexKind = "gist"
)

// IndexColumn is one key-part of an index.
type IndexColumn struct {
	Name      string `json:"name"`
	PrefixLen *int64 `json:"prefix_len,omitempty"`
	Desc      bool   `json:"desc,omitempty"`
}

// Index is a secondary index.
type Index struct {
	Name    string        `json:"name"`
	Kind    IndexKind     `json:"kind"`
	Unique  bool          `json:"unique,omitempty"`
	Columns []IndexColumn `json:"columns"`
}

// KeyKind enumerates key constraint categories.
type KeyKind string

const (
	KeyPrimary KeyKind = "primary"
	KeyUnique  KeyKind = "unique"
	KeyForeign KeyKind = "foreign"
)

// Key is a primary, unique or foreign key. Foreign keys are carried as
// metadata for dependency ordering only; no FK DDL is emitted.
type Key struct {
	Kind       KeyKind  `json:"kind"`
	Name       string   `json:"name,omitempty"`
	Columns    []string `json:"columns"`
	RefTable   string   `json:"ref_table,omitempty"`
	RefColumns []string `json:"ref_columns,omitempty"`
	OnDelete   string   `json:"on_delete,omitempty"`
	OnUpdate   string   `json:"on_update,omitempty"`
}

// Table is one table with ordered columns.
type Table struct {
	Name        string   `json:"name"`
	Schema      string   `json:"schema,omitempty"`
	Columns     []Column `json:"columns"`
	PrimaryKey  *Key     `json:"primary_key,omitempty"`
	Keys        []Key    `json:"keys,omitempty"`
	Indices     []Index  `json:"indices,omitempty"`
	EngineHint  string   `json:"engine_hint,omitempty"`
	CharsetHint string   `json:"charset_hint,omitempty"`
}

// SchemaMetadata records where and when a schema snapshot was extracted.
type SchemaMetadata struct {
	SourceSystem       string `json:"source_system"`
	SourceDatabaseName string `json:"source_database_name"`
	CreatedAt          string `json:"created_at"`
	ForgeVersion       string `json:"forge_version"`
	ConfigFile         string `json:"config_file,omitempty"`
}

// Schema holds all introspected tables of one database.
type Schema struct {
	Dialect  Dialect        `json:"dialect"`
	Metadata SchemaMetadata `json:"metadata"`
	Tables   []Table        `json:"tables"`
}

// Column returns the named column, or nil.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// ForeignKeys returns the FK metadata entries of the table.
func (t *Table) ForeignKeys() []Key {
	var fks []Key
	for _, k := range t.Keys {
		if k.Kind == KeyForeign {
			fks = append(fks, k)
		}
	}
	return fks
}

// Table returns the named table, or nil.
func (s *Schema) Table(name string) *Table {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i]
		}
	}
	return nil
}

var integerBases = map[string]bool{
	"tinyint": true, "smallint": true, "mediumint": true,
	"int": true, "integer": true, "bigint": true,
	"serial": true, "bigserial": true, "smallserial": true,
}

func isIntegerBase(base string) bool { return integerBases[base] }

// Validate checks the structural invariants of the schema. It is called
// after introspection and again after type mapping, before any DDL runs.
func (s *Schema) Validate() error {
	for ti := range s.Tables {
		t := &s.Tables[ti]
		if t.Name == "" {
			return fmt.Errorf("table %d has empty name", ti)
		}
		cols := make(map[string]bool, len(t.Columns))
		for _, c := range t.Columns {
			if cols[c.Name] {
				return fmt.Errorf("table %s: duplicate column %q", t.Name, c.Name)
			}
			cols[c.Name] = true
			if c.Type.Unsigned && !isIntegerBase(c.Type.Base) {
				return fmt.Errorf("table %s: column %q: unsigned is invalid for base type %q",
					t.Name, c.Name, c.Type.Base)
			}
			if p, sc := c.Type.Params.Precision, c.Type.Params.Scale; p != nil && sc != nil && *sc > *p {
				return fmt.Errorf("table %s: column %q: scale %d exceeds precision %d",
					t.Name, c.Name, *sc, *p)
			}
		}
		if t.PrimaryKey != nil {
			for _, pc := range t.PrimaryKey.Columns {
				col := t.Column(pc)
				if col == nil {
					return fmt.Errorf("table %s: primary key references unknown column %q", t.Name, pc)
				}
				if col.Type.Nullable {
					return fmt.Errorf("table %s: primary key column %q is nullable", t.Name, pc)
				}
			}
		}
		idxNames := make(map[string]bool, len(t.Indices))
		for _, idx := range t.Indices {
			if idxNames[idx.Name] {
				return fmt.Errorf("table %s: duplicate index %q", t.Name, idx.Name)
			}
			idxNames[idx.Name] = true
			for _, ic := range idx.Columns {
				if !cols[ic.Name] {
					return fmt.Errorf("table %s: index %q references unknown column %q",
						t.Name, idx.Name, ic.Name)
				}
			}
		}
		for _, k := range t.Keys {
			for _, kc := range k.Columns {
				if !cols[kc] {
					return fmt.Errorf("table %s: key %q references unknown column %q",
						t.Name, k.Name, kc)
				}
			}
		}
	}
	return nil
}

// Canonicalize puts the schema into its stable form: tables lexicographic,
// indices and keys lexicographic by name. Column order is preserved
// (ordinal position is significant), as is enum label declaration order.
func (s *Schema) Canonicalize() {
	sort.SliceStable(s.Tables, func(i, j int) bool {
		return s.Tables[i].Name < s.Tables[j].Name
	})
	for ti := range s.Tables {
		t := &s.Tables[ti]
		sort.SliceStable(t.Indices, func(i, j int) bool {
			return t.Indices[i].Name < t.Indices[j].Name
		})
		sort.SliceStable(t.Keys, func(i, j int) bool {
			if t.Keys[i].Kind != t.Keys[j].Kind {
				return t.Keys[i].Kind < t.Keys[j].Kind
			}
			return t.Keys[i].Name < t.Keys[j].Name
		})
	}
}

// typeString renders a ColumnType for messages, e.g. "varchar(255)" or
// "decimal(10,2) unsigned".
func typeString(ct ColumnType) string {
	var b strings.Builder
	b.WriteString(ct.Base)
	switch {
	case ct.Params.Precision != nil && ct.Params.Scale != nil:
		fmt.Fprintf(&b, "(%d,%d)", *ct.Params.Precision, *ct.Params.Scale)
	case ct.Params.Precision != nil:
		fmt.Fprintf(&b, "(%d)", *ct.Params.Precision)
	case ct.Params.Length != nil:
		fmt.Fprintf(&b, "(%d)", *ct.Params.Length)
	case len(ct.Params.EnumValues) > 0:
		quoted := make([]string, len(ct.Params.EnumValues))
		for i, v := range ct.Params.EnumValues {
			quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
		}
		fmt.Fprintf(&b, "(%s)", strings.Join(quoted, ","))
	}
	if ct.Unsigned {
		b.WriteString(" unsigned")
	}
	return b.String()
}

func int64Ptr(v int64) *int64 { return &v }
