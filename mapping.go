package main

import (
	"fmt"
	"strings"
)

// Mapper translates column types between dialects through the neutral IR.
// Evaluation order for a column traveling S→T:
//
//	S.rules.on_read → S.types.on_read → (IR) → T.types.on_write → T.rules.on_write
//
// Each stage is pure; results are memoized per (dialect, direction, type).
type Mapper struct {
	cfg        *Config
	allowLossy bool

	readMemo  map[string]memoEntry
	writeMemo map[string]memoEntry
}

type memoEntry struct {
	ct  ColumnType
	err error
}

func newMapper(cfg *Config, allowLossy bool) *Mapper {
	return &Mapper{
		cfg:        cfg,
		allowLossy: allowLossy,
		readMemo:   make(map[string]memoEntry),
		writeMemo:  make(map[string]memoEntry),
	}
}

func memoKey(d Dialect, ct ColumnType) string {
	key := string(d) + "|" + typeString(ct) + fmt.Sprintf("|n=%t", ct.Nullable)
	if ct.Params.ArrayElem != nil {
		key += "|elem=" + ct.Params.ArrayElem.Base
	}
	return key
}

// ToIR applies the source dialect's read-side rules and type map,
// producing the neutral IR column type.
func (m *Mapper) ToIR(src Dialect, ct ColumnType) (ColumnType, error) {
	key := memoKey(src, ct)
	if e, ok := m.readMemo[key]; ok {
		return e.ct, e.err
	}
	out, err := m.toIR(src, ct)
	m.readMemo[key] = memoEntry{out, err}
	return out, err
}

func (m *Mapper) toIR(src Dialect, ct ColumnType) (ColumnType, error) {
	mapping := m.cfg.Mapping(src)
	rules := mapping.Rules.OnRead

	// tinyint(1) → boolean is a read-side decision on MySQL.
	if src == DialectMySQL && rules.TinyInt1ToBool &&
		ct.Base == "tinyint" && paramLen(ct) == 1 && !ct.Unsigned {
		out := ct
		out.Base = "boolean"
		out.Params = TypeParams{}
		return out, nil
	}

	base, ok := mapping.Types.OnRead[ct.Base]
	if !ok {
		return ColumnType{}, kindError(errSchema,
			"no mapping for %s type %q (%s)", src, ct.Base, typeString(ct))
	}
	out := ct
	out.Base = base

	// Unsigned promotion ladder: each width moves up one signed step,
	// bigint unsigned lands in decimal(20,0).
	if out.Unsigned && rules.UnsignedIntToBigint && isIntegerBase(out.Base) {
		switch out.Base {
		case "tinyint":
			out.Base = "smallint"
		case "smallint", "mediumint":
			out.Base = "int"
		case "int":
			out.Base = "bigint"
		case "bigint":
			out.Base = "decimal"
			out.Params = TypeParams{Precision: int64Ptr(20), Scale: int64Ptr(0)}
		}
		out.Unsigned = false
	}
	return out, nil
}

// ToTarget applies the target dialect's type map and write-side rules to
// an IR column type, producing the concrete target type. Lossy mappings
// fail before any DDL runs unless --allow-lossy was given.
func (m *Mapper) ToTarget(dst Dialect, ct ColumnType) (ColumnType, error) {
	key := memoKey(dst, ct)
	if e, ok := m.writeMemo[key]; ok {
		return e.ct, e.err
	}
	out, err := m.toTarget(dst, ct)
	m.writeMemo[key] = memoEntry{out, err}
	return out, err
}

func (m *Mapper) toTarget(dst Dialect, ct ColumnType) (ColumnType, error) {
	mapping := m.cfg.Mapping(dst)
	rules := mapping.Rules.OnWrite

	if ct.Unsigned && dst == DialectPostgres {
		// PG has no unsigned integers; without the promotion rule this
		// truncates the upper half of the range.
		if !m.allowLossy {
			return ColumnType{}, kindError(errLossy,
				"unsigned %s cannot be represented on %s without widening (use unsigned_int_to_bigint or --allow-lossy)",
				typeString(ct), dst)
		}
		ct.Unsigned = false
	}

	base, ok := mapping.Types.OnWrite[ct.Base]
	if !ok {
		return ColumnType{}, kindError(errSchema,
			"no mapping for IR type %q (%s) on %s", ct.Base, typeString(ct), dst)
	}
	out := ct
	out.Base = base

	switch dst {
	case DialectPostgres:
		out.Unsigned = false
		switch ct.Base {
		case "bit":
			if paramLen(ct) <= 1 {
				out.Base = "boolean"
				out.Params = TypeParams{}
			} else {
				out.Base = "bytea"
				out.Params = TypeParams{}
			}
		case "enum":
			switch rules.EnumAs {
			case "native":
				out.Base = "enum"
			case "check", "text":
				out.Base = "text"
				if rules.EnumAs == "text" {
					out.Params.EnumValues = nil
				}
			}
		case "set":
			switch rules.SetAs {
			case "text_array":
				elem := ColumnType{Base: "text", Nullable: false}
				out.Base = "array"
				out.Params = TypeParams{ArrayElem: &elem, EnumValues: ct.Params.EnumValues}
			case "csv_text":
				out.Base = "text"
			}
		case "json", "jsonb":
			if !rules.JSONToJSONB {
				out.Base = "json"
			}
		case "uuid", "inet", "boolean", "date":
			out.Params = TypeParams{}
		}
	case DialectMySQL:
		switch ct.Base {
		case "uuid":
			out.Base = "char"
			out.Params = TypeParams{Length: int64Ptr(36)}
		case "inet":
			out.Base = "varchar"
			out.Params = TypeParams{Length: int64Ptr(45)}
		case "array":
			out.Base = "json"
			out.Params = TypeParams{}
		case "boolean":
			out.Base = "tinyint"
			out.Params = TypeParams{Length: int64Ptr(1)}
		}
	}

	if err := m.checkLossy(ct, out, dst); err != nil {
		return ColumnType{}, err
	}
	normalizeTargetParams(&out)
	return out, nil
}

// normalizeTargetParams drops parameters the target base type does not
// declare, so diffs against introspected target schemas do not see
// phantom changes (e.g. a MySQL display width surviving into integer).
func normalizeTargetParams(ct *ColumnType) {
	keepLength := map[string]bool{
		"varchar": true, "char": true, "character": true,
		"binary": true, "varbinary": true, "bit": true,
		"datetime": true, "timestamp": true, "timestamptz": true, "time": true,
		"tinyint": true,
	}
	keepPrecision := map[string]bool{"decimal": true, "numeric": true}
	keepEnum := map[string]bool{"enum": true, "set": true, "text": true, "array": true}

	if !keepLength[ct.Base] {
		ct.Params.Length = nil
	}
	if !keepPrecision[ct.Base] {
		ct.Params.Precision = nil
		ct.Params.Scale = nil
	}
	if !keepEnum[ct.Base] {
		ct.Params.EnumValues = nil
	}
	if ct.Base != "array" {
		ct.Params.ArrayElem = nil
	}
}

// checkLossy rejects target types that cannot carry the IR type's declared
// precision, scale or length.
func (m *Mapper) checkLossy(ir, out ColumnType, dst Dialect) error {
	if m.allowLossy {
		return nil
	}
	if ir.Base == "decimal" && isIntegerBase(out.Base) {
		if s := ir.Params.Scale; s != nil && *s > 0 {
			return kindError(errLossy,
				"mapping %s to %s %s drops the fractional part (use --allow-lossy to force)",
				typeString(ir), dst, out.Base)
		}
	}
	if l := ir.Params.Length; l != nil && out.Params.Length != nil && *out.Params.Length < *l {
		return kindError(errLossy,
			"mapping %s to %s truncates length %d to %d (use --allow-lossy to force)",
			typeString(ir), typeString(out), *l, *out.Params.Length)
	}
	return nil
}

// MapColumn runs the full read→IR→write pipeline for one column type.
func (m *Mapper) MapColumn(src, dst Dialect, ct ColumnType) (ColumnType, error) {
	ir, err := m.ToIR(src, ct)
	if err != nil {
		return ColumnType{}, err
	}
	return m.ToTarget(dst, ir)
}

// SchemaToIR rewrites every column of an introspected schema into the
// neutral IR form. The result is what `extract` persists.
func (m *Mapper) SchemaToIR(s *Schema) (*Schema, error) {
	out := *s
	out.Tables = make([]Table, len(s.Tables))
	for ti, t := range s.Tables {
		nt := t
		nt.Columns = make([]Column, len(t.Columns))
		for ci, c := range t.Columns {
			ir, err := m.ToIR(s.Dialect, c.Type)
			if err != nil {
				return nil, fmt.Errorf("table %s column %s: %w", t.Name, c.Name, err)
			}
			nc := c
			nc.Type = ir
			nt.Columns[ci] = nc
		}
		out.Tables[ti] = nt
	}
	if err := out.Validate(); err != nil {
		return nil, wrapKind(errSchema, err, "schema after read mapping")
	}
	return &out, nil
}

// SchemaToTarget rewrites an IR schema into the concrete target dialect:
// column types through the write pipeline, identifiers lowercased when the
// rule asks for it, index kinds adjusted (fulltext→gin on PG), defaults
// made representable.
func (m *Mapper) SchemaToTarget(ir *Schema, dst Dialect) (*Schema, error) {
	rules := m.cfg.Mapping(dst).Rules.OnWrite

	out := *ir
	out.Dialect = dst
	out.Tables = make([]Table, len(ir.Tables))
	for ti, t := range ir.Tables {
		nt := t
		nt.Name = m.ident(t.Name, rules)
		nt.Columns = make([]Column, len(t.Columns))
		for ci, c := range t.Columns {
			tct, err := m.ToTarget(dst, c.Type)
			if err != nil {
				return nil, fmt.Errorf("table %s column %s: %w", t.Name, c.Name, err)
			}
			nc := c
			nc.Name = m.ident(c.Name, rules)
			nc.Type = tct
			nc.Default = mapDefault(c, tct, dst, rules)
			if !rules.PreserveAutoIncrement {
				nc.AutoIncrement = false
			}
			nt.Columns[ci] = nc
		}
		if t.PrimaryKey != nil {
			pk := *t.PrimaryKey
			pk.Columns = m.idents(pk.Columns, rules)
			nt.PrimaryKey = &pk
		}
		nt.Keys = make([]Key, len(t.Keys))
		for ki, k := range t.Keys {
			nk := k
			nk.Name = m.ident(k.Name, rules)
			// PG index names are schema-wide; prefix with the table so
			// two tables can carry the same index name.
			if dst == DialectPostgres && k.Kind == KeyUnique {
				nk.Name = nt.Name + "_" + nk.Name
			}
			nk.Columns = m.idents(k.Columns, rules)
			nk.RefTable = m.ident(k.RefTable, rules)
			nk.RefColumns = m.idents(k.RefColumns, rules)
			nt.Keys[ki] = nk
		}
		nt.Indices = make([]Index, len(t.Indices))
		for ii, idx := range t.Indices {
			ni := idx
			ni.Name = m.ident(idx.Name, rules)
			if dst == DialectPostgres {
				ni.Name = nt.Name + "_" + ni.Name
			}
			ni.Columns = make([]IndexColumn, len(idx.Columns))
			for ci, ic := range idx.Columns {
				nc := ic
				nc.Name = m.ident(ic.Name, rules)
				if dst == DialectPostgres {
					// PG b-tree key-parts have no prefix length.
					nc.PrefixLen = nil
				}
				ni.Columns[ci] = nc
			}
			if dst == DialectPostgres && idx.Kind == IndexFullText {
				if rules.FulltextToGin {
					ni.Kind = IndexGin
				} else {
					ni.Kind = IndexBTree
				}
			}
			if dst == DialectMySQL && (idx.Kind == IndexGin || idx.Kind == IndexGist) {
				ni.Kind = IndexFullText
			}
			nt.Indices[ii] = ni
		}
		out.Tables[ti] = nt
	}
	if err := out.Validate(); err != nil {
		return nil, wrapKind(errSchema, err, "schema after write mapping")
	}
	return &out, nil
}

func (m *Mapper) ident(name string, rules RuleSet) string {
	if rules.LowercaseIdentifiers {
		return strings.ToLower(name)
	}
	return name
}

func (m *Mapper) idents(names []string, rules RuleSet) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = m.ident(n, rules)
	}
	return out
}

// mapDefault rewrites a column default so it is representable in the
// target type. MySQL zero-date defaults become the epoch date on targets
// that reject them; unrepresentable defaults are dropped rather than
// emitted broken.
func mapDefault(c Column, tct ColumnType, dst Dialect, rules RuleSet) *string {
	if c.Default == nil {
		return nil
	}
	def := strings.TrimSpace(*c.Default)
	if def == "" || strings.EqualFold(def, "null") {
		return nil
	}
	if dst == DialectPostgres && isZeroDateLiteral(def) {
		if !rules.ZeroDateToNull {
			return nil
		}
		if c.Type.Nullable {
			return nil
		}
		epoch := "1970-01-01"
		if c.Type.Base == "datetime" || c.Type.Base == "datetime_tz" {
			epoch = "1970-01-01 00:00:00"
		}
		return &epoch
	}
	if dst == DialectPostgres && (tct.Base == "bytea" || tct.Base == "array") {
		return nil
	}
	if tct.Base == "boolean" {
		switch def {
		case "0":
			f := "false"
			return &f
		case "1":
			t := "true"
			return &t
		}
	}
	return &def
}

func isZeroDateLiteral(s string) bool {
	s = strings.Trim(s, "'")
	return strings.HasPrefix(s, "0000-00-00")
}

func paramLen(ct ColumnType) int64 {
	if ct.Params.Length != nil {
		return *ct.Params.Length
	}
	if ct.Params.Precision != nil {
		return *ct.Params.Precision
	}
	return 0
}

// preflightSchema maps every column of an IR schema to the target dialect
// up front so missing or lossy mappings surface before any DDL runs.
func preflightSchema(m *Mapper, ir *Schema, dst Dialect) error {
	var errs []string
	for _, t := range ir.Tables {
		for _, c := range t.Columns {
			if _, err := m.ToTarget(dst, c.Type); err != nil {
				errs = append(errs, fmt.Sprintf("%s.%s (%s): %v", t.Name, c.Name, typeString(c.Type), err))
				if ec := exitCode(err); ec == int(errLossy) {
					return wrapKind(errLossy, fmt.Errorf("%s", errs[len(errs)-1]), "lossy mapping")
				}
			}
		}
	}
	if len(errs) > 0 {
		return kindError(errSchema, "unmappable column types:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}
