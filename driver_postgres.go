package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type postgresDriver struct {
	pool   *pgxpool.Pool
	cfg    *Config
	dbName string
	schema string // namespace, default "public"

	stmtTimeout  time.Duration
	fetchTimeout time.Duration
}

func openPostgres(ctx context.Context, rawURL string, cfg *Config) (Driver, error) {
	pcfg, err := pgxpool.ParseConfig(rawURL)
	if err != nil {
		return nil, wrapKind(errUsage, err, "postgres url")
	}
	pcfg.MaxConns = int32(cfg.PoolSize)

	var pool *pgxpool.Pool
	if err := withConnectRetry(ctx, "postgres", func() error {
		var perr error
		pool, perr = pgxpool.NewWithConfig(ctx, pcfg)
		if perr != nil {
			return perr
		}
		if perr = pool.Ping(ctx); perr != nil {
			pool.Close()
		}
		return perr
	}); err != nil {
		return nil, err
	}

	return &postgresDriver{
		pool:         pool,
		cfg:          cfg,
		dbName:       pcfg.ConnConfig.Database,
		schema:       "public",
		stmtTimeout:  time.Duration(cfg.StatementTimeoutSecs) * time.Second,
		fetchTimeout: time.Duration(cfg.FetchTimeoutSecs) * time.Second,
	}, nil
}

func (d *postgresDriver) Name() string     { return "PostgreSQL" }
func (d *postgresDriver) Dialect() Dialect { return DialectPostgres }
func (d *postgresDriver) Close()           { d.pool.Close() }

func (d *postgresDriver) QuoteIdent(name string) string { return pgIdent(name) }
func (d *postgresDriver) Literal(v Value) string        { return pgLiteral(v) }

func (d *postgresDriver) tableRef(t *Table) string {
	return pgIdent(d.schema) + "." + pgIdent(t.Name)
}

// --- Introspection (pg_catalog) ---

func (d *postgresDriver) FetchSchema(ctx context.Context) (*Schema, error) {
	schema := &Schema{
		Dialect: DialectPostgres,
		Metadata: SchemaMetadata{
			SourceSystem:       string(DialectPostgres),
			SourceDatabaseName: d.dbName,
			CreatedAt:          time.Now().UTC().Format(time.RFC3339),
			ForgeVersion:       version,
		},
	}

	rows, err := d.pool.Query(ctx,
		`SELECT c.relname
		 FROM pg_catalog.pg_class c
		 JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		 WHERE c.relkind = 'r' AND n.nspname = $1
		 ORDER BY c.relname`, d.schema)
	if err != nil {
		return nil, wrapKind(errSchema, err, "introspect tables")
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, name := range names {
		t := Table{Name: name}
		if t.Columns, err = d.fetchColumns(ctx, name); err != nil {
			return nil, wrapKind(errSchema, err, "introspect columns for %s", name)
		}
		if err = d.fetchIndexes(ctx, &t); err != nil {
			return nil, wrapKind(errSchema, err, "introspect indexes for %s", name)
		}
		fks, err := d.fetchForeignKeys(ctx, name)
		if err != nil {
			return nil, wrapKind(errSchema, err, "introspect foreign keys for %s", name)
		}
		t.Keys = append(t.Keys, fks...)
		schema.Tables = append(schema.Tables, t)
	}

	if err := schema.Validate(); err != nil {
		return nil, wrapKind(errSchema, err, "introspected schema")
	}
	return schema, nil
}

func (d *postgresDriver) fetchColumns(ctx context.Context, tableName string) ([]Column, error) {
	// typelem/typtype recover array element types and enum labels;
	// atttypmod decodes varchar length and numeric precision/scale.
	rows, err := d.pool.Query(ctx,
		`SELECT a.attname,
		        t.typname,
		        t.typtype::text,
		        COALESCE(et.typname, ''),
		        COALESCE(et.typtype::text, ''),
		        a.atttypmod,
		        a.attnotnull,
		        COALESCE(pg_get_expr(ad.adbin, ad.adrelid), ''),
		        a.attidentity <> '' OR COALESCE(pg_get_expr(ad.adbin, ad.adrelid), '') LIKE 'nextval(%',
		        a.attgenerated::text,
		        COALESCE(col_description(c.oid, a.attnum), '')
		 FROM pg_catalog.pg_attribute a
		 JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
		 JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		 JOIN pg_catalog.pg_type t ON t.oid = a.atttypid
		 LEFT JOIN pg_catalog.pg_type et ON et.oid = t.typelem AND t.typcategory = 'A'
		 LEFT JOIN pg_catalog.pg_attrdef ad ON ad.adrelid = a.attrelid AND ad.adnum = a.attnum
		 WHERE n.nspname = $1 AND c.relname = $2
		   AND a.attnum > 0 AND NOT a.attisdropped
		 ORDER BY a.attnum`, d.schema, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			name, typName, typType, elemName, elemType, defExpr, generated, comment string
			typMod                                                                  int32
			notNull, autoInc                                                        bool
		)
		if err := rows.Scan(&name, &typName, &typType, &elemName, &elemType,
			&typMod, &notNull, &defExpr, &autoInc, &generated, &comment); err != nil {
			return nil, err
		}

		ct, err := d.columnTypeFromCatalog(ctx, typName, typType, elemName, typMod)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		ct.Nullable = !notNull

		c := Column{Name: name, Type: ct, Comment: comment, AutoIncrement: autoInc}
		if generated == "s" {
			c.Extra = "STORED GENERATED"
		}
		// generated columns keep their expression in pg_attrdef; it is
		// not a default
		if defExpr != "" && !autoInc && generated == "" {
			def := normalizePGDefault(defExpr)
			if def != "" {
				c.Default = &def
			}
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (d *postgresDriver) columnTypeFromCatalog(ctx context.Context, typName, typType, elemName string, typMod int32) (ColumnType, error) {
	if typType == "e" {
		labels, err := d.fetchEnumLabels(ctx, typName)
		if err != nil {
			return ColumnType{}, err
		}
		return ColumnType{Base: "enum", Params: TypeParams{EnumValues: labels}}, nil
	}
	if elemName != "" && strings.HasPrefix(typName, "_") {
		elem := pgBaseType(elemName, -1)
		return ColumnType{Base: "array", Params: TypeParams{ArrayElem: &elem}}, nil
	}
	return pgBaseType(typName, typMod), nil
}

// pgBaseType normalizes catalog type names: character varying(n) becomes
// varchar(n), internal names map to their SQL spellings.
func pgBaseType(typName string, typMod int32) ColumnType {
	var ct ColumnType
	switch typName {
	case "int2":
		ct.Base = "smallint"
	case "int4":
		ct.Base = "integer"
	case "int8":
		ct.Base = "bigint"
	case "float4":
		ct.Base = "real"
	case "float8":
		ct.Base = "double precision"
	case "bool":
		ct.Base = "boolean"
	case "varchar":
		ct.Base = "varchar"
		if typMod >= 4 {
			ct.Params.Length = int64Ptr(int64(typMod - 4))
		}
	case "bpchar":
		ct.Base = "character"
		if typMod >= 4 {
			ct.Params.Length = int64Ptr(int64(typMod - 4))
		}
	case "numeric":
		ct.Base = "numeric"
		if typMod >= 4 {
			m := typMod - 4
			ct.Params.Precision = int64Ptr(int64((m >> 16) & 0xffff))
			ct.Params.Scale = int64Ptr(int64(m & 0xffff))
		}
	case "timestamp":
		ct.Base = "timestamp"
		if typMod >= 0 {
			ct.Params.Length = int64Ptr(int64(typMod))
		}
	case "timestamptz":
		ct.Base = "timestamptz"
		if typMod >= 0 {
			ct.Params.Length = int64Ptr(int64(typMod))
		}
	case "cidr":
		ct.Base = "cidr"
	default:
		ct.Base = typName
	}
	return ct
}

func (d *postgresDriver) fetchEnumLabels(ctx context.Context, typName string) ([]string, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT e.enumlabel
		 FROM pg_catalog.pg_enum e
		 JOIN pg_catalog.pg_type t ON t.oid = e.enumtypid
		 WHERE t.typname = $1
		 ORDER BY e.enumsortorder`, typName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// normalizePGDefault strips cast suffixes and quotes from simple literal
// defaults; expression defaults pass through.
func normalizePGDefault(expr string) string {
	if i := strings.Index(expr, "::"); i > 0 {
		expr = expr[:i]
	}
	expr = strings.TrimSpace(expr)
	if len(expr) >= 2 && expr[0] == '\'' && expr[len(expr)-1] == '\'' {
		return strings.ReplaceAll(expr[1:len(expr)-1], "''", "'")
	}
	return expr
}

func (d *postgresDriver) fetchIndexes(ctx context.Context, t *Table) error {
	rows, err := d.pool.Query(ctx,
		`SELECT ic.relname,
		        am.amname,
		        ix.indisunique,
		        ix.indisprimary,
		        ARRAY(
		          SELECT a.attname
		          FROM unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord)
		          JOIN pg_catalog.pg_attribute a ON a.attrelid = c.oid AND a.attnum = k.attnum
		          ORDER BY k.ord
		        )
		 FROM pg_catalog.pg_index ix
		 JOIN pg_catalog.pg_class c ON c.oid = ix.indrelid
		 JOIN pg_catalog.pg_class ic ON ic.oid = ix.indexrelid
		 JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		 JOIN pg_catalog.pg_am am ON am.oid = ic.relam
		 WHERE n.nspname = $1 AND c.relname = $2
		 ORDER BY ic.relname`, d.schema, t.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			idxName, amName     string
			isUnique, isPrimary bool
			colNames            []string
		)
		if err := rows.Scan(&idxName, &amName, &isUnique, &isPrimary, &colNames); err != nil {
			return err
		}
		if isPrimary {
			t.PrimaryKey = &Key{Kind: KeyPrimary, Columns: colNames}
			continue
		}
		idx := Index{Name: idxName, Unique: isUnique, Kind: pgIndexKind(amName)}
		for _, cn := range colNames {
			idx.Columns = append(idx.Columns, IndexColumn{Name: cn})
		}
		if isUnique {
			t.Keys = append(t.Keys, Key{Kind: KeyUnique, Name: idxName, Columns: colNames})
		}
		t.Indices = append(t.Indices, idx)
	}
	return rows.Err()
}

func pgIndexKind(amName string) IndexKind {
	switch amName {
	case "hash":
		return IndexHash
	case "gin":
		return IndexGin
	case "gist":
		return IndexGist
	default:
		return IndexBTree
	}
}

func (d *postgresDriver) fetchForeignKeys(ctx context.Context, tableName string) ([]Key, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT con.conname,
		        rc.relname,
		        ARRAY(
		          SELECT a.attname
		          FROM unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord)
		          JOIN pg_catalog.pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
		          ORDER BY k.ord
		        ),
		        ARRAY(
		          SELECT a.attname
		          FROM unnest(con.confkey) WITH ORDINALITY AS k(attnum, ord)
		          JOIN pg_catalog.pg_attribute a ON a.attrelid = con.confrelid AND a.attnum = k.attnum
		          ORDER BY k.ord
		        ),
		        con.confdeltype::text,
		        con.confupdtype::text
		 FROM pg_catalog.pg_constraint con
		 JOIN pg_catalog.pg_class c ON c.oid = con.conrelid
		 JOIN pg_catalog.pg_class rc ON rc.oid = con.confrelid
		 JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		 WHERE con.contype = 'f' AND n.nspname = $1 AND c.relname = $2
		 ORDER BY con.conname`, d.schema, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []Key
	for rows.Next() {
		var (
			name, refTable   string
			cols, refCols    []string
			delType, updType string
		)
		if err := rows.Scan(&name, &refTable, &cols, &refCols, &delType, &updType); err != nil {
			return nil, err
		}
		fks = append(fks, Key{
			Kind:       KeyForeign,
			Name:       name,
			Columns:    cols,
			RefTable:   refTable,
			RefColumns: refCols,
			OnDelete:   pgFKAction(delType),
			OnUpdate:   pgFKAction(updType),
		})
	}
	return fks, rows.Err()
}

func pgFKAction(code string) string {
	switch code {
	case "c":
		return "CASCADE"
	case "n":
		return "SET NULL"
	case "d":
		return "SET DEFAULT"
	case "r":
		return "RESTRICT"
	default:
		return "NO ACTION"
	}
}

func (d *postgresDriver) SourceObjects(ctx context.Context) (*SourceObjects, error) {
	objs := &SourceObjects{}

	collect := func(query string, out *[]string) error {
		rows, err := d.pool.Query(ctx, query, d.schema)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				return err
			}
			*out = append(*out, v)
		}
		return rows.Err()
	}

	if err := collect(
		`SELECT c.relname FROM pg_catalog.pg_class c
		 JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		 WHERE c.relkind IN ('v', 'm') AND n.nspname = $1 ORDER BY c.relname`,
		&objs.Views); err != nil {
		return nil, fmt.Errorf("introspect views: %w", err)
	}
	if err := collect(
		`SELECT p.proname FROM pg_catalog.pg_proc p
		 JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
		 WHERE n.nspname = $1 ORDER BY p.proname`,
		&objs.Routines); err != nil {
		return nil, fmt.Errorf("introspect routines: %w", err)
	}
	if err := collect(
		`SELECT tg.tgname FROM pg_catalog.pg_trigger tg
		 JOIN pg_catalog.pg_class c ON c.oid = tg.tgrelid
		 JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		 WHERE NOT tg.tgisinternal AND n.nspname = $1 ORDER BY tg.tgname`,
		&objs.Triggers); err != nil {
		return nil, fmt.Errorf("introspect triggers: %w", err)
	}

	return objs, nil
}

// --- DDL ---

// pgEnumTypeName names the enum type created for a column.
func pgEnumTypeName(table, column string) string {
	return table + "_" + column + "_enum"
}

func (d *postgresDriver) RenderDDL(t *Table) ([]string, error) {
	var stmts []string

	// Enum types first; labels are quoted, PG accepts arbitrary quoted
	// labels in CREATE TYPE ... AS ENUM.
	for _, col := range t.Columns {
		if col.Type.Base != "enum" {
			continue
		}
		labels := make([]string, len(col.Type.Params.EnumValues))
		for i, v := range col.Type.Params.EnumValues {
			labels[i] = sqlStringLiteral(v)
		}
		stmts = append(stmts, fmt.Sprintf("CREATE TYPE %s.%s AS ENUM (%s)",
			pgIdent(d.schema), pgIdent(pgEnumTypeName(t.Name, col.Name)), strings.Join(labels, ", ")))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", d.tableRef(t))
	for i, col := range t.Columns {
		fmt.Fprintf(&b, "  %s %s", pgIdent(col.Name), d.pgTypeSQL(t, col))
		if !col.Type.Nullable {
			b.WriteString(" NOT NULL")
		}
		if col.Default != nil {
			b.WriteString(" DEFAULT " + pgDefaultSQL(col, *col.Default))
		}
		if i < len(t.Columns)-1 || t.PrimaryKey != nil {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	if t.PrimaryKey != nil {
		fmt.Fprintf(&b, "  PRIMARY KEY (%s)\n", quotedColumnList(t.PrimaryKey.Columns, pgIdent))
	}
	b.WriteString(")")
	stmts = append(stmts, b.String())

	// Check constraints for enum_as=check columns.
	for _, col := range t.Columns {
		if col.Type.Base != "text" || len(col.Type.Params.EnumValues) == 0 {
			continue
		}
		labels := make([]string, len(col.Type.Params.EnumValues))
		for i, v := range col.Type.Params.EnumValues {
			labels[i] = sqlStringLiteral(v)
		}
		stmts = append(stmts, fmt.Sprintf(
			"ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s IN (%s))",
			d.tableRef(t), pgIdent(t.Name+"_"+col.Name+"_check"),
			pgIdent(col.Name), strings.Join(labels, ", ")))
	}

	for _, k := range t.Keys {
		if k.Kind != KeyUnique {
			continue
		}
		stmts = append(stmts, fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)",
			pgIdent(k.Name), d.tableRef(t), quotedColumnList(k.Columns, pgIdent)))
	}
	for _, idx := range t.Indices {
		if idx.Unique {
			continue
		}
		stmts = append(stmts, d.pgCreateIndex(t, idx))
	}
	return stmts, nil
}

func (d *postgresDriver) pgCreateIndex(t *Table, idx Index) string {
	using := ""
	switch idx.Kind {
	case IndexHash:
		using = " USING hash"
	case IndexGin:
		using = " USING gin"
	case IndexGist:
		using = " USING gist"
	}
	parts := make([]string, len(idx.Columns))
	for i, ic := range idx.Columns {
		p := pgIdent(ic.Name)
		if idx.Kind == IndexGin {
			// gin over text needs a tsvector expression
			p = fmt.Sprintf("to_tsvector('simple', %s)", pgIdent(ic.Name))
		} else if ic.Desc {
			p += " DESC"
		}
		parts[i] = p
	}
	return fmt.Sprintf("CREATE INDEX %s ON %s%s (%s)",
		pgIdent(idx.Name), d.tableRef(t), using, strings.Join(parts, ", "))
}

func (d *postgresDriver) pgTypeSQL(t *Table, col Column) string {
	ct := col.Type
	switch ct.Base {
	case "enum":
		return pgIdent(d.schema) + "." + pgIdent(pgEnumTypeName(t.Name, col.Name))
	case "array":
		elem := "text"
		if ct.Params.ArrayElem != nil {
			elem = ct.Params.ArrayElem.Base
		}
		return elem + "[]"
	case "numeric", "decimal":
		if ct.Params.Precision != nil && ct.Params.Scale != nil {
			return fmt.Sprintf("numeric(%d,%d)", *ct.Params.Precision, *ct.Params.Scale)
		}
		return "numeric"
	case "varchar", "character":
		if ct.Params.Length != nil && *ct.Params.Length > 0 {
			return fmt.Sprintf("varchar(%d)", *ct.Params.Length)
		}
		return "text"
	case "timestamp", "timestamptz", "time":
		if ct.Params.Length != nil && *ct.Params.Length > 0 {
			return fmt.Sprintf("%s(%d)", ct.Base, *ct.Params.Length)
		}
		return ct.Base
	default:
		return ct.Base
	}
}

func pgDefaultSQL(col Column, def string) string {
	lower := strings.ToLower(def)
	if lower == "current_timestamp" || lower == "now()" || strings.HasPrefix(lower, "current_timestamp(") {
		return "CURRENT_TIMESTAMP"
	}
	switch col.Type.Base {
	case "smallint", "integer", "bigint", "real", "double precision", "numeric", "decimal", "boolean":
		return def
	default:
		return sqlStringLiteral(strings.Trim(def, "'"))
	}
}

func (d *postgresDriver) RenderAddColumn(t *Table, col Column) string {
	def := pgIdent(col.Name) + " " + d.pgTypeSQL(t, col)
	if !col.Type.Nullable {
		def += " NOT NULL"
	}
	if col.Default != nil {
		def += " DEFAULT " + pgDefaultSQL(col, *col.Default)
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.tableRef(t), def)
}

// RenderAlterColumn emits separate ALTERs for type, nullability and
// default, changing only what differs.
func (d *postgresDriver) RenderAlterColumn(t *Table, live, desired Column) []string {
	var stmts []string
	ref := d.tableRef(t)
	col := pgIdent(desired.Name)

	liveType, desiredType := live.Type, desired.Type
	liveType.Nullable, desiredType.Nullable = false, false
	if !typesEqualSQL(liveType, desiredType) {
		ts := d.pgTypeSQL(t, desired)
		stmts = append(stmts, fmt.Sprintf(
			"ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s", ref, col, ts, col, ts))
	}
	if live.Type.Nullable != desired.Type.Nullable {
		if desired.Type.Nullable {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL", ref, col))
		} else {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", ref, col))
		}
	}
	ld, dd := "", ""
	if live.Default != nil {
		ld = *live.Default
	}
	if desired.Default != nil {
		dd = *desired.Default
	}
	if ld != dd {
		if dd == "" {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT", ref, col))
		} else {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s",
				ref, col, pgDefaultSQL(desired, dd)))
		}
	}
	return stmts
}

func typesEqualSQL(a, b ColumnType) bool {
	return typeString(a) == typeString(b)
}

func (d *postgresDriver) RenderDropColumn(t *Table, name string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.tableRef(t), pgIdent(name))
}

func (d *postgresDriver) RenderCreateIndex(t *Table, idx Index) string {
	if idx.Unique {
		return fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)",
			pgIdent(idx.Name), d.tableRef(t),
			quotedColumnList(indexColumnNames(idx.Columns), pgIdent))
	}
	return d.pgCreateIndex(t, idx)
}

func (d *postgresDriver) RenderDropIndex(t *Table, idx Index) string {
	return fmt.Sprintf("DROP INDEX %s.%s", pgIdent(d.schema), pgIdent(idx.Name))
}

func (d *postgresDriver) RenderDropTable(name string) string {
	return fmt.Sprintf("DROP TABLE %s.%s", pgIdent(d.schema), pgIdent(name))
}

// Apply executes statements inside one transaction; PG DDL is
// transactional, so a failed table rolls back cleanly.
func (d *postgresDriver) Apply(ctx context.Context, stmts []string, dryRun bool) error {
	if dryRun {
		return nil
	}
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return wrapKind(errConnection, err, "begin")
	}
	defer tx.Rollback(ctx)

	for _, stmt := range stmts {
		sctx, cancel := context.WithTimeout(ctx, d.stmtTimeout)
		_, err := tx.Exec(sctx, stmt)
		cancel()
		if err != nil {
			return wrapKind(errSchema, err, "apply statement\nSQL: %s", stmt)
		}
	}
	return tx.Commit(ctx)
}

// --- Data plane ---

func (d *postgresDriver) CountRows(ctx context.Context, t *Table) (uint64, error) {
	var n int64
	err := d.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", d.tableRef(t))).Scan(&n)
	return uint64(n), err
}

func (d *postgresDriver) TableIsEmpty(ctx context.Context, t *Table) (bool, error) {
	var one int
	err := d.pool.QueryRow(ctx, fmt.Sprintf("SELECT 1 FROM %s LIMIT 1", d.tableRef(t))).Scan(&one)
	if err == pgx.ErrNoRows {
		return true, nil
	}
	return false, err
}

func (d *postgresDriver) TableExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM pg_catalog.pg_class c
		   JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		   WHERE c.relkind = 'r' AND n.nspname = $1 AND c.relname = $2)`,
		d.schema, name).Scan(&exists)
	return exists, err
}

// pgSelectExpr casts types pgx would otherwise hand over as native
// structures into text forms the decoder controls.
func pgSelectExpr(col Column) string {
	q := pgIdent(col.Name)
	switch col.Type.Base {
	case "numeric", "decimal", "json", "jsonb", "uuid", "inet", "cidr", "time", "enum":
		return q + "::text"
	case "array":
		return "to_json(" + q + ")::text"
	default:
		return q
	}
}

func pgSelectList(t *Table) string {
	parts := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		parts[i] = pgSelectExpr(c)
	}
	return strings.Join(parts, ", ")
}

type pgChunkStream struct {
	d         *postgresDriver
	t         *Table
	keyCols   []string
	keyIdx    []int
	chunkSize int

	lastKey []Value
	offset  int
	done    bool
}

func (d *postgresDriver) StreamChunks(ctx context.Context, t *Table, keyCols []string, chunkSize int) (ChunkStream, error) {
	s := &pgChunkStream{d: d, t: t, keyCols: keyCols, chunkSize: chunkSize}
	for _, kc := range keyCols {
		for i, c := range t.Columns {
			if c.Name == kc {
				s.keyIdx = append(s.keyIdx, i)
			}
		}
	}
	return s, nil
}

func (s *pgChunkStream) Close() {}

func (s *pgChunkStream) Next(ctx context.Context) (*Chunk, error) {
	if s.done {
		return nil, nil
	}
	d := s.d

	var (
		query string
		args  []any
	)
	cols := pgSelectList(s.t)
	if len(s.keyCols) > 0 {
		orderBy := quotedColumnList(s.keyCols, pgIdent)
		if s.lastKey == nil {
			query = fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT %d",
				cols, d.tableRef(s.t), orderBy, s.chunkSize)
		} else {
			pred := keysetPredicate(s.keyCols, pgIdent, func(i int) string { return fmt.Sprintf("$%d", i+1) })
			query = fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT %d",
				cols, d.tableRef(s.t), pred, orderBy, s.chunkSize)
			for _, kv := range s.lastKey {
				args = append(args, bindPGValue(kv))
			}
		}
	} else {
		query = fmt.Sprintf("SELECT %s FROM %s LIMIT %d OFFSET %d",
			cols, d.tableRef(s.t), s.chunkSize, s.offset)
	}

	fctx, cancel := context.WithTimeout(ctx, d.fetchTimeout)
	defer cancel()

	rows, err := d.pool.Query(fctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", s.t.Name, err)
	}
	defer rows.Close()

	chunk := &Chunk{Columns: columnNames(s.t)}
	for rows.Next() {
		raw, err := rows.Values()
		if err != nil {
			return nil, err
		}
		vals := make([]Value, len(s.t.Columns))
		for i := range s.t.Columns {
			v, err := decodePGCell(raw[i], s.t.Columns[i].Type)
			if err != nil {
				return nil, fmt.Errorf("table %s column %s: %w", s.t.Name, s.t.Columns[i].Name, err)
			}
			vals[i] = v
		}
		chunk.Rows = append(chunk.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(chunk.Rows) == 0 {
		s.done = true
		return nil, nil
	}
	if len(chunk.Rows) < s.chunkSize {
		s.done = true
	}
	if len(s.keyCols) > 0 {
		last := chunk.Rows[len(chunk.Rows)-1]
		s.lastKey = make([]Value, len(s.keyIdx))
		for i, idx := range s.keyIdx {
			s.lastKey[i] = last[idx]
		}
	} else {
		s.offset += len(chunk.Rows)
	}
	return chunk, nil
}

// decodePGCell converts a pgx value (with text casts from pgSelectExpr)
// into a neutral Value, driven by the PG-native column type.
func decodePGCell(raw any, ct ColumnType) (Value, error) {
	if raw == nil {
		return nullValue(), nil
	}

	switch ct.Base {
	case "smallint", "integer", "bigint":
		n, err := cellInt(raw)
		if err != nil {
			return Value{}, err
		}
		return intValue(n), nil
	case "real", "double precision":
		f, err := cellFloat(raw)
		if err != nil {
			return Value{}, err
		}
		return floatValue(f), nil
	case "numeric", "decimal":
		s, err := cellString(raw)
		if err != nil {
			return Value{}, err
		}
		dec, err := decimal.NewFromString(s)
		if err != nil {
			return Value{}, fmt.Errorf("numeric %q: %w", s, err)
		}
		return decimalValue(dec), nil
	case "boolean":
		b, ok := raw.(bool)
		if !ok {
			return Value{}, fmt.Errorf("boolean column: got %T", raw)
		}
		return boolValue(b), nil
	case "varchar", "character", "text":
		s, err := cellString(raw)
		if err != nil {
			return Value{}, err
		}
		return stringValue(s), nil
	case "json", "jsonb":
		s, err := cellString(raw)
		if err != nil {
			return Value{}, err
		}
		return jsonValue(s), nil
	case "uuid":
		s, err := cellString(raw)
		if err != nil {
			return Value{}, err
		}
		return parseUUIDValue(s)
	case "inet", "cidr":
		s, err := cellString(raw)
		if err != nil {
			return Value{}, err
		}
		return inetValue(s), nil
	case "bytea":
		b, ok := raw.([]byte)
		if !ok {
			return Value{}, fmt.Errorf("bytea column: got %T", raw)
		}
		return bytesValue(append([]byte(nil), b...)), nil
	case "date":
		t, ok := raw.(time.Time)
		if !ok {
			return Value{}, fmt.Errorf("date column: got %T", raw)
		}
		return dateValue(t), nil
	case "timestamp", "timestamptz":
		t, ok := raw.(time.Time)
		if !ok {
			return Value{}, fmt.Errorf("timestamp column: got %T", raw)
		}
		return dateTimeValue(t.UTC()), nil
	case "time":
		s, err := cellString(raw)
		if err != nil {
			return Value{}, err
		}
		t, err := parseMySQLTime(s)
		if err != nil {
			return Value{}, err
		}
		return timeValue(t), nil
	case "enum":
		s, err := cellString(raw)
		if err != nil {
			return Value{}, err
		}
		return enumValue(s), nil
	case "array":
		s, err := cellString(raw)
		if err != nil {
			return Value{}, err
		}
		return parseJSONArrayValue(s, ct.Params.ArrayElem)
	}

	return Value{}, kindError(errSchema, "unsupported postgres cell type %q", ct.Base)
}

// --- Writes ---

// bindPGValue converts a neutral Value to a pgx bind argument.
func bindPGValue(v Value) any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindUint:
		// may exceed int64; numeric(20,0) columns take the text form
		return decimal.NewFromUint64(v.Uint).String()
	case KindFloat:
		return v.Float
	case KindDecimal:
		return v.Dec.String()
	case KindString, KindJSON, KindInet, KindEnum:
		return v.Str
	case KindBytes, KindBit:
		return v.Bytes
	case KindDate:
		return v.Time
	case KindTime:
		return v.Time.Format("15:04:05.999999")
	case KindDateTime:
		return v.Time
	case KindUUID:
		return v.UUIDString()
	case KindSet:
		return v.Labels
	case KindArray:
		out := make([]any, len(v.Elems))
		for i, e := range v.Elems {
			out[i] = bindPGValue(e)
		}
		return out
	default:
		return v.String()
	}
}

// pgInsertCast appends a cast for parameter kinds pgx cannot infer from
// the Go value alone.
func pgInsertCast(col *Column, schema, table string) string {
	switch col.Type.Base {
	case "enum":
		return "::" + pgIdent(schema) + "." + pgIdent(pgEnumTypeName(table, col.Name))
	case "jsonb":
		return "::jsonb"
	case "json":
		return "::json"
	case "uuid":
		return "::uuid"
	case "inet":
		return "::inet"
	case "numeric", "decimal":
		return "::numeric"
	case "time":
		return "::time"
	case "array":
		elem := "text"
		if col.Type.Params.ArrayElem != nil {
			elem = col.Type.Params.ArrayElem.Base
		}
		return "::" + elem + "[]"
	}
	return ""
}

func (d *postgresDriver) insertSQL(t *Table, columns []string, rowCount int) string {
	cols := quotedColumnList(columns, pgIdent)
	marks := make([]string, rowCount)
	n := 1
	for r := 0; r < rowCount; r++ {
		row := make([]string, len(columns))
		for c, name := range columns {
			cast := ""
			if col := t.Column(name); col != nil {
				cast = pgInsertCast(col, d.schema, t.Name)
			}
			row[c] = fmt.Sprintf("$%d%s", n, cast)
			n++
		}
		marks[r] = "(" + strings.Join(row, ", ") + ")"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", d.tableRef(t), cols, strings.Join(marks, ", "))
}

func (d *postgresDriver) BulkInsert(ctx context.Context, t *Table, chunk *Chunk) error {
	if len(chunk.Rows) == 0 {
		return nil
	}
	query := d.insertSQL(t, chunk.Columns, len(chunk.Rows))
	args := make([]any, 0, len(chunk.Rows)*len(chunk.Columns))
	for _, row := range chunk.Rows {
		for _, v := range row {
			args = append(args, bindPGValue(v))
		}
	}

	sctx, cancel := context.WithTimeout(ctx, d.stmtTimeout)
	defer cancel()
	_, err := d.pool.Exec(sctx, query, args...)
	return err
}

func (d *postgresDriver) InsertRow(ctx context.Context, t *Table, columns []string, row []Value) error {
	query := d.insertSQL(t, columns, 1)
	args := make([]any, len(row))
	for i, v := range row {
		args[i] = bindPGValue(v)
	}
	_, err := d.pool.Exec(ctx, query, args...)
	return err
}

func (d *postgresDriver) FetchByKey(ctx context.Context, t *Table, keyCols []string, keyVals []Value) ([]Value, bool, error) {
	conds := make([]string, len(keyCols))
	args := make([]any, len(keyVals))
	for i, kc := range keyCols {
		cast := ""
		if col := t.Column(kc); col != nil {
			cast = pgInsertCast(col, d.schema, t.Name)
		}
		conds[i] = fmt.Sprintf("%s = $%d%s", pgIdent(kc), i+1, cast)
		args[i] = bindPGValue(keyVals[i])
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		pgSelectList(t), d.tableRef(t), strings.Join(conds, " AND "))

	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, false, rows.Err()
	}
	raw, err := rows.Values()
	if err != nil {
		return nil, false, err
	}
	vals := make([]Value, len(t.Columns))
	for i := range t.Columns {
		v, err := decodePGCell(raw[i], t.Columns[i].Type)
		if err != nil {
			return nil, false, err
		}
		vals[i] = v
	}
	return vals, true, nil
}

// ResetSequences attaches a sequence to each auto-increment column and
// seeds it to max(col)+1 so inserts after migration continue cleanly.
func (d *postgresDriver) ResetSequences(ctx context.Context, t *Table) error {
	for _, col := range t.Columns {
		if !col.AutoIncrement {
			continue
		}
		seqName := fmt.Sprintf("%s_%s_seq", t.Name, col.Name)
		stmts := []string{
			fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s.%s", pgIdent(d.schema), pgIdent(seqName)),
			fmt.Sprintf("SELECT setval('%s.%s', COALESCE((SELECT MAX(%s) FROM %s), 0) + 1, false)",
				d.schema, seqName, pgIdent(col.Name), d.tableRef(t)),
			fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT nextval('%s.%s')",
				d.tableRef(t), pgIdent(col.Name), d.schema, seqName),
			fmt.Sprintf("ALTER SEQUENCE %s.%s OWNED BY %s.%s",
				pgIdent(d.schema), pgIdent(seqName), d.tableRef(t), pgIdent(col.Name)),
		}
		for _, stmt := range stmts {
			if _, err := d.pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("reset sequence %s: %w", seqName, err)
			}
		}
	}
	return nil
}
