package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

type mysqlDriver struct {
	db     *sql.DB
	cfg    *Config
	dbName string

	stmtTimeout  time.Duration
	fetchTimeout time.Duration
}

// mysqlDSNFromURL converts a mysql:// connection URL into a go-sql-driver
// DSN with the read options the engine relies on (UTC times, parsed
// time.Time, interpolated params).
func mysqlDSNFromURL(rawURL string) (dsn, dbName string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse mysql url: %w", err)
	}
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	if cfg.DBName == "" {
		return "", "", fmt.Errorf("mysql url %q has no database name", rawURL)
	}
	cfg.ParseTime = true
	cfg.InterpolateParams = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN(), cfg.DBName, nil
}

func openMySQL(ctx context.Context, rawURL string, cfg *Config) (Driver, error) {
	dsn, dbName, err := mysqlDSNFromURL(rawURL)
	if err != nil {
		return nil, wrapKind(errUsage, err, "mysql url")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, wrapKind(errConnection, err, "open mysql")
	}
	db.SetMaxOpenConns(cfg.PoolSize)

	if err := withConnectRetry(ctx, "mysql", func() error {
		return db.PingContext(ctx)
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &mysqlDriver{
		db:           db,
		cfg:          cfg,
		dbName:       dbName,
		stmtTimeout:  time.Duration(cfg.StatementTimeoutSecs) * time.Second,
		fetchTimeout: time.Duration(cfg.FetchTimeoutSecs) * time.Second,
	}, nil
}

func (d *mysqlDriver) Name() string     { return "MySQL" }
func (d *mysqlDriver) Dialect() Dialect { return DialectMySQL }
func (d *mysqlDriver) Close()           { d.db.Close() }

func (d *mysqlDriver) QuoteIdent(name string) string { return mysqlIdent(name) }
func (d *mysqlDriver) Literal(v Value) string        { return mysqlLiteral(v) }

func (d *mysqlDriver) tableRef(t *Table) string { return mysqlIdent(t.Name) }

// --- Introspection ---

func (d *mysqlDriver) FetchSchema(ctx context.Context) (*Schema, error) {
	schema := &Schema{
		Dialect: DialectMySQL,
		Metadata: SchemaMetadata{
			SourceSystem:       string(DialectMySQL),
			SourceDatabaseName: d.dbName,
			CreatedAt:          time.Now().UTC().Format(time.RFC3339),
			ForgeVersion:       version,
		},
	}

	names, err := d.fetchTableNames(ctx)
	if err != nil {
		return nil, wrapKind(errSchema, err, "introspect tables")
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

func (d *mysqlDriver) fetchTableNames(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
		 WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		 ORDER BY TABLE_NAME`,
		d.dbName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (d *mysqlDriver) fetchColumns(ctx context.Context, tableName string) ([]Column, error) {
	// COLUMN_TYPE (not DATA_TYPE) carries UNSIGNED, display widths and
	// ENUM/SET label lists.
	rows, err := d.db.QueryContext(ctx,
		`SELECT COLUMN_NAME, DATA_TYPE, COLUMN_TYPE,
		        COALESCE(CHARACTER_MAXIMUM_LENGTH, 0),
		        COALESCE(NUMERIC_PRECISION, 0),
		        COALESCE(NUMERIC_SCALE, 0),
		        COALESCE(DATETIME_PRECISION, 0),
		        IS_NULLABLE, COLUMN_DEFAULT, EXTRA, COLUMN_COMMENT
		 FROM INFORMATION_SCHEMA.COLUMNS
		 WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		 ORDER BY ORDINAL_POSITION`,
		d.dbName, tableName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			name, dataType, columnType, nullable, extra, comment string
			charMaxLen, precision, scale, dtPrecision            int64
			dflt                                                 sql.NullString
		)
		if err := rows.Scan(
			&name, &dataType, &columnType,
			&charMaxLen, &precision, &scale, &dtPrecision,
			&nullable, &dflt, &extra, &comment,
		); err != nil {
			return nil, err
		}

		ct, err := parseMySQLColumnType(
			strings.ToLower(dataType), strings.ToLower(columnType),
			charMaxLen, precision, scale, dtPrecision,
		)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		ct.Nullable = nullable == "YES"

		c := Column{
			Name:          name,
			Type:          ct,
			Comment:       comment,
			Extra:         extra,
			AutoIncrement: strings.Contains(strings.ToLower(extra), "auto_increment"),
		}
		if dflt.Valid {
			v := dflt.String
			c.Default = &v
		}
		// EXTRA may read "DEFAULT_GENERATED on update CURRENT_TIMESTAMP"
		if idx := strings.Index(strings.ToLower(extra), "on update "); idx >= 0 {
			c.OnUpdate = extra[idx+len("on update "):]
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// parseMySQLColumnType turns a raw COLUMN_TYPE like "int(10) unsigned",
// "decimal(10,2)" or "enum('a','b')" into a structured ColumnType.
func parseMySQLColumnType(dataType, columnType string, charMaxLen, precision, scale, dtPrecision int64) (ColumnType, error) {
	ct := ColumnType{
		Base:     dataType,
		Unsigned: strings.Contains(columnType, "unsigned"),
	}

	switch dataType {
	case "enum", "set":
		values, err := parseMySQLEnumSetValues(columnType)
		if err != nil {
			return ColumnType{}, err
		}
		ct.Params.EnumValues = values
	case "decimal", "numeric":
		ct.Base = "decimal"
		ct.Params.Precision = int64Ptr(precision)
		ct.Params.Scale = int64Ptr(scale)
	case "char", "varchar", "binary", "varbinary":
		ct.Params.Length = int64Ptr(charMaxLen)
	case "bit":
		ct.Params.Length = int64Ptr(precision)
	case "datetime", "timestamp", "time":
		if dtPrecision > 0 {
			ct.Params.Length = int64Ptr(dtPrecision)
		}
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint":
		// display width, e.g. tinyint(1); significant only for the
		// tinyint(1)→boolean rule
		if n, ok := mysqlDisplayWidth(columnType, dataType); ok {
			ct.Params.Length = int64Ptr(n)
		}
	}
	return ct, nil
}

func mysqlDisplayWidth(columnType, baseType string) (int64, bool) {
	prefix := baseType + "("
	if !strings.HasPrefix(columnType, prefix) {
		return 0, false
	}
	rest := columnType[len(prefix):]
	end := strings.IndexByte(rest, ')')
	if end < 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(rest[:end]), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseMySQLEnumSetValues extracts 'a','b' label lists from
// enum('a','b') / set('a','b') declarations, handling escapes and
// doubled quotes.
func parseMySQLEnumSetValues(columnType string) ([]string, error) {
	open := strings.IndexByte(columnType, '(')
	close := strings.LastIndexByte(columnType, ')')
	if open < 0 || close <= open {
		return nil, fmt.Errorf("invalid enum/set column_type %q", columnType)
	}

	inside := columnType[open+1 : close]
	var values []string
	i := 0
	for i < len(inside) {
		for i < len(inside) && (inside[i] == ' ' || inside[i] == ',') {
			i++
		}
		if i >= len(inside) {
			break
		}
		if inside[i] != '\'' {
			return nil, fmt.Errorf("invalid enum/set value list in %q", columnType)
		}
		i++

		var b strings.Builder
		for i < len(inside) {
			c := inside[i]
			if c == '\\' {
				if i+1 >= len(inside) {
					return nil, fmt.Errorf("invalid escape in %q", columnType)
				}
				b.WriteByte(inside[i+1])
				i += 2
				continue
			}
			if c == '\'' {
				if i+1 < len(inside) && inside[i+1] == '\'' {
					b.WriteByte('\'')
					i += 2
					continue
				}
				i++
				break
			}
			b.WriteByte(c)
			i++
		}

		values = append(values, b.String())
	}

	return values, nil
}

func (d *mysqlDriver) fetchIndexes(ctx context.Context, t *Table) error {
	rows, err := d.db.QueryContext(ctx,
		`SELECT INDEX_NAME, COLUMN_NAME, NON_UNIQUE, SEQ_IN_INDEX, INDEX_TYPE, COLLATION, SUB_PART
		 FROM INFORMATION_SCHEMA.STATISTICS
		 WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		 ORDER BY INDEX_NAME, SEQ_IN_INDEX`,
		d.dbName, t.Name,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	indexMap := make(map[string]*Index)
	var order []string

	for rows.Next() {
		var (
			idxName, indexType string
			colName, collation sql.NullString
			subPart            sql.NullInt64
			nonUnique, seq     int
		)
		if err := rows.Scan(&idxName, &colName, &nonUnique, &seq, &indexType, &collation, &subPart); err != nil {
			return err
		}

		if idxName == "PRIMARY" {
			if colName.Valid {
				if t.PrimaryKey == nil {
					t.PrimaryKey = &Key{Kind: KeyPrimary}
				}
				t.PrimaryKey.Columns = append(t.PrimaryKey.Columns, colName.String)
			}
			continue
		}

		idx, ok := indexMap[idxName]
		if !ok {
			idx = &Index{
				Name:   idxName,
				Unique: nonUnique == 0,
				Kind:   mysqlIndexKind(indexType),
			}
			indexMap[idxName] = idx
			order = append(order, idxName)
		}
		if !colName.Valid {
			// expression key-part, reported by the compatibility pass
			continue
		}
		ic := IndexColumn{Name: colName.String}
		if subPart.Valid {
			ic.PrefixLen = int64Ptr(subPart.Int64)
		}
		if collation.Valid && strings.EqualFold(collation.String, "D") {
			ic.Desc = true
		}
		idx.Columns = append(idx.Columns, ic)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	sort.Strings(order)
	for _, name := range order {
		idx := indexMap[name]
		if idx.Unique {
			t.Keys = append(t.Keys, Key{
				Kind:    KeyUnique,
				Name:    idx.Name,
				Columns: indexColumnNames(idx.Columns),
			})
		}
		t.Indices = append(t.Indices, *idx)
	}
	return nil
}

func mysqlIndexKind(indexType string) IndexKind {
	switch strings.ToUpper(indexType) {
	case "HASH":
		return IndexHash
	case "FULLTEXT":
		return IndexFullText
	default:
		return IndexBTree
	}
}

func indexColumnNames(cols []IndexColumn) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

func (d *mysqlDriver) fetchForeignKeys(ctx context.Context, tableName string) ([]Key, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT kcu.CONSTRAINT_NAME, kcu.COLUMN_NAME,
		        kcu.REFERENCED_TABLE_NAME, kcu.REFERENCED_COLUMN_NAME,
		        rc.UPDATE_RULE, rc.DELETE_RULE
		 FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
		 JOIN INFORMATION_SCHEMA.REFERENTIAL_CONSTRAINTS rc
		   ON kcu.CONSTRAINT_NAME = rc.CONSTRAINT_NAME
		   AND kcu.TABLE_SCHEMA = rc.CONSTRAINT_SCHEMA
		 WHERE kcu.TABLE_SCHEMA = ? AND kcu.TABLE_NAME = ?
		   AND kcu.REFERENCED_TABLE_NAME IS NOT NULL
		 ORDER BY kcu.CONSTRAINT_NAME, kcu.ORDINAL_POSITION`,
		d.dbName, tableName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fkMap := make(map[string]*Key)
	var order []string

	for rows.Next() {
		var fkName, colName, refTable, refCol, updateRule, deleteRule string
		if err := rows.Scan(&fkName, &colName, &refTable, &refCol, &updateRule, &deleteRule); err != nil {
			return nil, err
		}
		fk, ok := fkMap[fkName]
		if !ok {
			fk = &Key{
				Kind:     KeyForeign,
				Name:     fkName,
				RefTable: refTable,
				OnUpdate: updateRule,
				OnDelete: deleteRule,
			}
			fkMap[fkName] = fk
			order = append(order, fkName)
		}
		fk.Columns = append(fk.Columns, colName)
		fk.RefColumns = append(fk.RefColumns, refCol)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var fks []Key
	for _, name := range order {
		fks = append(fks, *fkMap[name])
	}
	return fks, nil
}

func (d *mysqlDriver) SourceObjects(ctx context.Context) (*SourceObjects, error) {
	objs := &SourceObjects{}

	collect := func(query string, out *[]string) error {
		rows, err := d.db.QueryContext(ctx, query, d.dbName)
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
		`SELECT TABLE_NAME FROM INFORMATION_SCHEMA.VIEWS WHERE TABLE_SCHEMA = ? ORDER BY TABLE_NAME`,
		&objs.Views); err != nil {
		return nil, fmt.Errorf("introspect views: %w", err)
	}
	if err := collect(
		`SELECT CONCAT(ROUTINE_TYPE, ' ', ROUTINE_NAME) FROM INFORMATION_SCHEMA.ROUTINES
		 WHERE ROUTINE_SCHEMA = ? ORDER BY ROUTINE_TYPE, ROUTINE_NAME`,
		&objs.Routines); err != nil {
		return nil, fmt.Errorf("introspect routines: %w", err)
	}
	if err := collect(
		`SELECT TRIGGER_NAME FROM INFORMATION_SCHEMA.TRIGGERS WHERE TRIGGER_SCHEMA = ? ORDER BY TRIGGER_NAME`,
		&objs.Triggers); err != nil {
		return nil, fmt.Errorf("introspect triggers: %w", err)
	}

	return objs, nil
}

// --- DDL ---

func (d *mysqlDriver) RenderDDL(t *Table) ([]string, error) {
	var stmts []string

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", d.tableRef(t))
	for i, col := range t.Columns {
		def, err := mysqlColumnDef(col)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", t.Name, err)
		}
		b.WriteString("  " + def)
		if i < len(t.Columns)-1 || t.PrimaryKey != nil {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	if t.PrimaryKey != nil {
		fmt.Fprintf(&b, "  PRIMARY KEY (%s)\n", quotedColumnList(t.PrimaryKey.Columns, mysqlIdent))
	}
	b.WriteString(") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4")
	stmts = append(stmts, b.String())

	for _, k := range t.Keys {
		if k.Kind != KeyUnique {
			continue
		}
		stmts = append(stmts, fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)",
			mysqlIdent(k.Name), d.tableRef(t), quotedColumnList(k.Columns, mysqlIdent)))
	}
	for _, idx := range t.Indices {
		if idx.Unique {
			// already emitted as a unique key
			continue
		}
		stmts = append(stmts, mysqlCreateIndex(t, idx))
	}
	return stmts, nil
}

func mysqlCreateIndex(t *Table, idx Index) string {
	prefix := ""
	if idx.Kind == IndexFullText {
		prefix = "FULLTEXT "
	}
	parts := make([]string, len(idx.Columns))
	for i, ic := range idx.Columns {
		p := mysqlIdent(ic.Name)
		if ic.PrefixLen != nil {
			p += fmt.Sprintf("(%d)", *ic.PrefixLen)
		}
		if ic.Desc {
			p += " DESC"
		}
		parts[i] = p
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		prefix, mysqlIdent(idx.Name), mysqlIdent(t.Name), strings.Join(parts, ", "))
}

func mysqlColumnDef(col Column) (string, error) {
	var b strings.Builder
	b.WriteString(mysqlIdent(col.Name))
	b.WriteByte(' ')
	b.WriteString(mysqlTypeSQL(col.Type))

	if !col.Type.Nullable {
		b.WriteString(" NOT NULL")
	}
	if col.Default != nil {
		def := *col.Default
		if strings.EqualFold(def, "current_timestamp") || strings.HasPrefix(strings.ToLower(def), "current_timestamp(") {
			b.WriteString(" DEFAULT " + strings.ToUpper(def))
		} else {
			b.WriteString(" DEFAULT " + sqlStringLiteral(strings.Trim(def, "'")))
		}
	}
	if col.AutoIncrement {
		b.WriteString(" AUTO_INCREMENT")
	}
	if col.OnUpdate != "" {
		b.WriteString(" ON UPDATE " + strings.ToUpper(col.OnUpdate))
	}
	return b.String(), nil
}

func mysqlTypeSQL(ct ColumnType) string {
	base := ct.Base
	var out string
	switch base {
	case "decimal":
		if ct.Params.Precision != nil && ct.Params.Scale != nil {
			out = fmt.Sprintf("decimal(%d,%d)", *ct.Params.Precision, *ct.Params.Scale)
		} else {
			out = "decimal"
		}
	case "char", "varchar", "binary", "varbinary", "bit":
		if ct.Params.Length != nil {
			out = fmt.Sprintf("%s(%d)", base, *ct.Params.Length)
		} else {
			out = base
		}
	case "datetime", "timestamp", "time":
		if ct.Params.Length != nil && *ct.Params.Length > 0 {
			out = fmt.Sprintf("%s(%d)", base, *ct.Params.Length)
		} else {
			out = base
		}
	case "enum", "set":
		quoted := make([]string, len(ct.Params.EnumValues))
		for i, v := range ct.Params.EnumValues {
			quoted[i] = sqlStringLiteral(v)
		}
		out = fmt.Sprintf("%s(%s)", base, strings.Join(quoted, ","))
	case "tinyint":
		if ct.Params.Length != nil && *ct.Params.Length == 1 {
			out = "tinyint(1)"
		} else {
			out = "tinyint"
		}
	default:
		out = base
	}
	if ct.Unsigned {
		out += " unsigned"
	}
	return out
}

func (d *mysqlDriver) RenderAddColumn(t *Table, col Column) string {
	def, _ := mysqlColumnDef(col)
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.tableRef(t), def)
}

// RenderAlterColumn uses MODIFY COLUMN, which carries type, nullability
// and default in one statement.
func (d *mysqlDriver) RenderAlterColumn(t *Table, live, desired Column) []string {
	def, _ := mysqlColumnDef(desired)
	return []string{fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s", d.tableRef(t), def)}
}

func (d *mysqlDriver) RenderDropColumn(t *Table, name string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.tableRef(t), mysqlIdent(name))
}

func (d *mysqlDriver) RenderCreateIndex(t *Table, idx Index) string {
	if idx.Unique {
		return fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)",
			mysqlIdent(idx.Name), d.tableRef(t), quotedColumnList(indexColumnNames(idx.Columns), mysqlIdent))
	}
	return mysqlCreateIndex(t, idx)
}

func (d *mysqlDriver) RenderDropIndex(t *Table, idx Index) string {
	return fmt.Sprintf("DROP INDEX %s ON %s", mysqlIdent(idx.Name), d.tableRef(t))
}

func (d *mysqlDriver) RenderDropTable(name string) string {
	return fmt.Sprintf("DROP TABLE %s", mysqlIdent(name))
}

// Apply runs statements one at a time; MySQL DDL is not transactional.
func (d *mysqlDriver) Apply(ctx context.Context, stmts []string, dryRun bool) error {
	if dryRun {
		return nil
	}
	for _, stmt := range stmts {
		sctx, cancel := context.WithTimeout(ctx, d.stmtTimeout)
		_, err := d.db.ExecContext(sctx, stmt)
		cancel()
		if err != nil {
			return wrapKind(errSchema, err, "apply statement\nSQL: %s", stmt)
		}
	}
	return nil
}

// --- Data plane ---

func (d *mysqlDriver) CountRows(ctx context.Context, t *Table) (uint64, error) {
	var n uint64
	err := d.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", d.tableRef(t))).Scan(&n)
	return n, err
}

func (d *mysqlDriver) TableIsEmpty(ctx context.Context, t *Table) (bool, error) {
	var one int
	err := d.db.QueryRowContext(ctx, fmt.Sprintf("SELECT 1 FROM %s LIMIT 1", d.tableRef(t))).Scan(&one)
	if err == sql.ErrNoRows {
		return true, nil
	}
	return false, err
}

func (d *mysqlDriver) TableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`,
		d.dbName, name).Scan(&n)
	return n > 0, err
}

type mysqlChunkStream struct {
	d         *mysqlDriver
	t         *Table
	keyCols   []string
	keyIdx    []int
	chunkSize int

	lastKey []Value // nil until the first chunk
	offset  int     // offset paging fallback
	done    bool
}

func (d *mysqlDriver) StreamChunks(ctx context.Context, t *Table, keyCols []string, chunkSize int) (ChunkStream, error) {
	s := &mysqlChunkStream{d: d, t: t, keyCols: keyCols, chunkSize: chunkSize}
	for _, kc := range keyCols {
		for i, c := range t.Columns {
			if c.Name == kc {
				s.keyIdx = append(s.keyIdx, i)
			}
		}
	}
	return s, nil
}

func (s *mysqlChunkStream) Close() {}

func (s *mysqlChunkStream) Next(ctx context.Context) (*Chunk, error) {
	if s.done {
		return nil, nil
	}
	d := s.d

	var (
		query string
		args  []any
	)
	cols := quotedColumnList(columnNames(s.t), mysqlIdent)
	if len(s.keyCols) > 0 {
		orderBy := quotedColumnList(s.keyCols, mysqlIdent)
		if s.lastKey == nil {
			query = fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT %d",
				cols, d.tableRef(s.t), orderBy, s.chunkSize)
		} else {
			pred := keysetPredicate(s.keyCols, mysqlIdent, func(int) string { return "?" })
			query = fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s LIMIT %d",
				cols, d.tableRef(s.t), pred, orderBy, s.chunkSize)
			for _, kv := range s.lastKey {
				args = append(args, bindMySQLValue(kv))
			}
		}
	} else {
		// No stable key: LIMIT/OFFSET degradation, ordering by all columns
		// is not guaranteed stable under concurrent writes.
		query = fmt.Sprintf("SELECT %s FROM %s LIMIT %d OFFSET %d",
			cols, d.tableRef(s.t), s.chunkSize, s.offset)
	}

	fctx, cancel := context.WithTimeout(ctx, d.fetchTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(fctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", s.t.Name, err)
	}
	defer rows.Close()

	rules := d.cfg.MySQL.Rules.OnRead
	chunk := &Chunk{Columns: columnNames(s.t)}
	raw := make([]any, len(s.t.Columns))
	ptrs := make([]any, len(s.t.Columns))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		vals := make([]Value, len(s.t.Columns))
		for i := range s.t.Columns {
			v, err := decodeMySQLCell(raw[i], s.t.Columns[i].Type, rules)
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

// bindMySQLValue converts a neutral Value to a driver bind argument.
func bindMySQLValue(v Value) any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindUint:
		return v.Uint
	case KindFloat:
		return v.Float
	case KindDecimal:
		return v.Dec.String()
	case KindString, KindJSON, KindInet, KindEnum:
		return v.Str
	case KindBytes, KindBit:
		return v.Bytes
	case KindDate:
		return v.Time.Format("2006-01-02")
	case KindTime:
		return v.Time.Format("15:04:05.999999")
	case KindDateTime:
		return v.Time.Format("2006-01-02 15:04:05.999999")
	case KindUUID:
		return v.UUIDString()
	case KindSet:
		return strings.Join(v.Labels, ",")
	case KindZeroDate:
		return "0000-00-00 00:00:00"
	default:
		return v.String()
	}
}

func (d *mysqlDriver) BulkInsert(ctx context.Context, t *Table, chunk *Chunk) error {
	if len(chunk.Rows) == 0 {
		return nil
	}
	cols := quotedColumnList(chunk.Columns, mysqlIdent)
	rowMarks := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(chunk.Columns)), ", ") + ")"
	marks := make([]string, len(chunk.Rows))
	args := make([]any, 0, len(chunk.Rows)*len(chunk.Columns))
	for i, row := range chunk.Rows {
		marks[i] = rowMarks
		for _, v := range row {
			args = append(args, bindMySQLValue(v))
		}
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		d.tableRef(t), cols, strings.Join(marks, ", "))

	sctx, cancel := context.WithTimeout(ctx, d.stmtTimeout)
	defer cancel()
	_, err := d.db.ExecContext(sctx, query, args...)
	return err
}

func (d *mysqlDriver) InsertRow(ctx context.Context, t *Table, columns []string, row []Value) error {
	cols := quotedColumnList(columns, mysqlIdent)
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	args := make([]any, len(row))
	for i, v := range row {
		args[i] = bindMySQLValue(v)
	}
	_, err := d.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.tableRef(t), cols, marks), args...)
	return err
}

func (d *mysqlDriver) FetchByKey(ctx context.Context, t *Table, keyCols []string, keyVals []Value) ([]Value, bool, error) {
	conds := make([]string, len(keyCols))
	args := make([]any, len(keyVals))
	for i, kc := range keyCols {
		conds[i] = mysqlIdent(kc) + " = ?"
		args[i] = bindMySQLValue(keyVals[i])
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		quotedColumnList(columnNames(t), mysqlIdent), d.tableRef(t), strings.Join(conds, " AND "))

	raw := make([]any, len(t.Columns))
	ptrs := make([]any, len(t.Columns))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	err := d.db.QueryRowContext(ctx, query, args...).Scan(ptrs...)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	rules := d.cfg.MySQL.Rules.OnRead
	vals := make([]Value, len(t.Columns))
	for i := range t.Columns {
		v, err := decodeMySQLCell(raw[i], t.Columns[i].Type, rules)
		if err != nil {
			return nil, false, err
		}
		vals[i] = v
	}
	return vals, true, nil
}

// ResetSequences is a no-op: MySQL advances AUTO_INCREMENT past explicit
// inserted values on its own.
func (d *mysqlDriver) ResetSequences(ctx context.Context, t *Table) error { return nil }
