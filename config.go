package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// RuleSet holds the recognized boolean/enum policy flags for one dialect
// and direction.
type RuleSet struct {
	UnsignedIntToBigint   bool   `toml:"unsigned_int_to_bigint"`
	TinyInt1ToBool        bool   `toml:"tinyint1_to_bool"`
	ZeroDateToNull        bool   `toml:"zero_date_to_null"`
	EnumAs                string `toml:"enum_as"` // native|check|text
	JSONToJSONB           bool   `toml:"json_to_jsonb"`
	SetAs                 string `toml:"set_as"` // text_array|csv_text
	FulltextToGin         bool   `toml:"fulltext_to_gin"`
	PreserveAutoIncrement bool   `toml:"preserve_auto_increment"`
	LowercaseIdentifiers  bool   `toml:"lowercase_identifiers"`
}

// TypeDirections maps base-type tokens per direction: on_read rewrites the
// discovered base during introspection, on_write rewrites the IR base just
// before DDL emission.
type TypeDirections struct {
	OnRead  map[string]string `toml:"on_read"`
	OnWrite map[string]string `toml:"on_write"`
}

// RuleDirections holds policy flags per direction.
type RuleDirections struct {
	OnRead  RuleSet `toml:"on_read"`
	OnWrite RuleSet `toml:"on_write"`
}

// DialectMapping is the [mysql] / [postgres] config section.
type DialectMapping struct {
	Types TypeDirections `toml:"types"`
	Rules RuleDirections `toml:"rules"`
}

// Config is the full TOML-driven mapping policy plus engine settings.
// Unknown sections and keys are rejected.
type Config struct {
	PoolSize             int `toml:"pool_size"`
	ChunkSize            int `toml:"chunk_size"`
	StatementTimeoutSecs int `toml:"statement_timeout_secs"`
	FetchTimeoutSecs     int `toml:"fetch_timeout_secs"`

	MySQL    DialectMapping `toml:"mysql"`
	Postgres DialectMapping `toml:"postgres"`
}

// Mapping returns the section for a dialect.
func (c *Config) Mapping(d Dialect) *DialectMapping {
	if d == DialectMySQL {
		return &c.MySQL
	}
	return &c.Postgres
}

// defaultConfig is the bundled MySQL→PostgreSQL mapping, used when no
// config file is supplied. It is the single source of truth for the
// default translation table.
func defaultConfig() *Config {
	cfg := &Config{
		PoolSize:             4,
		ChunkSize:            1000,
		StatementTimeoutSecs: 300,
		FetchTimeoutSecs:     60,
	}
	cfg.MySQL.Types.OnRead = map[string]string{
		"tinyint":    "tinyint",
		"smallint":   "smallint",
		"mediumint":  "mediumint",
		"int":        "int",
		"integer":    "int",
		"bigint":     "bigint",
		"float":      "float",
		"double":     "double",
		"decimal":    "decimal",
		"char":       "char",
		"varchar":    "varchar",
		"tinytext":   "text",
		"text":       "text",
		"mediumtext": "text",
		"longtext":   "text",
		"json":       "json",
		"enum":       "enum",
		"set":        "set",
		"date":       "date",
		"time":       "time",
		"year":       "year",
		"datetime":   "datetime",
		"timestamp":  "datetime_tz",
		"bit":        "bit",
		"binary":     "blob",
		"varbinary":  "blob",
		"tinyblob":   "blob",
		"blob":       "blob",
		"mediumblob": "blob",
		"longblob":   "blob",
	}
	cfg.MySQL.Rules.OnRead = defaultRuleSet()
	cfg.MySQL.Rules.OnWrite = defaultRuleSet()
	// IR token → MySQL base, for postgres→mysql and mysql→mysql runs.
	cfg.MySQL.Types.OnWrite = map[string]string{
		"tinyint":     "tinyint",
		"smallint":    "smallint",
		"mediumint":   "mediumint",
		"int":         "int",
		"bigint":      "bigint",
		"float":       "float",
		"double":      "double",
		"decimal":     "decimal",
		"char":        "char",
		"varchar":     "varchar",
		"text":        "longtext",
		"json":        "json",
		"jsonb":       "json",
		"enum":        "enum",
		"set":         "set",
		"date":        "date",
		"time":        "time",
		"year":        "year",
		"datetime":    "datetime",
		"datetime_tz": "timestamp",
		"bit":         "bit",
		"blob":        "longblob",
		"bytea":       "longblob",
		"boolean":     "tinyint",
		"uuid":        "char",
		"inet":        "varchar",
		"array":       "json",
	}

	cfg.Postgres.Types.OnRead = map[string]string{
		"smallint":          "smallint",
		"smallserial":       "smallint",
		"integer":           "int",
		"serial":            "int",
		"bigint":            "bigint",
		"bigserial":         "bigint",
		"real":              "float",
		"double precision":  "double",
		"numeric":           "decimal",
		"character":         "char",
		"character varying": "varchar",
		"varchar":           "varchar",
		"text":              "text",
		"json":              "json",
		"jsonb":             "jsonb",
		"date":              "date",
		"time":              "time",
		"timestamp":         "datetime",
		"timestamptz":       "datetime_tz",
		"boolean":           "boolean",
		"bytea":             "bytea",
		"uuid":              "uuid",
		"inet":              "inet",
		"cidr":              "inet",
		"array":             "array",
	}
	cfg.Postgres.Types.OnWrite = map[string]string{
		"tinyint":     "smallint",
		"smallint":    "smallint",
		"mediumint":   "integer",
		"int":         "integer",
		"bigint":      "bigint",
		"float":       "real",
		"double":      "double precision",
		"decimal":     "numeric",
		"char":        "varchar",
		"varchar":     "varchar",
		"text":        "text",
		"json":        "jsonb",
		"jsonb":       "jsonb",
		"enum":        "enum",
		"set":         "set",
		"date":        "date",
		"time":        "time",
		"year":        "integer",
		"datetime":    "timestamp",
		"datetime_tz": "timestamptz",
		"bit":         "bit",
		"blob":        "bytea",
		"bytea":       "bytea",
		"boolean":     "boolean",
		"uuid":        "uuid",
		"inet":        "inet",
		"array":       "array",
	}
	cfg.Postgres.Rules.OnRead = defaultRuleSet()
	cfg.Postgres.Rules.OnWrite = defaultRuleSet()
	return cfg
}

func defaultRuleSet() RuleSet {
	return RuleSet{
		UnsignedIntToBigint:   true,
		TinyInt1ToBool:        false,
		ZeroDateToNull:        true,
		EnumAs:                "native",
		JSONToJSONB:           true,
		SetAs:                 "text_array",
		FulltextToGin:         true,
		PreserveAutoIncrement: true,
		LowercaseIdentifiers:  true,
	}
}

// loadConfig reads a TOML config file over the bundled defaults. An empty
// path returns the defaults unchanged.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if unknown := md.Undecoded(); len(unknown) > 0 {
		keys := make([]string, len(unknown))
		for i, k := range unknown {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	for _, rs := range []*RuleSet{
		&cfg.MySQL.Rules.OnRead, &cfg.MySQL.Rules.OnWrite,
		&cfg.Postgres.Rules.OnRead, &cfg.Postgres.Rules.OnWrite,
	} {
		switch rs.EnumAs {
		case "native", "check", "text":
		case "":
			rs.EnumAs = "native"
		default:
			return nil, fmt.Errorf("enum_as must be one of: native, check, text")
		}
		switch rs.SetAs {
		case "text_array", "csv_text":
		case "":
			rs.SetAs = "text_array"
		default:
			return nil, fmt.Errorf("set_as must be one of: text_array, csv_text")
		}
	}

	return cfg, nil
}
