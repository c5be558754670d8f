package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mapping.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PoolSize != 4 {
		t.Errorf("default pool_size = %d, want 4", cfg.PoolSize)
	}
	if cfg.ChunkSize != 1000 {
		t.Errorf("default chunk_size = %d, want 1000", cfg.ChunkSize)
	}
	if cfg.StatementTimeoutSecs != 300 || cfg.FetchTimeoutSecs != 60 {
		t.Errorf("default timeouts = %d/%d, want 300/60", cfg.StatementTimeoutSecs, cfg.FetchTimeoutSecs)
	}

	rules := cfg.MySQL.Rules.OnRead
	if !rules.UnsignedIntToBigint {
		t.Error("unsigned_int_to_bigint should default on")
	}
	if rules.TinyInt1ToBool {
		t.Error("tinyint1_to_bool should default off")
	}
	if !rules.ZeroDateToNull {
		t.Error("zero_date_to_null should default on")
	}
	if rules.EnumAs != "native" {
		t.Errorf("enum_as default = %q, want native", rules.EnumAs)
	}
	if rules.SetAs != "text_array" {
		t.Errorf("set_as default = %q, want text_array", rules.SetAs)
	}

	if cfg.MySQL.Types.OnRead["timestamp"] != "datetime_tz" {
		t.Errorf("mysql timestamp on_read = %q", cfg.MySQL.Types.OnRead["timestamp"])
	}
	if cfg.Postgres.Types.OnWrite["json"] != "jsonb" {
		t.Errorf("postgres json on_write = %q", cfg.Postgres.Types.OnWrite["json"])
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
chunk_size = 250

[mysql.rules.on_read]
tinyint1_to_bool = true
zero_date_to_null = false

[mysql.types.on_read]
geometry = "text"

[postgres.rules.on_write]
enum_as = "check"
`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ChunkSize != 250 {
		t.Errorf("chunk_size = %d, want 250", cfg.ChunkSize)
	}
	if !cfg.MySQL.Rules.OnRead.TinyInt1ToBool {
		t.Error("tinyint1_to_bool override ignored")
	}
	if cfg.MySQL.Rules.OnRead.ZeroDateToNull {
		t.Error("zero_date_to_null override ignored")
	}
	if cfg.MySQL.Types.OnRead["geometry"] != "text" {
		t.Error("custom type mapping ignored")
	}
	// untouched defaults survive
	if cfg.MySQL.Types.OnRead["varchar"] != "varchar" {
		t.Error("default type mapping lost on merge")
	}
	if cfg.Postgres.Rules.OnWrite.EnumAs != "check" {
		t.Errorf("enum_as = %q, want check", cfg.Postgres.Rules.OnWrite.EnumAs)
	}
}

func TestLoadConfigRejectsUnknownSections(t *testing.T) {
	path := writeTempConfig(t, `
[sqlite.types.on_read]
text = "text"
`)
	_, err := loadConfig(path)
	if err == nil {
		t.Fatal("unknown section should be rejected")
	}
	if !strings.Contains(err.Error(), "sqlite") {
		t.Errorf("error should name the unknown key: %v", err)
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := writeTempConfig(t, `workers = 8`)
	if _, err := loadConfig(path); err == nil {
		t.Fatal("unknown top-level key should be rejected")
	}
}

func TestLoadConfigValidatesEnumModes(t *testing.T) {
	path := writeTempConfig(t, `
[postgres.rules.on_write]
enum_as = "maybe"
`)
	if _, err := loadConfig(path); err == nil {
		t.Fatal("invalid enum_as should be rejected")
	}

	path = writeTempConfig(t, `
[postgres.rules.on_write]
set_as = "wat"
`)
	if _, err := loadConfig(path); err == nil {
		t.Fatal("invalid set_as should be rejected")
	}
}
