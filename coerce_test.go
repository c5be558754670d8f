package main

import (
	"testing"
	"time"
)

func TestDecodeMySQLCellIntegers(t *testing.T) {
	rules := defaultRuleSet()

	v, err := decodeMySQLCell(int64(30), ColumnType{Base: "tinyint"}, rules)
	if err != nil || v.Kind != KindInt || v.Int != 30 {
		t.Errorf("tinyint = %+v (%v)", v, err)
	}

	v, err = decodeMySQLCell([]byte("65535"), ColumnType{Base: "smallint", Unsigned: true}, rules)
	if err != nil || v.Kind != KindUint || v.Uint != 65535 {
		t.Errorf("smallint unsigned = %+v (%v)", v, err)
	}

	v, err = decodeMySQLCell([]byte("18446744073709551615"), ColumnType{Base: "bigint", Unsigned: true}, rules)
	if err != nil || v.Kind != KindUint || v.Uint != 18446744073709551615 {
		t.Errorf("bigint unsigned max = %+v (%v)", v, err)
	}

	if _, err := decodeMySQLCell(int64(-1), ColumnType{Base: "int", Unsigned: true}, rules); err == nil {
		t.Error("negative value in unsigned column should error")
	}
}

func TestDecodeMySQLCellTinyInt1Bool(t *testing.T) {
	rules := defaultRuleSet()
	rules.TinyInt1ToBool = true
	ct := ColumnType{Base: "tinyint", Params: TypeParams{Length: int64Ptr(1)}}

	v, err := decodeMySQLCell(int64(1), ct, rules)
	if err != nil || v.Kind != KindBool || !v.Bool {
		t.Errorf("tinyint(1)=1 = %+v (%v)", v, err)
	}
	v, err = decodeMySQLCell([]byte("0"), ct, rules)
	if err != nil || v.Kind != KindBool || v.Bool {
		t.Errorf("tinyint(1)=0 = %+v (%v)", v, err)
	}
	if _, err := decodeMySQLCell(int64(2), ct, rules); err == nil {
		t.Error("tinyint(1)=2 should not coerce to boolean")
	}

	// without the rule the value stays integral
	v, err = decodeMySQLCell(int64(2), ct, defaultRuleSet())
	if err != nil || v.Kind != KindInt || v.Int != 2 {
		t.Errorf("tinyint(1) without rule = %+v (%v)", v, err)
	}
}

func TestDecodeMySQLCellZeroDate(t *testing.T) {
	rules := defaultRuleSet()
	for _, raw := range []any{[]byte("0000-00-00"), []byte("0000-00-00 00:00:00"), time.Time{}} {
		v, err := decodeMySQLCell(raw, ColumnType{Base: "datetime"}, rules)
		if err != nil || v.Kind != KindZeroDate {
			t.Errorf("zero date %v = %+v (%v)", raw, v, err)
		}
	}
	v, err := decodeMySQLCell([]byte("2024-02-20 12:34:56"), ColumnType{Base: "datetime"}, rules)
	if err != nil || v.Kind != KindDateTime {
		t.Errorf("datetime = %+v (%v)", v, err)
	}
}

func TestDecodeMySQLCellEnumSetJSON(t *testing.T) {
	rules := defaultRuleSet()

	v, err := decodeMySQLCell([]byte("mittel"), ColumnType{Base: "enum"}, rules)
	if err != nil || v.Kind != KindEnum || v.Str != "mittel" {
		t.Errorf("enum = %+v (%v)", v, err)
	}

	v, err = decodeMySQLCell([]byte("rot,grün"), ColumnType{Base: "set"}, rules)
	if err != nil || v.Kind != KindSet || len(v.Labels) != 2 || v.Labels[1] != "grün" {
		t.Errorf("set = %+v (%v)", v, err)
	}

	v, err = decodeMySQLCell([]byte(""), ColumnType{Base: "set"}, rules)
	if err != nil || v.Kind != KindSet || len(v.Labels) != 0 {
		t.Errorf("empty set = %+v (%v)", v, err)
	}

	v, err = decodeMySQLCell([]byte(`{"key":"value","id":1}`), ColumnType{Base: "json"}, rules)
	if err != nil || v.Kind != KindJSON {
		t.Errorf("json = %+v (%v)", v, err)
	}
}

func TestDecodeMySQLCellText(t *testing.T) {
	rules := defaultRuleSet()

	v, err := decodeMySQLCell([]byte("Emojis: 🚀🦀"), ColumnType{Base: "varchar"}, rules)
	if err != nil || v.Kind != KindString || v.Str != "Emojis: 🚀🦀" {
		t.Errorf("utf8 text = %+v (%v)", v, err)
	}

	// invalid UTF-8 lands in Bytes, never String
	v, err = decodeMySQLCell([]byte{0xff, 0xfe}, ColumnType{Base: "varchar"}, rules)
	if err != nil || v.Kind != KindBytes {
		t.Errorf("non-utf8 text = %+v (%v)", v, err)
	}
}

func TestDecodeMySQLCellBit(t *testing.T) {
	rules := defaultRuleSet()
	ct := ColumnType{Base: "bit", Params: TypeParams{Length: int64Ptr(8)}}
	v, err := decodeMySQLCell([]byte{0xa5}, ct, rules)
	if err != nil || v.Kind != KindBit || v.BitWidth != 8 || v.Bytes[0] != 0xa5 {
		t.Errorf("bit(8) = %+v (%v)", v, err)
	}
}

func TestDecodeMySQLCellDecimal(t *testing.T) {
	rules := defaultRuleSet()
	v, err := decodeMySQLCell([]byte("123.45"), ColumnType{Base: "decimal"}, rules)
	if err != nil || v.Kind != KindDecimal || v.Dec.String() != "123.45" {
		t.Errorf("decimal = %+v (%v)", v, err)
	}
}

func TestCoerceZeroDate(t *testing.T) {
	nullable := &Column{Name: "d", Type: ColumnType{Base: "date", Nullable: true}}
	notNull := &Column{Name: "d", Type: ColumnType{Base: "date", Nullable: false}}

	v, err := coerceValue(zeroDateValue(), nullable, DialectPostgres, true)
	if err != nil || !v.IsNull() {
		t.Errorf("nullable zero date = %+v (%v)", v, err)
	}

	v, err = coerceValue(zeroDateValue(), notNull, DialectPostgres, true)
	if err != nil || v.Kind != KindDate || v.Time.Format("2006-01-02") != "1970-01-01" {
		t.Errorf("not-null zero date = %+v (%v)", v, err)
	}

	_, err = coerceValue(zeroDateValue(), nullable, DialectPostgres, false)
	if err == nil {
		t.Fatal("zero date without rule should fail on postgres target")
	}
	if exitCode(err) != 5 {
		t.Errorf("zero date failure exit code = %d, want 5", exitCode(err))
	}

	// MySQL targets keep the sentinel verbatim
	v, err = coerceValue(zeroDateValue(), notNull, DialectMySQL, false)
	if err != nil || v.Kind != KindZeroDate {
		t.Errorf("mysql zero date = %+v (%v)", v, err)
	}
}

func TestCoerceBit(t *testing.T) {
	boolCol := &Column{Name: "b", Type: ColumnType{Base: "boolean", Nullable: true}}
	byteaCol := &Column{Name: "b", Type: ColumnType{Base: "bytea", Nullable: true}}

	v, err := coerceValue(bitValue(1, []byte{0x01}), boolCol, DialectPostgres, true)
	if err != nil || v.Kind != KindBool || !v.Bool {
		t.Errorf("bit(1)→bool = %+v (%v)", v, err)
	}

	if _, err := coerceValue(bitValue(8, []byte{0xff}), boolCol, DialectPostgres, true); err == nil {
		t.Error("bit(8) into boolean should fail")
	}

	v, err = coerceValue(bitValue(8, []byte{0xff}), byteaCol, DialectPostgres, true)
	if err != nil || v.Kind != KindBit {
		t.Errorf("bit(8)→bytea = %+v (%v)", v, err)
	}
}

func TestCoerceSet(t *testing.T) {
	arrCol := &Column{Name: "s", Type: ColumnType{
		Base:   "array",
		Params: TypeParams{ArrayElem: &ColumnType{Base: "text"}},
	}}
	textCol := &Column{Name: "s", Type: ColumnType{Base: "text", Nullable: true}}

	v, err := coerceValue(setValue([]string{"rot", "grün"}), arrCol, DialectPostgres, true)
	if err != nil || v.Kind != KindArray || len(v.Elems) != 2 || v.Elems[0].Str != "rot" {
		t.Errorf("set→text[] = %+v (%v)", v, err)
	}

	v, err = coerceValue(setValue([]string{"a", "b"}), textCol, DialectPostgres, true)
	if err != nil || v.Kind != KindString || v.Str != "a,b" {
		t.Errorf("set→csv = %+v (%v)", v, err)
	}
}

func TestCoerceUUIDAndInetToMySQL(t *testing.T) {
	raw := []byte{0x55, 0x0e, 0x84, 0x00, 0xe2, 0x9b, 0x41, 0xd4,
		0xa7, 0x16, 0x44, 0x66, 0x55, 0x44, 0x00, 0x00}
	u, _ := uuidValue(raw)
	col := &Column{Name: "u", Type: ColumnType{Base: "char", Params: TypeParams{Length: int64Ptr(36)}}}
	v, err := coerceValue(u, col, DialectMySQL, true)
	if err != nil || v.Kind != KindString || v.Str != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("uuid→char(36) = %+v (%v)", v, err)
	}

	inetCol := &Column{Name: "ip", Type: ColumnType{Base: "varchar", Params: TypeParams{Length: int64Ptr(45)}}}
	v, err = coerceValue(inetValue("192.168.1.1"), inetCol, DialectMySQL, true)
	if err != nil || v.Kind != KindString {
		t.Errorf("inet→varchar = %+v (%v)", v, err)
	}
}

func TestCoerceArrayToMySQLJSON(t *testing.T) {
	col := &Column{Name: "a", Type: ColumnType{Base: "json"}}
	v, err := coerceValue(arrayValue([]Value{intValue(1), intValue(2)}), col, DialectMySQL, true)
	if err != nil || v.Kind != KindJSON || v.Str != "[1,2]" {
		t.Errorf("array→json = %+v (%v)", v, err)
	}
}

func TestCoerceTemporalTruncation(t *testing.T) {
	ts := time.Date(2024, 2, 20, 12, 34, 56, 987654321, time.UTC)

	// MySQL datetime without declared precision truncates to whole seconds
	col := &Column{Name: "ts", Type: ColumnType{Base: "datetime"}}
	v, err := coerceValue(dateTimeValue(ts), col, DialectMySQL, true)
	if err != nil || v.Time.Nanosecond() != 0 {
		t.Errorf("datetime trunc to 0 = %v (%v)", v.Time, err)
	}

	// PG timestamp default precision keeps microseconds, truncated not rounded
	col = &Column{Name: "ts", Type: ColumnType{Base: "timestamp"}}
	v, err = coerceValue(dateTimeValue(ts), col, DialectPostgres, true)
	if err != nil || v.Time.Nanosecond() != 987654000 {
		t.Errorf("timestamp trunc to 6 = %d (%v)", v.Time.Nanosecond(), err)
	}

	// declared datetime(3)
	col = &Column{Name: "ts", Type: ColumnType{Base: "datetime", Params: TypeParams{Length: int64Ptr(3)}}}
	v, err = coerceValue(dateTimeValue(ts), col, DialectMySQL, true)
	if err != nil || v.Time.Nanosecond() != 987000000 {
		t.Errorf("datetime(3) trunc = %d (%v)", v.Time.Nanosecond(), err)
	}
}

func TestCoerceRowLengthMismatch(t *testing.T) {
	table := &Table{Name: "t", Columns: []Column{
		{Name: "a", Type: ColumnType{Base: "text", Nullable: true}},
	}}
	if _, err := coerceRow([]Value{intValue(1), intValue(2)}, table, DialectPostgres, true); err == nil {
		t.Error("row/column count mismatch should error")
	}
}

func TestParseJSONArrayValue(t *testing.T) {
	elem := ColumnType{Base: "integer"}
	v, err := parseJSONArrayValue("[1,2,3]", &elem)
	if err != nil || v.Kind != KindArray || len(v.Elems) != 3 || v.Elems[2].Int != 3 {
		t.Errorf("int array = %+v (%v)", v, err)
	}

	v, err = parseJSONArrayValue(`["a","b"]`, &ColumnType{Base: "text"})
	if err != nil || len(v.Elems) != 2 || v.Elems[0].Str != "a" {
		t.Errorf("text array = %+v (%v)", v, err)
	}

	if _, err := parseJSONArrayValue("not json", nil); err == nil {
		t.Error("invalid array text should error")
	}
}

func TestParseUUIDValue(t *testing.T) {
	v, err := parseUUIDValue("550e8400-e29b-41d4-a716-446655440000")
	if err != nil || v.Kind != KindUUID || len(v.Bytes) != 16 {
		t.Errorf("uuid parse = %+v (%v)", v, err)
	}
	if _, err := parseUUIDValue("nope"); err == nil {
		t.Error("invalid uuid should error")
	}
}

func TestJSONNullByteStripping(t *testing.T) {
	rules := defaultRuleSet()
	raw := []byte("{\"k\":\"a\\u0000b\"}")
	v, err := decodeMySQLCell(raw, ColumnType{Base: "json"}, rules)
	if err != nil {
		t.Fatal(err)
	}
	if v.Str != "{\"k\":\"ab\"}" {
		t.Errorf("escaped NUL should be stripped from JSON: %q", v.Str)
	}
}
