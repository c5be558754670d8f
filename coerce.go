package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// decodeMySQLCell converts a database/sql scan result into a neutral
// Value, driven by the column's native MySQL type. The MySQL text
// protocol hands most cells over as []byte.
func decodeMySQLCell(raw any, ct ColumnType, rules RuleSet) (Value, error) {
	if raw == nil {
		return nullValue(), nil
	}

	switch ct.Base {
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint", "year":
		if ct.Base == "tinyint" && paramLen(ct) == 1 && !ct.Unsigned && rules.TinyInt1ToBool {
			n, err := cellInt(raw)
			if err != nil {
				return Value{}, err
			}
			switch n {
			case 0:
				return boolValue(false), nil
			case 1:
				return boolValue(true), nil
			}
			return Value{}, kindError(errRowFailure, "cannot coerce tinyint(1) value %d to boolean", n)
		}
		if ct.Unsigned {
			u, err := cellUint(raw)
			if err != nil {
				return Value{}, err
			}
			return uintValue(u), nil
		}
		n, err := cellInt(raw)
		if err != nil {
			return Value{}, err
		}
		return intValue(n), nil

	case "float", "double":
		f, err := cellFloat(raw)
		if err != nil {
			return Value{}, err
		}
		return floatValue(f), nil

	case "decimal":
		s, err := cellString(raw)
		if err != nil {
			return Value{}, err
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Value{}, fmt.Errorf("decimal %q: %w", s, err)
		}
		return decimalValue(d), nil

	case "date":
		return decodeMySQLTemporal(raw, KindDate)
	case "datetime", "timestamp":
		return decodeMySQLTemporal(raw, KindDateTime)
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

	case "bit":
		b, ok := raw.([]byte)
		if !ok {
			return Value{}, fmt.Errorf("bit column: expected bytes, got %T", raw)
		}
		width := int(paramLen(ct))
		if width == 0 {
			width = 1
		}
		return bitValue(width, append([]byte(nil), b...)), nil

	case "enum":
		s, err := cellString(raw)
		if err != nil {
			return Value{}, err
		}
		return enumValue(s), nil

	case "set":
		s, err := cellString(raw)
		if err != nil {
			return Value{}, err
		}
		if s == "" {
			return setValue(nil), nil
		}
		return setValue(strings.Split(s, ",")), nil

	case "json":
		s, err := cellString(raw)
		if err != nil {
			return Value{}, err
		}
		// MySQL permits escaped NUL inside JSON strings; PG does not.
		return jsonValue(strings.ReplaceAll(s, `\u0000`, "")), nil

	case "char", "varchar", "text", "tinytext", "mediumtext", "longtext":
		if b, ok := raw.([]byte); ok && !utf8.Valid(b) {
			return bytesValue(append([]byte(nil), b...)), nil
		}
		s, err := cellString(raw)
		if err != nil {
			return Value{}, err
		}
		return stringValue(s), nil

	case "binary", "varbinary", "blob", "tinyblob", "mediumblob", "longblob":
		b, ok := raw.([]byte)
		if !ok {
			return Value{}, fmt.Errorf("binary column: expected bytes, got %T", raw)
		}
		return bytesValue(append([]byte(nil), b...)), nil
	}

	return Value{}, kindError(errSchema, "unsupported mysql cell type %q", ct.Base)
}

func decodeMySQLTemporal(raw any, kind ValueKind) (Value, error) {
	switch v := raw.(type) {
	case time.Time:
		if v.IsZero() {
			return zeroDateValue(), nil
		}
		if kind == KindDate {
			return dateValue(v), nil
		}
		return dateTimeValue(v.UTC()), nil
	case []byte, string:
		s, _ := cellString(raw)
		if strings.HasPrefix(s, "0000-00-00") {
			return zeroDateValue(), nil
		}
		t, err := parseMySQLDateTime(s)
		if err != nil {
			return Value{}, err
		}
		if kind == KindDate {
			return dateValue(t), nil
		}
		return dateTimeValue(t), nil
	}
	return Value{}, fmt.Errorf("temporal column: unexpected %T", raw)
}

func parseMySQLDateTime(s string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse temporal value %q", s)
}

func parseMySQLTime(s string) (time.Time, error) {
	for _, layout := range []string{"15:04:05.999999999", "15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time value %q", s)
}

func cellString(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	}
	return "", fmt.Errorf("expected text cell, got %T", raw)
}

func cellInt(raw any) (int64, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case string:
		return strconv.ParseInt(v, 10, 64)
	}
	return 0, fmt.Errorf("expected integer cell, got %T", raw)
}

func cellUint(raw any) (uint64, error) {
	switch v := raw.(type) {
	case uint64:
		return v, nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("negative value %d in unsigned column", v)
		}
		return uint64(v), nil
	case []byte:
		return strconv.ParseUint(string(v), 10, 64)
	case string:
		return strconv.ParseUint(v, 10, 64)
	}
	return 0, fmt.Errorf("expected unsigned cell, got %T", raw)
}

func cellFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case []byte:
		return strconv.ParseFloat(string(v), 64)
	case string:
		return strconv.ParseFloat(v, 64)
	}
	return 0, fmt.Errorf("expected float cell, got %T", raw)
}

// coerceRow applies the per-column coercion pipeline to one source row,
// producing values bindable against the target table. zeroDateToNull is
// the source read-side rule; target write rules come from the column
// types themselves (already rewritten by the mapper).
func coerceRow(row []Value, target *Table, dst Dialect, zeroDateToNull bool) ([]Value, error) {
	if len(row) != len(target.Columns) {
		return nil, fmt.Errorf("row has %d values, table %s has %d columns",
			len(row), target.Name, len(target.Columns))
	}
	out := make([]Value, len(row))
	for i := range row {
		v, err := coerceValue(row[i], &target.Columns[i], dst, zeroDateToNull)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", target.Columns[i].Name, err)
		}
		out[i] = v
	}
	return out, nil
}

// coerceValue adapts one neutral Value to the target column type.
func coerceValue(v Value, col *Column, dst Dialect, zeroDateToNull bool) (Value, error) {
	if v.Kind == KindZeroDate {
		if dst == DialectMySQL {
			// MySQL accepts the sentinel; keep it verbatim.
			return v, nil
		}
		if !zeroDateToNull {
			return Value{}, kindError(errRowFailure,
				"zero date is not representable on %s (enable zero_date_to_null)", dst)
		}
		if col.Type.Nullable {
			return nullValue(), nil
		}
		// NOT NULL columns land on the epoch, matching the rewritten default.
		epoch := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
		if col.Type.Base == "date" {
			return dateValue(epoch), nil
		}
		return dateTimeValue(epoch), nil
	}
	if v.IsNull() {
		return v, nil
	}

	switch v.Kind {
	case KindBit:
		switch col.Type.Base {
		case "boolean":
			if v.BitWidth != 1 {
				return Value{}, kindError(errRowFailure,
					"bit(%d) does not fit boolean", v.BitWidth)
			}
			set := false
			for _, b := range v.Bytes {
				if b != 0 {
					set = true
				}
			}
			return boolValue(set), nil
		case "bytea", "blob", "longblob", "bit":
			return v, nil
		}
		return Value{}, kindError(errRowFailure,
			"bit(%d) value cannot land in %s column", v.BitWidth, col.Type.Base)

	case KindSet:
		switch col.Type.Base {
		case "array":
			elems := make([]Value, len(v.Labels))
			for i, l := range v.Labels {
				elems[i] = stringValue(l)
			}
			return arrayValue(elems), nil
		case "text", "varchar", "longtext", "set":
			if col.Type.Base == "set" {
				return v, nil
			}
			return stringValue(strings.Join(v.Labels, ",")), nil
		}

	case KindEnum:
		if col.Type.Base == "enum" {
			return v, nil
		}
		return stringValue(v.Str), nil

	case KindUUID:
		if dst == DialectMySQL {
			return stringValue(v.UUIDString()), nil
		}
		return v, nil

	case KindInet:
		if dst == DialectMySQL {
			return stringValue(v.Str), nil
		}
		return v, nil

	case KindArray:
		if dst == DialectMySQL {
			// Arrays serialize to a JSON document on MySQL targets.
			parts := make([]any, len(v.Elems))
			for i, e := range v.Elems {
				parts[i] = arrayElemJSON(e)
			}
			buf, err := json.Marshal(parts)
			if err != nil {
				return Value{}, err
			}
			return jsonValue(string(buf)), nil
		}
		return v, nil

	case KindDateTime, KindTime:
		// Truncate toward zero to the target's declared fractional
		// precision; never round.
		p := targetFracPrecision(col.Type, dst)
		out := v
		out.Time = truncateFrac(v.Time, p)
		return out, nil

	case KindJSON:
		return v, nil
	}

	return v, nil
}

func arrayElemJSON(v Value) any {
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
	default:
		return v.String()
	}
}

// parseUUIDValue parses the canonical textual form into a 16-byte Value.
func parseUUIDValue(s string) (Value, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Value{}, fmt.Errorf("uuid %q: %w", s, err)
	}
	return uuidValue(u[:])
}

// parseJSONArrayValue rebuilds an Array value from its to_json text form.
func parseJSONArrayValue(s string, elem *ColumnType) (Value, error) {
	var raw []any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return Value{}, fmt.Errorf("array %q: %w", s, err)
	}
	elemBase := "text"
	if elem != nil {
		elemBase = elem.Base
	}
	elems := make([]Value, len(raw))
	for i, e := range raw {
		switch v := e.(type) {
		case nil:
			elems[i] = nullValue()
		case bool:
			elems[i] = boolValue(v)
		case float64:
			switch elemBase {
			case "smallint", "integer", "bigint", "int":
				elems[i] = intValue(int64(v))
			default:
				elems[i] = floatValue(v)
			}
		case string:
			elems[i] = stringValue(v)
		default:
			buf, err := json.Marshal(v)
			if err != nil {
				return Value{}, err
			}
			elems[i] = jsonValue(string(buf))
		}
	}
	return arrayValue(elems), nil
}

// targetFracPrecision returns the fractional-second digit budget of a
// temporal column: the declared precision if present, else the dialect
// default (MySQL 0, PG 6).
func targetFracPrecision(ct ColumnType, d Dialect) int {
	if ct.Params.Length != nil {
		return int(*ct.Params.Length)
	}
	if ct.Params.Precision != nil {
		return int(*ct.Params.Precision)
	}
	if d == DialectMySQL {
		return 0
	}
	return 6
}
