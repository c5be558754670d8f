package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/netip"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ValueKind tags the dialect-neutral representation of a single cell.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindDecimal
	KindString
	KindBytes
	KindDate
	KindTime
	KindDateTime
	KindJSON
	KindUUID
	KindInet
	KindArray
	KindBit
	KindEnum
	KindSet
	// KindZeroDate marks MySQL's '0000-00-00' sentinel before the
	// zero_date_to_null rule has been applied.
	KindZeroDate
)

var kindNames = map[ValueKind]string{
	KindNull: "null", KindBool: "bool", KindInt: "int", KindUint: "uint",
	KindFloat: "float", KindDecimal: "decimal", KindString: "string",
	KindBytes: "bytes", KindDate: "date", KindTime: "time",
	KindDateTime: "datetime", KindJSON: "json", KindUUID: "uuid",
	KindInet: "inet", KindArray: "array", KindBit: "bit",
	KindEnum: "enum", KindSet: "set", KindZeroDate: "zerodate",
}

func (k ValueKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is the tagged union for every cell crossing the engine. Only the
// field matching Kind is meaningful; Values are transient and never
// retained across chunks.
type Value struct {
	Kind ValueKind

	Bool  bool
	Int   int64
	Uint  uint64
	Float float64
	Dec   decimal.Decimal
	Str   string    // String, JSON text, Inet, Enum label
	Bytes []byte    // Bytes, Bit payload (big-endian), UUID (16 bytes)
	Time  time.Time // Date (midnight UTC), Time (on day zero), DateTime

	BitWidth int      // Bit
	Elems    []Value  // Array
	Labels   []string // Set
}

func nullValue() Value             { return Value{Kind: KindNull} }
func boolValue(b bool) Value       { return Value{Kind: KindBool, Bool: b} }
func intValue(i int64) Value       { return Value{Kind: KindInt, Int: i} }
func uintValue(u uint64) Value     { return Value{Kind: KindUint, Uint: u} }
func floatValue(f float64) Value   { return Value{Kind: KindFloat, Float: f} }
func stringValue(s string) Value   { return Value{Kind: KindString, Str: s} }
func bytesValue(b []byte) Value    { return Value{Kind: KindBytes, Bytes: b} }
func jsonValue(s string) Value     { return Value{Kind: KindJSON, Str: s} }
func inetValue(s string) Value     { return Value{Kind: KindInet, Str: s} }
func enumValue(label string) Value { return Value{Kind: KindEnum, Str: label} }
func setValue(labels []string) Value {
	return Value{Kind: KindSet, Labels: labels}
}
func zeroDateValue() Value { return Value{Kind: KindZeroDate} }

func decimalValue(d decimal.Decimal) Value { return Value{Kind: KindDecimal, Dec: d} }

func dateValue(t time.Time) Value {
	return Value{Kind: KindDate, Time: t.UTC().Truncate(24 * time.Hour)}
}

func timeValue(t time.Time) Value     { return Value{Kind: KindTime, Time: t} }
func dateTimeValue(t time.Time) Value { return Value{Kind: KindDateTime, Time: t} }

func uuidValue(b []byte) (Value, error) {
	if len(b) != 16 {
		return Value{}, fmt.Errorf("uuid payload must be 16 bytes, got %d", len(b))
	}
	return Value{Kind: KindUUID, Bytes: append([]byte(nil), b...)}, nil
}

func bitValue(width int, b []byte) Value {
	return Value{Kind: KindBit, BitWidth: width, Bytes: b}
}

func arrayValue(elems []Value) Value { return Value{Kind: KindArray, Elems: elems} }

// IsNull reports whether the value is SQL NULL.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// UUIDString renders a 16-byte UUID payload in canonical 8-4-4-4-12 form.
func (v Value) UUIDString() string {
	u, err := uuid.FromBytes(v.Bytes)
	if err != nil {
		return ""
	}
	return u.String()
}

// String renders a debug form used in row-error logs.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindZeroDate:
		return "0000-00-00 00:00:00"
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindUint:
		return fmt.Sprintf("%d", v.Uint)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindDecimal:
		return v.Dec.String()
	case KindString, KindJSON, KindInet, KindEnum:
		return v.Str
	case KindBytes, KindBit:
		return fmt.Sprintf("0x%x", v.Bytes)
	case KindDate:
		return v.Time.Format("2006-01-02")
	case KindTime:
		return v.Time.Format("15:04:05.999999999")
	case KindDateTime:
		return v.Time.Format("2006-01-02 15:04:05.999999999")
	case KindUUID:
		return v.UUIDString()
	case KindSet:
		return strings.Join(v.Labels, ",")
	case KindArray:
		parts := make([]string, len(v.Elems))
		for i, e := range v.Elems {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	return "?"
}

// truncateFrac truncates a timestamp toward zero to p fractional digits
// (0..9). Never rounds.
func truncateFrac(t time.Time, p int) time.Time {
	if p >= 9 {
		return t
	}
	div := int64(1)
	for i := 0; i < 9-p; i++ {
		div *= 10
	}
	ns := int64(t.Nanosecond())
	return t.Add(time.Duration(-(ns % div)))
}

// canonicalInet normalizes an address or prefix to its canonical textual
// network form. Invalid input is returned verbatim so the mismatch is
// visible in verification output.
func canonicalInet(s string) string {
	if p, err := netip.ParsePrefix(s); err == nil {
		return p.Masked().String()
	}
	if a, err := netip.ParseAddr(s); err == nil {
		return a.String()
	}
	return s
}

// jsonEqual compares two JSON documents structurally: key order ignored,
// numbers by value.
func jsonEqual(a, b string) bool {
	var av, bv any
	if err := json.Unmarshal([]byte(a), &av); err != nil {
		return a == b
	}
	if err := json.Unmarshal([]byte(b), &bv); err != nil {
		return a == b
	}
	return reflect.DeepEqual(av, bv)
}

// valuesEqual implements the cross-dialect equivalence relation used by
// verification: numerics after promotion to the common widest type,
// decimals by numeric value, temporals after truncation to the coarser
// fractional precision, JSON structurally, sets as label sets.
func valuesEqual(a, b Value, fracPrecision int) bool {
	// Zero-dates compare equal to NULL across dialects; one side may have
	// applied zero_date_to_null.
	aNull := a.Kind == KindNull || a.Kind == KindZeroDate
	bNull := b.Kind == KindNull || b.Kind == KindZeroDate
	if aNull || bNull {
		return aNull == bNull
	}

	// Numeric promotion across Int/Uint/Float/Decimal/Bool-as-int.
	if an, ok := numericDecimal(a); ok {
		if bn, ok := numericDecimal(b); ok {
			return an.Equal(bn)
		}
		return false
	}

	switch a.Kind {
	case KindBool:
		return b.Kind == KindBool && a.Bool == b.Bool
	case KindString, KindEnum:
		return (b.Kind == KindString || b.Kind == KindEnum) && a.Str == b.Str
	case KindJSON:
		return b.Kind == KindJSON && jsonEqual(a.Str, b.Str)
	case KindBytes, KindBit, KindUUID:
		if b.Kind == KindUUID && a.Kind == KindUUID {
			return bytes.Equal(a.Bytes, b.Bytes)
		}
		return (b.Kind == KindBytes || b.Kind == KindBit) &&
			(a.Kind == KindBytes || a.Kind == KindBit) &&
			bytes.Equal(a.Bytes, b.Bytes)
	case KindDate:
		return b.Kind == KindDate && a.Time.Equal(b.Time)
	case KindTime, KindDateTime:
		if b.Kind != a.Kind {
			return false
		}
		return truncateFrac(a.Time, fracPrecision).Equal(truncateFrac(b.Time, fracPrecision))
	case KindInet:
		return b.Kind == KindInet && canonicalInet(a.Str) == canonicalInet(b.Str)
	case KindSet:
		if b.Kind != KindSet {
			return false
		}
		return labelSetEqual(a.Labels, b.Labels)
	case KindArray:
		if b.Kind != KindArray || len(a.Elems) != len(b.Elems) {
			return false
		}
		for i := range a.Elems {
			if !valuesEqual(a.Elems[i], b.Elems[i], fracPrecision) {
				return false
			}
		}
		return true
	}
	return false
}

// numericDecimal promotes any numeric kind to a decimal for comparison.
func numericDecimal(v Value) (decimal.Decimal, bool) {
	switch v.Kind {
	case KindInt:
		return decimal.NewFromInt(v.Int), true
	case KindUint:
		return decimal.NewFromUint64(v.Uint), true
	case KindFloat:
		return decimal.NewFromFloat(v.Float), true
	case KindDecimal:
		return v.Dec, true
	}
	return decimal.Decimal{}, false
}

func labelSetEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, l := range a {
		seen[l]++
	}
	for _, l := range b {
		seen[l]--
		if seen[l] < 0 {
			return false
		}
	}
	return true
}
