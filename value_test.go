package main

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func mustDecimal(t *testing.T, s string) Value {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("decimal %q: %v", s, err)
	}
	return decimalValue(d)
}

func TestValuesEqualNumericPromotion(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"int==int", intValue(42), intValue(42), true},
		{"int!=int", intValue(42), intValue(43), false},
		{"int==uint", intValue(65535), uintValue(65535), true},
		{"uint==decimal", uintValue(18446744073709551615), mustDecimal(t, "18446744073709551615"), true},
		{"int==decimal scale", intValue(30), mustDecimal(t, "30.00"), true},
		{"decimal by value not text", mustDecimal(t, "123.4500"), mustDecimal(t, "123.45"), true},
		{"float==int", floatValue(30), intValue(30), true},
		{"negative int != uint", intValue(-1), uintValue(1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := valuesEqual(tt.a, tt.b, 6); got != tt.want {
				t.Errorf("valuesEqual(%v, %v) = %t, want %t", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestValuesEqualNullAndZeroDate(t *testing.T) {
	if !valuesEqual(nullValue(), nullValue(), 6) {
		t.Error("null != null")
	}
	if !valuesEqual(zeroDateValue(), nullValue(), 6) {
		t.Error("zero date should compare equal to null across dialects")
	}
	if valuesEqual(nullValue(), intValue(0), 6) {
		t.Error("null == 0")
	}
}

func TestValuesEqualJSONStructural(t *testing.T) {
	a := jsonValue(`{"key":"value","id":1}`)
	b := jsonValue(`{"id": 1, "key": "value"}`)
	if !valuesEqual(a, b, 6) {
		t.Error("structurally equal JSON compared unequal")
	}
	c := jsonValue(`{"id":2}`)
	if valuesEqual(a, c, 6) {
		t.Error("different JSON compared equal")
	}
}

func TestValuesEqualSetSemantics(t *testing.T) {
	a := setValue([]string{"rot", "grün"})
	b := setValue([]string{"grün", "rot"})
	if !valuesEqual(a, b, 6) {
		t.Error("sets with same labels in different order compared unequal")
	}
	c := setValue([]string{"rot"})
	if valuesEqual(a, c, 6) {
		t.Error("different sets compared equal")
	}
}

func TestValuesEqualTemporalTruncation(t *testing.T) {
	base := time.Date(2024, 2, 20, 12, 34, 56, 123456789, time.UTC)
	a := dateTimeValue(base)
	b := dateTimeValue(base.Truncate(time.Second))
	if !valuesEqual(a, b, 0) {
		t.Error("datetimes should be equal after truncation to 0 fractional digits")
	}
	if valuesEqual(a, b, 6) {
		t.Error("datetimes differing in microseconds compared equal at precision 6")
	}
}

func TestValuesEqualInetCanonical(t *testing.T) {
	if !valuesEqual(inetValue("192.168.001.001"), inetValue("192.168.1.1"), 6) {
		t.Error("inet values should compare after canonicalization")
	}
	if !valuesEqual(inetValue("2001:0db8::1"), inetValue("2001:db8::1"), 6) {
		t.Error("ipv6 values should compare after canonicalization")
	}
}

func TestValuesEqualUUIDAndBytes(t *testing.T) {
	raw := []byte{0x55, 0x0e, 0x84, 0x00, 0xe2, 0x9b, 0x41, 0xd4,
		0xa7, 0x16, 0x44, 0x66, 0x55, 0x44, 0x00, 0x00}
	u1, err := uuidValue(raw)
	if err != nil {
		t.Fatal(err)
	}
	u2, _ := uuidValue(raw)
	if !valuesEqual(u1, u2, 6) {
		t.Error("identical UUIDs compared unequal")
	}
	if u1.UUIDString() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("UUIDString = %q", u1.UUIDString())
	}
	if !valuesEqual(bytesValue([]byte{1, 2}), bitValue(16, []byte{1, 2}), 6) {
		t.Error("bytes and bit payloads with same content compared unequal")
	}
}

func TestValuesEqualArray(t *testing.T) {
	a := arrayValue([]Value{intValue(1), intValue(2)})
	b := arrayValue([]Value{intValue(1), intValue(2)})
	c := arrayValue([]Value{intValue(2), intValue(1)})
	if !valuesEqual(a, b, 6) {
		t.Error("equal arrays compared unequal")
	}
	if valuesEqual(a, c, 6) {
		t.Error("arrays are ordered; reordered arrays must not compare equal")
	}
}

func TestTruncateFrac(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 999999999, time.UTC)
	tests := []struct {
		p    int
		want int
	}{
		{0, 0},
		{3, 999000000},
		{6, 999999000},
		{9, 999999999},
	}
	for _, tt := range tests {
		got := truncateFrac(base, tt.p).Nanosecond()
		if got != tt.want {
			t.Errorf("truncateFrac(p=%d) ns = %d, want %d", tt.p, got, tt.want)
		}
	}
}

func TestUUIDValueLength(t *testing.T) {
	if _, err := uuidValue([]byte{1, 2, 3}); err == nil {
		t.Error("short uuid payload accepted")
	}
}
