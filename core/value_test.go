package core

import (
	"encoding/json"
	"testing"
)

func TestTruthyZeroIsTrue(t *testing.T) {
	if !Truthy(NumberValue(0.0)) {
		t.Fatalf("NumberValue(0.0) must be truthy per the 0.0-is-true convention")
	}
	if Truthy(NumberValue(1.0)) {
		t.Fatalf("NumberValue(1.0) must be falsey")
	}
	if Truthy(NullValue()) {
		t.Fatalf("NullValue must be falsey")
	}
	if !Truthy(BoolValue(true)) || Truthy(BoolValue(false)) {
		t.Fatalf("BoolValue should follow its own Bool field")
	}
	if Truthy(StringValue("")) || !Truthy(StringValue("x")) {
		t.Fatalf("StringValue truthiness should follow non-emptiness")
	}
}

func TestAsNumberCoercion(t *testing.T) {
	cases := []struct {
		v    Value
		want float64
		ok   bool
	}{
		{NumberValue(4), 4, true},
		{BoolValue(true), 1, true},
		{BoolValue(false), 0, true},
		{StringValue("3.5"), 3.5, true},
		{StringValue("nope"), 0, false},
		{NullValue(), 0, false},
	}
	for _, c := range cases {
		n, err := c.v.AsNumber("Test")
		if c.ok && err != nil {
			t.Fatalf("unexpected error for %+v: %v", c.v, err)
		}
		if !c.ok && err == nil {
			t.Fatalf("expected error for %+v", c.v)
		}
		if c.ok && n != c.want {
			t.Fatalf("got %v want %v", n, c.want)
		}
	}
}

func TestAddStringNumberCoercion(t *testing.T) {
	v, err := Add(NumberValue(2), StringValue("3"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Kind != KindNumber || v.Num != 5 {
		t.Fatalf("got %+v", v)
	}

	v, err = Add(StringValue("a"), StringValue("b"))
	if err != nil || v.Kind != KindString || v.Str != "ab" {
		t.Fatalf("string concat failed: %+v, %v", v, err)
	}

	if _, err := Add(StringValue("x"), NumberValue(1)); err == nil {
		t.Fatalf("expected type mismatch when string doesn't parse as number")
	}
}

func TestMulStringRepeat(t *testing.T) {
	v, err := Mul(NumberValue(3), StringValue("ab"))
	if err != nil || v.Str != "ababab" {
		t.Fatalf("got %+v, %v", v, err)
	}
	v, err = Mul(NumberValue(-1), StringValue("ab"))
	if err != nil || v.Str != "" {
		t.Fatalf("negative repeat should clamp to zero, got %+v", v)
	}
}

func TestDivModByZero(t *testing.T) {
	if _, err := Div(NumberValue(1), NumberValue(0)); err == nil || err.Kind != KindDivisionByZero {
		t.Fatalf("expected DivisionByZero, got %v", err)
	}
	if _, err := Mod(NumberValue(1), NumberValue(0)); err == nil || err.Kind != KindDivisionByZero {
		t.Fatalf("expected DivisionByZero, got %v", err)
	}
}

func TestEqualAndCompare(t *testing.T) {
	if !Equal(NumberValue(1), NumberValue(1)) {
		t.Fatalf("expected equal numbers to compare equal")
	}
	if Equal(NumberValue(1), StringValue("1")) {
		t.Fatalf("different kinds must never be equal")
	}
	cmp, err := Compare(StringValue("a"), StringValue("b"), "Test")
	if err != nil || cmp >= 0 {
		t.Fatalf("expected a < b lexicographically, got %v, %v", cmp, err)
	}
	if _, err := Compare(StringValue("a"), NullValue(), "Test"); err == nil {
		t.Fatalf("expected type mismatch comparing string to null")
	}
}

func TestValueJSONRoundTrip(t *testing.T) {
	values := []Value{
		NumberValue(3.25),
		BoolValue(true),
		StringValue("hello"),
		NullValue(),
	}
	for _, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		var out Value
		if err := json.Unmarshal(b, &out); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if !Equal(v, out) {
			t.Fatalf("round trip mismatch: %+v != %+v (wire %s)", v, out, b)
		}
	}
}
