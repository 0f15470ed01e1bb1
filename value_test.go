package substrate

import (
	"encoding/json"
	"testing"
)

func TestValueRoundTripScalarKinds(t *testing.T) {
	roundTrip := func(v Value) Value {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal %+v: %v", v, err)
		}
		var got Value
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return got
	}

	if s, _ := roundTrip(StringValue("hello")).String(); s != "hello" {
		t.Errorf("expected 'hello', got %q", s)
	}
	if f, _ := roundTrip(FloatValue(3.5)).Float(); f != 3.5 {
		t.Errorf("expected 3.5, got %v", f)
	}
	if b, ok := roundTrip(BoolValue(true)).Bool(); !ok || !b {
		t.Errorf("expected true, got %v ok=%v", b, ok)
	}
	if !roundTrip(NullValue()).IsNull() {
		t.Error("expected null to round-trip as null")
	}
}

func TestValueMapGet(t *testing.T) {
	v := MapValue(map[string]Value{
		"focus": StringValue("astronomy"),
		"depth": FloatValue(2),
	})

	focus, ok := v.Get("focus")
	if !ok {
		t.Fatal("expected focus key present")
	}
	s, ok := focus.String()
	if !ok || s != "astronomy" {
		t.Errorf("expected focus=astronomy, got %q ok=%v", s, ok)
	}

	if _, ok := v.Get("missing"); ok {
		t.Error("expected missing key to be absent")
	}
}

func TestValueMapRoundTrip(t *testing.T) {
	v := MapValue(map[string]Value{
		"tags": SeqValue(StringValue("a"), StringValue("b")),
		"n":    FloatValue(7),
	})
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Value
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	m, ok := got.Map()
	if !ok {
		t.Fatal("expected a map value back")
	}
	seq, ok := m["tags"].Seq()
	if !ok || len(seq) != 2 {
		t.Fatalf("expected a 2-element seq, got %+v", m["tags"])
	}
	first, _ := seq[0].String()
	if first != "a" {
		t.Errorf("expected first tag 'a', got %q", first)
	}
}

func TestValueIsNull(t *testing.T) {
	if !(Value{}).IsNull() {
		t.Error("zero Value should be null")
	}
	if StringValue("x").IsNull() {
		t.Error("a string value should not be null")
	}
}
