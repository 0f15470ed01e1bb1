package substrate

import "encoding/json"

// Value is a tagged tree over scalar, sequence, and map shapes — the Go
// rendition of the original's untyped Python metadata dict (spec §9
// "dynamic typing of metadata"). Metadata supplied by callers (e.g.
// the "focus" field used for contextual associations) flows through
// this type instead of map[string]any so accessors can fail closed.
type Value struct {
	kind string // "string", "float", "bool", "seq", "map", "null"
	str  string
	num  float64
	bl   bool
	seq  []Value
	mp   map[string]Value
}

func NullValue() Value                { return Value{kind: "null"} }
func StringValue(s string) Value      { return Value{kind: "string", str: s} }
func FloatValue(f float64) Value      { return Value{kind: "float", num: f} }
func BoolValue(b bool) Value          { return Value{kind: "bool", bl: b} }
func SeqValue(items ...Value) Value   { return Value{kind: "seq", seq: items} }
func MapValue(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: "map", mp: m}
}

func (v Value) String() (string, bool) {
	if v.kind != "string" {
		return "", false
	}
	return v.str, true
}

func (v Value) Float() (float64, bool) {
	if v.kind != "float" {
		return 0, false
	}
	return v.num, true
}

func (v Value) Bool() (bool, bool) {
	if v.kind != "bool" {
		return false, false
	}
	return v.bl, true
}

func (v Value) Seq() ([]Value, bool) {
	if v.kind != "seq" {
		return nil, false
	}
	return v.seq, true
}

func (v Value) Map() (map[string]Value, bool) {
	if v.kind != "map" {
		return nil, false
	}
	return v.mp, true
}

// Get looks up a key when v is a map, returning the zero Value
// (kind "null") and false when v isn't a map or the key is absent.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != "map" {
		return Value{kind: "null"}, false
	}
	child, ok := v.mp[key]
	return child, ok
}

// IsNull reports whether v carries no data.
func (v Value) IsNull() bool { return v.kind == "" || v.kind == "null" }

// jsonValue mirrors Value for JSON (de)serialization, since the kind
// discriminant and its payload can't round-trip through a struct tag
// set directly.
type jsonValue struct {
	Kind string               `json:"kind"`
	Str  string               `json:"str,omitempty"`
	Num  float64              `json:"num,omitempty"`
	Bool bool                 `json:"bool,omitempty"`
	Seq  []jsonValue          `json:"seq,omitempty"`
	Map  map[string]jsonValue `json:"map,omitempty"`
}

func (v Value) toJSON() jsonValue {
	switch v.kind {
	case "string":
		return jsonValue{Kind: "string", Str: v.str}
	case "float":
		return jsonValue{Kind: "float", Num: v.num}
	case "bool":
		return jsonValue{Kind: "bool", Bool: v.bl}
	case "seq":
		out := make([]jsonValue, len(v.seq))
		for i, e := range v.seq {
			out[i] = e.toJSON()
		}
		return jsonValue{Kind: "seq", Seq: out}
	case "map":
		out := make(map[string]jsonValue, len(v.mp))
		for k, e := range v.mp {
			out[k] = e.toJSON()
		}
		return jsonValue{Kind: "map", Map: out}
	default:
		return jsonValue{Kind: "null"}
	}
}

func fromJSON(j jsonValue) Value {
	switch j.Kind {
	case "string":
		return StringValue(j.Str)
	case "float":
		return FloatValue(j.Num)
	case "bool":
		return BoolValue(j.Bool)
	case "seq":
		items := make([]Value, len(j.Seq))
		for i, e := range j.Seq {
			items[i] = fromJSON(e)
		}
		return Value{kind: "seq", seq: items}
	case "map":
		m := make(map[string]Value, len(j.Map))
		for k, e := range j.Map {
			m[k] = fromJSON(e)
		}
		return Value{kind: "map", mp: m}
	default:
		return NullValue()
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.toJSON())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var j jsonValue
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*v = fromJSON(j)
	return nil
}
