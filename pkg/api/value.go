package api

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

type (
	// Kind tags the variant held by a Value
	Kind uint8

	// Value is a structured, JSON-like value exchanged between nodes. Numbers
	// keep their decimal text so values survive persistence unchanged
	Value struct {
		seq  []Value
		m    map[string]Value
		text string
		kind Kind
		b    bool
	}
)

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindSequence
	KindMapping
)

var (
	ErrUnsupportedValue = errors.New("unsupported value type")
	ErrInvalidNumber    = errors.New("invalid number")
)

var kindNames = map[Kind]string{
	KindNull:     "null",
	KindBool:     "bool",
	KindNumber:   "number",
	KindString:   "string",
	KindSequence: "sequence",
	KindMapping:  "mapping",
}

// Null returns the null Value, which is also the zero Value
func Null() Value {
	return Value{}
}

// Bool returns a boolean Value
func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// Int returns a numeric Value holding an integer
func Int(i int64) Value {
	return Value{kind: KindNumber, text: strconv.FormatInt(i, 10)}
}

// Float returns a numeric Value. NaN and infinities have no JSON
// representation and become Null
func Float(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Null()
	}
	return Value{kind: KindNumber, text: strconv.FormatFloat(f, 'g', -1, 64)}
}

// Number returns a numeric Value from its decimal text
func Number(text string) (Value, error) {
	if !isNumberText(text) {
		return Null(), fmt.Errorf("%w: %q", ErrInvalidNumber, text)
	}
	return Value{kind: KindNumber, text: text}, nil
}

// String returns a string Value
func String(s string) Value {
	return Value{kind: KindString, text: s}
}

// Sequence returns a sequence Value holding a copy of the provided items
func Sequence(items ...Value) Value {
	seq := slices.Clone(items)
	if seq == nil {
		seq = []Value{}
	}
	return Value{kind: KindSequence, seq: seq}
}

// Mapping returns a mapping Value holding a copy of the provided fields
func Mapping(fields map[string]Value) Value {
	m := maps.Clone(fields)
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMapping, m: m}
}

// FromAny converts a plain Go value into a Value. Types that are not
// directly supported are round-tripped through their JSON encoding
func FromAny(v any) (Value, error) {
	switch v := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return v, nil
	case bool:
		return Bool(v), nil
	case string:
		return String(v), nil
	case json.Number:
		return Number(string(v))
	case float64:
		return Float(v), nil
	case float32:
		return Float(float64(v)), nil
	case int:
		return Int(int64(v)), nil
	case int32:
		return Int(int64(v)), nil
	case int64:
		return Int(v), nil
	case uint32:
		return Int(int64(v)), nil
	case []Value:
		return Sequence(v...), nil
	case []any:
		res := make([]Value, len(v))
		for i, item := range v {
			val, err := FromAny(item)
			if err != nil {
				return Null(), err
			}
			res[i] = val
		}
		return Value{kind: KindSequence, seq: res}, nil
	case map[string]Value:
		return Mapping(v), nil
	case map[string]any:
		res := make(map[string]Value, len(v))
		for k, item := range v {
			val, err := FromAny(item)
			if err != nil {
				return Null(), err
			}
			res[k] = val
		}
		return Value{kind: KindMapping, m: res}, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return Null(), fmt.Errorf("%w: %T: %w", ErrUnsupportedValue, v, err)
		}
		return ParseJSON(data)
	}
}

// MustFromAny converts a plain Go value into a Value, panicking on failure
func MustFromAny(v any) Value {
	res, err := FromAny(v)
	if err != nil {
		panic(err)
	}
	return res
}

// ParseJSON decodes a JSON document into a Value
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Null(), err
	}
	return FromAny(raw)
}

// Kind returns the variant tag of the Value
func (v Value) Kind() Kind {
	return v.kind
}

// IsNull returns whether the Value is null
func (v Value) IsNull() bool {
	return v.kind == KindNull
}

// AsBool returns the boolean held by the Value
func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// AsString returns the string held by the Value
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.text, true
}

// NumberText returns the decimal text of a numeric Value
func (v Value) NumberText() (string, bool) {
	if v.kind != KindNumber {
		return "", false
	}
	return v.text, true
}

// AsFloat returns the numeric Value as a float64
func (v Value) AsFloat() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(v.text, 64)
	return f, err == nil
}

// AsInt returns the numeric Value as an int64 if it is integral
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	if i, err := strconv.ParseInt(v.text, 10, 64); err == nil {
		return i, true
	}
	f, err := strconv.ParseFloat(v.text, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

// Len returns the number of items in a sequence or fields in a mapping
func (v Value) Len() int {
	switch v.kind {
	case KindSequence:
		return len(v.seq)
	case KindMapping:
		return len(v.m)
	default:
		return 0
	}
}

// Index returns the item at position i of a sequence Value
func (v Value) Index(i int) (Value, bool) {
	if v.kind != KindSequence || i < 0 || i >= len(v.seq) {
		return Null(), false
	}
	return v.seq[i], true
}

// Items returns a copy of the items of a sequence Value
func (v Value) Items() []Value {
	if v.kind != KindSequence {
		return nil
	}
	return slices.Clone(v.seq)
}

// Get returns the named field of a mapping Value
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMapping {
		return Null(), false
	}
	res, ok := v.m[key]
	return res, ok
}

// Keys returns the sorted field names of a mapping Value
func (v Value) Keys() []string {
	if v.kind != KindMapping {
		return nil
	}
	return slices.Sorted(maps.Keys(v.m))
}

// Fields returns a copy of the fields of a mapping Value
func (v Value) Fields() map[string]Value {
	if v.kind != KindMapping {
		return nil
	}
	return maps.Clone(v.m)
}

// With returns a mapping Value with the named field set. A non-mapping
// receiver is treated as an empty mapping
func (v Value) With(key string, val Value) Value {
	m := make(map[string]Value, len(v.m)+1)
	if v.kind == KindMapping {
		maps.Copy(m, v.m)
	}
	m[key] = val
	return Value{kind: KindMapping, m: m}
}

// Path extracts a nested Value using a gjson path expression
func (v Value) Path(path string) (Value, bool) {
	data, err := v.MarshalJSON()
	if err != nil {
		return Null(), false
	}
	res := gjson.GetBytes(data, path)
	if !res.Exists() {
		return Null(), false
	}
	out, err := ParseJSON([]byte(res.Raw))
	if err != nil {
		return Null(), false
	}
	return out, true
}

// Any converts the Value into plain Go values. Numbers are returned as
// json.Number to preserve their text
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return json.Number(v.text)
	case KindString:
		return v.text
	case KindSequence:
		res := make([]any, len(v.seq))
		for i, item := range v.seq {
			res[i] = item.Any()
		}
		return res
	case KindMapping:
		res := make(map[string]any, len(v.m))
		for k, item := range v.m {
			res[k] = item.Any()
		}
		return res
	default:
		return nil
	}
}

// Equal returns whether two Values are structurally equal. Numbers compare
// by numeric value
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindString:
		return v.text == other.text
	case KindNumber:
		if v.text == other.text {
			return true
		}
		l, lok := v.AsFloat()
		r, rok := other.AsFloat()
		return lok && rok && l == r
	case KindSequence:
		return slices.EqualFunc(v.seq, other.seq, Value.Equal)
	case KindMapping:
		return maps.EqualFunc(v.m, other.m, Value.Equal)
	default:
		return false
	}
}

// String returns the JSON text of the Value
func (v Value) String() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(data)
}

// MarshalJSON encodes the Value with mapping keys in sorted order
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.appendJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes any JSON document into the Value
func (v *Value) UnmarshalJSON(data []byte) error {
	res, err := ParseJSON(data)
	if err != nil {
		return err
	}
	*v = res
	return nil
}

func (v Value) appendJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		buf.WriteString(v.text)
	case KindString:
		return appendJSONString(buf, v.text)
	case KindSequence:
		buf.WriteByte('[')
		for i, item := range v.seq {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.appendJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMapping:
		buf.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := appendJSONString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := v.m[k].appendJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("%w: kind %d", ErrUnsupportedValue, v.kind)
	}
	return nil
}

func appendJSONString(buf *bytes.Buffer, s string) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}

func isNumberText(text string) bool {
	if text == "" {
		return false
	}
	if c := text[0]; c != '-' && (c < '0' || c > '9') {
		return false
	}
	return json.Valid([]byte(text))
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}
