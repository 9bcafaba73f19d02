package api_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GhostKellz/ghostflow/pkg/api"
)

func TestValueKinds(t *testing.T) {
	assert.Equal(t, api.KindNull, api.Null().Kind())
	assert.Equal(t, api.KindBool, api.Bool(true).Kind())
	assert.Equal(t, api.KindNumber, api.Int(3).Kind())
	assert.Equal(t, api.KindString, api.String("x").Kind())
	assert.Equal(t, api.KindSequence, api.Sequence().Kind())
	assert.Equal(t, api.KindMapping, api.Mapping(nil).Kind())
	assert.True(t, api.Value{}.IsNull())
	assert.Equal(t, "mapping", api.KindMapping.String())
}

func TestValueNumberFidelity(t *testing.T) {
	doc := `{"big":12345678901234567890123,"pi":3.14159265358979323846,"n":-0.0}`
	v, err := api.ParseJSON([]byte(doc))
	assert.NoError(t, err)

	big, ok := v.Get("big")
	assert.True(t, ok)
	text, ok := big.NumberText()
	assert.True(t, ok)
	assert.Equal(t, "12345678901234567890123", text)

	out, err := json.Marshal(v)
	assert.NoError(t, err)
	assert.JSONEq(t, doc, string(out))
	assert.Contains(t, string(out), "3.14159265358979323846")
}

func TestValueNumberConstructor(t *testing.T) {
	v, err := api.Number("1e10")
	assert.NoError(t, err)
	f, ok := v.AsFloat()
	assert.True(t, ok)
	assert.Equal(t, 1e10, f)

	for _, bad := range []string{"", "NaN", "Inf", "0x10", "abc", "1.2.3"} {
		_, err := api.Number(bad)
		assert.ErrorIs(t, err, api.ErrInvalidNumber, bad)
	}
}

func TestValueFloatNonFinite(t *testing.T) {
	zero := 0.0
	assert.True(t, api.Float(zero/zero).IsNull())
}

func TestValueAccessors(t *testing.T) {
	v := api.MustFromAny(map[string]any{
		"name":  "ghost",
		"count": 4,
		"ratio": 2.5,
		"ok":    true,
		"items": []any{"a", "b"},
	})

	s, ok := v.Get("name")
	assert.True(t, ok)
	str, ok := s.AsString()
	assert.True(t, ok)
	assert.Equal(t, "ghost", str)

	c, _ := v.Get("count")
	i, ok := c.AsInt()
	assert.True(t, ok)
	assert.Equal(t, int64(4), i)

	r, _ := v.Get("ratio")
	_, ok = r.AsInt()
	assert.False(t, ok)

	b, _ := v.Get("ok")
	bv, ok := b.AsBool()
	assert.True(t, ok)
	assert.True(t, bv)

	items, _ := v.Get("items")
	assert.Equal(t, 2, items.Len())
	second, ok := items.Index(1)
	assert.True(t, ok)
	assert.True(t, second.Equal(api.String("b")))
	_, ok = items.Index(2)
	assert.False(t, ok)

	assert.Equal(t, []string{"count", "items", "name", "ok", "ratio"}, v.Keys())

	_, ok = api.String("x").Get("name")
	assert.False(t, ok)
}

func TestValueWithIsCopyOnWrite(t *testing.T) {
	base := api.Mapping(map[string]api.Value{"a": api.Int(1)})
	next := base.With("b", api.Int(2))

	assert.Equal(t, 1, base.Len())
	assert.Equal(t, 2, next.Len())

	fromNull := api.Null().With("x", api.Bool(false))
	assert.Equal(t, api.KindMapping, fromNull.Kind())
}

func TestValueEqual(t *testing.T) {
	one, _ := api.Number("1.0")
	assert.True(t, api.Int(1).Equal(one))
	assert.False(t, api.Int(1).Equal(api.String("1")))
	assert.True(t, api.Null().Equal(api.Value{}))

	a := api.MustFromAny(map[string]any{"x": []any{1, "y", nil}})
	b := api.MustFromAny(map[string]any{"x": []any{1, "y", nil}})
	c := api.MustFromAny(map[string]any{"x": []any{1, "z", nil}})
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestValueMarshalSortsKeys(t *testing.T) {
	v := api.Mapping(map[string]api.Value{
		"b": api.Int(2),
		"a": api.String("q\"uote"),
		"c": api.Sequence(api.Null(), api.Bool(false)),
	})
	assert.Equal(t, `{"a":"q\"uote","b":2,"c":[null,false]}`, v.String())
}

func TestValueInStruct(t *testing.T) {
	type wrapper struct {
		Data api.Value `json:"data"`
	}
	var w wrapper
	assert.NoError(t, json.Unmarshal([]byte(`{"data":[1,{"k":"v"}]}`), &w))
	assert.Equal(t, api.KindSequence, w.Data.Kind())

	out, err := json.Marshal(w)
	assert.NoError(t, err)
	assert.Equal(t, `{"data":[1,{"k":"v"}]}`, string(out))

	var empty wrapper
	out, err = json.Marshal(empty)
	assert.NoError(t, err)
	assert.Equal(t, `{"data":null}`, string(out))
}

func TestValuePath(t *testing.T) {
	v := api.MustFromAny(map[string]any{
		"user": map[string]any{"name": "casper", "tags": []any{"a", "b"}},
	})

	name, ok := v.Path("user.name")
	assert.True(t, ok)
	assert.True(t, name.Equal(api.String("casper")))

	tag, ok := v.Path("user.tags.1")
	assert.True(t, ok)
	assert.True(t, tag.Equal(api.String("b")))

	_, ok = v.Path("user.missing")
	assert.False(t, ok)
}

func TestValueFromStruct(t *testing.T) {
	type sample struct {
		Name string `json:"name"`
		Size int    `json:"size"`
	}
	v, err := api.FromAny(sample{Name: "x", Size: 3})
	assert.NoError(t, err)
	size, ok := v.Get("size")
	assert.True(t, ok)
	n, _ := size.AsInt()
	assert.Equal(t, int64(3), n)
}

func TestValueAnyRoundTrip(t *testing.T) {
	v := api.MustFromAny(map[string]any{"a": []any{true, "s", 1.5}})
	again, err := api.FromAny(v.Any())
	assert.NoError(t, err)
	assert.True(t, v.Equal(again))
}
