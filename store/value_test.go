package store

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueEncoding(t *testing.T) {
	v := mustNormalize(map[string]any{
		"name":  "Alice",
		"age":   30,
		"score": 4.5,
		"tags":  []string{"a", "b"},
		"key":   Tuple{"x", 1},
		"blob":  []byte{0, 1},
		"none":  nil,
		"flag":  true,
		"inner": map[any]any{int64(1): "one"},
	})
	data := encodeValue(v)
	dec, err := decodeValue(data)
	require.NoError(t, err)
	assert.True(t, Equal(v, dec), "decoded %v", dec)

	m := dec.(map[any]any)
	assert.Equal(t, int64(30), m["age"])
	assert.Equal(t, []any{"a", "b"}, m["tags"])
	assert.Equal(t, Tuple{"x", int64(1)}, m["key"])
}

func TestValueEncodingIsDeterministic(t *testing.T) {
	a := mustNormalize(map[any]any{"b": 1, "a": 2, int64(3): "c"})
	b := mustNormalize(map[any]any{int64(3): "c", "a": 2, "b": 1})
	assert.Equal(t, encodeValue(a), encodeValue(b))
}

func TestNormalizeRejectsInvalidValues(t *testing.T) {
	_, err := Normalize(struct{ X int }{1})
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = Normalize([]any{NewSmallMap()})
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = Normalize(map[any]any{struct{}{}: "x"})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, false))
	assert.False(t, Equal(int64(1), 1.0))
	assert.True(t, Equal(math.NaN(), math.NaN()))
	assert.True(t, Equal([]any{int64(1), "a"}, []any{int64(1), "a"}))
	assert.False(t, Equal([]any{int64(1)}, Tuple{int64(1)}))
	assert.True(t, Equal(map[any]any{"a": []byte{1}}, map[any]any{"a": []byte{1}}))
	assert.False(t, Equal(map[any]any{"a": int64(1)}, map[any]any{"b": int64(1)}))

	m := NewSmallMap()
	assert.True(t, Equal(m, m))
	assert.False(t, Equal(m, NewSmallMap()))
	m.oid = 5
	assert.True(t, Equal(m, ref(5)))
	assert.True(t, Equal(ref(5), m))
}

func TestCloneIsDeep(t *testing.T) {
	orig := mustNormalize(map[any]any{"l": []any{int64(1)}})
	cp := Clone(orig).(map[any]any)
	cp["l"].([]any)[0] = int64(2)
	assert.Equal(t, int64(1), orig.(map[any]any)["l"].([]any)[0])
}
