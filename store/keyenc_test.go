package store

import (
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeKeyOrder(t *testing.T) {
	ordered := []any{
		nil,
		false,
		true,
		int64(math.MinInt64),
		int64(-1),
		int64(0),
		int64(1),
		int64(1000),
		math.Inf(-1),
		-1.5,
		0.0,
		2.5,
		math.Inf(1),
		"",
		"a",
		"a\x00",
		"a\x00b",
		"ab",
		"b",
		[]byte{},
		[]byte{0},
		[]byte{0, 0},
		[]byte{1},
		Tuple{},
		Tuple{int64(1)},
		Tuple{int64(1), "a"},
		Tuple{int64(1), "b"},
		Tuple{int64(2)},
		Tuple{"a"},
	}
	for i := 1; i < len(ordered); i++ {
		a, b := ordered[i-1], ordered[i]
		assert.Equal(t, -1, Compare(a, b), "Compare(%#v, %#v)", a, b)
		assert.Equal(t, 1, Compare(b, a), "Compare(%#v, %#v)", b, a)
	}

	// numbers are ordered by type first
	assert.Equal(t, -1, Compare(int64(5), 4.5))
	assert.Equal(t, -1, Compare(int64(4), 4.0))

	shuffled := slices.Clone(ordered)
	slices.Reverse(shuffled)
	slices.SortFunc(shuffled, Compare)
	assert.Equal(t, ordered, shuffled)
}

func TestEncodeKeyRoundTrip(t *testing.T) {
	keys := []any{
		nil,
		true,
		int64(-42),
		3.25,
		"hello\x00world",
		[]byte{0, 1, 0xFF, 0},
		Tuple{"users", int64(7), Tuple{nil, false}},
	}
	for _, k := range keys {
		enc, err := EncodeKey(k)
		require.NoError(t, err)
		dec, err := DecodeKey(enc)
		require.NoError(t, err)
		assert.Equal(t, k, dec)
	}
}

func TestNormalizeKey(t *testing.T) {
	k, err := NormalizeKey(int32(5))
	require.NoError(t, err)
	assert.Equal(t, int64(5), k)

	k, err = NormalizeKey([]any{1, "x"})
	require.NoError(t, err)
	assert.Equal(t, Tuple{int64(1), "x"}, k)

	type myString string
	k, err = NormalizeKey(myString("s"))
	require.NoError(t, err)
	assert.Equal(t, "s", k)

	_, err = NormalizeKey(uint64(math.MaxUint64))
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = NormalizeKey(map[string]int{})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestDecodeKeyInvalid(t *testing.T) {
	for _, data := range [][]byte{
		{},
		{0x99},
		{tagInt, 1, 2},
		{tagString, 'a'},
		{tagTuple, tagNil},
	} {
		_, err := DecodeKey(data)
		assert.Error(t, err, "%x", data)
	}
}
