package sheraf

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterIntersectsIndexes(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := cowboys(t)
	threeCowboys(t, c, m)

	assert.Equal(t, []string{"Peter", "Steven"}, names(t, m.Filter(c, Eq("age", 30))))
	assert.Equal(t, []string{"Steven"}, names(t, m.Filter(c, Eq("age", 30)).Filter(Eq("size", 160))))
	assert.Equal(t, []string{"Peter"}, names(t, m.Filter(c, Eq("age", 30)).Filter(Eq("size", 180))))
	assert.Empty(t, names(t, m.Filter(c, Eq("age", 50), Eq("size", 160))))
	assert.Equal(t, []string{"George"}, names(t, m.Filter(c, Eq("age", 50), Eq("age", 50))))
}

func TestFilterByUnindexedAttribute(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := cowboys(t)
	threeCowboys(t, c, m)

	assert.Equal(t, []string{"George"}, names(t, m.Filter(c, Eq("name", "George"))))
	assert.Equal(t, []string{"Steven"}, names(t, m.Filter(c, Eq("age", 30), Eq("name", "Steven"))))
}

func TestOrder(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := cowboys(t)
	threeCowboys(t, c, m)

	assert.Equal(t, []string{"Steven", "George", "Peter"}, names(t, m.Order(c, Asc("size"))))
	assert.Equal(t, []string{"Peter", "George", "Steven"}, names(t, m.Order(c, Desc("size"))))
	assert.Equal(t, []string{"George", "Steven", "Peter"}, names(t, m.Order(c, Desc("age"), Asc("size"))))
	assert.Equal(t, []string{"George", "Peter", "Steven"}, names(t, m.Order(c, Asc("name"))))
	assert.Equal(t, []string{"Peter", "Steven"}, names(t, m.Filter(c, Eq("age", 30)).Order(Desc("size"))))
}

func TestOrderByIdentifier(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := newModel(t, "ticket", func(b *ModelBuilder) {
		b.Attr("id", IntegerAttribute().Index(Primary()))
		b.Attr("name", StringAttribute())
	})
	for i, name := range []string{"b", "c", "a"} {
		create(t, c, m, Values{"id": i + 1, "name": name})
	}

	assert.Equal(t, []string{"b", "c", "a"}, names(t, m.All(c)))
	assert.Equal(t, []string{"a", "c", "b"}, names(t, m.Order(c, Desc("id"))))
}

func TestInvalidFiltersAndOrders(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := cowboys(t)
	threeCowboys(t, c, m)

	_, err := m.Filter(c, Eq("horse", "x")).List()
	assert.ErrorIs(t, err, ErrInvalidFilter)

	_, err = m.Filter(c, Eq("age", "thirty")).List()
	assert.ErrorIs(t, err, ErrInvalidFilter)

	_, err = m.Filter(c, Eq("age", 30)).Filter(Eq("age", 50)).Count()
	assert.ErrorIs(t, err, ErrInvalidFilter)

	_, err = m.Search(c, Eq("name", "Peter")).List()
	assert.ErrorIs(t, err, ErrInvalidFilter)

	_, err = m.Order(c, Asc("horse")).List()
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, err = m.Order(c, Asc("age"), Desc("age")).List()
	assert.ErrorIs(t, err, ErrInvalidOrder)

	_, err = m.All(c).Slice(0, End, 0).List()
	assert.ErrorIs(t, err, ErrSheraf)
}

func TestSlice(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := newModel(t, "ticket", func(b *ModelBuilder) {
		b.Attr("id", IntegerAttribute().Index(Primary()))
		b.Attr("name", StringAttribute())
	})
	for i, name := range strings.Split("abcdef", "") {
		create(t, c, m, Values{"id": i, "name": name})
	}

	tests := []struct {
		start, stop, step int
		expected          string
	}{
		{Begin, End, 1, "abcdef"},
		{1, 3, 1, "bc"},
		{2, End, 1, "cdef"},
		{Begin, 2, 1, "ab"},
		{Begin, End, 2, "ace"},
		{1, 5, 2, "bd"},
		{-2, End, 1, "ef"},
		{Begin, -4, 1, "ab"},
		{Begin, End, -1, "fedcba"},
		{4, 1, -1, "edc"},
		{Begin, End, -2, "fdb"},
		{10, End, 1, ""},
		{3, 1, 1, ""},
	}
	for _, tt := range tests {
		got := strings.Join(names(t, m.All(c).Slice(tt.start, tt.stop, tt.step)), "")
		assert.Equal(t, tt.expected, got, "[%d:%d:%d]", tt.start, tt.stop, tt.step)
	}

	assert.Equal(t, []string{"c", "d"}, names(t, m.All(c).Slice(1, End, 1).Slice(1, 3, 1)))

	inst, err := m.All(c).At(2)
	require.NoError(t, err)
	assert.Equal(t, "c", inst.Get("name"))
	inst, err = m.All(c).At(-1)
	require.NoError(t, err)
	assert.Equal(t, "f", inst.Get("name"))
	_, err = m.All(c).At(6)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestSliceOfExplicitInstances(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := cowboys(t)
	peter, george, steven := threeCowboys(t, c, m)

	qs := QuerySetOf(steven, peter, george)
	assert.Equal(t, []string{"Peter", "George"}, names(t, qs.Slice(1, End, 1)))
	_, err := qs.Slice(-1, End, 1).List()
	assert.ErrorIs(t, err, ErrSheraf)
	assert.Equal(t, []string{"George", "Peter", "Steven"}, names(t, qs.Order(Asc("name"))))
}

func TestGetFirstCountExists(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := cowboys(t)
	threeCowboys(t, c, m)

	_, err := m.Filter(c, Eq("age", 30)).Get()
	assert.ErrorIs(t, err, ErrQuerySetUnpack)
	_, err = m.Filter(c, Eq("age", 99)).Get()
	assert.ErrorIs(t, err, ErrQuerySetUnpack)
	george, err := m.Filter(c, Eq("age", 50)).Get()
	require.NoError(t, err)
	assert.Equal(t, "George", george.Get("name"))

	first, err := m.Order(c, Asc("size")).First()
	require.NoError(t, err)
	assert.Equal(t, "Steven", first.Get("name"))
	none, err := m.Filter(c, Eq("age", 99)).First()
	require.NoError(t, err)
	assert.Nil(t, none)

	for _, tt := range []struct {
		qs       *QuerySet
		expected int
	}{
		{m.All(c), 3},
		{m.Filter(c, Eq("age", 30)), 2},
		{m.Filter(c, Eq("age", 30), Eq("size", 160)), 1},
		{m.Filter(c, Eq("name", "Peter")), 1},
		{m.All(c).Slice(1, End, 1), 2},
		{m.All(c).Where(func(inst *Instance) bool { return inst.Get("size").(int64) > 165 }), 2},
	} {
		n, err := tt.qs.Count()
		require.NoError(t, err)
		assert.Equal(t, tt.expected, n)
	}

	ok, err := m.Filter(c, Eq("size", 170)).Exists()
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.Filter(c, Eq("size", 171)).Exists()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCursor(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := cowboys(t)
	threeCowboys(t, c, m)

	qs := m.Order(c, Desc("size"))
	var got []string
	for qs.Next() {
		got = append(got, qs.Instance().Get("name").(string))
	}
	require.NoError(t, qs.Err())
	assert.Equal(t, []string{"Peter", "George", "Steven"}, got)
	assert.False(t, qs.Next())

	qs = m.All(c)
	require.True(t, qs.Next())
	qs.Close()

	bad := m.Filter(c, Eq("horse", 1))
	assert.False(t, bad.Next())
	assert.ErrorIs(t, bad.Err(), ErrInvalidFilter)
}

func TestCopyReplaysSequence(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := cowboys(t)
	peter, george, _ := threeCowboys(t, c, m)

	qs := m.ReadThese(c, "id", george.ID(), peter.ID())
	cp, err := qs.Copy()
	require.NoError(t, err)
	assert.Equal(t, []string{"George", "Peter"}, names(t, cp))
	assert.Equal(t, []string{"George", "Peter"}, names(t, qs))
}

func TestSetOperations(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := cowboys(t)
	threeCowboys(t, c, m)

	thirty := m.Filter(c, Eq("age", 30))
	tall := m.All(c).Where(func(inst *Instance) bool { return inst.Get("size").(int64) >= 170 }).Order(Desc("size"))

	assert.Equal(t, []string{"Peter"}, names(t, thirty.And(tall)))
	assert.Equal(t, []string{"Peter", "Steven", "George"}, names(t, thirty.Or(tall)))
	assert.Equal(t, []string{"Steven", "George"}, names(t, thirty.Xor(tall)))
	assert.Equal(t, []string{"Peter", "Steven", "Peter", "George"}, names(t, thirty.Concat(tall)))
	assert.Equal(t, []string{"George", "Peter", "Steven"}, names(t, thirty.Or(tall).Order(Asc("name"))))
}

func TestReadThese(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := cowboys(t)
	peter, george, steven := threeCowboys(t, c, m)
	require.NoError(t, peter.Set("email", "p@x"))
	require.NoError(t, steven.Set("email", "s@x"))

	assert.Equal(t, []string{"Steven", "Peter"}, names(t, m.ReadThese(c, "email", "s@x", "p@x")))
	assert.Equal(t, []string{"George", "Peter", "Steven"}, names(t, m.ReadThese(c, "age", 50, 30)))

	_, err := m.ReadThese(c, "id", george.ID(), uuid.NewString()).List()
	assert.ErrorIs(t, err, ErrModelObjectNotFound)
	_, err = m.ReadThese(c, "horse", 1).List()
	assert.ErrorIs(t, err, ErrInvalidIndex)

	_, err = m.ReadBy(c, "age", 30)
	assert.ErrorIs(t, err, ErrMultipleIndex)
	_, err = m.ReadBy(c, "horse", 30)
	assert.ErrorIs(t, err, ErrInvalidIndex)
}

func TestMultiAttributeIndex(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := newModel(t, "town", func(b *ModelBuilder) {
		b.Attr("name", StringAttribute())
		b.Attr("state", StringAttribute())
		b.Index("place", On("name", "state"), Unique())
	})

	create(t, c, m, Values{"name": "Springfield", "state": "IL"})
	create(t, c, m, Values{"name": "Springfield", "state": "MA"})
	_, err := m.Create(c, Values{"name": "Springfield", "state": "IL"})
	assert.ErrorIs(t, err, ErrUniqueIndex)

	inst, err := m.ReadBy(c, "place", []any{"Springfield", "MA"})
	require.NoError(t, err)
	assert.Equal(t, "MA", inst.Get("state"))
}

func TestSearchWithKeyFunctions(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := newModel(t, "outlaw", func(b *ModelBuilder) {
		b.Attr("name", StringAttribute().Index(
			Key("words"),
			IndexKeysFunc(func(vals ...any) any {
				return strings.Fields(strings.ToLower(vals[0].(string)))
			}),
		).Index(
			Key("prefix"),
			IndexKeysFunc(func(vals ...any) any {
				s := strings.ToLower(vals[0].(string))
				out := make([]string, 0, len(s))
				for i := 1; i <= len(s); i++ {
					out = append(out, s[:i])
				}
				return out
			}),
			SearchKeysFunc(func(v any) any { return strings.ToLower(v.(string)) }),
		))
	})

	create(t, c, m, Values{"name": "Joe Dalton"})
	create(t, c, m, Values{"name": "Jack Dalton"})
	create(t, c, m, Values{"name": "Billy the Kid"})

	assert.Equal(t, []string{"Joe Dalton", "Jack Dalton"}, names(t, m.Search(c, Eq("words", "Dalton"))))
	assert.Equal(t, []string{"Joe Dalton", "Jack Dalton"}, names(t, m.Filter(c, Eq("words", "dalton"))))
	assert.Equal(t, []string{"Jack Dalton"}, names(t, m.Search(c, Eq("prefix", "JA"))))
	assert.Equal(t, []string{"Billy the Kid"}, names(t, m.Search(c, Eq("words", "KID")).Search(Eq("prefix", "bil"))))

	_, err := m.Filter(c, Eq("words", "dalton")).Search(Eq("words", "Joe")).List()
	assert.ErrorIs(t, err, ErrInvalidFilter)
	assert.ErrorContains(t, err, "both filtered and searched")
	_, err = m.Search(c, Eq("words", "Joe")).Filter(Eq("words", "joe")).Count()
	assert.ErrorIs(t, err, ErrInvalidFilter)
}

func TestQueriesMatchFullScan(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := cowboys(t)
	for i := range 20 {
		create(t, c, m, Values{"name": string(rune('A' + i)), "age": i % 4, "size": 150 + i%7})
	}

	for age := range 4 {
		for size := 150; size < 157; size++ {
			indexed := names(t, m.Filter(c, Eq("age", age), Eq("size", size)))
			scanned := names(t, m.All(c).Where(func(inst *Instance) bool {
				return inst.Get("age") == int64(age) && inst.Get("size") == int64(size)
			}))
			assert.ElementsMatch(t, scanned, indexed, "age=%d size=%d", age, size)
		}
	}
}
