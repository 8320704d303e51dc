package store

import (
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setup(t testing.TB) *DB {
	t.Helper()
	db, err := OpenMemory(Options{Logger: zaptest.NewLogger(t), Verbose: true, IsTesting: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func setupBolt(t testing.TB, path string) *DB {
	t.Helper()
	db, err := Open(path, Options{Logger: zaptest.NewLogger(t), IsTesting: true})
	require.NoError(t, err)
	return db
}

func open(t testing.TB, db *DB) *Conn {
	t.Helper()
	c, err := db.Open()
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCommitIsVisibleToNewTransactions(t *testing.T) {
	db := setup(t)
	c1, c2 := open(t, db), open(t, db)

	c1.Root().Set("greeting", "hello")
	assert.False(t, c2.Root().Has("greeting"))
	require.NoError(t, c1.Commit())

	assert.False(t, c2.Root().Has("greeting"), "snapshot must not change mid-transaction")
	require.NoError(t, c2.Abort())
	v, ok := c2.Root().Get("greeting")
	assert.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestAbortDiscardsChanges(t *testing.T) {
	db := setup(t)
	c := open(t, db)

	m := NewSmallMap()
	c.Root().Set("m", m)
	m.Set("a", 1)
	assert.NotZero(t, m.OID())
	require.NoError(t, c.Abort())

	assert.Zero(t, m.OID())
	assert.Nil(t, m.Conn())
	assert.False(t, c.Root().Has("m"))
	assert.False(t, c.Modified())
}

func TestObjectsSurviveTransactions(t *testing.T) {
	db := setup(t)
	c := open(t, db)

	m := NewSmallMap()
	m.Set("x", 1)
	c.Root().Set("m", m)
	require.NoError(t, c.Commit())

	m.Set("x", 2)
	require.NoError(t, c.Commit())

	c2 := open(t, db)
	got, ok := c2.Root().Get("m")
	require.True(t, ok)
	v, _ := got.(*SmallMap).Get("x")
	assert.Equal(t, int64(2), v)

	same, _ := c.Root().Get("m")
	assert.Same(t, m, same)
}

func TestSmallMapMergesConcurrentChanges(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	c.Root().Set("shared", int64(0))
	c.Root().Set("dict", map[any]any{"a": int64(1)})
	require.NoError(t, c.Commit())

	c1, c2 := open(t, db), open(t, db)
	c1.Root().Set("one", int64(1))
	c1.Root().Set("dict", map[any]any{"a": int64(1), "b": int64(2)})
	c2.Root().Set("two", int64(2))
	c2.Root().Set("dict", map[any]any{"a": int64(1), "c": int64(3)})
	require.NoError(t, c1.Commit())
	require.NoError(t, c2.Commit())

	root := c.Root()
	require.NoError(t, c.Abort())
	assert.Equal(t, []any{"shared", "dict", "one", "two"}, root.Keys())
	d, _ := root.Get("dict")
	assert.Equal(t, map[any]any{"a": int64(1), "b": int64(2), "c": int64(3)}, d)
}

func TestSmallMapConflict(t *testing.T) {
	db := setup(t)
	c1, c2 := open(t, db), open(t, db)
	c1.Root().Set("k", "one")
	c2.Root().Set("k", "two")
	require.NoError(t, c1.Commit())

	err := c2.Commit()
	require.ErrorIs(t, err, ErrConflict)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, RootOID, ce.OID)

	v, _ := c2.Root().Get("k")
	assert.Equal(t, "one", v)
}

func TestSmallMapSetEqualValueIsNoop(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	c.Root().Set("k", []any{1, "x"})
	require.NoError(t, c.Commit())

	c.Root().Set("k", []any{int64(1), "x"})
	assert.False(t, c.Modified())
}

func TestCounterMerge(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	c.Root().Set("counter", NewCounter(0))
	require.NoError(t, c.Commit())

	counterIn := func(c *Conn) *Counter {
		v, _ := c.Root().Get("counter")
		return v.(*Counter)
	}

	outer, inner := open(t, db), open(t, db)
	outerCounter := counterIn(outer)
	counterIn(inner).Decrement(10)
	require.NoError(t, inner.Commit())
	outerCounter.Increment(100)
	require.NoError(t, outer.Commit())
	assert.Equal(t, int64(90), counterIn(outer).Int())

	outerCounter = counterIn(outer)
	counterIn(inner).Decrement(10)
	require.NoError(t, inner.Commit())
	outerCounter.Set(100)
	assert.ErrorIs(t, outer.Commit(), ErrConflict)
	assert.Equal(t, int64(80), counterIn(outer).Int())
}

func TestCounterMarkUndoesSet(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	c.Root().Set("counter", NewCounter(5))
	require.NoError(t, c.Commit())

	counterIn := func(c *Conn) *Counter {
		v, _ := c.Root().Get("counter")
		return v.(*Counter)
	}

	outer, inner := open(t, db), open(t, db)
	outerCounter := counterIn(outer)
	restore := outerCounter.Mark()
	outerCounter.Set(100)
	restore()
	assert.Equal(t, int64(5), outerCounter.Int())
	outerCounter.Increment(1)

	counterIn(inner).Decrement(2)
	require.NoError(t, inner.Commit())
	require.NoError(t, outer.Commit())
	assert.Equal(t, int64(4), counterIn(outer).Int())
}

func TestCounterFloat(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	cnt := NewCounter(1)
	c.Root().Set("counter", cnt)
	cnt.Increment(0.5)
	require.NoError(t, c.Commit())
	assert.Equal(t, 1.5, cnt.Value())
	assert.Equal(t, int64(1), cnt.Int())
}

func TestLargeMap(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := NewLargeMap()
	c.Root().Set("m", m)
	for i, name := range []string{"d", "b", "a", "e", "c"} {
		m.Set(name, i)
	}
	assert.Equal(t, 5, m.Len())

	keys := func(seq func(yield func(any, any) bool)) []any {
		var out []any
		for k := range seq {
			out = append(out, k)
		}
		return out
	}
	assert.Equal(t, []any{"a", "b", "c", "d", "e"}, keys(m.Items(false)))
	require.NoError(t, c.Commit())

	assert.Equal(t, []any{"e", "d", "c", "b", "a"}, keys(m.Items(true)))
	assert.Equal(t, []any{"b", "c", "d"}, keys(m.Range(Between("b", "d"))))
	assert.Equal(t, []any{"d", "c", "b"}, keys(m.Range(Between("b", "d").Reversed())))
	assert.Equal(t, []any{"a", "c", "e"}, keys(m.Slice(FullRange(), 2)))
	assert.Equal(t, []any{"e", "c", "a"}, keys(m.Slice(FullRange(), -2)))

	m.Delete("c")
	m.Set("bb", "new")
	m.Set("a", "changed")
	assert.Equal(t, []any{"a", "b", "bb", "d", "e"}, keys(m.Items(false)))
	assert.Equal(t, []any{"e", "d", "bb", "b", "a"}, keys(m.Items(true)))

	minKey, _ := m.MinKey()
	maxKey, _ := m.MaxKey()
	assert.Equal(t, "a", minKey)
	assert.Equal(t, "e", maxKey)

	v, ok := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "changed", v)
	assert.False(t, m.Has("c"))
	assert.Equal(t, 5, m.Len())
}

func TestLargeMapHoldsObjects(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := NewLargeMap()
	c.Root().Set("m", m)
	child := NewSmallMap()
	m.Set("child", child)
	child.Set("x", 1)
	require.NoError(t, c.Commit())

	c2 := open(t, db)
	got, _ := c2.Root().Get("m")
	v, ok := got.(*LargeMap).Get("child")
	require.True(t, ok)
	x, _ := v.(*SmallMap).Get("x")
	assert.Equal(t, int64(1), x)
}

func TestLargeMapConcurrentInserts(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	c.Root().Set("m", NewLargeMap())
	require.NoError(t, c.Commit())

	mapIn := func(c *Conn) *LargeMap {
		v, _ := c.Root().Get("m")
		return v.(*LargeMap)
	}

	c1, c2 := open(t, db), open(t, db)
	mapIn(c1).Set("a", 1)
	mapIn(c2).Set("b", 2)
	require.NoError(t, c1.Commit())
	require.NoError(t, c2.Commit())
	assert.Equal(t, 2, mapIn(c2).Len())

	mapIn(c1).Set("same", 1)
	mapIn(c2).Set("same", 2)
	require.NoError(t, c1.Commit())
	err := c2.Commit()
	require.ErrorIs(t, err, ErrConflict)
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, mustEncodeKey("same"), ce.Key)
	assert.Equal(t, 3, mapIn(c2).Len())
}

func TestLargeMapClearConflictsWithConcurrentChanges(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := NewLargeMap()
	c.Root().Set("m", m)
	m.Set("a", 1)
	require.NoError(t, c.Commit())

	c2 := open(t, db)
	v, _ := c2.Root().Get("m")
	v.(*LargeMap).Set("b", 2)
	require.NoError(t, c2.Commit())

	m.Clear()
	assert.Equal(t, 0, m.Len())
	assert.ErrorIs(t, c.Commit(), ErrConflict)

	m.Clear()
	require.NoError(t, c.Commit())
	assert.Equal(t, 0, m.Len())
	assert.False(t, m.Has("a"))
	assert.False(t, m.Has("b"))
}

func TestIntLargeMap(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := NewIntLargeMap()
	c.Root().Set("m", m)
	m.Set(10, "ten")
	m.Set(-5, "minus five")
	k, _ := m.MinKey()
	assert.Equal(t, int64(-5), k)
	assert.PanicsWithError(t, `invalid key: string in an integer-keyed map`, func() { m.Set("x", 1) })
}

func TestDetachedTreePanics(t *testing.T) {
	assert.Panics(t, func() { NewLargeMap().Set("a", 1) })
}

func TestLargeList(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	l := NewLargeList()
	c.Root().Set("l", l)
	l.Extend("a", "b", "c")
	require.NoError(t, c.Commit())

	assert.Equal(t, 3, l.Len())
	v, ok := l.Get(-1)
	assert.True(t, ok)
	assert.Equal(t, "c", v)
	_, ok = l.Get(3)
	assert.False(t, ok)

	l.Set(0, "A")
	popped, ok := l.Pop()
	assert.True(t, ok)
	assert.Equal(t, "c", popped)

	var all []any
	for i, v := range l.All() {
		assert.Equal(t, len(all), i)
		all = append(all, v)
	}
	assert.Equal(t, []any{"A", "b"}, all)
	assert.Panics(t, func() { l.Set(5, "x") })
}

func TestLargeListConcurrentAppendsConflict(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	c.Root().Set("l", NewLargeList())
	require.NoError(t, c.Commit())

	listIn := func(c *Conn) *LargeList {
		v, _ := c.Root().Get("l")
		return v.(*LargeList)
	}
	c1, c2 := open(t, db), open(t, db)
	listIn(c1).Append(1)
	listIn(c2).Append(2)
	require.NoError(t, c1.Commit())
	assert.ErrorIs(t, c2.Commit(), ErrConflict)
}

func TestSet(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	s := NewSet()
	c.Root().Set("s", s)
	assert.True(t, s.Add(3))
	assert.True(t, s.Add(1))
	assert.False(t, s.Add(3))
	assert.True(t, s.Add(2))
	require.NoError(t, c.Commit())

	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, slices.Collect(s.All()))
	assert.True(t, s.Remove(2))
	assert.False(t, s.Has(2))
	minV, _ := s.Min()
	maxV, _ := s.Max()
	assert.Equal(t, int64(1), minV)
	assert.Equal(t, int64(3), maxV)
	assert.Equal(t, 2, s.Len())
}

func TestSavepoint(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	root := c.Root()
	root.Set("a", 1)
	sp := c.Savepoint()

	root.Set("b", 2)
	m := NewLargeMap()
	root.Set("m", m)
	m.Set("x", 1)
	require.NoError(t, sp.Rollback())

	assert.Equal(t, []any{"a"}, root.Keys())
	assert.Zero(t, m.OID())
	require.NoError(t, c.Commit())
	assert.ErrorIs(t, sp.Rollback(), ErrStaleSavepoint)

	c2 := open(t, db)
	assert.Equal(t, []any{"a"}, c2.Root().Keys())
}

func TestSavepointRestoresTreeEntries(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := NewLargeMap()
	c.Root().Set("m", m)
	m.Set("keep", 1)
	sp := c.Savepoint()
	m.Set("drop", 2)
	m.Delete("keep")
	require.NoError(t, sp.Rollback())

	assert.True(t, m.Has("keep"))
	assert.False(t, m.Has("drop"))
	assert.Equal(t, 1, m.Len())
}

func TestBoltPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db := setupBolt(t, path)
	c, err := db.Open()
	require.NoError(t, err)
	m := NewLargeMap()
	c.Root().Set("m", m)
	m.Set(Tuple{"a", 1}, "first")
	m.Set(Tuple{"a", 2}, "second")
	cnt := NewCounter(5)
	c.Root().Set("cnt", cnt)
	require.NoError(t, c.Commit())
	require.NoError(t, c.Close())
	require.NoError(t, db.Close())

	db = setupBolt(t, path)
	defer db.Close()
	c, err = db.Open()
	require.NoError(t, err)
	defer c.Close()

	v, _ := c.Root().Get("m")
	var keys []any
	for k := range v.(*LargeMap).Keys(false) {
		keys = append(keys, k)
	}
	assert.Equal(t, []any{Tuple{"a", int64(1)}, Tuple{"a", int64(2)}}, keys)

	v, _ = c.Root().Get("cnt")
	assert.Equal(t, int64(5), v.(*Counter).Int())

	lastSerial := db.LastSerial()
	v.(*Counter).Increment(1)
	require.NoError(t, c.Commit())
	assert.Equal(t, lastSerial+1, db.LastSerial())
}

func TestObjectFromAnotherConnectionPanics(t *testing.T) {
	db := setup(t)
	c1, c2 := open(t, db), open(t, db)
	m := NewSmallMap()
	c1.Root().Set("m", m)
	assert.Panics(t, func() { c2.Root().Set("m", m) })
}
