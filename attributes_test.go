package sheraf

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/sheraf/store"
)

func TestScalarAttributes(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := newModel(t, "everything", func(b *ModelBuilder) {
		b.Attr("str", StringAttribute())
		b.Attr("int", IntegerAttribute())
		b.Attr("float", FloatAttribute())
		b.Attr("bool", BooleanAttribute())
		b.Attr("when", DateTimeAttribute())
		b.Attr("day", DateAttribute())
		b.Attr("clock", TimeAttribute())
		b.Attr("uuid", UUIDAttribute())
		b.Attr("color", EnumAttribute(StringAttribute(), "red", "green"))
		b.Attr("simple", SimpleAttribute())
	})

	when := time.Date(2024, 3, 5, 15, 4, 5, 123456000, time.UTC)
	u := uuid.New()
	inst := create(t, c, m, Values{
		"str":    "hello",
		"int":    42,
		"float":  1.5,
		"bool":   true,
		"when":   when,
		"day":    when,
		"clock":  90 * time.Minute,
		"uuid":   u,
		"color":  "green",
		"simple": []any{1, "two"},
	})
	require.NoError(t, c.Commit())

	inst, err := m.Read(c, inst.ID())
	require.NoError(t, err)
	assert.Equal(t, "hello", inst.Get("str"))
	assert.Equal(t, int64(42), inst.Get("int"))
	assert.Equal(t, 1.5, inst.Get("float"))
	assert.Equal(t, true, inst.Get("bool"))
	assert.WithinDuration(t, when, inst.Get("when").(time.Time), time.Microsecond)
	assert.True(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC).Equal(inst.Get("day").(time.Time)))
	assert.Equal(t, 90*time.Minute, inst.Get("clock"))
	assert.Equal(t, u, inst.Get("uuid"))
	assert.Equal(t, "green", inst.Get("color"))
	assert.Equal(t, []any{int64(1), "two"}, inst.Get("simple"))

	assert.ErrorIs(t, inst.Set("color", "blue"), store.ErrInvalidValue)
	assert.ErrorIs(t, inst.Set("int", "forty"), store.ErrInvalidValue)
	assert.ErrorIs(t, inst.Set("uuid", "not a uuid"), store.ErrInvalidValue)
	assert.ErrorIs(t, inst.Set("clock", 25*time.Hour), store.ErrInvalidValue)
	assert.Equal(t, "green", inst.Get("color"))

	require.NoError(t, inst.Set("day", nil))
	assert.Nil(t, inst.Get("day"))
	require.NoError(t, inst.Set("clock", nil))
	assert.Nil(t, inst.Get("clock"))
}

func TestCollectionAttributes(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := newModel(t, "posse", func(b *ModelBuilder) {
		b.Attr("members", ListAttribute(StringAttribute()))
		b.Attr("skills", SetAttribute(StringAttribute()).Index())
		b.Attr("scores", DictAttribute(IntegerAttribute()).Index())
	})

	inst := create(t, c, m, Values{
		"members": []string{"Joe", "Jack"},
		"skills":  []string{"ride", "shoot", "ride"},
		"scores":  map[string]int{"Joe": 3, "Jack": 7},
	})
	other := create(t, c, m, Values{"skills": []string{"cook"}, "scores": map[string]int{"Averell": 7}})

	assert.Equal(t, []any{"Joe", "Jack"}, inst.Get("members"))
	assert.Equal(t, []any{"ride", "shoot"}, inst.Get("skills"))
	assert.Equal(t, map[any]any{"Joe": int64(3), "Jack": int64(7)}, inst.Get("scores"))

	found, err := m.Filter(c, Eq("skills", "shoot")).Get()
	require.NoError(t, err)
	assert.True(t, found.Equal(inst))

	list, err := m.Filter(c, Eq("scores", 7)).List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].Equal(inst))
	assert.True(t, list[1].Equal(other))

	require.NoError(t, inst.Set("skills", []string{"cook"}))
	n, err := m.Filter(c, Eq("skills", "cook")).Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	ok, err := m.Filter(c, Eq("skills", "ride")).Exists()
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, inst.Set("members", 12), store.ErrInvalidValue)
}

func TestInlineModelAttribute(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	address := NewInlineModel(func(b *ModelBuilder) {
		b.Attr("city", StringAttribute())
		b.Attr("zip", StringAttribute())
	})
	m := newModel(t, "resident", func(b *ModelBuilder) {
		b.Attr("name", StringAttribute())
		b.Attr("address", InlineModelAttribute(address))
	})

	inst := create(t, c, m, Values{"name": "Lucky", "address": Values{"city": "Daisy Town"}})
	assert.Equal(t, Values{"city": "Daisy Town", "zip": ""}, inst.Get("address"))

	require.NoError(t, inst.Edit(Values{"address": Values{"zip": "12345"}}))
	assert.Equal(t, Values{"city": "Daisy Town", "zip": "12345"}, inst.Get("address"))

	assert.Error(t, inst.Set("address", Values{"country": "US"}))
	_, err := address.Create(c, Values{"city": "Nowhere"})
	assert.ErrorIs(t, err, ErrSheraf)
}

func TestModelAttribute(t *testing.T) {
	db := setup(t)
	horses := newModel(t, "horse", func(b *ModelBuilder) {
		b.Attr("name", StringAttribute())
	})
	mules := newModel(t, "mule", func(b *ModelBuilder) {
		b.Attr("name", StringAttribute())
	})
	riders := newModel(t, "rider", func(b *ModelBuilder) {
		b.Attr("name", StringAttribute())
		b.Attr("horse", ModelAttribute(horses.Table()).Index())
		b.Attr("mount", ModelAttribute(horses.Table(), mules.Table()))
	})

	c := open(t, db)
	jolly := create(t, c, horses, Values{"name": "Jolly Jumper"})
	rantanplan := create(t, c, mules, Values{"name": "Rantanplan"})
	lucky := create(t, c, riders, Values{"name": "Lucky", "horse": jolly, "mount": rantanplan})
	create(t, c, riders, Values{"name": "Joe", "horse": jolly.ID()})

	assert.True(t, jolly.Equal(lucky.Get("horse").(*Instance)))
	assert.True(t, rantanplan.Equal(lucky.Get("mount").(*Instance)))
	mount, _ := riders.Attribute("mount").stored(lucky)
	assert.Equal(t, store.Tuple{mules.Table(), rantanplan.ID()}, mount)
	assert.Equal(t, []string{"Lucky", "Joe"}, names(t, riders.Filter(c, Eq("horse", jolly))))

	assert.ErrorIs(t, lucky.Set("horse", rantanplan), store.ErrInvalidValue)

	require.NoError(t, jolly.Delete())
	require.NoError(t, c.Commit())
	lucky, err := riders.Read(c, lucky.ID())
	require.NoError(t, err)
	assert.Nil(t, lucky.Get("horse"))
}

func TestCounterAttribute(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := newModel(t, "bank", func(b *ModelBuilder) {
		b.Attr("gold", CounterAttribute())
	})

	inst := create(t, c, m, Values{})
	gold := inst.Get("gold").(*store.Counter)
	assert.Equal(t, int64(0), gold.Int())
	gold.Increment(5)
	require.NoError(t, inst.Set("gold", 12))
	assert.Same(t, gold, inst.Get("gold"))
	assert.Equal(t, int64(12), gold.Int())

	n, err := m.Filter(c, Eq("gold", 12)).Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCounterIndexPanics(t *testing.T) {
	for name, build := range map[string]func(b *ModelBuilder){
		"attr": func(b *ModelBuilder) {
			b.Attr("gold", CounterAttribute().Index())
		},
		"declared": func(b *ModelBuilder) {
			b.Attr("name", StringAttribute())
			b.Attr("gold", CounterAttribute())
			b.Index("wealth", On("name", "gold"))
		},
	} {
		t.Run(name, func(t *testing.T) {
			table := tableName(t, "bank")
			defer func() {
				err, _ := recover().(error)
				assert.ErrorIs(t, err, ErrInvalidIndex)
				assert.ErrorContains(t, err, "counter attribute gold cannot be indexed")
				assert.Nil(t, LookupModel(table))
			}()
			NewModel(table, build)
			t.Error("indexing a counter must panic")
		})
	}
}

func TestCounterWriteUndoKeepsEditions(t *testing.T) {
	db := setup(t)
	m := newModel(t, "bank", func(b *ModelBuilder) {
		b.Attr("gold", CounterAttribute())
	})
	var id any
	require.NoError(t, db.Connection(bg, func(ctx context.Context, c *Conn) error {
		id = create(t, c, m, Values{"gold": 10}).ID()
		return nil
	}))

	outer := open(t, db)
	inst, err := m.Read(outer, id)
	require.NoError(t, err)
	gold := inst.Get("gold").(*store.Counter)
	_, undo, written, err := counterKind{}.writeStored(m.attrsByName["gold"], gold, 50)
	require.NoError(t, err)
	require.True(t, written)
	assert.Equal(t, int64(50), gold.Int())
	undo()
	assert.Equal(t, int64(10), gold.Int())
	gold.Increment(1)

	inner := open(t, db)
	innerInst, err := m.Read(inner, id)
	require.NoError(t, err)
	innerInst.Get("gold").(*store.Counter).Increment(5)
	require.NoError(t, inner.Commit())

	require.NoError(t, outer.Commit())
	check := open(t, db)
	inst, err = m.Read(check, id)
	require.NoError(t, err)
	assert.Equal(t, int64(16), inst.Get("gold").(*store.Counter).Int())
}

func TestCounterMergesConcurrentIncrements(t *testing.T) {
	db := setup(t, func(opt *DatabaseOptions) { opt.Nestable = true })
	m := newModel(t, "bank", func(b *ModelBuilder) {
		b.Attr("gold", CounterAttribute())
	})

	run := func(outerWrite func(inst *Instance) error) error {
		var id any
		require.NoError(t, db.Connection(bg, func(ctx context.Context, c *Conn) error {
			id = create(t, c, m, Values{}).ID()
			return nil
		}))

		ctx, outer, err := db.Connect(bg)
		require.NoError(t, err)
		defer outer.Close()
		outerInst, err := m.Read(outer, id)
		require.NoError(t, err)
		outerInst.Get("gold")

		_, inner, err := db.Connect(ctx)
		require.NoError(t, err)
		defer inner.Close()
		innerInst, err := m.Read(inner, id)
		require.NoError(t, err)
		innerInst.Get("gold").(*store.Counter).Decrement(10)
		require.NoError(t, inner.Commit())

		require.NoError(t, outerWrite(outerInst))
		if err := outer.Commit(); err != nil {
			return err
		}

		check := open(t, db)
		inst, err := m.Read(check, id)
		require.NoError(t, err)
		assert.Equal(t, int64(90), inst.Get("gold").(*store.Counter).Int())
		return nil
	}

	require.NoError(t, run(func(inst *Instance) error {
		inst.Get("gold").(*store.Counter).Increment(100)
		return nil
	}))

	err := run(func(inst *Instance) error {
		return inst.Set("gold", 100)
	})
	assert.True(t, IsConflict(err))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestReverseModelAttribute(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	parents := newModel(t, "parent", func(b *ModelBuilder) {
		b.Attr("name", StringAttribute())
		b.Attr("children", ListAttribute(ModelAttribute(tableName(t, "child"))).Index())
	})
	children := newModel(t, "child", func(b *ModelBuilder) {
		b.Attr("name", StringAttribute())
		b.Attr("parents", ReverseModelAttribute(parents.Table(), "children"))
	})

	p1 := create(t, c, parents, Values{"name": "p1"})
	p2 := create(t, c, parents, Values{"name": "p2"})
	kid := create(t, c, children, Values{"name": "kid", "parents": []*Instance{p1, p2}})

	childrenOf := func(p *Instance) []string {
		var out []string
		for _, el := range p.Get("children").([]any) {
			out = append(out, el.(*Instance).Get("name").(string))
		}
		return out
	}
	assert.Equal(t, []string{"kid"}, childrenOf(p1))
	assert.Equal(t, []string{"kid"}, childrenOf(p2))
	assert.Len(t, kid.Get("parents"), 2)

	require.NoError(t, kid.Set("parents", []*Instance{p2}))
	assert.Empty(t, childrenOf(p1))
	assert.Equal(t, []string{"kid"}, childrenOf(p2))
	refs := kid.Get("parents").([]*Instance)
	require.Len(t, refs, 1)
	assert.True(t, refs[0].Equal(p2))

	require.NoError(t, kid.Delete())
	assert.Empty(t, childrenOf(p1))
	assert.Empty(t, childrenOf(p2))
	assert.False(t, children.Exists(c, kid.ID()))
}

func TestReverseOfSingleReference(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	passports := newModel(t, "passport", func(b *ModelBuilder) {
		b.Attr("number", StringAttribute())
		b.Attr("owner", ModelAttribute(tableName(t, "citizen")).Index(Unique(), NoneOK(false)))
	})
	citizens := newModel(t, "citizen", func(b *ModelBuilder) {
		b.Attr("name", StringAttribute())
		b.Attr("passport", ReverseModelAttribute(passports.Table(), "owner"))
	})

	p := create(t, c, passports, Values{"number": "A1"})
	joe := create(t, c, citizens, Values{"name": "Joe", "passport": p})

	assert.True(t, joe.Equal(p.Get("owner").(*Instance)))
	assert.True(t, p.Equal(joe.Get("passport").(*Instance)))

	require.NoError(t, joe.Set("passport", nil))
	assert.Nil(t, p.Get("owner"))
	assert.Nil(t, joe.Get("passport"))
}
