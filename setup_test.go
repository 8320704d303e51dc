package sheraf

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setup(t testing.TB, opts ...func(opt *DatabaseOptions)) *Database {
	t.Helper()
	opt := DatabaseOptions{Name: t.Name(), Logger: zaptest.NewLogger(t), Verbose: true, IsTesting: true}
	for _, f := range opts {
		f(&opt)
	}
	db, err := OpenDatabase(opt)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func open(t testing.TB, db *Database) *Conn {
	t.Helper()
	c, err := db.Open()
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func tableName(t testing.TB, name string) string {
	return t.Name() + "." + name
}

func newModel(t testing.TB, name string, build func(b *ModelBuilder)) *Model {
	t.Helper()
	m := NewModel(tableName(t, name), build)
	t.Cleanup(m.Unregister)
	return m
}

func cowboys(t testing.TB) *Model {
	return newModel(t, "cowboy", func(b *ModelBuilder) {
		b.Attr("name", StringAttribute())
		b.Attr("email", StringAttribute().Index(Unique(), NullOK(false)))
		b.Attr("age", IntegerAttribute().Index())
		b.Attr("size", IntegerAttribute().Index())
	})
}

func create(t testing.TB, c *Conn, m *Model, vals Values) *Instance {
	t.Helper()
	inst, err := m.Create(c, vals)
	require.NoError(t, err)
	return inst
}

func names(t testing.TB, qs *QuerySet) []string {
	t.Helper()
	list, err := qs.List()
	require.NoError(t, err)
	out := make([]string, len(list))
	for i, inst := range list {
		out[i] = inst.Get("name").(string)
	}
	return out
}

func threeCowboys(t testing.TB, c *Conn, m *Model) (peter, george, steven *Instance) {
	peter = create(t, c, m, Values{"name": "Peter", "age": 30, "size": 180})
	george = create(t, c, m, Values{"name": "George", "age": 50, "size": 170})
	steven = create(t, c, m, Values{"name": "Steven", "age": 30, "size": 160})
	return
}

var bg = context.Background()
