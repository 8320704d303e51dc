package sheraf

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/andreyvit/sheraf/store"
)

func TestDatabaseRegistry(t *testing.T) {
	db := setup(t)

	found, err := GetDatabase(t.Name())
	require.NoError(t, err)
	assert.Same(t, db, found)

	_, err = OpenDatabase(DatabaseOptions{Name: t.Name()})
	assert.Error(t, err)

	require.NoError(t, db.Close())
	_, err = GetDatabase(t.Name())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConnectionContext(t *testing.T) {
	db := setup(t)

	_, err := ConnFromContext(bg)
	assert.ErrorIs(t, err, ErrNotConnected)

	ctx, c, err := db.Connect(bg)
	require.NoError(t, err)
	got, err := ConnFromContext(ctx)
	require.NoError(t, err)
	assert.Same(t, c, got)

	_, _, err = db.Connect(ctx)
	assert.ErrorIs(t, err, ErrConnectionAlreadyOpened)
	assert.Contains(t, db.DescribeOpenConns(), "1 OPEN CONNECTIONS")

	require.NoError(t, c.Close())
	_, err = ConnFromContext(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)

	ctx2, c2, err := db.Connect(ctx)
	require.NoError(t, err)
	defer c2.Close()
	got, err = ConnFromContext(ctx2)
	require.NoError(t, err)
	assert.Same(t, c2, got)
}

func TestNestableConnections(t *testing.T) {
	db := setup(t, func(opt *DatabaseOptions) { opt.Nestable = true })

	ctx, outer, err := db.Connect(bg)
	require.NoError(t, err)
	defer outer.Close()
	inner, err := func() (*Conn, error) {
		ctx, inner, err := db.Connect(ctx)
		if err != nil {
			return nil, err
		}
		got, err := ConnFromContext(ctx)
		assert.Same(t, inner, got)
		return inner, err
	}()
	require.NoError(t, err)
	require.NoError(t, inner.Close())

	got, err := ConnFromContext(ctx)
	require.NoError(t, err)
	assert.Same(t, outer, got)
}

func TestConnectionCommitsOnSuccess(t *testing.T) {
	db := setup(t)
	m := cowboys(t)

	require.NoError(t, db.Connection(bg, func(ctx context.Context, c *Conn) error {
		_, err := m.Create(c, Values{"name": "Peter"})
		return err
	}))
	boom := errors.New("boom")
	err := db.Connection(bg, func(ctx context.Context, c *Conn) error {
		create(t, c, m, Values{"name": "George"})
		return boom
	})
	assert.ErrorIs(t, err, boom)

	c := open(t, db)
	assert.Equal(t, []string{"Peter"}, names(t, m.All(c)))
}

func TestSavepointRollback(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := cowboys(t)

	create(t, c, m, Values{"name": "Peter", "age": 30})
	sp := c.Savepoint()
	create(t, c, m, Values{"name": "George", "age": 30})
	assert.Equal(t, 2, m.Count(c))

	require.NoError(t, sp.Rollback())
	assert.Equal(t, 1, m.Count(c))
	assert.Equal(t, []string{"Peter"}, names(t, m.Filter(c, Eq("age", 30))))
}

func TestBoltPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sheraf.db")
	m := cowboys(t)
	opt := DatabaseOptions{Name: t.Name(), Path: path, Logger: zaptest.NewLogger(t), IsTesting: true}

	db, err := OpenDatabase(opt)
	require.NoError(t, err)
	var id any
	require.NoError(t, db.Connection(bg, func(ctx context.Context, c *Conn) error {
		peter := create(t, c, m, Values{"name": "Peter", "age": 30, "email": "p@x"})
		id = peter.ID()
		return nil
	}))
	require.NoError(t, db.Close())

	db, err = OpenDatabase(opt)
	require.NoError(t, err)
	defer db.Close()
	c, err := db.Open()
	require.NoError(t, err)
	defer c.Close()
	inst, err := m.Read(c, id)
	require.NoError(t, err)
	assert.Equal(t, "Peter", inst.Get("name"))
	assert.Equal(t, int64(30), inst.Get("age"))
	found, err := m.ReadBy(c, "email", "p@x")
	require.NoError(t, err)
	assert.True(t, found.Equal(inst))
}

func TestPreferredDatabase(t *testing.T) {
	main := setup(t)
	other := setup(t, func(opt *DatabaseOptions) { opt.Name = t.Name() + ".other" })
	m := newModel(t, "archive", func(b *ModelBuilder) {
		b.DatabaseName(other.Name())
		b.Attr("title", StringAttribute().Index())
	})
	assert.Equal(t, other.Name(), m.DatabaseName())

	require.NoError(t, main.Connection(bg, func(ctx context.Context, c *Conn) error {
		_, err := m.Create(c, Values{"title": "Ledger"})
		return err
	}))

	sc, err := other.Store().Open()
	require.NoError(t, err)
	defer sc.Close()
	assert.True(t, sc.Root().Has(m.Table()))

	mc, err := main.Store().Open()
	require.NoError(t, err)
	defer mc.Close()
	assert.False(t, mc.Root().Has(m.Table()))

	c := open(t, main)
	inst, err := m.Filter(c, Eq("title", "Ledger")).Get()
	require.NoError(t, err)
	assert.Equal(t, "Ledger", inst.Get("title"))
}

func TestMissingPreferredDatabase(t *testing.T) {
	db := setup(t)
	m := newModel(t, "archive", func(b *ModelBuilder) {
		b.DatabaseName(t.Name() + ".missing")
		b.Attr("title", StringAttribute())
	})

	c := open(t, db)
	_, err := m.Create(c, Values{"title": "Ledger"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestAttemptRetriesConflicts(t *testing.T) {
	db := setup(t)
	m := cowboys(t)

	var id any
	require.NoError(t, db.Connection(bg, func(ctx context.Context, c *Conn) error {
		id = create(t, c, m, Values{"name": "Peter"}).ID()
		return nil
	}))

	var tries int
	var failures []int
	err := Attempt(bg, db, AttemptOptions{OnFailure: func(n int) { failures = append(failures, n) }}, func(ctx context.Context, c *Conn) error {
		tries++
		inst, err := m.Read(c, id)
		if err != nil {
			return err
		}
		if err := inst.Set("name", fmt.Sprintf("try %d", tries)); err != nil {
			return err
		}
		if tries == 1 {
			rival := open(t, db)
			ri, err := m.Read(rival, id)
			require.NoError(t, err)
			require.NoError(t, ri.Set("name", "rival"))
			require.NoError(t, rival.Commit())
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, tries)
	assert.Equal(t, []int{1}, failures)

	c := open(t, db)
	inst, err := m.Read(c, id)
	require.NoError(t, err)
	assert.Equal(t, "try 2", inst.Get("name"))
}

func TestAttemptGivesUp(t *testing.T) {
	db := setup(t)
	flaky := errors.New("flaky")

	var tries int
	err := Attempt(bg, db, AttemptOptions{Attempts: 3, AlsoExcept: []error{flaky}, OnFailure: func(int) {}}, func(ctx context.Context, c *Conn) error {
		tries++
		return fmt.Errorf("wrapped: %w", flaky)
	})
	assert.ErrorIs(t, err, flaky)
	assert.Equal(t, 3, tries)

	tries = 0
	boom := errors.New("boom")
	err = Attempt(bg, db, AttemptOptions{}, func(ctx context.Context, c *Conn) error {
		tries++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, tries)
}

func TestAttemptStopsOnCancel(t *testing.T) {
	db := setup(t)
	ctx, cancel := context.WithCancel(bg)
	cancel()

	var tries int
	err := Attempt(ctx, db, AttemptOptions{}, func(ctx context.Context, c *Conn) error {
		tries++
		return &store.ConflictError{}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, tries)
}
