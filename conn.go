package sheraf

import (
	"fmt"
	"slices"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/andreyvit/sheraf/store"
)

// Conn is one logical connection: a store connection to its database, plus
// the connections to other databases opened on demand by models that
// prefer them. Not safe for concurrent use.
type Conn struct {
	db     *Database
	main   *store.Conn
	others map[string]*store.Conn
	gen    uint64
	closed bool

	managers  map[*Index]*indexManager
	memo      map[*store.SmallMap]map[*Attribute]any
	listeners []func(chg *Change)

	startTime time.Time
	stack     []byte
}

func (c *Conn) Database() *Database {
	return c.db
}

// Store returns the store connection of the connection's own database.
func (c *Conn) Store() *store.Conn {
	return c.main
}

func (c *Conn) Root() *store.SmallMap {
	return c.main.Root()
}

// Gen identifies the current transaction; it changes at every Commit, Abort
// and savepoint rollback.
func (c *Conn) Gen() uint64 {
	return c.gen
}

// Using returns the store connection to the named database, opening it in
// the current logical connection if needed.
func (c *Conn) Using(name string) (*store.Conn, error) {
	if c.closed {
		return nil, store.ErrClosed
	}
	if name == "" || name == c.db.name {
		return c.main, nil
	}
	if sc := c.others[name]; sc != nil {
		return sc, nil
	}
	db, err := GetDatabase(name)
	if err != nil {
		return nil, err
	}
	sc, err := db.sdb.Open()
	if err != nil {
		return nil, err
	}
	if c.others == nil {
		c.others = make(map[string]*store.Conn)
	}
	c.others[name] = sc
	return sc, nil
}

func (c *Conn) otherNames() []string {
	names := make([]string, 0, len(c.others))
	for name := range c.others {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Commit commits the other databases first, then the connection's own one.
// Commits are not atomic across databases. A failed commit aborts whatever
// was not committed yet.
func (c *Conn) Commit() error {
	if c.closed {
		return store.ErrClosed
	}
	defer c.bump()
	for i, name := range c.otherNames() {
		if err := c.others[name].Commit(); err != nil {
			return multierr.Append(fmt.Errorf("%s: %w", name, err), c.abortFrom(i+1))
		}
	}
	err := c.main.Commit()
	if err != nil && c.db.verbose {
		c.db.logger.Debug("commit failed", zap.Error(err))
	}
	return err
}

func (c *Conn) abortFrom(i int) error {
	var err error
	for _, name := range c.otherNames()[i:] {
		err = multierr.Append(err, c.others[name].Abort())
	}
	return multierr.Append(err, c.main.Abort())
}

func (c *Conn) Abort() error {
	if c.closed {
		return store.ErrClosed
	}
	defer c.bump()
	return c.abortFrom(0)
}

// Close abandons the current transaction and closes every store connection.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	var err error
	for _, name := range c.otherNames() {
		err = multierr.Append(err, c.others[name].Close())
	}
	err = multierr.Append(err, c.main.Close())
	c.closed = true
	c.db.removeConn(c)
	return err
}

func (c *Conn) bump() {
	c.gen++
	clear(c.memo)
}

// Savepoint captures the pending changes of every store connection opened so far.
type Savepoint struct {
	conn *Conn
	sps  map[*store.Conn]*store.Savepoint
}

func (c *Conn) Savepoint() *Savepoint {
	sp := &Savepoint{conn: c, sps: make(map[*store.Conn]*store.Savepoint)}
	sp.sps[c.main] = c.main.Savepoint()
	for _, sc := range c.others {
		sp.sps[sc] = sc.Savepoint()
	}
	return sp
}

func (sp *Savepoint) Rollback() error {
	var err error
	for _, ssp := range sp.sps {
		err = multierr.Append(err, ssp.Rollback())
	}
	sp.conn.bump()
	return err
}

// modelConn returns the store connection holding the tables of m.
func (c *Conn) modelConn(m *Model) (*store.Conn, error) {
	return c.Using(m.dbName)
}

func (c *Conn) wrap(m *Model, mapping *store.SmallMap) *Instance {
	return &Instance{model: m, conn: c, mapping: mapping}
}

func (c *Conn) memoized(mapping *store.SmallMap, a *Attribute) (any, bool) {
	v, ok := c.memo[mapping][a]
	return v, ok
}

func (c *Conn) memoize(mapping *store.SmallMap, a *Attribute, v any) {
	m := c.memo[mapping]
	if m == nil {
		m = make(map[*Attribute]any)
		c.memo[mapping] = m
	}
	m[a] = v
}

func (c *Conn) forget(mapping *store.SmallMap, a *Attribute) {
	delete(c.memo[mapping], a)
}

func (c *Conn) warn(w IndexationWarning) {
	c.db.logger.Warn("sheraf: index is not initialized",
		zap.String("model", w.Model.table),
		zap.String("index", w.Index.key),
		zap.Stringer("warning", w))
	indexationWarnings.Inc()
	if c.db.onWarning != nil {
		c.db.onWarning(w)
	}
}
