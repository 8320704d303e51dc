package store

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Conn is a connection to a DB: an object cache plus the current
// transaction. A transaction begins when the connection is opened and after
// every Commit or Abort.
type Conn struct {
	db     *DB
	stx    storageTx
	serial uint64
	gen    uint64
	closed bool

	cache   map[OID]Object
	dirty   map[OID]Object
	created map[OID]bool
	trees   map[OID]*treeOverlay
}

func (db *DB) Open() (*Conn, error) {
	c := &Conn{
		db:    db,
		cache: make(map[OID]Object),
	}
	if err := c.begin(); err != nil {
		return nil, err
	}
	db.OpenConns.Add(1)
	return c, nil
}

func (c *Conn) DB() *DB {
	return c.db
}

// Gen identifies the current transaction; it changes at every Commit or Abort.
func (c *Conn) Gen() uint64 {
	return c.gen
}

// Serial is the last committed serial visible to the current transaction.
func (c *Conn) Serial() uint64 {
	return c.serial
}

// Modified reports whether the current transaction has pending changes.
func (c *Conn) Modified() bool {
	return len(c.dirty) > 0 || len(c.trees) > 0
}

func (c *Conn) begin() error {
	stx, err := c.db.stg.BeginTx(false)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	c.stx = stx
	c.serial = getMetaUint(stx.Meta(), metaLastSerial)
	c.gen++
	c.dirty = make(map[OID]Object)
	c.created = make(map[OID]bool)
	c.trees = make(map[OID]*treeOverlay)
	for _, obj := range c.cache {
		obj.base().ghost = true
	}
	return nil
}

func (c *Conn) end() error {
	if c.stx == nil {
		return nil
	}
	err := c.stx.Rollback()
	c.stx = nil
	return err
}

// restart ends the current transaction and begins a new one. When the
// transaction's changes were discarded, objects created in it are detached.
func (c *Conn) restart(discarded bool) error {
	if discarded {
		for oid := range c.created {
			obj := c.cache[oid]
			delete(c.cache, oid)
			if obj != nil {
				b := obj.base()
				b.oid, b.conn, b.serial = 0, nil, 0
			}
		}
	}
	return multierr.Append(c.end(), c.begin())
}

func (c *Conn) Root() *SmallMap {
	return must(c.Get(RootOID)).(*SmallMap)
}

// Get returns the object with the given OID, loading it if needed.
func (c *Conn) Get(oid OID) (Object, error) {
	if c.closed {
		return nil, ErrClosed
	}
	if obj := c.cache[oid]; obj != nil {
		return obj, nil
	}
	rec, st, err := c.db.loadObject(c.stx, oid)
	if err != nil {
		return nil, err
	}
	factory := objectFactories[rec.Kind]
	if factory == nil {
		return nil, fmt.Errorf("%w: %q (object %v)", ErrUnsupportedKind, rec.Kind, oid)
	}
	obj := factory()
	b := obj.base()
	b.oid, b.conn, b.serial = oid, c, rec.Serial
	if err := obj.setState(st); err != nil {
		return nil, fmt.Errorf("object %v: %w", oid, err)
	}
	c.cache[oid] = obj
	return obj, nil
}

// Add stores a detached object into the database without linking it from
// any container. Objects are usually attached by storing them into a container.
func (c *Conn) Add(obj Object) OID {
	b := obj.base()
	switch b.conn {
	case nil:
		c.attach(obj)
	case c:
	default:
		panic(fmt.Errorf("store: %s %v belongs to another connection", obj.Kind(), b.oid))
	}
	return b.oid
}

func (c *Conn) attach(obj Object) {
	if c.closed {
		panic(ErrClosed)
	}
	b := obj.base()
	b.oid = c.db.allocOID()
	b.conn = c
	b.serial = 0
	b.ghost = false
	c.cache[b.oid] = obj
	c.created[b.oid] = true
	c.dirty[b.oid] = obj
	for _, child := range obj.children() {
		switch child.base().conn {
		case nil:
			c.attach(child)
		case c:
		default:
			panic(fmt.Errorf("store: %s %v belongs to another connection", child.Kind(), child.OID()))
		}
	}
}

func (c *Conn) activate(obj Object) error {
	b := obj.base()
	rec, st, err := c.db.loadObject(c.stx, b.oid)
	if err != nil {
		return err
	}
	if err := obj.setState(st); err != nil {
		return fmt.Errorf("object %v: %w", b.oid, err)
	}
	b.serial = rec.Serial
	b.ghost = false
	return nil
}

func (c *Conn) markDirty(obj Object) {
	if c.closed {
		panic(ErrClosed)
	}
	c.dirty[obj.OID()] = obj
}

// Commit saves the changes made in the current transaction and begins a new
// transaction. On failure (including conflicts, see ErrConflict) the changes
// are discarded and a new transaction begins as well.
func (c *Conn) Commit() error {
	if c.closed {
		return ErrClosed
	}
	if !c.Modified() {
		return c.restart(false)
	}
	err := c.db.commit(c)
	if err != nil {
		c.db.logger.Debug("store: commit failed", zap.Error(err))
		return multierr.Append(err, c.restart(true))
	}
	return c.restart(false)
}

// Abort discards the changes made in the current transaction and begins
// a new one.
func (c *Conn) Abort() error {
	if c.closed {
		return ErrClosed
	}
	return c.restart(true)
}

func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	for oid := range c.created {
		delete(c.cache, oid)
	}
	err := c.end()
	c.closed = true
	c.db.OpenConns.Add(-1)
	return err
}
