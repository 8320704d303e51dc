package store

// Savepoint captures the pending changes of a transaction so that later
// changes can be rolled back without aborting the whole transaction.
type Savepoint struct {
	conn    *Conn
	gen     uint64
	states  map[OID]any
	serials map[OID]uint64
	created map[OID]bool
	trees   map[OID]*treeOverlay
}

func (c *Conn) Savepoint() *Savepoint {
	sp := &Savepoint{
		conn:    c,
		gen:     c.gen,
		states:  make(map[OID]any, len(c.dirty)),
		serials: make(map[OID]uint64, len(c.dirty)),
		created: make(map[OID]bool, len(c.created)),
		trees:   make(map[OID]*treeOverlay, len(c.trees)),
	}
	for oid, obj := range c.dirty {
		sp.states[oid] = Clone(obj.state())
		sp.serials[oid] = obj.base().serial
	}
	for oid := range c.created {
		sp.created[oid] = true
	}
	for oid, ov := range c.trees {
		sp.trees[oid] = ov.clone()
	}
	return sp
}

// Rollback restores the transaction to the state it had when the savepoint
// was taken. The savepoint stays valid and can be rolled back to again.
func (sp *Savepoint) Rollback() error {
	c := sp.conn
	if c.closed {
		return ErrClosed
	}
	if c.gen != sp.gen {
		return ErrStaleSavepoint
	}
	for oid, obj := range c.dirty {
		if _, ok := sp.states[oid]; ok {
			continue
		}
		if c.created[oid] && !sp.created[oid] {
			delete(c.cache, oid)
			b := obj.base()
			b.oid, b.conn, b.serial = 0, nil, 0
		} else {
			obj.base().ghost = true
		}
	}
	c.dirty = make(map[OID]Object, len(sp.states))
	for oid, st := range sp.states {
		obj := c.cache[oid]
		if obj == nil {
			continue
		}
		ensure(obj.setState(Clone(st)))
		b := obj.base()
		b.serial = sp.serials[oid]
		b.ghost = false
		c.dirty[oid] = obj
	}
	c.created = make(map[OID]bool, len(sp.created))
	for oid := range sp.created {
		c.created[oid] = true
	}
	c.trees = make(map[OID]*treeOverlay, len(sp.trees))
	for oid, ov := range sp.trees {
		c.trees[oid] = ov.clone()
	}
	return nil
}
