package sheraf

import "iter"

// Read returns the instance with identifier id, or an error wrapping
// ErrModelObjectNotFound.
func (m *Model) Read(c *Conn, id any) (*Instance, error) {
	st, err := m.primaryAttr().serialize(c, id)
	if err != nil {
		return nil, err
	}
	inst, err := m.lookup(c, st)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, modelErrf(m, m.primary, id, ErrModelObjectNotFound, "not found")
	}
	return inst, nil
}

// ReadBy returns the instance stored under v in the unique index indexKey.
// Reading through a non-unique index fails with ErrMultipleIndex.
func (m *Model) ReadBy(c *Conn, indexKey string, v any) (*Instance, error) {
	idx := m.indexByKey[indexKey]
	if idx == nil {
		return nil, modelErrf(m, nil, indexKey, ErrInvalidIndex, "no such index")
	}
	if idx.primary {
		return m.Read(c, v)
	}
	if !idx.unique {
		return nil, modelErrf(m, idx, nil, ErrMultipleIndex, "use Filter to read from a non-unique index")
	}
	keys, err := idx.filterKeys(c, v)
	if err != nil {
		return nil, err
	}
	im := c.manager(idx)
	if im.err != nil {
		return nil, im.err
	}
	mappings := im.lookup(keys...)
	if len(mappings) == 0 {
		return nil, modelErrf(m, idx, v, ErrModelObjectNotFound, "not found")
	}
	return c.wrap(m, mappings[0]), nil
}

// ReadThese returns the instances stored under each of vals in the given
// index, in the order of vals. A missing value stops the iteration with an
// error wrapping ErrModelObjectNotFound.
func (m *Model) ReadThese(c *Conn, indexKey string, vals ...any) *QuerySet {
	idx := m.indexByKey[indexKey]
	if idx == nil {
		return &QuerySet{conn: c, model: m, err: modelErrf(m, nil, indexKey, ErrInvalidIndex, "no such index")}
	}
	seq := func(yield func(*Instance, error) bool) {
		for _, v := range vals {
			var inst *Instance
			var err error
			if idx.unique {
				inst, err = m.ReadBy(c, indexKey, v)
				if !yield(inst, err) || err != nil {
					return
				}
				continue
			}
			keys, err := idx.filterKeys(c, v)
			if err != nil {
				yield(nil, err)
				return
			}
			mappings := c.manager(idx).lookup(keys...)
			if len(mappings) == 0 {
				yield(nil, modelErrf(m, idx, v, ErrModelObjectNotFound, "not found"))
				return
			}
			for _, mapping := range mappings {
				if !yield(c.wrap(m, mapping), nil) {
					return
				}
			}
		}
	}
	return &QuerySet{conn: c, model: m, src: seq}
}

// Exists reports whether an instance with identifier id exists.
func (m *Model) Exists(c *Conn, id any) bool {
	st, err := m.primaryAttr().serialize(c, id)
	if err != nil || st == nil {
		return false
	}
	return c.manager(m.primary).has(st)
}

// All returns every instance, in identifier order.
func (m *Model) All(c *Conn) *QuerySet {
	return &QuerySet{conn: c, model: m}
}

func (m *Model) Filter(c *Conn, conds ...Cond) *QuerySet {
	return m.All(c).Filter(conds...)
}

func (m *Model) Search(c *Conn, conds ...Cond) *QuerySet {
	return m.All(c).Search(conds...)
}

func (m *Model) Order(c *Conn, orders ...Ordering) *QuerySet {
	return m.All(c).Order(orders...)
}

// Count returns the number of instances.
func (m *Model) Count(c *Conn) int {
	return c.manager(m.primary).count()
}

// instances iterates over every instance in identifier order.
func (m *Model) instances(c *Conn, reverse bool) iter.Seq[*Instance] {
	return func(yield func(*Instance) bool) {
		for _, mapping := range c.manager(m.primary).entries(reverse) {
			if !yield(c.wrap(m, mapping)) {
				return
			}
		}
	}
}
