package sheraf

import (
	"iter"
	"slices"

	"github.com/andreyvit/sheraf/store"
)

// indexManager maintains the table of one index within one connection.
//
// Tables live in root[model table][index key]. The model's preferred
// database comes first and receives every write; the current database is
// only read from.
type indexManager struct {
	c     *Conn
	idx   *Index
	conns []*store.Conn
	err   error

	checkedGen uint64
	enabled    bool
}

func (c *Conn) manager(idx *Index) *indexManager {
	if im := c.managers[idx]; im != nil {
		return im
	}
	im := &indexManager{c: c, idx: idx}
	if sc, err := c.modelConn(idx.model); err != nil {
		im.err = modelErrf(idx.model, idx, nil, err, "preferred database %q", idx.model.dbName)
		im.conns = []*store.Conn{c.main}
	} else if sc != c.main {
		im.conns = []*store.Conn{sc, c.main}
	} else {
		im.conns = []*store.Conn{c.main}
	}
	c.managers[idx] = im
	return im
}

func (im *indexManager) modelRoots() []*store.SmallMap {
	var out []*store.SmallMap
	for _, sc := range im.conns {
		if v, ok := sc.Root().Get(im.idx.model.table); ok {
			if t, ok := v.(*store.SmallMap); ok {
				out = append(out, t)
			}
		}
	}
	return out
}

// tables returns the existing tables of the index, preferred database first.
func (im *indexManager) tables() []*store.LargeMap {
	var out []*store.LargeMap
	for _, root := range im.modelRoots() {
		if v, ok := root.Get(im.idx.key); ok {
			if t, ok := v.(*store.LargeMap); ok {
				out = append(out, t)
			}
		}
	}
	return out
}

func (im *indexManager) exists() bool {
	return len(im.tables()) > 0
}

// writeTable returns the table in the preferred database, creating it if needed.
func (im *indexManager) writeTable() (*store.LargeMap, error) {
	if im.err != nil {
		return nil, im.err
	}
	root := im.conns[0].Root()
	mroot := root.SetDefault(im.idx.model.table, func() any { return store.NewSmallMap() }).(*store.SmallMap)
	return mroot.SetDefault(im.idx.key, func() any { return im.idx.newMapping() }).(*store.LargeMap), nil
}

// usable reports whether automatic maintenance may write to the index. An
// auto index whose table is missing while the model already has instances
// would be incomplete, so it is skipped with an IndexationWarning until
// rebuilt. The answer is cached for the transaction.
func (im *indexManager) usable() bool {
	if im.idx.primary {
		return true
	}
	if !im.idx.auto {
		return false
	}
	if im.checkedGen == im.c.gen {
		return im.enabled
	}
	im.checkedGen = im.c.gen
	im.enabled = im.exists() || im.c.manager(im.idx.model.primary).count() == 0
	if !im.enabled {
		im.c.warn(IndexationWarning{Model: im.idx.model, Index: im.idx})
	}
	return im.enabled
}

// queryable reports whether queries may be answered from the index.
func (im *indexManager) queryable() bool {
	return im.idx.auto && im.exists() && (im.checkedGen != im.c.gen || im.enabled)
}

func (im *indexManager) reset() {
	im.checkedGen = 0
}

// checkUnique fails if any of keys already points to another instance.
func (im *indexManager) checkUnique(inst *Instance, keys []any) error {
	if !im.idx.unique {
		return nil
	}
	for _, t := range im.tables() {
		for _, k := range keys {
			if !t.Accepts(k) {
				continue
			}
			if v, ok := t.Get(k); ok && v != inst.mapping {
				return modelErrf(im.idx.model, im.idx, k, ErrUniqueIndex, "key is already used")
			}
		}
	}
	return nil
}

func (im *indexManager) add(inst *Instance, keys []any) error {
	t, err := im.writeTable()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if sc := inst.mapping.Conn(); sc != nil && sc != t.Conn() {
		return modelErrf(im.idx.model, im.idx, nil, ErrInvalidIndex, "instance is stored in another database")
	}
	if err := im.checkUnique(inst, keys); err != nil {
		return err
	}
	for _, k := range keys {
		if !t.Accepts(k) {
			return modelErrf(im.idx.model, im.idx, k, ErrInvalidIndex, "invalid key for an integer index")
		}
	}
	id := entryKey(inst.idStored())
	for _, k := range keys {
		if im.idx.unique {
			t.Set(k, inst.mapping)
		} else {
			inner := t.SetDefault(k, func() any { return store.NewSmallMap() }).(*store.SmallMap)
			inner.Set(id, inst.mapping)
		}
	}
	indexWrites.WithLabelValues("add").Add(float64(len(keys)))
	return nil
}

// delete removes the entries of keys that point to inst, in every table.
func (im *indexManager) delete(inst *Instance, keys []any) {
	if len(keys) == 0 {
		return
	}
	id := entryKey(inst.idStored())
	for _, t := range im.tables() {
		for _, k := range keys {
			if !t.Accepts(k) {
				continue
			}
			v, ok := t.Get(k)
			if !ok {
				continue
			}
			if im.idx.unique {
				if v == inst.mapping {
					t.Delete(k)
				}
				continue
			}
			inner, ok := v.(*store.SmallMap)
			if !ok {
				continue
			}
			if cur, ok := inner.Get(id); ok && cur == inst.mapping {
				inner.Delete(id)
			}
			if inner.Len() == 0 {
				t.Delete(k)
			}
		}
	}
	indexWrites.WithLabelValues("delete").Add(float64(len(keys)))
}

// update moves inst from old keys to new keys. Keys present in both are not
// touched. Uniqueness is checked before anything is modified.
func (im *indexManager) update(inst *Instance, old, new []any) error {
	removed, added := diffKeys(old, new)
	if err := im.checkUnique(inst, added); err != nil {
		return err
	}
	im.delete(inst, removed)
	return im.add(inst, added)
}

func (im *indexManager) has(k any) bool {
	for _, t := range im.tables() {
		if t.Accepts(k) && t.Has(k) {
			return true
		}
	}
	return false
}

// lookup returns the mappings stored under keys, in key order then insertion
// order, without duplicates.
func (im *indexManager) lookup(keys ...any) []*store.SmallMap {
	var out []*store.SmallMap
	seen := make(map[*store.SmallMap]bool)
	tables := im.tables()
	for _, k := range keys {
		for _, t := range tables {
			if !t.Accepts(k) {
				continue
			}
			v, ok := t.Get(k)
			if !ok {
				continue
			}
			for m := range im.mappingsOf(v) {
				if !seen[m] {
					seen[m] = true
					out = append(out, m)
				}
			}
		}
	}
	return out
}

// keys iterates over the keys of every table in key order.
func (im *indexManager) keys(reverse bool) iter.Seq[any] {
	tables := im.tables()
	if len(tables) == 1 {
		return tables[0].Keys(reverse)
	}
	return func(yield func(any) bool) {
		var all []any
		for _, t := range tables {
			for k := range t.Keys(false) {
				if !slices.ContainsFunc(all, func(e any) bool { return store.Equal(e, k) }) {
					all = append(all, k)
				}
			}
		}
		slices.SortFunc(all, store.Compare)
		if reverse {
			slices.Reverse(all)
		}
		for _, k := range all {
			if !yield(k) {
				return
			}
		}
	}
}

// entries iterates over the mappings of the index in key order.
func (im *indexManager) entries(reverse bool) iter.Seq2[any, *store.SmallMap] {
	return func(yield func(any, *store.SmallMap) bool) {
		tables := im.tables()
		if len(tables) == 1 {
			for k, v := range tables[0].Items(reverse) {
				for m := range im.mappingsOf(v) {
					if !yield(k, m) {
						return
					}
				}
			}
			return
		}
		for k := range im.keys(reverse) {
			for _, t := range tables {
				v, ok := t.Get(k)
				if !ok {
					continue
				}
				for m := range im.mappingsOf(v) {
					if !yield(k, m) {
						return
					}
				}
			}
		}
	}
}

// count returns the number of keys.
func (im *indexManager) count() int {
	tables := im.tables()
	if len(tables) == 1 {
		return tables[0].Len()
	}
	var n int
	for range im.keys(false) {
		n++
	}
	return n
}

// countKey returns the number of instances stored under k.
func (im *indexManager) countKey(k any) int {
	var n int
	for _, t := range im.tables() {
		if !t.Accepts(k) {
			continue
		}
		v, ok := t.Get(k)
		if !ok {
			continue
		}
		if inner, ok := v.(*store.SmallMap); ok && !im.idx.unique {
			n += inner.Len()
		} else {
			n++
		}
	}
	return n
}

// size returns the number of instance entries over all keys.
func (im *indexManager) size() int {
	if im.idx.unique {
		return im.count()
	}
	var n int
	for range im.entries(false) {
		n++
	}
	return n
}

// drop removes the index table from every database.
func (im *indexManager) drop() {
	for _, root := range im.modelRoots() {
		root.Delete(im.idx.key)
	}
	im.reset()
}

// mappingsOf returns the instance mappings of a table value.
func (im *indexManager) mappingsOf(v any) iter.Seq[*store.SmallMap] {
	return func(yield func(*store.SmallMap) bool) {
		m, ok := v.(*store.SmallMap)
		if !ok {
			return
		}
		if im.idx.unique {
			yield(m)
			return
		}
		for _, e := range m.All() {
			if em, ok := e.(*store.SmallMap); ok {
				if !yield(em) {
					return
				}
			}
		}
	}
}

// entryKey converts an identifier into a SmallMap key.
func entryKey(id any) any {
	switch id := id.(type) {
	case []byte:
		return string(id)
	case store.Tuple:
		return string(must(store.EncodeKey(id)))
	}
	return id
}

func diffKeys(old, new []any) (removed, added []any) {
	contains := func(keys []any, k any) bool {
		return slices.ContainsFunc(keys, func(e any) bool { return store.Equal(e, k) })
	}
	for _, k := range old {
		if !contains(new, k) {
			removed = append(removed, k)
		}
	}
	for _, k := range new {
		if !contains(old, k) {
			added = append(added, k)
		}
	}
	return removed, added
}
