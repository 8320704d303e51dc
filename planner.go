package sheraf

import (
	"iter"
	"slices"

	"github.com/andreyvit/sheraf/store"
)

// run evaluates the query set:
//
//  1. instances come from the usable index filters (the first one drives,
//     the others intersect), or from an index matching a single order, or
//     from the primary index;
//  2. duplicates are dropped;
//  3. the remaining filters and predicates are checked on each instance;
//  4. the result is sorted unless the source already follows the orders;
//  5. slices are applied.
func (qs *QuerySet) run() iter.Seq2[*Instance, error] {
	return func(yield func(*Instance, error) bool) {
		if qs.err != nil {
			yield(nil, qs.err)
			return
		}
		seq, used, ordered := qs.source()
		seq = dedupe(seq)
		seq = qs.scan(seq, used)
		if !ordered {
			seq = qs.sorted(seq)
		}
		for _, sl := range qs.slices {
			seq = sliced(seq, sl)
		}
		for inst, err := range seq {
			if !yield(inst, err) || err != nil {
				return
			}
		}
	}
}

// source picks where instances come from. used lists the filters the source
// already satisfies; ordered tells whether it follows qs.orders.
func (qs *QuerySet) source() (seq iter.Seq2[*Instance, error], used map[*filter]bool, ordered bool) {
	if qs.src != nil {
		return qs.src, nil, len(qs.orders) == 0
	}
	c, m := qs.conn, qs.model

	var driving []*filter
	for _, f := range qs.filters {
		if f.idx != nil && c.manager(f.idx).queryable() {
			driving = append(driving, f)
		}
	}
	if len(driving) > 0 {
		used = make(map[*filter]bool, len(driving))
		for _, f := range driving {
			used[f] = true
		}
		return func(yield func(*Instance, error) bool) {
			mappings := c.manager(driving[0].idx).lookup(driving[0].keys...)
			for _, f := range driving[1:] {
				in := make(map[*store.SmallMap]bool)
				for _, mapping := range c.manager(f.idx).lookup(f.keys...) {
					in[mapping] = true
				}
				mappings = slices.DeleteFunc(mappings, func(mapping *store.SmallMap) bool { return !in[mapping] })
			}
			for _, mapping := range mappings {
				if !yield(c.wrap(m, mapping), nil) {
					return
				}
			}
		}, used, len(qs.orders) == 0
	}

	pa := m.primaryAttr()
	if len(qs.orders) == 1 {
		o := qs.orders[0]
		a := m.attrsByName[o.Name]
		if a == pa {
			return instancesOf(m.instances(c, o.Desc)), nil, true
		}
		if im := qs.orderIndex(a); im != nil {
			return func(yield func(*Instance, error) bool) {
				for _, mapping := range im.entries(o.Desc) {
					if !yield(c.wrap(m, mapping), nil) {
						return
					}
				}
			}, nil, true
		}
	}
	return instancesOf(m.instances(c, false)), nil, len(qs.orders) == 0
}

// orderIndex returns the manager of an index that can be traversed to list
// every instance in the order of a.
func (qs *QuerySet) orderIndex(a *Attribute) *indexManager {
	c := qs.conn
	for _, idx := range qs.model.attrIndexes[a] {
		if !idx.auto || idx.primary || len(idx.attrs) != 1 || idx.collection() {
			continue
		}
		im := c.manager(idx)
		if !im.queryable() {
			continue
		}
		// Instances excluded by the null policy are missing from the index.
		if im.size() != c.manager(qs.model.primary).count() {
			continue
		}
		return im
	}
	return nil
}

func instancesOf(seq iter.Seq[*Instance]) iter.Seq2[*Instance, error] {
	return func(yield func(*Instance, error) bool) {
		for inst := range seq {
			if !yield(inst, nil) {
				return
			}
		}
	}
}

func dedupe(seq iter.Seq2[*Instance, error]) iter.Seq2[*Instance, error] {
	return func(yield func(*Instance, error) bool) {
		seen := make(map[*store.SmallMap]bool)
		for inst, err := range seq {
			if err == nil {
				if seen[inst.mapping] {
					continue
				}
				seen[inst.mapping] = true
			}
			if !yield(inst, err) {
				return
			}
		}
	}
}

func (qs *QuerySet) scan(seq iter.Seq2[*Instance, error], used map[*filter]bool) iter.Seq2[*Instance, error] {
	if len(qs.preds) == 0 && len(used) == len(qs.filters) {
		return seq
	}
	return func(yield func(*Instance, error) bool) {
		for inst, err := range seq {
			if err != nil {
				yield(nil, err)
				return
			}
			ok, err := qs.matches(inst, used)
			if err != nil {
				yield(nil, err)
				return
			}
			if ok && !yield(inst, nil) {
				return
			}
		}
	}
}

func (qs *QuerySet) matches(inst *Instance, used map[*filter]bool) (bool, error) {
	for _, f := range qs.filters {
		if used[f] {
			continue
		}
		if inst.model != qs.model {
			return false, nil
		}
		if f.idx != nil {
			ok, err := f.idx.matches(inst, f.keys)
			if !ok || err != nil {
				return false, err
			}
			continue
		}
		st, err := f.attr.storedOrDefault(inst)
		if err != nil {
			return false, err
		}
		if !store.Equal(sortValue(st), sortValue(f.stored)) {
			return false, nil
		}
	}
	for _, pred := range qs.preds {
		if !pred(inst) {
			return false, nil
		}
	}
	return true, nil
}

// sorted materializes seq and stable-sorts it by the stored values of the
// order attributes.
func (qs *QuerySet) sorted(seq iter.Seq2[*Instance, error]) iter.Seq2[*Instance, error] {
	return func(yield func(*Instance, error) bool) {
		type row struct {
			inst *Instance
			keys []any
		}
		var rows []row
		for inst, err := range seq {
			if err != nil {
				yield(nil, err)
				return
			}
			keys := make([]any, len(qs.orders))
			for i, o := range qs.orders {
				st, err := qs.model.attrsByName[o.Name].storedOrDefault(inst)
				if err != nil {
					yield(nil, err)
					return
				}
				keys[i] = sortValue(st)
			}
			rows = append(rows, row{inst, keys})
		}
		slices.SortStableFunc(rows, func(a, b row) int {
			for i, o := range qs.orders {
				if r := store.Compare(a.keys[i], b.keys[i]); r != 0 {
					if o.Desc {
						return -r
					}
					return r
				}
			}
			return 0
		})
		for _, r := range rows {
			if !yield(r.inst, nil) {
				return
			}
		}
	}
}

// sliced applies a [start:stop:step] slice. Non-negative bounds with a positive
// step stream; anything else materializes.
func sliced(seq iter.Seq2[*Instance, error], sl slicing) iter.Seq2[*Instance, error] {
	if sl.step > 0 && (sl.start >= 0 || sl.start == Begin) && sl.stop >= 0 {
		start := max(sl.start, 0)
		return func(yield func(*Instance, error) bool) {
			i := 0
			for inst, err := range seq {
				if err != nil {
					yield(nil, err)
					return
				}
				if i >= sl.stop {
					return
				}
				if i >= start && (i-start)%sl.step == 0 {
					if !yield(inst, nil) {
						return
					}
				}
				i++
			}
		}
	}
	return func(yield func(*Instance, error) bool) {
		var list []*Instance
		for inst, err := range seq {
			if err != nil {
				yield(nil, err)
				return
			}
			list = append(list, inst)
		}
		for _, i := range sliceIndices(len(list), sl) {
			if !yield(list[i], nil) {
				return
			}
		}
	}
}

// sliceIndices returns the positions a slice selects in a sequence of n elements.
func sliceIndices(n int, sl slicing) []int {
	start, stop, step := sl.start, sl.stop, sl.step
	adjust := func(i, lower, upper int) int {
		if i < 0 {
			i += n
			if i < 0 {
				return lower
			}
			return i
		}
		return min(i, upper)
	}
	var out []int
	if step > 0 {
		if start == Begin {
			start = 0
		} else {
			start = adjust(start, 0, n)
		}
		if stop == End {
			stop = n
		} else {
			stop = adjust(stop, 0, n)
		}
		for i := start; i < stop; i += step {
			out = append(out, i)
		}
	} else {
		if start == Begin {
			start = n - 1
		} else {
			start = adjust(start, -1, n-1)
		}
		if stop == End || stop == Begin {
			stop = -1
		} else {
			stop = adjust(stop, -1, n-1)
		}
		for i := start; i > stop; i += step {
			out = append(out, i)
		}
	}
	return out
}

// fastCount answers Count from index sizes when possible.
func (qs *QuerySet) fastCount() (int, bool) {
	if qs.err != nil || qs.src != nil || len(qs.preds) > 0 || len(qs.slices) > 0 {
		return 0, false
	}
	c := qs.conn
	switch len(qs.filters) {
	case 0:
		return c.manager(qs.model.primary).count(), true
	case 1:
		f := qs.filters[0]
		if f.idx == nil || len(f.keys) != 1 {
			return 0, false
		}
		im := c.manager(f.idx)
		if !im.queryable() {
			return 0, false
		}
		return im.countKey(f.keys[0]), true
	}
	return 0, false
}
