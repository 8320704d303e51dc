package sheraf

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"slices"

	"github.com/andreyvit/sheraf/store"
)

// Cond is one equality condition of Filter or Search.
type Cond struct {
	Name  string
	Value any
}

func Eq(name string, v any) Cond {
	return Cond{name, v}
}

// Ordering is one sort criterion of Order.
type Ordering struct {
	Name string
	Desc bool
}

func Asc(name string) Ordering {
	return Ordering{Name: name}
}

func Desc(name string) Ordering {
	return Ordering{Name: name, Desc: true}
}

// Begin and End stand for omitted slice bounds.
const (
	Begin = math.MinInt
	End   = math.MaxInt
)

type filter struct {
	name   string
	value  any
	search bool
	idx    *Index
	attr   *Attribute
	keys   []any // index keys, for index filters
	stored any   // stored value, for attribute filters
}

type slicing struct {
	start, stop, step int
}

// QuerySet is a lazily evaluated query over the instances of a model, or
// over an explicit sequence of instances. Builder methods return a modified
// copy; a validation error is kept and reported by every terminal method.
//
// A QuerySet is also a cursor:
//
//	for qs.Next() {
//		use(qs.Instance())
//	}
//	if err := qs.Err(); err != nil {
//		...
//	}
type QuerySet struct {
	conn  *Conn
	model *Model
	src   iter.Seq2[*Instance, error]
	err   error

	filters []*filter
	preds   []func(inst *Instance) bool
	orders  []Ordering
	slices  []slicing

	next    func() (*Instance, error, bool)
	stop    func()
	cur     *Instance
	iterErr error
}

// NewQuerySet returns a query set over the given instances of m, in order.
func NewQuerySet(c *Conn, m *Model, instances []*Instance) *QuerySet {
	return &QuerySet{conn: c, model: m, src: seqOf(instances)}
}

// QuerySetOf returns a query set over instances. Orders are only accepted
// when every instance belongs to the same model.
func QuerySetOf(instances ...*Instance) *QuerySet {
	qs := &QuerySet{src: seqOf(instances)}
	for i, inst := range instances {
		if i == 0 {
			qs.conn, qs.model = inst.conn, inst.model
		} else if inst.model != qs.model {
			qs.model = nil
		}
	}
	return qs
}

func seqOf(instances []*Instance) iter.Seq2[*Instance, error] {
	return func(yield func(*Instance, error) bool) {
		for _, inst := range instances {
			if !yield(inst, nil) {
				return
			}
		}
	}
}

func (qs *QuerySet) Model() *Model {
	return qs.model
}

func (qs *QuerySet) clone() *QuerySet {
	return &QuerySet{
		conn:    qs.conn,
		model:   qs.model,
		src:     qs.src,
		err:     qs.err,
		filters: slices.Clone(qs.filters),
		preds:   slices.Clone(qs.preds),
		orders:  slices.Clone(qs.orders),
		slices:  slices.Clone(qs.slices),
	}
}

func (qs *QuerySet) fail(err error) *QuerySet {
	if qs.err == nil {
		qs.err = err
	}
	return qs
}

// Filter keeps the instances matching every condition. A condition named
// after an index matches instances that have the value among their keys of
// that index; a condition named after an attribute compares stored values.
func (qs *QuerySet) Filter(conds ...Cond) *QuerySet {
	return qs.clone().addFilters(conds, false)
}

// Search is like Filter, but maps values to keys with the index search
// function. Every condition must name an index.
func (qs *QuerySet) Search(conds ...Cond) *QuerySet {
	return qs.clone().addFilters(conds, true)
}

func (qs *QuerySet) addFilters(conds []Cond, search bool) *QuerySet {
	if qs.err != nil {
		return qs
	}
	m := qs.model
	if m == nil {
		return qs.fail(fmt.Errorf("%w: query set has no model", ErrInvalidFilter))
	}
	for _, cond := range conds {
		f := &filter{name: cond.Name, value: cond.Value, search: search}
		var err error
		if idx := m.indexByKey[cond.Name]; idx != nil {
			f.idx = idx
			if search {
				f.keys, err = idx.searchKeys(qs.conn, cond.Value)
			} else {
				f.keys, err = idx.filterKeys(qs.conn, cond.Value)
			}
		} else if a := m.attrsByName[cond.Name]; a != nil && !search && !a.virtual() {
			f.attr = a
			f.stored, err = a.serialize(qs.conn, cond.Value)
		} else {
			err = modelErrf(m, nil, cond.Name, ErrInvalidFilter, "no such index")
		}
		if err != nil {
			if !errors.Is(err, ErrSheraf) {
				err = fmt.Errorf("%w: %w", ErrInvalidFilter, err)
			}
			return qs.fail(err)
		}
		if qs.filterNamed(f.name, !search) != nil {
			return qs.fail(modelErrf(m, nil, f.name, ErrInvalidFilter, "both filtered and searched"))
		}
		if dup := qs.filterNamed(f.name, search); dup != nil {
			if !store.Equal(dup.value, f.value) {
				return qs.fail(modelErrf(m, nil, f.name, ErrInvalidFilter, "filtered twice with different values"))
			}
			continue
		}
		qs.filters = append(qs.filters, f)
	}
	return qs
}

func (qs *QuerySet) filterNamed(name string, search bool) *filter {
	for _, f := range qs.filters {
		if f.name == name && f.search == search {
			return f
		}
	}
	return nil
}

// Where keeps the instances for which pred returns true.
func (qs *QuerySet) Where(pred func(inst *Instance) bool) *QuerySet {
	qs = qs.clone()
	qs.preds = append(qs.preds, pred)
	return qs
}

// Order sorts by the given attributes. Each attribute may appear once.
func (qs *QuerySet) Order(orders ...Ordering) *QuerySet {
	qs = qs.clone()
	if qs.err != nil {
		return qs
	}
	for _, o := range orders {
		if qs.model == nil {
			return qs.fail(fmt.Errorf("%w: query set has no model", ErrInvalidOrder))
		}
		a := qs.model.attrsByName[o.Name]
		if a == nil || a.virtual() {
			return qs.fail(modelErrf(qs.model, nil, o.Name, ErrInvalidOrder, "no such attribute"))
		}
		if slices.ContainsFunc(qs.orders, func(e Ordering) bool { return e.Name == o.Name }) {
			return qs.fail(modelErrf(qs.model, nil, o.Name, ErrInvalidOrder, "ordered twice"))
		}
		qs.orders = append(qs.orders, o)
	}
	return qs
}

// Slice keeps the elements selected by [start:stop:step], where negative
// bounds count from the end and a negative step walks backwards.
// Begin and End stand for omitted bounds. Negative bounds and steps are only
// supported on query sets over a model.
func (qs *QuerySet) Slice(start, stop, step int) *QuerySet {
	qs = qs.clone()
	if qs.err != nil {
		return qs
	}
	if step == 0 {
		return qs.fail(fmt.Errorf("%w: slice step cannot be zero", ErrSheraf))
	}
	if qs.src != nil && (step < 0 || (start < 0 && start != Begin) || stop < 0) {
		return qs.fail(fmt.Errorf("%w: negative slices need a query set over a model", ErrSheraf))
	}
	qs.slices = append(qs.slices, slicing{start, stop, step})
	return qs
}

// At returns the i-th instance; negative positions count from the end.
func (qs *QuerySet) At(i int) (*Instance, error) {
	stop := i + 1
	if i == -1 {
		stop = End
	}
	list, err := qs.Slice(i, stop, 1).List()
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: no instance at position %d", ErrObjectNotFound, i)
	}
	return list[0], nil
}

// Copy returns a fresh query set with the same plan and a reset cursor.
// A query set over a one-shot sequence is materialized first.
func (qs *QuerySet) Copy() (*QuerySet, error) {
	cp := qs.clone()
	if cp.src != nil && cp.err == nil {
		var list []*Instance
		for inst, err := range cp.src {
			if err != nil {
				return nil, err
			}
			list = append(list, inst)
		}
		cp.src = seqOf(list)
		qs.src = cp.src
	}
	return cp, nil
}

// All iterates over the instances of the query set. Iteration stops after
// the first error.
func (qs *QuerySet) All() iter.Seq2[*Instance, error] {
	return qs.run()
}

func (qs *QuerySet) List() ([]*Instance, error) {
	var out []*Instance
	for inst, err := range qs.run() {
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// First returns the first instance, or nil if the query set is empty.
func (qs *QuerySet) First() (*Instance, error) {
	for inst, err := range qs.run() {
		return inst, err
	}
	return nil, nil
}

// Get returns the only instance of the query set. It fails with
// ErrQuerySetUnpack if there are none or several.
func (qs *QuerySet) Get() (*Instance, error) {
	var found *Instance
	for inst, err := range qs.run() {
		if err != nil {
			return nil, err
		}
		if found != nil {
			return nil, fmt.Errorf("%w: several instances", ErrQuerySetUnpack)
		}
		found = inst
	}
	if found == nil {
		return nil, fmt.Errorf("%w: no instance", ErrQuerySetUnpack)
	}
	return found, nil
}

func (qs *QuerySet) Exists() (bool, error) {
	inst, err := qs.First()
	return inst != nil, err
}

func (qs *QuerySet) Count() (int, error) {
	if n, ok := qs.fastCount(); ok {
		return n, nil
	}
	var n int
	for _, err := range qs.run() {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// Next advances the cursor. It returns false at the end of the query set
// or on error, see Err.
func (qs *QuerySet) Next() bool {
	if qs.next == nil {
		if qs.iterErr != nil {
			return false
		}
		qs.next, qs.stop = iter.Pull2(qs.run())
	}
	inst, err, ok := qs.next()
	if !ok || err != nil {
		qs.cur, qs.iterErr = nil, err
		qs.Close()
		if qs.iterErr == nil {
			qs.iterErr = errDone
		}
		return false
	}
	qs.cur = inst
	return true
}

// Instance returns the instance the cursor is on.
func (qs *QuerySet) Instance() *Instance {
	return qs.cur
}

func (qs *QuerySet) Err() error {
	if qs.err != nil {
		return qs.err
	}
	if qs.iterErr == errDone {
		return nil
	}
	return qs.iterErr
}

// Close releases the cursor. It is only needed when iteration with Next
// stops early.
func (qs *QuerySet) Close() {
	if qs.stop != nil {
		qs.stop()
		qs.next, qs.stop = nil, nil
	}
}

var errDone = errors.New("done")

// And returns the instances present in both query sets, in the order of qs.
func (qs *QuerySet) And(other *QuerySet) *QuerySet {
	return qs.combine(other, func(left, right []*Instance) []*Instance {
		in := mappingSet(right)
		return slices.DeleteFunc(left, func(inst *Instance) bool { return !in[inst.mapping] })
	})
}

// Or returns the instances of qs followed by those of other not in qs.
func (qs *QuerySet) Or(other *QuerySet) *QuerySet {
	return qs.combine(other, func(left, right []*Instance) []*Instance {
		in := mappingSet(left)
		for _, inst := range right {
			if !in[inst.mapping] {
				in[inst.mapping] = true
				left = append(left, inst)
			}
		}
		return left
	})
}

// Xor returns the instances that are in exactly one of the query sets.
func (qs *QuerySet) Xor(other *QuerySet) *QuerySet {
	return qs.combine(other, func(left, right []*Instance) []*Instance {
		inLeft, inRight := mappingSet(left), mappingSet(right)
		out := slices.DeleteFunc(slices.Clone(left), func(inst *Instance) bool { return inRight[inst.mapping] })
		for _, inst := range right {
			if !inLeft[inst.mapping] {
				out = append(out, inst)
			}
		}
		return out
	})
}

// Concat returns the instances of qs followed by those of other, keeping
// duplicates.
func (qs *QuerySet) Concat(other *QuerySet) *QuerySet {
	return qs.combine(other, func(left, right []*Instance) []*Instance {
		return append(left, right...)
	})
}

func (qs *QuerySet) combine(other *QuerySet, f func(left, right []*Instance) []*Instance) *QuerySet {
	out := &QuerySet{conn: qs.conn, model: qs.model}
	if other.model != qs.model {
		out.model = nil
	}
	out.src = func(yield func(*Instance, error) bool) {
		left, err := qs.List()
		if err != nil {
			yield(nil, err)
			return
		}
		right, err := other.List()
		if err != nil {
			yield(nil, err)
			return
		}
		for _, inst := range f(left, right) {
			if !yield(inst, nil) {
				return
			}
		}
	}
	return out
}

func mappingSet(list []*Instance) map[*store.SmallMap]bool {
	set := make(map[*store.SmallMap]bool, len(list))
	for _, inst := range list {
		set[inst.mapping] = true
	}
	return set
}

// Delete deletes every instance of the query set.
func (qs *QuerySet) Delete() error {
	list, err := qs.List()
	if err != nil {
		return err
	}
	for _, inst := range list {
		if err := inst.Delete(); err != nil {
			return err
		}
	}
	return nil
}
