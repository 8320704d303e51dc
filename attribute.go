package sheraf

import (
	"fmt"

	"github.com/andreyvit/sheraf/store"
)

// Attribute describes one persisted field of a model. Attributes are created
// by kind constructors (StringAttribute, ListAttribute, ...) and configured by
// chained methods before being passed to ModelBuilder.Attr.
type Attribute struct {
	name  string
	model *Model
	pos   int
	kind  attrKind

	keys         []any
	keysSet      bool
	def          func(inst *Instance) any
	lazy         bool
	lazySet      bool
	readMemo     bool
	writeMemo    bool
	storeDefault bool
	nullOK       bool
	noneOK       bool
	indexes      []*Index

	onCreation []Hook
	onEdition  []Hook
	onDeletion []Hook
	onChange   []Hook
}

func newAttribute(k attrKind) *Attribute {
	return &Attribute{
		kind:      k,
		lazy:      true,
		writeMemo: true,
		nullOK:    true,
	}
}

func (a *Attribute) Name() string {
	return a.name
}

func (a *Attribute) Model() *Model {
	return a.model
}

func (a *Attribute) FullName() string {
	if a.model == nil {
		return a.name
	}
	return a.model.Name() + "." + a.name
}

// Indexes returns the indexes declared on this attribute.
func (a *Attribute) Indexes() []*Index {
	return a.indexes
}

// Default sets the value of the attribute when it was never written. v may be
// a value, a func() any or a func(*Instance) any.
func (a *Attribute) Default(v any) *Attribute {
	switch f := v.(type) {
	case func() any:
		a.def = func(*Instance) any { return f() }
	case func(*Instance) any:
		a.def = f
	default:
		a.def = func(*Instance) any { return store.Clone(v) }
	}
	return a
}

// Key sets the storage key of the attribute inside the instance mapping.
// With several keys, reads use the first one present and writes use the first.
func (a *Attribute) Key(keys ...any) *Attribute {
	if len(keys) == 0 {
		panic(fmt.Errorf("%s: Key needs at least one key", a.name))
	}
	a.keys, a.keysSet = keys, true
	return a
}

// Lazy controls whether the attribute is materialized on first access
// (true, the default) or at instance creation. Indexed attributes are never lazy.
func (a *Attribute) Lazy(v bool) *Attribute {
	a.lazy, a.lazySet = v, true
	return a
}

func (a *Attribute) ReadMemoization(v bool) *Attribute {
	a.readMemo = v
	return a
}

func (a *Attribute) WriteMemoization(v bool) *Attribute {
	a.writeMemo = v
	return a
}

// StoreDefaultValue makes reads of a never-written attribute persist the default.
func (a *Attribute) StoreDefaultValue(v bool) *Attribute {
	a.storeDefault = v
	return a
}

// NullOK controls whether falsy values are indexed; it is the default for
// the indexes of this attribute.
func (a *Attribute) NullOK(v bool) *Attribute {
	a.nullOK = v
	return a
}

// NoneOK controls whether nil is indexed; it is the default for the indexes
// of this attribute.
func (a *Attribute) NoneOK(v bool) *Attribute {
	a.noneOK = v
	return a
}

// Index declares an index over this attribute. The index key defaults to
// the attribute name.
func (a *Attribute) Index(opts ...IndexOption) *Attribute {
	idx := newIndex(opts)
	idx.attrs = []*Attribute{a}
	a.indexes = append(a.indexes, idx)
	return a
}

func (a *Attribute) OnCreation(h Hook) *Attribute {
	a.onCreation = append(a.onCreation, h)
	return a
}

func (a *Attribute) OnEdition(h Hook) *Attribute {
	a.onEdition = append(a.onEdition, h)
	return a
}

func (a *Attribute) OnDeletion(h Hook) *Attribute {
	a.onDeletion = append(a.onDeletion, h)
	return a
}

// OnChange registers a hook that runs on creation, edition and deletion.
func (a *Attribute) OnChange(h Hook) *Attribute {
	a.onChange = append(a.onChange, h)
	return a
}

func (a *Attribute) String() string {
	return a.FullName()
}

func (a *Attribute) clone() *Attribute {
	cp := *a
	cp.model = nil
	cp.indexes = make([]*Index, len(a.indexes))
	for i, idx := range a.indexes {
		idx = idx.clone()
		idx.attrs = []*Attribute{&cp}
		cp.indexes[i] = idx
	}
	cp.keys = append([]any(nil), a.keys...)
	cp.onCreation = append([]Hook(nil), a.onCreation...)
	cp.onEdition = append([]Hook(nil), a.onEdition...)
	cp.onDeletion = append([]Hook(nil), a.onDeletion...)
	cp.onChange = append([]Hook(nil), a.onChange...)
	return &cp
}

func (a *Attribute) virtual() bool {
	_, ok := a.kind.(*reverseKind)
	return ok
}

func (a *Attribute) writeKey() any {
	return a.keys[0]
}

// stored returns the raw stored value of the attribute, if materialized.
func (a *Attribute) stored(inst *Instance) (any, bool) {
	for _, k := range a.keys {
		if v, ok := inst.mapping.Get(k); ok {
			return v, true
		}
	}
	return nil, false
}

func (a *Attribute) materialized(inst *Instance) bool {
	if a.virtual() {
		return true
	}
	_, ok := a.stored(inst)
	return ok
}

func (a *Attribute) create(inst *Instance) any {
	if a.def != nil {
		return a.def(inst)
	}
	return a.kind.zero()
}

func (a *Attribute) serialize(c *Conn, v any) (any, error) {
	st, err := a.kind.serialize(a, c, v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.FullName(), err)
	}
	return st, nil
}

func (a *Attribute) deserialize(c *Conn, st any) (any, error) {
	v, err := a.kind.deserialize(a, c, st)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.FullName(), err)
	}
	return v, nil
}

// storedOrDefault returns the stored value, or the serialized default when
// the attribute was never written. The default is persisted when
// StoreDefaultValue is set.
func (a *Attribute) storedOrDefault(inst *Instance) (any, error) {
	if st, ok := a.stored(inst); ok {
		return st, nil
	}
	st, err := a.serialize(inst.conn, a.create(inst))
	if err != nil {
		return nil, err
	}
	if a.storeDefault {
		inst.mapping.Set(a.writeKey(), st)
	}
	return st, nil
}

func (a *Attribute) read(inst *Instance) (any, error) {
	if a.readMemo || a.writeMemo {
		if v, ok := inst.memoized(a); ok {
			return v, nil
		}
	}
	if rk, ok := a.kind.(*reverseKind); ok {
		return rk.read(a, inst)
	}
	st, err := a.storedOrDefault(inst)
	if err != nil {
		return nil, err
	}
	v, err := a.deserialize(inst.conn, st)
	if err != nil {
		return nil, err
	}
	if a.readMemo {
		inst.memoize(a, v)
	}
	return v, nil
}

// indexKeys computes the default index keys of a stored value.
func (a *Attribute) indexKeys(st any) []any {
	return a.kind.indexKeys(a, st)
}

// queryKeys maps a filter value to index keys.
func (a *Attribute) queryKeys(c *Conn, v any) ([]any, error) {
	keys, err := a.kind.queryKeys(a, c, v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.FullName(), err)
	}
	return keys, nil
}

// Hook is a lifecycle callback. Before runs before the mutation and may abort
// it by returning an error; After runs once the mutation is done.
type Hook struct {
	Before func(ev *Event) error
	After  func(ev *Event) error
}

// Event describes the mutation a Hook is called for. Old is the previous
// value and New the value being written; both are nil for model hooks.
type Event struct {
	Conn      *Conn
	Op        Op
	Instance  *Instance
	Attribute *Attribute
	Old       any
	New       any
}

func runBefore(hooks []Hook, ev *Event) error {
	for _, h := range hooks {
		if h.Before != nil {
			if err := h.Before(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

func runAfter(hooks []Hook, ev *Event) error {
	for _, h := range hooks {
		if h.After != nil {
			if err := h.After(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
