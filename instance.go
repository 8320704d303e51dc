package sheraf

import (
	"fmt"
	"time"

	"github.com/andreyvit/sheraf/store"
)

// creationKey holds the creation time of an instance, in seconds since the epoch.
const creationKey = "_creation"

// Values maps attribute names to values.
type Values map[string]any

// EditOptions control how Instance.Edit merges new values into existing ones.
type EditOptions struct {
	// Addition adds missing list elements and dict entries, and sets
	// attributes that have no value yet.
	Addition bool
	// Edition overwrites existing values.
	Edition bool
	// Deletion removes list elements and dict entries that are absent from
	// the new value.
	Deletion bool
	// Replacement writes new values as is.
	Replacement bool
}

// DefaultEditOptions are used by Instance.Edit when no options are given.
var DefaultEditOptions = EditOptions{Addition: true, Edition: true}

// Instance is a model instance: a view of an instance mapping through the
// model's attributes, bound to one connection. Several Instance values may
// wrap the same mapping; Equal compares mappings.
type Instance struct {
	model   *Model
	conn    *Conn
	mapping *store.SmallMap
}

func (inst *Instance) Model() *Model {
	return inst.model
}

func (inst *Instance) Conn() *Conn {
	return inst.conn
}

// Mapping returns the stored mapping of the instance.
func (inst *Instance) Mapping() *store.SmallMap {
	return inst.mapping
}

func (inst *Instance) idStored() any {
	st, _ := inst.model.primaryAttr().stored(inst)
	return st
}

// ID returns the identifier of the instance.
func (inst *Instance) ID() any {
	v, err := inst.model.primaryAttr().read(inst)
	if err != nil {
		return inst.idStored()
	}
	return v
}

// Creation returns the time the instance was created, or the zero time for
// mappings created by other means.
func (inst *Instance) Creation() time.Time {
	v, ok := inst.mapping.Get(creationKey)
	if !ok {
		return time.Time{}
	}
	secs, ok := v.(float64)
	if !ok {
		return time.Time{}
	}
	return time.UnixMicro(int64(secs * 1e6)).UTC()
}

func (inst *Instance) Equal(other *Instance) bool {
	return other != nil && inst.mapping == other.mapping
}

func (inst *Instance) String() string {
	return fmt.Sprintf("<%s %v>", inst.model.Name(), inst.idStored())
}

func (inst *Instance) memoized(a *Attribute) (any, bool) {
	return inst.conn.memoized(inst.mapping, a)
}

func (inst *Instance) memoize(a *Attribute, v any) {
	inst.conn.memoize(inst.mapping, a, v)
}

// Get returns the value of the named attribute. It panics if the attribute
// does not exist or cannot be read; use TryGet to handle errors.
func (inst *Instance) Get(name string) any {
	return must(inst.TryGet(name))
}

func (inst *Instance) TryGet(name string) (any, error) {
	a, err := inst.model.attr(name)
	if err != nil {
		return nil, err
	}
	return a.read(inst)
}

// Set writes the named attribute, maintaining the indexes that depend on it.
func (inst *Instance) Set(name string, v any) error {
	a, err := inst.model.attr(name)
	if err != nil {
		return err
	}
	return inst.write(a, v, OpUpdate)
}

// Edit merges vals into the instance attributes according to opts
// (DefaultEditOptions when omitted). Attributes are written in declaration
// order; values that do not change are not written.
func (inst *Instance) Edit(vals Values, opts ...EditOptions) error {
	opt := DefaultEditOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	for name := range vals {
		if _, err := inst.model.attr(name); err != nil {
			return err
		}
	}
	for _, a := range inst.model.attrs {
		v, ok := vals[a.name]
		if !ok {
			continue
		}
		var old any
		if a.materialized(inst) {
			var err error
			old, err = a.read(inst)
			if err != nil {
				return err
			}
		}
		next, err := a.kind.update(a, inst.conn, old, v, opt)
		if err != nil {
			return fmt.Errorf("%s: %w", a.FullName(), err)
		}
		if !a.virtual() && a.materialized(inst) {
			st, err := a.serialize(inst.conn, next)
			if err != nil {
				return err
			}
			if cur, _ := a.stored(inst); store.Equal(sortValue(cur), sortValue(st)) {
				continue
			}
		}
		if err := inst.write(a, next, OpUpdate); err != nil {
			return err
		}
	}
	return nil
}

func (inst *Instance) hooks(a *Attribute, op Op) []Hook {
	var hooks []Hook
	switch op {
	case OpCreate:
		hooks = a.onCreation
	case OpUpdate:
		hooks = a.onEdition
	case OpDelete:
		hooks = a.onDeletion
	}
	if len(a.onChange) > 0 {
		hooks = append(append([]Hook(nil), hooks...), a.onChange...)
	}
	return hooks
}

// write stores v into a and updates every usable automatic index fed by a.
// A uniqueness violation restores the previous value and fails with
// ErrUniqueIndex.
func (inst *Instance) write(a *Attribute, v any, op Op) error {
	c, m := inst.conn, inst.model
	if a == m.primaryAttr() && a.materialized(inst) {
		st, err := a.serialize(c, v)
		if err != nil {
			return err
		}
		if store.Equal(st, inst.idStored()) {
			return nil
		}
		return modelErrf(m, m.primary, inst.idStored(), ErrPrimaryKey, "identifier cannot be changed")
	}

	var ev *Event
	if hooks := inst.hooks(a, op); len(hooks) > 0 {
		ev = &Event{Conn: c, Op: op, Instance: inst, Attribute: a, New: v}
		if a.materialized(inst) {
			ev.Old, _ = a.read(inst)
		}
		if err := runBefore(hooks, ev); err != nil {
			return err
		}
	}

	if rk, ok := a.kind.(*reverseKind); ok {
		if err := rk.write(a, inst, v); err != nil {
			return err
		}
		c.forget(inst.mapping, a)
		return inst.finishWrite(a, op, ev)
	}

	var managers []*indexManager
	var oldKeys [][]any
	for _, idx := range m.attrIndexes[a] {
		if idx.primary {
			continue
		}
		im := c.manager(idx)
		if !im.usable() {
			continue
		}
		keys, err := idx.keysOf(inst)
		if err != nil {
			return err
		}
		managers = append(managers, im)
		oldKeys = append(oldKeys, keys)
	}

	var st any
	var undo func()
	if sw, ok := a.kind.(storedWriter); ok {
		if cur, had := a.stored(inst); had {
			next, u, written, err := sw.writeStored(a, cur, v)
			if err != nil {
				return fmt.Errorf("%s: %w", a.FullName(), err)
			}
			if written {
				st, undo = next, u
			}
		}
	}
	if undo == nil {
		next, err := a.serialize(c, v)
		if err != nil {
			return err
		}
		prev, had := inst.mapping.Get(a.writeKey())
		inst.mapping.Set(a.writeKey(), next)
		st = next
		undo = func() {
			if had {
				inst.mapping.Set(a.writeKey(), prev)
			} else {
				inst.mapping.Delete(a.writeKey())
			}
		}
	}
	c.forget(inst.mapping, a)

	newKeys := make([][]any, len(managers))
	for i, im := range managers {
		keys, err := im.idx.keysOf(inst)
		if err == nil {
			_, added := diffKeys(oldKeys[i], keys)
			err = im.checkUnique(inst, added)
		}
		if err != nil {
			undo()
			c.forget(inst.mapping, a)
			return err
		}
		newKeys[i] = keys
	}
	for i, im := range managers {
		if err := im.update(inst, oldKeys[i], newKeys[i]); err != nil {
			return err
		}
	}

	if a.writeMemo {
		if mv, err := a.deserialize(c, st); err == nil {
			inst.memoize(a, mv)
		}
	}
	return inst.finishWrite(a, op, ev)
}

func (inst *Instance) finishWrite(a *Attribute, op Op, ev *Event) error {
	if ev != nil {
		if err := runAfter(inst.hooks(a, op), ev); err != nil {
			return err
		}
	}
	if op == OpUpdate {
		inst.conn.notify(OpUpdate, inst, a)
	}
	return nil
}

// Create stores a new instance of m with the given attribute values. Missing
// attributes that are not lazy get their default value.
func (m *Model) Create(c *Conn, vals Values) (inst *Instance, err error) {
	if m.abstract || m.inline {
		return nil, modelErrf(m, nil, nil, ErrSheraf, "model cannot be instantiated")
	}
	for name := range vals {
		if _, err := m.attr(name); err != nil {
			return nil, err
		}
	}

	mapping := store.NewSmallMap()
	mapping.Set(creationKey, float64(time.Now().UnixMicro())/1e6)
	inst = c.wrap(m, mapping)

	for _, idx := range m.indexes {
		if idx.primary || !idx.auto {
			continue
		}
		if im := c.manager(idx); im.usable() {
			if _, err := im.writeTable(); err != nil {
				return nil, err
			}
		}
	}

	pa := m.primaryAttr()
	idv, ok := vals[pa.name]
	if !ok {
		idv = pa.create(inst)
	}
	id, err := pa.serialize(c, idv)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, modelErrf(m, m.primary, nil, ErrPrimaryKey, "identifier cannot be nil")
	}
	pm := c.manager(m.primary)
	if err := pm.checkUnique(inst, []any{id}); err != nil {
		return nil, err
	}
	mapping.Set(pa.writeKey(), id)
	if err := pm.add(inst, []any{id}); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = inst.remove()
		}
	}()

	ev := &Event{Conn: c, Op: OpCreate, Instance: inst}
	if err := runBefore(m.onCreation, ev); err != nil {
		return nil, err
	}
	for _, a := range m.attrs {
		if a == pa {
			continue
		}
		if v, ok := vals[a.name]; ok {
			if err := inst.write(a, v, OpCreate); err != nil {
				return nil, err
			}
		}
	}
	for _, a := range m.attrs {
		if a == pa || a.lazy || a.virtual() || a.materialized(inst) {
			continue
		}
		if err := inst.write(a, a.create(inst), OpCreate); err != nil {
			return nil, err
		}
	}
	if err := runAfter(m.onCreation, ev); err != nil {
		return nil, err
	}
	c.notify(OpCreate, inst, nil)
	return inst, nil
}

// Delete removes the instance from every index table of its model. Reverse
// attributes are cleared first, so that referring instances stop referring
// to it.
func (inst *Instance) Delete() error {
	m := inst.model
	ev := &Event{Conn: inst.conn, Op: OpDelete, Instance: inst}
	if err := runBefore(m.onDeletion, ev); err != nil {
		return err
	}
	for _, a := range m.attrs {
		if a.virtual() {
			if err := inst.write(a, nil, OpDelete); err != nil {
				return err
			}
		}
	}
	var events []*Event
	for _, a := range m.attrs {
		hooks := inst.hooks(a, OpDelete)
		if a.virtual() || len(hooks) == 0 {
			continue
		}
		aev := &Event{Conn: inst.conn, Op: OpDelete, Instance: inst, Attribute: a}
		if a.materialized(inst) {
			aev.Old, _ = a.read(inst)
		}
		if err := runBefore(hooks, aev); err != nil {
			return err
		}
		events = append(events, aev)
	}
	if err := inst.remove(); err != nil {
		return err
	}
	for _, aev := range events {
		if err := runAfter(inst.hooks(aev.Attribute, OpDelete), aev); err != nil {
			return err
		}
	}
	if err := runAfter(m.onDeletion, ev); err != nil {
		return err
	}
	inst.conn.notify(OpDelete, inst, nil)
	return nil
}

// remove deletes the index entries of the instance, primary last.
func (inst *Instance) remove() error {
	c, m := inst.conn, inst.model
	for _, idx := range m.indexes {
		if idx.primary {
			continue
		}
		im := c.manager(idx)
		if !im.exists() {
			continue
		}
		keys, err := idx.keysOf(inst)
		if err != nil {
			return err
		}
		im.delete(inst, keys)
	}
	c.manager(m.primary).delete(inst, []any{inst.idStored()})
	delete(c.memo, inst.mapping)
	return nil
}

// sortValue returns the value a stored value compares and sorts by.
func sortValue(st any) any {
	if cnt, ok := st.(*store.Counter); ok {
		return cnt.Value()
	}
	return st
}
