package sheraf

import (
	"fmt"
	"slices"

	"github.com/andreyvit/sheraf/store"
)

// ModelAttribute references instances of the models registered under the
// given table names. With one target the identifier is stored; with several,
// a (table, identifier) tuple. A reference to a deleted instance reads as nil.
func ModelAttribute(tables ...string) *Attribute {
	if len(tables) == 0 {
		panic(fmt.Errorf("ModelAttribute needs at least one table"))
	}
	return newAttribute(&modelKind{tables: tables})
}

type modelKind struct {
	scalarKind
	tables []string
}

func (k *modelKind) heterogeneous() bool {
	return len(k.tables) > 1
}

func (k *modelKind) target(table string) (*Model, error) {
	if !slices.Contains(k.tables, table) {
		return nil, fmt.Errorf("%w: %s is not one of %v", store.ErrInvalidValue, table, k.tables)
	}
	m := LookupModel(table)
	if m == nil {
		return nil, fmt.Errorf("%w: no model for table %q", store.ErrInvalidValue, table)
	}
	return m, nil
}

func (k *modelKind) serialize(a *Attribute, c *Conn, v any) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case *Instance:
		if _, err := k.target(v.model.table); err != nil {
			return nil, err
		}
		if k.heterogeneous() {
			return store.Tuple{v.model.table, v.idStored()}, nil
		}
		return v.idStored(), nil
	case store.Tuple:
		if !k.heterogeneous() || len(v) != 2 {
			break
		}
		table, _ := v[0].(string)
		m, err := k.target(table)
		if err != nil {
			return nil, err
		}
		id, err := m.primaryAttr().serialize(c, v[1])
		if err != nil {
			return nil, err
		}
		return store.Tuple{table, id}, nil
	default:
		if k.heterogeneous() {
			break
		}
		m, err := k.target(k.tables[0])
		if err != nil {
			return nil, err
		}
		return m.primaryAttr().serialize(c, v)
	}
	return nil, fmt.Errorf("%w: %T is not a reference to %v", store.ErrInvalidValue, v, k.tables)
}

func (k *modelKind) deserialize(a *Attribute, c *Conn, st any) (any, error) {
	if st == nil || c == nil {
		return st, nil
	}
	if inst, ok := st.(*Instance); ok {
		return inst, nil
	}
	table, id := k.tables[0], st
	if k.heterogeneous() {
		t, ok := st.(store.Tuple)
		if !ok || len(t) != 2 {
			return nil, fmt.Errorf("%w: invalid reference %v", store.ErrInvalidValue, st)
		}
		table, _ = t[0].(string)
		id = t[1]
	}
	m, err := k.target(table)
	if err != nil {
		return nil, err
	}
	inst, err := m.lookup(c, id)
	if err != nil || inst == nil {
		return nil, err
	}
	return inst, nil
}

// ReverseModelAttribute mirrors the attr attribute of the model registered
// under table, which must reference this model and be indexed. Reading returns
// the referring instances (a single *Instance when the index is unique,
// []*Instance otherwise); writing rewrites the referring side.
func ReverseModelAttribute(table, attr string) *Attribute {
	return newAttribute(&reverseKind{table: table, attr: attr})
}

type reverseKind struct {
	scalarKind
	table string
	attr  string
}

func (k *reverseKind) serialize(a *Attribute, c *Conn, v any) (any, error) {
	return nil, fmt.Errorf("%w: %s is computed from %s.%s", store.ErrInvalidValue, a.name, k.table, k.attr)
}

func (k *reverseKind) deserialize(a *Attribute, c *Conn, st any) (any, error) {
	return st, nil
}

func (k *reverseKind) indexKeys(a *Attribute, st any) []any {
	return nil
}

func (k *reverseKind) forward() (*Model, *Attribute, *Index, error) {
	m := LookupModel(k.table)
	if m == nil {
		return nil, nil, nil, fmt.Errorf("%w: no model for table %q", ErrInvalidIndex, k.table)
	}
	fa := m.attrsByName[k.attr]
	if fa == nil {
		return nil, nil, nil, modelErrf(m, nil, nil, ErrInvalidIndex, "no attribute %q", k.attr)
	}
	for _, idx := range m.attrIndexes[fa] {
		if idx.auto && len(idx.attrs) == 1 && !idx.custom() {
			return m, fa, idx, nil
		}
	}
	return nil, nil, nil, modelErrf(m, nil, nil, ErrInvalidIndex, "%s is not indexed", fa.FullName())
}

func (k *reverseKind) referrers(inst *Instance) ([]*Instance, *Index, error) {
	m, fa, idx, err := k.forward()
	if err != nil {
		return nil, nil, err
	}
	keys, err := fa.queryKeys(inst.conn, inst)
	if err != nil {
		return nil, nil, err
	}
	var out []*Instance
	for _, mapping := range inst.conn.manager(idx).lookup(keys...) {
		out = append(out, inst.conn.wrap(m, mapping))
	}
	return out, idx, nil
}

func (k *reverseKind) read(a *Attribute, inst *Instance) (any, error) {
	refs, idx, err := k.referrers(inst)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.FullName(), err)
	}
	if idx.unique {
		if len(refs) == 0 {
			return nil, nil
		}
		return refs[0], nil
	}
	if refs == nil {
		refs = []*Instance{}
	}
	return refs, nil
}

// write makes exactly the instances in v refer to inst.
func (k *reverseKind) write(a *Attribute, inst *Instance, v any) error {
	next, err := toInstances(v)
	if err != nil {
		return fmt.Errorf("%s: %w", a.FullName(), err)
	}
	cur, _, err := k.referrers(inst)
	if err != nil {
		return fmt.Errorf("%s: %w", a.FullName(), err)
	}
	_, fa, _, _ := k.forward()
	for _, r := range cur {
		if !slices.ContainsFunc(next, r.Equal) {
			if err := k.detach(r, fa, inst); err != nil {
				return err
			}
		}
	}
	for _, r := range next {
		if !slices.ContainsFunc(cur, r.Equal) {
			if err := k.attach(r, fa, inst); err != nil {
				return err
			}
		}
	}
	return nil
}

func (k *reverseKind) attach(r *Instance, fa *Attribute, inst *Instance) error {
	switch fa.kind.(type) {
	case *modelKind:
		return r.Set(fa.name, inst)
	case *listKind:
		cur, err := r.TryGet(fa.name)
		if err != nil {
			return err
		}
		items, _ := toSlice(cur)
		return r.Set(fa.name, append(slices.Clone(items), inst))
	}
	return fmt.Errorf("%w: cannot maintain %s from the reverse side", ErrInvalidIndex, fa.FullName())
}

func (k *reverseKind) detach(r *Instance, fa *Attribute, inst *Instance) error {
	cur, err := r.TryGet(fa.name)
	if err != nil {
		return err
	}
	switch fa.kind.(type) {
	case *modelKind:
		if ref, ok := cur.(*Instance); ok && ref.Equal(inst) {
			return r.Set(fa.name, nil)
		}
		return nil
	case *listKind:
		items, _ := toSlice(cur)
		items = slices.DeleteFunc(slices.Clone(items), func(e any) bool {
			ref, ok := e.(*Instance)
			return ok && ref.Equal(inst)
		})
		return r.Set(fa.name, items)
	}
	return fmt.Errorf("%w: cannot maintain %s from the reverse side", ErrInvalidIndex, fa.FullName())
}

func toInstances(v any) ([]*Instance, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case *Instance:
		return []*Instance{v}, nil
	case []*Instance:
		return v, nil
	}
	items, ok := toSlice(v)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a list of instances", store.ErrInvalidValue, v)
	}
	out := make([]*Instance, 0, len(items))
	for _, el := range items {
		inst, ok := el.(*Instance)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not an instance", store.ErrInvalidValue, el)
		}
		out = append(out, inst)
	}
	return out, nil
}

// InlineModelAttribute stores the attributes of m as a nested mapping inside
// the owner's mapping. m must be built with NewInlineModel. Values are
// written and read as Values keyed by attribute name.
func InlineModelAttribute(m *Model) *Attribute {
	if !m.inline {
		panic(fmt.Errorf("InlineModelAttribute needs an inline model"))
	}
	return newAttribute(&inlineKind{model: m})
}

type inlineKind struct {
	model *Model
}

func (k *inlineKind) zero() any { return Values{} }

func (k *inlineKind) serialize(a *Attribute, c *Conn, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	vals, err := toValues(v)
	if err != nil {
		return nil, err
	}
	for name := range vals {
		if k.model.attrsByName[name] == nil {
			return nil, fmt.Errorf("%w: unknown inline attribute %q", store.ErrInvalidValue, name)
		}
	}
	out := make(map[any]any, len(k.model.attrs))
	for _, sub := range k.model.attrs {
		val, ok := vals[sub.name]
		if !ok {
			val = sub.create(nil)
		}
		st, err := sub.kind.serialize(sub, c, val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", sub.name, err)
		}
		out[sub.writeKey()] = st
	}
	return out, nil
}

func (k *inlineKind) deserialize(a *Attribute, c *Conn, st any) (any, error) {
	switch st := st.(type) {
	case Values:
		return st, nil
	case map[any]any:
		out := make(Values, len(k.model.attrs))
		for _, sub := range k.model.attrs {
			var raw any
			found := false
			for _, key := range sub.keys {
				if raw, found = st[key]; found {
					break
				}
			}
			if !found {
				var err error
				if raw, err = sub.kind.serialize(sub, c, sub.create(nil)); err != nil {
					return nil, err
				}
			}
			v, err := sub.kind.deserialize(sub, c, raw)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", sub.name, err)
			}
			out[sub.name] = v
		}
		return out, nil
	}
	return st, nil
}

func (k *inlineKind) indexKeys(a *Attribute, st any) []any {
	return nil
}

func (k *inlineKind) queryKeys(a *Attribute, c *Conn, v any) ([]any, error) {
	return nil, fmt.Errorf("%w: inline attributes have no index keys", ErrInvalidFilter)
}

func (k *inlineKind) update(a *Attribute, c *Conn, old, new any, opt EditOptions) (any, error) {
	if opt.Replacement || old == nil {
		return new, nil
	}
	oldVals, err := toValues(old)
	if err != nil {
		return nil, err
	}
	newVals, err := toValues(new)
	if err != nil {
		return nil, err
	}
	out := make(Values, len(oldVals))
	for name, v := range oldVals {
		nv, inNew := newVals[name]
		switch {
		case !inNew && opt.Deletion:
			continue
		case inNew && opt.Edition:
			sub := k.model.attrsByName[name]
			if sub == nil {
				return nil, fmt.Errorf("%w: unknown inline attribute %q", store.ErrInvalidValue, name)
			}
			if v, err = sub.kind.update(sub, c, v, nv, opt); err != nil {
				return nil, err
			}
		}
		out[name] = v
	}
	if opt.Addition {
		for name, v := range newVals {
			if _, ok := oldVals[name]; !ok {
				out[name] = v
			}
		}
	}
	return out, nil
}

func toValues(v any) (Values, error) {
	switch v := v.(type) {
	case Values:
		return v, nil
	case map[string]any:
		return Values(v), nil
	}
	return nil, fmt.Errorf("%w: %T is not a map of attribute values", store.ErrInvalidValue, v)
}

// CounterAttribute stores a store.Counter, so that concurrent increments
// merge at commit. Writing a number sets the existing counter. Counters are
// created with the instance.
func CounterAttribute() *Attribute {
	a := newAttribute(counterKind{})
	a.lazy = false
	return a
}

type counterKind struct{ scalarKind }

func (counterKind) zero() any { return int64(0) }

func (counterKind) serialize(a *Attribute, c *Conn, v any) (any, error) {
	if cnt, ok := v.(*store.Counter); ok {
		return cnt, nil
	}
	n, err := counterNumber(v)
	if err != nil {
		return nil, err
	}
	return store.NewCounter(n), nil
}

func (counterKind) deserialize(a *Attribute, c *Conn, st any) (any, error) {
	return st, nil
}

func (counterKind) indexKeys(a *Attribute, st any) []any {
	if cnt, ok := st.(*store.Counter); ok {
		return []any{cnt.Value()}
	}
	return []any{st}
}

func (counterKind) queryKeys(a *Attribute, c *Conn, v any) ([]any, error) {
	if cnt, ok := v.(*store.Counter); ok {
		return []any{cnt.Value()}, nil
	}
	n, err := counterNumber(v)
	if err != nil {
		return nil, err
	}
	return []any{n}, nil
}

func (counterKind) writeStored(a *Attribute, cur any, v any) (any, func(), bool, error) {
	cnt, ok := cur.(*store.Counter)
	if !ok {
		return nil, nil, false, nil
	}
	if other, ok := v.(*store.Counter); ok {
		return cnt, func() {}, other == cnt, nil
	}
	n, err := counterNumber(v)
	if err != nil {
		return nil, nil, false, err
	}
	undo := cnt.Mark()
	cnt.Set(n)
	return cnt, undo, true, nil
}

func counterNumber(v any) (any, error) {
	if v == nil {
		return int64(0), nil
	}
	k, err := store.NormalizeKey(v)
	if err == nil {
		switch k.(type) {
		case int64, float64:
			return k, nil
		}
	}
	return nil, fmt.Errorf("%w: %T is not a number", store.ErrInvalidValue, v)
}
