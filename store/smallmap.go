package store

import (
	"fmt"
	"iter"
	"slices"
)

// SmallMap is an insertion-ordered map stored as a single record. Keys are
// scalars (nil, bool, integers, floats, strings). Concurrent changes to
// different keys merge at commit time.
type SmallMap struct {
	Base
	keys []any
	vals map[any]any
}

func NewSmallMap() *SmallMap {
	m := &SmallMap{vals: make(map[any]any)}
	m.self = m
	return m
}

func (m *SmallMap) Kind() string { return kindSmallMap }

func (m *SmallMap) state() any {
	out := make([]any, 0, 2*len(m.keys))
	for _, k := range m.keys {
		out = append(out, k, stateValue(m.vals[k]))
	}
	return out
}

func (m *SmallMap) setState(st any) error {
	p, err := pairsOf(st)
	if err != nil {
		return err
	}
	m.keys, m.vals = p.keys, p.vals
	return nil
}

func (m *SmallMap) children() []Object {
	return objectChildren(slices.Collect(func(yield func(any) bool) {
		for _, v := range m.vals {
			if !yield(v) {
				return
			}
		}
	})...)
}

func (m *SmallMap) Len() int {
	m.activate()
	return len(m.keys)
}

func (m *SmallMap) Get(k any) (any, bool) {
	m.activate()
	k = mustMapKey(k)
	v, ok := m.vals[k]
	if !ok {
		return nil, false
	}
	if r, isRef := v.(ref); isRef {
		v = m.resolve(r)
		m.vals[k] = v
	}
	return v, true
}

func (m *SmallMap) Has(k any) bool {
	m.activate()
	_, ok := m.vals[mustMapKey(k)]
	return ok
}

// Set stores v under k. Setting a value equal to the current one does not
// modify the map.
func (m *SmallMap) Set(k, v any) {
	m.activate()
	k = mustMapKey(k)
	v = mustNormalize(v)
	old, exists := m.vals[k]
	if exists && Equal(old, v) {
		return
	}
	m.adopt(v)
	if !exists {
		m.keys = append(m.keys, k)
	}
	m.vals[k] = v
	m.changed()
}

// SetDefault returns the value under k, storing f() there first if k is absent.
func (m *SmallMap) SetDefault(k any, f func() any) any {
	if v, ok := m.Get(k); ok {
		return v
	}
	v := mustNormalize(f())
	m.Set(k, v)
	return v
}

func (m *SmallMap) Delete(k any) bool {
	m.activate()
	k = mustMapKey(k)
	if _, ok := m.vals[k]; !ok {
		return false
	}
	delete(m.vals, k)
	m.keys = slices.DeleteFunc(m.keys, func(e any) bool { return e == k })
	m.changed()
	return true
}

func (m *SmallMap) Clear() {
	m.activate()
	if len(m.keys) == 0 {
		return
	}
	m.keys = nil
	m.vals = make(map[any]any)
	m.changed()
}

// Keys returns the keys in insertion order.
func (m *SmallMap) Keys() []any {
	m.activate()
	return slices.Clone(m.keys)
}

// All iterates entries in insertion order.
func (m *SmallMap) All() iter.Seq2[any, any] {
	return func(yield func(any, any) bool) {
		for _, k := range m.Keys() {
			v, ok := m.Get(k)
			if !ok {
				continue
			}
			if !yield(k, v) {
				return
			}
		}
	}
}

func (m *SmallMap) Values() iter.Seq[any] {
	return func(yield func(any) bool) {
		for _, v := range m.All() {
			if !yield(v) {
				return
			}
		}
	}
}

func (m *SmallMap) String() string {
	if m.conn == nil {
		return fmt.Sprintf("SmallMap(detached, %d)", len(m.keys))
	}
	return fmt.Sprintf("SmallMap(%v)", m.oid)
}

// ResolveConflict merges key by key. A key conflicts when both sides changed
// it to different values, unless both values are dicts, which merge recursively.
func (m *SmallMap) ResolveConflict(old, saved, new any) (any, error) {
	b, err := pairsOf(old)
	if err != nil {
		return nil, err
	}
	s, err := pairsOf(saved)
	if err != nil {
		return nil, err
	}
	n, err := pairsOf(new)
	if err != nil {
		return nil, err
	}

	var merged pairs
	merged.vals = make(map[any]any)
	seen := make(map[any]bool)
	for _, keys := range [][]any{s.keys, n.keys, b.keys} {
		for _, k := range keys {
			if seen[k] {
				continue
			}
			seen[k] = true
			r, ok := merge3(b.slot(k), s.slot(k), n.slot(k))
			if !ok {
				return nil, fmt.Errorf("key %v changed on both sides", k)
			}
			if r.ok {
				merged.keys = append(merged.keys, k)
				merged.vals[k] = r.v
			}
		}
	}
	return merged.flat(), nil
}

type pairs struct {
	keys []any
	vals map[any]any
}

func pairsOf(st any) (pairs, error) {
	l, ok := st.([]any)
	if !ok || len(l)%2 != 0 {
		return pairs{}, fmt.Errorf("invalid smallmap state %T", st)
	}
	p := pairs{keys: make([]any, 0, len(l)/2), vals: make(map[any]any, len(l)/2)}
	for i := 0; i < len(l); i += 2 {
		k, err := normalizeMapKey(l[i])
		if err != nil {
			return pairs{}, err
		}
		if _, dup := p.vals[k]; !dup {
			p.keys = append(p.keys, k)
		}
		p.vals[k] = l[i+1]
	}
	return p, nil
}

func (p pairs) slot(k any) slot {
	v, ok := p.vals[k]
	return slot{v, ok}
}

func (p pairs) flat() []any {
	out := make([]any, 0, 2*len(p.keys))
	for _, k := range p.keys {
		out = append(out, k, p.vals[k])
	}
	return out
}

type slot struct {
	v  any
	ok bool
}

func (a slot) same(b slot) bool {
	if a.ok != b.ok {
		return false
	}
	return !a.ok || Equal(a.v, b.v)
}

func merge3(b, s, n slot) (slot, bool) {
	switch {
	case s.same(b):
		return n, true
	case n.same(b):
		return s, true
	case s.same(n):
		return s, true
	}
	sm, sIsMap := s.v.(map[any]any)
	nm, nIsMap := n.v.(map[any]any)
	bm, bIsMap := b.v.(map[any]any)
	if s.ok && n.ok && sIsMap && nIsMap && (!b.ok || bIsMap) {
		merged, ok := mergeDicts(bm, sm, nm)
		return slot{merged, true}, ok
	}
	return slot{}, false
}

func mergeDicts(b, s, n map[any]any) (map[any]any, bool) {
	out := make(map[any]any)
	for _, src := range []map[any]any{b, s, n} {
		for k := range src {
			if _, done := out[k]; done {
				continue
			}
			bv, bok := b[k]
			sv, sok := s[k]
			nv, nok := n[k]
			r, ok := merge3(slot{bv, bok}, slot{sv, sok}, slot{nv, nok})
			if !ok {
				return nil, false
			}
			if r.ok {
				out[k] = r.v
			}
		}
	}
	return out, true
}

func stateValue(v any) any {
	if obj, ok := v.(Object); ok {
		if obj.OID() == 0 {
			panic(fmt.Errorf("%w: %s", ErrNotAttached, obj.Kind()))
		}
		return ref(obj.OID())
	}
	return v
}
