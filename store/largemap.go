package store

import (
	"fmt"
	"iter"
)

// treeBase is the record part of a tree container: its length and clear
// epoch. Entries live in a separate per-object bucket, one record per key.
type treeBase struct {
	Base
	length  int64
	epoch   int64
	intKeys bool
}

func (t *treeBase) state() any {
	return []any{t.length, t.epoch, t.intKeys}
}

func (t *treeBase) setState(st any) error {
	length, epoch, intKeys, err := treeStateOf(st)
	if err != nil {
		return err
	}
	t.length, t.epoch, t.intKeys = length, epoch, intKeys
	return nil
}

func (t *treeBase) children() []Object { return nil }

func treeStateOf(st any) (length, epoch int64, intKeys bool, err error) {
	l, ok := st.([]any)
	if !ok || len(l) != 3 {
		return 0, 0, false, fmt.Errorf("invalid tree state %v", st)
	}
	length, ok1 := l[0].(int64)
	epoch, ok2 := l[1].(int64)
	intKeys, ok3 := l[2].(bool)
	if !ok1 || !ok2 || !ok3 {
		return 0, 0, false, fmt.Errorf("invalid tree state %v", st)
	}
	return length, epoch, intKeys, nil
}

// resolveLength merges concurrent length changes of a tree whose entries
// were not cleared on either side.
func resolveLength(old, saved, new any) (any, error) {
	bl, be, bi, err := treeStateOf(old)
	if err != nil {
		return nil, err
	}
	sl, se, _, err := treeStateOf(saved)
	if err != nil {
		return nil, err
	}
	nl, ne, _, err := treeStateOf(new)
	if err != nil {
		return nil, err
	}
	if se != be || ne != be {
		return nil, fmt.Errorf("cleared concurrently")
	}
	return []any{sl + nl - bl, be, bi}, nil
}

func (t *treeBase) encodeKey(k any) []byte {
	k = must(NormalizeKey(k))
	if t.intKeys {
		if _, ok := k.(int64); !ok {
			panic(fmt.Errorf("%w: %T in an integer-keyed map", ErrInvalidKey, k))
		}
	}
	return mustEncodeKey(k)
}

func (t *treeBase) get(key []byte) (any, bool) {
	c := t.requireConn()
	t.activate()
	v, ok := c.treeGet(t.oid, key)
	if !ok {
		return nil, false
	}
	return t.resolve(v), true
}

// put stores v and reports whether the key is new.
func (t *treeBase) put(key []byte, v any) bool {
	c := t.requireConn()
	t.activate()
	old, exists := c.treeGet(t.oid, key)
	if exists && Equal(old, v) {
		return false
	}
	t.adopt(v)
	c.treePut(t.oid, key, v)
	if !exists {
		t.length++
		t.changed()
	}
	return !exists
}

func (t *treeBase) del(key []byte) bool {
	c := t.requireConn()
	t.activate()
	if _, exists := c.treeGet(t.oid, key); !exists {
		return false
	}
	c.treeDelete(t.oid, key)
	t.length--
	t.changed()
	return true
}

func (t *treeBase) clear() {
	c := t.requireConn()
	t.activate()
	c.treeClear(t.oid)
	t.length = 0
	t.epoch++
	t.changed()
}

func (t *treeBase) scan(r rawRange) iter.Seq2[any, any] {
	return func(yield func(any, any) bool) {
		c := t.requireConn()
		t.activate()
		for k, v := range c.treeScan(t.oid, r) {
			if !yield(mustDecodeKey(k), t.resolve(v)) {
				return
			}
		}
	}
}

func (t *treeBase) Len() int {
	t.activate()
	return int(t.length)
}

// LargeMap is an ordered map whose entries are stored individually, so it can
// hold any number of them. Keys are ordered by their encoded form (see
// EncodeKey). Concurrent changes to different keys merge at commit time;
// changes to the same key conflict.
type LargeMap struct {
	treeBase
}

func NewLargeMap() *LargeMap {
	m := &LargeMap{}
	m.self = m
	return m
}

// NewIntLargeMap returns a LargeMap that only accepts integer keys.
func NewIntLargeMap() *LargeMap {
	m := NewLargeMap()
	m.intKeys = true
	return m
}

func (m *LargeMap) Kind() string { return kindLargeMap }

// IntKeys reports whether the map only accepts integer keys.
func (m *LargeMap) IntKeys() bool {
	m.activate()
	return m.intKeys
}

// Accepts reports whether k can be used as a key of the map.
func (m *LargeMap) Accepts(k any) bool {
	k, err := NormalizeKey(k)
	if err != nil {
		return false
	}
	if _, isInt := k.(int64); !isInt && m.IntKeys() {
		return false
	}
	return true
}

func (m *LargeMap) ResolveConflict(old, saved, new any) (any, error) {
	return resolveLength(old, saved, new)
}

func (m *LargeMap) Get(k any) (any, bool) {
	return m.get(m.encodeKey(k))
}

func (m *LargeMap) Has(k any) bool {
	_, ok := m.Get(k)
	return ok
}

// Set stores v under k. Setting a value equal to the current one does not
// touch the entry.
func (m *LargeMap) Set(k, v any) {
	m.put(m.encodeKey(k), mustNormalize(v))
}

func (m *LargeMap) SetDefault(k any, f func() any) any {
	key := m.encodeKey(k)
	if v, ok := m.get(key); ok {
		return v
	}
	v := mustNormalize(f())
	m.put(key, v)
	return v
}

func (m *LargeMap) Delete(k any) bool {
	return m.del(m.encodeKey(k))
}

func (m *LargeMap) Clear() {
	m.clear()
}

func (m *LargeMap) Range(r KeyRange) iter.Seq2[any, any] {
	return m.scan(r.raw(m.encodeKey))
}

func (m *LargeMap) Items(reverse bool) iter.Seq2[any, any] {
	return m.Range(KeyRange{Reverse: reverse})
}

func (m *LargeMap) Keys(reverse bool) iter.Seq[any] {
	return func(yield func(any) bool) {
		for k := range m.Items(reverse) {
			if !yield(k) {
				return
			}
		}
	}
}

func (m *LargeMap) Values(reverse bool) iter.Seq[any] {
	return func(yield func(any) bool) {
		for _, v := range m.Items(reverse) {
			if !yield(v) {
				return
			}
		}
	}
}

// Slice yields every |step|-th entry of the range by position, in reverse
// order for a negative step.
func (m *LargeMap) Slice(r KeyRange, step int) iter.Seq2[any, any] {
	if step < 0 {
		r.Reverse = true
		step = -step
	}
	if step == 0 {
		step = 1
	}
	return func(yield func(any, any) bool) {
		i := 0
		for k, v := range m.Range(r) {
			if i%step == 0 && !yield(k, v) {
				return
			}
			i++
		}
	}
}

func (m *LargeMap) MinKey() (any, bool) {
	for k := range m.Keys(false) {
		return k, true
	}
	return nil, false
}

func (m *LargeMap) MaxKey() (any, bool) {
	for k := range m.Keys(true) {
		return k, true
	}
	return nil, false
}

func (m *LargeMap) String() string {
	return fmt.Sprintf("LargeMap(%v)", m.oid)
}
