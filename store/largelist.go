package store

import (
	"fmt"
	"iter"
)

// LargeList is a list whose elements are stored individually. It does not
// merge concurrent changes: two transactions modifying the same list conflict.
type LargeList struct {
	treeBase
}

func NewLargeList() *LargeList {
	l := &LargeList{}
	l.self = l
	l.intKeys = true
	return l
}

func (l *LargeList) Kind() string { return kindLargeList }

func (l *LargeList) index(i int) (int64, bool) {
	l.activate()
	pos := int64(i)
	if pos < 0 {
		pos += l.length
	}
	return pos, pos >= 0 && pos < l.length
}

// Get returns the i-th element. Negative indices count from the end.
func (l *LargeList) Get(i int) (any, bool) {
	pos, ok := l.index(i)
	if !ok {
		return nil, false
	}
	return l.get(mustEncodeKey(pos))
}

func (l *LargeList) Set(i int, v any) {
	pos, ok := l.index(i)
	if !ok {
		panic(fmt.Errorf("store: list index %d out of range [0:%d]", i, l.length))
	}
	l.put(mustEncodeKey(pos), mustNormalize(v))
}

func (l *LargeList) Append(v any) {
	l.activate()
	l.put(mustEncodeKey(l.length), mustNormalize(v))
}

func (l *LargeList) Extend(vals ...any) {
	for _, v := range vals {
		l.Append(v)
	}
}

// Pop removes and returns the last element.
func (l *LargeList) Pop() (any, bool) {
	l.activate()
	if l.length == 0 {
		return nil, false
	}
	key := mustEncodeKey(l.length - 1)
	v, _ := l.get(key)
	l.del(key)
	return v, true
}

func (l *LargeList) Clear() {
	l.clear()
}

// All iterates elements with their indices.
func (l *LargeList) All() iter.Seq2[int, any] {
	return func(yield func(int, any) bool) {
		for k, v := range l.scan(rawRange{}) {
			if !yield(int(k.(int64)), v) {
				return
			}
		}
	}
}

func (l *LargeList) String() string {
	return fmt.Sprintf("LargeList(%v)", l.oid)
}
