package store

import (
	"fmt"
	"iter"
)

// Set is an ordered set of keys stored as a tree. Concurrent additions of
// different elements merge; adding or removing the same element concurrently
// conflicts.
type Set struct {
	treeBase
}

func NewSet() *Set {
	s := &Set{}
	s.self = s
	return s
}

func (s *Set) Kind() string { return kindSet }

func (s *Set) ResolveConflict(old, saved, new any) (any, error) {
	return resolveLength(old, saved, new)
}

// Add inserts k and reports whether it was absent.
func (s *Set) Add(k any) bool {
	return s.put(s.encodeKey(k), true)
}

func (s *Set) Has(k any) bool {
	_, ok := s.get(s.encodeKey(k))
	return ok
}

func (s *Set) Remove(k any) bool {
	return s.del(s.encodeKey(k))
}

func (s *Set) Clear() {
	s.clear()
}

func (s *Set) Range(r KeyRange) iter.Seq[any] {
	return func(yield func(any) bool) {
		for k := range s.scan(r.raw(s.encodeKey)) {
			if !yield(k) {
				return
			}
		}
	}
}

func (s *Set) All() iter.Seq[any] {
	return s.Range(FullRange())
}

func (s *Set) Min() (any, bool) {
	for k := range s.All() {
		return k, true
	}
	return nil, false
}

func (s *Set) Max() (any, bool) {
	for k := range s.Range(FullRange().Reversed()) {
		return k, true
	}
	return nil, false
}

func (s *Set) String() string {
	return fmt.Sprintf("Set(%v)", s.oid)
}
