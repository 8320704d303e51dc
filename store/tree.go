package store

import (
	"bytes"
	"iter"
	"slices"
)

// treeOverlay holds uncommitted changes to one tree container.
type treeOverlay struct {
	entries map[string]*treeEntry
	cleared bool
}

type treeEntry struct {
	val     any
	deleted bool
	base    uint64 // serial of the committed entry when first touched, 0 if absent
}

func (ov *treeOverlay) clone() *treeOverlay {
	out := &treeOverlay{entries: make(map[string]*treeEntry, len(ov.entries)), cleared: ov.cleared}
	for k, e := range ov.entries {
		cp := *e
		cp.val = Clone(e.val)
		out.entries[k] = &cp
	}
	return out
}

func (c *Conn) treeBucket(oid OID) storageBucket {
	bk, _ := c.stx.Tree(oid, false)
	return bk
}

func (c *Conn) overlay(oid OID) *treeOverlay {
	ov := c.trees[oid]
	if ov == nil {
		ov = &treeOverlay{entries: make(map[string]*treeEntry)}
		c.trees[oid] = ov
	}
	return ov
}

func (c *Conn) snapshotEntry(oid OID, key []byte) (record, bool) {
	bk := c.treeBucket(oid)
	if bk == nil {
		return record{}, false
	}
	raw := bk.Get(key)
	if raw == nil {
		return record{}, false
	}
	return must(decodeRecord(raw)), true
}

func (c *Conn) treeGet(oid OID, key []byte) (any, bool) {
	if ov := c.trees[oid]; ov != nil {
		if e := ov.entries[string(key)]; e != nil {
			return e.val, !e.deleted
		}
		if ov.cleared {
			return nil, false
		}
	}
	rec, ok := c.snapshotEntry(oid, key)
	if !ok {
		return nil, false
	}
	return must(decodeValue(rec.Data)), true
}

func (c *Conn) touch(oid OID, key []byte) *treeEntry {
	ov := c.overlay(oid)
	e := ov.entries[string(key)]
	if e == nil {
		e = &treeEntry{}
		if rec, ok := c.snapshotEntry(oid, key); ok {
			e.base = rec.Serial
		}
		ov.entries[string(key)] = e
	}
	return e
}

func (c *Conn) treePut(oid OID, key []byte, v any) {
	e := c.touch(oid, key)
	e.val, e.deleted = v, false
}

func (c *Conn) treeDelete(oid OID, key []byte) {
	e := c.touch(oid, key)
	e.val, e.deleted = nil, true
}

func (c *Conn) treeClear(oid OID) {
	ov := c.overlay(oid)
	ov.cleared = true
	clear(ov.entries)
}

// treeScan merges committed entries of the snapshot with the overlay, in
// range order. Changes made to the tree during the scan are not visible to it.
func (c *Conn) treeScan(oid OID, r rawRange) iter.Seq2[[]byte, any] {
	return func(yield func([]byte, any) bool) {
		ov := c.trees[oid]
		var pending []string
		if ov != nil {
			for k := range ov.entries {
				if r.contains([]byte(k)) {
					pending = append(pending, k)
				}
			}
			slices.SortFunc(pending, func(a, b string) int {
				if r.Reverse {
					return bytes.Compare([]byte(b), []byte(a))
				}
				return bytes.Compare([]byte(a), []byte(b))
			})
		}
		pendingVals := make([]*treeEntry, len(pending))
		for i, k := range pending {
			cp := *ov.entries[k]
			pendingVals[i] = &cp
		}

		var cur storageCursor
		var k, raw []byte
		if ov == nil || !ov.cleared {
			if bk := c.treeBucket(oid); bk != nil {
				cur = bk.Cursor()
				k, raw = r.start(cur)
			}
		}

		for k != nil || len(pending) > 0 {
			var pk []byte
			if len(pending) > 0 {
				pk = []byte(pending[0])
			}
			if k != nil && (pk == nil || r.before(k, pk)) {
				rec := must(decodeRecord(raw))
				if !yield(k, must(decodeValue(rec.Data))) {
					return
				}
				k, raw = r.next(cur)
				continue
			}
			if k != nil && bytes.Equal(k, pk) {
				k, raw = r.next(cur)
			}
			e := pendingVals[0]
			pending, pendingVals = pending[1:], pendingVals[1:]
			if e.deleted {
				continue
			}
			if !yield(pk, e.val) {
				return
			}
		}
	}
}
