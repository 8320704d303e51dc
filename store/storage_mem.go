package store

import (
	"bytes"
	"errors"
	"maps"
	"slices"
	"sort"
	"sync"
)

var (
	errStorageClosed = errors.New("storage closed")
	errReadOnlyTx    = errors.New("read-only transaction")
)

// memSlot identifies a bucket: the objects bucket is slot 0, meta is the
// reserved slot ^0, and every tree container uses its own OID.
type memSlot OID

const (
	memObjects = memSlot(0)
	memMeta    = ^memSlot(0)
)

// memStorage keeps every bucket as an immutable sorted slice. A writer copies
// a bucket the first time it modifies it, so a read tx is a shallow copy of
// the bucket map taken under the lock.
type memStorage struct {
	mu      sync.Mutex
	idle    *sync.Cond
	buckets map[memSlot]*memBucket
	writer  bool
	closed  bool
}

func newMemStorage() *memStorage {
	s := &memStorage{buckets: map[memSlot]*memBucket{
		memObjects: {},
		memMeta:    {},
	}}
	s.idle = sync.NewCond(&s.mu)
	return s
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for writable && s.writer && !s.closed {
		s.idle.Wait()
	}
	if s.closed {
		return nil, errStorageClosed
	}
	tx := &memTx{s: s, buckets: maps.Clone(s.buckets)}
	if writable {
		s.writer = true
		tx.copied = make(map[memSlot]bool)
	}
	return tx, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	s.idle.Broadcast()
	return nil
}

type memTx struct {
	s       *memStorage
	buckets map[memSlot]*memBucket
	copied  map[memSlot]bool // nil for read transactions
	done    bool
}

func (tx *memTx) Writable() bool { return tx.copied != nil }

func (tx *memTx) Objects() storageBucket { return memHandle{tx, memObjects} }

func (tx *memTx) Meta() storageBucket { return memHandle{tx, memMeta} }

func (tx *memTx) Tree(oid OID, create bool) (storageBucket, error) {
	slot := memSlot(oid)
	if tx.buckets[slot] == nil {
		if !create {
			return nil, nil
		}
		if !tx.Writable() {
			return nil, errReadOnlyTx
		}
		tx.buckets[slot] = &memBucket{}
		tx.copied[slot] = true
	}
	return memHandle{tx, slot}, nil
}

func (tx *memTx) DropTree(oid OID) error {
	if !tx.Writable() {
		return errReadOnlyTx
	}
	delete(tx.buckets, memSlot(oid))
	delete(tx.copied, memSlot(oid))
	return nil
}

func (tx *memTx) Commit() error {
	if !tx.Writable() {
		return errReadOnlyTx
	}
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if tx.done {
		return nil
	}
	defer tx.finish()
	if tx.s.closed {
		return errStorageClosed
	}
	tx.s.buckets = tx.buckets
	return nil
}

func (tx *memTx) Rollback() error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if !tx.done {
		tx.finish()
	}
	return nil
}

// finish must be called with the storage lock held.
func (tx *memTx) finish() {
	tx.done = true
	if tx.Writable() {
		tx.s.writer = false
		tx.s.idle.Broadcast()
	}
}

// own returns a bucket this tx may modify in place.
func (tx *memTx) own(slot memSlot) *memBucket {
	if !tx.Writable() {
		panic(errReadOnlyTx)
	}
	b := tx.buckets[slot]
	if !tx.copied[slot] {
		b = &memBucket{items: slices.Clone(b.items)}
		tx.buckets[slot] = b
		tx.copied[slot] = true
	}
	return b
}

type memBucket struct {
	items []memItem // sorted by key
}

type memItem struct {
	key, value []byte
}

func (b *memBucket) search(key []byte) (int, bool) {
	i := sort.Search(len(b.items), func(i int) bool {
		return bytes.Compare(b.items[i].key, key) >= 0
	})
	return i, i < len(b.items) && bytes.Equal(b.items[i].key, key)
}

type memHandle struct {
	tx   *memTx
	slot memSlot
}

func (h memHandle) Get(key []byte) []byte {
	b := h.tx.buckets[h.slot]
	if i, ok := b.search(key); ok {
		return b.items[i].value
	}
	return nil
}

func (h memHandle) Put(key, value []byte) error {
	b := h.tx.own(h.slot)
	item := memItem{slices.Clone(key), slices.Clone(value)}
	if i, ok := b.search(key); ok {
		b.items[i] = item
	} else {
		b.items = slices.Insert(b.items, i, item)
	}
	return nil
}

func (h memHandle) Delete(key []byte) error {
	b := h.tx.own(h.slot)
	if i, ok := b.search(key); ok {
		b.items = slices.Delete(b.items, i, i+1)
	}
	return nil
}

// Cursor iterates the bucket as it is now; later writes are not visible to it.
func (h memHandle) Cursor() storageCursor {
	return &memCursor{items: h.tx.buckets[h.slot].items, pos: -1}
}

func (h memHandle) Stats() bucketStats {
	items := h.tx.buckets[h.slot].items
	var n int64
	for _, item := range items {
		n += int64(len(item.key) + len(item.value))
	}
	return bucketStats{KeyN: len(items), LeafInuse: n, Alloc: n}
}

type memCursor struct {
	items []memItem
	pos   int
}

func (c *memCursor) move(i int) ([]byte, []byte) {
	c.pos = max(-1, min(i, len(c.items)))
	if c.pos < 0 || c.pos >= len(c.items) {
		return nil, nil
	}
	return c.items[c.pos].key, c.items[c.pos].value
}

func (c *memCursor) First() ([]byte, []byte) { return c.move(0) }
func (c *memCursor) Last() ([]byte, []byte)  { return c.move(len(c.items) - 1) }
func (c *memCursor) Next() ([]byte, []byte)  { return c.move(c.pos + 1) }
func (c *memCursor) Prev() ([]byte, []byte)  { return c.move(c.pos - 1) }

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	i, _ := (&memBucket{items: c.items}).search(seek)
	return c.move(i)
}

func (c *memCursor) SeekLast(upper []byte) ([]byte, []byte) {
	i, ok := (&memBucket{items: c.items}).search(upper)
	if ok {
		return c.move(i)
	}
	return c.move(i - 1)
}
