package store

import "fmt"

// OID identifies a persistent object. Zero means "not stored yet".
type OID uint64

// RootOID is the OID of every database's root SmallMap.
const RootOID OID = 1

func (oid OID) String() string {
	return fmt.Sprintf("0x%x", uint64(oid))
}

// Object is a persistent object. Objects are created detached and get an OID
// when first stored into a container that is already part of a database.
type Object interface {
	OID() OID
	Kind() string

	base() *Base
	state() any
	setState(st any) error
	children() []Object
}

// Resolver is implemented by objects that can merge concurrent changes.
// The states are in the stored value domain; old is the state this
// transaction started from, saved is the committed one.
type Resolver interface {
	ResolveConflict(old, saved, new any) (any, error)
}

const (
	kindSmallMap  = "smallmap"
	kindLargeMap  = "largemap"
	kindLargeList = "largelist"
	kindSet       = "set"
	kindCounter   = "counter"
)

var objectFactories = map[string]func() Object{
	kindSmallMap:  func() Object { return NewSmallMap() },
	kindLargeMap:  func() Object { return NewLargeMap() },
	kindLargeList: func() Object { return NewLargeList() },
	kindSet:       func() Object { return NewSet() },
	kindCounter:   func() Object { return NewCounter(0) },
}

// Base carries the persistence bookkeeping shared by all objects.
type Base struct {
	oid    OID
	conn   *Conn
	serial uint64
	ghost  bool
	self   Object
}

func (b *Base) OID() OID { return b.oid }

// Conn returns the connection the object is loaded into, or nil while detached.
func (b *Base) Conn() *Conn { return b.conn }

func (b *Base) base() *Base { return b }

func (b *Base) activate() {
	if b.ghost {
		ensure(b.conn.activate(b.self))
	}
}

func (b *Base) changed() {
	if b.conn != nil {
		b.conn.markDirty(b.self)
	}
}

// adopt attaches a detached object stored into this one. Storing an object
// that belongs to another connection panics.
func (b *Base) adopt(v any) {
	if b.conn == nil {
		return
	}
	if obj, ok := v.(Object); ok {
		b.conn.Add(obj)
	}
}

func (b *Base) resolve(v any) any {
	if r, ok := v.(ref); ok {
		if b.conn == nil {
			panic(fmt.Errorf("%w: unresolved reference %v", ErrNotAttached, OID(r)))
		}
		return must(b.conn.Get(OID(r)))
	}
	return v
}

func (b *Base) requireConn() *Conn {
	if b.conn == nil {
		panic(fmt.Errorf("%w: %s", ErrNotAttached, b.self.Kind()))
	}
	if b.conn.closed {
		panic(ErrClosed)
	}
	return b.conn
}

func objectChildren(vals ...any) []Object {
	var out []Object
	for _, v := range vals {
		if obj, ok := v.(Object); ok {
			out = append(out, obj)
		}
	}
	return out
}
