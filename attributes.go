package sheraf

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/andreyvit/sheraf/store"
)

// attrKind implements the value contracts of an attribute kind: conversion
// between user values and stored values, and index key derivation.
type attrKind interface {
	zero() any
	serialize(a *Attribute, c *Conn, v any) (any, error)
	deserialize(a *Attribute, c *Conn, st any) (any, error)
	// indexKeys returns the default index keys of a stored value.
	indexKeys(a *Attribute, st any) []any
	// queryKeys maps a query value to index keys.
	queryKeys(a *Attribute, c *Conn, v any) ([]any, error)
	update(a *Attribute, c *Conn, old, new any, opt EditOptions) (any, error)
}

// storedWriter is implemented by kinds that modify the stored value in place
// instead of replacing it. ok is false when v must replace cur instead; undo
// reverts the modification.
type storedWriter interface {
	writeStored(a *Attribute, cur any, v any) (st any, undo func(), ok bool, err error)
}

type scalarKind struct{}

func (scalarKind) zero() any { return nil }

func (scalarKind) indexKeys(a *Attribute, st any) []any {
	return []any{st}
}

func (scalarKind) queryKeys(a *Attribute, c *Conn, v any) ([]any, error) {
	st, err := a.kind.serialize(a, c, v)
	if err != nil {
		return nil, err
	}
	return a.kind.indexKeys(a, st), nil
}

func (scalarKind) update(a *Attribute, c *Conn, old, new any, opt EditOptions) (any, error) {
	if opt.Edition || opt.Replacement || (opt.Addition && old == nil) {
		return new, nil
	}
	return old, nil
}

// SimpleAttribute stores any value of the store value domain as is.
func SimpleAttribute() *Attribute {
	return newAttribute(simpleKind{})
}

type simpleKind struct{ scalarKind }

func (simpleKind) serialize(a *Attribute, c *Conn, v any) (any, error) {
	if _, ok := v.(store.Object); ok {
		return nil, fmt.Errorf("%w: persistent %T", store.ErrInvalidValue, v)
	}
	return store.Normalize(v)
}

func (simpleKind) deserialize(a *Attribute, c *Conn, st any) (any, error) {
	return store.Clone(st), nil
}

func StringAttribute() *Attribute {
	return newAttribute(stringKind{})
}

type stringKind struct{ scalarKind }

func (stringKind) zero() any { return "" }

func (stringKind) serialize(a *Attribute, c *Conn, v any) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	if k, err := store.NormalizeKey(v); err == nil {
		if s, ok := k.(string); ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %T is not a string", store.ErrInvalidValue, v)
}

func (stringKind) deserialize(a *Attribute, c *Conn, st any) (any, error) {
	return st, nil
}

func IntegerAttribute() *Attribute {
	return newAttribute(integerKind{})
}

type integerKind struct{ scalarKind }

func (integerKind) zero() any { return int64(0) }

func (integerKind) serialize(a *Attribute, c *Conn, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	k, err := store.NormalizeKey(v)
	if err == nil {
		switch k := k.(type) {
		case int64:
			return k, nil
		case float64:
			if k == math.Trunc(k) && !math.IsInf(k, 0) {
				return int64(k), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %v is not an integer", store.ErrInvalidValue, v)
}

func (integerKind) deserialize(a *Attribute, c *Conn, st any) (any, error) {
	if f, ok := st.(float64); ok {
		return int64(f), nil
	}
	return st, nil
}

func FloatAttribute() *Attribute {
	return newAttribute(floatKind{})
}

type floatKind struct{ scalarKind }

func (floatKind) zero() any { return 0.0 }

func (floatKind) serialize(a *Attribute, c *Conn, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	k, err := store.NormalizeKey(v)
	if err == nil {
		switch k := k.(type) {
		case int64:
			return float64(k), nil
		case float64:
			return k, nil
		}
	}
	return nil, fmt.Errorf("%w: %v is not a number", store.ErrInvalidValue, v)
}

func (floatKind) deserialize(a *Attribute, c *Conn, st any) (any, error) {
	if i, ok := st.(int64); ok {
		return float64(i), nil
	}
	return st, nil
}

func BooleanAttribute() *Attribute {
	return newAttribute(boolKind{})
}

type boolKind struct{ scalarKind }

func (boolKind) zero() any { return false }

func (boolKind) serialize(a *Attribute, c *Conn, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if k, err := store.NormalizeKey(v); err == nil {
		if b, ok := k.(bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %v is not a boolean", store.ErrInvalidValue, v)
}

func (boolKind) deserialize(a *Attribute, c *Conn, st any) (any, error) {
	return st, nil
}

// DateTimeAttribute stores a time.Time as float seconds since the Unix epoch,
// with microsecond precision. Values read back are in UTC.
func DateTimeAttribute() *Attribute {
	return newAttribute(dateTimeKind{})
}

type dateTimeKind struct{ scalarKind }

func (dateTimeKind) serialize(a *Attribute, c *Conn, v any) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return float64(v.UnixMicro()) / 1e6, nil
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	}
	return nil, fmt.Errorf("%w: %T is not a time", store.ErrInvalidValue, v)
}

func (dateTimeKind) deserialize(a *Attribute, c *Conn, st any) (any, error) {
	switch st := st.(type) {
	case float64:
		return time.UnixMicro(int64(math.Round(st * 1e6))).UTC(), nil
	case int64:
		return time.Unix(st, 0).UTC(), nil
	}
	return st, nil
}

// DateAttribute stores the calendar date of a time.Time as days since the
// Unix epoch; nil is stored as -1.
func DateAttribute() *Attribute {
	return newAttribute(dateKind{})
}

type dateKind struct{ scalarKind }

const secondsPerDay = 24 * 60 * 60

func (dateKind) serialize(a *Attribute, c *Conn, v any) (any, error) {
	switch v := v.(type) {
	case nil:
		return int64(-1), nil
	case time.Time:
		y, m, d := v.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / secondsPerDay, nil
	case int64:
		return v, nil
	}
	return nil, fmt.Errorf("%w: %T is not a date", store.ErrInvalidValue, v)
}

func (dateKind) deserialize(a *Attribute, c *Conn, st any) (any, error) {
	if n, ok := st.(int64); ok {
		if n == -1 {
			return nil, nil
		}
		return time.Unix(n*secondsPerDay, 0).UTC(), nil
	}
	return st, nil
}

// TimeAttribute stores a time of day as microseconds since midnight; nil is
// stored as -1. Values are written as a time.Duration since midnight or as
// the clock part of a time.Time, and read back as a time.Duration.
func TimeAttribute() *Attribute {
	return newAttribute(timeKind{})
}

type timeKind struct{ scalarKind }

func (timeKind) serialize(a *Attribute, c *Conn, v any) (any, error) {
	switch v := v.(type) {
	case nil:
		return int64(-1), nil
	case time.Duration:
		if v < 0 || v >= 24*time.Hour {
			return nil, fmt.Errorf("%w: time of day %v out of range", store.ErrInvalidValue, v)
		}
		return v.Microseconds(), nil
	case time.Time:
		h, m, s := v.Clock()
		d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second + time.Duration(v.Nanosecond())
		return d.Microseconds(), nil
	}
	return nil, fmt.Errorf("%w: %T is not a time of day", store.ErrInvalidValue, v)
}

func (timeKind) deserialize(a *Attribute, c *Conn, st any) (any, error) {
	if n, ok := st.(int64); ok {
		if n == -1 {
			return nil, nil
		}
		return time.Duration(n) * time.Microsecond, nil
	}
	return st, nil
}

// UUIDAttribute stores a uuid.UUID as its 16 big-endian bytes.
func UUIDAttribute() *Attribute {
	return newAttribute(uuidKind{})
}

type uuidKind struct{ scalarKind }

func (uuidKind) serialize(a *Attribute, c *Conn, v any) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case uuid.UUID:
		return v[:], nil
	case string:
		u, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrInvalidValue, err)
		}
		return u[:], nil
	case []byte:
		u, err := uuid.FromBytes(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrInvalidValue, err)
		}
		return u[:], nil
	}
	return nil, fmt.Errorf("%w: %T is not a UUID", store.ErrInvalidValue, v)
}

func (uuidKind) deserialize(a *Attribute, c *Conn, st any) (any, error) {
	if b, ok := st.([]byte); ok {
		return uuid.FromBytes(b)
	}
	return st, nil
}

// StringUUIDAttribute stores a UUID in its canonical string form. Its
// default is a new random UUID, which makes it the default primary key.
func StringUUIDAttribute() *Attribute {
	return newAttribute(stringUUIDKind{})
}

type stringUUIDKind struct{ scalarKind }

func (stringUUIDKind) zero() any { return uuid.NewString() }

func (stringUUIDKind) serialize(a *Attribute, c *Conn, v any) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case uuid.UUID:
		return v.String(), nil
	case string:
		u, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrInvalidValue, err)
		}
		return u.String(), nil
	}
	return nil, fmt.Errorf("%w: %T is not a UUID", store.ErrInvalidValue, v)
}

func (stringUUIDKind) deserialize(a *Attribute, c *Conn, st any) (any, error) {
	return st, nil
}

// EnumAttribute restricts the values of sub to the given ones.
func EnumAttribute(sub *Attribute, values ...any) *Attribute {
	return newAttribute(&enumKind{sub: sub, values: values})
}

type enumKind struct {
	scalarKind
	sub    *Attribute
	values []any
}

func (k *enumKind) zero() any {
	if k.sub.def != nil {
		return k.sub.def(nil)
	}
	return k.sub.kind.zero()
}

func (k *enumKind) serialize(a *Attribute, c *Conn, v any) (any, error) {
	st, err := k.sub.kind.serialize(k.sub, c, v)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, nil
	}
	for _, allowed := range k.values {
		ast, err := k.sub.kind.serialize(k.sub, c, allowed)
		if err == nil && store.Equal(st, ast) {
			return st, nil
		}
	}
	return nil, fmt.Errorf("%w: %v is not one of %v", store.ErrInvalidValue, v, k.values)
}

func (k *enumKind) deserialize(a *Attribute, c *Conn, st any) (any, error) {
	return k.sub.kind.deserialize(k.sub, c, st)
}

func (k *enumKind) indexKeys(a *Attribute, st any) []any {
	return k.sub.kind.indexKeys(k.sub, st)
}
