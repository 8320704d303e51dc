package store

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"slices"

	"github.com/vmihailenco/msgpack/v5"
)

// Values stored in containers are nil, bool, int64, float64, string, []byte,
// Tuple, []any (a list), map[any]any (a dict with scalar keys), or a persistent
// Object. Objects may only appear directly as container values, not nested
// inside lists or dicts.

// ref is an unresolved reference to a persistent object.
type ref OID

// Normalize converts v into the stored value domain.
func Normalize(v any) (any, error) {
	return normalize(v, true)
}

func normalize(v any, top bool) (any, error) {
	switch v := v.(type) {
	case nil, bool, int64, float64, string:
		return v, nil
	case []byte:
		return slices.Clone(v), nil
	case int:
		return int64(v), nil
	case float32:
		return float64(v), nil
	case ref:
		if !top {
			return nil, fmt.Errorf("%w: nested object reference", ErrInvalidValue)
		}
		return v, nil
	case Object:
		if !top {
			return nil, fmt.Errorf("%w: persistent %s nested inside a value", ErrInvalidValue, v.Kind())
		}
		return v, nil
	case Tuple:
		out := make(Tuple, len(v))
		for i, el := range v {
			el, err := normalize(el, false)
			if err != nil {
				return nil, err
			}
			out[i] = el
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, el := range v {
			el, err := normalize(el, false)
			if err != nil {
				return nil, err
			}
			out[i] = el
		}
		return out, nil
	case map[any]any:
		out := make(map[any]any, len(v))
		for k, el := range v {
			k, err := normalizeMapKey(k)
			if err != nil {
				return nil, err
			}
			el, err := normalize(el, false)
			if err != nil {
				return nil, err
			}
			out[k] = el
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			el, err := normalize(rv.Index(i).Interface(), false)
			if err != nil {
				return nil, err
			}
			out[i] = el
		}
		return out, nil
	case reflect.Map:
		out := make(map[any]any, rv.Len())
		for it := rv.MapRange(); it.Next(); {
			k, err := normalizeMapKey(it.Key().Interface())
			if err != nil {
				return nil, err
			}
			el, err := normalize(it.Value().Interface(), false)
			if err != nil {
				return nil, err
			}
			out[k] = el
		}
		return out, nil
	}
	k, err := NormalizeKey(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %T", ErrInvalidValue, v)
	}
	return k, nil
}

func normalizeMapKey(k any) (any, error) {
	k, err := NormalizeKey(k)
	if err != nil {
		return nil, err
	}
	switch k.(type) {
	case Tuple, []byte:
		return nil, fmt.Errorf("%w: %T cannot be a map key", ErrInvalidKey, k)
	}
	return k, nil
}

func mustNormalize(v any) any {
	return must(Normalize(v))
}

func mustMapKey(k any) any {
	return must(normalizeMapKey(k))
}

// Equal compares two normalized values. Objects compare by identity
// (or by OID when one side is an unresolved reference).
func Equal(a, b any) bool {
	switch a := a.(type) {
	case nil:
		return b == nil
	case []byte:
		bb, ok := b.([]byte)
		return ok && bytes.Equal(a, bb)
	case Tuple:
		bt, ok := b.(Tuple)
		return ok && equalSlices(a, bt)
	case []any:
		bl, ok := b.([]any)
		return ok && equalSlices(a, bl)
	case map[any]any:
		bm, ok := b.(map[any]any)
		if !ok || len(a) != len(bm) {
			return false
		}
		for k, v := range a {
			w, found := bm[k]
			if !found || !Equal(v, w) {
				return false
			}
		}
		return true
	case ref:
		return refOf(b) == OID(a) && OID(a) != 0
	case Object:
		if bo, ok := b.(Object); ok {
			return a == bo
		}
		return a.OID() != 0 && refOf(b) == a.OID()
	case float64:
		if bf, ok := b.(float64); ok {
			return a == bf || (math.IsNaN(a) && math.IsNaN(bf))
		}
		return false
	default:
		return a == b
	}
}

func equalSlices[S ~[]any](a, b S) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func refOf(v any) OID {
	switch v := v.(type) {
	case ref:
		return OID(v)
	case Object:
		return v.OID()
	}
	return 0
}

// Clone deep-copies a normalized value. Objects are not copied.
func Clone(v any) any {
	switch v := v.(type) {
	case []byte:
		return slices.Clone(v)
	case Tuple:
		out := make(Tuple, len(v))
		for i, el := range v {
			out[i] = Clone(el)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, el := range v {
			out[i] = Clone(el)
		}
		return out
	case map[any]any:
		out := make(map[any]any, len(v))
		for k, el := range v {
			out[k] = Clone(el)
		}
		return out
	default:
		return v
	}
}

const (
	wNil = iota
	wFalse
	wTrue
	wInt
	wFloat
	wString
	wBytes
	wList
	wTuple
	wMap
	wRef
)

type wireValue struct {
	T byte        `msgpack:"t"`
	I int64       `msgpack:"i,omitempty"`
	F float64     `msgpack:"f,omitempty"`
	S string      `msgpack:"s,omitempty"`
	B []byte      `msgpack:"b,omitempty"`
	L []wireValue `msgpack:"l,omitempty"`
}

func toWire(v any) wireValue {
	switch v := v.(type) {
	case nil:
		return wireValue{T: wNil}
	case bool:
		if v {
			return wireValue{T: wTrue}
		}
		return wireValue{T: wFalse}
	case int64:
		return wireValue{T: wInt, I: v}
	case float64:
		return wireValue{T: wFloat, F: v}
	case string:
		return wireValue{T: wString, S: v}
	case []byte:
		return wireValue{T: wBytes, B: v}
	case Tuple:
		return wireValue{T: wTuple, L: toWireList(v)}
	case []any:
		return wireValue{T: wList, L: toWireList(v)}
	case map[any]any:
		keys := make([]any, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		slices.SortFunc(keys, Compare)
		l := make([]wireValue, 0, 2*len(v))
		for _, k := range keys {
			l = append(l, toWire(k), toWire(v[k]))
		}
		return wireValue{T: wMap, L: l}
	case ref:
		return wireValue{T: wRef, I: int64(v)}
	case Object:
		if v.OID() == 0 {
			panic(fmt.Errorf("%w: %s", ErrNotAttached, v.Kind()))
		}
		return wireValue{T: wRef, I: int64(v.OID())}
	default:
		panic(fmt.Errorf("toWire: unnormalized value %T", v))
	}
}

func toWireList[S ~[]any](l S) []wireValue {
	out := make([]wireValue, len(l))
	for i, el := range l {
		out[i] = toWire(el)
	}
	return out
}

func fromWire(w *wireValue) (any, error) {
	switch w.T {
	case wNil:
		return nil, nil
	case wFalse:
		return false, nil
	case wTrue:
		return true, nil
	case wInt:
		return w.I, nil
	case wFloat:
		return w.F, nil
	case wString:
		return w.S, nil
	case wBytes:
		if w.B == nil {
			return []byte{}, nil
		}
		return w.B, nil
	case wList, wTuple:
		out := make([]any, len(w.L))
		for i := range w.L {
			el, err := fromWire(&w.L[i])
			if err != nil {
				return nil, err
			}
			out[i] = el
		}
		if w.T == wTuple {
			return Tuple(out), nil
		}
		return out, nil
	case wMap:
		if len(w.L)%2 != 0 {
			return nil, fmt.Errorf("odd number of map elements: %d", len(w.L))
		}
		out := make(map[any]any, len(w.L)/2)
		for i := 0; i < len(w.L); i += 2 {
			k, err := fromWire(&w.L[i])
			if err != nil {
				return nil, err
			}
			v, err := fromWire(&w.L[i+1])
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	case wRef:
		return ref(w.I), nil
	default:
		return nil, fmt.Errorf("invalid value tag %d", w.T)
	}
}

func encodeValue(v any) []byte {
	w := toWire(v)
	return must(msgpack.Marshal(&w))
}

func decodeValue(data []byte) (any, error) {
	var w wireValue
	err := msgpack.Unmarshal(data, &w)
	if err != nil {
		return nil, dataErrf(data, 0, err, "invalid value")
	}
	v, err := fromWire(&w)
	if err != nil {
		return nil, dataErrf(data, 0, err, "invalid value")
	}
	return v, nil
}
