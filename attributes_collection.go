package sheraf

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/andreyvit/sheraf/store"
)

// ListAttribute stores a list of values of the sub attribute kind. Index keys
// of a list are the keys of its elements, and a filter value is an element.
func ListAttribute(sub *Attribute) *Attribute {
	return newAttribute(&listKind{sub: sub})
}

// SetAttribute is like ListAttribute, but stores its elements sorted and
// without duplicates.
func SetAttribute(sub *Attribute) *Attribute {
	return newAttribute(&listKind{sub: sub, set: true})
}

type listKind struct {
	sub *Attribute
	set bool
}

func (k *listKind) zero() any { return []any{} }

func (k *listKind) serialize(a *Attribute, c *Conn, v any) (any, error) {
	if v == nil {
		return []any{}, nil
	}
	items, ok := toSlice(v)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a list", store.ErrInvalidValue, v)
	}
	out := make([]any, 0, len(items))
	for _, el := range items {
		st, err := k.sub.kind.serialize(k.sub, c, el)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if k.set {
		slices.SortStableFunc(out, store.Compare)
		out = slices.CompactFunc(out, store.Equal)
	}
	return out, nil
}

func (k *listKind) deserialize(a *Attribute, c *Conn, st any) (any, error) {
	items, ok := toSlice(st)
	if !ok {
		return st, nil
	}
	out := make([]any, 0, len(items))
	for _, el := range items {
		v, err := k.sub.kind.deserialize(k.sub, c, el)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (k *listKind) indexKeys(a *Attribute, st any) []any {
	items, _ := st.([]any)
	var keys []any
	for _, el := range items {
		keys = append(keys, k.sub.kind.indexKeys(k.sub, el)...)
	}
	return keys
}

func (k *listKind) queryKeys(a *Attribute, c *Conn, v any) ([]any, error) {
	return k.sub.kind.queryKeys(k.sub, c, v)
}

// update adds the new elements missing from old on Addition, and drops the
// old elements missing from new on Deletion.
func (k *listKind) update(a *Attribute, c *Conn, old, new any, opt EditOptions) (any, error) {
	if opt.Replacement {
		return new, nil
	}
	oldItems, _ := toSlice(old)
	newItems, _ := toSlice(new)
	oldSt, err := k.serializeEach(c, oldItems)
	if err != nil {
		return nil, err
	}
	newSt, err := k.serializeEach(c, newItems)
	if err != nil {
		return nil, err
	}

	var out []any
	for i, el := range oldItems {
		if opt.Deletion && !containsStored(newSt, oldSt[i]) {
			continue
		}
		out = append(out, el)
	}
	if opt.Addition {
		for i, el := range newItems {
			if !containsStored(oldSt, newSt[i]) {
				out = append(out, el)
			}
		}
	}
	return out, nil
}

func (k *listKind) serializeEach(c *Conn, items []any) ([]any, error) {
	out := make([]any, len(items))
	for i, el := range items {
		st, err := k.sub.kind.serialize(k.sub, c, el)
		if err != nil {
			return nil, err
		}
		out[i] = st
	}
	return out, nil
}

func containsStored(list []any, st any) bool {
	return slices.ContainsFunc(list, func(e any) bool { return store.Equal(e, st) })
}

// DictAttribute stores a map from scalar keys to values of the sub attribute
// kind. Index keys of a dict are the keys of its values.
func DictAttribute(sub *Attribute) *Attribute {
	return newAttribute(&dictKind{sub: sub})
}

type dictKind struct {
	sub *Attribute
}

func (k *dictKind) zero() any { return map[any]any{} }

func (k *dictKind) serialize(a *Attribute, c *Conn, v any) (any, error) {
	if v == nil {
		return map[any]any{}, nil
	}
	items, ok := toMap(v)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a dict", store.ErrInvalidValue, v)
	}
	out := make(map[any]any, len(items))
	for key, el := range items {
		st, err := k.sub.kind.serialize(k.sub, c, el)
		if err != nil {
			return nil, err
		}
		out[key] = st
	}
	return out, nil
}

func (k *dictKind) deserialize(a *Attribute, c *Conn, st any) (any, error) {
	items, ok := toMap(st)
	if !ok {
		return st, nil
	}
	out := make(map[any]any, len(items))
	for key, el := range items {
		v, err := k.sub.kind.deserialize(k.sub, c, el)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

func (k *dictKind) indexKeys(a *Attribute, st any) []any {
	items, _ := st.(map[any]any)
	var keys []any
	for _, el := range items {
		keys = append(keys, k.sub.kind.indexKeys(k.sub, el)...)
	}
	slices.SortFunc(keys, store.Compare)
	return keys
}

func (k *dictKind) queryKeys(a *Attribute, c *Conn, v any) ([]any, error) {
	return k.sub.kind.queryKeys(k.sub, c, v)
}

// update adds keys missing from old on Addition, updates common keys
// with the sub kind on Edition, and drops keys missing from new on Deletion.
func (k *dictKind) update(a *Attribute, c *Conn, old, new any, opt EditOptions) (any, error) {
	if opt.Replacement {
		return new, nil
	}
	oldItems, _ := toMap(old)
	newItems, _ := toMap(new)
	out := make(map[any]any, len(oldItems))
	for key, el := range oldItems {
		nv, inNew := newItems[key]
		switch {
		case !inNew && opt.Deletion:
			continue
		case inNew && opt.Edition:
			v, err := k.sub.kind.update(k.sub, c, el, nv, opt)
			if err != nil {
				return nil, err
			}
			out[key] = v
		default:
			out[key] = el
		}
	}
	if opt.Addition {
		for key, el := range newItems {
			if _, ok := oldItems[key]; !ok {
				out[key] = el
			}
		}
	}
	return out, nil
}

// toSlice converts any slice or array except []byte into []any.
func toSlice(v any) ([]any, bool) {
	switch v := v.(type) {
	case nil:
		return nil, true
	case []any:
		return v, true
	case store.Tuple:
		return v, true
	case []byte, string:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// toMap converts any map with scalar keys into map[any]any with normalized
// keys.
func toMap(v any) (map[any]any, bool) {
	if v == nil {
		return nil, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map {
		return nil, false
	}
	out := make(map[any]any, rv.Len())
	for it := rv.MapRange(); it.Next(); {
		key, err := store.NormalizeKey(it.Key().Interface())
		if err != nil {
			return nil, false
		}
		out[key] = it.Value().Interface()
	}
	return out, true
}
