package sheraf

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/andreyvit/sheraf/store"
)

// Index describes a secondary lookup table over one or more attributes.
type Index struct {
	key       string
	model     *Model
	attrs     []*Attribute
	attrNames []string

	unique  bool
	primary bool
	auto    bool
	nullOK  *bool
	noneOK  *bool

	keyFuncs    []*keysFunc
	defaultKeys func(inst *Instance, vals ...any) any
	searchFunc  func(v any) any
	mapping     func() *store.LargeMap
}

// keysFunc computes index keys from the values of an attribute subset.
type keysFunc struct {
	fn        func(inst *Instance, vals ...any) any
	attrNames []string
	attrs     []*Attribute
}

type IndexOption func(idx *Index)

func newIndex(opts []IndexOption) *Index {
	idx := &Index{auto: true}
	for _, o := range opts {
		o(idx)
	}
	return idx
}

// Key sets the name the index is stored and queried under.
func Key(name string) IndexOption {
	return func(idx *Index) { idx.key = name }
}

func Unique() IndexOption {
	return func(idx *Index) { idx.unique = true }
}

// Primary makes the index the model's identifier index. It implies Unique.
func Primary() IndexOption {
	return func(idx *Index) { idx.primary, idx.unique = true, true }
}

// Manual disables automatic maintenance; the index is only filled by
// RebuildIndexes and is never used to plan queries.
func Manual() IndexOption {
	return func(idx *Index) { idx.auto = false }
}

func NullOK(v bool) IndexOption {
	return func(idx *Index) { idx.nullOK = &v }
}

func NoneOK(v bool) IndexOption {
	return func(idx *Index) { idx.noneOK = &v }
}

// On lists the attributes of a model-level index.
func On(attrs ...string) IndexOption {
	return func(idx *Index) { idx.attrNames = append(idx.attrNames, attrs...) }
}

// IndexKeysFunc computes keys from the values of the given attributes
// (all index attributes when none are given). The result may be a single key
// or a slice or map of keys.
func IndexKeysFunc(fn func(vals ...any) any, attrs ...string) IndexOption {
	return InstanceIndexKeysFunc(func(_ *Instance, vals ...any) any { return fn(vals...) }, attrs...)
}

// InstanceIndexKeysFunc is like IndexKeysFunc, but fn also receives the instance.
func InstanceIndexKeysFunc(fn func(inst *Instance, vals ...any) any, attrs ...string) IndexOption {
	return func(idx *Index) {
		idx.keyFuncs = append(idx.keyFuncs, &keysFunc{fn: fn, attrNames: attrs})
	}
}

// DefaultIndexKeysFunc replaces the default key computation, which uses the
// attribute kind's keys for one attribute and a tuple of values for several.
func DefaultIndexKeysFunc(fn func(vals ...any) any) IndexOption {
	return func(idx *Index) {
		idx.defaultKeys = func(_ *Instance, vals ...any) any { return fn(vals...) }
	}
}

// SearchKeysFunc maps a Search value to index keys. Keys returned as a slice
// are looked up in order.
func SearchKeysFunc(fn func(v any) any) IndexOption {
	return func(idx *Index) { idx.searchFunc = fn }
}

// Mapping sets the factory of the index table.
func Mapping(f func() *store.LargeMap) IndexOption {
	return func(idx *Index) { idx.mapping = f }
}

func (idx *Index) Key() string {
	return idx.key
}

func (idx *Index) Model() *Model {
	return idx.model
}

func (idx *Index) Attributes() []*Attribute {
	return idx.attrs
}

func (idx *Index) Unique() bool  { return idx.unique }
func (idx *Index) Primary() bool { return idx.primary }
func (idx *Index) Auto() bool    { return idx.auto }

func (idx *Index) String() string {
	if idx.model == nil {
		return idx.key
	}
	return idx.model.table + "." + idx.key
}

func (idx *Index) clone() *Index {
	cp := *idx
	cp.model = nil
	cp.attrs = nil
	cp.attrNames = slices.Clone(idx.attrNames)
	cp.keyFuncs = make([]*keysFunc, len(idx.keyFuncs))
	for i, kf := range idx.keyFuncs {
		cp.keyFuncs[i] = &keysFunc{fn: kf.fn, attrNames: slices.Clone(kf.attrNames)}
	}
	return &cp
}

// custom reports whether keys come from user functions rather than from the
// attribute kind.
func (idx *Index) custom() bool {
	return len(idx.keyFuncs) > 0 || idx.defaultKeys != nil
}

func (idx *Index) newMapping() *store.LargeMap {
	if idx.mapping != nil {
		return idx.mapping()
	}
	if len(idx.attrs) == 1 && !idx.custom() {
		if _, ok := idx.attrs[0].kind.(integerKind); ok {
			return store.NewIntLargeMap()
		}
	}
	return store.NewLargeMap()
}

// collection reports whether one instance may occupy several keys.
func (idx *Index) collection() bool {
	if idx.custom() {
		return true
	}
	for _, a := range idx.attrs {
		switch a.kind.(type) {
		case *listKind, *dictKind:
			return true
		}
	}
	return false
}

// keysOf computes the keys inst occupies in the index. Subsets with an
// attribute that was never written produce no keys.
func (idx *Index) keysOf(inst *Instance) ([]any, error) {
	var raw []any
	if len(idx.keyFuncs) == 0 {
		if !allMaterialized(inst, idx.attrs) {
			return nil, nil
		}
		switch {
		case idx.defaultKeys != nil:
			vals, err := readAll(inst, idx.attrs)
			if err != nil {
				return nil, err
			}
			raw = flattenKeys(idx.defaultKeys(inst, vals...))
		case len(idx.attrs) == 1:
			a := idx.attrs[0]
			st, _ := a.stored(inst)
			raw = a.indexKeys(st)
		default:
			tuple := make(store.Tuple, len(idx.attrs))
			for i, a := range idx.attrs {
				st, _ := a.stored(inst)
				tuple[i] = singleKey(a.indexKeys(st))
			}
			raw = []any{tuple}
		}
	} else {
		for _, kf := range idx.keyFuncs {
			if !allMaterialized(inst, kf.attrs) {
				continue
			}
			vals, err := readAll(inst, kf.attrs)
			if err != nil {
				return nil, err
			}
			raw = append(raw, flattenKeys(kf.fn(inst, vals...))...)
		}
	}
	return idx.normalizeKeys(raw, true)
}

// normalizeKeys converts keys to their stored form and drops duplicates and,
// when filtering, the keys excluded by the null policy.
func (idx *Index) normalizeKeys(raw []any, filter bool) ([]any, error) {
	out := make([]any, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, k := range raw {
		if cnt, ok := k.(*store.Counter); ok {
			k = cnt.Value()
		}
		k, err := store.NormalizeKey(k)
		if err != nil {
			return nil, modelErrf(idx.model, idx, nil, err, "invalid index key")
		}
		if filter && !idx.keeps(k) {
			continue
		}
		enc := string(must(store.EncodeKey(k)))
		if seen[enc] {
			continue
		}
		seen[enc] = true
		out = append(out, k)
	}
	return out, nil
}

func (idx *Index) keeps(k any) bool {
	if k == nil {
		return *idx.noneOK
	}
	return *idx.nullOK || !falsy(k)
}

// filterKeys maps a Filter value to the keys to look up.
func (idx *Index) filterKeys(c *Conn, v any) ([]any, error) {
	if idx.custom() || len(idx.attrs) > 1 {
		return idx.normalizeKeys([]any{v}, false)
	}
	keys, err := idx.attrs[0].queryKeys(c, v)
	if err != nil {
		return nil, err
	}
	return idx.normalizeKeys(keys, false)
}

// searchKeys maps a Search value to the keys to look up. Without a search
// function, a single key function over one attribute is applied to v.
func (idx *Index) searchKeys(c *Conn, v any) ([]any, error) {
	switch {
	case idx.searchFunc != nil:
		return idx.normalizeKeys(flattenKeys(idx.searchFunc(v)), false)
	case len(idx.keyFuncs) == 1 && len(idx.keyFuncs[0].attrs) == 1:
		return idx.normalizeKeys(flattenKeys(idx.keyFuncs[0].fn(nil, v)), false)
	case idx.defaultKeys != nil && len(idx.attrs) == 1:
		return idx.normalizeKeys(flattenKeys(idx.defaultKeys(nil, v)), false)
	}
	return idx.filterKeys(c, v)
}

// matches reports whether inst occupies any of keys.
func (idx *Index) matches(inst *Instance, keys []any) (bool, error) {
	own, err := idx.keysOf(inst)
	if err != nil {
		return false, err
	}
	for _, k := range own {
		if slices.ContainsFunc(keys, func(q any) bool { return store.Equal(q, k) }) {
			return true, nil
		}
	}
	return false, nil
}

func allMaterialized(inst *Instance, attrs []*Attribute) bool {
	for _, a := range attrs {
		if !a.materialized(inst) {
			return false
		}
	}
	return true
}

func readAll(inst *Instance, attrs []*Attribute) ([]any, error) {
	vals := make([]any, len(attrs))
	for i, a := range attrs {
		v, err := a.read(inst)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

// flattenKeys treats slices and maps returned by key functions as key sets.
// A store.Tuple is a single key.
func flattenKeys(v any) []any {
	switch v := v.(type) {
	case nil:
		return []any{nil}
	case store.Tuple, []byte, string:
		return []any{v}
	case []any:
		return v
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	case reflect.Map:
		out := make([]any, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			out = append(out, k.Interface())
		}
		slices.SortFunc(out, store.Compare)
		return out
	}
	return []any{v}
}

func singleKey(keys []any) any {
	if len(keys) == 1 {
		return keys[0]
	}
	return store.Tuple(keys)
}

func falsy(k any) bool {
	switch k := k.(type) {
	case nil:
		return true
	case bool:
		return !k
	case int64:
		return k == 0
	case float64:
		return k == 0
	case string:
		return k == ""
	case []byte:
		return len(k) == 0
	case store.Tuple:
		return len(k) == 0
	}
	return false
}

func (idx *Index) finalize(m *Model) {
	idx.model = m
	if len(idx.attrs) == 0 {
		for _, name := range idx.attrNames {
			a := m.attrsByName[name]
			if a == nil {
				panic(modelErrf(m, idx, nil, ErrInvalidIndex, "unknown attribute %q", name))
			}
			idx.attrs = append(idx.attrs, a)
		}
	}
	if len(idx.attrs) == 0 {
		panic(modelErrf(m, idx, nil, ErrInvalidIndex, "index has no attributes"))
	}
	if idx.key == "" {
		if len(idx.attrs) > 1 {
			panic(modelErrf(m, idx, nil, ErrInvalidIndex, "a multi-attribute index needs a Key"))
		}
		idx.key = idx.attrs[0].name
	}
	for _, kf := range idx.keyFuncs {
		if len(kf.attrNames) == 0 {
			kf.attrs = idx.attrs
			continue
		}
		for _, name := range kf.attrNames {
			a := m.attrsByName[name]
			if a == nil {
				panic(modelErrf(m, idx, nil, ErrInvalidIndex, "unknown attribute %q", name))
			}
			kf.attrs = append(kf.attrs, a)
		}
	}
	if idx.nullOK == nil {
		v := idx.attrs[0].nullOK
		idx.nullOK = &v
	}
	if idx.noneOK == nil {
		v := idx.attrs[0].noneOK
		idx.noneOK = &v
	}
	if idx.primary && idx.collection() {
		panic(modelErrf(m, idx, nil, ErrPrimaryKey, "a primary index cannot have several keys per instance"))
	}
}

// sourceAttrs returns every attribute whose value feeds the index.
func (idx *Index) sourceAttrs() []*Attribute {
	out := slices.Clone(idx.attrs)
	for _, kf := range idx.keyFuncs {
		for _, a := range kf.attrs {
			if !slices.Contains(out, a) {
				out = append(out, a)
			}
		}
	}
	return out
}

func (idx *Index) describe() string {
	names := make([]string, len(idx.attrs))
	for i, a := range idx.attrs {
		names[i] = a.name
	}
	flags := ""
	switch {
	case idx.primary:
		flags = " primary"
	case idx.unique:
		flags = " unique"
	}
	if !idx.auto {
		flags += " manual"
	}
	return fmt.Sprintf("%s%v%s", idx.key, names, flags)
}
