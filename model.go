package sheraf

import (
	"fmt"
	"slices"
	"sync"
)

// Model is an indexed model: a set of attributes and indexes whose instances
// are stored under root[table] of the model's database.
type Model struct {
	table    string
	abstract bool
	inline   bool

	attrs       []*Attribute
	attrsByName map[string]*Attribute
	declared    []*Index

	indexes     []*Index
	indexByKey  map[string]*Index
	attrIndexes map[*Attribute][]*Index
	primary     *Index

	dbName  string
	intKeys bool

	onCreation []Hook
	onDeletion []Hook
}

var models = struct {
	sync.RWMutex
	byTable map[string]*Model
}{byTable: make(map[string]*Model)}

// LookupModel returns the model registered under table, or nil.
func LookupModel(table string) *Model {
	models.RLock()
	defer models.RUnlock()
	return models.byTable[table]
}

// Models returns every registered model, sorted by table.
func Models() []*Model {
	models.RLock()
	out := make([]*Model, 0, len(models.byTable))
	for _, m := range models.byTable {
		out = append(out, m)
	}
	models.RUnlock()
	slices.SortFunc(out, func(a, b *Model) int {
		switch {
		case a.table < b.table:
			return -1
		case a.table > b.table:
			return 1
		}
		return 0
	})
	return out
}

// ModelBuilder collects the declarations of a model.
type ModelBuilder struct {
	m *Model
}

// NewModel declares a model stored under table and registers it. Declaring
// two models with the same table panics with ErrSameNameForTable. A model
// without a primary index gets a StringUUIDAttribute primary named "id".
func NewModel(table string, build func(b *ModelBuilder)) *Model {
	if table == "" {
		panic(fmt.Errorf("%w: empty table name", ErrSheraf))
	}
	m := declare(build)
	m.table = table
	m.finalize()

	models.Lock()
	defer models.Unlock()
	if models.byTable[table] != nil {
		panic(modelErrf(m, nil, nil, ErrSameNameForTable, "table is already used by another model"))
	}
	models.byTable[table] = m
	return m
}

// NewAbstractModel declares a model that is only used through Inherit.
func NewAbstractModel(build func(b *ModelBuilder)) *Model {
	m := declare(build)
	m.abstract = true
	m.assignAttrs()
	return m
}

// NewInlineModel declares a model whose instances are stored inside another
// instance by InlineModelAttribute. Inline models have no table and no index.
func NewInlineModel(build func(b *ModelBuilder)) *Model {
	m := declare(build)
	m.inline = true
	m.assignAttrs()
	for _, a := range m.attrs {
		if len(a.indexes) > 0 {
			panic(modelErrf(m, nil, nil, ErrInvalidIndex, "inline model attribute %s cannot be indexed", a.name))
		}
	}
	if len(m.declared) > 0 {
		panic(modelErrf(m, nil, nil, ErrInvalidIndex, "inline model cannot be indexed"))
	}
	return m
}

func declare(build func(b *ModelBuilder)) *Model {
	m := &Model{
		attrsByName: make(map[string]*Attribute),
		indexByKey:  make(map[string]*Index),
		attrIndexes: make(map[*Attribute][]*Index),
	}
	if build != nil {
		build(&ModelBuilder{m})
	}
	return m
}

// Attr adds an attribute. Declaring an attribute with the name of an existing
// one, for example an inherited one, replaces it in place.
func (b *ModelBuilder) Attr(name string, a *Attribute) *Attribute {
	if name == "" || name == creationKey {
		panic(fmt.Errorf("%w: invalid attribute name %q", ErrSheraf, name))
	}
	a.name = name
	if old := b.m.attrsByName[name]; old != nil {
		b.m.attrs[slices.Index(b.m.attrs, old)] = a
	} else {
		b.m.attrs = append(b.m.attrs, a)
	}
	b.m.attrsByName[name] = a
	return a
}

// Inherit copies the attributes, indexes, hooks and settings of parent.
// Attributes declared afterwards override inherited ones by name.
func (b *ModelBuilder) Inherit(parent *Model) {
	for _, a := range parent.attrs {
		b.Attr(a.name, a.clone())
	}
	for _, idx := range parent.declared {
		b.m.declared = append(b.m.declared, idx.clone())
	}
	b.m.onCreation = append(b.m.onCreation, parent.onCreation...)
	b.m.onDeletion = append(b.m.onDeletion, parent.onDeletion...)
	if parent.dbName != "" {
		b.m.dbName = parent.dbName
	}
	b.m.intKeys = b.m.intKeys || parent.intKeys
}

// Index declares a model-level index stored under key. Its attributes are
// given with On; without On, the index is over the attribute named key.
func (b *ModelBuilder) Index(key string, opts ...IndexOption) *Index {
	idx := newIndex(append([]IndexOption{Key(key)}, opts...))
	if len(idx.attrNames) == 0 {
		idx.attrNames = []string{key}
	}
	b.m.declared = append(b.m.declared, idx)
	return idx
}

// DatabaseName makes the model store its tables in the named database, which
// is opened inside any connection that touches the model.
func (b *ModelBuilder) DatabaseName(name string) {
	b.m.dbName = name
}

// IntegerKeys stores attributes under their declaration position instead of
// their name, unless a Key is given explicitly.
func (b *ModelBuilder) IntegerKeys() {
	b.m.intKeys = true
}

func (b *ModelBuilder) OnCreation(h Hook) {
	b.m.onCreation = append(b.m.onCreation, h)
}

func (b *ModelBuilder) OnDeletion(h Hook) {
	b.m.onDeletion = append(b.m.onDeletion, h)
}

func (m *Model) assignAttrs() {
	for i, a := range m.attrs {
		a.model = m
		a.pos = i
		if !a.keysSet {
			if m.intKeys {
				a.keys = []any{int64(i)}
			} else {
				a.keys = []any{a.name}
			}
		}
		for _, k := range a.keys {
			if k == creationKey {
				panic(fmt.Errorf("%w: %s uses the reserved key %q", ErrSheraf, a.FullName(), k))
			}
		}
	}
}

func (m *Model) finalize() {
	if !m.hasPrimary() {
		if m.attrsByName["id"] != nil {
			panic(modelErrf(m, nil, nil, ErrPrimaryKey, `attribute "id" exists but is not the primary index`))
		}
		id := StringUUIDAttribute().Index(Primary())
		id.name = "id"
		m.attrs = append([]*Attribute{id}, m.attrs...)
		m.attrsByName["id"] = id
	}
	m.assignAttrs()

	for _, a := range m.attrs {
		m.indexes = append(m.indexes, a.indexes...)
	}
	m.indexes = append(m.indexes, m.declared...)
	for _, idx := range m.indexes {
		idx.finalize(m)
		if m.indexByKey[idx.key] != nil {
			panic(modelErrf(m, idx, nil, ErrInvalidIndex, "duplicate index key"))
		}
		m.indexByKey[idx.key] = idx
		if idx.primary {
			if m.primary != nil {
				panic(modelErrf(m, idx, nil, ErrPrimaryKey, "model has several primary indexes"))
			}
			m.primary = idx
		}
		for _, a := range idx.sourceAttrs() {
			// Counters change in place, behind the index manager.
			if _, ok := a.kind.(counterKind); ok {
				panic(modelErrf(m, idx, nil, ErrInvalidIndex, "counter attribute %s cannot be indexed", a.name))
			}
			m.attrIndexes[a] = append(m.attrIndexes[a], idx)
			if idx.auto {
				a.lazy = false
			}
		}
	}
	if len(m.primary.attrs) != 1 || m.primary.custom() {
		panic(modelErrf(m, m.primary, nil, ErrPrimaryKey, "primary index must be over one attribute"))
	}
	if m.primary.attrs[0].virtual() {
		panic(modelErrf(m, m.primary, nil, ErrPrimaryKey, "primary index cannot be over a reverse attribute"))
	}
	for _, a := range m.attrs {
		if a.virtual() && len(m.attrIndexes[a]) > 0 {
			panic(modelErrf(m, nil, nil, ErrInvalidIndex, "reverse attribute %s cannot be indexed", a.name))
		}
	}
}

func (m *Model) hasPrimary() bool {
	for _, a := range m.attrs {
		for _, idx := range a.indexes {
			if idx.primary {
				return true
			}
		}
	}
	for _, idx := range m.declared {
		if idx.primary {
			return true
		}
	}
	return false
}

// Unregister removes the model from the table registry, so that the table
// can be declared again.
func (m *Model) Unregister() {
	models.Lock()
	defer models.Unlock()
	if models.byTable[m.table] == m {
		delete(models.byTable, m.table)
	}
}

func (m *Model) Name() string {
	switch {
	case m.table != "":
		return m.table
	case m.inline:
		return "(inline)"
	default:
		return "(abstract)"
	}
}

func (m *Model) Table() string {
	return m.table
}

// DatabaseName returns the preferred database, or "" for the connection's own.
func (m *Model) DatabaseName() string {
	return m.dbName
}

func (m *Model) Attributes() []*Attribute {
	return m.attrs
}

func (m *Model) Attribute(name string) *Attribute {
	return m.attrsByName[name]
}

func (m *Model) Indexes() []*Index {
	return m.indexes
}

func (m *Model) Index(key string) *Index {
	return m.indexByKey[key]
}

func (m *Model) PrimaryIndex() *Index {
	return m.primary
}

func (m *Model) String() string {
	return m.Name()
}

func (m *Model) primaryAttr() *Attribute {
	return m.primary.attrs[0]
}

func (m *Model) attr(name string) (*Attribute, error) {
	a := m.attrsByName[name]
	if a == nil {
		return nil, modelErrf(m, nil, nil, ErrSheraf, "unknown attribute %q", name)
	}
	return a, nil
}

// lookup returns the instance with the stored identifier id, or nil.
func (m *Model) lookup(c *Conn, id any) (*Instance, error) {
	im := c.manager(m.primary)
	if im.err != nil {
		return nil, im.err
	}
	mappings := im.lookup(id)
	if len(mappings) == 0 {
		return nil, nil
	}
	return c.wrap(m, mappings[0]), nil
}

// AutoIncrement is a default for integer primary attributes: it returns the
// largest identifier in use plus one, or 1 for the first instance.
//
//	b.Attr("id", sheraf.IntegerAttribute().Default(sheraf.AutoIncrement).Index(sheraf.Primary()))
func AutoIncrement(inst *Instance) any {
	im := inst.conn.manager(inst.model.primary)
	for k := range im.keys(true) {
		if n, ok := k.(int64); ok {
			return n + 1
		}
	}
	return int64(1)
}
