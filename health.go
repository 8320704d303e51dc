package sheraf

import (
	"fmt"
	"slices"

	"go.uber.org/multierr"
)

// IndexHealth is the result of checking one index table of a model.
type IndexHealth struct {
	Model   string
	Index   string
	Checked int
	KO      []string
}

func (h IndexHealth) OK() bool {
	return len(h.KO) == 0
}

func (h IndexHealth) String() string {
	if h.OK() {
		return fmt.Sprintf("%s.%s: OK (%d checked)", h.Model, h.Index, h.Checked)
	}
	return fmt.Sprintf("%s.%s: KO (%d of %d checked)", h.Model, h.Index, len(h.KO), h.Checked)
}

// CheckAttributesIndex verifies that inst can be found under each of its keys
// in every automatic index of its model.
func CheckAttributesIndex(c *Conn, inst *Instance) error {
	var err error
	for _, idx := range inst.model.indexes {
		if !idx.auto {
			continue
		}
		err = multierr.Append(err, checkInstance(c, idx, inst))
	}
	return err
}

func checkInstance(c *Conn, idx *Index, inst *Instance) error {
	im := c.manager(idx)
	if !im.exists() {
		return modelErrf(idx.model, idx, nil, ErrInvalidIndex, "index table is missing")
	}
	keys, err := idx.keysOf(inst)
	if err != nil {
		return err
	}
	if idx.primary {
		keys = []any{inst.idStored()}
	}
	for _, k := range keys {
		if !slices.Contains(im.lookup(k), inst.mapping) {
			return modelErrf(idx.model, idx, k, ErrInvalidIndex, "%v is missing from the index", inst)
		}
	}
	return nil
}

// CheckModelIndex checks every index of m. Each entry of an index table must
// point to an instance reachable through the primary index and, for
// automatic indexes, one that still has the entry key among its keys. Every
// instance must also be present in every automatic index.
func CheckModelIndex(c *Conn, m *Model) []IndexHealth {
	out := make([]IndexHealth, 0, len(m.indexes))
	pm := c.manager(m.primary)
	for _, idx := range m.indexes {
		h := IndexHealth{Model: m.table, Index: idx.key}
		im := c.manager(idx)
		if !im.exists() {
			if idx.auto && pm.count() > 0 {
				h.KO = append(h.KO, "index table is missing")
			}
			out = append(out, h)
			continue
		}
		for k, mapping := range im.entries(false) {
			h.Checked++
			inst := c.wrap(m, mapping)
			if !slices.Contains(pm.lookup(inst.idStored()), mapping) {
				h.KO = append(h.KO, fmt.Sprintf("%v: %v is not reachable through the primary index", k, inst))
				continue
			}
			if !idx.auto || idx.primary {
				continue
			}
			if ok, err := idx.matches(inst, []any{k}); err != nil {
				h.KO = append(h.KO, fmt.Sprintf("%v: %v", k, err))
			} else if !ok {
				h.KO = append(h.KO, fmt.Sprintf("%v: %v no longer has this key", k, inst))
			}
		}
		if idx.auto && !idx.primary {
			for inst := range m.instances(c, false) {
				if err := checkInstance(c, idx, inst); err != nil {
					h.KO = append(h.KO, err.Error())
				}
			}
		}
		out = append(out, h)
	}
	return out
}

// Check runs CheckModelIndex on the given models, or on every registered
// model when none are given. The error lists the broken indexes.
func Check(c *Conn, models ...*Model) ([]IndexHealth, error) {
	if len(models) == 0 {
		models = Models()
	}
	var out []IndexHealth
	var err error
	for _, m := range models {
		if im := c.manager(m.primary); im.err != nil {
			err = multierr.Append(err, im.err)
			continue
		}
		for _, h := range CheckModelIndex(c, m) {
			out = append(out, h)
			if !h.OK() {
				err = multierr.Append(err, modelErrf(m, m.indexByKey[h.Index], nil, ErrInvalidIndex, "%d broken entries", len(h.KO)))
			}
		}
	}
	return out, err
}
