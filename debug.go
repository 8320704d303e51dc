package sheraf

import (
	"fmt"
	"strings"

	"github.com/andreyvit/sheraf/store"
)

type DumpFlags uint64

const (
	DumpTableHeaders = DumpFlags(1 << iota)
	DumpRows
	DumpStats
	DumpIndices
	DumpIndexRows

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump describes the tables of the given models, or of every registered
// model, as seen by the current transaction.
func (c *Conn) Dump(f DumpFlags, models ...*Model) string {
	if len(models) == 0 {
		models = Models()
	}
	var buf strings.Builder
	for _, m := range models {
		c.dumpModel(&buf, f, m)
	}
	return buf.String()
}

func (c *Conn) dumpModel(w *strings.Builder, f DumpFlags, m *Model) {
	prefix := m.table
	s := c.ModelStats(m)

	if f.Contains(DumpTableHeaders) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s (%d instances)\n", prefix, s.Instances)
	}
	if f.Contains(DumpStats) {
		fmt.Fprintf(w, "%s.stats: index_entries = %d, primary_size = %d, primary_alloc = %d, index_size = %d, index_alloc = %d, total_alloc = %d\n", prefix, s.IndexEntries, s.PrimarySize, s.PrimaryAlloc, s.IndexSize, s.IndexAlloc, s.TotalAlloc())
	}

	if f.Contains(DumpRows) {
		if f.Contains(DumpStats) {
			fmt.Fprintln(w, dumpSep2)
		}
		var pos int
		for inst := range m.instances(c, false) {
			pos++
			fmt.Fprintf(w, "%s.%d = %s\n", prefix, pos, inst.mapping)
		}
	}

	if f.Contains(DumpIndices) {
		for _, idx := range m.indexes {
			if !idx.primary {
				c.dumpIndex(w, prefix, f, idx)
			}
		}
	}
}

func (c *Conn) dumpIndex(w *strings.Builder, prefix string, f DumpFlags, idx *Index) {
	fmt.Fprintln(w, dumpSep2)
	prefix = prefix + ".i." + idx.key
	im := c.manager(idx)

	status := ""
	switch {
	case !im.exists():
		status = " MISSING"
	case !idx.auto:
		status = " MANUAL"
	}
	fmt.Fprintf(w, "%s %s%s\n", prefix, idx.describe(), status)

	if f.Contains(DumpIndexRows) && im.exists() {
		var pos int
		for k, mapping := range im.entries(false) {
			pos++
			inst := c.wrap(idx.model, mapping)
			fmt.Fprintf(w, "%s.%d: %v => %v\n", prefix, pos, k, inst.idStored())
		}
	}
}

// ModelStats describes the committed size of the tables of a model.
type ModelStats struct {
	Instances    int
	IndexEntries int

	PrimarySize  int
	PrimaryAlloc int
	IndexSize    int
	IndexAlloc   int
}

func (ms *ModelStats) TotalSize() int {
	return ms.PrimarySize + ms.IndexSize
}

func (ms *ModelStats) TotalAlloc() int {
	return ms.PrimaryAlloc + ms.IndexAlloc
}

func (c *Conn) ModelStats(m *Model) ModelStats {
	result := ModelStats{Instances: m.Count(c)}
	for _, idx := range m.indexes {
		im := c.manager(idx)
		for _, t := range im.tables() {
			ts := treeStats(t)
			if idx.primary {
				result.PrimarySize += ts.Size
				result.PrimaryAlloc += ts.Alloc
			} else {
				result.IndexSize += ts.Size
				result.IndexAlloc += ts.Alloc
			}
		}
		if !idx.primary {
			result.IndexEntries += im.count()
		}
	}
	return result
}

func treeStats(t *store.LargeMap) store.TreeStats {
	if t.Conn() == nil || t.OID() == 0 {
		return store.TreeStats{}
	}
	return t.Conn().TreeStats(t.OID())
}
