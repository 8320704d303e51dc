package sheraf

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDump(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := cowboys(t)
	threeCowboys(t, c, m)
	require.NoError(t, c.Commit())

	s := c.Dump(DumpAll, m)
	assert.Contains(t, s, m.Table()+" (3 instances)")
	assert.Contains(t, s, m.Table()+".stats: index_entries = ")
	assert.Contains(t, s, m.Table()+".3 = ")
	assert.Contains(t, s, m.Table()+".i.age age[age]\n")
	assert.Contains(t, s, m.Table()+".i.email email[email] unique\n")
	assert.Contains(t, s, m.Table()+".i.age.1: 30 => ")
	assert.NotContains(t, s, "MISSING")

	headers := c.Dump(DumpTableHeaders, m)
	assert.NotContains(t, headers, ".i.age")
}

func TestModelStats(t *testing.T) {
	db := setup(t)
	c := open(t, db)
	m := cowboys(t)
	threeCowboys(t, c, m)
	require.NoError(t, c.Commit())

	ms := c.ModelStats(m)
	assert.Equal(t, 3, ms.Instances)
	// two ages and three sizes; no emails
	assert.Equal(t, 5, ms.IndexEntries)
	assert.Equal(t, ms.PrimarySize+ms.IndexSize, ms.TotalSize())
	assert.GreaterOrEqual(t, ms.TotalAlloc(), ms.TotalSize())
}

func TestCollectorsRegister(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	for _, col := range Collectors() {
		require.NoError(t, reg.Register(col))
	}
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
