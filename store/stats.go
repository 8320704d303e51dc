package store

// TreeStats describes the committed entries of a tree container as seen by
// the current transaction.
type TreeStats struct {
	Entries int
	Size    int
	Alloc   int
}

// ObjectStats describes the objects bucket as seen by the current transaction.
type ObjectStats struct {
	Objects int
	Size    int
	Alloc   int
}

func (c *Conn) TreeStats(oid OID) TreeStats {
	if c.closed {
		panic(ErrClosed)
	}
	bk := c.treeBucket(oid)
	if bk == nil {
		return TreeStats{}
	}
	bs := bk.Stats()
	return TreeStats{Entries: bs.KeyN, Size: int(bs.LeafInuse), Alloc: int(bs.Alloc)}
}

func (c *Conn) ObjectStats() ObjectStats {
	if c.closed {
		panic(ErrClosed)
	}
	bs := c.stx.Objects().Stats()
	return ObjectStats{Objects: bs.KeyN, Size: int(bs.LeafInuse), Alloc: int(bs.Alloc)}
}
