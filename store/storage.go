package store

// storage persists the layout of a DB: a bucket of object records keyed by
// OID, a metadata bucket, and one sorted bucket per tree container holding
// its entries.
type storage interface {
	BeginTx(writable bool) (storageTx, error)
	Close() error
}

type storageTx interface {
	Writable() bool

	Objects() storageBucket
	Meta() storageBucket

	// Tree returns the entries of a tree container, or nil when none were
	// committed. With create, a writable tx makes the bucket exist.
	Tree(oid OID, create bool) (storageBucket, error)

	// DropTree deletes every entry of a tree container.
	DropTree(oid OID) error

	Commit() error

	// Rollback is safe to call after Commit and multiple times.
	Rollback() error
}

type storageBucket interface {
	Get(key []byte) []byte
	Put(key, value []byte) error
	Delete(key []byte) error
	Cursor() storageCursor
	Stats() bucketStats
}

type bucketStats struct {
	KeyN      int
	LeafInuse int64
	Alloc     int64
}

type storageCursor interface {
	First() (key, value []byte)
	Last() (key, value []byte)
	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)
	// SeekLast moves to the last key <= upper.
	SeekLast(upper []byte) (key, value []byte)
	Next() (key, value []byte)
	Prev() (key, value []byte)
}
