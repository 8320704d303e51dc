package store

import (
	"bytes"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
)

var (
	boltObjects = []byte("objects")
	boltTrees   = []byte("trees")
	boltMeta    = []byte("meta")
)

// boltStorage keeps objects and meta as top-level buckets and every tree
// container as a bucket nested in "trees", named by its hex OID.
type boltStorage struct {
	bdb *bbolt.DB
}

func newBoltStorage(bdb *bbolt.DB) (*boltStorage, error) {
	err := bdb.Update(func(btx *bbolt.Tx) error {
		for _, name := range [][]byte{boltObjects, boltTrees, boltMeta} {
			if _, err := btx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &boltStorage{bdb: bdb}, nil
}

func (s *boltStorage) BeginTx(writable bool) (storageTx, error) {
	btx, err := s.bdb.Begin(writable)
	if err != nil {
		return nil, err
	}
	return boltTx{btx}, nil
}

func (s *boltStorage) Close() error {
	return s.bdb.Close()
}

type boltTx struct {
	btx *bbolt.Tx
}

func (tx boltTx) Writable() bool { return tx.btx.Writable() }

func (tx boltTx) Objects() storageBucket { return boltBucket{tx.btx.Bucket(boltObjects)} }

func (tx boltTx) Meta() storageBucket { return boltBucket{tx.btx.Bucket(boltMeta)} }

func (tx boltTx) Tree(oid OID, create bool) (storageBucket, error) {
	trees := tx.btx.Bucket(boltTrees)
	name := []byte(treeBucketName(oid))
	if b := trees.Bucket(name); b != nil {
		return boltBucket{b}, nil
	}
	if !create {
		return nil, nil
	}
	b, err := trees.CreateBucket(name)
	if err != nil {
		return nil, err
	}
	return boltBucket{b}, nil
}

func (tx boltTx) DropTree(oid OID) error {
	err := tx.btx.Bucket(boltTrees).DeleteBucket([]byte(treeBucketName(oid)))
	if errors.Is(err, bbolt.ErrBucketNotFound) {
		return nil
	}
	return err
}

func (tx boltTx) Commit() error { return tx.btx.Commit() }

func (tx boltTx) Rollback() error {
	err := tx.btx.Rollback()
	if errors.Is(err, bbolt.ErrTxClosed) {
		return nil
	}
	return err
}

type boltBucket struct {
	b *bbolt.Bucket
}

func (b boltBucket) Get(key []byte) []byte       { return b.b.Get(key) }
func (b boltBucket) Put(key, value []byte) error { return b.b.Put(key, value) }
func (b boltBucket) Delete(key []byte) error     { return b.b.Delete(key) }
func (b boltBucket) Cursor() storageCursor       { return boltCursor{b.b.Cursor()} }

func (b boltBucket) Stats() bucketStats {
	s := b.b.Stats()
	return bucketStats{KeyN: s.KeyN, LeafInuse: int64(s.LeafInuse), Alloc: int64(s.BranchAlloc + s.LeafAlloc)}
}

// boltCursor adds SeekLast to the bbolt cursor.
type boltCursor struct {
	*bbolt.Cursor
}

func (c boltCursor) SeekLast(upper []byte) ([]byte, []byte) {
	k, v := c.Seek(upper)
	switch {
	case k == nil:
		return c.Last()
	case bytes.Equal(k, upper):
		return k, v
	default:
		return c.Prev()
	}
}
