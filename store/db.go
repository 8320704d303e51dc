package store

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const defaultStateCacheSize = 10000

var (
	metaLastOID    = []byte("last_oid")
	metaLastSerial = []byte("last_serial")
)

type Options struct {
	Logger    *zap.Logger
	Verbose   bool
	IsTesting bool
	MmapSize  int

	// StateCacheSize bounds the number of decoded object states shared by
	// all connections. Zero means a default; negative disables the cache.
	StateCacheSize int
}

type DB struct {
	stg     storage
	logger  *zap.Logger
	verbose bool

	commitMu   sync.Mutex
	lastOID    atomic.Uint64
	lastSerial atomic.Uint64
	states     *lru.Cache[stateKey, any]

	OpenConns   atomic.Int64
	CommitCount atomic.Uint64
}

type stateKey struct {
	oid    OID
	serial uint64
}

// Open opens (creating if needed) a Bolt-backed database at path.
func Open(path string, opt Options) (*DB, error) {
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 64
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 1024
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if opt.MmapSize != 0 {
		bopt.InitialMmapSize = opt.MmapSize
	}

	bdb, err := bbolt.Open(path, 0666, &bopt)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	stg, err := newBoltStorage(bdb)
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("store: %w", err)
	}
	db, err := newDB(stg, opt)
	if err != nil {
		bdb.Close()
		return nil, err
	}
	return db, nil
}

// OpenMemory returns a transient in-memory database.
func OpenMemory(opt Options) (*DB, error) {
	return newDB(newMemStorage(), opt)
}

func newDB(stg storage, opt Options) (*DB, error) {
	db := &DB{
		stg:     stg,
		logger:  opt.Logger,
		verbose: opt.Verbose,
	}
	if db.logger == nil {
		db.logger = zap.NewNop()
	}
	if opt.StateCacheSize >= 0 {
		size := opt.StateCacheSize
		if size == 0 {
			size = defaultStateCacheSize
		}
		db.states = must(lru.New[stateKey, any](size))
	}
	if err := db.init(); err != nil {
		return nil, fmt.Errorf("store: init: %w", err)
	}
	return db, nil
}

func (db *DB) init() error {
	tx, err := db.stg.BeginTx(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	objects, meta := tx.Objects(), tx.Meta()

	lastOID := getMetaUint(meta, metaLastOID)
	lastSerial := getMetaUint(meta, metaLastSerial)
	if objects.Get(oidKey(RootOID)) == nil {
		lastSerial++
		rec := record{Flags: rfDefault, Serial: lastSerial, Kind: kindSmallMap, Data: encodeValue([]any{})}
		if err := objects.Put(oidKey(RootOID), rec.encode(nil)); err != nil {
			return err
		}
		lastOID = max(lastOID, uint64(RootOID))
		ensure(putMetaUint(meta, metaLastOID, lastOID))
		ensure(putMetaUint(meta, metaLastSerial, lastSerial))
		db.logger.Info("store: initialized new database")
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	db.lastOID.Store(lastOID)
	db.lastSerial.Store(lastSerial)
	return nil
}

func (db *DB) Close() error {
	if n := db.OpenConns.Load(); n > 0 {
		db.logger.Warn("store: closing database with open connections", zap.Int64("conns", n))
	}
	return db.stg.Close()
}

// LastSerial returns the serial of the last successful commit.
func (db *DB) LastSerial() uint64 {
	return db.lastSerial.Load()
}

func (db *DB) allocOID() OID {
	return OID(db.lastOID.Add(1))
}

func (db *DB) loadObject(stx storageTx, oid OID) (record, any, error) {
	raw := stx.Objects().Get(oidKey(oid))
	if raw == nil {
		return record{}, nil, fmt.Errorf("%w: %v", ErrObjectNotFound, oid)
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return rec, nil, fmt.Errorf("object %v: %w", oid, err)
	}
	key := stateKey{oid, rec.Serial}
	if db.states != nil {
		if st, ok := db.states.Get(key); ok {
			return rec, Clone(st), nil
		}
	}
	st, err := decodeValue(rec.Data)
	if err != nil {
		return rec, nil, fmt.Errorf("object %v: %w", oid, err)
	}
	if db.states != nil {
		db.states.Add(key, st)
	}
	return rec, Clone(st), nil
}

func (db *DB) commit(c *Conn) error {
	db.commitMu.Lock()
	defer db.commitMu.Unlock()

	wtx, err := db.stg.BeginTx(true)
	if err != nil {
		return err
	}
	defer wtx.Rollback()

	serial := db.lastSerial.Load() + 1
	objects := wtx.Objects()

	oids := make([]OID, 0, len(c.dirty))
	for oid := range c.dirty {
		oids = append(oids, oid)
	}
	slices.Sort(oids)

	for _, oid := range oids {
		obj := c.dirty[oid]
		b := obj.base()
		st := obj.state()

		if raw := objects.Get(oidKey(oid)); raw != nil {
			cur, err := decodeRecord(raw)
			if err != nil {
				return fmt.Errorf("object %v: %w", oid, err)
			}
			if c.created[oid] {
				return &ConflictError{OID: oid, Kind: obj.Kind(), Err: fmt.Errorf("OID already used")}
			}
			if cur.Serial != b.serial {
				st, err = db.resolve(c, obj, cur, st)
				if err != nil {
					conflictsTotal.WithLabelValues("failed").Inc()
					return err
				}
				conflictsTotal.WithLabelValues("resolved").Inc()
			}
		}

		rec := record{Flags: rfDefault, Serial: serial, Kind: obj.Kind(), Data: encodeValue(st)}
		if err := objects.Put(oidKey(oid), rec.encode(nil)); err != nil {
			return err
		}
		if db.verbose {
			db.logger.Debug("store: PUT", zap.Stringer("oid", oid), zap.String("kind", obj.Kind()), zap.Uint64("serial", serial))
		}
	}

	treeOIDs := make([]OID, 0, len(c.trees))
	for oid := range c.trees {
		treeOIDs = append(treeOIDs, oid)
	}
	slices.Sort(treeOIDs)
	for _, oid := range treeOIDs {
		if err := db.commitTree(wtx, c, oid, c.trees[oid], serial); err != nil {
			return err
		}
	}

	meta := wtx.Meta()
	ensure(putMetaUint(meta, metaLastOID, max(getMetaUint(meta, metaLastOID), db.lastOID.Load())))
	ensure(putMetaUint(meta, metaLastSerial, serial))
	if err := wtx.Commit(); err != nil {
		return err
	}
	db.lastSerial.Store(serial)
	db.CommitCount.Add(1)
	commitsTotal.Inc()
	if db.verbose {
		db.logger.Debug("store: committed", zap.Uint64("serial", serial), zap.Int("objects", len(oids)), zap.Int("trees", len(treeOIDs)))
	}
	return nil
}

func (db *DB) resolve(c *Conn, obj Object, cur record, st any) (any, error) {
	b := obj.base()
	conflict := &ConflictError{OID: b.oid, Kind: obj.Kind()}
	r, ok := obj.(Resolver)
	if !ok {
		return nil, conflict
	}
	_, old, err := db.loadObject(c.stx, b.oid)
	if err != nil {
		return nil, err
	}
	saved, err := decodeValue(cur.Data)
	if err != nil {
		return nil, fmt.Errorf("object %v: %w", b.oid, err)
	}
	merged, err := r.ResolveConflict(old, saved, st)
	if err != nil {
		conflict.Err = err
		if db.verbose {
			db.logger.Debug("store: conflict", zap.Stringer("oid", b.oid), zap.String("kind", obj.Kind()), zap.Error(err))
		}
		return nil, conflict
	}
	if db.verbose {
		db.logger.Debug("store: resolved conflict", zap.Stringer("oid", b.oid), zap.String("kind", obj.Kind()))
	}
	return merged, nil
}

func (db *DB) commitTree(wtx storageTx, c *Conn, oid OID, ov *treeOverlay, serial uint64) error {
	kind := "tree"
	if obj := c.cache[oid]; obj != nil {
		kind = obj.Kind()
	}
	if ov.cleared {
		bk, err := wtx.Tree(oid, false)
		if err != nil {
			return err
		}
		if bk != nil {
			cur := bk.Cursor()
			for k, raw := cur.First(); k != nil; k, raw = cur.Next() {
				if recordSerial(raw) > c.serial {
					return &ConflictError{OID: oid, Kind: kind, Key: append([]byte(nil), k...), Err: fmt.Errorf("changed concurrently with clear")}
				}
			}
			if err := wtx.DropTree(oid); err != nil {
				return err
			}
		}
	}
	bk, err := wtx.Tree(oid, true)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(ov.entries))
	for k := range ov.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		e := ov.entries[k]
		key := []byte(k)
		if !ov.cleared {
			if cur := recordSerial(bk.Get(key)); cur != e.base {
				conflictsTotal.WithLabelValues("failed").Inc()
				return &ConflictError{OID: oid, Kind: kind, Key: key}
			}
		}
		if e.deleted {
			if err := bk.Delete(key); err != nil {
				return err
			}
			continue
		}
		rec := record{Flags: rfDefault, Serial: serial, Data: encodeValue(e.val)}
		if err := bk.Put(key, rec.encode(nil)); err != nil {
			return err
		}
	}
	return nil
}

func getMetaUint(meta storageBucket, key []byte) uint64 {
	raw := meta.Get(key)
	if len(raw) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

func putMetaUint(meta storageBucket, key []byte, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return meta.Put(key, buf[:])
}
