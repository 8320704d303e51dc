/*
Package store implements a small transactional object database on top of a
key-value storage (Bolt, or an in-memory storage for tests).

We implement:

1. Persistent objects identified by OIDs, loaded on demand into a per-connection
cache and saved at commit time.

2. Containers: SmallMap (an insertion-ordered map stored as one record),
LargeMap and Set (ordered trees), LargeList (a tree keyed by position)
and Counter.

3. Optimistic concurrency. Each connection reads from a storage snapshot taken
when its transaction began. At commit we compare every modified object's serial
with the committed one. On mismatch the object gets a chance to merge the three
states (base, saved, new); objects that cannot merge fail the commit with
a *ConflictError.

# Technical Details

**Buckets.**
`objects` maps a big-endian OID to an object record. `trees` holds one nested
bucket per tree container, named after the container's OID. `meta` holds the
last allocated OID and the last committed serial.

**Record**: flags (uvarint), serial (uvarint), kind (varbytes), data (varbytes),
xxhash64 of everything before it (8 bytes, big-endian). Tree entries use the same
record format with an empty kind.

**Data**: msgpack of a tagged value tree (see value.go). References to other
persistent objects are stored as OIDs.

**Tree keys** use an order-preserving encoding (see keyenc.go), so that byte order
matches key order: nil < false < true < integers < floats < strings < bytes < tuples.

Connections are not safe for concurrent use. Use one connection per goroutine.
*/
package store
