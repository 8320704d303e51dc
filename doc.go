/*
Package sheraf implements indexed models on top of an object store with
native B-tree collections (package store).

We implement:

1. Models, declared once per process with NewModel, made of typed attributes
(strings, numbers, dates, lists, dicts, references to other models, counters).

2. Indexes, maintained automatically on every write, unique or multiple,
over one or several attributes, with custom key functions.

3. Query sets, lazily evaluated filters and orders that use indexes when they
can and scan otherwise.

4. Rebuild and health tooling for indexes declared after data exists.

# Technical Details

**Layout.**
For a model stored under table T, root[T] is a small map with one entry per
index. root[T][primary] maps identifiers to instance mappings. A unique index
maps each key to an instance mapping; a multiple index maps each key to a small
map of identifier to instance mapping.

**Instance mapping.**
A small map of attribute storage key to stored value, plus "_creation", the
creation time in seconds since the epoch. Storage keys are attribute names by
default, or declaration positions with ModelBuilder.IntegerKeys.

**Transactions.**
A Conn is one transaction at a time. Instances read through a Conn are only
valid until the next Commit or Abort. Concurrent transactions are
optimistic: conflicts are detected at commit and resolved by the persistent
types when possible (see store.Counter and store.SmallMap); Attempt retries
the rest.

**Initialization guard.**
An automatic index declared on a model that already holds instances has no
table. Writes skip it and report an IndexationWarning until
Model.RebuildIndexes creates it.
*/
package sheraf
