package sheraf

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type RebuildOptions struct {
	// BatchSize is the number of instances indexed between two commits; 1000
	// when zero.
	BatchSize int
	// Savepoints takes a savepoint after each batch instead of committing it.
	// When a batch fails, the connection is rolled back to the last savepoint
	// so that the earlier batches stay pending; the caller commits them.
	Savepoints bool
	// Start and End restrict the rebuild to the instances at positions
	// [Start, End) in identifier order. End is unbounded when zero. A partial
	// range does not drop the index tables, so that several ranges can be
	// rebuilt by separate processes after a full drop.
	Start, End int
	// Workers rebuilds batches concurrently, each in its own connection. The
	// table drop is committed before the workers start.
	Workers int
}

func (opt RebuildOptions) full() bool {
	return opt.Start == 0 && opt.End == 0
}

// RebuildIndexes re-creates the tables of the named indexes, or of every
// non-primary index when no name is given, from the instances in the
// primary index. Manual indexes are only filled this way.
func (m *Model) RebuildIndexes(ctx context.Context, c *Conn, opt RebuildOptions, names ...string) error {
	if opt.BatchSize <= 0 {
		opt.BatchSize = 1000
	}
	targets, err := m.rebuildTargets(names)
	if err != nil {
		return err
	}
	if opt.full() {
		for _, idx := range targets {
			im := c.manager(idx)
			im.drop()
			if _, err := im.writeTable(); err != nil {
				return err
			}
		}
	}

	var ids []any
	pos := 0
	for k := range c.manager(m.primary).keys(false) {
		if pos >= opt.Start && (opt.End == 0 || pos < opt.End) {
			ids = append(ids, k)
		}
		pos++
		if opt.End != 0 && pos >= opt.End {
			break
		}
	}

	var batches [][]any
	for len(ids) > 0 {
		n := min(opt.BatchSize, len(ids))
		batches = append(batches, ids[:n])
		ids = ids[n:]
	}

	logger := c.db.logger.With(zap.String("model", m.table), zap.Strings("indexes", indexKeys(targets)))
	if len(batches) == 0 && !opt.Savepoints {
		err = c.Commit()
	} else if opt.Workers > 1 {
		if err := c.Commit(); err != nil {
			return err
		}
		err = m.rebuildConcurrently(ctx, c.db, opt.Workers, targets, batches, logger)
		if aerr := c.Abort(); err == nil {
			err = aerr
		}
	} else {
		var sp *Savepoint
		if opt.Savepoints {
			sp = c.Savepoint()
		}
		done := 0
		for _, batch := range batches {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := m.rebuildBatch(c, targets, batch); err != nil {
				if sp != nil {
					err = multierr.Append(err, sp.Rollback())
				}
				return err
			}
			if sp != nil {
				sp = c.Savepoint()
			} else if err := c.Commit(); err != nil {
				return err
			}
			done += len(batch)
			logger.Info("sheraf: rebuilt batch", zap.Int("done", done), zap.Int("batches", len(batches)))
		}
	}
	for _, idx := range targets {
		c.manager(idx).reset()
	}
	return err
}

func (m *Model) rebuildTargets(names []string) ([]*Index, error) {
	if len(names) == 0 {
		var out []*Index
		for _, idx := range m.indexes {
			if !idx.primary {
				out = append(out, idx)
			}
		}
		return out, nil
	}
	out := make([]*Index, 0, len(names))
	for _, name := range names {
		idx := m.indexByKey[name]
		if idx == nil {
			return nil, modelErrf(m, nil, name, ErrInvalidIndex, "no such index")
		}
		if idx.primary {
			return nil, modelErrf(m, idx, nil, ErrInvalidIndex, "the primary index cannot be rebuilt")
		}
		out = append(out, idx)
	}
	return out, nil
}

func (m *Model) rebuildBatch(c *Conn, targets []*Index, ids []any) error {
	for _, id := range ids {
		inst, err := m.lookup(c, id)
		if err != nil {
			return err
		}
		if inst == nil {
			continue
		}
		for _, idx := range targets {
			keys, err := idx.keysOf(inst)
			if err != nil {
				return err
			}
			if err := c.manager(idx).add(inst, keys); err != nil {
				return err
			}
		}
	}
	rebuiltInstances.Add(float64(len(ids)))
	return nil
}

func (m *Model) rebuildConcurrently(ctx context.Context, db *Database, workers int, targets []*Index, batches [][]any, logger *zap.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, batch := range batches {
		g.Go(func() error {
			err := retry(ctx, db, AttemptOptions{}, func() error {
				wc, err := db.Open()
				if err != nil {
					return err
				}
				defer wc.Close()
				if err := m.rebuildBatch(wc, targets, batch); err != nil {
					return err
				}
				return wc.Commit()
			})
			if err != nil {
				return fmt.Errorf("batch %d: %w", i, err)
			}
			logger.Info("sheraf: rebuilt batch", zap.Int("batch", i), zap.Int("size", len(batch)))
			return nil
		})
	}
	return g.Wait()
}

func indexKeys(indexes []*Index) []string {
	out := make([]string, len(indexes))
	for i, idx := range indexes {
		out[i] = idx.key
	}
	return out
}
