package cli

import (
	"context"
	"flag"
	"fmt"
	"runtime"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andreyvit/sheraf"
)

func builtinCommands() []Command {
	return []Command{
		{Name: "check", Usage: "[-q] [-j n] [model...]: verify the indexes of the models", Run: runCheck},
		{Name: "rebuild", Usage: "[-batch n] [-savepoints] [-start n] [-end n] [-workers n] [model [index...]]: rebuild indexes", Run: runRebuild},
		{Name: "dump", Usage: "[-rows] [-index-rows] [model...]: print the tables of the models", Run: runDump},
	}
}

func parseFlags(fl *flag.FlagSet, args []string) error {
	if err := fl.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUsage, fl.Name(), err)
	}
	return nil
}

func runCheck(ctx context.Context, app *App, args []string) error {
	fl := flag.NewFlagSet("check", flag.ContinueOnError)
	fl.SetOutput(app.out)
	quiet := fl.Bool("q", false, "only print broken indexes")
	jobs := fl.Int("j", runtime.GOMAXPROCS(0), "number of models checked concurrently")
	if err := parseFlags(fl, args); err != nil {
		return err
	}
	models, err := app.Models(fl.Args())
	if err != nil {
		return err
	}

	type result struct {
		health []sheraf.IndexHealth
		err    error
	}
	results := make([]result, len(models))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(*jobs, 1))
	for i, m := range models {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, err := app.db.Open()
			if err != nil {
				return err
			}
			defer c.Close()
			results[i].health, results[i].err = sheraf.Check(c, m)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var broken error
	for _, r := range results {
		for _, h := range r.health {
			if *quiet && h.OK() {
				continue
			}
			fmt.Fprintln(app.out, h)
			for _, ko := range h.KO {
				fmt.Fprintf(app.out, "    %s\n", ko)
			}
		}
		broken = multierr.Append(broken, r.err)
	}
	return broken
}

func runRebuild(ctx context.Context, app *App, args []string) error {
	fl := flag.NewFlagSet("rebuild", flag.ContinueOnError)
	fl.SetOutput(app.out)
	var opt sheraf.RebuildOptions
	fl.IntVar(&opt.BatchSize, "batch", 1000, "instances per batch")
	fl.BoolVar(&opt.Savepoints, "savepoints", false, "take savepoints between batches and commit once at the end")
	fl.IntVar(&opt.Start, "start", 0, "first instance position to rebuild")
	fl.IntVar(&opt.End, "end", 0, "instance position to stop at (0 for all)")
	fl.IntVar(&opt.Workers, "workers", 1, "number of batches rebuilt concurrently")
	if err := parseFlags(fl, args); err != nil {
		return err
	}
	if opt.End != 0 && opt.End <= opt.Start {
		return fmt.Errorf("%w: rebuild: empty range [%d, %d)", ErrUsage, opt.Start, opt.End)
	}

	var models []*sheraf.Model
	var indexes []string
	if fl.NArg() == 0 {
		models = sheraf.Models()
	} else {
		var err error
		models, err = app.Models(fl.Args()[:1])
		if err != nil {
			return err
		}
		indexes = fl.Args()[1:]
	}

	for _, m := range models {
		err := app.db.Connection(ctx, func(ctx context.Context, c *sheraf.Conn) error {
			return m.RebuildIndexes(ctx, c, opt, indexes...)
		})
		if err != nil {
			return fmt.Errorf("%s: %w", m.Table(), err)
		}
		app.logger.Info("rebuilt indexes", zap.String("model", m.Table()), zap.Strings("indexes", indexes))
		fmt.Fprintf(app.out, "%s: rebuilt\n", m.Table())
	}
	return nil
}

func runDump(ctx context.Context, app *App, args []string) error {
	fl := flag.NewFlagSet("dump", flag.ContinueOnError)
	fl.SetOutput(app.out)
	rows := fl.Bool("rows", false, "print every instance")
	indexRows := fl.Bool("index-rows", false, "print every index entry")
	if err := parseFlags(fl, args); err != nil {
		return err
	}
	models, err := app.Models(fl.Args())
	if err != nil {
		return err
	}

	f := sheraf.DumpTableHeaders | sheraf.DumpStats | sheraf.DumpIndices
	if *rows {
		f |= sheraf.DumpRows
	}
	if *indexRows {
		f |= sheraf.DumpIndexRows
	}
	c, err := app.db.Open()
	if err != nil {
		return err
	}
	defer c.Close()
	_, err = fmt.Fprint(app.out, c.Dump(f, models...))
	return err
}
