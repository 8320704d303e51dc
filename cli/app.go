// Package cli implements the maintenance commands of a sheraf database for
// applications that embed their own model declarations.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"go.uber.org/dig"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/andreyvit/sheraf"
)

var ErrUsage = errors.New("usage error")

// Command is a subcommand of the tool. Run receives the arguments that follow
// the command name.
type Command struct {
	Name  string
	Usage string
	Run   func(ctx context.Context, app *App, args []string) error
}

type App struct {
	db       *sheraf.Database
	logger   *zap.Logger
	out      io.Writer
	commands []Command
}

// AppParams are the dependencies of an App resolved by the container.
type AppParams struct {
	dig.In

	DB     *sheraf.Database
	Logger *zap.Logger
	Out    io.Writer
	Extra  []Command `optional:"true"`
}

func NewApp(p AppParams) *App {
	app := &App{db: p.DB, logger: p.Logger, out: p.Out}
	app.commands = append(builtinCommands(), p.Extra...)
	return app
}

func (app *App) DB() *sheraf.Database { return app.db }
func (app *App) Logger() *zap.Logger  { return app.logger }
func (app *App) Out() io.Writer       { return app.out }

// OpenDatabase opens the database described by cfg.
func OpenDatabase(cfg Config, logger *zap.Logger) (*sheraf.Database, error) {
	return sheraf.OpenDatabase(sheraf.DatabaseOptions{
		Name:    cfg.DBName,
		Path:    cfg.DBPath,
		Logger:  logger,
		Verbose: cfg.Verbose,
	})
}

// Run parses args, opens the configured database and runs the command.
func Run(ctx context.Context, args []string, out io.Writer, extra ...Command) error {
	cfg, rest, err := LoadConfig(args)
	if err != nil {
		return err
	}

	container := dig.New()
	constructors := []any{
		func() Config { return cfg },
		func() io.Writer { return out },
		func() []Command { return extra },
		NewLogger,
		OpenDatabase,
		NewApp,
	}
	for _, ctor := range constructors {
		if err := container.Provide(ctor); err != nil {
			return err
		}
	}
	err = container.Invoke(func(app *App) (err error) {
		defer func() {
			err = multierr.Append(err, app.db.Close())
			_ = app.logger.Sync()
		}()
		return app.Run(ctx, rest)
	})
	return dig.RootCause(err)
}

// Run dispatches to the command named by args[0].
func (app *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		app.usage()
		return ErrUsage
	}
	i := slices.IndexFunc(app.commands, func(cmd Command) bool { return cmd.Name == args[0] })
	if i < 0 {
		app.usage()
		return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
	}
	cmd := app.commands[i]
	app.logger.Debug("running command", zap.String("command", cmd.Name), zap.Strings("args", args[1:]))
	return cmd.Run(ctx, app, args[1:])
}

func (app *App) usage() {
	fmt.Fprintln(app.out, "Usage: [-db file] [-name name] [-v] <command> [arguments]")
	fmt.Fprintln(app.out)
	for _, cmd := range app.commands {
		fmt.Fprintf(app.out, "  %-10s %s\n", cmd.Name, cmd.Usage)
	}
}

// Models returns the registered models named by tables, or every registered
// model when tables is empty.
func (app *App) Models(tables []string) ([]*sheraf.Model, error) {
	if len(tables) == 0 {
		return sheraf.Models(), nil
	}
	out := make([]*sheraf.Model, 0, len(tables))
	var unknown []string
	for _, table := range tables {
		if m := sheraf.LookupModel(table); m != nil {
			out = append(out, m)
		} else {
			unknown = append(unknown, table)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: unknown models: %s", ErrUsage, strings.Join(unknown, ", "))
	}
	return out, nil
}
