package sheraf

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/andreyvit/sheraf/store"
)

const (
	DefaultDatabaseName = "default"

	trackConns = true
)

type DatabaseOptions struct {
	// Name registers the database; DefaultDatabaseName when empty.
	Name string
	// Path of the Bolt file; an empty path opens an in-memory database.
	Path string
	// Nestable allows several connections to this database in one context.
	Nestable bool

	Logger    *zap.Logger
	Verbose   bool
	IsTesting bool
	MmapSize  int

	// OnWarning is called for every IndexationWarning, in addition to logging it.
	OnWarning func(w IndexationWarning)
}

// Database is a named, process-wide registered store.
type Database struct {
	name      string
	sdb       *store.DB
	logger    *zap.Logger
	verbose   bool
	nestable  bool
	onWarning func(w IndexationWarning)

	conns     []*Conn
	connsLock sync.Mutex
}

var databases = struct {
	sync.Mutex
	byName map[string]*Database
}{byName: make(map[string]*Database)}

func OpenDatabase(opt DatabaseOptions) (*Database, error) {
	if opt.Name == "" {
		opt.Name = DefaultDatabaseName
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	logger := opt.Logger.With(zap.String("database", opt.Name))

	databases.Lock()
	defer databases.Unlock()
	if databases.byName[opt.Name] != nil {
		return nil, fmt.Errorf("sheraf: database %q is already open", opt.Name)
	}

	sopt := store.Options{
		Logger:    logger,
		Verbose:   opt.Verbose,
		IsTesting: opt.IsTesting,
		MmapSize:  opt.MmapSize,
	}
	var sdb *store.DB
	var err error
	if opt.Path == "" {
		sdb, err = store.OpenMemory(sopt)
	} else {
		sdb, err = store.Open(opt.Path, sopt)
	}
	if err != nil {
		return nil, err
	}

	db := &Database{
		name:      opt.Name,
		sdb:       sdb,
		logger:    logger,
		verbose:   opt.Verbose,
		nestable:  opt.Nestable,
		onWarning: opt.OnWarning,
	}
	databases.byName[opt.Name] = db
	return db, nil
}

// GetDatabase returns the open database registered under name.
func GetDatabase(name string) (*Database, error) {
	if name == "" {
		name = DefaultDatabaseName
	}
	databases.Lock()
	defer databases.Unlock()
	db := databases.byName[name]
	if db == nil {
		return nil, fmt.Errorf("%w: database %q is not open", ErrNotConnected, name)
	}
	return db, nil
}

func (db *Database) Name() string {
	return db.name
}

func (db *Database) Store() *store.DB {
	return db.sdb
}

func (db *Database) Logger() *zap.Logger {
	return db.logger
}

// Close unregisters the database and closes its store.
func (db *Database) Close() error {
	databases.Lock()
	if databases.byName[db.name] == db {
		delete(databases.byName, db.name)
	}
	databases.Unlock()
	return db.sdb.Close()
}

// Open returns a new connection that is not bound to any context.
func (db *Database) Open() (*Conn, error) {
	sc, err := db.sdb.Open()
	if err != nil {
		return nil, err
	}
	c := &Conn{
		db:        db,
		main:      sc,
		gen:       1,
		managers:  make(map[*Index]*indexManager),
		memo:      make(map[*store.SmallMap]map[*Attribute]any),
		startTime: time.Now(),
	}
	if trackConns {
		c.stack = debug.Stack()
	}
	db.addConn(c)
	return c, nil
}

func (db *Database) addConn(c *Conn) {
	db.connsLock.Lock()
	defer db.connsLock.Unlock()
	db.conns = append(db.conns, c)
}

func (db *Database) removeConn(c *Conn) {
	db.connsLock.Lock()
	defer db.connsLock.Unlock()
	db.conns = slices.DeleteFunc(db.conns, func(e *Conn) bool { return e == c })
}

// DescribeOpenConns lists the open connections, oldest first, with the
// stack that opened the long-lived ones.
func (db *Database) DescribeOpenConns() string {
	db.connsLock.Lock()
	conns := slices.Clone(db.conns)
	db.connsLock.Unlock()

	if len(conns) == 0 {
		return "NO OPEN CONNECTIONS"
	}

	slices.SortFunc(conns, func(a, b *Conn) int {
		return a.startTime.Compare(b.startTime)
	})

	now := time.Now()

	var buf strings.Builder
	fmt.Fprintf(&buf, "%d OPEN CONNECTIONS:\n", len(conns))
	for _, c := range conns {
		ms := now.Sub(c.startTime).Milliseconds()
		if ms < 100 || c.stack == nil {
			fmt.Fprintf(&buf, "\n---\nopen for %d ms\n", ms)
		} else {
			fmt.Fprintf(&buf, "\n---\nopen for %d ms:\n%s", ms, c.stack)
		}
	}
	return buf.String()
}

type connCtxKey struct{}

// connFrame is one entry of the connection stack carried by a context.
type connFrame struct {
	conn   *Conn
	parent *connFrame
}

func frameFrom(ctx context.Context) *connFrame {
	f, _ := ctx.Value(connCtxKey{}).(*connFrame)
	return f
}

// Connect opens a connection and returns a context carrying it. A database
// that is not Nestable refuses to open a second connection in a context
// that already carries an open one.
func (db *Database) Connect(ctx context.Context) (context.Context, *Conn, error) {
	top := frameFrom(ctx)
	if !db.nestable {
		for f := top; f != nil; f = f.parent {
			if f.conn.db == db && !f.conn.closed {
				return ctx, nil, fmt.Errorf("%w: %s", ErrConnectionAlreadyOpened, db.name)
			}
		}
	}
	c, err := db.Open()
	if err != nil {
		return ctx, nil, err
	}
	return context.WithValue(ctx, connCtxKey{}, &connFrame{c, top}), c, nil
}

// Connection runs f with a new connection, commits when f returns nil and
// closes the connection.
func (db *Database) Connection(ctx context.Context, f func(ctx context.Context, c *Conn) error) (err error) {
	ctx, c, err := db.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}()
	if err := f(ctx, c); err != nil {
		return err
	}
	return c.Commit()
}

// ConnFromContext returns the innermost open connection carried by ctx.
func ConnFromContext(ctx context.Context) (*Conn, error) {
	for f := frameFrom(ctx); f != nil; f = f.parent {
		if !f.conn.closed {
			return f.conn, nil
		}
	}
	return nil, ErrNotConnected
}
