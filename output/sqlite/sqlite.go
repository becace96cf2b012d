// Package sqlite provides a sink that stores lines in a SQLite table.
//
// Lines are queued in a bounded buffer and inserted in batches, one
// transaction per batch, either when the batch is full or when the flush
// interval passes. The table holds (id, ts, origin, line) with ts in epoch
// milliseconds.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/michieltjampens/dcafs-sub002/config"
	"github.com/michieltjampens/dcafs-sub002/errors"
	"github.com/michieltjampens/dcafs-sub002/output"
	"github.com/michieltjampens/dcafs-sub002/pkg/buffer"
)

// Type is the sink type used in configuration
const Type = "sqlite"

const (
	// DefaultTable receives the rows when no table is configured
	DefaultTable = "lines"
	// DefaultBatchSize is the number of rows per insert transaction
	DefaultBatchSize = 100
	// DefaultFlushInterval bounds how long a row waits in the queue
	DefaultFlushInterval = time.Second
	queueSize            = 10_000
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Row is one stored line
type Row struct {
	TS     int64
	Origin string
	Line   string
}

// Output inserts lines into a SQLite table
type Output struct {
	id        string
	table     string
	insertSQL string
	batchSize int
	interval  time.Duration
	deps      output.Deps

	db    *sql.DB
	queue buffer.Buffer[Row]

	kick    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	flushMu sync.Mutex
	closed  atomic.Bool
	once    sync.Once
}

var _ output.Sink = (*Output)(nil)

// Option tunes an Output
type Option func(*Output)

// WithBatchSize sets the rows per transaction
func WithBatchSize(n int) Option {
	return func(o *Output) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithFlushInterval sets the maximum time a row is queued
func WithFlushInterval(d time.Duration) Option {
	return func(o *Output) {
		if d > 0 {
			o.interval = d
		}
	}
}

// New opens the database, creates the table and starts the writer
func New(ctx context.Context, cfg config.SinkConfig, deps output.Deps, opts ...Option) (*Output, error) {
	if cfg.Path == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "SQLiteOutput", "New", "path")
	}
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "SQLiteOutput", "New", "table name "+table)
	}
	id := cfg.ID
	if id == "" {
		id = "sqlite:" + table
	}

	o := &Output{
		id:        id,
		table:     table,
		insertSQL: fmt.Sprintf("INSERT INTO %s(ts, origin, line) VALUES (?, ?, ?)", table),
		batchSize: DefaultBatchSize,
		interval:  DefaultFlushInterval,
		deps:      deps.WithDefaults("sqlite-output", id),
		kick:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}

	queue, err := buffer.NewCircularBuffer(queueSize,
		buffer.WithOverflowPolicy[Row](buffer.DropOldest),
		buffer.WithMetrics[Row](deps.Registry, "sqlite_"+table),
		buffer.WithDropCallback(func(Row) { o.deps.Metrics.RecordSinkWrite(o.id, false, 1) }))
	if err != nil {
		return nil, err
	}
	o.queue = queue

	if err := o.open(ctx, cfg.Path); err != nil {
		return nil, err
	}
	go o.run()
	return o, nil
}

func (o *Output) open(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WrapFatal(err, "SQLiteOutput", "open", "create directory")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return errors.WrapFatal(err, "SQLiteOutput", "open", "open sqlite")
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return errors.WrapFatal(err, "SQLiteOutput", "open", "ping sqlite")
	}

	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	ts     INTEGER NOT NULL,
	origin TEXT NOT NULL,
	line   TEXT NOT NULL
)`, o.table)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return errors.WrapFatal(err, "SQLiteOutput", "open", "create table "+o.table)
	}
	o.db = db
	return nil
}

// ID returns the sink id
func (o *Output) ID() string { return o.id }

// DB returns the database handle
func (o *Output) DB() *sql.DB { return o.db }

// IsConnectionValid is false once closed
func (o *Output) IsConnectionValid() bool { return !o.closed.Load() }

// WriteLine queues a row
func (o *Output) WriteLine(origin, line string) bool {
	if o.closed.Load() {
		return false
	}
	row := Row{TS: o.deps.Clock.Now().UnixMilli(), Origin: origin, Line: line}
	if err := o.queue.Write(row); err != nil {
		return false
	}
	if o.queue.Size() >= o.batchSize {
		select {
		case o.kick <- struct{}{}:
		default:
		}
	}
	return true
}

// WriteString queues data as a row without origin
func (o *Output) WriteString(data string) bool {
	return o.WriteLine("", data)
}

// WriteBytes queues data as a row without origin
func (o *Output) WriteBytes(data []byte) bool {
	return o.WriteLine("", string(data))
}

func (o *Output) run() {
	defer close(o.done)
	ticker := o.deps.Clock.Ticker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
		case <-o.kick:
		}
		if err := o.Flush(context.Background()); err != nil {
			o.deps.Logger.Error("Flush failed", "error", err)
		}
	}
}

// Flush inserts everything queued so far
func (o *Output) Flush(ctx context.Context) error {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()

	for {
		rows := o.queue.ReadBatch(o.batchSize)
		if len(rows) == 0 {
			return nil
		}
		if err := o.insert(ctx, rows); err != nil {
			o.deps.Metrics.RecordSinkWrite(o.id, false, len(rows))
			return err
		}
		o.deps.Metrics.RecordSinkWrite(o.id, true, len(rows))
	}
}

func (o *Output) insert(ctx context.Context, rows []Row) (err error) {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapTransient(err, "SQLiteOutput", "insert", "begin")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, o.insertSQL)
	if err != nil {
		return errors.WrapTransient(err, "SQLiteOutput", "insert", "prepare")
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err = stmt.ExecContext(ctx, r.TS, r.Origin, r.Line); err != nil {
			return errors.WrapTransient(err, "SQLiteOutput", "insert", "insert row")
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.WrapTransient(err, "SQLiteOutput", "insert", "commit")
	}
	return nil
}

// Pending returns the number of queued rows
func (o *Output) Pending() int {
	return o.queue.Size()
}

// Close stops the writer, flushes what is queued and closes the database
func (o *Output) Close() error {
	var err error
	o.once.Do(func() {
		o.closed.Store(true)
		close(o.stop)
		<-o.done
		_ = o.queue.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if ferr := o.Flush(ctx); ferr != nil {
			err = ferr
		}
		if cerr := o.db.Close(); cerr != nil && err == nil {
			err = errors.WrapTransient(cerr, "SQLiteOutput", "Close", "close database")
		}
	})
	return err
}
