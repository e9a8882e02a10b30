package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/roach88/replica/internal/collection"
	"github.com/roach88/replica/internal/querymem"
	"github.com/roach88/replica/internal/queryir"
	"github.com/roach88/replica/internal/querysql"
	"github.com/roach88/replica/internal/record"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Supported database/sql driver names.
const (
	DriverSQLite3  = "sqlite3"
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// DefaultTable is the table used when Config.Table is empty.
const DefaultTable = "records"

var tablePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config selects the database and table backing a Collection.
type Config struct {
	Driver   string           // DriverSQLite3 (default), DriverSQLite or DriverPostgres
	DSN      string           // file path for SQLite drivers, connection URL for pgx
	Table    string           // default DefaultTable
	IDField  string           // default "id"
	Paginate queryir.Paginate // server-side paging for Find
}

// Collection is a collection.Collection persisted in a SQL table.
type Collection struct {
	db       *sql.DB
	dialect  querysql.Dialect
	table    string
	idField  string
	paginate queryir.Paginate

	mu  sync.Mutex // serialises writes
	hub *collection.Hub
}

var _ collection.Collection = (*Collection)(nil)

// Open connects to the database, applies pragmas (SQLite) and creates the
// record table if it does not exist.
//
// This function is idempotent - safe to call multiple times on one DSN.
func Open(ctx context.Context, cfg Config) (*Collection, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite3
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.IDField == "" {
		cfg.IDField = record.FieldID
	}
	if !tablePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("table name %q is not a plain identifier", cfg.Table)
	}

	var dialect querysql.Dialect
	switch cfg.Driver {
	case DriverSQLite3, DriverSQLite:
		dialect = querysql.SQLite
	case DriverPostgres:
		dialect = querysql.Postgres
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if dialect == querysql.SQLite {
		// SQLite only supports one writer at a time, so limit connections.
		// This also keeps ":memory:" databases on a single connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	if err := applySchema(ctx, db, dialect, cfg.Table); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Collection{
		db:       db,
		dialect:  dialect,
		table:    cfg.Table,
		idField:  cfg.IDField,
		paginate: cfg.Paginate,
		hub:      collection.NewHub(),
	}, nil
}

// Close closes the database connection.
func (c *Collection) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Collection methods when available.
func (c *Collection) DB() *sql.DB {
	return c.db
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates the record table if it does not exist.
func applySchema(ctx context.Context, db *sql.DB, dialect querysql.Dialect, table string) error {
	raw, err := schemaFS.ReadFile("schema/" + dialect.String() + ".sql")
	if err != nil {
		return err
	}
	ddl := strings.ReplaceAll(string(raw), "{{table}}", table)

	for _, stmt := range strings.Split(ddl, ";") {
		if strings.TrimSpace(stripComments(stmt)) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema: %w", err)
		}
	}
	return nil
}

func stripComments(stmt string) string {
	var b strings.Builder
	for _, line := range strings.Split(stmt, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// ph returns the n-th (1-based) placeholder for the dialect.
func (c *Collection) ph(n int) string {
	if c.dialect == querysql.Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// docParam returns the placeholder for a JSON document parameter.
func (c *Collection) docParam(n int) string {
	if c.dialect == querysql.Postgres {
		return c.ph(n) + "::jsonb"
	}
	return c.ph(n)
}

func marshalDoc(r record.Record) (string, error) {
	data, err := record.MarshalCanonical(r)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	return string(data), nil
}

func unmarshalDoc(data []byte) (record.Record, error) {
	v, err := record.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	rec, ok := v.(record.Record)
	if !ok {
		return nil, fmt.Errorf("unmarshal document: expected object, got %T", v)
	}
	return rec, nil
}

// Find implements collection.Collection.
func (c *Collection) Find(ctx context.Context, q queryir.Query) (queryir.Page, error) {
	compiler := querysql.NewSQLCompiler(c.dialect, c.table)

	countSQL, countParams, err := compiler.CompileCount(q)
	if err != nil {
		return queryir.Page{}, fmt.Errorf("find: %w", err)
	}
	var total int
	if err := c.db.QueryRowContext(ctx, countSQL, countParams...).Scan(&total); err != nil {
		return queryir.Page{}, fmt.Errorf("find: count: %w", err)
	}

	limit, limited := c.paginate.EffectiveLimit(q)
	if limited {
		q = q.WithLimit(limit)
	}

	page := queryir.Page{Total: total, Skip: q.Skip, Data: []record.Record{}}
	if limited && limit == 0 {
		return page, nil
	}

	selectSQL, params, err := compiler.Compile(q)
	if err != nil {
		return queryir.Page{}, fmt.Errorf("find: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, selectSQL, params...)
	if err != nil {
		return queryir.Page{}, fmt.Errorf("find: query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return queryir.Page{}, fmt.Errorf("find: scan: %w", err)
		}
		rec, err := unmarshalDoc(raw)
		if err != nil {
			return queryir.Page{}, fmt.Errorf("find: %w", err)
		}
		page.Data = append(page.Data, querymem.Project(rec, q.Select))
	}
	if err := rows.Err(); err != nil {
		return queryir.Page{}, fmt.Errorf("find: iterate: %w", err)
	}

	if limited {
		page.Limit = limit
	} else {
		page.Limit = len(page.Data)
	}
	return page, nil
}

// Get implements collection.Collection.
func (c *Collection) Get(ctx context.Context, id record.Value) (record.Record, error) {
	rec, err := c.load(ctx, c.db, id)
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}
	return rec, nil
}

// queryRower is satisfied by *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (c *Collection) load(ctx context.Context, q queryRower, id record.Value) (record.Record, error) {
	var raw []byte
	err := q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT doc FROM %s WHERE id = %s", c.table, c.ph(1)),
		record.Key(id),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s=%v", collection.ErrNotFound, c.idField, record.ToAny(id))
	}
	if err != nil {
		return nil, err
	}
	return unmarshalDoc(raw)
}

// Create implements collection.Collection. A record without an id is
// assigned its insertion sequence number.
func (c *Collection) Create(ctx context.Context, data record.Record) (record.Record, error) {
	c.mu.Lock()
	stored, err := c.create(ctx, data)
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("create: %w", err)
	}
	c.hub.Publish(record.EventCreated, stored)
	c.mu.Unlock()

	c.hub.Flush()
	return stored, nil
}

func (c *Collection) create(ctx context.Context, data record.Record) (record.Record, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COALESCE(MAX(seq), 0) + 1 FROM %s", c.table),
	).Scan(&seq); err != nil {
		return nil, fmt.Errorf("next seq: %w", err)
	}

	stored := data.Clone()
	if stored == nil {
		stored = record.Record{}
	}
	id, ok := stored[c.idField]
	if !ok {
		id = record.Int(seq)
		stored[c.idField] = id
	}

	if _, err := c.load(ctx, tx, id); err == nil {
		return nil, fmt.Errorf("%w: %s=%v", collection.ErrConflict, c.idField, record.ToAny(id))
	} else if !errors.Is(err, collection.ErrNotFound) {
		return nil, err
	}

	doc, err := marshalDoc(stored)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, seq, doc) VALUES (%s, %s, %s)", c.table, c.ph(1), c.ph(2), c.docParam(3)),
		record.Key(id), seq, doc,
	); err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return stored, nil
}

// Update implements collection.Collection.
func (c *Collection) Update(ctx context.Context, id record.Value, data record.Record) (record.Record, error) {
	return c.replace(ctx, "update", id, record.EventUpdated, func(record.Record) record.Record {
		return data.Clone()
	})
}

// Patch implements collection.Collection.
func (c *Collection) Patch(ctx context.Context, id record.Value, data record.Record) (record.Record, error) {
	return c.replace(ctx, "patch", id, record.EventPatched, func(prev record.Record) record.Record {
		return prev.Merge(data)
	})
}

func (c *Collection) replace(ctx context.Context, op string, id record.Value, event record.Event, next func(record.Record) record.Record) (record.Record, error) {
	c.mu.Lock()
	stored, err := c.rewrite(ctx, id, next)
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.hub.Publish(event, stored)
	c.mu.Unlock()

	c.hub.Flush()
	return stored, nil
}

func (c *Collection) rewrite(ctx context.Context, id record.Value, next func(record.Record) record.Record) (record.Record, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	prev, err := c.load(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	stored := next(prev)
	stored[c.idField] = prev[c.idField]

	doc, err := marshalDoc(stored)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET doc = %s WHERE id = %s", c.table, c.docParam(1), c.ph(2)),
		doc, record.Key(id),
	); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return stored, nil
}

// Remove implements collection.Collection.
func (c *Collection) Remove(ctx context.Context, id record.Value) (record.Record, error) {
	c.mu.Lock()
	prev, err := c.remove(ctx, id)
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("remove: %w", err)
	}
	c.hub.Publish(record.EventRemoved, prev)
	c.mu.Unlock()

	c.hub.Flush()
	return prev, nil
}

func (c *Collection) remove(ctx context.Context, id record.Value) (record.Record, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	prev, err := c.load(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = %s", c.table, c.ph(1)),
		record.Key(id),
	); err != nil {
		return nil, fmt.Errorf("delete: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return prev, nil
}

// On implements collection.Collection.
func (c *Collection) On(event record.Event, h collection.Handler) func() {
	return c.hub.On(event, h)
}
