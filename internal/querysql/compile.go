// Package querysql compiles queryir queries to parameterized SQL over a
// JSON document table.
//
// The table layout is fixed:
//
//	<table>(id TEXT PRIMARY KEY, seq INTEGER, doc <json>)
//
// where doc holds the full record and seq is the insertion sequence used as
// the deterministic tiebreaker. SQLite stores doc as TEXT and addresses it
// with json_extract; Postgres stores JSONB and uses -> / ->>.
package querysql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/replica/internal/queryir"
	"github.com/roach88/replica/internal/record"
)

// Dialect selects the SQL flavour.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	case Postgres:
		return "postgres"
	}
	return fmt.Sprintf("Dialect(%d)", int(d))
}

// fieldPattern restricts field names to plain identifiers. Field names are
// spliced into JSON paths, never parameterized, so anything else is refused.
var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLCompiler compiles QueryIR to parameterized SQL.
//
// CRITICAL: ALL queries include ORDER BY with seq as final tiebreaker.
// CRITICAL: All values are parameterized (never interpolated).
type SQLCompiler struct {
	Dialect Dialect
	Table   string

	params []any
}

// NewSQLCompiler creates a new SQLCompiler for table.
func NewSQLCompiler(dialect Dialect, table string) *SQLCompiler {
	return &SQLCompiler{Dialect: dialect, Table: table}
}

// Compile converts a query to a SELECT returning the doc column.
// Returns (sql, params, error) tuple.
//
// $select is not compiled; callers project the decoded documents.
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	c.params = nil

	where, err := c.compileWhere(q.Filter)
	if err != nil {
		return "", nil, err
	}
	orderBy, err := c.compileOrderBy(q.Sort)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT doc FROM %s%s ORDER BY %s", c.Table, where, orderBy)

	switch {
	case q.Limit != nil:
		fmt.Fprintf(&b, " LIMIT %s", c.bind(int64(*q.Limit)))
		if q.Skip > 0 {
			fmt.Fprintf(&b, " OFFSET %s", c.bind(int64(q.Skip)))
		}
	case q.Skip > 0:
		if c.Dialect == SQLite {
			// SQLite only accepts OFFSET after a LIMIT; -1 means none.
			b.WriteString(" LIMIT -1")
		}
		fmt.Fprintf(&b, " OFFSET %s", c.bind(int64(q.Skip)))
	}

	return b.String(), c.params, nil
}

// CompileCount converts a query's filter to a COUNT(*) statement.
func (c *SQLCompiler) CompileCount(q queryir.Query) (string, []any, error) {
	c.params = nil

	where, err := c.compileWhere(q.Filter)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s%s", c.Table, where), c.params, nil
}

func (c *SQLCompiler) compileWhere(p queryir.Predicate) (string, error) {
	if p == nil {
		return "", nil
	}
	sql, err := c.compilePredicate(p)
	if err != nil {
		return "", fmt.Errorf("compile filter: %w", err)
	}
	return " WHERE " + sql, nil
}

// compileOrderBy builds the ORDER BY list.
// MANDATORY: seq ASC is always appended for deterministic results.
func (c *SQLCompiler) compileOrderBy(keys []queryir.SortKey) (string, error) {
	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		expr, err := c.sortExpr(k.Field)
		if err != nil {
			return "", fmt.Errorf("compile $sort: %w", err)
		}
		dir := "ASC"
		if k.Desc {
			dir = "DESC"
		}
		if c.Dialect == Postgres {
			// Missing fields sort before everything, as in memory.
			if k.Desc {
				dir += " NULLS LAST"
			} else {
				dir += " NULLS FIRST"
			}
		}
		parts = append(parts, expr+" "+dir)
	}
	parts = append(parts, "seq ASC")
	return strings.Join(parts, ", "), nil
}

// compilePredicate compiles a queryir.Predicate to SQL WHERE clause fragment.
// CRITICAL: Values NEVER interpolated - always use placeholders.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, error) {
	switch pred := p.(type) {
	case queryir.Compare:
		return c.compileCompare(pred)
	case queryir.In:
		return c.compileIn(pred)
	case queryir.And:
		return c.compileJunction(pred.Predicates, " AND ", "1 = 1")
	case queryir.Or:
		return c.compileJunction(pred.Predicates, " OR ", "1 = 0")
	default:
		return "", fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileJunction(preds []queryir.Predicate, sep, empty string) (string, error) {
	if len(preds) == 0 {
		return empty, nil
	}
	parts := make([]string, 0, len(preds))
	for _, sub := range preds {
		sql, err := c.compilePredicate(sub)
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (c *SQLCompiler) compileCompare(cmp queryir.Compare) (string, error) {
	if err := checkField(cmp.Field); err != nil {
		return "", err
	}
	switch cmp.Op {
	case queryir.OpEq:
		return c.compileEquals(cmp.Field, cmp.Value)
	case queryir.OpNe:
		eq, err := c.compileEquals(cmp.Field, cmp.Value)
		if err != nil {
			return "", err
		}
		if isNull(cmp.Value) {
			return "NOT " + eq, nil
		}
		return fmt.Sprintf("(%s OR NOT %s)", c.nullExpr(cmp.Field), eq), nil
	case queryir.OpLt, queryir.OpLte, queryir.OpGt, queryir.OpGte:
		return c.compileRange(cmp)
	default:
		return "", fmt.Errorf("unsupported operator %q", cmp.Op)
	}
}

func sqlOperator(op queryir.Op) string {
	switch op {
	case queryir.OpLt:
		return "<"
	case queryir.OpLte:
		return "<="
	case queryir.OpGt:
		return ">"
	case queryir.OpGte:
		return ">="
	}
	return "="
}

// compileEquals compiles field equality. A missing field equals null.
func (c *SQLCompiler) compileEquals(field string, v record.Value) (string, error) {
	if isNull(v) {
		return c.nullExpr(field), nil
	}
	switch c.Dialect {
	case Postgres:
		doc, err := record.MarshalValue(v)
		if err != nil {
			return "", fmt.Errorf("convert value: %w", err)
		}
		return fmt.Sprintf("%s = %s::jsonb", c.jsonExpr(field), c.bind(string(doc))), nil
	default:
		param, err := valueToParam(v)
		if err != nil {
			return "", fmt.Errorf("convert value: %w", err)
		}
		return fmt.Sprintf("%s = %s", c.scalarExpr(field), c.bind(param)), nil
	}
}

// compileRange compiles an ordering comparison. Only same-class values
// match, mirroring record.Comparable.
func (c *SQLCompiler) compileRange(cmp queryir.Compare) (string, error) {
	op := sqlOperator(cmp.Op)
	field := cmp.Field

	var class string
	switch cmp.Value.(type) {
	case record.Int, record.Float:
		class = "number"
	case record.String:
		class = "string"
	case record.Bool:
		class = "bool"
	default:
		return "1 = 0", nil
	}
	param, err := valueToParam(cmp.Value)
	if err != nil {
		return "", fmt.Errorf("convert value: %w", err)
	}

	if c.Dialect == Postgres {
		typ := c.typeExpr(field)
		text := c.textExpr(field)
		switch class {
		case "number":
			return fmt.Sprintf("(CASE WHEN %s = 'number' THEN (%s)::numeric %s %s ELSE false END)", typ, text, op, c.bind(param)), nil
		case "string":
			return fmt.Sprintf("(%s = 'string' AND %s COLLATE \"C\" %s %s)", typ, text, op, c.bind(param)), nil
		default:
			return fmt.Sprintf("(CASE WHEN %s = 'boolean' THEN (%s)::boolean %s %s ELSE false END)", typ, text, op, c.bind(param)), nil
		}
	}

	typ := c.typeExpr(field)
	var types string
	switch class {
	case "number":
		types = "'integer', 'real'"
	case "string":
		types = "'text'"
	default:
		types = "'true', 'false'"
	}
	return fmt.Sprintf("(%s IN (%s) AND %s %s %s)", typ, types, c.scalarExpr(field), op, c.bind(param)), nil
}

func (c *SQLCompiler) compileIn(in queryir.In) (string, error) {
	if err := checkField(in.Field); err != nil {
		return "", err
	}
	if len(in.Values) == 0 {
		if in.Negate {
			return "1 = 1", nil
		}
		return "1 = 0", nil
	}
	parts := make([]string, 0, len(in.Values))
	for _, v := range in.Values {
		eq, err := c.compileEquals(in.Field, v)
		if err != nil {
			return "", err
		}
		parts = append(parts, eq)
	}
	sql := "(" + strings.Join(parts, " OR ") + ")"
	if in.Negate {
		return fmt.Sprintf("(%s OR NOT %s)", c.nullExpr(in.Field), sql), nil
	}
	return sql, nil
}

func (c *SQLCompiler) sortExpr(field string) (string, error) {
	if err := checkField(field); err != nil {
		return "", err
	}
	if c.Dialect == Postgres {
		return c.jsonExpr(field), nil
	}
	return c.scalarExpr(field), nil
}

// scalarExpr reads a field as an SQL scalar.
func (c *SQLCompiler) scalarExpr(field string) string {
	if c.Dialect == Postgres {
		return c.jsonExpr(field)
	}
	return fmt.Sprintf("json_extract(doc, '$.%s')", field)
}

// nullExpr tests for a missing field or a JSON null.
func (c *SQLCompiler) nullExpr(field string) string {
	if c.Dialect == Postgres {
		return fmt.Sprintf("(%s IS NULL OR %s = 'null')", c.jsonExpr(field), c.typeExpr(field))
	}
	return c.scalarExpr(field) + " IS NULL"
}

// jsonExpr reads a field as JSONB (Postgres only).
func (c *SQLCompiler) jsonExpr(field string) string {
	return fmt.Sprintf("(doc -> '%s')", field)
}

// textExpr reads a field as text (Postgres only).
func (c *SQLCompiler) textExpr(field string) string {
	return fmt.Sprintf("(doc ->> '%s')", field)
}

func (c *SQLCompiler) typeExpr(field string) string {
	if c.Dialect == Postgres {
		return fmt.Sprintf("jsonb_typeof(doc -> '%s')", field)
	}
	return fmt.Sprintf("json_type(doc, '$.%s')", field)
}

// bind records a parameter and returns its placeholder.
func (c *SQLCompiler) bind(v any) string {
	c.params = append(c.params, v)
	if c.Dialect == Postgres {
		return fmt.Sprintf("$%d", len(c.params))
	}
	return "?"
}

func checkField(field string) error {
	if !fieldPattern.MatchString(field) {
		return fmt.Errorf("field name %q is not a plain identifier", field)
	}
	return nil
}

func isNull(v record.Value) bool {
	switch v.(type) {
	case nil, record.Null:
		return true
	}
	return false
}

// valueToParam converts a scalar record.Value to a Go native type for an
// SQL parameter. Arrays and records are not scalar parameters.
func valueToParam(v record.Value) (any, error) {
	switch val := v.(type) {
	case record.String:
		return string(val), nil
	case record.Int:
		return int64(val), nil
	case record.Float:
		return float64(val), nil
	case record.Bool:
		return bool(val), nil
	case record.Null:
		return nil, nil
	case record.Array:
		return nil, fmt.Errorf("array cannot be used as SQL parameter directly")
	case record.Record:
		return nil, fmt.Errorf("object cannot be used as SQL parameter directly")
	default:
		return nil, fmt.Errorf("unsupported value type for SQL parameter: %T", v)
	}
}
