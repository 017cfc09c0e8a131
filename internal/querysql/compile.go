package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/cardflow/internal/ir"
	"github.com/roach88/cardflow/internal/queryir"
)

// Table and column names of the document table the compiler targets.
// Attributes live in a JSON TEXT column and are addressed with SQLite's
// JSON1 functions.
const (
	DocumentsTable = "documents"
	ColumnID       = "id"
	ColumnClass    = "class"
	ColumnAttrs    = "attrs"
)

// SQLCompiler compiles queryir queries to parameterized SQL for SQLite.
//
// CRITICAL: every query includes ORDER BY id for deterministic results.
// CRITICAL: all values and JSON paths are parameterized, never interpolated.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile converts a query to parameterized SQL selecting
// (id, class, attrs). Returns (sql, params, error).
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}

	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case *queryir.Select:
		return c.compileSelect(*query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

func (c *SQLCompiler) compileSelect(q queryir.Select) (string, []any, error) {
	if q.Class == "" {
		return "", nil, fmt.Errorf("select requires a class")
	}

	where := ColumnClass + " = ?"
	params := []any{q.Class}

	if q.Filter != nil {
		filterSQL, filterParams, err := c.CompilePredicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		if filterSQL != "1 = 1" {
			where += " AND " + filterSQL
			params = append(params, filterParams...)
		}
	}

	sql := fmt.Sprintf("SELECT %s, %s, %s FROM %s WHERE %s ORDER BY %s",
		ColumnID, ColumnClass, ColumnAttrs, DocumentsTable, where, stableOrderKey())

	if q.Limit > 0 {
		sql += " LIMIT ?"
		params = append(params, q.Limit)
	}

	return sql, params, nil
}

// stableOrderKey returns the ORDER BY clause body. COLLATE BINARY keeps
// text ordering identical across SQLite builds.
func stableOrderKey() string {
	return ColumnID + " ASC COLLATE BINARY"
}

// CompilePredicate compiles a predicate to a WHERE clause fragment.
// Returns (sql, params, error).
func (c *SQLCompiler) CompilePredicate(p queryir.Predicate) (string, []any, error) {
	if p == nil {
		return "1 = 1", nil, nil
	}

	switch pred := p.(type) {
	case queryir.Equals:
		return c.compileEquals(pred.Field, pred.Value, false)
	case *queryir.Equals:
		return c.compileEquals(pred.Field, pred.Value, false)
	case queryir.NotEquals:
		return c.compileEquals(pred.Field, pred.Value, true)
	case *queryir.NotEquals:
		return c.compileEquals(pred.Field, pred.Value, true)
	case queryir.In:
		return c.compileIn(pred)
	case *queryir.In:
		return c.compileIn(*pred)
	case queryir.Exists:
		return c.compileExists(pred)
	case *queryir.Exists:
		return c.compileExists(*pred)
	case queryir.Compare:
		return c.compileCompare(pred)
	case *queryir.Compare:
		return c.compileCompare(*pred)
	case queryir.And:
		return c.compileAnd(pred)
	case *queryir.And:
		return c.compileAnd(*pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// compileEquals matches the field, or any element when the field is an
// array, through json_each. Identity fields compare columns directly.
func (c *SQLCompiler) compileEquals(field string, v ir.Value, negate bool) (string, []any, error) {
	if col, ok := identityColumn(field); ok {
		param, err := valueToParam(v)
		if err != nil {
			return "", nil, fmt.Errorf("field %q: %w", field, err)
		}
		op := "="
		if negate {
			op = "!="
		}
		return fmt.Sprintf("%s %s ?", col, op), []any{param}, nil
	}

	path, err := jsonPath(field)
	if err != nil {
		return "", nil, err
	}

	if ir.IsNull(v) {
		sql := fmt.Sprintf("COALESCE(json_type(%s, ?), '') = 'null'", ColumnAttrs)
		if negate {
			sql = "NOT (" + sql + ")"
		}
		return sql, []any{path}, nil
	}

	param, err := valueToParam(v)
	if err != nil {
		return "", nil, fmt.Errorf("field %q: %w", field, err)
	}
	sql := fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s.%s, ?) WHERE value = ?)", DocumentsTable, ColumnAttrs)
	if negate {
		sql = "NOT " + sql
	}
	return sql, []any{path, param}, nil
}

func (c *SQLCompiler) compileIn(in queryir.In) (string, []any, error) {
	if len(in.Values) == 0 {
		if in.Negate {
			return "1 = 1", nil, nil
		}
		return "1 = 0", nil, nil
	}

	params := make([]any, 0, len(in.Values)+1)
	placeholders := make([]string, len(in.Values))
	for i := range placeholders {
		placeholders[i] = "?"
	}

	var sql string
	if col, ok := identityColumn(in.Field); ok {
		sql = fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", "))
	} else {
		path, err := jsonPath(in.Field)
		if err != nil {
			return "", nil, err
		}
		params = append(params, path)
		sql = fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s.%s, ?) WHERE value IN (%s))",
			DocumentsTable, ColumnAttrs, strings.Join(placeholders, ", "))
	}

	for _, v := range in.Values {
		param, err := valueToParam(v)
		if err != nil {
			return "", nil, fmt.Errorf("field %q: %w", in.Field, err)
		}
		params = append(params, param)
	}

	if in.Negate {
		sql = "NOT " + sql
	}
	return sql, params, nil
}

func (c *SQLCompiler) compileExists(ex queryir.Exists) (string, []any, error) {
	if _, ok := identityColumn(ex.Field); ok {
		if ex.Exists {
			return "1 = 1", nil, nil
		}
		return "1 = 0", nil, nil
	}
	path, err := jsonPath(ex.Field)
	if err != nil {
		return "", nil, err
	}
	op := "!="
	if !ex.Exists {
		op = "="
	}
	return fmt.Sprintf("COALESCE(json_type(%s, ?), 'null') %s 'null'", ColumnAttrs, op), []any{path}, nil
}

func (c *SQLCompiler) compileCompare(cmp queryir.Compare) (string, []any, error) {
	switch cmp.Op {
	case queryir.OpLess, queryir.OpLessEqual, queryir.OpGreater, queryir.OpGreaterEqual:
	default:
		return "", nil, fmt.Errorf("unsupported comparison operator %q", cmp.Op)
	}

	param, err := valueToParam(cmp.Value)
	if err != nil {
		return "", nil, fmt.Errorf("field %q: %w", cmp.Field, err)
	}

	if col, ok := identityColumn(cmp.Field); ok {
		return fmt.Sprintf("%s %s ?", col, cmp.Op), []any{param}, nil
	}

	path, err := jsonPath(cmp.Field)
	if err != nil {
		return "", nil, err
	}

	var types string
	switch cmp.Value.(type) {
	case ir.Int, ir.Float:
		types = "'integer', 'real'"
	case ir.String:
		types = "'text'"
	default:
		return "", nil, fmt.Errorf("field %q: ordered comparison against %T", cmp.Field, cmp.Value)
	}

	sql := fmt.Sprintf("(json_type(%s, ?) IN (%s) AND json_extract(%s, ?) %s ?)",
		ColumnAttrs, types, ColumnAttrs, cmp.Op)
	return sql, []any{path, path, param}, nil
}

func (c *SQLCompiler) compileAnd(and queryir.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil // Always true (vacuous truth)
	}

	var sqlParts []string
	var allParams []any
	for _, pred := range and.Predicates {
		sql, params, err := c.CompilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		sqlParts = append(sqlParts, sql)
		allParams = append(allParams, params...)
	}

	if len(sqlParts) == 1 {
		return sqlParts[0], allParams, nil
	}
	return "(" + strings.Join(sqlParts, " AND ") + ")", allParams, nil
}

func identityColumn(field string) (string, bool) {
	switch field {
	case ir.KeyID:
		return ColumnID, true
	case ir.KeyClass:
		return ColumnClass, true
	default:
		return "", false
	}
}

// jsonPath builds a quoted JSON1 path ($."a"."b") from a dotted field.
func jsonPath(field string) (string, error) {
	if field == "" {
		return "", fmt.Errorf("empty field name")
	}
	var b strings.Builder
	b.WriteString("$")
	for _, part := range strings.Split(field, ".") {
		if part == "" || strings.ContainsAny(part, `"\`) {
			return "", fmt.Errorf("invalid field path %q", field)
		}
		b.WriteString(`."`)
		b.WriteString(part)
		b.WriteString(`"`)
	}
	return b.String(), nil
}

// valueToParam converts a scalar value to a Go native SQL parameter.
// Arrays and objects cannot be bound as parameters.
func valueToParam(v ir.Value) (any, error) {
	switch val := v.(type) {
	case ir.String:
		return string(val), nil
	case ir.Int:
		return int64(val), nil
	case ir.Float:
		return float64(val), nil
	case ir.Bool:
		return bool(val), nil
	case ir.Null, nil:
		return nil, nil
	case ir.Array:
		return nil, fmt.Errorf("array cannot be used as SQL parameter directly")
	case ir.Object:
		return nil, fmt.Errorf("object cannot be used as SQL parameter directly")
	default:
		return nil, fmt.Errorf("unsupported value type for SQL parameter: %T", v)
	}
}
