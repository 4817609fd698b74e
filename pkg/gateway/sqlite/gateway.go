// Package sqlite serves the gateway contract from the local SQLite store so the
// service can run offline or against a seeded demo database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/mklimuk/crm-pilot/pkg/db"
	"github.com/mklimuk/crm-pilot/pkg/gateway"
	"github.com/mklimuk/crm-pilot/pkg/session"
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Gateway implements gateway.Gateway on top of db.DB.
type Gateway struct {
	db *db.DB
}

var _ gateway.Gateway = (*Gateway)(nil)

// New creates a Gateway over an initialized database.
func New(database *db.DB) *Gateway {
	return &Gateway{db: database}
}

func (g *Gateway) Select(ctx context.Context, _ *session.Session, table string, q gateway.Query) ([]gateway.Row, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}

	cols := "*"
	if len(q.Columns) > 0 && !(len(q.Columns) == 1 && q.Columns[0] == "*") {
		quoted := make([]string, 0, len(q.Columns))
		for _, c := range q.Columns {
			if err := checkIdent(c); err != nil {
				return nil, err
			}
			quoted = append(quoted, quote(c))
		}
		cols = strings.Join(quoted, ", ")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", cols, quote(table))
	where, args, err := whereClause(q.Filters, q.Any)
	if err != nil {
		return nil, err
	}
	sb.WriteString(where)
	if q.Order != nil {
		if err := checkIdent(q.Order.Column); err != nil {
			return nil, err
		}
		dir := "ASC"
		if q.Order.Descending {
			dir = "DESC"
		}
		fmt.Fprintf(&sb, " ORDER BY %s %s", quote(q.Order.Column), dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}

	rows, err := g.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, translate(err, table)
	}
	defer rows.Close()
	out, err := scanRows(rows)
	if err != nil {
		return nil, translate(err, table)
	}
	return out, nil
}

func (g *Gateway) Insert(ctx context.Context, _ *session.Session, table string, row gateway.Row) (gateway.Row, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	row = withID(row)
	cols, placeholders, args, err := columnsOf(row)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		quote(table), strings.Join(quoteAll(cols), ", "), strings.Join(placeholders, ", "))
	return g.one(ctx, table, query, args)
}

func (g *Gateway) Update(ctx context.Context, _ *session.Session, table string, filters []gateway.Filter, patch gateway.Row) (gateway.Row, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	if len(patch) == 0 {
		return nil, &gateway.Error{Status: 400, Message: "empty update"}
	}
	cols, _, args, err := columnsOf(patch)
	if err != nil {
		return nil, err
	}
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		sets = append(sets, quote(c)+" = ?")
	}
	where, whereArgs, err := whereClause(filters, nil)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("UPDATE %s SET %s%s RETURNING *", quote(table), strings.Join(sets, ", "), where)
	updated, err := g.one(ctx, table, query, append(args, whereArgs...))
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, gateway.NoRows(table)
	}
	return updated, nil
}

func (g *Gateway) Upsert(ctx context.Context, _ *session.Session, table string, row gateway.Row, onConflict string) (gateway.Row, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	if onConflict == "" {
		onConflict = "id"
	}
	if err := checkIdent(onConflict); err != nil {
		return nil, err
	}
	if onConflict == "id" {
		row = withID(row)
	}
	cols, placeholders, args, err := columnsOf(row)
	if err != nil {
		return nil, err
	}
	updates := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == onConflict {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", quote(c), quote(c)))
	}
	action := "DO NOTHING"
	if len(updates) > 0 {
		action = "DO UPDATE SET " + strings.Join(updates, ", ")
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) %s RETURNING *",
		quote(table), strings.Join(quoteAll(cols), ", "), strings.Join(placeholders, ", "), quote(onConflict), action)
	return g.one(ctx, table, query, args)
}

func (g *Gateway) Delete(ctx context.Context, _ *session.Session, table string, filters []gateway.Filter) error {
	if err := checkIdent(table); err != nil {
		return err
	}
	if len(filters) == 0 {
		return &gateway.Error{Status: 400, Message: "DELETE requires a WHERE clause"}
	}
	where, args, err := whereClause(filters, nil)
	if err != nil {
		return err
	}
	if _, err := g.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s%s", quote(table), where), args...); err != nil {
		return translate(err, table)
	}
	return nil
}

func (g *Gateway) one(ctx context.Context, table, query string, args []any) (gateway.Row, error) {
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err, table)
	}
	defer rows.Close()
	out, err := scanRows(rows)
	if err != nil {
		return nil, translate(err, table)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[len(out)-1], nil
}

func whereClause(all []gateway.Filter, anyOf []gateway.Filter) (string, []any, error) {
	var parts []string
	var args []any
	for _, f := range all {
		expr, a, err := condition(f)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, expr)
		args = append(args, a...)
	}
	if len(anyOf) > 0 {
		var ors []string
		for _, f := range anyOf {
			expr, a, err := condition(f)
			if err != nil {
				return "", nil, err
			}
			ors = append(ors, expr)
			args = append(args, a...)
		}
		parts = append(parts, "("+strings.Join(ors, " OR ")+")")
	}
	if len(parts) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func condition(f gateway.Filter) (string, []any, error) {
	if err := checkIdent(f.Column); err != nil {
		return "", nil, err
	}
	col := quote(f.Column)
	switch f.Op {
	case gateway.OpEq:
		return col + " = ?", []any{value(f.Value)}, nil
	case gateway.OpNeq:
		return col + " <> ?", []any{value(f.Value)}, nil
	case gateway.OpLt:
		return col + " < ?", []any{value(f.Value)}, nil
	case gateway.OpLte:
		return col + " <= ?", []any{value(f.Value)}, nil
	case gateway.OpGt:
		return col + " > ?", []any{value(f.Value)}, nil
	case gateway.OpGte:
		return col + " >= ?", []any{value(f.Value)}, nil
	case gateway.OpILike:
		return "LOWER(" + col + `) LIKE ? ESCAPE '\'`, []any{"%" + escapeLike(strings.ToLower(fmt.Sprint(f.Value))) + "%"}, nil
	case gateway.OpIs:
		switch v := f.Value.(type) {
		case nil:
			return col + " IS NULL", nil, nil
		case bool:
			return col + " = ?", []any{value(v)}, nil
		default:
			return "", nil, &gateway.Error{Status: 400, Message: fmt.Sprintf("unsupported is value %v", v)}
		}
	default:
		return "", nil, &gateway.Error{Status: 400, Message: fmt.Sprintf("unsupported operator %q", f.Op)}
	}
}

func columnsOf(row gateway.Row) (cols, placeholders []string, args []any, err error) {
	for c := range row {
		if err := checkIdent(c); err != nil {
			return nil, nil, nil, err
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)
	for _, c := range cols {
		placeholders = append(placeholders, "?")
		args = append(args, value(row[c]))
	}
	return cols, placeholders, args, nil
}

func value(v any) any {
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return 0
	case map[string]any, []any, map[string]string, []string:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return v
	}
}

func withID(row gateway.Row) gateway.Row {
	if row.ID() != "" {
		return row
	}
	out := row.Clone()
	out["id"] = uuid.NewString()
	return out
}

func scanRows(rows *sql.Rows) ([]gateway.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []gateway.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		r := make(gateway.Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				r[c] = string(b)
				continue
			}
			r[c] = vals[i]
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// translate rewrites SQLite schema errors into the hosted backend's wording so
// gateway.Classify treats both backends alike.
func translate(err error, table string) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "no such table"):
		return gateway.MissingRelation(table)
	case strings.Contains(msg, "no such column"):
		col := strings.TrimSpace(msg[strings.Index(msg, "no such column")+len("no such column"):])
		col = strings.TrimPrefix(col, ":")
		return gateway.MissingColumn(table, strings.TrimSpace(col))
	case strings.Contains(msg, "has no column named"):
		col := strings.TrimSpace(msg[strings.Index(msg, "has no column named")+len("has no column named"):])
		return gateway.MissingColumn(table, col)
	default:
		return &gateway.Error{Status: 500, Message: msg}
	}
}

func checkIdent(name string) error {
	if !identRe.MatchString(name) {
		return &gateway.Error{Status: 400, Message: fmt.Sprintf("invalid identifier %q", name)}
	}
	return nil
}

// quote brackets an identifier. Double quotes are not used because SQLite
// reads an unknown double-quoted name as a string literal instead of failing.
func quote(name string) string {
	return "[" + name + "]"
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quote(n)
	}
	return out
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
