package postgres

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"mentorship/internal/backend"
)

// statement accumulates SQL text and positional arguments.
type statement struct {
	table string
	args  []any
}

func (s *statement) arg(v any) string {
	s.args = append(s.args, v)
	return "$" + strconv.Itoa(len(s.args))
}

func quote(ident string) string { return `"` + ident + `"` }

func resolve(table string, names []string) ([]column, error) {
	if _, ok := tables[table]; !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	if len(names) == 0 {
		return tables[table], nil
	}
	out := make([]column, 0, len(names))
	for _, n := range names {
		c, ok := lookup(table, n)
		if !ok {
			return nil, fmt.Errorf("unknown column %s.%s", table, n)
		}
		out = append(out, c)
	}
	return out, nil
}

func selectList(alias string, cols []column) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = alias + "." + quote(c.name)
	}
	return strings.Join(parts, ", ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *statement) where(filters []backend.Filter) (string, error) {
	clauses := make([]string, 0, len(filters))
	for _, f := range filters {
		c, err := s.filter(f)
		if err != nil {
			return "", err
		}
		clauses = append(clauses, c)
	}
	return strings.Join(clauses, " AND "), nil
}

func (s *statement) filter(f backend.Filter) (string, error) {
	if len(f.All) > 0 {
		c, err := s.where(f.All)
		if err != nil {
			return "", err
		}
		return "(" + c + ")", nil
	}
	if len(f.Any) > 0 {
		parts := make([]string, 0, len(f.Any))
		for _, alt := range f.Any {
			c, err := s.filter(alt)
			if err != nil {
				return "", err
			}
			parts = append(parts, c)
		}
		return "(" + strings.Join(parts, " OR ") + ")", nil
	}

	col, ok := lookup(s.table, f.Column)
	if !ok {
		return "", fmt.Errorf("unknown column %s.%s", s.table, f.Column)
	}
	ref := "t." + quote(col.name)
	switch f.Op {
	case backend.OpEq:
		if f.Value == nil {
			return ref + " IS NULL", nil
		}
		v, err := encode(col, f.Value)
		if err != nil {
			return "", err
		}
		return ref + " = " + s.arg(v), nil
	case backend.OpGt:
		return ref + " > " + s.arg(f.Value), nil
	case backend.OpIn:
		values, _ := f.Value.([]any)
		if len(values) == 0 {
			return "FALSE", nil
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = s.arg(v)
		}
		return ref + " IN (" + strings.Join(placeholders, ", ") + ")", nil
	case backend.OpILike:
		needle, _ := f.Value.(string)
		return ref + " ILIKE " + s.arg("%"+likeEscaper.Replace(needle)+"%"), nil
	case backend.OpIsNil:
		return ref + " IS NULL", nil
	}
	return "", fmt.Errorf("unsupported filter op %q", f.Op)
}

func encode(c column, v any) (any, error) {
	if v == nil || c.kind != kJSON {
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.name, err)
	}
	return string(b), nil
}

// buildSelect renders a read. The joined table's columns follow the main
// table's columns in the select list.
func buildSelect(table string, q backend.Query) (sql string, args []any, cols, joinCols []column, err error) {
	cols, err = resolve(table, q.Columns)
	if err != nil {
		return "", nil, nil, nil, err
	}
	st := &statement{table: table}
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(selectList("t", cols))

	var from string
	if j := q.Join; j != nil {
		if _, ok := lookup(table, j.LocalColumn); !ok {
			return "", nil, nil, nil, fmt.Errorf("unknown column %s.%s", table, j.LocalColumn)
		}
		joinCols, err = resolve(j.Table, j.Columns)
		if err != nil {
			return "", nil, nil, nil, err
		}
		b.WriteString(", ")
		b.WriteString(selectList("j", joinCols))
		from = " LEFT JOIN " + quote(j.Table) + " AS j ON j.\"id\" = t." + quote(j.LocalColumn)
	}
	b.WriteString(" FROM " + quote(table) + " AS t" + from)

	if len(q.Filters) > 0 {
		w, err := st.where(q.Filters)
		if err != nil {
			return "", nil, nil, nil, err
		}
		b.WriteString(" WHERE " + w)
	}
	if len(q.Order) > 0 {
		parts := make([]string, 0, len(q.Order))
		for _, o := range q.Order {
			if _, ok := lookup(table, o.Column); !ok {
				return "", nil, nil, nil, fmt.Errorf("unknown column %s.%s", table, o.Column)
			}
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			parts = append(parts, "t."+quote(o.Column)+" "+dir)
		}
		b.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT " + st.arg(q.Limit))
	}
	return b.String(), st.args, cols, joinCols, nil
}

// buildInsert renders an INSERT returning the full row. Columns are emitted in
// sorted order so the text is stable.
func buildInsert(table string, rec backend.Record) (string, []any, error) {
	all, err := resolve(table, nil)
	if err != nil {
		return "", nil, err
	}
	st := &statement{table: table}
	keys := sortedKeys(rec)
	names := make([]string, 0, len(keys))
	values := make([]string, 0, len(keys))
	for _, k := range keys {
		c, ok := lookup(table, k)
		if !ok {
			return "", nil, fmt.Errorf("unknown column %s.%s", table, k)
		}
		v, err := encode(c, rec[k])
		if err != nil {
			return "", nil, err
		}
		names = append(names, quote(k))
		values = append(values, st.arg(v))
	}
	sql := "INSERT INTO " + quote(table) + " AS t"
	if len(names) == 0 {
		sql += " DEFAULT VALUES"
	} else {
		sql += " (" + strings.Join(names, ", ") + ") VALUES (" + strings.Join(values, ", ") + ")"
	}
	return sql + " RETURNING " + selectList("t", all), st.args, nil
}

// buildUpdate renders an UPDATE returning every changed row.
func buildUpdate(table string, filters []backend.Filter, patch backend.Record) (string, []any, error) {
	all, err := resolve(table, nil)
	if err != nil {
		return "", nil, err
	}
	if len(patch) == 0 {
		return "", nil, fmt.Errorf("empty patch for %s", table)
	}
	if len(filters) == 0 {
		return "", nil, fmt.Errorf("refusing unfiltered update of %s", table)
	}
	st := &statement{table: table}
	sets := make([]string, 0, len(patch))
	for _, k := range sortedKeys(patch) {
		c, ok := lookup(table, k)
		if !ok {
			return "", nil, fmt.Errorf("unknown column %s.%s", table, k)
		}
		v, err := encode(c, patch[k])
		if err != nil {
			return "", nil, err
		}
		sets = append(sets, quote(k)+" = "+st.arg(v))
	}
	w, err := st.where(filters)
	if err != nil {
		return "", nil, err
	}
	sql := "UPDATE " + quote(table) + " AS t SET " + strings.Join(sets, ", ") +
		" WHERE " + w + " RETURNING " + selectList("t", all)
	return sql, st.args, nil
}

// buildDelete renders a filtered DELETE.
func buildDelete(table string, filters []backend.Filter) (string, []any, error) {
	if _, err := resolve(table, nil); err != nil {
		return "", nil, err
	}
	if len(filters) == 0 {
		return "", nil, fmt.Errorf("refusing unfiltered delete of %s", table)
	}
	st := &statement{table: table}
	w, err := st.where(filters)
	if err != nil {
		return "", nil, err
	}
	return "DELETE FROM " + quote(table) + " AS t WHERE " + w, st.args, nil
}

func sortedKeys(rec backend.Record) []string {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
