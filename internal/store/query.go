package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/PratikDhanave/kpi-stream-service/internal/filter"
	"github.com/PratikDhanave/kpi-stream-service/internal/models"
)

// sqliteTimeLayout is how timestamps are stored in the embedded database.
// The layout sorts lexicographically, so string comparison is time comparison.
const sqliteTimeLayout = "2006-01-02 15:04:05"

// dialect captures the few places where SQLite and Postgres SQL differ.
type dialect struct {
	placeholder func(n int) string
	bindTime    func(time.Time) any
	dayExpr     string
	floatCast   string
}

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	bindTime:    func(t time.Time) any { return t.UTC().Format(sqliteTimeLayout) },
	dayExpr:     "date(ts)",
	floatCast:   "CAST(%s AS REAL)",
}

var postgresDialect = dialect{
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	bindTime:    func(t time.Time) any { return t.UTC() },
	dayExpr:     "to_char(ts AT TIME ZONE 'UTC', 'YYYY-MM-DD')",
	floatCast:   "CAST(%s AS DOUBLE PRECISION)",
}

type column struct {
	name     string
	text     bool
	numeric  bool
	nullable bool
}

type table struct {
	name    string
	columns []column // excluding id
}

// tables is the static whitelist every rendered identifier comes from.
var tables = map[models.Kind]table{
	models.KindVisit: {name: "visits", columns: []column{
		{name: "ts"},
		{name: "ip", text: true},
		{name: "country", text: true, nullable: true},
		{name: "endpoint", text: true},
		{name: "http_method", text: true},
		{name: "status_code", numeric: true},
		{name: "response_time_ms", numeric: true},
		{name: "user_agent", text: true},
	}},
	models.KindSale: {name: "sales", columns: []column{
		{name: "ts"},
		{name: "product", text: true},
		{name: "salesperson", text: true},
		{name: "revenue", numeric: true},
		{name: "profit", numeric: true},
		{name: "country", text: true, nullable: true},
		{name: "endpoint", text: true, nullable: true},
	}},
	models.KindLead: {name: "leads", columns: []column{
		{name: "ts"},
		{name: "lead_source", text: true},
		{name: "lead_status", text: true},
	}},
}

func (t table) column(field string) (column, bool) {
	switch field {
	case filter.TimestampField:
		field = "ts"
	case "id":
		return column{name: "id", numeric: true}, true
	}
	for _, c := range t.columns {
		if c.name == field {
			return c, true
		}
	}
	return column{}, false
}

func tableFor(kind models.Kind) (table, error) {
	t, ok := tables[kind]
	if !ok {
		return table{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidQuery, kind)
	}
	return t, nil
}

// args accumulates bound values and hands out placeholders.
type args struct {
	d    dialect
	vals []any
}

func (a *args) add(v any) string {
	if t, ok := v.(time.Time); ok {
		v = a.d.bindTime(t)
	}
	a.vals = append(a.vals, v)
	return a.d.placeholder(len(a.vals))
}

func (a *args) where(t table, pred filter.Predicate) (string, error) {
	if pred.MatchAll() {
		return "", nil
	}
	parts := make([]string, 0, len(pred.Conditions))
	for _, c := range pred.Conditions {
		col, ok := t.column(c.Field)
		if !ok {
			return "", fmt.Errorf("%w: %s has no field %q", ErrInvalidQuery, t.name, c.Field)
		}
		switch c.Op {
		case filter.OpEq, filter.OpGTE, filter.OpLTE:
		default:
			return "", fmt.Errorf("%w: operator %q", ErrInvalidQuery, c.Op)
		}
		parts = append(parts, col.name+" "+string(c.Op)+" "+a.add(c.Value))
	}
	return " WHERE " + strings.Join(parts, " AND "), nil
}

func selectList(t table) string {
	cols := make([]string, 0, len(t.columns)+1)
	cols = append(cols, "id")
	for _, c := range t.columns {
		if c.nullable {
			cols = append(cols, "COALESCE("+c.name+", '')")
			continue
		}
		cols = append(cols, c.name)
	}
	return strings.Join(cols, ", ")
}

func buildScan(d dialect, kind models.Kind, pred filter.Predicate, opts ScanOptions) (string, []any, error) {
	t, err := tableFor(kind)
	if err != nil {
		return "", nil, err
	}
	a := &args{d: d}
	where, err := a.where(t, pred)
	if err != nil {
		return "", nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT " + selectList(t) + " FROM " + t.name + where)

	dir := " ASC"
	if opts.Desc {
		dir = " DESC"
	}
	if opts.OrderBy != "" {
		col, ok := t.column(opts.OrderBy)
		if !ok {
			return "", nil, fmt.Errorf("%w: cannot order %s by %q", ErrInvalidQuery, t.name, opts.OrderBy)
		}
		b.WriteString(" ORDER BY " + col.name + dir + ", id" + dir)
	}
	if opts.Limit > 0 {
		b.WriteString(" LIMIT " + a.add(opts.Limit))
	}
	return b.String(), a.vals, nil
}

func buildAggregate(d dialect, kind models.Kind, pred filter.Predicate, q AggregateQuery) (string, []any, error) {
	t, err := tableFor(kind)
	if err != nil {
		return "", nil, err
	}
	if len(q.Metrics) == 0 {
		return "", nil, fmt.Errorf("%w: aggregate without metrics", ErrInvalidQuery)
	}

	keys := make([]string, 0, len(q.GroupBy))
	for _, g := range q.GroupBy {
		if g == DayBucket {
			keys = append(keys, d.dayExpr)
			continue
		}
		col, ok := t.column(g)
		if !ok || !col.text {
			return "", nil, fmt.Errorf("%w: cannot group %s by %q", ErrInvalidQuery, t.name, g)
		}
		keys = append(keys, "COALESCE("+col.name+", '')")
	}

	exprs := make([]string, 0, len(q.Metrics))
	for _, m := range q.Metrics {
		var e string
		switch m.Func {
		case Count:
			e = "COUNT(*)"
		case CountDistinct:
			col, ok := t.column(m.Column)
			if !ok {
				return "", nil, fmt.Errorf("%w: %s has no column %q", ErrInvalidQuery, t.name, m.Column)
			}
			e = "COUNT(DISTINCT " + col.name + ")"
		case Sum:
			col, ok := t.column(m.Column)
			if !ok || !col.numeric {
				return "", nil, fmt.Errorf("%w: cannot sum %s.%s", ErrInvalidQuery, t.name, m.Column)
			}
			e = "COALESCE(SUM(" + col.name + "), 0)"
		default:
			return "", nil, fmt.Errorf("%w: metric %q", ErrInvalidQuery, m.Func)
		}
		exprs = append(exprs, fmt.Sprintf(d.floatCast, e))
	}

	a := &args{d: d}
	where, err := a.where(t, pred)
	if err != nil {
		return "", nil, err
	}

	sel := append(append([]string{}, keys...), exprs...)
	query := "SELECT " + strings.Join(sel, ", ") + " FROM " + t.name + where
	if len(keys) > 0 {
		list := strings.Join(keys, ", ")
		query += " GROUP BY " + list + " ORDER BY " + list
	}
	return query, a.vals, nil
}

func buildInsert(d dialect, kind models.Kind) (string, error) {
	t, err := tableFor(kind)
	if err != nil {
		return "", err
	}
	names := make([]string, len(t.columns))
	marks := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.name
		marks[i] = d.placeholder(i + 1)
	}
	return "INSERT INTO " + t.name + " (" + strings.Join(names, ", ") + ") VALUES (" +
		strings.Join(marks, ", ") + ") RETURNING id", nil
}

// insertValues returns the column values of r in table column order.
func insertValues(d dialect, r models.Record) []any {
	switch v := r.(type) {
	case models.Visit:
		return []any{
			d.bindTime(v.Timestamp.Truncate(time.Second)), v.IP, nullable(v.Country),
			v.Endpoint, v.HTTPMethod, v.StatusCode, v.ResponseTimeMS, v.UserAgent,
		}
	case models.Sale:
		return []any{
			d.bindTime(v.Timestamp.Truncate(time.Second)), v.Product, v.Salesperson,
			v.Revenue, v.Profit, nullable(v.Country), nullable(v.Endpoint),
		}
	case models.Lead:
		return []any{
			d.bindTime(v.Timestamp.Truncate(time.Second)), v.LeadSource, v.LeadStatus,
		}
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner abstracts *sql.Rows and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// decodeRow reads one row produced by selectList. ts is the destination for
// the timestamp column and parse turns it into a time.Time afterwards.
func decodeRow(kind models.Kind, rows rowScanner, ts any, parse func() (time.Time, error)) (models.Record, error) {
	switch kind {
	case models.KindVisit:
		var v models.Visit
		if err := rows.Scan(&v.ID, ts, &v.IP, &v.Country, &v.Endpoint, &v.HTTPMethod,
			&v.StatusCode, &v.ResponseTimeMS, &v.UserAgent); err != nil {
			return nil, err
		}
		t, err := parse()
		if err != nil {
			return nil, err
		}
		v.Timestamp = t
		return v, nil
	case models.KindSale:
		var s models.Sale
		if err := rows.Scan(&s.ID, ts, &s.Product, &s.Salesperson, &s.Revenue, &s.Profit,
			&s.Country, &s.Endpoint); err != nil {
			return nil, err
		}
		t, err := parse()
		if err != nil {
			return nil, err
		}
		s.Timestamp = t
		return s, nil
	case models.KindLead:
		var l models.Lead
		if err := rows.Scan(&l.ID, ts, &l.LeadSource, &l.LeadStatus); err != nil {
			return nil, err
		}
		t, err := parse()
		if err != nil {
			return nil, err
		}
		l.Timestamp = t
		return l, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidQuery, kind)
}

// decodeGroup reads one aggregate row with nk string keys and nv float values.
func decodeGroup(rows rowScanner, nk, nv int) (Group, error) {
	g := Group{Keys: make([]string, nk), Values: make([]float64, nv)}
	dest := make([]any, 0, nk+nv)
	for i := range g.Keys {
		dest = append(dest, &g.Keys[i])
	}
	for i := range g.Values {
		dest = append(dest, &g.Values[i])
	}
	return g, rows.Scan(dest...)
}
