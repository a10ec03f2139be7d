// Package filter turns optional request filters into predicates the store can
// render with bound parameters only.
package filter

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PratikDhanave/kpi-stream-service/internal/models"
)

// DateLayout is the accepted format for date_from and date_to.
const DateLayout = "2006-01-02"

// TimestampField is the pseudo-field used for date range conditions.
const TimestampField = "timestamp"

// Op is a comparison operator understood by the store.
type Op string

const (
	OpEq  Op = "="
	OpGTE Op = ">="
	OpLTE Op = "<="
)

// Condition is a single field comparison. Value is a string, int or time.Time.
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Predicate is an AND of conditions. The zero value matches every row.
type Predicate struct {
	Conditions []Condition
}

// MatchAll reports whether p imposes no constraint.
func (p Predicate) MatchAll() bool { return len(p.Conditions) == 0 }

// And returns a copy of p with c appended.
func (p Predicate) And(c Condition) Predicate {
	out := make([]Condition, 0, len(p.Conditions)+1)
	out = append(out, p.Conditions...)
	return Predicate{Conditions: append(out, c)}
}

// fieldType is how an equality value is converted before binding.
type fieldType int

const (
	typeString fieldType = iota
	typeInt
)

// Fields lists the equality-filterable fields of every kind.
var Fields = map[models.Kind]map[string]fieldType{
	models.KindVisit: {
		"ip":          typeString,
		"country":     typeString,
		"endpoint":    typeString,
		"http_method": typeString,
		"status_code": typeInt,
		"user_agent":  typeString,
	},
	models.KindSale: {
		"product":     typeString,
		"salesperson": typeString,
		"country":     typeString,
		"endpoint":    typeString,
	},
	models.KindLead: {
		"lead_source": typeString,
		"lead_status": typeString,
	},
}

// ValidationError reports a malformed or unknown filter field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid filter %q: %s", e.Field, e.Reason)
}

// Params is the caller-facing filter shape shared by every KPI.
type Params struct {
	DateFrom *time.Time
	DateTo   *time.Time
	Equals   map[string]string
}

// Key returns a canonical string form of p, stable across map ordering.
func (p Params) Key() string {
	var b strings.Builder
	if p.DateFrom != nil {
		b.WriteString("from=" + p.DateFrom.Format(DateLayout) + ";")
	}
	if p.DateTo != nil {
		b.WriteString("to=" + p.DateTo.Format(DateLayout) + ";")
	}
	keys := make([]string, 0, len(p.Equals))
	for k := range p.Equals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k + "=" + url.QueryEscape(p.Equals[k]) + ";")
	}
	return b.String()
}

// ParseDate parses a YYYY-MM-DD date as UTC midnight.
func ParseDate(field, s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, &ValidationError{Field: field, Reason: "must be YYYY-MM-DD"}
	}
	return t, nil
}

// ParseQuery reads filter parameters from a query string. Keys listed in skip
// are left for the caller. Any other key that is not a date bound is treated
// as an equality filter and checked later by Build.
func ParseQuery(q url.Values, skip ...string) (Params, error) {
	p := Params{Equals: map[string]string{}}
	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipped[s] = true
	}

	for key, vals := range q {
		if skipped[key] {
			continue
		}
		if len(vals) != 1 {
			return Params{}, &ValidationError{Field: key, Reason: "must be given once"}
		}
		v := vals[0]
		switch key {
		case "date_from", "start_date":
			if p.DateFrom != nil {
				return Params{}, &ValidationError{Field: key, Reason: "start date given twice"}
			}
			t, err := ParseDate(key, v)
			if err != nil {
				return Params{}, err
			}
			p.DateFrom = &t
		case "date_to", "end_date":
			if p.DateTo != nil {
				return Params{}, &ValidationError{Field: key, Reason: "end date given twice"}
			}
			t, err := ParseDate(key, v)
			if err != nil {
				return Params{}, err
			}
			p.DateTo = &t
		default:
			p.Equals[key] = v
		}
	}
	return p, nil
}

// Build validates p against the kinds a KPI reads and returns its predicate.
// An equality field must be known to every kind in kinds.
func Build(p Params, kinds ...models.Kind) (Predicate, error) {
	var pred Predicate

	if p.DateFrom != nil && p.DateTo != nil && p.DateFrom.After(*p.DateTo) {
		return Predicate{}, &ValidationError{Field: "date_from", Reason: "is after date_to"}
	}
	if p.DateFrom != nil {
		pred.Conditions = append(pred.Conditions, Condition{
			Field: TimestampField,
			Op:    OpGTE,
			Value: StartOfDay(*p.DateFrom),
		})
	}
	if p.DateTo != nil {
		pred.Conditions = append(pred.Conditions, Condition{
			Field: TimestampField,
			Op:    OpLTE,
			Value: EndOfDay(*p.DateTo),
		})
	}

	fields := make([]string, 0, len(p.Equals))
	for f := range p.Equals {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		if len(kinds) == 0 {
			return Predicate{}, &ValidationError{Field: field, Reason: "no equality filters accepted"}
		}
		raw := p.Equals[field]
		var ft fieldType
		for i, k := range kinds {
			t, ok := Fields[k][field]
			if !ok {
				return Predicate{}, &ValidationError{Field: field, Reason: fmt.Sprintf("not a %s field", k)}
			}
			if i == 0 {
				ft = t
			}
		}

		var value any = raw
		if ft == typeInt {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return Predicate{}, &ValidationError{Field: field, Reason: "must be an integer"}
			}
			value = n
		}
		pred.Conditions = append(pred.Conditions, Condition{Field: field, Op: OpEq, Value: value})
	}

	return pred, nil
}

// StartOfDay returns 00:00:00 UTC of t's calendar day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns 23:59:59 UTC of t's calendar day. Stored timestamps have
// whole-second precision so this bound is inclusive of the whole day.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}
