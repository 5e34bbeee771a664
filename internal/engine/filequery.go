package engine

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/stanstork/chartdata-api/internal/models"
)

// The file backend understands one narrow statement shape:
//
//	SELECT <projection> FROM <table> [WHERE <date predicate>]
//
//	projection     := COUNT|SUM|AVG|MIN|MAX ( <column> | * ) [AS <alias>]
//	                | <column> [AS <alias>]
//	                | *
//	date predicate := <column> <op> <date>
//	                | <column> BETWEEN <date> AND <date>
//	                | <column> <op> <date> AND <column> <op> <date>   (same column)
//	op             := = | <> | != | < | <= | > | >=
//	date           := 'YYYY-MM-DD[ HH:MM[:SS]]' | #YYYY-MM-DD# | #MM/DD/YYYY#
//
// Identifiers may be quoted with [], "" or backticks. FROM may be omitted
// when the data point carries a result table hint. Anything else is rejected
// with UnsupportedQueryError.

const identPattern = "(?:\\[[^\\]]+\\]|\"[^\"]+\"|`[^`]+`|[A-Za-z_][A-Za-z0-9_]*)"

const datePattern = `(?:'[^']*'|#[^#]*#)`

const opPattern = `(?:<>|!=|<=|>=|=|<|>)`

var (
	selectRe = regexp.MustCompile(`(?is)^SELECT\s+(.+?)(?:\s+FROM\s+(` + identPattern + `))?(?:\s+WHERE\s+(.+))?$`)

	aggProjRe   = regexp.MustCompile(`(?is)^(COUNT|SUM|AVG|MIN|MAX)\s*\(\s*(\*|` + identPattern + `)\s*\)(?:\s+AS\s+(` + identPattern + `))?$`)
	plainProjRe = regexp.MustCompile(`(?is)^(\*|` + identPattern + `)(?:\s+AS\s+(` + identPattern + `))?$`)

	betweenRe = regexp.MustCompile(`(?is)^(` + identPattern + `)\s+BETWEEN\s+(` + datePattern + `)\s+AND\s+(` + datePattern + `)$`)
	compareRe = regexp.MustCompile(`(?is)^(` + identPattern + `)\s*(` + opPattern + `)\s*(` + datePattern + `)(?:\s+AND\s+(` + identPattern + `)\s*(` + opPattern + `)\s*(` + datePattern + `))?$`)

	literalRe   = regexp.MustCompile(`'[^']*'|#[^#]*#`)
	quotedRe    = regexp.MustCompile("\\[[^\\]]*\\]|\"[^\"]*\"|`[^`]*`")
	forbiddenRe = regexp.MustCompile(`(?i)\b(JOIN|UNION|GROUP\s+BY|ORDER\s+BY|HAVING|TOP|LIMIT|OR|IN|LIKE|DISTINCT|INTO|INSERT|UPDATE|DELETE)\b|\(\s*SELECT\b`)
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
	"1/2/2006",
}

type aggregate string

const (
	aggNone  aggregate = ""
	aggCount aggregate = "count"
	aggSum   aggregate = "sum"
	aggAvg   aggregate = "avg"
	aggMin   aggregate = "min"
	aggMax   aggregate = "max"
)

type datePredicate struct {
	Op       string
	At       time.Time
	DateOnly bool
}

type fileQuery struct {
	Table     string
	Aggregate aggregate
	Column    string // "*" selects every column
	Alias     string
	DateCol   string
	Preds     []datePredicate
}

func parseFileQuery(query, tableHint string) (*fileQuery, error) {
	text := strings.TrimSpace(query)
	text = strings.TrimSpace(strings.TrimSuffix(text, ";"))
	text = strings.Join(strings.Fields(text), " ")
	unsupported := func(reason string) error {
		return &UnsupportedQueryError{Query: query, Reason: reason}
	}
	if text == "" {
		return nil, unsupported("empty query")
	}

	scan := quotedRe.ReplaceAllString(literalRe.ReplaceAllString(text, "''"), "x")
	if m := forbiddenRe.FindString(scan); m != "" {
		return nil, unsupported(fmt.Sprintf("%s is not supported", strings.ToUpper(strings.TrimSpace(m))))
	}

	m := selectRe.FindStringSubmatch(text)
	if m == nil {
		return nil, unsupported("expected SELECT ... FROM ...")
	}
	q := &fileQuery{Table: unquoteIdent(m[2])}
	if q.Table == "" {
		q.Table = strings.TrimSpace(tableHint)
	}
	if q.Table == "" {
		return nil, unsupported("no table named")
	}

	if err := q.parseProjection(strings.TrimSpace(m[1])); err != nil {
		return nil, unsupported(err.Error())
	}
	if where := strings.TrimSpace(m[3]); where != "" {
		if err := q.parseWhere(where); err != nil {
			return nil, unsupported(err.Error())
		}
	}
	return q, nil
}

func (q *fileQuery) parseProjection(proj string) error {
	if m := aggProjRe.FindStringSubmatch(proj); m != nil {
		q.Aggregate = aggregate(strings.ToLower(m[1]))
		q.Column = unquoteIdent(m[2])
		q.Alias = unquoteIdent(m[3])
		if q.Column == "*" && q.Aggregate != aggCount {
			return fmt.Errorf("%s(*) is not valid", strings.ToUpper(string(q.Aggregate)))
		}
		if q.Alias == "" {
			q.Alias = string(q.Aggregate)
		}
		return nil
	}
	if m := plainProjRe.FindStringSubmatch(proj); m != nil {
		q.Column = unquoteIdent(m[1])
		q.Alias = unquoteIdent(m[2])
		if q.Column == "*" && q.Alias != "" {
			return fmt.Errorf("* cannot be aliased")
		}
		return nil
	}
	return fmt.Errorf("projection %q must be one column, * or a single aggregate", proj)
}

func (q *fileQuery) parseWhere(where string) error {
	if m := betweenRe.FindStringSubmatch(where); m != nil {
		from, fromDateOnly, err := parseDateLiteral(m[2])
		if err != nil {
			return err
		}
		to, toDateOnly, err := parseDateLiteral(m[3])
		if err != nil {
			return err
		}
		q.DateCol = unquoteIdent(m[1])
		q.Preds = []datePredicate{
			{Op: ">=", At: from, DateOnly: fromDateOnly},
			{Op: "<=", At: to, DateOnly: toDateOnly},
		}
		return nil
	}

	m := compareRe.FindStringSubmatch(where)
	if m == nil {
		return fmt.Errorf("WHERE must be a single date predicate")
	}
	q.DateCol = unquoteIdent(m[1])
	at, dateOnly, err := parseDateLiteral(m[3])
	if err != nil {
		return err
	}
	q.Preds = append(q.Preds, datePredicate{Op: normalizeOp(m[2]), At: at, DateOnly: dateOnly})
	if m[4] != "" {
		if !strings.EqualFold(unquoteIdent(m[4]), q.DateCol) {
			return fmt.Errorf("range predicates must use the same column")
		}
		at, dateOnly, err := parseDateLiteral(m[6])
		if err != nil {
			return err
		}
		q.Preds = append(q.Preds, datePredicate{Op: normalizeOp(m[5]), At: at, DateOnly: dateOnly})
	}
	return nil
}

func normalizeOp(op string) string {
	if op == "!=" {
		return "<>"
	}
	return op
}

func unquoteIdent(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		switch {
		case s[0] == '[' && s[len(s)-1] == ']',
			s[0] == '"' && s[len(s)-1] == '"',
			s[0] == '`' && s[len(s)-1] == '`':
			return s[1 : len(s)-1]
		}
	}
	return s
}

func parseDateLiteral(lit string) (time.Time, bool, error) {
	raw := strings.TrimSpace(lit)
	if len(raw) >= 2 {
		raw = raw[1 : len(raw)-1]
	}
	raw = strings.TrimSpace(raw)
	t, layout, ok := parseDate(raw)
	if !ok {
		return time.Time{}, false, fmt.Errorf("cannot parse date literal %s", lit)
	}
	return t, !strings.Contains(layout, "15"), nil
}

func parseDate(raw string) (time.Time, string, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			// Keep the wall clock; offsets are ignored like they are for cells.
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC), layout, true
		}
	}
	return time.Time{}, "", false
}

// matches reports whether a cell value satisfies every predicate. Date-only
// literals compare at day granularity. NULL never matches; a non-NULL cell
// that is not a date is an error.
func (q *fileQuery) matches(v interface{}) (bool, error) {
	if len(q.Preds) == 0 {
		return true, nil
	}
	if v == nil {
		return false, nil
	}
	t, ok := cellTime(v)
	if !ok {
		return false, &QueryError{
			System:  models.SourceFile,
			Message: fmt.Sprintf("column %s holds %v, which is not a date", q.DateCol, v),
		}
	}
	for _, p := range q.Preds {
		if !p.eval(t) {
			return false, nil
		}
	}
	return true, nil
}

func (p datePredicate) eval(t time.Time) bool {
	// Cells are compared on their wall clock, the same way literals are parsed.
	t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	start := p.At
	end := p.At
	if p.DateOnly {
		end = start.AddDate(0, 0, 1)
	}
	switch p.Op {
	case "=":
		if p.DateOnly {
			return !t.Before(start) && t.Before(end)
		}
		return t.Equal(start)
	case "<>":
		if p.DateOnly {
			return t.Before(start) || !t.Before(end)
		}
		return !t.Equal(start)
	case "<":
		return t.Before(start)
	case "<=":
		if p.DateOnly {
			return t.Before(end)
		}
		return !t.After(start)
	case ">":
		if p.DateOnly {
			return !t.Before(end)
		}
		return t.After(start)
	case ">=":
		return !t.Before(start)
	}
	return false
}

func cellTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, _, ok := parseDate(strings.TrimSpace(t))
		return parsed, ok
	case []byte:
		parsed, _, ok := parseDate(strings.TrimSpace(string(t)))
		return parsed, ok
	}
	return time.Time{}, false
}
