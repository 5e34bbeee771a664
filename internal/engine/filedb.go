package engine

import (
	"context"
	"database/sql"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog"
	"github.com/stanstork/chartdata-api/internal/models"
)

type tableHintKey struct{}

// WithTableHint attaches a data point's result table hint to ctx. The file
// adapter uses it when the query text names no table.
func WithTableHint(ctx context.Context, hint string) context.Context {
	if hint == "" {
		return ctx
	}
	return context.WithValue(ctx, tableHintKey{}, hint)
}

func tableHint(ctx context.Context) string {
	hint, _ := ctx.Value(tableHintKey{}).(string)
	return hint
}

// FileAdapter reads a desktop database file. The referenced table is loaded
// fully into memory and filtered in Go; see filequery.go for the grammar.
// The file is opened read-only for every call.
type FileAdapter struct {
	open   OpenFunc
	logger zerolog.Logger
}

func NewFileAdapter(logger zerolog.Logger) *FileAdapter {
	return &FileAdapter{
		open:   sql.Open,
		logger: logger.With().Str("component", "file_adapter").Logger(),
	}
}

func (a *FileAdapter) Execute(ctx context.Context, profile models.ConnectionProfile, query string) ([]Row, error) {
	if profile.Path == "" {
		return nil, &ConfigurationError{System: models.SourceFile, Reason: "file profile requires a path"}
	}
	if _, err := os.Stat(profile.Path); err != nil {
		if os.IsNotExist(err) {
			return nil, &FileNotFoundError{Path: profile.Path}
		}
		return nil, &ConnectionError{System: models.SourceFile, Err: err}
	}

	q, err := parseFileQuery(query, tableHint(ctx))
	if err != nil {
		return nil, err
	}

	table, err := a.loadTable(ctx, profile, q.Table)
	if err != nil {
		return nil, err
	}
	a.logger.Debug().Str("table", q.Table).Int("rows", len(table.rows)).Msg("loaded table")
	return q.apply(table)
}

// Ping checks that the configured file exists and opens.
func (a *FileAdapter) Ping(ctx context.Context, profile models.ConnectionProfile) error {
	if _, err := os.Stat(profile.Path); err != nil {
		if os.IsNotExist(err) {
			return &FileNotFoundError{Path: profile.Path}
		}
		return &ConnectionError{System: models.SourceFile, Err: err}
	}
	db, err := a.openFile(profile)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return &ConnectionError{System: models.SourceFile, Err: err}
	}
	return nil
}

type memTable struct {
	columns []string
	rows    [][]interface{}
}

func (t *memTable) index(name string) int {
	for i, c := range t.columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

func (a *FileAdapter) openFile(profile models.ConnectionProfile) (*sql.DB, error) {
	dsn, err := profile.DSN()
	if err != nil {
		return nil, &ConfigurationError{System: models.SourceFile, Reason: err.Error()}
	}
	db, err := a.open("sqlite3", dsn)
	if err != nil {
		return nil, &ConnectionError{System: models.SourceFile, Err: err}
	}
	return db, nil
}

func (a *FileAdapter) loadTable(ctx context.Context, profile models.ConnectionProfile, table string) (*memTable, error) {
	db, err := a.openFile(profile)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT * FROM "`+strings.ReplaceAll(table, `"`, `""`)+`"`)
	if err != nil {
		return nil, &QueryError{System: models.SourceFile, Message: err.Error(), Err: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, &QueryError{System: models.SourceFile, Message: err.Error(), Err: err}
	}
	t := &memTable{columns: cols}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &QueryError{System: models.SourceFile, Message: err.Error(), Err: err}
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		t.rows = append(t.rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{System: models.SourceFile, Message: err.Error(), Err: err}
	}
	return t, nil
}

func (q *fileQuery) apply(t *memTable) ([]Row, error) {
	missing := func(col string) error {
		return &QueryError{System: models.SourceFile, Message: "no such column: " + col}
	}

	filtered := t.rows
	if q.DateCol != "" {
		idx := t.index(q.DateCol)
		if idx < 0 {
			return nil, missing(q.DateCol)
		}
		filtered = make([][]interface{}, 0, len(t.rows))
		for _, r := range t.rows {
			ok, err := q.matches(r[idx])
			if err != nil {
				return nil, err
			}
			if ok {
				filtered = append(filtered, r)
			}
		}
	}

	colIdx := -1
	if q.Column != "*" {
		colIdx = t.index(q.Column)
		if colIdx < 0 {
			return nil, missing(q.Column)
		}
	}

	if q.Aggregate != aggNone {
		return []Row{NewRow([]string{q.Alias}, []interface{}{q.aggregate(filtered, colIdx)})}, nil
	}

	out := make([]Row, 0, len(filtered))
	for _, r := range filtered {
		if colIdx < 0 {
			out = append(out, NewRow(t.columns, r))
			continue
		}
		name := q.Alias
		if name == "" {
			name = t.columns[colIdx]
		}
		out = append(out, NewRow([]string{name}, []interface{}{r[colIdx]}))
	}
	return out, nil
}

// aggregate folds the matching rows. COUNT over nothing is 0; the numeric
// aggregates over nothing are NULL.
func (q *fileQuery) aggregate(rows [][]interface{}, colIdx int) interface{} {
	if q.Aggregate == aggCount {
		if colIdx < 0 {
			return int64(len(rows))
		}
		var n int64
		for _, r := range rows {
			if r[colIdx] != nil {
				n++
			}
		}
		return n
	}

	var (
		n      int
		sum    float64
		lo, hi float64
	)
	for _, r := range rows {
		v := r[colIdx]
		if v == nil {
			continue
		}
		f := toNumber(v)
		if n == 0 || f < lo {
			lo = f
		}
		if n == 0 || f > hi {
			hi = f
		}
		sum += f
		n++
	}
	if n == 0 {
		return nil
	}
	switch q.Aggregate {
	case aggSum:
		return sum
	case aggAvg:
		return sum / float64(n)
	case aggMin:
		return lo
	case aggMax:
		return hi
	}
	return nil
}
