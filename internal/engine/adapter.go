package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/stanstork/chartdata-api/internal/models"
)

// Row is one result row. Columns keep the order the backend returned them in.
type Row struct {
	Columns []string
	Values  []interface{}
}

func NewRow(columns []string, values []interface{}) Row {
	return Row{Columns: columns, Values: values}
}

// Get returns the value of the named column. The lookup is exact first and
// case-insensitive second.
func (r Row) Get(name string) (interface{}, bool) {
	for i, c := range r.Columns {
		if c == name {
			return r.Values[i], true
		}
	}
	for i, c := range r.Columns {
		if strings.EqualFold(c, name) {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Adapter executes query text against one kind of backend.
type Adapter interface {
	Execute(ctx context.Context, profile models.ConnectionProfile, query string) ([]Row, error)
}

// Adapters binds each source system to the only adapter allowed to serve it.
type Adapters map[models.SourceSystem]Adapter

func (a Adapters) For(system models.SourceSystem) (Adapter, error) {
	adapter, ok := a[system]
	if !ok || adapter == nil {
		return nil, &ConfigurationError{System: system, Reason: fmt.Sprintf("no adapter registered for %s", system)}
	}
	return adapter, nil
}
