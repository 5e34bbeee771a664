package models

import (
	"fmt"
	"strings"
	"time"
)

// RunMode selects which stored query text a run executes.
type RunMode string

const (
	ModeTest       RunMode = "test"
	ModeProduction RunMode = "production"
)

func ParseRunMode(raw string) (RunMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "test", "":
		return ModeTest, nil
	case "production", "prod":
		return ModeProduction, nil
	default:
		return "", fmt.Errorf("unknown run mode %q", raw)
	}
}

type DataPoint struct {
	ID              string       `json:"id" db:"id"`
	DisplayName     string       `json:"display_name" db:"display_name"`
	GroupName       string       `json:"group_name" db:"group_name"`
	VariableName    string       `json:"variable_name" db:"variable_name"`
	SourceSystem    SourceSystem `json:"source_system" db:"source_system"`
	TestQuery       string       `json:"test_query" db:"test_query"`
	ProductionQuery string       `json:"production_query" db:"production_query"`
	ResultTableHint *string      `json:"result_table_hint,omitempty" db:"result_table_hint"`
	SortOrder       int          `json:"sort_order" db:"sort_order"`
	LastValue       *float64     `json:"last_value" db:"last_value"`
	LastUpdatedAt   *time.Time   `json:"last_updated_at" db:"last_updated_at"`
}

// QueryFor returns the query text the given mode executes.
func (d *DataPoint) QueryFor(mode RunMode) string {
	if mode == ModeProduction {
		return d.ProductionQuery
	}
	return d.TestQuery
}

func (d *DataPoint) TableHint() string {
	if d.ResultTableHint == nil {
		return ""
	}
	return *d.ResultTableHint
}
