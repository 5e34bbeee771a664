package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/stanstork/chartdata-api/internal/models"
)

// DataPointRepository is the catalog store. The engine only needs LoadAll and
// UpdateValue; Get backs the read API.
type DataPointRepository interface {
	LoadAll(ctx context.Context) ([]*models.DataPoint, error)
	Get(ctx context.Context, id string) (*models.DataPoint, error)
	UpdateValue(ctx context.Context, id string, value float64, at time.Time) error
}

type dataPointRepository struct {
	db *sql.DB
}

func NewDataPointRepository(db *sql.DB) DataPointRepository {
	return &dataPointRepository{db: db}
}

const dataPointColumns = `
	id, display_name, group_name, variable_name, source_system,
	test_query, production_query, result_table_hint, sort_order,
	last_value, last_updated_at`

func (r *dataPointRepository) LoadAll(ctx context.Context) ([]*models.DataPoint, error) {
	query := `SELECT ` + dataPointColumns + `
		FROM chart.data_points
		ORDER BY sort_order ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []*models.DataPoint
	seen := make(map[string]struct{})
	for rows.Next() {
		dp, err := scanDataPoint(rows)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[dp.ID]; dup {
			return nil, fmt.Errorf("duplicate data point id %q in catalog", dp.ID)
		}
		seen[dp.ID] = struct{}{}
		points = append(points, dp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return points, nil
}

func (r *dataPointRepository) Get(ctx context.Context, id string) (*models.DataPoint, error) {
	query := `SELECT ` + dataPointColumns + `
		FROM chart.data_points
		WHERE id = $1`
	return scanDataPoint(r.db.QueryRowContext(ctx, query, id))
}

func (r *dataPointRepository) UpdateValue(ctx context.Context, id string, value float64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE chart.data_points
		SET last_value = $1, last_updated_at = $2
		WHERE id = $3
	`, value, at, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("update data point %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDataPoint(s rowScanner) (*models.DataPoint, error) {
	var (
		dp        models.DataPoint
		source    string
		hint      sql.NullString
		lastValue sql.NullFloat64
		lastAt    sql.NullTime
	)
	if err := s.Scan(
		&dp.ID,
		&dp.DisplayName,
		&dp.GroupName,
		&dp.VariableName,
		&source,
		&dp.TestQuery,
		&dp.ProductionQuery,
		&hint,
		&dp.SortOrder,
		&lastValue,
		&lastAt,
	); err != nil {
		return nil, err
	}
	system, err := models.ParseSourceSystem(source)
	if err != nil {
		return nil, fmt.Errorf("data point %s: %w", dp.ID, err)
	}
	dp.SourceSystem = system
	if hint.Valid && hint.String != "" {
		dp.ResultTableHint = &hint.String
	}
	if lastValue.Valid {
		dp.LastValue = &lastValue.Float64
	}
	if lastAt.Valid {
		dp.LastUpdatedAt = &lastAt.Time
	}
	return &dp, nil
}
