package repository

import (
	"context"
	"database/sql"

	"github.com/stanstork/chartdata-api/internal/models"
)

// ResultRepository keeps the per-row history of every run.
type ResultRepository interface {
	Record(ctx context.Context, res models.ExecutionResult) error
	ListByRun(ctx context.Context, runID string) ([]models.ExecutionResult, error)
}

type resultRepository struct {
	db *sql.DB
}

func NewResultRepository(db *sql.DB) ResultRepository {
	return &resultRepository{db: db}
}

func (r *resultRepository) Record(ctx context.Context, res models.ExecutionResult) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chart.run_results (run_id, data_point_id, value, outcome, succeeded, error_kind, error_message, duration_ms, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, res.RunID, res.DataPointID, res.Value, string(res.Outcome), res.Succeeded,
		nullString(res.ErrorKind), nullString(res.ErrorMessage), res.DurationMs, res.ExecutedAt)
	return err
}

func (r *resultRepository) ListByRun(ctx context.Context, runID string) ([]models.ExecutionResult, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, data_point_id, value, outcome, succeeded, error_kind, error_message, duration_ms, executed_at
		FROM chart.run_results
		WHERE run_id = $1
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.ExecutionResult
	for rows.Next() {
		var (
			res      models.ExecutionResult
			outcome  string
			kind     sql.NullString
			errorMsg sql.NullString
		)
		if err := rows.Scan(&res.RunID, &res.DataPointID, &res.Value, &outcome, &res.Succeeded,
			&kind, &errorMsg, &res.DurationMs, &res.ExecutedAt); err != nil {
			return nil, err
		}
		res.Outcome = models.Outcome(outcome)
		res.ErrorKind = kind.String
		res.ErrorMessage = errorMsg.String
		results = append(results, res)
	}
	return results, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
