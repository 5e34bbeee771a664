package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stanstork/chartdata-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dataPointCols = []string{
	"id", "display_name", "group_name", "variable_name", "source_system",
	"test_query", "production_query", "result_table_hint", "sort_order",
	"last_value", "last_updated_at",
}

func TestDataPointRepositoryLoadAll(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	updated := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT .+ FROM chart\.data_points\s+ORDER BY sort_order ASC, id ASC`).
		WillReturnRows(sqlmock.NewRows(dataPointCols).
			AddRow("orders", "Orders", "Sales", "ORD", "mssql", "SELECT 1 AS value", "SELECT 2 AS value", nil, 1, 1500.0, updated).
			AddRow("returns", "Returns", "Sales", "RET", "access", "SELECT COUNT(*) AS value", "SELECT COUNT(*) AS value", "Returns", 2, nil, nil))

	points, err := NewDataPointRepository(db).LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.Equal(t, "orders", points[0].ID)
	assert.Equal(t, models.SourceSQLServer, points[0].SourceSystem)
	assert.Nil(t, points[0].ResultTableHint)
	require.NotNil(t, points[0].LastValue)
	assert.Equal(t, 1500.0, *points[0].LastValue)
	assert.Equal(t, updated, *points[0].LastUpdatedAt)

	assert.Equal(t, models.SourceFile, points[1].SourceSystem)
	assert.Equal(t, "Returns", points[1].TableHint())
	assert.Nil(t, points[1].LastValue)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDataPointRepositoryLoadAllRejectsDuplicates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM chart\.data_points`).
		WillReturnRows(sqlmock.NewRows(dataPointCols).
			AddRow("orders", "Orders", "", "", "sqlserver", "q", "q", nil, 1, nil, nil).
			AddRow("orders", "Orders again", "", "", "sqlserver", "q", "q", nil, 2, nil, nil))

	_, err = NewDataPointRepository(db).LoadAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate data point id")
}

func TestDataPointRepositoryLoadAllRejectsUnknownSource(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM chart\.data_points`).
		WillReturnRows(sqlmock.NewRows(dataPointCols).
			AddRow("orders", "Orders", "", "", "oracle", "q", "q", nil, 1, nil, nil))

	_, err = NewDataPointRepository(db).LoadAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source system")
}

func TestDataPointRepositoryGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM chart\.data_points\s+WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(dataPointCols))

	_, err = NewDataPointRepository(db).Get(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestDataPointRepositoryUpdateValue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Now()
	repo := NewDataPointRepository(db)

	mock.ExpectExec(`UPDATE chart\.data_points`).
		WithArgs(1500.0, at, "orders").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateValue(context.Background(), "orders", 1500, at))

	mock.ExpectExec(`UPDATE chart\.data_points`).
		WithArgs(0.0, at, "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = repo.UpdateValue(context.Background(), "gone", 0, at)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	assert.NoError(t, mock.ExpectationsWereMet())
}
