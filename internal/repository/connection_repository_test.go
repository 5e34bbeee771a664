package repository

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stanstork/chartdata-api/internal/models"
	"github.com/stanstork/chartdata-api/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var connectionCols = []string{
	"id", "source_system", "host", "port", "instance", "db_name", "username",
	"password_enc", "integrated", "encrypt", "file_path", "updated_at",
}

func newTestBox(t *testing.T) *utils.SecretBox {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	box, err := utils.NewSecretBox(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	return box
}

func TestConnectionRepositoryLoadProfilesDecrypts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	box := newTestBox(t)
	sealed, err := box.Seal("secret")
	require.NoError(t, err)
	now := time.Now()

	mock.ExpectQuery(`SELECT .+ FROM chart\.connections ORDER BY source_system`).
		WillReturnRows(sqlmock.NewRows(connectionCols).
			AddRow("1", "file", "", 0, "", "", "", nil, false, "", "/data/plant.db", now).
			AddRow("2", "sqlserver", "reporting-db", 1433, "", "Plant", "reader", sealed, false, "true", "", now))

	profiles, err := NewConnectionRepository(db, box).LoadProfiles(context.Background())
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "/data/plant.db", profiles[models.SourceFile].Path)
	assert.Equal(t, "secret", profiles[models.SourceSQLServer].Password)
	assert.Equal(t, 1433, profiles[models.SourceSQLServer].Port)
}

func TestConnectionRepositoryEncryptedWithoutKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sealed, err := newTestBox(t).Seal("secret")
	require.NoError(t, err)
	mock.ExpectQuery(`SELECT .+ FROM chart\.connections`).
		WillReturnRows(sqlmock.NewRows(connectionCols).
			AddRow("2", "sqlserver", "reporting-db", 1433, "", "Plant", "reader", sealed, false, "", "", time.Now()))

	_, err = NewConnectionRepository(db, nil).List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no key is configured")
}

func TestConnectionRepositoryReplaceSealsPasswords(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	profiles := []models.ConnectionProfile{
		{System: models.SourceFile, Path: "/data/plant.db"},
		{
			System:   models.SourceSQLServer,
			Host:     "reporting-db",
			Port:     1433,
			Database: "Plant",
			Username: "reader",
			Password: "secret",
		},
	}
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM chart\.connections WHERE NOT \(source_system = ANY\(\$1\)\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO chart\.connections .+ ON CONFLICT \(source_system\) DO UPDATE`).
		WithArgs("file", "", 0, "", "", "", sqlmock.AnyArg(), false, "", "/data/plant.db").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO chart\.connections .+ ON CONFLICT \(source_system\) DO UPDATE`).
		WithArgs("sqlserver", "reporting-db", 1433, "", "Plant", "reader", sqlmock.AnyArg(), false, "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = NewConnectionRepository(db, newTestBox(t)).Replace(context.Background(), profiles)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionRepositoryReplacePasswordNeedsKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM chart\.connections`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = NewConnectionRepository(db, nil).Replace(context.Background(), []models.ConnectionProfile{
		{System: models.SourceSQLServer, Host: "reporting-db", Password: "secret"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encryption key")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectionRepositoryReplaceRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM chart\.connections`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO chart\.connections`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = NewConnectionRepository(db, nil).Replace(context.Background(), []models.ConnectionProfile{
		{System: models.SourceFile, Path: "/data/plant.db"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}
