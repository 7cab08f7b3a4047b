package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	for range schemaStatements {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()

	require.NoError(t, InitSchema(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitSchema_RollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS equipment").WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	err = InitSchema(context.Background(), db)
	assert.ErrorContains(t, err, "schema statement 1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetConfig_Defaults(t *testing.T) {
	viper.Reset()

	config := GetConfig()
	assert.Equal(t, "smartdigilab", config.Name)
	assert.Equal(t, 25, config.MaxOpenConns)
	assert.Equal(t, "host=localhost port=5432 user=postgres password=password dbname=smartdigilab sslmode=disable", config.DSN())
}
