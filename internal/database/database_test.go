package database

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyExecutesAllPostgresStatements(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	db := sqlx.NewDb(mockDB, DriverPostgres)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS users").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS user_vitamins").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS user_vitamins_identity_idx").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Apply(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplySQLiteIsIdempotent(t *testing.T) {
	db, err := Open(context.Background(), DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Apply(context.Background(), db))
	require.NoError(t, Apply(context.Background(), db))

	var tables []string
	require.NoError(t, db.Select(&tables, `SELECT name FROM sqlite_master WHERE type = 'table' AND name IN ('users', 'user_vitamins') ORDER BY name`))
	assert.Equal(t, []string{"user_vitamins", "users"}, tables)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "root@/db")
	require.Error(t, err)
	_, err = Open(context.Background(), DriverSQLite, "")
	require.Error(t, err)
}

func TestSplitStatements(t *testing.T) {
	assert.Equal(t, []string{"SELECT 1", "SELECT 2"}, splitStatements("SELECT 1;\n\n SELECT 2;\n"))
}
