package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTxMock(t *testing.T) (*Transactor, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewTransactor(sqlx.NewDb(db, "sqlmock"), nil), mock
}

func TestTransactorCommits(t *testing.T) {
	tr, mock := newTxMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	called := false
	err := tr.WithinTx(context.Background(), func(tx sqlx.ExtContext) error {
		called = true
		assert.NotNil(t, tx)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactorRollsBackOnError(t *testing.T) {
	tr, mock := newTxMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	sentinel := errors.New("section full")
	err := tr.WithinTx(context.Background(), func(sqlx.ExtContext) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactorRollsBackOnPanic(t *testing.T) {
	tr, mock := newTxMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = tr.WithinTx(context.Background(), func(sqlx.ExtContext) error { panic("boom") })
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pq.Error{Code: "23505", Constraint: "enrollment_requests_one_pending"})
	assert.True(t, IsUniqueViolation(err))
	assert.True(t, IsUniqueViolation(err, "enrollment_requests_one_pending"))
	assert.False(t, IsUniqueViolation(err, "sections_number_unique"))
	assert.False(t, IsUniqueViolation(errors.New("plain")))
	assert.False(t, IsCheckViolation(err))
}
