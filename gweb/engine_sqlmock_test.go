// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gweb

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func newMockEngine(t *testing.T) (*Engine, *Dispatcher, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	e, err := NewEngine(db, DefaultEngineConfig(), discardLogger())
	require.NoError(t, err)
	return e, NewDispatcher(e, discardLogger()), mock
}

func expectUser(mock sqlmock.Sqlmock, uid string) {
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM user_reg_info WHERE uid = $1`)).
		WithArgs(uid).
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
}

func TestRunTx_FailedStatementRollsBack(t *testing.T) {
	_, d, mock := newMockEngine(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM user_reg_info WHERE uid = $1 OR email = $2`)).
		WillReturnRows(sqlmock.NewRows([]string{"one"}))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO user_reg_info`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO user_phone`)).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	res, err := d.Dispatch(context.Background(),
		[]byte(`{"registration":{"fname":"Ann","email":"a@x","phone":"1","password":"p"}}`))
	require.NoError(t, err)
	require.Equal(t, OutcomeUnknown, res.Outcome)
	require.Equal(t, `{"status":{"code":"404","description":"Unknown Error"}}`, string(res.Body))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunTx_ZeroRowsIsNoRecord(t *testing.T) {
	_, d, mock := newMockEngine(t)

	expectUser(mock, "u1")
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE user_reg_info SET avatar_url = $1 WHERE uid = $2`)).
		WithArgs("avatars/av_u1.dat", "u1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	res, err := d.Dispatch(context.Background(), []byte(`{"update_avatar":{"id":"u1","url":"avatars/av_u1.dat"}}`))
	require.NoError(t, err)
	require.Equal(t, OutcomeNoRecord, res.Outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunTx_UniqueViolationIsDuplicate(t *testing.T) {
	violations := map[string]error{
		"sqlite":   sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique},
		"postgres": &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"},
	}
	for name, violation := range violations {
		t.Run(name, func(t *testing.T) {
			_, d, mock := newMockEngine(t)

			expectUser(mock, "u1")
			mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM conn_preference WHERE uid = $1 AND pref_type = $2`)).
				WithArgs("u1", "email").
				WillReturnRows(sqlmock.NewRows([]string{"one"}))
			mock.ExpectBegin()
			mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO conn_preference`)).
				WithArgs("u1", "email", "a@x", VisibilityPublic).
				WillReturnError(violation)
			mock.ExpectRollback()

			res, err := d.Dispatch(context.Background(), []byte(`{"conn_pref":{"id":"u1","type":"email","value":"a@x"}}`))
			require.NoError(t, err)
			require.Equal(t, OutcomeDuplicate, res.Outcome)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRunTx_CommitsInOrder(t *testing.T) {
	e, _, mock := newMockEngine(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM a`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM b`)).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	second := stmt(`DELETE FROM b`)
	second.mustAffect = true
	require.NoError(t, e.runTx(context.Background(), "test", []statement{stmt(`DELETE FROM a`), second}))
	require.NoError(t, mock.ExpectationsWereMet())

	// nothing to run opens no transaction
	require.NoError(t, e.runTx(context.Background(), "test", nil))
}

func TestLookupFailureIsUnknown(t *testing.T) {
	_, d, mock := newMockEngine(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT avatar_url FROM user_reg_info WHERE uid = $1`)).
		WithArgs("u1").
		WillReturnError(errors.New("connection reset"))

	res, err := d.Dispatch(context.Background(), []byte(`{"avatar_query":{"id":"u1"}}`))
	require.NoError(t, err)
	require.Equal(t, OutcomeUnknown, res.Outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	require.True(t, isUniqueViolation(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey}))
	require.False(t, isUniqueViolation(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintNotNull}))
	require.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.False(t, isUniqueViolation(errors.New("unique")))
}
