package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-enrollment-api/internal/models"
)

func TestEnrollmentRepositoryCreateDefaultsToTaking(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("INSERT INTO enrollments").
		WithArgs(sqlmock.AnyArg(), "stu-1", "sec-1", "TAKING", nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	enrollment := &models.Enrollment{StudentID: "stu-1", SectionID: "sec-1"}
	require.NoError(t, repo.Create(context.Background(), nil, enrollment))
	assert.Equal(t, models.EnrollmentStatusTaking, enrollment.Status)
	assert.NotEmpty(t, enrollment.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryExistsActive(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM enrollments WHERE student_id = $1 AND section_id = $2 AND status <> $3 LIMIT 1")).
		WithArgs("stu-1", "sec-1", "WITHDRAWN").
		WillReturnError(sql.ErrNoRows)

	ok, err := repo.ExistsActive(context.Background(), "stu-1", "sec-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListCompleted(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	rows, err := repo.ListCompleted(context.Background(), "stu-1", nil)
	require.NoError(t, err)
	assert.Nil(t, rows)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE e.student_id = ? AND e.status = ? AND s.course_id IN (?, ?)")).
		WithArgs("stu-1", "TAKEN", "course-p1", "course-p2").
		WillReturnRows(sqlmock.NewRows([]string{"enrollment_id", "course_id", "final_grade"}).
			AddRow("enr-1", "course-p1", "B").
			AddRow("enr-2", "course-p2", nil))

	rows, err = repo.ListCompleted(context.Background(), "stu-1", []string{"course-p1", "course-p2"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "B", *rows[0].FinalGrade)
	assert.Nil(t, rows[1].FinalGrade)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListRoster(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE e.section_id = $1 AND e.status <> $2")).
		WithArgs("sec-1", "WITHDRAWN").
		WillReturnRows(sqlmock.NewRows([]string{"enrollment_id", "student_id", "student_name", "student_email", "status", "enrolled_at"}).
			AddRow("enr-1", "stu-1", "Ada", "ada@example.edu", "TAKING", time.Now()))

	roster, err := repo.ListRoster(context.Background(), "sec-1")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, "Ada", roster[0].StudentName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryWithdrawOnlyTaking(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4")).
		WithArgs("enr-1", "WITHDRAWN", sqlmock.AnyArg(), "TAKING").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Withdraw(context.Background(), nil, "enr-1")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}
