package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-enrollment-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var sectionRowColumns = []string{"id", "course_id", "instructor_id", "section_number", "semester", "academic_year", "room",
	"day_of_week", "start_time", "end_time", "capacity", "current_enrollment", "created_at", "updated_at"}

func TestSectionRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	room := "A101"
	section := &models.Section{
		CourseID:          "course-1",
		InstructorID:      "doc-1",
		SectionNumber:     "01",
		Semester:          models.SemesterFall,
		AcademicYear:      "2024",
		Room:              &room,
		DayOfWeek:         models.Monday,
		StartTime:         models.NewTimeOfDay(9, 0),
		EndTime:           models.NewTimeOfDay(10, 0),
		Capacity:          30,
		CurrentEnrollment: 7,
	}
	mock.ExpectExec("INSERT INTO sections").
		WithArgs(sqlmock.AnyArg(), "course-1", "doc-1", "01", "FALL", "2024", "A101", "MONDAY", "09:00:00", "10:00:00", 30, 0, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Create(context.Background(), nil, section))
	assert.NotEmpty(t, section.ID)
	assert.Equal(t, 0, section.CurrentEnrollment)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryFindByIDScansTimes(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(sectionRowColumns).
		AddRow("sec-1", "course-1", "doc-1", "01", "FALL", "2024", nil, "MONDAY", "09:00:00", "10:30:00", 30, 2, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM sections WHERE id = $1")).
		WithArgs("sec-1").
		WillReturnRows(rows)

	section, err := repo.FindByID(context.Background(), "sec-1")
	require.NoError(t, err)
	assert.Equal(t, models.NewTimeOfDay(10, 30), section.EndTime)
	assert.Nil(t, section.Room)
	assert.Equal(t, 28, section.SeatsRemaining())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	mock.ExpectQuery("FROM sections WHERE id").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestSectionRepositoryListByRoomSlotExcludesSection(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(sectionRowColumns).
		AddRow("sec-2", "course-2", "doc-2", "02", "FALL", "2024", "A101", "MONDAY", "09:00:00", "10:00:00", 30, 0, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE room = $1 AND semester = $2 AND academic_year = $3 AND day_of_week = $4 AND id <> $5 ORDER BY start_time")).
		WithArgs("A101", "FALL", "2024", "MONDAY", "sec-1").
		WillReturnRows(rows)

	sections, err := repo.ListByRoomSlot(context.Background(), "A101", models.SlotQuery{
		Semester: models.SemesterFall, AcademicYear: "2024", DayOfWeek: models.Monday, ExcludeSectionID: "sec-1",
	})
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "sec-2", sections[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryListByInstructorSlot(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE instructor_id = $1 AND semester = $2 AND academic_year = $3 AND day_of_week = $4 ORDER BY start_time")).
		WithArgs("doc-1", "SPRING", "2025", "FRIDAY").
		WillReturnRows(sqlmock.NewRows(sectionRowColumns))

	sections, err := repo.ListByInstructorSlot(context.Background(), "doc-1", models.SlotQuery{
		Semester: models.SemesterSpring, AcademicYear: "2025", DayOfWeek: models.Friday,
	})
	require.NoError(t, err)
	assert.Empty(t, sections)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryIncrementEnrollment(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	query := regexp.QuoteMeta("UPDATE sections SET current_enrollment = current_enrollment + 1, updated_at = $2\nWHERE id = $1 AND current_enrollment < capacity")
	mock.ExpectExec(query).WithArgs("sec-1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WithArgs("sec-1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.IncrementEnrollment(context.Background(), nil, "sec-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.IncrementEnrollment(context.Background(), nil, "sec-1")
	require.NoError(t, err)
	assert.False(t, ok, "full section must not be incremented")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryDecrementEnrollmentInTx(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("current_enrollment = current_enrollment - 1")).
		WithArgs("sec-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	require.NoError(t, err)
	ok, err := repo.DecrementEnrollment(context.Background(), tx, "sec-1")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryUpdateScheduleGuardsCapacity(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND current_enrollment <= $7")).
		WithArgs("sec-1", "doc-1", nil, "TUESDAY", "13:00:00", "14:00:00", 5, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.UpdateSchedule(context.Background(), nil, &models.Section{
		ID: "sec-1", InstructorID: "doc-1", DayOfWeek: models.Tuesday,
		StartTime: models.NewTimeOfDay(13, 0), EndTime: models.NewTimeOfDay(14, 0), Capacity: 5,
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSectionRepositoryList(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSectionRepository(db)

	now := time.Now()
	columns := append(append([]string{}, sectionRowColumns...), "course_code", "course_title", "instructor_name")
	rows := sqlmock.NewRows(columns).
		AddRow("sec-1", "course-1", "doc-1", "01", "FALL", "2024", "A101", "MONDAY", "09:00:00", "10:00:00", 30, 3, now, now, "CS101", "Intro", "Dr. X")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE s.semester = $1 AND s.academic_year = $2 ORDER BY")).
		WithArgs("FALL", "2024").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM sections s")).
		WithArgs("FALL", "2024").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	items, total, err := repo.List(context.Background(), models.SectionFilter{Semester: models.SemesterFall, AcademicYear: "2024"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, "CS101", items[0].CourseCode)
	assert.Equal(t, "A101", items[0].RoomName())
	assert.NoError(t, mock.ExpectationsWereMet())
}
