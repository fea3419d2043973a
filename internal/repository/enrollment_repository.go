package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uni-enrollment-api/internal/models"
)

const enrollmentColumns = `id, student_id, section_id, status, final_grade, enrolled_at, updated_at`

// EnrollmentRepository handles persistence of confirmed enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

func (r *EnrollmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a TAKING enrollment. A second non-withdrawn row for the pair violates enrollments_one_active.
func (r *EnrollmentRepository) Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	if enrollment == nil {
		return fmt.Errorf("enrollment payload is nil")
	}
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusTaking
	}
	now := time.Now().UTC()
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = now
	}
	enrollment.UpdatedAt = now

	const query = `
INSERT INTO enrollments (id, student_id, section_id, status, final_grade, enrolled_at, updated_at)
VALUES (:id, :student_id, :section_id, :status, :final_grade, :enrolled_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, enrollment); err != nil {
		return fmt.Errorf("insert enrollment: %w", err)
	}
	return nil
}

// FindByID loads an enrollment. Missing rows surface as sql.ErrNoRows.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ExistsActive reports whether the student holds a non-withdrawn enrollment in the section.
func (r *EnrollmentRepository) ExistsActive(ctx context.Context, studentID, sectionID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND section_id = $2 AND status <> $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, sectionID, models.EnrollmentStatusWithdrawn); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check active enrollment: %w", err)
	}
	return true, nil
}

// ListCompleted returns the student's TAKEN enrollments in any section of the given courses.
func (r *EnrollmentRepository) ListCompleted(ctx context.Context, studentID string, courseIDs []string) ([]models.CompletedEnrollment, error) {
	if len(courseIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT e.id AS enrollment_id, s.course_id, e.final_grade
FROM enrollments e
JOIN sections s ON s.id = e.section_id
WHERE e.student_id = ? AND e.status = ? AND s.course_id IN (?)`, studentID, models.EnrollmentStatusTaken, courseIDs)
	if err != nil {
		return nil, fmt.Errorf("build completed enrollments query: %w", err)
	}
	var rows []models.CompletedEnrollment
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list completed enrollments: %w", err)
	}
	return rows, nil
}

// ListRoster returns the non-withdrawn students of a section ordered by name.
func (r *EnrollmentRepository) ListRoster(ctx context.Context, sectionID string) ([]models.RosterEntry, error) {
	const query = `SELECT e.id AS enrollment_id, e.student_id, u.full_name AS student_name, u.email AS student_email,
	e.status, e.enrolled_at
FROM enrollments e
JOIN users u ON u.id = e.student_id
WHERE e.section_id = $1 AND e.status <> $2
ORDER BY u.full_name, e.id`
	var roster []models.RosterEntry
	if err := r.db.SelectContext(ctx, &roster, query, sectionID, models.EnrollmentStatusWithdrawn); err != nil {
		return nil, fmt.Errorf("list section roster: %w", err)
	}
	return roster, nil
}

// Withdraw marks a TAKING enrollment withdrawn. It returns sql.ErrNoRows when the enrollment is not TAKING.
func (r *EnrollmentRepository) Withdraw(ctx context.Context, exec sqlx.ExtContext, id string) error {
	const query = `UPDATE enrollments SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	result, err := r.exec(exec).ExecContext(ctx, query, id, models.EnrollmentStatusWithdrawn, time.Now().UTC(), models.EnrollmentStatusTaking)
	if err != nil {
		return fmt.Errorf("withdraw enrollment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("withdraw enrollment rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
