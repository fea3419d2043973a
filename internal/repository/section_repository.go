package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/uni-enrollment-api/internal/models"
)

const sectionColumns = `id, course_id, instructor_id, section_number, semester, academic_year, room, day_of_week,
start_time, end_time, capacity, current_enrollment, created_at, updated_at`

// SectionRepository persists scheduled sections and their seat counters.
type SectionRepository struct {
	db *sqlx.DB
}

// NewSectionRepository constructs the repository.
func NewSectionRepository(db *sqlx.DB) *SectionRepository {
	return &SectionRepository{db: db}
}

func (r *SectionRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a section with a zero enrollment counter.
func (r *SectionRepository) Create(ctx context.Context, exec sqlx.ExtContext, section *models.Section) error {
	if section == nil {
		return fmt.Errorf("section payload is nil")
	}
	if section.ID == "" {
		section.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	section.CurrentEnrollment = 0
	section.CreatedAt = now
	section.UpdatedAt = now

	const query = `
INSERT INTO sections (id, course_id, instructor_id, section_number, semester, academic_year, room, day_of_week,
	start_time, end_time, capacity, current_enrollment, created_at, updated_at)
VALUES (:id, :course_id, :instructor_id, :section_number, :semester, :academic_year, :room, :day_of_week,
	:start_time, :end_time, :capacity, :current_enrollment, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, section); err != nil {
		return fmt.Errorf("insert section: %w", err)
	}
	return nil
}

// FindByID loads a section. Missing rows surface as sql.ErrNoRows.
func (r *SectionRepository) FindByID(ctx context.Context, id string) (*models.Section, error) {
	query := `SELECT ` + sectionColumns + ` FROM sections WHERE id = $1`
	var section models.Section
	if err := r.db.GetContext(ctx, &section, query, id); err != nil {
		return nil, err
	}
	return &section, nil
}

// FindDetailByID loads a section with course and instructor labels.
func (r *SectionRepository) FindDetailByID(ctx context.Context, id string) (*models.SectionDetail, error) {
	const query = `SELECT s.id, s.course_id, s.instructor_id, s.section_number, s.semester, s.academic_year, s.room,
	s.day_of_week, s.start_time, s.end_time, s.capacity, s.current_enrollment, s.created_at, s.updated_at,
	c.code AS course_code, c.title AS course_title, u.full_name AS instructor_name
FROM sections s
JOIN courses c ON c.id = s.course_id
JOIN users u ON u.id = s.instructor_id
WHERE s.id = $1`
	var detail models.SectionDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns sections matching filter with the total count.
func (r *SectionRepository) List(ctx context.Context, filter models.SectionFilter) ([]models.SectionDetail, int, error) {
	base := `FROM sections s
JOIN courses c ON c.id = s.course_id
JOIN users u ON u.id = s.instructor_id`
	var conditions []string
	var args []interface{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if filter.CourseID != "" {
		add("s.course_id", filter.CourseID)
	}
	if filter.InstructorID != "" {
		add("s.instructor_id", filter.InstructorID)
	}
	if filter.Semester != "" {
		add("s.semester", filter.Semester)
	}
	if filter.AcademicYear != "" {
		add("s.academic_year", filter.AcademicYear)
	}
	if filter.DayOfWeek != "" {
		add("s.day_of_week", filter.DayOfWeek)
	}
	if filter.Room != "" {
		add("s.room", filter.Room)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page, size := models.NormalisePage(filter.Page, filter.PageSize)
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT s.id, s.course_id, s.instructor_id, s.section_number, s.semester, s.academic_year, s.room,
	s.day_of_week, s.start_time, s.end_time, s.capacity, s.current_enrollment, s.created_at, s.updated_at,
	c.code AS course_code, c.title AS course_title, u.full_name AS instructor_name
%s ORDER BY s.academic_year DESC, s.semester, c.code, s.section_number LIMIT %d OFFSET %d`, base+clause, size, offset)

	var sections []models.SectionDetail
	if err := r.db.SelectContext(ctx, &sections, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sections: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count sections: %w", err)
	}
	return sections, total, nil
}

// ListByRoomSlot returns the sections booked in room on the given day of a term.
func (r *SectionRepository) ListByRoomSlot(ctx context.Context, room string, slot models.SlotQuery) ([]models.Section, error) {
	return r.listSlot(ctx, "room", room, slot)
}

// ListByInstructorSlot returns the sections taught by instructorID on the given day of a term.
func (r *SectionRepository) ListByInstructorSlot(ctx context.Context, instructorID string, slot models.SlotQuery) ([]models.Section, error) {
	return r.listSlot(ctx, "instructor_id", instructorID, slot)
}

func (r *SectionRepository) listSlot(ctx context.Context, column, value string, slot models.SlotQuery) ([]models.Section, error) {
	query := `SELECT ` + sectionColumns + ` FROM sections
WHERE ` + column + ` = $1 AND semester = $2 AND academic_year = $3 AND day_of_week = $4`
	args := []interface{}{value, slot.Semester, slot.AcademicYear, slot.DayOfWeek}
	if slot.ExcludeSectionID != "" {
		args = append(args, slot.ExcludeSectionID)
		query += fmt.Sprintf(" AND id <> $%d", len(args))
	}
	query += " ORDER BY start_time"

	var sections []models.Section
	if err := r.db.SelectContext(ctx, &sections, query, args...); err != nil {
		return nil, fmt.Errorf("list sections by %s: %w", column, err)
	}
	return sections, nil
}

// IncrementEnrollment takes one seat if any remains. It reports false when the section is full or missing.
func (r *SectionRepository) IncrementEnrollment(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error) {
	const query = `UPDATE sections SET current_enrollment = current_enrollment + 1, updated_at = $2
WHERE id = $1 AND current_enrollment < capacity`
	result, err := r.exec(exec).ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("increment section enrollment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("section increment rows affected: %w", err)
	}
	return affected == 1, nil
}

// DecrementEnrollment releases one seat. It reports false when the counter is already zero.
func (r *SectionRepository) DecrementEnrollment(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error) {
	const query = `UPDATE sections SET current_enrollment = current_enrollment - 1, updated_at = $2
WHERE id = $1 AND current_enrollment > 0`
	result, err := r.exec(exec).ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("decrement section enrollment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("section decrement rows affected: %w", err)
	}
	return affected == 1, nil
}

// UpdateSchedule rewrites the time, room, instructor and capacity of a section.
// It reports false when the new capacity is below the live enrollment count or the section is missing.
func (r *SectionRepository) UpdateSchedule(ctx context.Context, exec sqlx.ExtContext, section *models.Section) (bool, error) {
	if section == nil {
		return false, fmt.Errorf("section payload is nil")
	}
	section.UpdatedAt = time.Now().UTC()
	const query = `UPDATE sections SET instructor_id = $2, room = $3, day_of_week = $4, start_time = $5, end_time = $6,
	capacity = $7, updated_at = $8
WHERE id = $1 AND current_enrollment <= $7`
	result, err := r.exec(exec).ExecContext(ctx, query,
		section.ID,
		section.InstructorID,
		section.Room,
		section.DayOfWeek,
		section.StartTime,
		section.EndTime,
		section.Capacity,
		section.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("update section schedule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("section update rows affected: %w", err)
	}
	return affected == 1, nil
}
