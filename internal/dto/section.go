package dto

import "github.com/noah-isme/uni-enrollment-api/internal/models"

// ProposeSectionRequest is the payload for committing a new section.
// Capacity 0 selects the configured default.
type ProposeSectionRequest struct {
	CourseID      string           `json:"course_id" validate:"required,uuid"`
	InstructorID  string           `json:"instructor_id" validate:"required,uuid"`
	SectionNumber string           `json:"section_number" validate:"required,max=16"`
	Semester      string           `json:"semester" validate:"required,semester"`
	AcademicYear  string           `json:"academic_year" validate:"required,max=16"`
	Room          *string          `json:"room,omitempty" validate:"omitempty,max=32"`
	DayOfWeek     string           `json:"day_of_week" validate:"required,weekday"`
	StartTime     models.TimeOfDay `json:"start_time" validate:"min=0,max=1439"`
	EndTime       models.TimeOfDay `json:"end_time" validate:"min=1,max=1439,gtfield=StartTime"`
	Capacity      int              `json:"capacity" validate:"min=0,max=1000"`
}

// RescheduleSectionRequest moves an existing section. Course and section number are fixed.
type RescheduleSectionRequest struct {
	InstructorID string           `json:"instructor_id" validate:"required,uuid"`
	Room         *string          `json:"room,omitempty" validate:"omitempty,max=32"`
	DayOfWeek    string           `json:"day_of_week" validate:"required,weekday"`
	StartTime    models.TimeOfDay `json:"start_time" validate:"min=0,max=1439"`
	EndTime      models.TimeOfDay `json:"end_time" validate:"min=1,max=1439,gtfield=StartTime"`
	Capacity     int              `json:"capacity" validate:"min=0,max=1000"`
}

// SectionListQuery binds list filters from the query string.
type SectionListQuery struct {
	CourseID     string `form:"course_id" validate:"omitempty,uuid"`
	InstructorID string `form:"instructor_id" validate:"omitempty,uuid"`
	Semester     string `form:"semester" validate:"omitempty,semester"`
	AcademicYear string `form:"academic_year"`
	DayOfWeek    string `form:"day_of_week" validate:"omitempty,weekday"`
	Room         string `form:"room"`
	Page         int    `form:"page"`
	PageSize     int    `form:"page_size"`
}
