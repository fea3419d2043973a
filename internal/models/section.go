package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Semester identifies the academic term within a year.
type Semester string

const (
	SemesterFall   Semester = "FALL"
	SemesterSpring Semester = "SPRING"
	SemesterSummer Semester = "SUMMER"
)

// Valid reports whether s is a known semester.
func (s Semester) Valid() bool {
	switch s {
	case SemesterFall, SemesterSpring, SemesterSummer:
		return true
	}
	return false
}

// ParseSemester normalises case, e.g. "Fall" becomes FALL.
func ParseSemester(raw string) (Semester, error) {
	s := Semester(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("invalid semester %q", raw)
	}
	return s, nil
}

// DayOfWeek is the weekday a section meets on.
type DayOfWeek string

const (
	Monday    DayOfWeek = "MONDAY"
	Tuesday   DayOfWeek = "TUESDAY"
	Wednesday DayOfWeek = "WEDNESDAY"
	Thursday  DayOfWeek = "THURSDAY"
	Friday    DayOfWeek = "FRIDAY"
	Saturday  DayOfWeek = "SATURDAY"
	Sunday    DayOfWeek = "SUNDAY"
)

var dayAliases = map[string]DayOfWeek{
	"MON": Monday, "TUE": Tuesday, "WED": Wednesday, "THU": Thursday,
	"FRI": Friday, "SAT": Saturday, "SUN": Sunday,
}

// Valid reports whether d is a canonical weekday.
func (d DayOfWeek) Valid() bool {
	switch d {
	case Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday:
		return true
	}
	return false
}

// ParseDayOfWeek accepts full names and three-letter forms in any case.
func ParseDayOfWeek(raw string) (DayOfWeek, error) {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	if d := DayOfWeek(upper); d.Valid() {
		return d, nil
	}
	if d, ok := dayAliases[upper]; ok {
		return d, nil
	}
	return "", fmt.Errorf("invalid day of week %q", raw)
}

// TimeOfDay is a wall-clock time as minutes since midnight.
type TimeOfDay int

const minutesPerDay = 24 * 60

// NewTimeOfDay builds a TimeOfDay from hour and minute.
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay accepts HH:MM or HH:MM:SS. Seconds are truncated.
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return NewTimeOfDay(t.Hour(), t.Minute()), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", raw)
}

// String renders HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// Valid reports whether t falls within a single day.
func (t TimeOfDay) Valid() bool {
	return t >= 0 && t < minutesPerDay
}

// Value stores the time as a Postgres TIME literal.
func (t TimeOfDay) Value() (driver.Value, error) {
	return t.String() + ":00", nil
}

// Scan reads Postgres TIME columns, which lib/pq yields as text or time.Time.
func (t *TimeOfDay) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		*t = NewTimeOfDay(v.Hour(), v.Minute())
		return nil
	case []byte:
		return t.Scan(string(v))
	case string:
		parsed, err := ParseTimeOfDay(v)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	default:
		return fmt.Errorf("cannot scan %T into TimeOfDay", src)
	}
}

// MarshalJSON renders "HH:MM".
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts "HH:MM" or "HH:MM:SS".
func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("time of day must be a string: %w", err)
	}
	parsed, err := ParseTimeOfDay(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// DefaultSectionCapacity applies when a section is proposed without a capacity.
const DefaultSectionCapacity = 30

// Section is a scheduled offering of a course in a semester and year.
type Section struct {
	ID                string    `db:"id" json:"id"`
	CourseID          string    `db:"course_id" json:"course_id"`
	InstructorID      string    `db:"instructor_id" json:"instructor_id"`
	SectionNumber     string    `db:"section_number" json:"section_number"`
	Semester          Semester  `db:"semester" json:"semester"`
	AcademicYear      string    `db:"academic_year" json:"academic_year"`
	Room              *string   `db:"room" json:"room,omitempty"`
	DayOfWeek         DayOfWeek `db:"day_of_week" json:"day_of_week"`
	StartTime         TimeOfDay `db:"start_time" json:"start_time"`
	EndTime           TimeOfDay `db:"end_time" json:"end_time"`
	Capacity          int       `db:"capacity" json:"capacity"`
	CurrentEnrollment int       `db:"current_enrollment" json:"current_enrollment"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// SeatsRemaining returns capacity minus current enrollment, never negative.
func (s Section) SeatsRemaining() int {
	if s.CurrentEnrollment >= s.Capacity {
		return 0
	}
	return s.Capacity - s.CurrentEnrollment
}

// IsFull reports whether no seat remains.
func (s Section) IsFull() bool {
	return s.CurrentEnrollment >= s.Capacity
}

// RoomName returns the room or an empty string.
func (s Section) RoomName() string {
	if s.Room == nil {
		return ""
	}
	return *s.Room
}

// SectionDetail enriches a section with course and instructor labels.
type SectionDetail struct {
	Section
	CourseCode     string `db:"course_code" json:"course_code"`
	CourseTitle    string `db:"course_title" json:"course_title"`
	InstructorName string `db:"instructor_name" json:"instructor_name"`
}

// SectionFilter narrows section listings.
type SectionFilter struct {
	CourseID     string
	InstructorID string
	Semester     Semester
	AcademicYear string
	DayOfWeek    DayOfWeek
	Room         string
	Page         int
	PageSize     int
}

// ConflictCheckInput describes a proposed slot to test against committed sections.
// RoomID or InstructorID is used depending on the strategy.
type ConflictCheckInput struct {
	RoomID           string
	InstructorID     string
	DayOfWeek        DayOfWeek
	StartTime        TimeOfDay
	EndTime          TimeOfDay
	Semester         Semester
	AcademicYear     string
	ExcludeSectionID string
}

// SlotQuery selects sections sharing a room or instructor on one day of a term.
type SlotQuery struct {
	Semester         Semester
	AcademicYear     string
	DayOfWeek        DayOfWeek
	ExcludeSectionID string
}
