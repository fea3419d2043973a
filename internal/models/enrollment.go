package models

import "time"

// RequestStatus is the review state of an enrollment request.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "PENDING"
	RequestStatusApproved RequestStatus = "APPROVED"
	RequestStatusRejected RequestStatus = "REJECTED"
)

// Terminal reports whether the request has been reviewed.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusApproved || s == RequestStatusRejected
}

// EnrollmentRequest is a student's ask to join a section, awaiting officer review.
type EnrollmentRequest struct {
	ID              string        `db:"id" json:"id"`
	StudentID       string        `db:"student_id" json:"student_id"`
	SectionID       string        `db:"section_id" json:"section_id"`
	Status          RequestStatus `db:"status" json:"status"`
	RequestedAt     time.Time     `db:"requested_at" json:"requested_at"`
	ReviewedAt      *time.Time    `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ReviewedBy      *string       `db:"reviewed_by" json:"reviewed_by,omitempty"`
	RejectionReason *string       `db:"rejection_reason" json:"rejection_reason,omitempty"`
}

// RequestReview is the terminal transition applied to a pending request.
type RequestReview struct {
	Status     RequestStatus
	ReviewerID string
	Reason     *string
	ReviewedAt time.Time
}

// EnrollmentRequestFilter narrows request listings.
type EnrollmentRequestFilter struct {
	StudentID string
	SectionID string
	Status    RequestStatus
	Page      int
	PageSize  int
}

// EnrollmentStatus is the lifecycle of a confirmed enrollment.
type EnrollmentStatus string

const (
	EnrollmentStatusTaking    EnrollmentStatus = "TAKING"
	EnrollmentStatusTaken     EnrollmentStatus = "TAKEN"
	EnrollmentStatusWithdrawn EnrollmentStatus = "WITHDRAWN"
)

// Enrollment confirms a student's seat in a section.
type Enrollment struct {
	ID         string           `db:"id" json:"id"`
	StudentID  string           `db:"student_id" json:"student_id"`
	SectionID  string           `db:"section_id" json:"section_id"`
	Status     EnrollmentStatus `db:"status" json:"status"`
	FinalGrade *string          `db:"final_grade" json:"final_grade,omitempty"`
	EnrolledAt time.Time        `db:"enrolled_at" json:"enrolled_at"`
	UpdatedAt  time.Time        `db:"updated_at" json:"updated_at"`
}

// RosterEntry is one student line of a section roster.
type RosterEntry struct {
	EnrollmentID string           `db:"enrollment_id" json:"enrollment_id"`
	StudentID    string           `db:"student_id" json:"student_id"`
	StudentName  string           `db:"student_name" json:"student_name"`
	StudentEmail string           `db:"student_email" json:"student_email"`
	Status       EnrollmentStatus `db:"status" json:"status"`
	EnrolledAt   time.Time        `db:"enrolled_at" json:"enrolled_at"`
}

// CompletedEnrollment is a finished enrollment joined to its course, used for prerequisite checks.
type CompletedEnrollment struct {
	EnrollmentID string  `db:"enrollment_id"`
	CourseID     string  `db:"course_id"`
	FinalGrade   *string `db:"final_grade"`
}
