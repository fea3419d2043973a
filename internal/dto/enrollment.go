package dto

// SubmitEnrollmentRequest asks for a seat. Officers may submit on behalf of a student.
type SubmitEnrollmentRequest struct {
	SectionID string `json:"section_id" validate:"required,uuid"`
	StudentID string `json:"student_id,omitempty" validate:"omitempty,uuid"`
}

// RejectEnrollmentRequest carries the optional reason shown to the student.
type RejectEnrollmentRequest struct {
	Reason *string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// ApproveAllRequest targets every pending request of a section, or an explicit id list when given.
type ApproveAllRequest struct {
	SectionID  string   `json:"section_id,omitempty" validate:"omitempty,uuid"`
	RequestIDs []string `json:"request_ids,omitempty" validate:"omitempty,max=500,dive,uuid"`
}

// BatchOutcomeApproved marks a batch item that was approved. Failed items carry their error code.
const BatchOutcomeApproved = "APPROVED"

// BatchApprovalItem is the outcome for one request of a batch approval.
type BatchApprovalItem struct {
	RequestID    string `json:"request_id"`
	StudentID    string `json:"student_id,omitempty"`
	Outcome      string `json:"outcome"`
	EnrollmentID string `json:"enrollment_id,omitempty"`
	Message      string `json:"message,omitempty"`
}

// BatchApprovalResult lists per-request outcomes in processing order.
type BatchApprovalResult struct {
	Results  []BatchApprovalItem `json:"results"`
	Approved int                 `json:"approved"`
	Failed   int                 `json:"failed"`
}

// EnrollmentRequestListQuery binds list filters from the query string.
type EnrollmentRequestListQuery struct {
	StudentID string `form:"student_id" validate:"omitempty,uuid"`
	SectionID string `form:"section_id" validate:"omitempty,uuid"`
	Status    string `form:"status" validate:"omitempty,oneof=PENDING APPROVED REJECTED"`
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
}

// RosterQuery selects the roster export format.
type RosterQuery struct {
	Format string `form:"format" validate:"omitempty,oneof=csv pdf json"`
}
