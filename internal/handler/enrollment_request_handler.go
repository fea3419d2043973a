package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/uni-enrollment-api/internal/dto"
	"github.com/noah-isme/uni-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/uni-enrollment-api/pkg/errors"
	"github.com/noah-isme/uni-enrollment-api/pkg/response"
)

type enrollmentWorkflow interface {
	SubmitRequest(ctx context.Context, studentID, sectionID, actorID string) (*models.EnrollmentRequest, error)
	ApproveRequest(ctx context.Context, requestID, reviewerID string) (*models.Enrollment, error)
	RejectRequest(ctx context.Context, requestID, reviewerID string, payload dto.RejectEnrollmentRequest) (*models.EnrollmentRequest, error)
	ApproveAll(ctx context.Context, target dto.ApproveAllRequest, reviewerID string) (*dto.BatchApprovalResult, error)
	ListRequests(ctx context.Context, query dto.EnrollmentRequestListQuery, actorID string, role models.UserRole) ([]models.EnrollmentRequest, *models.Pagination, error)
	Withdraw(ctx context.Context, enrollmentID, actorID string, role models.UserRole) (*models.Enrollment, error)
}

// EnrollmentRequestHandler exposes the request review workflow.
type EnrollmentRequestHandler struct {
	workflow enrollmentWorkflow
}

// NewEnrollmentRequestHandler constructs EnrollmentRequestHandler.
func NewEnrollmentRequestHandler(workflow enrollmentWorkflow) *EnrollmentRequestHandler {
	return &EnrollmentRequestHandler{workflow: workflow}
}

// Submit godoc
// @Summary Request a seat
// @Description Students request for themselves; officers may pass student_id
// @Tags Enrollment Requests
// @Accept json
// @Produce json
// @Param payload body dto.SubmitEnrollmentRequest true "Request payload"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /enrollment-requests [post]
func (h *EnrollmentRequestHandler) Submit(c *gin.Context) {
	claims := currentUser(c)
	if claims == nil {
		return
	}
	var req dto.SubmitEnrollmentRequest
	if !bindJSON(c, &req) {
		return
	}

	studentID := req.StudentID
	switch {
	case claims.Role == models.RoleStudent:
		if studentID != "" && studentID != claims.UserID {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "students may only request for themselves"))
			return
		}
		studentID = claims.UserID
	case claims.Role.ReviewsEnrollments():
		if studentID == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "student_id is required"))
			return
		}
	default:
		response.Error(c, appErrors.ErrForbidden)
		return
	}

	created, err := h.workflow.SubmitRequest(c.Request.Context(), studentID, req.SectionID, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// List godoc
// @Summary List enrollment requests
// @Tags Enrollment Requests
// @Produce json
// @Param student_id query string false "Student"
// @Param section_id query string false "Section"
// @Param status query string false "PENDING, APPROVED or REJECTED"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollment-requests [get]
func (h *EnrollmentRequestHandler) List(c *gin.Context) {
	claims := currentUser(c)
	if claims == nil {
		return
	}
	var query dto.EnrollmentRequestListQuery
	if !bindQuery(c, &query) {
		return
	}
	items, pagination, err := h.workflow.ListRequests(c.Request.Context(), query, claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Approve godoc
// @Summary Approve a request
// @Tags Enrollment Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollment-requests/{id}/approve [post]
func (h *EnrollmentRequestHandler) Approve(c *gin.Context) {
	claims := currentUser(c)
	if claims == nil {
		return
	}
	enrollment, err := h.workflow.ApproveRequest(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, enrollment)
}

// Reject godoc
// @Summary Reject a request
// @Tags Enrollment Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.RejectEnrollmentRequest false "Reason"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollment-requests/{id}/reject [post]
func (h *EnrollmentRequestHandler) Reject(c *gin.Context) {
	claims := currentUser(c)
	if claims == nil {
		return
	}
	var payload dto.RejectEnrollmentRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &payload) {
		return
	}
	rejected, err := h.workflow.RejectRequest(c.Request.Context(), c.Param("id"), claims.UserID, payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, rejected)
}

// ApproveAll godoc
// @Summary Approve requests in bulk
// @Description Processes requests oldest first and reports one outcome per request
// @Tags Enrollment Requests
// @Accept json
// @Produce json
// @Param payload body dto.ApproveAllRequest true "Section or request ids"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /enrollment-requests/approve-all [post]
func (h *EnrollmentRequestHandler) ApproveAll(c *gin.Context) {
	claims := currentUser(c)
	if claims == nil {
		return
	}
	var target dto.ApproveAllRequest
	if !bindJSON(c, &target) {
		return
	}
	result, err := h.workflow.ApproveAll(c.Request.Context(), target, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// Withdraw godoc
// @Summary Withdraw an enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments/{id}/withdraw [post]
func (h *EnrollmentRequestHandler) Withdraw(c *gin.Context) {
	claims := currentUser(c)
	if claims == nil {
		return
	}
	enrollment, err := h.workflow.Withdraw(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, enrollment)
}
