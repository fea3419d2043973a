package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/uni-enrollment-api/internal/dto"
	"github.com/noah-isme/uni-enrollment-api/internal/models"
	"github.com/noah-isme/uni-enrollment-api/internal/service"
	"github.com/noah-isme/uni-enrollment-api/pkg/response"
)

type sectionService interface {
	ProposeSection(ctx context.Context, req dto.ProposeSectionRequest, actorID string) (*models.Section, error)
	RescheduleSection(ctx context.Context, id string, req dto.RescheduleSectionRequest, actorID string) (*models.Section, error)
	GetSection(ctx context.Context, id string) (*models.SectionDetail, error)
	ListSections(ctx context.Context, query dto.SectionListQuery) ([]models.SectionDetail, *models.Pagination, error)
}

type rosterService interface {
	Roster(ctx context.Context, sectionID, actorID string, role models.UserRole) (*service.Roster, error)
	Export(ctx context.Context, sectionID, actorID string, role models.UserRole, format string) (*service.RosterFile, error)
}

// SectionHandler exposes section scheduling endpoints.
type SectionHandler struct {
	sections sectionService
	rosters  rosterService
}

// NewSectionHandler constructs SectionHandler.
func NewSectionHandler(sections sectionService, rosters rosterService) *SectionHandler {
	return &SectionHandler{sections: sections, rosters: rosters}
}

// Propose godoc
// @Summary Propose a section
// @Description Commits a section after room and instructor conflict checks
// @Tags Sections
// @Accept json
// @Produce json
// @Param payload body dto.ProposeSectionRequest true "Section payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /sections [post]
func (h *SectionHandler) Propose(c *gin.Context) {
	claims := currentUser(c)
	if claims == nil {
		return
	}
	var req dto.ProposeSectionRequest
	if !bindJSON(c, &req) {
		return
	}
	section, err := h.sections.ProposeSection(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, section)
}

// Reschedule godoc
// @Summary Reschedule a section
// @Tags Sections
// @Accept json
// @Produce json
// @Param id path string true "Section ID"
// @Param payload body dto.RescheduleSectionRequest true "New slot"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sections/{id} [put]
func (h *SectionHandler) Reschedule(c *gin.Context) {
	claims := currentUser(c)
	if claims == nil {
		return
	}
	var req dto.RescheduleSectionRequest
	if !bindJSON(c, &req) {
		return
	}
	section, err := h.sections.RescheduleSection(c.Request.Context(), c.Param("id"), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, section)
}

// Get godoc
// @Summary Get section
// @Tags Sections
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sections/{id} [get]
func (h *SectionHandler) Get(c *gin.Context) {
	section, err := h.sections.GetSection(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, section)
}

// List godoc
// @Summary List sections
// @Tags Sections
// @Produce json
// @Param course_id query string false "Course"
// @Param instructor_id query string false "Instructor"
// @Param semester query string false "FALL, SPRING or SUMMER"
// @Param academic_year query string false "Academic year"
// @Param day_of_week query string false "Weekday"
// @Param room query string false "Room"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /sections [get]
func (h *SectionHandler) List(c *gin.Context) {
	var query dto.SectionListQuery
	if !bindQuery(c, &query) {
		return
	}
	items, pagination, err := h.sections.ListSections(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Roster godoc
// @Summary Section roster
// @Description Returns the roster as JSON, or as a CSV or PDF download
// @Tags Sections
// @Produce json
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Section ID"
// @Param format query string false "json, csv or pdf"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sections/{id}/roster [get]
func (h *SectionHandler) Roster(c *gin.Context) {
	claims := currentUser(c)
	if claims == nil {
		return
	}
	var query dto.RosterQuery
	if !bindQuery(c, &query) {
		return
	}

	if query.Format == "" || query.Format == "json" {
		roster, err := h.rosters.Roster(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, roster)
		return
	}

	file, err := h.rosters.Export(c.Request.Context(), c.Param("id"), claims.UserID, claims.Role, query.Format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}
