package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-enrollment-api/internal/dto"
	"github.com/noah-isme/uni-enrollment-api/internal/models"
	"github.com/noah-isme/uni-enrollment-api/pkg/database"
	appErrors "github.com/noah-isme/uni-enrollment-api/pkg/errors"
	"github.com/noah-isme/uni-enrollment-api/pkg/logger"
)

type sectionStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, section *models.Section) error
	FindByID(ctx context.Context, id string) (*models.Section, error)
	FindDetailByID(ctx context.Context, id string) (*models.SectionDetail, error)
	List(ctx context.Context, filter models.SectionFilter) ([]models.SectionDetail, int, error)
	UpdateSchedule(ctx context.Context, exec sqlx.ExtContext, section *models.Section) (bool, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// SectionSchedulerConfig carries scheduling defaults.
type SectionSchedulerConfig struct {
	DefaultCapacity int
}

// SectionSchedulerService commits sections only after room and instructor checks pass.
type SectionSchedulerService struct {
	sections   sectionStore
	room       ConflictStrategy
	instructor ConflictStrategy
	audit      auditLogger
	cache      *CacheService
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	cfg        SectionSchedulerConfig
}

// NewSectionSchedulerService wires the scheduler. cache and metrics may be nil.
func NewSectionSchedulerService(
	sections sectionStore,
	room ConflictStrategy,
	instructor ConflictStrategy,
	audit auditLogger,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	log *zap.Logger,
	cfg SectionSchedulerConfig,
) *SectionSchedulerService {
	if validate == nil {
		validate = validator.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.DefaultCapacity <= 0 {
		cfg.DefaultCapacity = models.DefaultSectionCapacity
	}
	registerScheduleValidations(validate)
	return &SectionSchedulerService{
		sections:   sections,
		room:       room,
		instructor: instructor,
		audit:      audit,
		cache:      cache,
		metrics:    metrics,
		validator:  validate,
		logger:     log,
		cfg:        cfg,
	}
}

func registerScheduleValidations(v *validator.Validate) {
	_ = v.RegisterValidation("semester", func(fl validator.FieldLevel) bool {
		_, err := models.ParseSemester(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("weekday", func(fl validator.FieldLevel) bool {
		_, err := models.ParseDayOfWeek(fl.Field().String())
		return err == nil
	})
}

// ProposeSection validates, conflict-checks and persists a new section with no enrollments.
func (s *SectionSchedulerService) ProposeSection(ctx context.Context, req dto.ProposeSectionRequest, actorID string) (*models.Section, error) {
	if err := s.validator.Struct(req); err != nil {
		s.metrics.RecordSectionOutcome("propose", appErrors.ErrValidation.Code)
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	semester, _ := models.ParseSemester(req.Semester)
	day, _ := models.ParseDayOfWeek(req.DayOfWeek)

	section := &models.Section{
		CourseID:      req.CourseID,
		InstructorID:  req.InstructorID,
		SectionNumber: strings.TrimSpace(req.SectionNumber),
		Semester:      semester,
		AcademicYear:  strings.TrimSpace(req.AcademicYear),
		Room:          normaliseRoom(req.Room),
		DayOfWeek:     day,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		Capacity:      req.Capacity,
	}
	if section.Capacity == 0 {
		section.Capacity = s.cfg.DefaultCapacity
	}

	if err := s.checkConflicts(ctx, section, ""); err != nil {
		s.metrics.RecordSectionOutcome("propose", appErrors.FromError(err).Code)
		return nil, err
	}

	if err := s.sections.Create(ctx, nil, section); err != nil {
		switch {
		case database.IsUniqueViolation(err):
			s.metrics.RecordSectionOutcome("propose", appErrors.ErrDuplicateSection.Code)
			return nil, appErrors.WithDetails(appErrors.ErrDuplicateSection, map[string]interface{}{
				"course_id": section.CourseID, "section_number": section.SectionNumber,
			})
		case database.IsForeignKeyViolation(err):
			return nil, appErrors.Clone(appErrors.ErrValidation, "course or instructor does not exist")
		case database.IsCheckViolation(err):
			s.metrics.RecordSectionOutcome("propose", appErrors.ErrValidation.Code)
			return nil, scheduleConstraintViolation(err)
		}
		logger.With(ctx, s.logger).Error("persist section failed", zap.String("course_id", section.CourseID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create section")
	}

	s.metrics.RecordSectionOutcome("propose", "created")
	s.emitAudit(ctx, actorID, models.AuditActionSectionCreate, section.ID, nil, section)
	return section, nil
}

// RescheduleSection moves an existing section, re-checking conflicts against every other section.
func (s *SectionSchedulerService) RescheduleSection(ctx context.Context, id string, req dto.RescheduleSectionRequest, actorID string) (*models.Section, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	existing, err := s.loadSection(ctx, id)
	if err != nil {
		return nil, err
	}
	day, _ := models.ParseDayOfWeek(req.DayOfWeek)

	updated := *existing
	updated.InstructorID = req.InstructorID
	updated.Room = normaliseRoom(req.Room)
	updated.DayOfWeek = day
	updated.StartTime = req.StartTime
	updated.EndTime = req.EndTime
	if req.Capacity > 0 {
		updated.Capacity = req.Capacity
	}
	if updated.Capacity < existing.CurrentEnrollment {
		return nil, capacityBelowCurrent(existing)
	}

	if err := s.checkConflicts(ctx, &updated, existing.ID); err != nil {
		s.metrics.RecordSectionOutcome("reschedule", appErrors.FromError(err).Code)
		return nil, err
	}

	applied, err := s.sections.UpdateSchedule(ctx, nil, &updated)
	if err != nil {
		if database.IsCheckViolation(err) {
			return nil, scheduleConstraintViolation(err)
		}
		logger.With(ctx, s.logger).Error("reschedule section failed", zap.String("section_id", id), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reschedule section")
	}
	if !applied {
		// Seats were taken between the read and the update.
		current, err := s.loadSection(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, capacityBelowCurrent(current)
	}

	s.cache.Invalidate(ctx, SectionCacheKey(id))
	s.metrics.RecordSectionOutcome("reschedule", "updated")
	s.emitAudit(ctx, actorID, models.AuditActionSectionReschedule, id, existing, &updated)
	return &updated, nil
}

// GetSection returns a section with labels, served from cache when enabled.
func (s *SectionSchedulerService) GetSection(ctx context.Context, id string) (*models.SectionDetail, error) {
	var cached models.SectionDetail
	if s.cache.Get(ctx, SectionCacheKey(id), &cached) {
		return &cached, nil
	}
	detail, err := s.sections.FindDetailByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.WithDetails(appErrors.ErrSectionNotFound, map[string]interface{}{"section_id": id})
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	s.cache.Set(ctx, SectionCacheKey(id), detail, 0)
	return detail, nil
}

// ListSections returns a page of sections.
func (s *SectionSchedulerService) ListSections(ctx context.Context, query dto.SectionListQuery) ([]models.SectionDetail, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	filter := models.SectionFilter{
		CourseID:     query.CourseID,
		InstructorID: query.InstructorID,
		AcademicYear: query.AcademicYear,
		Room:         strings.TrimSpace(query.Room),
	}
	if query.Semester != "" {
		filter.Semester, _ = models.ParseSemester(query.Semester)
	}
	if query.DayOfWeek != "" {
		filter.DayOfWeek, _ = models.ParseDayOfWeek(query.DayOfWeek)
	}
	filter.Page, filter.PageSize = models.NormalisePage(query.Page, query.PageSize)

	items, total, err := s.sections.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sections")
	}
	return items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// checkConflicts runs the room strategy (only when a room is set) and then the instructor strategy.
func (s *SectionSchedulerService) checkConflicts(ctx context.Context, section *models.Section, excludeID string) error {
	input := models.ConflictCheckInput{
		RoomID:           section.RoomName(),
		InstructorID:     section.InstructorID,
		DayOfWeek:        section.DayOfWeek,
		StartTime:        section.StartTime,
		EndTime:          section.EndTime,
		Semester:         section.Semester,
		AcademicYear:     section.AcademicYear,
		ExcludeSectionID: excludeID,
	}
	strategies := make([]ConflictStrategy, 0, 2)
	if input.RoomID != "" {
		strategies = append(strategies, s.room)
	}
	strategies = append(strategies, s.instructor)

	for _, strategy := range strategies {
		result, err := strategy.CheckConflict(ctx, input)
		if err != nil {
			logger.With(ctx, s.logger).Error("conflict check failed",
				zap.String("strategy", strategy.Name()),
				zap.String("instructor_id", input.InstructorID),
				zap.String("room", input.RoomID),
				zap.Error(err))
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check schedule conflicts")
		}
		if result.HasConflict {
			return conflictError(result)
		}
	}
	return nil
}

func (s *SectionSchedulerService) loadSection(ctx context.Context, id string) (*models.Section, error) {
	section, err := s.sections.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.WithDetails(appErrors.ErrSectionNotFound, map[string]interface{}{"section_id": id})
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load section")
	}
	return section, nil
}

func (s *SectionSchedulerService) emitAudit(ctx context.Context, actorID, action, sectionID string, before, after *models.Section) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Action:     action,
		Resource:   models.AuditResourceSection,
		ResourceID: &sectionID,
		IPAddress:  "system",
		UserAgent:  "section-scheduler",
	}
	if actorID != "" {
		entry.UserID = &actorID
	}
	if before != nil {
		entry.OldValues, _ = json.Marshal(before)
	}
	if after != nil {
		entry.NewValues, _ = json.Marshal(after)
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		logger.With(ctx, s.logger).Warn("failed to persist audit log", zap.String("action", action), zap.String("section_id", sectionID), zap.Error(err))
	}
}

func capacityBelowCurrent(section *models.Section) error {
	return appErrors.WithDetails(appErrors.ErrCapacityBelowCurrent, map[string]interface{}{
		"section_id":         section.ID,
		"current_enrollment": section.CurrentEnrollment,
	})
}

func normaliseRoom(room *string) *string {
	if room == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*room)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// scheduleConstraintViolation reports a row rejected by a sections CHECK constraint.
func scheduleConstraintViolation(err error) error {
	details := map[string]interface{}{}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Constraint != "" {
		details["constraint"] = pqErr.Constraint
	}
	return appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "section violates schedule constraints"), details)
}
