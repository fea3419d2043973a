package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-enrollment-api/internal/dto"
	"github.com/noah-isme/uni-enrollment-api/internal/models"
	"github.com/noah-isme/uni-enrollment-api/pkg/database"
	appErrors "github.com/noah-isme/uni-enrollment-api/pkg/errors"
	"github.com/noah-isme/uni-enrollment-api/pkg/logger"
)

type txRunner interface {
	WithinTx(ctx context.Context, fn func(tx sqlx.ExtContext) error) error
}

type seatLedger interface {
	FindByID(ctx context.Context, id string) (*models.Section, error)
	IncrementEnrollment(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error)
	DecrementEnrollment(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error)
}

type requestStore interface {
	Create(ctx context.Context, req *models.EnrollmentRequest) error
	FindByID(ctx context.Context, id string) (*models.EnrollmentRequest, error)
	GetForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.EnrollmentRequest, error)
	HasPending(ctx context.Context, studentID, sectionID string) (bool, error)
	ListPendingBySection(ctx context.Context, sectionID string) ([]models.EnrollmentRequest, error)
	ListByIDs(ctx context.Context, ids []string) ([]models.EnrollmentRequest, error)
	List(ctx context.Context, filter models.EnrollmentRequestFilter) ([]models.EnrollmentRequest, int, error)
	Review(ctx context.Context, exec sqlx.ExtContext, id string, review models.RequestReview) error
}

type enrollmentStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	ExistsActive(ctx context.Context, studentID, sectionID string) (bool, error)
	ListCompleted(ctx context.Context, studentID string, courseIDs []string) ([]models.CompletedEnrollment, error)
	Withdraw(ctx context.Context, exec sqlx.ExtContext, id string) error
}

type prerequisiteReader interface {
	ListPrerequisites(ctx context.Context, courseID string) ([]string, error)
}

// NotificationSink delivers a message to a user. Callers treat failures as non-fatal.
type NotificationSink interface {
	Notify(ctx context.Context, userID, title, message string, kind models.NotificationKind) error
}

// EnrollmentWorkflowConfig tunes the prerequisite gate.
type EnrollmentWorkflowConfig struct {
	PassingScore float64
}

// EnrollmentWorkflowService moves enrollment requests through review and keeps seat counts consistent.
type EnrollmentWorkflowService struct {
	tx            txRunner
	sections      seatLedger
	requests      requestStore
	enrollments   enrollmentStore
	prerequisites prerequisiteReader
	notifier      NotificationSink
	audit         auditLogger
	cache         *CacheService
	metrics       *MetricsService
	validator     *validator.Validate
	logger        *zap.Logger
	cfg           EnrollmentWorkflowConfig
	now           func() time.Time
}

// NewEnrollmentWorkflowService wires the workflow. notifier, audit, cache and metrics may be nil.
func NewEnrollmentWorkflowService(
	tx txRunner,
	sections seatLedger,
	requests requestStore,
	enrollments enrollmentStore,
	prerequisites prerequisiteReader,
	notifier NotificationSink,
	audit auditLogger,
	cache *CacheService,
	metrics *MetricsService,
	validate *validator.Validate,
	log *zap.Logger,
	cfg EnrollmentWorkflowConfig,
) *EnrollmentWorkflowService {
	if validate == nil {
		validate = validator.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.PassingScore <= 0 {
		cfg.PassingScore = models.DefaultPassingScore
	}
	return &EnrollmentWorkflowService{
		tx:            tx,
		sections:      sections,
		requests:      requests,
		enrollments:   enrollments,
		prerequisites: prerequisites,
		notifier:      notifier,
		audit:         audit,
		cache:         cache,
		metrics:       metrics,
		validator:     validate,
		logger:        log,
		cfg:           cfg,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SubmitRequest files a pending request for studentID. Capacity is not consulted until approval.
func (s *EnrollmentWorkflowService) SubmitRequest(ctx context.Context, studentID, sectionID, actorID string) (*models.EnrollmentRequest, error) {
	req, err := s.submit(ctx, studentID, sectionID)
	if err != nil {
		s.metrics.RecordRequestOutcome("submit", appErrors.FromError(err).Code)
		return nil, err
	}
	s.metrics.RecordRequestOutcome("submit", "submitted")
	s.emitAudit(ctx, actorID, models.AuditActionEnrollmentRequestSubmit, models.AuditResourceEnrollmentRequest, req.ID, nil, req)
	return req, nil
}

func (s *EnrollmentWorkflowService) submit(ctx context.Context, studentID, sectionID string) (*models.EnrollmentRequest, error) {
	if studentID == "" || sectionID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student_id and section_id are required")
	}
	ids := map[string]interface{}{"student_id": studentID, "section_id": sectionID}

	section, err := s.loadSection(ctx, sectionID)
	if err != nil {
		return nil, err
	}

	pending, err := s.requests.HasPending(ctx, studentID, sectionID)
	if err != nil {
		return nil, s.internal(ctx, err, "failed to check pending requests", ids)
	}
	if pending {
		return nil, appErrors.WithDetails(appErrors.ErrDuplicateRequest, ids)
	}

	enrolled, err := s.enrollments.ExistsActive(ctx, studentID, sectionID)
	if err != nil {
		return nil, s.internal(ctx, err, "failed to check enrollment", ids)
	}
	if enrolled {
		return nil, appErrors.WithDetails(appErrors.ErrAlreadyEnrolled, ids)
	}

	missing, err := s.missingPrerequisites(ctx, studentID, section.CourseID)
	if err != nil {
		return nil, s.internal(ctx, err, "failed to check prerequisites", ids)
	}
	if len(missing) > 0 {
		return nil, appErrors.WithDetails(appErrors.ErrPrerequisitesNotMet, map[string]interface{}{
			"student_id":            studentID,
			"section_id":            sectionID,
			"missing_prerequisites": missing,
		})
	}

	req := &models.EnrollmentRequest{StudentID: studentID, SectionID: sectionID, RequestedAt: s.now()}
	if err := s.requests.Create(ctx, req); err != nil {
		switch {
		case database.IsUniqueViolation(err):
			return nil, appErrors.WithDetails(appErrors.ErrDuplicateRequest, ids)
		case database.IsForeignKeyViolation(err):
			return nil, appErrors.Clone(appErrors.ErrValidation, "student does not exist")
		}
		return nil, s.internal(ctx, err, "failed to create enrollment request", ids)
	}
	return req, nil
}

// missingPrerequisites returns the prerequisite course ids the student has not passed.
func (s *EnrollmentWorkflowService) missingPrerequisites(ctx context.Context, studentID, courseID string) ([]string, error) {
	required, err := s.prerequisites.ListPrerequisites(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if len(required) == 0 {
		return nil, nil
	}
	completed, err := s.enrollments.ListCompleted(ctx, studentID, required)
	if err != nil {
		return nil, err
	}
	passed := make(map[string]bool, len(completed))
	for _, c := range completed {
		if models.IsPassingGrade(c.FinalGrade, s.cfg.PassingScore) {
			passed[c.CourseID] = true
		}
	}
	var missing []string
	for _, id := range required {
		if !passed[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// ApproveRequest confirms a pending request, taking one seat atomically.
func (s *EnrollmentWorkflowService) ApproveRequest(ctx context.Context, requestID, reviewerID string) (*models.Enrollment, error) {
	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.rejectOutcome("approve", appErrors.WithDetails(appErrors.ErrRequestNotFound, map[string]interface{}{"request_id": requestID}))
		}
		return nil, s.internal(ctx, err, "failed to load enrollment request", map[string]interface{}{"request_id": requestID})
	}
	return s.approve(ctx, req, reviewerID)
}

func (s *EnrollmentWorkflowService) approve(ctx context.Context, req *models.EnrollmentRequest, reviewerID string) (*models.Enrollment, error) {
	ids := map[string]interface{}{"request_id": req.ID, "student_id": req.StudentID, "section_id": req.SectionID}
	if req.Status != models.RequestStatusPending {
		return nil, s.rejectOutcome("approve", alreadyReviewed(req))
	}

	section, err := s.loadSection(ctx, req.SectionID)
	if err != nil {
		return nil, s.rejectOutcome("approve", err)
	}
	if section.IsFull() {
		return nil, s.rejectOutcome("approve", sectionFull(section))
	}

	enrollment := &models.Enrollment{StudentID: req.StudentID, SectionID: req.SectionID}
	err = s.tx.WithinTx(ctx, func(tx sqlx.ExtContext) error {
		locked, err := s.requests.GetForUpdate(ctx, tx, req.ID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.WithDetails(appErrors.ErrRequestNotFound, ids)
			}
			return err
		}
		if locked.Status != models.RequestStatusPending {
			return alreadyReviewed(locked)
		}

		taken, err := s.sections.IncrementEnrollment(ctx, tx, req.SectionID)
		if err != nil {
			return err
		}
		if !taken {
			return sectionFull(section)
		}

		enrollment.EnrolledAt = s.now()
		if err := s.enrollments.Create(ctx, tx, enrollment); err != nil {
			if database.IsUniqueViolation(err) {
				return appErrors.WithDetails(appErrors.ErrAlreadyEnrolled, ids)
			}
			return err
		}

		review := models.RequestReview{Status: models.RequestStatusApproved, ReviewerID: reviewerID, ReviewedAt: s.now()}
		if err := s.requests.Review(ctx, tx, req.ID, review); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return alreadyReviewed(locked)
			}
			return err
		}
		return nil
	})
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, s.rejectOutcome("approve", appErr)
		}
		return nil, s.rejectOutcome("approve", s.internal(ctx, err, "failed to approve enrollment request", ids))
	}

	s.metrics.RecordRequestOutcome("approve", "approved")
	s.metrics.RecordSeatChange(1)
	s.cache.Invalidate(ctx, SectionCacheKey(req.SectionID))
	s.notify(ctx, req.StudentID, "Enrollment approved",
		fmt.Sprintf("Your request for section %s has been approved.", sectionLabel(section)),
		models.NotificationEnrollmentApproved)
	approved := *req
	approved.Status = models.RequestStatusApproved
	s.emitAudit(ctx, reviewerID, models.AuditActionEnrollmentRequestApprove, models.AuditResourceEnrollmentRequest, req.ID, req, &approved)
	return enrollment, nil
}

// RejectRequest closes a pending request without touching capacity.
func (s *EnrollmentWorkflowService) RejectRequest(ctx context.Context, requestID, reviewerID string, payload dto.RejectEnrollmentRequest) (*models.EnrollmentRequest, error) {
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	ids := map[string]interface{}{"request_id": requestID}
	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.rejectOutcome("reject", appErrors.WithDetails(appErrors.ErrRequestNotFound, ids))
		}
		return nil, s.internal(ctx, err, "failed to load enrollment request", ids)
	}
	if req.Status != models.RequestStatusPending {
		return nil, s.rejectOutcome("reject", alreadyReviewed(req))
	}

	review := models.RequestReview{
		Status:     models.RequestStatusRejected,
		ReviewerID: reviewerID,
		Reason:     payload.Reason,
		ReviewedAt: s.now(),
	}
	if err := s.requests.Review(ctx, nil, requestID, review); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.rejectOutcome("reject", alreadyReviewed(req))
		}
		return nil, s.internal(ctx, err, "failed to reject enrollment request", ids)
	}

	rejected := *req
	rejected.Status = models.RequestStatusRejected
	rejected.ReviewedAt = &review.ReviewedAt
	if reviewerID != "" {
		rejected.ReviewedBy = &reviewerID
	}
	rejected.RejectionReason = payload.Reason

	s.metrics.RecordRequestOutcome("reject", "rejected")
	message := "Your enrollment request has been rejected."
	if payload.Reason != nil && *payload.Reason != "" {
		message = fmt.Sprintf("Your enrollment request has been rejected: %s", *payload.Reason)
	}
	s.notify(ctx, req.StudentID, "Enrollment rejected", message, models.NotificationEnrollmentRejected)
	s.emitAudit(ctx, reviewerID, models.AuditActionEnrollmentRequestReject, models.AuditResourceEnrollmentRequest, req.ID, req, &rejected)
	return &rejected, nil
}

// ApproveAll approves the targeted requests oldest first and reports one outcome per request.
// A failed item never stops the batch.
func (s *EnrollmentWorkflowService) ApproveAll(ctx context.Context, target dto.ApproveAllRequest, reviewerID string) (*dto.BatchApprovalResult, error) {
	if err := s.validator.Struct(target); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	if target.SectionID == "" && len(target.RequestIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "section_id or request_ids is required")
	}

	var (
		queue   []models.EnrollmentRequest
		unknown []string
		err     error
	)
	if len(target.RequestIDs) > 0 {
		queue, err = s.requests.ListByIDs(ctx, target.RequestIDs)
		if err != nil {
			return nil, s.internal(ctx, err, "failed to load enrollment requests", nil)
		}
		found := make(map[string]bool, len(queue))
		for _, r := range queue {
			found[r.ID] = true
		}
		for _, id := range target.RequestIDs {
			if !found[id] {
				unknown = append(unknown, id)
				found[id] = true
			}
		}
	} else {
		if _, err := s.loadSection(ctx, target.SectionID); err != nil {
			return nil, err
		}
		queue, err = s.requests.ListPendingBySection(ctx, target.SectionID)
		if err != nil {
			return nil, s.internal(ctx, err, "failed to load pending requests", map[string]interface{}{"section_id": target.SectionID})
		}
	}

	result := &dto.BatchApprovalResult{Results: make([]dto.BatchApprovalItem, 0, len(queue)+len(unknown))}
	for i := range queue {
		req := queue[i]
		item := dto.BatchApprovalItem{RequestID: req.ID, StudentID: req.StudentID}
		enrollment, err := s.approve(ctx, &req, reviewerID)
		if err != nil {
			appErr := appErrors.FromError(err)
			item.Outcome = appErr.Code
			item.Message = appErr.Message
			result.Failed++
		} else {
			item.Outcome = dto.BatchOutcomeApproved
			item.EnrollmentID = enrollment.ID
			result.Approved++
		}
		result.Results = append(result.Results, item)
	}
	for _, id := range unknown {
		result.Results = append(result.Results, dto.BatchApprovalItem{
			RequestID: id,
			Outcome:   appErrors.ErrRequestNotFound.Code,
			Message:   appErrors.ErrRequestNotFound.Message,
		})
		result.Failed++
	}

	logger.With(ctx, s.logger).Info("batch approval finished",
		zap.String("section_id", target.SectionID),
		zap.Int("approved", result.Approved),
		zap.Int("failed", result.Failed))
	return result, nil
}

// ListRequests returns a page of requests. Students only ever see their own; reviewers see all.
func (s *EnrollmentWorkflowService) ListRequests(ctx context.Context, query dto.EnrollmentRequestListQuery, actorID string, role models.UserRole) ([]models.EnrollmentRequest, *models.Pagination, error) {
	if role != models.RoleStudent && !role.ReviewsEnrollments() {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "only students and enrollment reviewers may list requests")
	}
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	filter := models.EnrollmentRequestFilter{
		StudentID: query.StudentID,
		SectionID: query.SectionID,
		Status:    models.RequestStatus(query.Status),
	}
	if role == models.RoleStudent {
		filter.StudentID = actorID
	}
	filter.Page, filter.PageSize = models.NormalisePage(query.Page, query.PageSize)

	items, total, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, nil, s.internal(ctx, err, "failed to list enrollment requests", nil)
	}
	return items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Withdraw releases a TAKING enrollment and its seat in one transaction.
func (s *EnrollmentWorkflowService) Withdraw(ctx context.Context, enrollmentID, actorID string, role models.UserRole) (*models.Enrollment, error) {
	ids := map[string]interface{}{"enrollment_id": enrollmentID}
	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.WithDetails(appErrors.ErrEnrollmentNotFound, ids)
		}
		return nil, s.internal(ctx, err, "failed to load enrollment", ids)
	}
	if role == models.RoleStudent && enrollment.StudentID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only withdraw their own enrollments")
	}
	if enrollment.Status != models.EnrollmentStatusTaking {
		return nil, appErrors.WithDetails(appErrors.ErrEnrollmentNotActive, map[string]interface{}{
			"enrollment_id": enrollmentID, "status": enrollment.Status,
		})
	}

	err = s.tx.WithinTx(ctx, func(tx sqlx.ExtContext) error {
		if err := s.enrollments.Withdraw(ctx, tx, enrollmentID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.WithDetails(appErrors.ErrEnrollmentNotActive, ids)
			}
			return err
		}
		released, err := s.sections.DecrementEnrollment(ctx, tx, enrollment.SectionID)
		if err != nil {
			return err
		}
		if !released {
			return fmt.Errorf("section %s enrollment counter already zero", enrollment.SectionID)
		}
		return nil
	})
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, s.internal(ctx, err, "failed to withdraw enrollment", map[string]interface{}{
			"enrollment_id": enrollmentID, "section_id": enrollment.SectionID,
		})
	}

	withdrawn := *enrollment
	withdrawn.Status = models.EnrollmentStatusWithdrawn
	withdrawn.UpdatedAt = s.now()

	s.metrics.RecordRequestOutcome("withdraw", "withdrawn")
	s.metrics.RecordSeatChange(-1)
	s.cache.Invalidate(ctx, SectionCacheKey(enrollment.SectionID))
	s.notify(ctx, enrollment.StudentID, "Enrollment withdrawn", "You have been withdrawn from the section.", models.NotificationEnrollmentWithdrawn)
	s.emitAudit(ctx, actorID, models.AuditActionEnrollmentWithdraw, models.AuditResourceEnrollment, enrollmentID, enrollment, &withdrawn)
	return &withdrawn, nil
}

func (s *EnrollmentWorkflowService) loadSection(ctx context.Context, id string) (*models.Section, error) {
	section, err := s.sections.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.WithDetails(appErrors.ErrSectionNotFound, map[string]interface{}{"section_id": id})
		}
		return nil, s.internal(ctx, err, "failed to load section", map[string]interface{}{"section_id": id})
	}
	return section, nil
}

// internal wraps a persistence failure and logs it with the ids involved.
func (s *EnrollmentWorkflowService) internal(ctx context.Context, err error, message string, ids map[string]interface{}) error {
	fields := []zap.Field{zap.Error(err)}
	for k, v := range ids {
		fields = append(fields, zap.Any(k, v))
	}
	logger.With(ctx, s.logger).Error(message, fields...)
	wrapped := appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
	if len(ids) > 0 {
		wrapped.Details = ids
	}
	return wrapped
}

func (s *EnrollmentWorkflowService) rejectOutcome(operation string, err error) error {
	s.metrics.RecordRequestOutcome(operation, appErrors.FromError(err).Code)
	return err
}

func (s *EnrollmentWorkflowService) notify(ctx context.Context, userID, title, message string, kind models.NotificationKind) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, userID, title, message, kind); err != nil {
		logger.With(ctx, s.logger).Warn("failed to deliver notification",
			zap.String("user_id", userID), zap.String("kind", string(kind)), zap.Error(err))
	}
}

func (s *EnrollmentWorkflowService) emitAudit(ctx context.Context, actorID, action, resource, resourceID string, before, after interface{}) {
	if s.audit == nil {
		return
	}
	entry := &models.AuditLog{
		Action:     action,
		Resource:   resource,
		ResourceID: &resourceID,
		IPAddress:  "system",
		UserAgent:  "enrollment-workflow",
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
		logger.With(ctx, s.logger).Warn("failed to persist audit log",
			zap.String("action", action), zap.String("resource_id", resourceID), zap.Error(err))
	}
}

func alreadyReviewed(req *models.EnrollmentRequest) error {
	return appErrors.WithDetails(appErrors.ErrAlreadyReviewed, map[string]interface{}{
		"request_id": req.ID, "status": req.Status,
	})
}

func sectionFull(section *models.Section) error {
	return appErrors.WithDetails(appErrors.ErrSectionFull, map[string]interface{}{
		"section_id": section.ID, "capacity": section.Capacity,
	})
}

func sectionLabel(section *models.Section) string {
	return fmt.Sprintf("%s (%s %s)", section.SectionNumber, section.Semester, section.AcademicYear)
}
