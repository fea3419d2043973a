package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/uni-enrollment-api/internal/models"
)

const requestColumns = `id, student_id, section_id, status, requested_at, reviewed_at, reviewed_by, rejection_reason`

// EnrollmentRequestRepository persists enrollment requests and their review transitions.
type EnrollmentRequestRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRequestRepository constructs the repository.
func NewEnrollmentRequestRepository(db *sqlx.DB) *EnrollmentRequestRepository {
	return &EnrollmentRequestRepository{db: db}
}

func (r *EnrollmentRequestRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a pending request. The partial unique index rejects a second pending request for the pair.
func (r *EnrollmentRequestRepository) Create(ctx context.Context, req *models.EnrollmentRequest) error {
	if req == nil {
		return fmt.Errorf("enrollment request payload is nil")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Status = models.RequestStatusPending
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	const query = `
INSERT INTO enrollment_requests (id, student_id, section_id, status, requested_at)
VALUES (:id, :student_id, :section_id, :status, :requested_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("insert enrollment request: %w", err)
	}
	return nil
}

// FindByID loads a request. Missing rows surface as sql.ErrNoRows.
func (r *EnrollmentRequestRepository) FindByID(ctx context.Context, id string) (*models.EnrollmentRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM enrollment_requests WHERE id = $1`
	var req models.EnrollmentRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// GetForUpdate loads and row-locks a request inside exec's transaction.
func (r *EnrollmentRequestRepository) GetForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.EnrollmentRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM enrollment_requests WHERE id = $1 FOR UPDATE`
	var req models.EnrollmentRequest
	if err := sqlx.GetContext(ctx, r.exec(exec), &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// HasPending reports whether the student already has a pending request for the section.
func (r *EnrollmentRequestRepository) HasPending(ctx context.Context, studentID, sectionID string) (bool, error) {
	const query = `SELECT 1 FROM enrollment_requests WHERE student_id = $1 AND section_id = $2 AND status = $3 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, sectionID, models.RequestStatusPending); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check pending enrollment request: %w", err)
	}
	return true, nil
}

// ListPendingBySection returns a section's pending requests oldest first.
func (r *EnrollmentRequestRepository) ListPendingBySection(ctx context.Context, sectionID string) ([]models.EnrollmentRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM enrollment_requests
WHERE section_id = $1 AND status = $2 ORDER BY requested_at, id`
	var reqs []models.EnrollmentRequest
	if err := r.db.SelectContext(ctx, &reqs, query, sectionID, models.RequestStatusPending); err != nil {
		return nil, fmt.Errorf("list pending enrollment requests: %w", err)
	}
	return reqs, nil
}

// ListByIDs loads the given requests oldest first. Unknown ids are absent from the result.
func (r *EnrollmentRequestRepository) ListByIDs(ctx context.Context, ids []string) ([]models.EnrollmentRequest, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + requestColumns + ` FROM enrollment_requests WHERE id = ANY($1) ORDER BY requested_at, id`
	var reqs []models.EnrollmentRequest
	if err := r.db.SelectContext(ctx, &reqs, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list enrollment requests by id: %w", err)
	}
	return reqs, nil
}

// List returns requests matching filter, newest first, with the total count.
func (r *EnrollmentRequestRepository) List(ctx context.Context, filter models.EnrollmentRequestFilter) ([]models.EnrollmentRequest, int, error) {
	var conditions []string
	var args []interface{}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.SectionID != "" {
		args = append(args, filter.SectionID)
		conditions = append(conditions, fmt.Sprintf("section_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page, size := models.NormalisePage(filter.Page, filter.PageSize)
	query := fmt.Sprintf(`SELECT %s FROM enrollment_requests%s ORDER BY requested_at DESC, id LIMIT %d OFFSET %d`,
		requestColumns, clause, size, (page-1)*size)

	var reqs []models.EnrollmentRequest
	if err := r.db.SelectContext(ctx, &reqs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollment requests: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM enrollment_requests"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollment requests: %w", err)
	}
	return reqs, total, nil
}

// Review moves a pending request to its terminal status.
// It returns sql.ErrNoRows when the request is missing or no longer pending.
func (r *EnrollmentRequestRepository) Review(ctx context.Context, exec sqlx.ExtContext, id string, review models.RequestReview) error {
	if !review.Status.Terminal() {
		return fmt.Errorf("review status %q is not terminal", review.Status)
	}
	if review.ReviewedAt.IsZero() {
		review.ReviewedAt = time.Now().UTC()
	}
	const query = `UPDATE enrollment_requests SET status = $2, reviewed_at = $3, reviewed_by = $4, rejection_reason = $5
WHERE id = $1 AND status = 'PENDING'`
	result, err := r.exec(exec).ExecContext(ctx, query, id, review.Status, review.ReviewedAt, nullableString(review.ReviewerID), review.Reason)
	if err != nil {
		return fmt.Errorf("review enrollment request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("enrollment request review rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func nullableString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
