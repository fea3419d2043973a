package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/uni-enrollment-api/internal/models"
)

// inlineTx runs the unit of work without a real transaction.
type inlineTx struct {
	calls int
}

func (t *inlineTx) WithinTx(ctx context.Context, fn func(tx sqlx.ExtContext) error) error {
	t.calls++
	return fn(nil)
}

// memStore is an in-memory stand-in for the section, request, enrollment and course repositories.
type memStore struct {
	mu            sync.Mutex
	sections      map[string]*models.Section
	requests      map[string]*models.EnrollmentRequest
	enrollments   map[string]*models.Enrollment
	prerequisites map[string][]string
	doctors       map[string]bool
	failWith      error
	createErr     error
}

func newMemStore() *memStore {
	return &memStore{
		sections:      map[string]*models.Section{},
		requests:      map[string]*models.EnrollmentRequest{},
		enrollments:   map[string]*models.Enrollment{},
		prerequisites: map[string][]string{},
		doctors:       map[string]bool{},
	}
}

func (m *memStore) addSection(s models.Section) *models.Section {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	m.sections[s.ID] = &s
	return &s
}

func (m *memStore) section(id string) models.Section {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.sections[id]
}

func (m *memStore) addRequest(studentID, sectionID string, at time.Time) *models.EnrollmentRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &models.EnrollmentRequest{
		ID:          uuid.NewString(),
		StudentID:   studentID,
		SectionID:   sectionID,
		Status:      models.RequestStatusPending,
		RequestedAt: at,
	}
	m.requests[r.ID] = r
	cp := *r
	return &cp
}

func (m *memStore) request(id string) models.EnrollmentRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.requests[id]
}

func (m *memStore) addCompleted(studentID, courseID string, grade *string) {
	sec := m.addSection(models.Section{CourseID: courseID, Capacity: 10})
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &models.Enrollment{ID: uuid.NewString(), StudentID: studentID, SectionID: sec.ID, Status: models.EnrollmentStatusTaken, FinalGrade: grade}
	m.enrollments[e.ID] = e
}

func (m *memStore) activeEnrollments(sectionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.enrollments {
		if e.SectionID == sectionID && e.Status != models.EnrollmentStatusWithdrawn {
			n++
		}
	}
	return n
}

// section repository

func (m *memStore) Create(ctx context.Context, exec sqlx.ExtContext, section *models.Section) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	if m.createErr != nil {
		return m.createErr
	}
	for _, s := range m.sections {
		if s.CourseID == section.CourseID && s.SectionNumber == section.SectionNumber &&
			s.Semester == section.Semester && s.AcademicYear == section.AcademicYear {
			return &pq.Error{Code: "23505", Constraint: "sections_number_unique"}
		}
	}
	if section.ID == "" {
		section.ID = uuid.NewString()
	}
	section.CurrentEnrollment = 0
	cp := *section
	m.sections[cp.ID] = &cp
	return nil
}

func (m *memStore) FindByID(ctx context.Context, id string) (*models.Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	s, ok := m.sections[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) FindDetailByID(ctx context.Context, id string) (*models.SectionDetail, error) {
	s, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.SectionDetail{Section: *s, CourseCode: "CS101", CourseTitle: "Intro", InstructorName: "Dr. Who"}, nil
}

func (m *memStore) List(ctx context.Context, filter models.SectionFilter) ([]models.SectionDetail, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SectionDetail
	for _, s := range m.sections {
		if filter.CourseID != "" && s.CourseID != filter.CourseID {
			continue
		}
		out = append(out, models.SectionDetail{Section: *s})
	}
	return out, len(out), nil
}

func (m *memStore) UpdateSchedule(ctx context.Context, exec sqlx.ExtContext, section *models.Section) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.sections[section.ID]
	if !ok || current.CurrentEnrollment > section.Capacity {
		return false, nil
	}
	cp := *section
	cp.CurrentEnrollment = current.CurrentEnrollment
	m.sections[cp.ID] = &cp
	return true, nil
}

func (m *memStore) listSlot(match func(*models.Section) bool, slot models.SlotQuery) []models.Section {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Section
	for _, s := range m.sections {
		if !match(s) || s.Semester != slot.Semester || s.AcademicYear != slot.AcademicYear || s.DayOfWeek != slot.DayOfWeek {
			continue
		}
		if slot.ExcludeSectionID != "" && s.ID == slot.ExcludeSectionID {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

func (m *memStore) ListByRoomSlot(ctx context.Context, room string, slot models.SlotQuery) ([]models.Section, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	return m.listSlot(func(s *models.Section) bool { return s.RoomName() == room }, slot), nil
}

func (m *memStore) ListByInstructorSlot(ctx context.Context, instructorID string, slot models.SlotQuery) ([]models.Section, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	return m.listSlot(func(s *models.Section) bool { return s.InstructorID == instructorID }, slot), nil
}

func (m *memStore) IncrementEnrollment(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sections[id]
	if !ok || s.CurrentEnrollment >= s.Capacity {
		return false, nil
	}
	s.CurrentEnrollment++
	return true, nil
}

func (m *memStore) DecrementEnrollment(ctx context.Context, exec sqlx.ExtContext, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sections[id]
	if !ok || s.CurrentEnrollment == 0 {
		return false, nil
	}
	s.CurrentEnrollment--
	return true, nil
}

// user directory

func (m *memStore) ExistsWithRole(ctx context.Context, id string, role models.UserRole) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return role == models.RoleDoctor && m.doctors[id], nil
}

// course repository

func (m *memStore) ListPrerequisites(ctx context.Context, courseID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prerequisites[courseID]...), nil
}

// requestRepo adapts memStore to the request repository, whose method names overlap the section repository's.
type requestRepo struct{ *memStore }

func (r requestRepo) Create(ctx context.Context, req *models.EnrollmentRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.requests {
		if existing.StudentID == req.StudentID && existing.SectionID == req.SectionID && existing.Status == models.RequestStatusPending {
			return &pq.Error{Code: "23505", Constraint: "enrollment_requests_one_pending"}
		}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Status = models.RequestStatusPending
	cp := *req
	r.requests[cp.ID] = &cp
	return nil
}

func (r requestRepo) FindByID(ctx context.Context, id string) (*models.EnrollmentRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *req
	return &cp, nil
}

func (r requestRepo) GetForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.EnrollmentRequest, error) {
	return r.FindByID(ctx, id)
}

func (r requestRepo) HasPending(ctx context.Context, studentID, sectionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, req := range r.requests {
		if req.StudentID == studentID && req.SectionID == sectionID && req.Status == models.RequestStatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (r requestRepo) sorted(match func(*models.EnrollmentRequest) bool) []models.EnrollmentRequest {
	var out []models.EnrollmentRequest
	for _, req := range r.requests {
		if match(req) {
			out = append(out, *req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}

func (r requestRepo) ListPendingBySection(ctx context.Context, sectionID string) ([]models.EnrollmentRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(func(req *models.EnrollmentRequest) bool {
		return req.SectionID == sectionID && req.Status == models.RequestStatusPending
	}), nil
}

func (r requestRepo) ListByIDs(ctx context.Context, ids []string) ([]models.EnrollmentRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := map[string]bool{}
	for _, id := range ids {
		wanted[id] = true
	}
	return r.sorted(func(req *models.EnrollmentRequest) bool { return wanted[req.ID] }), nil
}

func (r requestRepo) List(ctx context.Context, filter models.EnrollmentRequestFilter) ([]models.EnrollmentRequest, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sorted(func(req *models.EnrollmentRequest) bool {
		return (filter.StudentID == "" || req.StudentID == filter.StudentID) &&
			(filter.SectionID == "" || req.SectionID == filter.SectionID) &&
			(filter.Status == "" || req.Status == filter.Status)
	})
	return out, len(out), nil
}

func (r requestRepo) Review(ctx context.Context, exec sqlx.ExtContext, id string, review models.RequestReview) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok || req.Status != models.RequestStatusPending {
		return sql.ErrNoRows
	}
	req.Status = review.Status
	at := review.ReviewedAt
	req.ReviewedAt = &at
	if review.ReviewerID != "" {
		reviewer := review.ReviewerID
		req.ReviewedBy = &reviewer
	}
	req.RejectionReason = review.Reason
	return nil
}

// enrollmentRepo adapts memStore to the enrollment repository.
type enrollmentRepo struct{ *memStore }

func (r enrollmentRepo) Create(ctx context.Context, exec sqlx.ExtContext, e *models.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.enrollments {
		if existing.StudentID == e.StudentID && existing.SectionID == e.SectionID && existing.Status != models.EnrollmentStatusWithdrawn {
			return &pq.Error{Code: "23505", Constraint: "enrollments_one_active"}
		}
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = models.EnrollmentStatusTaking
	}
	cp := *e
	r.enrollments[cp.ID] = &cp
	return nil
}

func (r enrollmentRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

func (r enrollmentRepo) ExistsActive(ctx context.Context, studentID, sectionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.enrollments {
		if e.StudentID == studentID && e.SectionID == sectionID && e.Status != models.EnrollmentStatusWithdrawn {
			return true, nil
		}
	}
	return false, nil
}

func (r enrollmentRepo) ListCompleted(ctx context.Context, studentID string, courseIDs []string) ([]models.CompletedEnrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := map[string]bool{}
	for _, id := range courseIDs {
		wanted[id] = true
	}
	var out []models.CompletedEnrollment
	for _, e := range r.enrollments {
		course := r.sections[e.SectionID].CourseID
		if e.StudentID == studentID && e.Status == models.EnrollmentStatusTaken && wanted[course] {
			out = append(out, models.CompletedEnrollment{EnrollmentID: e.ID, CourseID: course, FinalGrade: e.FinalGrade})
		}
	}
	return out, nil
}

func (r enrollmentRepo) Withdraw(ctx context.Context, exec sqlx.ExtContext, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.enrollments[id]
	if !ok || e.Status != models.EnrollmentStatusTaking {
		return sql.ErrNoRows
	}
	e.Status = models.EnrollmentStatusWithdrawn
	return nil
}

func (r enrollmentRepo) ListRoster(ctx context.Context, sectionID string) ([]models.RosterEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.RosterEntry
	for _, e := range r.enrollments {
		if e.SectionID == sectionID && e.Status != models.EnrollmentStatusWithdrawn {
			out = append(out, models.RosterEntry{EnrollmentID: e.ID, StudentID: e.StudentID, StudentName: "Student " + e.StudentID, Status: e.Status, EnrolledAt: e.EnrolledAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []*models.AuditLog
	err  error
}

func (a *recordingAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return a.err
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type sentNotification struct {
	UserID string
	Kind   models.NotificationKind
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (n *recordingNotifier) Notify(ctx context.Context, userID, title, message string, kind models.NotificationKind) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{UserID: userID, Kind: kind})
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}
