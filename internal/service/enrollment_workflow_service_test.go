package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-enrollment-api/internal/dto"
	"github.com/noah-isme/uni-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/uni-enrollment-api/pkg/errors"
)

type workflowFixture struct {
	store    *memStore
	tx       *inlineTx
	audit    *recordingAudit
	notifier *recordingNotifier
	svc      *EnrollmentWorkflowService
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()
	f := &workflowFixture{
		store:    newMemStore(),
		tx:       &inlineTx{},
		audit:    &recordingAudit{},
		notifier: &recordingNotifier{},
	}
	f.svc = NewEnrollmentWorkflowService(
		f.tx,
		f.store,
		requestRepo{f.store},
		enrollmentRepo{f.store},
		f.store,
		f.notifier,
		f.audit,
		nil,
		NewMetricsService(),
		nil,
		zap.NewNop(),
		EnrollmentWorkflowConfig{},
	)
	return f
}

func (f *workflowFixture) section(capacity int) *models.Section {
	return f.store.addSection(models.Section{
		CourseID:      uuid.NewString(),
		InstructorID:  uuid.NewString(),
		SectionNumber: "001",
		Semester:      models.SemesterFall,
		AcademicYear:  "2024",
		DayOfWeek:     models.Monday,
		StartTime:     hm(9, 0),
		EndTime:       hm(10, 0),
		Capacity:      capacity,
	})
}

func TestSubmitRequest(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	section := f.section(2)
	student := uuid.NewString()

	req, err := f.svc.SubmitRequest(ctx, student, section.ID, student)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, req.Status)
	assert.Zero(t, f.store.section(section.ID).CurrentEnrollment, "submission never takes a seat")

	_, err = f.svc.SubmitRequest(ctx, student, section.ID, student)
	assert.Equal(t, appErrors.ErrDuplicateRequest.Code, appErrors.FromError(err).Code)

	_, err = f.svc.SubmitRequest(ctx, student, uuid.NewString(), student)
	assert.Equal(t, appErrors.ErrSectionNotFound.Code, appErrors.FromError(err).Code)

	assert.Equal(t, []string{models.AuditActionEnrollmentRequestSubmit}, f.audit.actions())
}

func TestSubmitRequestAlreadyEnrolled(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	section := f.section(2)
	student := uuid.NewString()

	req := f.store.addRequest(student, section.ID, time.Now())
	_, err := f.svc.ApproveRequest(ctx, req.ID, "officer")
	require.NoError(t, err)

	_, err = f.svc.SubmitRequest(ctx, student, section.ID, student)
	assert.Equal(t, appErrors.ErrAlreadyEnrolled.Code, appErrors.FromError(err).Code)
}

func TestSubmitRequestPrerequisiteGate(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	section := f.section(5)
	prereq := uuid.NewString()
	f.store.prerequisites[section.CourseID] = []string{prereq}

	cases := []struct {
		name  string
		grade *string
		ok    bool
	}{
		{"no grade", nil, false},
		{"failing letter", strPtr("F"), false},
		{"failing score", strPtr("59.5"), false},
		{"passing letter", strPtr("B+"), true},
		{"passing score", strPtr("60"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			student := uuid.NewString()
			f.store.addCompleted(student, prereq, tc.grade)

			_, err := f.svc.SubmitRequest(ctx, student, section.ID, student)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			appErr := appErrors.FromError(err)
			assert.Equal(t, appErrors.ErrPrerequisitesNotMet.Code, appErr.Code)
			assert.Equal(t, []string{prereq}, appErr.Details["missing_prerequisites"])
		})
	}

	_, err := f.svc.SubmitRequest(ctx, uuid.NewString(), section.ID, "officer")
	assert.Equal(t, appErrors.ErrPrerequisitesNotMet.Code, appErrors.FromError(err).Code, "no history at all")
}

func TestApproveRequest(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	section := f.section(1)
	student := uuid.NewString()
	req := f.store.addRequest(student, section.ID, time.Now())

	enrollment, err := f.svc.ApproveRequest(ctx, req.ID, "officer")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusTaking, enrollment.Status)
	assert.Equal(t, 1, f.store.section(section.ID).CurrentEnrollment)

	stored := f.store.request(req.ID)
	assert.Equal(t, models.RequestStatusApproved, stored.Status)
	require.NotNil(t, stored.ReviewedBy)
	assert.Equal(t, "officer", *stored.ReviewedBy)
	assert.NotNil(t, stored.ReviewedAt)

	require.Equal(t, 1, f.notifier.count())
	assert.Equal(t, models.NotificationEnrollmentApproved, f.notifier.sent[0].Kind)
	assert.Contains(t, f.audit.actions(), models.AuditActionEnrollmentRequestApprove)

	_, err = f.svc.ApproveRequest(ctx, req.ID, "officer")
	assert.Equal(t, appErrors.ErrAlreadyReviewed.Code, appErrors.FromError(err).Code)

	_, err = f.svc.ApproveRequest(ctx, uuid.NewString(), "officer")
	assert.Equal(t, appErrors.ErrRequestNotFound.Code, appErrors.FromError(err).Code)
}

func TestApproveRequestSectionFull(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	section := f.section(1)
	first := f.store.addRequest(uuid.NewString(), section.ID, time.Now())
	second := f.store.addRequest(uuid.NewString(), section.ID, time.Now().Add(time.Second))

	_, err := f.svc.ApproveRequest(ctx, first.ID, "officer")
	require.NoError(t, err)

	_, err = f.svc.ApproveRequest(ctx, second.ID, "officer")
	assert.Equal(t, appErrors.ErrSectionFull.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.RequestStatusPending, f.store.request(second.ID).Status, "a full section leaves the request pending")
	assert.Equal(t, 1, f.store.section(section.ID).CurrentEnrollment)
}

func TestApproveRequestSideEffectFailuresAreSwallowed(t *testing.T) {
	f := newWorkflowFixture(t)
	f.notifier.err = assert.AnError
	f.audit.err = assert.AnError
	section := f.section(1)
	req := f.store.addRequest(uuid.NewString(), section.ID, time.Now())

	_, err := f.svc.ApproveRequest(context.Background(), req.ID, "officer")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, f.store.request(req.ID).Status)
}

func TestConcurrentApprovalsNeverExceedCapacity(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	const capacity, applicants = 3, 12
	section := f.section(capacity)

	ids := make([]string, applicants)
	for i := range ids {
		ids[i] = f.store.addRequest(uuid.NewString(), section.ID, time.Now().Add(time.Duration(i)*time.Millisecond)).ID
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved int
		full     int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.svc.ApproveRequest(ctx, id, "officer")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				approved++
			case appErrors.HasCode(err, appErrors.ErrSectionFull.Code):
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, capacity, approved)
	assert.Equal(t, applicants-capacity, full)
	assert.Equal(t, capacity, f.store.section(section.ID).CurrentEnrollment)
	assert.Equal(t, capacity, f.store.activeEnrollments(section.ID))
}

func TestRejectRequest(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	section := f.section(1)
	req := f.store.addRequest(uuid.NewString(), section.ID, time.Now())

	rejected, err := f.svc.RejectRequest(ctx, req.ID, "officer", dto.RejectEnrollmentRequest{Reason: strPtr("schedule clash")})
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusRejected, rejected.Status)
	assert.Equal(t, "schedule clash", *f.store.request(req.ID).RejectionReason)
	assert.Zero(t, f.store.section(section.ID).CurrentEnrollment)

	_, err = f.svc.RejectRequest(ctx, req.ID, "officer", dto.RejectEnrollmentRequest{})
	assert.Equal(t, appErrors.ErrAlreadyReviewed.Code, appErrors.FromError(err).Code)

	_, err = f.svc.ApproveRequest(ctx, req.ID, "officer")
	assert.Equal(t, appErrors.ErrAlreadyReviewed.Code, appErrors.FromError(err).Code, "rejection is terminal")
	assert.Equal(t, models.NotificationEnrollmentRejected, f.notifier.sent[0].Kind)
}

func TestApproveAllBySectionProcessesOldestFirst(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	section := f.section(2)
	base := time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)

	third := f.store.addRequest("student-c", section.ID, base.Add(2*time.Minute))
	first := f.store.addRequest("student-a", section.ID, base)
	second := f.store.addRequest("student-b", section.ID, base.Add(time.Minute))

	result, err := f.svc.ApproveAll(ctx, dto.ApproveAllRequest{SectionID: section.ID}, "officer")
	require.NoError(t, err)
	require.Len(t, result.Results, 3)

	assert.Equal(t, first.ID, result.Results[0].RequestID)
	assert.Equal(t, dto.BatchOutcomeApproved, result.Results[0].Outcome)
	assert.NotEmpty(t, result.Results[0].EnrollmentID)
	assert.Equal(t, second.ID, result.Results[1].RequestID)
	assert.Equal(t, dto.BatchOutcomeApproved, result.Results[1].Outcome)
	assert.Equal(t, third.ID, result.Results[2].RequestID)
	assert.Equal(t, appErrors.ErrSectionFull.Code, result.Results[2].Outcome)

	assert.Equal(t, 2, result.Approved)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, models.RequestStatusPending, f.store.request(third.ID).Status)
}

func TestApproveAllByIDsReportsEachOutcome(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	section := f.section(5)
	base := time.Date(2024, 8, 1, 9, 0, 0, 0, time.UTC)

	pending := f.store.addRequest("student-a", section.ID, base)
	reviewed := f.store.addRequest("student-b", section.ID, base.Add(time.Minute))
	_, err := f.svc.RejectRequest(ctx, reviewed.ID, "officer", dto.RejectEnrollmentRequest{})
	require.NoError(t, err)
	unknown := uuid.NewString()

	result, err := f.svc.ApproveAll(ctx, dto.ApproveAllRequest{RequestIDs: []string{unknown, reviewed.ID, pending.ID}}, "officer")
	require.NoError(t, err)
	require.Len(t, result.Results, 3)
	assert.Equal(t, pending.ID, result.Results[0].RequestID)
	assert.Equal(t, dto.BatchOutcomeApproved, result.Results[0].Outcome)
	assert.Equal(t, appErrors.ErrAlreadyReviewed.Code, result.Results[1].Outcome)
	assert.Equal(t, unknown, result.Results[2].RequestID)
	assert.Equal(t, appErrors.ErrRequestNotFound.Code, result.Results[2].Outcome)
	assert.Equal(t, 1, result.Approved)
	assert.Equal(t, 2, result.Failed)
}

func TestApproveAllRequiresTarget(t *testing.T) {
	f := newWorkflowFixture(t)
	_, err := f.svc.ApproveAll(context.Background(), dto.ApproveAllRequest{}, "officer")
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = f.svc.ApproveAll(context.Background(), dto.ApproveAllRequest{SectionID: uuid.NewString()}, "officer")
	assert.Equal(t, appErrors.ErrSectionNotFound.Code, appErrors.FromError(err).Code)
}

func TestListRequestsScopesStudents(t *testing.T) {
	f := newWorkflowFixture(t)
	section := f.section(5)
	mine := uuid.NewString()
	f.store.addRequest(mine, section.ID, time.Now())
	f.store.addRequest(uuid.NewString(), section.ID, time.Now())

	items, page, err := f.svc.ListRequests(context.Background(), dto.EnrollmentRequestListQuery{}, mine, models.RoleStudent)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, mine, items[0].StudentID)
	assert.Equal(t, 1, page.TotalCount)

	items, _, err = f.svc.ListRequests(context.Background(), dto.EnrollmentRequestListQuery{}, "officer", models.RoleITOfficer)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestListRequestsForbidsNonReviewers(t *testing.T) {
	f := newWorkflowFixture(t)
	section := f.section(5)
	f.store.addRequest(uuid.NewString(), section.ID, time.Now())

	for _, role := range []models.UserRole{models.RoleDoctor, models.RoleAdvisor} {
		items, page, err := f.svc.ListRequests(context.Background(), dto.EnrollmentRequestListQuery{}, "staff", role)
		assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code, role)
		assert.Nil(t, items)
		assert.Nil(t, page)
	}
}

func TestWithdraw(t *testing.T) {
	f := newWorkflowFixture(t)
	ctx := context.Background()
	section := f.section(1)
	student := uuid.NewString()
	req := f.store.addRequest(student, section.ID, time.Now())
	enrollment, err := f.svc.ApproveRequest(ctx, req.ID, "officer")
	require.NoError(t, err)

	_, err = f.svc.Withdraw(ctx, enrollment.ID, uuid.NewString(), models.RoleStudent)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	withdrawn, err := f.svc.Withdraw(ctx, enrollment.ID, student, models.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusWithdrawn, withdrawn.Status)
	assert.Zero(t, f.store.section(section.ID).CurrentEnrollment)

	_, err = f.svc.Withdraw(ctx, enrollment.ID, student, models.RoleStudent)
	assert.Equal(t, appErrors.ErrEnrollmentNotActive.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Withdraw(ctx, uuid.NewString(), "officer", models.RoleITOfficer)
	assert.Equal(t, appErrors.ErrEnrollmentNotFound.Code, appErrors.FromError(err).Code)

	again := f.store.addRequest(student, section.ID, time.Now())
	_, err = f.svc.ApproveRequest(ctx, again.ID, "officer")
	require.NoError(t, err, "a released seat can be taken again")
}
