package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/uni-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/uni-enrollment-api/pkg/errors"
	"github.com/noah-isme/uni-enrollment-api/pkg/jobs"
	"github.com/noah-isme/uni-enrollment-api/pkg/mail"
)

// JobTypeNotificationEmail routes email deliveries on the notification queue.
const JobTypeNotificationEmail = "notification.email"

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Notification, error)
}

type recipientReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type jobQueue interface {
	Register(jobType string, h jobs.Handler)
	Enqueue(ctx context.Context, job jobs.Job) error
}

type emailPayload struct {
	UserID  string
	Subject string
	Body    string
}

// NotificationService stores in-app notifications and fans out email through the job queue.
type NotificationService struct {
	store   notificationStore
	users   recipientReader
	queue   jobQueue
	mailer  mail.Mailer
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationService builds the service. Email is skipped when queue or mailer is nil.
func NewNotificationService(store notificationStore, users recipientReader, queue jobQueue, mailer mail.Mailer, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{store: store, users: users, queue: queue, mailer: mailer, metrics: metrics, logger: logger}
	if svc.emailEnabled() {
		queue.Register(JobTypeNotificationEmail, svc.deliverEmail)
	}
	return svc
}

func (s *NotificationService) emailEnabled() bool {
	return s.queue != nil && s.mailer != nil && s.users != nil
}

// Notify implements NotificationSink. The in-app row is written synchronously; email is queued.
func (s *NotificationService) Notify(ctx context.Context, userID, title, message string, kind models.NotificationKind) error {
	n := &models.Notification{UserID: userID, Title: title, Message: message, Kind: kind}
	err := s.store.Create(ctx, n)
	s.metrics.RecordNotification("in_app", err)
	if err != nil {
		return fmt.Errorf("store notification: %w", err)
	}

	if !s.emailEnabled() {
		return nil
	}
	job := jobs.Job{Type: JobTypeNotificationEmail, Payload: emailPayload{UserID: userID, Subject: title, Body: message}}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.metrics.RecordNotification("email", err)
		return fmt.Errorf("enqueue notification email: %w", err)
	}
	return nil
}

// ListForUser returns the user's latest notifications.
func (s *NotificationService) ListForUser(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	items, err := s.store.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return items, nil
}

func (s *NotificationService) deliverEmail(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(emailPayload)
	if !ok {
		s.logger.Error("unexpected email job payload", zap.String("job_id", job.ID))
		return nil
	}
	user, err := s.users.FindByID(ctx, payload.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("notification recipient not found", zap.String("user_id", payload.UserID))
			return nil
		}
		return fmt.Errorf("load recipient: %w", err)
	}
	if !user.Active || user.Email == "" {
		return nil
	}

	err = s.mailer.Send(ctx, mail.Message{
		ToName:  user.FullName,
		ToEmail: user.Email,
		Subject: payload.Subject,
		Text:    payload.Body,
	})
	s.metrics.RecordNotification("email", err)
	return err
}
