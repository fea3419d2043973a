package models

import "time"

// NotificationKind classifies in-app notifications.
type NotificationKind string

const (
	NotificationEnrollmentApproved  NotificationKind = "ENROLLMENT_APPROVED"
	NotificationEnrollmentRejected  NotificationKind = "ENROLLMENT_REJECTED"
	NotificationEnrollmentWithdrawn NotificationKind = "ENROLLMENT_WITHDRAWN"
)

// Notification is a message delivered to a user's inbox.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"user_id"`
	Title     string           `db:"title" json:"title"`
	Message   string           `db:"message" json:"message"`
	Kind      NotificationKind `db:"kind" json:"kind"`
	ReadAt    *time.Time       `db:"read_at" json:"read_at,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
}
