package firestore

import (
	"context"
	"errors"
	"time"

	domain "github.com/folioshelf/api/internal/domain"
	pfirestore "github.com/folioshelf/api/internal/platform/firestore"
)

const notificationsCollection = "notifications"

type notificationDocument struct {
	UserID    string    `firestore:"userId"`
	Subject   string    `firestore:"subject"`
	Body      string    `firestore:"body"`
	Read      bool      `firestore:"read"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// NotificationRepository stores in-app notification records.
type NotificationRepository struct {
	notifications *pfirestore.Collection[notificationDocument]
}

// NewNotificationRepository constructs a Firestore-backed notification repository.
func NewNotificationRepository(provider *pfirestore.Provider) (*NotificationRepository, error) {
	if provider == nil {
		return nil, errors.New("notification repository requires firestore provider")
	}
	return &NotificationRepository{notifications: pfirestore.NewCollection[notificationDocument](provider, notificationsCollection)}, nil
}

func (r *NotificationRepository) Insert(ctx context.Context, notification domain.Notification) error {
	return r.notifications.Create(ctx, notification.ID, notificationDocument{
		UserID:    notification.UserID,
		Subject:   notification.Subject,
		Body:      notification.Body,
		Read:      notification.Read,
		CreatedAt: notification.CreatedAt.UTC(),
	})
}
