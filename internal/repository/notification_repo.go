package repository

import (
	"context"

	"github.com/noah-isme/gema-inbox/internal/dto"
	"github.com/noah-isme/gema-inbox/internal/models"
	"github.com/noah-isme/gema-inbox/pkg/portalapi"
)

// NotificationRepository reads broadcast announcements addressed to a role.
type NotificationRepository interface {
	ListBroadcasts(ctx context.Context, userType models.UserType, page, size int) ([]models.Notification, error)
}

type notificationRepository struct {
	client *portalapi.Client
}

// NewNotificationRepository constructs a broadcast repository backed by the portal API.
func NewNotificationRepository(client *portalapi.Client) NotificationRepository {
	return &notificationRepository{client: client}
}

var broadcastPaths = map[models.UserType]string{
	models.UserTypeStudent: "/notification/student",
	models.UserTypeTeacher: "/notification/teacher",
}

// ListBroadcasts returns nothing for roles without a broadcast endpoint.
func (r *notificationRepository) ListBroadcasts(ctx context.Context, userType models.UserType, page, size int) ([]models.Notification, error) {
	path, ok := broadcastPaths[userType]
	if !ok {
		return nil, nil
	}

	result, err := portalapi.Get[portalapi.Page[dto.NotificationRecord]](ctx, r.client, portalapi.Request{
		Name:  "notification.broadcasts",
		Path:  path,
		Query: pageQuery(map[string]string{}, page, size),
	})
	if err != nil {
		return nil, err
	}
	return project[models.Notification](result.Data.Items)
}
