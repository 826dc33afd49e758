package repository

import (
	"context"
	"fmt"

	"github.com/noah-isme/gema-inbox/internal/dto"
	"github.com/noah-isme/gema-inbox/internal/models"
	"github.com/noah-isme/gema-inbox/pkg/portalapi"
)

// MessageRepository reaches the personal message center.
type MessageRepository interface {
	List(ctx context.Context, user models.UserRef, page, size int) ([]models.Message, int64, error)
	MarkRead(ctx context.Context, id models.ID) error
	UnreadCount(ctx context.Context, user models.UserRef) (int, error)
}

type messageRepository struct {
	client *portalapi.Client
}

// NewMessageRepository constructs a message repository backed by the portal API.
func NewMessageRepository(client *portalapi.Client) MessageRepository {
	return &messageRepository{client: client}
}

func (r *messageRepository) List(ctx context.Context, user models.UserRef, page, size int) ([]models.Message, int64, error) {
	result, err := portalapi.Get[portalapi.Page[dto.MessageRecord]](ctx, r.client, portalapi.Request{
		Name:  "message.list",
		Path:  "/message/list",
		Query: pageQuery(userQuery(user), page, size),
	})
	if err != nil {
		return nil, 0, err
	}

	messages, err := project[models.Message](result.Data.Items)
	if err != nil {
		return nil, 0, err
	}
	return messages, result.Data.Total, nil
}

func (r *messageRepository) MarkRead(ctx context.Context, id models.ID) error {
	_, err := portalapi.Post[portalapi.Ignored](ctx, r.client, portalapi.Request{
		Name: "message.read",
		Path: fmt.Sprintf("/message/read/%s", id),
	})
	return err
}

func (r *messageRepository) UnreadCount(ctx context.Context, user models.UserRef) (int, error) {
	result, err := portalapi.Get[dto.UnreadCount](ctx, r.client, portalapi.Request{
		Name:  "message.unread_count",
		Path:  "/message/unread-count",
		Query: userQuery(user),
	})
	if err != nil {
		return 0, err
	}
	return int(result.Data), nil
}
