package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/noah-isme/gema-inbox/internal/dto"
	"github.com/noah-isme/gema-inbox/internal/models"
	"github.com/noah-isme/gema-inbox/pkg/portalapi"
)

// ChatRepository reaches the portal's direct-message endpoints.
type ChatRepository interface {
	Send(ctx context.Context, payload dto.ChatSendPayload) (models.ChatMessage, error)
	History(ctx context.Context, user models.UserRef, contact models.ContactKey) ([]models.ChatMessage, error)
	Summaries(ctx context.Context, user models.UserRef) ([]models.ChatSummary, error)
	ActiveContacts(ctx context.Context, user models.UserRef) ([]models.ActiveContact, error)
	MarkRead(ctx context.Context, payload dto.ChatReadPayload) error
	UnreadCount(ctx context.Context, user models.UserRef) (int, error)
}

type chatRepository struct {
	client *portalapi.Client
}

// NewChatRepository constructs a chat repository backed by the portal API.
func NewChatRepository(client *portalapi.Client) ChatRepository {
	return &chatRepository{client: client}
}

func (r *chatRepository) Send(ctx context.Context, payload dto.ChatSendPayload) (models.ChatMessage, error) {
	result, err := portalapi.Post[dto.ChatMessageRecord](ctx, r.client, portalapi.Request{
		Name: "chat.send",
		Path: "/chat/send",
		Body: payload,
	})
	if err != nil {
		return models.ChatMessage{}, err
	}

	record := result.Data
	// Some deployments answer with an empty data block; echo the payload so the caller still has a message.
	if record.ID.IsZero() && record.Content == "" {
		record = dto.ChatMessageRecord{
			SenderID:     payload.SenderID,
			SenderType:   payload.SenderType,
			ReceiverID:   payload.ReceiverID,
			ReceiverType: payload.ReceiverType,
			Content:      payload.Content,
			MsgType:      payload.MsgType,
			CreateTime:   models.NewTimestamp(time.Now()),
		}
	}

	messages, err := project[models.ChatMessage]([]dto.ChatMessageRecord{record})
	if err != nil {
		return models.ChatMessage{}, err
	}
	return messages[0], nil
}

func (r *chatRepository) History(ctx context.Context, user models.UserRef, contact models.ContactKey) ([]models.ChatMessage, error) {
	query := userQuery(user)
	query["contactId"] = contact.ID.String()
	query["contactType"] = string(contact.Type)

	result, err := portalapi.Get[portalapi.Page[dto.ChatMessageRecord]](ctx, r.client, portalapi.Request{
		Name:  "chat.history",
		Path:  "/chat/history",
		Query: query,
	})
	if err != nil {
		return nil, err
	}
	return project[models.ChatMessage](result.Data.Items)
}

func (r *chatRepository) Summaries(ctx context.Context, user models.UserRef) ([]models.ChatSummary, error) {
	result, err := portalapi.Get[portalapi.Page[dto.ChatSummaryRecord]](ctx, r.client, portalapi.Request{
		Name: "chat.contacts",
		Path: fmt.Sprintf("/chat/contacts/%s/%s", user.Type, user.ID),
	})
	if err != nil {
		return nil, err
	}
	return project[models.ChatSummary](result.Data.Items)
}

func (r *chatRepository) ActiveContacts(ctx context.Context, user models.UserRef) ([]models.ActiveContact, error) {
	result, err := portalapi.Get[portalapi.Page[dto.ActiveContactRecord]](ctx, r.client, portalapi.Request{
		Name: "chat.active_contacts",
		Path: fmt.Sprintf("/chat/active-contacts/%s/%s", user.Type, user.ID),
	})
	if err != nil {
		return nil, err
	}
	return project[models.ActiveContact](result.Data.Items)
}

func (r *chatRepository) MarkRead(ctx context.Context, payload dto.ChatReadPayload) error {
	_, err := portalapi.Post[portalapi.Ignored](ctx, r.client, portalapi.Request{
		Name: "chat.read",
		Path: "/chat/read",
		Body: payload,
	})
	return err
}

func (r *chatRepository) UnreadCount(ctx context.Context, user models.UserRef) (int, error) {
	result, err := portalapi.Get[dto.UnreadCount](ctx, r.client, portalapi.Request{
		Name: "chat.unread_count",
		Path: fmt.Sprintf("/chat/unread-count/%s/%s", user.Type, user.ID),
	})
	if err != nil {
		return 0, err
	}
	return int(result.Data), nil
}
