package dto

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/noah-isme/gema-inbox/internal/models"
)

// Portal wire records. Field names mirror the models so repositories project them with copier.

// CommentRecord is a course comment as the portal serialises it.
type CommentRecord struct {
	CommentID      models.ID        `json:"commentId"`
	ID             models.ID        `json:"id"`
	Content        string           `json:"content"`
	CreateTime     models.Timestamp `json:"createTime"`
	CourseID       models.ID        `json:"courseId"`
	ChapterID      models.ID        `json:"chapterId"`
	UserID         models.ID        `json:"userId"`
	UserName       string           `json:"userName"`
	UserType       models.UserType  `json:"userType"`
	ParentID       models.ID        `json:"parentId"`
	TargetUserID   models.ID        `json:"targetUserId"`
	TargetUserName string           `json:"targetUserName"`
}

// ChatMessageRecord is a direct message.
type ChatMessageRecord struct {
	ID           models.ID        `json:"id"`
	SenderID     models.ID        `json:"senderId"`
	SenderType   models.UserType  `json:"senderType"`
	ReceiverID   models.ID        `json:"receiverId"`
	ReceiverType models.UserType  `json:"receiverType"`
	Content      string           `json:"content"`
	MsgType      string           `json:"msgType"`
	CreateTime   models.Timestamp `json:"createTime"`
}

// ActiveContactRecord is a counterpart derived from enrolment.
type ActiveContactRecord struct {
	ContactID   models.ID       `json:"contactId"`
	ContactType models.UserType `json:"contactType"`
	ContactName string          `json:"contactName"`
	CourseName  string          `json:"courseName"`
}

// ChatSummaryRecord is a counterpart with message history.
type ChatSummaryRecord struct {
	ContactID   models.ID        `json:"contactId"`
	ContactType models.UserType  `json:"contactType"`
	ContactName string           `json:"contactName"`
	LastMessage string           `json:"lastMessage"`
	LastTime    models.Timestamp `json:"lastTime"`
	UnreadCount UnreadCount      `json:"unreadCount"`
}

// MessageRecord is a personal message-center record.
type MessageRecord struct {
	ID          models.ID        `json:"id"`
	UserID      models.ID        `json:"userId"`
	UserType    models.UserType  `json:"userType"`
	SenderID    models.ID        `json:"senderId"`
	SenderType  models.UserType  `json:"senderType"`
	SenderName  string           `json:"senderName"`
	Title       string           `json:"title"`
	Content     string           `json:"content"`
	MessageType string           `json:"messageType"`
	ActionText  string           `json:"actionText"`
	IsRead      models.Flag      `json:"isRead"`
	RelatedID   models.ID        `json:"relatedId"`
	CourseID    models.ID        `json:"courseId"`
	CreateTime  models.Timestamp `json:"createTime"`
}

// NotificationRecord is a broadcast announcement.
type NotificationRecord struct {
	ID            models.ID        `json:"id"`
	Title         string           `json:"title"`
	Content       string           `json:"content"`
	CourseID      models.ID        `json:"courseId"`
	PublisherName string           `json:"publisherName"`
	CreateTime    models.Timestamp `json:"createTime"`
}

// ChatSendPayload is the body of POST /chat/send.
type ChatSendPayload struct {
	SenderID     models.ID       `json:"senderId"`
	SenderType   models.UserType `json:"senderType"`
	ReceiverID   models.ID       `json:"receiverId"`
	ReceiverType models.UserType `json:"receiverType"`
	Content      string          `json:"content"`
	MsgType      string          `json:"msgType"`
}

// ChatReadPayload is the body of POST /chat/read. It marks every message from the sender as read.
type ChatReadPayload struct {
	UserID     models.ID       `json:"userId"`
	UserType   models.UserType `json:"userType"`
	SenderID   models.ID       `json:"senderId"`
	SenderType models.UserType `json:"senderType"`
}

// CommentCreatePayload is the body of POST /course/comment.
type CommentCreatePayload struct {
	CourseID       models.ID       `json:"courseId"`
	ChapterID      models.ID       `json:"chapterId,omitempty"`
	UserID         models.ID       `json:"userId"`
	UserType       models.UserType `json:"userType"`
	ParentID       models.ID       `json:"parentId,omitempty"`
	TargetUserID   models.ID       `json:"targetUserId,omitempty"`
	TargetUserName string          `json:"targetUserName,omitempty"`
	Content        string          `json:"content"`
}

// UnreadCount decodes a bare number, a numeric string or an object such as {"count": 3}.
type UnreadCount int

var unreadCountKeys = []string{"count", "unreadCount", "total", "unread"}

// UnmarshalJSON implements json.Unmarshaler. Unknown shapes decode to zero.
func (u *UnreadCount) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	*u = 0
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	if trimmed[0] == '{' {
		var object map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &object); err != nil {
			return nil
		}
		for _, key := range unreadCountKeys {
			if raw, ok := object[key]; ok {
				return u.UnmarshalJSON(raw)
			}
		}
		return nil
	}

	raw := strings.Trim(string(trimmed), `"`)
	if value, err := strconv.ParseFloat(raw, 64); err == nil && value > 0 {
		*u = UnreadCount(int(value))
	}
	return nil
}
