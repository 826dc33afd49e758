package dto

import (
	"time"

	"github.com/noah-isme/gema-inbox/internal/models"
)

// ChatSendRequest is the payload the client posts to send a direct message in the open conversation.
// Blank content is accepted and treated as a no-op.
type ChatSendRequest struct {
	Content string `json:"content" validate:"max=2000"`
}

// InboxTabRequest switches the visible tab.
type InboxTabRequest struct {
	Tab    string `json:"tab" validate:"required,oneof=CHAT NOTIFICATIONS chat notifications"`
	Filter string `json:"filter" validate:"omitempty,oneof=ALL UNREAD SYSTEM INTERACTION all unread system interaction"`
}

// FeedReplyUpdateRequest opens or closes the inline reply box and/or replaces its draft.
type FeedReplyUpdateRequest struct {
	Open    *bool   `json:"open"`
	Content *string `json:"content" validate:"omitempty,max=2000"`
}

// ConversationView is the open conversation as the client renders it.
type ConversationView struct {
	Contact  models.Contact       `json:"contact"`
	Messages []models.ChatMessage `json:"messages"`
	Draft    string               `json:"draft"`
}

// InboxSnapshotResponse is the full view-model state of one inbox.
type InboxSnapshotResponse struct {
	Tab           models.InboxTab    `json:"tab"`
	Filter        models.FeedFilter  `json:"filter"`
	Contacts      []models.Contact   `json:"contacts"`
	ChatUnread    int                `json:"chat_unread"`
	MessageUnread int                `json:"message_unread"`
	Feed          []models.FeedEntry `json:"feed"`
	Conversation  *ConversationView  `json:"conversation,omitempty"`
	GeneratedAt   time.Time          `json:"generated_at"`
}

// ContactListResponse lists the roster with its unread total.
type ContactListResponse struct {
	Contacts    []models.Contact `json:"contacts"`
	TotalUnread int              `json:"total_unread"`
}

// FeedListResponse lists the visible feed entries under the active filter.
type FeedListResponse struct {
	Filter      models.FeedFilter  `json:"filter"`
	Items       []models.FeedEntry `json:"items"`
	UnreadCount int                `json:"unread_count"`
}

// MarkAllReadResponse reports how a bulk mark-read went. Failed keys stay unread.
type MarkAllReadResponse struct {
	Marked int                  `json:"marked"`
	Failed []models.FeedItemKey `json:"failed,omitempty"`
}

// InboxEventKind names the slice of state that changed.
type InboxEventKind string

const (
	InboxEventContacts     InboxEventKind = "contacts"
	InboxEventUnread       InboxEventKind = "unread"
	InboxEventFeed         InboxEventKind = "feed"
	InboxEventConversation InboxEventKind = "conversation"
	InboxEventTab          InboxEventKind = "tab"
	InboxEventClosed       InboxEventKind = "closed"
)

// InboxEvent notifies subscribers that part of an inbox changed and should be re-read.
type InboxEvent struct {
	Kind     InboxEventKind  `json:"kind"`
	UserID   models.ID       `json:"user_id"`
	UserType models.UserType `json:"user_type"`
	At       time.Time       `json:"at"`
}

// InboxStreamMessage is pushed to stream clients for every inbox event, with the state after it.
type InboxStreamMessage struct {
	Event    InboxEvent             `json:"event"`
	Snapshot *InboxSnapshotResponse `json:"snapshot,omitempty"`
}

// CommentListQuery selects a course thread list, optionally scoped to one chapter.
type CommentListQuery struct {
	CourseID  string `query:"course_id" validate:"required_without=ChapterID"`
	ChapterID string `query:"chapter_id"`
}

// CommentCreateRequest is the payload to post a comment or a reply.
type CommentCreateRequest struct {
	CourseID       models.ID `json:"course_id" validate:"required"`
	ChapterID      models.ID `json:"chapter_id"`
	ParentID       models.ID `json:"parent_id"`
	TargetUserID   models.ID `json:"target_user_id"`
	TargetUserName string    `json:"target_user_name" validate:"omitempty,max=128"`
	Content        string    `json:"content" validate:"required,min=1,max=2000"`
}

// CommentDeleteQuery carries what the permission check needs besides the comment id.
type CommentDeleteQuery struct {
	CourseID      string `query:"course_id" validate:"required"`
	CourseOwnerID string `query:"course_owner_id"`
	Confirm       bool   `query:"confirm"`
}

// CommentThreadResponse is a list of display roots with flattened replies.
type CommentThreadResponse struct {
	CourseID  models.ID        `json:"course_id,omitempty"`
	ChapterID models.ID        `json:"chapter_id,omitempty"`
	Threads   []models.Comment `json:"threads"`
	Total     int              `json:"total"`
}

// NewContactListResponse converts a roster snapshot into a DTO.
func NewContactListResponse(contacts []models.Contact, totalUnread int) ContactListResponse {
	if contacts == nil {
		contacts = []models.Contact{}
	}
	return ContactListResponse{Contacts: contacts, TotalUnread: totalUnread}
}

// NewCommentThreadResponse counts every comment in the threads, replies included.
func NewCommentThreadResponse(courseID, chapterID models.ID, threads []models.Comment) CommentThreadResponse {
	if threads == nil {
		threads = []models.Comment{}
	}
	total := 0
	for _, root := range threads {
		total += 1 + len(root.Replies)
	}
	return CommentThreadResponse{CourseID: courseID, ChapterID: chapterID, Threads: threads, Total: total}
}
