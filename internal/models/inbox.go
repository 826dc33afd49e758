package models

import (
	"strings"
	"time"
)

// UserType identifies which portal a user belongs to.
type UserType string

const (
	UserTypeStudent UserType = "STUDENT"
	UserTypeTeacher UserType = "TEACHER"
	UserTypeAdmin   UserType = "ADMIN"
)

// ParseUserType normalises case and whitespace. Unknown values are returned upper-cased.
func ParseUserType(raw string) UserType {
	return UserType(strings.ToUpper(strings.TrimSpace(raw)))
}

// Valid reports whether the type is one of the three portal roles.
func (t UserType) Valid() bool {
	switch t {
	case UserTypeStudent, UserTypeTeacher, UserTypeAdmin:
		return true
	}
	return false
}

// UnmarshalJSON accepts any casing.
func (t *UserType) UnmarshalJSON(data []byte) error {
	*t = ParseUserType(strings.Trim(string(data), `"`))
	if *t == "NULL" {
		*t = ""
	}
	return nil
}

// Comment is a course discussion entry. Replies is only populated by the tree builder.
type Comment struct {
	CommentID      ID        `json:"comment_id"`
	Content        string    `json:"content"`
	CreateTime     Timestamp `json:"create_time"`
	CourseID       ID        `json:"course_id"`
	ChapterID      ID        `json:"chapter_id,omitempty"`
	UserID         ID        `json:"user_id"`
	UserName       string    `json:"user_name"`
	UserType       UserType  `json:"user_type"`
	ParentID       ID        `json:"parent_id,omitempty"`
	TargetUserID   ID        `json:"target_user_id,omitempty"`
	TargetUserName string    `json:"target_user_name,omitempty"`
	Replies        []Comment `json:"replies,omitempty"`
}

// IsRoot reports whether the comment anchors a thread.
func (c Comment) IsRoot() bool {
	return c.ParentID.IsZero()
}

// UserRef addresses one portal user.
type UserRef struct {
	ID   ID       `json:"user_id"`
	Type UserType `json:"user_type"`
}

// ContactKey identifies a counterpart across both roster sources.
type ContactKey struct {
	ID   ID       `json:"contact_id"`
	Type UserType `json:"contact_type"`
}

// Contact is one roster row.
type Contact struct {
	ContactID   ID         `json:"contact_id"`
	ContactType UserType   `json:"contact_type"`
	ContactName string     `json:"contact_name"`
	CourseName  string     `json:"course_name,omitempty"`
	LastMessage string     `json:"last_message,omitempty"`
	LastTime    *time.Time `json:"last_time,omitempty"`
	UnreadCount int        `json:"unread_count"`
}

// Same reports whether two roster rows carry identical data.
func (c Contact) Same(other Contact) bool {
	if c.LastTime == nil || other.LastTime == nil {
		if c.LastTime != other.LastTime {
			return false
		}
	} else if !c.LastTime.Equal(*other.LastTime) {
		return false
	}
	return c.ContactID == other.ContactID && c.ContactType == other.ContactType &&
		c.ContactName == other.ContactName && c.CourseName == other.CourseName &&
		c.LastMessage == other.LastMessage && c.UnreadCount == other.UnreadCount
}

// Key returns the roster join key.
func (c Contact) Key() ContactKey {
	return ContactKey{ID: c.ContactID, Type: c.ContactType}
}

// ActiveContact is a counterpart the user may message, derived from enrolment.
type ActiveContact struct {
	ContactID   ID
	ContactType UserType
	ContactName string
	CourseName  string
}

// ChatSummary is a counterpart with actual message history.
type ChatSummary struct {
	ContactID   ID
	ContactType UserType
	ContactName string
	LastMessage string
	LastTime    Timestamp
	UnreadCount int
}

// ChatMessage is one direct message in a conversation.
type ChatMessage struct {
	ID           ID        `json:"id"`
	SenderID     ID        `json:"sender_id"`
	SenderType   UserType  `json:"sender_type"`
	ReceiverID   ID        `json:"receiver_id"`
	ReceiverType UserType  `json:"receiver_type"`
	Content      string    `json:"content"`
	MsgType      string    `json:"msg_type"`
	CreateTime   Timestamp `json:"create_time"`
}

// Message is a personal message-center record.
type Message struct {
	ID          ID
	UserID      ID
	UserType    UserType
	SenderID    ID
	SenderType  UserType
	SenderName  string
	Title       string
	Content     string
	MessageType string
	ActionText  string
	IsRead      Flag
	RelatedID   ID
	CourseID    ID
	CreateTime  Timestamp
}

// Notification is a broadcast announcement. Broadcasts have no per-user read state.
type Notification struct {
	ID            ID
	Title         string
	Content       string
	CourseID      ID
	PublisherName string
	CreateTime    Timestamp
}

// FeedSource tells which upstream entity a feed item was projected from.
type FeedSource string

const (
	FeedSourceMessage      FeedSource = "MESSAGE"
	FeedSourceNotification FeedSource = "NOTIFICATION"
)

// FeedItemType classifies feed items.
type FeedItemType string

const (
	FeedItemSystem      FeedItemType = "SYSTEM"
	FeedItemInteraction FeedItemType = "INTERACTION"
)

// FeedItemKey identifies a feed item across refreshes.
type FeedItemKey struct {
	ID     ID         `json:"id"`
	Source FeedSource `json:"source"`
}

// NotificationItem is the uniform projection of messages and broadcasts.
type NotificationItem struct {
	ID         ID           `json:"id"`
	Source     FeedSource   `json:"source"`
	Type       FeedItemType `json:"type"`
	SenderID   ID           `json:"sender_id,omitempty"`
	SenderType UserType     `json:"sender_type,omitempty"`
	SenderName string       `json:"sender_name,omitempty"`
	Title      string       `json:"title,omitempty"`
	Content    string       `json:"content"`
	Time       time.Time    `json:"time"`
	IsRead     bool         `json:"is_read"`
	ActionText string       `json:"action_text,omitempty"`
	RelatedID  ID           `json:"related_id,omitempty"`
	CourseID   ID           `json:"course_id,omitempty"`
}

// Same reports whether two feed items carry identical data.
func (n NotificationItem) Same(other NotificationItem) bool {
	timeless, otherTimeless := n, other
	timeless.Time, otherTimeless.Time = time.Time{}, time.Time{}
	return timeless == otherTimeless && n.Time.Equal(other.Time)
}

// Key returns the dedup key.
func (n NotificationItem) Key() FeedItemKey {
	return FeedItemKey{ID: n.ID, Source: n.Source}
}

// ReplyState is transient UI state that never exists on server data.
type ReplyState struct {
	ShowReply    bool   `json:"show_reply"`
	ReplyContent string `json:"reply_content"`
}

// FeedEntry is a feed item joined with its UI state.
type FeedEntry struct {
	NotificationItem
	ReplyState
}

// FeedFilter selects the visible subset of the feed.
type FeedFilter string

const (
	FeedFilterAll         FeedFilter = "ALL"
	FeedFilterUnread      FeedFilter = "UNREAD"
	FeedFilterSystem      FeedFilter = "SYSTEM"
	FeedFilterInteraction FeedFilter = "INTERACTION"
)

// ParseFeedFilter defaults unknown values to ALL.
func ParseFeedFilter(raw string) FeedFilter {
	switch f := FeedFilter(strings.ToUpper(strings.TrimSpace(raw))); f {
	case FeedFilterUnread, FeedFilterSystem, FeedFilterInteraction:
		return f
	}
	return FeedFilterAll
}

// Matches reports whether the item is visible under the filter.
func (f FeedFilter) Matches(item NotificationItem) bool {
	switch f {
	case FeedFilterUnread:
		return !item.IsRead
	case FeedFilterSystem:
		return item.Type == FeedItemSystem
	case FeedFilterInteraction:
		return item.Type == FeedItemInteraction
	}
	return true
}

// InboxTab is the view the user currently looks at.
type InboxTab string

const (
	InboxTabChat          InboxTab = "CHAT"
	InboxTabNotifications InboxTab = "NOTIFICATIONS"
)

// ParseInboxTab defaults to the chat tab.
func ParseInboxTab(raw string) InboxTab {
	if InboxTab(strings.ToUpper(strings.TrimSpace(raw))) == InboxTabNotifications {
		return InboxTabNotifications
	}
	return InboxTabChat
}
