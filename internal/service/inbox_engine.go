package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-inbox/internal/dto"
	"github.com/noah-isme/gema-inbox/internal/models"
	"github.com/noah-isme/gema-inbox/internal/repository"
	"github.com/noah-isme/gema-inbox/internal/session"
)

// InboxDeps are the upstream sources and sinks shared by every inbox.
type InboxDeps struct {
	Chat       repository.ChatRepository
	Messages   repository.MessageRepository
	Broadcasts repository.NotificationRepository
	Comments   CommentService
	Broker     EventBroker
}

// InboxConfig tunes one inbox.
type InboxConfig struct {
	SyncInterval time.Duration
	FeedPageSize int
}

// InboxEngine is the chat and notification center of one session.
type InboxEngine struct {
	session *session.Session
	roster  *ContactRoster
	feed    *NotificationFeed
	chat    *ChatSession
	loop    *SyncLoop
	broker  EventBroker
	logger  zerolog.Logger

	mu  sync.RWMutex
	tab models.InboxTab
}

// NewInboxEngine wires the components for sess. The engine does nothing until Start.
func NewInboxEngine(sess *session.Session, deps InboxDeps, cfg InboxConfig, logger zerolog.Logger) *InboxEngine {
	engine := &InboxEngine{
		session: sess,
		broker:  deps.Broker,
		logger:  logger.With().Str("component", "inbox_engine").Str("user", sess.Identity().Key()).Logger(),
		tab:     models.InboxTabChat,
	}

	notify := Notifier(engine.publish)
	engine.roster = NewContactRoster(sess, deps.Chat, notify, logger)
	engine.feed = NewNotificationFeed(sess, deps.Messages, deps.Broadcasts, deps.Comments, notify, FeedConfig{PageSize: cfg.FeedPageSize}, logger)
	engine.chat = NewChatSession(sess, deps.Chat, engine.roster, notify, logger)
	engine.loop = NewSyncLoop(sess, SyncTargets{
		Roster: engine.roster,
		Feed:   engine.feed,
		Chat:   engine.chat,
		Tab:    engine.Tab,
	}, cfg.SyncInterval, logger)
	return engine
}

// Start begins polling.
func (e *InboxEngine) Start() {
	e.loop.Start()
}

// Close stops polling and invalidates the session. Results still in flight are dropped.
func (e *InboxEngine) Close() {
	if !e.session.Active() {
		return
	}
	e.loop.Stop()
	e.session.Close()
	e.publish(dto.InboxEventClosed)
	e.logger.Debug().Msg("inbox closed")
}

// Session returns the session the engine serves.
func (e *InboxEngine) Session() *session.Session {
	return e.session
}

// Feed exposes the notification feed for reply box operations.
func (e *InboxEngine) Feed() *NotificationFeed {
	return e.feed
}

// Roster exposes the contact roster.
func (e *InboxEngine) Roster() *ContactRoster {
	return e.roster
}

// Loop exposes the sync loop.
func (e *InboxEngine) Loop() *SyncLoop {
	return e.loop
}

// Tab returns the visible tab.
func (e *InboxEngine) Tab() models.InboxTab {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tab
}

// SwitchTab changes the visible tab and refreshes what it shows.
func (e *InboxEngine) SwitchTab(tab models.InboxTab) error {
	if !e.session.Active() {
		return ErrEngineClosed
	}

	e.mu.Lock()
	changed := e.tab != tab
	e.tab = tab
	e.mu.Unlock()

	if changed {
		e.publish(dto.InboxEventTab)
	}
	if tab == models.InboxTabNotifications {
		e.loop.Trigger(SyncTaskFeed)
	} else {
		e.loop.Trigger(SyncTaskContacts)
	}
	return nil
}

// SetFeedFilter selects the visible feed subset.
func (e *InboxEngine) SetFeedFilter(filter models.FeedFilter) []models.FeedEntry {
	e.feed.SetFilter(filter)
	return e.feed.Filtered()
}

// OpenConversation selects the contact identified by key. An unknown key triggers one roster
// refresh before giving up.
func (e *InboxEngine) OpenConversation(ctx context.Context, key models.ContactKey) (dto.ConversationView, error) {
	if !e.session.Active() {
		return dto.ConversationView{}, ErrEngineClosed
	}

	contact, ok := e.roster.Find(key)
	if !ok {
		if _, err := e.roster.Refresh(ctx); err != nil {
			return dto.ConversationView{}, err
		}
		if contact, ok = e.roster.Find(key); !ok {
			return dto.ConversationView{}, ErrContactNotFound
		}
	}

	messages, err := e.chat.Select(ctx, contact)
	if err != nil {
		return dto.ConversationView{}, err
	}
	contact.UnreadCount = 0
	return dto.ConversationView{Contact: contact, Messages: messages, Draft: e.chat.Draft()}, nil
}

// CloseConversation deselects the open conversation.
func (e *InboxEngine) CloseConversation() {
	e.chat.Close()
}

// Conversation returns the open conversation, or nil.
func (e *InboxEngine) Conversation() *dto.ConversationView {
	return e.chat.View()
}

// Send posts text to the open conversation. Blank text or no open conversation is a no-op.
func (e *InboxEngine) Send(ctx context.Context, text string) (*models.ChatMessage, error) {
	if !e.session.Active() {
		return nil, ErrEngineClosed
	}

	e.chat.SetDraft(text)
	message, err := e.chat.Send(ctx)
	if err != nil {
		return nil, err
	}
	if message != nil {
		e.loop.Trigger(SyncTaskContacts)
	}
	return message, nil
}

// MarkRead marks one personal message as read.
func (e *InboxEngine) MarkRead(ctx context.Context, key models.FeedItemKey) error {
	if !e.session.Active() {
		return ErrEngineClosed
	}
	return e.feed.MarkRead(ctx, key)
}

// MarkAllRead marks every visible unread personal message as read.
func (e *InboxEngine) MarkAllRead(ctx context.Context) (dto.MarkAllReadResponse, error) {
	if !e.session.Active() {
		return dto.MarkAllReadResponse{}, ErrEngineClosed
	}
	return e.feed.MarkAllRead(ctx)
}

// Snapshot returns the full view state.
func (e *InboxEngine) Snapshot() dto.InboxSnapshotResponse {
	contacts, chatUnread := e.roster.Snapshot()
	return dto.InboxSnapshotResponse{
		Tab:           e.Tab(),
		Filter:        e.feed.Filter(),
		Contacts:      contacts,
		ChatUnread:    chatUnread,
		MessageUnread: e.feed.UnreadCount(),
		Feed:          e.feed.Filtered(),
		Conversation:  e.chat.View(),
		GeneratedAt:   time.Now().UTC(),
	}
}

func (e *InboxEngine) publish(kind dto.InboxEventKind) {
	if e.broker == nil {
		return
	}
	identity := e.session.Identity()
	e.broker.Publish(context.Background(), dto.InboxEvent{
		Kind:     kind,
		UserID:   identity.UserID,
		UserType: identity.UserType,
		At:       time.Now().UTC(),
	})
}
