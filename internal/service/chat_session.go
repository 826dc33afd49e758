package service

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-inbox/internal/dto"
	"github.com/noah-isme/gema-inbox/internal/models"
	"github.com/noah-isme/gema-inbox/internal/observability"
	"github.com/noah-isme/gema-inbox/internal/repository"
	"github.com/noah-isme/gema-inbox/internal/session"
)

const chatMessageTypeText = "TEXT"

// ChatSession is the open conversation of one session. Every selection starts a new generation;
// results that belong to an older generation are dropped.
type ChatSession struct {
	session   *session.Session
	repo      repository.ChatRepository
	roster    *ContactRoster
	notify    Notifier
	logger    zerolog.Logger
	tracer    trace.Tracer

	mu         sync.RWMutex
	contact    *models.Contact
	generation uint64
	messages   []models.ChatMessage
	draft      string
}

// NewChatSession constructs a chat session. roster may be nil.
func NewChatSession(sess *session.Session, repo repository.ChatRepository, roster *ContactRoster, notify Notifier, logger zerolog.Logger) *ChatSession {
	return &ChatSession{
		session:   sess,
		repo:      repo,
		roster:    roster,
		notify:    notify,
		logger:    logger.With().Str("component", "chat_session").Str("user", sess.Identity().Key()).Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-inbox/internal/service/chat"),
	}
}

// Select opens the conversation with contact. Unread messages from the contact are marked read
// before the history is loaded.
func (c *ChatSession) Select(ctx context.Context, contact models.Contact) ([]models.ChatMessage, error) {
	identity := c.session.Identity()
	ctx, span := c.tracer.Start(c.session.Context(ctx), "chat.select", trace.WithAttributes(
		attribute.String("chat.contact", string(contact.ContactType)+":"+contact.ContactID.String()),
	))
	defer span.End()

	c.mu.Lock()
	c.generation++
	generation := c.generation
	selected := contact
	c.contact = &selected
	c.messages = []models.ChatMessage{}
	c.draft = ""
	c.mu.Unlock()
	c.notify.notify(dto.InboxEventConversation)

	if contact.UnreadCount > 0 {
		if c.roster != nil {
			c.roster.MarkContactRead(contact.Key())
		}
		err := c.repo.MarkRead(ctx, dto.ChatReadPayload{
			UserID:     identity.UserID,
			UserType:   identity.UserType,
			SenderID:   contact.ContactID,
			SenderType: contact.ContactType,
		})
		if err != nil {
			c.logger.Warn().Err(err).Str("contact_id", contact.ContactID.String()).Msg("failed to mark conversation read")
		}
	}

	history, err := c.repo.History(ctx, identity.Ref(), contact.Key())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	sortChronologically(history)

	c.mu.Lock()
	current := generation == c.generation && c.session.Active()
	if current {
		c.messages = history
	}
	c.mu.Unlock()

	if current {
		c.notify.notify(dto.InboxEventConversation)
	}
	return cloneMessages(history), nil
}

// SetDraft replaces the composer text.
func (c *ChatSession) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
}

// Draft returns the composer text.
func (c *ChatSession) Draft() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.draft
}

// Send posts the trimmed draft, as typed, to the open conversation. A blank draft or no open
// conversation is a no-op that returns (nil, nil). The draft is cleared only once the portal accepted the message.
func (c *ChatSession) Send(ctx context.Context) (*models.ChatMessage, error) {
	c.mu.RLock()
	prior := c.draft
	generation := c.generation
	var contact models.Contact
	selected := c.contact != nil
	if selected {
		contact = *c.contact
	}
	c.mu.RUnlock()

	content := strings.TrimSpace(prior)
	if content == "" || !selected {
		return nil, nil
	}

	identity := c.session.Identity()
	ctx, span := c.tracer.Start(c.session.Context(ctx), "chat.send", trace.WithAttributes(
		attribute.String("chat.contact", string(contact.ContactType)+":"+contact.ContactID.String()),
	))
	defer span.End()

	message, err := c.repo.Send(ctx, dto.ChatSendPayload{
		SenderID:     identity.UserID,
		SenderType:   identity.UserType,
		ReceiverID:   contact.ContactID,
		ReceiverType: contact.ContactType,
		Content:      content,
		MsgType:      chatMessageTypeText,
	})
	if err != nil {
		span.RecordError(err)
		observability.ChatMessagesSent().WithLabelValues("error").Inc()
		c.mu.Lock()
		if generation == c.generation && c.draft == "" {
			c.draft = prior
		}
		c.mu.Unlock()
		return nil, err
	}
	observability.ChatMessagesSent().WithLabelValues("ok").Inc()

	c.mu.Lock()
	current := generation == c.generation && c.session.Active()
	if current {
		if !containsMessage(c.messages, message.ID) {
			c.messages = append(c.messages, message)
		}
		if c.draft == prior {
			c.draft = ""
		}
	}
	c.mu.Unlock()

	if current {
		c.notify.notify(dto.InboxEventConversation)
	}
	return &message, nil
}

// Reconcile re-fetches the open conversation. Local history is replaced only when the portal has
// more messages, or as many with a newer last message.
func (c *ChatSession) Reconcile(ctx context.Context) (bool, error) {
	c.mu.RLock()
	generation := c.generation
	var contact models.Contact
	selected := c.contact != nil
	if selected {
		contact = *c.contact
	}
	c.mu.RUnlock()
	if !selected {
		return false, nil
	}

	history, err := c.repo.History(c.session.Context(ctx), c.session.Identity().Ref(), contact.Key())
	if err != nil {
		return false, err
	}
	sortChronologically(history)

	c.mu.Lock()
	replaced := generation == c.generation && c.session.Active() && historyAdvanced(c.messages, history)
	if replaced {
		c.messages = history
	}
	c.mu.Unlock()

	if replaced {
		c.notify.notify(dto.InboxEventConversation)
	}
	return replaced, nil
}

// Close deselects the conversation.
func (c *ChatSession) Close() {
	c.mu.Lock()
	wasOpen := c.contact != nil
	c.generation++
	c.contact = nil
	c.messages = nil
	c.draft = ""
	c.mu.Unlock()

	if wasOpen {
		c.notify.notify(dto.InboxEventConversation)
	}
}

// Current returns the selected contact.
func (c *ChatSession) Current() (models.Contact, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.contact == nil {
		return models.Contact{}, false
	}
	return *c.contact, true
}

// Messages returns a copy of the local history.
func (c *ChatSession) Messages() []models.ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneMessages(c.messages)
}

// View returns the conversation as rendered, or nil when none is open.
func (c *ChatSession) View() *dto.ConversationView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.contact == nil {
		return nil
	}
	return &dto.ConversationView{
		Contact:  *c.contact,
		Messages: cloneMessages(c.messages),
		Draft:    c.draft,
	}
}

func historyAdvanced(local, server []models.ChatMessage) bool {
	switch {
	case len(server) > len(local):
		return true
	case len(server) == len(local) && len(server) > 0:
		return server[len(server)-1].CreateTime.After(local[len(local)-1].CreateTime.Time)
	default:
		return false
	}
}

func containsMessage(messages []models.ChatMessage, id models.ID) bool {
	if id.IsZero() {
		return false
	}
	for _, message := range messages {
		if message.ID == id {
			return true
		}
	}
	return false
}

func sortChronologically(messages []models.ChatMessage) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreateTime.Before(messages[j].CreateTime.Time)
	})
}

func cloneMessages(messages []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, len(messages))
	copy(out, messages)
	return out
}
