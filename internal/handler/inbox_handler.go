package handler

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-inbox/internal/dto"
	"github.com/noah-isme/gema-inbox/internal/middleware"
	"github.com/noah-isme/gema-inbox/internal/models"
	"github.com/noah-isme/gema-inbox/internal/service"
	"github.com/noah-isme/gema-inbox/internal/session"
	"github.com/noah-isme/gema-inbox/internal/utils"
)

const defaultStreamKeepAlive = 30 * time.Second

// InboxRegistry hands out the per-user inbox engines.
type InboxRegistry interface {
	Acquire(identity session.Identity) (*service.InboxEngine, error)
	Lookup(identity session.Identity) (*service.InboxEngine, bool)
	Release(identity session.Identity) bool
}

// InboxHandlerConfig tunes the stream transports and the send limiter.
type InboxHandlerConfig struct {
	KeepAlive     time.Duration
	SendRateLimit int
}

// InboxHandler exposes the inbox engine over REST, SSE and websocket.
type InboxHandler struct {
	registry  InboxRegistry
	broker    service.EventBroker
	validator *validator.Validate
	logger    zerolog.Logger
	cfg       InboxHandlerConfig
}

// NewInboxHandler constructs an inbox handler.
func NewInboxHandler(registry InboxRegistry, broker service.EventBroker, validate *validator.Validate, cfg InboxHandlerConfig, logger zerolog.Logger) *InboxHandler {
	if validate == nil {
		validate = validator.New()
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultStreamKeepAlive
	}
	return &InboxHandler{
		registry:  registry,
		broker:    broker,
		validator: validate,
		logger:    logger.With().Str("component", "inbox_handler").Logger(),
		cfg:       cfg,
	}
}

// Register binds the inbox routes. The router must already authenticate the caller.
func (h *InboxHandler) Register(router fiber.Router) {
	router.Get("/snapshot", middleware.WithAuth(h.snapshot, middleware.AuthOptions{}))
	router.Get("/contacts", middleware.WithAuth(h.contacts, middleware.AuthOptions{}))
	router.Get("/feed", middleware.WithAuth(h.feed, middleware.AuthOptions{}))
	router.Post("/feed/read-all", middleware.WithAuth(h.markAllRead, middleware.AuthOptions{}))
	router.Post("/feed/:source/:id/read", middleware.WithAuth(h.markRead, middleware.AuthOptions{}))

	replyAuth := middleware.AuthOptions{UserTypes: []models.UserType{models.UserTypeTeacher, models.UserTypeAdmin}}
	router.Patch("/feed/:source/:id/reply", middleware.WithAuth(h.updateReply, replyAuth))
	router.Post("/feed/:source/:id/reply", middleware.WithAuth(h.submitReply, replyAuth))

	router.Put("/tab", middleware.WithAuth(h.switchTab, middleware.AuthOptions{}))
	router.Post("/conversations/:type/:id", middleware.WithAuth(h.openConversation, middleware.AuthOptions{}))
	router.Delete("/conversation", middleware.WithAuth(h.closeConversation, middleware.AuthOptions{}))
	router.Post("/conversation/messages",
		middleware.RateLimit("inbox_send", h.cfg.SendRateLimit, time.Minute),
		middleware.WithAuth(h.send, middleware.AuthOptions{}),
	)
	router.Delete("/session", middleware.WithAuth(h.closeSession, middleware.AuthOptions{}))

	router.Get("/stream", middleware.WithAuth(h.stream, middleware.AuthOptions{}))
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/ws", websocket.New(h.handleConnection))
}

func (h *InboxHandler) engine(identity session.Identity) (*service.InboxEngine, error) {
	return h.registry.Acquire(identity)
}

func (h *InboxHandler) snapshot(c *fiber.Ctx, identity session.Identity) error {
	engine, err := h.engine(identity)
	if err != nil {
		return respondError(c, h.logger, err, "snapshot")
	}
	return utils.SendSuccess(c, "inbox snapshot", engine.Snapshot())
}

func (h *InboxHandler) contacts(c *fiber.Ctx, identity session.Identity) error {
	engine, err := h.engine(identity)
	if err != nil {
		return respondError(c, h.logger, err, "contacts")
	}

	if _, err := engine.Roster().Refresh(requestContext(c, identity)); err != nil {
		return respondError(c, h.logger, err, "contacts")
	}
	contacts, unread := engine.Roster().Snapshot()
	return utils.SendSuccess(c, "contacts", dto.NewContactListResponse(contacts, unread))
}

func (h *InboxHandler) feed(c *fiber.Ctx, identity session.Identity) error {
	engine, err := h.engine(identity)
	if err != nil {
		return respondError(c, h.logger, err, "feed")
	}

	if raw := c.Query("filter"); raw != "" {
		engine.SetFeedFilter(models.ParseFeedFilter(raw))
	}
	feed := engine.Feed()
	if _, err := feed.Refresh(requestContext(c, identity)); err != nil {
		return respondError(c, h.logger, err, "feed")
	}

	return utils.SendSuccess(c, "feed", dto.FeedListResponse{
		Filter:      feed.Filter(),
		Items:       feed.Filtered(),
		UnreadCount: feed.UnreadCount(),
	})
}

func (h *InboxHandler) markRead(c *fiber.Ctx, identity session.Identity) error {
	key, ok := parseFeedKey(c)
	if !ok {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid feed item")
	}
	engine, err := h.engine(identity)
	if err != nil {
		return respondError(c, h.logger, err, "feed_mark_read")
	}

	if err := engine.MarkRead(requestContext(c, identity), key); err != nil {
		return respondError(c, h.logger, err, "feed_mark_read")
	}
	return utils.SendSuccess(c, "feed item marked as read", fiber.Map{"unread_count": engine.Feed().UnreadCount()})
}

func (h *InboxHandler) markAllRead(c *fiber.Ctx, identity session.Identity) error {
	engine, err := h.engine(identity)
	if err != nil {
		return respondError(c, h.logger, err, "feed_mark_all_read")
	}

	result, err := engine.MarkAllRead(requestContext(c, identity))
	if err != nil {
		return respondError(c, h.logger, err, "feed_mark_all_read")
	}
	if len(result.Failed) > 0 {
		return utils.Fail(c, fiber.StatusMultiStatus, "some items could not be marked as read", result)
	}
	return utils.SendSuccess(c, "feed marked as read", result)
}

func (h *InboxHandler) updateReply(c *fiber.Ctx, identity session.Identity) error {
	key, ok := parseFeedKey(c)
	if !ok {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid feed item")
	}

	var payload dto.FeedReplyUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return respondError(c, h.logger, err, "feed_reply_update")
	}

	engine, err := h.engine(identity)
	if err != nil {
		return respondError(c, h.logger, err, "feed_reply_update")
	}
	feed := engine.Feed()
	if payload.Open != nil {
		if err := feed.ToggleReply(key, *payload.Open); err != nil {
			return respondError(c, h.logger, err, "feed_reply_update")
		}
	}
	if payload.Content != nil {
		if err := feed.SetReplyDraft(key, *payload.Content); err != nil {
			return respondError(c, h.logger, err, "feed_reply_update")
		}
	}

	entry, _ := findEntry(feed.Entries(), key)
	return utils.SendSuccess(c, "reply updated", entry)
}

func (h *InboxHandler) submitReply(c *fiber.Ctx, identity session.Identity) error {
	key, ok := parseFeedKey(c)
	if !ok {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid feed item")
	}

	var payload dto.FeedReplyUpdateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
		}
		if err := h.validator.Struct(payload); err != nil {
			return respondError(c, h.logger, err, "feed_reply_submit")
		}
	}

	engine, err := h.engine(identity)
	if err != nil {
		return respondError(c, h.logger, err, "feed_reply_submit")
	}
	feed := engine.Feed()
	if payload.Content != nil {
		if err := feed.SetReplyDraft(key, *payload.Content); err != nil {
			return respondError(c, h.logger, err, "feed_reply_submit")
		}
	}

	created, err := feed.SubmitReply(requestContext(c, identity), key)
	if err != nil {
		return respondError(c, h.logger, err, "feed_reply_submit")
	}
	if created.CommentID.IsZero() {
		return utils.SendSuccess(c, "nothing to send", nil)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "reply posted", created)
}

func (h *InboxHandler) switchTab(c *fiber.Ctx, identity session.Identity) error {
	var payload dto.InboxTabRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return respondError(c, h.logger, err, "switch_tab")
	}

	engine, err := h.engine(identity)
	if err != nil {
		return respondError(c, h.logger, err, "switch_tab")
	}
	if payload.Filter != "" {
		engine.SetFeedFilter(models.ParseFeedFilter(payload.Filter))
	}
	if err := engine.SwitchTab(models.ParseInboxTab(payload.Tab)); err != nil {
		return respondError(c, h.logger, err, "switch_tab")
	}
	return utils.SendSuccess(c, "tab switched", engine.Snapshot())
}

func (h *InboxHandler) openConversation(c *fiber.Ctx, identity session.Identity) error {
	key, ok := parseContactKey(c)
	if !ok {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid contact")
	}
	engine, err := h.engine(identity)
	if err != nil {
		return respondError(c, h.logger, err, "open_conversation")
	}

	view, err := engine.OpenConversation(requestContext(c, identity), key)
	if err != nil {
		return respondError(c, h.logger, err, "open_conversation")
	}
	return utils.SendSuccess(c, "conversation opened", view)
}

func (h *InboxHandler) closeConversation(c *fiber.Ctx, identity session.Identity) error {
	engine, ok := h.registry.Lookup(identity)
	if ok {
		engine.CloseConversation()
	}
	return utils.SendSuccess(c, "conversation closed", nil)
}

func (h *InboxHandler) send(c *fiber.Ctx, identity session.Identity) error {
	var payload dto.ChatSendRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	if err := h.validator.Struct(payload); err != nil {
		return respondError(c, h.logger, err, "chat_send")
	}

	engine, err := h.engine(identity)
	if err != nil {
		return respondError(c, h.logger, err, "chat_send")
	}
	message, err := engine.Send(requestContext(c, identity), payload.Content)
	if err != nil {
		return respondError(c, h.logger, err, "chat_send")
	}
	if message == nil {
		return utils.SendSuccess(c, "nothing to send", nil)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "message sent", message)
}

func (h *InboxHandler) closeSession(c *fiber.Ctx, identity session.Identity) error {
	released := h.registry.Release(identity)
	return utils.SendSuccess(c, "inbox closed", fiber.Map{"released": released})
}

func (h *InboxHandler) stream(c *fiber.Ctx, identity session.Identity) error {
	engine, err := h.engine(identity)
	if err != nil {
		return respondError(c, h.logger, err, "stream")
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ctx, cancel := context.WithCancel(requestContext(c, identity))
	events, cleanup := h.broker.Subscribe(identity.Key(), "sse")
	log := requestLogger(h.logger, c).With().Str("user", identity.Key()).Logger()
	initial := engine.Snapshot()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			cleanup()
			cancel()
		}()

		if err := writeStreamEvent(w, "snapshot", initial); err != nil {
			log.Debug().Err(err).Msg("failed to write inbox snapshot")
			return
		}

		ticker := time.NewTicker(h.cfg.KeepAlive)
		defer ticker.Stop()

		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				message := h.streamMessage(identity, event)
				if err := writeStreamEvent(w, string(event.Kind), message); err != nil {
					log.Debug().Err(err).Msg("failed to write inbox event")
					return
				}
				if event.Kind == dto.InboxEventClosed {
					return
				}
			case <-ticker.C:
				h.registry.Lookup(identity)
				if err := writeKeepAlive(w); err != nil {
					log.Debug().Err(err).Msg("failed to write inbox keepalive")
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}

func (h *InboxHandler) handleConnection(conn *websocket.Conn) {
	identity, ok := conn.Locals("identity").(session.Identity)
	if !ok || !identity.Valid() {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication required"))
		_ = conn.Close()
		return
	}

	engine, err := h.registry.Acquire(identity)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		_ = conn.Close()
		return
	}

	log := h.logger.With().Str("user", identity.Key()).Logger()
	log.Info().Msg("inbox websocket connected")
	defer log.Info().Msg("inbox websocket disconnected")

	events, cleanup := h.broker.Subscribe(identity.Key(), "websocket")
	defer cleanup()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snapshot := engine.Snapshot()
	if err := writeSocketMessage(conn, dto.InboxStreamMessage{Snapshot: &snapshot}); err != nil {
		log.Debug().Err(err).Msg("failed to write inbox snapshot")
		return
	}

	ticker := time.NewTicker(h.cfg.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeSocketMessage(conn, h.streamMessage(identity, event)); err != nil {
				log.Debug().Err(err).Msg("failed to write inbox event")
				return
			}
			if event.Kind == dto.InboxEventClosed {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "inbox closed"))
				return
			}
		case <-ticker.C:
			h.registry.Lookup(identity)
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// streamMessage pairs an event with the state after it. Closed inboxes carry no snapshot.
func (h *InboxHandler) streamMessage(identity session.Identity, event dto.InboxEvent) dto.InboxStreamMessage {
	message := dto.InboxStreamMessage{Event: event}
	if event.Kind == dto.InboxEventClosed {
		return message
	}
	if engine, ok := h.registry.Lookup(identity); ok {
		snapshot := engine.Snapshot()
		message.Snapshot = &snapshot
	}
	return message
}

func findEntry(entries []models.FeedEntry, key models.FeedItemKey) (models.FeedEntry, bool) {
	for _, entry := range entries {
		if entry.Key() == key {
			return entry, true
		}
	}
	return models.FeedEntry{}, false
}

func writeStreamEvent(w *bufio.Writer, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}

func writeKeepAlive(w *bufio.Writer) error {
	if _, err := fmt.Fprintf(w, ": keep-alive %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return w.Flush()
}

func writeSocketMessage(conn *websocket.Conn, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
