package service

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/gema-inbox/internal/dto"
	"github.com/noah-isme/gema-inbox/internal/models"
	"github.com/noah-isme/gema-inbox/internal/observability"
	"github.com/noah-isme/gema-inbox/internal/repository"
	"github.com/noah-isme/gema-inbox/internal/session"
)

// Older portal builds omit messageType and mark system messages in the title instead.
const systemTitleMarker = "系统通知"

const markAllReadConcurrency = 4

const (
	actionTextSystem = "View details"
	actionTextReply  = "Reply"
	actionTextView   = "View"
)

// FeedConfig tunes the feed fetch.
type FeedConfig struct {
	Page     int
	PageSize int
}

// NotificationFeed merges personal messages and broadcasts into one read-tracked list.
type NotificationFeed struct {
	session    *session.Session
	messages   repository.MessageRepository
	broadcasts repository.NotificationRepository
	comments   CommentService
	notify     Notifier
	cfg        FeedConfig
	logger     zerolog.Logger
	tracer     trace.Tracer

	mu     sync.RWMutex
	items  []models.NotificationItem
	loaded bool
	ui     map[models.FeedItemKey]models.ReplyState
	filter models.FeedFilter
	unread int
}

// NewNotificationFeed constructs a feed for sess. comments may be nil when inline replies are not offered.
func NewNotificationFeed(sess *session.Session, messages repository.MessageRepository, broadcasts repository.NotificationRepository, comments CommentService, notify Notifier, cfg FeedConfig, logger zerolog.Logger) *NotificationFeed {
	if cfg.Page <= 0 {
		cfg.Page = 1
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	return &NotificationFeed{
		session:    sess,
		messages:   messages,
		broadcasts: broadcasts,
		comments:   comments,
		notify:     notify,
		cfg:        cfg,
		logger:     logger.With().Str("component", "notification_feed").Str("user", sess.Identity().Key()).Logger(),
		tracer:     otel.Tracer("github.com/noah-isme/gema-inbox/internal/service/feed"),
		items:      []models.NotificationItem{},
		ui:         make(map[models.FeedItemKey]models.ReplyState),
		filter:     models.FeedFilterAll,
	}
}

// Refresh fetches both sources concurrently and replaces the snapshot. Reply state is carried
// across by (id, source). When either source fails nothing changes.
func (f *NotificationFeed) Refresh(ctx context.Context) ([]models.FeedEntry, error) {
	identity := f.session.Identity()
	ctx, span := f.tracer.Start(f.session.Context(ctx), "feed.refresh", trace.WithAttributes(
		attribute.String("user.key", identity.Key()),
	))
	defer span.End()

	var (
		messages   []models.Message
		broadcasts []models.Notification
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		messages, _, err = f.messages.List(groupCtx, identity.Ref(), f.cfg.Page, f.cfg.PageSize)
		return err
	})
	group.Go(func() error {
		var err error
		broadcasts, err = f.broadcasts.ListBroadcasts(groupCtx, identity.UserType, f.cfg.Page, f.cfg.PageSize)
		return err
	})
	if err := group.Wait(); err != nil {
		span.RecordError(err)
		f.logger.Warn().Err(err).Msg("feed refresh failed, keeping previous feed")
		return f.Entries(), err
	}

	items := MergeFeed(messages, broadcasts)
	if !f.session.Active() {
		return joinReplyState(items, nil), nil
	}

	f.mu.Lock()
	changed := !f.loaded || !slices.EqualFunc(f.items, items, models.NotificationItem.Same)
	f.items = items
	f.loaded = true
	f.ui = carryReplyState(f.ui, items)
	entries := joinReplyState(f.items, f.ui)
	f.mu.Unlock()

	if changed {
		f.notify.notify(dto.InboxEventFeed)
	}
	return entries, nil
}

// RefreshUnreadCount reloads the personal message unread counter.
func (f *NotificationFeed) RefreshUnreadCount(ctx context.Context) (int, error) {
	count, err := f.messages.UnreadCount(f.session.Context(ctx), f.session.Identity().Ref())
	if err != nil {
		return f.UnreadCount(), err
	}
	if count < 0 {
		count = 0
	}
	if !f.session.Active() {
		return count, nil
	}

	f.mu.Lock()
	changed := f.unread != count
	f.unread = count
	f.mu.Unlock()

	if changed {
		f.notify.notify(dto.InboxEventUnread)
	}
	return count, nil
}

// MarkRead marks one personal message. The local flip happens only after the portal accepted it.
func (f *NotificationFeed) MarkRead(ctx context.Context, key models.FeedItemKey) error {
	if key.Source != models.FeedSourceMessage {
		return ErrFeedItemNotMarkable
	}

	item, ok := f.find(key)
	if !ok {
		return ErrFeedItemNotFound
	}
	if item.IsRead {
		return nil
	}

	ctx, span := f.tracer.Start(f.session.Context(ctx), "feed.mark_read", trace.WithAttributes(
		attribute.String("feed.item_id", key.ID.String()),
	))
	defer span.End()

	if err := f.messages.MarkRead(ctx, key.ID); err != nil {
		span.RecordError(err)
		observability.FeedMarkRead().WithLabelValues("error").Inc()
		return err
	}
	observability.FeedMarkRead().WithLabelValues("ok").Inc()

	if !f.session.Active() {
		return nil
	}

	f.mu.Lock()
	changed := false
	for i := range f.items {
		if f.items[i].Key() == key && !f.items[i].IsRead {
			f.items[i].IsRead = true
			if f.unread > 0 {
				f.unread--
			}
			changed = true
		}
	}
	f.mu.Unlock()

	if changed {
		f.notify.notify(dto.InboxEventFeed)
	}
	return nil
}

// MarkAllRead marks every unread personal message visible under the current filter. Each item
// flips independently; failures are joined into the returned error and listed in the response.
func (f *NotificationFeed) MarkAllRead(ctx context.Context) (dto.MarkAllReadResponse, error) {
	f.mu.RLock()
	targets := make([]models.FeedItemKey, 0)
	for _, item := range f.items {
		if item.Source == models.FeedSourceMessage && !item.IsRead && f.filter.Matches(item) {
			targets = append(targets, item.Key())
		}
	}
	f.mu.RUnlock()

	var (
		group  errgroup.Group
		mu     sync.Mutex
		failed []models.FeedItemKey
		errs   []error
	)
	group.SetLimit(markAllReadConcurrency)
	for _, key := range targets {
		key := key
		group.Go(func() error {
			if err := f.MarkRead(ctx, key); err != nil {
				mu.Lock()
				failed = append(failed, key)
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()

	sort.Slice(failed, func(i, j int) bool { return idLess(failed[i].ID, failed[j].ID) })
	response := dto.MarkAllReadResponse{Marked: len(targets) - len(failed), Failed: failed}
	if len(errs) > 0 {
		f.logger.Warn().Int("failed", len(errs)).Int("attempted", len(targets)).Msg("mark all read partially failed")
	}
	return response, errors.Join(errs...)
}

// SetFilter changes the visible subset.
func (f *NotificationFeed) SetFilter(filter models.FeedFilter) {
	f.mu.Lock()
	changed := f.filter != filter
	f.filter = filter
	f.mu.Unlock()

	if changed {
		f.notify.notify(dto.InboxEventFeed)
	}
}

// Filter returns the active filter.
func (f *NotificationFeed) Filter() models.FeedFilter {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.filter
}

// Entries returns every entry joined with its reply state.
func (f *NotificationFeed) Entries() []models.FeedEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return joinReplyState(f.items, f.ui)
}

// Filtered returns the entries visible under the active filter.
func (f *NotificationFeed) Filtered() []models.FeedEntry {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries := make([]models.FeedEntry, 0, len(f.items))
	for _, item := range f.items {
		if f.filter.Matches(item) {
			entries = append(entries, models.FeedEntry{NotificationItem: item, ReplyState: f.ui[item.Key()]})
		}
	}
	return entries
}

// UnreadCount returns the personal message unread counter.
func (f *NotificationFeed) UnreadCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.unread
}

// ToggleReply opens or closes the inline reply box of one item.
func (f *NotificationFeed) ToggleReply(key models.FeedItemKey, open bool) error {
	return f.updateReplyState(key, func(state *models.ReplyState) {
		state.ShowReply = open
	})
}

// SetReplyDraft replaces the reply draft of one item.
func (f *NotificationFeed) SetReplyDraft(key models.FeedItemKey, content string) error {
	return f.updateReplyState(key, func(state *models.ReplyState) {
		state.ReplyContent = content
	})
}

// SubmitReply posts the item's draft as a reply to the comment it references. A blank draft is a
// no-op. The draft survives a failed submit.
func (f *NotificationFeed) SubmitReply(ctx context.Context, key models.FeedItemKey) (models.Comment, error) {
	if f.comments == nil {
		return models.Comment{}, ErrNoReplyTarget
	}

	f.mu.RLock()
	item, ok := f.findLocked(key)
	draft := f.ui[key].ReplyContent
	f.mu.RUnlock()
	if !ok {
		return models.Comment{}, ErrFeedItemNotFound
	}
	if item.RelatedID.IsZero() {
		return models.Comment{}, ErrNoReplyTarget
	}
	if strings.TrimSpace(draft) == "" {
		return models.Comment{}, nil
	}

	created, err := f.comments.Submit(f.session.Context(ctx), f.session.Identity(), dto.CommentCreateRequest{
		CourseID:       item.CourseID,
		ParentID:       item.RelatedID,
		TargetUserID:   item.SenderID,
		TargetUserName: item.SenderName,
		Content:        draft,
	})
	if err != nil {
		return models.Comment{}, err
	}

	_ = f.updateReplyState(key, func(state *models.ReplyState) {
		if state.ReplyContent == draft {
			state.ReplyContent = ""
		}
		state.ShowReply = false
	})
	return created, nil
}

func (f *NotificationFeed) updateReplyState(key models.FeedItemKey, apply func(state *models.ReplyState)) error {
	f.mu.Lock()
	if _, ok := f.findLocked(key); !ok {
		f.mu.Unlock()
		return ErrFeedItemNotFound
	}
	state := f.ui[key]
	apply(&state)
	if state == (models.ReplyState{}) {
		delete(f.ui, key)
	} else {
		f.ui[key] = state
	}
	f.mu.Unlock()

	f.notify.notify(dto.InboxEventFeed)
	return nil
}

func (f *NotificationFeed) find(key models.FeedItemKey) (models.NotificationItem, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.findLocked(key)
}

func (f *NotificationFeed) findLocked(key models.FeedItemKey) (models.NotificationItem, bool) {
	for _, item := range f.items {
		if item.Key() == key {
			return item, true
		}
	}
	return models.NotificationItem{}, false
}

// MergeFeed normalises both sources into one list sorted by time descending. Ties put personal
// messages before broadcasts, then the larger id first. Repeated (id, source) keys keep the last record.
func MergeFeed(messages []models.Message, broadcasts []models.Notification) []models.NotificationItem {
	items := make([]models.NotificationItem, 0, len(messages)+len(broadcasts))
	index := make(map[models.FeedItemKey]int, cap(items))
	add := func(item models.NotificationItem) {
		if position, dup := index[item.Key()]; dup {
			items[position] = item
			return
		}
		index[item.Key()] = len(items)
		items = append(items, item)
	}

	for _, message := range messages {
		add(normalizeMessage(message))
	}
	for _, broadcast := range broadcasts {
		add(normalizeBroadcast(broadcast))
	}

	sort.SliceStable(items, func(i, j int) bool {
		left, right := items[i], items[j]
		if !left.Time.Equal(right.Time) {
			return left.Time.After(right.Time)
		}
		if left.Source != right.Source {
			return left.Source == models.FeedSourceMessage
		}
		return idLess(right.ID, left.ID)
	})
	return items
}

func normalizeMessage(message models.Message) models.NotificationItem {
	itemType := classifyMessage(message)
	return models.NotificationItem{
		ID:         message.ID,
		Source:     models.FeedSourceMessage,
		Type:       itemType,
		SenderID:   message.SenderID,
		SenderType: message.SenderType,
		SenderName: message.SenderName,
		Title:      message.Title,
		Content:    message.Content,
		Time:       message.CreateTime.Time,
		IsRead:     bool(message.IsRead),
		ActionText: actionText(message.ActionText, itemType, message.RelatedID),
		RelatedID:  message.RelatedID,
		CourseID:   message.CourseID,
	}
}

func normalizeBroadcast(broadcast models.Notification) models.NotificationItem {
	return models.NotificationItem{
		ID:         broadcast.ID,
		Source:     models.FeedSourceNotification,
		Type:       models.FeedItemSystem,
		SenderName: broadcast.PublisherName,
		Title:      broadcast.Title,
		Content:    broadcast.Content,
		Time:       broadcast.CreateTime.Time,
		IsRead:     true,
		ActionText: actionTextSystem,
		CourseID:   broadcast.CourseID,
	}
}

func classifyMessage(message models.Message) models.FeedItemType {
	switch strings.ToUpper(strings.TrimSpace(message.MessageType)) {
	case "":
		if strings.Contains(message.Title, systemTitleMarker) {
			return models.FeedItemSystem
		}
		return models.FeedItemInteraction
	case string(models.FeedItemSystem):
		return models.FeedItemSystem
	default:
		return models.FeedItemInteraction
	}
}

func actionText(server string, itemType models.FeedItemType, relatedID models.ID) string {
	if text := strings.TrimSpace(server); text != "" {
		return text
	}
	switch {
	case itemType == models.FeedItemSystem:
		return actionTextSystem
	case !relatedID.IsZero():
		return actionTextReply
	default:
		return actionTextView
	}
}

// carryReplyState keeps state for keys still present and drops the rest.
func carryReplyState(previous map[models.FeedItemKey]models.ReplyState, items []models.NotificationItem) map[models.FeedItemKey]models.ReplyState {
	next := make(map[models.FeedItemKey]models.ReplyState, len(previous))
	for _, item := range items {
		if state, ok := previous[item.Key()]; ok {
			next[item.Key()] = state
		}
	}
	return next
}

func joinReplyState(items []models.NotificationItem, ui map[models.FeedItemKey]models.ReplyState) []models.FeedEntry {
	entries := make([]models.FeedEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, models.FeedEntry{NotificationItem: item, ReplyState: ui[item.Key()]})
	}
	return entries
}

// idLess orders numeric ids numerically and everything else lexically after them.
func idLess(left, right models.ID) bool {
	l, lerr := strconv.ParseInt(string(left), 10, 64)
	r, rerr := strconv.ParseInt(string(right), 10, 64)
	switch {
	case lerr == nil && rerr == nil:
		return l < r
	case lerr == nil:
		return true
	case rerr == nil:
		return false
	default:
		return left < right
	}
}
