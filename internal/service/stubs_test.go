package service

import (
	"context"
	"errors"
	"sync"

	"github.com/noah-isme/gema-inbox/internal/dto"
	"github.com/noah-isme/gema-inbox/internal/models"
)

var errUpstream = errors.New("upstream unavailable")

type stubCommentRepo struct {
	mu        sync.Mutex
	byCourse  map[models.ID][]models.Comment
	byChapter map[models.ID][]models.Comment
	listCalls int
	created   []dto.CommentCreatePayload
	deleted   []models.ID
	createErr error
	deleteErr error
}

func (r *stubCommentRepo) ListByCourse(ctx context.Context, courseID models.ID) ([]models.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	return append([]models.Comment(nil), r.byCourse[courseID]...), nil
}

func (r *stubCommentRepo) ListByChapter(ctx context.Context, chapterID models.ID) ([]models.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	return append([]models.Comment(nil), r.byChapter[chapterID]...), nil
}

func (r *stubCommentRepo) Create(ctx context.Context, payload dto.CommentCreatePayload) (models.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return models.Comment{}, r.createErr
	}
	r.created = append(r.created, payload)
	return models.Comment{
		CommentID: models.ID("c" + models.IDFromUint(uint64(len(r.created)))),
		CourseID:  payload.CourseID,
		ChapterID: payload.ChapterID,
		ParentID:  payload.ParentID,
		UserID:    payload.UserID,
		UserType:  payload.UserType,
		Content:   payload.Content,
	}, nil
}

func (r *stubCommentRepo) Delete(ctx context.Context, commentID models.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	r.deleted = append(r.deleted, commentID)
	return nil
}

type stubChatRepo struct {
	mu sync.Mutex

	active     []models.ActiveContact
	summaries  []models.ChatSummary
	activeErr  error
	summaryErr error

	history    map[models.ID][]models.ChatMessage
	historyErr error
	// historyHook runs before History returns, outside the lock.
	historyHook func(contact models.ContactKey)

	sendErr  error
	sent     []dto.ChatSendPayload
	nextID   uint64
	reads    []dto.ChatReadPayload
	readErr  error
	unread   int
	calls    map[string]int
	blockers map[string]chan struct{}
}

func newStubChatRepo() *stubChatRepo {
	return &stubChatRepo{
		history:  make(map[models.ID][]models.ChatMessage),
		calls:    make(map[string]int),
		blockers: make(map[string]chan struct{}),
		nextID:   1000,
	}
}

func (r *stubChatRepo) enter(name string) {
	r.mu.Lock()
	r.calls[name]++
	block := r.blockers[name]
	r.mu.Unlock()
	if block != nil {
		<-block
	}
}

func (r *stubChatRepo) callCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

func (r *stubChatRepo) Send(ctx context.Context, payload dto.ChatSendPayload) (models.ChatMessage, error) {
	r.enter("send")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return models.ChatMessage{}, r.sendErr
	}
	r.sent = append(r.sent, payload)
	r.nextID++
	message := models.ChatMessage{
		ID:           models.IDFromUint(r.nextID),
		SenderID:     payload.SenderID,
		SenderType:   payload.SenderType,
		ReceiverID:   payload.ReceiverID,
		ReceiverType: payload.ReceiverType,
		Content:      payload.Content,
		MsgType:      payload.MsgType,
		CreateTime:   at(59),
	}
	r.history[payload.ReceiverID] = append(r.history[payload.ReceiverID], message)
	return message, nil
}

func (r *stubChatRepo) History(ctx context.Context, user models.UserRef, contact models.ContactKey) ([]models.ChatMessage, error) {
	r.enter("history")
	r.mu.Lock()
	hook := r.historyHook
	err := r.historyErr
	history := append([]models.ChatMessage(nil), r.history[contact.ID]...)
	r.mu.Unlock()

	if hook != nil {
		hook(contact)
	}
	if err != nil {
		return nil, err
	}
	return history, nil
}

func (r *stubChatRepo) Summaries(ctx context.Context, user models.UserRef) ([]models.ChatSummary, error) {
	r.enter("summaries")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.summaryErr != nil {
		return nil, r.summaryErr
	}
	return append([]models.ChatSummary(nil), r.summaries...), nil
}

func (r *stubChatRepo) ActiveContacts(ctx context.Context, user models.UserRef) ([]models.ActiveContact, error) {
	r.enter("active")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeErr != nil {
		return nil, r.activeErr
	}
	return append([]models.ActiveContact(nil), r.active...), nil
}

func (r *stubChatRepo) MarkRead(ctx context.Context, payload dto.ChatReadPayload) error {
	r.enter("read")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readErr != nil {
		return r.readErr
	}
	r.reads = append(r.reads, payload)
	return nil
}

func (r *stubChatRepo) UnreadCount(ctx context.Context, user models.UserRef) (int, error) {
	r.enter("unread")
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unread, nil
}

type stubMessageRepo struct {
	mu       sync.Mutex
	messages []models.Message
	listErr  error
	failRead map[models.ID]error
	reads    []models.ID
	unread   int
	calls    int
}

func (r *stubMessageRepo) List(ctx context.Context, user models.UserRef, page, size int) ([]models.Message, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.listErr != nil {
		return nil, 0, r.listErr
	}
	return append([]models.Message(nil), r.messages...), int64(len(r.messages)), nil
}

func (r *stubMessageRepo) MarkRead(ctx context.Context, id models.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failRead[id]; err != nil {
		return err
	}
	r.reads = append(r.reads, id)
	for i := range r.messages {
		if r.messages[i].ID == id {
			r.messages[i].IsRead = true
		}
	}
	return nil
}

func (r *stubMessageRepo) UnreadCount(ctx context.Context, user models.UserRef) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unread, nil
}

type stubNotificationRepo struct {
	mu         sync.Mutex
	broadcasts []models.Notification
	err        error
}

func (r *stubNotificationRepo) ListBroadcasts(ctx context.Context, userType models.UserType, page, size int) ([]models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if userType == models.UserTypeAdmin {
		return nil, nil
	}
	return append([]models.Notification(nil), r.broadcasts...), nil
}
