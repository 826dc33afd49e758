package repository

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-inbox/internal/dto"
	"github.com/noah-isme/gema-inbox/internal/models"
	"github.com/noah-isme/gema-inbox/pkg/portalapi"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  map[string]string
	Body   string
}

type fakePortal struct {
	mu        sync.Mutex
	requests  []recordedRequest
	responses map[string]string
}

func newFakePortal(t *testing.T, responses map[string]string) (*fakePortal, *portalapi.Client) {
	t.Helper()
	portal := &fakePortal{responses: responses}
	server := httptest.NewServer(http.HandlerFunc(portal.serve))
	t.Cleanup(server.Close)

	client, err := portalapi.NewClient(portalapi.Config{BaseURL: server.URL, Timeout: time.Second, Logger: zerolog.New(io.Discard)})
	require.NoError(t, err)
	return portal, client
}

func (p *fakePortal) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	query := make(map[string]string)
	for key, values := range r.URL.Query() {
		query[key] = values[0]
	}

	p.mu.Lock()
	p.requests = append(p.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Query: query, Body: string(body)})
	response, ok := p.responses[r.Method+" "+r.URL.Path]
	p.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_, _ = io.WriteString(w, response)
}

func (p *fakePortal) last() recordedRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

func (p *fakePortal) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func TestChatRepositorySummariesProjectsRecords(t *testing.T) {
	portal, client := newFakePortal(t, map[string]string{
		"GET /chat/contacts/TEACHER/9": `{"code":200,"data":[{"contactId":3,"contactType":"student","contactName":"Ana","lastMessage":"hi","lastTime":"2024-03-01 10:00:00","unreadCount":"2"}]}`,
	})
	repo := NewChatRepository(client)

	summaries, err := repo.Summaries(context.Background(), models.UserRef{ID: "9", Type: models.UserTypeTeacher})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, models.ID("3"), summaries[0].ContactID)
	require.Equal(t, models.UserTypeStudent, summaries[0].ContactType)
	require.Equal(t, 2, summaries[0].UnreadCount)
	require.False(t, summaries[0].LastTime.IsZero())
	require.Equal(t, 1, portal.count())
}

func TestChatRepositoryHistoryQuery(t *testing.T) {
	portal, client := newFakePortal(t, map[string]string{
		"GET /chat/history": `{"success":true,"data":{"records":[{"id":"1","senderId":9,"content":"a","createTime":1709287200000},{"id":2,"senderId":3,"content":"b"}]}}`,
	})
	repo := NewChatRepository(client)

	history, err := repo.History(context.Background(), models.UserRef{ID: "9", Type: models.UserTypeTeacher}, models.ContactKey{ID: "3", Type: models.UserTypeStudent})
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, models.ID("1"), history[0].ID)
	require.Equal(t, models.ID("9"), history[0].SenderID)

	request := portal.last()
	require.Equal(t, "9", request.Query["userId"])
	require.Equal(t, "TEACHER", request.Query["userType"])
	require.Equal(t, "3", request.Query["contactId"])
	require.Equal(t, "STUDENT", request.Query["contactType"])
}

func TestChatRepositorySendFallsBackToPayload(t *testing.T) {
	_, client := newFakePortal(t, map[string]string{
		"POST /chat/send": `{"code":200,"message":"sent","data":null}`,
	})
	repo := NewChatRepository(client)

	message, err := repo.Send(context.Background(), dto.ChatSendPayload{SenderID: "9", SenderType: models.UserTypeTeacher, ReceiverID: "3", ReceiverType: models.UserTypeStudent, Content: "hello", MsgType: "TEXT"})
	require.NoError(t, err)
	require.True(t, message.ID.IsZero())
	require.Equal(t, "hello", message.Content)
	require.False(t, message.CreateTime.IsZero())
}

func TestChatRepositoryUnreadCountShapes(t *testing.T) {
	_, client := newFakePortal(t, map[string]string{
		"GET /chat/unread-count/STUDENT/3": `{"code":200,"data":{"count":4}}`,
		"GET /message/unread-count":        `{"code":200,"data":7}`,
	})

	chatUnread, err := NewChatRepository(client).UnreadCount(context.Background(), models.UserRef{ID: "3", Type: models.UserTypeStudent})
	require.NoError(t, err)
	require.Equal(t, 4, chatUnread)

	messageUnread, err := NewMessageRepository(client).UnreadCount(context.Background(), models.UserRef{ID: "3", Type: models.UserTypeStudent})
	require.NoError(t, err)
	require.Equal(t, 7, messageUnread)
}

func TestMessageRepositoryListPaging(t *testing.T) {
	portal, client := newFakePortal(t, map[string]string{
		"GET /message/list": `{"code":200,"data":{"list":[{"id":5,"title":"Reply","isRead":0,"relatedId":40}],"total":12}}`,
	})
	repo := NewMessageRepository(client)

	messages, total, err := repo.List(context.Background(), models.UserRef{ID: "3", Type: models.UserTypeStudent}, 2, 10)
	require.NoError(t, err)
	require.EqualValues(t, 12, total)
	require.Len(t, messages, 1)
	require.False(t, bool(messages[0].IsRead))
	require.Equal(t, models.ID("40"), messages[0].RelatedID)

	request := portal.last()
	require.Equal(t, "2", request.Query["pageNum"])
	require.Equal(t, "10", request.Query["pageSize"])
}

func TestNotificationRepositorySkipsAdmins(t *testing.T) {
	portal, client := newFakePortal(t, map[string]string{
		"GET /notification/teacher": `{"code":200,"data":[{"id":1,"title":"Exam moved"}]}`,
	})
	repo := NewNotificationRepository(client)

	broadcasts, err := repo.ListBroadcasts(context.Background(), models.UserTypeAdmin, 1, 20)
	require.NoError(t, err)
	require.Empty(t, broadcasts)
	require.Equal(t, 0, portal.count())

	broadcasts, err = repo.ListBroadcasts(context.Background(), models.UserTypeTeacher, 1, 20)
	require.NoError(t, err)
	require.Len(t, broadcasts, 1)
	require.Equal(t, "Exam moved", broadcasts[0].Title)
}

func TestCommentRepositoryFallsBackToID(t *testing.T) {
	_, client := newFakePortal(t, map[string]string{
		"GET /course/comment/course/8": `{"code":200,"data":[{"id":11,"content":"root","courseId":8,"parentId":0},{"commentId":12,"content":"reply","courseId":8,"parentId":11}]}`,
		"DELETE /course/comment/12":    `{"code":200,"data":true}`,
	})
	repo := NewCommentRepository(client)

	comments, err := repo.ListByCourse(context.Background(), "8")
	require.NoError(t, err)
	require.Len(t, comments, 2)
	require.Equal(t, models.ID("11"), comments[0].CommentID)
	require.True(t, comments[0].IsRoot())
	require.Equal(t, models.ID("11"), comments[1].ParentID)

	require.NoError(t, repo.Delete(context.Background(), "12"))
}

func TestRepositorySurfacesUpstreamRejection(t *testing.T) {
	_, client := newFakePortal(t, map[string]string{
		"POST /message/read/5": `{"code":403,"message":"forbidden"}`,
	})

	err := NewMessageRepository(client).MarkRead(context.Background(), "5")
	apiErr, ok := portalapi.IsAPIError(err)
	require.True(t, ok)
	require.Equal(t, 403, apiErr.Code)
}
