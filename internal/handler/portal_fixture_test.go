package handler_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-inbox/internal/middleware"
	"github.com/noah-isme/gema-inbox/internal/models"
	"github.com/noah-isme/gema-inbox/internal/session"
	"github.com/noah-isme/gema-inbox/pkg/portalapi"
)

var (
	teacher = session.Identity{UserID: "9", UserType: models.UserTypeTeacher, UserName: "Budi", Token: "tok"}
	student = session.Identity{UserID: "3", UserType: models.UserTypeStudent, UserName: "Ana", Token: "tok-3"}
)

// portalResponses is a small but complete portal for one teacher and one student.
func portalResponses() map[string]string {
	return map[string]string{
		"GET /chat/active-contacts/TEACHER/9": `{"code":200,"data":[{"contactId":3,"contactType":"STUDENT","contactName":"Ana","courseName":"Algebra"}]}`,
		"GET /chat/contacts/TEACHER/9":        `{"code":200,"data":[{"contactId":3,"contactType":"student","contactName":"Ana","lastMessage":"hi","lastTime":"2024-03-01 10:00:00","unreadCount":2}]}`,
		"GET /chat/unread-count/TEACHER/9":    `{"code":200,"data":2}`,
		"GET /chat/history":                   `{"code":200,"data":[{"id":1,"senderId":3,"senderType":"STUDENT","receiverId":9,"receiverType":"TEACHER","content":"hi","createTime":"2024-03-01 10:00:00"}]}`,
		"POST /chat/read":                     `{"code":200,"data":true}`,
		"POST /chat/send":                     `{"code":200,"data":{"id":900,"senderId":9,"senderType":"TEACHER","receiverId":3,"receiverType":"STUDENT","content":"hello","createTime":"2024-03-01 10:05:00"}}`,
		"GET /message/list":                   `{"code":200,"data":{"records":[{"id":5,"senderId":3,"senderType":"STUDENT","senderName":"Ana","title":"New reply","content":"see my answer","isRead":0,"relatedId":40,"courseId":8,"createTime":"2024-03-01 09:00:00"}],"total":1}}`,
		"POST /message/read/5":                `{"code":200,"data":true}`,
		"GET /message/unread-count":           `{"code":200,"data":1}`,
		"GET /notification/teacher":           `{"code":200,"data":[{"id":1,"title":"Exam moved","content":"Friday","createTime":"2024-03-01 08:00:00"}]}`,
		"GET /notification/student":           `{"code":200,"data":[]}`,
		"GET /chat/active-contacts/STUDENT/3":  `{"code":200,"data":[]}`,
		"GET /chat/contacts/STUDENT/3":         `{"code":200,"data":[]}`,
		"GET /chat/unread-count/STUDENT/3":     `{"code":200,"data":0}`,
		"GET /course/comment/course/8":         `{"code":200,"data":[{"id":11,"content":"root","courseId":8,"userId":3,"userType":"STUDENT","parentId":0},{"commentId":12,"content":"reply","courseId":8,"userId":9,"userType":"TEACHER","parentId":11}]}`,
		"POST /course/comment":                `{"code":200,"data":{"id":70,"content":"thanks","courseId":8,"parentId":40,"userId":9,"userType":"TEACHER"}}`,
		"DELETE /course/comment/12":           `{"code":200,"data":true}`,
	}
}

type fakePortal struct {
	mu        sync.Mutex
	responses map[string]string
	calls     map[string]int
}

func newFakePortal(t *testing.T, responses map[string]string) (*fakePortal, *portalapi.Client) {
	t.Helper()
	portal := &fakePortal{responses: responses, calls: make(map[string]int)}
	server := httptest.NewServer(http.HandlerFunc(portal.serve))
	t.Cleanup(server.Close)

	client, err := portalapi.NewClient(portalapi.Config{BaseURL: server.URL, Timeout: time.Second, Logger: zerolog.New(io.Discard)})
	require.NoError(t, err)
	return portal, client
}

func (p *fakePortal) serve(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path

	p.mu.Lock()
	p.calls[key]++
	response, ok := p.responses[key]
	p.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_, _ = io.WriteString(w, response)
}

func (p *fakePortal) set(key, response string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses[key] = response
}

func (p *fakePortal) called(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[key]
}

// asUser binds identity the way JWTProtected would.
func asUser(identity session.Identity) fiber.Handler {
	return func(c *fiber.Ctx) error {
		middleware.ContextWithIdentity(c, identity)
		return c.Next()
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Details json.RawMessage `json:"details"`
}

func doRequest(t *testing.T, app *fiber.App, method, target string, body interface{}) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func decodeData(t *testing.T, response envelope, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(response.Data, target))
}
