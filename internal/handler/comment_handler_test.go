package handler_test

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-inbox/internal/dto"
	"github.com/noah-isme/gema-inbox/internal/handler"
	"github.com/noah-isme/gema-inbox/internal/models"
	"github.com/noah-isme/gema-inbox/internal/repository"
	"github.com/noah-isme/gema-inbox/internal/service"
	"github.com/noah-isme/gema-inbox/internal/session"
)

func newCommentApp(t *testing.T, identity session.Identity) (*fiber.App, *fakePortal) {
	t.Helper()
	portal, client := newFakePortal(t, portalResponses())
	logger := zerolog.New(io.Discard)

	comments := service.NewCommentService(repository.NewCommentRepository(client), nil, time.Minute, nil, logger)
	app := fiber.New()
	handler.NewCommentHandler(comments, nil, logger).Register(app.Group("/comments", asUser(identity)))
	return app, portal
}

func TestCommentHandler_ListBuildsThreads(t *testing.T) {
	app, _ := newCommentApp(t, student)

	status, response := doRequest(t, app, http.MethodGet, "/comments?course_id=8", nil)
	require.Equal(t, fiber.StatusOK, status)

	var threads dto.CommentThreadResponse
	decodeData(t, response, &threads)
	require.Equal(t, 2, threads.Total)
	require.Len(t, threads.Threads, 1)
	require.Equal(t, models.ID("11"), threads.Threads[0].CommentID)
	require.Len(t, threads.Threads[0].Replies, 1)
	require.Equal(t, models.ID("12"), threads.Threads[0].Replies[0].CommentID)
}

func TestCommentHandler_ListRequiresScope(t *testing.T) {
	app, _ := newCommentApp(t, student)

	status, response := doRequest(t, app, http.MethodGet, "/comments", nil)
	require.Equal(t, fiber.StatusBadRequest, status)
	require.Contains(t, string(response.Details), "CourseID")
}

func TestCommentHandler_DeleteNeedsConfirmation(t *testing.T) {
	app, portal := newCommentApp(t, teacher)

	status, _ := doRequest(t, app, http.MethodDelete, "/comments/12?course_id=8", nil)
	require.Equal(t, fiber.StatusPreconditionRequired, status)
	require.Zero(t, portal.called("DELETE /course/comment/12"))

	status, _ = doRequest(t, app, http.MethodDelete, "/comments/12?course_id=8&confirm=true", nil)
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, 1, portal.called("DELETE /course/comment/12"))
}

func TestCommentHandler_DeleteChecksPermissionFirst(t *testing.T) {
	app, portal := newCommentApp(t, student)

	status, _ := doRequest(t, app, http.MethodDelete, "/comments/12?course_id=8", nil)
	require.Equal(t, fiber.StatusForbidden, status)

	status, _ = doRequest(t, app, http.MethodDelete, "/comments/99?course_id=8&confirm=true", nil)
	require.Equal(t, fiber.StatusNotFound, status)
	require.Zero(t, portal.called("DELETE /course/comment/12"))
}

func TestCommentHandler_CreateRejectsMarkupOnlyContent(t *testing.T) {
	app, portal := newCommentApp(t, teacher)

	status, _ := doRequest(t, app, http.MethodPost, "/comments", dto.CommentCreateRequest{CourseID: "8", Content: "<script>alert(1)</script>"})
	require.Equal(t, fiber.StatusUnprocessableEntity, status)
	require.Zero(t, portal.called("POST /course/comment"))

	status, response := doRequest(t, app, http.MethodPost, "/comments", dto.CommentCreateRequest{CourseID: "8", ParentID: "40", Content: "thanks"})
	require.Equal(t, fiber.StatusCreated, status)
	var created models.Comment
	decodeData(t, response, &created)
	require.Equal(t, models.ID("70"), created.CommentID)
}

func TestCommentHandler_CreateValidatesPayload(t *testing.T) {
	app, _ := newCommentApp(t, teacher)

	status, response := doRequest(t, app, http.MethodPost, "/comments", dto.CommentCreateRequest{Content: "hello"})
	require.Equal(t, fiber.StatusBadRequest, status)
	require.Contains(t, string(response.Details), "CourseID")
}
