package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-inbox/internal/dto"
	"github.com/noah-isme/gema-inbox/internal/middleware"
	"github.com/noah-isme/gema-inbox/internal/models"
	"github.com/noah-isme/gema-inbox/internal/service"
	"github.com/noah-isme/gema-inbox/internal/session"
	"github.com/noah-isme/gema-inbox/internal/utils"
)

// CommentHandler exposes course discussion threads.
type CommentHandler struct {
	service   service.CommentService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewCommentHandler constructs a comment handler.
func NewCommentHandler(service service.CommentService, validate *validator.Validate, logger zerolog.Logger) *CommentHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &CommentHandler{
		service:   service,
		validator: validate,
		logger:    logger.With().Str("component", "comment_handler").Logger(),
	}
}

// Register binds the comment routes.
func (h *CommentHandler) Register(router fiber.Router) {
	router.Get("/", middleware.WithAuth(h.list, middleware.AuthOptions{}))
	router.Post("/", middleware.WithAuth(h.create, middleware.AuthOptions{}))
	router.Delete("/:id", middleware.WithAuth(h.delete, middleware.AuthOptions{}))
}

func (h *CommentHandler) list(c *fiber.Ctx, identity session.Identity) error {
	var query dto.CommentListQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query")
	}
	if err := h.validator.Struct(query); err != nil {
		return respondError(c, h.logger, err, "comment_list")
	}

	courseID := models.NormalizeID(query.CourseID)
	chapterID := models.NormalizeID(query.ChapterID)
	threads, err := h.service.ListThreads(requestContext(c, identity), service.CommentQuery{
		CourseID:  courseID,
		ChapterID: chapterID,
	})
	if err != nil {
		return respondError(c, h.logger, err, "comment_list")
	}

	return utils.SendSuccess(c, "comments", dto.NewCommentThreadResponse(courseID, chapterID, threads))
}

func (h *CommentHandler) create(c *fiber.Ctx, identity session.Identity) error {
	var payload dto.CommentCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	created, err := h.service.Submit(requestContext(c, identity), identity, payload)
	if err != nil {
		return respondError(c, h.logger, err, "comment_create")
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "comment posted", created)
}

func (h *CommentHandler) delete(c *fiber.Ctx, identity session.Identity) error {
	commentID := models.NormalizeID(c.Params("id"))
	if commentID.IsZero() {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid comment id")
	}

	var query dto.CommentDeleteQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query")
	}
	if err := h.validator.Struct(query); err != nil {
		return respondError(c, h.logger, err, "comment_delete")
	}

	confirmed := query.Confirm
	err := h.service.DeleteByID(
		requestContext(c, identity),
		identity,
		models.NormalizeID(query.CourseID),
		commentID,
		models.NormalizeID(query.CourseOwnerID),
		func(models.Comment) bool { return confirmed },
	)
	if err != nil {
		return respondError(c, h.logger, err, "comment_delete")
	}
	return utils.SendSuccess(c, "comment deleted", nil)
}
