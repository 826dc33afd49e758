package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
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

// CommentQuery selects a thread list. With only ChapterID set the chapter endpoint is used.
type CommentQuery struct {
	CourseID  models.ID
	ChapterID models.ID
}

// ConfirmFunc asks the user to confirm a destructive action.
type ConfirmFunc func(comment models.Comment) bool

// CommentService exposes course discussion use-cases.
type CommentService interface {
	ListThreads(ctx context.Context, query CommentQuery) ([]models.Comment, error)
	Submit(ctx context.Context, identity session.Identity, payload dto.CommentCreateRequest) (models.Comment, error)
	Delete(ctx context.Context, identity session.Identity, comment models.Comment, courseOwnerID models.ID, confirm ConfirmFunc) error
	DeleteByID(ctx context.Context, identity session.Identity, courseID, commentID, courseOwnerID models.ID, confirm ConfirmFunc) error
}

type commentService struct {
	repo      repository.CommentRepository
	cache     *redis.Client
	ttl       time.Duration
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
	tracer    trace.Tracer
}

// NewCommentService constructs the comment service. cache may be nil.
func NewCommentService(repo repository.CommentRepository, cache *redis.Client, ttl time.Duration, validate *validator.Validate, logger zerolog.Logger) CommentService {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if validate == nil {
		validate = validator.New()
	}

	return &commentService{
		repo:      repo,
		cache:     cache,
		ttl:       ttl,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "comment_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/gema-inbox/internal/service/comment"),
	}
}

func (s *commentService) ListThreads(ctx context.Context, query CommentQuery) ([]models.Comment, error) {
	ctx, span := s.tracer.Start(ctx, "comments.list_threads", trace.WithAttributes(
		attribute.String("comment.course_id", query.CourseID.String()),
		attribute.String("comment.chapter_id", query.ChapterID.String()),
	))
	defer span.End()

	var (
		flat []models.Comment
		err  error
	)
	switch {
	case !query.CourseID.IsZero():
		flat, err = s.loadCourse(ctx, query.CourseID)
	case !query.ChapterID.IsZero():
		flat, err = s.loadChapter(ctx, query.ChapterID)
	default:
		return []models.Comment{}, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return BuildCommentTree(flat, query.ChapterID), nil
}

func (s *commentService) Submit(ctx context.Context, identity session.Identity, payload dto.CommentCreateRequest) (models.Comment, error) {
	if err := s.validator.Struct(payload); err != nil {
		return models.Comment{}, err
	}

	// markup is stored as typed; a comment with no text outside of tags is rejected
	content := strings.TrimSpace(payload.Content)
	if strings.TrimSpace(s.sanitizer.Sanitize(content)) == "" {
		return models.Comment{}, ErrCommentEmpty
	}

	ctx, span := s.tracer.Start(ctx, "comments.submit", trace.WithAttributes(
		attribute.String("comment.course_id", payload.CourseID.String()),
		attribute.Bool("comment.is_reply", !payload.ParentID.IsZero()),
	))
	defer span.End()

	created, err := s.repo.Create(ctx, dto.CommentCreatePayload{
		CourseID:       payload.CourseID,
		ChapterID:      payload.ChapterID,
		UserID:         identity.UserID,
		UserType:       identity.UserType,
		ParentID:       payload.ParentID,
		TargetUserID:   payload.TargetUserID,
		TargetUserName: strings.TrimSpace(payload.TargetUserName),
		Content:        content,
	})
	if err != nil {
		span.RecordError(err)
		return models.Comment{}, err
	}

	if created.Content == "" {
		created.Content = content
	}
	if created.CourseID.IsZero() {
		created.CourseID = payload.CourseID
	}
	if created.ParentID.IsZero() {
		created.ParentID = payload.ParentID
	}

	s.invalidate(ctx, payload.CourseID, payload.ChapterID, created.ChapterID)
	return created, nil
}

// Delete checks permission before confirmation so a forbidden delete never prompts.
func (s *commentService) Delete(ctx context.Context, identity session.Identity, comment models.Comment, courseOwnerID models.ID, confirm ConfirmFunc) error {
	if !canDeleteComment(identity, comment, courseOwnerID) {
		return ErrCommentForbidden
	}

	if confirm != nil && !confirm(comment) {
		s.logger.Debug().Str("comment_id", comment.CommentID.String()).Msg("comment deletion cancelled")
		return ErrActionCancelled
	}

	ctx, span := s.tracer.Start(ctx, "comments.delete", trace.WithAttributes(
		attribute.String("comment.id", comment.CommentID.String()),
	))
	defer span.End()

	if err := s.repo.Delete(ctx, comment.CommentID); err != nil {
		span.RecordError(err)
		return err
	}

	s.invalidate(ctx, comment.CourseID, comment.ChapterID)
	return nil
}

func (s *commentService) DeleteByID(ctx context.Context, identity session.Identity, courseID, commentID, courseOwnerID models.ID, confirm ConfirmFunc) error {
	flat, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return err
	}

	for _, candidate := range flat {
		if candidate.CommentID == commentID {
			if candidate.CourseID.IsZero() {
				candidate.CourseID = courseID
			}
			return s.Delete(ctx, identity, candidate, courseOwnerID, confirm)
		}
	}
	return ErrCommentNotFound
}

func canDeleteComment(identity session.Identity, comment models.Comment, courseOwnerID models.ID) bool {
	switch {
	case identity.UserType == models.UserTypeAdmin:
		return true
	case comment.UserID == identity.UserID && (comment.UserType == "" || comment.UserType == identity.UserType):
		return true
	case !courseOwnerID.IsZero() && courseOwnerID == identity.UserID && identity.UserType == models.UserTypeTeacher:
		return true
	}
	return false
}

func (s *commentService) loadCourse(ctx context.Context, courseID models.ID) ([]models.Comment, error) {
	return s.cached(ctx, "comments:course:"+courseID.String(), func() ([]models.Comment, error) {
		return s.repo.ListByCourse(ctx, courseID)
	})
}

func (s *commentService) loadChapter(ctx context.Context, chapterID models.ID) ([]models.Comment, error) {
	return s.cached(ctx, "comments:chapter:"+chapterID.String(), func() ([]models.Comment, error) {
		return s.repo.ListByChapter(ctx, chapterID)
	})
}

func (s *commentService) cached(ctx context.Context, key string, load func() ([]models.Comment, error)) ([]models.Comment, error) {
	if comments, ok := s.fetchCache(ctx, key); ok {
		observability.CommentCacheRequests().WithLabelValues("hit").Inc()
		return comments, nil
	}

	comments, err := load()
	if err != nil {
		observability.CommentCacheRequests().WithLabelValues("error").Inc()
		return nil, err
	}

	s.writeCache(ctx, key, comments)
	observability.CommentCacheRequests().WithLabelValues("miss").Inc()
	return comments, nil
}

func (s *commentService) fetchCache(ctx context.Context, key string) ([]models.Comment, bool) {
	if s.cache == nil {
		return nil, false
	}
	payload, err := s.cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Str("key", key).Msg("failed to read comment cache")
		}
		return nil, false
	}

	var comments []models.Comment
	if err := json.Unmarshal(payload, &comments); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to decode comment cache")
		return nil, false
	}
	return comments, true
}

func (s *commentService) writeCache(ctx context.Context, key string, comments []models.Comment) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(comments)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode comment cache")
		return
	}
	if err := s.cache.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to store comment cache")
	}
}

func (s *commentService) invalidate(ctx context.Context, courseID models.ID, chapterIDs ...models.ID) {
	if s.cache == nil {
		return
	}
	keys := make([]string, 0, len(chapterIDs)+1)
	if !courseID.IsZero() {
		keys = append(keys, "comments:course:"+courseID.String())
	}
	for _, chapterID := range chapterIDs {
		if !chapterID.IsZero() {
			keys = append(keys, "comments:chapter:"+chapterID.String())
		}
	}
	if len(keys) == 0 {
		return
	}
	if err := s.cache.Del(ctx, keys...).Err(); err != nil {
		s.logger.Warn().Err(err).Strs("keys", keys).Msg("failed to invalidate comment cache")
	}
}
