package repository

import (
	"context"
	"fmt"

	"github.com/noah-isme/gema-inbox/internal/dto"
	"github.com/noah-isme/gema-inbox/internal/models"
	"github.com/noah-isme/gema-inbox/pkg/portalapi"
)

// CommentRepository reaches the course discussion endpoints.
type CommentRepository interface {
	ListByCourse(ctx context.Context, courseID models.ID) ([]models.Comment, error)
	ListByChapter(ctx context.Context, chapterID models.ID) ([]models.Comment, error)
	Create(ctx context.Context, payload dto.CommentCreatePayload) (models.Comment, error)
	Delete(ctx context.Context, commentID models.ID) error
}

type commentRepository struct {
	client *portalapi.Client
}

// NewCommentRepository constructs a comment repository backed by the portal API.
func NewCommentRepository(client *portalapi.Client) CommentRepository {
	return &commentRepository{client: client}
}

func (r *commentRepository) ListByCourse(ctx context.Context, courseID models.ID) ([]models.Comment, error) {
	return r.list(ctx, "comment.list_course", fmt.Sprintf("/course/comment/course/%s", courseID))
}

func (r *commentRepository) ListByChapter(ctx context.Context, chapterID models.ID) ([]models.Comment, error) {
	return r.list(ctx, "comment.list_chapter", fmt.Sprintf("/course/comment/chapter/%s", chapterID))
}

func (r *commentRepository) list(ctx context.Context, name, path string) ([]models.Comment, error) {
	result, err := portalapi.Get[portalapi.Page[dto.CommentRecord]](ctx, r.client, portalapi.Request{
		Name: name,
		Path: path,
	})
	if err != nil {
		return nil, err
	}
	return projectComments(result.Data.Items)
}

func (r *commentRepository) Create(ctx context.Context, payload dto.CommentCreatePayload) (models.Comment, error) {
	result, err := portalapi.Post[dto.CommentRecord](ctx, r.client, portalapi.Request{
		Name: "comment.create",
		Path: "/course/comment",
		Body: payload,
	})
	if err != nil {
		return models.Comment{}, err
	}

	comments, err := projectComments([]dto.CommentRecord{result.Data})
	if err != nil {
		return models.Comment{}, err
	}
	return comments[0], nil
}

func (r *commentRepository) Delete(ctx context.Context, commentID models.ID) error {
	_, err := portalapi.Delete[portalapi.Ignored](ctx, r.client, portalapi.Request{
		Name: "comment.delete",
		Path: fmt.Sprintf("/course/comment/%s", commentID),
	})
	return err
}

// Some endpoints name the identifier id instead of commentId.
func projectComments(records []dto.CommentRecord) ([]models.Comment, error) {
	comments, err := project[models.Comment](records)
	if err != nil {
		return nil, err
	}
	for i := range comments {
		if comments[i].CommentID.IsZero() {
			comments[i].CommentID = records[i].ID
		}
	}
	return comments, nil
}
