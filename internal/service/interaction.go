package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sakif/captured-thinkings/internal/apperror"
	"github.com/sakif/captured-thinkings/internal/model"
	"github.com/sakif/captured-thinkings/internal/repository"
)

// InteractionService handles likes and comments.
type InteractionService struct {
	poems    repository.PoemRepository
	likes    repository.LikeRepository
	comments repository.CommentRepository
	pub      Publisher
	logger   *slog.Logger
}

func NewInteractionService(
	poems repository.PoemRepository,
	likes repository.LikeRepository,
	comments repository.CommentRepository,
	pub Publisher,
	logger *slog.Logger,
) *InteractionService {
	return &InteractionService{
		poems:    poems,
		likes:    likes,
		comments: comments,
		pub:      pub,
		logger:   logger,
	}
}

// Like records that userID likes poemID. Liking twice is a no-op.
func (s *InteractionService) Like(ctx context.Context, poemID, userID string) (*model.Like, error) {
	if poemID == "" {
		return nil, apperror.ValidationFailed("poem_id", "poem id is required")
	}
	like := &model.Like{PoemID: poemID, UserID: userID}
	if err := s.likes.InsertLike(ctx, like); err != nil {
		return nil, err
	}
	publish(ctx, s.pub, s.logger, model.RelationLikes, model.ChangeInsert, like)
	return like, nil
}

// Unlike removes the like, if any.
func (s *InteractionService) Unlike(ctx context.Context, poemID, userID string) error {
	if poemID == "" {
		return apperror.ValidationFailed("poem_id", "poem id is required")
	}
	if err := s.likes.DeleteLike(ctx, poemID, userID); err != nil {
		return err
	}
	publish(ctx, s.pub, s.logger, model.RelationLikes, model.ChangeDelete,
		model.Like{PoemID: poemID, UserID: userID})
	return nil
}

// AddComment stores a trimmed, non-empty comment.
func (s *InteractionService) AddComment(ctx context.Context, poemID, userID, content string) (*model.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperror.EmptyContent()
	}
	if poemID == "" {
		return nil, apperror.ValidationFailed("poem_id", "poem id is required")
	}

	c := &model.Comment{PoemID: poemID, UserID: userID, Content: content}
	if err := s.comments.CreateComment(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info("comment added", "id", c.ID, "poem_id", poemID)
	publish(ctx, s.pub, s.logger, model.RelationComments, model.ChangeInsert, c)
	return c, nil
}

// DeleteComment removes a comment. Only its author or the owner of the poem
// it belongs to may delete it.
func (s *InteractionService) DeleteComment(ctx context.Context, commentID, userID string) error {
	c, err := s.comments.GetComment(ctx, commentID)
	if err != nil {
		return err
	}

	if c.UserID != userID {
		poem, err := s.poems.GetPoem(ctx, c.PoemID)
		if err != nil {
			return err
		}
		if poem.UserID != userID {
			return apperror.Forbidden("only the author or the poem owner can delete this comment")
		}
	}

	if err := s.comments.DeleteComment(ctx, commentID); err != nil {
		return err
	}

	s.logger.Info("comment deleted", "id", commentID, "poem_id", c.PoemID)
	publish(ctx, s.pub, s.logger, model.RelationComments, model.ChangeDelete, c)
	return nil
}
