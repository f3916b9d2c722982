package service

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/captured-thinkings/internal/apperror"
	"github.com/sakif/captured-thinkings/internal/model"
	"github.com/sakif/captured-thinkings/internal/repository"
	"github.com/sakif/captured-thinkings/internal/validation"
)

// PoemService owns the poems relation: CRUD, the featured cap and the
// joined read that clients consume.
type PoemService struct {
	poems    repository.PoemRepository
	likes    repository.LikeRepository
	comments repository.CommentRepository
	pub      Publisher
	logger   *slog.Logger
}

func NewPoemService(
	poems repository.PoemRepository,
	likes repository.LikeRepository,
	comments repository.CommentRepository,
	pub Publisher,
	logger *slog.Logger,
) *PoemService {
	return &PoemService{
		poems:    poems,
		likes:    likes,
		comments: comments,
		pub:      pub,
		logger:   logger,
	}
}

// ListJoined returns poems newest first, each joined with its like and
// comment rows. Likes and comments are loaded concurrently.
func (s *PoemService) ListJoined(ctx context.Context, listedOnly bool) ([]model.PoemRecord, error) {
	rows, err := s.poems.ListPoems(ctx, repository.ListOptions{ListedOnly: listedOnly})
	if err != nil {
		return nil, err
	}
	return s.join(ctx, rows)
}

// Get returns one poem joined with its interactions.
func (s *PoemService) Get(ctx context.Context, id string) (*model.PoemRecord, error) {
	row, err := s.poems.GetPoem(ctx, id)
	if err != nil {
		return nil, err
	}
	records, err := s.join(ctx, []model.PoemRow{*row})
	if err != nil {
		return nil, err
	}
	return &records[0], nil
}

func (s *PoemService) join(ctx context.Context, rows []model.PoemRow) ([]model.PoemRecord, error) {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}

	var (
		likes    []model.Like
		comments []model.Comment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		likes, err = s.likes.ListLikes(gctx, ids)
		return err
	})
	g.Go(func() error {
		var err error
		comments, err = s.comments.ListComments(gctx, ids)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	likesByPoem := make(map[string][]model.Like, len(rows))
	for _, l := range likes {
		likesByPoem[l.PoemID] = append(likesByPoem[l.PoemID], l)
	}
	commentsByPoem := make(map[string][]model.Comment, len(rows))
	for _, c := range comments {
		commentsByPoem[c.PoemID] = append(commentsByPoem[c.PoemID], c)
	}

	records := make([]model.PoemRecord, len(rows))
	for i, r := range rows {
		records[i] = model.PoemRecord{
			PoemRow:  r,
			Likes:    nonNil(likesByPoem[r.ID]),
			Comments: nonNil(commentsByPoem[r.ID]),
		}
	}
	return records, nil
}

// nonNil keeps empty relations as [] rather than null on the wire.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Create validates and stores a new poem owned by userID. New poems are
// never featured.
func (s *PoemService) Create(ctx context.Context, userID string, in model.PoemInput) (*model.PoemRow, error) {
	in = in.Normalize()
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	row := &model.PoemRow{UserID: userID}
	in.Patch().Apply(row)

	if err := s.poems.CreatePoem(ctx, row); err != nil {
		return nil, err
	}

	s.logger.Info("poem created", "id", row.ID, "language", row.Language, "listed", row.IsListed)
	publish(ctx, s.pub, s.logger, model.RelationPoems, model.ChangeInsert, row)
	return row, nil
}

// Update applies a partial update.
//
// Featuring goes through PoemRepository.SetFeatured so the cap is checked
// atomically; it runs first so a rejected feature leaves the row untouched.
func (s *PoemService) Update(ctx context.Context, id string, patch model.PoemPatch) (*model.PoemRow, error) {
	if patch.Empty() {
		return nil, apperror.ValidationFailed("body", "nothing to update")
	}

	row, err := s.poems.GetPoem(ctx, id)
	if err != nil {
		return nil, err
	}

	featured := patch.IsFeatured
	patch.IsFeatured = nil

	if !patch.Empty() {
		patch.Apply(row)
		in := inputFromRow(row).Normalize()
		if err := validation.Struct(in); err != nil {
			return nil, err
		}
		in.Patch().Apply(row)
	}

	if featured != nil && *featured != row.IsFeatured {
		if err := s.poems.SetFeatured(ctx, id, *featured, model.MaxFeatured); err != nil {
			return nil, err
		}
		row.IsFeatured = *featured
	}

	if !patch.Empty() {
		if err := s.poems.UpdatePoem(ctx, row); err != nil {
			return nil, err
		}
	}

	s.logger.Info("poem updated", "id", id)
	publish(ctx, s.pub, s.logger, model.RelationPoems, model.ChangeUpdate, row)
	return row, nil
}

// inputFromRow rebuilds the validated payload from a patched row.
func inputFromRow(row *model.PoemRow) model.PoemInput {
	in := model.PoemInput{
		Title:      row.Title,
		Content:    row.Content,
		CoverImage: row.CoverImage,
		Language:   row.Language,
		IsListed:   row.IsListed,
	}
	if row.Subtitle != nil {
		in.Subtitle = *row.Subtitle
	}
	return in
}

// Delete removes a poem and, with it, its likes and comments.
func (s *PoemService) Delete(ctx context.Context, id string) error {
	if err := s.poems.DeletePoem(ctx, id); err != nil {
		return err
	}
	s.logger.Info("poem deleted", "id", id)
	publish(ctx, s.pub, s.logger, model.RelationPoems, model.ChangeDelete, map[string]string{"id": id})
	return nil
}

// Count returns the number of stored poems.
func (s *PoemService) Count(ctx context.Context) (int, error) {
	return s.poems.CountPoems(ctx)
}
