package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/civicfix/internal/apperror"
	"github.com/sakif/civicfix/internal/events"
	"github.com/sakif/civicfix/internal/model"
	"github.com/sakif/civicfix/internal/repository"
)

const MaxCommentLength = 2000

type CommentService struct {
	comments  repository.CommentRepository
	events    events.Publisher
	sanitizer *Sanitizer
	logger    *slog.Logger
}

func NewCommentService(
	comments repository.CommentRepository,
	publisher events.Publisher,
	sanitizer *Sanitizer,
	logger *slog.Logger,
) *CommentService {
	return &CommentService{
		comments:  comments,
		events:    publisher,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// Add attaches a comment to an issue. A missing issue is ErrNotFound.
func (s *CommentService) Add(ctx context.Context, author *model.User, issueID, content string) (*model.Comment, error) {
	content = s.sanitizer.Text(content)
	if content == "" {
		return nil, apperror.ValidationFailed("content", "comment content is required")
	}
	if len(content) > MaxCommentLength {
		return nil, apperror.ValidationFailed("content",
			fmt.Sprintf("comment must be %d characters or less", MaxCommentLength))
	}

	comment := &model.Comment{
		IssueID: strings.TrimSpace(issueID),
		UserID:  author.ID,
		Content: content,
	}
	if err := s.comments.Create(ctx, comment); err != nil {
		return nil, err
	}
	comment.Author = author

	s.logger.Info("comment added",
		slog.String("id", comment.ID),
		slog.String("issueID", comment.IssueID),
		slog.String("userID", author.ID),
	)
	publish(ctx, s.events, s.logger, events.CommentCreated, comment)
	return comment, nil
}

func (s *CommentService) List(ctx context.Context, issueID string, opts repository.ListOptions) (*repository.Page[model.Comment], error) {
	return s.comments.ListByIssue(ctx, strings.TrimSpace(issueID), opts.Normalize())
}

// Delete removes a comment. Only its author or an admin may do so.
func (s *CommentService) Delete(ctx context.Context, actor *model.User, id string) error {
	comment, err := s.comments.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if !canModify(actor, comment.UserID) {
		return apperror.Forbidden("only the author or an admin can delete this comment")
	}
	if err := s.comments.Delete(ctx, comment); err != nil {
		return err
	}
	s.logger.Info("comment deleted", slog.String("id", comment.ID), slog.String("actorID", actor.ID))
	return nil
}
