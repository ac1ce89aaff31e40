package gormstore

import (
	"context"
	"errors"

	"github.com/rs/xid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sakif/civicfix/internal/apperror"
	"github.com/sakif/civicfix/internal/model"
	"github.com/sakif/civicfix/internal/repository"
)

var _ repository.CommentRepository = (*CommentStore)(nil)

type CommentStore struct {
	s *Store
}

func (c *CommentStore) Create(ctx context.Context, comment *model.Comment) error {
	if comment.ID == "" {
		comment.ID = xid.New().String()
	}
	return c.s.run(ctx, "create comment", func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&model.Issue{}).Where("id = ?", comment.IssueID).
				UpdateColumn("comment_count", gorm.Expr("comment_count + 1"))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return apperror.NotFound("issue", comment.IssueID)
			}
			return tx.Omit(clause.Associations).Create(comment).Error
		})
	})
}

func (c *CommentStore) GetByID(ctx context.Context, id string) (*model.Comment, error) {
	var comment model.Comment
	err := c.s.run(ctx, "get comment", func(tx *gorm.DB) error {
		err := tx.First(&comment, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.NotFound("comment", id)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

// ListByIssue returns the issue's comments oldest first, with their authors.
func (c *CommentStore) ListByIssue(ctx context.Context, issueID string, opts repository.ListOptions) (*repository.Page[model.Comment], error) {
	opts = opts.Normalize()
	page := &repository.Page[model.Comment]{Items: []model.Comment{}}

	err := c.s.run(ctx, "list comments", func(tx *gorm.DB) error {
		q := tx.Model(&model.Comment{}).Where("issue_id = ?", issueID)
		if err := q.Count(&page.Total).Error; err != nil {
			return err
		}
		return q.Preload("Author").
			Order("created_at ASC").Order("id ASC").
			Limit(opts.PerPage).Offset(opts.Offset()).
			Find(&page.Items).Error
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (c *CommentStore) Delete(ctx context.Context, comment *model.Comment) error {
	return c.s.run(ctx, "delete comment", func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			res := tx.Delete(&model.Comment{}, "id = ?", comment.ID)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return apperror.NotFound("comment", comment.ID)
			}
			return tx.Model(&model.Issue{}).Where("id = ? AND comment_count > 0", comment.IssueID).
				UpdateColumn("comment_count", gorm.Expr("comment_count - 1")).Error
		})
	})
}
