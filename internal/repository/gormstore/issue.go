package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sakif/civicfix/internal/apperror"
	"github.com/sakif/civicfix/internal/model"
	"github.com/sakif/civicfix/internal/repository"
)

var _ repository.IssueRepository = (*IssueStore)(nil)

type IssueStore struct {
	s *Store
}

func (i *IssueStore) Create(ctx context.Context, issue *model.Issue) error {
	if issue.ID == "" {
		issue.ID = xid.New().String()
	}
	if issue.ImageURLs == nil {
		issue.ImageURLs = model.StringList{}
	}
	if issue.Status == "" {
		issue.Status = model.StatusOpen
	}
	if issue.Priority == "" {
		issue.Priority = model.PriorityMedium
	}
	return i.s.run(ctx, "create issue", func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Omit(clause.Associations).Create(issue).Error; err != nil {
				return err
			}
			return tx.Omit(clause.Associations).Create(&model.StatusHistory{
				ID:        xid.New().String(),
				IssueID:   issue.ID,
				NewStatus: issue.Status,
				UpdatedBy: issue.ReporterID,
				Notes:     "Issue reported",
				CreatedAt: issue.CreatedAt,
			}).Error
		})
	})
}

func (i *IssueStore) GetByID(ctx context.Context, id string) (*model.Issue, error) {
	var issue model.Issue
	err := i.s.run(ctx, "get issue", func(tx *gorm.DB) error {
		err := tx.First(&issue, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.NotFound("issue", id)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

// List returns one page of issues, newest first, and the total match count.
func (i *IssueStore) List(ctx context.Context, opts repository.ListOptions) (*repository.Page[model.Issue], error) {
	opts = opts.Normalize()
	page := &repository.Page[model.Issue]{Items: []model.Issue{}}

	err := i.s.run(ctx, "list issues", func(tx *gorm.DB) error {
		q := tx.Model(&model.Issue{})
		if opts.Status != "" {
			q = q.Where("status = ?", opts.Status)
		}
		if opts.Category != "" {
			q = q.Where("category = ?", opts.Category)
		}
		if opts.ReporterID != "" {
			q = q.Where("reporter_id = ?", opts.ReporterID)
		}
		if opts.Search != "" {
			q = q.Where(i.searchClause(), searchArgs(opts.Search)...)
		}
		if err := q.Count(&page.Total).Error; err != nil {
			return err
		}
		return q.Order("created_at DESC").Order("id DESC").
			Limit(opts.PerPage).Offset(opts.Offset()).
			Find(&page.Items).Error
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

var searchColumns = []string{"title", "description", "address"}

// searchClause ORs a case-insensitive substring match over searchColumns.
// Postgres LIKE is case-sensitive, so it gets ILIKE; SQLite's LIKE already
// folds ASCII case.
func (i *IssueStore) searchClause() string {
	op := "LIKE"
	if i.s.Dialect() == "postgres" {
		op = "ILIKE"
	}
	parts := make([]string, len(searchColumns))
	for n, col := range searchColumns {
		parts[n] = fmt.Sprintf(`%s %s ? ESCAPE '\'`, col, op)
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func searchArgs(term string) []any {
	pattern := "%" + likeEscaper.Replace(term) + "%"
	args := make([]any, len(searchColumns))
	for n := range args {
		args[n] = pattern
	}
	return args
}

func (i *IssueStore) Nearby(ctx context.Context, box repository.GeoBox, limit int) ([]model.Issue, error) {
	issues := []model.Issue{}
	err := i.s.run(ctx, "nearby issues", func(tx *gorm.DB) error {
		return tx.
			Where("latitude BETWEEN ? AND ?", box.MinLat, box.MaxLat).
			Where("longitude BETWEEN ? AND ?", box.MinLng, box.MaxLng).
			Order("created_at DESC").Order("id DESC").
			Limit(limit).
			Find(&issues).Error
	})
	if err != nil {
		return nil, err
	}
	return issues, nil
}

func (i *IssueStore) Update(ctx context.Context, issue *model.Issue) error {
	if issue.ImageURLs == nil {
		issue.ImageURLs = model.StringList{}
	}
	issue.UpdatedAt = time.Now()
	return i.s.run(ctx, "update issue", func(tx *gorm.DB) error {
		res := tx.Model(issue).
			Select("title", "description", "category", "status", "priority",
				"latitude", "longitude", "address", "image_urls", "updated_at").
			Updates(issue)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperror.NotFound("issue", issue.ID)
		}
		return nil
	})
}

func (i *IssueStore) UpdateStatus(ctx context.Context, issue *model.Issue, entry *model.StatusHistory) error {
	issue.UpdatedAt = time.Now()
	if entry.ID == "" {
		entry.ID = xid.New().String()
	}
	entry.IssueID = issue.ID
	entry.CreatedAt = issue.UpdatedAt
	return i.s.run(ctx, "update issue status", func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			res := tx.Model(issue).Select("status", "updated_at").Updates(issue)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return apperror.NotFound("issue", issue.ID)
			}
			return tx.Omit(clause.Associations).Create(entry).Error
		})
	})
}

func (i *IssueStore) History(ctx context.Context, issueID string) ([]model.StatusHistory, error) {
	history := []model.StatusHistory{}
	err := i.s.run(ctx, "issue history", func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&model.Issue{}).Where("id = ?", issueID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return apperror.NotFound("issue", issueID)
		}
		return tx.Where("issue_id = ?", issueID).
			Order("created_at ASC").Order("id ASC").
			Find(&history).Error
	})
	if err != nil {
		return nil, err
	}
	return history, nil
}

// Delete removes the issue. Comments, upvotes and history go with it
// (ON DELETE CASCADE).
func (i *IssueStore) Delete(ctx context.Context, id string) error {
	return i.s.run(ctx, "delete issue", func(tx *gorm.DB) error {
		res := tx.Delete(&model.Issue{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperror.NotFound("issue", id)
		}
		return nil
	})
}

func (i *IssueStore) ToggleUpvote(ctx context.Context, issueID, userID string) (int, bool, error) {
	var (
		count   int
		upvoted bool
	)
	err := i.s.run(ctx, "toggle upvote", func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			var exists int64
			if err := tx.Model(&model.Issue{}).Where("id = ?", issueID).Count(&exists).Error; err != nil {
				return err
			}
			if exists == 0 {
				return apperror.NotFound("issue", issueID)
			}

			res := tx.Where("issue_id = ? AND user_id = ?", issueID, userID).Delete(&model.Upvote{})
			if res.Error != nil {
				return res.Error
			}
			delta := -1
			if res.RowsAffected == 0 {
				vote := &model.Upvote{ID: xid.New().String(), IssueID: issueID, UserID: userID}
				if err := tx.Omit(clause.Associations).Create(vote).Error; err != nil {
					return err
				}
				delta = 1
				upvoted = true
			}

			err := tx.Model(&model.Issue{}).Where("id = ?", issueID).
				UpdateColumn("upvotes", gorm.Expr("upvotes + ?", delta)).Error
			if err != nil {
				return err
			}
			var counts []int
			if err := tx.Model(&model.Issue{}).Where("id = ?", issueID).Pluck("upvotes", &counts).Error; err != nil {
				return err
			}
			if len(counts) > 0 {
				count = counts[0]
			}
			return nil
		})
	})
	if err != nil {
		return 0, false, err
	}
	return count, upvoted, nil
}

func (i *IssueStore) HasUpvoted(ctx context.Context, issueID, userID string) (bool, error) {
	var n int64
	err := i.s.run(ctx, "has upvoted", func(tx *gorm.DB) error {
		return tx.Model(&model.Upvote{}).Where("issue_id = ? AND user_id = ?", issueID, userID).Count(&n).Error
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
