package gormstore

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/sakif/civicfix/internal/model"
)

const (
	topCategories = 10
	topReporters  = 10
)

// Analytics builds the admin dashboard in one read transaction.
func (s *Store) Analytics(ctx context.Context, since time.Time) (*model.Analytics, error) {
	a := &model.Analytics{
		StatusBreakdown:   map[string]int64{},
		PriorityBreakdown: map[string]int64{},
		CategoryBreakdown: map[string]int64{},
		DailyIssues:       []model.DailyCount{},
		TopReporters:      []model.ReporterCount{},
	}

	err := s.run(ctx, "analytics", func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			sum := &a.Summary
			counts := []struct {
				model any
				dst   *int64
				since bool
			}{
				{&model.Issue{}, &sum.TotalIssues, false},
				{&model.User{}, &sum.TotalUsers, false},
				{&model.Upvote{}, &sum.TotalUpvotes, false},
				{&model.Comment{}, &sum.TotalComments, false},
				{&model.Issue{}, &sum.RecentIssues, true},
				{&model.User{}, &sum.RecentUsers, true},
			}
			for _, c := range counts {
				q := tx.Model(c.model)
				if c.since {
					q = q.Where("created_at >= ?", since)
				}
				if err := q.Count(c.dst).Error; err != nil {
					return err
				}
			}

			if err := groupCounts(tx, "status", 0, a.StatusBreakdown); err != nil {
				return err
			}
			if err := groupCounts(tx, "priority", 0, a.PriorityBreakdown); err != nil {
				return err
			}
			if err := groupCounts(tx, "category", topCategories, a.CategoryBreakdown); err != nil {
				return err
			}

			var created []time.Time
			if err := tx.Model(&model.Issue{}).Where("created_at >= ?", since).Pluck("created_at", &created).Error; err != nil {
				return err
			}
			a.DailyIssues = dailyCounts(created)

			return tx.Table("issues").
				Select("users.name AS name, users.email AS email, COUNT(issues.id) AS issue_count").
				Joins("JOIN users ON users.id = issues.reporter_id").
				Group("users.id, users.name, users.email").
				Order("issue_count DESC").Order("users.email ASC").
				Limit(topReporters).
				Scan(&a.TopReporters).Error
		})
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// groupCounts fills into with COUNT(*) per value of column, largest first.
// limit <= 0 keeps every group.
func groupCounts(tx *gorm.DB, column string, limit int, into map[string]int64) error {
	q := tx.Model(&model.Issue{}).
		Select(column + " AS label, COUNT(*) AS n").
		Group(column).
		Order("n DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []countRow
	if err := q.Scan(&rows).Error; err != nil {
		return err
	}
	for _, r := range rows {
		into[r.Label] = r.N
	}
	return nil
}

// dailyCounts buckets timestamps by UTC calendar day, oldest day first.
// Days without issues are left out.
func dailyCounts(times []time.Time) []model.DailyCount {
	byDay := map[string]int64{}
	for _, t := range times {
		byDay[t.UTC().Format(time.DateOnly)]++
	}
	out := make([]model.DailyCount, 0, len(byDay))
	for day, n := range byDay {
		out = append(out, model.DailyCount{Date: day, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
