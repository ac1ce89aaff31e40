package gormstore

import (
	"context"

	"gorm.io/gorm"

	"github.com/sakif/civicfix/internal/model"
)

type countRow struct {
	Label string
	N     int64
}

// Stats aggregates issue, user and comment counts.
func (s *Store) Stats(ctx context.Context) (*model.Stats, error) {
	stats := &model.Stats{
		IssuesByStatus:   map[string]int64{},
		IssuesByCategory: map[string]int64{},
	}

	err := s.run(ctx, "stats", func(tx *gorm.DB) error {
		if err := tx.Model(&model.Issue{}).Count(&stats.TotalIssues).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.User{}).Count(&stats.TotalUsers).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Comment{}).Count(&stats.TotalComments).Error; err != nil {
			return err
		}

		var rows []countRow
		if err := tx.Model(&model.Issue{}).Select("status AS label, COUNT(*) AS n").Group("status").Scan(&rows).Error; err != nil {
			return err
		}
		for _, r := range rows {
			stats.IssuesByStatus[r.Label] = r.N
		}

		rows = nil
		if err := tx.Model(&model.Issue{}).Select("category AS label, COUNT(*) AS n").Group("category").Scan(&rows).Error; err != nil {
			return err
		}
		for _, r := range rows {
			stats.IssuesByCategory[r.Label] = r.N
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
