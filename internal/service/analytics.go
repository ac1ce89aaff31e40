package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sakif/civicfix/internal/apperror"
	"github.com/sakif/civicfix/internal/model"
	"github.com/sakif/civicfix/internal/repository"
)

const (
	DefaultAnalyticsDays = 30
	MaxAnalyticsDays     = 365
)

// AnalyticsService serves the admin dashboard. Unlike StatsService it is
// not cached: admins expect it to reflect the last change.
type AnalyticsService struct {
	repo repository.AnalyticsRepository
	now  func() time.Time
}

func NewAnalyticsService(repo repository.AnalyticsRepository) *AnalyticsService {
	return &AnalyticsService{repo: repo, now: time.Now}
}

// Summary returns the dashboard for the last days days. days <= 0 means
// DefaultAnalyticsDays.
func (s *AnalyticsService) Summary(ctx context.Context, actor *model.User, days int) (*model.Analytics, error) {
	if !actor.IsAdmin() {
		return nil, apperror.Forbidden("analytics are only available to admins")
	}
	if days <= 0 {
		days = DefaultAnalyticsDays
	}
	if days > MaxAnalyticsDays {
		return nil, apperror.ValidationFailed("days", fmt.Sprintf("days must be %d or less", MaxAnalyticsDays))
	}

	end := s.now().UTC()
	start := end.AddDate(0, 0, -days)
	a, err := s.repo.Analytics(ctx, start)
	if err != nil {
		return nil, err
	}

	if a.Summary.TotalIssues > 0 {
		rate := float64(a.StatusBreakdown[string(model.StatusResolved)]) / float64(a.Summary.TotalIssues) * 100
		a.Summary.ResolutionRate = math.Round(rate*100) / 100
	}
	a.DateRange = model.DateRange{StartDate: start, EndDate: end, Days: days}
	return a, nil
}
