package model

import "time"

// Analytics is the admin dashboard served by /api/v1/analytics/summary.
type Analytics struct {
	Summary           AnalyticsSummary `json:"summary"`
	StatusBreakdown   map[string]int64 `json:"status_breakdown"`
	PriorityBreakdown map[string]int64 `json:"priority_breakdown"`
	CategoryBreakdown map[string]int64 `json:"category_breakdown"`
	DailyIssues       []DailyCount     `json:"daily_issues"`
	TopReporters      []ReporterCount  `json:"top_reporters"`
	DateRange         DateRange        `json:"date_range"`
}

type AnalyticsSummary struct {
	TotalIssues    int64   `json:"total_issues"`
	TotalUsers     int64   `json:"total_users"`
	TotalUpvotes   int64   `json:"total_upvotes"`
	TotalComments  int64   `json:"total_comments"`
	RecentIssues   int64   `json:"recent_issues"`
	RecentUsers    int64   `json:"recent_users"`
	ResolutionRate float64 `json:"resolution_rate"` // percent of all issues that are RESOLVED
}

// DailyCount is the number of issues reported on one UTC day.
type DailyCount struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Count int64  `json:"count"`
}

type ReporterCount struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	IssueCount int64  `json:"issue_count"`
}

type DateRange struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Days      int       `json:"days"`
}
