package model

import "time"

type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusResolved   Status = "RESOLVED"
	StatusClosed     Status = "CLOSED"
	StatusRejected   Status = "REJECTED"
)

// Statuses lists every status in workflow order.
var Statuses = []Status{StatusOpen, StatusInProgress, StatusResolved, StatusClosed, StatusRejected}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

func (p Priority) Valid() bool {
	for _, v := range Priorities {
		if p == v {
			return true
		}
	}
	return false
}

// Option describes one enum value for client forms.
type Option struct {
	Value       string `json:"value"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// StatusOptions describes Statuses, in the same order.
var StatusOptions = []Option{
	{string(StatusOpen), "Open", "Issue reported and awaiting review"},
	{string(StatusInProgress), "In Progress", "Issue is being worked on"},
	{string(StatusResolved), "Resolved", "Issue has been fixed"},
	{string(StatusClosed), "Closed", "Issue is closed (resolved or rejected)"},
	{string(StatusRejected), "Rejected", "Issue was rejected or invalid"},
}

// PriorityOptions describes Priorities, in the same order.
var PriorityOptions = []Option{
	{string(PriorityLow), "Low", "Non-urgent issue"},
	{string(PriorityMedium), "Medium", "Standard priority"},
	{string(PriorityHigh), "High", "Important issue requiring attention"},
	{string(PriorityUrgent), "Urgent", "Critical issue requiring immediate attention"},
}

// Categories is the fixed list of issue categories offered to reporters.
var Categories = []string{
	"Pothole",
	"Street Light",
	"Garbage Collection",
	"Traffic Signal",
	"Road Damage",
	"Water Leak",
	"Sidewalk Issue",
	"Graffiti",
	"Noise Complaint",
	"Other",
}

func ValidCategory(c string) bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// Issue is a civic problem reported by a user.
//
// Deleting an issue cascades to its comments, upvotes and status history. The reporter
// reference is RESTRICT: users are soft-deleted, so the row always exists.
type Issue struct {
	ID           string     `gorm:"primaryKey;size:20" json:"id"`
	Title        string     `gorm:"size:200;not null" json:"title"`
	Description  string     `gorm:"type:text;not null;default:''" json:"description"`
	Category     string     `gorm:"size:50;not null;index" json:"category"`
	Status       Status     `gorm:"size:20;not null;default:OPEN;index" json:"status"`
	Priority     Priority   `gorm:"size:20;not null;default:MEDIUM" json:"priority"`
	Latitude     *float64   `json:"latitude"`
	Longitude    *float64   `json:"longitude"`
	Address      string     `gorm:"size:500;not null;default:''" json:"address"`
	ImageURLs    StringList `gorm:"column:image_urls;not null;default:'[]'" json:"image_urls"`
	ReporterID   string     `gorm:"size:20;not null;index" json:"reporter_id"`
	Reporter     *User      `gorm:"foreignKey:ReporterID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"reporter,omitempty"`
	Upvotes      int        `gorm:"not null;default:0" json:"upvotes"`
	CommentCount int        `gorm:"not null;default:0" json:"comment_count"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	// UserUpvoted is filled in for the detail view only.
	UserUpvoted *bool `gorm:"-" json:"user_upvoted,omitempty"`
}

// Upvote records that a user supports an issue. One per (issue, user).
type Upvote struct {
	ID        string    `gorm:"primaryKey;size:20" json:"id"`
	IssueID   string    `gorm:"size:20;not null;uniqueIndex:idx_upvote_issue_user" json:"issue_id"`
	Issue     *Issue    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	UserID    string    `gorm:"size:20;not null;uniqueIndex:idx_upvote_issue_user" json:"user_id"`
	User      *User     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats is the aggregate view served by /api/v1/stats.
type Stats struct {
	TotalIssues      int64            `json:"total_issues"`
	TotalUsers       int64            `json:"total_users"`
	TotalComments    int64            `json:"total_comments"`
	IssuesByStatus   map[string]int64 `json:"issues_by_status"`
	IssuesByCategory map[string]int64 `json:"issues_by_category"`
}
