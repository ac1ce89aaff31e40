// Package repository declares the persistence contracts the service layer
// depends on. Implementations live in sub-packages (gormstore).
package repository

import (
	"context"
	"time"

	"github.com/sakif/civicfix/internal/model"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// ListOptions selects one page of a list, newest first.
// Zero-valued filters are ignored.
type ListOptions struct {
	Page    int
	PerPage int

	Status     model.Status
	Category   string
	ReporterID string
	// Search matches title, description or address, case-insensitively.
	Search string
}

// Normalize clamps Page to >= 1 and PerPage to 1..MaxPerPage.
func (o ListOptions) Normalize() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PerPage <= 0 {
		o.PerPage = DefaultPerPage
	}
	if o.PerPage > MaxPerPage {
		o.PerPage = MaxPerPage
	}
	return o
}

func (o ListOptions) Offset() int {
	return (o.Page - 1) * o.PerPage
}

// GeoBox is an inclusive latitude/longitude rectangle.
type GeoBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// Page is one page of results together with the total number of matches.
type Page[T any] struct {
	Items []T
	Total int64
}

// MigrationResult reports what a migration run changed.
type MigrationResult struct {
	NewTables []string `json:"new_tables"`
	Applied   []string `json:"applied"`
}

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByProviderUID(ctx context.Context, uid string) (*model.User, error)
	Update(ctx context.Context, user *model.User) error
	SoftDelete(ctx context.Context, id string) error
}

type IssueRepository interface {
	// Create inserts the issue together with the first entry of its status
	// history, recorded against the reporter.
	Create(ctx context.Context, issue *model.Issue) error
	GetByID(ctx context.Context, id string) (*model.Issue, error)
	List(ctx context.Context, opts ListOptions) (*Page[model.Issue], error)
	// Nearby returns up to limit located issues inside box, newest first.
	Nearby(ctx context.Context, box GeoBox, limit int) ([]model.Issue, error)
	Update(ctx context.Context, issue *model.Issue) error
	// UpdateStatus stores issue.Status and appends entry to the history in
	// one transaction.
	UpdateStatus(ctx context.Context, issue *model.Issue, entry *model.StatusHistory) error
	// History returns the status timeline, oldest first.
	History(ctx context.Context, issueID string) ([]model.StatusHistory, error)
	Delete(ctx context.Context, id string) error
	// ToggleUpvote adds the user's upvote or removes it if present, returning
	// the new upvote count and whether the user now upvotes the issue.
	ToggleUpvote(ctx context.Context, issueID, userID string) (int, bool, error)
	HasUpvoted(ctx context.Context, issueID, userID string) (bool, error)
}

type CommentRepository interface {
	// Create inserts the comment and increments the issue's comment_count in
	// one transaction. Returns ErrNotFound if the issue does not exist.
	Create(ctx context.Context, comment *model.Comment) error
	GetByID(ctx context.Context, id string) (*model.Comment, error)
	ListByIssue(ctx context.Context, issueID string, opts ListOptions) (*Page[model.Comment], error)
	Delete(ctx context.Context, comment *model.Comment) error
}

type StatsRepository interface {
	Stats(ctx context.Context) (*model.Stats, error)
}

type AnalyticsRepository interface {
	// Analytics fills every field of model.Analytics except ResolutionRate
	// and DateRange. "Recent" counts and DailyIssues cover since onwards.
	Analytics(ctx context.Context, since time.Time) (*model.Analytics, error)
}

type Migrator interface {
	Migrate(ctx context.Context) (*MigrationResult, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}
