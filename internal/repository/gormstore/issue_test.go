package gormstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/civicfix/internal/apperror"
	"github.com/sakif/civicfix/internal/model"
	"github.com/sakif/civicfix/internal/repository"
)

func TestIssueCreate_ImageURLsNeverNull(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "r@example.com")

	issue := &model.Issue{Title: "No photos", Category: "Graffiti", ReporterID: u.ID}
	require.NoError(t, s.Issues().Create(ctx, issue))

	got, err := s.Issues().GetByID(ctx, issue.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.ImageURLs)
	assert.Len(t, got.ImageURLs, 0)
	assert.Equal(t, model.StatusOpen, got.Status)
	assert.Equal(t, model.PriorityMedium, got.Priority)

	// a NULL written behind gorm's back still reads as an empty list
	require.NoError(t, s.db.Exec("UPDATE issues SET image_urls = NULL WHERE id = ?", issue.ID).Error)
	got, err = s.Issues().GetByID(ctx, issue.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.ImageURLs)
}

func TestIssueCreate_UnknownReporter(t *testing.T) {
	s := newTestStore(t)
	err := s.Issues().Create(context.Background(), &model.Issue{Title: "x", Category: "Other", ReporterID: "nope"})
	assert.Error(t, err)
}

func TestIssueRoundTripsImageURLs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "r@example.com")

	issue := &model.Issue{
		Title:      "Two photos",
		Category:   "Pothole",
		ReporterID: u.ID,
		ImageURLs:  model.StringList{"https://cdn/a.jpg", "https://cdn/b.jpg"},
	}
	require.NoError(t, s.Issues().Create(ctx, issue))

	got, err := s.Issues().GetByID(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, issue.ImageURLs, got.ImageURLs)
}

func TestIssueList_Pagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "r@example.com")
	for i := 0; i < 12; i++ {
		createTestIssue(t, s, u, fmt.Sprintf("issue %02d", i))
	}

	page, err := s.Issues().List(ctx, repository.ListOptions{Page: 2, PerPage: 5})
	require.NoError(t, err)
	assert.Len(t, page.Items, 5)
	assert.Equal(t, int64(12), page.Total)

	page, err = s.Issues().List(ctx, repository.ListOptions{Page: 3, PerPage: 5})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)

	page, err = s.Issues().List(ctx, repository.ListOptions{Page: 9, PerPage: 5})
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Len(t, page.Items, 0)
	assert.Equal(t, int64(12), page.Total)
}

func TestIssueList_NewestFirstAndFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, s, "alice@example.com")
	bob := createTestUser(t, s, "bob@example.com")

	first := createTestIssue(t, s, alice, "first")
	last := &model.Issue{Title: "last", Category: "Water Leak", ReporterID: bob.ID, Status: model.StatusResolved}
	require.NoError(t, s.Issues().Create(ctx, last))

	page, err := s.Issues().List(ctx, repository.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, last.ID, page.Items[0].ID)
	assert.Equal(t, first.ID, page.Items[1].ID)

	tests := []struct {
		name string
		opts repository.ListOptions
		want string
	}{
		{"by status", repository.ListOptions{Status: model.StatusResolved}, last.ID},
		{"by category", repository.ListOptions{Category: "Pothole"}, first.ID},
		{"by reporter", repository.ListOptions{ReporterID: alice.ID}, first.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := s.Issues().List(ctx, tt.opts)
			require.NoError(t, err)
			require.Len(t, page.Items, 1)
			assert.Equal(t, tt.want, page.Items[0].ID)
			assert.Equal(t, int64(1), page.Total)
		})
	}
}

func TestIssueUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "r@example.com")
	issue := createTestIssue(t, s, u, "before")

	issue.Title = "after"
	issue.Status = model.StatusInProgress
	issue.ImageURLs = nil
	require.NoError(t, s.Issues().Update(ctx, issue))

	got, err := s.Issues().GetByID(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", got.Title)
	assert.Equal(t, model.StatusInProgress, got.Status)
	assert.NotNil(t, got.ImageURLs)

	missing := &model.Issue{ID: "missing", Title: "x"}
	err = s.Issues().Update(ctx, missing)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestIssueDelete_CascadesToComments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "r@example.com")
	issue := createTestIssue(t, s, u, "doomed")

	c := &model.Comment{IssueID: issue.ID, UserID: u.ID, Content: "bye"}
	require.NoError(t, s.Comments().Create(ctx, c))
	_, _, err := s.Issues().ToggleUpvote(ctx, issue.ID, u.ID)
	require.NoError(t, err)

	require.NoError(t, s.Issues().Delete(ctx, issue.ID))

	_, err = s.Comments().GetByID(ctx, c.ID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	var votes int64
	require.NoError(t, s.db.Model(&model.Upvote{}).Count(&votes).Error)
	assert.Zero(t, votes)

	err = s.Issues().Delete(ctx, issue.ID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestIssueToggleUpvote(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "r@example.com")
	v := createTestUser(t, s, "v@example.com")
	issue := createTestIssue(t, s, u, "vote for me")

	n, on, err := s.Issues().ToggleUpvote(ctx, issue.ID, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, on)

	n, on, err = s.Issues().ToggleUpvote(ctx, issue.ID, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, on)

	n, on, err = s.Issues().ToggleUpvote(ctx, issue.ID, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, on)

	_, _, err = s.Issues().ToggleUpvote(ctx, "missing", v.ID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "r@example.com")
	createTestIssue(t, s, u, "a")
	createTestIssue(t, s, u, "b")
	resolved := &model.Issue{Title: "c", Category: "Graffiti", ReporterID: u.ID, Status: model.StatusResolved}
	require.NoError(t, s.Issues().Create(ctx, resolved))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalIssues)
	assert.Equal(t, int64(1), stats.TotalUsers)
	assert.Equal(t, int64(2), stats.IssuesByStatus["OPEN"])
	assert.Equal(t, int64(1), stats.IssuesByStatus["RESOLVED"])
	assert.Equal(t, int64(2), stats.IssuesByCategory["Pothole"])
	assert.Equal(t, int64(1), stats.IssuesByCategory["Graffiti"])
}

func TestIssueList_Search(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "r@example.com")

	for _, issue := range []*model.Issue{
		{Title: "Broken road sign", Category: "Road Damage"},
		{Title: "Streetlight out", Description: "Dark ROAD near the park", Category: "Street Light"},
		{Title: "Graffiti", Address: "12 Roadside Ave", Category: "Graffiti"},
		{Title: "100% blocked drain", Category: "Water Leak"},
		{Title: "Noise at night", Category: "Noise Complaint"},
	} {
		issue.ReporterID = u.ID
		require.NoError(t, s.Issues().Create(ctx, issue))
	}

	tests := []struct {
		search string
		want   int64
	}{
		{"road", 3},
		{"ROAD", 3},
		{"park", 1},
		{"100%", 1},
		{"%", 1},
		{"_", 0},
		{"nothing like this", 0},
		{"", 5},
	}
	for _, tt := range tests {
		t.Run(tt.search, func(t *testing.T) {
			page, err := s.Issues().List(ctx, repository.ListOptions{Search: tt.search})
			require.NoError(t, err)
			assert.Equal(t, tt.want, page.Total)
		})
	}

	page, err := s.Issues().List(ctx, repository.ListOptions{Search: "road", Category: "Graffiti"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Graffiti", page.Items[0].Title)
}

func TestIssueNearby(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "r@example.com")

	at := func(title string, lat, lng float64) {
		require.NoError(t, s.Issues().Create(ctx, &model.Issue{
			Title: title, Category: "Pothole", ReporterID: u.ID, Latitude: &lat, Longitude: &lng,
		}))
	}
	at("inside", 23.81, 90.41)
	at("edge", 23.85, 90.45)
	at("outside", 24.50, 90.41)
	createTestIssue(t, s, u, "no location")

	box := repository.GeoBox{MinLat: 23.75, MaxLat: 23.85, MinLng: 90.35, MaxLng: 90.45}
	got, err := s.Issues().Nearby(ctx, box, 50)
	require.NoError(t, err)
	titles := make([]string, 0, len(got))
	for _, i := range got {
		titles = append(titles, i.Title)
	}
	assert.Equal(t, []string{"edge", "inside"}, titles)

	got, err = s.Issues().Nearby(ctx, box, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = s.Issues().Nearby(ctx, repository.GeoBox{MinLat: -1, MaxLat: 1, MinLng: -1, MaxLng: 1}, 50)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestIssueStatusHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reporter := createTestUser(t, s, "r@example.com")
	admin := createTestUser(t, s, "admin@example.com")
	issue := createTestIssue(t, s, reporter, "a")

	old := issue.Status
	issue.Status = model.StatusInProgress
	require.NoError(t, s.Issues().UpdateStatus(ctx, issue, &model.StatusHistory{
		OldStatus: &old, NewStatus: model.StatusInProgress, UpdatedBy: admin.ID, Notes: "crew assigned",
	}))

	got, err := s.Issues().GetByID(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, got.Status)

	history, err := s.Issues().History(ctx, issue.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Nil(t, history[0].OldStatus)
	assert.Equal(t, model.StatusOpen, history[0].NewStatus)
	assert.Equal(t, reporter.ID, history[0].UpdatedBy)

	require.NotNil(t, history[1].OldStatus)
	assert.Equal(t, model.StatusOpen, *history[1].OldStatus)
	assert.Equal(t, model.StatusInProgress, history[1].NewStatus)
	assert.Equal(t, admin.ID, history[1].UpdatedBy)
	assert.Equal(t, "crew assigned", history[1].Notes)

	_, err = s.Issues().History(ctx, "missing")
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	err = s.Issues().UpdateStatus(ctx, &model.Issue{ID: "missing", Status: model.StatusClosed},
		&model.StatusHistory{NewStatus: model.StatusClosed, UpdatedBy: admin.ID})
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	require.NoError(t, s.Issues().Delete(ctx, issue.ID))
	var left int64
	require.NoError(t, s.db.Model(&model.StatusHistory{}).Where("issue_id = ?", issue.ID).Count(&left).Error)
	assert.Zero(t, left)
}

func TestIssueHasUpvoted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "r@example.com")
	v := createTestUser(t, s, "v@example.com")
	issue := createTestIssue(t, s, u, "a")

	on, err := s.Issues().HasUpvoted(ctx, issue.ID, v.ID)
	require.NoError(t, err)
	assert.False(t, on)

	_, _, err = s.Issues().ToggleUpvote(ctx, issue.ID, v.ID)
	require.NoError(t, err)

	on, err = s.Issues().HasUpvoted(ctx, issue.ID, v.ID)
	require.NoError(t, err)
	assert.True(t, on)

	on, err = s.Issues().HasUpvoted(ctx, issue.ID, u.ID)
	require.NoError(t, err)
	assert.False(t, on)
}
