package gormstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/civicfix/internal/apperror"
	"github.com/sakif/civicfix/internal/model"
	"github.com/sakif/civicfix/internal/repository"
)

func TestCommentCreate_IncrementsCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "c@example.com")
	issue := createTestIssue(t, s, u, "talk about me")

	for _, body := range []string{"first", "second"} {
		require.NoError(t, s.Comments().Create(ctx, &model.Comment{IssueID: issue.ID, UserID: u.ID, Content: body}))
	}

	got, err := s.Issues().GetByID(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CommentCount)

	page, err := s.Comments().ListByIssue(ctx, issue.ID, repository.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, "first", page.Items[0].Content)
	require.NotNil(t, page.Items[0].Author)
	assert.Equal(t, u.ID, page.Items[0].Author.ID)
}

func TestCommentCreate_UnknownIssue(t *testing.T) {
	s := newTestStore(t)
	u := createTestUser(t, s, "c@example.com")

	err := s.Comments().Create(context.Background(), &model.Comment{IssueID: "missing", UserID: u.ID, Content: "hello?"})
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)
}

func TestCommentDelete_DecrementsCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "c@example.com")
	issue := createTestIssue(t, s, u, "talk about me")

	c := &model.Comment{IssueID: issue.ID, UserID: u.ID, Content: "oops"}
	require.NoError(t, s.Comments().Create(ctx, c))
	require.NoError(t, s.Comments().Delete(ctx, c))

	got, err := s.Issues().GetByID(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CommentCount)

	err = s.Comments().Delete(ctx, c)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}
