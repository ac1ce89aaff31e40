package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/civicfix/internal/apperror"
	"github.com/sakif/civicfix/internal/model"
)

func ptr[T any](v T) *T { return &v }

func TestUpdateProfile(t *testing.T) {
	repo := newFakeUserRepo()
	u := &model.User{Email: "ada@example.com", Name: "Ada"}
	require.NoError(t, repo.Create(context.Background(), u))
	svc := NewUserService(repo, NewSanitizer(), discardLogger())

	updated, err := svc.UpdateProfile(context.Background(), u, ProfileUpdate{
		Name:     ptr("Ada <em>Lovelace</em>"),
		PhotoURL: ptr("https://cdn.example.com/ada.png"),
	})
	require.NoError(t, err)

	assert.Equal(t, "Ada Lovelace", updated.Name)
	assert.Equal(t, "https://cdn.example.com/ada.png", updated.PhotoURL)
	assert.Equal(t, "", updated.Phone, "nil fields are left alone")
	assert.Equal(t, "Ada", u.Name, "the caller's copy is not mutated")

	stored, err := svc.Get(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", stored.Name)
}

func TestUpdateProfile_Validation(t *testing.T) {
	repo := newFakeUserRepo()
	u := &model.User{Email: "ada@example.com"}
	require.NoError(t, repo.Create(context.Background(), u))
	svc := NewUserService(repo, NewSanitizer(), discardLogger())

	tests := []struct {
		name string
		in   ProfileUpdate
	}{
		{"blank name", ProfileUpdate{Name: ptr("  ")}},
		{"long name", ProfileUpdate{Name: ptr(strings.Repeat("a", MaxNameLength+1))}},
		{"long phone", ProfileUpdate{Phone: ptr(strings.Repeat("1", MaxPhoneLength+1))}},
		{"bad photo url", ProfileUpdate{PhotoURL: ptr("ftp://x/y.png")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UpdateProfile(context.Background(), u, tt.in)
			assert.ErrorIs(t, err, apperror.ErrValidation)
		})
	}
}

func TestSanitizer_Text(t *testing.T) {
	s := NewSanitizer()

	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"  padded  ", "padded"},
		{"<script>alert(1)</script>hi", "hi"},
		{`<a href="x">link</a>`, "link"},
		{"Tom & Jerry's \"cafe\"", "Tom & Jerry's \"cafe\""},
		{"5 < 10", "5 < 10"},
		{"Speed 5 < 10 & broken", "Speed 5 < 10 & broken"},
		{"a > b", "a > b"},
		{"<b>bold</b> 3<4", "bold 3<4"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.Text(tt.in), "input %q", tt.in)
	}
}
