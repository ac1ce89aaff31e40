// Package storage uploads user media to object storage and hands back
// public URLs.
package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/civicfix/internal/apperror"
)

// Store is an object store for issue media. Every object belongs to the
// user who uploaded it; the owner is part of the key.
type Store interface {
	// Upload stores body under a generated key in owner's prefix and
	// returns its public URL.
	Upload(ctx context.Context, owner string, body []byte, filename, contentType string) (string, error)
	// Delete removes the object behind a URL previously returned by Upload.
	Delete(ctx context.Context, url string) error
	// Owner reports who uploaded the object behind url. ok is false for
	// URLs this store did not hand out.
	Owner(url string) (owner string, ok bool)
	Ping(ctx context.Context) error
}

// extensions maps accepted content types to the extension used in keys.
var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
}

// contentTypes is the reverse lookup, used when the client sends no type.
var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
}

// ResolveContentType validates the media type of an upload. The declared
// type wins when it is accepted; otherwise the filename extension decides.
func ResolveContentType(filename, declared string) (string, error) {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if _, ok := extensions[declared]; ok {
		return declared, nil
	}
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct, nil
	}
	return "", apperror.ValidationFailed("files",
		fmt.Sprintf("file %q has an unsupported type; allowed: jpg, jpeg, png, gif, webp, mp4, mov", filename))
}

const keyPrefix = "issues"

// ObjectKey builds issues/<owner>/YYYY/MM/DD/<uuid><ext>. The client
// filename only contributes its extension, and only if it is an accepted one.
func ObjectKey(now time.Time, owner, filename, contentType string) (string, error) {
	if !validOwner(owner) {
		return "", fmt.Errorf("storage: invalid owner %q", owner)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := contentTypes[ext]; !ok {
		ext = extensions[contentType]
	}
	return path.Join(keyPrefix, owner, now.UTC().Format("2006/01/02"), uuid.NewString()+ext), nil
}

// KeyOwner extracts the owner from a key built by ObjectKey.
func KeyOwner(key string) (string, bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 6 || parts[0] != keyPrefix {
		return "", false
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return "", false
		}
	}
	if !validOwner(parts[1]) {
		return "", false
	}
	return parts[1], true
}

func validOwner(owner string) bool {
	return owner != "" && owner != "." && owner != ".." && !strings.ContainsAny(owner, "/\\")
}
