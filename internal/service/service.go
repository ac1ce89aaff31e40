// Package service holds the business rules of the API.
//
//	Handler (HTTP)  → parses requests, writes responses
//	Service         → validates, checks permissions, orchestrates
//	Repository      → reads and writes the database
//
// Services take repository interfaces, never a concrete store, so tests run
// against in-memory fakes. They return apperror values; the handler layer
// decides which HTTP status each one becomes.
package service

import (
	"context"
	"html"
	"log/slog"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/sakif/civicfix/internal/events"
)

// Sanitizer strips markup from user-supplied free text.
type Sanitizer struct {
	policy *bluemonday.Policy
}

func NewSanitizer() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

// Text removes every tag from in and trims surrounding whitespace.
// bluemonday HTML-escapes the text it keeps; the API serves JSON, so the
// entities are decoded again and "5 < 10" stays "5 < 10".
func (s *Sanitizer) Text(in string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(in)))
}

// publish sends an event and only logs on failure. Events must never fail
// the request that produced them.
func publish(ctx context.Context, p events.Publisher, logger *slog.Logger, subject string, data any) {
	if err := p.Publish(ctx, subject, data); err != nil {
		logger.Warn("event publish failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
	}
}
