// Package events publishes domain events (issue created, status changed,
// upvoted, comment added) so other services can react without polling.
//
// Publishing is best effort: a failed publish is logged by the caller and
// never fails the request that produced the event.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects.
const (
	IssueCreated       = "issue.created"
	IssueStatusUpdated = "issue.status_updated"
	IssueUpvoted       = "issue.upvoted"
	IssueDeleted       = "issue.deleted"
	CommentCreated     = "comment.created"
)

// Event is the envelope published on every subject.
type Event struct {
	Subject    string    `json:"subject"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

type Publisher interface {
	Publish(ctx context.Context, subject string, data any) error
}

// Noop drops every event. Used when NATS_URL is unset.
type Noop struct{}

func (Noop) Publish(context.Context, string, any) error { return nil }

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATS publishes JSON-encoded events on a NATS connection.
type NATS struct {
	nc     conn
	logger *slog.Logger
	now    func() time.Time
}

var (
	_ Publisher = (*NATS)(nil)
	_ Publisher = Noop{}
)

// ConnectNATS dials url and keeps reconnecting in the background for the
// lifetime of the process.
func ConnectNATS(url string, logger *slog.Logger) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("civicfix"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connecting to nats: %w", err)
	}
	return newNATS(nc, logger), nil
}

func newNATS(nc conn, logger *slog.Logger) *NATS {
	return &NATS{nc: nc, logger: logger, now: time.Now}
}

func (p *NATS) Publish(_ context.Context, subject string, data any) error {
	body, err := json.Marshal(Event{Subject: subject, OccurredAt: p.now().UTC(), Data: data})
	if err != nil {
		return fmt.Errorf("events: encoding %s: %w", subject, err)
	}
	if err := p.nc.Publish(subject, body); err != nil {
		return fmt.Errorf("events: publishing %s: %w", subject, err)
	}
	p.logger.Debug("event published", slog.String("subject", subject))
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATS) Close() error {
	return p.nc.Drain()
}
