package gate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Publisher notifies reviewers that an escalation is waiting.
type Publisher interface {
	PublishReview(ctx context.Context, review *Review) error
}

// NATSPublisher publishes escalations as JSON on a NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher creates a publisher on the given subject.
func NewNATSPublisher(conn *nats.Conn, subject string) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject}
}

// PublishReview implements Publisher.
func (p *NATSPublisher) PublishReview(ctx context.Context, review *Review) error {
	data, err := json.Marshal(review)
	if err != nil {
		return fmt.Errorf("marshal review %s: %w", review.ID, err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish review %s: %w", review.ID, err)
	}
	return nil
}
