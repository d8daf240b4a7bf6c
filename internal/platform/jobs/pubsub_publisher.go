package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/sahra-camps/api/internal/services"
)

// PubSubBookingEventPublisher publishes booking lifecycle events to a Pub/Sub topic. Messages are
// ordered per booking so consumers observe cancellation before the refund outcome.
type PubSubBookingEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.BookingEventPublisher = (*PubSubBookingEventPublisher)(nil)

// NewPubSubBookingEventPublisher constructs a Pub/Sub backed booking event publisher. Message
// ordering is enabled on the topic handle.
func NewPubSubBookingEventPublisher(topic *pubsub.Topic) (*PubSubBookingEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub booking publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubBookingEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishBookingEvent sends event and waits for the server-assigned message id.
func (p *PubSubBookingEventPublisher) PublishBookingEvent(ctx context.Context, event services.BookingEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub booking publisher: not initialised")
	}
	bookingID := strings.TrimSpace(event.BookingID)
	if bookingID == "" {
		return "", errors.New("pubsub booking publisher: booking id is required")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal booking event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventId", event.EventID)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "bookingId", bookingID)
	setAttr(attrs, "refundStatus", event.RefundStatus)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: bookingID,
	})

	id, err := result.Get(ctx)
	if err != nil {
		// A failed publish pauses the ordering key until resumed.
		p.topic.ResumePublish(bookingID)
		return "", fmt.Errorf("publish booking event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
