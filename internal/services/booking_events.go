package services

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

const (
	BookingEventCancelled       = "booking.cancelled"
	BookingEventRefundProcessed = "booking.refund_processed"
	BookingEventRefundFailed    = "booking.refund_failed"
)

// BookingEvent is the payload published to the booking events topic.
type BookingEvent struct {
	EventID      string          `json:"eventId"`
	Type         string          `json:"type"`
	BookingID    string          `json:"bookingId"`
	CampID       string          `json:"campId"`
	GuestID      string          `json:"guestId"`
	HostID       string          `json:"hostId"`
	CancelledBy  string          `json:"cancelledBy,omitempty"`
	RefundStatus string          `json:"refundStatus,omitempty"`
	RefundAmount decimal.Decimal `json:"refundAmount"`
	Percentage   int             `json:"refundPercentage"`
	Currency     string          `json:"currency"`
	Reason       string          `json:"reason,omitempty"`
	OccurredAt   time.Time       `json:"occurredAt"`
}

type eventEmitter struct {
	publisher BookingEventPublisher
	newID     func() string
	logger    func(ctx context.Context, event string, fields map[string]any)
}

func newEventEmitter(publisher BookingEventPublisher, logger func(context.Context, string, map[string]any)) eventEmitter {
	return eventEmitter{
		publisher: publisher,
		newID:     func() string { return ulid.Make().String() },
		logger:    logger,
	}
}

// emit publishes best effort. Events are derived from already committed state, so a publish
// failure is logged and never surfaces to the caller.
func (e eventEmitter) emit(ctx context.Context, eventType string, booking Booking, at time.Time) {
	if e.publisher == nil {
		return
	}
	event := BookingEvent{
		EventID:      e.newID(),
		Type:         eventType,
		BookingID:    booking.ID,
		CampID:       booking.CampID,
		GuestID:      booking.GuestID,
		HostID:       booking.HostID,
		CancelledBy:  string(booking.CancelledBy),
		RefundStatus: string(booking.Refund.Status),
		RefundAmount: booking.Refund.Amount,
		Percentage:   booking.Refund.Percentage,
		Currency:     booking.Currency,
		Reason:       booking.Refund.Reason,
		OccurredAt:   at.UTC(),
	}
	if _, err := e.publisher.PublishBookingEvent(ctx, event); err != nil && e.logger != nil {
		e.logger(ctx, "booking_event.publish.failed", map[string]any{
			"eventType": eventType,
			"bookingId": booking.ID,
			"error":     err.Error(),
		})
	}
}
