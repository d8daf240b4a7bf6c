package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/sahra-camps/api/internal/domain"
	"github.com/sahra-camps/api/internal/refunds"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Booking            = domain.Booking
	Camp               = domain.Camp
	Transaction        = domain.Transaction
	SystemHealthReport = domain.SystemHealthReport
)

// CancellationService previews and performs booking cancellations for guests and hosts.
type CancellationService interface {
	PreviewGuestCancellation(ctx context.Context, cmd CancellationQuoteCommand) (GuestCancellationQuote, error)
	CancelAsGuest(ctx context.Context, cmd CancelBookingCommand) (CancellationOutcome, error)
	PreviewHostCancellation(ctx context.Context, cmd CancellationQuoteCommand) (HostCancellationQuote, error)
	CancelAsHost(ctx context.Context, cmd CancelBookingCommand) (CancellationOutcome, error)
}

// RefundService issues gateway refunds for cancelled bookings. Amounts are always recomputed
// server-side from the booking and the listing policy.
type RefundService interface {
	ProcessRefund(ctx context.Context, cmd ProcessRefundCommand) (RefundOutcome, error)
	ReconcilePendingRefunds(ctx context.Context, limit int) (ReconcileSummary, error)
}

// SystemService exposes health reports.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// BookingEventPublisher publishes booking lifecycle events for downstream consumers.
type BookingEventPublisher interface {
	PublishBookingEvent(ctx context.Context, event BookingEvent) (string, error)
}

// CancellationNotifier delivers guest and host emails. Failures never roll back a cancellation.
type CancellationNotifier interface {
	BookingCancelled(ctx context.Context, notice CancellationNotice) error
	RefundProcessed(ctx context.Context, notice RefundNotice) error
}

// RefundMetrics records refund counters. observability.RefundMetrics satisfies it.
type RefundMetrics interface {
	RecordCancellation(ctx context.Context, actor, policy string)
	RecordRefund(ctx context.Context, provider, status string, amount float64)
	RecordHostPenalty(ctx context.Context, percentage int)
}

// CancellationQuoteCommand identifies the booking to quote and the caller asking.
type CancellationQuoteCommand struct {
	BookingID string
	ActorID   string
	// Admin lets support staff act on bookings they do not own.
	Admin bool
}

// CancelBookingCommand cancels a booking. Reason is free text and is sanitised before storage.
type CancelBookingCommand struct {
	BookingID string
	ActorID   string
	Reason    string
	Admin     bool
}

// ProcessRefundCommand requests a refund for a cancelled booking.
type ProcessRefundCommand struct {
	BookingID string
	ActorID   string
}

// GuestCancellationQuote is what a guest would get back if they cancelled now.
type GuestCancellationQuote struct {
	BookingID     string
	Currency      string
	Refund        refunds.Result
	NonRefundable bool
	Cancellable   bool
	EvaluatedAt   time.Time
}

// HostCancellationQuote pairs the guest's full refund with the penalty the host would incur.
type HostCancellationQuote struct {
	BookingID   string
	Currency    string
	GuestRefund refunds.Result
	Penalty     refunds.HostPenalty
	Cancellable bool
	EvaluatedAt time.Time
}

// CancellationOutcome reports the persisted cancellation and, when a refund was due, the
// outcome of the gateway attempt.
type CancellationOutcome struct {
	Booking Booking
	Refund  refunds.Result
	Penalty *refunds.HostPenalty
	// RefundResult is nil when no refund was due.
	RefundResult *RefundOutcome
}

// RefundOutcome is the durable result of a refund attempt.
type RefundOutcome struct {
	BookingID        string
	Status           domain.RefundStatus
	Amount           decimal.Decimal
	Percentage       int
	Currency         string
	Provider         string
	GatewayRefundID  string
	Reason           string
	Attempts         int
	LastError        string
	AlreadyProcessed bool
}

// ReconcileSummary counts what a reconciliation pass did.
type ReconcileSummary struct {
	Scanned   int
	Succeeded int
	Failed    int
	Skipped   int
}

// CancellationNotice is handed to the notifier after a cancellation commits.
type CancellationNotice struct {
	Booking Booking
	Refund  refunds.Result
	Penalty *refunds.HostPenalty
}

// RefundNotice is handed to the notifier after a refund settles or fails.
type RefundNotice struct {
	Booking Booking
	Outcome RefundOutcome
}
