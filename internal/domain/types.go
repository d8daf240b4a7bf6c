package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BookingStatus tracks the lifecycle of a reservation.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

// CancelledBy identifies which party initiated a cancellation.
type CancelledBy string

const (
	CancelledByGuest CancelledBy = "guest"
	CancelledByHost  CancelledBy = "host"
	CancelledByAdmin CancelledBy = "admin"
)

// RefundStatus is persisted on bookings and transactions as the durable trace of a refund attempt.
type RefundStatus string

const (
	RefundStatusNone          RefundStatus = ""
	RefundStatusNotApplicable RefundStatus = "not_applicable"
	RefundStatusPending       RefundStatus = "pending"
	RefundStatusProcessing    RefundStatus = "processing"
	RefundStatusSucceeded     RefundStatus = "succeeded"
	RefundStatusFailed        RefundStatus = "failed"
)

// Listing-level refund policy values stored on camps.
const (
	CampRefundPolicyRefundable    = "refundable"
	CampRefundPolicyNonRefundable = "non-refundable"
)

// PaymentProvider names the gateway that captured a booking payment.
const (
	PaymentProviderStripe = "stripe"
	PaymentProviderTap    = "tap"
)

// RefundRecord captures the refund fields written onto bookings and transactions.
type RefundRecord struct {
	Status          RefundStatus
	Amount          decimal.Decimal
	Percentage      int
	Reason          string
	GatewayRefundID string
	Attempts        int
	LastError       string
	ProcessedAt     *time.Time
}

// HostPenaltyRecord is stored when a host cancels a booking.
type HostPenaltyRecord struct {
	Percentage int
	Amount     decimal.Decimal
	Message    string
}

// Booking is a guest reservation for a camp.
type Booking struct {
	ID              string
	CampID          string
	CampTitle       string
	GuestID         string
	GuestName       string
	GuestEmail      string
	GuestLocale     string
	HostID          string
	HostEmail       string
	CheckIn         time.Time
	CheckOut        time.Time
	TotalPrice      decimal.Decimal
	Currency        string
	Status          BookingStatus
	PaymentProvider string
	TransactionID   string

	CancelledAt        *time.Time
	CancelledBy        CancelledBy
	CancellationReason string
	Refund             RefundRecord
	HostPenalty        *HostPenaltyRecord

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Cancellable reports whether the booking may still be cancelled.
func (b Booking) Cancellable() bool {
	return b.Status == BookingStatusPending || b.Status == BookingStatusConfirmed
}

// CampCancellationPolicy is the typed policy object hosts configure on a listing. Older listings store
// only a policy name such as "flexible" in Type.
type CampCancellationPolicy struct {
	Type             string
	ArboonPercentage int
}

// Camp is a bookable listing.
type Camp struct {
	ID                 string
	HostID             string
	Title              string
	RefundPolicy       string
	CancellationPolicy CampCancellationPolicy
}

// IsNonRefundable reports whether the listing-level override blocks every guest refund.
func (c Camp) IsNonRefundable() bool {
	return strings.EqualFold(strings.TrimSpace(c.RefundPolicy), CampRefundPolicyNonRefundable)
}

// Transaction records the payment captured for a booking.
type Transaction struct {
	ID              string
	BookingID       string
	Provider        string
	PaymentIntentID string
	ChargeID        string
	Amount          decimal.Decimal
	Currency        string
	Status          string
	Refund          RefundRecord
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// GatewayReference returns the identifier the payment gateway refunds against: the charge for Tap,
// the payment intent otherwise.
func (t Transaction) GatewayReference() string {
	primary, fallback := t.PaymentIntentID, t.ChargeID
	if strings.EqualFold(strings.TrimSpace(t.Provider), PaymentProviderTap) {
		primary, fallback = fallback, primary
	}
	if strings.TrimSpace(primary) != "" {
		return strings.TrimSpace(primary)
	}
	return strings.TrimSpace(fallback)
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
