package repositories

import (
	"context"
	"errors"

	domain "github.com/sahra-camps/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Bookings() BookingRepository
	Camps() CampRepository
	Transactions() TransactionRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary. Repository calls made with
// the ctx passed to fn join the transaction; within fn all reads must precede writes.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// BookingRepository persists reservations.
type BookingRepository interface {
	FindByID(ctx context.Context, bookingID string) (domain.Booking, error)
	// Update overwrites the cancellation, refund and host penalty fields of an existing booking.
	Update(ctx context.Context, booking domain.Booking) error
	// ListByRefundStatus returns cancelled bookings whose refund status is one of statuses, oldest
	// cancellation first.
	ListByRefundStatus(ctx context.Context, statuses []domain.RefundStatus, limit int) ([]domain.Booking, error)
}

// CampRepository reads listings. Camps are owned by the listing service; this API never writes them.
type CampRepository interface {
	FindByID(ctx context.Context, campID string) (domain.Camp, error)
}

// TransactionRepository persists captured payments and their refund trace.
type TransactionRepository interface {
	FindByID(ctx context.Context, transactionID string) (domain.Transaction, error)
	FindByBookingID(ctx context.Context, bookingID string) (domain.Transaction, error)
	// Update overwrites the refund fields of an existing transaction.
	Update(ctx context.Context, txn domain.Transaction) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// IsNotFound reports whether err is a RepositoryError flagged as not found.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err is a RepositoryError flagged as a conflict.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

// IsUnavailable reports whether err is a RepositoryError flagged as unavailable.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
