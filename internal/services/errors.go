package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sahra-camps/api/internal/repositories"
)

var (
	// ErrBookingInvalidInput indicates the caller supplied invalid input parameters.
	ErrBookingInvalidInput = errors.New("booking: invalid input")
	// ErrBookingNotFound indicates the booking, or a record it depends on, does not exist.
	ErrBookingNotFound = errors.New("booking: not found")
	// ErrBookingForbidden indicates the caller may not act on the booking.
	ErrBookingForbidden = errors.New("booking: forbidden")
	// ErrBookingNotCancellable indicates the booking is not in a state that allows the operation.
	ErrBookingNotCancellable = errors.New("booking: not cancellable")
	// ErrBookingConflict indicates a concurrent modification prevented completing the operation.
	ErrBookingConflict = errors.New("booking: conflict")
	// ErrBookingUnavailable indicates persistence dependencies are currently unavailable.
	ErrBookingUnavailable = errors.New("booking: unavailable")

	// ErrRefundPrecondition indicates a refund may not be issued: the listing is non-refundable,
	// the booking lacks payment data, or the computed refund is zero.
	ErrRefundPrecondition = errors.New("refund: failed precondition")
	// ErrRefundInProgress indicates another attempt holds the refund.
	ErrRefundInProgress = errors.New("refund: in progress")
	// ErrRefundGateway indicates the payment gateway rejected or failed the refund.
	ErrRefundGateway = errors.New("refund: gateway error")
)

func mapRepositoryError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch {
	case repositories.IsNotFound(err):
		return fmt.Errorf("%w: %s: %v", ErrBookingNotFound, op, err)
	case repositories.IsConflict(err):
		return fmt.Errorf("%w: %s: %v", ErrBookingConflict, op, err)
	case repositories.IsUnavailable(err):
		return fmt.Errorf("%w: %s: %v", ErrBookingUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isServiceError reports whether err already carries one of the sentinels above, so transaction
// wrappers do not re-map it.
func isServiceError(err error) bool {
	for _, target := range []error{
		ErrBookingInvalidInput, ErrBookingNotFound, ErrBookingForbidden, ErrBookingNotCancellable,
		ErrBookingConflict, ErrBookingUnavailable, ErrRefundPrecondition, ErrRefundInProgress, ErrRefundGateway,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
