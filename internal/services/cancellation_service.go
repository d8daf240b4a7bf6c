package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/sahra-camps/api/internal/domain"
	"github.com/sahra-camps/api/internal/platform/requestctx"
	"github.com/sahra-camps/api/internal/platform/textutil"
	"github.com/sahra-camps/api/internal/refunds"
	"github.com/sahra-camps/api/internal/repositories"
)

const (
	maxCancellationReasonRunes = 500
	nonRefundableReason        = "No refund (non-refundable listing)"
)

// CancellationServiceDeps wires the dependencies required by the cancellation service.
type CancellationServiceDeps struct {
	Bookings   repositories.BookingRepository
	Camps      repositories.CampRepository
	UnitOfWork repositories.UnitOfWork
	Engine     *refunds.Engine
	Refunds    RefundService
	Events     BookingEventPublisher
	Notifier   CancellationNotifier
	Metrics    RefundMetrics
	Clock      func() time.Time
	Sanitizer  func(string) string
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type cancellationService struct {
	bookings repositories.BookingRepository
	camps    repositories.CampRepository
	uow      repositories.UnitOfWork
	engine   *refunds.Engine
	refunds  RefundService
	events   eventEmitter
	notifier CancellationNotifier
	metrics  RefundMetrics
	now      func() time.Time
	sanitize func(string) string
	logger   func(ctx context.Context, event string, fields map[string]any)
}

var _ CancellationService = (*cancellationService)(nil)

// NewCancellationService constructs a CancellationService validating required dependencies.
func NewCancellationService(deps CancellationServiceDeps) (CancellationService, error) {
	if deps.Bookings == nil {
		return nil, errors.New("cancellation service: booking repository is required")
	}
	if deps.Camps == nil {
		return nil, errors.New("cancellation service: camp repository is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("cancellation service: unit of work is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("cancellation service: refund engine is required")
	}
	if deps.Refunds == nil {
		return nil, errors.New("cancellation service: refund service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	sanitize := deps.Sanitizer
	if sanitize == nil {
		sanitize = func(reason string) string {
			return textutil.PlainText(reason, maxCancellationReasonRunes)
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cancellationService{
		bookings: deps.Bookings,
		camps:    deps.Camps,
		uow:      deps.UnitOfWork,
		engine:   deps.Engine,
		refunds:  deps.Refunds,
		events:   newEventEmitter(deps.Events, logger),
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		now: func() time.Time {
			return clock().UTC()
		},
		sanitize: sanitize,
		logger:   logger,
	}, nil
}

func (s *cancellationService) PreviewGuestCancellation(ctx context.Context, cmd CancellationQuoteCommand) (GuestCancellationQuote, error) {
	if err := validateActorCommand(cmd.BookingID, cmd.ActorID); err != nil {
		return GuestCancellationQuote{}, err
	}

	booking, err := s.bookings.FindByID(ctx, strings.TrimSpace(cmd.BookingID))
	if err != nil {
		return GuestCancellationQuote{}, mapRepositoryError(err, "load booking")
	}
	if err := authorizeGuest(booking, cmd.ActorID, cmd.Admin); err != nil {
		return GuestCancellationQuote{}, err
	}
	camp, err := s.camps.FindByID(ctx, booking.CampID)
	if err != nil {
		return GuestCancellationQuote{}, mapRepositoryError(err, "load camp")
	}

	now := s.now()
	result, _, err := s.guestRefund(booking, camp, now)
	if err != nil {
		return GuestCancellationQuote{}, err
	}
	return GuestCancellationQuote{
		BookingID:     booking.ID,
		Currency:      booking.Currency,
		Refund:        result,
		NonRefundable: camp.IsNonRefundable(),
		Cancellable:   booking.Cancellable(),
		EvaluatedAt:   now,
	}, nil
}

func (s *cancellationService) PreviewHostCancellation(ctx context.Context, cmd CancellationQuoteCommand) (HostCancellationQuote, error) {
	if err := validateActorCommand(cmd.BookingID, cmd.ActorID); err != nil {
		return HostCancellationQuote{}, err
	}

	booking, err := s.bookings.FindByID(ctx, strings.TrimSpace(cmd.BookingID))
	if err != nil {
		return HostCancellationQuote{}, mapRepositoryError(err, "load booking")
	}
	if err := authorizeHost(booking, cmd.ActorID, cmd.Admin); err != nil {
		return HostCancellationQuote{}, err
	}

	now := s.now()
	return HostCancellationQuote{
		BookingID:   booking.ID,
		Currency:    booking.Currency,
		GuestRefund: s.engine.CalculateHostCancellationRefund(booking.TotalPrice),
		Penalty:     s.engine.CalculateHostPenalty(booking.TotalPrice, booking.CheckIn, now),
		Cancellable: booking.Cancellable(),
		EvaluatedAt: now,
	}, nil
}

func (s *cancellationService) CancelAsGuest(ctx context.Context, cmd CancelBookingCommand) (CancellationOutcome, error) {
	if err := validateActorCommand(cmd.BookingID, cmd.ActorID); err != nil {
		return CancellationOutcome{}, err
	}
	ctx = requestctx.WithBookingID(ctx, strings.TrimSpace(cmd.BookingID))
	reason := s.sanitize(cmd.Reason)
	now := s.now()

	var (
		outcome CancellationOutcome
		policy  refunds.PolicyKind
	)
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		booking, err := s.bookings.FindByID(ctx, strings.TrimSpace(cmd.BookingID))
		if err != nil {
			return mapRepositoryError(err, "load booking")
		}
		if err := authorizeGuest(booking, cmd.ActorID, cmd.Admin); err != nil {
			return err
		}
		if !booking.Cancellable() {
			return fmt.Errorf("%w: booking is %s", ErrBookingNotCancellable, booking.Status)
		}
		camp, err := s.camps.FindByID(ctx, booking.CampID)
		if err != nil {
			return mapRepositoryError(err, "load camp")
		}

		result, kind, err := s.guestRefund(booking, camp, now)
		if err != nil {
			return err
		}
		policy = kind

		cancelledBy := domain.CancelledByGuest
		if booking.GuestID != strings.TrimSpace(cmd.ActorID) {
			cancelledBy = domain.CancelledByAdmin
		}
		markCancelled(&booking, cancelledBy, reason, now, result)
		if err := s.bookings.Update(ctx, booking); err != nil {
			return mapRepositoryError(err, "update booking")
		}
		outcome = CancellationOutcome{Booking: booking, Refund: result}
		return nil
	})
	if err != nil {
		return CancellationOutcome{}, translateTxError(err)
	}

	if s.metrics != nil {
		s.metrics.RecordCancellation(ctx, string(outcome.Booking.CancelledBy), string(policy))
	}
	s.logger(ctx, "booking.cancelled", map[string]any{
		"bookingId":    outcome.Booking.ID,
		"cancelledBy":  string(outcome.Booking.CancelledBy),
		"policy":       string(policy),
		"refundAmount": outcome.Refund.RefundAmount.StringFixed(3),
	})
	return s.afterCancel(ctx, cmd.ActorID, outcome), nil
}

func (s *cancellationService) CancelAsHost(ctx context.Context, cmd CancelBookingCommand) (CancellationOutcome, error) {
	if err := validateActorCommand(cmd.BookingID, cmd.ActorID); err != nil {
		return CancellationOutcome{}, err
	}
	ctx = requestctx.WithBookingID(ctx, strings.TrimSpace(cmd.BookingID))
	reason := s.sanitize(cmd.Reason)
	now := s.now()

	var outcome CancellationOutcome
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		booking, err := s.bookings.FindByID(ctx, strings.TrimSpace(cmd.BookingID))
		if err != nil {
			return mapRepositoryError(err, "load booking")
		}
		if err := authorizeHost(booking, cmd.ActorID, cmd.Admin); err != nil {
			return err
		}
		if !booking.Cancellable() {
			return fmt.Errorf("%w: booking is %s", ErrBookingNotCancellable, booking.Status)
		}

		result := s.engine.CalculateHostCancellationRefund(booking.TotalPrice)
		penalty := s.engine.CalculateHostPenalty(booking.TotalPrice, booking.CheckIn, now)

		markCancelled(&booking, domain.CancelledByHost, reason, now, result)
		booking.HostPenalty = &domain.HostPenaltyRecord{
			Percentage: penalty.PenaltyPercentage,
			Amount:     penalty.PenaltyAmount,
			Message:    penalty.Message,
		}
		if err := s.bookings.Update(ctx, booking); err != nil {
			return mapRepositoryError(err, "update booking")
		}
		outcome = CancellationOutcome{Booking: booking, Refund: result, Penalty: &penalty}
		return nil
	})
	if err != nil {
		return CancellationOutcome{}, translateTxError(err)
	}

	if s.metrics != nil {
		s.metrics.RecordCancellation(ctx, string(domain.CancelledByHost), "host")
		s.metrics.RecordHostPenalty(ctx, outcome.Penalty.PenaltyPercentage)
	}
	s.logger(ctx, "booking.cancelled", map[string]any{
		"bookingId":      outcome.Booking.ID,
		"cancelledBy":    string(domain.CancelledByHost),
		"refundAmount":   outcome.Refund.RefundAmount.StringFixed(3),
		"penaltyPercent": outcome.Penalty.PenaltyPercentage,
	})
	return s.afterCancel(ctx, cmd.ActorID, outcome), nil
}

// afterCancel runs the side effects that follow a committed cancellation. None of them can undo
// it: refund failures stay on the booking for reconciliation.
func (s *cancellationService) afterCancel(ctx context.Context, actorID string, outcome CancellationOutcome) CancellationOutcome {
	s.events.emit(ctx, BookingEventCancelled, outcome.Booking, s.now())

	if outcome.Booking.Refund.Status == domain.RefundStatusPending {
		result, err := s.refunds.ProcessRefund(ctx, ProcessRefundCommand{BookingID: outcome.Booking.ID, ActorID: actorID})
		if err != nil {
			s.logger(ctx, "cancellation.refund.failed", map[string]any{
				"bookingId": outcome.Booking.ID,
				"error":     err.Error(),
			})
		}
		if result.BookingID != "" {
			outcome.RefundResult = &result
			outcome.Booking.Refund.Status = result.Status
			outcome.Booking.Refund.GatewayRefundID = result.GatewayRefundID
			outcome.Booking.Refund.Attempts = result.Attempts
			outcome.Booking.Refund.LastError = result.LastError
		}
	}

	if s.notifier != nil {
		notice := CancellationNotice{Booking: outcome.Booking, Refund: outcome.Refund, Penalty: outcome.Penalty}
		if err := s.notifier.BookingCancelled(ctx, notice); err != nil {
			s.logger(ctx, "cancellation.notify.failed", map[string]any{
				"bookingId": outcome.Booking.ID,
				"error":     err.Error(),
			})
		}
	}
	return outcome
}

// guestRefund evaluates the listing's policy. Non-refundable listings still report the hours and
// fee breakdown but with a zero refund.
func (s *cancellationService) guestRefund(booking Booking, camp Camp, at time.Time) (refunds.Result, refunds.PolicyKind, error) {
	policy, err := s.engine.Resolve(refunds.Descriptor{
		Type:             camp.CancellationPolicy.Type,
		ArboonPercentage: camp.CancellationPolicy.ArboonPercentage,
	})
	if err != nil {
		return refunds.Result{}, "", fmt.Errorf("%w: camp %s: %v", ErrRefundPrecondition, camp.ID, err)
	}

	result := s.engine.CalculateRefund(booking.TotalPrice, booking.CheckIn, at, policy)
	if camp.IsNonRefundable() {
		result.RefundPercentage = 0
		result.RefundAmount = decimal.Zero
		result.EligibilityReason = nonRefundableReason
	}
	return result, policy.Kind, nil
}

func markCancelled(booking *Booking, by domain.CancelledBy, reason string, at time.Time, result refunds.Result) {
	cancelledAt := at
	booking.Status = domain.BookingStatusCancelled
	booking.CancelledAt = &cancelledAt
	booking.CancelledBy = by
	booking.CancellationReason = reason

	status := domain.RefundStatusPending
	if !result.RefundAmount.IsPositive() {
		status = domain.RefundStatusNotApplicable
	}
	booking.Refund = domain.RefundRecord{
		Status:     status,
		Amount:     result.RefundAmount,
		Percentage: result.RefundPercentage,
		Reason:     result.EligibilityReason,
	}
}

func validateActorCommand(bookingID, actorID string) error {
	if strings.TrimSpace(bookingID) == "" {
		return fmt.Errorf("%w: booking id is required", ErrBookingInvalidInput)
	}
	if strings.TrimSpace(actorID) == "" {
		return fmt.Errorf("%w: actor id is required", ErrBookingInvalidInput)
	}
	return nil
}

func authorizeGuest(booking Booking, actorID string, admin bool) error {
	if admin || booking.GuestID == strings.TrimSpace(actorID) {
		return nil
	}
	return fmt.Errorf("%w: booking %s belongs to another guest", ErrBookingForbidden, booking.ID)
}

func authorizeHost(booking Booking, actorID string, admin bool) error {
	if admin || (booking.HostID != "" && booking.HostID == strings.TrimSpace(actorID)) {
		return nil
	}
	return fmt.Errorf("%w: booking %s is hosted by another account", ErrBookingForbidden, booking.ID)
}

func translateTxError(err error) error {
	if err == nil || isServiceError(err) {
		return err
	}
	return mapRepositoryError(err, "transaction")
}
