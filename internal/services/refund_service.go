package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"

	domain "github.com/sahra-camps/api/internal/domain"
	"github.com/sahra-camps/api/internal/payments"
	"github.com/sahra-camps/api/internal/platform/observability"
	"github.com/sahra-camps/api/internal/platform/requestctx"
	"github.com/sahra-camps/api/internal/platform/textutil"
	"github.com/sahra-camps/api/internal/refunds"
	"github.com/sahra-camps/api/internal/repositories"
)

const (
	defaultRefundMaxAttempts = 5
	defaultReconcileBatch    = 50
	defaultRefundStaleAfter  = 10 * time.Minute
	maxRefundErrorLength     = 300
	reconcilerActor          = "system:reconciler"
)

// refundGateway abstracts payments.Manager for easier testing.
type refundGateway interface {
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.RefundResult, error)
	LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error)
}

// RefundServiceDeps wires the dependencies required by the refund service.
type RefundServiceDeps struct {
	Bookings     repositories.BookingRepository
	Camps        repositories.CampRepository
	Transactions repositories.TransactionRepository
	UnitOfWork   repositories.UnitOfWork
	Engine       *refunds.Engine
	Payments     refundGateway
	Events       BookingEventPublisher
	Notifier     CancellationNotifier
	Metrics      RefundMetrics
	Clock        func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
	// MaxAttempts caps automatic retries during reconciliation. Explicit refund requests ignore it.
	MaxAttempts int
	BatchSize   int
	// StaleAfter is how long a refund may stay in processing before another attempt may take it over.
	StaleAfter time.Duration
}

type refundService struct {
	bookings     repositories.BookingRepository
	camps        repositories.CampRepository
	transactions repositories.TransactionRepository
	uow          repositories.UnitOfWork
	engine       *refunds.Engine
	payments     refundGateway
	events       eventEmitter
	notifier     CancellationNotifier
	metrics      RefundMetrics
	now          func() time.Time
	logger       func(ctx context.Context, event string, fields map[string]any)
	maxAttempts  int
	batchSize    int
	staleAfter   time.Duration
}

var _ RefundService = (*refundService)(nil)

// NewRefundService constructs a RefundService validating required dependencies.
func NewRefundService(deps RefundServiceDeps) (RefundService, error) {
	switch {
	case deps.Bookings == nil:
		return nil, errors.New("refund service: booking repository is required")
	case deps.Camps == nil:
		return nil, errors.New("refund service: camp repository is required")
	case deps.Transactions == nil:
		return nil, errors.New("refund service: transaction repository is required")
	case deps.UnitOfWork == nil:
		return nil, errors.New("refund service: unit of work is required")
	case deps.Engine == nil:
		return nil, errors.New("refund service: refund engine is required")
	case deps.Payments == nil:
		return nil, errors.New("refund service: payment manager is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	maxAttempts := deps.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultRefundMaxAttempts
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	stale := deps.StaleAfter
	if stale <= 0 {
		stale = defaultRefundStaleAfter
	}

	return &refundService{
		bookings:     deps.Bookings,
		camps:        deps.Camps,
		transactions: deps.Transactions,
		uow:          deps.UnitOfWork,
		engine:       deps.Engine,
		payments:     deps.Payments,
		events:       newEventEmitter(deps.Events, logger),
		notifier:     deps.Notifier,
		metrics:      deps.Metrics,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:      logger,
		maxAttempts: maxAttempts,
		batchSize:   batch,
		staleAfter:  stale,
	}, nil
}

// refundClaim is the state captured when an attempt takes ownership of a booking's refund.
type refundClaim struct {
	booking     Booking
	txn         Transaction
	minorAmount int64
	priorStatus domain.RefundStatus
	settled     bool
}

func (s *refundService) ProcessRefund(ctx context.Context, cmd ProcessRefundCommand) (RefundOutcome, error) {
	if err := validateActorCommand(cmd.BookingID, cmd.ActorID); err != nil {
		return RefundOutcome{}, err
	}
	ctx = requestctx.WithBookingID(ctx, strings.TrimSpace(cmd.BookingID))

	claim, err := s.claim(ctx, strings.TrimSpace(cmd.BookingID))
	if err != nil {
		return RefundOutcome{}, err
	}
	if claim.settled {
		outcome := outcomeFromBooking(claim.booking, claim.txn.Provider)
		outcome.AlreadyProcessed = true
		return outcome, nil
	}

	booking := claim.booking
	paymentCtx := payments.PaymentContext{
		PreferredProvider: chooseFirstNonEmpty(claim.txn.Provider, booking.PaymentProvider),
		Currency:          booking.Currency,
	}
	reference := claim.txn.GatewayReference()

	// A previous attempt may have reached the gateway even though we never recorded the result.
	if booking.Refund.Attempts > 1 || booking.Refund.GatewayRefundID != "" {
		details, err := s.payments.LookupPayment(ctx, paymentCtx, payments.LookupRequest{PaymentReference: reference})
		switch {
		case err != nil:
			s.logger(ctx, "refund.lookup.failed", map[string]any{"bookingId": booking.ID, "error": err.Error()})
		case details.AmountRefunded >= claim.minorAmount:
			booking.Refund.Status = domain.RefundStatusSucceeded
			booking.Refund.LastError = ""
			return s.settle(ctx, claim, booking.Refund, details.Provider)
		case booking.Refund.GatewayRefundID != "" && claim.priorStatus == domain.RefundStatusProcessing:
			// The gateway accepted the refund and has not settled it yet.
			return s.settle(ctx, claim, booking.Refund, details.Provider)
		}
	}

	reason := "guest_cancellation"
	if booking.CancelledBy == domain.CancelledByHost {
		reason = "host_cancellation"
	}
	gatewayCtx, span := observability.StartSpan(ctx, "refunds.gateway",
		attribute.String("booking.id", booking.ID),
		attribute.String("payment.provider", paymentCtx.PreferredProvider),
		attribute.Int("refund.attempt", booking.Refund.Attempts),
	)
	result, err := s.payments.Refund(gatewayCtx, paymentCtx, payments.RefundRequest{
		PaymentReference: reference,
		Amount:           claim.minorAmount,
		Currency:         booking.Currency,
		Reason:           reason,
		IdempotencyKey:   fmt.Sprintf("refund:%s:%d", booking.ID, booking.Refund.Attempts),
		Metadata: textutil.NormalizeStringMap(map[string]string{
			"bookingId":     booking.ID,
			"campId":        booking.CampID,
			"transactionId": claim.txn.ID,
			"cancelledBy":   string(booking.CancelledBy),
			"requestedBy":   cmd.ActorID,
		}),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "refund request failed")
	}
	span.End()

	record := booking.Refund
	provider := chooseFirstNonEmpty(result.Provider, paymentCtx.PreferredProvider)
	if err != nil {
		record.Status = domain.RefundStatusFailed
		record.LastError = clipError(err.Error())
		outcome, persistErr := s.settle(ctx, claim, record, provider)
		if persistErr != nil {
			return outcome, persistErr
		}
		if errors.Is(err, payments.ErrInvalidRefund) || errors.Is(err, payments.ErrUnsupportedProvider) {
			return outcome, fmt.Errorf("%w: %v", ErrRefundPrecondition, err)
		}
		return outcome, fmt.Errorf("%w: %v", ErrRefundGateway, err)
	}

	record.GatewayRefundID = result.RefundID
	switch result.Status {
	case payments.RefundStatusSucceeded:
		record.Status = domain.RefundStatusSucceeded
		record.LastError = ""
	case payments.RefundStatusFailed:
		record.Status = domain.RefundStatusFailed
		record.LastError = clipError(chooseFirstNonEmpty(result.FailureReason, "gateway reported refund failure"))
	default:
		record.Status = domain.RefundStatusProcessing
	}
	outcome, err := s.settle(ctx, claim, record, provider)
	if err != nil {
		return outcome, err
	}
	if record.Status == domain.RefundStatusFailed {
		return outcome, fmt.Errorf("%w: %s", ErrRefundGateway, record.LastError)
	}
	return outcome, nil
}

// claim recomputes the refund and marks the booking as processing in one transaction, so two
// concurrent attempts cannot both reach the gateway.
func (s *refundService) claim(ctx context.Context, bookingID string) (refundClaim, error) {
	now := s.now()
	var claim refundClaim
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		claim = refundClaim{}
		booking, err := s.bookings.FindByID(ctx, bookingID)
		if err != nil {
			return mapRepositoryError(err, "load booking")
		}
		txn, err := s.loadTransaction(ctx, booking)
		if err != nil {
			return err
		}
		var camp Camp
		if booking.CancelledBy != domain.CancelledByHost {
			if camp, err = s.camps.FindByID(ctx, booking.CampID); err != nil {
				return mapRepositoryError(err, "load camp")
			}
		}

		if booking.Status != domain.BookingStatusCancelled {
			return fmt.Errorf("%w: refunds are only issued for cancelled bookings", ErrBookingNotCancellable)
		}
		if booking.Refund.Status == domain.RefundStatusSucceeded {
			claim = refundClaim{booking: booking, txn: txn, settled: true}
			return nil
		}
		if booking.Refund.Status == domain.RefundStatusProcessing && !s.stale(booking, now) {
			return fmt.Errorf("%w: booking %s", ErrRefundInProgress, booking.ID)
		}

		result, err := s.recompute(booking, camp, now)
		if err != nil {
			return err
		}
		minor := payments.MinorUnits(result.RefundAmount, booking.Currency)
		if minor <= 0 {
			return fmt.Errorf("%w: refund rounds to zero minor units", ErrRefundPrecondition)
		}

		prior := booking.Refund.Status
		attempts := booking.Refund.Attempts
		if !awaitingGateway(booking.Refund) {
			attempts++
		}
		booking.Refund = domain.RefundRecord{
			Status:          domain.RefundStatusProcessing,
			Amount:          result.RefundAmount,
			Percentage:      result.RefundPercentage,
			Reason:          result.EligibilityReason,
			GatewayRefundID: booking.Refund.GatewayRefundID,
			Attempts:        attempts,
			LastError:       booking.Refund.LastError,
		}
		if err := s.bookings.Update(ctx, booking); err != nil {
			return mapRepositoryError(err, "claim refund")
		}
		claim = refundClaim{booking: booking, txn: txn, minorAmount: minor, priorStatus: prior}
		return nil
	})
	if err != nil {
		return refundClaim{}, translateTxError(err)
	}
	return claim, nil
}

// recompute derives the authoritative refund from stored booking data. Guest and admin
// cancellations are evaluated at the moment they were recorded.
func (s *refundService) recompute(booking Booking, camp Camp, now time.Time) (refunds.Result, error) {
	switch {
	case !booking.TotalPrice.IsPositive():
		return refunds.Result{}, fmt.Errorf("%w: booking amount must be positive", ErrRefundPrecondition)
	case strings.TrimSpace(booking.Currency) == "":
		return refunds.Result{}, fmt.Errorf("%w: booking currency is missing", ErrRefundPrecondition)
	case booking.CheckIn.IsZero():
		return refunds.Result{}, fmt.Errorf("%w: booking check-in is missing", ErrRefundPrecondition)
	}

	var result refunds.Result
	if booking.CancelledBy == domain.CancelledByHost {
		result = s.engine.CalculateHostCancellationRefund(booking.TotalPrice)
	} else {
		if camp.IsNonRefundable() {
			return refunds.Result{}, fmt.Errorf("%w: listing %s is non-refundable", ErrRefundPrecondition, camp.ID)
		}
		policy, err := s.engine.Resolve(refunds.Descriptor{
			Type:             camp.CancellationPolicy.Type,
			ArboonPercentage: camp.CancellationPolicy.ArboonPercentage,
		})
		if err != nil {
			return refunds.Result{}, fmt.Errorf("%w: camp %s: %v", ErrRefundPrecondition, camp.ID, err)
		}
		evaluatedAt := now
		if booking.CancelledAt != nil {
			evaluatedAt = *booking.CancelledAt
		}
		result = s.engine.CalculateRefund(booking.TotalPrice, booking.CheckIn, evaluatedAt, policy)
	}

	if !result.RefundAmount.IsPositive() {
		return refunds.Result{}, fmt.Errorf("%w: computed refund is zero (%s)", ErrRefundPrecondition, result.EligibilityReason)
	}
	return result, nil
}

// settle persists the attempt's result on the booking and its transaction, then emits events.
func (s *refundService) settle(ctx context.Context, claim refundClaim, record domain.RefundRecord, provider string) (RefundOutcome, error) {
	now := s.now()
	if record.Status == domain.RefundStatusSucceeded && record.ProcessedAt == nil {
		record.ProcessedAt = &now
	}
	booking := claim.booking
	booking.Refund = record
	txn := claim.txn
	txn.Refund = record
	if record.Status == domain.RefundStatusSucceeded {
		txn.Status = "refunded"
		if record.Amount.LessThan(txn.Amount) {
			txn.Status = "partially_refunded"
		}
	}

	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.bookings.Update(ctx, booking); err != nil {
			return mapRepositoryError(err, "update booking refund")
		}
		if err := s.transactions.Update(ctx, txn); err != nil {
			return mapRepositoryError(err, "update transaction refund")
		}
		return nil
	})
	outcome := outcomeFromBooking(booking, provider)
	if err != nil {
		s.logger(ctx, "refund.persist.failed", map[string]any{
			"bookingId":       booking.ID,
			"gatewayRefundId": record.GatewayRefundID,
			"status":          string(record.Status),
			"error":           err.Error(),
		})
		return outcome, translateTxError(err)
	}

	amount, _ := record.Amount.Float64()
	if s.metrics != nil {
		s.metrics.RecordRefund(ctx, provider, string(record.Status), amount)
	}
	s.logger(ctx, "refund."+string(record.Status), map[string]any{
		"bookingId":       booking.ID,
		"provider":        provider,
		"amount":          record.Amount.StringFixed(3),
		"currency":        booking.Currency,
		"attempts":        record.Attempts,
		"gatewayRefundId": record.GatewayRefundID,
	})

	switch record.Status {
	case domain.RefundStatusSucceeded:
		s.events.emit(ctx, BookingEventRefundProcessed, booking, now)
		if s.notifier != nil {
			if err := s.notifier.RefundProcessed(ctx, RefundNotice{Booking: booking, Outcome: outcome}); err != nil {
				s.logger(ctx, "refund.notify.failed", map[string]any{"bookingId": booking.ID, "error": err.Error()})
			}
		}
	case domain.RefundStatusFailed:
		s.events.emit(ctx, BookingEventRefundFailed, booking, now)
	}
	return outcome, nil
}

func (s *refundService) ReconcilePendingRefunds(ctx context.Context, limit int) (ReconcileSummary, error) {
	if limit <= 0 {
		limit = s.batchSize
	}
	bookings, err := s.bookings.ListByRefundStatus(ctx, []domain.RefundStatus{
		domain.RefundStatusPending,
		domain.RefundStatusFailed,
		domain.RefundStatusProcessing,
	}, limit)
	if err != nil {
		return ReconcileSummary{}, mapRepositoryError(err, "list pending refunds")
	}

	now := s.now()
	var summary ReconcileSummary
	for _, booking := range bookings {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Scanned++
		if (booking.Refund.Attempts >= s.maxAttempts && !awaitingGateway(booking.Refund)) ||
			(booking.Refund.Status == domain.RefundStatusProcessing && !s.stale(booking, now)) {
			summary.Skipped++
			continue
		}

		outcome, err := s.ProcessRefund(ctx, ProcessRefundCommand{BookingID: booking.ID, ActorID: reconcilerActor})
		switch {
		case err == nil && outcome.Status == domain.RefundStatusSucceeded:
			summary.Succeeded++
		case err == nil:
			summary.Skipped++
		case errors.Is(err, ErrRefundInProgress) || errors.Is(err, ErrRefundPrecondition) || errors.Is(err, ErrBookingNotCancellable):
			summary.Skipped++
			s.logger(ctx, "refund.reconcile.skipped", map[string]any{"bookingId": booking.ID, "reason": err.Error()})
		default:
			summary.Failed++
		}
	}

	s.logger(ctx, "refund.reconcile.completed", map[string]any{
		"scanned":   summary.Scanned,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
	})
	return summary, nil
}

func (s *refundService) loadTransaction(ctx context.Context, booking Booking) (Transaction, error) {
	var (
		txn Transaction
		err error
	)
	if id := strings.TrimSpace(booking.TransactionID); id != "" {
		txn, err = s.transactions.FindByID(ctx, id)
	} else {
		txn, err = s.transactions.FindByBookingID(ctx, booking.ID)
	}
	if repositories.IsNotFound(err) {
		return Transaction{}, fmt.Errorf("%w: booking %s has no payment transaction", ErrRefundPrecondition, booking.ID)
	}
	if err != nil {
		return Transaction{}, mapRepositoryError(err, "load transaction")
	}
	if txn.GatewayReference() == "" {
		return Transaction{}, fmt.Errorf("%w: transaction %s has no gateway reference", ErrRefundPrecondition, txn.ID)
	}
	return txn, nil
}

// awaitingGateway reports a refund the gateway accepted but has not settled. Passes over it only
// look the payment up, so they do not count as attempts.
func awaitingGateway(record domain.RefundRecord) bool {
	return record.Status == domain.RefundStatusProcessing && record.GatewayRefundID != ""
}

func (s *refundService) stale(booking Booking, now time.Time) bool {
	return booking.UpdatedAt.IsZero() || now.Sub(booking.UpdatedAt) >= s.staleAfter
}

func outcomeFromBooking(booking Booking, provider string) RefundOutcome {
	return RefundOutcome{
		BookingID:       booking.ID,
		Status:          booking.Refund.Status,
		Amount:          booking.Refund.Amount,
		Percentage:      booking.Refund.Percentage,
		Currency:        booking.Currency,
		Provider:        chooseFirstNonEmpty(provider, booking.PaymentProvider),
		GatewayRefundID: booking.Refund.GatewayRefundID,
		Reason:          booking.Refund.Reason,
		Attempts:        booking.Refund.Attempts,
		LastError:       booking.Refund.LastError,
	}
}

func clipError(message string) string {
	message = strings.TrimSpace(message)
	if runes := []rune(message); len(runes) > maxRefundErrorLength {
		return string(runes[:maxRefundErrorLength])
	}
	return message
}
