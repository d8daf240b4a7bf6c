package services

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/sahra-camps/api/internal/domain"
	"github.com/sahra-camps/api/internal/payments"
)

var (
	flexibleCamp      = domain.Camp{Title: "Sakhir dunes", RefundPolicy: domain.CampRefundPolicyRefundable, CancellationPolicy: domain.CampCancellationPolicy{Type: "flexible"}}
	nonRefundableCamp = domain.Camp{Title: "Jaww beach", RefundPolicy: domain.CampRefundPolicyNonRefundable, CancellationPolicy: domain.CampCancellationPolicy{Type: "flexible"}}
)

func TestPreviewGuestCancellationFullRefund(t *testing.T) {
	f := newFixture(t)
	f.seed(72, flexibleCamp)

	quote, err := f.cancels.PreviewGuestCancellation(context.Background(), CancellationQuoteCommand{BookingID: "bk_1", ActorID: "guest_1"})
	if err != nil {
		t.Fatalf("PreviewGuestCancellation: %v", err)
	}
	if !quote.Refund.RefundAmount.Equal(decimal.NewFromInt(81)) || quote.Refund.RefundPercentage != 100 {
		t.Fatalf("expected 81.000 at 100%%, got %s at %d", quote.Refund.RefundAmount, quote.Refund.RefundPercentage)
	}
	if !quote.Refund.ServiceFee.Equal(decimal.NewFromInt(9)) {
		t.Fatalf("expected 9.000 service fee, got %s", quote.Refund.ServiceFee)
	}
	if !quote.Cancellable || quote.NonRefundable || quote.Currency != "BHD" || !quote.EvaluatedAt.Equal(testNow) {
		t.Fatalf("unexpected quote %+v", quote)
	}
	if len(f.gateway.requests) != 0 || f.store.bookingWrite != 0 {
		t.Fatalf("preview must not write or refund")
	}
}

func TestPreviewGuestCancellationAuthorization(t *testing.T) {
	f := newFixture(t)
	f.seed(72, flexibleCamp)
	ctx := context.Background()

	if _, err := f.cancels.PreviewGuestCancellation(ctx, CancellationQuoteCommand{BookingID: "bk_1", ActorID: "guest_2"}); !errors.Is(err, ErrBookingForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.cancels.PreviewGuestCancellation(ctx, CancellationQuoteCommand{BookingID: "bk_1", ActorID: "support_1", Admin: true}); err != nil {
		t.Fatalf("expected admin preview to succeed, got %v", err)
	}
	if _, err := f.cancels.PreviewGuestCancellation(ctx, CancellationQuoteCommand{BookingID: "missing", ActorID: "guest_1"}); !errors.Is(err, ErrBookingNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.cancels.PreviewGuestCancellation(ctx, CancellationQuoteCommand{BookingID: " ", ActorID: "guest_1"}); !errors.Is(err, ErrBookingInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestPreviewGuestCancellationNonRefundableListing(t *testing.T) {
	f := newFixture(t)
	f.seed(200, nonRefundableCamp)

	quote, err := f.cancels.PreviewGuestCancellation(context.Background(), CancellationQuoteCommand{BookingID: "bk_1", ActorID: "guest_1"})
	if err != nil {
		t.Fatalf("PreviewGuestCancellation: %v", err)
	}
	if !quote.NonRefundable || !quote.Refund.RefundAmount.IsZero() || quote.Refund.RefundPercentage != 0 {
		t.Fatalf("expected zero refund for non-refundable listing, got %+v", quote)
	}
	if quote.Refund.EligibilityReason != nonRefundableReason {
		t.Fatalf("unexpected reason %q", quote.Refund.EligibilityReason)
	}
}

func TestCancelAsGuestPartialRefund(t *testing.T) {
	f := newFixture(t)
	f.seed(30, flexibleCamp)

	outcome, err := f.cancels.CancelAsGuest(context.Background(), CancelBookingCommand{
		BookingID: "bk_1",
		ActorID:   "guest_1",
		Reason:    "  <b>Sandstorm</b> warning  ",
	})
	if err != nil {
		t.Fatalf("CancelAsGuest: %v", err)
	}

	stored := f.store.bookings["bk_1"]
	if stored.Status != domain.BookingStatusCancelled || stored.CancelledBy != domain.CancelledByGuest {
		t.Fatalf("unexpected booking state %+v", stored)
	}
	if stored.CancelledAt == nil || !stored.CancelledAt.Equal(testNow) {
		t.Fatalf("expected cancelledAt %s, got %v", testNow, stored.CancelledAt)
	}
	if stored.CancellationReason != "Sandstorm warning" {
		t.Fatalf("expected sanitised reason, got %q", stored.CancellationReason)
	}
	if stored.Refund.Status != domain.RefundStatusSucceeded || !stored.Refund.Amount.Equal(decimal.RequireFromString("40.5")) || stored.Refund.Percentage != 50 {
		t.Fatalf("unexpected refund trace %+v", stored.Refund)
	}

	if len(f.gateway.requests) != 1 {
		t.Fatalf("expected one gateway refund, got %d", len(f.gateway.requests))
	}
	req := f.gateway.requests[0]
	if req.Amount != 40500 || req.Currency != "BHD" || req.PaymentReference != "pi_1" {
		t.Fatalf("unexpected refund request %+v", req)
	}
	if req.IdempotencyKey != "refund:bk_1:1" || req.Reason != "guest_cancellation" || req.Metadata["bookingId"] != "bk_1" {
		t.Fatalf("unexpected refund request metadata %+v", req)
	}
	if f.gateway.contexts[0].PreferredProvider != payments.ProviderStripe {
		t.Fatalf("expected refund routed to stripe, got %+v", f.gateway.contexts[0])
	}

	txn := f.store.transactions["txn_1"]
	if txn.Status != "partially_refunded" || txn.Refund.GatewayRefundID != "re_1" {
		t.Fatalf("unexpected transaction %+v", txn)
	}
	if outcome.RefundResult == nil || outcome.RefundResult.Status != domain.RefundStatusSucceeded {
		t.Fatalf("expected refund result on outcome, got %+v", outcome.RefundResult)
	}
	if got, want := f.events.types(), []string{BookingEventCancelled, BookingEventRefundProcessed}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	if len(f.notifier.cancelled) != 1 || len(f.notifier.refunded) != 1 {
		t.Fatalf("expected cancellation and refund emails, got %d/%d", len(f.notifier.cancelled), len(f.notifier.refunded))
	}
}

func TestCancelAsGuestZeroRefundStillCancels(t *testing.T) {
	f := newFixture(t)
	f.seed(10, flexibleCamp)

	outcome, err := f.cancels.CancelAsGuest(context.Background(), CancelBookingCommand{BookingID: "bk_1", ActorID: "guest_1"})
	if err != nil {
		t.Fatalf("CancelAsGuest: %v", err)
	}
	if outcome.Booking.Status != domain.BookingStatusCancelled || outcome.Booking.Refund.Status != domain.RefundStatusNotApplicable {
		t.Fatalf("unexpected outcome %+v", outcome.Booking)
	}
	if outcome.RefundResult != nil || len(f.gateway.requests) != 0 {
		t.Fatalf("zero refunds must not reach the gateway")
	}
	if got := f.events.types(); !reflect.DeepEqual(got, []string{BookingEventCancelled}) {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestCancelAsGuestNonRefundableListingSkipsGateway(t *testing.T) {
	f := newFixture(t)
	f.seed(200, nonRefundableCamp)

	outcome, err := f.cancels.CancelAsGuest(context.Background(), CancelBookingCommand{BookingID: "bk_1", ActorID: "guest_1"})
	if err != nil {
		t.Fatalf("CancelAsGuest: %v", err)
	}
	if outcome.Booking.Refund.Status != domain.RefundStatusNotApplicable || len(f.gateway.requests) != 0 {
		t.Fatalf("expected no refund for non-refundable listing, got %+v", outcome.Booking.Refund)
	}
}

func TestCancelAsGuestRejectsCancelledBooking(t *testing.T) {
	f := newFixture(t)
	booking := f.seed(72, flexibleCamp)
	booking.Status = domain.BookingStatusCancelled
	f.store.bookings[booking.ID] = booking

	_, err := f.cancels.CancelAsGuest(context.Background(), CancelBookingCommand{BookingID: "bk_1", ActorID: "guest_1"})
	if !errors.Is(err, ErrBookingNotCancellable) {
		t.Fatalf("expected not cancellable, got %v", err)
	}
	if f.store.bookingWrite != 0 {
		t.Fatalf("expected no writes")
	}
}

func TestCancelAsGuestGatewayFailureKeepsCancellation(t *testing.T) {
	f := newFixture(t)
	f.seed(72, flexibleCamp)
	f.gateway.err = errors.New("stripe: card_declined")

	outcome, err := f.cancels.CancelAsGuest(context.Background(), CancelBookingCommand{BookingID: "bk_1", ActorID: "guest_1"})
	if err != nil {
		t.Fatalf("expected cancellation to succeed despite refund failure, got %v", err)
	}
	stored := f.store.bookings["bk_1"]
	if stored.Status != domain.BookingStatusCancelled || stored.Refund.Status != domain.RefundStatusFailed {
		t.Fatalf("unexpected booking %+v", stored)
	}
	if stored.Refund.Attempts != 1 || stored.Refund.LastError == "" {
		t.Fatalf("expected failed attempt recorded, got %+v", stored.Refund)
	}
	if outcome.RefundResult == nil || outcome.RefundResult.Status != domain.RefundStatusFailed {
		t.Fatalf("expected failed refund result, got %+v", outcome.RefundResult)
	}
	if got := f.events.types(); !reflect.DeepEqual(got, []string{BookingEventCancelled, BookingEventRefundFailed}) {
		t.Fatalf("unexpected events %v", got)
	}
	if len(f.notifier.refunded) != 0 {
		t.Fatalf("refund email must only follow a settled refund")
	}
}

func TestCancelAsGuestAdminActor(t *testing.T) {
	f := newFixture(t)
	f.seed(72, flexibleCamp)

	outcome, err := f.cancels.CancelAsGuest(context.Background(), CancelBookingCommand{BookingID: "bk_1", ActorID: "support_1", Admin: true})
	if err != nil {
		t.Fatalf("CancelAsGuest: %v", err)
	}
	if outcome.Booking.CancelledBy != domain.CancelledByAdmin {
		t.Fatalf("expected admin cancellation, got %s", outcome.Booking.CancelledBy)
	}
}

func TestCancelAsGuestPartialRefundablePolicy(t *testing.T) {
	f := newFixture(t)
	f.seed(100, domain.Camp{CancellationPolicy: domain.CampCancellationPolicy{Type: "partial_refundable", ArboonPercentage: 20}})

	outcome, err := f.cancels.CancelAsGuest(context.Background(), CancelBookingCommand{BookingID: "bk_1", ActorID: "guest_1"})
	if err != nil {
		t.Fatalf("CancelAsGuest: %v", err)
	}
	if !outcome.Refund.DepositAmount.Equal(decimal.NewFromInt(18)) || !outcome.Refund.RefundAmount.Equal(decimal.NewFromInt(72)) {
		t.Fatalf("expected 18 deposit and 72 refund, got %+v", outcome.Refund)
	}
	if f.gateway.requests[0].Amount != 72000 {
		t.Fatalf("expected 72000 fils, got %d", f.gateway.requests[0].Amount)
	}
}

func TestCancelAsGuestRollsBackOnWriteFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(72, flexibleCamp)
	f.store.updateErr = notFoundError{id: "bk_1"}

	_, err := f.cancels.CancelAsGuest(context.Background(), CancelBookingCommand{BookingID: "bk_1", ActorID: "guest_1"})
	if !errors.Is(err, ErrBookingNotFound) {
		t.Fatalf("expected mapped repository error, got %v", err)
	}
	if f.store.bookings["bk_1"].Status != domain.BookingStatusConfirmed {
		t.Fatalf("expected booking untouched")
	}
	if len(f.events.types()) != 0 {
		t.Fatalf("no events expected after a failed cancellation")
	}
}

func TestPreviewHostCancellation(t *testing.T) {
	f := newFixture(t)
	f.seed(30, flexibleCamp)

	quote, err := f.cancels.PreviewHostCancellation(context.Background(), CancellationQuoteCommand{BookingID: "bk_1", ActorID: "host_1"})
	if err != nil {
		t.Fatalf("PreviewHostCancellation: %v", err)
	}
	if !quote.GuestRefund.RefundAmount.Equal(decimal.NewFromInt(90)) || quote.GuestRefund.RefundPercentage != 100 {
		t.Fatalf("expected full guest refund, got %+v", quote.GuestRefund)
	}
	if quote.Penalty.PenaltyPercentage != 25 || !quote.Penalty.PenaltyAmount.Equal(decimal.RequireFromString("22.5")) {
		t.Fatalf("expected 25%% penalty of 22.500, got %+v", quote.Penalty)
	}

	if _, err := f.cancels.PreviewHostCancellation(context.Background(), CancellationQuoteCommand{BookingID: "bk_1", ActorID: "guest_1"}); !errors.Is(err, ErrBookingForbidden) {
		t.Fatalf("expected guest to be forbidden from host preview, got %v", err)
	}
}

func TestCancelAsHostIgnoresNonRefundableListing(t *testing.T) {
	f := newFixture(t)
	f.seed(30, nonRefundableCamp)

	outcome, err := f.cancels.CancelAsHost(context.Background(), CancelBookingCommand{BookingID: "bk_1", ActorID: "host_1", Reason: "Generator failure"})
	if err != nil {
		t.Fatalf("CancelAsHost: %v", err)
	}
	stored := f.store.bookings["bk_1"]
	if stored.CancelledBy != domain.CancelledByHost || stored.HostPenalty == nil || stored.HostPenalty.Percentage != 25 {
		t.Fatalf("unexpected booking %+v", stored)
	}
	if stored.Refund.Status != domain.RefundStatusSucceeded || stored.Refund.Percentage != 100 {
		t.Fatalf("unexpected refund %+v", stored.Refund)
	}
	if f.gateway.requests[0].Amount != 90000 || f.gateway.requests[0].Reason != "host_cancellation" {
		t.Fatalf("unexpected gateway request %+v", f.gateway.requests[0])
	}
	if f.store.transactions["txn_1"].Status != "refunded" {
		t.Fatalf("expected fully refunded transaction")
	}
	if outcome.Penalty == nil || len(f.notifier.cancelled) != 1 || f.notifier.cancelled[0].Penalty == nil {
		t.Fatalf("expected penalty on outcome and notice")
	}
}

func TestCancelAsHostPastCheckInUsesHighestPenalty(t *testing.T) {
	f := newFixture(t)
	f.seed(-5, flexibleCamp)

	outcome, err := f.cancels.CancelAsHost(context.Background(), CancelBookingCommand{BookingID: "bk_1", ActorID: "host_1"})
	if err != nil {
		t.Fatalf("CancelAsHost: %v", err)
	}
	if outcome.Penalty.PenaltyPercentage != 50 || outcome.Penalty.HoursUntilCheckIn != -5 {
		t.Fatalf("expected 50%% penalty at -5h, got %+v", outcome.Penalty)
	}
	if outcome.Booking.CancelledAt == nil || !outcome.Booking.CancelledAt.Equal(testNow) {
		t.Fatalf("expected cancelledAt %s, got %v", testNow, outcome.Booking.CancelledAt)
	}
}
