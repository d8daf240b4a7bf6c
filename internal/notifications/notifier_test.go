package notifications

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"

	domain "github.com/sahra-camps/api/internal/domain"
	"github.com/sahra-camps/api/internal/platform/mail"
	"github.com/sahra-camps/api/internal/refunds"
	"github.com/sahra-camps/api/internal/services"
)

type captureSender struct {
	messages []mail.Message
	err      error
}

func (s *captureSender) Send(_ context.Context, msg mail.Message) error {
	s.messages = append(s.messages, msg)
	return s.err
}

func testBooking() domain.Booking {
	return domain.Booking{
		ID:                 "bk_1",
		CampID:             "camp_1",
		CampTitle:          "Sakhir dunes",
		GuestName:          "Fatima",
		GuestEmail:         "guest@example.com",
		HostEmail:          "host@example.com",
		CheckIn:            time.Date(2025, 3, 12, 14, 0, 0, 0, time.UTC),
		Currency:           "BHD",
		CancelledBy:        domain.CancelledByGuest,
		CancellationReason: "Sandstorm warning",
	}
}

func TestMatchLocale(t *testing.T) {
	cases := map[string]language.Tag{
		"":      language.English,
		"en":    language.English,
		"ar":    language.Arabic,
		"ar_BH": language.Arabic,
		"ar-SA": language.Arabic,
		"fr-FR": language.English,
		"!!":    language.English,
	}
	for input, want := range cases {
		if got := matchLocale(input); got != want {
			t.Fatalf("matchLocale(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestBookingCancelledEmailsGuestAndHost(t *testing.T) {
	sender := &captureSender{}
	notifier, err := NewEmailNotifier(sender)
	if err != nil {
		t.Fatalf("NewEmailNotifier: %v", err)
	}

	err = notifier.BookingCancelled(context.Background(), services.CancellationNotice{
		Booking: testBooking(),
		Refund: refunds.Result{
			RefundAmount:      decimal.RequireFromString("40.5"),
			RefundPercentage:  50,
			EligibilityReason: "50% refund (24 to 48 hours before check-in)",
		},
	})
	if err != nil {
		t.Fatalf("BookingCancelled: %v", err)
	}
	if len(sender.messages) != 2 {
		t.Fatalf("expected guest and host emails, got %d", len(sender.messages))
	}

	guest := sender.messages[0]
	if guest.To != "guest@example.com" || guest.Subject != "Your booking at Sakhir dunes is cancelled" {
		t.Fatalf("unexpected guest email %+v", guest)
	}
	if !strings.Contains(guest.PlainText, "40.500 BHD (50%)") || !strings.Contains(guest.HTML, "<strong>40.500 BHD</strong>") {
		t.Fatalf("expected formatted refund amount, got %q", guest.PlainText)
	}
	if !strings.Contains(guest.PlainText, "2025-03-12") {
		t.Fatalf("expected check-in date in body")
	}

	host := sender.messages[1]
	if host.To != "host@example.com" || !strings.Contains(host.PlainText, "Reason: Sandstorm warning") {
		t.Fatalf("unexpected host email %+v", host)
	}
	if host.Categories[0] != string(kindHostNotified) {
		t.Fatalf("unexpected category %v", host.Categories)
	}
}

func TestBookingCancelledArabicGuest(t *testing.T) {
	sender := &captureSender{}
	notifier, _ := NewEmailNotifier(sender)

	booking := testBooking()
	booking.GuestLocale = "ar-BH"
	booking.HostEmail = ""
	if err := notifier.BookingCancelled(context.Background(), services.CancellationNotice{Booking: booking}); err != nil {
		t.Fatalf("BookingCancelled: %v", err)
	}
	if len(sender.messages) != 1 {
		t.Fatalf("expected a single guest email, got %d", len(sender.messages))
	}
	msg := sender.messages[0]
	if !strings.Contains(msg.HTML, `dir="rtl"`) || !strings.Contains(msg.PlainText, "غير مؤهل") {
		t.Fatalf("expected Arabic no-refund email, got %q", msg.PlainText)
	}
}

func TestBookingCancelledByHostIncludesPenalty(t *testing.T) {
	sender := &captureSender{}
	notifier, _ := NewEmailNotifier(sender)

	booking := testBooking()
	booking.CancelledBy = domain.CancelledByHost
	err := notifier.BookingCancelled(context.Background(), services.CancellationNotice{
		Booking: booking,
		Refund:  refunds.Result{RefundAmount: decimal.NewFromInt(90), RefundPercentage: 100},
		Penalty: &refunds.HostPenalty{PenaltyAmount: decimal.RequireFromString("22.5"), PenaltyPercentage: 25},
	})
	if err != nil {
		t.Fatalf("BookingCancelled: %v", err)
	}
	host := sender.messages[1]
	if !strings.Contains(host.PlainText, "Penalty: 22.500 BHD (25%)") {
		t.Fatalf("expected penalty line, got %q", host.PlainText)
	}
}

func TestRefundProcessedOnlyMailsSuccess(t *testing.T) {
	sender := &captureSender{}
	notifier, _ := NewEmailNotifier(sender)
	booking := testBooking()

	if err := notifier.RefundProcessed(context.Background(), services.RefundNotice{
		Booking: booking,
		Outcome: services.RefundOutcome{Status: domain.RefundStatusFailed},
	}); err != nil {
		t.Fatalf("RefundProcessed: %v", err)
	}
	if len(sender.messages) != 0 {
		t.Fatalf("failed refunds must not be mailed")
	}

	err := notifier.RefundProcessed(context.Background(), services.RefundNotice{
		Booking: booking,
		Outcome: services.RefundOutcome{
			Status:          domain.RefundStatusSucceeded,
			Amount:          decimal.NewFromInt(81),
			Currency:        "BHD",
			GatewayRefundID: "re_1",
		},
	})
	if err != nil {
		t.Fatalf("RefundProcessed: %v", err)
	}
	msg := sender.messages[0]
	if msg.Subject != "Your refund of 81.000 BHD has been issued" || !strings.Contains(msg.PlainText, "Reference: re_1") {
		t.Fatalf("unexpected refund email %+v", msg)
	}
}

func TestBookingCancelledJoinsSendErrors(t *testing.T) {
	boom := errors.New("sendgrid down")
	notifier, _ := NewEmailNotifier(&captureSender{err: boom})

	err := notifier.BookingCancelled(context.Background(), services.CancellationNotice{Booking: testBooking()})
	if !errors.Is(err, boom) {
		t.Fatalf("expected send error, got %v", err)
	}
}
