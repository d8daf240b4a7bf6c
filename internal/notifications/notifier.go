package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"

	domain "github.com/sahra-camps/api/internal/domain"
	"github.com/sahra-camps/api/internal/platform/mail"
	"github.com/sahra-camps/api/internal/services"
)

const checkInLayout = "2006-01-02"

// Sender delivers a rendered message. mail.SendGridSender satisfies it.
type Sender interface {
	Send(ctx context.Context, msg mail.Message) error
}

// EmailNotifier renders cancellation and refund emails in the guest's or host's locale.
type EmailNotifier struct {
	sender     Sender
	catalogues map[language.Tag]map[messageKind]catalogue
}

var _ services.CancellationNotifier = (*EmailNotifier)(nil)

// NewEmailNotifier constructs a notifier around sender.
func NewEmailNotifier(sender Sender) (*EmailNotifier, error) {
	if sender == nil {
		return nil, errors.New("notifications: sender is required")
	}
	return &EmailNotifier{sender: sender, catalogues: parseCatalogues()}, nil
}

// BookingCancelled emails the guest and, when an address is on file, the host.
func (n *EmailNotifier) BookingCancelled(ctx context.Context, notice services.CancellationNotice) error {
	booking := notice.Booking
	data := newMessageData(booking)
	data.HasRefund = notice.Refund.RefundAmount.IsPositive()
	data.RefundAmount = formatAmount(notice.Refund.RefundAmount, booking.Currency)
	data.RefundPercentage = notice.Refund.RefundPercentage
	data.RefundReason = notice.Refund.EligibilityReason
	if notice.Penalty != nil {
		data.PenaltyAmount = formatAmount(notice.Penalty.PenaltyAmount, booking.Currency)
		data.PenaltyPercentage = notice.Penalty.PenaltyPercentage
		data.PenaltyMessage = notice.Penalty.Message
	}

	var errs []error
	if booking.GuestEmail != "" {
		errs = append(errs, n.send(ctx, booking.GuestLocale, kindGuestCancelled, booking.GuestEmail, booking.GuestName, data))
	}
	if booking.HostEmail != "" {
		kind := kindHostNotified
		if booking.CancelledBy == domain.CancelledByHost {
			kind = kindHostCancelled
		}
		errs = append(errs, n.send(ctx, "", kind, booking.HostEmail, "", data))
	}
	return errors.Join(errs...)
}

// RefundProcessed emails the guest once a refund has succeeded. Other outcomes are not mailed.
func (n *EmailNotifier) RefundProcessed(ctx context.Context, notice services.RefundNotice) error {
	if notice.Outcome.Status != domain.RefundStatusSucceeded || notice.Booking.GuestEmail == "" {
		return nil
	}
	booking := notice.Booking
	data := newMessageData(booking)
	data.HasRefund = true
	data.RefundAmount = formatAmount(notice.Outcome.Amount, chooseCurrency(notice.Outcome.Currency, booking.Currency))
	data.RefundPercentage = notice.Outcome.Percentage
	data.GatewayRefundID = notice.Outcome.GatewayRefundID
	return n.send(ctx, booking.GuestLocale, kindRefundIssued, booking.GuestEmail, booking.GuestName, data)
}

func (n *EmailNotifier) send(ctx context.Context, locale string, kind messageKind, to, toName string, data messageData) error {
	tag := matchLocale(locale)
	cat, ok := n.catalogues[tag][kind]
	if !ok {
		return fmt.Errorf("notifications: no %s template for %s", kind, tag)
	}
	out, err := cat.render(data)
	if err != nil {
		return fmt.Errorf("notifications: render %s: %w", kind, err)
	}
	return n.sender.Send(ctx, mail.Message{
		To:         to,
		ToName:     toName,
		Subject:    out.subject,
		PlainText:  out.text,
		HTML:       out.html,
		Categories: []string{string(kind)},
	})
}

type messageData struct {
	BookingID         string
	CampTitle         string
	GuestName         string
	CheckIn           string
	Reason            string
	HasRefund         bool
	RefundAmount      string
	RefundPercentage  int
	RefundReason      string
	PenaltyAmount     string
	PenaltyPercentage int
	PenaltyMessage    string
	GatewayRefundID   string
}

func newMessageData(booking services.Booking) messageData {
	title := strings.TrimSpace(booking.CampTitle)
	if title == "" {
		title = booking.CampID
	}
	data := messageData{
		BookingID: booking.ID,
		CampTitle: title,
		GuestName: strings.TrimSpace(booking.GuestName),
		Reason:    booking.CancellationReason,
	}
	if !booking.CheckIn.IsZero() {
		data.CheckIn = booking.CheckIn.UTC().Format(checkInLayout)
	}
	return data
}

// formatAmount renders amounts with three decimals and the ISO currency code, for example "40.500 BHD".
func formatAmount(amount decimal.Decimal, currency string) string {
	return strings.TrimSpace(amount.StringFixed(3) + " " + strings.ToUpper(currency))
}

func chooseCurrency(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
