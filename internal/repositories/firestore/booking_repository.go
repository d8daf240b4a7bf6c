package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/sahra-camps/api/internal/domain"
	pfirestore "github.com/sahra-camps/api/internal/platform/firestore"
	"github.com/sahra-camps/api/internal/repositories"
)

const bookingsCollection = "bookings"

// BookingRepository persists bookings in Firestore.
type BookingRepository struct {
	docs *pfirestore.BaseRepository[bookingDocument]
	now  func() time.Time
}

var _ repositories.BookingRepository = (*BookingRepository)(nil)

// NewBookingRepository constructs a Firestore-backed booking repository.
func NewBookingRepository(provider *pfirestore.Provider) (*BookingRepository, error) {
	if provider == nil {
		return nil, errors.New("booking repository requires firestore provider")
	}
	return &BookingRepository{
		docs: pfirestore.NewBaseRepository[bookingDocument](provider, bookingsCollection),
		now:  time.Now,
	}, nil
}

// FindByID loads a booking. A missing document yields a not-found RepositoryError.
func (r *BookingRepository) FindByID(ctx context.Context, bookingID string) (domain.Booking, error) {
	doc, err := r.docs.Get(ctx, strings.TrimSpace(bookingID))
	if err != nil {
		return domain.Booking{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// Update writes the cancellation, refund and host penalty fields. Booking identity, pricing and
// dates are owned by the booking flow and never rewritten here.
func (r *BookingRepository) Update(ctx context.Context, booking domain.Booking) error {
	fields := refundUpdates(booking.Refund)
	fields["status"] = string(booking.Status)
	fields["cancelledBy"] = string(booking.CancelledBy)
	fields["cancellationReason"] = booking.CancellationReason
	fields["updatedAt"] = r.now().UTC()
	if ts := timePtr(booking.CancelledAt); ts != nil {
		fields["cancelledAt"] = *ts
	}
	if penalty := booking.HostPenalty; penalty != nil {
		fields["hostPenalty"] = hostPenaltyDocument{
			Percentage: penalty.Percentage,
			Amount:     amountToDoc(penalty.Amount),
			Message:    penalty.Message,
		}
	}

	return r.docs.Update(ctx, strings.TrimSpace(booking.ID), toUpdates(fields))
}

// ListByRefundStatus returns cancelled bookings in the given refund states, oldest cancellation first.
func (r *BookingRepository) ListByRefundStatus(ctx context.Context, statuses []domain.RefundStatus, limit int) ([]domain.Booking, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}

	docs, err := r.docs.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("status", "==", string(domain.BookingStatusCancelled)).
			Where("refundStatus", "in", values).
			OrderBy("cancelledAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}

	bookings := make([]domain.Booking, 0, len(docs))
	for _, doc := range docs {
		bookings = append(bookings, doc.Data.toDomain(doc.ID))
	}
	return bookings, nil
}

type hostPenaltyDocument struct {
	Percentage int     `firestore:"percentage"`
	Amount     float64 `firestore:"amount"`
	Message    string  `firestore:"message"`
}

type bookingDocument struct {
	CampID          string    `firestore:"campId"`
	CampTitle       string    `firestore:"campTitle,omitempty"`
	GuestID         string    `firestore:"guestId"`
	GuestName       string    `firestore:"guestName,omitempty"`
	GuestEmail      string    `firestore:"guestEmail,omitempty"`
	GuestLocale     string    `firestore:"guestLocale,omitempty"`
	HostID          string    `firestore:"hostId"`
	HostEmail       string    `firestore:"hostEmail,omitempty"`
	CheckIn         time.Time `firestore:"checkIn"`
	CheckOut        time.Time `firestore:"checkOut"`
	TotalPrice      float64   `firestore:"totalPrice"`
	Currency        string    `firestore:"currency"`
	Status          string    `firestore:"status"`
	PaymentProvider string    `firestore:"paymentProvider,omitempty"`
	TransactionID   string    `firestore:"transactionId,omitempty"`

	CancelledAt        *time.Time           `firestore:"cancelledAt,omitempty"`
	CancelledBy        string               `firestore:"cancelledBy,omitempty"`
	CancellationReason string               `firestore:"cancellationReason,omitempty"`
	HostPenalty        *hostPenaltyDocument `firestore:"hostPenalty,omitempty"`
	refundFields

	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d bookingDocument) toDomain(id string) domain.Booking {
	booking := domain.Booking{
		ID:                 id,
		CampID:             d.CampID,
		CampTitle:          d.CampTitle,
		GuestID:            d.GuestID,
		GuestName:          d.GuestName,
		GuestEmail:         d.GuestEmail,
		GuestLocale:        d.GuestLocale,
		HostID:             d.HostID,
		HostEmail:          d.HostEmail,
		CheckIn:            d.CheckIn.UTC(),
		CheckOut:           d.CheckOut.UTC(),
		TotalPrice:         amountFromDoc(d.TotalPrice),
		Currency:           strings.ToUpper(strings.TrimSpace(d.Currency)),
		Status:             domain.BookingStatus(strings.ToLower(strings.TrimSpace(d.Status))),
		PaymentProvider:    strings.ToLower(strings.TrimSpace(d.PaymentProvider)),
		TransactionID:      d.TransactionID,
		CancelledAt:        timePtr(d.CancelledAt),
		CancelledBy:        domain.CancelledBy(d.CancelledBy),
		CancellationReason: d.CancellationReason,
		Refund:             d.refundFields.toDomain(),
		CreatedAt:          d.CreatedAt.UTC(),
		UpdatedAt:          d.UpdatedAt.UTC(),
	}
	if d.HostPenalty != nil {
		booking.HostPenalty = &domain.HostPenaltyRecord{
			Percentage: d.HostPenalty.Percentage,
			Amount:     amountFromDoc(d.HostPenalty.Amount),
			Message:    d.HostPenalty.Message,
		}
	}
	return booking
}

func toUpdates(fields map[string]any) []firestore.Update {
	paths := make([]string, 0, len(fields))
	for path := range fields {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	updates := make([]firestore.Update, 0, len(paths))
	for _, path := range paths {
		updates = append(updates, firestore.Update{Path: path, Value: fields[path]})
	}
	return updates
}
