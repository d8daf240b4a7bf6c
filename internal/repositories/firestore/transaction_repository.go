package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/sahra-camps/api/internal/domain"
	pfirestore "github.com/sahra-camps/api/internal/platform/firestore"
	"github.com/sahra-camps/api/internal/repositories"
)

const transactionsCollection = "transactions"

// TransactionRepository persists payment transactions in Firestore.
type TransactionRepository struct {
	docs *pfirestore.BaseRepository[transactionDocument]
	now  func() time.Time
}

var _ repositories.TransactionRepository = (*TransactionRepository)(nil)

// NewTransactionRepository constructs a Firestore-backed transaction repository.
func NewTransactionRepository(provider *pfirestore.Provider) (*TransactionRepository, error) {
	if provider == nil {
		return nil, errors.New("transaction repository requires firestore provider")
	}
	return &TransactionRepository{
		docs: pfirestore.NewBaseRepository[transactionDocument](provider, transactionsCollection),
		now:  time.Now,
	}, nil
}

func (r *TransactionRepository) FindByID(ctx context.Context, transactionID string) (domain.Transaction, error) {
	doc, err := r.docs.Get(ctx, strings.TrimSpace(transactionID))
	if err != nil {
		return domain.Transaction{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByBookingID returns the first transaction recorded for the booking.
func (r *TransactionRepository) FindByBookingID(ctx context.Context, bookingID string) (domain.Transaction, error) {
	bookingID = strings.TrimSpace(bookingID)
	docs, err := r.docs.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("bookingId", "==", bookingID).Limit(1)
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	if len(docs) == 0 {
		return domain.Transaction{}, pfirestore.NotFoundError("transactions.find_by_booking", bookingID)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// Update writes the refund trace onto the transaction.
func (r *TransactionRepository) Update(ctx context.Context, txn domain.Transaction) error {
	fields := refundUpdates(txn.Refund)
	fields["updatedAt"] = r.now().UTC()
	if status := strings.TrimSpace(txn.Status); status != "" {
		fields["status"] = status
	}
	return r.docs.Update(ctx, strings.TrimSpace(txn.ID), toUpdates(fields))
}

type transactionDocument struct {
	BookingID       string  `firestore:"bookingId"`
	Provider        string  `firestore:"provider"`
	PaymentIntentID string  `firestore:"paymentIntentId,omitempty"`
	ChargeID        string  `firestore:"chargeId,omitempty"`
	Amount          float64 `firestore:"amount"`
	Currency        string  `firestore:"currency"`
	Status          string  `firestore:"status"`
	refundFields

	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d transactionDocument) toDomain(id string) domain.Transaction {
	return domain.Transaction{
		ID:              id,
		BookingID:       d.BookingID,
		Provider:        strings.ToLower(strings.TrimSpace(d.Provider)),
		PaymentIntentID: d.PaymentIntentID,
		ChargeID:        d.ChargeID,
		Amount:          amountFromDoc(d.Amount),
		Currency:        strings.ToUpper(strings.TrimSpace(d.Currency)),
		Status:          d.Status,
		Refund:          d.refundFields.toDomain(),
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
}
