package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/sahra-camps/api/internal/platform/firestore"
	"github.com/sahra-camps/api/internal/repositories"
)

// Registry bundles the Firestore repositories behind a single provider.
type Registry struct {
	provider     *pfirestore.Provider
	bookings     *BookingRepository
	camps        *CampRepository
	transactions *TransactionRepository
	health       repositories.HealthRepository
	txOpts       []pfirestore.TxOption
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every Firestore repository. health may be nil when readiness checks are
// not served by this process. txOpts apply to every RunInTx call.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository, txOpts ...pfirestore.TxOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	bookings, err := NewBookingRepository(provider)
	if err != nil {
		return nil, err
	}
	camps, err := NewCampRepository(provider)
	if err != nil {
		return nil, err
	}
	transactions, err := NewTransactionRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider:     provider,
		bookings:     bookings,
		camps:        camps,
		transactions: transactions,
		health:       health,
		txOpts:       txOpts,
	}, nil
}

func (r *Registry) Bookings() repositories.BookingRepository         { return r.bookings }
func (r *Registry) Camps() repositories.CampRepository               { return r.camps }
func (r *Registry) Transactions() repositories.TransactionRepository { return r.transactions }
func (r *Registry) Health() repositories.HealthRepository            { return r.health }

// RunInTx runs fn in a Firestore transaction. Repository calls made with the ctx handed to fn
// join the transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	}, r.txOpts...)
}

// Close releases the underlying client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}
