package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/sahra-camps/api/internal/domain"
	"github.com/sahra-camps/api/internal/payments"
	"github.com/sahra-camps/api/internal/refunds"
)

var testNow = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

type notFoundError struct{ id string }

func (e notFoundError) Error() string       { return fmt.Sprintf("%s not found", e.id) }
func (e notFoundError) IsNotFound() bool    { return true }
func (e notFoundError) IsConflict() bool    { return false }
func (e notFoundError) IsUnavailable() bool { return false }

// memoryStore backs the booking, camp and transaction fakes. RunInTx snapshots the maps so a
// failing fn leaves no trace, mirroring Firestore's all-or-nothing commit.
type memoryStore struct {
	mu           sync.Mutex
	bookings     map[string]domain.Booking
	camps        map[string]domain.Camp
	transactions map[string]domain.Transaction
	now          func() time.Time
	updateErr    error
	bookingWrite int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		bookings:     map[string]domain.Booking{},
		camps:        map[string]domain.Camp{},
		transactions: map[string]domain.Transaction{},
		now:          func() time.Time { return testNow },
	}
}

func (m *memoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	bookings := clone(m.bookings)
	transactions := clone(m.transactions)
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.mu.Lock()
		m.bookings = bookings
		m.transactions = transactions
		m.mu.Unlock()
		return err
	}
	return nil
}

func clone[T any](in map[string]T) map[string]T {
	out := make(map[string]T, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type memoryBookings struct{ *memoryStore }

func (r memoryBookings) FindByID(_ context.Context, id string) (domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	booking, ok := r.bookings[id]
	if !ok {
		return domain.Booking{}, notFoundError{id: id}
	}
	return booking, nil
}

func (r memoryBookings) Update(_ context.Context, booking domain.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	if _, ok := r.bookings[booking.ID]; !ok {
		return notFoundError{id: booking.ID}
	}
	booking.UpdatedAt = r.now()
	r.bookings[booking.ID] = booking
	r.bookingWrite++
	return nil
}

func (r memoryBookings) ListByRefundStatus(_ context.Context, statuses []domain.RefundStatus, limit int) ([]domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Booking
	for _, booking := range r.bookings {
		if booking.Status != domain.BookingStatusCancelled {
			continue
		}
		for _, status := range statuses {
			if booking.Refund.Status == status {
				out = append(out, booking)
				break
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryCamps struct{ *memoryStore }

func (r memoryCamps) FindByID(_ context.Context, id string) (domain.Camp, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	camp, ok := r.camps[id]
	if !ok {
		return domain.Camp{}, notFoundError{id: id}
	}
	return camp, nil
}

type memoryTransactions struct{ *memoryStore }

func (r memoryTransactions) FindByID(_ context.Context, id string) (domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn, ok := r.transactions[id]
	if !ok {
		return domain.Transaction{}, notFoundError{id: id}
	}
	return txn, nil
}

func (r memoryTransactions) FindByBookingID(_ context.Context, bookingID string) (domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, txn := range r.transactions {
		if txn.BookingID == bookingID {
			return txn, nil
		}
	}
	return domain.Transaction{}, notFoundError{id: bookingID}
}

func (r memoryTransactions) Update(_ context.Context, txn domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.transactions[txn.ID]; !ok {
		return notFoundError{id: txn.ID}
	}
	r.transactions[txn.ID] = txn
	return nil
}

type stubGateway struct {
	mu       sync.Mutex
	requests []payments.RefundRequest
	contexts []payments.PaymentContext
	result   payments.RefundResult
	err      error
	details  payments.PaymentDetails
	lookups  int
}

func (g *stubGateway) Refund(_ context.Context, pCtx payments.PaymentContext, req payments.RefundRequest) (payments.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	g.contexts = append(g.contexts, pCtx)
	if g.err != nil {
		return payments.RefundResult{}, g.err
	}
	result := g.result
	if result.Status == "" {
		result.Status = payments.RefundStatusSucceeded
	}
	if result.RefundID == "" {
		result.RefundID = fmt.Sprintf("re_%d", len(g.requests))
	}
	result.Provider = pCtx.PreferredProvider
	result.Amount = req.Amount
	return result, nil
}

func (g *stubGateway) LookupPayment(_ context.Context, pCtx payments.PaymentContext, _ payments.LookupRequest) (payments.PaymentDetails, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lookups++
	details := g.details
	details.Provider = pCtx.PreferredProvider
	return details, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []BookingEvent
}

func (p *recordingPublisher) PublishBookingEvent(_ context.Context, event BookingEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return fmt.Sprintf("msg-%d", len(p.events)), nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingNotifier struct {
	cancelled []CancellationNotice
	refunded  []RefundNotice
	err       error
}

func (n *recordingNotifier) BookingCancelled(_ context.Context, notice CancellationNotice) error {
	n.cancelled = append(n.cancelled, notice)
	return n.err
}

func (n *recordingNotifier) RefundProcessed(_ context.Context, notice RefundNotice) error {
	n.refunded = append(n.refunded, notice)
	return n.err
}

type fixture struct {
	store     *memoryStore
	gateway   *stubGateway
	events    *recordingPublisher
	notifier  *recordingNotifier
	engine    *refunds.Engine
	refunds   RefundService
	cancels   CancellationService
	logEvents []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	engine, err := refunds.NewEngine(refunds.DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	f := &fixture{
		store:    newMemoryStore(),
		gateway:  &stubGateway{},
		events:   &recordingPublisher{},
		notifier: &recordingNotifier{},
		engine:   engine,
	}
	logger := func(_ context.Context, event string, _ map[string]any) {
		f.logEvents = append(f.logEvents, event)
	}
	clock := func() time.Time { return testNow }

	f.refunds, err = NewRefundService(RefundServiceDeps{
		Bookings:     memoryBookings{f.store},
		Camps:        memoryCamps{f.store},
		Transactions: memoryTransactions{f.store},
		UnitOfWork:   f.store,
		Engine:       engine,
		Payments:     f.gateway,
		Events:       f.events,
		Notifier:     f.notifier,
		Clock:        clock,
		Logger:       logger,
		MaxAttempts:  3,
	})
	if err != nil {
		t.Fatalf("NewRefundService: %v", err)
	}
	f.cancels, err = NewCancellationService(CancellationServiceDeps{
		Bookings:   memoryBookings{f.store},
		Camps:      memoryCamps{f.store},
		UnitOfWork: f.store,
		Engine:     engine,
		Refunds:    f.refunds,
		Events:     f.events,
		Notifier:   f.notifier,
		Clock:      clock,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("NewCancellationService: %v", err)
	}
	return f
}

// seed stores a confirmed 90 BHD booking checking in hoursAhead after testNow, its camp with the
// given policy, and a Stripe transaction.
func (f *fixture) seed(hoursAhead int, camp domain.Camp) domain.Booking {
	if camp.ID == "" {
		camp.ID = "camp_1"
	}
	if camp.HostID == "" {
		camp.HostID = "host_1"
	}
	booking := domain.Booking{
		ID:              "bk_1",
		CampID:          camp.ID,
		GuestID:         "guest_1",
		GuestEmail:      "guest@example.com",
		HostID:          camp.HostID,
		CheckIn:         testNow.Add(time.Duration(hoursAhead) * time.Hour),
		CheckOut:        testNow.Add(time.Duration(hoursAhead+24) * time.Hour),
		TotalPrice:      decimal.NewFromInt(90),
		Currency:        "BHD",
		Status:          domain.BookingStatusConfirmed,
		PaymentProvider: payments.ProviderStripe,
		TransactionID:   "txn_1",
	}
	f.store.bookings[booking.ID] = booking
	f.store.camps[camp.ID] = camp
	f.store.transactions["txn_1"] = domain.Transaction{
		ID:              "txn_1",
		BookingID:       booking.ID,
		Provider:        payments.ProviderStripe,
		PaymentIntentID: "pi_1",
		Amount:          decimal.NewFromInt(90),
		Currency:        "BHD",
		Status:          "succeeded",
	}
	return booking
}
