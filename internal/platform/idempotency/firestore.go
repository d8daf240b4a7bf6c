package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/sahra-camps/api/internal/platform/firestore"
)

const defaultCollection = "idempotency_keys"

// FirestoreStore implements Store on the idempotency_keys collection. Reserve and
// SaveResponse run in a transaction so concurrent retries cannot both win.
type FirestoreStore struct {
	provider *pfirestore.Provider
	docs     *pfirestore.BaseRepository[idempotencyDoc]
}

var _ Store = (*FirestoreStore)(nil)

// NewFirestoreStore constructs a Firestore-backed store.
func NewFirestoreStore(provider *pfirestore.Provider) *FirestoreStore {
	return &FirestoreStore{
		provider: provider,
		docs:     pfirestore.NewBaseRepository[idempotencyDoc](provider, defaultCollection),
	}
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	id := documentID(key)
	var result Reservation
	err := s.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		existing, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		res, write, err := reserve(existing, key, fingerprint, now.UTC(), ttl)
		if err != nil {
			return err
		}
		result = res
		if !write {
			return nil
		}
		return s.docs.Set(ctx, id, docFromRecord(res.Record))
	})
	if errors.Is(err, ErrFingerprintMismatch) {
		return Reservation{}, ErrFingerprintMismatch
	}
	return result, err
}

func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	id := documentID(key)
	err := s.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		existing, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		record := Record{Key: key, Fingerprint: fingerprint}
		if existing != nil {
			if existing.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			record = *existing
		}
		return s.docs.Set(ctx, id, docFromRecord(complete(record, resp, now.UTC(), ttl)))
	})
	if errors.Is(err, ErrFingerprintMismatch) {
		return ErrFingerprintMismatch
	}
	return err
}

func (s *FirestoreStore) Release(ctx context.Context, key, _ string) error {
	return s.docs.Delete(ctx, documentID(key))
}

func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	expired, err := s.docs.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("expires_at", "<=", now.UTC()).Limit(limit)
	})
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, doc := range expired {
		if err := s.docs.Delete(ctx, doc.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *FirestoreStore) load(ctx context.Context, id string) (*Record, error) {
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return nil, nil
		}
		return nil, err
	}
	record := doc.Data.toRecord()
	return &record, nil
}

type idempotencyDoc struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"response_status"`
	ResponseHeaders map[string][]string `firestore:"response_headers"`
	ResponseBody    []byte              `firestore:"response_body"`
	CreatedAt       time.Time           `firestore:"created_at"`
	ExpiresAt       time.Time           `firestore:"expires_at"`
}

func docFromRecord(r Record) idempotencyDoc {
	return idempotencyDoc{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          string(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func (d idempotencyDoc) toRecord() Record {
	return Record{
		Key:             d.Key,
		Fingerprint:     d.Fingerprint,
		Status:          Status(d.Status),
		ResponseStatus:  d.ResponseStatus,
		ResponseHeaders: d.ResponseHeaders,
		ResponseBody:    d.ResponseBody,
		CreatedAt:       d.CreatedAt,
		ExpiresAt:       d.ExpiresAt,
	}
}
