package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/sahra-camps/api/internal/domain"
	pfirestore "github.com/sahra-camps/api/internal/platform/firestore"
	"github.com/sahra-camps/api/internal/repositories"
)

const campsCollection = "camps"

// CampRepository reads camp listings from Firestore.
type CampRepository struct {
	docs *pfirestore.BaseRepository[campDocument]
}

var _ repositories.CampRepository = (*CampRepository)(nil)

// NewCampRepository constructs a Firestore-backed camp repository.
func NewCampRepository(provider *pfirestore.Provider) (*CampRepository, error) {
	if provider == nil {
		return nil, errors.New("camp repository requires firestore provider")
	}
	return &CampRepository{docs: pfirestore.NewBaseRepository[campDocument](provider, campsCollection)}, nil
}

// FindByID loads a camp listing.
func (r *CampRepository) FindByID(ctx context.Context, campID string) (domain.Camp, error) {
	doc, err := r.docs.Get(ctx, strings.TrimSpace(campID))
	if err != nil {
		return domain.Camp{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

type campDocument struct {
	HostID       string `firestore:"hostId"`
	Title        string `firestore:"title"`
	RefundPolicy string `firestore:"refundPolicy,omitempty"`
	// Either a legacy policy name or a {type, arboonPercentage} map.
	CancellationPolicy any `firestore:"cancellationPolicy,omitempty"`
}

func (d campDocument) toDomain(id string) domain.Camp {
	return domain.Camp{
		ID:                 id,
		HostID:             d.HostID,
		Title:              d.Title,
		RefundPolicy:       strings.ToLower(strings.TrimSpace(d.RefundPolicy)),
		CancellationPolicy: decodeCancellationPolicy(d.CancellationPolicy),
	}
}

func decodeCancellationPolicy(raw any) domain.CampCancellationPolicy {
	switch v := raw.(type) {
	case string:
		return domain.CampCancellationPolicy{Type: strings.TrimSpace(v)}
	case map[string]any:
		policy := domain.CampCancellationPolicy{}
		if t, ok := v["type"].(string); ok {
			policy.Type = strings.TrimSpace(t)
		}
		switch pct := v["arboonPercentage"].(type) {
		case int64:
			policy.ArboonPercentage = int(pct)
		case float64:
			policy.ArboonPercentage = int(pct)
		}
		return policy
	}
	return domain.CampCancellationPolicy{}
}
