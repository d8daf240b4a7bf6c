package payments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been refunded (partially or fully).
	StatusRefunded Status = "refunded"
)

// RefundStatus is the normalised state of a single refund at the PSP.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusSucceeded RefundStatus = "succeeded"
	RefundStatusFailed    RefundStatus = "failed"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrInvalidRefund is returned before any PSP call when a refund request is malformed.
	ErrInvalidRefund = errors.New("payments: invalid refund request")
)

// RefundRequest defines a PSP refund attempt. Amount is expressed in minor units of Currency.
type RefundRequest struct {
	PaymentReference string
	Amount           int64
	Currency         string
	Reason           string
	IdempotencyKey   string
	Metadata         map[string]string
}

func (r RefundRequest) validate() error {
	switch {
	case strings.TrimSpace(r.PaymentReference) == "":
		return fmt.Errorf("%w: payment reference is required", ErrInvalidRefund)
	case r.Amount <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRefund)
	case strings.TrimSpace(r.Currency) == "":
		return fmt.Errorf("%w: currency is required", ErrInvalidRefund)
	}
	return nil
}

// RefundResult normalises the PSP refund object.
type RefundResult struct {
	Provider         string
	RefundID         string
	PaymentReference string
	Status           RefundStatus
	Amount           int64
	Currency         string
	CreatedAt        time.Time
	FailureReason    string
}

// LookupRequest returns provider specific payment details for reconciliation.
type LookupRequest struct {
	PaymentReference string
}

// PaymentDetails normalises PSP specific fields for storage.
type PaymentDetails struct {
	Provider       string
	Reference      string
	Status         Status
	Amount         int64
	AmountRefunded int64
	Currency       string
	RefundedAt     *time.Time
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registered := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		registered[key] = v
	}
	m := &Manager{providers: registered}
	if _, ok := registered[ProviderStripe]; ok {
		m.defaultProvider = ProviderStripe
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Providers lists the registered provider keys in sorted order.
func (m *Manager) Providers() []string {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultProvider returns the provider used when neither a preference nor a currency route applies.
func (m *Manager) DefaultProvider() string {
	return m.defaultProvider
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
		// A payment captured by one PSP can only be refunded by that PSP.
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// Refund validates the request and delegates to the resolved provider.
func (m *Manager) Refund(ctx context.Context, paymentCtx PaymentContext, req RefundRequest) (RefundResult, error) {
	if err := req.validate(); err != nil {
		return RefundResult{}, err
	}
	if paymentCtx.Currency == "" {
		paymentCtx.Currency = req.Currency
	}
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return RefundResult{}, err
	}
	result, err := provider.Refund(ctx, req)
	if err != nil {
		return RefundResult{}, err
	}
	result.Provider = key
	return result, nil
}

// LookupPayment delegates to the resolved provider.
func (m *Manager) LookupPayment(ctx context.Context, paymentCtx PaymentContext, req LookupRequest) (PaymentDetails, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := provider.LookupPayment(ctx, req)
	if err != nil {
		return PaymentDetails{}, err
	}
	details.Provider = key
	return details, nil
}

// Provider keys used when registering adapters.
const (
	ProviderStripe = "stripe"
	ProviderTap    = "tap"
)
